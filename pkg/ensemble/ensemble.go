// Package ensemble parses connection strings into the list of servers a
// client may connect to.
package ensemble

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"

	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

// DefaultPort is the ZooKeeper client port used when a server omits one.
const DefaultPort = 2181

var (
	ErrEmptyConnectString = errors.New("ensemble: connection string is empty")
	ErrNoServers          = errors.New("ensemble: connection string has no servers")
	ErrInvalidServer      = errors.New("ensemble: invalid server address")
)

type Server struct {
	Host string
	Port int
}

func (s Server) String() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Ensemble is a parsed connection string.
type Ensemble struct {
	ConnectString string
	Servers       []Server
	// Chroot is empty when the connection string has none.
	Chroot string
}

// Parse reads "host1:port1,host2,host3:port3/optional/chroot". Servers keep
// the order they were given in; call Shuffle before connecting.
func Parse(connectString string) (*Ensemble, error) {
	if connectString == "" {
		return nil, ErrEmptyConnectString
	}

	hosts := connectString
	chroot := ""
	if i := strings.Index(connectString, "/"); i != -1 {
		hosts = connectString[:i]
		// A lone trailing '/' means no chroot.
		if i != len(connectString)-1 {
			chroot = connectString[i:]
			if err := zookeeper.ValidatePath(chroot); err != nil {
				return nil, fmt.Errorf("chroot: %w", err)
			}
		}
	}

	var servers []Server
	for _, item := range strings.Split(hosts, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		s, err := parseServer(item)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	return &Ensemble{
		ConnectString: connectString,
		Servers:       servers,
		Chroot:        chroot,
	}, nil
}

func parseServer(item string) (Server, error) {
	host, portStr, err := net.SplitHostPort(item)
	if err != nil {
		// No port given.
		if strings.Contains(item, ":") && !strings.HasPrefix(item, "[") {
			return Server{}, fmt.Errorf("%w: %q: %v", ErrInvalidServer, item, err)
		}
		return Server{Host: strings.Trim(item, "[]"), Port: DefaultPort}, nil
	}
	if host == "" {
		return Server{}, fmt.Errorf("%w: %q has no host", ErrInvalidServer, item)
	}
	if portStr == "" {
		return Server{Host: host, Port: DefaultPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Server{}, fmt.Errorf("%w: %q has bad port %q", ErrInvalidServer, item, portStr)
	}
	return Server{Host: host, Port: port}, nil
}

// Shuffle returns a shuffled copy of servers.
func Shuffle(servers []Server, rng *rand.Rand) []Server {
	out := make([]Server, len(servers))
	copy(out, servers)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
