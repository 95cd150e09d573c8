package ensemble

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		connect       string
		servers       []Server
		chroot        string
		errorExpected error
	}{
		{
			name:          "empty",
			connect:       "",
			errorExpected: ErrEmptyConnectString,
		},
		{
			name:    "default port",
			connect: "localhost",
			servers: []Server{{Host: "localhost", Port: DefaultPort}},
		},
		{
			name:    "multiple servers with chroot",
			connect: "zk1:2181,zk2:2182,zk3/app/config",
			servers: []Server{{"zk1", 2181}, {"zk2", 2182}, {"zk3", DefaultPort}},
			chroot:  "/app/config",
		},
		{
			name:    "trailing slash is not a chroot",
			connect: "zk1:2181/",
			servers: []Server{{"zk1", 2181}},
		},
		{
			name:    "empty entries are skipped",
			connect: "zk1,,zk2,",
			servers: []Server{{"zk1", DefaultPort}, {"zk2", DefaultPort}},
		},
		{
			name:    "ipv6",
			connect: "[::1]:2185,[fe80::1]",
			servers: []Server{{"::1", 2185}, {"fe80::1", DefaultPort}},
		},
		{
			name:          "no servers",
			connect:       ",/app",
			errorExpected: ErrNoServers,
		},
		{
			name:          "bad port",
			connect:       "zk1:abc",
			errorExpected: ErrInvalidServer,
		},
		{
			name:          "invalid chroot",
			connect:       "zk1/app//x",
			errorExpected: errAny,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e, err := Parse(test.connect)
			if test.errorExpected != nil {
				require.Error(t, err)
				if test.errorExpected != errAny {
					assert.ErrorIs(t, err, test.errorExpected)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.servers, e.Servers)
			assert.Equal(t, test.chroot, e.Chroot)
			assert.Equal(t, test.connect, e.ConnectString)
		})
	}
}

var errAny = assert.AnError

func TestServer_String(t *testing.T) {
	assert.Equal(t, "zk1:2181", Server{Host: "zk1", Port: 2181}.String())
	assert.Equal(t, "[::1]:2181", Server{Host: "::1", Port: 2181}.String())
}

func TestShuffle(t *testing.T) {
	servers := []Server{{"a", 1}, {"b", 2}, {"c", 3}, {"d", 4}}
	original := append([]Server(nil), servers...)

	got := Shuffle(servers, rand.New(rand.NewSource(1)))
	assert.ElementsMatch(t, servers, got)
	assert.Equal(t, original, servers, "input is not modified")

	again := Shuffle(servers, rand.New(rand.NewSource(1)))
	assert.Equal(t, got, again, "same seed, same order")
}
