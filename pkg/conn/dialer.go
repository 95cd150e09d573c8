package conn

import (
	"context"
	"net"
)

//go:generate mockgen -destination=mocks/dialer.go -package=mock_conn . Dialer

// Dialer opens the TCP connection to a server. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}
