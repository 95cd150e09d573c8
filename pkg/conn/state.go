package conn

import (
	"fmt"

	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

// State is the connection manager's lifecycle state.
type State int32

const (
	StateDisconnected      State = 0
	StateConnecting        State = 1
	StateConnected         State = 2
	StateConnectedReadOnly State = 3
	StateClosing           State = -1
	StateClosed            State = -2
	StateSessionExpired    State = -3
	StateAuthFailed        State = -4
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateConnectedReadOnly:
		return "CONNECTED_READ_ONLY"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateSessionExpired:
		return "SESSION_EXPIRED"
	case StateAuthFailed:
		return "AUTHENTICATION_FAILED"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// IsTerminal reports whether no further connection attempts will be made.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateSessionExpired || s == StateAuthFailed
}

// IsConnected reports whether requests can be written in s.
func (s State) IsConnected() bool {
	return s == StateConnected || s == StateConnectedReadOnly
}

// Err is the error requests are rejected with in a terminal state.
func (s State) Err() error {
	switch s {
	case StateSessionExpired:
		return zookeeper.ErrSessionExpired
	case StateAuthFailed:
		return zookeeper.ErrAuthFailed
	default:
		return zookeeper.ErrConnectionLoss
	}
}

// KeeperState maps s onto the connectivity state reported to applications.
// CONNECTING and CLOSING have no counterpart and report false.
func (s State) KeeperState() (zookeeper.KeeperState, bool) {
	switch s {
	case StateDisconnected, StateClosed:
		return zookeeper.StateDisconnected, true
	case StateConnected:
		return zookeeper.StateSyncConnected, true
	case StateConnectedReadOnly:
		return zookeeper.StateConnectedReadOnly, true
	case StateSessionExpired:
		return zookeeper.StateExpired, true
	case StateAuthFailed:
		return zookeeper.StateAuthFailed, true
	default:
		return 0, false
	}
}
