package zookeeper

import "fmt"

// EventType is the kind of change reported by a watch notification.
type EventType int32

const (
	EventNone                EventType = -1
	EventNodeCreated         EventType = 1
	EventNodeDeleted         EventType = 2
	EventNodeDataChanged     EventType = 3
	EventNodeChildrenChanged EventType = 4
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "NONE"
	case EventNodeCreated:
		return "NODE_CREATED"
	case EventNodeDeleted:
		return "NODE_DELETED"
	case EventNodeDataChanged:
		return "NODE_DATA_CHANGED"
	case EventNodeChildrenChanged:
		return "NODE_CHILDREN_CHANGED"
	default:
		return fmt.Sprintf("EVENT(%d)", int32(t))
	}
}

// KeeperState is the session state reported alongside a notification, and
// the user-facing connectivity state published by the client.
type KeeperState int32

const (
	StateDisconnected      KeeperState = 0
	StateSyncConnected     KeeperState = 3
	StateAuthFailed        KeeperState = 4
	StateConnectedReadOnly KeeperState = 5
	StateSaslAuthenticated KeeperState = 6
	StateExpired           KeeperState = -112
)

func (s KeeperState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateSyncConnected:
		return "SYNC_CONNECTED"
	case StateAuthFailed:
		return "AUTH_FAILED"
	case StateConnectedReadOnly:
		return "CONNECTED_READ_ONLY"
	case StateSaslAuthenticated:
		return "SASL_AUTHENTICATED"
	case StateExpired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// Event is delivered to watchers. Path is chroot-relative.
type Event struct {
	Type  EventType
	State KeeperState
	Path  string
}

func (e Event) String() string {
	s := fmt.Sprintf("%s[%d]", e.Type, int32(e.Type))
	if e.Path != "" {
		s += "@" + e.Path
	}
	return s
}
