package zookeeper

import "fmt"

// ProtocolVersion is the wire protocol revision sent in the connect request.
const ProtocolVersion int32 = 0

// OpCode identifies the operation carried by a request.
type OpCode int32

const (
	OpNotification  OpCode = 0
	OpCreate        OpCode = 1
	OpDelete        OpCode = 2
	OpExists        OpCode = 3
	OpGetData       OpCode = 4
	OpSetData       OpCode = 5
	OpGetACL        OpCode = 6
	OpSetACL        OpCode = 7
	OpGetChildren   OpCode = 8
	OpSync          OpCode = 9
	OpPing          OpCode = 11
	OpGetChildren2  OpCode = 12
	OpCheck         OpCode = 13
	OpMulti         OpCode = 14
	OpAuth          OpCode = 100
	OpSetWatches    OpCode = 101
	OpSASL          OpCode = 102
	OpCreateSession OpCode = -10
	OpCloseSession  OpCode = -11
	OpError         OpCode = -1
)

var opNames = map[OpCode]string{
	OpNotification:  "NOTIFICATION",
	OpCreate:        "CREATE",
	OpDelete:        "DELETE",
	OpExists:        "EXISTS",
	OpGetData:       "GET_DATA",
	OpSetData:       "SET_DATA",
	OpGetACL:        "GET_ACL",
	OpSetACL:        "SET_ACL",
	OpGetChildren:   "GET_CHILDREN",
	OpSync:          "SYNC",
	OpPing:          "PING",
	OpGetChildren2:  "GET_CHILDREN2",
	OpCheck:         "CHECK",
	OpMulti:         "MULTI",
	OpAuth:          "AUTH",
	OpSetWatches:    "SET_WATCHES",
	OpSASL:          "SASL",
	OpCreateSession: "CREATE_SESSION",
	OpCloseSession:  "CLOSE_SESSION",
	OpError:         "ERROR",
}

func (o OpCode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OP(%d)", int32(o))
}

// Reserved xids. Requests carrying one of these are not correlated through
// the pending queue.
const (
	XidNotification int32 = -1
	XidPing         int32 = -2
	XidAuth         int32 = -4
	XidSetWatches   int32 = -8
)

// IsReservedXid reports whether xid is one of the protocol pseudo-ids.
func IsReservedXid(xid int32) bool {
	switch xid {
	case XidNotification, XidPing, XidAuth, XidSetWatches:
		return true
	}
	return false
}
