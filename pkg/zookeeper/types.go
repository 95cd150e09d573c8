package zookeeper

import "github.com/mikekulinski/zkclient/pkg/zxid"

// The records in this file mirror the server's jute schema. Field order is
// wire order and must not change.

type RequestHeader struct {
	Xid    int32
	OpCode OpCode
}

type ReplyHeader struct {
	Xid  int32
	Zxid zxid.ZXID
	Err  Code
}

type ConnectRequest struct {
	ProtocolVersion int32
	LastZxidSeen    zxid.ZXID
	TimeOut         int32
	SessionID       int64
	Passwd          []byte
}

type ConnectResponse struct {
	ProtocolVersion int32
	TimeOut         int32
	SessionID       int64
	Passwd          []byte
}

// Stat is the metadata the server keeps for every znode.
type Stat struct {
	// Czxid is the zxid of the change that created this znode.
	Czxid zxid.ZXID
	// Mzxid is the zxid of the change that last modified this znode.
	Mzxid zxid.ZXID
	// Ctime is milliseconds from epoch when this znode was created.
	Ctime int64
	// Mtime is milliseconds from epoch when this znode was last modified.
	Mtime int64
	// Version is the number of changes to the data of this znode.
	Version int32
	// Cversion is the number of changes to the children of this znode.
	Cversion int32
	// Aversion is the number of changes to the ACL of this znode.
	Aversion int32
	// EphemeralOwner is the owning session id for ephemeral znodes, 0 otherwise.
	EphemeralOwner int64
	DataLength     int32
	NumChildren    int32
	// Pzxid is the zxid of the change that last modified the children.
	Pzxid zxid.ZXID
}

type CreateRequest struct {
	Path  string `jute:",path"`
	Data  []byte
	ACL   []ACL
	Flags CreateMode
}

type CreateResponse struct {
	Path string `jute:",path"`
}

type DeleteRequest struct {
	Path    string `jute:",path"`
	Version int32
}

type ExistsRequest struct {
	Path  string `jute:",path"`
	Watch bool
}

type ExistsResponse struct {
	Stat Stat
}

type GetDataRequest struct {
	Path  string `jute:",path"`
	Watch bool
}

type GetDataResponse struct {
	Data []byte
	Stat Stat
}

type SetDataRequest struct {
	Path    string `jute:",path"`
	Data    []byte
	Version int32
}

type SetDataResponse struct {
	Stat Stat
}

type GetACLRequest struct {
	Path string `jute:",path"`
}

type GetACLResponse struct {
	ACL  []ACL
	Stat Stat
}

type SetACLRequest struct {
	Path    string `jute:",path"`
	ACL     []ACL
	Version int32
}

type SetACLResponse struct {
	Stat Stat
}

type GetChildrenRequest struct {
	Path  string `jute:",path"`
	Watch bool
}

type GetChildrenResponse struct {
	Children []string
}

type GetChildren2Request struct {
	Path  string `jute:",path"`
	Watch bool
}

type GetChildren2Response struct {
	Children []string
	Stat     Stat
}

type SyncRequest struct {
	Path string `jute:",path"`
}

type SyncResponse struct {
	Path string `jute:",path"`
}

type CheckVersionRequest struct {
	Path    string `jute:",path"`
	Version int32
}

type AuthPacket struct {
	Type   int32
	Scheme string
	Auth   []byte
}

// SetWatches restores server-side watches after a reconnect.
type SetWatches struct {
	RelativeZxid zxid.ZXID
	DataWatches  []string `jute:",paths"`
	ExistWatches []string `jute:",paths"`
	ChildWatches []string `jute:",paths"`
}

// WatcherEvent is the payload of a notification frame.
type WatcherEvent struct {
	Type  EventType
	State KeeperState
	Path  string `jute:",path"`
}

type MultiHeader struct {
	Type OpCode
	Done bool
	Err  Code
}

type ErrorResponse struct {
	Err Code
}
