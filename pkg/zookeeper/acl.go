package zookeeper

import (
	"fmt"
	"strings"
)

// Permission is a bit set of the operations an ACL entry grants.
type Permission int32

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermCreate
	PermDelete
	PermAdmin
	PermAll Permission = 0x1f
)

func (p Permission) String() string {
	if p == PermAll {
		return "cdrwa"
	}
	var b strings.Builder
	for _, f := range []struct {
		bit  Permission
		char byte
	}{{PermCreate, 'c'}, {PermDelete, 'd'}, {PermRead, 'r'}, {PermWrite, 'w'}, {PermAdmin, 'a'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.char)
		}
	}
	return b.String()
}

// ID is an authenticated identity in a scheme, e.g. world:anyone.
type ID struct {
	Scheme string
	ID     string
}

func (i ID) String() string {
	return i.Scheme + ":" + i.ID
}

// ACL grants Perms to ID.
type ACL struct {
	Perms Permission
	ID    ID
}

func (a ACL) String() string {
	return fmt.Sprintf("%s:%s", a.ID, a.Perms)
}

var (
	// AnyoneIDUnsafe represents anyone.
	AnyoneIDUnsafe = ID{Scheme: "world", ID: "anyone"}
	// AuthIDs is replaced by the server with the ids the client authenticated as.
	AuthIDs = ID{Scheme: "auth", ID: ""}

	OpenACLUnsafe = []ACL{{Perms: PermAll, ID: AnyoneIDUnsafe}}
	CreatorAllACL = []ACL{{Perms: PermAll, ID: AuthIDs}}
	ReadACLUnsafe = []ACL{{Perms: PermRead, ID: AnyoneIDUnsafe}}
)

// CreateMode selects the lifetime and naming of a created znode.
type CreateMode int32

const (
	ModePersistent           CreateMode = 0
	ModeEphemeral            CreateMode = 1
	ModePersistentSequential CreateMode = 2
	ModeEphemeralSequential  CreateMode = 3
)

func (m CreateMode) IsEphemeral() bool {
	return m == ModeEphemeral || m == ModeEphemeralSequential
}

func (m CreateMode) IsSequential() bool {
	return m == ModePersistentSequential || m == ModeEphemeralSequential
}
