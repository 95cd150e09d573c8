package zookeeper

import "context"

// Zookeeper is the synchronous znode API offered by the client facade.
type Zookeeper interface {
	// Create creates a ZNode with path name path, stores data in it, and returns the name of the new ZNode.
	// The mode picks whether the ZNode is ephemeral and/or sequential.
	Create(ctx context.Context, path string, data []byte, acl []ACL, mode CreateMode) (string, error)
	// Delete deletes the ZNode at the given path if that ZNode is at the expected version. A version of -1
	// skips the version check.
	Delete(ctx context.Context, path string, version int32) error
	// Exists returns true if the ZNode with path name path exists, and returns false otherwise.
	Exists(ctx context.Context, path string) (bool, *Stat, error)
	// GetData returns the data and metadata, such as version information, associated with the ZNode.
	GetData(ctx context.Context, path string) ([]byte, *Stat, error)
	// SetData writes data to the ZNode path if the version number is the current version of the ZNode.
	SetData(ctx context.Context, path string, data []byte, version int32) (*Stat, error)
	// GetChildren returns the set of names of the children of a ZNode.
	GetChildren(ctx context.Context, path string) ([]string, *Stat, error)
	// GetACL returns the ACL of a ZNode along with its metadata.
	GetACL(ctx context.Context, path string) ([]ACL, *Stat, error)
	// SetACL replaces the ACL of a ZNode if the ACL version matches.
	SetACL(ctx context.Context, path string, acl []ACL, version int32) (*Stat, error)
	// Sync waits for all updates pending at the start of the operation to propagate to the server
	// that the client is connected to.
	Sync(ctx context.Context, path string) (string, error)
}
