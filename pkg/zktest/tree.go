package zktest

import (
	"bytes"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/mikekulinski/zkclient/pkg/zookeeper"
	"github.com/mikekulinski/zkclient/pkg/zxid"
)

type znode struct {
	data     []byte
	acl      []zookeeper.ACL
	stat     zookeeper.Stat
	children map[string]*znode
}

func newZNode(data []byte, acl []zookeeper.ACL) *znode {
	return &znode{
		data: bytes.Clone(data),
		acl:  slices.Clone(acl),
		// Init the children to an empty map instead of nil to avoid panics when writing to
		// a nil map.
		children: map[string]*znode{},
	}
}

// Change is a watch trigger left behind by a committed write.
type Change struct {
	Type zookeeper.EventType
	Path string
}

// Tree is the source of truth for all the data stored in the test server. It
// is not safe for concurrent use; the Server serializes access.
type Tree struct {
	root *znode
	zxid zxid.ZXID
	now  func() time.Time
}

func NewTree() *Tree {
	return &Tree{
		root: newZNode(nil, zookeeper.OpenACLUnsafe),
		zxid: zxid.New(1, 0),
		now:  time.Now,
	}
}

// LastZxid returns the zxid of the last committed write.
func (t *Tree) LastZxid() zxid.ZXID {
	return t.zxid
}

func (t *Tree) lookup(p string) *znode {
	if p == "/" {
		return t.root
	}
	node := t.root
	// Since we have a leading /, then we expect the first name to be empty.
	for _, name := range strings.Split(p, "/")[1:] {
		child, ok := node.children[name]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

func splitPath(p string) (string, string) {
	return path.Dir(p), path.Base(p)
}

// isValidVersion is used for conditional checks for update/delete operations. If the passed in version
// is -1, then skip the version check. Otherwise, make sure the versions are equal.
func isValidVersion(expected, actual int32) bool {
	return expected == -1 || expected == actual
}

func (t *Tree) Stat(p string) (zookeeper.Stat, error) {
	node := t.lookup(p)
	if node == nil {
		return zookeeper.Stat{}, zookeeper.ErrorFromCode(zookeeper.CodeNoNode, p)
	}
	return node.stat, nil
}

func (t *Tree) Get(p string) ([]byte, zookeeper.Stat, error) {
	node := t.lookup(p)
	if node == nil {
		return nil, zookeeper.Stat{}, zookeeper.ErrorFromCode(zookeeper.CodeNoNode, p)
	}
	return bytes.Clone(node.data), node.stat, nil
}

// Children returns the sorted child names of p.
func (t *Tree) Children(p string) ([]string, zookeeper.Stat, error) {
	node := t.lookup(p)
	if node == nil {
		return nil, zookeeper.Stat{}, zookeeper.ErrorFromCode(zookeeper.CodeNoNode, p)
	}
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, node.stat, nil
}

func (t *Tree) ACL(p string) ([]zookeeper.ACL, zookeeper.Stat, error) {
	node := t.lookup(p)
	if node == nil {
		return nil, zookeeper.Stat{}, zookeeper.ErrorFromCode(zookeeper.CodeNoNode, p)
	}
	return slices.Clone(node.acl), node.stat, nil
}

// Ephemerals returns the paths owned by sessionID, deepest first.
func (t *Tree) Ephemerals(sessionID int64) []string {
	var paths []string
	var walk func(p string, n *znode)
	walk = func(p string, n *znode) {
		for name, child := range n.children {
			cp := path.Join(p, name)
			if child.stat.EphemeralOwner == sessionID {
				paths = append(paths, cp)
			}
			walk(cp, child)
		}
	}
	walk("/", t.root)
	sort.Slice(paths, func(i, j int) bool {
		return strings.Count(paths[i], "/") > strings.Count(paths[j], "/")
	})
	return paths
}

// Txn is a group of writes that commit under one zxid or not at all.
type Txn struct {
	t         *Tree
	sessionID int64
	zxid      zxid.ZXID
	undo      []func()
	changes   []Change
}

// Begin starts a transaction on behalf of sessionID.
func (t *Tree) Begin(sessionID int64) *Txn {
	return &Txn{t: t, sessionID: sessionID, zxid: t.zxid + 1}
}

// Commit makes the writes visible under a new zxid and returns the watch
// triggers they produced.
func (x *Txn) Commit() []Change {
	if len(x.undo) > 0 {
		x.t.zxid = x.zxid
	}
	return x.changes
}

// Rollback undoes every write made so far.
func (x *Txn) Rollback() {
	for i := len(x.undo) - 1; i >= 0; i-- {
		x.undo[i]()
	}
	x.undo = nil
	x.changes = nil
}

func (x *Txn) nowMillis() int64 {
	return x.t.now().UnixMilli()
}

func (x *Txn) Create(req *zookeeper.CreateRequest) (string, error) {
	if err := zookeeper.ValidatePath(req.Path); err != nil || req.Path == "/" {
		return "", zookeeper.ErrorFromCode(zookeeper.CodeBadArguments, req.Path)
	}
	if len(req.ACL) == 0 {
		return "", zookeeper.ErrorFromCode(zookeeper.CodeInvalidACL, req.Path)
	}
	parentPath, name := splitPath(req.Path)
	// Search down the tree until we hit the parent where we'll be creating this new node.
	parent := x.t.lookup(parentPath)
	if parent == nil {
		return "", zookeeper.ErrorFromCode(zookeeper.CodeNoNode, req.Path)
	}
	if parent.stat.EphemeralOwner != 0 {
		return "", zookeeper.ErrorFromCode(zookeeper.CodeNoChildrenForEphemeral, req.Path)
	}
	if req.Flags.IsSequential() {
		name = fmt.Sprintf("%s%010d", name, parent.stat.Cversion)
	}
	if _, ok := parent.children[name]; ok {
		return "", zookeeper.ErrorFromCode(zookeeper.CodeNodeExists, req.Path)
	}

	created := path.Join(parentPath, name)
	node := newZNode(req.Data, req.ACL)
	now := x.nowMillis()
	node.stat = zookeeper.Stat{
		Czxid:      x.zxid,
		Mzxid:      x.zxid,
		Pzxid:      x.zxid,
		Ctime:      now,
		Mtime:      now,
		DataLength: int32(len(req.Data)),
	}
	if req.Flags.IsEphemeral() {
		node.stat.EphemeralOwner = x.sessionID
	}

	parentStat := parent.stat
	parent.children[name] = node
	parent.stat.Cversion++
	parent.stat.NumChildren++
	parent.stat.Pzxid = x.zxid
	x.undo = append(x.undo, func() {
		delete(parent.children, name)
		parent.stat = parentStat
	})
	x.changes = append(x.changes,
		Change{Type: zookeeper.EventNodeCreated, Path: created},
		Change{Type: zookeeper.EventNodeChildrenChanged, Path: parentPath},
	)
	return created, nil
}

func (x *Txn) Delete(req *zookeeper.DeleteRequest) error {
	if err := zookeeper.ValidatePath(req.Path); err != nil || req.Path == "/" {
		return zookeeper.ErrorFromCode(zookeeper.CodeBadArguments, req.Path)
	}
	parentPath, name := splitPath(req.Path)
	parent := x.t.lookup(parentPath)
	if parent == nil {
		return zookeeper.ErrorFromCode(zookeeper.CodeNoNode, req.Path)
	}
	node, ok := parent.children[name]
	if !ok {
		return zookeeper.ErrorFromCode(zookeeper.CodeNoNode, req.Path)
	}
	if !isValidVersion(req.Version, node.stat.Version) {
		return zookeeper.ErrorFromCode(zookeeper.CodeBadVersion, req.Path)
	}
	if len(node.children) > 0 {
		return zookeeper.ErrorFromCode(zookeeper.CodeNotEmpty, req.Path)
	}

	parentStat := parent.stat
	delete(parent.children, name)
	parent.stat.Cversion++
	parent.stat.NumChildren--
	parent.stat.Pzxid = x.zxid
	x.undo = append(x.undo, func() {
		parent.children[name] = node
		parent.stat = parentStat
	})
	x.changes = append(x.changes,
		Change{Type: zookeeper.EventNodeDeleted, Path: req.Path},
		Change{Type: zookeeper.EventNodeChildrenChanged, Path: parentPath},
	)
	return nil
}

func (x *Txn) SetData(req *zookeeper.SetDataRequest) (zookeeper.Stat, error) {
	node := x.t.lookup(req.Path)
	if node == nil {
		return zookeeper.Stat{}, zookeeper.ErrorFromCode(zookeeper.CodeNoNode, req.Path)
	}
	if !isValidVersion(req.Version, node.stat.Version) {
		return zookeeper.Stat{}, zookeeper.ErrorFromCode(zookeeper.CodeBadVersion, req.Path)
	}

	oldData, oldStat := node.data, node.stat
	node.data = bytes.Clone(req.Data)
	node.stat.Version++
	node.stat.Mzxid = x.zxid
	node.stat.Mtime = x.nowMillis()
	node.stat.DataLength = int32(len(req.Data))
	x.undo = append(x.undo, func() {
		node.data, node.stat = oldData, oldStat
	})
	x.changes = append(x.changes, Change{Type: zookeeper.EventNodeDataChanged, Path: req.Path})
	return node.stat, nil
}

func (x *Txn) SetACL(req *zookeeper.SetACLRequest) (zookeeper.Stat, error) {
	node := x.t.lookup(req.Path)
	if node == nil {
		return zookeeper.Stat{}, zookeeper.ErrorFromCode(zookeeper.CodeNoNode, req.Path)
	}
	if len(req.ACL) == 0 {
		return zookeeper.Stat{}, zookeeper.ErrorFromCode(zookeeper.CodeInvalidACL, req.Path)
	}
	if !isValidVersion(req.Version, node.stat.Aversion) {
		return zookeeper.Stat{}, zookeeper.ErrorFromCode(zookeeper.CodeBadVersion, req.Path)
	}

	oldACL, oldStat := node.acl, node.stat
	node.acl = slices.Clone(req.ACL)
	node.stat.Aversion++
	x.undo = append(x.undo, func() {
		node.acl, node.stat = oldACL, oldStat
	})
	return node.stat, nil
}

func (x *Txn) Check(req *zookeeper.CheckVersionRequest) error {
	node := x.t.lookup(req.Path)
	if node == nil {
		return zookeeper.ErrorFromCode(zookeeper.CodeNoNode, req.Path)
	}
	if !isValidVersion(req.Version, node.stat.Version) {
		return zookeeper.ErrorFromCode(zookeeper.CodeBadVersion, req.Path)
	}
	return nil
}
