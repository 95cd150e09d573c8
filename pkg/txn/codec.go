// Package txn encodes multi-op transactions and decodes their results.
package txn

import (
	"errors"
	"fmt"

	"github.com/mikekulinski/zkclient/pkg/jute"
	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

var ErrUnknownOp = errors.New("txn: unknown op type")

func init() {
	zookeeper.RegisterResponsePayload(zookeeper.OpMulti, func() any {
		return &MultiResponse{}
	})
}

// Op is one step of a transaction.
type Op interface {
	OpCode() zookeeper.OpCode
	// record returns the request record written after the op's header.
	record() any
	path() string
}

type CreateOp struct {
	Path string
	Data []byte
	ACL  []zookeeper.ACL
	Mode zookeeper.CreateMode
}

func (o *CreateOp) OpCode() zookeeper.OpCode { return zookeeper.OpCreate }
func (o *CreateOp) path() string             { return o.Path }
func (o *CreateOp) record() any {
	return &zookeeper.CreateRequest{Path: o.Path, Data: o.Data, ACL: o.ACL, Flags: o.Mode}
}

type DeleteOp struct {
	Path    string
	Version int32
}

func (o *DeleteOp) OpCode() zookeeper.OpCode { return zookeeper.OpDelete }
func (o *DeleteOp) path() string             { return o.Path }
func (o *DeleteOp) record() any {
	return &zookeeper.DeleteRequest{Path: o.Path, Version: o.Version}
}

type SetDataOp struct {
	Path    string
	Data    []byte
	Version int32
}

func (o *SetDataOp) OpCode() zookeeper.OpCode { return zookeeper.OpSetData }
func (o *SetDataOp) path() string             { return o.Path }
func (o *SetDataOp) record() any {
	return &zookeeper.SetDataRequest{Path: o.Path, Data: o.Data, Version: o.Version}
}

// CheckOp fails the transaction unless the node is at Version.
type CheckOp struct {
	Path    string
	Version int32
}

func (o *CheckOp) OpCode() zookeeper.OpCode { return zookeeper.OpCheck }
func (o *CheckOp) path() string             { return o.Path }
func (o *CheckOp) record() any {
	return &zookeeper.CheckVersionRequest{Path: o.Path, Version: o.Version}
}

// terminator closes the op list of a multi request.
var terminator = zookeeper.MultiHeader{Type: zookeeper.OpError, Done: true, Err: -1}

// MultiRequest is the payload of a MULTI request: every op preceded by its
// header, then the terminating header.
type MultiRequest struct {
	Ops []Op
}

func (m *MultiRequest) records() ([]any, error) {
	recs := make([]any, 0, 2*len(m.Ops)+1)
	for _, op := range m.Ops {
		switch op.(type) {
		case *CreateOp, *DeleteOp, *SetDataOp, *CheckOp:
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnknownOp, op)
		}
		recs = append(recs, &zookeeper.MultiHeader{Type: op.OpCode(), Done: false, Err: -1}, op.record())
	}
	return append(recs, &terminator), nil
}

func (m *MultiRequest) JuteLength(chroot string) (int, error) {
	recs, err := m.records()
	if err != nil {
		return 0, err
	}
	size := 0
	for _, rec := range recs {
		n, err := jute.ByteLength(rec, chroot)
		if err != nil {
			return 0, err
		}
		size += n
	}
	return size, nil
}

func (m *MultiRequest) WriteJute(buf []byte, offset int, chroot string) (int, error) {
	size, err := m.JuteLength(chroot)
	if err != nil {
		return 0, err
	}
	if offset+size > len(buf) {
		return 0, fmt.Errorf("%w: need %d bytes at offset %d, have %d", jute.ErrBufferTooSmall, size, offset, len(buf))
	}
	recs, _ := m.records()
	off := offset
	for _, rec := range recs {
		n, err := jute.Write(buf, off, rec, chroot)
		if err != nil {
			return 0, err
		}
		off += n
	}
	return size, nil
}

// Result is the outcome of one op. Err is nil when the op succeeded or when
// the server reported it as OK inside a failed transaction.
type Result struct {
	Op   zookeeper.OpCode
	Path string
	Stat *zookeeper.Stat
	Err  error
}

// MultiResponse is the payload of a MULTI reply.
type MultiResponse struct {
	Results []Result
}

func (m *MultiResponse) ReadJute(buf []byte, offset int, chroot string) (int, error) {
	off := offset
	m.Results = m.Results[:0]
	for {
		var header zookeeper.MultiHeader
		n, err := jute.Read(buf, off, &header, chroot)
		if err != nil {
			return 0, fmt.Errorf("reading multi header %d: %w", len(m.Results), err)
		}
		off += n
		if header.Done {
			return off - offset, nil
		}

		result := Result{Op: header.Type}
		switch header.Type {
		case zookeeper.OpCreate:
			var resp zookeeper.CreateResponse
			n, err = jute.Read(buf, off, &resp, chroot)
			result.Path = resp.Path
		case zookeeper.OpSetData:
			var resp zookeeper.SetDataResponse
			n, err = jute.Read(buf, off, &resp, chroot)
			result.Stat = &resp.Stat
		case zookeeper.OpDelete, zookeeper.OpCheck:
			n, err = 0, nil
		case zookeeper.OpError:
			var resp zookeeper.ErrorResponse
			n, err = jute.Read(buf, off, &resp, chroot)
			result.Err = zookeeper.ErrorFromCode(resp.Err, "")
		default:
			return 0, fmt.Errorf("%w: %s in multi response", ErrUnknownOp, header.Type)
		}
		if err != nil {
			return 0, fmt.Errorf("reading %s result: %w", header.Type, err)
		}
		off += n
		m.Results = append(m.Results, result)
	}
}

// Check returns the error of the first failed result, or nil when every op
// succeeded.
func Check(results []Result) error {
	for _, r := range results {
		if r.Op == zookeeper.OpError && r.Err != nil {
			return r.Err
		}
	}
	return nil
}
