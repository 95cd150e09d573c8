package zookeeper

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"

	"github.com/mikekulinski/zkclient/pkg/jute"
)

// Request is one outbound frame. The connect handshake has no header.
type Request struct {
	Header  *RequestHeader
	Payload any
}

// NewRequest builds a request for op with a zero xid; the connection manager
// assigns the xid when the frame is written.
func NewRequest(op OpCode, payload any) *Request {
	return &Request{
		Header:  &RequestHeader{OpCode: op},
		Payload: payload,
	}
}

// OpCode returns the header op code, or OpCreateSession for the handshake.
func (r *Request) OpCode() OpCode {
	if r.Header == nil {
		return OpCreateSession
	}
	return r.Header.OpCode
}

// Path returns the node path carried by the payload, if it has one.
func (r *Request) Path() string {
	if r.Payload == nil {
		return ""
	}
	v := reflect.ValueOf(r.Payload)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return ""
	}
	f := v.FieldByName("Path")
	if !f.IsValid() || f.Kind() != reflect.String {
		return ""
	}
	return f.String()
}

// Marshal returns the length-prefixed frame for the request with chroot
// applied to every path field of the payload.
func (r *Request) Marshal(chroot string) ([]byte, error) {
	size := 0
	if r.Header != nil {
		n, err := jute.ByteLength(r.Header, "")
		if err != nil {
			return nil, err
		}
		size += n
	}
	if r.Payload != nil {
		n, err := jute.ByteLength(r.Payload, chroot)
		if err != nil {
			return nil, fmt.Errorf("measuring %s payload: %w", r.OpCode(), err)
		}
		size += n
	}

	buf := make([]byte, 4+size)
	binary.BigEndian.PutUint32(buf, uint32(size))
	off := 4
	if r.Header != nil {
		n, err := jute.Write(buf, off, r.Header, "")
		if err != nil {
			return nil, err
		}
		off += n
	}
	if r.Payload != nil {
		if _, err := jute.Write(buf, off, r.Payload, chroot); err != nil {
			return nil, fmt.Errorf("writing %s payload: %w", r.OpCode(), err)
		}
	}
	return buf, nil
}

// Response is a decoded reply. Payload is nil for ops without a response
// body and for error replies.
type Response struct {
	Header  ReplyHeader
	Payload any
}

var (
	payloadMu        sync.RWMutex
	payloadFactories = map[OpCode]func() any{}
)

// RegisterResponsePayload installs the decoder target for an op whose
// response record lives outside this package, such as MULTI.
func RegisterResponsePayload(op OpCode, factory func() any) {
	payloadMu.Lock()
	defer payloadMu.Unlock()
	payloadFactories[op] = factory
}

// NewResponsePayload returns a fresh record to decode the successful response
// of op into, or nil when op has no response body. Unknown ops are an error.
func NewResponsePayload(op OpCode) (any, error) {
	switch op {
	case OpCreate:
		return &CreateResponse{}, nil
	case OpExists:
		return &ExistsResponse{}, nil
	case OpGetData:
		return &GetDataResponse{}, nil
	case OpSetData:
		return &SetDataResponse{}, nil
	case OpGetACL:
		return &GetACLResponse{}, nil
	case OpSetACL:
		return &SetACLResponse{}, nil
	case OpGetChildren:
		return &GetChildrenResponse{}, nil
	case OpGetChildren2:
		return &GetChildren2Response{}, nil
	case OpSync:
		return &SyncResponse{}, nil
	case OpDelete, OpCheck, OpSetWatches, OpCloseSession, OpAuth, OpPing:
		return nil, nil
	case OpMulti:
		payloadMu.RLock()
		factory, ok := payloadFactories[op]
		payloadMu.RUnlock()
		if ok {
			return factory(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownOpCode, op)
}
