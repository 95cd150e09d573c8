package zktest

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikekulinski/zkclient/pkg/jute"
	"github.com/mikekulinski/zkclient/pkg/session"
	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

func dial(t *testing.T, s *Server, req *zookeeper.ConnectRequest) (net.Conn, zookeeper.ConnectResponse) {
	t.Helper()
	c, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = c.Write(frame(req))
	require.NoError(t, err)
	body, err := readFrame(c)
	require.NoError(t, err)
	var resp zookeeper.ConnectResponse
	require.NoError(t, jute.Unmarshal(body, &resp, ""))
	return c, resp
}

func roundTrip(t *testing.T, c net.Conn, xid int32, op zookeeper.OpCode, payload any) (zookeeper.ReplyHeader, []byte) {
	t.Helper()
	recs := []any{&zookeeper.RequestHeader{Xid: xid, OpCode: op}}
	if payload != nil {
		recs = append(recs, payload)
	}
	_, err := c.Write(frame(recs...))
	require.NoError(t, err)
	body, err := readFrame(c)
	require.NoError(t, err)
	var hdr zookeeper.ReplyHeader
	n, err := jute.Read(body, 0, &hdr, "")
	require.NoError(t, err)
	return hdr, body[n:]
}

func newServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestServer_Handshake(t *testing.T) {
	s := newServer(t)
	assert.NotZero(t, s.Port())

	c, resp := dial(t, s, &zookeeper.ConnectRequest{TimeOut: 4000, Passwd: make([]byte, session.PasswordLength)})
	assert.NotZero(t, resp.SessionID)
	assert.Equal(t, int32(4000), resp.TimeOut)
	assert.Len(t, resp.Passwd, session.PasswordLength)
	assert.Equal(t, 1, s.SessionCount())

	hdr, _ := roundTrip(t, c, zookeeper.XidPing, zookeeper.OpPing, nil)
	assert.Equal(t, zookeeper.XidPing, hdr.Xid)
	assert.Equal(t, zookeeper.CodeOK, hdr.Err)

	// The same session can be picked up from another connection.
	_, again := dial(t, s, &zookeeper.ConnectRequest{SessionID: resp.SessionID, Passwd: resp.Passwd})
	assert.Equal(t, resp.SessionID, again.SessionID)
	assert.Equal(t, 1, s.SessionCount())
}

func TestServer_RefusesUnknownSession(t *testing.T) {
	tests := []struct {
		name     string
		password func(real []byte) []byte
		expire   bool
	}{
		{
			name:     "wrong password",
			password: func([]byte) []byte { return make([]byte, session.PasswordLength) },
		},
		{
			name:     "expired",
			password: func(real []byte) []byte { return real },
			expire:   true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newServer(t)
			_, resp := dial(t, s, &zookeeper.ConnectRequest{TimeOut: 4000, Passwd: make([]byte, session.PasswordLength)})
			if test.expire {
				s.Expire(resp.SessionID)
			}

			_, refused := dial(t, s, &zookeeper.ConnectRequest{SessionID: resp.SessionID, Passwd: test.password(resp.Passwd)})
			assert.Zero(t, refused.TimeOut)
		})
	}
}

func TestServer_Requests(t *testing.T) {
	s := newServer(t)
	c, _ := dial(t, s, &zookeeper.ConnectRequest{TimeOut: 4000, Passwd: make([]byte, session.PasswordLength)})

	hdr, body := roundTrip(t, c, 1, zookeeper.OpCreate, &zookeeper.CreateRequest{
		Path: "/a",
		Data: []byte("x"),
		ACL:  zookeeper.OpenACLUnsafe,
	})
	require.Equal(t, zookeeper.CodeOK, hdr.Err)
	var created zookeeper.CreateResponse
	require.NoError(t, jute.Unmarshal(body, &created, ""))
	assert.Equal(t, "/a", created.Path)
	assert.Equal(t, s.LastZxid(), hdr.Zxid)

	hdr, _ = roundTrip(t, c, 2, zookeeper.OpGetData, &zookeeper.GetDataRequest{Path: "/missing"})
	assert.Equal(t, int32(2), hdr.Xid)
	assert.Equal(t, zookeeper.CodeNoNode, hdr.Err)

	hdr, _ = roundTrip(t, c, 3, zookeeper.OpCheck, &zookeeper.CheckVersionRequest{Path: "/a", Version: -1})
	assert.Equal(t, zookeeper.CodeUnimplemented, hdr.Err)
}

func TestServer_MultiFailureLeavesTreeUntouched(t *testing.T) {
	s := newServer(t)
	c, _ := dial(t, s, &zookeeper.ConnectRequest{TimeOut: 4000, Passwd: make([]byte, session.PasswordLength)})
	before := s.LastZxid()

	body := frame(
		&zookeeper.RequestHeader{Xid: 1, OpCode: zookeeper.OpMulti},
		&zookeeper.MultiHeader{Type: zookeeper.OpCreate, Err: -1},
		&zookeeper.CreateRequest{Path: "/ok", ACL: zookeeper.OpenACLUnsafe},
		&zookeeper.MultiHeader{Type: zookeeper.OpDelete, Err: -1},
		&zookeeper.DeleteRequest{Path: "/missing", Version: -1},
		&zookeeper.MultiHeader{Type: zookeeper.OpError, Done: true, Err: -1},
	)
	_, err := c.Write(body)
	require.NoError(t, err)
	reply, err := readFrame(c)
	require.NoError(t, err)

	var codes []zookeeper.Code
	off := 0
	var hdr zookeeper.ReplyHeader
	n, err := jute.Read(reply, off, &hdr, "")
	require.NoError(t, err)
	off += n
	assert.Equal(t, zookeeper.CodeOK, hdr.Err)
	for {
		var mh zookeeper.MultiHeader
		n, err := jute.Read(reply, off, &mh, "")
		require.NoError(t, err)
		off += n
		if mh.Done {
			break
		}
		var er zookeeper.ErrorResponse
		n, err = jute.Read(reply, off, &er, "")
		require.NoError(t, err)
		off += n
		codes = append(codes, er.Err)
	}
	assert.Equal(t, []zookeeper.Code{zookeeper.CodeOK, zookeeper.CodeNoNode}, codes)
	assert.Equal(t, before, s.LastZxid())
	_, _, err = s.Get("/ok")
	assert.ErrorIs(t, err, zookeeper.ErrNoNode)
}
