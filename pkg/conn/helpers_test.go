package conn

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mock_conn "github.com/mikekulinski/zkclient/pkg/conn/mocks"
	"github.com/mikekulinski/zkclient/pkg/ensemble"
	"github.com/mikekulinski/zkclient/pkg/jute"
	"github.com/mikekulinski/zkclient/pkg/zookeeper"
	"github.com/mikekulinski/zkclient/pkg/zxid"
)

const (
	testServer    = "127.0.0.1:2181"
	testSessionID = int64(0x1234)
	testWait      = 5 * time.Second
)

var (
	testServers  = []ensemble.Server{{Host: "127.0.0.1", Port: 2181}}
	testPassword = bytes.Repeat([]byte{7}, 16)
)

// fakeServer is the server end of a net.Pipe, driven step by step by a test.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
}

func newPipe(t *testing.T) (net.Conn, *fakeServer) {
	t.Helper()
	client, server := net.Pipe()
	require.NoError(t, server.SetDeadline(time.Now().Add(testWait)))
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, &fakeServer{t: t, conn: server}
}

func (s *fakeServer) readFrame() []byte {
	s.t.Helper()
	var size [4]byte
	_, err := io.ReadFull(s.conn, size[:])
	require.NoError(s.t, err)
	body := make([]byte, binary.BigEndian.Uint32(size[:]))
	_, err = io.ReadFull(s.conn, body)
	require.NoError(s.t, err)
	return body
}

func (s *fakeServer) readConnect() zookeeper.ConnectRequest {
	s.t.Helper()
	var req zookeeper.ConnectRequest
	require.NoError(s.t, jute.Unmarshal(s.readFrame(), &req, ""))
	return req
}

// accept completes the handshake and returns the connect request it read.
func (s *fakeServer) accept(sessionID int64, timeout time.Duration) zookeeper.ConnectRequest {
	s.t.Helper()
	req := s.readConnect()
	s.write(record(s.t, &zookeeper.ConnectResponse{
		TimeOut:   int32(timeout.Milliseconds()),
		SessionID: sessionID,
		Passwd:    testPassword,
	}))
	return req
}

// readRequest reads one framed request and decodes its payload, with paths
// as the server sees them.
func (s *fakeServer) readRequest(payload any) zookeeper.RequestHeader {
	s.t.Helper()
	frame := s.readFrame()
	var hdr zookeeper.RequestHeader
	n, err := jute.Read(frame, 0, &hdr, "")
	require.NoError(s.t, err)
	if payload != nil {
		_, err = jute.Read(frame, n, payload, "")
		require.NoError(s.t, err)
	}
	return hdr
}

func (s *fakeServer) write(b []byte) {
	s.t.Helper()
	_, err := s.conn.Write(b)
	require.NoError(s.t, err)
}

// record frames the concatenation of recs.
func record(t *testing.T, recs ...any) []byte {
	t.Helper()
	var body []byte
	for _, rec := range recs {
		b, err := jute.Marshal(rec, "")
		require.NoError(t, err)
		body = append(body, b...)
	}
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...)
}

func reply(t *testing.T, xid int32, z zxid.ZXID, code zookeeper.Code, payload any) []byte {
	t.Helper()
	hdr := &zookeeper.ReplyHeader{Xid: xid, Zxid: z, Err: code}
	if payload == nil {
		return record(t, hdr)
	}
	return record(t, hdr, payload)
}

func notification(t *testing.T, typ zookeeper.EventType, path string) []byte {
	t.Helper()
	return reply(t, zookeeper.XidNotification, -1, zookeeper.CodeOK, &zookeeper.WatcherEvent{
		Type:  typ,
		State: zookeeper.StateSyncConnected,
		Path:  path,
	})
}

type stateRecorder chan State

func newStateRecorder() stateRecorder {
	return make(stateRecorder, 256)
}

func (r stateRecorder) listen(s State) {
	r <- s
}

func (r stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(testWait)
	for {
		select {
		case s := <-r:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testWait):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

// newTestManager builds a manager that closes itself at the end of the test
// without waiting for the fake server to acknowledge.
func newTestManager(t *testing.T, servers []ensemble.Server, chroot string, opts ...Option) *Manager {
	t.Helper()
	m, err := New(servers, chroot, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

type testSession struct {
	m      *Manager
	srv    *fakeServer
	states stateRecorder
	dialer *mock_conn.MockDialer
}

// startSession connects a manager to a fake server and completes the
// handshake with the given negotiated timeout.
func startSession(t *testing.T, negotiated time.Duration, chroot string, opts ...Option) *testSession {
	t.Helper()
	ctrl := gomock.NewController(t)
	dialer := mock_conn.NewMockDialer(ctrl)
	client, srv := newPipe(t)
	dialer.EXPECT().DialContext(gomock.Any(), "tcp", testServer).Return(client, nil)

	states := newStateRecorder()
	opts = append([]Option{
		WithDialer(dialer),
		WithStateListener(states.listen),
		WithSpinDelay(0),
	}, opts...)
	m := newTestManager(t, testServers, chroot, opts...)
	require.NoError(t, m.Connect())

	srv.accept(testSessionID, negotiated)
	states.waitFor(t, StateConnected)
	return &testSession{m: m, srv: srv, states: states, dialer: dialer}
}

// expectRedial makes the next dial return a fresh pipe.
func (s *testSession) expectRedial(t *testing.T) *fakeServer {
	t.Helper()
	client, srv := newPipe(t)
	s.dialer.EXPECT().DialContext(gomock.Any(), "tcp", testServer).Return(client, nil)
	return srv
}

type outcome struct {
	resp *zookeeper.Response
	err  error
}

func collect(ch chan<- outcome) Callback {
	return func(resp *zookeeper.Response, err error) {
		ch <- outcome{resp: resp, err: err}
	}
}
