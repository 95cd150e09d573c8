// Package zktest runs an in-memory ZooKeeper server that speaks the client
// wire protocol, for tests of code built on the client.
//
// It keeps one znode tree, hands out sessions, honours versions, ephemeral
// and sequential nodes, one-shot watches and multi-op transactions. Session
// timeouts are not enforced; tests expire sessions explicitly with Expire.
package zktest

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mikekulinski/zkclient/pkg/jute"
	"github.com/mikekulinski/zkclient/pkg/session"
	"github.com/mikekulinski/zkclient/pkg/watch"
	"github.com/mikekulinski/zkclient/pkg/zookeeper"
	"github.com/mikekulinski/zkclient/pkg/zxid"
)

const maxFrameSize = 4 << 20

var errTooLarge = errors.New("zktest: frame too large")

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithAddr sets the listen address. The default is a random loopback port.
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithRejectedScheme makes every auth packet of scheme fail with AUTH_FAILED.
func WithRejectedScheme(scheme string) Option {
	return func(s *Server) {
		s.rejected[scheme] = true
	}
}

type serverSession struct {
	id       int64
	password []byte
	timeout  time.Duration
	conn     *serverConn
	auth     []zookeeper.ID
}

type serverConn struct {
	conn net.Conn
	sess *serverSession
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *serverConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// send queues frame for the connection's writer. Frames queued under the
// server lock go out in the order the server produced them.
func (c *serverConn) send(frame []byte) {
	select {
	case c.out <- frame:
	case <-c.done:
	}
}

// shutdown closes the connection once everything queued before it is written.
func (c *serverConn) shutdown() {
	c.send(nil)
	select {
	case <-c.done:
	case <-time.After(time.Second):
		c.close()
	}
}

func (c *serverConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			if frame == nil {
				c.close()
				return
			}
			if _, err := c.conn.Write(frame); err != nil {
				c.close()
				return
			}
		}
	}
}

type Server struct {
	log      zerolog.Logger
	addr     string
	ln       net.Listener
	rejected map[string]bool
	wg       sync.WaitGroup

	mu          sync.Mutex
	tree        *Tree
	sessions    map[int64]*serverSession
	nextSession int64
	// watches[kind][path] holds the ids of the sessions watching path.
	watches [3]map[string]map[int64]bool
	conns   map[*serverConn]bool
	closed  bool
}

// NewServer starts a server, by default on a random loopback port.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		log:         zerolog.Nop(),
		addr:        "127.0.0.1:0",
		rejected:    map[string]bool{},
		tree:        NewTree(),
		sessions:    map[int64]*serverSession{},
		nextSession: time.Now().UnixNano() & 0xffffffff << 16,
		conns:       map[*serverConn]bool{},
	}
	for i := range s.watches {
		s.watches[i] = map[string]map[int64]bool{}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "zktest").Logger()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("listening: %w", err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Close stops the server and drops every connection.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		c.close()
	}
	s.mu.Unlock()
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

// DropConnections closes every client connection. Sessions survive and can
// be resumed, as after a network blip.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.close()
	}
}

// Expire ends a session as if it had timed out: its ephemeral nodes are
// removed and its connection is dropped.
func (s *Server) Expire(sessionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		s.endSession(sess)
		if sess.conn != nil {
			sess.conn.close()
		}
	}
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) LastZxid() zxid.ZXID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.LastZxid()
}

// Get reads a node directly from the tree.
func (s *Server) Get(path string) ([]byte, zookeeper.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Get(path)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		c := &serverConn{
			conn: conn,
			out:  make(chan []byte, 1024),
			done: make(chan struct{}),
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[c] = true
		s.mu.Unlock()

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			c.writeLoop()
		}()
		go func() {
			defer s.wg.Done()
			s.serve(c)
		}()
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	n := int32(binary.BigEndian.Uint32(size[:]))
	if n < 0 || n > maxFrameSize {
		return nil, fmt.Errorf("%w: %d", errTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// frame length-prefixes recs. A []byte rec is taken as already encoded.
func frame(recs ...any) []byte {
	var body []byte
	for _, rec := range recs {
		if raw, ok := rec.([]byte); ok {
			body = append(body, raw...)
			continue
		}
		b, err := jute.Marshal(rec, "")
		if err != nil {
			panic(fmt.Sprintf("zktest: encoding %T: %v", rec, err))
		}
		body = append(body, b...)
	}
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...)
}

func (s *Server) serve(c *serverConn) {
	defer func() {
		c.shutdown()
		s.mu.Lock()
		delete(s.conns, c)
		if c.sess != nil && c.sess.conn == c {
			c.sess.conn = nil
			// Watches live with the connection; the client restores them.
			s.dropWatches(c.sess.id)
		}
		s.mu.Unlock()
	}()

	body, err := readFrame(c.conn)
	if err != nil {
		return
	}
	var req zookeeper.ConnectRequest
	n, err := jute.Read(body, 0, &req, "")
	if err != nil {
		s.log.Warn().Err(err).Msg("bad connect request")
		return
	}
	readOnly := n < len(body)

	s.mu.Lock()
	sess, ok := s.attach(&req, c)
	s.mu.Unlock()
	if !ok {
		c.send(frame(&zookeeper.ConnectResponse{Passwd: make([]byte, session.PasswordLength)}))
		return
	}
	resp := frame(&zookeeper.ConnectResponse{
		TimeOut:   int32(sess.timeout.Milliseconds()),
		SessionID: sess.id,
		Passwd:    sess.password,
	})
	if readOnly {
		// Echo the flag back as "not read-only".
		resp = append(resp, 0)
		binary.BigEndian.PutUint32(resp, uint32(len(resp)-4))
	}
	c.send(resp)

	for {
		body, err := readFrame(c.conn)
		if err != nil {
			return
		}
		var hdr zookeeper.RequestHeader
		n, err := jute.Read(body, 0, &hdr, "")
		if err != nil {
			return
		}
		if !s.handle(c, sess, hdr, body[n:]) {
			return
		}
	}
}

// attach binds c to a new or resumed session. It reports false when the
// requested session is unknown or its password is wrong.
func (s *Server) attach(req *zookeeper.ConnectRequest, c *serverConn) (*serverSession, bool) {
	if req.SessionID != 0 {
		sess, ok := s.sessions[req.SessionID]
		if !ok || string(sess.password) != string(req.Passwd) {
			s.log.Info().Int64("session", req.SessionID).Msg("refusing unknown session")
			return nil, false
		}
		if sess.conn != nil && sess.conn != c {
			sess.conn.close()
		}
		sess.conn = c
		c.sess = sess
		return sess, true
	}

	s.nextSession++
	password := make([]byte, session.PasswordLength)
	_, _ = rand.Read(password)
	timeout := time.Duration(req.TimeOut) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sess := &serverSession{
		id:       s.nextSession,
		password: password,
		timeout:  timeout,
		conn:     c,
	}
	s.sessions[sess.id] = sess
	c.sess = sess
	s.log.Info().Int64("session", sess.id).Msg("session created")
	return sess, true
}

// endSession removes sess and its ephemeral nodes. Caller holds s.mu.
func (s *Server) endSession(sess *serverSession) {
	delete(s.sessions, sess.id)
	s.dropWatches(sess.id)
	x := s.tree.Begin(sess.id)
	for _, p := range s.tree.Ephemerals(sess.id) {
		if err := x.Delete(&zookeeper.DeleteRequest{Path: p, Version: -1}); err != nil {
			s.log.Error().Err(err).Str("path", p).Msg("removing ephemeral node")
		}
	}
	s.fire(x.Commit())
}

func (s *Server) dropWatches(sessionID int64) {
	for _, byPath := range s.watches {
		for p, ids := range byPath {
			delete(ids, sessionID)
			if len(ids) == 0 {
				delete(byPath, p)
			}
		}
	}
}

func (s *Server) addWatch(kind watch.Kind, path string, sessionID int64) {
	ids, ok := s.watches[kind][path]
	if !ok {
		ids = map[int64]bool{}
		s.watches[kind][path] = ids
	}
	ids[sessionID] = true
}

// fire sends a notification for every change to the sessions watching it and
// clears those watches.
func (s *Server) fire(changes []Change) {
	for _, ch := range changes {
		var kinds []watch.Kind
		switch ch.Type {
		case zookeeper.EventNodeCreated, zookeeper.EventNodeDataChanged:
			kinds = []watch.Kind{watch.KindData, watch.KindExist}
		case zookeeper.EventNodeDeleted:
			kinds = []watch.Kind{watch.KindData, watch.KindExist, watch.KindChild}
		case zookeeper.EventNodeChildrenChanged:
			kinds = []watch.Kind{watch.KindChild}
		}
		notified := map[int64]bool{}
		for _, kind := range kinds {
			for id := range s.watches[kind][ch.Path] {
				if notified[id] {
					continue
				}
				notified[id] = true
				s.notify(id, ch.Type, ch.Path)
			}
			delete(s.watches[kind], ch.Path)
		}
	}
}

func (s *Server) notify(sessionID int64, typ zookeeper.EventType, path string) {
	sess, ok := s.sessions[sessionID]
	if !ok || sess.conn == nil {
		return
	}
	sess.conn.send(frame(
		&zookeeper.ReplyHeader{Xid: zookeeper.XidNotification, Zxid: -1},
		&zookeeper.WatcherEvent{Type: typ, State: zookeeper.StateSyncConnected, Path: path},
	))
}

// handle runs one request. It reports false when the connection should end.
func (s *Server) handle(c *serverConn, sess *serverSession, hdr zookeeper.RequestHeader, body []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, live := s.sessions[sess.id]; !live || sess.conn != c {
		return false
	}

	reply := func(code zookeeper.Code, payload any) {
		h := &zookeeper.ReplyHeader{Xid: hdr.Xid, Zxid: s.tree.LastZxid(), Err: code}
		if payload == nil || code != zookeeper.CodeOK {
			c.send(frame(h))
			return
		}
		c.send(frame(h, payload))
	}

	switch hdr.OpCode {
	case zookeeper.OpPing:
		reply(zookeeper.CodeOK, nil)
	case zookeeper.OpCloseSession:
		s.endSession(sess)
		reply(zookeeper.CodeOK, nil)
		return false
	case zookeeper.OpAuth:
		var req zookeeper.AuthPacket
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return false
		}
		if s.rejected[req.Scheme] {
			reply(zookeeper.CodeAuthFailed, nil)
			return true
		}
		sess.auth = append(sess.auth, zookeeper.ID{Scheme: req.Scheme, ID: string(req.Auth)})
		reply(zookeeper.CodeOK, nil)
	case zookeeper.OpSetWatches:
		var req zookeeper.SetWatches
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return false
		}
		s.restoreWatches(sess.id, &req)
		reply(zookeeper.CodeOK, nil)
	case zookeeper.OpMulti:
		ops, err := decodeMulti(body)
		if err != nil {
			reply(zookeeper.CodeMarshallingError, nil)
			return true
		}
		raw := s.multi(sess.id, ops)
		reply(zookeeper.CodeOK, raw)
	default:
		payload, err := s.apply(sess.id, hdr.OpCode, body)
		if err != nil {
			code, ok := zookeeper.CodeOf(err)
			if !ok {
				code = zookeeper.CodeMarshallingError
			}
			reply(code, nil)
			return true
		}
		reply(zookeeper.CodeOK, payload)
	}
	return true
}

// apply runs a single read or write and returns its response record.
func (s *Server) apply(sessionID int64, op zookeeper.OpCode, body []byte) (any, error) {
	switch op {
	case zookeeper.OpCreate:
		var req zookeeper.CreateRequest
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return nil, err
		}
		return s.write(sessionID, func(x *Txn) (any, error) {
			created, err := x.Create(&req)
			return &zookeeper.CreateResponse{Path: created}, err
		})
	case zookeeper.OpDelete:
		var req zookeeper.DeleteRequest
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return nil, err
		}
		return s.write(sessionID, func(x *Txn) (any, error) {
			return nil, x.Delete(&req)
		})
	case zookeeper.OpSetData:
		var req zookeeper.SetDataRequest
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return nil, err
		}
		return s.write(sessionID, func(x *Txn) (any, error) {
			stat, err := x.SetData(&req)
			return &zookeeper.SetDataResponse{Stat: stat}, err
		})
	case zookeeper.OpSetACL:
		var req zookeeper.SetACLRequest
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return nil, err
		}
		return s.write(sessionID, func(x *Txn) (any, error) {
			stat, err := x.SetACL(&req)
			return &zookeeper.SetACLResponse{Stat: stat}, err
		})
	case zookeeper.OpExists:
		var req zookeeper.ExistsRequest
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return nil, err
		}
		stat, err := s.tree.Stat(req.Path)
		if req.Watch {
			// A watch on a missing node waits for its creation.
			kind := watch.KindData
			if err != nil {
				kind = watch.KindExist
			}
			s.addWatch(kind, req.Path, sessionID)
		}
		return &zookeeper.ExistsResponse{Stat: stat}, err
	case zookeeper.OpGetData:
		var req zookeeper.GetDataRequest
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return nil, err
		}
		data, stat, err := s.tree.Get(req.Path)
		if err == nil && req.Watch {
			s.addWatch(watch.KindData, req.Path, sessionID)
		}
		return &zookeeper.GetDataResponse{Data: data, Stat: stat}, err
	case zookeeper.OpGetACL:
		var req zookeeper.GetACLRequest
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return nil, err
		}
		acl, stat, err := s.tree.ACL(req.Path)
		return &zookeeper.GetACLResponse{ACL: acl, Stat: stat}, err
	case zookeeper.OpGetChildren, zookeeper.OpGetChildren2:
		var req zookeeper.GetChildren2Request
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return nil, err
		}
		children, stat, err := s.tree.Children(req.Path)
		if err == nil && req.Watch {
			s.addWatch(watch.KindChild, req.Path, sessionID)
		}
		if op == zookeeper.OpGetChildren {
			return &zookeeper.GetChildrenResponse{Children: children}, err
		}
		return &zookeeper.GetChildren2Response{Children: children, Stat: stat}, err
	case zookeeper.OpSync:
		var req zookeeper.SyncRequest
		if err := jute.Unmarshal(body, &req, ""); err != nil {
			return nil, err
		}
		return &zookeeper.SyncResponse{Path: req.Path}, nil
	default:
		return nil, zookeeper.ErrorFromCode(zookeeper.CodeUnimplemented, "")
	}
}

// write runs fn in its own transaction and fires the watches it triggers.
func (s *Server) write(sessionID int64, fn func(*Txn) (any, error)) (any, error) {
	x := s.tree.Begin(sessionID)
	resp, err := fn(x)
	if err != nil {
		x.Rollback()
		return nil, err
	}
	s.fire(x.Commit())
	return resp, nil
}

// restoreWatches re-registers the watches a client had before reconnecting
// and fires the ones whose node changed after relativeZxid.
func (s *Server) restoreWatches(sessionID int64, req *zookeeper.SetWatches) {
	var missed []Change
	for _, p := range req.DataWatches {
		stat, err := s.tree.Stat(p)
		switch {
		case err != nil:
			missed = append(missed, Change{Type: zookeeper.EventNodeDeleted, Path: p})
		case stat.Mzxid > req.RelativeZxid:
			missed = append(missed, Change{Type: zookeeper.EventNodeDataChanged, Path: p})
		}
		s.addWatch(watch.KindData, p, sessionID)
	}
	for _, p := range req.ExistWatches {
		if _, err := s.tree.Stat(p); err == nil {
			missed = append(missed, Change{Type: zookeeper.EventNodeCreated, Path: p})
		}
		s.addWatch(watch.KindExist, p, sessionID)
	}
	for _, p := range req.ChildWatches {
		stat, err := s.tree.Stat(p)
		switch {
		case err != nil:
			missed = append(missed, Change{Type: zookeeper.EventNodeDeleted, Path: p})
		case stat.Pzxid > req.RelativeZxid:
			missed = append(missed, Change{Type: zookeeper.EventNodeChildrenChanged, Path: p})
		}
		s.addWatch(watch.KindChild, p, sessionID)
	}
	if len(missed) > 0 {
		s.log.Debug().Int64("session", sessionID).Int("events", len(missed)).Msg("firing watches missed while disconnected")
	}
	s.fire(missed)
}

type multiOp struct {
	op  zookeeper.OpCode
	rec any
}

func decodeMulti(body []byte) ([]multiOp, error) {
	var ops []multiOp
	off := 0
	for {
		var header zookeeper.MultiHeader
		n, err := jute.Read(body, off, &header, "")
		if err != nil {
			return nil, err
		}
		off += n
		if header.Done {
			return ops, nil
		}
		var rec any
		switch header.Type {
		case zookeeper.OpCreate:
			rec = &zookeeper.CreateRequest{}
		case zookeeper.OpDelete:
			rec = &zookeeper.DeleteRequest{}
		case zookeeper.OpSetData:
			rec = &zookeeper.SetDataRequest{}
		case zookeeper.OpCheck:
			rec = &zookeeper.CheckVersionRequest{}
		default:
			return nil, fmt.Errorf("zktest: %s in multi request", header.Type)
		}
		n, err = jute.Read(body, off, rec, "")
		if err != nil {
			return nil, err
		}
		off += n
		ops = append(ops, multiOp{op: header.Type, rec: rec})
	}
}

// multi applies ops atomically and returns the encoded result list. When an
// op fails, the ops before it report OK, the failed op its own code and the
// ones after it RUNTIME_INCONSISTENCY.
func (s *Server) multi(sessionID int64, ops []multiOp) []byte {
	x := s.tree.Begin(sessionID)
	recs := make([]any, 0, 2*len(ops)+1)
	failed := -1
	var failure zookeeper.Code
	for i, op := range ops {
		var resp any
		var err error
		switch req := op.rec.(type) {
		case *zookeeper.CreateRequest:
			var created string
			created, err = x.Create(req)
			resp = &zookeeper.CreateResponse{Path: created}
		case *zookeeper.DeleteRequest:
			err = x.Delete(req)
		case *zookeeper.SetDataRequest:
			var stat zookeeper.Stat
			stat, err = x.SetData(req)
			resp = &zookeeper.SetDataResponse{Stat: stat}
		case *zookeeper.CheckVersionRequest:
			err = x.Check(req)
		}
		if err != nil {
			failed = i
			failure, _ = zookeeper.CodeOf(err)
			break
		}
		recs = append(recs, &zookeeper.MultiHeader{Type: op.op, Err: zookeeper.CodeOK})
		if resp != nil {
			recs = append(recs, resp)
		}
	}

	if failed >= 0 {
		x.Rollback()
		recs = recs[:0]
		for i := range ops {
			code := zookeeper.CodeOK
			switch {
			case i == failed:
				code = failure
			case i > failed:
				code = zookeeper.CodeRuntimeInconsistency
			}
			recs = append(recs,
				&zookeeper.MultiHeader{Type: zookeeper.OpError, Err: code},
				&zookeeper.ErrorResponse{Err: code},
			)
		}
	} else {
		s.fire(x.Commit())
	}
	recs = append(recs, &zookeeper.MultiHeader{Type: zookeeper.OpError, Done: true, Err: -1})

	var out []byte
	for _, rec := range recs {
		b, err := jute.Marshal(rec, "")
		if err != nil {
			panic(fmt.Sprintf("zktest: encoding %T: %v", rec, err))
		}
		out = append(out, b...)
	}
	return out
}
