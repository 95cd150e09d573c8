// Package conn runs the session with a ZooKeeper ensemble: server selection,
// the connect handshake, request/response correlation, keep-alive, watch
// notification and reconnection.
//
// A Manager is an actor. One goroutine owns every piece of mutable state and
// runs closures posted to its mailbox; socket goroutines, timers and public
// methods only post.
package conn

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mikekulinski/zkclient/pkg/ensemble"
	"github.com/mikekulinski/zkclient/pkg/jute"
	"github.com/mikekulinski/zkclient/pkg/metrics"
	"github.com/mikekulinski/zkclient/pkg/session"
	"github.com/mikekulinski/zkclient/pkg/watch"
	"github.com/mikekulinski/zkclient/pkg/zookeeper"
	"github.com/mikekulinski/zkclient/pkg/zxid"
)

var (
	ErrAlreadyStarted = errors.New("conn: manager already started")
	ErrNilRequest     = errors.New("conn: request has no header")

	errConnectTimeout = errors.New("conn: connect timed out")
	errReadTimeout    = errors.New("conn: no data from server within read timeout")
	errSessionClosed  = errors.New("conn: session closed")
)

// Callback receives the outcome of a submitted request. It is called exactly
// once, on the manager's loop, and must not block or call Close.
type Callback func(*zookeeper.Response, error)

// Watch is a watcher to leave behind once a read request completes.
type Watch struct {
	Path    string
	Kind    watch.Kind
	Watcher watch.Watcher
	// OnNoNode also registers the watch, as a watch.KindExist, when the read
	// fails with NO_NODE. EXISTS sets this; the server watches for creation.
	OnNoNode bool
}

type credential struct {
	scheme string
	auth   []byte
}

type packet struct {
	req      *zookeeper.Request
	cb       Callback
	watch    *Watch
	reserved bool
	start    time.Time
}

type Manager struct {
	opts    *options
	log     zerolog.Logger
	metrics *metrics.Collector
	chroot  string

	mailbox   *mailbox
	notifier  *mailbox
	startOnce sync.Once
	started   atomic.Bool
	stopped   chan struct{}

	state         atomic.Int32
	terminated    chan struct{}
	terminateOnce sync.Once

	infoMu   sync.RWMutex
	info     session.Session
	zxidSeen atomic.Int64

	// Owned by the loop.
	ctx         context.Context
	cancel      context.CancelFunc
	current     State
	sess        session.Session
	lastZxid    zxid.ZXID
	xid         int32
	hosts       *hostProvider
	generation  uint64
	transport   *transport
	frames      *frameBuffer
	handshaking bool
	blocked     bool
	closeSent   bool
	outbound    []*packet
	pending     []*packet
	registry    *watch.Registry
	credentials []credential

	pingInterval time.Duration
	readTimeout  time.Duration
	lastRead     time.Time
	pingTimer    *time.Timer
	readTimer    *time.Timer
	connectTimer *time.Timer
	retryTimer   *time.Timer
}

// New returns a manager for servers, in the order they should be tried.
// chroot must already be validated; "" means none.
func New(servers []ensemble.Server, chroot string, opts ...Option) (*Manager, error) {
	if len(servers) == 0 {
		return nil, ensemble.ErrNoServers
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.sessionTimeout <= 0 {
		return nil, fmt.Errorf("conn: session timeout must be positive, got %s", o.sessionTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:       o,
		log:        o.logger.With().Str("component", "conn").Logger(),
		metrics:    o.metrics,
		chroot:     chroot,
		mailbox:    newMailbox(),
		notifier:   newMailbox(),
		stopped:    make(chan struct{}),
		terminated: make(chan struct{}),
		info:       o.session,
		ctx:        ctx,
		cancel:     cancel,
		current:    StateDisconnected,
		sess:       o.session,
		lastZxid:   o.lastZxid,
		hosts:      newHostProvider(slices.Clone(servers), o.spinDelay, o.rng),
		registry:   watch.NewRegistry(),
	}
	m.state.Store(int32(StateDisconnected))
	m.zxidSeen.Store(int64(o.lastZxid))
	m.metrics.SetState(int(StateDisconnected))
	return m, nil
}

// Connect starts the manager. It returns immediately; progress is reported
// through the state listener.
func (m *Manager) Connect() error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	m.startLoops()
	if !m.mailbox.post(m.connectNext) {
		return m.State().Err()
	}
	return nil
}

func (m *Manager) startLoops() {
	m.startOnce.Do(func() {
		go func() {
			defer close(m.stopped)
			m.mailbox.run()
		}()
		go m.notifier.run()
	})
}

// Submit queues req. cb is called with the decoded response or the error.
// Requests submitted while disconnected wait for the next connection.
func (m *Manager) Submit(req *zookeeper.Request, cb Callback) {
	m.submit(&packet{req: req, cb: cb})
}

// Do submits req and waits for its outcome or for ctx to be done. A request
// abandoned by ctx may still be executed by the server.
func (m *Manager) Do(ctx context.Context, req *zookeeper.Request) (*zookeeper.Response, error) {
	return m.do(ctx, &packet{req: req})
}

// DoWatch is Do for a read that leaves w behind. The watcher is registered
// on the loop before the response is handed back, so a notification that
// follows the response on the wire always finds it.
func (m *Manager) DoWatch(ctx context.Context, req *zookeeper.Request, w Watch) (*zookeeper.Response, error) {
	if w.Watcher == nil {
		return nil, watch.ErrNilWatcher
	}
	return m.do(ctx, &packet{req: req, watch: &w})
}

type result struct {
	resp *zookeeper.Response
	err  error
}

func (m *Manager) do(ctx context.Context, p *packet) (*zookeeper.Response, error) {
	ch := make(chan result, 1)
	p.cb = func(resp *zookeeper.Response, err error) {
		ch <- result{resp: resp, err: err}
	}
	m.submit(p)
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) submit(p *packet) {
	if p.req == nil || p.req.Header == nil {
		p.reject(ErrNilRequest)
		return
	}
	if s := m.State(); s.IsTerminal() {
		p.reject(s.Err())
		return
	}
	p.start = time.Now()
	if !m.mailbox.post(func() { m.enqueue(p) }) {
		p.reject(m.State().Err())
	}
}

func (p *packet) reject(err error) {
	if p.cb != nil {
		p.cb(nil, err)
	}
}

// RegisterWatcher adds w for the next event of kind on path without sending
// a request. The watch only fires if the server has one set for this session.
func (m *Manager) RegisterWatcher(path string, kind watch.Kind, w watch.Watcher) error {
	if w == nil {
		return watch.ErrNilWatcher
	}
	if !m.mailbox.post(func() {
		if _, err := m.registry.Register(path, kind, w); err != nil {
			m.log.Warn().Err(err).Str("path", path).Msg("dropping watcher registration")
		}
	}) {
		return m.State().Err()
	}
	return nil
}

// AddCredential stores an auth credential. It is sent right away when
// connected and replayed after every reconnect.
func (m *Manager) AddCredential(scheme string, auth []byte) error {
	c := credential{scheme: scheme, auth: bytes.Clone(auth)}
	if !m.mailbox.post(func() {
		if slices.ContainsFunc(m.credentials, func(o credential) bool {
			return o.scheme == c.scheme && bytes.Equal(o.auth, c.auth)
		}) {
			return
		}
		m.credentials = append(m.credentials, c)
		if m.current.IsConnected() && !m.handshaking {
			m.outbound = append(m.outbound, authPacket(c))
			m.drain()
		}
	}) {
		return m.State().Err()
	}
	return nil
}

// Close ends the session. When connected it sends CLOSE_SESSION and waits
// for the server to acknowledge it; if ctx is done first the socket is
// dropped. Close must not be called from a Callback or a Watcher.
func (m *Manager) Close(ctx context.Context) error {
	return m.shutdown(ctx, m.beginClose)
}

// Detach stops the manager without ending the session. The server keeps the
// session and its ephemeral nodes until the session times out, so another
// process can pick it up with WithSession.
func (m *Manager) Detach() {
	_ = m.shutdown(context.Background(), m.finishClose)
}

func (m *Manager) shutdown(ctx context.Context, begin func()) error {
	m.startLoops()
	m.mailbox.post(begin)

	var err error
	select {
	case <-m.terminated:
	case <-ctx.Done():
		err = ctx.Err()
		m.mailbox.post(m.finishClose)
		<-m.terminated
	}
	m.mailbox.close()
	<-m.stopped
	m.notifier.close()
	return err
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// Session returns the session as of the last handshake, or the one the
// manager was configured to resume.
func (m *Manager) Session() session.Session {
	m.infoMu.RLock()
	defer m.infoMu.RUnlock()
	return m.info
}

func (m *Manager) SessionID() int64 {
	return m.Session().ID
}

func (m *Manager) SessionPassword() []byte {
	return bytes.Clone(m.Session().Password)
}

func (m *Manager) SessionTimeout() time.Duration {
	return m.Session().Timeout
}

func (m *Manager) LastZxid() zxid.ZXID {
	return zxid.ZXID(m.zxidSeen.Load())
}

// Everything below runs on the loop.

func (m *Manager) setState(s State) {
	if m.current == s {
		return
	}
	prev := m.current
	m.current = s
	m.state.Store(int32(s))
	m.metrics.SetState(int(s))
	m.log.Info().Stringer("from", prev).Stringer("to", s).Msg("connection state changed")
	if m.opts.onState != nil {
		m.opts.onState(s)
	}
	if s.IsTerminal() {
		m.terminateOnce.Do(func() { close(m.terminated) })
	}
}

func (m *Manager) enqueue(p *packet) {
	switch {
	case m.current.IsTerminal():
		m.complete(p, nil, m.current.Err())
	case m.current == StateClosing:
		m.complete(p, nil, zookeeper.ErrConnectionLoss)
	default:
		m.outbound = append(m.outbound, p)
		m.drain()
	}
}

func (m *Manager) connectTimeout() time.Duration {
	return m.opts.sessionTimeout / time.Duration(len(m.hosts.servers))
}

func (m *Manager) connectNext() {
	if m.current.IsTerminal() || m.current == StateClosing || m.transport != nil {
		return
	}
	server, delay := m.hosts.pick()
	m.generation++
	gen := m.generation
	if delay > 0 {
		m.log.Debug().Dur("delay", delay).Msg("every server tried, backing off")
		m.retryTimer = time.AfterFunc(delay, func() {
			m.mailbox.post(func() { m.dial(gen, server) })
		})
		return
	}
	m.dial(gen, server)
}

func (m *Manager) dial(gen uint64, server ensemble.Server) {
	if gen != m.generation || m.current.IsTerminal() || m.current == StateClosing {
		return
	}
	m.setState(StateConnecting)
	m.log.Debug().Stringer("server", server).Msg("dialing")

	timeout := m.connectTimeout()
	m.stopTimer(&m.connectTimer)
	m.connectTimer = time.AfterFunc(timeout, func() {
		m.mailbox.post(func() { m.onConnectTimeout(gen) })
	})

	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	go func() {
		defer cancel()
		conn, err := m.opts.dialer.DialContext(ctx, "tcp", server.String())
		if !m.mailbox.post(func() { m.onDialed(gen, server, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) onDialed(gen uint64, server ensemble.Server, conn net.Conn, err error) {
	if gen != m.generation || m.current != StateConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.stopTimer(&m.connectTimer)
		m.log.Warn().Err(err).Stringer("server", server).Msg("failed to connect")
		m.metrics.ConnectAttempt(server.String(), "dial_error")
		m.setState(StateDisconnected)
		m.connectNext()
		return
	}

	t := newTransport(conn, server, m.opts.writeQueueSize)
	m.transport = t
	m.frames = newFrameBuffer(m.opts.maxFrameSize)
	m.handshaking = true
	m.blocked = false
	m.closeSent = false
	t.start(m)

	frame, err := m.connectFrame()
	if err != nil {
		m.abort("bad_handshake", err)
		return
	}
	t.send(frame)
	m.metrics.BytesOut(len(frame))
}

func (m *Manager) connectFrame() ([]byte, error) {
	req := &zookeeper.Request{Payload: &zookeeper.ConnectRequest{
		ProtocolVersion: zookeeper.ProtocolVersion,
		LastZxidSeen:    m.lastZxid,
		TimeOut:         int32(m.opts.sessionTimeout.Milliseconds()),
		SessionID:       m.sess.ID,
		Passwd:          m.sess.PasswordOrZero(),
	}}
	frame, err := req.Marshal("")
	if err != nil || !m.opts.canBeReadOnly {
		return frame, err
	}
	frame = append(frame, 1)
	binary.BigEndian.PutUint32(frame, uint32(len(frame)-4))
	return frame, nil
}

func (m *Manager) onConnectTimeout(gen uint64) {
	if gen != m.generation || m.current != StateConnecting || m.transport == nil {
		return
	}
	m.log.Warn().Stringer("server", m.transport.server).Msg("handshake timed out")
	m.metrics.ConnectAttempt(m.transport.server.String(), "timeout")
	m.teardown(errConnectTimeout)
}

// Transport events arrive on the socket goroutines and are moved onto the
// loop. Events from a transport that is no longer current are ignored.

func (m *Manager) onData(t *transport, data []byte) {
	m.mailbox.post(func() { m.handleData(t, data) })
}

func (m *Manager) onClosed(t *transport, err error) {
	m.mailbox.post(func() { m.handleClosed(t, err) })
}

func (m *Manager) onDrained(t *transport) {
	m.mailbox.post(func() {
		if t != m.transport {
			return
		}
		m.blocked = false
		m.drain()
	})
}

func (m *Manager) handleData(t *transport, data []byte) {
	if t != m.transport {
		return
	}
	m.metrics.BytesIn(len(data))
	m.frames.append(data)
	m.lastRead = time.Now()
	if m.pingTimer != nil {
		m.pingTimer.Reset(m.pingInterval)
	}
	if m.readTimer != nil {
		m.readTimer.Reset(m.readTimeout)
	}

	for m.transport == t {
		frame, err := m.frames.next()
		if err != nil {
			m.abort("malformed_frame", err)
			return
		}
		if frame == nil {
			return
		}
		if m.handshaking {
			m.handleConnectResponse(frame)
		} else {
			m.handleFrame(frame)
		}
	}
}

func (m *Manager) handleConnectResponse(frame []byte) {
	m.stopTimer(&m.connectTimer)
	server := m.transport.server

	var resp zookeeper.ConnectResponse
	n, err := jute.Read(frame, 0, &resp, "")
	if err != nil {
		m.abort("bad_handshake", err)
		return
	}
	readOnly := n < len(frame) && frame[n] != 0

	timeout := time.Duration(resp.TimeOut) * time.Millisecond
	renewed, ok := m.sess.Renew(resp.SessionID, resp.Passwd, timeout)
	if !ok {
		m.log.Warn().Stringer("session", m.sess).Stringer("server", server).Msg("session expired")
		m.metrics.ConnectAttempt(server.String(), "expired")
		m.expire()
		return
	}

	m.handshaking = false
	m.hosts.connected()
	m.sess = renewed
	m.infoMu.Lock()
	m.info = renewed
	m.infoMu.Unlock()
	m.pingInterval = timeout / 3
	m.readTimeout = timeout * 2 / 3
	m.metrics.ConnectAttempt(server.String(), "ok")
	m.log.Info().
		Stringer("server", server).
		Stringer("session", renewed).
		Dur("timeout", timeout).
		Bool("read_only", readOnly).
		Msg("session established")

	m.prependReplay()
	if readOnly {
		m.setState(StateConnectedReadOnly)
	} else {
		m.setState(StateConnected)
	}
	m.armTimers()
	m.drain()
}

// prependReplay puts the credentials and the live watches in front of
// everything queued while disconnected.
func (m *Manager) prependReplay() {
	var replay []*packet
	for _, c := range m.credentials {
		replay = append(replay, authPacket(c))
	}
	if !m.registry.IsEmpty() {
		replay = append(replay, &packet{
			reserved: true,
			req: &zookeeper.Request{
				Header: &zookeeper.RequestHeader{Xid: zookeeper.XidSetWatches, OpCode: zookeeper.OpSetWatches},
				Payload: &zookeeper.SetWatches{
					RelativeZxid: m.lastZxid,
					DataWatches:  m.registry.PendingPaths(watch.KindData),
					ExistWatches: m.registry.PendingPaths(watch.KindExist),
					ChildWatches: m.registry.PendingPaths(watch.KindChild),
				},
			},
		})
	}
	if len(replay) > 0 {
		m.outbound = append(replay, m.outbound...)
	}
}

func authPacket(c credential) *packet {
	return &packet{
		reserved: true,
		req: &zookeeper.Request{
			Header:  &zookeeper.RequestHeader{Xid: zookeeper.XidAuth, OpCode: zookeeper.OpAuth},
			Payload: &zookeeper.AuthPacket{Scheme: c.scheme, Auth: c.auth},
		},
	}
}

func pingPacket() *packet {
	return &packet{
		reserved: true,
		req: &zookeeper.Request{
			Header: &zookeeper.RequestHeader{Xid: zookeeper.XidPing, OpCode: zookeeper.OpPing},
		},
	}
}

func (m *Manager) handleFrame(frame []byte) {
	var hdr zookeeper.ReplyHeader
	n, err := jute.Read(frame, 0, &hdr, "")
	if err != nil {
		m.abort("bad_header", err)
		return
	}

	switch hdr.Xid {
	case zookeeper.XidPing:
		return
	case zookeeper.XidAuth:
		if hdr.Err == zookeeper.CodeAuthFailed {
			m.authFailed()
		} else if hdr.Err != zookeeper.CodeOK {
			m.log.Warn().Stringer("code", hdr.Err).Msg("auth packet rejected")
		}
		return
	case zookeeper.XidSetWatches:
		if hdr.Err != zookeeper.CodeOK {
			m.log.Warn().Stringer("code", hdr.Err).Msg("failed to restore watches")
		}
		return
	case zookeeper.XidNotification:
		m.handleNotification(frame[n:])
		return
	}

	if len(m.pending) == 0 {
		m.abort("unexpected_response", fmt.Errorf("%w: xid %d", zookeeper.ErrUnexpectedResponse, hdr.Xid))
		return
	}
	p := m.pending[0]
	if p.req.Header.Xid != hdr.Xid {
		m.abort("xid_mismatch", fmt.Errorf("%w: got %d, want %d", zookeeper.ErrXidMismatch, hdr.Xid, p.req.Header.Xid))
		return
	}
	if hdr.Zxid > 0 {
		m.lastZxid = m.lastZxid.Advance(hdr.Zxid)
		m.zxidSeen.Store(int64(m.lastZxid))
	}

	resp := &zookeeper.Response{Header: hdr}
	var reqErr error
	if hdr.Err == zookeeper.CodeOK {
		payload, err := zookeeper.NewResponsePayload(p.req.OpCode())
		if err != nil {
			m.abort("unknown_op", err)
			return
		}
		if payload != nil {
			if _, err := jute.Read(frame, n, payload, m.chroot); err != nil {
				m.abort("bad_payload", fmt.Errorf("decoding %s response: %w", p.req.OpCode(), err))
				return
			}
		}
		resp.Payload = payload
	} else {
		reqErr = zookeeper.ErrorFromCode(hdr.Err, p.req.Path())
	}

	m.pending = m.pending[1:]
	m.metrics.SetPending(len(m.pending))
	if reqErr != nil {
		m.complete(p, nil, reqErr)
	} else {
		m.complete(p, resp, nil)
	}

	if p.req.OpCode() == zookeeper.OpCloseSession {
		m.teardown(errSessionClosed)
	}
}

func (m *Manager) handleNotification(body []byte) {
	var we zookeeper.WatcherEvent
	if err := jute.Unmarshal(body, &we, m.chroot); err != nil {
		m.abort("bad_notification", err)
		return
	}
	ev := zookeeper.Event{Type: we.Type, State: we.State, Path: we.Path}
	watchers, err := m.registry.Dispatch(ev)
	if err != nil {
		m.abort("unknown_event", err)
		return
	}
	m.metrics.WatchEvent(ev.Type.String())
	m.log.Debug().Stringer("event", ev).Int("watchers", len(watchers)).Msg("watch fired")
	m.notify(watchers, ev)
}

// notify hands the event to each watcher on the notifier goroutine, in order.
func (m *Manager) notify(watchers []watch.Watcher, ev zookeeper.Event) {
	for _, w := range watchers {
		m.notifier.post(func() { w.Process(ev) })
	}
}

func (m *Manager) complete(p *packet, resp *zookeeper.Response, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if code, ok := zookeeper.CodeOf(err); ok {
			outcome = code.String()
		}
	}
	m.metrics.ObserveRequest(p.req.OpCode().String(), outcome, time.Since(p.start))

	if w := p.watch; w != nil && (err == nil || (w.OnNoNode && errors.Is(err, zookeeper.ErrNoNode))) {
		kind := w.Kind
		if err != nil {
			kind = watch.KindExist
		}
		if _, werr := m.registry.Register(w.Path, kind, w.Watcher); werr != nil {
			m.log.Warn().Err(werr).Str("path", w.Path).Msg("dropping watcher registration")
		}
	}
	if p.cb != nil {
		p.cb(resp, err)
	}
}

// drain moves packets from outbound to the writer until the writer's queue
// is full. A packet's xid is only committed once the writer has taken it.
func (m *Manager) drain() {
	t := m.transport
	if t == nil || m.handshaking || m.blocked || m.closeSent {
		return
	}
	if !m.current.IsConnected() && m.current != StateClosing {
		return
	}

	for len(m.outbound) > 0 {
		p := m.outbound[0]
		xid := p.req.Header.Xid
		if !p.reserved {
			xid = m.nextXid()
			p.req.Header.Xid = xid
		}
		frame, err := p.req.Marshal(m.chroot)
		if err != nil {
			m.outbound = m.outbound[1:]
			m.complete(p, nil, fmt.Errorf("encoding %s request: %w", p.req.OpCode(), err))
			continue
		}
		if !t.send(frame) {
			t.wantDrain.Store(true)
			if !t.send(frame) {
				m.blocked = true
				return
			}
		}

		m.outbound = m.outbound[1:]
		m.metrics.BytesOut(len(frame))
		if !p.reserved {
			m.xid = xid
			m.pending = append(m.pending, p)
			m.metrics.SetPending(len(m.pending))
		}
		if p.req.OpCode() == zookeeper.OpCloseSession {
			m.closeSent = true
			return
		}
	}
}

func (m *Manager) nextXid() int32 {
	if m.xid >= math.MaxInt32 {
		return 1
	}
	return m.xid + 1
}

func (m *Manager) armTimers() {
	t := m.transport
	m.stopTimer(&m.pingTimer)
	m.stopTimer(&m.readTimer)
	m.lastRead = time.Now()
	m.pingTimer = time.AfterFunc(m.pingInterval, func() {
		m.mailbox.post(func() { m.onPingTimer(t) })
	})
	m.readTimer = time.AfterFunc(m.readTimeout, func() {
		m.mailbox.post(func() { m.onReadTimeout(t) })
	})
}

func (m *Manager) onPingTimer(t *transport) {
	if t != m.transport || !m.current.IsConnected() {
		return
	}
	m.outbound = append(m.outbound, pingPacket())
	m.drain()
	m.pingTimer.Reset(m.pingInterval)
}

func (m *Manager) onReadTimeout(t *transport) {
	if t != m.transport || m.handshaking {
		return
	}
	// The timer may have fired just before a read re-armed it.
	if idle := time.Since(m.lastRead); idle < m.readTimeout {
		m.readTimer.Reset(m.readTimeout - idle)
		return
	}
	m.log.Warn().Stringer("server", t.server).Dur("timeout", m.readTimeout).Msg("server went quiet, dropping connection")
	m.teardown(errReadTimeout)
}

func (m *Manager) stopTimer(tp **time.Timer) {
	if *tp != nil {
		(*tp).Stop()
		*tp = nil
	}
}

func (m *Manager) stopTimers() {
	m.stopTimer(&m.pingTimer)
	m.stopTimer(&m.readTimer)
	m.stopTimer(&m.connectTimer)
	m.stopTimer(&m.retryTimer)
}

// abort tears the socket down after a protocol violation.
func (m *Manager) abort(reason string, err error) {
	ev := m.log.Error().Err(err).Str("reason", reason)
	if m.transport != nil {
		ev = ev.Stringer("server", m.transport.server)
	}
	ev.Msg("protocol violation, dropping connection")
	m.metrics.ProtocolError(reason)
	m.teardown(err)
}

// teardown closes the current transport and handles the close right away,
// so nothing else is read from it.
func (m *Manager) teardown(err error) {
	t := m.transport
	if t == nil {
		return
	}
	t.close()
	m.handleClosed(t, err)
}

func (m *Manager) detachTransport() {
	if t := m.transport; t != nil {
		t.close()
	}
	m.transport = nil
	m.frames = nil
	m.handshaking = false
	m.blocked = false
	m.stopTimer(&m.pingTimer)
	m.stopTimer(&m.readTimer)
	m.stopTimer(&m.connectTimer)
}

func (m *Manager) handleClosed(t *transport, err error) {
	if t != m.transport {
		return
	}
	m.detachTransport()

	switch {
	case m.current == StateClosing:
		m.finishClose()
	case m.current.IsTerminal():
		m.failAll(m.current.Err())
	default:
		m.log.Info().Err(err).Stringer("server", t.server).Msg("connection lost")
		m.failPending(zookeeper.ErrConnectionLoss)
		m.outbound = slices.DeleteFunc(m.outbound, func(p *packet) bool { return p.reserved })
		m.setState(StateDisconnected)
		m.connectNext()
	}
}

func (m *Manager) failPending(err error) {
	pending := m.pending
	m.pending = nil
	m.metrics.SetPending(0)
	for _, p := range pending {
		m.complete(p, nil, err)
	}
}

func (m *Manager) failAll(err error) {
	m.failPending(err)
	outbound := m.outbound
	m.outbound = nil
	for _, p := range outbound {
		m.complete(p, nil, err)
	}
}

// expire ends the session for good. Every watcher hears about it once.
func (m *Manager) expire() {
	m.setState(StateSessionExpired)
	m.detachTransport()
	m.stopTimers()
	m.failAll(zookeeper.ErrSessionExpired)
	m.notify(m.registry.Clear(), zookeeper.Event{Type: zookeeper.EventNone, State: zookeeper.StateExpired})
}

func (m *Manager) authFailed() {
	m.log.Error().Msg("authentication failed")
	m.setState(StateAuthFailed)
	m.detachTransport()
	m.stopTimers()
	m.failAll(zookeeper.ErrAuthFailed)
}

func (m *Manager) beginClose() {
	switch {
	case m.current.IsTerminal(), m.current == StateClosing:
		return
	case m.current.IsConnected():
		m.setState(StateClosing)
		m.outbound = append(m.outbound, &packet{
			req:   zookeeper.NewRequest(zookeeper.OpCloseSession, nil),
			start: time.Now(),
		})
		m.drain()
	default:
		m.finishClose()
	}
}

// finishClose drops whatever is left and enters CLOSED.
func (m *Manager) finishClose() {
	if m.current.IsTerminal() {
		return
	}
	m.generation++
	m.cancel()
	m.detachTransport()
	m.stopTimers()
	m.failAll(zookeeper.ErrConnectionLoss)
	m.setState(StateClosed)
}
