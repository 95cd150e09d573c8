// Package client is the synchronous znode API on top of the connection
// manager. Each call builds a request record, waits for its response and
// translates server error codes into Go errors.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mikekulinski/zkclient/pkg/conn"
	"github.com/mikekulinski/zkclient/pkg/ensemble"
	"github.com/mikekulinski/zkclient/pkg/metrics"
	"github.com/mikekulinski/zkclient/pkg/session"
	"github.com/mikekulinski/zkclient/pkg/txn"
	"github.com/mikekulinski/zkclient/pkg/watch"
	"github.com/mikekulinski/zkclient/pkg/zookeeper"
	"github.com/mikekulinski/zkclient/pkg/zxid"
)

// MaxDataSize is the largest payload the server accepts by default.
const MaxDataSize = 1 << 20

const tracerName = "github.com/mikekulinski/zkclient"

var ErrDataTooLarge = errors.New("client: data exceeds 1 MiB")

var _ zookeeper.Zookeeper = (*Client)(nil)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger      zerolog.Logger
	tracer      trace.Tracer
	eventBuffer int
	connOpts    []conn.Option
}

func WithSessionTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connOpts = append(o.connOpts, conn.WithSessionTimeout(d))
	}
}

func WithSpinDelay(d time.Duration) Option {
	return func(o *options) {
		o.connOpts = append(o.connOpts, conn.WithSpinDelay(d))
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.connOpts = append(o.connOpts, conn.WithMetrics(c))
	}
}

// WithTracer sets the tracer spans are started on. The default is the global
// provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithSession resumes an existing session instead of creating a new one.
func WithSession(id int64, password []byte, lastZxid zxid.ZXID) Option {
	return func(o *options) {
		o.connOpts = append(o.connOpts, conn.WithSession(id, password), conn.WithLastZxid(lastZxid))
	}
}

func WithDialer(d conn.Dialer) Option {
	return func(o *options) {
		o.connOpts = append(o.connOpts, conn.WithDialer(d))
	}
}

func WithCanBeReadOnly(ok bool) Option {
	return func(o *options) {
		o.connOpts = append(o.connOpts, conn.WithCanBeReadOnly(ok))
	}
}

// WithEventBuffer sets how many connectivity events Events holds before new
// ones are dropped.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		o.eventBuffer = n
	}
}

type Client struct {
	clientID string
	log      zerolog.Logger
	tracer   trace.Tracer
	mgr      *conn.Manager
	events   chan zookeeper.Event
}

// New connects to the ensemble in connectString, e.g.
// "zk1:2181,zk2:2181/app". It returns before the first session is
// established; requests made in the meantime wait for it.
func New(connectString string, opts ...Option) (*Client, error) {
	e, err := ensemble.Parse(connectString)
	if err != nil {
		return nil, err
	}
	o := &options{
		logger:      zerolog.Nop(),
		eventBuffer: 16,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	clientID := uuid.New().String()
	c := &Client{
		clientID: clientID,
		log:      o.logger.With().Str("client_id", clientID).Logger(),
		tracer:   o.tracer,
		events:   make(chan zookeeper.Event, o.eventBuffer),
	}
	connOpts := append([]conn.Option{
		conn.WithLogger(c.log),
		conn.WithStateListener(c.onState),
	}, o.connOpts...)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	c.mgr, err = conn.New(ensemble.Shuffle(e.Servers, rng), e.Chroot, connOpts...)
	if err != nil {
		return nil, err
	}
	if err := c.mgr.Connect(); err != nil {
		return nil, fmt.Errorf("error connecting to Zookeeper: %w", err)
	}
	return c, nil
}

// onState runs on the manager's loop and must not block.
func (c *Client) onState(s conn.State) {
	ks, ok := s.KeeperState()
	if !ok {
		return
	}
	select {
	case c.events <- zookeeper.Event{Type: zookeeper.EventNone, State: ks}:
	default:
		c.log.Warn().Stringer("state", ks).Msg("event buffer full, dropping connectivity event")
	}
}

// Events delivers connectivity changes. It is never closed.
func (c *Client) Events() <-chan zookeeper.Event {
	return c.events
}

func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) State() conn.State {
	return c.mgr.State()
}

func (c *Client) Session() session.Session {
	return c.mgr.Session()
}

func (c *Client) SessionID() int64 {
	return c.mgr.SessionID()
}

func (c *Client) SessionPassword() []byte {
	return c.mgr.SessionPassword()
}

func (c *Client) SessionTimeout() time.Duration {
	return c.mgr.SessionTimeout()
}

func (c *Client) LastZxid() zxid.ZXID {
	return c.mgr.LastZxid()
}

// Close ends the session. Ephemeral nodes created by it are removed by the
// server.
func (c *Client) Close(ctx context.Context) error {
	ctx, span := c.start(ctx, "Close", "")
	err := c.mgr.Close(ctx)
	end(span, err)
	if err != nil {
		return fmt.Errorf("error closing the Zookeeper connection: %w", err)
	}
	return nil
}

// Detach disconnects without ending the session, so it can be resumed
// elsewhere with WithSession before it times out.
func (c *Client) Detach() {
	c.mgr.Detach()
}

func (c *Client) start(ctx context.Context, op, path string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("zk.client_id", c.clientID),
	}
	if path != "" {
		attrs = append(attrs, attribute.String("zk.path", path))
	}
	return c.tracer.Start(ctx, "zk."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// call runs one request with a span around it.
func (c *Client) call(ctx context.Context, op, path string, payload any, w *conn.Watch) (_ any, err error) {
	ctx, span := c.start(ctx, op, path)
	defer func() { end(span, err) }()

	if err := zookeeper.ValidatePath(path); err != nil {
		return nil, err
	}
	req := zookeeper.NewRequest(opCodes[op], payload)
	var resp *zookeeper.Response
	if w != nil {
		resp, err = c.mgr.DoWatch(ctx, req, *w)
	} else {
		resp, err = c.mgr.Do(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

var opCodes = map[string]zookeeper.OpCode{
	"Create":      zookeeper.OpCreate,
	"Delete":      zookeeper.OpDelete,
	"Exists":      zookeeper.OpExists,
	"GetData":     zookeeper.OpGetData,
	"SetData":     zookeeper.OpSetData,
	"GetACL":      zookeeper.OpGetACL,
	"SetACL":      zookeeper.OpSetACL,
	"GetChildren": zookeeper.OpGetChildren2,
	"Sync":        zookeeper.OpSync,
}

func unexpected(payload any) error {
	return fmt.Errorf("%w: %T", zookeeper.ErrUnexpectedResponse, payload)
}

func checkData(data []byte) error {
	if len(data) > MaxDataSize {
		return fmt.Errorf("%w: %d bytes", ErrDataTooLarge, len(data))
	}
	return nil
}

// Create creates a ZNode with path name path, stores data in it, and returns the name of the new ZNode.
// A nil acl means zookeeper.OpenACLUnsafe.
func (c *Client) Create(ctx context.Context, path string, data []byte, acl []zookeeper.ACL, mode zookeeper.CreateMode) (string, error) {
	if err := checkData(data); err != nil {
		return "", err
	}
	if len(acl) == 0 {
		acl = zookeeper.OpenACLUnsafe
	}
	payload, err := c.call(ctx, "Create", path, &zookeeper.CreateRequest{
		Path:  path,
		Data:  data,
		ACL:   acl,
		Flags: mode,
	}, nil)
	if err != nil {
		return "", err
	}
	resp, ok := payload.(*zookeeper.CreateResponse)
	if !ok {
		return "", unexpected(payload)
	}
	return resp.Path, nil
}

// Delete deletes the ZNode at the given path if that ZNode is at the expected version.
func (c *Client) Delete(ctx context.Context, path string, version int32) error {
	_, err := c.call(ctx, "Delete", path, &zookeeper.DeleteRequest{Path: path, Version: version}, nil)
	return err
}

// Exists reports whether the ZNode at path exists. A missing node is not an
// error; the stat is nil then.
func (c *Client) Exists(ctx context.Context, path string) (bool, *zookeeper.Stat, error) {
	return c.exists(ctx, path, nil)
}

// ExistsW is Exists that also leaves a watch behind. The watch fires when the
// node is created, deleted or has its data changed.
func (c *Client) ExistsW(ctx context.Context, path string) (bool, *zookeeper.Stat, <-chan zookeeper.Event, error) {
	ch := watch.NewEventChan(1)
	ok, stat, err := c.exists(ctx, path, &conn.Watch{Path: path, Kind: watch.KindData, Watcher: ch, OnNoNode: true})
	if err != nil {
		return false, nil, nil, err
	}
	return ok, stat, ch, nil
}

func (c *Client) exists(ctx context.Context, path string, w *conn.Watch) (bool, *zookeeper.Stat, error) {
	payload, err := c.call(ctx, "Exists", path, &zookeeper.ExistsRequest{Path: path, Watch: w != nil}, w)
	if errors.Is(err, zookeeper.ErrNoNode) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	resp, ok := payload.(*zookeeper.ExistsResponse)
	if !ok {
		return false, nil, unexpected(payload)
	}
	return true, &resp.Stat, nil
}

// GetData returns the data and metadata, such as version information, associated with the ZNode.
func (c *Client) GetData(ctx context.Context, path string) ([]byte, *zookeeper.Stat, error) {
	return c.getData(ctx, path, nil)
}

// GetDataW is GetData that also leaves a data watch behind. ZooKeeper does
// not set the watch if the node does not exist.
func (c *Client) GetDataW(ctx context.Context, path string) ([]byte, *zookeeper.Stat, <-chan zookeeper.Event, error) {
	ch := watch.NewEventChan(1)
	data, stat, err := c.getData(ctx, path, &conn.Watch{Path: path, Kind: watch.KindData, Watcher: ch})
	if err != nil {
		return nil, nil, nil, err
	}
	return data, stat, ch, nil
}

func (c *Client) getData(ctx context.Context, path string, w *conn.Watch) ([]byte, *zookeeper.Stat, error) {
	payload, err := c.call(ctx, "GetData", path, &zookeeper.GetDataRequest{Path: path, Watch: w != nil}, w)
	if err != nil {
		return nil, nil, err
	}
	resp, ok := payload.(*zookeeper.GetDataResponse)
	if !ok {
		return nil, nil, unexpected(payload)
	}
	return resp.Data, &resp.Stat, nil
}

// SetData writes data to the ZNode path if the version number is the current version of the ZNode.
func (c *Client) SetData(ctx context.Context, path string, data []byte, version int32) (*zookeeper.Stat, error) {
	if err := checkData(data); err != nil {
		return nil, err
	}
	payload, err := c.call(ctx, "SetData", path, &zookeeper.SetDataRequest{Path: path, Data: data, Version: version}, nil)
	if err != nil {
		return nil, err
	}
	resp, ok := payload.(*zookeeper.SetDataResponse)
	if !ok {
		return nil, unexpected(payload)
	}
	return &resp.Stat, nil
}

// GetChildren returns the set of names of the children of a ZNode.
func (c *Client) GetChildren(ctx context.Context, path string) ([]string, *zookeeper.Stat, error) {
	return c.getChildren(ctx, path, nil)
}

// GetChildrenW is GetChildren that also leaves a child watch behind.
func (c *Client) GetChildrenW(ctx context.Context, path string) ([]string, *zookeeper.Stat, <-chan zookeeper.Event, error) {
	ch := watch.NewEventChan(1)
	children, stat, err := c.getChildren(ctx, path, &conn.Watch{Path: path, Kind: watch.KindChild, Watcher: ch})
	if err != nil {
		return nil, nil, nil, err
	}
	return children, stat, ch, nil
}

func (c *Client) getChildren(ctx context.Context, path string, w *conn.Watch) ([]string, *zookeeper.Stat, error) {
	payload, err := c.call(ctx, "GetChildren", path, &zookeeper.GetChildren2Request{Path: path, Watch: w != nil}, w)
	if err != nil {
		return nil, nil, err
	}
	resp, ok := payload.(*zookeeper.GetChildren2Response)
	if !ok {
		return nil, nil, unexpected(payload)
	}
	return resp.Children, &resp.Stat, nil
}

func (c *Client) GetACL(ctx context.Context, path string) ([]zookeeper.ACL, *zookeeper.Stat, error) {
	payload, err := c.call(ctx, "GetACL", path, &zookeeper.GetACLRequest{Path: path}, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, ok := payload.(*zookeeper.GetACLResponse)
	if !ok {
		return nil, nil, unexpected(payload)
	}
	return resp.ACL, &resp.Stat, nil
}

func (c *Client) SetACL(ctx context.Context, path string, acl []zookeeper.ACL, version int32) (*zookeeper.Stat, error) {
	payload, err := c.call(ctx, "SetACL", path, &zookeeper.SetACLRequest{Path: path, ACL: acl, Version: version}, nil)
	if err != nil {
		return nil, err
	}
	resp, ok := payload.(*zookeeper.SetACLResponse)
	if !ok {
		return nil, unexpected(payload)
	}
	return &resp.Stat, nil
}

// Sync waits for all updates pending at the start of the operation to propagate to the server
// that the client is connected to.
func (c *Client) Sync(ctx context.Context, path string) (string, error) {
	payload, err := c.call(ctx, "Sync", path, &zookeeper.SyncRequest{Path: path}, nil)
	if err != nil {
		return "", err
	}
	resp, ok := payload.(*zookeeper.SyncResponse)
	if !ok {
		return "", unexpected(payload)
	}
	return resp.Path, nil
}

// MkdirAll creates path and any missing parents as persistent nodes with
// empty data. Nodes that already exist are left alone.
func (c *Client) MkdirAll(ctx context.Context, path string) error {
	if err := zookeeper.ValidatePath(path); err != nil {
		return err
	}
	if path == "/" {
		return nil
	}
	// Since we have a leading /, then we expect the first name to be empty.
	names := strings.Split(path, "/")[1:]
	current := ""
	for _, name := range names {
		current += "/" + name
		_, err := c.Create(ctx, current, nil, nil, zookeeper.ModePersistent)
		if err != nil && !errors.Is(err, zookeeper.ErrNodeExists) {
			return err
		}
	}
	return nil
}

// Multi starts a transaction. Nothing is sent until Commit.
func (c *Client) Multi() *txn.Transaction {
	return txn.New(tracedSubmitter{c})
}

type tracedSubmitter struct {
	c *Client
}

func (s tracedSubmitter) Do(ctx context.Context, req *zookeeper.Request) (_ *zookeeper.Response, err error) {
	ctx, span := s.c.start(ctx, "Multi", "")
	defer func() { end(span, err) }()
	if ops, ok := req.Payload.(*txn.MultiRequest); ok {
		span.SetAttributes(attribute.Int("zk.ops", len(ops.Ops)))
	}
	return s.c.mgr.Do(ctx, req)
}

// AddAuth adds an auth credential to the session, e.g. ("digest",
// "user:password"). It is replayed after every reconnect. A rejected
// credential ends the session with zookeeper.ErrAuthFailed.
func (c *Client) AddAuth(scheme string, auth []byte) error {
	return c.mgr.AddCredential(scheme, auth)
}
