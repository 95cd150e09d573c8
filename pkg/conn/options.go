package conn

import (
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/mikekulinski/zkclient/pkg/metrics"
	"github.com/mikekulinski/zkclient/pkg/session"
	"github.com/mikekulinski/zkclient/pkg/zxid"
)

const (
	DefaultSessionTimeout = 30 * time.Second
	DefaultSpinDelay      = time.Second
	DefaultWriteQueueSize = 64
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	sessionTimeout time.Duration
	spinDelay      time.Duration
	logger         zerolog.Logger
	metrics        *metrics.Collector
	dialer         Dialer
	maxFrameSize   int
	session        session.Session
	lastZxid       zxid.ZXID
	canBeReadOnly  bool
	rng            *rand.Rand
	onState        func(State)
	writeQueueSize int
}

func defaultOptions() *options {
	return &options{
		sessionTimeout: DefaultSessionTimeout,
		spinDelay:      DefaultSpinDelay,
		logger:         zerolog.Nop(),
		dialer:         &net.Dialer{},
		maxFrameSize:   DefaultMaxFrameSize,
		session:        session.New(),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		writeQueueSize: DefaultWriteQueueSize,
	}
}

// WithSessionTimeout sets the session timeout requested in the handshake.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *options) {
		o.sessionTimeout = d
	}
}

// WithSpinDelay sets the upper bound of the random wait after every server
// in the ensemble has been tried once without success.
func WithSpinDelay(d time.Duration) Option {
	return func(o *options) {
		o.spinDelay = d
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

func WithDialer(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithMaxFrameSize bounds the size of a single inbound frame. Larger frames
// are treated as a protocol violation.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		o.maxFrameSize = n
	}
}

// WithSession resumes an existing session instead of asking for a new one.
func WithSession(id int64, password []byte) Option {
	return func(o *options) {
		o.session = session.Resume(id, password)
	}
}

// WithLastZxid seeds the last zxid seen, typically from a persisted snapshot.
func WithLastZxid(z zxid.ZXID) Option {
	return func(o *options) {
		o.lastZxid = z
	}
}

// WithCanBeReadOnly allows the handshake to succeed against a server that has
// lost quorum.
func WithCanBeReadOnly(ok bool) Option {
	return func(o *options) {
		o.canBeReadOnly = ok
	}
}

// WithRand sets the source used for the spin delay. Tests pass a seeded one.
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rng = r
	}
}

// WithStateListener registers fn to be called on every state transition.
// fn runs on the manager's event loop and must not block.
func WithStateListener(fn func(State)) Option {
	return func(o *options) {
		o.onState = fn
	}
}

// WithWriteQueueSize sets how many frames may wait for the socket writer
// before the manager stops draining its outbound queue.
func WithWriteQueueSize(n int) Option {
	return func(o *options) {
		o.writeQueueSize = n
	}
}
