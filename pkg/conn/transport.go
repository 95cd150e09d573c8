package conn

import (
	"bytes"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mikekulinski/zkclient/pkg/ensemble"
)

const readBufferSize = 64 << 10

// transportListener receives the events of one socket. The Manager
// implements it by posting each event onto its loop.
type transportListener interface {
	onData(t *transport, data []byte)
	onClosed(t *transport, err error)
	onDrained(t *transport)
}

// transport owns one TCP connection. A reader goroutine reports data and
// exactly one close event; a writer goroutine drains a bounded frame channel.
type transport struct {
	conn   net.Conn
	server ensemble.Server

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// wantDrain is set by the loop when out was found full. The writer
	// reports drained once it empties out after that.
	wantDrain atomic.Bool
}

func newTransport(conn net.Conn, server ensemble.Server, queueSize int) *transport {
	if queueSize < 1 {
		queueSize = 1
	}
	return &transport{
		conn:   conn,
		server: server,
		out:    make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

func (t *transport) start(l transportListener) {
	go t.readLoop(l)
	go t.writeLoop(l)
}

// send queues frame for the writer without blocking. It reports false when
// the queue is full or the transport is closed.
func (t *transport) send(frame []byte) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.out <- frame:
		return true
	default:
		return false
	}
}

// close is safe to call more than once and from any goroutine. The reader
// observes the closed socket and reports the close event.
func (t *transport) close() {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}

func (t *transport) readLoop(l transportListener) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			l.onData(t, bytes.Clone(buf[:n]))
		}
		if err != nil {
			t.close()
			l.onClosed(t, err)
			return
		}
	}
}

func (t *transport) writeLoop(l transportListener) {
	for {
		select {
		case <-t.done:
			return
		case frame := <-t.out:
			if _, err := t.conn.Write(frame); err != nil {
				t.close()
				return
			}
			if len(t.out) == 0 && t.wantDrain.CompareAndSwap(true, false) {
				l.onDrained(t)
			}
		}
	}
}
