package conn

import "sync"

// mailbox is an unbounded FIFO of closures drained by a single goroutine.
// post never blocks, so code running on the draining goroutine may post to
// its own mailbox.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

// post enqueues fn. It reports false once the mailbox has been closed.
func (b *mailbox) post(fn func()) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, fn)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// take blocks until work is queued and returns all of it, or returns nil
// when the mailbox is closed and empty.
func (b *mailbox) take() []func() {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			q := b.queue
			b.queue = nil
			b.mu.Unlock()
			return q
		}
		if b.closed {
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()
		<-b.wake
	}
}

// close stops accepting posts. Work already queued is still returned by take.
func (b *mailbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// run drains the mailbox on the calling goroutine until it is closed.
func (b *mailbox) run() {
	for {
		batch := b.take()
		if batch == nil {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}
