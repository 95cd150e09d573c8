package conn

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mikekulinski/zkclient/pkg/ensemble"
)

func TestHostProvider(t *testing.T) {
	servers := []ensemble.Server{
		{Host: "a", Port: 1},
		{Host: "b", Port: 2},
		{Host: "c", Port: 3},
	}
	h := newHostProvider(servers, time.Second, rand.New(rand.NewSource(1)))

	// The first pass is immediate.
	for _, want := range servers {
		got, delay := h.pick()
		assert.Equal(t, want, got)
		assert.Zero(t, delay)
	}

	// A fresh pass starts with a wait below the spin delay.
	got, delay := h.pick()
	assert.Equal(t, servers[0], got)
	assert.Greater(t, delay, time.Duration(0))
	assert.Less(t, delay, time.Second)

	for _, want := range servers[1:] {
		got, delay := h.pick()
		assert.Equal(t, want, got)
		assert.Zero(t, delay)
	}

	// A successful handshake resets the pass but not the position.
	h.connected()
	got, delay = h.pick()
	assert.Equal(t, servers[0], got)
	assert.Zero(t, delay)
}

func TestHostProvider_NoSpinDelay(t *testing.T) {
	h := newHostProvider([]ensemble.Server{{Host: "a", Port: 1}}, 0, rand.New(rand.NewSource(1)))
	for range 3 {
		_, delay := h.pick()
		assert.Zero(t, delay)
	}
}
