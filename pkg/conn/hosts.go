package conn

import (
	"math/rand"
	"time"

	"github.com/mikekulinski/zkclient/pkg/ensemble"
)

// hostProvider round-robins over the ensemble. After a full pass without a
// successful connect it asks the caller to wait a random fraction of the
// spin delay, so a fleet of clients does not hammer a recovering ensemble in
// lockstep.
type hostProvider struct {
	servers   []ensemble.Server
	next      int
	attempts  int
	spinDelay time.Duration
	rng       *rand.Rand
}

func newHostProvider(servers []ensemble.Server, spinDelay time.Duration, rng *rand.Rand) *hostProvider {
	return &hostProvider{
		servers:   servers,
		spinDelay: spinDelay,
		rng:       rng,
	}
}

// pick returns the next server and how long to wait before dialing it.
func (h *hostProvider) pick() (ensemble.Server, time.Duration) {
	h.next %= len(h.servers)

	var delay time.Duration
	if h.attempts >= len(h.servers) {
		if h.spinDelay > 0 {
			delay = time.Duration(h.rng.Float64() * float64(h.spinDelay))
		}
		// The wait covers this attempt; a new pass starts now.
		h.attempts = 0
	}
	h.attempts++

	s := h.servers[h.next]
	h.next++
	return s, delay
}

// connected resets the attempt counter after a successful handshake.
func (h *hostProvider) connected() {
	h.attempts = 0
}
