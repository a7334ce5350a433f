package engine

import "sync"

// barrier is a rendezvous of exactly parties cooperating tasks: it advances
// when all parties arrive, or breaks permanently if any arrival reports
// failure, unblocking every waiter (including ones that haven't arrived yet)
// with ok=false.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	arrived int
	broken  bool
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	if parties <= 0 {
		b.broken = false
	}
	return b
}

// arrive registers one party's arrival. ok carries whether that party's own
// work succeeded; a single false ok permanently breaks the barrier for every
// party. arrive blocks until either all parties have arrived successfully
// (returns true) or the barrier breaks (returns false).
func (b *barrier) arrive(ok bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !ok {
		b.broken = true
		b.cond.Broadcast()
		return false
	}
	if b.broken {
		return false
	}

	b.arrived++
	if b.arrived >= b.parties {
		b.cond.Broadcast()
		return true
	}

	for b.arrived < b.parties && !b.broken {
		b.cond.Wait()
	}
	return !b.broken
}

// breakNow forces the barrier into the broken state, e.g. on cancellation.
func (b *barrier) breakNow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken = true
	b.cond.Broadcast()
}
