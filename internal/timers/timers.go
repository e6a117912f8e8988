// Package timers provides the retransmission and acknowledgement timers the
// WTP machines arm. An elapsed timer never touches machine state directly:
// it produces its event into the owning layer's queue, so the layer worker
// remains the single writer. A timer stopped after it has fired may leave a
// stale event in the queue; machines validate timer events against their
// state before acting.
package timers

import (
	"sync"
	"time"

	"github.com/teleguys/kannel-sub001/internal/eventq"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// Timer delivers one event into a queue when its interval elapses. It can
// be restarted and stopped; Start on a running timer replaces the pending
// expiry.
type Timer struct {
	mu      sync.Mutex
	queue   *eventq.Queue
	pending *time.Timer
	gen     uint64
}

// New creates a stopped timer delivering into q. The caller keeps a
// producer registered on q for as long as the timer may fire.
func New(q *eventq.Queue) *Timer {
	return &Timer{queue: q}
}

// Start arms the timer to produce ev after d. Ownership of ev passes to the
// timer until expiry hands it to the queue.
func (t *Timer) Start(d time.Duration, ev *wapevent.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.gen++
	gen := t.gen
	t.pending = time.AfterFunc(d, func() {
		t.fire(gen, ev)
	})
}

func (t *Timer) fire(gen uint64, ev *wapevent.Event) {
	t.mu.Lock()
	if gen != t.gen {
		// stopped or restarted between expiry and here
		t.mu.Unlock()
		ev.Destroy()
		return
	}
	t.pending = nil
	t.mu.Unlock()
	t.queue.Produce(ev)
}

// Stop cancels a pending expiry. It reports whether an expiry was pending;
// false means the timer was idle or had already fired.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked()
}

func (t *Timer) stopLocked() bool {
	t.gen++
	if t.pending == nil {
		return false
	}
	stopped := t.pending.Stop()
	t.pending = nil
	return stopped
}
