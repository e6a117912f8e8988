// Package eventq implements the blocking FIFO each layer consumes its
// events from. The queue counts registered producers: Consume blocks while
// the queue is empty and at least one producer remains, and reports
// end-of-stream once the last producer has gone and the backlog is drained.
package eventq

import (
	"sync"

	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// Queue is an unbounded multi-producer multi-consumer FIFO of events.
type Queue struct {
	mu         sync.Mutex
	wait       *sync.Cond
	items      []*wapevent.Event
	producers  int
	destroyed  bool
	destructor func(*wapevent.Event)
}

func New() *Queue {
	q := &Queue{}
	q.wait = sync.NewCond(&q.mu)
	return q
}

// AddProducer registers one producer. Every producer must deregister with
// RemoveProducer before consumers can see end-of-stream.
func (q *Queue) AddProducer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		panic("eventq: add producer on destroyed queue")
	}
	q.producers++
}

// RemoveProducer deregisters one producer. Removing a producer that was
// never added is a programming error.
func (q *Queue) RemoveProducer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.producers <= 0 {
		panic("eventq: remove producer without matching add")
	}
	q.producers--
	if q.producers == 0 {
		q.wait.Broadcast()
	}
}

// Produce appends ev to the queue. Ownership of ev passes to the queue.
// After Destroy the event goes straight to the destructor: neighbour layers
// draining their own backlogs may still dispatch here during teardown.
func (q *Queue) Produce(ev *wapevent.Event) {
	q.mu.Lock()
	if q.destroyed {
		d := q.destructor
		q.mu.Unlock()
		if d != nil {
			d(ev)
		}
		return
	}
	q.items = append(q.items, ev)
	q.wait.Signal()
	q.mu.Unlock()
}

// Consume removes and returns the oldest event, blocking while the queue is
// empty and producers remain. It returns nil exactly when the last producer
// is gone and the backlog has drained, or after Destroy.
func (q *Queue) Consume() *wapevent.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			return ev
		}
		if q.producers == 0 || q.destroyed {
			return nil
		}
		q.wait.Wait()
	}
}

// Len reports the current backlog.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Destroy drains residual events through destructor and marks the queue
// dead. Blocked consumers return nil; destructor is kept for events
// produced after this point.
func (q *Queue) Destroy(destructor func(*wapevent.Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		panic("eventq: double destroy")
	}
	q.destroyed = true
	q.destructor = destructor
	if destructor != nil {
		for _, ev := range q.items {
			destructor(ev)
		}
	}
	q.items = nil
	q.wait.Broadcast()
}
