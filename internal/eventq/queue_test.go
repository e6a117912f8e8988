package eventq

import (
	"sync"
	"testing"
	"time"

	"github.com/teleguys/kannel-sub001/internal/testutil/testlog"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

func TestFIFOOrder(t *testing.T) {
	testlog.Start(t)
	q := New()
	q.AddProducer()
	first := wapevent.New(wapevent.TRInvokeInd)
	second := wapevent.New(wapevent.TRResultReq)
	q.Produce(first)
	q.Produce(second)
	if got := q.Consume(); got != first {
		t.Fatalf("expected first event, got %v", got)
	}
	if got := q.Consume(); got != second {
		t.Fatalf("expected second event, got %v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("len=%d", q.Len())
	}
}

func TestConsumeBlocksUntilProduce(t *testing.T) {
	testlog.Start(t)
	q := New()
	q.AddProducer()
	done := make(chan *wapevent.Event, 1)
	go func() {
		done <- q.Consume()
	}()
	select {
	case <-done:
		t.Fatalf("consume returned on empty queue with live producer")
	case <-time.After(50 * time.Millisecond):
	}
	ev := wapevent.New(wapevent.TDUnitdataInd)
	q.Produce(ev)
	select {
	case got := <-done:
		if got != ev {
			t.Fatalf("wrong event: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("consume did not wake after produce")
	}
}

func TestEndOfStreamAfterLastProducer(t *testing.T) {
	testlog.Start(t)
	q := New()
	q.AddProducer()
	q.Produce(wapevent.New(wapevent.TRInvokeInd))
	q.RemoveProducer()
	// backlog drains first, then end-of-stream
	if got := q.Consume(); got == nil {
		t.Fatalf("expected buffered event before end-of-stream")
	}
	if got := q.Consume(); got != nil {
		t.Fatalf("expected end-of-stream, got %v", got)
	}
	if got := q.Consume(); got != nil {
		t.Fatalf("end-of-stream is sticky, got %v", got)
	}
}

func TestEndOfStreamWakesBlockedConsumers(t *testing.T) {
	testlog.Start(t)
	q := New()
	q.AddProducer()
	const consumers = 4
	var wg sync.WaitGroup
	results := make(chan *wapevent.Event, consumers)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- q.Consume()
		}()
	}
	time.Sleep(20 * time.Millisecond)
	q.RemoveProducer()
	wg.Wait()
	close(results)
	for got := range results {
		if got != nil {
			t.Fatalf("expected end-of-stream for every consumer, got %v", got)
		}
	}
}

func TestRemoveProducerWithoutAddPanics(t *testing.T) {
	testlog.Start(t)
	q := New()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	q.RemoveProducer()
}

func TestDestroyRunsDestructorOnResidue(t *testing.T) {
	testlog.Start(t)
	q := New()
	q.AddProducer()
	q.Produce(wapevent.New(wapevent.TRInvokeInd))
	q.Produce(wapevent.New(wapevent.TRAbortInd))
	destroyed := 0
	q.Destroy(func(ev *wapevent.Event) {
		ev.Destroy()
		destroyed++
	})
	if destroyed != 2 {
		t.Fatalf("destroyed=%d", destroyed)
	}
	if got := q.Consume(); got != nil {
		t.Fatalf("consume after destroy should report end-of-stream")
	}
}

func TestProduceAfterDestroyGoesToDestructor(t *testing.T) {
	testlog.Start(t)
	q := New()
	q.AddProducer()
	destroyed := 0
	q.Destroy(func(ev *wapevent.Event) {
		ev.Destroy()
		destroyed++
	})
	// a neighbour layer draining its backlog may still dispatch here
	q.Produce(wapevent.New(wapevent.TRAbortInd))
	if destroyed != 1 {
		t.Fatalf("destroyed=%d, want 1", destroyed)
	}
	if q.Len() != 0 {
		t.Fatalf("len=%d after destroy", q.Len())
	}
}
