package ppg

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/testutil/testlog"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

type outcome struct {
	pushID uint32
	reason uint8
	ok     bool
}

type recorder struct {
	ch chan outcome
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan outcome, 16)}
}

func (r *recorder) delivered(id uint32) {
	r.ch <- outcome{pushID: id, ok: true}
}

func (r *recorder) aborted(id uint32, reason uint8) {
	r.ch <- outcome{pushID: id, reason: reason}
}

func (r *recorder) next(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-r.ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("no push outcome")
		return outcome{}
	}
}

func newTestGateway(t *testing.T) (*Gateway, chan *wapevent.Event, *recorder) {
	t.Helper()
	testlog.Start(t)
	wsp := make(chan *wapevent.Event, 16)
	rec := newRecorder()
	g := New(DefaultConfig(), log.Logger)
	g.Start(
		func(ev *wapevent.Event) { wsp <- ev },
		Callbacks{Delivered: rec.delivered, Aborted: rec.aborted},
	)
	t.Cleanup(g.Shutdown)
	return g, wsp, rec
}

func connectSession(g *Gateway, id uint32) {
	ev := wapevent.New(wapevent.PomConnectInd)
	ev.SessionID = id
	ev.Addr = wapevent.Addr{
		Local:  netip.MustParseAddrPort("192.0.2.1:9201"),
		Remote: netip.MustParseAddrPort("192.0.2.30:49500"),
	}
	g.Dispatch(ev)
}

func waitSessions(t *testing.T, g *Gateway, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.SessionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session count = %d, want %d", g.SessionCount(), want)
}

func TestConfirmedPushDelivered(t *testing.T) {
	g, wsp, rec := newTestGateway(t)
	connectSession(g, 7)
	waitSessions(t, g, 1)

	id, err := g.Submit(7, octstr.Empty(), octstr.FromString("si doc"), true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	req := <-wsp
	if req.Kind != wapevent.SConfirmedPushReq || req.PushID != id || req.SessionID != 7 {
		t.Fatalf("wsp got %v push=%d session=%d", req.Kind, req.PushID, req.SessionID)
	}
	if g.PendingCount() != 1 {
		t.Fatalf("pending = %d", g.PendingCount())
	}

	cnf := wapevent.New(wapevent.PoConfirmedPushCnf)
	cnf.PushID = id
	g.Dispatch(cnf)

	o := rec.next(t)
	if !o.ok || o.pushID != id {
		t.Fatalf("outcome = %+v", o)
	}
	if g.PendingCount() != 0 {
		t.Fatalf("pending not cleared")
	}
}

func TestUnconfirmedPushKeepsNoState(t *testing.T) {
	g, wsp, _ := newTestGateway(t)
	connectSession(g, 7)
	waitSessions(t, g, 1)

	_, err := g.Submit(7, octstr.Empty(), octstr.FromString("si doc"), false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	req := <-wsp
	if req.Kind != wapevent.SPushReq {
		t.Fatalf("wsp got %v", req.Kind)
	}
	if g.PendingCount() != 0 {
		t.Fatalf("unconfirmed push left pending state")
	}
}

func TestPushAbortReported(t *testing.T) {
	g, _, rec := newTestGateway(t)
	connectSession(g, 7)
	waitSessions(t, g, 1)

	id, err := g.Submit(7, octstr.Empty(), octstr.FromString("si doc"), true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ab := wapevent.New(wapevent.PoPushAbortInd)
	ab.PushID = id
	ab.AbortReason = 0xe0
	g.Dispatch(ab)

	o := rec.next(t)
	if o.ok || o.pushID != id || o.reason != 0xe0 {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestSubmitToUnknownSession(t *testing.T) {
	g, _, _ := newTestGateway(t)
	if _, err := g.Submit(99, octstr.Empty(), octstr.Empty(), true); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("err = %v, want ErrUnknownSession", err)
	}
}

func TestDisconnectOrphansPendingPushes(t *testing.T) {
	g, wsp, rec := newTestGateway(t)
	connectSession(g, 7)
	waitSessions(t, g, 1)

	id, err := g.Submit(7, octstr.Empty(), octstr.FromString("si doc"), true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-wsp

	gone := wapevent.New(wapevent.PomDisconnectInd)
	gone.SessionID = 7
	g.Dispatch(gone)

	o := rec.next(t)
	if o.ok || o.pushID != id {
		t.Fatalf("outcome = %+v", o)
	}
	waitSessions(t, g, 0)
	if _, err := g.Submit(7, octstr.Empty(), octstr.Empty(), true); err == nil {
		t.Fatalf("submit to a gone session succeeded")
	}
}

func TestShutdownDrainsQueue(t *testing.T) {
	testlog.Start(t)
	rec := newRecorder()
	g := New(DefaultConfig(), log.Logger)
	g.Start(func(ev *wapevent.Event) {}, Callbacks{Delivered: rec.delivered, Aborted: rec.aborted})

	for i := 0; i < 10; i++ {
		connectSession(g, uint32(i+1))
	}
	g.Shutdown()
	// every produced event was consumed before the worker saw end-of-stream
	if g.SessionCount() != 10 {
		t.Fatalf("sessions = %d, want 10", g.SessionCount())
	}
}
