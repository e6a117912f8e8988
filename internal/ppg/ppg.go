// Package ppg is the push proxy gateway: it accepts push submissions,
// relays them into WSP push transactions, and reports delivery outcomes
// back to the over-the-air side.
package ppg

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/teleguys/kannel-sub001/internal/eventq"
	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/threads"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// Dispatch hands an event to a layer. Ownership of the event transfers
// with the call.
type Dispatch func(*wapevent.Event)

var (
	ErrUnknownSession = errors.New("ppg: session not reachable")
	ErrTooManyPending = errors.New("ppg: pending push limit reached")
)

// Callbacks report push outcomes to the over-the-air side.
type Callbacks struct {
	Delivered func(pushID uint32)
	Aborted   func(pushID uint32, reason uint8)
}

// Config bounds the gateway.
type Config struct {
	MaxPending int
}

func DefaultConfig() Config {
	return Config{MaxPending: 1024}
}

type runState int

const (
	limbo runState = iota
	running
	terminating
)

type pendingPush struct {
	id        uint32
	sessionID uint32
}

// Gateway owns the PPG event queue and one worker thread.
type Gateway struct {
	cfg   Config
	log   zerolog.Logger
	queue *eventq.Queue

	toWSP Dispatch
	cbs   Callbacks

	mu       sync.Mutex
	pending  map[uint32]pendingPush
	sessions map[uint32]wapevent.Addr
	nextID   uint32

	state  runState
	worker *threads.Thread
}

func New(cfg Config, logger zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		log:      logger.With().Str("layer", "ppg").Logger(),
		queue:    eventq.New(),
		pending:  make(map[uint32]pendingPush),
		sessions: make(map[uint32]wapevent.Addr),
	}
}

// Start wires the gateway to WSP and spawns the worker.
func (g *Gateway) Start(toWSP Dispatch, cbs Callbacks) {
	if g.state != limbo {
		panic("ppg: start outside limbo")
	}
	g.toWSP = toWSP
	g.cbs = cbs
	g.queue.AddProducer()
	g.state = running
	g.worker = threads.Spawn("ppg", g.run)
	g.log.Info().Msg("ppg running")
}

// Dispatch enqueues an event for the worker. Ownership transfers.
func (g *Gateway) Dispatch(ev *wapevent.Event) {
	g.queue.Produce(ev)
}

// Shutdown drains the queue and stops the worker. In-flight pushes are
// dropped; the gateway keeps no state across restarts.
func (g *Gateway) Shutdown() {
	if g.state != running {
		panic("ppg: shutdown while not running")
	}
	g.state = terminating
	g.queue.RemoveProducer()
	g.worker.Join()
	g.queue.Destroy(func(ev *wapevent.Event) { ev.Destroy() })
	g.state = limbo
	g.log.Info().Msg("ppg stopped")
}

func (g *Gateway) run(t *threads.Thread) {
	for {
		ev := g.queue.Consume()
		if ev == nil {
			return
		}
		g.handleEvent(ev)
		ev.Destroy()
	}
}

// Submit hands one push document to a session. Confirmed pushes stay in
// the pending table until WSP confirms or aborts them; unconfirmed pushes
// are fire-and-forget. Safe to call from any thread.
func (g *Gateway) Submit(sessionID uint32, headers, data *octstr.Octstr, confirmed bool) (uint32, error) {
	g.mu.Lock()
	if _, ok := g.sessions[sessionID]; !ok {
		g.mu.Unlock()
		return 0, ErrUnknownSession
	}
	if confirmed && len(g.pending) >= g.cfg.MaxPending {
		g.mu.Unlock()
		return 0, ErrTooManyPending
	}
	g.nextID++
	id := g.nextID
	if confirmed {
		g.pending[id] = pendingPush{id: id, sessionID: sessionID}
	}
	g.mu.Unlock()

	kind := wapevent.SPushReq
	if confirmed {
		kind = wapevent.SConfirmedPushReq
	}
	req := wapevent.New(kind)
	req.SessionID = sessionID
	req.PushID = id
	req.Headers = headers
	req.UserData = data
	g.toWSP(req)
	g.log.Debug().Uint32("push", id).Uint32("session", sessionID).Bool("confirmed", confirmed).Msg("push submitted")
	return id, nil
}

// PendingCount reports confirmed pushes awaiting an outcome.
func (g *Gateway) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// SessionCount reports sessions currently reachable for push.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *Gateway) handleEvent(ev *wapevent.Event) {
	switch ev.Kind {
	case wapevent.PomConnectInd:
		g.mu.Lock()
		g.sessions[ev.SessionID] = ev.Addr
		g.mu.Unlock()
		g.log.Debug().Uint32("session", ev.SessionID).Msg("session reachable for push")
	case wapevent.PomDisconnectInd:
		g.sessionGone(ev.SessionID)
	case wapevent.PoConfirmedPushCnf:
		if p, ok := g.takePending(ev.PushID); ok {
			g.log.Debug().Uint32("push", p.id).Msg("push delivered")
			if g.cbs.Delivered != nil {
				g.cbs.Delivered(p.id)
			}
		}
	case wapevent.PoPushAbortInd:
		if p, ok := g.takePending(ev.PushID); ok {
			g.log.Warn().Uint32("push", p.id).Uint8("reason", ev.AbortReason).Msg("push aborted")
			if g.cbs.Aborted != nil {
				g.cbs.Aborted(p.id, ev.AbortReason)
			}
		}
	default:
		g.log.Warn().Stringer("kind", ev.Kind).Msg("event not addressed to ppg")
	}
}

// sessionGone drops the session and aborts every push still pending on it.
func (g *Gateway) sessionGone(sessionID uint32) {
	g.mu.Lock()
	delete(g.sessions, sessionID)
	var orphaned []pendingPush
	for id, p := range g.pending {
		if p.sessionID == sessionID {
			orphaned = append(orphaned, p)
			delete(g.pending, id)
		}
	}
	g.mu.Unlock()

	for _, p := range orphaned {
		if g.cbs.Aborted != nil {
			g.cbs.Aborted(p.id, 0xe1) // session disconnected
		}
	}
	g.log.Debug().Uint32("session", sessionID).Int("orphaned", len(orphaned)).Msg("push session gone")
}

func (g *Gateway) takePending(id uint32) (pendingPush, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	return p, ok
}
