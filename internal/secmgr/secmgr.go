// Package secmgr is the security manager: it answers WTLS handshake
// primitives on behalf of the gateway. The policy is fixed: every secure
// connection offer is accepted and the key exchange started immediately.
package secmgr

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/teleguys/kannel-sub001/internal/eventq"
	"github.com/teleguys/kannel-sub001/internal/threads"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// Dispatch hands an event to a layer. Ownership of the event transfers
// with the call.
type Dispatch func(*wapevent.Event)

type runState int

const (
	limbo runState = iota
	running
	terminating
)

// Manager owns the security-manager event queue and one worker thread.
type Manager struct {
	log     zerolog.Logger
	queue   *eventq.Queue
	toLower Dispatch

	state  runState
	worker *threads.Thread
}

func New(logger zerolog.Logger) *Manager {
	return &Manager{
		log:   logger.With().Str("layer", "secmgr").Logger(),
		queue: eventq.New(),
	}
}

// Start wires the manager to the layer below and spawns the worker.
func (m *Manager) Start(toLower Dispatch) {
	if m.state != limbo {
		panic("secmgr: start outside limbo")
	}
	m.toLower = toLower
	m.queue.AddProducer()
	m.state = running
	m.worker = threads.Spawn("secmgr", m.run)
	m.log.Info().Msg("security manager running")
}

// Dispatch enqueues an event for the worker. Ownership transfers.
func (m *Manager) Dispatch(ev *wapevent.Event) {
	m.queue.Produce(ev)
}

// Shutdown drains the queue and stops the worker.
func (m *Manager) Shutdown() {
	if m.state != running {
		panic("secmgr: shutdown while not running")
	}
	m.state = terminating
	m.queue.RemoveProducer()
	m.worker.Join()
	m.queue.Destroy(func(ev *wapevent.Event) { ev.Destroy() })
	m.state = limbo
	m.log.Info().Msg("security manager stopped")
}

func (m *Manager) run(t *threads.Thread) {
	for {
		ev := m.queue.Consume()
		if ev == nil {
			return
		}
		m.handleEvent(ev)
		ev.Destroy()
	}
}

func (m *Manager) handleEvent(ev *wapevent.Event) {
	switch ev.Kind {
	case wapevent.SECCreateInd:
		m.log.Debug().Stringer("addr", ev.Addr).Msg("secure connection offered")
		res := wapevent.New(wapevent.SECCreateRes)
		res.Addr = ev.Addr
		res.Handle = ev.Handle
		m.toLower(res)
		xch := wapevent.New(wapevent.SECExchangeReq)
		xch.Addr = ev.Addr
		xch.Handle = ev.Handle
		m.toLower(xch)
	case wapevent.SECTerminateReq:
		// Terminal for the secure connection, not for the manager.
		m.log.Debug().Stringer("addr", ev.Addr).Msg("secure connection terminated")
		term := wapevent.New(wapevent.SECTerminateReq)
		term.Addr = ev.Addr
		term.Handle = ev.Handle
		m.toLower(term)
	default:
		panic(fmt.Sprintf("secmgr: event %v not addressed to secmgr", ev.Kind))
	}
}
