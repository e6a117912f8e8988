package wtp

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teleguys/kannel-sub001/internal/eventq"
	"github.com/teleguys/kannel-sub001/internal/observability"
	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/pducodec"
	"github.com/teleguys/kannel-sub001/internal/threads"
	"github.com/teleguys/kannel-sub001/internal/timers"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// Dispatch hands an event to a layer; it is the only cross-layer contract.
// Ownership of the event transfers with the call.
type Dispatch func(*wapevent.Event)

// Config carries the WTP timing and segmentation parameters.
type Config struct {
	AckInterval        time.Duration
	RetransmitInterval time.Duration
	WaitTimeout        time.Duration
	MaxRetransmit      int
	MaxAckWaits        int
	SegSize            int
	GroupLen           int
	TIDWindow          time.Duration
}

func DefaultConfig() Config {
	return Config{
		AckInterval:        5 * time.Second,
		RetransmitInterval: 7 * time.Second,
		WaitTimeout:        30 * time.Second,
		MaxRetransmit:      8,
		MaxAckWaits:        6,
		SegSize:            1400,
		GroupLen:           4,
		TIDWindow:          300 * time.Second,
	}
}

type runState int

const (
	limbo runState = iota
	running
	terminating
)

// Layer owns the WTP event queue, its worker thread, and the transaction
// index. Neighbour layers are wired in at Start by dispatch injection.
type Layer struct {
	cfg   Config
	log   zerolog.Logger
	queue *eventq.Queue

	toLower Dispatch
	toUpper Dispatch

	mu         sync.RWMutex
	responders map[machineKey]*Machine
	initiators map[machineKey]*Machine
	byHandle   map[uint32]*Machine

	tids       *tidCache
	nextHandle uint32
	nextTID    uint16

	state  runState
	worker *threads.Thread
}

func New(cfg Config, logger zerolog.Logger) *Layer {
	return &Layer{
		cfg:        cfg,
		log:        logger.With().Str("layer", "wtp").Logger(),
		queue:      eventq.New(),
		responders: make(map[machineKey]*Machine),
		initiators: make(map[machineKey]*Machine),
		byHandle:   make(map[uint32]*Machine),
		tids:       newTIDCache(cfg.TIDWindow),
	}
}

// Start wires the layer between its neighbours and spawns the worker.
func (l *Layer) Start(toLower, toUpper Dispatch) {
	if l.state != limbo {
		panic("wtp: start outside limbo")
	}
	l.toLower = toLower
	l.toUpper = toUpper
	l.queue.AddProducer()
	l.state = running
	l.worker = threads.Spawn("wtp", l.run)
	l.log.Info().Msg("wtp layer running")
}

// Dispatch enqueues an event for the layer worker. Ownership transfers.
func (l *Layer) Dispatch(ev *wapevent.Event) {
	l.queue.Produce(ev)
}

// Shutdown stops the worker after draining the queue and destroys all
// transaction state. Calling it on a layer that is not running is a
// programming error.
func (l *Layer) Shutdown() {
	if l.state != running {
		panic("wtp: shutdown while not running")
	}
	l.state = terminating
	l.mu.Lock()
	for _, m := range l.byHandle {
		m.timer.Stop()
	}
	l.mu.Unlock()
	l.queue.RemoveProducer()
	l.worker.Join()
	l.queue.Destroy(func(ev *wapevent.Event) { ev.Destroy() })
	l.state = limbo
	l.log.Info().Msg("wtp layer stopped")
}

func (l *Layer) run(t *threads.Thread) {
	for {
		ev := l.queue.Consume()
		if ev == nil {
			return
		}
		l.handleEvent(ev)
		ev.Destroy()
	}
}

func (l *Layer) handleEvent(ev *wapevent.Event) {
	switch ev.Kind {
	case wapevent.TDUnitdataInd:
		l.handleDatagram(ev)
	case wapevent.TRInvokeReq:
		l.startInitiator(ev)
	case wapevent.TRInvokeRes:
		l.handleInvokeRes(ev)
	case wapevent.TRResultReq:
		l.handleResultReq(ev)
	case wapevent.TRAbortReq:
		l.handleAbortReq(ev)
	case wapevent.TimerTOA, wapevent.TimerTOR, wapevent.TimerTOW:
		l.handleTimer(ev)
	default:
		l.log.Warn().Stringer("kind", ev.Kind).Msg("event not addressed to wtp")
	}
}

func (l *Layer) handleDatagram(ev *wapevent.Event) {
	observability.RecordDatagram("in")
	pdus, err := SplitDatagram(ev.UserData)
	if err != nil {
		l.log.Warn().Err(err).Stringer("addr", ev.Addr).Msg("dropping datagram")
		l.log.Trace().Str("dump", ev.UserData.HexDump()).Msg("dropped datagram contents")
		return
	}
	for _, raw := range pdus {
		p, err := UnpackPDU(raw)
		if err != nil {
			l.log.Warn().Err(err).Stringer("addr", ev.Addr).Msg("dropping pdu")
			continue
		}
		observability.RecordPDU("in", p.Def.Name)
		l.handlePDU(ev.Addr, p)
	}
}

func (l *Layer) handlePDU(addr wapevent.Addr, p *pducodec.PDU) {
	switch PDUType(p) {
	case PDUInvoke:
		l.handleInvoke(addr, p)
	case PDUSegmentedInvoke:
		l.handleSegment(addr, p, false)
	case PDUResult:
		l.handleResult(addr, p)
	case PDUSegmentedResult:
		l.handleSegment(addr, p, true)
	case PDUAck:
		l.handleAck(addr, p)
	case PDUAbort:
		l.handleAbort(addr, p)
	case PDUNegativeAck:
		l.handleNegativeAck(addr, p)
	}
}

// lookup finds the machine a PDU belongs to, responders first: Acks,
// Aborts and Negative_acks can be addressed to either role.
func (l *Layer) lookup(key machineKey) *Machine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if m := l.responders[key]; m != nil {
		return m
	}
	return l.initiators[key]
}

func (l *Layer) lookupHandle(h uint32) *Machine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byHandle[h]
}

func (l *Layer) insert(m *Machine) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.responders
	if m.role == RoleInitiator {
		idx = l.initiators
	}
	if _, exists := idx[m.key]; exists {
		return false
	}
	idx[m.key] = m
	l.byHandle[m.handle] = m
	return true
}

func (l *Layer) remove(m *Machine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.role == RoleInitiator {
		delete(l.initiators, m.key)
	} else {
		delete(l.responders, m.key)
	}
	delete(l.byHandle, m.handle)
}

// MachineCount reports live transactions; used by tests and shutdown logs.
func (l *Layer) MachineCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byHandle)
}

func (l *Layer) newMachine(role Role, addr wapevent.Addr, tid uint16, class int) *Machine {
	l.nextHandle++
	m := &Machine{
		handle: l.nextHandle,
		key:    machineKey{addr: addr, tid: tid},
		role:   role,
		class:  class,
		timer:  timers.New(l.queue),
	}
	observability.RecordTransaction(role.String(), className(class))
	return m
}

func className(class int) string {
	switch class {
	case 0:
		return "0"
	case 1:
		return "1"
	default:
		return "2"
	}
}

func (l *Layer) destroyMachine(m *Machine) {
	m.timer.Stop()
	m.state = StateListen
	l.remove(m)
	l.log.Debug().
		Uint32("handle", m.handle).
		Stringer("role", m.role).
		Msg("transaction destroyed")
}

// sendPDU packs and transmits one PDU, returning the packed datagram so
// machines can keep it for retransmission.
func (l *Layer) sendPDU(addr wapevent.Addr, p *pducodec.PDU) *octstr.Octstr {
	packed, err := PackPDU(p)
	if err != nil {
		// defs are static; a pack failure is a programming error
		panic("wtp: pack failed: " + err.Error())
	}
	observability.RecordPDU("out", p.Def.Name)
	ev := wapevent.New(wapevent.TDUnitdataReq)
	ev.Addr = addr
	ev.UserData = packed.Copy()
	l.toLower(ev)
	return packed
}

// resend retransmits the machine's last datagram with the rid bit set.
func (l *Layer) resend(m *Machine) {
	if m.lastSent == nil {
		return
	}
	dup := m.lastSent.Copy()
	dup.SetBits(7, 1, 1)
	observability.RecordRetransmit()
	ev := wapevent.New(wapevent.TDUnitdataReq)
	ev.Addr = m.addr()
	ev.UserData = dup
	l.toLower(ev)
}

func (l *Layer) sendAbort(addr wapevent.Addr, tid uint16, abortType, reason uint8) {
	l.sendPDU(addr, NewAbort(SendTID(tid), abortType, reason))
}

// abortUp raises TR-Abort.ind and destroys the machine.
func (l *Layer) abortUp(m *Machine, abortType, reason uint8) {
	observability.RecordAbort(reasonName(reason))
	ev := wapevent.New(wapevent.TRAbortInd)
	ev.Addr = m.addr()
	ev.TID = m.tid()
	ev.Handle = m.handle
	ev.PushID = m.upperRef
	ev.AbortType = abortType
	ev.AbortReason = reason
	l.toUpper(ev)
	l.destroyMachine(m)
}

func reasonName(reason uint8) string {
	switch reason {
	case AbortNoResponse:
		return "noresponse"
	case AbortInvalidTID:
		return "invalidtid"
	case AbortProtoErr:
		return "protoerr"
	case AbortWTPVersionZero:
		return "wtpversionzero"
	case AbortMessageTooLarge:
		return "messagetoolarge"
	default:
		return "other"
	}
}

func (l *Layer) timerEvent(kind wapevent.Kind, m *Machine) *wapevent.Event {
	ev := wapevent.New(kind)
	ev.Addr = m.addr()
	ev.TID = m.tid()
	ev.Handle = m.handle
	return ev
}

func (l *Layer) handleTimer(ev *wapevent.Event) {
	m := l.lookupHandle(ev.Handle)
	if m == nil {
		return // machine destroyed after the timer fired
	}
	switch ev.Kind {
	case wapevent.TimerTOA:
		l.ackWaitExpired(m)
	case wapevent.TimerTOR:
		l.retransmitExpired(m)
	case wapevent.TimerTOW:
		switch m.state {
		case StateWaitTimeout:
			l.destroyMachine(m)
		case StateResultWaitAcked:
			// invoke was acked but the result never came
			l.abortUp(m, AbortProvider, AbortNoResponse)
		}
	}
}

func (l *Layer) retransmitExpired(m *Machine) {
	if m.state != StateResultResp && m.state != StateResultWait {
		return
	}
	m.rcr++
	if m.rcr > l.cfg.MaxRetransmit {
		l.log.Warn().
			Uint32("handle", m.handle).
			Int("rcr", m.rcr-1).
			Msg("retransmissions exhausted")
		l.abortUp(m, AbortProvider, AbortNoResponse)
		return
	}
	l.resend(m)
	m.timer.Start(l.cfg.RetransmitInterval, l.timerEvent(wapevent.TimerTOR, m))
}

func (l *Layer) handleAbortReq(ev *wapevent.Event) {
	m := l.lookupHandle(ev.Handle)
	if m == nil {
		return
	}
	l.sendAbort(m.addr(), m.tid(), AbortUser, ev.AbortReason)
	l.destroyMachine(m)
}

func (l *Layer) handleAbort(addr wapevent.Addr, p *pducodec.PDU) {
	m := l.lookup(machineKey{addr: addr, tid: uint16(p.Uint("tid"))})
	if m == nil {
		return // stale abort, drop
	}
	l.abortUp(m, uint8(p.Uint("abort_type")), uint8(p.Uint("abort_reason")))
}

// handleAck routes an Ack by role and state. An Ack always cancels pending
// retransmission concerns for what it acknowledges; a group ack instead
// advances outbound segmentation.
func (l *Layer) handleAck(addr wapevent.Addr, p *pducodec.PDU) {
	key := machineKey{addr: addr, tid: uint16(p.Uint("tid"))}
	m := l.lookup(key)
	if m == nil {
		return
	}
	if m.role == RoleResponder {
		l.respAck(m, p)
	} else {
		l.initAck(m, p)
	}
}

func (l *Layer) handleNegativeAck(addr wapevent.Addr, p *pducodec.PDU) {
	m := l.lookup(machineKey{addr: addr, tid: uint16(p.Uint("tid"))})
	if m == nil || m.sarOut == nil {
		return
	}
	l.sarRetransmitMissing(m, p.Bytes("missing").Bytes())
}

// allocTID picks the next initiator TID in received space; tidnew is set
// when the counter wraps.
func (l *Layer) allocTID() (uint16, bool) {
	l.nextTID = (l.nextTID + 1) & 0x7fff
	wrapped := l.nextTID == 0
	if wrapped {
		l.nextTID = 1
	}
	return l.nextTID, wrapped
}
