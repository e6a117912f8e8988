package wsp

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teleguys/kannel-sub001/internal/eventq"
	"github.com/teleguys/kannel-sub001/internal/observability"
	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/pducodec"
	"github.com/teleguys/kannel-sub001/internal/threads"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// Dispatch hands an event to a layer. Ownership of the event transfers
// with the call.
type Dispatch func(*wapevent.Event)

// Dispatchers names the neighbours a WSP layer talks to. Unit carries
// connectionless replies and may be nil when no connectionless port is
// bound.
type Dispatchers struct {
	Lower Dispatch // WTP
	App   Dispatch // method and session application
	Push  Dispatch // push proxy
	Unit  Dispatch // connectionless datagram transport
}

// Config carries the WSP negotiation limits.
type Config struct {
	MaxClientSDUSize uint32
	MaxServerSDUSize uint32
	ProtocolOptions  uint8
}

func DefaultConfig() Config {
	return Config{
		MaxClientSDUSize: 1400,
		MaxServerSDUSize: 1400,
	}
}

type runState int

const (
	limbo runState = iota
	running
	terminating
)

// Layer owns the WSP event queue, its worker thread, and the session
// index.
type Layer struct {
	cfg   Config
	log   zerolog.Logger
	queue *eventq.Queue
	out   Dispatchers

	mu       sync.RWMutex
	sessions map[wapevent.Addr]*Session
	byID     map[uint32]*Session
	methods  map[uint32]*methodMachine // by WTP handle
	connects map[uint32]*Session       // Connect/Resume replies in flight, by WTP handle
	pushes   map[uint32]*pushMachine   // by push id

	nextSession uint32
	nextPush    uint32

	state  runState
	worker *threads.Thread
}

func New(cfg Config, logger zerolog.Logger) *Layer {
	return &Layer{
		cfg:      cfg,
		log:      logger.With().Str("layer", "wsp").Logger(),
		queue:    eventq.New(),
		sessions: make(map[wapevent.Addr]*Session),
		byID:     make(map[uint32]*Session),
		methods:  make(map[uint32]*methodMachine),
		connects: make(map[uint32]*Session),
		pushes:   make(map[uint32]*pushMachine),
	}
}

// Start wires the layer to its neighbours and spawns the worker.
func (l *Layer) Start(out Dispatchers) {
	if l.state != limbo {
		panic("wsp: start outside limbo")
	}
	l.out = out
	l.queue.AddProducer()
	l.state = running
	l.worker = threads.Spawn("wsp", l.run)
	l.log.Info().Msg("wsp layer running")
}

// Dispatch enqueues an event for the layer worker. Ownership transfers.
func (l *Layer) Dispatch(ev *wapevent.Event) {
	l.queue.Produce(ev)
}

// Shutdown drains the queue, stops the worker and drops all session state.
func (l *Layer) Shutdown() {
	if l.state != running {
		panic("wsp: shutdown while not running")
	}
	l.state = terminating
	l.queue.RemoveProducer()
	l.worker.Join()
	l.queue.Destroy(func(ev *wapevent.Event) { ev.Destroy() })
	l.state = limbo
	l.log.Info().Msg("wsp layer stopped")
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

// SessionCount reports live sessions; used by tests.
func (l *Layer) SessionCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

func (l *Layer) handleEvent(ev *wapevent.Event) {
	switch ev.Kind {
	case wapevent.TDUnitdataInd:
		l.handleUnitDatagram(ev)
	case wapevent.TRInvokeInd:
		l.handleInvokeInd(ev)
	case wapevent.TRInvokeCnf:
		l.handleInvokeCnf(ev)
	case wapevent.TRResultCnf:
		l.handleResultCnf(ev)
	case wapevent.TRAbortInd:
		l.handleAbortInd(ev)
	case wapevent.SConnectRes:
		l.handleConnectRes(ev)
	case wapevent.SResumeRes:
		l.handleResumeRes(ev)
	case wapevent.SMethodInvokeRes:
		// the application acknowledgement is implicit in our mapping;
		// WTP was answered when the indication went up
	case wapevent.SMethodResultReq:
		l.handleMethodResultReq(ev)
	case wapevent.SDisconnectReq:
		l.handleDisconnectReq(ev)
	case wapevent.SPushReq:
		l.handlePushReq(ev)
	case wapevent.SConfirmedPushReq:
		l.handleConfirmedPushReq(ev)
	case wapevent.SUnitMethodResultReq:
		l.handleUnitMethodResultReq(ev)
	case wapevent.SUnitPushReq:
		l.handleUnitPushReq(ev)
	default:
		l.log.Warn().Stringer("kind", ev.Kind).Msg("event not addressed to wsp")
	}
}

func (l *Layer) handleInvokeInd(ev *wapevent.Event) {
	p, err := UnpackPDU(ev.UserData)
	if err != nil {
		l.log.Warn().Err(err).Stringer("addr", ev.Addr).Msg("dropping wsp pdu")
		l.abortTransaction(ev.Handle, AbortProtoErr)
		return
	}
	switch t := PDUType(p); {
	case t == PDUConnect:
		l.handleConnect(ev, p)
	case t == PDUDisconnect:
		l.handleDisconnect(ev, p)
	case t == PDUSuspend:
		l.handleSuspend(ev, p)
	case t == PDUResume:
		l.handleResume(ev, p)
	case t&0xf0 == PDUGet || t&0xf0 == PDUPost:
		l.handleMethod(ev, p, t)
	default:
		l.log.Warn().Str("pdu", p.Def.Name).Msg("client sent a server-only pdu")
		l.abortTransaction(ev.Handle, AbortProtoErr)
	}
}

// abortTransaction tells WTP to abort a transaction with a WSP reason.
func (l *Layer) abortTransaction(handle uint32, reason uint8) {
	if handle == 0 {
		return // class 0 carried it; nothing to abort
	}
	ab := wapevent.New(wapevent.TRAbortReq)
	ab.Handle = handle
	ab.AbortReason = reason
	l.out.Lower(ab)
}

func (l *Layer) handleConnect(ev *wapevent.Event, p *pducodec.PDU) {
	if old := l.lookupAddr(ev.Addr); old != nil {
		// a new connect replaces whatever session the tuple had
		l.destroySession(old, true)
	}
	proposed := ParseCapabilities(p.Bytes("caps"))
	limit := Capabilities{
		ClientSDUSize:   l.cfg.MaxClientSDUSize,
		ServerSDUSize:   l.cfg.MaxServerSDUSize,
		ProtocolOptions: l.cfg.ProtocolOptions,
	}

	l.mu.Lock()
	l.nextSession++
	s := &Session{
		id:            l.nextSession,
		addr:          ev.Addr,
		state:         SessionConnecting,
		caps:          proposed.Negotiate(limit),
		connectHandle: ev.Handle,
		methods:       make(map[uint32]*methodMachine),
		pushes:        make(map[uint32]*pushMachine),
	}
	l.sessions[ev.Addr] = s
	l.byID[s.id] = s
	l.connects[ev.Handle] = s
	l.mu.Unlock()

	l.log.Debug().Uint32("session", s.id).Stringer("addr", ev.Addr).Msg("session connecting")

	ind := wapevent.New(wapevent.SConnectInd)
	ind.Addr = ev.Addr
	ind.SessionID = s.id
	ind.Handle = ev.Handle
	ind.ClientSDUSize = s.caps.ClientSDUSize
	ind.ServerSDUSize = s.caps.ServerSDUSize
	ind.Headers = p.Bytes("headers")
	l.out.App(ind)
}

func (l *Layer) handleConnectRes(ev *wapevent.Event) {
	s := l.lookupID(ev.SessionID)
	if s == nil || s.state != SessionConnecting {
		return
	}
	reply := NewConnectReply(s.id, PackCapabilities(s.caps), octstr.Empty())
	l.sendResult(s.connectHandle, reply)
}

func (l *Layer) handleMethod(ev *wapevent.Event, p *pducodec.PDU, code uint8) {
	s := l.lookupAddr(ev.Addr)
	if s == nil || s.state != SessionConnected {
		l.abortTransaction(ev.Handle, AbortDisconnect)
		return
	}
	m := &methodMachine{
		handle:  ev.Handle,
		state:   MethodProcessing,
		session: s,
		method:  MethodName(code),
		uri:     p.Bytes("uri").String(),
		started: time.Now(),
	}
	l.mu.Lock()
	l.methods[ev.Handle] = m
	s.methods[ev.Handle] = m
	l.mu.Unlock()

	res := wapevent.New(wapevent.TRInvokeRes)
	res.Handle = ev.Handle
	l.out.Lower(res)

	ind := wapevent.New(wapevent.SMethodInvokeInd)
	ind.Addr = ev.Addr
	ind.SessionID = s.id
	ind.Handle = ev.Handle
	ind.Method = m.method
	ind.URI = m.uri
	ind.Headers = p.Bytes("headers")
	ind.UserData = p.Bytes("data")
	l.out.App(ind)
}

func (l *Layer) handleMethodResultReq(ev *wapevent.Event) {
	m := l.lookupMethod(ev.Handle)
	if m == nil || m.state != MethodProcessing {
		return
	}
	reply := NewReply(MapStatus(ev.Status), ev.Headers, ev.UserData)
	m.state = MethodReplying
	l.sendResult(m.handle, reply)
}

func (l *Layer) handleResultCnf(ev *wapevent.Event) {
	if m := l.lookupMethod(ev.Handle); m != nil {
		if m.state != MethodReplying {
			return
		}
		m.state = MethodCompleted
		observability.RecordMethodDuration(time.Since(m.started))
		l.removeMethod(m)
		cnf := wapevent.New(wapevent.SMethodResultCnf)
		cnf.SessionID = m.session.id
		cnf.Handle = m.handle
		l.out.App(cnf)
		return
	}
	if s := l.takeConnect(ev.Handle); s != nil {
		switch s.state {
		case SessionConnecting:
			s.state = SessionConnected
			observability.SessionOpened()
			l.log.Info().Uint32("session", s.id).Stringer("addr", s.addr).Msg("session connected")
		case SessionResuming:
			s.state = SessionConnected
			l.log.Info().Uint32("session", s.id).Msg("session resumed")
		}
	}
}

func (l *Layer) handleDisconnect(ev *wapevent.Event, p *pducodec.PDU) {
	s := l.lookupAddr(ev.Addr)
	if s == nil || p.Uint("sessionid") != s.id {
		return
	}
	l.destroySession(s, true)
}

func (l *Layer) handleDisconnectReq(ev *wapevent.Event) {
	s := l.lookupID(ev.SessionID)
	if s == nil {
		return
	}
	// server-initiated disconnect rides a class 0 invoke
	packed, err := PackPDU(NewDisconnect(s.id))
	if err == nil {
		req := wapevent.New(wapevent.TRInvokeReq)
		req.Addr = s.addr
		req.Class = 0
		req.UserData = packed
		l.out.Lower(req)
	}
	l.destroySession(s, false)
}

func (l *Layer) handleSuspend(ev *wapevent.Event, p *pducodec.PDU) {
	s := l.lookupAddr(ev.Addr)
	if s == nil || p.Uint("sessionid") != s.id {
		return
	}
	if s.state != SessionConnected {
		return
	}
	s.state = SessionSuspended
	l.abortMethods(s, AbortSuspend)
	ind := wapevent.New(wapevent.SSuspendInd)
	ind.SessionID = s.id
	ind.Addr = s.addr
	l.out.App(ind)
	l.log.Debug().Uint32("session", s.id).Msg("session suspended")
}

func (l *Layer) handleResume(ev *wapevent.Event, p *pducodec.PDU) {
	s := l.lookupID(p.Uint("sessionid"))
	if s == nil || (s.state != SessionSuspended && s.state != SessionConnected) {
		l.abortTransaction(ev.Handle, AbortDisconnect)
		return
	}
	// the peer may resume from a different address tuple
	l.mu.Lock()
	delete(l.sessions, s.addr)
	s.addr = ev.Addr
	l.sessions[ev.Addr] = s
	s.state = SessionResuming
	s.connectHandle = ev.Handle
	l.connects[ev.Handle] = s
	l.mu.Unlock()

	ind := wapevent.New(wapevent.SResumeInd)
	ind.SessionID = s.id
	ind.Handle = ev.Handle
	ind.Addr = ev.Addr
	l.out.App(ind)
}

func (l *Layer) handleResumeRes(ev *wapevent.Event) {
	s := l.lookupID(ev.SessionID)
	if s == nil || s.state != SessionResuming {
		return
	}
	l.sendResult(s.connectHandle, NewReply(StatusOK, octstr.Empty(), octstr.Empty()))
}

func (l *Layer) handlePushReq(ev *wapevent.Event) {
	s := l.lookupID(ev.SessionID)
	if s == nil || s.state != SessionConnected {
		l.pushAbort(ev.PushID, AbortDisconnect)
		return
	}
	packed, err := PackPDU(NewPush(ev.Headers, ev.UserData))
	if err != nil {
		l.pushAbort(ev.PushID, AbortProtoErr)
		return
	}
	req := wapevent.New(wapevent.TRInvokeReq)
	req.Addr = s.addr
	req.Class = 0
	req.UserData = packed
	l.out.Lower(req)
	observability.RecordPush("unconfirmed")
}

func (l *Layer) handleConfirmedPushReq(ev *wapevent.Event) {
	s := l.lookupID(ev.SessionID)
	if s == nil || s.state != SessionConnected {
		l.pushAbort(ev.PushID, AbortDisconnect)
		return
	}
	packed, err := PackPDU(NewConfirmedPush(ev.Headers, ev.UserData))
	if err != nil {
		l.pushAbort(ev.PushID, AbortProtoErr)
		return
	}

	l.mu.Lock()
	id := ev.PushID // the requester may bring its own reference
	if id == 0 {
		l.nextPush++
		id = l.nextPush
	}
	pm := &pushMachine{id: id, session: s}
	l.pushes[pm.id] = pm
	s.pushes[pm.id] = pm
	l.mu.Unlock()

	req := wapevent.New(wapevent.TRInvokeReq)
	req.Addr = s.addr
	req.Class = 1
	req.PushID = pm.id
	req.UserData = packed
	l.out.Lower(req)
	observability.RecordPush("submitted")
}

func (l *Layer) handleInvokeCnf(ev *wapevent.Event) {
	pm := l.takePush(ev.PushID)
	if pm == nil {
		return
	}
	observability.RecordPush("confirmed")
	cnf := wapevent.New(wapevent.PoConfirmedPushCnf)
	cnf.PushID = pm.id
	cnf.SessionID = pm.session.id
	l.out.Push(cnf)
}

func (l *Layer) handleAbortInd(ev *wapevent.Event) {
	if m := l.lookupMethod(ev.Handle); m != nil {
		l.removeMethod(m)
		ab := wapevent.New(wapevent.SMethodAbortInd)
		ab.SessionID = m.session.id
		ab.Handle = m.handle
		ab.AbortType = ev.AbortType
		ab.AbortReason = ev.AbortReason
		l.out.App(ab)
		return
	}
	if s := l.takeConnect(ev.Handle); s != nil {
		l.destroySession(s, true)
		return
	}
	if ev.PushID != 0 {
		if pm := l.takePush(ev.PushID); pm != nil {
			observability.RecordPush("aborted")
			ab := wapevent.New(wapevent.PoPushAbortInd)
			ab.PushID = pm.id
			ab.SessionID = pm.session.id
			ab.AbortReason = ev.AbortReason
			l.out.Push(ab)
		}
	}
}

// sendResult hands a packed WSP PDU to WTP as the transaction result.
func (l *Layer) sendResult(handle uint32, p *pducodec.PDU) {
	packed, err := PackPDU(p)
	if err != nil {
		panic("wsp: pack failed: " + err.Error())
	}
	req := wapevent.New(wapevent.TRResultReq)
	req.Handle = handle
	req.UserData = packed
	l.out.Lower(req)
}

// abortMethods aborts every in-flight method of the session, both toward
// WTP and toward the application.
func (l *Layer) abortMethods(s *Session, reason uint8) {
	l.mu.Lock()
	ms := make([]*methodMachine, 0, len(s.methods))
	for _, m := range s.methods {
		ms = append(ms, m)
		delete(l.methods, m.handle)
	}
	s.methods = make(map[uint32]*methodMachine)
	l.mu.Unlock()

	for _, m := range ms {
		l.abortTransaction(m.handle, reason)
		ab := wapevent.New(wapevent.SMethodAbortInd)
		ab.SessionID = s.id
		ab.Handle = m.handle
		ab.AbortType = 0x01
		ab.AbortReason = reason
		l.out.App(ab)
	}
}

// destroySession tears the session down, aborting its transactions. When
// indicate is set the application gets S-Disconnect.ind.
func (l *Layer) destroySession(s *Session, indicate bool) {
	l.abortMethods(s, AbortDisconnect)

	l.mu.Lock()
	pushes := make([]*pushMachine, 0, len(s.pushes))
	for _, pm := range s.pushes {
		pushes = append(pushes, pm)
		delete(l.pushes, pm.id)
	}
	s.pushes = make(map[uint32]*pushMachine)
	delete(l.sessions, s.addr)
	delete(l.byID, s.id)
	delete(l.connects, s.connectHandle)
	wasLive := s.state == SessionConnected || s.state == SessionSuspended ||
		s.state == SessionResuming
	s.state = SessionNull
	l.mu.Unlock()

	for _, pm := range pushes {
		observability.RecordPush("aborted")
		ab := wapevent.New(wapevent.PoPushAbortInd)
		ab.PushID = pm.id
		ab.SessionID = s.id
		ab.AbortReason = AbortDisconnect
		l.out.Push(ab)
	}
	if wasLive {
		observability.SessionClosed()
	}
	if indicate {
		ind := wapevent.New(wapevent.SDisconnectInd)
		ind.SessionID = s.id
		ind.Addr = s.addr
		l.out.App(ind)
	}
	l.log.Debug().Uint32("session", s.id).Msg("session destroyed")
}

func (l *Layer) lookupAddr(addr wapevent.Addr) *Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessions[addr]
}

func (l *Layer) lookupID(id uint32) *Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byID[id]
}

func (l *Layer) lookupMethod(handle uint32) *methodMachine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.methods[handle]
}

func (l *Layer) removeMethod(m *methodMachine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.methods, m.handle)
	delete(m.session.methods, m.handle)
}

// takeConnect removes and returns the session whose Connect or Resume
// reply rides the handle.
func (l *Layer) takeConnect(handle uint32) *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.connects[handle]
	delete(l.connects, handle)
	return s
}

func (l *Layer) takePush(id uint32) *pushMachine {
	l.mu.Lock()
	defer l.mu.Unlock()
	pm := l.pushes[id]
	if pm != nil {
		delete(l.pushes, id)
		delete(pm.session.pushes, id)
	}
	return pm
}

func (l *Layer) pushAbort(id uint32, reason uint8) {
	observability.RecordPush("aborted")
	ab := wapevent.New(wapevent.PoPushAbortInd)
	ab.PushID = id
	ab.AbortReason = reason
	l.out.Push(ab)
}
