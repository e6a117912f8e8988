package wtp

import (
	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/pducodec"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// startInitiator handles TR-Invoke.req from the upper layer. Class 0 is
// fire-and-forget; classes 1 and 2 create a machine and retransmit the
// invoke until acknowledged.
func (l *Layer) startInitiator(ev *wapevent.Event) {
	class := ev.Class
	if class < 0 || class > 2 {
		l.log.Warn().Int("class", class).Msg("invoke request with bad class")
		return
	}
	if class == 0 {
		tid, tidnew := l.allocTID()
		l.sendPDU(ev.Addr, NewInvoke(SendTID(tid), 0, false, tidnew, true, true, ev.UserData))
		return
	}

	var m *Machine
	for attempt := 0; attempt < 64; attempt++ {
		tid, tidnew := l.allocTID()
		m = l.newMachine(RoleInitiator, ev.Addr, tid, class)
		m.tidnew = tidnew
		if l.insert(m) {
			break
		}
		m = nil
	}
	if m == nil {
		l.log.Error().Stringer("addr", ev.Addr).Msg("no free tid for invoke")
		abort := wapevent.New(wapevent.TRAbortInd)
		abort.Addr = ev.Addr
		abort.PushID = ev.PushID
		abort.AbortType = AbortProvider
		abort.AbortReason = AbortCapTempExceeded
		l.toUpper(abort)
		return
	}
	m.uack = ev.UAck
	m.upperRef = ev.PushID

	data := ev.UserData
	if data.Len() > l.cfg.SegSize {
		l.sarStartOut(m, data, false)
	} else {
		m.lastSent = l.sendPDU(ev.Addr,
			NewInvoke(SendTID(m.tid()), class, m.uack, m.tidnew, true, true, data))
	}
	m.rcr = 0
	m.state = StateResultWait
	m.timer.Start(l.cfg.RetransmitInterval, l.timerEvent(wapevent.TimerTOR, m))
}

// handleResult processes a Result PDU addressed to an initiator machine.
func (l *Layer) handleResult(addr wapevent.Addr, p *pducodec.PDU) {
	tid := uint16(p.Uint("tid"))
	m := l.lookupInitiator(machineKey{addr: addr, tid: tid})
	if m == nil {
		l.sendAbort(addr, tid, AbortProvider, AbortInvalidTID)
		return
	}
	if p.Flag("rid") && m.state == StateWaitTimeout {
		// duplicate result: repeat the ack, never the indication
		l.sendPDU(addr, NewAck(SendTID(tid), false))
		return
	}
	if m.state != StateResultWait && m.state != StateResultWaitAcked {
		return
	}
	if !p.Flag("ttr") {
		// segmented result begins; boundaries are acked from sarFeed
		m.timer.Stop()
		l.sarFeed(m, 0, p.Flag("gtr"), false, p.Bytes("data"), true)
		return
	}
	l.completeResult(m, p.Bytes("data"))
}

// completeResult delivers TR-Result.ind, acknowledges the result and
// holds the machine through the wait period for duplicate suppression.
func (l *Layer) completeResult(m *Machine, data *octstr.Octstr) {
	m.timer.Stop()
	ev := wapevent.New(wapevent.TRResultInd)
	ev.Addr = m.addr()
	ev.TID = m.tid()
	ev.Handle = m.handle
	ev.PushID = m.upperRef
	ev.UserData = data
	l.toUpper(ev)
	m.lastSent = l.sendPDU(m.addr(), NewAck(SendTID(m.tid()), false))
	m.state = StateWaitTimeout
	m.timer.Start(l.cfg.WaitTimeout, l.timerEvent(wapevent.TimerTOW, m))
}

// initAck handles an Ack addressed to an initiator machine.
func (l *Layer) initAck(m *Machine, p *pducodec.PDU) {
	if p.Flag("tidverify") {
		// the peer wants our TID verified; answer TIDok and keep waiting
		l.sendPDU(m.addr(), NewAck(SendTID(m.tid()), true))
		return
	}
	if m.sarOut != nil && !m.sarOut.done {
		l.sarGroupAcked(m)
		return
	}
	if m.state != StateResultWait {
		return
	}
	m.timer.Stop()
	m.sarOut = nil
	cnf := wapevent.New(wapevent.TRInvokeCnf)
	cnf.Addr = m.addr()
	cnf.TID = m.tid()
	cnf.Handle = m.handle
	cnf.PushID = m.upperRef
	l.toUpper(cnf)
	if m.class == 1 {
		// transaction complete; linger for duplicate acks
		m.state = StateWaitTimeout
		m.timer.Start(l.cfg.WaitTimeout, l.timerEvent(wapevent.TimerTOW, m))
		return
	}
	// class 2: hold-on ack, the result is still to come. The invoke is
	// confirmed exactly once; a peer that never delivers the result is
	// aborted when the wait timer fires.
	m.state = StateResultWaitAcked
	m.timer.Start(l.cfg.WaitTimeout, l.timerEvent(wapevent.TimerTOW, m))
}
