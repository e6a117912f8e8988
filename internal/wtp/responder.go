package wtp

import (
	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/pducodec"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// handleInvoke processes an incoming Invoke PDU: duplicate suppression,
// header validation, TID verification, then machine creation. A duplicate
// with rid set never re-delivers an indication, it only re-arms the ack
// logic.
func (l *Layer) handleInvoke(addr wapevent.Addr, p *pducodec.PDU) {
	tid := uint16(p.Uint("tid"))
	key := machineKey{addr: addr, tid: tid}
	if m := l.lookupResponder(key); m != nil {
		if !p.Flag("rid") {
			return
		}
		switch m.state {
		case StateTIDVerifyWait:
			l.resend(m) // repeat the TIDve ack
		case StateResultResp:
			l.resend(m) // repeat the result
		case StateRcvInvoke, StateResultWait:
			l.sendPDU(addr, NewAck(SendTID(tid), false))
		}
		return
	}

	if p.Uint("version") != 0 {
		l.sendAbort(addr, tid, AbortProvider, AbortWTPVersionZero)
		return
	}
	class := int(p.Uint("class"))
	if class > 2 {
		l.sendAbort(addr, tid, AbortProvider, AbortNotImplCl2)
		return
	}
	data := p.Bytes("data")
	segmented := !p.Flag("ttr")

	if class != 0 && l.tids.needsVerify(addr, tid, p.Flag("tidnew")) {
		m := l.newMachine(RoleResponder, addr, tid, class)
		m.uack = p.Flag("uack")
		if !l.insert(m) {
			return
		}
		m.state = StateTIDVerifyWait
		if segmented {
			l.sarFeed(m, 0, p.Flag("gtr"), false, data, false)
		} else {
			m.holdData = data
		}
		m.lastSent = l.sendPDU(addr, NewAck(SendTID(tid), true))
		// bound the handshake so an unresponsive peer cannot park a machine
		m.timer.Start(l.cfg.WaitTimeout, l.timerEvent(wapevent.TimerTOW, m))
		return
	}

	m := l.newMachine(RoleResponder, addr, tid, class)
	m.uack = p.Flag("uack")
	if !l.insert(m) {
		return
	}
	l.tids.accept(addr, tid)
	if segmented {
		m.state = StateRcvInvoke
		l.sarFeed(m, 0, p.Flag("gtr"), false, data, false)
		return
	}
	l.deliverInvoke(m, data)
}

func (l *Layer) lookupResponder(key machineKey) *Machine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.responders[key]
}

func (l *Layer) lookupInitiator(key machineKey) *Machine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initiators[key]
}

// deliverInvoke raises TR-Invoke.ind with the complete SDU. Class 0 keeps
// no state beyond the indication.
func (l *Layer) deliverInvoke(m *Machine, data *octstr.Octstr) {
	ev := wapevent.New(wapevent.TRInvokeInd)
	ev.Addr = m.addr()
	ev.TID = m.tid()
	ev.Class = m.class
	ev.UAck = m.uack
	ev.Handle = m.handle
	ev.UserData = data
	l.toUpper(ev)
	if m.class == 0 {
		l.destroyMachine(m)
		return
	}
	m.state = StateRcvInvoke
	m.aec = 0
	m.timer.Start(l.cfg.AckInterval, l.timerEvent(wapevent.TimerTOA, m))
}

// ackWaitExpired fires while the user has not yet answered an indicated
// invoke: send a hold-on ack so the peer stops retransmitting, give up
// after MaxAckWaits.
func (l *Layer) ackWaitExpired(m *Machine) {
	if m.state != StateRcvInvoke {
		return
	}
	m.aec++
	if m.aec > l.cfg.MaxAckWaits {
		l.sendAbort(m.addr(), m.tid(), AbortProvider, AbortNoResponse)
		l.abortUp(m, AbortProvider, AbortNoResponse)
		return
	}
	m.lastSent = l.sendPDU(m.addr(), NewAck(SendTID(m.tid()), false))
	m.timer.Start(l.cfg.AckInterval, l.timerEvent(wapevent.TimerTOA, m))
}

// handleInvokeRes is the user acknowledging TR-Invoke.ind.
func (l *Layer) handleInvokeRes(ev *wapevent.Event) {
	m := l.lookupHandle(ev.Handle)
	if m == nil || m.role != RoleResponder || m.state != StateRcvInvoke {
		return
	}
	m.timer.Stop()
	m.lastSent = l.sendPDU(m.addr(), NewAck(SendTID(m.tid()), false))
	if m.class == 1 {
		m.state = StateWaitTimeout
		m.timer.Start(l.cfg.WaitTimeout, l.timerEvent(wapevent.TimerTOW, m))
		return
	}
	m.state = StateResultWait
}

// handleResultReq is the user producing the transaction result; it starts
// retransmission, segmenting first when the SDU exceeds the segment size.
func (l *Layer) handleResultReq(ev *wapevent.Event) {
	m := l.lookupHandle(ev.Handle)
	if m == nil || m.role != RoleResponder {
		return
	}
	if m.state != StateRcvInvoke && m.state != StateResultWait {
		return
	}
	m.timer.Stop()
	data := ev.UserData
	if data.Len() > l.cfg.SegSize {
		l.sarStartOut(m, data, true)
	} else {
		m.lastSent = l.sendPDU(m.addr(), NewResult(SendTID(m.tid()), true, true, data))
	}
	m.rcr = 0
	m.state = StateResultResp
	m.timer.Start(l.cfg.RetransmitInterval, l.timerEvent(wapevent.TimerTOR, m))
}

// respAck handles an Ack addressed to a responder machine.
func (l *Layer) respAck(m *Machine, p *pducodec.PDU) {
	if p.Flag("tidverify") {
		if m.state != StateTIDVerifyWait {
			return
		}
		// TIDok: the handshake settled, release the parked invoke
		l.tids.accept(m.addr(), m.tid())
		m.timer.Stop()
		if m.sarIn != nil {
			m.state = StateRcvInvoke
			if m.sarIn.complete() {
				data := m.sarIn.assemble()
				m.sarIn = nil
				l.deliverInvoke(m, data)
			}
			return
		}
		data := m.holdData
		m.holdData = nil
		l.deliverInvoke(m, data)
		return
	}
	if m.sarOut != nil && !m.sarOut.done {
		l.sarGroupAcked(m)
		return
	}
	if m.state == StateResultResp {
		m.timer.Stop()
		m.sarOut = nil
		ev := wapevent.New(wapevent.TRResultCnf)
		ev.Addr = m.addr()
		ev.TID = m.tid()
		ev.Handle = m.handle
		ev.PushID = m.upperRef
		l.toUpper(ev)
		m.state = StateWaitTimeout
		m.timer.Start(l.cfg.WaitTimeout, l.timerEvent(wapevent.TimerTOW, m))
	}
}
