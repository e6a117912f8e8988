package wsp

import (
	"github.com/teleguys/kannel-sub001/internal/observability"
	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// Connectionless WSP: each datagram carries a one-octet transaction id
// followed by a WSP PDU, with no session around it.

func (l *Layer) handleUnitDatagram(ev *wapevent.Event) {
	tid, err := ev.UserData.At(0)
	if err != nil {
		l.log.Warn().Stringer("addr", ev.Addr).Msg("dropping empty unit datagram")
		return
	}
	ev.UserData.Delete(0, 1) // strip the transaction id octet
	p, err := UnpackPDU(ev.UserData)
	if err != nil {
		l.log.Warn().Err(err).Stringer("addr", ev.Addr).Msg("dropping unit pdu")
		return
	}
	t := PDUType(p)
	if t&0xf0 != PDUGet && t&0xf0 != PDUPost {
		l.log.Warn().Str("pdu", p.Def.Name).Msg("unit datagram carries a session pdu")
		return
	}
	ind := wapevent.New(wapevent.SUnitMethodInvokeInd)
	ind.Addr = ev.Addr
	ind.TID = uint16(tid)
	ind.Method = MethodName(t)
	ind.URI = p.Bytes("uri").String()
	ind.Headers = p.Bytes("headers")
	ind.UserData = p.Bytes("data")
	l.out.App(ind)
}

func (l *Layer) handleUnitMethodResultReq(ev *wapevent.Event) {
	if l.out.Unit == nil {
		l.log.Warn().Msg("unit reply without a connectionless transport")
		return
	}
	packed, err := PackPDU(NewReply(MapStatus(ev.Status), ev.Headers, ev.UserData))
	if err != nil {
		panic("wsp: pack failed: " + err.Error())
	}
	l.sendUnit(ev.Addr, uint8(ev.TID), packed)
}

func (l *Layer) handleUnitPushReq(ev *wapevent.Event) {
	if l.out.Unit == nil {
		l.log.Warn().Msg("unit push without a connectionless transport")
		return
	}
	packed, err := PackPDU(NewPush(ev.Headers, ev.UserData))
	if err != nil {
		panic("wsp: pack failed: " + err.Error())
	}
	observability.RecordPush("unconfirmed")
	l.sendUnit(ev.Addr, uint8(ev.TID), packed)
}

func (l *Layer) sendUnit(addr wapevent.Addr, tid uint8, pdu *octstr.Octstr) {
	out := octstr.Empty()
	out.AppendByte(tid)
	out.Append(pdu)
	req := wapevent.New(wapevent.TDUnitdataReq)
	req.Addr = addr
	req.UserData = out
	l.out.Unit(req)
}
