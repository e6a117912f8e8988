package wsp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/pducodec"
	"github.com/teleguys/kannel-sub001/internal/testutil/testlog"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

type capture struct {
	ch chan *wapevent.Event
}

func newCapture() *capture {
	return &capture{ch: make(chan *wapevent.Event, 64)}
}

func (c *capture) dispatch(ev *wapevent.Event) {
	c.ch <- ev
}

func (c *capture) next(t *testing.T) *wapevent.Event {
	t.Helper()
	select {
	case ev := <-c.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event dispatched")
		return nil
	}
}

func (c *capture) expect(t *testing.T, kind wapevent.Kind) *wapevent.Event {
	t.Helper()
	ev := c.next(t)
	if ev.Kind != kind {
		t.Fatalf("event = %v, want %v", ev.Kind, kind)
	}
	return ev
}

func (c *capture) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-c.ch:
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(d):
	}
}

type harness struct {
	l     *Layer
	lower *capture
	app   *capture
	push  *capture
	unit  *capture
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	testlog.Start(t)
	h := &harness{
		l:     New(DefaultConfig(), log.Logger),
		lower: newCapture(),
		app:   newCapture(),
		push:  newCapture(),
		unit:  newCapture(),
	}
	h.l.Start(Dispatchers{
		Lower: h.lower.dispatch,
		App:   h.app.dispatch,
		Push:  h.push.dispatch,
		Unit:  h.unit.dispatch,
	})
	t.Cleanup(h.l.Shutdown)
	return h
}

func testAddr(port uint16) wapevent.Addr {
	return wapevent.Addr{
		Local:  netip.MustParseAddrPort("192.0.2.1:9201"),
		Remote: netip.AddrPortFrom(netip.MustParseAddr("192.0.2.20"), port),
	}
}

// invokeInd feeds a TR-Invoke.ind carrying a packed WSP PDU.
func invokeInd(t *testing.T, l *Layer, addr wapevent.Addr, handle uint32, class int, p *pducodec.PDU) {
	t.Helper()
	packed, err := PackPDU(p)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	ev := wapevent.New(wapevent.TRInvokeInd)
	ev.Addr = addr
	ev.Handle = handle
	ev.Class = class
	ev.UserData = packed
	l.Dispatch(ev)
}

// unwrap decodes the WSP PDU inside an outbound WTP request event.
func unwrap(t *testing.T, ev *wapevent.Event) *pducodec.PDU {
	t.Helper()
	p, err := UnpackPDU(ev.UserData)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	return p
}

// connect drives a full session establishment and returns the session id.
func (h *harness) connect(t *testing.T, addr wapevent.Addr, handle uint32) uint32 {
	t.Helper()
	invokeInd(t, h.l, addr, handle, 2, NewConnect(0x10, octstr.Empty(), octstr.Empty()))
	ind := h.app.expect(t, wapevent.SConnectInd)

	res := wapevent.New(wapevent.SConnectRes)
	res.SessionID = ind.SessionID
	res.Handle = ind.Handle
	h.l.Dispatch(res)

	result := h.lower.expect(t, wapevent.TRResultReq)
	if result.Handle != handle {
		t.Fatalf("reply handle = %d, want %d", result.Handle, handle)
	}
	reply := unwrap(t, result)
	if PDUType(reply) != PDUConnectReply {
		t.Fatalf("reply pdu = %s", reply.Def.Name)
	}
	if reply.Uint("sessionid") != ind.SessionID {
		t.Fatalf("reply session = %d, want %d", reply.Uint("sessionid"), ind.SessionID)
	}

	cnf := wapevent.New(wapevent.TRResultCnf)
	cnf.Handle = handle
	h.l.Dispatch(cnf)
	return ind.SessionID
}

func TestConnectHandshake(t *testing.T) {
	h := newHarness(t)
	sid := h.connect(t, testAddr(50100), 101)
	if sid == 0 {
		t.Fatalf("session id not assigned")
	}
	if h.l.SessionCount() != 1 {
		t.Fatalf("session count = %d", h.l.SessionCount())
	}
}

func TestConnectNegotiatesCapabilities(t *testing.T) {
	h := newHarness(t)
	caps := PackCapabilities(Capabilities{ClientSDUSize: 60000, ServerSDUSize: 800})
	invokeInd(t, h.l, testAddr(50101), 102, 2, NewConnect(0x10, caps, octstr.Empty()))
	ind := h.app.expect(t, wapevent.SConnectInd)
	if ind.ClientSDUSize != DefaultConfig().MaxClientSDUSize {
		t.Fatalf("client sdu = %d, want clamped", ind.ClientSDUSize)
	}
	if ind.ServerSDUSize != 800 {
		t.Fatalf("server sdu = %d, want 800", ind.ServerSDUSize)
	}
}

func TestMethodFlowMapsStatus(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(50102)
	sid := h.connect(t, addr, 103)

	invokeInd(t, h.l, addr, 210, 2, NewGet(0x40, "http://wap.example/large.wml", octstr.Empty()))
	if res := h.lower.expect(t, wapevent.TRInvokeRes); res.Handle != 210 {
		t.Fatalf("invoke res handle = %d", res.Handle)
	}
	ind := h.app.expect(t, wapevent.SMethodInvokeInd)
	if ind.SessionID != sid || ind.Method != "GET" {
		t.Fatalf("ind session=%d method=%q", ind.SessionID, ind.Method)
	}
	if ind.URI != "http://wap.example/large.wml" {
		t.Fatalf("uri = %q", ind.URI)
	}

	req := wapevent.New(wapevent.SMethodResultReq)
	req.Handle = 210
	req.Status = 413 // entity too large maps to 0x4d
	req.Headers = PackReplyHeaders("text/plain", nil)
	req.UserData = octstr.FromString("too large")
	h.l.Dispatch(req)

	result := h.lower.expect(t, wapevent.TRResultReq)
	reply := unwrap(t, result)
	if uint8(reply.Uint("status")) != 0x4d {
		t.Fatalf("wsp status = %#x, want 0x4d", reply.Uint("status"))
	}

	cnf := wapevent.New(wapevent.TRResultCnf)
	cnf.Handle = 210
	h.l.Dispatch(cnf)
	mc := h.app.expect(t, wapevent.SMethodResultCnf)
	if mc.SessionID != sid {
		t.Fatalf("cnf session = %d", mc.SessionID)
	}
}

func TestUnmappedStatusBecomesServerError(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(50103)
	h.connect(t, addr, 104)

	invokeInd(t, h.l, addr, 211, 2, NewGet(0x40, "http://wap.example/tea", octstr.Empty()))
	h.lower.expect(t, wapevent.TRInvokeRes)
	h.app.expect(t, wapevent.SMethodInvokeInd)

	req := wapevent.New(wapevent.SMethodResultReq)
	req.Handle = 211
	req.Status = 418
	req.Headers = PackReplyHeaders("text/plain", nil)
	h.l.Dispatch(req)

	reply := unwrap(t, h.lower.expect(t, wapevent.TRResultReq))
	if uint8(reply.Uint("status")) != StatusServerError {
		t.Fatalf("wsp status = %#x, want %#x", reply.Uint("status"), StatusServerError)
	}
}

func TestMethodWithoutSessionAborted(t *testing.T) {
	h := newHarness(t)
	invokeInd(t, h.l, testAddr(50104), 212, 2, NewGet(0x40, "http://wap.example/", octstr.Empty()))
	ab := h.lower.expect(t, wapevent.TRAbortReq)
	if ab.Handle != 212 || ab.AbortReason != AbortDisconnect {
		t.Fatalf("abort handle=%d reason=%#x", ab.Handle, ab.AbortReason)
	}
	h.app.quiet(t, 50*time.Millisecond)
}

func TestClientDisconnectTearsDownSession(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(50105)
	sid := h.connect(t, addr, 105)

	invokeInd(t, h.l, addr, 300, 0, NewDisconnect(sid))
	ind := h.app.expect(t, wapevent.SDisconnectInd)
	if ind.SessionID != sid {
		t.Fatalf("disconnect session = %d", ind.SessionID)
	}
	if h.l.SessionCount() != 0 {
		t.Fatalf("session survived disconnect")
	}
}

func TestDisconnectAbortsOpenMethods(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(50106)
	sid := h.connect(t, addr, 106)

	invokeInd(t, h.l, addr, 301, 2, NewGet(0x40, "http://wap.example/slow", octstr.Empty()))
	h.lower.expect(t, wapevent.TRInvokeRes)
	h.app.expect(t, wapevent.SMethodInvokeInd)

	invokeInd(t, h.l, addr, 302, 0, NewDisconnect(sid))
	ab := h.lower.expect(t, wapevent.TRAbortReq)
	if ab.Handle != 301 || ab.AbortReason != AbortDisconnect {
		t.Fatalf("abort handle=%d reason=%#x", ab.Handle, ab.AbortReason)
	}
	mab := h.app.expect(t, wapevent.SMethodAbortInd)
	if mab.Handle != 301 {
		t.Fatalf("method abort handle = %d", mab.Handle)
	}
	h.app.expect(t, wapevent.SDisconnectInd)
}

func TestSuspendAndResume(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(50107)
	sid := h.connect(t, addr, 107)

	invokeInd(t, h.l, addr, 310, 0, NewSuspend(sid))
	sus := h.app.expect(t, wapevent.SSuspendInd)
	if sus.SessionID != sid {
		t.Fatalf("suspend session = %d", sus.SessionID)
	}

	// methods on a suspended session are refused
	invokeInd(t, h.l, addr, 311, 2, NewGet(0x40, "http://wap.example/", octstr.Empty()))
	if ab := h.lower.expect(t, wapevent.TRAbortReq); ab.Handle != 311 {
		t.Fatalf("abort handle = %d", ab.Handle)
	}

	// resume arrives from a new address tuple
	addr2 := testAddr(50108)
	invokeInd(t, h.l, addr2, 312, 2, NewResume(sid, octstr.Empty(), octstr.Empty()))
	rind := h.app.expect(t, wapevent.SResumeInd)
	if rind.SessionID != sid {
		t.Fatalf("resume session = %d", rind.SessionID)
	}

	res := wapevent.New(wapevent.SResumeRes)
	res.SessionID = sid
	h.l.Dispatch(res)
	reply := unwrap(t, h.lower.expect(t, wapevent.TRResultReq))
	if PDUType(reply) != PDUReply || uint8(reply.Uint("status")) != StatusOK {
		t.Fatalf("resume reply %s status=%#x", reply.Def.Name, reply.Uint("status"))
	}

	cnf := wapevent.New(wapevent.TRResultCnf)
	cnf.Handle = 312
	h.l.Dispatch(cnf)

	// the session now answers methods at the new tuple
	invokeInd(t, h.l, addr2, 313, 2, NewGet(0x40, "http://wap.example/", octstr.Empty()))
	h.lower.expect(t, wapevent.TRInvokeRes)
	mi := h.app.expect(t, wapevent.SMethodInvokeInd)
	if mi.SessionID != sid {
		t.Fatalf("method session = %d after resume", mi.SessionID)
	}
}

func TestConfirmedPushLifecycle(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(50109)
	sid := h.connect(t, addr, 108)

	req := wapevent.New(wapevent.SConfirmedPushReq)
	req.SessionID = sid
	req.Headers = PackReplyHeaders("text/vnd.wap.si", nil)
	req.UserData = octstr.FromString("si doc")
	h.l.Dispatch(req)

	inv := h.lower.expect(t, wapevent.TRInvokeReq)
	if inv.Class != 1 || inv.PushID == 0 {
		t.Fatalf("push invoke class=%d pushid=%d", inv.Class, inv.PushID)
	}
	if PDUType(unwrap(t, inv)) != PDUConfirmedPush {
		t.Fatalf("wrong pdu for confirmed push")
	}

	cnf := wapevent.New(wapevent.TRInvokeCnf)
	cnf.PushID = inv.PushID
	h.l.Dispatch(cnf)
	pc := h.push.expect(t, wapevent.PoConfirmedPushCnf)
	if pc.PushID != inv.PushID || pc.SessionID != sid {
		t.Fatalf("push cnf id=%d session=%d", pc.PushID, pc.SessionID)
	}
}

func TestConfirmedPushAbortReachesPushProxy(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(50110)
	sid := h.connect(t, addr, 109)

	req := wapevent.New(wapevent.SConfirmedPushReq)
	req.SessionID = sid
	req.UserData = octstr.FromString("si doc")
	h.l.Dispatch(req)
	inv := h.lower.expect(t, wapevent.TRInvokeReq)

	ab := wapevent.New(wapevent.TRAbortInd)
	ab.PushID = inv.PushID
	ab.AbortReason = 0x08
	h.l.Dispatch(ab)
	pa := h.push.expect(t, wapevent.PoPushAbortInd)
	if pa.PushID != inv.PushID {
		t.Fatalf("abort push id = %d", pa.PushID)
	}
}

func TestUnconfirmedPushIsClassZero(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(50111)
	sid := h.connect(t, addr, 110)

	req := wapevent.New(wapevent.SPushReq)
	req.SessionID = sid
	req.UserData = octstr.FromString("si doc")
	h.l.Dispatch(req)

	inv := h.lower.expect(t, wapevent.TRInvokeReq)
	if inv.Class != 0 {
		t.Fatalf("push class = %d, want 0", inv.Class)
	}
	if PDUType(unwrap(t, inv)) != PDUPush {
		t.Fatalf("wrong pdu for push")
	}
}

func TestPushToUnknownSessionAborted(t *testing.T) {
	h := newHarness(t)
	req := wapevent.New(wapevent.SConfirmedPushReq)
	req.SessionID = 999
	req.PushID = 5
	h.l.Dispatch(req)
	pa := h.push.expect(t, wapevent.PoPushAbortInd)
	if pa.PushID != 5 || pa.AbortReason != AbortDisconnect {
		t.Fatalf("abort id=%d reason=%#x", pa.PushID, pa.AbortReason)
	}
}

func TestUnitMethodFlow(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(50112)

	get, err := PackPDU(NewGet(0x40, "http://wap.example/u.wml", octstr.Empty()))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	dgram := octstr.Empty()
	dgram.AppendByte(0x2a)
	dgram.Append(get)
	ev := wapevent.New(wapevent.TDUnitdataInd)
	ev.Addr = addr
	ev.UserData = dgram
	h.l.Dispatch(ev)

	ind := h.app.expect(t, wapevent.SUnitMethodInvokeInd)
	if ind.TID != 0x2a || ind.Method != "GET" {
		t.Fatalf("unit ind tid=%#x method=%q", ind.TID, ind.Method)
	}

	res := wapevent.New(wapevent.SUnitMethodResultReq)
	res.Addr = addr
	res.TID = ind.TID
	res.Status = 200
	res.Headers = PackReplyHeaders("text/vnd.wap.wml", nil)
	res.UserData = octstr.FromString("<wml/>")
	h.l.Dispatch(res)

	out := h.unit.expect(t, wapevent.TDUnitdataReq)
	tid, _ := out.UserData.At(0)
	if tid != 0x2a {
		t.Fatalf("unit reply tid = %#x", tid)
	}
	reply, err := UnpackPDU(out.UserData.Slice(1, -1))
	if err != nil {
		t.Fatalf("unpack unit reply: %v", err)
	}
	if uint8(reply.Uint("status")) != StatusOK {
		t.Fatalf("unit status = %#x", reply.Uint("status"))
	}
	if !reply.Bytes("data").EqualString("<wml/>") {
		t.Fatalf("unit body = %q", reply.Bytes("data").String())
	}
}

func TestNewConnectReplacesExistingSession(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(50113)
	sid := h.connect(t, addr, 111)

	invokeInd(t, h.l, addr, 112, 2, NewConnect(0x10, octstr.Empty(), octstr.Empty()))
	// old session goes first, then the new one is indicated
	dis := h.app.expect(t, wapevent.SDisconnectInd)
	if dis.SessionID != sid {
		t.Fatalf("disconnected session = %d, want %d", dis.SessionID, sid)
	}
	ind := h.app.expect(t, wapevent.SConnectInd)
	if ind.SessionID == sid {
		t.Fatalf("session id reused")
	}
	if h.l.SessionCount() != 1 {
		t.Fatalf("session count = %d", h.l.SessionCount())
	}
}
