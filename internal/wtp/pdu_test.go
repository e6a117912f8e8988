package wtp

import (
	"errors"
	"testing"

	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/pducodec"
	"github.com/teleguys/kannel-sub001/internal/testutil/testlog"
)

func TestInvokeRoundTrip(t *testing.T) {
	testlog.Start(t)

	data := octstr.FromString("hello there")
	p := NewInvoke(0x8042, 2, true, true, true, true, data)
	packed, err := PackPDU(p)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	q, err := UnpackPDU(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if PDUType(q) != PDUInvoke {
		t.Fatalf("type = %d, want invoke", PDUType(q))
	}
	if got := q.Uint("tid"); got != 0x8042 {
		t.Fatalf("tid = %#x, want 0x8042", got)
	}
	if got := q.Uint("class"); got != 2 {
		t.Fatalf("class = %d, want 2", got)
	}
	if !q.Flag("uack") || !q.Flag("tidnew") || !q.Flag("gtr") || !q.Flag("ttr") {
		t.Fatalf("flags lost: uack=%v tidnew=%v gtr=%v ttr=%v",
			q.Flag("uack"), q.Flag("tidnew"), q.Flag("gtr"), q.Flag("ttr"))
	}
	if q.Flag("rid") {
		t.Fatalf("rid set on first transmission")
	}
	if !q.Bytes("data").Equal(data) {
		t.Fatalf("data = %q, want %q", q.Bytes("data").String(), data.String())
	}
}

func TestResultAndSegmentRoundTrip(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		pdu  *pducodec.PDU
		typ  uint32
	}{
		{"result", NewResult(0x0007, false, true, octstr.FromString("body")), PDUResult},
		{"seg_invoke", NewSegmentedInvoke(0x0007, 3, true, false, octstr.FromString("seg")), PDUSegmentedInvoke},
		{"seg_result", NewSegmentedResult(0x0007, 9, false, true, octstr.FromString("seg")), PDUSegmentedResult},
	}
	for _, c := range cases {
		packed, err := PackPDU(c.pdu)
		if err != nil {
			t.Fatalf("%s: pack: %v", c.name, err)
		}
		q, err := UnpackPDU(packed)
		if err != nil {
			t.Fatalf("%s: unpack: %v", c.name, err)
		}
		if PDUType(q) != c.typ {
			t.Fatalf("%s: type = %d, want %d", c.name, PDUType(q), c.typ)
		}
		if q.Uint("tid") != 0x0007 {
			t.Fatalf("%s: tid = %#x", c.name, q.Uint("tid"))
		}
		if !q.Bytes("data").Equal(c.pdu.Bytes("data")) {
			t.Fatalf("%s: data mismatch", c.name)
		}
	}
}

func TestAbortRoundTrip(t *testing.T) {
	testlog.Start(t)

	packed, err := PackPDU(NewAbort(0x8111, AbortProvider, AbortNoResponse))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	q, err := UnpackPDU(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got := uint8(q.Uint("abort_type")); got != AbortProvider {
		t.Fatalf("abort_type = %d", got)
	}
	if got := uint8(q.Uint("abort_reason")); got != AbortNoResponse {
		t.Fatalf("abort_reason = %#x, want NORESPONSE", got)
	}
}

func TestNegativeAckRoundTrip(t *testing.T) {
	testlog.Start(t)

	packed, err := PackPDU(NewNegativeAck(0x0033, []uint8{1, 4, 5}))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	q, err := UnpackPDU(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got := q.Uint("nmissing"); got != 3 {
		t.Fatalf("nmissing = %d, want 3", got)
	}
	if !q.Bytes("missing").EqualString("\x01\x04\x05") {
		t.Fatalf("missing = % x", q.Bytes("missing").Bytes())
	}
}

func TestGroupAckCarriesPSNTPI(t *testing.T) {
	testlog.Start(t)

	packed, err := PackPDU(NewGroupAck(0x8001, 6))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	q, err := UnpackPDU(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !q.Flag("con") {
		t.Fatalf("con clear on a PDU carrying a TPI")
	}
	if len(q.TPIs) != 1 {
		t.Fatalf("tpis = %d, want 1", len(q.TPIs))
	}
	tpi := q.TPIs[0]
	if tpi.Kind != TPIPSN {
		t.Fatalf("tpi kind = %d, want %d", tpi.Kind, TPIPSN)
	}
	if tpi.Data.Len() != 1 {
		t.Fatalf("tpi len = %d", tpi.Data.Len())
	}
	if b, _ := tpi.Data.At(0); b != 6 {
		t.Fatalf("tpi psn = %d, want 6", b)
	}
}

func TestSendTIDIsItsOwnInverse(t *testing.T) {
	for _, tid := range []uint16{0, 1, 0x7fff, 0x8000, 0xffff, 0x1234} {
		if SendTID(SendTID(tid)) != tid {
			t.Fatalf("send mapping not involutive for %#x", tid)
		}
		if SendTID(tid) == tid {
			t.Fatalf("send mapping fixed point at %#x", tid)
		}
	}
}

func TestUnpackRejectsUnknownType(t *testing.T) {
	// type bits 1..4 zero: not a defined PDU
	_, err := UnpackPDU(octstr.New([]byte{0x06, 0x00, 0x00}))
	if !errors.Is(err, ErrUnknownPDUType) {
		t.Fatalf("err = %v, want ErrUnknownPDUType", err)
	}
}

func TestUnpackRejectsTruncated(t *testing.T) {
	// an Abort cut short of its reason octet
	_, err := UnpackPDU(octstr.New([]byte{0x20, 0x81}))
	if !errors.Is(err, pducodec.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestConcatenationRoundTrip(t *testing.T) {
	testlog.Start(t)

	a, _ := PackPDU(NewAck(0x8001, false))
	b, _ := PackPDU(NewAbort(0x8002, AbortUser, 0xe0))
	c, _ := PackPDU(NewInvoke(0x8003, 1, false, false, true, true, octstr.FromString("x")))

	joined := JoinDatagrams([]*octstr.Octstr{a, b, c})
	if first, _ := joined.At(0); first != 0x00 {
		t.Fatalf("concatenated datagram must start with the indicator octet")
	}
	parts, err := SplitDatagram(joined)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	for i, want := range []*octstr.Octstr{a, b, c} {
		if !parts[i].Equal(want) {
			t.Fatalf("part %d does not round-trip", i)
		}
	}
}

func TestSplitPassesSinglePDUThrough(t *testing.T) {
	a, _ := PackPDU(NewAck(0x8001, true))
	parts, err := SplitDatagram(a)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(parts) != 1 || !parts[0].Equal(a) {
		t.Fatalf("single pdu mangled")
	}
}

func TestSplitRejectsMalformed(t *testing.T) {
	cases := [][]byte{
		{},                       // empty datagram
		{0x00},                   // indicator with no payload
		{0x00, 0x05, 0x18, 0x80}, // length past the end
		{0x00, 0x00},             // zero-length entry
		{0x00, 0x81},             // truncated two-octet length
	}
	for i, raw := range cases {
		if _, err := SplitDatagram(octstr.New(raw)); !errors.Is(err, ErrBadConcat) {
			t.Fatalf("case %d: err = %v, want ErrBadConcat", i, err)
		}
	}
}
