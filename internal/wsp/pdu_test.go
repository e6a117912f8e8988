package wsp

import (
	"errors"
	"testing"

	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/pducodec"
)

func TestConnectRoundTrip(t *testing.T) {
	caps := PackCapabilities(Capabilities{ClientSDUSize: 1024, ServerSDUSize: 1024})
	headers := PackHeaders([]Header{{"User-Agent", "TestPhone/1.0"}})
	packed, err := PackPDU(NewConnect(0x10, caps, headers))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	p, err := UnpackPDU(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if PDUType(p) != PDUConnect {
		t.Fatalf("type = %#x", PDUType(p))
	}
	if p.Uint("version") != 0x10 {
		t.Fatalf("version = %#x", p.Uint("version"))
	}
	if got := ParseCapabilities(p.Bytes("caps")); got.ClientSDUSize != 1024 {
		t.Fatalf("caps did not survive: %+v", got)
	}
	hs, err := UnpackHeaders(p.Bytes("headers"))
	if err != nil || len(hs) != 1 || hs[0].Value != "TestPhone/1.0" {
		t.Fatalf("headers = %+v, %v", hs, err)
	}
}

func TestConnectReplyRoundTrip(t *testing.T) {
	packed, err := PackPDU(NewConnectReply(42, PackCapabilities(DefaultCapabilities()), octstr.Empty()))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	p, err := UnpackPDU(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if PDUType(p) != PDUConnectReply || p.Uint("sessionid") != 42 {
		t.Fatalf("type=%#x sessionid=%d", PDUType(p), p.Uint("sessionid"))
	}
}

func TestReplyRoundTrip(t *testing.T) {
	headers := PackReplyHeaders("text/plain", nil)
	packed, err := PackPDU(NewReply(0x4d, headers, octstr.FromString("too large")))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	p, err := UnpackPDU(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if uint8(p.Uint("status")) != 0x4d {
		t.Fatalf("status = %#x", p.Uint("status"))
	}
	ct, _, err := UnpackReplyHeaders(p.Bytes("headers"))
	if err != nil || ct != "text/plain" {
		t.Fatalf("content type = %q, %v", ct, err)
	}
	if !p.Bytes("data").EqualString("too large") {
		t.Fatalf("data = %q", p.Bytes("data").String())
	}
}

func TestGetSubtypesNormalise(t *testing.T) {
	for _, c := range []struct {
		code uint8
		name string
	}{
		{0x40, "GET"},
		{0x42, "HEAD"},
		{0x43, "DELETE"},
	} {
		packed, err := PackPDU(NewGet(c.code, "http://wap.example/x.wml", octstr.Empty()))
		if err != nil {
			t.Fatalf("%s: pack: %v", c.name, err)
		}
		p, err := UnpackPDU(packed)
		if err != nil {
			t.Fatalf("%s: unpack: %v", c.name, err)
		}
		if PDUType(p) != c.code {
			t.Fatalf("%s: type = %#x", c.name, PDUType(p))
		}
		if MethodName(PDUType(p)) != c.name {
			t.Fatalf("method = %q, want %q", MethodName(PDUType(p)), c.name)
		}
		if !p.Bytes("uri").EqualString("http://wap.example/x.wml") {
			t.Fatalf("%s: uri = %q", c.name, p.Bytes("uri").String())
		}
	}
}

func TestPostCarriesBody(t *testing.T) {
	headers := PackHeaders([]Header{{"Content-Type", "application/x-www-form-urlencoded"}})
	packed, err := PackPDU(NewPost(0x60, "http://wap.example/submit", headers, octstr.FromString("a=1&b=2")))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	p, err := UnpackPDU(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if PDUType(p) != PDUPost {
		t.Fatalf("type = %#x", PDUType(p))
	}
	if !p.Bytes("data").EqualString("a=1&b=2") {
		t.Fatalf("body = %q", p.Bytes("data").String())
	}
	if !p.Bytes("uri").EqualString("http://wap.example/submit") {
		t.Fatalf("uri = %q", p.Bytes("uri").String())
	}
}

func TestSessionControlPDUs(t *testing.T) {
	for _, c := range []struct {
		pdu *pducodec.PDU
		typ uint8
	}{
		{NewDisconnect(7), PDUDisconnect},
		{NewSuspend(7), PDUSuspend},
		{NewResume(7, octstr.Empty(), octstr.Empty()), PDUResume},
	} {
		packed, err := PackPDU(c.pdu)
		if err != nil {
			t.Fatalf("pack %#x: %v", c.typ, err)
		}
		p, err := UnpackPDU(packed)
		if err != nil {
			t.Fatalf("unpack %#x: %v", c.typ, err)
		}
		if PDUType(p) != c.typ || p.Uint("sessionid") != 7 {
			t.Fatalf("type=%#x sessionid=%d", PDUType(p), p.Uint("sessionid"))
		}
	}
}

func TestPushPDUsRoundTrip(t *testing.T) {
	headers := PackReplyHeaders("text/vnd.wap.si", nil)
	for _, c := range []struct {
		pdu *pducodec.PDU
		typ uint8
	}{
		{NewPush(headers, octstr.FromString("si doc")), PDUPush},
		{NewConfirmedPush(headers, octstr.FromString("si doc")), PDUConfirmedPush},
	} {
		packed, err := PackPDU(c.pdu)
		if err != nil {
			t.Fatalf("pack: %v", err)
		}
		p, err := UnpackPDU(packed)
		if err != nil {
			t.Fatalf("unpack: %v", err)
		}
		if PDUType(p) != c.typ || !p.Bytes("data").EqualString("si doc") {
			t.Fatalf("type=%#x data=%q", PDUType(p), p.Bytes("data").String())
		}
	}
}

func TestUnpackRejectsUnknownType(t *testing.T) {
	_, err := UnpackPDU(octstr.New([]byte{0x30, 0x00}))
	if !errors.Is(err, ErrUnknownPDUType) {
		t.Fatalf("err = %v, want ErrUnknownPDUType", err)
	}
	_, err = UnpackPDU(octstr.Empty())
	if !errors.Is(err, pducodec.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}
