package wsp

import (
	"testing"

	"github.com/teleguys/kannel-sub001/internal/octstr"
)

func TestHeadersRoundTrip(t *testing.T) {
	in := []Header{
		{"Content-Type", "text/vnd.wap.wml"}, // both sides well-known
		{"User-Agent", "TestPhone/1.0"},      // known name, text value
		{"X-Custom", "anything goes"},        // text fallback both sides
		{"Accept-Language", "en"},
	}
	packed := PackHeaders(in)
	out, err := UnpackHeaders(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("headers = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("header %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestWellKnownNameEncodesAsShortInt(t *testing.T) {
	packed := PackHeaders([]Header{{"Content-Type", "text/plain"}})
	if packed.Len() != 2 {
		t.Fatalf("len = %d, want 2 octets", packed.Len())
	}
	b0, _ := packed.At(0)
	b1, _ := packed.At(1)
	if b0 != 0x80|0x11 || b1 != 0x80|0x03 {
		t.Fatalf("encoded as %#x %#x", b0, b1)
	}
}

func TestUnknownTokensFallBackToText(t *testing.T) {
	packed := PackHeaders([]Header{{"X-Flavor", "vanilla"}})
	b0, _ := packed.At(0)
	if b0&0x80 != 0 {
		t.Fatalf("unknown name did not fall back to text")
	}
	out, err := UnpackHeaders(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if out[0].Name != "X-Flavor" || out[0].Value != "vanilla" {
		t.Fatalf("round trip = %+v", out[0])
	}
}

func TestUnpackHeadersRejectsGarbage(t *testing.T) {
	// well-known name with no value octet behind it
	if _, err := UnpackHeaders(octstr.New([]byte{0x91})); err == nil {
		t.Fatalf("truncated block accepted")
	}
	// unknown well-known field-name code
	if _, err := UnpackHeaders(octstr.New([]byte{0xff, 0x83})); err == nil {
		t.Fatalf("unassigned field code accepted")
	}
}

func TestReplyHeadersRoundTrip(t *testing.T) {
	packed := PackReplyHeaders("text/plain", []Header{{"Server", "wapgw"}})
	ct, hs, err := UnpackReplyHeaders(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if ct != "text/plain" {
		t.Fatalf("content type = %q", ct)
	}
	if len(hs) != 1 || hs[0] != (Header{"Server", "wapgw"}) {
		t.Fatalf("headers = %+v", hs)
	}
}

func TestReplyHeadersTextContentType(t *testing.T) {
	packed := PackReplyHeaders("application/x-unregistered", nil)
	ct, hs, err := UnpackReplyHeaders(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if ct != "application/x-unregistered" || len(hs) != 0 {
		t.Fatalf("ct=%q headers=%+v", ct, hs)
	}
}
