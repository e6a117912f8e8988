package wsp

import "testing"

func TestFieldNameLookups(t *testing.T) {
	n, ok := FieldNames.Number("content-type")
	if !ok || n != 0x11 {
		t.Fatalf("Number(content-type) = %#x, %v", n, ok)
	}
	s, ok := FieldNames.String(0x29)
	if !ok || s != "User-Agent" {
		t.Fatalf("String(0x29) = %q, %v", s, ok)
	}
	if _, ok := FieldNames.Number("X-No-Such-Header"); ok {
		t.Fatalf("unknown header resolved")
	}
}

func TestContentTypeLookups(t *testing.T) {
	n, ok := ContentTypes.Number("text/vnd.wap.wml")
	if !ok || n != 0x08 {
		t.Fatalf("Number(wml) = %#x, %v", n, ok)
	}
	s, ok := ContentTypes.String(0x03)
	if !ok || s != "text/plain" {
		t.Fatalf("String(0x03) = %q, %v", s, ok)
	}
}

func TestNumberedTableIsCaseInsensitive(t *testing.T) {
	n, ok := Charsets.Number("UTF-8")
	if !ok || n != 0x6a {
		t.Fatalf("Number(UTF-8) = %#x, %v", n, ok)
	}
	if _, ok := Charsets.String(0x6a); !ok {
		t.Fatalf("charset 0x6a missing")
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		http int
		wsp  uint8
	}{
		{200, 0x20},
		{302, 0x32},
		{404, 0x44},
		{413, 0x4d},
		{415, 0x4f},
		{500, 0x60},
		{418, 0x60}, // unmapped: generic server error
		{999, 0x60},
	}
	for _, c := range cases {
		if got := MapStatus(c.http); got != c.wsp {
			t.Fatalf("MapStatus(%d) = %#x, want %#x", c.http, got, c.wsp)
		}
	}
}
