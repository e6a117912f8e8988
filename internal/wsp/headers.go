package wsp

import (
	"errors"
	"strconv"

	"github.com/teleguys/kannel-sub001/internal/octstr"
)

// Header is one decoded HTTP-style header.
type Header struct {
	Name  string
	Value string
}

var ErrBadHeaderBlock = errors.New("wsp: malformed header block")

// Header block coding constants. A value octet below lengthQuote opens a
// counted value block; lengthQuote means a uintvar length follows; textQuote
// escapes a text value starting with a high octet; the high bit marks a
// short integer.
const (
	lengthQuoteMax = 30
	lengthQuote    = 31
	textQuote      = 127
	shortIntBit    = 0x80
)

// PackHeaders encodes headers against the assigned-numbers tables.
// Well-known field names become short integers; unknown names and values
// fall back to null-terminated text.
func PackHeaders(hs []Header) *octstr.Octstr {
	out := octstr.Empty()
	for _, h := range hs {
		packFieldName(out, h.Name)
		packFieldValue(out, h.Name, h.Value)
	}
	return out
}

func packFieldName(out *octstr.Octstr, name string) {
	if code, ok := FieldNames.Number(name); ok {
		out.AppendByte(byte(code) | shortIntBit)
		return
	}
	out.AppendCString(name)
}

func packFieldValue(out *octstr.Octstr, name, value string) {
	if tbl := valueTable(name); tbl != nil {
		if code, ok := tbl.Number(value); ok && code <= 0x7f {
			out.AppendByte(byte(code) | shortIntBit)
			return
		}
	}
	if len(value) > 0 && value[0] >= shortIntBit {
		out.AppendByte(textQuote)
	}
	out.AppendCString(value)
}

// valueTable picks the assigned-numbers table that encodes values of the
// field, when one exists.
func valueTable(name string) *Table {
	code, ok := FieldNames.Number(name)
	if !ok {
		return nil
	}
	switch code {
	case 0x11: // Content-Type
		return ContentTypes
	case 0x01: // Accept-Charset
		return Charsets
	case 0x03, 0x0c: // Accept-Language, Content-Language
		return Languages
	case 0x00: // Accept
		return ContentTypes
	}
	return nil
}

// UnpackHeaders decodes a header block. Unknown well-known values render
// as their decimal number.
func UnpackHeaders(data *octstr.Octstr) ([]Header, error) {
	var hs []Header
	pos := 0
	for pos < data.Len() {
		name, next, err := unpackFieldName(data, pos)
		if err != nil {
			return nil, err
		}
		pos = next
		value, next, err := unpackFieldValue(data, pos, name)
		if err != nil {
			return nil, err
		}
		pos = next
		hs = append(hs, Header{Name: name, Value: value})
	}
	return hs, nil
}

func unpackFieldName(data *octstr.Octstr, pos int) (string, int, error) {
	b, err := data.At(pos)
	if err != nil {
		return "", 0, ErrBadHeaderBlock
	}
	if b&shortIntBit != 0 {
		name, ok := FieldNames.String(uint32(b &^ shortIntBit))
		if !ok {
			return "", 0, ErrBadHeaderBlock
		}
		return name, pos + 1, nil
	}
	return readCString(data, pos)
}

func unpackFieldValue(data *octstr.Octstr, pos int, name string) (string, int, error) {
	b, err := data.At(pos)
	if err != nil {
		return "", 0, ErrBadHeaderBlock
	}
	switch {
	case b&shortIntBit != 0:
		return wellKnownValue(name, uint32(b&^shortIntBit)), pos + 1, nil
	case b <= lengthQuoteMax:
		return unpackValueBlock(data, pos+1, int(b), name)
	case b == lengthQuote:
		n, next, err := data.GetUintvar(pos + 1)
		if err != nil {
			return "", 0, ErrBadHeaderBlock
		}
		return unpackValueBlock(data, next, int(n), name)
	case b == textQuote:
		return readCString(data, pos+1)
	default:
		return readCString(data, pos)
	}
}

// unpackValueBlock handles a counted value: a well-known number with
// parameters, or raw octets. Parameters are skipped.
func unpackValueBlock(data *octstr.Octstr, pos, n int, name string) (string, int, error) {
	if pos+n > data.Len() || n == 0 {
		return "", 0, ErrBadHeaderBlock
	}
	first, _ := data.At(pos)
	if first&shortIntBit != 0 {
		return wellKnownValue(name, uint32(first&^shortIntBit)), pos + n, nil
	}
	return data.Slice(pos, n).String(), pos + n, nil
}

func wellKnownValue(name string, code uint32) string {
	if tbl := valueTable(name); tbl != nil {
		if s, ok := tbl.String(code); ok {
			return s
		}
	}
	return strconv.FormatUint(uint64(code), 10)
}

func readCString(data *octstr.Octstr, pos int) (string, int, error) {
	end := pos
	for {
		b, err := data.At(end)
		if err != nil {
			return "", 0, ErrBadHeaderBlock
		}
		if b == 0 {
			break
		}
		end++
	}
	return data.Slice(pos, end-pos).String(), end + 1, nil
}

// PackReplyHeaders builds the Reply header block: the content-type value
// first, then the remaining headers.
func PackReplyHeaders(contentType string, hs []Header) *octstr.Octstr {
	out := octstr.Empty()
	if code, ok := ContentTypes.Number(contentType); ok && code <= 0x7f {
		out.AppendByte(byte(code) | shortIntBit)
	} else {
		out.AppendCString(contentType)
	}
	out.Append(PackHeaders(hs))
	return out
}

// UnpackReplyHeaders splits a Reply header block back into the content
// type and the remaining headers.
func UnpackReplyHeaders(data *octstr.Octstr) (string, []Header, error) {
	if data.Len() == 0 {
		return "", nil, nil
	}
	b, _ := data.At(0)
	var contentType string
	pos := 0
	if b&shortIntBit != 0 {
		contentType = wellKnownValue("Content-Type", uint32(b&^shortIntBit))
		pos = 1
	} else {
		ct, next, err := readCString(data, 0)
		if err != nil {
			return "", nil, err
		}
		contentType = ct
		pos = next
	}
	hs, err := UnpackHeaders(data.Slice(pos, -1))
	if err != nil {
		return "", nil, err
	}
	return contentType, hs, nil
}
