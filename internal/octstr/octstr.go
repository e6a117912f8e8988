// Package octstr provides the octet-string buffer the protocol layers are
// built on: bounded byte access, slicing, bit-field reads and writes at
// arbitrary bit offsets, and the WSP variable-length integer encoding.
package octstr

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
)

var (
	ErrBitCount         = errors.New("octstr: bit count outside 1..32")
	ErrBitRange         = errors.New("octstr: bit range outside buffer")
	ErrIndexRange       = errors.New("octstr: index outside buffer")
	ErrUintvarTruncated = errors.New("octstr: truncated uintvar")
	ErrUintvarTooLong   = errors.New("octstr: uintvar longer than 5 octets")
)

// Octstr is a byte buffer with explicit length. Buffers are owned by exactly
// one holder at a time; sharing happens through Copy or Slice, never by
// handing out the backing array for mutation.
type Octstr struct {
	data      []byte
	immutable bool
}

// New copies b into a fresh owned buffer.
func New(b []byte) *Octstr {
	d := make([]byte, len(b))
	copy(d, b)
	return &Octstr{data: d}
}

// FromString copies s into a fresh owned buffer.
func FromString(s string) *Octstr {
	return &Octstr{data: []byte(s)}
}

// Empty returns a fresh zero-length owned buffer.
func Empty() *Octstr {
	return &Octstr{data: nil}
}

var interned sync.Map // string -> *Octstr

// Imm returns the process-lifetime immutable buffer for s. Repeated calls
// with the same literal return the same buffer. Mutating an immutable buffer
// is a programming error and panics.
func Imm(s string) *Octstr {
	if v, ok := interned.Load(s); ok {
		return v.(*Octstr)
	}
	o := &Octstr{data: []byte(s), immutable: true}
	actual, _ := interned.LoadOrStore(s, o)
	return actual.(*Octstr)
}

// ReadFile reads the whole file at path into an owned buffer.
func ReadFile(path string) (*Octstr, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("octstr: read %s: %w", path, err)
	}
	return &Octstr{data: b}, nil
}

func (o *Octstr) mutating() {
	if o.immutable {
		panic("octstr: mutation of immutable buffer")
	}
}

// Len returns the buffer length in octets.
func (o *Octstr) Len() int {
	if o == nil {
		return 0
	}
	return len(o.data)
}

// At returns the octet at index i.
func (o *Octstr) At(i int) (byte, error) {
	if i < 0 || i >= len(o.data) {
		return 0, ErrIndexRange
	}
	return o.data[i], nil
}

// Slice copies n octets starting at from into a new owned buffer. The range
// is clamped to the buffer, matching how PDU tails are extracted.
func (o *Octstr) Slice(from, n int) *Octstr {
	if from < 0 {
		from = 0
	}
	if from > len(o.data) {
		from = len(o.data)
	}
	if n < 0 || from+n > len(o.data) {
		n = len(o.data) - from
	}
	return New(o.data[from : from+n])
}

// Copy returns an owned duplicate of o.
func (o *Octstr) Copy() *Octstr {
	return New(o.data)
}

// Cat returns a new owned buffer holding a followed by b.
func Cat(a, b *Octstr) *Octstr {
	d := make([]byte, 0, a.Len()+b.Len())
	d = append(d, a.data...)
	d = append(d, b.data...)
	return &Octstr{data: d}
}

// Append appends other to o in place.
func (o *Octstr) Append(other *Octstr) {
	o.mutating()
	o.data = append(o.data, other.data...)
}

// AppendData appends raw bytes to o in place.
func (o *Octstr) AppendData(b []byte) {
	o.mutating()
	o.data = append(o.data, b...)
}

// AppendByte appends a single octet to o in place.
func (o *Octstr) AppendByte(b byte) {
	o.mutating()
	o.data = append(o.data, b)
}

// AppendCString appends s followed by a terminating NUL, the WSP text form.
func (o *Octstr) AppendCString(s string) {
	o.mutating()
	o.data = append(o.data, s...)
	o.data = append(o.data, 0)
}

// Delete removes n octets starting at from, in place.
func (o *Octstr) Delete(from, n int) {
	o.mutating()
	if from < 0 || from >= len(o.data) || n <= 0 {
		return
	}
	if from+n > len(o.data) {
		n = len(o.data) - from
	}
	o.data = append(o.data[:from], o.data[from+n:]...)
}

// Equal reports whether o and other hold identical octets. A nil buffer
// equals an empty one.
func (o *Octstr) Equal(other *Octstr) bool {
	return bytes.Equal(o.Bytes(), other.Bytes())
}

// EqualString reports whether o holds exactly s.
func (o *Octstr) EqualString(s string) bool {
	return string(o.data) == s
}

// CaseEqualString reports whether o holds s ignoring ASCII case.
func (o *Octstr) CaseEqualString(s string) bool {
	return strings.EqualFold(string(o.data), s)
}

// String returns the buffer contents as a Go string.
func (o *Octstr) String() string {
	if o == nil {
		return ""
	}
	return string(o.data)
}

// Bytes returns the backing octets. Callers must not modify the result.
func (o *Octstr) Bytes() []byte {
	if o == nil {
		return nil
	}
	return o.data
}

// GetBits reads numbits (1..32) starting at bit offset bitpos. Bit 0 is the
// most significant bit of octet 0.
func (o *Octstr) GetBits(bitpos, numbits int) (uint32, error) {
	if numbits < 1 || numbits > 32 {
		return 0, ErrBitCount
	}
	if bitpos < 0 || bitpos+numbits > len(o.data)*8 {
		return 0, ErrBitRange
	}
	var v uint32
	for i := bitpos; i < bitpos+numbits; i++ {
		v <<= 1
		if o.data[i/8]&(0x80>>uint(i%8)) != 0 {
			v |= 1
		}
	}
	return v, nil
}

// SetBits writes the low numbits of value at bit offset bitpos, growing the
// buffer with zero octets as needed.
func (o *Octstr) SetBits(bitpos, numbits int, value uint32) error {
	o.mutating()
	if numbits < 1 || numbits > 32 {
		return ErrBitCount
	}
	if bitpos < 0 {
		return ErrBitRange
	}
	for len(o.data)*8 < bitpos+numbits {
		o.data = append(o.data, 0)
	}
	for i := 0; i < numbits; i++ {
		pos := bitpos + i
		mask := byte(0x80 >> uint(pos%8))
		if value&(1<<uint(numbits-1-i)) != 0 {
			o.data[pos/8] |= mask
		} else {
			o.data[pos/8] &^= mask
		}
	}
	return nil
}

// GetUintvar decodes a WSP variable-length integer at pos: seven value bits
// per octet, high bit as continuation, at most five octets, saturating to 32
// bits. It returns the value and the offset of the first octet after it.
func (o *Octstr) GetUintvar(pos int) (uint32, int, error) {
	var acc uint64
	for i := 0; i < 5; i++ {
		if pos >= len(o.data) {
			return 0, 0, ErrUintvarTruncated
		}
		b := o.data[pos]
		pos++
		acc = acc<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			if acc > math.MaxUint32 {
				acc = math.MaxUint32
			}
			return uint32(acc), pos, nil
		}
	}
	return 0, 0, ErrUintvarTooLong
}

// AppendUintvar appends the variable-length encoding of v.
func (o *Octstr) AppendUintvar(v uint32) {
	o.mutating()
	o.data = append(o.data, UintvarBytes(v)...)
}

// UintvarBytes returns the variable-length encoding of v.
func UintvarBytes(v uint32) []byte {
	var tmp [5]byte
	i := 4
	tmp[i] = byte(v & 0x7f)
	v >>= 7
	for v > 0 {
		i--
		tmp[i] = byte(v&0x7f) | 0x80
		v >>= 7
	}
	return tmp[i:]
}

// HexDump renders the buffer for debug logs: offset, hex octets, printable
// ASCII.
func (o *Octstr) HexDump() string {
	var sb strings.Builder
	for off := 0; off < len(o.data); off += 16 {
		end := off + 16
		if end > len(o.data) {
			end = len(o.data)
		}
		fmt.Fprintf(&sb, "%08x ", off)
		for i := off; i < off+16; i++ {
			if i < end {
				fmt.Fprintf(&sb, " %02x", o.data[i])
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString("  ")
		for i := off; i < end; i++ {
			c := o.data[i]
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			sb.WriteByte(c)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
