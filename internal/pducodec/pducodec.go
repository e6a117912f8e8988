// Package pducodec packs and unpacks binary PDUs from declarative field
// descriptions. A PDU definition is an ordered list of descriptors (fixed
// bit fields, variable-length integers, counted octet strings, a trailing
// rest, optional TPI lists) and one generic driver walks the description
// against a bit cursor in both directions.
package pducodec

import (
	"errors"
	"fmt"

	"github.com/teleguys/kannel-sub001/internal/octstr"
)

var (
	ErrTypeMismatch       = errors.New("pducodec: type constant mismatch")
	ErrTruncated          = errors.New("pducodec: buffer shorter than description")
	ErrUnknownLengthField = errors.New("pducodec: length field not yet decoded")
	ErrReservedBits       = errors.New("pducodec: reserved bits set")
	ErrNoMatchingDef      = errors.New("pducodec: no definition matches buffer")
	ErrTPIFormat          = errors.New("pducodec: malformed TPI")
)

type FieldKind uint8

const (
	// UINT is a big-endian unsigned field of Bits bits.
	UINT FieldKind = iota
	// UINTVAR is a WSP variable-length integer, octet aligned.
	UINTVAR
	// OCTSTR is a counted octet string whose length was decoded earlier
	// into the field named LenField.
	OCTSTR
	// REST is the unstructured tail of the PDU.
	REST
	// TYPE is a constant of Bits bits matched at decode time.
	TYPE
	// RESERVED is a zero field of Bits bits; non-zero values are rejected.
	RESERVED
	// TPILIST marks the position of the optional TPI list; presence is
	// indicated by the single-bit field named ConField.
	TPILIST
)

type FieldDesc struct {
	Kind     FieldKind
	Name     string
	Bits     int
	Const    uint32
	LenField string
	ConField string
}

// Def describes one PDU variant.
type Def struct {
	Name   string
	Fields []FieldDesc
}

// TPI is one Transport Protocol Information item: a 4-bit identity and a
// payload.
type TPI struct {
	Kind uint8
	Data *octstr.Octstr
}

// PDU is a decoded or to-be-encoded PDU: numeric fields and octet-string
// fields by descriptor name, plus the TPI list.
type PDU struct {
	Def  *Def
	Num  map[string]uint32
	Str  map[string]*octstr.Octstr
	TPIs []TPI
}

// NewPDU allocates an empty PDU for def.
func NewPDU(def *Def) *PDU {
	return &PDU{
		Def: def,
		Num: make(map[string]uint32),
		Str: make(map[string]*octstr.Octstr),
	}
}

// Uint returns the numeric field, zero when absent.
func (p *PDU) Uint(name string) uint32 {
	return p.Num[name]
}

// Flag returns a 1-bit numeric field as bool.
func (p *PDU) Flag(name string) bool {
	return p.Num[name] != 0
}

// Bytes returns the octet-string field, nil when absent.
func (p *PDU) Bytes(name string) *octstr.Octstr {
	return p.Str[name]
}

// SetFlag stores a 1-bit numeric field.
func (p *PDU) SetFlag(name string, v bool) {
	if v {
		p.Num[name] = 1
	} else {
		p.Num[name] = 0
	}
}

func mask(bits int) uint32 {
	if bits >= 32 {
		return ^uint32(0)
	}
	return (1 << uint(bits)) - 1
}

// Pack encodes p per its definition. Length fields referenced by OCTSTR
// descriptors are computed from the octet strings; con bits are computed
// from the TPI list.
func Pack(p *PDU) (*octstr.Octstr, error) {
	def := p.Def
	// pre-pass: derive length and con fields
	for _, f := range def.Fields {
		switch f.Kind {
		case OCTSTR:
			p.Num[f.LenField] = uint32(p.Str[f.Name].Len())
		case TPILIST:
			if len(p.TPIs) > 0 {
				p.Num[f.ConField] = 1
			} else {
				p.Num[f.ConField] = 0
			}
		}
	}
	out := octstr.Empty()
	bitpos := 0
	for _, f := range def.Fields {
		switch f.Kind {
		case UINT:
			out.SetBits(bitpos, f.Bits, p.Num[f.Name]&mask(f.Bits))
			bitpos += f.Bits
		case TYPE:
			out.SetBits(bitpos, f.Bits, f.Const&mask(f.Bits))
			bitpos += f.Bits
		case RESERVED:
			out.SetBits(bitpos, f.Bits, 0)
			bitpos += f.Bits
		case UINTVAR:
			mustAligned(def, bitpos)
			out.AppendUintvar(p.Num[f.Name])
			bitpos = out.Len() * 8
		case OCTSTR:
			mustAligned(def, bitpos)
			if s := p.Str[f.Name]; s != nil {
				out.Append(s)
			}
			bitpos = out.Len() * 8
		case REST:
			mustAligned(def, bitpos)
			if s := p.Str[f.Name]; s != nil {
				out.Append(s)
			}
			bitpos = out.Len() * 8
		case TPILIST:
			mustAligned(def, bitpos)
			if err := packTPIs(out, p.TPIs); err != nil {
				return nil, err
			}
			bitpos = out.Len() * 8
		}
	}
	return out, nil
}

// Unpack decodes data against def. On any failure the error is returned and
// no partial PDU escapes.
func Unpack(def *Def, data *octstr.Octstr) (*PDU, error) {
	p := NewPDU(def)
	bitpos := 0
	for _, f := range def.Fields {
		switch f.Kind {
		case UINT:
			v, err := data.GetBits(bitpos, f.Bits)
			if err != nil {
				return nil, ErrTruncated
			}
			p.Num[f.Name] = v
			bitpos += f.Bits
		case TYPE:
			v, err := data.GetBits(bitpos, f.Bits)
			if err != nil {
				return nil, ErrTruncated
			}
			if v != f.Const {
				return nil, ErrTypeMismatch
			}
			bitpos += f.Bits
		case RESERVED:
			v, err := data.GetBits(bitpos, f.Bits)
			if err != nil {
				return nil, ErrTruncated
			}
			if v != 0 {
				return nil, ErrReservedBits
			}
			bitpos += f.Bits
		case UINTVAR:
			mustAligned(def, bitpos)
			v, next, err := data.GetUintvar(bitpos / 8)
			if err != nil {
				return nil, ErrTruncated
			}
			p.Num[f.Name] = v
			bitpos = next * 8
		case OCTSTR:
			mustAligned(def, bitpos)
			n, ok := p.Num[f.LenField]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownLengthField, f.LenField)
			}
			pos := bitpos / 8
			if pos+int(n) > data.Len() {
				return nil, ErrTruncated
			}
			p.Str[f.Name] = data.Slice(pos, int(n))
			bitpos += int(n) * 8
		case REST:
			mustAligned(def, bitpos)
			p.Str[f.Name] = data.Slice(bitpos/8, -1)
			bitpos = data.Len() * 8
		case TPILIST:
			mustAligned(def, bitpos)
			if p.Num[f.ConField] != 0 {
				tpis, next, err := unpackTPIs(data, bitpos/8)
				if err != nil {
					return nil, err
				}
				p.TPIs = tpis
				bitpos = next * 8
			}
		}
	}
	return p, nil
}

// UnpackAny tries each definition in turn and returns the first that
// decodes; definitions are distinguished by their TYPE constants.
func UnpackAny(defs []*Def, data *octstr.Octstr) (*PDU, error) {
	for _, def := range defs {
		p, err := Unpack(def, data)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrTypeMismatch) {
			return nil, err
		}
	}
	return nil, ErrNoMatchingDef
}

func mustAligned(def *Def, bitpos int) {
	if bitpos%8 != 0 {
		panic(fmt.Sprintf("pducodec: def %s: octet field at bit offset %d", def.Name, bitpos))
	}
}

// TPI octet layout: continuation bit, 4-bit identity, long-form bit, then
// either a 2-bit length or a following length octet.
const (
	tpiConBit   = 0x80
	tpiLongBit  = 0x04
	tpiShortMax = 3
)

func packTPIs(out *octstr.Octstr, tpis []TPI) error {
	for i, tpi := range tpis {
		con := byte(0)
		if i < len(tpis)-1 {
			con = tpiConBit
		}
		n := tpi.Data.Len()
		if n > 255 {
			return ErrTPIFormat
		}
		hdr := con | (tpi.Kind&0x0f)<<3
		if n <= tpiShortMax {
			out.AppendByte(hdr | byte(n))
		} else {
			out.AppendByte(hdr | tpiLongBit)
			out.AppendByte(byte(n))
		}
		out.Append(tpi.Data)
	}
	return nil
}

func unpackTPIs(data *octstr.Octstr, pos int) ([]TPI, int, error) {
	var tpis []TPI
	for {
		hdr, err := data.At(pos)
		if err != nil {
			return nil, 0, ErrTPIFormat
		}
		pos++
		kind := (hdr >> 3) & 0x0f
		var n int
		if hdr&tpiLongBit != 0 {
			lb, err := data.At(pos)
			if err != nil {
				return nil, 0, ErrTPIFormat
			}
			pos++
			n = int(lb)
		} else {
			n = int(hdr & 0x03)
		}
		if pos+n > data.Len() {
			return nil, 0, ErrTPIFormat
		}
		tpis = append(tpis, TPI{Kind: kind, Data: data.Slice(pos, n)})
		pos += n
		if hdr&tpiConBit == 0 {
			return tpis, pos, nil
		}
	}
}
