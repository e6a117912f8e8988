// Package wtp implements the Wireless Transaction Protocol: PDU coding,
// the initiator and responder transaction machines, retransmission, and
// segmentation and reassembly.
package wtp

import (
	"errors"

	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/pducodec"
)

// WTP PDU type codes, bits 1..4 of the first octet.
const (
	PDUInvoke          = 0x01
	PDUResult          = 0x02
	PDUAck             = 0x03
	PDUAbort           = 0x04
	PDUSegmentedInvoke = 0x05
	PDUSegmentedResult = 0x06
	PDUNegativeAck     = 0x07
)

// Abort types.
const (
	AbortProvider uint8 = 0x00
	AbortUser     uint8 = 0x01
)

// Provider abort reasons.
const (
	AbortUnknown         uint8 = 0x00
	AbortProtoErr        uint8 = 0x01
	AbortInvalidTID      uint8 = 0x02
	AbortNotImplCl2      uint8 = 0x03
	AbortNotImplSAR      uint8 = 0x04
	AbortNotImplUAck     uint8 = 0x05
	AbortWTPVersionZero  uint8 = 0x06
	AbortCapTempExceeded uint8 = 0x07
	AbortNoResponse      uint8 = 0x08
	AbortMessageTooLarge uint8 = 0x09
)

// TPI identities.
const (
	TPIError  uint8 = 0x00
	TPIInfo   uint8 = 0x01
	TPIOption uint8 = 0x02
	TPIPSN    uint8 = 0x03
)

var (
	ErrUnknownPDUType = errors.New("wtp: unknown pdu type")
	ErrBadConcat      = errors.New("wtp: malformed concatenated datagram")
)

var invokeDef = &pducodec.Def{
	Name: "Invoke",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.UINT, Name: "con", Bits: 1},
		{Kind: pducodec.TYPE, Bits: 4, Const: PDUInvoke},
		{Kind: pducodec.UINT, Name: "gtr", Bits: 1},
		{Kind: pducodec.UINT, Name: "ttr", Bits: 1},
		{Kind: pducodec.UINT, Name: "rid", Bits: 1},
		{Kind: pducodec.UINT, Name: "tid", Bits: 16},
		{Kind: pducodec.UINT, Name: "version", Bits: 2},
		{Kind: pducodec.UINT, Name: "tidnew", Bits: 1},
		{Kind: pducodec.UINT, Name: "uack", Bits: 1},
		{Kind: pducodec.RESERVED, Bits: 2},
		{Kind: pducodec.UINT, Name: "class", Bits: 2},
		{Kind: pducodec.TPILIST, ConField: "con"},
		{Kind: pducodec.REST, Name: "data"},
	},
}

var resultDef = &pducodec.Def{
	Name: "Result",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.UINT, Name: "con", Bits: 1},
		{Kind: pducodec.TYPE, Bits: 4, Const: PDUResult},
		{Kind: pducodec.UINT, Name: "gtr", Bits: 1},
		{Kind: pducodec.UINT, Name: "ttr", Bits: 1},
		{Kind: pducodec.UINT, Name: "rid", Bits: 1},
		{Kind: pducodec.UINT, Name: "tid", Bits: 16},
		{Kind: pducodec.TPILIST, ConField: "con"},
		{Kind: pducodec.REST, Name: "data"},
	},
}

var ackDef = &pducodec.Def{
	Name: "Ack",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.UINT, Name: "con", Bits: 1},
		{Kind: pducodec.TYPE, Bits: 4, Const: PDUAck},
		{Kind: pducodec.UINT, Name: "tidverify", Bits: 1},
		{Kind: pducodec.RESERVED, Bits: 1},
		{Kind: pducodec.UINT, Name: "rid", Bits: 1},
		{Kind: pducodec.UINT, Name: "tid", Bits: 16},
		{Kind: pducodec.TPILIST, ConField: "con"},
	},
}

var abortDef = &pducodec.Def{
	Name: "Abort",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.UINT, Name: "con", Bits: 1},
		{Kind: pducodec.TYPE, Bits: 4, Const: PDUAbort},
		{Kind: pducodec.UINT, Name: "abort_type", Bits: 3},
		{Kind: pducodec.UINT, Name: "tid", Bits: 16},
		{Kind: pducodec.UINT, Name: "abort_reason", Bits: 8},
		{Kind: pducodec.TPILIST, ConField: "con"},
	},
}

var segInvokeDef = &pducodec.Def{
	Name: "Segmented_invoke",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.UINT, Name: "con", Bits: 1},
		{Kind: pducodec.TYPE, Bits: 4, Const: PDUSegmentedInvoke},
		{Kind: pducodec.UINT, Name: "gtr", Bits: 1},
		{Kind: pducodec.UINT, Name: "ttr", Bits: 1},
		{Kind: pducodec.UINT, Name: "rid", Bits: 1},
		{Kind: pducodec.UINT, Name: "tid", Bits: 16},
		{Kind: pducodec.UINT, Name: "psn", Bits: 8},
		{Kind: pducodec.TPILIST, ConField: "con"},
		{Kind: pducodec.REST, Name: "data"},
	},
}

var segResultDef = &pducodec.Def{
	Name: "Segmented_result",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.UINT, Name: "con", Bits: 1},
		{Kind: pducodec.TYPE, Bits: 4, Const: PDUSegmentedResult},
		{Kind: pducodec.UINT, Name: "gtr", Bits: 1},
		{Kind: pducodec.UINT, Name: "ttr", Bits: 1},
		{Kind: pducodec.UINT, Name: "rid", Bits: 1},
		{Kind: pducodec.UINT, Name: "tid", Bits: 16},
		{Kind: pducodec.UINT, Name: "psn", Bits: 8},
		{Kind: pducodec.TPILIST, ConField: "con"},
		{Kind: pducodec.REST, Name: "data"},
	},
}

var negativeAckDef = &pducodec.Def{
	Name: "Negative_ack",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.UINT, Name: "con", Bits: 1},
		{Kind: pducodec.TYPE, Bits: 4, Const: PDUNegativeAck},
		{Kind: pducodec.RESERVED, Bits: 2},
		{Kind: pducodec.UINT, Name: "rid", Bits: 1},
		{Kind: pducodec.UINT, Name: "tid", Bits: 16},
		{Kind: pducodec.UINT, Name: "nmissing", Bits: 8},
		{Kind: pducodec.OCTSTR, Name: "missing", LenField: "nmissing"},
		{Kind: pducodec.TPILIST, ConField: "con"},
	},
}

var defsByType = map[uint32]*pducodec.Def{
	PDUInvoke:          invokeDef,
	PDUResult:          resultDef,
	PDUAck:             ackDef,
	PDUAbort:           abortDef,
	PDUSegmentedInvoke: segInvokeDef,
	PDUSegmentedResult: segResultDef,
	PDUNegativeAck:     negativeAckDef,
}

// PDUType returns the WTP type code of a decoded PDU.
func PDUType(p *pducodec.PDU) uint32 {
	for _, f := range p.Def.Fields {
		if f.Kind == pducodec.TYPE {
			return f.Const
		}
	}
	return 0
}

// UnpackPDU decodes one WTP PDU from data, selecting the definition by the
// type bits of the first octet.
func UnpackPDU(data *octstr.Octstr) (*pducodec.PDU, error) {
	typ, err := data.GetBits(1, 4)
	if err != nil {
		return nil, pducodec.ErrTruncated
	}
	def, ok := defsByType[typ]
	if !ok {
		return nil, ErrUnknownPDUType
	}
	return pducodec.Unpack(def, data)
}

// PackPDU encodes a WTP PDU.
func PackPDU(p *pducodec.PDU) (*octstr.Octstr, error) {
	return pducodec.Pack(p)
}

// SendTID maps a received TID to the TID used on transmission; the mapping
// is its own inverse.
func SendTID(tid uint16) uint16 {
	return tid ^ 0x8000
}

func newPDU(def *pducodec.Def) *pducodec.PDU {
	return pducodec.NewPDU(def)
}

// NewInvoke builds an Invoke PDU in the peer's TID space.
func NewInvoke(tid uint16, class int, uack, tidnew, gtr, ttr bool, data *octstr.Octstr) *pducodec.PDU {
	p := newPDU(invokeDef)
	p.Num["tid"] = uint32(tid)
	p.Num["version"] = 0
	p.Num["class"] = uint32(class)
	p.SetFlag("uack", uack)
	p.SetFlag("tidnew", tidnew)
	p.SetFlag("gtr", gtr)
	p.SetFlag("ttr", ttr)
	p.Str["data"] = data
	return p
}

// NewResult builds a Result PDU.
func NewResult(tid uint16, gtr, ttr bool, data *octstr.Octstr) *pducodec.PDU {
	p := newPDU(resultDef)
	p.Num["tid"] = uint32(tid)
	p.SetFlag("gtr", gtr)
	p.SetFlag("ttr", ttr)
	p.Str["data"] = data
	return p
}

// NewAck builds an Ack PDU; tidverify carries the TIDve/TIDok handshake bit.
func NewAck(tid uint16, tidverify bool) *pducodec.PDU {
	p := newPDU(ackDef)
	p.Num["tid"] = uint32(tid)
	p.SetFlag("tidverify", tidverify)
	return p
}

// NewGroupAck builds an Ack carrying the highest received PSN in TPI 3.
func NewGroupAck(tid uint16, psn uint8) *pducodec.PDU {
	p := NewAck(tid, false)
	p.TPIs = append(p.TPIs, pducodec.TPI{Kind: TPIPSN, Data: octstr.New([]byte{psn})})
	return p
}

// NewAbort builds an Abort PDU.
func NewAbort(tid uint16, abortType, reason uint8) *pducodec.PDU {
	p := newPDU(abortDef)
	p.Num["tid"] = uint32(tid)
	p.Num["abort_type"] = uint32(abortType)
	p.Num["abort_reason"] = uint32(reason)
	return p
}

// NewSegmentedInvoke builds one non-first invoke segment.
func NewSegmentedInvoke(tid uint16, psn uint8, gtr, ttr bool, data *octstr.Octstr) *pducodec.PDU {
	p := newPDU(segInvokeDef)
	p.Num["tid"] = uint32(tid)
	p.Num["psn"] = uint32(psn)
	p.SetFlag("gtr", gtr)
	p.SetFlag("ttr", ttr)
	p.Str["data"] = data
	return p
}

// NewSegmentedResult builds one non-first result segment.
func NewSegmentedResult(tid uint16, psn uint8, gtr, ttr bool, data *octstr.Octstr) *pducodec.PDU {
	p := newPDU(segResultDef)
	p.Num["tid"] = uint32(tid)
	p.Num["psn"] = uint32(psn)
	p.SetFlag("gtr", gtr)
	p.SetFlag("ttr", ttr)
	p.Str["data"] = data
	return p
}

// NewNegativeAck builds a Negative_ack listing the missing PSNs.
func NewNegativeAck(tid uint16, missing []uint8) *pducodec.PDU {
	p := newPDU(negativeAckDef)
	p.Num["tid"] = uint32(tid)
	p.Str["missing"] = octstr.New(missing)
	return p
}

// Concatenation: a datagram whose first octet is zero carries several PDUs,
// each preceded by its length: one octet below 0x80, otherwise two octets
// with the high bit set on the first.
const concatIndicator = 0x00

// SplitDatagram returns the PDUs carried by one datagram.
func SplitDatagram(data *octstr.Octstr) ([]*octstr.Octstr, error) {
	if data.Len() == 0 {
		return nil, ErrBadConcat
	}
	first, _ := data.At(0)
	if first != concatIndicator {
		return []*octstr.Octstr{data}, nil
	}
	var out []*octstr.Octstr
	pos := 1
	for pos < data.Len() {
		b, _ := data.At(pos)
		pos++
		n := int(b)
		if b&0x80 != 0 {
			lo, err := data.At(pos)
			if err != nil {
				return nil, ErrBadConcat
			}
			pos++
			n = int(b&0x7f)<<8 | int(lo)
		}
		if n == 0 || pos+n > data.Len() {
			return nil, ErrBadConcat
		}
		out = append(out, data.Slice(pos, n))
		pos += n
	}
	if len(out) == 0 {
		return nil, ErrBadConcat
	}
	return out, nil
}

// JoinDatagrams concatenates several packed PDUs into one datagram.
func JoinDatagrams(pdus []*octstr.Octstr) *octstr.Octstr {
	if len(pdus) == 1 {
		return pdus[0]
	}
	out := octstr.Empty()
	out.AppendByte(concatIndicator)
	for _, p := range pdus {
		n := p.Len()
		if n < 0x80 {
			out.AppendByte(byte(n))
		} else {
			out.AppendByte(byte(n>>8) | 0x80)
			out.AppendByte(byte(n))
		}
		out.Append(p)
	}
	return out
}
