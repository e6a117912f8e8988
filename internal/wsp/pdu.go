// Package wsp implements the Wireless Session Protocol: PDU coding, the
// assigned-numbers tables, the header codec, and the session, method and
// push state machines layered over WTP.
package wsp

import (
	"errors"

	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/pducodec"
)

// WSP PDU type codes. Get and Post carry their method subtype in the low
// nibble: Get family is 0x40+subtype, Post family 0x60+subtype.
const (
	PDUConnect       = 0x01
	PDUConnectReply  = 0x02
	PDURedirect      = 0x03
	PDUReply         = 0x04
	PDUDisconnect    = 0x05
	PDUPush          = 0x06
	PDUConfirmedPush = 0x07
	PDUSuspend       = 0x08
	PDUResume        = 0x09
	PDUGet           = 0x40
	PDUPost          = 0x60
)

var ErrUnknownPDUType = errors.New("wsp: unknown pdu type")

var connectDef = &pducodec.Def{
	Name: "Connect",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.TYPE, Bits: 8, Const: PDUConnect},
		{Kind: pducodec.UINT, Name: "version", Bits: 8},
		{Kind: pducodec.UINTVAR, Name: "caps_len"},
		{Kind: pducodec.UINTVAR, Name: "headers_len"},
		{Kind: pducodec.OCTSTR, Name: "caps", LenField: "caps_len"},
		{Kind: pducodec.OCTSTR, Name: "headers", LenField: "headers_len"},
	},
}

var connectReplyDef = &pducodec.Def{
	Name: "ConnectReply",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.TYPE, Bits: 8, Const: PDUConnectReply},
		{Kind: pducodec.UINTVAR, Name: "sessionid"},
		{Kind: pducodec.UINTVAR, Name: "caps_len"},
		{Kind: pducodec.UINTVAR, Name: "headers_len"},
		{Kind: pducodec.OCTSTR, Name: "caps", LenField: "caps_len"},
		{Kind: pducodec.OCTSTR, Name: "headers", LenField: "headers_len"},
	},
}

var redirectDef = &pducodec.Def{
	Name: "Redirect",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.TYPE, Bits: 8, Const: PDURedirect},
		{Kind: pducodec.UINT, Name: "flags", Bits: 8},
		{Kind: pducodec.REST, Name: "addresses"},
	},
}

var replyDef = &pducodec.Def{
	Name: "Reply",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.TYPE, Bits: 8, Const: PDUReply},
		{Kind: pducodec.UINT, Name: "status", Bits: 8},
		{Kind: pducodec.UINTVAR, Name: "headers_len"},
		{Kind: pducodec.OCTSTR, Name: "headers", LenField: "headers_len"},
		{Kind: pducodec.REST, Name: "data"},
	},
}

var disconnectDef = &pducodec.Def{
	Name: "Disconnect",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.TYPE, Bits: 8, Const: PDUDisconnect},
		{Kind: pducodec.UINTVAR, Name: "sessionid"},
	},
}

var pushDef = &pducodec.Def{
	Name: "Push",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.TYPE, Bits: 8, Const: PDUPush},
		{Kind: pducodec.UINTVAR, Name: "headers_len"},
		{Kind: pducodec.OCTSTR, Name: "headers", LenField: "headers_len"},
		{Kind: pducodec.REST, Name: "data"},
	},
}

var confirmedPushDef = &pducodec.Def{
	Name: "ConfirmedPush",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.TYPE, Bits: 8, Const: PDUConfirmedPush},
		{Kind: pducodec.UINTVAR, Name: "headers_len"},
		{Kind: pducodec.OCTSTR, Name: "headers", LenField: "headers_len"},
		{Kind: pducodec.REST, Name: "data"},
	},
}

var suspendDef = &pducodec.Def{
	Name: "Suspend",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.TYPE, Bits: 8, Const: PDUSuspend},
		{Kind: pducodec.UINTVAR, Name: "sessionid"},
	},
}

var resumeDef = &pducodec.Def{
	Name: "Resume",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.TYPE, Bits: 8, Const: PDUResume},
		{Kind: pducodec.UINTVAR, Name: "sessionid"},
		{Kind: pducodec.UINTVAR, Name: "caps_len"},
		{Kind: pducodec.OCTSTR, Name: "caps", LenField: "caps_len"},
		{Kind: pducodec.REST, Name: "headers"},
	},
}

// getDef and postDef keep the method code as a plain field so subtypes of
// the two families decode through one definition each.
var getDef = &pducodec.Def{
	Name: "Get",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.UINT, Name: "type", Bits: 8},
		{Kind: pducodec.UINTVAR, Name: "urilen"},
		{Kind: pducodec.OCTSTR, Name: "uri", LenField: "urilen"},
		{Kind: pducodec.REST, Name: "headers"},
	},
}

var postDef = &pducodec.Def{
	Name: "Post",
	Fields: []pducodec.FieldDesc{
		{Kind: pducodec.UINT, Name: "type", Bits: 8},
		{Kind: pducodec.UINTVAR, Name: "urilen"},
		{Kind: pducodec.UINTVAR, Name: "headers_len"},
		{Kind: pducodec.OCTSTR, Name: "uri", LenField: "urilen"},
		{Kind: pducodec.OCTSTR, Name: "headers", LenField: "headers_len"},
		{Kind: pducodec.REST, Name: "data"},
	},
}

var defsByType = map[uint8]*pducodec.Def{
	PDUConnect:       connectDef,
	PDUConnectReply:  connectReplyDef,
	PDURedirect:      redirectDef,
	PDUReply:         replyDef,
	PDUDisconnect:    disconnectDef,
	PDUPush:          pushDef,
	PDUConfirmedPush: confirmedPushDef,
	PDUSuspend:       suspendDef,
	PDUResume:        resumeDef,
}

// PDUType returns the type octet of a decoded WSP PDU. For Get and Post
// family PDUs it is the full method code.
func PDUType(p *pducodec.PDU) uint8 {
	for _, f := range p.Def.Fields {
		if f.Kind == pducodec.TYPE {
			return uint8(f.Const)
		}
	}
	return uint8(p.Uint("type"))
}

// UnpackPDU decodes one WSP PDU, selecting the definition by the type
// octet. Method subtypes normalise onto the Get and Post definitions.
func UnpackPDU(data *octstr.Octstr) (*pducodec.PDU, error) {
	t, err := data.At(0)
	if err != nil {
		return nil, pducodec.ErrTruncated
	}
	var def *pducodec.Def
	switch {
	case t >= PDUGet && t <= PDUGet+0x04:
		def = getDef
	case t >= PDUPost && t <= PDUPost+0x01:
		def = postDef
	default:
		d, ok := defsByType[t]
		if !ok {
			return nil, ErrUnknownPDUType
		}
		def = d
	}
	return pducodec.Unpack(def, data)
}

// PackPDU encodes a WSP PDU.
func PackPDU(p *pducodec.PDU) (*octstr.Octstr, error) {
	return pducodec.Pack(p)
}

// MethodName resolves a Get/Post family code to its method name.
func MethodName(code uint8) string {
	if s, ok := Methods.String(uint32(code)); ok {
		return s
	}
	if code&0xf0 == PDUGet {
		return "GET"
	}
	return "POST"
}

// NewConnect builds a Connect PDU; caps and headers may be empty.
func NewConnect(version uint8, caps, headers *octstr.Octstr) *pducodec.PDU {
	p := pducodec.NewPDU(connectDef)
	p.Num["version"] = uint32(version)
	p.Str["caps"] = orEmpty(caps)
	p.Str["headers"] = orEmpty(headers)
	return p
}

// NewConnectReply builds the server answer to a Connect.
func NewConnectReply(sessionID uint32, caps, headers *octstr.Octstr) *pducodec.PDU {
	p := pducodec.NewPDU(connectReplyDef)
	p.Num["sessionid"] = sessionID
	p.Str["caps"] = orEmpty(caps)
	p.Str["headers"] = orEmpty(headers)
	return p
}

// NewReply builds a method reply carrying a WSP status number.
func NewReply(status uint8, headers, data *octstr.Octstr) *pducodec.PDU {
	p := pducodec.NewPDU(replyDef)
	p.Num["status"] = uint32(status)
	p.Str["headers"] = orEmpty(headers)
	p.Str["data"] = orEmpty(data)
	return p
}

// NewDisconnect builds a Disconnect for the session.
func NewDisconnect(sessionID uint32) *pducodec.PDU {
	p := pducodec.NewPDU(disconnectDef)
	p.Num["sessionid"] = sessionID
	return p
}

// NewSuspend builds a Suspend for the session.
func NewSuspend(sessionID uint32) *pducodec.PDU {
	p := pducodec.NewPDU(suspendDef)
	p.Num["sessionid"] = sessionID
	return p
}

// NewResume builds a Resume for the session.
func NewResume(sessionID uint32, caps, headers *octstr.Octstr) *pducodec.PDU {
	p := pducodec.NewPDU(resumeDef)
	p.Num["sessionid"] = sessionID
	p.Str["caps"] = orEmpty(caps)
	p.Str["headers"] = orEmpty(headers)
	return p
}

// NewPush builds an unconfirmed Push PDU.
func NewPush(headers, data *octstr.Octstr) *pducodec.PDU {
	p := pducodec.NewPDU(pushDef)
	p.Str["headers"] = orEmpty(headers)
	p.Str["data"] = orEmpty(data)
	return p
}

// NewConfirmedPush builds a ConfirmedPush PDU.
func NewConfirmedPush(headers, data *octstr.Octstr) *pducodec.PDU {
	p := pducodec.NewPDU(confirmedPushDef)
	p.Str["headers"] = orEmpty(headers)
	p.Str["data"] = orEmpty(data)
	return p
}

// NewGet builds a Get family request; code selects the subtype.
func NewGet(code uint8, uri string, headers *octstr.Octstr) *pducodec.PDU {
	p := pducodec.NewPDU(getDef)
	p.Num["type"] = uint32(code)
	p.Str["uri"] = octstr.FromString(uri)
	p.Str["headers"] = orEmpty(headers)
	return p
}

// NewPost builds a Post family request; code selects the subtype.
func NewPost(code uint8, uri string, headers, data *octstr.Octstr) *pducodec.PDU {
	p := pducodec.NewPDU(postDef)
	p.Num["type"] = uint32(code)
	p.Str["uri"] = octstr.FromString(uri)
	p.Str["headers"] = orEmpty(headers)
	p.Str["data"] = orEmpty(data)
	return p
}

func orEmpty(s *octstr.Octstr) *octstr.Octstr {
	if s == nil {
		return octstr.Empty()
	}
	return s
}
