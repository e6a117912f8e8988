package wsp

import "github.com/teleguys/kannel-sub001/internal/octstr"

// Capability identifiers.
const (
	capClientSDUSize   = 0x00
	capServerSDUSize   = 0x01
	capProtocolOptions = 0x02
)

// Capabilities carries the negotiable session parameters. Capabilities the
// gateway does not understand are dropped, which rejects them to defaults.
type Capabilities struct {
	ClientSDUSize   uint32
	ServerSDUSize   uint32
	ProtocolOptions uint8
}

// DefaultCapabilities are the values a session runs with when the client
// proposes nothing.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		ClientSDUSize: 1400,
		ServerSDUSize: 1400,
	}
}

// ParseCapabilities decodes a Connect or Resume capabilities block. Each
// entry is a uintvar length, an identifier octet, and parameter octets.
func ParseCapabilities(data *octstr.Octstr) Capabilities {
	caps := DefaultCapabilities()
	pos := 0
	for pos < data.Len() {
		n, next, err := data.GetUintvar(pos)
		if err != nil || n == 0 || next+int(n) > data.Len() {
			return caps
		}
		entry := data.Slice(next, int(n))
		pos = next + int(n)
		id, _ := entry.At(0)
		if id&0x80 == 0 {
			continue // token-text identifier: not a capability we know
		}
		params := entry.Slice(1, -1)
		switch id &^ 0x80 {
		case capClientSDUSize:
			if v, _, err := params.GetUintvar(0); err == nil {
				caps.ClientSDUSize = v
			}
		case capServerSDUSize:
			if v, _, err := params.GetUintvar(0); err == nil {
				caps.ServerSDUSize = v
			}
		case capProtocolOptions:
			if b, err := params.At(0); err == nil {
				caps.ProtocolOptions = b
			}
		}
	}
	return caps
}

// Negotiate clamps the proposed capabilities against the gateway limits:
// sizes never grow, options only keep bits both sides offer.
func (c Capabilities) Negotiate(limit Capabilities) Capabilities {
	out := c
	if out.ClientSDUSize > limit.ClientSDUSize {
		out.ClientSDUSize = limit.ClientSDUSize
	}
	if out.ServerSDUSize > limit.ServerSDUSize {
		out.ServerSDUSize = limit.ServerSDUSize
	}
	out.ProtocolOptions &= limit.ProtocolOptions
	return out
}

// PackCapabilities encodes the negotiated values for a ConnectReply.
func PackCapabilities(c Capabilities) *octstr.Octstr {
	out := octstr.Empty()
	appendCap(out, capClientSDUSize, octstr.UintvarBytes(c.ClientSDUSize))
	appendCap(out, capServerSDUSize, octstr.UintvarBytes(c.ServerSDUSize))
	if c.ProtocolOptions != 0 {
		appendCap(out, capProtocolOptions, []byte{c.ProtocolOptions})
	}
	return out
}

func appendCap(out *octstr.Octstr, id uint8, params []byte) {
	out.AppendUintvar(uint32(1 + len(params)))
	out.AppendByte(id | 0x80)
	for _, b := range params {
		out.AppendByte(b)
	}
}
