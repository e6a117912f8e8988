// Package wapevent defines the events the gateway layers exchange. An event
// is owned by exactly one holder at any moment; handing it to another
// layer's dispatch function transfers ownership, and the consumer destroys
// it.
package wapevent

import (
	"fmt"
	"net/netip"

	"github.com/teleguys/kannel-sub001/internal/octstr"
)

// Addr is the four-tuple identifying one peer conversation. It is comparable
// and used directly as a map key for transaction and session lookup.
type Addr struct {
	Local  netip.AddrPort
	Remote netip.AddrPort
}

func (a Addr) Equal(b Addr) bool {
	return a == b
}

func (a Addr) String() string {
	return fmt.Sprintf("%s<->%s", a.Local, a.Remote)
}

// Event carries one primitive. Only the fields meaningful for the Kind are
// set; the layer tables in wtp and wsp document which those are.
type Event struct {
	Kind Kind
	Addr Addr

	// Transaction fields.
	TID    uint16
	Class  int
	UAck   bool
	RID    bool
	TIDNew bool
	Handle uint32

	// Abort fields.
	AbortType   uint8
	AbortReason uint8

	// Session fields.
	SessionID     uint32
	Status        int
	ClientSDUSize uint32
	ServerSDUSize uint32

	// Method and push fields.
	Method string
	URI    string
	PushID uint32

	// Payloads. Headers holds WSP-encoded headers, UserData the body.
	Headers  *octstr.Octstr
	UserData *octstr.Octstr
}

// New allocates an event of the given kind.
func New(kind Kind) *Event {
	return &Event{Kind: kind}
}

// Destroy releases the event's owned buffers. Exactly one holder calls it;
// the event must not be used afterwards.
func (e *Event) Destroy() {
	if e == nil {
		return
	}
	e.Headers = nil
	e.UserData = nil
	e.Kind = KindNone
}

func (e *Event) String() string {
	return fmt.Sprintf("%s tid=%#x addr=%s", e.Kind, e.TID, e.Addr)
}
