package wtp

import (
	"time"

	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/timers"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// Role distinguishes the two transaction machines.
type Role int

const (
	RoleResponder Role = iota
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// State is the transaction machine state.
type State int

const (
	StateListen State = iota
	StateTIDVerifyWait
	StateRcvInvoke
	StateResultWait
	StateResultWaitAcked
	StateResultResp
	StateWaitTimeout
)

var stateNames = map[State]string{
	StateListen:          "LISTEN",
	StateTIDVerifyWait:   "TIDVERIFY_WAIT",
	StateRcvInvoke:       "RCV_INVOKE",
	StateResultWait:      "RESULT_WAIT",
	StateResultWaitAcked: "RESULT_WAIT_ACKED",
	StateResultResp:      "RESULT_RESP",
	StateWaitTimeout:     "WAIT_TIMEOUT",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "State(?)"
}

// machineKey indexes a live transaction: the peer address tuple plus the
// TID in received space. TID recycling is forbidden while the entry lives.
type machineKey struct {
	addr wapevent.Addr
	tid  uint16
}

// Machine is one WTP transaction. All fields are touched only by the layer
// worker after the index hand-off; no per-machine lock is needed.
type Machine struct {
	handle uint32
	key    machineKey
	role   Role
	state  State

	class  int
	uack   bool
	tidnew bool

	// upperRef is the reference the upper layer attached to its request;
	// it is echoed back in every event the machine raises.
	upperRef uint32

	rcr int // retransmission counter
	aec int // acknowledgement expiration counter

	timer    *timers.Timer
	lastSent *octstr.Octstr // last packed datagram, for rid retransmission

	// holdData parks invoke data while a TID verification handshake runs.
	holdData *octstr.Octstr

	sarIn  *sarReassembly
	sarOut *sarSegments
}

func (m *Machine) addr() wapevent.Addr { return m.key.addr }
func (m *Machine) tid() uint16         { return m.key.tid }

// tidEntry records the last accepted TID and when, per address tuple.
type tidEntry struct {
	lastTID uint16
	seen    time.Time
}

type tidCache struct {
	window  time.Duration
	entries map[wapevent.Addr]tidEntry
}

func newTIDCache(window time.Duration) *tidCache {
	return &tidCache{
		window:  window,
		entries: make(map[wapevent.Addr]tidEntry),
	}
}

// needsVerify decides whether an incoming invoke TID must be confirmed
// with a TIDve handshake before a transaction is created: always when the
// peer set tidnew, otherwise when recent traffic from the tuple makes the
// TID look stale or repeated.
func (c *tidCache) needsVerify(addr wapevent.Addr, tid uint16, tidnew bool) bool {
	if tidnew {
		return true
	}
	e, ok := c.entries[addr]
	if !ok || time.Since(e.seen) >= c.window {
		return false
	}
	diff := (tid - e.lastTID) & 0xffff
	return diff == 0 || diff >= 0x8000
}

// accept records tid as the newest verified TID for the tuple.
func (c *tidCache) accept(addr wapevent.Addr, tid uint16) {
	c.entries[addr] = tidEntry{lastTID: tid, seen: time.Now()}
}
