package wsp

import (
	"time"

	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// WSP abort reason codes, as carried in TR-Abort user aborts.
const (
	AbortProtoErr    uint8 = 0xe0
	AbortDisconnect  uint8 = 0xe1
	AbortSuspend     uint8 = 0xe2
	AbortResume      uint8 = 0xe3
	AbortCongestion  uint8 = 0xe4
	AbortConnectErr  uint8 = 0xe5
	AbortMRUExceeded uint8 = 0xe6
	AbortMORExceeded uint8 = 0xe7
	AbortPeerReq     uint8 = 0xe8
	AbortNetErr      uint8 = 0xe9
	AbortUserReq     uint8 = 0xea
)

// SessionState is the connection-mode session state.
type SessionState int

const (
	SessionNull SessionState = iota
	SessionConnecting
	SessionConnected
	SessionSuspended
	SessionResuming
	SessionTerminating
)

var sessionStateNames = map[SessionState]string{
	SessionNull:        "NULL",
	SessionConnecting:  "CONNECTING",
	SessionConnected:   "CONNECTED",
	SessionSuspended:   "SUSPENDED",
	SessionResuming:    "RESUMING",
	SessionTerminating: "TERMINATING",
}

func (s SessionState) String() string {
	if n, ok := sessionStateNames[s]; ok {
		return n
	}
	return "SessionState(?)"
}

// MethodState is the method transaction state.
type MethodState int

const (
	MethodNull MethodState = iota
	MethodRequesting
	MethodWaiting
	MethodProcessing
	MethodReplying
	MethodCompleted
)

var methodStateNames = map[MethodState]string{
	MethodNull:       "NULL",
	MethodRequesting: "REQUESTING",
	MethodWaiting:    "WAITING",
	MethodProcessing: "PROCESSING",
	MethodReplying:   "REPLYING",
	MethodCompleted:  "COMPLETED",
}

func (s MethodState) String() string {
	if n, ok := methodStateNames[s]; ok {
		return n
	}
	return "MethodState(?)"
}

// Session is one connection-mode WSP session. It owns its method and push
// transactions; all fields are touched only by the layer worker.
type Session struct {
	id    uint32
	addr  wapevent.Addr
	state SessionState
	caps  Capabilities

	// connectHandle is the WTP transaction carrying the Connect or Resume
	// currently being answered.
	connectHandle uint32

	methods map[uint32]*methodMachine // by WTP handle
	pushes  map[uint32]*pushMachine   // by push id
}

// ID returns the assigned session id.
func (s *Session) ID() uint32 { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState { return s.state }

// methodMachine is one method transaction riding a WTP class 2 handle.
type methodMachine struct {
	handle  uint32
	state   MethodState
	session *Session
	method  string
	uri     string
	started time.Time
}

// pushMachine tracks one confirmed push until WTP confirms or aborts it.
type pushMachine struct {
	id      uint32
	session *Session
}
