package wapevent

// Kind enumerates the WAP service primitives and internal stimuli that flow
// between layers. Each layer consumes the kinds addressed to it and produces
// kinds for its neighbours; nothing else crosses a layer boundary.
type Kind int

const (
	KindNone Kind = iota

	// WDP <-> WTP
	TDUnitdataReq
	TDUnitdataInd

	// WTP <-> WSP
	TRInvokeReq
	TRInvokeInd
	TRInvokeCnf
	TRInvokeRes
	TRResultReq
	TRResultInd
	TRResultCnf
	TRAbortReq
	TRAbortInd

	// WSP <-> application
	SConnectInd
	SConnectRes
	SDisconnectReq
	SDisconnectInd
	SSuspendInd
	SResumeInd
	SResumeRes
	SMethodInvokeInd
	SMethodInvokeRes
	SMethodResultReq
	SMethodResultCnf
	SMethodAbortInd
	SPushReq
	SConfirmedPushReq
	SConfirmedPushCnf
	SPushAbortInd

	// Connectionless WSP
	SUnitMethodInvokeInd
	SUnitMethodResultReq
	SUnitPushReq

	// PPG
	PomConnectInd
	PomDisconnectInd
	PoConfirmedPushCnf
	PoPushAbortInd

	// WTLS security manager
	SECCreateInd
	SECCreateRes
	SECExchangeReq
	SECTerminateReq

	// Timers
	TimerTOR
	TimerTOA
	TimerTOW
)

var kindNames = map[Kind]string{
	KindNone:             "None",
	TDUnitdataReq:        "T-DUnitdata.req",
	TDUnitdataInd:        "T-DUnitdata.ind",
	TRInvokeReq:          "TR-Invoke.req",
	TRInvokeInd:          "TR-Invoke.ind",
	TRInvokeCnf:          "TR-Invoke.cnf",
	TRInvokeRes:          "TR-Invoke.res",
	TRResultReq:          "TR-Result.req",
	TRResultInd:          "TR-Result.ind",
	TRResultCnf:          "TR-Result.cnf",
	TRAbortReq:           "TR-Abort.req",
	TRAbortInd:           "TR-Abort.ind",
	SConnectInd:          "S-Connect.ind",
	SConnectRes:          "S-Connect.res",
	SDisconnectReq:       "S-Disconnect.req",
	SDisconnectInd:       "S-Disconnect.ind",
	SSuspendInd:          "S-Suspend.ind",
	SResumeInd:           "S-Resume.ind",
	SResumeRes:           "S-Resume.res",
	SMethodInvokeInd:     "S-MethodInvoke.ind",
	SMethodInvokeRes:     "S-MethodInvoke.res",
	SMethodResultReq:     "S-MethodResult.req",
	SMethodResultCnf:     "S-MethodResult.cnf",
	SMethodAbortInd:      "S-MethodAbort.ind",
	SPushReq:             "S-Push.req",
	SConfirmedPushReq:    "S-ConfirmedPush.req",
	SConfirmedPushCnf:    "S-ConfirmedPush.cnf",
	SPushAbortInd:        "S-PushAbort.ind",
	SUnitMethodInvokeInd: "S-Unit-MethodInvoke.ind",
	SUnitMethodResultReq: "S-Unit-MethodResult.req",
	SUnitPushReq:         "S-Unit-Push.req",
	PomConnectInd:        "Pom-Connect.ind",
	PomDisconnectInd:     "Pom-Disconnect.ind",
	PoConfirmedPushCnf:   "Po-ConfirmedPush.cnf",
	PoPushAbortInd:       "Po-PushAbort.ind",
	SECCreateInd:         "SEC-Create.ind",
	SECCreateRes:         "SEC-Create.res",
	SECExchangeReq:       "SEC-Exchange.req",
	SECTerminateReq:      "SEC-Terminate.req",
	TimerTOR:             "Timer-TO_R",
	TimerTOA:             "Timer-TO_A",
	TimerTOW:             "Timer-TO_W",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Kind(?)"
}
