// Package bridge is the gateway's application layer. It accepts session
// offers on behalf of the origin, turns method invocations into HTTP
// requests against the origin server, and maps the responses back into
// session replies. Session lifecycle is mirrored to the push proxy so it
// knows which clients are reachable.
package bridge

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/teleguys/kannel-sub001/internal/eventq"
	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/threads"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
	"github.com/teleguys/kannel-sub001/internal/wsp"
)

// Dispatch hands an event to a layer. Ownership of the event transfers
// with the call.
type Dispatch func(*wapevent.Event)

// Dispatchers names the layers the bridge talks to. Push may be nil when
// no push proxy is wired.
type Dispatchers struct {
	WSP  Dispatch
	Push Dispatch
}

// Config bounds the origin fetches.
type Config struct {
	Timeout     time.Duration // per-attempt origin timeout
	MaxAttempts int           // connection attempts before giving up
	RetryMin    time.Duration
	RetryMax    time.Duration
	MaxBody     int64 // origin response body cap in octets
}

func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		RetryMin:    250 * time.Millisecond,
		RetryMax:    5 * time.Second,
		MaxBody:     1 << 20,
	}
}

type runState int

const (
	limbo runState = iota
	running
	terminating
)

// Layer owns the application event queue and one worker thread. Origin
// fetches run on their own short-lived threads so a slow origin never
// stalls session handling.
type Layer struct {
	cfg    Config
	log    zerolog.Logger
	queue  *eventq.Queue
	client *http.Client
	out    Dispatchers

	state  runState
	worker *threads.Thread
}

func New(cfg Config, logger zerolog.Logger) *Layer {
	return &Layer{
		cfg:    cfg,
		log:    logger.With().Str("layer", "bridge").Logger(),
		queue:  eventq.New(),
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Start wires the bridge and spawns the worker.
func (l *Layer) Start(out Dispatchers) {
	if l.state != limbo {
		panic("bridge: start outside limbo")
	}
	l.out = out
	l.queue.AddProducer()
	l.state = running
	l.worker = threads.Spawn("bridge", l.run)
	l.log.Info().Msg("bridge running")
}

// Dispatch enqueues an event for the worker. Ownership transfers.
func (l *Layer) Dispatch(ev *wapevent.Event) {
	l.queue.Produce(ev)
}

// Shutdown drains the queue, stops the worker, and waits for in-flight
// origin fetches. The layers below must still be running when it returns.
func (l *Layer) Shutdown() {
	if l.state != running {
		panic("bridge: shutdown while not running")
	}
	l.state = terminating
	l.queue.RemoveProducer()
	l.worker.Join()
	threads.JoinEvery("bridge-fetch")
	l.queue.Destroy(func(ev *wapevent.Event) { ev.Destroy() })
	l.state = limbo
	l.log.Info().Msg("bridge stopped")
}

func (l *Layer) run(t *threads.Thread) {
	for {
		ev := l.queue.Consume()
		if ev == nil {
			return
		}
		l.handleEvent(ev)
		ev.Destroy()
	}
}

func (l *Layer) handleEvent(ev *wapevent.Event) {
	switch ev.Kind {
	case wapevent.SConnectInd:
		l.handleConnectInd(ev)
	case wapevent.SResumeInd:
		l.handleResumeInd(ev)
	case wapevent.SSuspendInd:
		l.log.Debug().Uint32("session", ev.SessionID).Msg("session suspended")
	case wapevent.SDisconnectInd:
		l.notifyPush(wapevent.PomDisconnectInd, ev.SessionID, ev.Addr)
	case wapevent.SMethodInvokeInd:
		l.handleMethodInvokeInd(ev)
	case wapevent.SMethodResultCnf:
		l.log.Debug().Uint32("handle", ev.Handle).Msg("method reply confirmed")
	case wapevent.SMethodAbortInd:
		l.log.Debug().Uint32("handle", ev.Handle).Uint8("reason", ev.AbortReason).Msg("method aborted")
	case wapevent.SUnitMethodInvokeInd:
		l.handleUnitMethodInvokeInd(ev)
	default:
		l.log.Warn().Stringer("kind", ev.Kind).Msg("event not addressed to bridge")
	}
}

// handleConnectInd accepts every session offer. The gateway speaks for the
// origin, so there is nothing to refuse at this level.
func (l *Layer) handleConnectInd(ev *wapevent.Event) {
	res := wapevent.New(wapevent.SConnectRes)
	res.SessionID = ev.SessionID
	res.Handle = ev.Handle
	l.out.WSP(res)
	l.notifyPush(wapevent.PomConnectInd, ev.SessionID, ev.Addr)
	l.log.Debug().Uint32("session", ev.SessionID).Stringer("addr", ev.Addr).Msg("session accepted")
}

func (l *Layer) handleResumeInd(ev *wapevent.Event) {
	res := wapevent.New(wapevent.SResumeRes)
	res.SessionID = ev.SessionID
	l.out.WSP(res)
	// The client moved; refresh the push proxy's idea of its address.
	l.notifyPush(wapevent.PomConnectInd, ev.SessionID, ev.Addr)
}

func (l *Layer) notifyPush(kind wapevent.Kind, sessionID uint32, addr wapevent.Addr) {
	if l.out.Push == nil {
		return
	}
	ev := wapevent.New(kind)
	ev.SessionID = sessionID
	ev.Addr = addr
	l.out.Push(ev)
}

func (l *Layer) handleMethodInvokeInd(ev *wapevent.Event) {
	req := originRequest{
		method:  ev.Method,
		uri:     ev.URI,
		headers: ev.Headers,
		body:    ev.UserData,
	}
	handle := ev.Handle
	threads.Spawn("bridge-fetch", func(t *threads.Thread) {
		status, headers, body := l.fetch(t, req)
		res := wapevent.New(wapevent.SMethodResultReq)
		res.Handle = handle
		res.Status = status
		res.Headers = headers
		res.UserData = body
		l.out.WSP(res)
	})
}

func (l *Layer) handleUnitMethodInvokeInd(ev *wapevent.Event) {
	req := originRequest{
		method:  ev.Method,
		uri:     ev.URI,
		headers: ev.Headers,
		body:    ev.UserData,
	}
	addr := ev.Addr
	tid := ev.TID
	threads.Spawn("bridge-fetch", func(t *threads.Thread) {
		status, headers, body := l.fetch(t, req)
		res := wapevent.New(wapevent.SUnitMethodResultReq)
		res.Addr = addr
		res.TID = tid
		res.Status = status
		res.Headers = headers
		res.UserData = body
		l.out.WSP(res)
	})
}

type originRequest struct {
	method  string
	uri     string
	headers *octstr.Octstr
	body    *octstr.Octstr
}

// fetch performs the origin request, retrying transport failures with
// backoff. HTTP-level errors are the origin's answer and go back as-is;
// exhausted retries become a plain 500 so the session reply maps to the
// generic server error.
func (l *Layer) fetch(t *threads.Thread, or originRequest) (int, *octstr.Octstr, *octstr.Octstr) {
	hreq, err := l.buildRequest(or)
	if err != nil {
		l.log.Warn().Err(err).Str("uri", or.uri).Msg("origin request unbuildable")
		return http.StatusBadRequest, wsp.PackReplyHeaders("text/plain", nil), octstr.Imm("bad request\n")
	}

	b := &backoff.Backoff{Min: l.cfg.RetryMin, Max: l.cfg.RetryMax}
	for {
		resp, err := l.client.Do(hreq)
		if err == nil {
			return l.readResponse(resp)
		}
		if int(b.Attempt())+1 >= l.cfg.MaxAttempts {
			l.log.Warn().Err(err).Str("uri", or.uri).Msg("origin unreachable")
			return http.StatusInternalServerError, wsp.PackReplyHeaders("text/plain", nil), octstr.Imm("origin unreachable\n")
		}
		d := b.Duration()
		l.log.Debug().Err(err).Str("uri", or.uri).Dur("retry_in", d).Msg("origin fetch failed")
		t.Sleep(d)
		hreq, err = l.buildRequest(or)
		if err != nil {
			return http.StatusBadRequest, wsp.PackReplyHeaders("text/plain", nil), octstr.Imm("bad request\n")
		}
	}
}

func (l *Layer) buildRequest(or originRequest) (*http.Request, error) {
	var body io.Reader
	if or.body != nil && or.body.Len() > 0 {
		body = bytes.NewReader(or.body.Bytes())
	}
	hreq, err := http.NewRequest(or.method, or.uri, body)
	if err != nil {
		return nil, err
	}
	if or.headers != nil && or.headers.Len() > 0 {
		hs, err := wsp.UnpackHeaders(or.headers)
		if err != nil {
			l.log.Warn().Err(err).Msg("client headers undecodable, dropped")
		}
		for _, h := range hs {
			hreq.Header.Add(h.Name, h.Value)
		}
	}
	return hreq, nil
}

func (l *Layer) readResponse(resp *http.Response) (int, *octstr.Octstr, *octstr.Octstr) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.cfg.MaxBody))
	if err != nil {
		l.log.Warn().Err(err).Msg("origin body read failed")
		return http.StatusInternalServerError, wsp.PackReplyHeaders("text/plain", nil), octstr.Imm("origin read failed\n")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	var hs []wsp.Header
	for name, vals := range resp.Header {
		if strings.EqualFold(name, "Content-Type") || len(vals) == 0 {
			continue
		}
		hs = append(hs, wsp.Header{Name: name, Value: vals[0]})
	}
	return resp.StatusCode, wsp.PackReplyHeaders(contentType, hs), octstr.New(data)
}
