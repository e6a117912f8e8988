// Package wdp adapts the datagram transport: one UDP socket per bound
// port, a reader thread producing T-DUnitdata.ind upward, and an atomic
// per-datagram send usable from any layer thread.
package wdp

import (
	"errors"
	"net"
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/teleguys/kannel-sub001/internal/observability"
	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/threads"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// Dispatch hands an event to a layer. Ownership of the event transfers
// with the call.
type Dispatch func(*wapevent.Event)

var ErrNotRunning = errors.New("wdp: transport not running")

// maxDatagram bounds a single inbound datagram.
const maxDatagram = 64 * 1024

// Transport is one bound UDP port.
type Transport struct {
	log     zerolog.Logger
	conn    *net.UDPConn
	local   netip.AddrPort
	toUpper Dispatch
	reader  *threads.Thread
	running bool
}

// Bind opens the UDP socket. The transport does not read until Start.
func Bind(bindAddr string, logger zerolog.Logger) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return &Transport{
		log:   logger.With().Str("layer", "wdp").Stringer("bind", local).Logger(),
		conn:  conn,
		local: local,
	}, nil
}

// Local returns the bound address.
func (w *Transport) Local() netip.AddrPort { return w.local }

// Start spawns the reader thread; inbound datagrams go up as
// T-DUnitdata.ind events.
func (w *Transport) Start(toUpper Dispatch) {
	if w.running {
		panic("wdp: started twice")
	}
	w.toUpper = toUpper
	w.running = true
	w.reader = threads.Spawn("wdp", w.readLoop)
	w.log.Info().Msg("wdp transport running")
}

// Shutdown closes the socket, which unblocks and terminates the reader.
func (w *Transport) Shutdown() {
	if !w.running {
		panic("wdp: shutdown while not running")
	}
	w.running = false
	w.conn.Close()
	w.reader.Join()
	w.log.Info().Msg("wdp transport stopped")
}

func (w *Transport) readLoop(t *threads.Thread) {
	buf := make([]byte, maxDatagram)
	for {
		n, raddr, err := w.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if w.running {
				w.log.Warn().Err(err).Msg("udp read failed")
			}
			return
		}
		ev := wapevent.New(wapevent.TDUnitdataInd)
		ev.Addr = wapevent.Addr{Local: w.local, Remote: raddr}
		ev.UserData = octstr.New(buf[:n])
		w.toUpper(ev)
	}
}

// Dispatch accepts T-DUnitdata.req from the layer above and writes the
// datagram. The kernel send is atomic per datagram, so this is safe from
// any thread.
func (w *Transport) Dispatch(ev *wapevent.Event) {
	defer ev.Destroy()
	if ev.Kind != wapevent.TDUnitdataReq {
		w.log.Warn().Stringer("kind", ev.Kind).Msg("event not addressed to wdp")
		return
	}
	if err := w.Send(ev.Addr.Remote, ev.UserData); err != nil {
		w.log.Warn().Err(err).Stringer("addr", ev.Addr).Msg("udp send failed")
	}
}

// Send writes one datagram to the peer.
func (w *Transport) Send(remote netip.AddrPort, data *octstr.Octstr) error {
	if !w.running {
		return ErrNotRunning
	}
	_, err := w.conn.WriteToUDPAddrPort(data.Bytes(), remote)
	if err == nil {
		observability.RecordDatagram("out")
	}
	return err
}
