package wtp

import (
	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/pducodec"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
)

// sarReassembly collects the segments of one inbound SDU. Segments carry
// contiguous PSNs from zero; ttr marks the last one.
type sarReassembly struct {
	segs    map[uint8]*octstr.Octstr
	ttrSeen bool
	lastPSN uint8
}

func newReassembly() *sarReassembly {
	return &sarReassembly{segs: make(map[uint8]*octstr.Octstr)}
}

func (s *sarReassembly) add(psn uint8, data *octstr.Octstr) {
	if _, dup := s.segs[psn]; dup {
		return
	}
	s.segs[psn] = data
}

func (s *sarReassembly) missingThrough(psn uint8) []uint8 {
	var missing []uint8
	for i := 0; i <= int(psn); i++ {
		if _, ok := s.segs[uint8(i)]; !ok {
			missing = append(missing, uint8(i))
		}
	}
	return missing
}

func (s *sarReassembly) highestContiguous() uint8 {
	var h uint8
	for {
		if _, ok := s.segs[h+1]; !ok {
			return h
		}
		h++
	}
}

func (s *sarReassembly) complete() bool {
	return s.ttrSeen && len(s.missingThrough(s.lastPSN)) == 0
}

func (s *sarReassembly) assemble() *octstr.Octstr {
	out := octstr.Empty()
	for i := 0; i <= int(s.lastPSN); i++ {
		out.Append(s.segs[uint8(i)])
	}
	return out
}

// sarFeed stores one inbound segment and answers group boundaries: a
// Negative_ack listing holes, or an Ack carrying the highest received PSN
// in TPI 3. Completion is checked on every segment so a retransmitted
// middle segment can finish the transfer.
func (l *Layer) sarFeed(m *Machine, psn uint8, gtr, ttr bool, data *octstr.Octstr, isResult bool) {
	if m.sarIn == nil {
		m.sarIn = newReassembly()
	}
	s := m.sarIn
	s.add(psn, data)
	if ttr {
		s.ttrSeen = true
		s.lastPSN = psn
	}
	if m.state == StateTIDVerifyWait {
		return // delivery and boundary answers wait for the handshake
	}
	if s.complete() {
		assembled := s.assemble()
		m.sarIn = nil
		if isResult {
			l.completeResult(m, assembled)
		} else {
			l.deliverInvoke(m, assembled)
		}
		return
	}
	if gtr || ttr {
		boundary := psn
		if s.ttrSeen {
			boundary = s.lastPSN
		}
		missing := s.missingThrough(boundary)
		if len(missing) > 0 {
			l.sendPDU(m.addr(), NewNegativeAck(SendTID(m.tid()), missing))
		} else {
			l.sendPDU(m.addr(), NewGroupAck(SendTID(m.tid()), s.highestContiguous()))
		}
	}
}

// handleSegment routes Segmented_invoke and Segmented_result PDUs.
func (l *Layer) handleSegment(addr wapevent.Addr, p *pducodec.PDU, isResult bool) {
	key := machineKey{addr: addr, tid: uint16(p.Uint("tid"))}
	var m *Machine
	if isResult {
		m = l.lookupInitiator(key)
	} else {
		m = l.lookupResponder(key)
	}
	if m == nil {
		return // segment for a dead or unknown transfer, drop
	}
	l.sarFeed(m, uint8(p.Uint("psn")), p.Flag("gtr"), p.Flag("ttr"), p.Bytes("data"), isResult)
}

// sarSegments drives one outbound segmented transfer. The first segment
// travels in the Invoke or Result PDU with gtr set and forms its own
// group; later groups of GroupLen go out when the previous group is acked.
type sarSegments struct {
	isResult bool
	chunks   []*octstr.Octstr
	nextPSN  int
	done     bool
}

func splitSDU(data *octstr.Octstr, segSize int) []*octstr.Octstr {
	var chunks []*octstr.Octstr
	for off := 0; off < data.Len(); off += segSize {
		n := segSize
		if off+n > data.Len() {
			n = data.Len() - off
		}
		chunks = append(chunks, data.Slice(off, n))
	}
	return chunks
}

func (l *Layer) sarStartOut(m *Machine, data *octstr.Octstr, isResult bool) {
	m.sarOut = &sarSegments{
		isResult: isResult,
		chunks:   splitSDU(data, l.cfg.SegSize),
		nextPSN:  1,
	}
	var p *pducodec.PDU
	if isResult {
		p = NewResult(SendTID(m.tid()), true, false, m.sarOut.chunks[0])
	} else {
		p = NewInvoke(SendTID(m.tid()), m.class, m.uack, m.tidnew, true, false, m.sarOut.chunks[0])
	}
	m.lastSent = l.sendPDU(m.addr(), p)
}

// sarGroupAcked sends the next group after the in-flight one was acked.
func (l *Layer) sarGroupAcked(m *Machine) {
	s := m.sarOut
	if s == nil || s.done {
		return
	}
	start := s.nextPSN
	if start >= len(s.chunks) {
		s.done = true
		return
	}
	end := start + l.cfg.GroupLen
	if end > len(s.chunks) {
		end = len(s.chunks)
	}
	for i := start; i < end; i++ {
		m.lastSent = l.sendPDU(m.addr(), l.segmentPDU(m, i, false))
	}
	s.nextPSN = end
	if end == len(s.chunks) {
		s.done = true
	}
	m.rcr = 0
	m.timer.Start(l.cfg.RetransmitInterval, l.timerEvent(wapevent.TimerTOR, m))
}

// segmentPDU rebuilds the PDU for one PSN of the outbound transfer,
// recomputing its gtr and ttr flags from the group layout.
func (l *Layer) segmentPDU(m *Machine, psn int, rid bool) *pducodec.PDU {
	s := m.sarOut
	final := psn == len(s.chunks)-1
	var p *pducodec.PDU
	if psn == 0 {
		if s.isResult {
			p = NewResult(SendTID(m.tid()), true, false, s.chunks[0])
		} else {
			p = NewInvoke(SendTID(m.tid()), m.class, m.uack, m.tidnew, true, false, s.chunks[0])
		}
	} else {
		gtr := !final && psn%l.cfg.GroupLen == 0
		if s.isResult {
			p = NewSegmentedResult(SendTID(m.tid()), uint8(psn), gtr, final, s.chunks[psn])
		} else {
			p = NewSegmentedInvoke(SendTID(m.tid()), uint8(psn), gtr, final, s.chunks[psn])
		}
	}
	if rid {
		p.SetFlag("rid", true)
	}
	return p
}

// sarRetransmitMissing answers a Negative_ack: resend exactly the listed
// segments with rid set.
func (l *Layer) sarRetransmitMissing(m *Machine, missing []byte) {
	s := m.sarOut
	if s == nil {
		return
	}
	for _, b := range missing {
		psn := int(b)
		if psn >= len(s.chunks) {
			continue
		}
		l.sendPDU(m.addr(), l.segmentPDU(m, psn, true))
	}
	m.timer.Start(l.cfg.RetransmitInterval, l.timerEvent(wapevent.TimerTOR, m))
}
