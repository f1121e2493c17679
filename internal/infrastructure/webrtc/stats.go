package webrtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"peercall/internal/core/domain"
)

// Stats combines the pion stats report with the local sequence tracker.
// Inbound RTP counters from the report win when present; the tracker covers
// interceptor stacks that do not populate them.
func (p *Peer) Stats(ctx context.Context) (domain.ConnectionStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConnectionStats{}, err
	}
	if p.ctx.Err() != nil {
		return domain.ConnectionStats{}, domain.ErrConnectionClosed
	}

	stats := domain.ConnectionStats{Timestamp: time.Now()}
	var reportReceived, reportLost int64
	var rtt float64

	for _, s := range p.pc.GetStats() {
		switch st := s.(type) {
		case webrtc.InboundRTPStreamStats:
			reportReceived += int64(st.PacketsReceived)
			reportLost += int64(st.PacketsLost)
		case webrtc.ICECandidatePairStats:
			if st.State == webrtc.StatsICECandidatePairStateSucceeded && st.CurrentRoundTripTime > rtt {
				rtt = st.CurrentRoundTripTime
			}
		}
	}

	if reportReceived > 0 {
		stats.PacketsReceived = reportReceived
		stats.PacketsLost = reportLost
	} else {
		stats.PacketsReceived, stats.PacketsLost = p.loss.totals()
	}
	stats.RTT = time.Duration(rtt * float64(time.Second))
	return stats, nil
}

// lossCounter derives received/lost counts from RTP sequence numbers per SSRC.
type lossCounter struct {
	mu      sync.Mutex
	streams map[uint32]*seqState
}

type seqState struct {
	base     uint32
	highest  uint32 // extended with cycle count
	received int64
}

func newLossCounter() *lossCounter {
	return &lossCounter{streams: make(map[uint32]*seqState)}
}

func (c *lossCounter) observe(ssrc uint32, seq uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.streams[ssrc]
	if !ok {
		c.streams[ssrc] = &seqState{base: uint32(seq), highest: uint32(seq), received: 1}
		return
	}
	st.received++

	cycles := st.highest &^ 0xffff
	last := uint16(st.highest)
	ext := cycles | uint32(seq)
	if seq < last && last-seq > 0x8000 {
		ext += 1 << 16 // wrapped forward
	} else if seq > last && seq-last > 0x8000 {
		return // late packet from the previous cycle
	}
	if ext > st.highest {
		st.highest = ext
	}
}

func (c *lossCounter) totals() (received, lost int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.streams {
		expected := int64(st.highest-st.base) + 1
		received += st.received
		if l := expected - st.received; l > 0 {
			lost += l
		}
	}
	return received, lost
}
