// The MIT License (MIT)
//
// Copyright (c) 2021 Winlin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

package sctp

import (
	"context"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/ossrs/srs-sctp/chunk"
)

// RFC 6298 constants.
const (
	rtoAlpha = 0.125
	rtoBeta  = 0.25
	rtoK     = 4
)

var errStaleSack = errors.New("stale SACK")

// rtoManager computes the retransmission timeout from RTT samples, RFC 6298.
type rtoManager struct {
	srtt   float64
	rttvar float64
	rto    time.Duration
	min    time.Duration
	max    time.Duration
	// Whether the first sample arrived.
	measured bool
}

func newRTOManager(initial, min, max time.Duration) *rtoManager {
	return &rtoManager{rto: initial, min: min, max: max}
}

// setNewRTT takes a sample from a chunk that was never retransmitted.
func (m *rtoManager) setNewRTT(rtt time.Duration) {
	r := float64(rtt)
	if !m.measured {
		m.srtt, m.rttvar, m.measured = r, r/2, true
	} else {
		m.rttvar = (1-rtoBeta)*m.rttvar + rtoBeta*abs(m.srtt-r)
		m.srtt = (1-rtoAlpha)*m.srtt + rtoAlpha*r
	}
	m.rto = m.clamp(time.Duration(m.srtt + rtoK*m.rttvar))
}

// backoff doubles the timeout after an expiry.
func (m *rtoManager) backoff() {
	m.rto = m.clamp(2 * m.rto)
}

func (m *rtoManager) clamp(rto time.Duration) time.Duration {
	if rto < m.min {
		return m.min
	}
	if rto > m.max {
		return m.max
	}
	return rto
}

func (m *rtoManager) get() time.Duration {
	return m.rto
}

func (m *rtoManager) smoothedRTT() time.Duration {
	return time.Duration(m.srtt)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// outstanding is a DATA chunk sent and not yet cumulatively acknowledged.
type outstanding struct {
	data        *chunk.Data
	sentAt      time.Time
	retransmits int
	// Timeouts since the peer last proved alive, bounded by MaxRetransmits.
	timeouts int
	gapAcked bool
}

// retransmitter owns the outbound TSN space: the DATA in flight, in TSN order,
// and the DATA waiting for room in flight.
type retransmitter struct {
	ctx context.Context
	rto *rtoManager

	// The TSN of the next DATA moved into flight.
	nextTSN uint32
	// The highest TSN the peer acknowledged cumulatively.
	cumulativeTSN uint32

	inflight []*outstanding
	pending  []*chunk.Data
	// Payload bytes in flight, they take from the window the peer advertised
	// last.
	inflightBytes int
	peerRwnd      uint32
	// Whether the last SACK had no room for the oldest in flight, and the
	// oldest to send again once the window opens.
	windowClosed bool
	probe        *outstanding

	maxOutstanding int
	maxBurst       int
	maxRetransmits int
}

func newRetransmitter(ctx context.Context, initialTSN, peerRwnd uint32, rto *rtoManager, cfg *Config) *retransmitter {
	return &retransmitter{
		ctx:            ctx,
		rto:            rto,
		nextTSN:        initialTSN,
		cumulativeTSN:  initialTSN - 1,
		peerRwnd:       peerRwnd,
		maxOutstanding: cfg.MaxOutstanding,
		maxBurst:       cfg.MaxBurst,
		maxRetransmits: cfg.MaxRetransmits,
	}
}

// enqueue appends the fragments of a message, TSNs are assigned when they
// move into flight.
func (v *retransmitter) enqueue(fragments ...*chunk.Data) {
	v.pending = append(v.pending, fragments...)
}

// pump moves pending DATA into flight while there is room in flight and in
// the peer window, and returns what to transmit. With nothing in flight, one
// chunk always goes, it probes a closed window.
func (v *retransmitter) pump(now time.Time) (sent []*chunk.Data) {
	for len(v.pending) > 0 && len(v.inflight) < v.maxOutstanding {
		d := v.pending[0]
		if len(v.inflight) > 0 && v.inflightBytes+len(d.Payload) > int(v.peerRwnd) {
			break
		}
		v.pending = v.pending[1:]

		d.TSN = v.nextTSN
		v.nextTSN++

		v.onSend(&outstanding{data: d, sentAt: now})
		sent = append(sent, d)
	}
	return
}

func (v *retransmitter) onSend(entry *outstanding) {
	v.inflight = append(v.inflight, entry)
	v.inflightBytes += len(entry.data.Payload)
}

// window is the peer window left for new DATA.
func (v *retransmitter) window() uint32 {
	if v.inflightBytes >= int(v.peerRwnd) {
		return 0
	}
	return v.peerRwnd - uint32(v.inflightBytes)
}

// onSack removes what the peer acknowledged cumulatively and marks what it
// acknowledged in gap blocks. It returns whether the cumulative TSN advanced.
func (v *retransmitter) onSack(s *chunk.Sack, now time.Time) (bool, error) {
	cum := s.CumulativeTSNAck
	if sna32LT(cum, v.cumulativeTSN) {
		return false, errors.Wrapf(errStaleSack, "cum=%v, ours=%v", cum, v.cumulativeTSN)
	}
	if !sna32LT(cum, v.nextTSN) {
		return false, errors.Errorf("cum=%v beyond next tsn %v", cum, v.nextTSN)
	}

	if len(s.DuplicateTSNs) > 0 {
		logger.If(v.ctx, "peer got duplicates %v", s.DuplicateTSNs)
	}

	var acked int
	var sample *outstanding
	for _, e := range v.inflight {
		if sna32GT(e.data.TSN, cum) {
			break
		}
		if e.retransmits == 0 && !e.gapAcked {
			sample = e
		}
		v.inflightBytes -= len(e.data.Payload)
		acked++
	}
	v.inflight = v.inflight[acked:]

	// Karn's rule, never sample a retransmitted chunk.
	if sample != nil {
		v.rto.setNewRTT(now.Sub(sample.sentAt))
	}

	for _, e := range v.inflight {
		offset := e.data.TSN - cum
		e.gapAcked = false
		for _, g := range s.GapAckBlocks {
			if offset >= uint32(g.Start) && offset <= uint32(g.End) {
				e.gapAcked = true
				break
			}
		}
	}

	// Everything still in flight, gap acked or not, takes from the window.
	v.peerRwnd = s.AdvertisedRwnd

	// The peer is alive but has no room for the oldest, its timeouts do not
	// count toward giving up.
	closed := len(v.inflight) > 0 && int(s.AdvertisedRwnd) < len(v.inflight[0].data.Payload)
	if closed {
		v.inflight[0].timeouts = 0
	} else if v.windowClosed && len(v.inflight) > 0 && !v.inflight[0].gapAcked {
		v.probe = v.inflight[0]
	}
	v.windowClosed = closed

	advanced := cum != v.cumulativeTSN
	v.cumulativeTSN = cum
	return advanced, nil
}

// retransmitProbe returns the oldest DATA, refused while the window was
// closed, to send again at once now that it opened.
func (v *retransmitter) retransmitProbe(now time.Time) *chunk.Data {
	e := v.probe
	v.probe = nil
	if e == nil || len(v.inflight) == 0 || v.inflight[0] != e || e.gapAcked {
		return nil
	}

	e.retransmits++
	e.sentAt = now
	return e.data
}

// onTimeout returns the oldest unacknowledged DATA and the ones after it, up
// to the burst limit, and backs off the timeout. It fails when the oldest was
// retransmitted too many times.
func (v *retransmitter) onTimeout(now time.Time) ([]*chunk.Data, error) {
	var burst []*outstanding
	for _, e := range v.inflight {
		if len(burst) >= v.maxBurst {
			break
		}
		if !e.gapAcked {
			burst = append(burst, e)
		}
	}

	// Everything was gap acked and the SACK moving the cumulative TSN got lost.
	if len(burst) == 0 && len(v.inflight) > 0 {
		burst = v.inflight[:1]
	}
	if len(burst) == 0 {
		return nil, nil
	}

	if oldest := burst[0]; oldest.timeouts >= v.maxRetransmits {
		return nil, errors.Wrapf(ErrMaxRetransmitsExceeded, "tsn=%v, retransmits=%v",
			oldest.data.TSN, oldest.retransmits)
	}

	var sent []*chunk.Data
	for _, e := range burst {
		e.retransmits++
		e.timeouts++
		e.sentAt = now
		e.gapAcked = false
		sent = append(sent, e.data)
	}

	v.rto.backoff()
	return sent, nil
}

// idle is true when nothing is in flight or pending.
func (v *retransmitter) idle() bool {
	return len(v.inflight) == 0 && len(v.pending) == 0
}

// release drops everything, on teardown.
func (v *retransmitter) release() {
	v.inflight, v.pending, v.inflightBytes, v.probe = nil, nil, 0, nil
}
