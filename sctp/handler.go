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
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/ossrs/srs-sctp/chunk"
)

// InjectPacket processes a packet from the peer. Packets that do not decode
// are dropped as if lost.
func (v *Association) InjectPacket(b []byte) {
	p, err := chunk.ParsePacket(b)

	v.lock.Lock()
	if err != nil {
		if errors.Cause(err) == chunk.ErrCorruptChunk {
			v.stats.PacketsCorrupt++
		} else {
			v.stats.PacketsMalformed++
		}
		logger.If(v.ctx, "sctp: port %v drop %vB, %v", v.localPort, len(b), err)
	} else {
		v.stats.PacketsReceived++
		v.handlePacket(p)
	}
	v.lock.Unlock()

	v.flush()
}

func (v *Association) handlePacket(p *chunk.Packet) {
	v.log.Tracef("port %v recv %v", v.localPort, p)

	if p.DestinationPort != v.localPort || (v.remotePort != 0 && p.SourcePort != v.remotePort) {
		v.drop(p, "port mismatch")
		return
	}

	if v.terminated {
		v.handleOutOfTheBlue(p)
		return
	}

	if !v.checkTag(p) {
		v.drop(p, "tag mismatch")
		return
	}

	var hasData bool
	for _, c := range p.Chunks {
		if v.terminated {
			break
		}

		switch c := c.(type) {
		case *chunk.Init:
			v.handleInit(p, c)
		case *chunk.InitAck:
			v.handleInitAck(c)
		case *chunk.CookieEcho:
			v.handleCookieEcho(c)
		case *chunk.CookieAck:
			v.handleCookieAck()
		case *chunk.Data:
			if v.handleData(c) {
				hasData = true
			}
		case *chunk.Sack:
			v.handleSack(c)
		case *chunk.Shutdown:
			v.handleShutdown(c)
		case *chunk.ShutdownAck:
			v.handleShutdownAck()
		case *chunk.ShutdownComplete:
			v.handleShutdownComplete()
		case *chunk.Abort:
			v.handleAbort(c)
		}
	}

	if hasData && !v.terminated {
		v.acknowledge()
	}
}

func (v *Association) drop(p *chunk.Packet, reason string) {
	v.stats.PacketsDropped++
	logger.If(v.ctx, "sctp: port %v drop %v, %v", v.localPort, p, reason)
}

// checkTag validates the verification tag, RFC 4960 section 8.5.
func (v *Association) checkTag(p *chunk.Packet) bool {
	for _, c := range p.Chunks {
		switch c := c.(type) {
		case *chunk.Init:
			return len(p.Chunks) == 1 && p.VerificationTag == 0
		case *chunk.Abort:
			if c.Reflected {
				return v.peerTag != 0 && p.VerificationTag == v.peerTag
			}
		case *chunk.ShutdownComplete:
			if c.Reflected {
				return v.peerTag != 0 && p.VerificationTag == v.peerTag
			}
		}
	}
	return p.VerificationTag == v.myTag
}

// handleOutOfTheBlue answers a peer still talking to a closed association,
// RFC 4960 section 8.4.
func (v *Association) handleOutOfTheBlue(p *chunk.Packet) {
	if v.peerTag == 0 || p.VerificationTag != v.myTag {
		v.drop(p, "closed")
		return
	}

	for _, c := range p.Chunks {
		switch c.(type) {
		case *chunk.ShutdownAck:
			// Our SHUTDOWN-COMPLETE was lost.
			v.queue(p.VerificationTag, &chunk.ShutdownComplete{Reflected: true})
			return
		case *chunk.Abort, *chunk.ShutdownComplete:
			return
		}
	}

	v.queue(p.VerificationTag, &chunk.Abort{Reflected: true})
}

func (v *Association) handleInit(p *chunk.Packet, c *chunk.Init) {
	switch v.state {
	case Closed:
		if !v.listening {
			v.drop(p, "not listening")
			return
		}
		v.remotePort = p.SourcePort
	case CookieWait, CookieEchoed:
		// Both sides connect, answer with our own tag and TSN.
	default:
		// The peer retransmitted INIT after we established, or restarted. We
		// do not support restarts.
		logger.If(v.ctx, "sctp: port %v ignore %v in %v", v.localPort, c, v.state)
		return
	}

	cookie := &stateCookie{
		myTag:          v.myTag,
		peerTag:        c.InitiateTag,
		myInitialTSN:   v.myInitialTSN,
		peerInitialTSN: c.InitialTSN,
		peerRwnd:       c.AdvertisedRwnd,
		localPort:      v.localPort,
		remotePort:     p.SourcePort,
		createdAt:      time.Now(),
	}

	v.queue(c.InitiateTag, &chunk.InitAck{InitCommon: v.initCommon(), Cookie: cookie.marshal(v.secret)})
}

func (v *Association) handleInitAck(c *chunk.InitAck) {
	if v.state != CookieWait {
		return
	}

	v.peerTag = c.InitiateTag
	v.peerInitialTSN = c.InitialTSN
	v.peerRwnd = c.AdvertisedRwnd

	v.t1Chunk = &chunk.CookieEcho{Cookie: c.Cookie}
	v.t1RTO, v.t1Retransmits = v.cfg.RTOInitial, 0
	v.queue(v.peerTag, v.t1Chunk)
	v.setState(CookieEchoed)
	v.t1Init.start(v.t1RTO)
}

func (v *Association) handleCookieEcho(c *chunk.CookieEcho) {
	var cookie stateCookie
	if err := cookie.unmarshal(v.secret, c.Cookie, v.cfg.CookieLifetime, time.Now()); err != nil {
		logger.Wf(v.ctx, "sctp: port %v invalid cookie, %v", v.localPort, err)
		return
	}
	if cookie.myTag != v.myTag || cookie.localPort != v.localPort {
		logger.Wf(v.ctx, "sctp: port %v cookie for tag=%v port=%v", v.localPort, cookie.myTag, cookie.localPort)
		return
	}

	switch v.state {
	case Closed, CookieWait, CookieEchoed:
		if v.peerTag != 0 && v.peerTag != cookie.peerTag {
			logger.Wf(v.ctx, "sctp: port %v cookie peer tag %v, expect %v", v.localPort, cookie.peerTag, v.peerTag)
			return
		}

		v.remotePort = cookie.remotePort
		v.peerTag = cookie.peerTag
		v.peerInitialTSN = cookie.peerInitialTSN
		v.peerRwnd = cookie.peerRwnd

		v.queue(v.peerTag, &chunk.CookieAck{})
		v.establish()
	default:
		// The peer lost our COOKIE-ACK.
		if cookie.peerTag == v.peerTag {
			v.queue(v.peerTag, &chunk.CookieAck{})
		}
	}
}

func (v *Association) handleCookieAck() {
	if v.state == CookieEchoed {
		v.establish()
	}
}

func (v *Association) establish() {
	v.t1Init.stop()
	v.t1Chunk = nil

	v.tracker = newTracker(v.peerInitialTSN)
	v.rtx = newRetransmitter(v.ctx, v.myInitialTSN, v.peerRwnd, v.rto, &v.cfg)

	v.setState(Established)
	close(v.established)

	logger.Tf(v.ctx, "sctp: port %v established with %v, tag=%v/%v, tsn=%v/%v",
		v.localPort, v.remotePort, v.myTag, v.peerTag, v.myInitialTSN, v.peerInitialTSN)
}

func (v *Association) onT1Expired() {
	if v.state != CookieWait && v.state != CookieEchoed {
		return
	}

	v.stats.Timeouts++
	if v.t1Retransmits >= v.cfg.MaxInitRetransmits {
		v.terminate(errors.Wrapf(ErrMaxRetransmitsExceeded, "%v after %v retransmits",
			v.t1Chunk.Type(), v.t1Retransmits))
		return
	}

	v.t1Retransmits++
	if v.t1RTO *= 2; v.t1RTO > v.cfg.RTOMax {
		v.t1RTO = v.cfg.RTOMax
	}

	vtag := v.peerTag
	if v.state == CookieWait {
		vtag = 0
	}
	v.queue(vtag, v.t1Chunk)
	v.t1Init.start(v.t1RTO)
}

// handleData returns whether the DATA needs a SACK.
func (v *Association) handleData(d *chunk.Data) bool {
	// The COOKIE-ACK was lost, but DATA with our tag proves the peer established.
	if v.state == CookieEchoed {
		v.establish()
	}
	if !v.state.connected() {
		return false
	}

	v.stats.DataReceived++
	if !v.tracker.inWindow(d.TSN) {
		logger.If(v.ctx, "sctp: port %v drop %v, out of window %v", v.localPort, d, v.tracker)
		return false
	}

	// Without room, only DATA filling a gap below what we hold is taken, the
	// rest is refused and the SACK tells the peer the window is closed.
	if v.receiveWindow() == 0 && sna32GT(d.TSN, v.tracker.highestTSN()) {
		v.stats.DataRefused++
		logger.If(v.ctx, "sctp: port %v refuse %v, window closed, backlog=%v", v.localPort, d, v.backlog)
		return true
	}

	if !v.tracker.observe(d.TSN) {
		v.stats.DuplicateData++
		logger.If(v.ctx, "sctp: port %v %v", v.localPort, errors.Wrapf(ErrDuplicateChunk, "tsn=%v", d.TSN))
		return true
	}

	msgs := v.getStream(d.StreamID).reasm.accept(d)
	if len(msgs) > 0 {
		for _, m := range msgs {
			v.backlog += len(m.Payload)
		}
		v.inbox = append(v.inbox, msgs...)
		v.stats.MessagesDelivered += uint64(len(msgs))
		v.wakeup()
	}
	return true
}

// acknowledge sends or schedules a SACK after a packet with DATA.
func (v *Association) acknowledge() {
	v.sackPackets++

	immediate := v.cfg.SackDelay == 0 || v.sackPackets >= 2 || v.state != Established
	if immediate || v.tracker.hasGaps() || v.tracker.hasDuplicates() {
		v.sendSack()
		return
	}
	v.ackTimer.startIfIdle(v.cfg.SackDelay)
}

func (v *Association) onAckExpired() {
	if v.tracker != nil && v.sackPackets > 0 {
		v.sendSack()
	}
}

func (v *Association) sendSack() {
	v.ackTimer.stop()
	v.sackPackets = 0

	v.advertised = v.receiveWindow()
	v.queue(v.peerTag, v.tracker.sack(v.advertised))
	v.stats.SacksSent++
}

// receiveWindow is the room left for DATA: the window less the fragments in
// reassembly and the messages the application did not consume yet.
func (v *Association) receiveWindow() uint32 {
	used := v.backlog
	for _, s := range v.streams {
		used += s.reasm.buffered()
	}

	if used >= defaultRwnd {
		return 0
	}
	return uint32(defaultRwnd - used)
}

func (v *Association) handleSack(s *chunk.Sack) {
	if v.state == CookieEchoed {
		v.establish()
	}
	if !v.state.connected() {
		return
	}

	v.stats.SacksReceived++
	v.onCumulativeAck(s)
}

// onCumulativeAck applies an acknowledgement, from a SACK or a SHUTDOWN.
func (v *Association) onCumulativeAck(s *chunk.Sack) {
	advanced, err := v.rtx.onSack(s, time.Now())
	if err != nil {
		if errors.Cause(err) == errStaleSack {
			v.stats.StaleSacks++
		}
		logger.If(v.ctx, "sctp: port %v ignore %v, %v", v.localPort, s, err)
		return
	}

	if d := v.rtx.retransmitProbe(time.Now()); d != nil {
		v.queue(v.peerTag, d)
		v.stats.Retransmissions++
		v.t3RTX.start(v.rto.get())
	}

	if advanced {
		if len(v.rtx.inflight) > 0 {
			v.t3RTX.start(v.rto.get())
		} else {
			v.t3RTX.stop()
		}
	}

	v.transmitPending()
	v.checkShutdown()
}

// transmitPending sends the DATA that fits in flight.
func (v *Association) transmitPending() {
	for _, d := range v.rtx.pump(time.Now()) {
		v.queue(v.peerTag, d)
		v.stats.DataSent++
	}

	if len(v.rtx.inflight) > 0 {
		v.t3RTX.startIfIdle(v.rto.get())
	}
}

func (v *Association) onT3Expired() {
	if v.rtx == nil || v.terminated {
		return
	}

	v.stats.Timeouts++
	sent, err := v.rtx.onTimeout(time.Now())
	if err != nil {
		v.abort(chunk.CauseMaxRetransmissions, "data not acknowledged", err)
		return
	}

	for _, d := range sent {
		v.queue(v.peerTag, d)
		v.stats.Retransmissions++
	}
	v.log.Debugf("port %v retransmit %v chunks, rto=%v", v.localPort, len(sent), v.rto.get())

	if len(v.rtx.inflight) > 0 {
		v.t3RTX.start(v.rto.get())
	}
}

// checkShutdown moves the close forward once all our DATA is acknowledged.
func (v *Association) checkShutdown() {
	if !v.rtx.idle() {
		return
	}

	switch v.state {
	case ShutdownPending:
		v.queue(v.peerTag, &chunk.Shutdown{CumulativeTSNAck: v.tracker.cumulativeTSN})
		v.setState(ShutdownSent)
	case ShutdownReceived:
		v.queue(v.peerTag, &chunk.ShutdownAck{})
		v.setState(ShutdownAckSent)
	default:
		return
	}

	v.t2Retransmits = 0
	v.t2Shutdown.start(v.rto.get())
}

func (v *Association) onT2Expired() {
	if v.state != ShutdownSent && v.state != ShutdownAckSent {
		return
	}

	v.stats.Timeouts++
	if v.t2Retransmits >= v.cfg.MaxRetransmits {
		v.abort(chunk.CauseMaxRetransmissions, "shutdown not acknowledged",
			errors.Wrapf(ErrMaxRetransmitsExceeded, "%v after %v retransmits", v.state, v.t2Retransmits))
		return
	}

	v.t2Retransmits++
	v.rto.backoff()

	if v.state == ShutdownSent {
		v.queue(v.peerTag, &chunk.Shutdown{CumulativeTSNAck: v.tracker.cumulativeTSN})
	} else {
		v.queue(v.peerTag, &chunk.ShutdownAck{})
	}
	v.t2Shutdown.start(v.rto.get())
}

func (v *Association) handleShutdown(c *chunk.Shutdown) {
	switch v.state {
	case Established, ShutdownPending, ShutdownReceived:
		v.setState(ShutdownReceived)
		// The cumulative TSN of SHUTDOWN acknowledges our DATA, it carries no
		// window so the last one stands.
		v.onCumulativeAck(&chunk.Sack{CumulativeTSNAck: c.CumulativeTSNAck, AdvertisedRwnd: v.rtx.peerRwnd})
		v.checkShutdown()
	case ShutdownSent:
		// Both sides close at once, RFC 4960 section 9.2.
		v.queue(v.peerTag, &chunk.ShutdownAck{})
		v.setState(ShutdownAckSent)
		v.t2Retransmits = 0
		v.t2Shutdown.start(v.rto.get())
	case ShutdownAckSent:
		v.queue(v.peerTag, &chunk.ShutdownAck{})
	}
}

// SHUTDOWN-ACK in ShutdownSent completes the close, the initiator never
// enters ShutdownAckSent.
func (v *Association) handleShutdownAck() {
	switch v.state {
	case ShutdownSent, ShutdownAckSent:
		v.queue(v.peerTag, &chunk.ShutdownComplete{})
		v.terminate(nil)
	}
}

func (v *Association) handleShutdownComplete() {
	if v.state == ShutdownAckSent {
		v.terminate(nil)
	}
}

func (v *Association) handleAbort(c *chunk.Abort) {
	if v.state == Closed {
		return
	}

	v.terminate(errors.Wrapf(ErrPeerAborted, "cause=%v, reason=%v", c.Cause, c.Reason))
}
