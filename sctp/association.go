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

// Package sctp is a message oriented reliable transport modeled on the SCTP
// association, RFC 4960. It runs over any Transport that carries packets,
// tolerating loss, reordering, duplication and corruption.
package sctp

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/ossrs/srs-sctp/chunk"
	"github.com/pion/logging"
	"github.com/pion/randutil"
)

// Transport carries packets to the peer. It may lose, reorder, duplicate or
// corrupt them.
type Transport interface {
	Send(b []byte) error
}

// PacketInjector accepts packets from the peer, it is what a transport
// delivers to.
type PacketInjector interface {
	InjectPacket(b []byte)
}

// Association is one end of a connection. All methods are safe for concurrent
// use.
type Association struct {
	// The log context, each association has its own cid.
	ctx    context.Context
	cfg    Config
	log    logging.LeveledLogger
	secret []byte

	lock sync.Mutex

	state State
	// Set once the association went to Closed for good.
	terminated bool
	// Whether INIT in Closed is answered.
	listening bool
	transport Transport

	localPort      uint16
	remotePort     uint16
	myTag          uint32
	peerTag        uint32
	myInitialTSN   uint32
	peerInitialTSN uint32
	peerRwnd       uint32

	streams map[uint16]*stream
	rto     *rtoManager
	// Created on establishment.
	rtx     *retransmitter
	tracker *tracker

	// T1 retransmits INIT or COOKIE-ECHO.
	t1Init        *rtxTimer
	t1Chunk       chunk.Chunk
	t1RTO         time.Duration
	t1Retransmits int
	// T2 retransmits SHUTDOWN or SHUTDOWN-ACK.
	t2Shutdown    *rtxTimer
	t2Retransmits int
	// T3 retransmits DATA.
	t3RTX *rtxTimer
	// The delayed SACK.
	ackTimer *rtxTimer
	// DATA packets not acknowledged yet.
	sackPackets int

	// Packets queued under lock, written by flush in order.
	outbound [][]byte
	flushing bool

	// Messages reassembled but not yet handed to the delivery goroutine.
	inbox []*Message
	// Payload bytes of the messages delivered but not consumed, in the inbox,
	// the channel or the handler.
	backlog int
	// The receive window in our last SACK.
	advertised uint32

	notify        chan struct{}
	messages      chan *Message
	onMessage     func(m *Message)
	onClose       func(err error)
	closeNotified bool

	established chan struct{}
	done        chan struct{}
	err         error

	stats Stats
}

// NewAssociation creates an association in Closed, bound to cfg.LocalPort.
// Call SetTransport, then Connect or Listen.
func NewAssociation(cfg Config) (*Association, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	myTag, err := randomTag()
	if err != nil {
		return nil, errors.Wrapf(err, "generate tag")
	}

	secret := make([]byte, 32)
	for i := 0; i < len(secret); i += 8 {
		r, err := randutil.CryptoUint64()
		if err != nil {
			return nil, errors.Wrapf(err, "generate secret")
		}
		binary.BigEndian.PutUint64(secret[i:], r)
	}

	v := &Association{
		ctx:          logger.WithContext(cfg.Context),
		cfg:          cfg,
		log:          cfg.LoggerFactory.NewLogger("sctp"),
		secret:       secret,
		state:        Closed,
		localPort:    cfg.LocalPort,
		myTag:        myTag,
		myInitialTSN: randutil.NewMathRandomGenerator().Uint32(),
		streams:      make(map[uint16]*stream),
		rto:          newRTOManager(cfg.RTOInitial, cfg.RTOMin, cfg.RTOMax),
		advertised:   defaultRwnd,
		notify:       make(chan struct{}, 1),
		messages:     make(chan *Message, cfg.ReceiveBuffer),
		established:  make(chan struct{}),
		done:         make(chan struct{}),
	}

	v.t1Init = newRtxTimer("t1-init", &v.lock, v.onT1Expired, v.flush)
	v.t2Shutdown = newRtxTimer("t2-shutdown", &v.lock, v.onT2Expired, v.flush)
	v.t3RTX = newRtxTimer("t3-rtx", &v.lock, v.onT3Expired, v.flush)
	v.ackTimer = newRtxTimer("ack", &v.lock, v.onAckExpired, v.flush)

	go v.deliver()

	logger.Tf(v.ctx, "sctp: create association port=%v, tag=%v, tsn=%v, mtu=%v, rto=%v",
		v.localPort, v.myTag, v.myInitialTSN, cfg.MTU, cfg.RTOInitial)
	return v, nil
}

// randomTag returns a non zero verification tag.
func randomTag() (uint32, error) {
	for {
		r, err := randutil.CryptoUint64()
		if err != nil {
			return 0, err
		}
		if tag := uint32(r); tag != 0 {
			return tag, nil
		}
	}
}

// SetTransport binds the association to a transport. Once bound, a Closed
// association answers INIT from a peer.
func (v *Association) SetTransport(t Transport) {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.transport = t
	v.listening = t != nil
}

// Listen waits passively for a peer to connect.
func (v *Association) Listen() error {
	v.lock.Lock()
	defer v.lock.Unlock()

	if v.terminated {
		return ErrNotConnected
	}
	if v.transport == nil {
		return errors.Wrapf(ErrNotConnected, "no transport")
	}

	v.listening = true
	return nil
}

// Connect starts the handshake with the peer at remotePort. It does not wait
// for it, see WaitEstablished.
func (v *Association) Connect(remotePort uint16) error {
	v.lock.Lock()
	err := v.connect(remotePort)
	v.lock.Unlock()

	v.flush()
	return err
}

func (v *Association) connect(remotePort uint16) error {
	if v.terminated {
		return ErrNotConnected
	}
	if v.transport == nil {
		return errors.Wrapf(ErrNotConnected, "no transport")
	}
	if v.state != Closed {
		return errors.Errorf("connect in state %v", v.state)
	}
	if remotePort == 0 {
		return errors.Wrapf(ErrInvalidConfig, "remote port 0")
	}

	v.remotePort = remotePort
	v.t1Chunk = &chunk.Init{InitCommon: v.initCommon()}
	v.t1RTO, v.t1Retransmits = v.cfg.RTOInitial, 0

	// INIT is the only packet with a zero tag, we do not know the peer's yet.
	v.queue(0, v.t1Chunk)
	v.setState(CookieWait)
	v.t1Init.start(v.t1RTO)
	return nil
}

// WaitEstablished blocks until the handshake completes, the association
// closes or ctx is done.
func (v *Association) WaitEstablished(ctx context.Context) error {
	select {
	case <-v.established:
		return nil
	case <-v.done:
		if err := v.Err(); err != nil {
			return err
		}
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send queues a message for reliable delivery and returns without waiting for
// the network. Unordered messages skip the stream sequence.
func (v *Association) Send(payload []byte, ordered bool, streamID uint16, ppid uint32) error {
	v.lock.Lock()
	err := v.send(payload, ordered, streamID, ppid)
	v.lock.Unlock()

	v.flush()
	return err
}

func (v *Association) send(payload []byte, ordered bool, streamID uint16, ppid uint32) error {
	if v.state != Established {
		return errors.Wrapf(ErrNotConnected, "send in %v", v.state)
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > v.cfg.MaxMessageSize {
		return errors.Wrapf(ErrMessageTooLarge, "%v > %v", len(payload), v.cfg.MaxMessageSize)
	}

	s := v.getStream(streamID)

	var ssn uint16
	if ordered {
		ssn = s.nextSSN
		s.nextSSN++
	}

	var fragments []*chunk.Data
	max := chunk.MaxDataPayload(v.cfg.MTU)
	for offset := 0; offset < len(payload); offset += max {
		end := offset + max
		if end > len(payload) {
			end = len(payload)
		}

		fragments = append(fragments, &chunk.Data{
			StreamID:  streamID,
			SSN:       ssn,
			PPID:      ppid,
			Begin:     offset == 0,
			End:       end == len(payload),
			Unordered: !ordered,
			Payload:   append([]byte{}, payload[offset:end]...),
		})
	}

	v.rtx.enqueue(fragments...)
	v.stats.MessagesSent++
	v.transmitPending()
	return nil
}

// Shutdown closes gracefully: the outstanding DATA of both sides is delivered
// first. It aborts when ctx is done before the peer confirms.
func (v *Association) Shutdown(ctx context.Context) error {
	v.lock.Lock()
	err := v.shutdown()
	v.lock.Unlock()

	v.flush()
	if err != nil {
		return err
	}

	select {
	case <-v.done:
		return v.Err()
	case <-ctx.Done():
		logger.Wf(v.ctx, "sctp: shutdown not confirmed, abort, %v", v.Stats())
		_ = v.Abort()
		return errors.Wrapf(ctx.Err(), "shutdown")
	}
}

func (v *Association) shutdown() error {
	if v.terminated {
		return ErrNotConnected
	}

	switch v.state {
	case Closed, CookieWait, CookieEchoed:
		v.abort(chunk.CauseUserInitiatedAbort, "close before established", nil)
	case Established:
		v.setState(ShutdownPending)
		v.checkShutdown()
	}
	return nil
}

// Close is Shutdown bounded by Config.CloseTimeout.
func (v *Association) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.CloseTimeout)
	defer cancel()

	return v.Shutdown(ctx)
}

// Abort sends ABORT and closes at once, dropping everything not delivered.
// The association ends without an error.
func (v *Association) Abort() error {
	v.lock.Lock()
	if v.terminated {
		v.lock.Unlock()
		return ErrNotConnected
	}
	v.abort(chunk.CauseUserInitiatedAbort, "user abort", nil)
	v.lock.Unlock()

	v.flush()
	return nil
}

// OnMessage sets the handler of received messages, called from a single
// goroutine in delivery order. Without a handler, use ReadMessage.
func (v *Association) OnMessage(h func(m *Message)) {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.onMessage = h
}

// OnClose sets the handler called once when the association closes, after
// every message was delivered. err is nil for a graceful close or a local
// abort.
func (v *Association) OnClose(h func(err error)) {
	v.lock.Lock()
	notified, err := v.closeNotified, v.err
	v.onClose = h
	v.lock.Unlock()

	if notified && h != nil {
		h(err)
	}
}

// ReadMessage returns the next message. It fails when ctx is done, or when the
// association closed and every message was read.
func (v *Association) ReadMessage(ctx context.Context) (*Message, error) {
	select {
	case m, ok := <-v.messages:
		if !ok {
			if err := v.Err(); err != nil {
				return nil, err
			}
			return nil, ErrNotConnected
		}
		v.consumed(len(m.Payload))
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the association closes.
func (v *Association) Done() <-chan struct{} {
	return v.done
}

// Err is the reason the association closed, nil while open or after a
// graceful close.
func (v *Association) Err() error {
	v.lock.Lock()
	defer v.lock.Unlock()

	return v.err
}

func (v *Association) State() State {
	v.lock.Lock()
	defer v.lock.Unlock()

	return v.state
}

func (v *Association) Stats() Stats {
	v.lock.Lock()
	defer v.lock.Unlock()

	s := v.stats
	s.State = v.state
	s.RTO, s.SRTT = v.rto.get(), v.rto.smoothedRTT()
	if v.rtx != nil {
		s.Outstanding, s.Pending = len(v.rtx.inflight), len(v.rtx.pending)
	}
	for _, st := range v.streams {
		s.Buffered += st.reasm.buffered()
	}
	s.Backlog = v.backlog
	if v.tracker != nil {
		s.Rwnd = v.receiveWindow()
	}
	if v.rtx != nil {
		s.PeerRwnd = v.rtx.window()
	}
	return s
}

func (v *Association) initCommon() chunk.InitCommon {
	return chunk.InitCommon{
		InitiateTag:        v.myTag,
		AdvertisedRwnd:     defaultRwnd,
		NumOutboundStreams: maxStreams,
		NumInboundStreams:  maxStreams,
		InitialTSN:         v.myInitialTSN,
	}
}

func (v *Association) setState(state State) {
	if v.state != state {
		logger.Tf(v.ctx, "sctp: port %v state %v => %v", v.localPort, v.state, state)
		v.state = state
	}
}

// queue serializes a packet to write after the lock is released.
func (v *Association) queue(vtag uint32, chunks ...chunk.Chunk) {
	p := &chunk.Packet{
		SourcePort:      v.localPort,
		DestinationPort: v.remotePort,
		VerificationTag: vtag,
		Chunks:          chunks,
	}

	b, err := p.Marshal()
	if err != nil {
		logger.Ef(v.ctx, "sctp: marshal %v err %+v", p, err)
		return
	}

	v.log.Tracef("port %v send %v", v.localPort, p)
	v.outbound = append(v.outbound, b)
	v.stats.PacketsSent++
}

// flush writes the queued packets. A single caller writes at a time, the others
// leave their packets to it, so the wire order is the order they were queued
// and a transport delivering synchronously cannot deadlock us.
func (v *Association) flush() {
	v.lock.Lock()
	if v.flushing {
		v.lock.Unlock()
		return
	}
	v.flushing = true

	for len(v.outbound) > 0 {
		packets, t := v.outbound, v.transport
		v.outbound = nil
		v.lock.Unlock()

		for _, b := range packets {
			if t == nil {
				continue
			}
			if err := t.Send(b); err != nil {
				logger.If(v.ctx, "sctp: write %vB err %+v", len(b), err)
			}
		}

		v.lock.Lock()
	}

	v.flushing = false
	v.lock.Unlock()
}

// consumed releases the receive window of a message the application took. A
// window reopening from below half is announced at once, the peer may wait
// for it.
func (v *Association) consumed(n int) {
	v.lock.Lock()
	v.backlog -= n

	if v.terminated || v.tracker == nil || !v.state.connected() {
		v.lock.Unlock()
		return
	}

	rwnd := v.receiveWindow()
	update := v.advertised < defaultRwnd/2 && rwnd >= v.advertised+uint32(v.cfg.MTU)
	if update {
		v.sendSack()
	}
	v.lock.Unlock()

	if update {
		v.flush()
	}
}

func (v *Association) wakeup() {
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// deliver hands messages to the application outside the lock, then reports
// the close.
func (v *Association) deliver() {
	for closed := false; !closed; {
		select {
		case <-v.notify:
		case <-v.done:
			closed = true
		}

		v.lock.Lock()
		msgs, handler := v.inbox, v.onMessage
		v.inbox = nil
		v.lock.Unlock()

		for _, m := range msgs {
			if handler != nil {
				handler(m)
				v.consumed(len(m.Payload))
				continue
			}

			select {
			case v.messages <- m:
			case <-v.done:
				select {
				case v.messages <- m:
				default:
					logger.Wf(v.ctx, "sctp: drop %v, receive buffer full on close", m)
				}
			}
		}
	}

	close(v.messages)

	v.lock.Lock()
	h, err := v.onClose, v.err
	v.closeNotified = true
	v.lock.Unlock()

	if h != nil {
		h(err)
	}
}

// abort sends ABORT when the peer is known, then closes.
func (v *Association) abort(cause uint16, reason string, err error) {
	if v.peerTag != 0 {
		v.queue(v.peerTag, &chunk.Abort{Cause: cause, Reason: reason})
	}
	v.terminate(err)
}

// terminate moves to Closed for good and releases everything.
func (v *Association) terminate(err error) {
	if v.terminated {
		return
	}

	from := v.state
	v.state, v.terminated, v.err = Closed, true, err

	v.t1Init.close()
	v.t2Shutdown.close()
	v.t3RTX.close()
	v.ackTimer.close()

	if v.rtx != nil {
		v.rtx.release()
	}
	v.streams = make(map[uint16]*stream)
	close(v.done)

	if err != nil {
		logger.Wf(v.ctx, "sctp: port %v closed from %v, err %+v", v.localPort, from, err)
	} else {
		logger.Tf(v.ctx, "sctp: port %v closed from %v", v.localPort, from)
	}
}
