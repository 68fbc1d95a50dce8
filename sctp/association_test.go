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
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/ossrs/srs-sctp/chunk"
	"github.com/ossrs/srs-sctp/link"
)

func testPayload(i, size int) []byte {
	b := make([]byte, size)
	for j := range b {
		b[j] = byte(i + j)
	}
	return b
}

// Transfer over a link losing and corrupting packets, both sides close gracefully.
func TestAssociation_LossyTransfer(t *testing.T) {
	ctx, cancel := testContext()

	var r0, r1, r2, r3 error
	defer func(ctx context.Context) {
		if err := filterTestError(ctx.Err(), r0, r1, r2, r3); err != nil {
			t.Errorf("Fail for err %+v", err)
		} else {
			logger.Tf(ctx, "test done with err %+v", err)
		}
	}(ctx)

	imp, err := link.NewImpairment(link.ImpairmentConfig{Loss: 0.2, Corrupt: 0.1}, rand.New(rand.NewSource(12345)))
	if err != nil {
		t.Fatalf("impairment err %+v", err)
	}

	p, err := newTestPair(imp, testConfig(5000), testConfig(5001))
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	const nn, size = 64, 2048

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()

		for i := 0; i < nn && r0 == nil; i++ {
			r0 = p.a.Send(testPayload(i, size), true, 0, 51)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		r1 = func() error {
			for i := 0; i < nn; i++ {
				m, err := p.b.ReadMessage(ctx)
				if err != nil {
					return errors.Wrapf(err, "read #%v", i)
				}
				if !bytes.Equal(m.Payload, testPayload(i, size)) {
					return errors.Errorf("message #%v mismatch %v", i, m)
				}
				if m.PPID != 51 || m.StreamID != 0 {
					return errors.Errorf("message #%v invalid %v", i, m)
				}
			}
			return nil
		}()
		if r1 != nil {
			return
		}

		var closing sync.WaitGroup
		closing.Add(2)
		go func() {
			defer closing.Done()
			r2 = p.a.Close()
		}()
		go func() {
			defer closing.Done()
			r3 = p.b.Close()
		}()
		closing.Wait()
	}()

	wg.Wait()

	sa, sb := p.a.Stats(), p.b.Stats()
	logger.Tf(ctx, "a %v, b %v, link %v", sa, sb, imp.Stats())

	if sa.Retransmissions == 0 {
		t.Errorf("expect retransmissions, %v", sa)
	}
	if sa.PacketsCorrupt+sa.PacketsMalformed+sb.PacketsCorrupt+sb.PacketsMalformed == 0 {
		t.Errorf("expect corrupt packets dropped, a %v, b %v", sa, sb)
	}
	if sb.MessagesDelivered != nn {
		t.Errorf("delivered %v of %v", sb.MessagesDelivered, nn)
	}
	if sa.State != Closed || sb.State != Closed {
		t.Errorf("state %v and %v", sa.State, sb.State)
	}
}

func TestAssociation_SimultaneousOpen(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p, err := newPerfectPair()
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}
	if p.a.State() != Established || p.b.State() != Established {
		t.Fatalf("state %v and %v", p.a.State(), p.b.State())
	}
	if p.a.peerTag != p.b.myTag || p.b.peerTag != p.a.myTag {
		t.Errorf("tags %v/%v and %v/%v", p.a.myTag, p.a.peerTag, p.b.myTag, p.b.peerTag)
	}

	if err := p.a.Send([]byte("ping"), true, 1, 0); err != nil {
		t.Fatalf("send err %+v", err)
	}
	if err := p.b.Send([]byte("pong"), true, 1, 0); err != nil {
		t.Fatalf("send err %+v", err)
	}

	for _, c := range []struct {
		a      *Association
		expect string
	}{{p.b, "ping"}, {p.a, "pong"}} {
		m, err := c.a.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("read err %+v", err)
		}
		if string(m.Payload) != c.expect || m.StreamID != 1 {
			t.Errorf("expect %v, got %v", c.expect, m)
		}
	}
}

func TestAssociation_ListenConnect(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p, err := newPerfectPair()
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	received := make(chan *Message, 1)
	p.b.OnMessage(func(m *Message) {
		received <- m
	})

	if err := p.b.Listen(); err != nil {
		t.Fatalf("listen err %+v", err)
	}
	if err := p.a.Connect(5001); err != nil {
		t.Fatalf("connect err %+v", err)
	}
	if err := p.a.WaitEstablished(ctx); err != nil {
		t.Fatalf("wait err %+v", err)
	}
	if err := p.b.WaitEstablished(ctx); err != nil {
		t.Fatalf("wait err %+v", err)
	}

	if err := p.a.Send([]byte("hello"), true, 7, 53); err != nil {
		t.Fatalf("send err %+v", err)
	}

	select {
	case m := <-received:
		if string(m.Payload) != "hello" || m.StreamID != 7 || m.PPID != 53 || m.SSN != 0 || m.Unordered() {
			t.Errorf("invalid %v", m)
		}
	case <-ctx.Done():
		t.Fatalf("no message")
	}
}

func TestAssociation_NotConnected(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p, err := newPerfectPair()
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.a.Send([]byte("x"), true, 0, 0); errors.Cause(err) != ErrNotConnected {
		t.Errorf("send before connect, got %v", err)
	}

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}
	if err := p.a.Connect(5001); err == nil {
		t.Errorf("connect twice")
	}

	if err := p.a.Abort(); err != nil {
		t.Fatalf("abort err %+v", err)
	}
	if err := p.a.Abort(); errors.Cause(err) != ErrNotConnected {
		t.Errorf("abort twice, got %v", err)
	}
	if err := p.a.Send([]byte("x"), true, 0, 0); errors.Cause(err) != ErrNotConnected {
		t.Errorf("send after abort, got %v", err)
	}
	if err := p.a.Connect(5001); errors.Cause(err) != ErrNotConnected {
		t.Errorf("connect after abort, got %v", err)
	}
	if err := p.a.Err(); err != nil {
		t.Errorf("local abort err %+v", err)
	}
}

func TestAssociation_OrderedWithJitter(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	imp, err := link.NewImpairment(link.ImpairmentConfig{Jitter: 5 * time.Millisecond}, rand.New(rand.NewSource(12345)))
	if err != nil {
		t.Fatalf("impairment err %+v", err)
	}

	p, err := newTestPair(imp, testConfig(5000), testConfig(5001))
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	const nn = 100
	for i := 0; i < nn; i++ {
		if err := p.a.Send([]byte(fmt.Sprint(i)), true, 2, 0); err != nil {
			t.Fatalf("send #%v err %+v", i, err)
		}
	}

	for i := 0; i < nn; i++ {
		m, err := p.b.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("read #%v err %+v", i, err)
		}
		if string(m.Payload) != fmt.Sprint(i) || m.SSN != uint16(i) {
			t.Fatalf("expect #%v, got %v", i, m)
		}
	}
}

func TestAssociation_Unordered(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	imp, err := link.NewImpairment(link.ImpairmentConfig{Jitter: 5 * time.Millisecond}, rand.New(rand.NewSource(12345)))
	if err != nil {
		t.Fatalf("impairment err %+v", err)
	}

	p, err := newTestPair(imp, testConfig(5000), testConfig(5001))
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	const nn = 50
	for i := 0; i < nn; i++ {
		if err := p.a.Send([]byte(fmt.Sprint(i)), false, 3, 0); err != nil {
			t.Fatalf("send #%v err %+v", i, err)
		}
	}

	got := make(map[string]bool)
	for i := 0; i < nn; i++ {
		m, err := p.b.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("read #%v err %+v", i, err)
		}
		if !m.Unordered() || m.Flags&FlagUnordered == 0 || m.SSN != 0 || m.StreamID != 3 {
			t.Errorf("invalid %v", m)
		}
		got[string(m.Payload)] = true
	}

	for i := 0; i < nn; i++ {
		if !got[fmt.Sprint(i)] {
			t.Errorf("lost #%v", i)
		}
	}
}

func TestAssociation_Duplicates(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	imp, err := link.NewImpairment(link.ImpairmentConfig{Duplicate: 0.5}, rand.New(rand.NewSource(12345)))
	if err != nil {
		t.Fatalf("impairment err %+v", err)
	}

	p, err := newTestPair(imp, testConfig(5000), testConfig(5001))
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	const nn = 50
	for i := 0; i < nn; i++ {
		if err := p.a.Send([]byte(fmt.Sprint(i)), true, 0, 0); err != nil {
			t.Fatalf("send #%v err %+v", i, err)
		}
	}

	for i := 0; i < nn; i++ {
		m, err := p.b.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("read #%v err %+v", i, err)
		}
		if string(m.Payload) != fmt.Sprint(i) {
			t.Fatalf("expect #%v, got %v", i, m)
		}
	}

	// Each message is delivered once.
	quiet, quietCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer quietCancel()
	if m, err := p.b.ReadMessage(quiet); err == nil {
		t.Errorf("delivered again %v", m)
	}

	if s := p.b.Stats(); s.DuplicateData == 0 || s.MessagesDelivered != nn {
		t.Errorf("invalid stats %v", s)
	}
}

func TestAssociation_Fragmentation(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p, err := newPerfectPair()
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	payload := testPayload(0, 10000)
	if err := p.a.Send(payload, true, 0, 0); err != nil {
		t.Fatalf("send err %+v", err)
	}

	m, err := p.b.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read err %+v", err)
	}
	if !bytes.Equal(m.Payload, payload) {
		t.Errorf("payload mismatch, %vB", len(m.Payload))
	}

	fragments := (len(payload) + chunk.MaxDataPayload(defaultMTU) - 1) / chunk.MaxDataPayload(defaultMTU)
	if s := p.a.Stats(); s.DataSent != uint64(fragments) {
		t.Errorf("expect %v fragments, %v", fragments, s)
	}

	if err := p.a.Send(make([]byte, defaultMaxMessageSize+1), true, 0, 0); errors.Cause(err) != ErrMessageTooLarge {
		t.Errorf("too large, got %v", err)
	}
	if err := p.a.Send(nil, true, 0, 0); errors.Cause(err) != ErrEmptyPayload {
		t.Errorf("empty, got %v", err)
	}
}

func TestAssociation_PeerAbort(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p, err := newPerfectPair()
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	closed := make(chan error, 1)
	p.b.OnClose(func(err error) {
		closed <- err
	})

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}
	if err := p.a.Abort(); err != nil {
		t.Fatalf("abort err %+v", err)
	}

	select {
	case err := <-closed:
		if errors.Cause(err) != ErrPeerAborted {
			t.Errorf("expect peer aborted, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("peer not closed")
	}

	<-p.b.Done()
	if errors.Cause(p.b.Err()) != ErrPeerAborted || p.b.State() != Closed {
		t.Errorf("peer err %v, state %v", p.b.Err(), p.b.State())
	}
	if _, err := p.b.ReadMessage(ctx); errors.Cause(err) != ErrPeerAborted {
		t.Errorf("read after abort, got %v", err)
	}
}

func TestAssociation_DeadPeer(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	ca := testConfig(5000)
	ca.MaxRetransmits = 3
	ca.RTOMax = 50 * time.Millisecond

	p, err := newTestPair(nil, ca, testConfig(5001))
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	// The peer receives but never acknowledges.
	p.tb.disconnect()
	if err := p.a.Send([]byte("hello"), true, 0, 0); err != nil {
		t.Fatalf("send err %+v", err)
	}

	select {
	case <-p.a.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("not closed, %v", p.a.Stats())
	}

	if errors.Cause(p.a.Err()) != ErrMaxRetransmitsExceeded {
		t.Errorf("expect max retransmits, got %v", p.a.Err())
	}
	if s := p.a.Stats(); s.Retransmissions != 3 || s.Outstanding != 0 {
		t.Errorf("invalid stats %v", s)
	}
}

func TestAssociation_CloseTimeout(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	ca := testConfig(5000)
	ca.MaxRetransmits = 100
	ca.CloseTimeout = 100 * time.Millisecond

	p, err := newTestPair(nil, ca, testConfig(5001))
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	p.tb.disconnect()
	if err := p.a.Send([]byte("hello"), true, 0, 0); err != nil {
		t.Fatalf("send err %+v", err)
	}

	starttime := time.Now()
	if err := p.a.Close(); errors.Cause(err) != context.DeadlineExceeded {
		t.Errorf("expect timeout, got %v", err)
	}
	if elapsed := time.Since(starttime); elapsed > 2*time.Second {
		t.Errorf("close took %v", elapsed)
	}

	if p.a.State() != Closed || p.a.Err() != nil {
		t.Errorf("state %v, err %v", p.a.State(), p.a.Err())
	}
}

func TestAssociation_GracefulClose(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p, err := newPerfectPair()
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	const nn = 20
	for i := 0; i < nn; i++ {
		if err := p.a.Send(testPayload(i, 1500), true, 0, 0); err != nil {
			t.Fatalf("send #%v err %+v", i, err)
		}
	}

	// Close with the DATA still in flight.
	if err := p.a.Close(); err != nil {
		t.Fatalf("close err %+v", err)
	}
	if err := p.a.Send([]byte("late"), true, 0, 0); errors.Cause(err) != ErrNotConnected {
		t.Errorf("send after close, got %v", err)
	}

	select {
	case <-p.b.Done():
	case <-ctx.Done():
		t.Fatalf("peer not closed")
	}

	for i := 0; i < nn; i++ {
		m, err := p.b.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("read #%v err %+v", i, err)
		}
		if !bytes.Equal(m.Payload, testPayload(i, 1500)) {
			t.Fatalf("message #%v mismatch", i)
		}
	}

	if _, err := p.b.ReadMessage(ctx); errors.Cause(err) != ErrNotConnected {
		t.Errorf("read after close, got %v", err)
	}
	if p.a.Err() != nil || p.b.Err() != nil {
		t.Errorf("err %v and %v", p.a.Err(), p.b.Err())
	}
}

// The side that sent SHUTDOWN closes on SHUTDOWN-ACK, it never waits in
// ShutdownAckSent.
func TestAssociation_ShutdownAckCloses(t *testing.T) {
	a, err := NewAssociation(testConfig(5000))
	if err != nil {
		t.Fatalf("create err %+v", err)
	}

	a.lock.Lock()
	a.state = ShutdownSent
	a.handleShutdownAck()
	state, outbound := a.state, a.outbound
	a.lock.Unlock()

	if state != Closed || a.Err() != nil {
		t.Fatalf("state %v, err %v", state, a.Err())
	}
	if len(outbound) != 1 {
		t.Fatalf("queued %v packets", len(outbound))
	}
	pkt, err := chunk.ParsePacket(outbound[0])
	if err != nil {
		t.Fatalf("parse err %+v", err)
	}
	if _, ok := pkt.Chunks[0].(*chunk.ShutdownComplete); !ok || len(pkt.Chunks) != 1 {
		t.Errorf("queued %v", pkt)
	}
}

func TestAssociation_ReadCanceled(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p, err := newPerfectPair()
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	readCtx, readCancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer readCancel()
	if _, err := p.b.ReadMessage(readCtx); err != context.DeadlineExceeded {
		t.Errorf("expect deadline, got %v", err)
	}
}

func TestAssociation_OutOfTheBlue(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p, err := newPerfectPair()
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	rec := &recordTransport{}
	p.a.SetTransport(rec)

	inject := func(vtag uint32, c chunk.Chunk) {
		b, err := (&chunk.Packet{SourcePort: 5001, DestinationPort: 5000, VerificationTag: vtag, Chunks: []chunk.Chunk{c}}).Marshal()
		if err != nil {
			t.Fatalf("marshal err %+v", err)
		}
		p.a.InjectPacket(b)
	}

	// A packet with a wrong tag is dropped.
	before := p.a.Stats()
	inject(p.a.myTag+1, &chunk.Data{TSN: p.a.peerInitialTSN, Begin: true, End: true, Payload: []byte("x")})
	if s := p.a.Stats(); s.PacketsDropped != before.PacketsDropped+1 || s.DataReceived != before.DataReceived {
		t.Errorf("invalid stats %v", s)
	}

	if err := p.a.Abort(); err != nil {
		t.Fatalf("abort err %+v", err)
	}

	// The peer lost our SHUTDOWN-COMPLETE.
	inject(p.a.myTag, &chunk.ShutdownAck{})
	r, err := chunk.ParsePacket(rec.last())
	if err != nil {
		t.Fatalf("parse err %+v", err)
	}
	if c, ok := r.Chunks[0].(*chunk.ShutdownComplete); !ok || !c.Reflected || r.VerificationTag != p.a.myTag {
		t.Errorf("expect reflected SHUTDOWN-COMPLETE, got %v", r)
	}

	inject(p.a.myTag, &chunk.Data{TSN: 1, Begin: true, End: true, Payload: []byte("x")})
	if r, err = chunk.ParsePacket(rec.last()); err != nil {
		t.Fatalf("parse err %+v", err)
	}
	if c, ok := r.Chunks[0].(*chunk.Abort); !ok || !c.Reflected || r.VerificationTag != p.a.myTag {
		t.Errorf("expect reflected ABORT, got %v", r)
	}

	last := rec.last()
	inject(p.a.myTag, &chunk.Abort{})
	if !bytes.Equal(rec.last(), last) {
		t.Errorf("answered ABORT")
	}
}

func TestAssociation_InvalidConfig(t *testing.T) {
	for _, c := range []Config{
		{},
		{LocalPort: 5000, MTU: 20},
		{LocalPort: 5000, RTOInitial: 10 * time.Millisecond, RTOMin: 20 * time.Millisecond},
		{LocalPort: 5000, RTOInitial: time.Second, RTOMax: 100 * time.Millisecond},
	} {
		if _, err := NewAssociation(c); errors.Cause(err) != ErrInvalidConfig {
			t.Errorf("config %+v, got %v", c, err)
		}
	}
}

// Each message is read before the next one is sent, so every loss is repaired
// by a timeout instead of a gap report.
func TestAssociation_LossyStopAndWait(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	imp, err := link.NewImpairment(link.ImpairmentConfig{Loss: 0.2, Corrupt: 0.1}, rand.New(rand.NewSource(12345)))
	if err != nil {
		t.Fatalf("impairment err %+v", err)
	}

	p, err := newTestPair(imp, testConfig(5000), testConfig(5001))
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	for i := 0; i < 10; i++ {
		payload := testPayload(i, 2048)
		if err := p.a.Send(payload, true, 0, 0); err != nil {
			t.Fatalf("send #%v err %+v", i, err)
		}

		m, err := p.b.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("read #%v err %+v", i, err)
		}
		if !bytes.Equal(m.Payload, payload) || m.SSN != uint16(i) {
			t.Fatalf("message #%v mismatch %v", i, m)
		}
	}

	if err := p.a.Close(); err != nil {
		t.Errorf("close err %+v", err)
	}
	select {
	case <-p.b.Done():
	case <-ctx.Done():
		t.Fatalf("peer not closed")
	}
	if err := p.b.Err(); err != nil {
		t.Errorf("peer err %+v", err)
	}
	if s := imp.Stats(); s.Lost == 0 {
		t.Errorf("nothing lost %v", s)
	}
}

// A reader that stalls closes the window, the sender holds the rest in its
// queue until the reader catches up.
func TestAssociation_SlowReader(t *testing.T) {
	ctx, cancel := testContext()
	defer cancel()

	p, err := newPerfectPair()
	if err != nil {
		t.Fatalf("pair err %+v", err)
	}
	defer p.Close()

	if err := p.connect(ctx); err != nil {
		t.Fatalf("connect err %+v", err)
	}

	const nn, size = 3000, 1000
	for i := 0; i < nn; i++ {
		if err := p.a.Send(testPayload(i, size), true, 0, 0); err != nil {
			t.Fatalf("send #%v err %+v", i, err)
		}
	}

	// Wait for the window to close and a probe to be refused.
	for p.b.Stats().DataRefused == 0 {
		select {
		case <-ctx.Done():
			t.Fatalf("window never closed, a %v, b %v", p.a.Stats(), p.b.Stats())
		case <-time.After(10 * time.Millisecond):
		}
	}

	sa, sb := p.a.Stats(), p.b.Stats()
	if held := sb.Backlog + sb.Buffered; held > defaultRwnd+size {
		t.Errorf("receiver holds %vB, window %vB", held, defaultRwnd)
	}
	if sb.Rwnd != 0 || sb.MessagesDelivered >= nn {
		t.Errorf("receiver %v", sb)
	}
	if sa.Pending == 0 {
		t.Errorf("sender queued nothing, %v", sa)
	}

	for i := 0; i < nn; i++ {
		m, err := p.b.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("read #%v err %+v", i, err)
		}
		if !bytes.Equal(m.Payload, testPayload(i, size)) {
			t.Fatalf("message #%v mismatch %v", i, m)
		}
	}

	if sb := p.b.Stats(); sb.Backlog != 0 {
		t.Errorf("backlog %v after reading all", sb.Backlog)
	}
}
