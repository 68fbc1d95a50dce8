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
	"testing"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/srs-sctp/chunk"
)

const testRwnd = 1024 * 1024

func newTestRetransmitter(initialTSN uint32, maxOutstanding, maxBurst, maxRetransmits int) *retransmitter {
	cfg := &Config{MaxOutstanding: maxOutstanding, MaxBurst: maxBurst, MaxRetransmits: maxRetransmits}
	rto := newRTOManager(100*time.Millisecond, 10*time.Millisecond, time.Second)
	return newRetransmitter(context.Background(), initialTSN, testRwnd, rto, cfg)
}

func whole(payload string) *chunk.Data {
	return &chunk.Data{Begin: true, End: true, Payload: []byte(payload)}
}

func TestRetransmitter_FlightCap(t *testing.T) {
	r := newTestRetransmitter(1000, 2, 4, 10)
	r.enqueue(whole("a"), whole("b"), whole("c"))

	now := time.Now()
	sent := r.pump(now)
	if len(sent) != 2 || sent[0].TSN != 1000 || sent[1].TSN != 1001 {
		t.Fatalf("sent %v", sent)
	}
	if len(r.pending) != 1 {
		t.Errorf("pending %v", len(r.pending))
	}

	advanced, err := r.onSack(&chunk.Sack{CumulativeTSNAck: 1000, AdvertisedRwnd: testRwnd}, now.Add(10*time.Millisecond))
	if err != nil || !advanced {
		t.Fatalf("advanced=%v, err %+v", advanced, err)
	}

	sent = r.pump(now)
	if len(sent) != 1 || sent[0].TSN != 1002 || string(sent[0].Payload) != "c" {
		t.Errorf("sent %v", sent)
	}
}

func TestRetransmitter_Sack(t *testing.T) {
	r := newTestRetransmitter(1, 16, 16, 10)
	for i := 0; i < 5; i++ {
		r.enqueue(whole("x"))
	}
	r.pump(time.Now())

	// TSN 1 acked, 3 and 5 gap acked.
	sack := &chunk.Sack{CumulativeTSNAck: 1, AdvertisedRwnd: testRwnd, GapAckBlocks: []chunk.GapAckBlock{{Start: 2, End: 2}, {Start: 4, End: 4}}}
	if _, err := r.onSack(sack, time.Now()); err != nil {
		t.Fatalf("sack err %+v", err)
	}
	if len(r.inflight) != 4 || r.cumulativeTSN != 1 {
		t.Errorf("inflight %v, cum %v", len(r.inflight), r.cumulativeTSN)
	}

	// Only the holes are retransmitted.
	sent, err := r.onTimeout(time.Now())
	if err != nil {
		t.Fatalf("timeout err %+v", err)
	}
	if len(sent) != 2 || sent[0].TSN != 2 || sent[1].TSN != 4 {
		t.Errorf("retransmit %v", sent)
	}

	// Stale, below the cumulative TSN.
	if _, err := r.onSack(&chunk.Sack{CumulativeTSNAck: 0, AdvertisedRwnd: testRwnd}, time.Now()); errors.Cause(err) != errStaleSack {
		t.Errorf("expect stale, got %v", err)
	}
	// Beyond what we sent.
	if _, err := r.onSack(&chunk.Sack{CumulativeTSNAck: 6, AdvertisedRwnd: testRwnd}, time.Now()); err == nil {
		t.Errorf("expect error")
	}

	if advanced, err := r.onSack(&chunk.Sack{CumulativeTSNAck: 5, AdvertisedRwnd: testRwnd}, time.Now()); err != nil || !advanced {
		t.Errorf("advanced=%v, err %+v", advanced, err)
	}
	if !r.idle() {
		t.Errorf("not idle, %v inflight", len(r.inflight))
	}
}

func TestRetransmitter_MaxRetransmits(t *testing.T) {
	r := newTestRetransmitter(0xffffffff, 16, 1, 3)
	r.enqueue(whole("a"), whole("b"))
	r.pump(time.Now())

	for i := 0; i < 3; i++ {
		sent, err := r.onTimeout(time.Now())
		if err != nil {
			t.Fatalf("#%v err %+v", i, err)
		}
		// Burst of one, the oldest.
		if len(sent) != 1 || sent[0].TSN != 0xffffffff {
			t.Errorf("#%v retransmit %v", i, sent)
		}
	}

	if _, err := r.onTimeout(time.Now()); errors.Cause(err) != ErrMaxRetransmitsExceeded {
		t.Errorf("expect max retransmits, got %v", err)
	}
}

func TestRetransmitter_PeerWindow(t *testing.T) {
	r := newTestRetransmitter(1, 64, 4, 3)
	for i := 0; i < 8; i++ {
		r.enqueue(whole("0123456789"))
	}

	// The window takes 25 bytes, two chunks of 10.
	now := time.Now()
	if _, err := r.onSack(&chunk.Sack{CumulativeTSNAck: 0, AdvertisedRwnd: 25}, now); err != nil {
		t.Fatalf("sack err %+v", err)
	}
	if sent := r.pump(now); len(sent) != 2 || r.window() != 5 {
		t.Fatalf("sent %v, window %v", len(sent), r.window())
	}

	// Acked, but the peer holds the messages, the window is closed.
	if _, err := r.onSack(&chunk.Sack{CumulativeTSNAck: 2, AdvertisedRwnd: 0}, now); err != nil {
		t.Fatalf("sack err %+v", err)
	}

	// A single chunk probes the closed window.
	if sent := r.pump(now); len(sent) != 1 || sent[0].TSN != 3 {
		t.Fatalf("probe %v", sent)
	}
	if sent := r.pump(now); len(sent) != 0 {
		t.Fatalf("sent %v beyond the probe", sent)
	}

	// The peer refuses the probe but answers, so it is alive and we never
	// give up, however long the window stays closed.
	for i := 0; i < 10; i++ {
		sent, err := r.onTimeout(now)
		if err != nil {
			t.Fatalf("#%v err %+v", i, err)
		}
		if len(sent) != 1 || sent[0].TSN != 3 {
			t.Fatalf("#%v retransmit %v", i, sent)
		}
		if _, err := r.onSack(&chunk.Sack{CumulativeTSNAck: 2, AdvertisedRwnd: 0}, now); err != nil {
			t.Fatalf("#%v sack err %+v", i, err)
		}
	}
	if d := r.retransmitProbe(now); d != nil {
		t.Errorf("probe %v while closed", d)
	}

	// The window opens, the refused probe goes again at once, then the rest.
	if _, err := r.onSack(&chunk.Sack{CumulativeTSNAck: 2, AdvertisedRwnd: 30}, now); err != nil {
		t.Fatalf("sack err %+v", err)
	}
	if d := r.retransmitProbe(now); d == nil || d.TSN != 3 {
		t.Errorf("probe %v", d)
	}
	if sent := r.pump(now); len(sent) != 2 || sent[0].TSN != 4 || sent[1].TSN != 5 {
		t.Errorf("sent %v", sent)
	}

	// Silence from the peer still gives up.
	for i := 0; i < 3; i++ {
		if _, err := r.onTimeout(now); err != nil {
			t.Fatalf("#%v err %+v", i, err)
		}
	}
	if _, err := r.onTimeout(now); errors.Cause(err) != ErrMaxRetransmitsExceeded {
		t.Errorf("expect max retransmits, got %v", err)
	}
}

func TestRTOManager(t *testing.T) {
	m := newRTOManager(time.Second, 100*time.Millisecond, 5*time.Second)
	if m.get() != time.Second {
		t.Errorf("rto %v", m.get())
	}

	// First sample: srtt=R, rttvar=R/2, rto=srtt+4*rttvar.
	m.setNewRTT(200 * time.Millisecond)
	if m.get() != 600*time.Millisecond {
		t.Errorf("rto %v", m.get())
	}
	if m.smoothedRTT() != 200*time.Millisecond {
		t.Errorf("srtt %v", m.smoothedRTT())
	}

	for i := 0; i < 100; i++ {
		m.setNewRTT(10 * time.Millisecond)
	}
	if m.get() != 100*time.Millisecond {
		t.Errorf("rto %v, expect min", m.get())
	}

	for i := 0; i < 10; i++ {
		m.backoff()
	}
	if m.get() != 5*time.Second {
		t.Errorf("rto %v, expect max", m.get())
	}
}
