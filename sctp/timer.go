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
	"sync"
	"time"
)

// rtxTimer is a one shot timer whose callback runs under the association
// lock. Every start or stop bumps the generation, so a callback racing with a
// stop finds a stale generation and does nothing.
type rtxTimer struct {
	name string
	mu   sync.Locker
	// Called with mu held.
	onExpired func()
	// Called after mu is released, to flush what onExpired queued.
	afterExpired func()

	timer      *time.Timer
	generation uint64
	running    bool
	closed     bool
}

func newRtxTimer(name string, mu sync.Locker, onExpired, afterExpired func()) *rtxTimer {
	return &rtxTimer{name: name, mu: mu, onExpired: onExpired, afterExpired: afterExpired}
}

// start arms the timer, restarting it if running. The caller holds mu.
func (t *rtxTimer) start(d time.Duration) {
	if t.closed {
		return
	}

	t.stop()
	t.running = true
	generation := t.generation

	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.generation != generation || !t.running {
			t.mu.Unlock()
			return
		}
		t.running = false
		t.onExpired()
		t.mu.Unlock()

		if t.afterExpired != nil {
			t.afterExpired()
		}
	})
}

// startIfIdle arms the timer unless it is already running.
func (t *rtxTimer) startIfIdle(d time.Duration) {
	if !t.running {
		t.start(d)
	}
}

// stop disarms the timer. The caller holds mu.
func (t *rtxTimer) stop() {
	t.generation++
	t.running = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// close stops the timer for good, later starts are ignored.
func (t *rtxTimer) close() {
	t.stop()
	t.closed = true
}

func (t *rtxTimer) isRunning() bool {
	return t.running
}
