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

package link

import (
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
)

// ErrLinkClosed is returned by Send after the link is closed.
var ErrLinkClosed = errors.New("link closed")

// Packets queued per direction, the excess is dropped like a full router.
const lossyQueueSize = 1024

// Transport sends a packet, *Endpoint, *PacketConnBinding and *Tap implement
// it.
type Transport interface {
	Send(b []byte) error
}

// PacketInjector receives packets, an association implements it.
type PacketInjector interface {
	InjectPacket(b []byte)
}

// LossyLink connects two endpoints in process. Each direction delivers on its
// own goroutine through the impairment, so packets get lost, corrupted,
// duplicated and, with jitter, reordered.
type LossyLink struct {
	a *Endpoint
	b *Endpoint

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Endpoint is one side of a LossyLink.
type Endpoint struct {
	name       string
	link       *LossyLink
	impairment *Impairment
	peer       *Endpoint
	// Packets sent by this endpoint, to deliver to the peer.
	queue chan []byte

	lock     sync.Mutex
	injector PacketInjector
	dropped  uint64
}

// NewLossyLink creates a link whose both directions follow the impairment.
// A nil impairment is a perfect link.
func NewLossyLink(impairment *Impairment) *LossyLink {
	v := &LossyLink{closed: make(chan struct{})}
	v.a = &Endpoint{name: "a", link: v, impairment: impairment, queue: make(chan []byte, lossyQueueSize)}
	v.b = &Endpoint{name: "b", link: v, impairment: impairment, queue: make(chan []byte, lossyQueueSize)}
	v.a.peer, v.b.peer = v.b, v.a

	for _, ep := range []*Endpoint{v.a, v.b} {
		v.wg.Add(1)
		go func(ep *Endpoint) {
			defer v.wg.Done()
			ep.run()
		}(ep)
	}
	return v
}

func (v *LossyLink) A() *Endpoint {
	return v.a
}

func (v *LossyLink) B() *Endpoint {
	return v.b
}

// Close stops both directions and waits for them. Packets in flight are lost.
func (v *LossyLink) Close() error {
	v.closeOnce.Do(func() {
		close(v.closed)
	})
	v.wg.Wait()
	return nil
}

// Attach sets who receives the packets arriving at this endpoint.
func (v *Endpoint) Attach(injector PacketInjector) {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.injector = injector
}

// Send puts a packet on the link toward the peer. It never blocks.
func (v *Endpoint) Send(b []byte) error {
	select {
	case <-v.link.closed:
		return ErrLinkClosed
	default:
	}

	var copies [][]byte
	if v.impairment != nil {
		copies = v.impairment.Apply(b)
	} else {
		copies = [][]byte{append([]byte{}, b...)}
	}

	for _, c := range copies {
		select {
		case v.queue <- c:
		default:
			v.lock.Lock()
			v.dropped++
			v.lock.Unlock()
		}
	}
	return nil
}

// Dropped is the packets dropped because the queue was full.
func (v *Endpoint) Dropped() uint64 {
	v.lock.Lock()
	defer v.lock.Unlock()

	return v.dropped
}

func (v *Endpoint) run() {
	for {
		select {
		case <-v.link.closed:
			return
		case b := <-v.queue:
			var delay time.Duration
			if v.impairment != nil {
				delay = v.impairment.Delay()
			}

			if delay <= 0 {
				v.peer.inject(b)
				continue
			}

			v.link.wg.Add(1)
			go func(b []byte) {
				defer v.link.wg.Done()

				select {
				case <-v.link.closed:
				case <-time.After(delay):
					v.peer.inject(b)
				}
			}(b)
		}
	}
}

func (v *Endpoint) inject(b []byte) {
	select {
	case <-v.link.closed:
		return
	default:
	}

	v.lock.Lock()
	injector := v.injector
	v.lock.Unlock()

	if injector != nil {
		injector.InjectPacket(b)
	}
}
