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

// Package link carries association packets: an in-process lossy link, a
// binding over any net.PacketConn and a pcap tap.
package link

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
)

// ImpairmentConfig is the per packet behavior of a bad network.
type ImpairmentConfig struct {
	// Loss is the probability to drop a packet.
	Loss float64
	// Corrupt is the probability to damage a delivered copy.
	Corrupt float64
	// Duplicate is the probability to deliver a packet twice.
	Duplicate float64
	// Jitter delays each copy by up to this, which reorders them.
	Jitter time.Duration
}

func (v ImpairmentConfig) String() string {
	return fmt.Sprintf("loss=%v, corrupt=%v, dup=%v, jitter=%v", v.Loss, v.Corrupt, v.Duplicate, v.Jitter)
}

type ImpairmentStats struct {
	Packets    uint64
	Lost       uint64
	Corrupted  uint64
	Duplicated uint64
}

func (v ImpairmentStats) String() string {
	return fmt.Sprintf("packets=%v, lost=%v, corrupted=%v, duplicated=%v",
		v.Packets, v.Lost, v.Corrupted, v.Duplicated)
}

// Impairment decides the fate of each packet from a random source the caller
// seeds, so a run is reproducible. It is safe for concurrent use.
type Impairment struct {
	cfg ImpairmentConfig

	lock  sync.Mutex
	rd    *rand.Rand
	stats ImpairmentStats
}

func NewImpairment(cfg ImpairmentConfig, rd *rand.Rand) (*Impairment, error) {
	for _, p := range []float64{cfg.Loss, cfg.Corrupt, cfg.Duplicate} {
		if p < 0 || p > 1 {
			return nil, errors.Errorf("invalid probability %v", p)
		}
	}
	if cfg.Jitter < 0 {
		return nil, errors.Errorf("invalid jitter %v", cfg.Jitter)
	}
	if rd == nil {
		return nil, errors.New("no random source")
	}

	return &Impairment{cfg: cfg, rd: rd}, nil
}

func (v *Impairment) Config() ImpairmentConfig {
	return v.cfg
}

// Apply returns the copies of b the network delivers: none when lost, two when
// duplicated, each possibly corrupted. b is never modified.
func (v *Impairment) Apply(b []byte) [][]byte {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.stats.Packets++
	if v.hit(v.cfg.Loss) {
		v.stats.Lost++
		return nil
	}

	n := 1
	if v.hit(v.cfg.Duplicate) {
		v.stats.Duplicated++
		n = 2
	}

	copies := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		c := append([]byte{}, b...)
		if v.hit(v.cfg.Corrupt) {
			v.corrupt(c)
		}
		copies = append(copies, c)
	}
	return copies
}

// Filter applies the policy to a packet in place, returning false to drop it.
// Used where the packet cannot be duplicated, like a router filter.
func (v *Impairment) Filter(b []byte) bool {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.stats.Packets++
	if v.hit(v.cfg.Loss) {
		v.stats.Lost++
		return false
	}

	if v.hit(v.cfg.Corrupt) {
		v.corrupt(b)
	}
	return true
}

// Delay returns a random delay in [0, Jitter).
func (v *Impairment) Delay() time.Duration {
	if v.cfg.Jitter <= 0 {
		return 0
	}

	v.lock.Lock()
	defer v.lock.Unlock()

	return time.Duration(v.rd.Int63n(int64(v.cfg.Jitter)))
}

func (v *Impairment) Stats() ImpairmentStats {
	v.lock.Lock()
	defer v.lock.Unlock()

	return v.stats
}

func (v *Impairment) hit(p float64) bool {
	return p > 0 && v.rd.Float64() < p
}

// corrupt changes one random byte to another value.
func (v *Impairment) corrupt(b []byte) {
	if len(b) == 0 {
		return
	}

	v.stats.Corrupted++
	b[v.rd.Intn(len(b))] ^= byte(1 + v.rd.Intn(255))
}
