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
	"fmt"
	"sort"

	"github.com/ossrs/srs-sctp/chunk"
)

// Duplicates reported in one SACK, the rest are dropped.
const maxDuplicateTSNs = 32

// tracker is the receive side of the TSN space: the cumulative TSN, the TSNs
// received above it and the duplicates since the last SACK.
type tracker struct {
	cumulativeTSN uint32
	received      map[uint32]struct{}
	sorted        []uint32
	dupTSN        []uint32
}

func newTracker(peerInitialTSN uint32) *tracker {
	return &tracker{
		cumulativeTSN: peerInitialTSN - 1,
		received:      make(map[uint32]struct{}),
	}
}

// Whether the TSN fits a gap ack block offset.
func (v *tracker) inWindow(tsn uint32) bool {
	return tsn-v.cumulativeTSN <= 0xffff || sna32LTE(tsn, v.cumulativeTSN)
}

// observe records a DATA TSN, returns false when it was already received.
func (v *tracker) observe(tsn uint32) bool {
	if _, ok := v.received[tsn]; ok || sna32LTE(tsn, v.cumulativeTSN) {
		if len(v.dupTSN) < maxDuplicateTSNs {
			v.dupTSN = append(v.dupTSN, tsn)
		}
		return false
	}

	v.received[tsn] = struct{}{}
	v.sorted = nil

	for {
		next := v.cumulativeTSN + 1
		if _, ok := v.received[next]; !ok {
			break
		}
		delete(v.received, next)
		v.cumulativeTSN = next
		v.sorted = nil
	}
	return true
}

// highestTSN is the highest TSN received, the cumulative TSN without gaps.
func (v *tracker) highestTSN() uint32 {
	highest := v.cumulativeTSN
	for tsn := range v.received {
		if sna32GT(tsn, highest) {
			highest = tsn
		}
	}
	return highest
}

func (v *tracker) hasGaps() bool {
	return len(v.received) > 0
}

func (v *tracker) hasDuplicates() bool {
	return len(v.dupTSN) > 0
}

func (v *tracker) updateSortedKeys() {
	if v.sorted != nil {
		return
	}

	v.sorted = make([]uint32, 0, len(v.received))
	for tsn := range v.received {
		v.sorted = append(v.sorted, tsn)
	}
	sort.Slice(v.sorted, func(i, j int) bool {
		return sna32LT(v.sorted[i], v.sorted[j])
	})
}

// gapAckBlocks returns the received ranges above the cumulative TSN as offsets
// relative to it.
func (v *tracker) gapAckBlocks() (blocks []chunk.GapAckBlock) {
	v.updateSortedKeys()

	for _, tsn := range v.sorted {
		offset := uint16(tsn - v.cumulativeTSN)
		if n := len(blocks); n > 0 && blocks[n-1].End+1 == offset {
			blocks[n-1].End = offset
			continue
		}
		blocks = append(blocks, chunk.GapAckBlock{Start: offset, End: offset})
	}
	return
}

// sack builds the acknowledgement and clears the duplicates.
func (v *tracker) sack(rwnd uint32) *chunk.Sack {
	s := &chunk.Sack{
		CumulativeTSNAck: v.cumulativeTSN,
		AdvertisedRwnd:   rwnd,
		GapAckBlocks:     v.gapAckBlocks(),
		DuplicateTSNs:    v.dupTSN,
	}
	v.dupTSN = nil
	return s
}

func (v *tracker) String() string {
	return fmt.Sprintf("cum=%v, gaps=%v, dups=%v", v.cumulativeTSN, v.gapAckBlocks(), v.dupTSN)
}
