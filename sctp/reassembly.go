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

// FlagUnordered is set in Message.Flags for messages sent unordered, the same
// bit usrsctp reports in its rcvinfo.
const FlagUnordered uint32 = 0x0400

// Message is a reassembled user message.
type Message struct {
	Payload  []byte
	StreamID uint16
	// SSN is zero for unordered messages.
	SSN uint16
	// TSN of the first fragment.
	TSN   uint32
	PPID  uint32
	Flags uint32
}

func (v *Message) Unordered() bool {
	return v.Flags&FlagUnordered != 0
}

func (v *Message) String() string {
	return fmt.Sprintf("sid=%v, ssn=%v, tsn=%v, ppid=%v, flags=%#x, size=%v",
		v.StreamID, v.SSN, v.TSN, v.PPID, v.Flags, len(v.Payload))
}

// fragmentSet holds the fragments of one ordered message, sorted by TSN.
type fragmentSet struct {
	ssn       uint16
	fragments []*chunk.Data
}

// Push the fragment, return false if its TSN is already in the set.
func (v *fragmentSet) push(d *chunk.Data) bool {
	for _, f := range v.fragments {
		if f.TSN == d.TSN {
			return false
		}
	}

	v.fragments = append(v.fragments, d)
	sortByTSN(v.fragments)
	return true
}

// A set is complete when it starts with B, ends with E and the TSNs are
// contiguous, RFC 4960 section 3.3.1.
func (v *fragmentSet) complete() bool {
	return isMessage(v.fragments)
}

func isMessage(fragments []*chunk.Data) bool {
	n := len(fragments)
	if n == 0 || !fragments[0].Begin || !fragments[n-1].End {
		return false
	}

	for i := 1; i < n; i++ {
		if fragments[i].TSN != fragments[i-1].TSN+1 {
			return false
		}
	}
	return true
}

func sortByTSN(fragments []*chunk.Data) {
	sort.Slice(fragments, func(i, j int) bool {
		return sna32LT(fragments[i].TSN, fragments[j].TSN)
	})
}

func newMessage(fragments []*chunk.Data) *Message {
	var size int
	for _, f := range fragments {
		size += len(f.Payload)
	}

	first := fragments[0]
	m := &Message{
		Payload:  make([]byte, 0, size),
		StreamID: first.StreamID,
		SSN:      first.SSN,
		TSN:      first.TSN,
		PPID:     first.PPID,
	}
	if first.Unordered {
		m.SSN, m.Flags = 0, FlagUnordered
	}

	for _, f := range fragments {
		m.Payload = append(m.Payload, f.Payload...)
	}
	return m
}

// reassembly is the receive buffer of one stream.
type reassembly struct {
	streamID uint16
	// The SSN of the next ordered message to release.
	nextSSN uint16
	// Ordered messages by SSN, complete or not.
	ordered []*fragmentSet
	// Unordered fragments by TSN.
	unordered []*chunk.Data
	// Bytes buffered in both queues.
	nBytes int
}

func newReassembly(streamID uint16) *reassembly {
	return &reassembly{streamID: streamID}
}

// accept buffers the fragment and returns the messages it releases, in order.
// Duplicates and fragments of already released messages are dropped.
func (v *reassembly) accept(d *chunk.Data) []*Message {
	if d.StreamID != v.streamID {
		return nil
	}

	if d.Unordered {
		return v.acceptUnordered(d)
	}
	return v.acceptOrdered(d)
}

func (v *reassembly) acceptOrdered(d *chunk.Data) []*Message {
	if sna16LT(d.SSN, v.nextSSN) {
		return nil
	}

	i := sort.Search(len(v.ordered), func(i int) bool {
		return !sna16LT(v.ordered[i].ssn, d.SSN)
	})
	if i == len(v.ordered) || v.ordered[i].ssn != d.SSN {
		v.ordered = append(v.ordered, nil)
		copy(v.ordered[i+1:], v.ordered[i:])
		v.ordered[i] = &fragmentSet{ssn: d.SSN}
	}

	if !v.ordered[i].push(d) {
		return nil
	}
	v.nBytes += len(d.Payload)

	var msgs []*Message
	for len(v.ordered) > 0 {
		set := v.ordered[0]
		if set.ssn != v.nextSSN || !set.complete() {
			break
		}

		v.ordered = v.ordered[1:]
		v.nextSSN++
		msgs = append(msgs, v.release(set.fragments))
	}
	return msgs
}

func (v *reassembly) acceptUnordered(d *chunk.Data) []*Message {
	i := sort.Search(len(v.unordered), func(i int) bool {
		return !sna32LT(v.unordered[i].TSN, d.TSN)
	})
	if i < len(v.unordered) && v.unordered[i].TSN == d.TSN {
		return nil
	}

	v.unordered = append(v.unordered, nil)
	copy(v.unordered[i+1:], v.unordered[i:])
	v.unordered[i] = d
	v.nBytes += len(d.Payload)

	var msgs []*Message
	for {
		start, end := v.findUnordered()
		if start < 0 {
			break
		}

		fragments := append([]*chunk.Data{}, v.unordered[start:end]...)
		v.unordered = append(v.unordered[:start], v.unordered[end:]...)
		msgs = append(msgs, v.release(fragments))
	}
	return msgs
}

// findUnordered returns the range of the first complete unordered message, or
// -1 if there is none.
func (v *reassembly) findUnordered() (int, int) {
	start := -1
	for i, f := range v.unordered {
		if f.Begin {
			start = i
		} else if start >= 0 && f.TSN != v.unordered[i-1].TSN+1 {
			start = -1
		}

		if start >= 0 && f.End {
			return start, i + 1
		}
	}
	return -1, -1
}

func (v *reassembly) release(fragments []*chunk.Data) *Message {
	m := newMessage(fragments)
	v.nBytes -= len(m.Payload)
	return m
}

// buffered is the bytes of fragments waiting for siblings or predecessors.
func (v *reassembly) buffered() int {
	return v.nBytes
}
