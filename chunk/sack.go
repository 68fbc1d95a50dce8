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

package chunk

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const sackValueSize = 12

// GapAckBlock acknowledges the TSNs in [cumulative+Start, cumulative+End].
type GapAckBlock struct {
	Start uint16
	End   uint16
}

func (v GapAckBlock) String() string {
	return fmt.Sprintf("%d-%d", v.Start, v.End)
}

// Sack is the selective acknowledgement.
//
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                      Cumulative TSN Ack                       |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|          Advertised Receiver Window Credit (a_rwnd)           |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Number of Gap Ack Blocks = N  |  Number of Duplicate TSNs = X |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|  Gap Ack Block #1 Start       |   Gap Ack Block #1 End        |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	/                              ...                              /
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                       Duplicate TSN 1                         |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	/                              ...                              /
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type Sack struct {
	CumulativeTSNAck uint32
	AdvertisedRwnd   uint32
	GapAckBlocks     []GapAckBlock
	DuplicateTSNs    []uint32
}

func (v *Sack) Type() Type {
	return TypeSack
}

func (v *Sack) flags() byte {
	return 0
}

func (v *Sack) marshalValue() ([]byte, error) {
	if len(v.GapAckBlocks) > 0xffff || len(v.DuplicateTSNs) > 0xffff {
		return nil, malformedf("SACK gaps=%v dups=%v", len(v.GapAckBlocks), len(v.DuplicateTSNs))
	}

	b := make([]byte, sackValueSize+4*len(v.GapAckBlocks)+4*len(v.DuplicateTSNs))
	binary.BigEndian.PutUint32(b[0:], v.CumulativeTSNAck)
	binary.BigEndian.PutUint32(b[4:], v.AdvertisedRwnd)
	binary.BigEndian.PutUint16(b[8:], uint16(len(v.GapAckBlocks)))
	binary.BigEndian.PutUint16(b[10:], uint16(len(v.DuplicateTSNs)))

	offset := sackValueSize
	for _, g := range v.GapAckBlocks {
		binary.BigEndian.PutUint16(b[offset:], g.Start)
		binary.BigEndian.PutUint16(b[offset+2:], g.End)
		offset += 4
	}
	for _, tsn := range v.DuplicateTSNs {
		binary.BigEndian.PutUint32(b[offset:], tsn)
		offset += 4
	}
	return b, nil
}

func (v *Sack) unmarshalValue(flags byte, value []byte) error {
	if len(value) < sackValueSize {
		return malformedf("SACK value %v bytes", len(value))
	}

	v.CumulativeTSNAck = binary.BigEndian.Uint32(value[0:])
	v.AdvertisedRwnd = binary.BigEndian.Uint32(value[4:])
	nGaps := int(binary.BigEndian.Uint16(value[8:]))
	nDups := int(binary.BigEndian.Uint16(value[10:]))

	if expect := sackValueSize + 4*nGaps + 4*nDups; len(value) != expect {
		return malformedf("SACK gaps=%v dups=%v expect %v bytes, got %v", nGaps, nDups, expect, len(value))
	}

	offset := sackValueSize
	v.GapAckBlocks = nil
	for i := 0; i < nGaps; i++ {
		g := GapAckBlock{
			Start: binary.BigEndian.Uint16(value[offset:]),
			End:   binary.BigEndian.Uint16(value[offset+2:]),
		}
		if g.Start == 0 || g.End < g.Start {
			return malformedf("SACK gap #%v %v", i, g)
		}
		v.GapAckBlocks = append(v.GapAckBlocks, g)
		offset += 4
	}

	v.DuplicateTSNs = nil
	for i := 0; i < nDups; i++ {
		v.DuplicateTSNs = append(v.DuplicateTSNs, binary.BigEndian.Uint32(value[offset:]))
		offset += 4
	}
	return nil
}

func (v *Sack) String() string {
	var gaps []string
	for _, g := range v.GapAckBlocks {
		gaps = append(gaps, g.String())
	}
	return fmt.Sprintf("SACK cum=%v, rwnd=%v, gaps=[%v], dups=%v",
		v.CumulativeTSNAck, v.AdvertisedRwnd, strings.Join(gaps, ","), v.DuplicateTSNs)
}
