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
	"hash/crc32"
	"strings"

	"github.com/ossrs/go-oryx-lib/errors"
)

// PacketHeaderSize is the common header, including its checksum.
const PacketHeaderSize = 12

// Packet is what a transport carries: a common header and one or more chunks.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|     Source Port Number        |     Destination Port Number   |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                      Verification Tag                         |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                CRC32c of the first 8 bytes                    |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                    Chunk #1 ... Chunk #n                      |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type Packet struct {
	SourcePort      uint16
	DestinationPort uint16
	VerificationTag uint32
	Chunks          []Chunk
}

func (v *Packet) Marshal() ([]byte, error) {
	if len(v.Chunks) == 0 {
		return nil, errors.Wrapf(ErrMalformedChunk, "empty packet")
	}

	b := make([]byte, PacketHeaderSize)
	binary.BigEndian.PutUint16(b[0:], v.SourcePort)
	binary.BigEndian.PutUint16(b[2:], v.DestinationPort)
	binary.BigEndian.PutUint32(b[4:], v.VerificationTag)
	binary.BigEndian.PutUint32(b[8:], crc32.Checksum(b[:8], castagnoliTable))

	for _, c := range v.Chunks {
		raw, err := Marshal(c)
		if err != nil {
			return nil, err
		}
		b = append(b, raw...)
	}
	return b, nil
}

// ParsePacket decodes a whole packet. Any corrupt or malformed chunk fails the
// packet, the caller drops it as if it was lost.
func ParsePacket(b []byte) (*Packet, error) {
	if len(b) < PacketHeaderSize {
		return nil, errors.Wrapf(ErrMalformedChunk, "packet only %v bytes", len(b))
	}

	theirs := binary.BigEndian.Uint32(b[8:])
	if ours := crc32.Checksum(b[:8], castagnoliTable); theirs != ours {
		return nil, errors.Wrapf(ErrCorruptChunk, "packet header checksum theirs=%x ours=%x", theirs, ours)
	}

	p := &Packet{
		SourcePort:      binary.BigEndian.Uint16(b[0:]),
		DestinationPort: binary.BigEndian.Uint16(b[2:]),
		VerificationTag: binary.BigEndian.Uint32(b[4:]),
	}

	for offset := PacketHeaderSize; offset < len(b); {
		c, n, err := Unmarshal(b[offset:])
		if err != nil {
			return nil, errors.Wrapf(err, "chunk #%v at %v", len(p.Chunks), offset)
		}

		p.Chunks = append(p.Chunks, c)
		offset += n
	}

	if len(p.Chunks) == 0 {
		return nil, errors.Wrapf(ErrMalformedChunk, "no chunk")
	}
	return p, nil
}

func (v *Packet) String() string {
	var chunks []string
	for _, c := range v.Chunks {
		chunks = append(chunks, c.String())
	}
	return fmt.Sprintf("%v=>%v tag=%v [%v]",
		v.SourcePort, v.DestinationPort, v.VerificationTag, strings.Join(chunks, "; "))
}
