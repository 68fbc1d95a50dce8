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

// Package chunk is the wire codec of the association protocol.
//
// Every chunk is laid out as
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|   Chunk Type  | Chunk  Flags  |        Chunk Length           |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	\                                                               \
//	/                          Chunk Value                          /
//	\                                                               \
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                     CRC32c of type..value                     |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// The length covers type, flags, length and value, but not the checksum.
package chunk

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/ossrs/go-oryx-lib/errors"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptChunk is returned when a checksum does not match, the receiver must
// handle it as if the packet never arrived.
var ErrCorruptChunk = errors.New("corrupt chunk")

// ErrMalformedChunk is returned for well checksummed but invalid input, like an
// unknown type or a truncated value.
var ErrMalformedChunk = errors.New("malformed chunk")

const (
	// HeaderSize is the type, flags and length prefix of every chunk.
	HeaderSize = 4
	// ChecksumSize is the trailing CRC32c of every chunk.
	ChecksumSize = 4
)

// Type is the 1-byte tag starting every chunk. Values follow RFC 4960.
type Type uint8

const (
	TypeData             Type = 0
	TypeInit             Type = 1
	TypeInitAck          Type = 2
	TypeSack             Type = 3
	TypeAbort            Type = 6
	TypeShutdown         Type = 7
	TypeShutdownAck      Type = 8
	TypeCookieEcho       Type = 10
	TypeCookieAck        Type = 11
	TypeShutdownComplete Type = 14
)

func (v Type) String() string {
	switch v {
	case TypeData:
		return "DATA"
	case TypeInit:
		return "INIT"
	case TypeInitAck:
		return "INIT-ACK"
	case TypeSack:
		return "SACK"
	case TypeAbort:
		return "ABORT"
	case TypeShutdown:
		return "SHUTDOWN"
	case TypeShutdownAck:
		return "SHUTDOWN-ACK"
	case TypeCookieEcho:
		return "COOKIE-ECHO"
	case TypeCookieAck:
		return "COOKIE-ACK"
	case TypeShutdownComplete:
		return "SHUTDOWN-COMPLETE"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(v))
	}
}

// Chunk is an immutable protocol unit. Only this package implements it.
type Chunk interface {
	Type() Type
	String() string

	flags() byte
	marshalValue() ([]byte, error)
	unmarshalValue(flags byte, value []byte) error
}

func newChunk(t Type) (Chunk, error) {
	switch t {
	case TypeData:
		return &Data{}, nil
	case TypeInit:
		return &Init{}, nil
	case TypeInitAck:
		return &InitAck{}, nil
	case TypeSack:
		return &Sack{}, nil
	case TypeAbort:
		return &Abort{}, nil
	case TypeShutdown:
		return &Shutdown{}, nil
	case TypeShutdownAck:
		return &ShutdownAck{}, nil
	case TypeCookieEcho:
		return &CookieEcho{}, nil
	case TypeCookieAck:
		return &CookieAck{}, nil
	case TypeShutdownComplete:
		return &ShutdownComplete{}, nil
	}
	return nil, errors.Wrapf(ErrMalformedChunk, "unknown type %v", t)
}

// Marshal encodes the chunk followed by its checksum.
func Marshal(c Chunk) ([]byte, error) {
	value, err := c.marshalValue()
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %v", c.Type())
	}

	n := HeaderSize + len(value)
	if n > 0xffff {
		return nil, errors.Wrapf(ErrMalformedChunk, "%v length %v overflow", c.Type(), n)
	}

	b := make([]byte, n+ChecksumSize)
	b[0] = byte(c.Type())
	b[1] = c.flags()
	binary.BigEndian.PutUint16(b[2:], uint16(n))
	copy(b[HeaderSize:], value)
	binary.BigEndian.PutUint32(b[n:], crc32.Checksum(b[:n], castagnoliTable))

	return b, nil
}

// Unmarshal decodes the first chunk in b, returns the chunk and the number of
// bytes it occupies, checksum included.
func Unmarshal(b []byte) (Chunk, int, error) {
	if len(b) < HeaderSize+ChecksumSize {
		return nil, 0, errors.Wrapf(ErrMalformedChunk, "truncated, only %v bytes", len(b))
	}

	n := int(binary.BigEndian.Uint16(b[2:]))
	if n < HeaderSize || n+ChecksumSize > len(b) {
		// A flipped length moves the checksum, so only a buffer whose trailing
		// checksum is valid has a bad length on the wire.
		end := len(b) - ChecksumSize
		theirs := binary.BigEndian.Uint32(b[end:])
		if ours := crc32.Checksum(b[:end], castagnoliTable); theirs != ours {
			return nil, 0, errors.Wrapf(ErrCorruptChunk, "length %v, only %v bytes, checksum theirs=%x ours=%x",
				n, len(b), theirs, ours)
		}
		return nil, 0, errors.Wrapf(ErrMalformedChunk, "length %v, only %v bytes", n, len(b))
	}

	theirs := binary.BigEndian.Uint32(b[n:])
	if ours := crc32.Checksum(b[:n], castagnoliTable); theirs != ours {
		return nil, 0, errors.Wrapf(ErrCorruptChunk, "checksum theirs=%x ours=%x", theirs, ours)
	}

	c, err := newChunk(Type(b[0]))
	if err != nil {
		return nil, 0, err
	}

	// Copy so the chunk never aliases a buffer the transport may reuse.
	value := make([]byte, n-HeaderSize)
	copy(value, b[HeaderSize:n])
	if err := c.unmarshalValue(b[1], value); err != nil {
		return nil, 0, errors.Wrapf(err, "unmarshal %v", c.Type())
	}

	return c, n + ChecksumSize, nil
}

func malformedf(format string, a ...interface{}) error {
	return errors.Wrapf(ErrMalformedChunk, format, a...)
}
