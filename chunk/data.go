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
)

// DataHeaderSize is the fixed part of a DATA value before the user data.
const DataHeaderSize = 12

const (
	dataFlagEnd       byte = 0x01
	dataFlagBegin     byte = 0x02
	dataFlagUnordered byte = 0x04
)

// Data carries one fragment of a user message. It is the unit of
// retransmission and acknowledgement.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|   Type = 0    | Reserved|U|B|E|    Length                     |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                              TSN                              |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|      Stream Identifier S      |   Stream Sequence Number n    |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                  Payload Protocol Identifier                  |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	\                                                               \
//	/                 User Data (seq n of Stream S)                 /
//	\                                                               \
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type Data struct {
	TSN       uint32
	StreamID  uint16
	SSN       uint16
	PPID      uint32
	Begin     bool
	End       bool
	Unordered bool
	Payload   []byte
}

func (v *Data) Type() Type {
	return TypeData
}

func (v *Data) flags() (f byte) {
	if v.End {
		f |= dataFlagEnd
	}
	if v.Begin {
		f |= dataFlagBegin
	}
	if v.Unordered {
		f |= dataFlagUnordered
	}
	return
}

func (v *Data) marshalValue() ([]byte, error) {
	if len(v.Payload) == 0 {
		return nil, malformedf("DATA without payload")
	}

	b := make([]byte, DataHeaderSize+len(v.Payload))
	binary.BigEndian.PutUint32(b[0:], v.TSN)
	binary.BigEndian.PutUint16(b[4:], v.StreamID)
	binary.BigEndian.PutUint16(b[6:], v.SSN)
	binary.BigEndian.PutUint32(b[8:], v.PPID)
	copy(b[DataHeaderSize:], v.Payload)
	return b, nil
}

func (v *Data) unmarshalValue(flags byte, value []byte) error {
	if len(value) <= DataHeaderSize {
		return malformedf("DATA value %v bytes", len(value))
	}

	v.End = flags&dataFlagEnd != 0
	v.Begin = flags&dataFlagBegin != 0
	v.Unordered = flags&dataFlagUnordered != 0

	v.TSN = binary.BigEndian.Uint32(value[0:])
	v.StreamID = binary.BigEndian.Uint16(value[4:])
	v.SSN = binary.BigEndian.Uint16(value[6:])
	v.PPID = binary.BigEndian.Uint32(value[8:])
	v.Payload = append([]byte{}, value[DataHeaderSize:]...)
	return nil
}

func (v *Data) String() string {
	var fragment string
	switch {
	case v.Begin && v.End:
		fragment = "whole"
	case v.Begin:
		fragment = "first"
	case v.End:
		fragment = "last"
	default:
		fragment = "middle"
	}
	return fmt.Sprintf("DATA tsn=%v, sid=%v, ssn=%v, ppid=%v, %v, unordered=%v, len=%v",
		v.TSN, v.StreamID, v.SSN, v.PPID, fragment, v.Unordered, len(v.Payload))
}

// MaxDataPayload is the user data capacity of one DATA chunk sent alone in a
// packet of mtu bytes.
func MaxDataPayload(mtu int) int {
	return mtu - PacketHeaderSize - HeaderSize - DataHeaderSize - ChecksumSize
}
