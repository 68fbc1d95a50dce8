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

// The T bit, set when the sender had no TCB and reflected the peer's tag.
const flagReflected byte = 0x01

// Cause codes carried by ABORT, a subset of RFC 4960 section 3.3.10.
const (
	CauseNone               uint16 = 0
	CauseUserInitiatedAbort uint16 = 12
	CauseProtocolViolation  uint16 = 13
	CauseMaxRetransmissions uint16 = 0x100 // private use, gave up after too many timeouts.
)

// Abort closes the association immediately.
type Abort struct {
	Reflected bool
	Cause     uint16
	Reason    string
}

func (v *Abort) Type() Type {
	return TypeAbort
}

func (v *Abort) flags() byte {
	if v.Reflected {
		return flagReflected
	}
	return 0
}

func (v *Abort) marshalValue() ([]byte, error) {
	if v.Cause == CauseNone && v.Reason == "" {
		return nil, nil
	}

	b := make([]byte, 2+len(v.Reason))
	binary.BigEndian.PutUint16(b, v.Cause)
	copy(b[2:], v.Reason)
	return b, nil
}

func (v *Abort) unmarshalValue(flags byte, value []byte) error {
	v.Reflected = flags&flagReflected != 0
	if len(value) == 0 {
		return nil
	}
	if len(value) < 2 {
		return malformedf("ABORT value %v bytes", len(value))
	}

	v.Cause = binary.BigEndian.Uint16(value)
	v.Reason = string(value[2:])
	return nil
}

func (v *Abort) String() string {
	return fmt.Sprintf("ABORT cause=%v, reason=%v, t=%v", v.Cause, v.Reason, v.Reflected)
}

// Shutdown starts the graceful close, acknowledging up to CumulativeTSNAck.
type Shutdown struct {
	CumulativeTSNAck uint32
}

func (v *Shutdown) Type() Type {
	return TypeShutdown
}

func (v *Shutdown) flags() byte {
	return 0
}

func (v *Shutdown) marshalValue() ([]byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v.CumulativeTSNAck)
	return b, nil
}

func (v *Shutdown) unmarshalValue(flags byte, value []byte) error {
	if len(value) != 4 {
		return malformedf("SHUTDOWN value %v bytes", len(value))
	}
	v.CumulativeTSNAck = binary.BigEndian.Uint32(value)
	return nil
}

func (v *Shutdown) String() string {
	return fmt.Sprintf("SHUTDOWN cum=%v", v.CumulativeTSNAck)
}

// ShutdownAck answers SHUTDOWN once all outstanding data is acknowledged.
type ShutdownAck struct {
}

func (v *ShutdownAck) Type() Type {
	return TypeShutdownAck
}

func (v *ShutdownAck) flags() byte {
	return 0
}

func (v *ShutdownAck) marshalValue() ([]byte, error) {
	return nil, nil
}

func (v *ShutdownAck) unmarshalValue(flags byte, value []byte) error {
	if len(value) != 0 {
		return malformedf("SHUTDOWN-ACK value %v bytes", len(value))
	}
	return nil
}

func (v *ShutdownAck) String() string {
	return "SHUTDOWN-ACK"
}

// ShutdownComplete is the last chunk of a graceful close.
type ShutdownComplete struct {
	Reflected bool
}

func (v *ShutdownComplete) Type() Type {
	return TypeShutdownComplete
}

func (v *ShutdownComplete) flags() byte {
	if v.Reflected {
		return flagReflected
	}
	return 0
}

func (v *ShutdownComplete) marshalValue() ([]byte, error) {
	return nil, nil
}

func (v *ShutdownComplete) unmarshalValue(flags byte, value []byte) error {
	if len(value) != 0 {
		return malformedf("SHUTDOWN-COMPLETE value %v bytes", len(value))
	}
	v.Reflected = flags&flagReflected != 0
	return nil
}

func (v *ShutdownComplete) String() string {
	return fmt.Sprintf("SHUTDOWN-COMPLETE t=%v", v.Reflected)
}
