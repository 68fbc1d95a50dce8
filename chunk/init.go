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

const initValueSize = 16

// InitCommon is the fixed part shared by INIT and INIT-ACK.
//
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                         Initiate Tag                          |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|           Advertised Receiver Window Credit (a_rwnd)          |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|  Number of Outbound Streams   |   Number of Inbound Streams   |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                          Initial TSN                          |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type InitCommon struct {
	InitiateTag        uint32
	AdvertisedRwnd     uint32
	NumOutboundStreams uint16
	NumInboundStreams  uint16
	InitialTSN         uint32
}

func (v *InitCommon) marshal() []byte {
	b := make([]byte, initValueSize)
	binary.BigEndian.PutUint32(b[0:], v.InitiateTag)
	binary.BigEndian.PutUint32(b[4:], v.AdvertisedRwnd)
	binary.BigEndian.PutUint16(b[8:], v.NumOutboundStreams)
	binary.BigEndian.PutUint16(b[10:], v.NumInboundStreams)
	binary.BigEndian.PutUint32(b[12:], v.InitialTSN)
	return b
}

func (v *InitCommon) unmarshal(b []byte) error {
	if len(b) < initValueSize {
		return malformedf("init value %v bytes", len(b))
	}

	v.InitiateTag = binary.BigEndian.Uint32(b[0:])
	v.AdvertisedRwnd = binary.BigEndian.Uint32(b[4:])
	v.NumOutboundStreams = binary.BigEndian.Uint16(b[8:])
	v.NumInboundStreams = binary.BigEndian.Uint16(b[10:])
	v.InitialTSN = binary.BigEndian.Uint32(b[12:])

	// A zero tag would let anybody inject packets into the association.
	if v.InitiateTag == 0 {
		return malformedf("zero initiate tag")
	}
	if v.NumOutboundStreams == 0 || v.NumInboundStreams == 0 {
		return malformedf("streams out=%v in=%v", v.NumOutboundStreams, v.NumInboundStreams)
	}
	return nil
}

func (v *InitCommon) String() string {
	return fmt.Sprintf("tag=%v, rwnd=%v, os=%v, is=%v, tsn=%v",
		v.InitiateTag, v.AdvertisedRwnd, v.NumOutboundStreams, v.NumInboundStreams, v.InitialTSN)
}

// Init starts an association.
type Init struct {
	InitCommon
}

func (v *Init) Type() Type {
	return TypeInit
}

func (v *Init) flags() byte {
	return 0
}

func (v *Init) marshalValue() ([]byte, error) {
	return v.InitCommon.marshal(), nil
}

func (v *Init) unmarshalValue(flags byte, value []byte) error {
	if len(value) != initValueSize {
		return malformedf("INIT value %v bytes", len(value))
	}
	return v.InitCommon.unmarshal(value)
}

func (v *Init) String() string {
	return fmt.Sprintf("INIT %v", v.InitCommon.String())
}

// InitAck answers an INIT, carrying the state cookie the initiator echoes back.
type InitAck struct {
	InitCommon
	Cookie []byte
}

func (v *InitAck) Type() Type {
	return TypeInitAck
}

func (v *InitAck) flags() byte {
	return 0
}

func (v *InitAck) marshalValue() ([]byte, error) {
	if len(v.Cookie) == 0 {
		return nil, malformedf("INIT-ACK without cookie")
	}
	return append(v.InitCommon.marshal(), v.Cookie...), nil
}

func (v *InitAck) unmarshalValue(flags byte, value []byte) error {
	if err := v.InitCommon.unmarshal(value); err != nil {
		return err
	}

	v.Cookie = append([]byte{}, value[initValueSize:]...)
	if len(v.Cookie) == 0 {
		return malformedf("INIT-ACK without cookie")
	}
	return nil
}

func (v *InitAck) String() string {
	return fmt.Sprintf("INIT-ACK %v, cookie=%vB", v.InitCommon.String(), len(v.Cookie))
}

// CookieEcho returns the state cookie of an INIT-ACK.
type CookieEcho struct {
	Cookie []byte
}

func (v *CookieEcho) Type() Type {
	return TypeCookieEcho
}

func (v *CookieEcho) flags() byte {
	return 0
}

func (v *CookieEcho) marshalValue() ([]byte, error) {
	if len(v.Cookie) == 0 {
		return nil, malformedf("COOKIE-ECHO without cookie")
	}
	return v.Cookie, nil
}

func (v *CookieEcho) unmarshalValue(flags byte, value []byte) error {
	if len(value) == 0 {
		return malformedf("COOKIE-ECHO without cookie")
	}
	v.Cookie = append([]byte{}, value...)
	return nil
}

func (v *CookieEcho) String() string {
	return fmt.Sprintf("COOKIE-ECHO cookie=%vB", len(v.Cookie))
}

// CookieAck completes the handshake.
type CookieAck struct {
}

func (v *CookieAck) Type() Type {
	return TypeCookieAck
}

func (v *CookieAck) flags() byte {
	return 0
}

func (v *CookieAck) marshalValue() ([]byte, error) {
	return nil, nil
}

func (v *CookieAck) unmarshalValue(flags byte, value []byte) error {
	if len(value) != 0 {
		return malformedf("COOKIE-ACK value %v bytes", len(value))
	}
	return nil
}

func (v *CookieAck) String() string {
	return "COOKIE-ACK"
}
