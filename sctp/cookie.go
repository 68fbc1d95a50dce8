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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
)

const (
	cookieBodySize = 32
	cookieSize     = cookieBodySize + sha256.Size
)

// stateCookie is what the passive side puts into INIT-ACK instead of keeping
// state. It comes back in COOKIE-ECHO, signed so the peer cannot forge it.
type stateCookie struct {
	myTag          uint32
	peerTag        uint32
	myInitialTSN   uint32
	peerInitialTSN uint32
	peerRwnd       uint32
	localPort      uint16
	remotePort     uint16
	createdAt      time.Time
}

func (v *stateCookie) marshal(secret []byte) []byte {
	b := make([]byte, cookieBodySize, cookieSize)
	binary.BigEndian.PutUint32(b[0:], v.myTag)
	binary.BigEndian.PutUint32(b[4:], v.peerTag)
	binary.BigEndian.PutUint32(b[8:], v.myInitialTSN)
	binary.BigEndian.PutUint32(b[12:], v.peerInitialTSN)
	binary.BigEndian.PutUint32(b[16:], v.peerRwnd)
	binary.BigEndian.PutUint16(b[20:], v.localPort)
	binary.BigEndian.PutUint16(b[22:], v.remotePort)
	binary.BigEndian.PutUint64(b[24:], uint64(v.createdAt.UnixNano()))

	mac := hmac.New(sha256.New, secret)
	mac.Write(b)
	return mac.Sum(b)
}

func (v *stateCookie) unmarshal(secret, b []byte, lifetime time.Duration, now time.Time) error {
	if len(b) != cookieSize {
		return errors.Errorf("cookie %v bytes", len(b))
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(b[:cookieBodySize])
	if !hmac.Equal(mac.Sum(nil), b[cookieBodySize:]) {
		return errors.New("cookie signature mismatch")
	}

	v.myTag = binary.BigEndian.Uint32(b[0:])
	v.peerTag = binary.BigEndian.Uint32(b[4:])
	v.myInitialTSN = binary.BigEndian.Uint32(b[8:])
	v.peerInitialTSN = binary.BigEndian.Uint32(b[12:])
	v.peerRwnd = binary.BigEndian.Uint32(b[16:])
	v.localPort = binary.BigEndian.Uint16(b[20:])
	v.remotePort = binary.BigEndian.Uint16(b[22:])
	v.createdAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[24:])))

	if age := now.Sub(v.createdAt); age > lifetime {
		return errors.Errorf("cookie stale, age %v", age)
	}
	return nil
}
