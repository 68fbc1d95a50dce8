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

package link

import (
	"context"
	"net"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
)

const maxPacketSize = 65536

// PacketConnBinding carries packets over a net.PacketConn, a real UDP socket
// or one of a virtual network.
type PacketConnBinding struct {
	conn   net.PacketConn
	remote net.Addr
}

func NewPacketConnBinding(conn net.PacketConn, remote net.Addr) *PacketConnBinding {
	return &PacketConnBinding{conn: conn, remote: remote}
}

func (v *PacketConnBinding) LocalAddr() net.Addr {
	return v.conn.LocalAddr()
}

func (v *PacketConnBinding) Send(b []byte) error {
	if _, err := v.conn.WriteTo(b, v.remote); err != nil {
		return errors.Wrapf(err, "write to %v", v.remote)
	}
	return nil
}

// Serve reads packets from the remote address into the injector until ctx is
// done, then closes the conn. The injector must not retain the buffer.
func (v *PacketConnBinding) Serve(ctx context.Context, injector PacketInjector) error {
	go func() {
		<-ctx.Done()
		_ = v.conn.Close()
	}()

	buf := make([]byte, maxPacketSize)
	for {
		n, addr, err := v.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "read from %v", v.conn.LocalAddr())
		}

		if addr == nil || addr.String() != v.remote.String() {
			logger.If(ctx, "link: ignore %vB from %v, expect %v", n, addr, v.remote)
			continue
		}

		injector.InjectPacket(buf[:n])
	}
}

func (v *PacketConnBinding) Close() error {
	return v.conn.Close()
}
