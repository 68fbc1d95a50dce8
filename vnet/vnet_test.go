// The MIT License (MIT)
//
// Copyright (c) 2021 srs-bench(ossrs)
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

package vnet

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"math/rand"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/ossrs/srs-sctp/link"
	"github.com/ossrs/srs-sctp/sctp"
)

var testTimeout = flag.Int("timeout", 30000, "For each case, the timeout in ms")
var testLog = flag.Bool("vnet-log", false, "Whether enable the detail log")

func TestMain(m *testing.M) {
	flag.Parse()

	if !*testLog {
		olw := logger.Switch(ioutil.Discard)
		defer func() {
			logger.Switch(olw)
		}()
	}

	os.Exit(m.Run())
}

func testConfig(port uint16) sctp.Config {
	return sctp.Config{
		LocalPort:          port,
		RTOInitial:         50 * time.Millisecond,
		RTOMin:             20 * time.Millisecond,
		RTOMax:             500 * time.Millisecond,
		MaxRetransmits:     20,
		MaxInitRetransmits: 20,
	}
}

// transfer connects a and b, then sends nn messages from a to b, each one
// received before the next is sent.
func transfer(ctx context.Context, a, b *sctp.Association, nn int) error {
	if err := a.Connect(5001); err != nil {
		return errors.Wrapf(err, "connect")
	}
	if err := a.WaitEstablished(ctx); err != nil {
		return errors.Wrapf(err, "establish a")
	}
	if err := b.WaitEstablished(ctx); err != nil {
		return errors.Wrapf(err, "establish b")
	}

	for i := 0; i < nn; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, 2048)
		if err := a.Send(payload, true, 0, 0); err != nil {
			return errors.Wrapf(err, "send #%v", i)
		}

		m, err := b.ReadMessage(ctx)
		if err != nil {
			return errors.Wrapf(err, "read #%v", i)
		}
		if !bytes.Equal(m.Payload, payload) {
			return errors.Errorf("message #%v mismatch %v", i, m)
		}
	}

	var wg sync.WaitGroup
	var r0, r1 error
	wg.Add(2)
	go func() {
		defer wg.Done()
		r0 = a.Close()
	}()
	go func() {
		defer wg.Done()
		r1 = b.Close()
	}()
	wg.Wait()

	if r0 != nil {
		return errors.Wrapf(r0, "close a")
	}
	if r1 != nil {
		return errors.Wrapf(r1, "close b")
	}
	return nil
}

func TestNetwork_Transfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*testTimeout)*time.Millisecond)
	defer cancel()

	imp, err := link.NewImpairment(link.ImpairmentConfig{Loss: 0.1, Corrupt: 0.05}, rand.New(rand.NewSource(12345)))
	if err != nil {
		t.Fatalf("impairment err %+v", err)
	}

	nw, err := NewNetwork(&NetworkConfig{
		IPs: []string{"10.0.0.1", "10.0.0.2"}, MinDelay: time.Millisecond, Impairment: imp,
	})
	if err != nil {
		t.Fatalf("network err %+v", err)
	}
	defer nw.Close()

	addrA := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}
	addrB := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5001}

	ba, err := nw.Bind(addrA, addrB)
	if err != nil {
		t.Fatalf("bind err %+v", err)
	}
	bb, err := nw.Bind(addrB, addrA)
	if err != nil {
		t.Fatalf("bind err %+v", err)
	}

	a, err := sctp.NewAssociation(testConfig(5000))
	if err != nil {
		t.Fatalf("association err %+v", err)
	}
	defer a.Abort()
	b, err := sctp.NewAssociation(testConfig(5001))
	if err != nil {
		t.Fatalf("association err %+v", err)
	}
	defer b.Abort()

	a.SetTransport(ba)
	b.SetTransport(bb)

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	for _, c := range []struct {
		binding *link.PacketConnBinding
		a       *sctp.Association
	}{{ba, a}, {bb, b}} {
		wg.Add(1)
		go func(binding *link.PacketConnBinding, a *sctp.Association) {
			defer wg.Done()
			if err := binding.Serve(ctx, a); err != nil {
				t.Errorf("serve err %+v", err)
			}
		}(c.binding, c.a)
	}

	if err := transfer(ctx, a, b, 10); err != nil {
		t.Errorf("transfer err %+v", err)
	}

	if s := imp.Stats(); s.Packets == 0 {
		t.Errorf("router filter not applied, %v", s)
	}
	logger.Tf(ctx, "a %v, b %v, link %v", a.Stats(), b.Stats(), imp.Stats())
}

func TestNetwork_Invalid(t *testing.T) {
	if _, err := NewNetwork(&NetworkConfig{}); err == nil {
		t.Errorf("network without host")
	}
	if _, err := NewNetwork(&NetworkConfig{IPs: []string{"::1"}}); err == nil {
		t.Errorf("network with ipv6")
	}
	// A bad host after a good one releases the router built so far.
	if _, err := NewNetwork(&NetworkConfig{IPs: []string{"10.0.0.1", "10.0.0"}}); err == nil {
		t.Errorf("network with bad second host")
	}

	nw, err := NewNetwork(&NetworkConfig{IPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("network err %+v", err)
	}
	defer nw.Close()

	if _, err := nw.Bind(&net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 1}, nil); err == nil {
		t.Errorf("bind to unknown host")
	}
}

// doMockUDPEchoServer echoes packets until ctx is done.
func doMockUDPEchoServer(ctx context.Context, conn net.PacketConn) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, 1500)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if _, err := conn.WriteTo(buf[:n], addr); err != nil {
			return err
		}
	}
}

// vnet client:
//
//	10.0.0.11:5787
//
// proxy to real server:
//
//	192.168.1.10:8000 => 127.0.0.1:xxx
func TestUDPProxy_Echo(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*testTimeout)*time.Millisecond)
	defer cancel()

	server, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen err %+v", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := doMockUDPEchoServer(ctx, server); err != nil {
			t.Errorf("echo err %+v", err)
		}
	}()

	nw, err := NewNetwork(&NetworkConfig{IPs: []string{"10.0.0.11"}})
	if err != nil {
		t.Fatalf("network err %+v", err)
	}
	defer nw.Close()

	client := &net.UDPAddr{IP: net.ParseIP("10.0.0.11"), Port: 5787}
	virtual := &net.UDPAddr{IP: net.ParseIP("192.168.1.10"), Port: 8000}
	if _, err := nw.Proxy(client, virtual, server.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("proxy err %+v", err)
	}

	binding, err := nw.Bind(client, virtual)
	if err != nil {
		t.Fatalf("bind err %+v", err)
	}

	received := make(chan string, 10)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = binding.Serve(ctx, injectorFunc(func(b []byte) {
			received <- string(b)
		}))
	}()

	for i := 0; i < 3; i++ {
		expect := fmt.Sprintf("Hello #%v", i)
		if err := binding.Send([]byte(expect)); err != nil {
			t.Fatalf("send err %+v", err)
		}

		select {
		case r := <-received:
			if r != expect {
				t.Errorf("expect %v, got %v", expect, r)
			}
		case <-ctx.Done():
			t.Fatalf("no echo for #%v", i)
		}
	}
}

// An association in the vnet talks to one on a real socket.
func TestUDPProxy_Transfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*testTimeout)*time.Millisecond)
	defer cancel()

	imp, err := link.NewImpairment(link.ImpairmentConfig{Loss: 0.1}, rand.New(rand.NewSource(12345)))
	if err != nil {
		t.Fatalf("impairment err %+v", err)
	}

	nw, err := NewNetwork(&NetworkConfig{IPs: []string{"10.0.0.1"}, Impairment: imp})
	if err != nil {
		t.Fatalf("network err %+v", err)
	}
	defer nw.Close()

	server, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen err %+v", err)
	}

	client := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}
	virtual := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5001}
	proxied, err := nw.Proxy(client, virtual, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("proxy err %+v", err)
	}

	ba, err := nw.Bind(client, virtual)
	if err != nil {
		t.Fatalf("bind err %+v", err)
	}
	bb := link.NewPacketConnBinding(server, proxied)

	a, err := sctp.NewAssociation(testConfig(5000))
	if err != nil {
		t.Fatalf("association err %+v", err)
	}
	defer a.Abort()
	b, err := sctp.NewAssociation(testConfig(5001))
	if err != nil {
		t.Fatalf("association err %+v", err)
	}
	defer b.Abort()

	a.SetTransport(ba)
	b.SetTransport(bb)

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = ba.Serve(ctx, a)
	}()
	go func() {
		defer wg.Done()
		_ = bb.Serve(ctx, b)
	}()

	if err := transfer(ctx, a, b, 10); err != nil {
		t.Errorf("transfer err %+v", err)
	}
}

type injectorFunc func(b []byte)

func (f injectorFunc) InjectPacket(b []byte) {
	f(b)
}
