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
package main

import (
	"bytes"
	"context"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/ossrs/srs-sctp/link"
	"github.com/ossrs/srs-sctp/sctp"
	"github.com/ossrs/srs-sctp/stat"
	"github.com/ossrs/srs-sctp/vnet"
	"github.com/pion/logging"
)

const (
	portA = 5000
	portB = 5001
)

// The virtual hosts, also the addresses in the capture of the lossy link.
var (
	addrA = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: portA}
	addrB = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: portB}
)

// bench is a run: two associations, a path between them and the reports.
type bench struct {
	opts *benchOptions

	imp  *link.Impairment
	stat *stat.Stat
	a    *sctp.Association
	b    *sctp.Association

	// Transports of a and b, before the capture tap.
	ta sctp.Transport
	tb sctp.Transport

	// Called in reverse order when the run ends.
	cleanups []func()
	wg       sync.WaitGroup
}

func doBench(ctx context.Context, opts *benchOptions) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	v := &bench{opts: opts, stat: stat.NewStat()}
	defer v.cleanup()

	var err error
	impairment := link.ImpairmentConfig{Loss: opts.loss, Corrupt: opts.corrupt, Duplicate: opts.duplicate}
	if opts.mode == "lossy" {
		impairment.Jitter = opts.jitter
	}
	if v.imp, err = link.NewImpairment(impairment, rand.New(rand.NewSource(opts.seed))); err != nil {
		return errors.Wrapf(err, "impairment")
	}

	if v.a, err = v.newAssociation(ctx, portA); err != nil {
		return errors.Wrapf(err, "create a")
	}
	if v.b, err = v.newAssociation(ctx, portB); err != nil {
		return errors.Wrapf(err, "create b")
	}

	switch opts.mode {
	case "lossy":
		err = v.setupLossy()
	case "vnet":
		err = v.setupVnet(ctx)
	case "proxy":
		err = v.setupProxy(ctx)
	}
	if err != nil {
		return errors.Wrapf(err, "setup %v", opts.mode)
	}

	if err := v.setupCapture(ctx); err != nil {
		return errors.Wrapf(err, "capture")
	}

	v.stat.Expect(opts.transfers)
	v.stat.Register("a", func() interface{} { return v.a.Stats() })
	v.stat.Register("b", func() interface{} { return v.b.Stats() })
	v.stat.Register("link", func() interface{} { return v.imp.Stats() })
	if opts.statListen != "" {
		v.serveStat(ctx)
	}

	starttime := time.Now()
	if err := v.transfer(ctx); err != nil {
		return err
	}
	logger.Tf(ctx, "Transfer %vx%vB in %v, a %v, b %v, link %v",
		opts.transfers, opts.size, time.Since(starttime), v.a.Stats(), v.b.Stats(), v.imp.Stats())

	if opts.redisAddr != "" {
		if err := v.report(ctx); err != nil {
			return errors.Wrapf(err, "report")
		}
	}
	return nil
}

func (v *bench) newAssociation(ctx context.Context, port uint16) (*sctp.Association, error) {
	a, err := sctp.NewAssociation(sctp.Config{
		LocalPort:     port,
		MTU:           v.opts.mtu,
		RTOInitial:    v.opts.rto,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
		Context:       ctx,
	})
	if err != nil {
		return nil, err
	}

	v.cleanups = append(v.cleanups, func() {
		_ = a.Abort()
	})
	return a, nil
}

func (v *bench) setupLossy() error {
	l := link.NewLossyLink(v.imp)
	v.cleanups = append(v.cleanups, func() {
		_ = l.Close()
	})

	l.A().Attach(v.a)
	l.B().Attach(v.b)
	v.ta, v.tb = l.A(), l.B()
	return nil
}

func (v *bench) setupVnet(ctx context.Context) error {
	nw, err := vnet.NewNetwork(&vnet.NetworkConfig{
		IPs:        []string{addrA.IP.String(), addrB.IP.String()},
		MaxJitter:  v.opts.jitter,
		Impairment: v.imp,
	})
	if err != nil {
		return errors.Wrapf(err, "network")
	}
	v.cleanups = append(v.cleanups, func() {
		_ = nw.Close()
	})

	ba, err := nw.Bind(addrA, addrB)
	if err != nil {
		return errors.Wrapf(err, "bind a")
	}
	bb, err := nw.Bind(addrB, addrA)
	if err != nil {
		return errors.Wrapf(err, "bind b")
	}

	v.serve(ctx, ba, v.a)
	v.serve(ctx, bb, v.b)
	v.ta, v.tb = ba, bb
	return nil
}

// setupProxy runs a in the vnet, b on a real UDP socket.
func (v *bench) setupProxy(ctx context.Context) error {
	nw, err := vnet.NewNetwork(&vnet.NetworkConfig{
		IPs:        []string{addrA.IP.String()},
		MaxJitter:  v.opts.jitter,
		Impairment: v.imp,
	})
	if err != nil {
		return errors.Wrapf(err, "network")
	}
	v.cleanups = append(v.cleanups, func() {
		_ = nw.Close()
	})

	server, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		return errors.Wrapf(err, "listen")
	}

	proxied, err := nw.Proxy(addrA, addrB, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		_ = server.Close()
		return errors.Wrapf(err, "proxy")
	}
	logger.Tf(ctx, "Proxy %v to %v, real %v", addrB, server.LocalAddr(), proxied)

	ba, err := nw.Bind(addrA, addrB)
	if err != nil {
		_ = server.Close()
		return errors.Wrapf(err, "bind a")
	}
	bb := link.NewPacketConnBinding(server, proxied)

	v.serve(ctx, ba, v.a)
	v.serve(ctx, bb, v.b)
	v.ta, v.tb = ba, bb
	return nil
}

// serve reads the binding into the association until the run ends.
func (v *bench) serve(ctx context.Context, binding *link.PacketConnBinding, a *sctp.Association) {
	ctx, cancel := context.WithCancel(ctx)
	v.cleanups = append(v.cleanups, cancel)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if err := binding.Serve(ctx, a); err != nil {
			logger.Wf(ctx, "serve %v err %+v", binding.LocalAddr(), err)
		}
	}()
}

// setupCapture binds the transports, through a pcap tap when asked.
func (v *bench) setupCapture(ctx context.Context) error {
	if v.opts.pcapFile == "" {
		v.a.SetTransport(v.ta)
		v.b.SetTransport(v.tb)
		return nil
	}

	f, err := os.Create(v.opts.pcapFile)
	if err != nil {
		return errors.Wrapf(err, "create %v", v.opts.pcapFile)
	}

	c, err := link.NewCapture(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	v.cleanups = append(v.cleanups, func() {
		logger.Tf(ctx, "Capture %v packets to %v", c.Packets(), v.opts.pcapFile)
		_ = f.Close()
	})

	v.a.SetTransport(c.Tap(v.ta, addrA, addrB))
	v.b.SetTransport(c.Tap(v.tb, addrB, addrA))
	return nil
}

func (v *bench) serveStat(ctx context.Context) {
	mux := http.NewServeMux()
	stat.HandleStat(ctx, mux, v.opts.statListen, v.stat)

	server := &http.Server{Addr: v.opts.statListen, Handler: mux}
	v.cleanups = append(v.cleanups, func() {
		_ = server.Close()
	})

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Wf(ctx, "stat server err %+v", err)
		}
	}()
}

// transfer sends each message once the previous one was received, then closes
// both associations.
func (v *bench) transfer(ctx context.Context) error {
	if err := v.a.Connect(portB); err != nil {
		return errors.Wrapf(err, "connect a")
	}
	// The handshake of a may complete first, then b is already established.
	if err := v.b.Connect(portA); err != nil && v.b.State() != sctp.Established {
		return errors.Wrapf(err, "connect b")
	}

	for _, a := range []*sctp.Association{v.a, v.b} {
		if err := a.WaitEstablished(ctx); err != nil {
			return errors.Wrapf(err, "establish")
		}
	}

	rd := rand.New(rand.NewSource(v.opts.seed + 1))
	for i := 0; i < v.opts.transfers; i++ {
		payload := make([]byte, v.opts.size)
		rd.Read(payload)

		if err := v.a.Send(payload, !v.opts.unordered, uint16(v.opts.streamID), 0); err != nil {
			return errors.Wrapf(err, "send #%v", i)
		}

		m, err := v.b.ReadMessage(ctx)
		if err != nil {
			return errors.Wrapf(err, "read #%v", i)
		}
		if !bytes.Equal(m.Payload, payload) {
			return errors.Errorf("message #%v mismatch, %v", i, m)
		}

		v.stat.Done(len(m.Payload))
		logger.If(ctx, "Transfer #%v %v", i, m)
	}

	var r0, r1 error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r0 = v.a.Close()
	}()
	go func() {
		defer wg.Done()
		r1 = v.b.Close()
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

func (v *bench) report(ctx context.Context) error {
	r, err := stat.NewRedisReporter(ctx, &redis.Options{
		Addr:     v.opts.redisAddr,
		Password: v.opts.redisPassword,
		DB:       v.opts.redisDB,
	}, v.opts.redisKey, 24*time.Hour)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.Report(ctx, v.stat.Snapshot()); err != nil {
		return err
	}
	logger.Tf(ctx, "Report to redis %v key %v", v.opts.redisAddr, v.opts.redisKey)
	return nil
}

func (v *bench) cleanup() {
	for i := len(v.cleanups) - 1; i >= 0; i-- {
		v.cleanups[i]()
	}
	v.wg.Wait()
}
