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

// Package vnet binds associations to a pion virtual network, where a router
// carries the packets between virtual hosts and impairs them on the way.
package vnet

import (
	"net"
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/srs-sctp/link"
	"github.com/pion/logging"
	"github.com/pion/transport/v2/vnet"
)

// NetworkConfig describes the hosts and the path between them.
type NetworkConfig struct {
	// The IP of each virtual host.
	IPs []string
	// Each packet waits at least MinDelay in the router. MaxJitter delays the
	// processing of the router queue by a random duration.
	MinDelay  time.Duration
	MaxJitter time.Duration
	// Optional, applied to every packet the router forwards.
	Impairment *link.Impairment
	// Optional, the default factory when nil.
	LoggerFactory logging.LoggerFactory
}

// Network is a virtual router with a Net for each host.
type Network struct {
	router *vnet.Router
	nets   map[string]*vnet.Net

	lock  sync.Mutex
	proxy *UDPProxy
}

func NewNetwork(cfg *NetworkConfig) (*Network, error) {
	if len(cfg.IPs) == 0 {
		return nil, errors.New("no host")
	}

	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "0.0.0.0/0", // Accept all ip, no sub router.
		MinDelay:      cfg.MinDelay,
		MaxJitter:     cfg.MaxJitter,
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create router")
	}

	v := &Network{router: router, nets: make(map[string]*vnet.Net)}
	for _, ip := range cfg.IPs {
		if net.ParseIP(ip).To4() == nil {
			_ = router.Stop()
			return nil, errors.Errorf("invalid ipv4 %v", ip)
		}

		nw, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
		if err != nil {
			_ = router.Stop()
			return nil, errors.Wrapf(err, "create net %v", ip)
		}
		if err := router.AddNet(nw); err != nil {
			_ = router.Stop()
			return nil, errors.Wrapf(err, "add net %v", ip)
		}
		v.nets[ip] = nw
	}

	// The filter changes the packet in place, which the router then forwards.
	if imp := cfg.Impairment; imp != nil {
		router.AddChunkFilter(func(c vnet.Chunk) bool {
			return imp.Filter(c.UserData())
		})
	}

	if err := router.Start(); err != nil {
		_ = router.Stop()
		return nil, errors.Wrapf(err, "start router")
	}
	return v, nil
}

// Bind listens on the local address, which must be one of the hosts, and
// returns a binding sending to remote.
func (v *Network) Bind(local, remote *net.UDPAddr) (*link.PacketConnBinding, error) {
	nw, ok := v.nets[local.IP.String()]
	if !ok {
		return nil, errors.Errorf("no host %v", local.IP)
	}

	conn, err := nw.ListenPacket("udp4", local.String())
	if err != nil {
		return nil, errors.Wrapf(err, "listen %v", local)
	}
	return link.NewPacketConnBinding(conn, remote), nil
}

// Proxy makes server, a real UDP address, reachable from the host client at
// the virtual address. It returns the real address the server sees the client
// as.
func (v *Network) Proxy(client, virtual, server *net.UDPAddr) (net.Addr, error) {
	v.lock.Lock()
	if v.proxy == nil {
		v.proxy = NewUDPProxy(v.router)
	}
	proxy := v.proxy
	v.lock.Unlock()

	return proxy.Proxy(client, virtual, server)
}

func (v *Network) Close() error {
	v.lock.Lock()
	proxy := v.proxy
	v.lock.Unlock()

	if proxy != nil {
		_ = proxy.Close()
	}
	return v.router.Stop()
}
