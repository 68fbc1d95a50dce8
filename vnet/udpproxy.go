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
	"net"
	"sync"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/pion/transport/v2/vnet"
)

const maxDatagramSize = 65536

// UDPProxy bridges hosts of the virtual network to real UDP servers, so one
// association runs in the vnet and its peer on a real socket.
//
//	                          ..............................................
//	                          :         Virtual Network (vnet)             :
//	                          :                                            :
//	+-------+ *         1 +----+         +--------+                      :
//	| :Assoc|------------>|:Net|--o<-----|:Router |          .............................
//	+-------+             +----+         |        |          :        UDPProxy           :
//	                          :            |        |       +----+     +---------+     +---------+     +--------+
//	                          :            |        |--->o--|:Net|-->o-| vnet    |-->o-|  net.   |--->-| :Assoc |
//	                          :            |        |       +----+     | socket  |     | UDPConn |     | (real) |
//	                          :            |        |          :       +---------+     +---------+     +--------+
//	                          :            |        |          ............................:
//	                          :            +--------+                       :
//	                          ...............................................
//
// The router filters apply to the vnet side only.
type UDPProxy struct {
	// The router bind to.
	router *vnet.Router

	lock sync.Mutex
	// key is the virtual server address.
	workers map[string]*aUDPProxyWorker
	closed  bool

	wg sync.WaitGroup
}

// NewUDPProxy creates a proxy for the router. For each virtual address we
// proxy, a vnet.Net is added to the router.
func NewUDPProxy(router *vnet.Router) *UDPProxy {
	return &UDPProxy{router: router, workers: make(map[string]*aUDPProxyWorker)}
}

// Close stops all workers and their sockets.
func (v *UDPProxy) Close() error {
	v.lock.Lock()
	v.closed = true
	workers := v.workers
	v.workers = make(map[string]*aUDPProxyWorker)
	v.lock.Unlock()

	for _, w := range workers {
		w.close()
	}
	v.wg.Wait()
	return nil
}

func (v *UDPProxy) isClosed() bool {
	v.lock.Lock()
	defer v.lock.Unlock()

	return v.closed
}

// Proxy starts a worker serving virtual for server, or reuses it, and binds
// the client to a real socket. It returns the address of that socket.
func (v *UDPProxy) Proxy(client, virtual, server *net.UDPAddr) (net.Addr, error) {
	v.lock.Lock()
	defer v.lock.Unlock()

	if v.closed {
		return nil, errors.New("proxy closed")
	}

	worker, ok := v.workers[virtual.String()]
	if !ok {
		var err error
		if worker, err = v.newWorker(virtual, server); err != nil {
			return nil, errors.Wrapf(err, "proxy %v to %v", virtual, server)
		}
		v.workers[virtual.String()] = worker
	}

	realSocket, err := worker.findEndpointBy(client)
	if err != nil {
		return nil, errors.Wrapf(err, "bind %v", client)
	}
	return realSocket.LocalAddr(), nil
}

func (v *UDPProxy) newWorker(virtual, server *net.UDPAddr) (*aUDPProxyWorker, error) {
	nw, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{virtual.IP.String()}})
	if err != nil {
		return nil, errors.Wrapf(err, "create net")
	}
	if err := v.router.AddNet(nw); err != nil {
		return nil, errors.Wrapf(err, "add net")
	}

	// The vnet socket has the virtual address, the packets from the vnet
	// hosts are copied to the real server.
	vnetSocket, err := nw.ListenPacket("udp4", virtual.String())
	if err != nil {
		return nil, errors.Wrapf(err, "listen %v", virtual)
	}

	worker := &aUDPProxyWorker{
		proxy: v, server: server, vnetSocket: vnetSocket,
		endpoints: make(map[string]*net.UDPConn),
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		worker.serve()
	}()
	return worker, nil
}

// A proxy worker for a virtual server address.
type aUDPProxyWorker struct {
	proxy      *UDPProxy
	server     *net.UDPAddr
	vnetSocket net.PacketConn

	lock sync.Mutex
	// Each vnet client, bind to a real socket to server.
	// key is vnet client addr.
	endpoints map[string]*net.UDPConn
}

func (v *aUDPProxyWorker) serve() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := v.vnetSocket.ReadFrom(buf)
		if err != nil {
			return
		}

		if n <= 0 || addr == nil {
			continue // Drop packet
		}

		realSocket, err := v.findEndpointBy(addr)
		if err != nil {
			continue // Drop packet.
		}

		if _, err := realSocket.Write(buf[:n]); err != nil {
			continue // Lost, the transport retransmits.
		}
	}
}

// findEndpointBy returns the real socket of a vnet client, created on first
// use.
func (v *aUDPProxyWorker) findEndpointBy(addr net.Addr) (*net.UDPConn, error) {
	v.lock.Lock()
	defer v.lock.Unlock()

	if realSocket, ok := v.endpoints[addr.String()]; ok {
		return realSocket, nil
	}

	realSocket, err := net.DialUDP("udp4", nil, v.server)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %v", v.server)
	}
	v.endpoints[addr.String()] = realSocket

	// Got packet from real server, we should proxy it to vnet.
	v.proxy.wg.Add(1)
	go func(vnetClientAddr net.Addr) {
		defer v.proxy.wg.Done()

		buf := make([]byte, maxDatagramSize)
		for {
			n, err := realSocket.Read(buf)
			if err != nil {
				// A refused packet fails the next read of a connected socket.
				if v.proxy.isClosed() {
					return
				}
				continue
			}

			if n <= 0 {
				continue // Drop packet
			}

			if _, err := v.vnetSocket.WriteTo(buf[:n], vnetClientAddr); err != nil {
				return
			}
		}
	}(addr)

	return realSocket, nil
}

func (v *aUDPProxyWorker) close() {
	_ = v.vnetSocket.Close()

	v.lock.Lock()
	defer v.lock.Unlock()

	for _, realSocket := range v.endpoints {
		_ = realSocket.Close()
	}
}
