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
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/ossrs/go-oryx-lib/errors"
)

// Capture writes packets as Ethernet/IPv4/UDP frames into a pcap file, which
// the pcap tool and wireshark read back.
type Capture struct {
	lock    sync.Mutex
	w       *pcapgo.Writer
	packets uint64
}

func NewCapture(w io.Writer) (*Capture, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(maxPacketSize, layers.LinkTypeEthernet); err != nil {
		return nil, errors.Wrapf(err, "write pcap header")
	}
	return &Capture{w: pw}, nil
}

// Tap returns a transport capturing each packet as sent from src to dst, then
// passing it to next.
func (v *Capture) Tap(next Transport, src, dst *net.UDPAddr) *Tap {
	return &Tap{capture: v, next: next, src: src, dst: dst}
}

func (v *Capture) Packets() uint64 {
	v.lock.Lock()
	defer v.lock.Unlock()

	return v.packets
}

func (v *Capture) write(src, dst *net.UDPAddr, b []byte) error {
	srcIP, dstIP := src.IP.To4(), dst.IP.To4()
	if srcIP == nil || dstIP == nil {
		return errors.Errorf("capture %v => %v, ipv4 only", src, dst)
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, srcIP[3]},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, dstIP[3]},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return errors.Wrapf(err, "udp checksum")
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(b)); err != nil {
		return errors.Wrapf(err, "serialize")
	}

	v.lock.Lock()
	defer v.lock.Unlock()

	frame := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)}
	if err := v.w.WritePacket(ci, frame); err != nil {
		return errors.Wrapf(err, "write packet")
	}

	v.packets++
	return nil
}

// Tap is a Transport decorator, see Capture.Tap.
type Tap struct {
	capture *Capture
	next    Transport
	src     *net.UDPAddr
	dst     *net.UDPAddr
}

func (v *Tap) Send(b []byte) error {
	if err := v.capture.write(v.src, v.dst, b); err != nil {
		return errors.Wrapf(err, "capture")
	}
	return v.next.Send(b)
}
