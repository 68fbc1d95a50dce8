package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/ossrs/srs-sctp/chunk"
)

func main() {
	ctx := logger.WithContext(context.Background())
	if err := doMain(ctx); err != nil {
		panic(err)
	}
}

func trace(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

func doMain(ctx context.Context) error {
	var doRE, doTrace, help bool
	var pauseNumber, abortNumber uint64
	var port int
	var filename string
	var server string
	flag.BoolVar(&help, "h", false, "whether show this help")
	flag.BoolVar(&help, "help", false, "whether show this help")
	flag.BoolVar(&doRE, "re", false, "whether do real-time emulation, when replay to server")
	flag.BoolVar(&doTrace, "trace", true, "whether trace the chunks of each packet")
	flag.Uint64Var(&pauseNumber, "pause", 0, "the packet number to pause")
	flag.Uint64Var(&abortNumber, "abort", 0, "the packet number to abort")
	flag.IntVar(&port, "port", 0, "only the packets to this UDP port, 0 for all")
	flag.StringVar(&filename, "f", "", "the pcap filename, like ./t.pcap or ./t.pcapng")
	flag.StringVar(&server, "s", "", "replay the UDP payloads to server, like 127.0.0.1:5001")

	flag.Parse()

	if help {
		flag.Usage()
		os.Exit(0)
	}

	if filename == "" {
		flag.Usage()
		os.Exit(1)
	}

	logger.Tf(ctx, "Dissect pcap %v, server=%v, re=%v, trace=%v, port=%v, pause=%v, abort=%v",
		filename, server, doRE, doTrace, port, pauseNumber, abortNumber)

	f, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "open pcap %v", filename)
	}
	defer f.Close()

	source, err := newPacketSource(f, filename)
	if err != nil {
		return errors.Wrapf(err, "new reader")
	}

	var conn net.Conn
	if server != "" {
		if conn, err = net.Dial("udp", server); err != nil {
			return errors.Wrapf(err, "dial %v", server)
		}
		defer conn.Close()
	}

	var packetNumber, corrupt, malformed, chunks uint64
	var previousTime *time.Time
	for packet := range source.Packets() {
		packetNumber++

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if port > 0 && int(udp.DstPort) != port {
			continue
		}

		if pauseNumber > 0 && packetNumber == pauseNumber {
			reader := bufio.NewReader(os.Stdin)
			trace("#%v Press Enter to continue...", packetNumber)
			_, _ = reader.ReadString('\n')
		}
		if abortNumber > 0 && packetNumber > abortNumber {
			break
		}

		ci := packet.Metadata().CaptureInfo
		if conn != nil {
			if _, err := conn.Write(udp.Payload); err != nil {
				return errors.Wrapf(err, "write to %v", server)
			}

			if doRE {
				if previousTime == nil {
					previousTime = &ci.Timestamp
				} else if diff := ci.Timestamp.Sub(*previousTime); diff > 10*time.Millisecond {
					time.Sleep(diff)
					previousTime = &ci.Timestamp
				}
			}
		}

		p, err := chunk.ParsePacket(udp.Payload)
		switch errors.Cause(err) {
		case nil:
			chunks += uint64(len(p.Chunks))
		case chunk.ErrCorruptChunk:
			corrupt++
		default:
			malformed++
		}

		if !doTrace {
			continue
		}
		if err != nil {
			trace("#%v UDP %v=>%v %v Len:%v, %v",
				packetNumber, uint16(udp.SrcPort), uint16(udp.DstPort),
				ci.Timestamp.Format("15:04:05.000"), len(udp.Payload), errors.Cause(err))
			continue
		}

		trace("#%v UDP %v=>%v %v Len:%v, vtag=%#x",
			packetNumber, uint16(udp.SrcPort), uint16(udp.DstPort),
			ci.Timestamp.Format("15:04:05.000"), len(udp.Payload), p.VerificationTag)
		for _, c := range p.Chunks {
			trace("    %v", c)
		}
	}

	logger.Tf(ctx, "Done %v packets, %v chunks, corrupt=%v, malformed=%v",
		packetNumber, chunks, corrupt, malformed)
	return nil
}

// newPacketSource reads the pcapng written by wireshark, or the pcap written
// by the bench.
func newPacketSource(r io.Reader, filename string) (*gopacket.PacketSource, error) {
	if strings.HasSuffix(filename, ".pcapng") {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		return gopacket.NewPacketSource(ng, ng.LinkType()), nil
	}

	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	return gopacket.NewPacketSource(pr, pr.LinkType()), nil
}
