package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	mrand "math/rand"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ossrs/srs-sctp/link"
)

func main() {
	if err := doMain(); err != nil {
		trace("main", "Proxy error %v", err)
		os.Exit(1)
	}
}

func doMain() error {
	var listen, backend string
	var loss, corrupt, duplicate float64
	var jitter int
	var seed int64
	flag.StringVar(&listen, "l", ":5001", "the UDP address to listen at")
	flag.StringVar(&backend, "b", "localhost:15001", "the UDP backend to forward to")
	flag.Float64Var(&loss, "loss", 0.2, "the probability to drop a packet")
	flag.Float64Var(&corrupt, "corrupt", 0.1, "the probability to flip a byte of a packet")
	flag.Float64Var(&duplicate, "dup", 0, "the probability to duplicate a packet")
	flag.IntVar(&jitter, "jitter", 0, "the max random delay in ms, reorders the packets")
	flag.Int64Var(&seed, "seed", 12345, "the seed of the impairment")
	flag.Parse()

	hashID := buildHashID()

	imp, err := link.NewImpairment(link.ImpairmentConfig{
		Loss: loss, Corrupt: corrupt, Duplicate: duplicate,
		Jitter: time.Duration(jitter) * time.Millisecond,
	}, mrand.New(mrand.NewSource(seed)))
	if err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", backend)
	if err != nil {
		return err
	}

	listener, err := net.ListenPacket("udp", listen)
	if err != nil {
		return err
	}
	trace(hashID, "Listen at %v, backend %v, %v, seed=%v", listener.LocalAddr(), addr, imp.Config(), seed)

	sessions := make(map[string]*session)
	for {
		buf := make([]byte, 65536)
		nn, client, err := listener.ReadFrom(buf)
		if err != nil {
			return err
		}

		s, ok := sessions[client.String()]
		if !ok {
			conn, err := net.DialUDP("udp", nil, addr)
			if err != nil {
				return err
			}

			s = &session{hashID: buildHashID(), imp: imp, listener: listener, client: client, backend: conn}
			sessions[client.String()] = s
			go s.serve()
		}

		s.forward(buf[:nn], func(b []byte) error {
			_, err := s.backend.Write(b)
			return err
		})
	}
}

// session relays the packets of one client, impaired in both directions.
type session struct {
	hashID   string
	imp      *link.Impairment
	listener net.PacketConn
	client   net.Addr
	backend  *net.UDPConn
	packets  uint64
	lock     sync.Mutex
}

func (v *session) serve() {
	defer v.backend.Close()
	trace(v.hashID, "Start proxing client %v over %v to backend %v",
		v.client, v.backend.LocalAddr(), v.backend.RemoteAddr())

	for {
		buf := make([]byte, 65536)
		nn, err := v.backend.Read(buf)
		if err != nil {
			// Connection refused until the backend is up.
			trace(v.hashID, "Read from backend error %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		v.forward(buf[:nn], func(b []byte) error {
			_, err := v.listener.WriteTo(b, v.client)
			return err
		})
	}
}

func (v *session) forward(b []byte, write func(b []byte) error) {
	v.lock.Lock()
	v.packets++
	n := v.packets
	v.lock.Unlock()

	copies := v.imp.Apply(b)
	if len(copies) == 0 {
		trace(v.hashID, "#%v Drop %v bytes, %v", n, len(b), v.imp.Stats())
		return
	}

	for _, c := range copies {
		c := c
		send := func() {
			if err := write(c); err != nil {
				trace(v.hashID, "#%v Write error %v", n, err)
			}
		}

		if d := v.imp.Delay(); d > 0 {
			time.AfterFunc(d, send)
		} else {
			send()
		}
	}
}

func trace(id, msg string, a ...interface{}) {
	fmt.Println(fmt.Sprintf("[%v][%v] %v",
		time.Now().Format("2006-01-02 15:04:05.000"), id,
		fmt.Sprintf(msg, a...),
	))
}

func buildHashID() string {
	randomData := make([]byte, 16)
	if _, err := rand.Read(randomData); err != nil {
		return ""
	}

	hash := sha256.Sum256(randomData)
	return hex.EncodeToString(hash[:])[:6]
}
