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
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
)

func main() {
	ctx := logger.WithContext(context.Background())

	// Install signals.
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for s := range sc {
			logger.Tf(ctx, "Got signal %v", s)
			cancel()
		}
	}()

	if err := loadEnvFile(ctx); err != nil {
		logger.Ef(ctx, "load env err %+v", err)
		os.Exit(-1)
	}
	setupDefaultEnv(ctx)

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if err != flag.ErrHelp {
			logger.Ef(ctx, "parse options err %+v", err)
		}
		os.Exit(-1)
	}
	logger.Tf(ctx, "Start benchmark with %v", opts)

	// Ignore the user cancel error.
	if err := doBench(ctx, opts); err != nil && ctx.Err() != context.Canceled {
		logger.Ef(ctx, "bench err %+v", err)
		os.Exit(-1)
	}

	logger.Tf(ctx, "Benchmark done")
}

type benchOptions struct {
	transfers  int
	size       int
	seed       int64
	loss       float64
	corrupt    float64
	duplicate  float64
	jitter     time.Duration
	mode       string
	streamID   int
	unordered  bool
	rto        time.Duration
	mtu        int
	timeout    time.Duration
	statListen string
	pcapFile   string

	redisAddr     string
	redisPassword string
	redisDB       int
	redisKey      string
}

func (v *benchOptions) String() string {
	return fmt.Sprintf("n=%v, size=%v, seed=%v, loss=%v, corrupt=%v, dup=%v, jitter=%v, mode=%v, stream=%v, "+
		"unordered=%v, rto=%v, mtu=%v, timeout=%v, stat=%v, pcap=%v, redis=%v/%v/%v",
		v.transfers, v.size, v.seed, v.loss, v.corrupt, v.duplicate, v.jitter, v.mode, v.streamID,
		v.unordered, v.rto, v.mtu, v.timeout, v.statListen, v.pcapFile, v.redisAddr, v.redisDB, v.redisKey)
}

func parseOptions(args []string) (*benchOptions, error) {
	v := &benchOptions{
		redisAddr:     os.Getenv("SCTP_BENCH_REDIS"),
		redisPassword: os.Getenv("SCTP_BENCH_REDIS_PASSWORD"),
		redisKey:      os.Getenv("SCTP_BENCH_REDIS_KEY"),
	}

	var err error
	if v.loss, err = strconv.ParseFloat(os.Getenv("SCTP_BENCH_LOSS"), 64); err != nil {
		return nil, errors.Wrapf(err, "SCTP_BENCH_LOSS")
	}
	if v.corrupt, err = strconv.ParseFloat(os.Getenv("SCTP_BENCH_CORRUPT"), 64); err != nil {
		return nil, errors.Wrapf(err, "SCTP_BENCH_CORRUPT")
	}
	if v.seed, err = strconv.ParseInt(os.Getenv("SCTP_BENCH_SEED"), 10, 64); err != nil {
		return nil, errors.Wrapf(err, "SCTP_BENCH_SEED")
	}
	if v.redisDB, err = strconv.Atoi(os.Getenv("SCTP_BENCH_REDIS_DB")); err != nil {
		return nil, errors.Wrapf(err, "SCTP_BENCH_REDIS_DB")
	}

	var jitter, rto, timeout int
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.IntVar(&v.transfers, "n", 10, "")
	fs.IntVar(&v.size, "size", 2048, "")
	fs.Int64Var(&v.seed, "seed", v.seed, "")
	fs.Float64Var(&v.loss, "loss", v.loss, "")
	fs.Float64Var(&v.corrupt, "corrupt", v.corrupt, "")
	fs.Float64Var(&v.duplicate, "dup", 0, "")
	fs.IntVar(&jitter, "jitter", 0, "")
	fs.StringVar(&v.mode, "mode", "lossy", "")
	fs.IntVar(&v.streamID, "stream", 0, "")
	fs.BoolVar(&v.unordered, "unordered", false, "")
	fs.IntVar(&rto, "rto", 100, "")
	fs.IntVar(&v.mtu, "mtu", 1200, "")
	fs.IntVar(&timeout, "timeout", 60000, "")
	fs.StringVar(&v.statListen, "stat", "", "")
	fs.StringVar(&v.pcapFile, "pcap", "", "")
	fs.StringVar(&v.redisAddr, "redis", v.redisAddr, "")

	fs.Usage = func() {
		fmt.Println(fmt.Sprintf("Usage: %v [Options]", os.Args[0]))
		fmt.Println(fmt.Sprintf("Options:"))
		fmt.Println(fmt.Sprintf("   -n          The number of messages to transfer, each waits for the previous. Default: 10"))
		fmt.Println(fmt.Sprintf("   -size       The bytes of each message. Default: 2048"))
		fmt.Println(fmt.Sprintf("   -mode       The path between the associations, lossy, vnet or proxy. Default: lossy"))
		fmt.Println(fmt.Sprintf("   -stream     [Optional] The stream id. Default: 0"))
		fmt.Println(fmt.Sprintf("   -unordered  [Optional] Whether send unordered messages. Default: false"))
		fmt.Println(fmt.Sprintf("   -rto        [Optional] The initial RTO in ms. Default: 100"))
		fmt.Println(fmt.Sprintf("   -mtu        [Optional] The MTU, larger messages are fragmented. Default: 1200"))
		fmt.Println(fmt.Sprintf("   -timeout    [Optional] The timeout of the whole run in ms. Default: 60000"))
		fmt.Println(fmt.Sprintf("Impairment:"))
		fmt.Println(fmt.Sprintf("   -seed       The seed of the random source. Env: SCTP_BENCH_SEED. Default: 12345"))
		fmt.Println(fmt.Sprintf("   -loss       The loss probability. Env: SCTP_BENCH_LOSS. Default: 0.2"))
		fmt.Println(fmt.Sprintf("   -corrupt    The corruption probability. Env: SCTP_BENCH_CORRUPT. Default: 0.1"))
		fmt.Println(fmt.Sprintf("   -dup        [Optional] The duplication probability, lossy mode only. Default: 0"))
		fmt.Println(fmt.Sprintf("   -jitter     [Optional] The max jitter in ms. Default: 0"))
		fmt.Println(fmt.Sprintf("Report:"))
		fmt.Println(fmt.Sprintf("   -stat       [Optional] The stat server API listen port."))
		fmt.Println(fmt.Sprintf("   -pcap       [Optional] The file to capture the packets of both sides."))
		fmt.Println(fmt.Sprintf("   -redis      [Optional] The redis server to report to. Env: SCTP_BENCH_REDIS"))
		fmt.Println(fmt.Sprintf("\nFor example, transfer 10 messages over a lossy link:"))
		fmt.Println(fmt.Sprintf("   %v -n 10 -size 2048 -loss 0.2 -corrupt 0.1", os.Args[0]))
		fmt.Println(fmt.Sprintf("\nFor example, over a pion vnet router with jitter, capture to a file:"))
		fmt.Println(fmt.Sprintf("   %v -mode vnet -jitter 10 -pcap t.pcap", os.Args[0]))
		fmt.Println(fmt.Sprintf("\nFor example, between a vnet host and a real UDP socket:"))
		fmt.Println(fmt.Sprintf("   %v -mode proxy -stat 8090", os.Args[0]))
		fmt.Println()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v.jitter = time.Duration(jitter) * time.Millisecond
	v.rto = time.Duration(rto) * time.Millisecond
	v.timeout = time.Duration(timeout) * time.Millisecond

	if v.statListen != "" && !strings.Contains(v.statListen, ":") {
		v.statListen = ":" + v.statListen
	}

	if v.transfers <= 0 || v.size <= 0 {
		return nil, errors.Errorf("invalid n=%v, size=%v", v.transfers, v.size)
	}
	if v.mode != "lossy" && v.mode != "vnet" && v.mode != "proxy" {
		return nil, errors.Errorf("invalid mode %v", v.mode)
	}
	if v.streamID < 0 || v.streamID > 0xffff {
		return nil, errors.Errorf("invalid stream %v", v.streamID)
	}
	if v.rto <= 0 || v.timeout <= 0 {
		return nil, errors.Errorf("invalid rto=%v, timeout=%v", v.rto, v.timeout)
	}
	return v, nil
}
