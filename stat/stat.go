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

// Package stat collects the counters of a bench run, for the HTTP API and the
// redis report.
package stat

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/logger"
)

// Report is a snapshot of a run.
type Report struct {
	Transfers struct {
		Expect int `json:"expect"`
		Done   int `json:"done"`
	} `json:"transfers"`
	Bytes   uint64 `json:"bytes"`
	Elapsed string `json:"elapsed"`
	// key is the source name, like the association or the link.
	Sources map[string]interface{} `json:"sources"`
}

// Stat is safe for concurrent use.
type Stat struct {
	lock      sync.Mutex
	starttime time.Time
	expect    int
	done      int
	bytes     uint64
	sources   map[string]func() interface{}
}

func NewStat() *Stat {
	return &Stat{starttime: time.Now(), sources: make(map[string]func() interface{})}
}

func (v *Stat) Expect(n int) {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.expect = n
}

// Done counts a transfer of n bytes.
func (v *Stat) Done(n int) {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.done++
	v.bytes += uint64(n)
}

// Register adds a source, called for each snapshot.
func (v *Stat) Register(name string, source func() interface{}) {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.sources[name] = source
}

func (v *Stat) Snapshot() *Report {
	v.lock.Lock()
	r := &Report{Bytes: v.bytes, Elapsed: time.Since(v.starttime).String(), Sources: make(map[string]interface{})}
	r.Transfers.Expect, r.Transfers.Done = v.expect, v.done

	var names []string
	sources := make(map[string]func() interface{})
	for name, source := range v.sources {
		names = append(names, name)
		sources[name] = source
	}
	v.lock.Unlock()

	// The sources take their own locks.
	sort.Strings(names)
	for _, name := range names {
		r.Sources[name] = sources[name]()
	}
	return r
}

func HandleStat(ctx context.Context, mux *http.ServeMux, l string, stat *Stat) {
	if strings.HasPrefix(l, ":") {
		l = "127.0.0.1" + l
	}

	logger.Tf(ctx, "Handle http://%v/api/v1/sctp/stat", l)
	mux.HandleFunc("/api/v1/sctp/stat", func(w http.ResponseWriter, r *http.Request) {
		res := &struct {
			Code int         `json:"code"`
			Data interface{} `json:"data"`
		}{
			0, stat.Snapshot(),
		}

		b, err := json.Marshal(res)
		if err != nil {
			logger.Wf(ctx, "marshal %v err %+v", res, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})
}
