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

package sctp

import (
	"context"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/srs-sctp/chunk"
	"github.com/pion/logging"
)

const (
	defaultMTU                = 1200
	defaultMaxMessageSize     = 256 * 1024
	defaultRTOInitial         = time.Second
	defaultRTOMin             = 200 * time.Millisecond
	defaultRTOMax             = 10 * time.Second
	defaultMaxRetransmits     = 10
	defaultMaxInitRetransmits = 8
	defaultMaxBurst           = 4
	defaultMaxOutstanding     = 64
	defaultReceiveBuffer      = 64
	defaultCookieLifetime     = 60 * time.Second
	defaultCloseTimeout       = 5 * time.Second
	defaultRwnd               = 1024 * 1024
	maxStreams                = 0xffff
)

// Config of an association. The zero value of every field but LocalPort
// selects a default.
type Config struct {
	// LocalPort is the source port of every packet we send, must not be zero.
	LocalPort uint16
	// MTU bounds the packet size, messages above one packet are fragmented.
	MTU int
	// MaxMessageSize bounds a single Send.
	MaxMessageSize int

	// The retransmission timeout starts at RTOInitial, then follows the
	// measured RTT clamped to [RTOMin, RTOMax]. Each timeout doubles it.
	RTOInitial time.Duration
	RTOMin     time.Duration
	RTOMax     time.Duration
	// MaxRetransmits bounds the retransmissions of one DATA or SHUTDOWN.
	MaxRetransmits int
	// MaxInitRetransmits bounds the retransmissions of INIT and COOKIE-ECHO.
	MaxInitRetransmits int
	// MaxBurst is how many chunks a single timeout retransmits.
	MaxBurst int
	// MaxOutstanding is the number of DATA chunks in flight, the rest wait
	// in a pending queue.
	MaxOutstanding int

	// SackDelay batches acknowledgements, zero acknowledges every packet.
	// Gaps and duplicates are always acknowledged at once.
	SackDelay time.Duration

	// ReceiveBuffer is the capacity of the channel behind ReadMessage.
	ReceiveBuffer int
	// CookieLifetime is how long a state cookie stays valid.
	CookieLifetime time.Duration
	// CloseTimeout bounds the graceful close of Close, then it aborts.
	CloseTimeout time.Duration

	// LoggerFactory creates the chunk level tracer, scope "sctp".
	LoggerFactory logging.LoggerFactory
	// Context is the parent of the association log context.
	Context context.Context
}

func (v *Config) setDefaults() {
	if v.MTU == 0 {
		v.MTU = defaultMTU
	}
	if v.MaxMessageSize == 0 {
		v.MaxMessageSize = defaultMaxMessageSize
	}
	if v.RTOInitial == 0 {
		v.RTOInitial = defaultRTOInitial
	}
	if v.RTOMin == 0 {
		v.RTOMin = defaultRTOMin
		if v.RTOMin > v.RTOInitial {
			v.RTOMin = v.RTOInitial
		}
	}
	if v.RTOMax == 0 {
		v.RTOMax = defaultRTOMax
		if v.RTOMax < v.RTOInitial {
			v.RTOMax = v.RTOInitial
		}
	}
	if v.MaxRetransmits == 0 {
		v.MaxRetransmits = defaultMaxRetransmits
	}
	if v.MaxInitRetransmits == 0 {
		v.MaxInitRetransmits = defaultMaxInitRetransmits
	}
	if v.MaxBurst == 0 {
		v.MaxBurst = defaultMaxBurst
	}
	if v.MaxOutstanding == 0 {
		v.MaxOutstanding = defaultMaxOutstanding
	}
	if v.ReceiveBuffer == 0 {
		v.ReceiveBuffer = defaultReceiveBuffer
	}
	if v.CookieLifetime == 0 {
		v.CookieLifetime = defaultCookieLifetime
	}
	if v.CloseTimeout == 0 {
		v.CloseTimeout = defaultCloseTimeout
	}
	if v.LoggerFactory == nil {
		v.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if v.Context == nil {
		v.Context = context.Background()
	}
}

func (v *Config) validate() error {
	if v.LocalPort == 0 {
		return errors.Wrapf(ErrInvalidConfig, "local port 0")
	}
	if v.MTU > 0xffff || chunk.MaxDataPayload(v.MTU) <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "mtu %v", v.MTU)
	}
	if v.MaxMessageSize < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max message size %v", v.MaxMessageSize)
	}
	if v.RTOMin < 0 || v.RTOMin > v.RTOInitial || v.RTOInitial > v.RTOMax {
		return errors.Wrapf(ErrInvalidConfig, "rto min=%v initial=%v max=%v", v.RTOMin, v.RTOInitial, v.RTOMax)
	}
	if v.MaxRetransmits < 0 || v.MaxInitRetransmits < 0 {
		return errors.Wrapf(ErrInvalidConfig, "retransmits %v init %v", v.MaxRetransmits, v.MaxInitRetransmits)
	}
	if v.MaxBurst < 0 || v.MaxOutstanding < 0 || v.ReceiveBuffer < 0 {
		return errors.Wrapf(ErrInvalidConfig, "burst=%v, outstanding=%v, buffer=%v",
			v.MaxBurst, v.MaxOutstanding, v.ReceiveBuffer)
	}
	if v.SackDelay < 0 || v.CookieLifetime < 0 || v.CloseTimeout < 0 {
		return errors.Wrapf(ErrInvalidConfig, "sack delay=%v, cookie=%v, close=%v",
			v.SackDelay, v.CookieLifetime, v.CloseTimeout)
	}
	return nil
}
