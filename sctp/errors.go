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
	"github.com/ossrs/go-oryx-lib/errors"
)

var (
	// ErrNotConnected is returned by any operation the current state does not
	// allow, and by everything once the association is closed.
	ErrNotConnected = errors.New("association not connected")
	// ErrPeerAborted is the terminal error after the peer sent ABORT.
	ErrPeerAborted = errors.New("association aborted by peer")
	// ErrMaxRetransmitsExceeded is the terminal error when a chunk is never
	// acknowledged.
	ErrMaxRetransmitsExceeded = errors.New("max retransmits exceeded")
	// ErrDuplicateChunk marks a DATA chunk received twice. It is only logged.
	ErrDuplicateChunk  = errors.New("duplicate chunk")
	ErrMessageTooLarge = errors.New("message too large")
	ErrEmptyPayload    = errors.New("empty payload")
	ErrInvalidConfig   = errors.New("invalid config")
)
