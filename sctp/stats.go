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
	"fmt"
	"time"
)

// Stats is a snapshot of the counters of an association.
type Stats struct {
	State State `json:"state"`

	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	// Packets dropped for a checksum mismatch.
	PacketsCorrupt uint64 `json:"packets_corrupt"`
	// Packets dropped because they did not decode.
	PacketsMalformed uint64 `json:"packets_malformed"`
	// Packets dropped for a wrong tag or port, or unexpected in the state.
	PacketsDropped uint64 `json:"packets_dropped"`

	DataSent        uint64 `json:"data_sent"`
	DataReceived    uint64 `json:"data_received"`
	Retransmissions uint64 `json:"retransmissions"`
	DuplicateData   uint64 `json:"duplicate_data"`
	// DATA refused while our receive window was closed.
	DataRefused   uint64 `json:"data_refused"`
	SacksSent     uint64 `json:"sacks_sent"`
	SacksReceived uint64 `json:"sacks_received"`
	StaleSacks    uint64 `json:"stale_sacks"`
	Timeouts      uint64 `json:"timeouts"`

	MessagesSent      uint64 `json:"messages_sent"`
	MessagesDelivered uint64 `json:"messages_delivered"`

	Outstanding int `json:"outstanding"`
	Pending     int `json:"pending"`
	Buffered    int `json:"buffered"`
	// Bytes of messages delivered and not yet consumed by the application.
	Backlog int `json:"backlog"`
	// Our receive window, and what is left of the peer's.
	Rwnd     uint32        `json:"rwnd"`
	PeerRwnd uint32        `json:"peer_rwnd"`
	RTO      time.Duration `json:"rto"`
	SRTT     time.Duration `json:"srtt"`
}

func (v Stats) String() string {
	return fmt.Sprintf("state=%v, pkts=%v/%v, corrupt=%v, malformed=%v, dropped=%v, data=%v/%v, rtx=%v, dup=%v, refused=%v, sacks=%v/%v, "+
		"timeouts=%v, msgs=%v/%v, outstanding=%v, pending=%v, backlog=%v, rwnd=%v/%v, rto=%v, srtt=%v",
		v.State, v.PacketsSent, v.PacketsReceived, v.PacketsCorrupt, v.PacketsMalformed, v.PacketsDropped,
		v.DataSent, v.DataReceived, v.Retransmissions, v.DuplicateData, v.DataRefused, v.SacksSent, v.SacksReceived,
		v.Timeouts, v.MessagesSent, v.MessagesDelivered, v.Outstanding, v.Pending, v.Backlog, v.Rwnd, v.PeerRwnd, v.RTO, v.SRTT)
}
