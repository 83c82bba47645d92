// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package capture implements libpcap-backed packet capture: a
// fixed-size ring buffer tagged per survey session, and PCAP file
// export compatible with Wireshark/tcpdump.
package capture

import "sync"

// Packet is a single captured frame with libpcap-style timestamp
// metadata.
type Packet struct {
	TsSec           int64
	TsUsec          int64
	OrigLen         uint32
	Data            []byte
	SurveySessionID string
}

// Stats summarizes the ring buffer's occupancy.
type Stats struct {
	PacketsInBuffer int    `json:"packets_in_buffer"`
	MaxPackets      int    `json:"max_packets"`
	TotalCaptured   uint64 `json:"total_captured"`
	Snaplen         uint32 `json:"snaplen"`
}

// RingBuffer stores the most recent MaxPackets captured frames,
// overwriting the oldest entry once full.
type RingBuffer struct {
	mu            sync.RWMutex
	maxPackets    int
	snaplen       int32
	packets       []Packet
	writePos      int
	totalCaptured uint64
	datalink      int
}

// NewRingBuffer creates a RingBuffer with the given capacity and
// snapshot length. The default datalink is 1 (DLT_EN10MB / Ethernet),
// matching libpcap's convention, until SetDatalink overrides it.
func NewRingBuffer(maxPackets int, snaplen int32) *RingBuffer {
	return &RingBuffer{
		maxPackets: maxPackets,
		snaplen:    snaplen,
		datalink:   1,
	}
}

// SetDatalink records the link-layer type reported by the capture
// device, used when writing the PCAP global header.
func (r *RingBuffer) SetDatalink(datalink int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.datalink = datalink
}

// Datalink returns the currently recorded link-layer type.
func (r *RingBuffer) Datalink() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.datalink
}

// Add appends a packet to the buffer, overwriting the oldest entry
// once the buffer reaches MaxPackets.
func (r *RingBuffer) Add(p Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.packets) < r.maxPackets {
		r.packets = append(r.packets, p)
	} else {
		r.packets[r.writePos] = p
	}
	r.writePos = (r.writePos + 1) % r.maxPackets
	r.totalCaptured++
}

// Packets returns all buffered packets in chronological order.
func (r *RingBuffer) Packets() []Packet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.packetsLocked()
}

func (r *RingBuffer) packetsLocked() []Packet {
	if len(r.packets) < r.maxPackets {
		out := make([]Packet, len(r.packets))
		copy(out, r.packets)
		return out
	}
	out := make([]Packet, 0, len(r.packets))
	out = append(out, r.packets[r.writePos:]...)
	out = append(out, r.packets[:r.writePos]...)
	return out
}

// PacketsForSession returns chronologically ordered packets tagged
// with the given survey session ID.
func (r *RingBuffer) PacketsForSession(surveySessionID string) []Packet {
	all := r.Packets()
	out := make([]Packet, 0, len(all))
	for _, p := range all {
		if p.SurveySessionID == surveySessionID {
			out = append(out, p)
		}
	}
	return out
}

// StatsSnapshot reports the buffer's current occupancy.
func (r *RingBuffer) StatsSnapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		PacketsInBuffer: len(r.packets),
		MaxPackets:      r.maxPackets,
		TotalCaptured:   r.totalCaptured,
		Snaplen:         uint32(r.snaplen),
	}
}

// Clear empties the buffer. TotalCaptured is intentionally left
// untouched: it tracks packets captured over the service's lifetime,
// not since the last clear.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = nil
	r.writePos = 0
}
