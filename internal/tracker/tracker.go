// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package tracker correlates outbound UDP probe/bulk packets with the
// ICMP errors they provoke, so that routers reporting "destination
// unreachable" or "time exceeded" can be tied back to the packet that
// triggered them.
package tracker

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/pkg/protocol"
)

// PacketKey uniquely identifies a tracked packet by destination
// address and UDP datagram length (header + payload). Two in-flight
// packets to the same destination of the same length collide; this
// mirrors the probe/bulk transmission pattern where collisions are
// rare and tolerable.
type PacketKey struct {
	DestAddr  netip.AddrPort
	UdpLength uint16
}

// TrackedPacket is a single in-flight packet awaiting either
// expiration or a matching ICMP error.
type TrackedPacket struct {
	Cleartext   []byte
	UdpPacket   []byte
	SentAt      time.Time
	ExpiresAt   time.Time
	SendOptions protocol.SendOptions
	DestAddr    netip.AddrPort
	SrcPort     uint16
	ConnID      string
}

// EmbeddedUdpInfo is the UDP header data recovered from the payload of
// an ICMP error message.
type EmbeddedUdpInfo struct {
	SrcPort   uint16
	DestAddr  netip.AddrPort
	UdpLength uint16
}

// CleanupCallback is invoked with the destination address whose
// unmatched-ICMP-error count has reached the configured threshold.
type CleanupCallback func(destAddr netip.AddrPort)

type unmatchedErrors struct {
	count       int
	lastErrorAt time.Time
}

// Tracker tracks outbound packets for ICMP correlation and escalates
// destinations that accumulate unmatched ICMP errors.
type Tracker struct {
	mu             sync.Mutex
	tracked        map[PacketKey]TrackedPacket
	unmatched      map[netip.AddrPort]*unmatchedErrors
	errorThreshold int
	unmatchedTTL   time.Duration

	eventsMu sync.Mutex
	events   []protocol.TrackedPacketEvent

	cleanupMu sync.Mutex
	cleanup   CleanupCallback

	eventCBMu sync.Mutex
	eventCB   EventCallback
}

// EventCallback is invoked, in addition to the event being queued for
// DrainEvents, every time an ICMP error is matched to a tracked
// packet. The traceroute round emitter subscribes through this so it
// can observe its own in-flight probes without competing with the
// HTTP tracking-events endpoint for the shared queue.
type EventCallback func(protocol.TrackedPacketEvent)

// New creates a Tracker with the given escalation threshold and
// unmatched-error pruning TTL.
func New(errorThreshold int, unmatchedTTL time.Duration) *Tracker {
	return &Tracker{
		tracked:        make(map[PacketKey]TrackedPacket),
		unmatched:      make(map[netip.AddrPort]*unmatchedErrors),
		errorThreshold: errorThreshold,
		unmatchedTTL:   unmatchedTTL,
	}
}

// SetCleanupCallback registers the callback fired when a destination's
// unmatched ICMP error count reaches the threshold.
func (t *Tracker) SetCleanupCallback(cb CleanupCallback) {
	t.cleanupMu.Lock()
	defer t.cleanupMu.Unlock()
	t.cleanup = cb
}

// SetEventCallback registers the callback fired whenever a tracked
// packet is matched to an ICMP error, alongside (not instead of) the
// normal event queue.
func (t *Tracker) SetEventCallback(cb EventCallback) {
	t.eventCBMu.Lock()
	defer t.eventCBMu.Unlock()
	t.eventCB = cb
}

// Run starts the 1Hz expiry sweep. It blocks until ctx is canceled.
func (t *Tracker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Debug("tracker expiry sweep started")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.cleanupExpired()
			t.cleanupOldErrors()
		}
	}
}

// TrackPacket records a packet for ICMP correlation. A SendOptions
// with TrackForMs == 0 is a no-op, matching the opt-in tracking model.
func (t *Tracker) TrackPacket(connID string, cleartext, udpPacket []byte, srcPort uint16, destAddr netip.AddrPort, udpLength uint16, opts protocol.SendOptions) {
	if opts.TrackForMs == 0 {
		return
	}

	now := time.Now()
	tracked := TrackedPacket{
		Cleartext:   cleartext,
		UdpPacket:   udpPacket,
		SentAt:      now,
		ExpiresAt:   now.Add(time.Duration(opts.TrackForMs) * time.Millisecond),
		SendOptions: opts,
		DestAddr:    destAddr,
		SrcPort:     srcPort,
		ConnID:      connID,
	}

	key := PacketKey{DestAddr: destAddr, UdpLength: udpLength}

	t.mu.Lock()
	t.tracked[key] = tracked
	t.mu.Unlock()
}

// MatchIcmpError attempts to correlate an ICMP error with a tracked
// packet. On a match, the tracked packet is removed, the destination's
// unmatched-error count is reset, and a TrackedPacketEvent is queued.
// On a miss, the destination's unmatched-error count is incremented.
func (t *Tracker) MatchIcmpError(icmpPacket []byte, embedded EmbeddedUdpInfo, routerIP *string) {
	key := PacketKey{DestAddr: embedded.DestAddr, UdpLength: embedded.UdpLength}

	t.mu.Lock()
	tracked, ok := t.tracked[key]
	if ok {
		delete(t.tracked, key)
	}
	t.mu.Unlock()

	if !ok {
		t.handleUnmatchedIcmpError(embedded.DestAddr)
		return
	}

	t.mu.Lock()
	delete(t.unmatched, embedded.DestAddr)
	t.mu.Unlock()

	event := protocol.TrackedPacketEvent{
		IcmpPacket:       icmpPacket,
		UdpPacket:        tracked.UdpPacket,
		Cleartext:        tracked.Cleartext,
		SentAt:           tracked.SentAt.UnixMilli(),
		IcmpReceivedAtMs: time.Now().UnixMilli(),
		SendOptions:      tracked.SendOptions,
		RouterIP:         routerIP,
		ConnID:           tracked.ConnID,
		OriginalSrcPort:  tracked.SrcPort,
		OriginalDestAddr: tracked.DestAddr.String(),
	}

	t.eventsMu.Lock()
	t.events = append(t.events, event)
	t.eventsMu.Unlock()

	t.eventCBMu.Lock()
	cb := t.eventCB
	t.eventCBMu.Unlock()
	if cb != nil {
		cb(event)
	}
}

// DrainEvents returns and clears all queued matched-ICMP events.
func (t *Tracker) DrainEvents() []protocol.TrackedPacketEvent {
	t.eventsMu.Lock()
	defer t.eventsMu.Unlock()
	events := t.events
	t.events = nil
	return events
}

// TrackedCount returns the number of packets currently awaiting match
// or expiry.
func (t *Tracker) TrackedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

// QueuedEventCount returns the number of matched events currently
// waiting to be drained, without consuming them. Used by the
// tracking-stats HTTP endpoint alongside TrackedCount.
func (t *Tracker) QueuedEventCount() int {
	t.eventsMu.Lock()
	defer t.eventsMu.Unlock()
	return len(t.events)
}

func (t *Tracker) handleUnmatchedIcmpError(destAddr netip.AddrPort) {
	t.mu.Lock()
	info, ok := t.unmatched[destAddr]
	if !ok {
		info = &unmatchedErrors{}
		t.unmatched[destAddr] = info
	}
	info.count++
	info.lastErrorAt = time.Now()
	count := info.count
	if count >= t.errorThreshold {
		delete(t.unmatched, destAddr)
	}
	t.mu.Unlock()

	if count >= t.errorThreshold {
		t.cleanupMu.Lock()
		cb := t.cleanup
		t.cleanupMu.Unlock()
		if cb != nil {
			cb(destAddr)
		}
	}
}

func (t *Tracker) cleanupExpired() {
	now := time.Now()
	t.mu.Lock()
	for k, v := range t.tracked {
		if !v.ExpiresAt.After(now) {
			delete(t.tracked, k)
		}
	}
	t.mu.Unlock()
}

func (t *Tracker) cleanupOldErrors() {
	now := time.Now()
	t.mu.Lock()
	for k, v := range t.unmatched {
		if now.Sub(v.lastErrorAt) >= t.unmatchedTTL {
			delete(t.unmatched, k)
		}
	}
	t.mu.Unlock()
}
