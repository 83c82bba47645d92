// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"sync"

	"github.com/netpoke/netpoke/internal/helper"
	"github.com/netpoke/netpoke/internal/tracker"
	"github.com/netpoke/netpoke/pkg/config"
	"github.com/netpoke/netpoke/pkg/protocol"
)

// Orchestrator owns the resources shared across every session: the
// session table, the packet tracker used for traceroute/MTU
// correlation, and the instrumented UDP send layer. Per-session state
// lives on the Session itself.
type Orchestrator struct {
	Table   *Table
	Tracker *tracker.Tracker
	sender  *udpSender

	MagicKeys config.MagicKeyConfig
	// MagicKeyForSession resolves a session's magic key from its
	// survey_session_id, typically backed by pkg/store's survey_sessions
	// table. A nil func (or one returning "") falls back to
	// MagicKeys.MaxMeasuringTimeSeconds, the global default.
	MagicKeyForSession func(surveySessionID string) string

	// ProbeRetry governs probeHop's retry/backoff around the UDP send
	// that launches each traceroute/MTU probe, covering the kernel
	// occasionally returning a transient error (e.g. ENOBUFS) under
	// load.
	ProbeRetry helper.RetryConfig

	// icmpWaiters holds one entry per in-flight traceroute/MTU probe
	// awaiting either its ICMP match, keyed by "dest_addr|udp_length"
	// (see icmpWaiterKey), populated by the tracker's event callback.
	icmpWaiters sync.Map
}

// NewOrchestrator wires a fresh Orchestrator, opening the shared UDP
// send socket traceroute and MTU rounds use and subscribing to the
// tracker's matched-event callback.
func NewOrchestrator(table *Table, trk *tracker.Tracker, magicKeys config.MagicKeyConfig, probeRetry helper.RetryConfig) (*Orchestrator, error) {
	sender, err := newUDPSender()
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	o := &Orchestrator{
		Table:      table,
		Tracker:    trk,
		sender:     sender,
		MagicKeys:  magicKeys,
		ProbeRetry: probeRetry,
	}
	trk.SetEventCallback(o.onTrackedEvent)
	return o, nil
}

// maxMeasuringTimeMs returns the measuring-time ceiling for s's survey
// session, in milliseconds, as answered by GetMeasuringTime.
func (o *Orchestrator) maxMeasuringTimeMs(s *Session) uint64 {
	var magicKey string
	if o.MagicKeyForSession != nil {
		magicKey = o.MagicKeyForSession(s.SurveyID())
	}
	return o.MagicKeys.GetMaxMeasuringTimeSeconds(magicKey) * 1000
}

// onTrackedEvent delivers a matched ICMP event to the traceroute round
// awaiting it, identified by the same (dest_addr, udp_length) key the
// tracker itself uses. An event with no waiter (already timed out, or
// tracking requested outside a traceroute round) is left for
// DrainEvents' HTTP consumer alone.
func (o *Orchestrator) onTrackedEvent(ev protocol.TrackedPacketEvent) {
	length := udpLengthFromFrame(ev.UdpPacket)
	key := icmpWaiterKey(ev.OriginalDestAddr, length)
	v, ok := o.icmpWaiters.Load(key)
	if !ok {
		return
	}
	ch := v.(chan protocol.TrackedPacketEvent)
	select {
	case ch <- ev:
	default:
	}
}

// Close releases resources held by the orchestrator.
func (o *Orchestrator) Close() error {
	return o.sender.Close()
}
