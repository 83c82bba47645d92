// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/pkg/protocol"
)

// handleProbeMessage records a received probe packet. A packet whose
// direction is still ServerToClient is the client echoing one of the
// server's own probes, so its age is a full round trip; anything else
// is the client's own probe cadence, recorded as one-way
// client-to-server delay.
func (o *Orchestrator) handleProbeMessage(ctx context.Context, s *Session, data []byte) {
	var p protocol.ProbePacket
	if err := json.Unmarshal(data, &p); err != nil {
		logger.FromContext(ctx).Debug("malformed probe packet, dropping", "session", s.ID, "error", err)
		return
	}
	if p.Direction == protocol.DirectionServerToClient {
		s.Measurement.RoundTrip.RecordProbe(p.Seq, p.TimestampMs, time.Now())
		return
	}
	s.Measurement.ClientToServer.RecordProbe(p.Seq, p.TimestampMs, time.Now())
}

// handleBulkMessage records a received bulk chunk's size into the
// client-to-server throughput engine.
func (o *Orchestrator) handleBulkMessage(ctx context.Context, s *Session, data []byte) {
	var b protocol.BulkPacket
	if err := json.Unmarshal(data, &b); err != nil {
		logger.FromContext(ctx).Debug("malformed bulk packet, dropping", "session", s.ID, "error", err)
		return
	}
	s.Measurement.ClientToServer.RecordBulk(uint64(len(b.Data)), time.Now())
}

// handleTestProbeMessage delivers an echoed test-probe to whichever
// traceroute/MTU round is waiting on its test_seq, if any. A test
// probe arriving with no waiter (already timed out, or the client
// echoing speculatively) is silently dropped.
func (o *Orchestrator) handleTestProbeMessage(ctx context.Context, s *Session, data []byte) {
	var p protocol.TestProbePacket
	if err := json.Unmarshal(data, &p); err != nil {
		logger.FromContext(ctx).Debug("malformed test probe packet, dropping", "session", s.ID, "error", err)
		return
	}

	v, ok := s.testProbeWaiters.LoadAndDelete(p.TestSeq)
	if !ok {
		return
	}
	ch := v.(chan time.Time)
	select {
	case ch <- time.Now():
	default:
	}
}
