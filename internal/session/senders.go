// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/pkg/protocol"
)

const (
	probeSenderInterval = 50 * time.Millisecond // 20 Hz
	bulkSenderInterval  = 10 * time.Millisecond // 100 Hz
	bulkPayloadSize     = 1024
)

// StartSenders spawns the probe and bulk sender goroutines for a
// session if they are not already running. Both loops observe
// MeasurementState.TrafficActive/StopTraceroute and exit within one
// tick of either flipping; StartSenders is safe to call repeatedly
// (StartServerTraffic and the legacy StopTraceroute-enters-measurement
// path both call it).
func (o *Orchestrator) StartSenders(ctx context.Context, s *Session) {
	s.mu.Lock()
	if s.sendersRunning > 0 {
		s.mu.Unlock()
		return
	}
	s.sendersRunning = 2
	s.mu.Unlock()

	go o.runProbeSender(ctx, s)
	go o.runBulkSender(ctx, s)
}

func (o *Orchestrator) runProbeSender(ctx context.Context, s *Session) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(probeSenderInterval)
	defer ticker.Stop()
	defer s.markSendersStopped()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Measurement.IsTrafficActive() || s.Measurement.stopRequested() {
				return
			}
			if !o.sendProbe(s) {
				log.Error("probe send failed, terminating probe sender", "session", s.ID)
				return
			}
		}
	}
}

func (o *Orchestrator) runBulkSender(ctx context.Context, s *Session) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(bulkSenderInterval)
	defer ticker.Stop()
	defer s.markSendersStopped()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Measurement.IsTrafficActive() || s.Measurement.stopRequested() {
				return
			}
			if !o.sendBulk(s) {
				log.Error("bulk send failed, terminating bulk sender", "session", s.ID)
				return
			}
		}
	}
}

func (o *Orchestrator) sendProbe(s *Session) bool {
	s.mu.RLock()
	ch := s.Channels.Probe
	s.mu.RUnlock()
	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		return true
	}

	p := protocol.ProbePacket{
		Seq:         s.Measurement.NextProbeSeq(),
		TimestampMs: uint64(time.Now().UnixMilli()),
		Direction:   protocol.DirectionServerToClient,
		ConnID:      s.ConnID,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return true
	}
	return ch.Send(data) == nil
}

func (o *Orchestrator) sendBulk(s *Session) bool {
	s.mu.RLock()
	ch := s.Channels.Bulk
	s.mu.RUnlock()
	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		return true
	}

	b := protocol.NewBulkPacket(bulkPayloadSize)
	data, err := json.Marshal(b)
	if err != nil {
		return true
	}
	if ch.Send(data) != nil {
		return false
	}
	s.Measurement.ServerToClient.RecordBulk(uint64(len(b.Data)), time.Now())
	return true
}

// markSendersStopped decrements the running-sender count; StartSenders
// only spawns a new pair once both loops from the previous one have
// exited.
func (s *Session) markSendersStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendersRunning--
}
