// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/pkg/protocol"
)

// WireDataChannels installs the on_data_channel handler that assigns
// each channel to its role slot, attaches the per-label message
// handler, and — once all four are registered — emits exactly one
// ServerSideReady on the control channel.
func (o *Orchestrator) WireDataChannels(ctx context.Context, s *Session) {
	log := logger.FromContext(ctx)

	s.Peer.OnDataChannel(func(dc *webrtc.DataChannel) {
		label := dc.Label()
		log.Info("data channel opened", "session", s.ID, "label", label)

		justCompleted := s.RegisterChannel(label, dc)

		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			o.handleMessage(ctx, s, label, msg.Data)
		})

		if justCompleted {
			s.SetState(StateReady)
			o.sendControl(ctx, s, protocol.ServerSideReadyMessage{
				Type:            protocol.ControlTypeServerSideReady,
				ConnID:          s.ConnID,
				SurveySessionID: s.SurveyID(),
			})
		}
	})
}

// handleMessage routes a received data channel frame to the handler
// for its channel role.
func (o *Orchestrator) handleMessage(ctx context.Context, s *Session, label string, data []byte) {
	switch label {
	case "probe":
		o.handleProbeMessage(ctx, s, data)
	case "bulk":
		o.handleBulkMessage(ctx, s, data)
	case "control":
		o.handleControlMessage(ctx, s, data)
	case "testprobe":
		o.handleTestProbeMessage(ctx, s, data)
	}
}

// sendControl marshals v and sends it on the session's control
// channel, logging (never propagating) a send failure.
func (o *Orchestrator) sendControl(ctx context.Context, s *Session, v any) {
	log := logger.FromContext(ctx)

	s.mu.RLock()
	control := s.Channels.Control
	s.mu.RUnlock()
	if control == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Error("failed to marshal control message", "session", s.ID, "error", err)
		return
	}
	if err := control.Send(data); err != nil {
		log.Error("failed to send control message", "session", s.ID, "error", err)
	}
}
