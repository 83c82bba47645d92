// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"

	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/pkg/protocol"
)

// handleControlMessage dispatches an incoming control-channel frame by
// its type discriminator: StartSurveySession, StartTraceroute,
// StartMtuTraceroute, GetMeasuringTime, StartServerTraffic,
// StopServerTraffic, StopTraceroute. Every message is subject to the
// conn_id rejection rule and the survey_session_id
// update-if-non-empty rule before acting, except
// StartSurveySessionMessage which binds survey_session_id
// unconditionally.
func (o *Orchestrator) handleControlMessage(ctx context.Context, s *Session, data []byte) {
	log := logger.FromContext(ctx)

	var peek struct {
		Type   string `json:"type"`
		ConnID string `json:"conn_id"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		log.Debug("malformed control message, dropping", "session", s.ID, "error", err)
		return
	}
	if !s.MatchesConnID(peek.ConnID) {
		log.Warn("control message conn_id mismatch, ignoring", "session", s.ID, "got", peek.ConnID)
		return
	}

	switch peek.Type {
	case protocol.ControlTypeStartSurveySession:
		var msg protocol.StartSurveySessionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.BindSurveyID(msg.SurveySessionID)
		log.Info("survey session bound", "session", s.ID, "survey_session_id", msg.SurveySessionID)

	case protocol.ControlTypeStartTraceroute:
		var msg protocol.StartTracerouteMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.SetSurveyID(msg.SurveySessionID)
		go o.RunTraceroute(ctx, s)

	case protocol.ControlTypeStartMtuTraceroute:
		var msg protocol.StartMtuTracerouteMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.SetSurveyID(msg.SurveySessionID)
		go o.RunMtuTraceroute(ctx, s, msg.PacketSize)

	case protocol.ControlTypeGetMeasuringTime:
		var msg protocol.GetMeasuringTimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.SetSurveyID(msg.SurveySessionID)
		o.sendControl(ctx, s, protocol.MeasuringTimeResponseMessage{
			Type:            protocol.ControlTypeMeasuringTimeResult,
			ConnID:          s.ConnID,
			SurveySessionID: s.SurveyID(),
			MaxDurationMs:   o.maxMeasuringTimeMs(s),
		})

	case protocol.ControlTypeStartServerTraffic:
		var msg protocol.StartServerTrafficMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.SetSurveyID(msg.SurveySessionID)
		o.beginMeasurement(ctx, s)

	case protocol.ControlTypeStopServerTraffic:
		var msg protocol.StopServerTrafficMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.SetSurveyID(msg.SurveySessionID)
		s.Measurement.SetTrafficActive(false)
		s.SetState(StateReady)

	case protocol.ControlTypeStopTraceroute:
		var msg protocol.StopTracerouteMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.SetSurveyID(msg.SurveySessionID)
		s.Measurement.SetStopTraceroute(true)
		o.beginMeasurement(ctx, s)

	default:
		log.Debug("unrecognized control message type, dropping", "session", s.ID, "type", peek.Type)
	}
}

// beginMeasurement clears rolling measurement state and starts the
// probe/bulk senders, the action shared by StartServerTraffic and the
// legacy StopTraceroute-enters-measurement transition.
func (o *Orchestrator) beginMeasurement(ctx context.Context, s *Session) {
	s.Measurement.Clear()
	s.Measurement.SetStopTraceroute(false)
	s.Measurement.SetTrafficActive(true)
	s.SetState(StateMeasuring)
	o.StartSenders(ctx, s)
}
