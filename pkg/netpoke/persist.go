// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package netpoke

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/netpoke/netpoke/internal/capture"
	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/internal/measure"
	"github.com/netpoke/netpoke/internal/session"
	"github.com/netpoke/netpoke/pkg/protocol"
)

const metricsPersistPeriod = 5 * time.Second

// persistMetrics periodically writes every measuring session's
// direction stats to the store. A survey session's row is created
// lazily on its first batch, carrying the principal the auth cache
// knows for the peer's address, if any.
func (s *Server) persistMetrics(ctx context.Context) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(metricsPersistPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sess := range s.table.All() {
				if sess.SurveyID() == "" || !sess.Measurement.IsTrafficActive() {
					continue
				}
				if err := s.persistSessionMetrics(ctx, sess); err != nil {
					log.Error("failed to persist session metrics", "session", sess.ID, "error", err)
				}
			}
		}
	}
}

func (s *Server) persistSessionMetrics(ctx context.Context, sess *session.Session) error {
	surveyID := sess.SurveyID()

	var userLogin *string
	if ap, ok := sess.PeerAddrPort(); ok {
		if entry, ok := s.auth.CheckAuth(ap.Addr()); ok {
			userLogin = &entry.UserID
		}
	}

	var magicKey string
	if s.orchestrator.MagicKeyForSession != nil {
		magicKey = s.orchestrator.MagicKeyForSession(surveyID)
	}
	if err := s.store.EnsureSurveySession(ctx, surveyID, magicKey, userLogin); err != nil {
		return err
	}

	now := time.Now()
	c2s := directionStats(sess.Measurement.ClientToServer, sess.Measurement.RoundTrip, now)
	s2c := directionStats(sess.Measurement.RoundTrip, sess.Measurement.RoundTrip, now)

	if err := s.store.RecordProbeStats(ctx, surveyID, sess.ConnID, now.UnixMilli(), c2s, s2c); err != nil {
		return err
	}
	return s.store.TouchSurveySession(ctx, surveyID)
}

// directionStats assembles the persisted [p50,p99,min,max] stat vector
// for one direction: the delay/jitter distributions from delayEngine,
// the round-trip distribution from rttEngine, and the loss/reorder
// rates over the largest rolling window.
func directionStats(delayEngine, rttEngine *measure.Engine, now time.Time) protocol.DirectionStats {
	delay, probeCount := delayEngine.DelayDistribution(now)
	rtt, _ := rttEngine.DelayDistribution(now)
	snap := delayEngine.Snapshot(now)
	largest := snap[len(snap)-1]

	return protocol.DirectionStats{
		DelayDeviationMs: delay,
		JitterMs:         delayEngine.JitterDistribution(now),
		RttMs:            rtt,
		LossRate:         largest.LossRate,
		ReorderRate:      largest.ReorderRate,
		ProbeCount:       probeCount,
		BaselineDelayMs:  delay[2],
	}
}

// persistSessionArtifacts exports the session's capture and keylog to
// disk and records the paths on the survey session's row, so offline
// analysis can find them after the peer is gone.
func (s *Server) persistSessionArtifacts(log *slog.Logger, sess *session.Session) {
	surveyID := sess.SurveyID()
	if surveyID == "" {
		return
	}
	ctx := context.Background()

	if s.captureRing != nil {
		packets := s.captureRing.PacketsForSession(surveyID)
		if len(packets) > 0 {
			path := filepath.Join(s.config.Storage.UploadDir, fmt.Sprintf("session-%s.pcap", surveyID))
			var buf bytes.Buffer
			if err := capture.WritePcap(&buf, s.captureRing.Datalink(), uint32(s.config.Capture.Snaplen), packets); err != nil {
				log.Error("failed to render session pcap", "session", sess.ID, "error", err)
			} else if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				log.Error("failed to write session pcap", "session", sess.ID, "error", err)
			} else if err := s.store.SetPcapPath(ctx, surveyID, path); err != nil {
				log.Error("failed to record pcap path", "session", sess.ID, "error", err)
			}
		}
	}

	if keylogText := s.keylog.Export(surveyID); keylogText != "" {
		path := filepath.Join(s.config.Storage.UploadDir, fmt.Sprintf("session-%s.keylog", surveyID))
		if err := os.WriteFile(path, []byte(keylogText), 0o600); err != nil {
			log.Error("failed to write session keylog", "session", sess.ID, "error", err)
		} else if err := s.store.SetKeylogPath(ctx, surveyID, path); err != nil {
			log.Error("failed to record keylog path", "session", sess.ID, "error", err)
		}
	}
}

// handleDashboard serves a point-in-time snapshot of every live
// session with its windowed measurement stats, the JSON shape the
// operator dashboard polls.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	now := time.Now()

	sessions := s.table.All()
	clients := make([]protocol.ClientInfo, 0, len(sessions))
	for _, sess := range sessions {
		clients = append(clients, clientInfo(sess, now))
	}
	writeJSON(w, log, http.StatusOK, protocol.DashboardMessage{Clients: clients})
}

func clientInfo(sess *session.Session, now time.Time) protocol.ClientInfo {
	c2s := sess.Measurement.ClientToServer.Snapshot(now)
	s2c := sess.Measurement.ServerToClient.Snapshot(now)

	var m protocol.ClientMetrics
	m.C2SDelayAvg, m.C2SJitter, m.C2SLossRate, m.C2SReorder, m.C2SThroughput = c2s.ToArray()
	m.S2CDelayAvg, m.S2CJitter, m.S2CLossRate, m.S2CReorder, m.S2CThroughput = s2c.ToArray()

	info := protocol.ClientInfo{
		ID:          sess.ID,
		ConnectedAt: uint64(sess.ConnectedAt.UnixMilli()),
		Metrics:     m,
	}
	if sess.ParentID != "" {
		parent := sess.ParentID
		info.ParentID = &parent
	}
	if v := sess.IPVersion; v != "" {
		info.IPVersion = &v
	}
	if ap, ok := sess.PeerAddrPort(); ok {
		addr := ap.Addr().String()
		port := ap.Port()
		info.PeerAddress = &addr
		info.PeerPort = &port
	}
	return info
}
