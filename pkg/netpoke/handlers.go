// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package netpoke

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netpoke/netpoke/internal/capture"
	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/pkg/api"
)

const (
	queryParamSurveySessionID = "survey_session_id"
	authHeaderUser            = "X-Auth-Request-User"
	authHeaderDisplayName     = "X-Auth-Request-Preferred-Username"
	authHeaderSource          = "X-Auth-Request-Email"
)

// startupAPI registers the HTTP route table and runs the server.
func (s *Server) startupAPI(ctx context.Context) error {
	routes := []api.Route{
		{Path: "/api/signaling/start", Method: http.MethodPost, Handler: s.handleSignalingStart},
		{Path: "/api/signaling/ice", Method: http.MethodPost, Handler: s.handleSignalingIce},
		{Path: fmt.Sprintf("/api/cleanup/{%s}", urlParamClientID), Method: http.MethodPost, Handler: s.handleCleanup},
		{Path: "/api/capture/pcap", Method: http.MethodGet, Handler: s.handleCapturePcap},
		{Path: "/api/capture/pcap_for_session", Method: http.MethodGet, Handler: s.handleCapturePcapForSession},
		{Path: "/api/keylog/for_session", Method: http.MethodGet, Handler: s.handleKeylogForSession},
		{Path: "/api/tracking/events", Method: http.MethodGet, Handler: s.handleTrackingEvents},
		{Path: "/api/tracking/stats", Method: http.MethodGet, Handler: s.handleTrackingStats},
		{Path: "/api/config/client", Method: http.MethodGet, Handler: s.handleClientConfig},
		{Path: "/api/dashboard", Method: http.MethodGet, Handler: s.handleDashboard},
		{Path: "/auth/status", Method: http.MethodGet, Handler: s.handleAuthStatus},
		{Path: fmt.Sprintf("/api/upload/{%s}/{%s}/prepare", urlParamSessionID, urlParamRecordingID), Method: http.MethodPost, Handler: s.handleUploadPrepare},
		{Path: fmt.Sprintf("/api/upload/{%s}/chunk/{%s}", urlParamRecordingID, urlParamChunkIndex), Method: http.MethodPost, Handler: s.handleUploadChunk},
		{Path: fmt.Sprintf("/api/upload/{%s}/finalize", urlParamRecordingID), Method: http.MethodPost, Handler: s.handleUploadFinalize},
		{Path: "/api/openapi.json", Method: http.MethodGet, Handler: s.handleOpenAPI},
		{
			Path: "/metrics", Method: "*",
			Handler: promhttp.HandlerFor(
				s.metrics.GetRegistry(),
				promhttp.HandlerOpts{Registry: s.metrics.GetRegistry()},
			).ServeHTTP,
		},
	}

	err := s.api.RegisterRoutes(ctx, routes...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to register routes", "error", err)
		return err
	}
	return s.api.Run(ctx)
}

// handleCapturePcap exports every packet currently in the capture ring
// buffer as a PCAP file.
func (s *Server) handleCapturePcap(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	if !s.captureEnabled {
		writeError(w, log, http.StatusServiceUnavailable, "capture is not enabled")
		return
	}

	packets := s.captureRing.Packets()
	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pcapFilename("capture")))
	if err := capture.WritePcap(w, s.captureRing.Datalink(), uint32(s.config.Capture.Snaplen), packets); err != nil {
		log.Error("failed to write pcap", "error", err)
	}
}

// handleCapturePcapForSession exports only the packets tagged with the
// requested survey_session_id.
func (s *Server) handleCapturePcapForSession(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	if !s.captureEnabled {
		writeError(w, log, http.StatusServiceUnavailable, "capture is not enabled")
		return
	}

	surveySessionID := r.URL.Query().Get(queryParamSurveySessionID)
	if surveySessionID == "" {
		writeError(w, log, http.StatusBadRequest, "missing survey_session_id")
		return
	}

	packets := s.captureRing.PacketsForSession(surveySessionID)
	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pcapFilename(surveySessionID)))
	if err := capture.WritePcap(w, s.captureRing.Datalink(), uint32(s.config.Capture.Snaplen), packets); err != nil {
		log.Error("failed to write pcap", "error", err)
	}
}

func pcapFilename(tag string) string {
	return fmt.Sprintf("netpoke-%s-%d.pcap", tag, time.Now().Unix())
}

// handleKeylogForSession returns the SSLKEYLOGFILE-format text for a
// survey session, letting Wireshark decrypt that session's captured
// DTLS traffic.
func (s *Server) handleKeylogForSession(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	surveySessionID := r.URL.Query().Get(queryParamSurveySessionID)
	if surveySessionID == "" {
		writeError(w, log, http.StatusBadRequest, "missing survey_session_id")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("netpoke-%s-%d.keylog", surveySessionID, time.Now().Unix())))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(s.keylog.Export(surveySessionID))); err != nil {
		log.Error("failed to write keylog response", "error", err)
	}
}

// handleTrackingEvents drains and returns every matched
// TrackedPacketEvent queued since the last call. []byte fields marshal
// as base64 by default, matching the endpoint's documented encoding.
func (s *Server) handleTrackingEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	events := s.tracker.DrainEvents()
	writeJSON(w, log, http.StatusOK, events)
}

type trackingStats struct {
	TrackedPackets int `json:"tracked_packets"`
	QueuedEvents   int `json:"queued_events"`
}

// handleTrackingStats reports the tracker's current occupancy without
// draining anything.
func (s *Server) handleTrackingStats(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	writeJSON(w, log, http.StatusOK, trackingStats{
		TrackedPackets: s.tracker.TrackedCount(),
		QueuedEvents:   s.tracker.QueuedEventCount(),
	})
}

type clientConfigResponse struct {
	WebrtcConnectionDelayMs int `json:"webrtc_connection_delay_ms"`
}

// handleClientConfig serves the single client-facing config value the
// web client needs before starting signaling.
func (s *Server) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	writeJSON(w, log, http.StatusOK, clientConfigResponse{WebrtcConnectionDelayMs: s.config.Client.WebrtcConnectionDelayMs})
}

type authStatusResponse struct {
	Authenticated bool `json:"authenticated"`
}

// handleAuthStatus reports whether the caller is authenticated,
// trusting an upstream reverse proxy to have already terminated OAuth
// and forwarded identity headers (netpoke itself implements no OAuth
// provider). When authenticated, the client's address is recorded in
// the auth cache as a side effect.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	user := r.Header.Get(authHeaderUser)
	if user == "" {
		writeJSON(w, log, http.StatusOK, authStatusResponse{Authenticated: false})
		return
	}

	if addr, ok := clientAddr(r); ok {
		s.auth.RecordAuth(addr, user, r.Header.Get(authHeaderDisplayName), r.Header.Get(authHeaderSource))
	}

	writeJSON(w, log, http.StatusOK, authStatusResponse{Authenticated: true})
}

// clientAddr extracts the caller's IP address from the request,
// ignoring the port.
func clientAddr(r *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, log *slog.Logger, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		log.Error("failed to write error response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to write response", "error", err)
	}
}
