// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package netpoke

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpoke/netpoke/internal/authcache"
	"github.com/netpoke/netpoke/internal/keylog"
	"github.com/netpoke/netpoke/internal/metrics"
	"github.com/netpoke/netpoke/internal/session"
	"github.com/netpoke/netpoke/internal/tracker"
	"github.com/netpoke/netpoke/pkg/config"
	"github.com/netpoke/netpoke/pkg/protocol"
)

func newTestServer() *Server {
	cfg := config.NewConfig()
	return &Server{
		config:  cfg,
		tracker: tracker.New(cfg.Tracker.ErrorThreshold, cfg.Tracker.UnmatchedTTL),
		keylog:  keylog.New(cfg.Keylog.MaxSessions, cfg.Keylog.Enabled),
		auth:    authcache.New(cfg.Auth.Timeout),
		metrics: metrics.New(),
	}
}

func TestHandleOpenAPI_DefaultsToJSON(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/openapi.json", http.NoBody)
	rec := httptest.NewRecorder()
	s.handleOpenAPI(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"openapi"`)
}

func TestHandleOpenAPI_YamlOnExplicitAccept(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/openapi.json", http.NoBody)
	req.Header.Set("Accept", "text/yaml")
	rec := httptest.NewRecorder()
	s.handleOpenAPI(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "openapi:")
}

func TestHandleClientConfig(t *testing.T) {
	s := newTestServer()
	s.config.Client.WebrtcConnectionDelayMs = 42

	req := httptest.NewRequest(http.MethodGet, "/api/config/client", http.NoBody)
	rec := httptest.NewRecorder()

	s.handleClientConfig(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"webrtc_connection_delay_ms":42}`, rec.Body.String())
}

func TestHandleTrackingStats(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/tracking/stats", http.NoBody)
	rec := httptest.NewRecorder()

	s.handleTrackingStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tracked_packets":0,"queued_events":0}`, rec.Body.String())
}

func TestHandleTrackingEvents_DrainsEmptyQueue(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/tracking/events", http.NoBody)
	rec := httptest.NewRecorder()

	s.handleTrackingEvents(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `null`, rec.Body.String())
}

func TestHandleKeylogForSession(t *testing.T) {
	s := newTestServer()

	t.Run("missing survey_session_id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/keylog/for_session", http.NoBody)
		rec := httptest.NewRecorder()
		s.handleKeylogForSession(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no entries for session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/keylog/for_session?survey_session_id=abc", http.NoBody)
		rec := httptest.NewRecorder()
		s.handleKeylogForSession(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Empty(t, rec.Body.String())
	})

	t.Run("entries present", func(t *testing.T) {
		s.keylog.Add("abc", []byte{0x01, 0x02}, []byte{0x03, 0x04})
		req := httptest.NewRequest(http.MethodGet, "/api/keylog/for_session?survey_session_id=abc", http.NoBody)
		rec := httptest.NewRecorder()
		s.handleKeylogForSession(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "CLIENT_RANDOM 0102 0304")
	})
}

func TestHandleAuthStatus(t *testing.T) {
	t.Run("unauthenticated without proxy headers", func(t *testing.T) {
		s := newTestServer()
		req := httptest.NewRequest(http.MethodGet, "/auth/status", http.NoBody)
		rec := httptest.NewRecorder()
		s.handleAuthStatus(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())
	})

	t.Run("authenticated records address in cache", func(t *testing.T) {
		s := newTestServer()
		req := httptest.NewRequest(http.MethodGet, "/auth/status", http.NoBody)
		req.Header.Set(authHeaderUser, "alice")
		req.RemoteAddr = "203.0.113.5:54321"
		rec := httptest.NewRecorder()

		s.handleAuthStatus(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"authenticated":true}`, rec.Body.String())
		assert.Len(t, s.auth.AllValid(), 1)
	})
}

func TestHandleCapturePcap_DisabledReturnsServiceUnavailable(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/capture/pcap", http.NoBody)
	rec := httptest.NewRecorder()
	s.handleCapturePcap(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)

	req = httptest.NewRequest(http.MethodGet, "/api/capture/pcap_for_session?survey_session_id=abc", http.NoBody)
	rec = httptest.NewRecorder()
	s.handleCapturePcapForSession(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleDashboard(t *testing.T) {
	s := newTestServer()
	s.table = session.NewTable()
	sess := session.New("sess-1", "conn-1")
	sess.SetPeerAddr("203.0.113.9", 40001)
	s.table.Add(sess)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", http.NoBody)
	rec := httptest.NewRecorder()
	s.handleDashboard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var msg protocol.DashboardMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.Len(t, msg.Clients, 1)
	assert.Equal(t, "sess-1", msg.Clients[0].ID)
	require.NotNil(t, msg.Clients[0].PeerAddress)
	assert.Equal(t, "203.0.113.9", *msg.Clients[0].PeerAddress)
	require.NotNil(t, msg.Clients[0].IPVersion)
	assert.Equal(t, "ipv4", *msg.Clients[0].IPVersion)
}

func TestPcapFilename(t *testing.T) {
	name := pcapFilename("abc")
	assert.Contains(t, name, "netpoke-abc-")
	assert.Contains(t, name, ".pcap")
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "198.51.100.2:9999"

	addr, ok := clientAddr(req)
	require.True(t, ok)
	assert.Equal(t, "198.51.100.2", addr.String())
}
