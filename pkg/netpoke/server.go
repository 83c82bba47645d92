// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package netpoke wires every internal/pkg component into a single
// running process: the session table and orchestrator, packet tracker
// and ICMP listener, packet capture service, DTLS keylog store, auth
// cache, SQLite store, chunked-upload manager, Prometheus/OpenTelemetry
// instrumentation, and the HTTP API that exposes them. Components run
// as goroutines reporting into a shared error channel; shutdown is
// shutOnce-guarded and best-effort.
package netpoke

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/netpoke/netpoke/internal/authcache"
	"github.com/netpoke/netpoke/internal/capture"
	"github.com/netpoke/netpoke/internal/icmpread"
	"github.com/netpoke/netpoke/internal/keylog"
	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/internal/metrics"
	"github.com/netpoke/netpoke/internal/session"
	"github.com/netpoke/netpoke/internal/telemetry"
	"github.com/netpoke/netpoke/internal/tracker"
	"github.com/netpoke/netpoke/pkg/api"
	"github.com/netpoke/netpoke/pkg/config"
	"github.com/netpoke/netpoke/pkg/store"
	"github.com/netpoke/netpoke/pkg/upload"
)

const (
	shutdownTimeout     = 30 * time.Second
	metricsReportPeriod = time.Second
)

// Server is netpoke's top-level process: every long-lived component
// plus the glue between them.
type Server struct {
	config *config.Config

	table        *session.Table
	tracker      *tracker.Tracker
	icmp         *icmpread.Listener
	orchestrator *session.Orchestrator

	captureEnabled bool
	captureRing    *capture.RingBuffer
	captureSvc     *capture.Service
	registry       *capture.SessionRegistry

	keylog *keylog.Store
	auth   *authcache.Cache

	store    *store.Store
	uploads  *upload.Manager
	api      api.API

	metrics   *metrics.Registry
	telemetry *telemetry.Provider

	cErr     chan error
	cDone    chan struct{}
	shutOnce sync.Once
}

// New wires a Server from a validated Config. Packet capture is wired
// only if cfg.Capture.Enabled; a capture.Service failing to open its
// interface (e.g. insufficient privilege) is a hard error only when
// capture was explicitly requested.
func New(cfg *config.Config) (*Server, error) {
	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	st, err := store.Open(cfg.Storage.SqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	trk := tracker.New(cfg.Tracker.ErrorThreshold, cfg.Tracker.UnmatchedTTL)

	icmpListener, err := icmpread.New(trk)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create icmp listener: %w", err)
	}

	table := session.NewTable()
	orch, err := session.NewOrchestrator(table, trk, cfg.MagicKey, cfg.Traceroute.ProbeRetry)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	orch.MagicKeyForSession = func(surveySessionID string) string {
		if surveySessionID == "" {
			return ""
		}
		key, err := st.MagicKey(context.Background(), surveySessionID)
		if err != nil {
			return ""
		}
		return key
	}

	tp, err := telemetry.New(context.Background(), cfg.Otel)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create telemetry provider: %w", err)
	}

	s := &Server{
		config:         cfg,
		table:          table,
		tracker:        trk,
		icmp:           icmpListener,
		orchestrator:   orch,
		captureEnabled: cfg.Capture.Enabled,
		keylog:         keylog.New(cfg.Keylog.MaxSessions, cfg.Keylog.Enabled),
		auth:           authcache.New(cfg.Auth.Timeout),
		store:          st,
		uploads:        upload.NewManager(cfg.Storage.UploadDir),
		api:            api.New(api.Config{ListeningAddress: listeningAddress(cfg), Tls: api.TLSConfig{Enabled: cfg.Server.EnableHttps, CertPath: cfg.Server.SslCertPath, KeyPath: cfg.Server.SslKeyPath}}),
		metrics:        metrics.New(),
		telemetry:      tp,
		cErr:           make(chan error, 1),
		cDone:          make(chan struct{}, 1),
	}

	if s.captureEnabled {
		s.registry = capture.NewSessionRegistry()
		s.captureRing = capture.NewRingBuffer(cfg.Capture.MaxPackets, cfg.Capture.Snaplen)
		svc, err := capture.NewService(cfg.Capture.Interface, cfg.Capture.Snaplen, cfg.Capture.Promiscuous, time.Second, "", s.captureRing, s.registry)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("create capture service: %w", err)
		}
		s.captureSvc = svc
	}

	return s, nil
}

// listeningAddress resolves the address the HTTP API listens on,
// preferring the plain-HTTP port since TLS termination reuses the same
// listener with ListenAndServeTLS.
func listeningAddress(cfg *config.Config) string {
	port := cfg.Server.HttpPort
	if cfg.Server.EnableHttps && !cfg.Server.EnableHttp {
		port = cfg.Server.HttpsPort
	}
	return fmt.Sprintf("%s:%d", cfg.Server.Host, port)
}

// Run starts every component and blocks until ctx is canceled or a
// component reports a non-recoverable error.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := logger.NewContextWithLogger(ctx)
	log := logger.FromContext(ctx)
	defer cancel()

	s.tracker.SetCleanupCallback(func(dest netip.AddrPort) {
		log.Warn("unmatched ICMP error threshold reached, tearing down sessions for destination", "dest", dest)
		for _, sess := range s.table.All() {
			if ap, ok := sess.PeerAddrPort(); ok && ap == dest {
				s.teardownSession(log, sess)
			}
		}
	})

	go func() {
		s.icmp.Run(ctx)
		s.cErr <- nil
	}()
	go func() {
		s.tracker.Run(ctx)
		s.cErr <- nil
	}()
	if s.captureEnabled {
		go func() {
			s.cErr <- s.captureSvc.Run(ctx)
		}()
	}
	go func() {
		s.cErr <- s.startupAPI(ctx)
	}()
	go s.reportMetrics(ctx)
	go s.persistMetrics(ctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown(ctx)
		case err := <-s.cErr:
			if err != nil {
				log.Error("non-recoverable error in netpoke component", "error", err)
				s.shutdown(ctx)
			}
		case <-s.cDone:
			log.Info("netpoke was shut down")
			return errors.New("netpoke was shut down")
		}
	}
}

// reportMetrics feeds the tracker's occupancy and every live session's
// windowed measurement stats into the Prometheus registry at a fixed
// interval, the same 1Hz cadence the tracker's own expiry sweep uses.
func (s *Server) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsReportPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.ObserveTracker(s.tracker.TrackedCount(), s.tracker.QueuedEventCount())
			now := time.Now()
			for _, sess := range s.table.All() {
				s.metrics.ObserveWindow("server_to_client", sess.Measurement.ServerToClient.Snapshot(now))
				s.metrics.ObserveWindow("client_to_server", sess.Measurement.ClientToServer.Snapshot(now))
			}
		}
	}
}

// shutdown stops every component exactly once, aggregating shutdown
// errors into a single log line rather than failing loudly.
func (s *Server) shutdown(ctx context.Context) {
	log := logger.FromContext(ctx)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.shutOnce.Do(func() {
		log.Info("shutting down netpoke")
		var errs error
		if err := s.api.Shutdown(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("api shutdown: %w", err))
		}
		if s.captureSvc != nil {
			s.captureSvc.Close()
		}
		if err := s.orchestrator.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
		if err := s.store.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("store shutdown: %w", err))
		}
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		if errs != nil {
			log.Error("failed to shut down cleanly", "error", errs)
		}
		s.cDone <- struct{}{}
	})
}
