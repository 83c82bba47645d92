// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package api runs the chi-based HTTP server exposing netpoke's
// signaling, cleanup, capture, keylog, tracking, and client-config
// endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/netpoke/netpoke/internal/logger"
)

// Route is a single HTTP route registered on the API's router.
type Route struct {
	Path    string
	Method  string
	Handler http.HandlerFunc
}

// API runs an HTTP server and exposes a way to register routes before
// starting it.
type API interface {
	// RegisterRoutes adds the given routes to the router. Must be
	// called before Run.
	RegisterRoutes(ctx context.Context, routes ...Route) error
	// Run starts serving and blocks until ctx is canceled or the
	// server fails to serve.
	Run(ctx context.Context) error
	// Shutdown gracefully stops the server.
	Shutdown(ctx context.Context) error
}

type api struct {
	server *http.Server
	router *chi.Mux
	tls    TLSConfig
}

// New creates an API server listening per the given Config.
func New(cfg Config) API {
	return &api{
		server: &http.Server{Addr: cfg.ListeningAddress}, //nolint:gosec // no read/write timeouts needed for this internal tool
		router: chi.NewRouter(),
		tls:    cfg.Tls,
	}
}

// RegisterRoutes mounts each route on the router using its method, or
// on every method when Method is "*". Must be called once; a second
// call panics, since chi rejects middleware added after routes.
func (a *api) RegisterRoutes(ctx context.Context, routes ...Route) error {
	log := logger.FromContext(ctx)
	a.router.Use(middleware.Recoverer)
	a.router.Use(logger.Middleware(ctx))

	a.router.Get("/", OkHandler(ctx))

	for _, route := range routes {
		switch route.Method {
		case http.MethodGet:
			a.router.Get(route.Path, route.Handler)
		case http.MethodPost:
			a.router.Post(route.Path, route.Handler)
		case http.MethodPut:
			a.router.Put(route.Path, route.Handler)
		case http.MethodDelete:
			a.router.Delete(route.Path, route.Handler)
		case http.MethodPatch:
			a.router.Patch(route.Path, route.Handler)
		case "*":
			a.router.HandleFunc(route.Path, route.Handler)
		default:
			err := fmt.Errorf("unsupported method %q for route %q", route.Method, route.Path)
			log.Error("failed to register route", "error", err)
			return err
		}
	}

	a.server.Handler = a.router
	return nil
}

// Run starts serving HTTP (or HTTPS, if Tls is enabled) and blocks
// until ctx is canceled, returning ctx.Err() in that case.
func (a *api) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	errC := make(chan error, 1)

	go func() {
		var err error
		if a.tls.Enabled {
			log.Info("starting api server", "address", a.server.Addr, "tls", true)
			err = a.server.ListenAndServeTLS(a.tls.CertPath, a.tls.KeyPath)
		} else {
			log.Info("starting api server", "address", a.server.Addr, "tls", false)
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
			return
		}
		errC <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errC:
		return err
	}
}

// Shutdown gracefully stops the server.
func (a *api) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// OkHandler responds 200 "ok"; used as the root health-check route.
func OkHandler(ctx context.Context) http.HandlerFunc {
	log := logger.FromContext(ctx)
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Error("failed to write response", "error", err)
		}
	}
}
