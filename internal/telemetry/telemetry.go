// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires netpoke's OpenTelemetry tracer provider with
// a selectable exporter backend (stdout, OTLP/gRPC, OTLP/HTTP).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/netpoke/netpoke/pkg/config"
)

// tracerName identifies the tracer used for traceroute/MTU round spans.
const tracerName = "github.com/netpoke/netpoke/internal/session"

// Provider owns the process-wide TracerProvider. A disabled Provider's
// Shutdown is a no-op; Tracer() always returns a usable (possibly
// no-op, via otel's global default) tracer regardless of Enabled.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New builds and installs the global TracerProvider per cfg. When
// cfg.Enabled is false, the otel global default (a no-op tracer) is
// left in place and Shutdown does nothing.
func New(ctx context.Context, cfg config.OtelConfig) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

func newExporter(ctx context.Context, cfg config.OtelConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "grpc":
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
	case "http":
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

// Shutdown flushes and stops the tracer provider, if one was started.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the tracer traceroute/MTU rounds use to open per-hop
// spans. Safe to call even when no Provider was constructed (e.g. in
// tests), since it resolves through otel's package-level default.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
