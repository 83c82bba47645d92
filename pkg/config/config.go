// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package config holds the static startup configuration for netpoke.
//
// Configuration is loaded exactly once at startup from an optional
// YAML file and environment variables, then handed to the rest of the
// process as an immutable Config. There is no runtime reload.
package config

import (
	"time"

	"github.com/netpoke/netpoke/internal/helper"
)

// Config is the root configuration of netpoke.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Security   SecurityConfig   `yaml:"security" mapstructure:"security"`
	Capture    CaptureConfig    `yaml:"capture" mapstructure:"capture"`
	Tracing    TracingConfig    `yaml:"tracing" mapstructure:"tracing"`
	Client     ClientConfig     `yaml:"client" mapstructure:"client"`
	Tracker    TrackerConfig    `yaml:"tracker" mapstructure:"tracker"`
	Keylog     KeylogConfig     `yaml:"keylog" mapstructure:"keylog"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	MagicKey   MagicKeyConfig   `yaml:"magicKey" mapstructure:"magicKey"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Otel       OtelConfig       `yaml:"otel" mapstructure:"otel"`
	Traceroute TracerouteConfig `yaml:"traceroute" mapstructure:"traceroute"`
}

// ServerConfig configures the HTTP(S) listener that serves the
// signaling, tracking, capture, keylog and upload APIs.
type ServerConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	HttpPort    int    `yaml:"httpPort" mapstructure:"httpPort"`
	HttpsPort   int    `yaml:"httpsPort" mapstructure:"httpsPort"`
	EnableHttp  bool   `yaml:"enableHttp" mapstructure:"enableHttp"`
	EnableHttps bool   `yaml:"enableHttps" mapstructure:"enableHttps"`
	SslCertPath string `yaml:"sslCertPath" mapstructure:"sslCertPath"`
	SslKeyPath  string `yaml:"sslKeyPath" mapstructure:"sslKeyPath"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Filter string `yaml:"filter" mapstructure:"filter"`
}

// SecurityConfig configures CORS handling for the HTTP API.
type SecurityConfig struct {
	EnableCors     bool     `yaml:"enableCors" mapstructure:"enableCors"`
	AllowedOrigins []string `yaml:"allowedOrigins" mapstructure:"allowedOrigins"`
}

// CaptureConfig configures the libpcap packet capture component.
type CaptureConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	MaxPackets  int    `yaml:"maxPackets" mapstructure:"maxPackets"`
	Snaplen     int32  `yaml:"snaplen" mapstructure:"snaplen"`
	Interface   string `yaml:"interface" mapstructure:"interface"`
	Promiscuous bool   `yaml:"promiscuous" mapstructure:"promiscuous"`
}

// TracingConfig configures the in-memory tracing event ring buffer
// exposed via the tracking API. It is distinct from OtelConfig, which
// configures the actual span exporter internal/telemetry builds.
type TracingConfig struct {
	Enabled       bool `yaml:"enabled" mapstructure:"enabled"`
	MaxLogEntries int  `yaml:"maxLogEntries" mapstructure:"maxLogEntries"`
}

// OtelConfig configures the OpenTelemetry tracer provider
// internal/telemetry sets up: whether tracing is enabled at all, which
// exporter backend to use, and where to send spans.
type OtelConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Exporter string `yaml:"exporter" mapstructure:"exporter"` // "stdout", "grpc", or "http"
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// TracerouteConfig configures the traceroute/MTU probe transmission
// path, separate from TrackerConfig's ICMP-correlation concerns.
type TracerouteConfig struct {
	ProbeRetry helper.RetryConfig `yaml:"probeRetry" mapstructure:"probeRetry"`
}

// ClientConfig is returned verbatim to clients via /api/config/client.
type ClientConfig struct {
	WebrtcConnectionDelayMs int `yaml:"webrtcConnectionDelayMs" mapstructure:"webrtcConnectionDelayMs"`
}

// TrackerConfig configures the packet tracker's unmatched-ICMP-error
// escalation and expiry sweep.
type TrackerConfig struct {
	ErrorThreshold int           `yaml:"errorThreshold" mapstructure:"errorThreshold"`
	UnmatchedTTL   time.Duration `yaml:"unmatchedTTL" mapstructure:"unmatchedTTL"`
}

// KeylogConfig configures the DTLS keylog store.
type KeylogConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	MaxSessions int  `yaml:"maxSessions" mapstructure:"maxSessions"`
}

// AuthConfig configures the authenticated-address cache.
type AuthConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// MagicKeyConfig configures magic-key gated survey sessions: which keys
// are valid, and the per-key measuring-time ceiling enforced by
// GetMeasuringTime responses. OAuth/plain-login/session-cookie handling
// lives upstream of netpoke; only the measuring-time ceiling is
// load-bearing here.
type MagicKeyConfig struct {
	Enabled                  bool              `yaml:"enabled" mapstructure:"enabled"`
	MagicKeys                []string          `yaml:"magicKeys" mapstructure:"magicKeys"`
	MaxMeasuringTimeSeconds  uint64            `yaml:"maxMeasuringTimeSeconds" mapstructure:"maxMeasuringTimeSeconds"`
	MagicKeyMaxMeasuringTime map[string]uint64 `yaml:"magicKeyMaxMeasuringTime" mapstructure:"magicKeyMaxMeasuringTime"`
}

// GetMaxMeasuringTimeSeconds returns the measuring-time ceiling for
// magicKey: an explicit per-key override wins outright; absent that,
// "DEMO" carries a built-in 120-second ceiling; every other key falls
// back to MaxMeasuringTimeSeconds.
func (m MagicKeyConfig) GetMaxMeasuringTimeSeconds(magicKey string) uint64 {
	if override, ok := m.MagicKeyMaxMeasuringTime[magicKey]; ok {
		return override
	}
	if magicKey == "DEMO" {
		return 120
	}
	return m.MaxMeasuringTimeSeconds
}

// StorageConfig configures persistence and chunked-upload storage.
type StorageConfig struct {
	SqlitePath string `yaml:"sqlitePath" mapstructure:"sqlitePath"`
	UploadDir  string `yaml:"uploadDir" mapstructure:"uploadDir"`
}

// NewConfig returns a Config populated with netpoke's hardcoded
// defaults, used as the base the file and environment overlay onto.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			HttpPort:    8080,
			HttpsPort:   8443,
			EnableHttp:  true,
			EnableHttps: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Security: SecurityConfig{
			EnableCors:     true,
			AllowedOrigins: []string{"*"},
		},
		Capture: CaptureConfig{
			Enabled:     false,
			MaxPackets:  10000,
			Snaplen:     65535,
			Promiscuous: true,
		},
		Tracing: TracingConfig{
			Enabled:       true,
			MaxLogEntries: 1000,
		},
		Client: ClientConfig{
			WebrtcConnectionDelayMs: 50,
		},
		Tracker: TrackerConfig{
			ErrorThreshold: 5,
			UnmatchedTTL:   30 * time.Second,
		},
		Keylog: KeylogConfig{
			Enabled:     true,
			MaxSessions: 1000,
		},
		Auth: AuthConfig{
			Timeout: 300 * time.Second,
		},
		MagicKey: MagicKeyConfig{
			Enabled:                  false,
			MaxMeasuringTimeSeconds:  3600,
			MagicKeyMaxMeasuringTime: map[string]uint64{},
		},
		Storage: StorageConfig{
			SqlitePath: "./netpoke.db",
			UploadDir:  "./uploads",
		},
		Otel: OtelConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
		Traceroute: TracerouteConfig{
			ProbeRetry: helper.RetryConfig{
				Count: 2,
				Delay: 20 * time.Millisecond,
			},
		},
	}
}
