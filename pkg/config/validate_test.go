// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"testing"
	"time"
)

func validConfig() Config {
	return *NewConfig()
}

func TestConfig_Validate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "http port out of range",
			mutate:  func(c *Config) { c.Server.HttpPort = 0 },
			wantErr: true,
		},
		{
			name:    "https enabled without cert",
			mutate:  func(c *Config) { c.Server.EnableHttps = true },
			wantErr: true,
		},
		{
			name: "https enabled with cert and key",
			mutate: func(c *Config) {
				c.Server.EnableHttps = true
				c.Server.SslCertPath = "cert.pem"
				c.Server.SslKeyPath = "key.pem"
			},
			wantErr: false,
		},
		{
			name: "no listener enabled",
			mutate: func(c *Config) {
				c.Server.EnableHttp = false
				c.Server.EnableHttps = false
			},
			wantErr: true,
		},
		{
			name:    "tracker error threshold not positive",
			mutate:  func(c *Config) { c.Tracker.ErrorThreshold = 0 },
			wantErr: true,
		},
		{
			name:    "tracker unmatched ttl not positive",
			mutate:  func(c *Config) { c.Tracker.UnmatchedTTL = 0 },
			wantErr: true,
		},
		{
			name:    "keylog max sessions not positive",
			mutate:  func(c *Config) { c.Keylog.MaxSessions = 0 },
			wantErr: true,
		},
		{
			name:    "auth timeout not positive",
			mutate:  func(c *Config) { c.Auth.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "empty sqlite path",
			mutate:  func(c *Config) { c.Storage.SqlitePath = "" },
			wantErr: true,
		},
		{
			name:    "empty upload dir",
			mutate:  func(c *Config) { c.Storage.UploadDir = "" },
			wantErr: true,
		},
		{
			name: "capture enabled with zero max packets",
			mutate: func(c *Config) {
				c.Capture.Enabled = true
				c.Capture.MaxPackets = 0
			},
			wantErr: true,
		},
		{
			name:    "magic key default max measuring time not positive",
			mutate:  func(c *Config) { c.MagicKey.MaxMeasuringTimeSeconds = 0 },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(ctx); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_AccumulatesErrors(t *testing.T) {
	ctx := context.Background()
	cfg := validConfig()
	cfg.Server.HttpPort = -1
	cfg.Tracker.ErrorThreshold = -1
	cfg.Storage.SqlitePath = ""

	if err := cfg.Validate(ctx); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()
	if cfg.Server.HttpPort != 8080 {
		t.Errorf("expected default http port 8080, got %d", cfg.Server.HttpPort)
	}
	if cfg.Tracker.ErrorThreshold != 5 {
		t.Errorf("expected default tracker threshold 5, got %d", cfg.Tracker.ErrorThreshold)
	}
	if cfg.Tracker.UnmatchedTTL != 30*time.Second {
		t.Errorf("expected default unmatched ttl 30s, got %v", cfg.Tracker.UnmatchedTTL)
	}
	if cfg.Keylog.MaxSessions != 1000 {
		t.Errorf("expected default keylog max sessions 1000, got %d", cfg.Keylog.MaxSessions)
	}
}
