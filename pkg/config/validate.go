// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/netpoke/netpoke/internal/logger"
)

// Validate validates the startup config.
func (c *Config) Validate(ctx context.Context) (err error) {
	log := logger.FromContext(ctx)

	if c.Server.HttpPort <= 0 || c.Server.HttpPort > 65535 {
		log.Error("The http port is out of range", "port", c.Server.HttpPort)
		err = errors.Join(err, ErrInvalidServerPort)
	}
	if c.Server.EnableHttps {
		if c.Server.HttpsPort <= 0 || c.Server.HttpsPort > 65535 {
			log.Error("The https port is out of range", "port", c.Server.HttpsPort)
			err = errors.Join(err, ErrInvalidServerPort)
		}
		if c.Server.SslCertPath == "" || c.Server.SslKeyPath == "" {
			log.Error("https is enabled but cert/key paths are missing")
			err = errors.Join(err, ErrInvalidTLSConfig)
		}
	}
	if !c.Server.EnableHttp && !c.Server.EnableHttps {
		log.Error("At least one of http or https must be enabled")
		err = errors.Join(err, ErrNoListenerEnabled)
	}

	if c.Tracker.ErrorThreshold <= 0 {
		log.Error("The tracker error threshold must be positive", "threshold", c.Tracker.ErrorThreshold)
		err = errors.Join(err, ErrInvalidTrackerThreshold)
	}
	if c.Tracker.UnmatchedTTL <= 0 {
		log.Error("The tracker unmatched ttl must be positive", "ttl", c.Tracker.UnmatchedTTL)
		err = errors.Join(err, ErrInvalidTrackerTTL)
	}

	if c.Keylog.MaxSessions <= 0 {
		log.Error("The keylog max sessions must be positive", "maxSessions", c.Keylog.MaxSessions)
		err = errors.Join(err, ErrInvalidKeylogMaxSessions)
	}

	if c.Auth.Timeout <= 0 {
		log.Error("The auth cache timeout must be positive", "timeout", c.Auth.Timeout)
		err = errors.Join(err, ErrInvalidAuthTimeout)
	}

	if c.Storage.SqlitePath == "" {
		log.Error("The storage sqlite path cannot be empty")
		err = errors.Join(err, ErrInvalidStoragePath)
	}
	if c.Storage.UploadDir == "" {
		log.Error("The storage upload dir cannot be empty")
		err = errors.Join(err, ErrInvalidStoragePath)
	}

	if c.Capture.Enabled && c.Capture.MaxPackets <= 0 {
		log.Error("The capture max packets must be positive when capture is enabled", "maxPackets", c.Capture.MaxPackets)
		err = errors.Join(err, ErrInvalidCaptureConfig)
	}

	if c.MagicKey.MaxMeasuringTimeSeconds <= 0 {
		log.Error("The magic key default max measuring time must be positive", "maxMeasuringTimeSeconds", c.MagicKey.MaxMeasuringTimeSeconds)
		err = errors.Join(err, ErrInvalidMagicKeyConfig)
	}

	if c.Otel.Enabled {
		switch c.Otel.Exporter {
		case "stdout", "grpc", "http":
		default:
			log.Error("The otel exporter is not recognized", "exporter", c.Otel.Exporter)
			err = errors.Join(err, ErrInvalidOtelExporter)
		}
	}

	if err != nil {
		return fmt.Errorf("validation of configuration failed: %w", err)
	}
	return nil
}
