// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package config

import "errors"

var (
	// ErrInvalidServerPort is returned when an http(s) port is out of range.
	ErrInvalidServerPort = errors.New("invalid server port")
	// ErrNoListenerEnabled is returned when neither http nor https is enabled.
	ErrNoListenerEnabled = errors.New("no listener enabled")
	// ErrInvalidTLSConfig is returned when https is enabled without cert/key paths.
	ErrInvalidTLSConfig = errors.New("invalid tls configuration")
	// ErrInvalidTrackerThreshold is returned when the tracker error threshold is not positive.
	ErrInvalidTrackerThreshold = errors.New("invalid tracker error threshold")
	// ErrInvalidTrackerTTL is returned when the tracker unmatched ttl is not positive.
	ErrInvalidTrackerTTL = errors.New("invalid tracker unmatched ttl")
	// ErrInvalidKeylogMaxSessions is returned when the keylog max sessions is not positive.
	ErrInvalidKeylogMaxSessions = errors.New("invalid keylog max sessions")
	// ErrInvalidAuthTimeout is returned when the auth cache timeout is not positive.
	ErrInvalidAuthTimeout = errors.New("invalid auth timeout")
	// ErrInvalidStoragePath is returned when a required storage path is empty.
	ErrInvalidStoragePath = errors.New("invalid storage path")
	// ErrInvalidCaptureConfig is returned when the capture configuration is inconsistent.
	ErrInvalidCaptureConfig = errors.New("invalid capture configuration")
	// ErrInvalidMagicKeyConfig is returned when the magic key measuring-time default is not positive.
	ErrInvalidMagicKeyConfig = errors.New("invalid magic key configuration")
	// ErrInvalidOtelExporter is returned when otel is enabled with an unrecognized exporter name.
	ErrInvalidOtelExporter = errors.New("invalid otel exporter")
)
