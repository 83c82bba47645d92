// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package api

import "errors"

// ErrMissingListeningAddress is returned when Config.ListeningAddress is empty.
var ErrMissingListeningAddress = errors.New("api: listening address is required")

// ErrMissingTLSCertOrKey is returned when TLS is enabled without both a cert and key path.
var ErrMissingTLSCertOrKey = errors.New("api: tls enabled but cert or key path is missing")

// TLSConfig configures optional TLS termination on the API server.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	CertPath string `yaml:"certPath" mapstructure:"certPath"`
	KeyPath  string `yaml:"keyPath" mapstructure:"keyPath"`
}

// Config configures the API server.
type Config struct {
	ListeningAddress string    `yaml:"listeningAddress" mapstructure:"listeningAddress"`
	Tls              TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.ListeningAddress == "" {
		return ErrMissingListeningAddress
	}
	if c.Tls.Enabled && (c.Tls.CertPath == "" || c.Tls.KeyPath == "") {
		return ErrMissingTLSCertOrKey
	}
	return nil
}
