// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"net/netip"
	"sync"
)

// SessionRegistry maps client addresses (and, as a fallback, server
// ports) to survey session IDs, so captured packets can be tagged
// with the session that produced them.
type SessionRegistry struct {
	mu                  sync.RWMutex
	addressToSession    map[netip.AddrPort]string
	serverPortToSession map[uint16][]string
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		addressToSession:    make(map[netip.AddrPort]string),
		serverPortToSession: make(map[uint16][]string),
	}
}

// Register binds a client address to a survey session ID. serverPort,
// when non-zero, is also recorded as a fallback lookup key for ICMP
// packets that only carry the embedded destination port.
func (r *SessionRegistry) Register(clientAddr netip.AddrPort, serverPort uint16, surveySessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addressToSession[clientAddr] = surveySessionID
	if serverPort > 0 {
		r.serverPortToSession[serverPort] = append(r.serverPortToSession[serverPort], surveySessionID)
	}
}

// Unregister removes a client address binding.
func (r *SessionRegistry) Unregister(clientAddr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addressToSession, clientAddr)
}

// Lookup returns the survey session ID bound to addr, if any.
func (r *SessionRegistry) Lookup(addr netip.AddrPort) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.addressToSession[addr]
	return id, ok
}

// LookupByEither checks src first, then dst, returning the first
// match.
func (r *SessionRegistry) LookupByEither(src, dst netip.AddrPort) (string, bool) {
	if id, ok := r.Lookup(src); ok {
		return id, true
	}
	return r.Lookup(dst)
}

// LookupByServerPort returns the first session registered for a
// server port. This is a best-effort fallback used for ICMP error
// packets, where multiple sessions sharing a port cannot be
// disambiguated further.
func (r *SessionRegistry) LookupByServerPort(port uint16) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, ok := r.serverPortToSession[port]
	if !ok || len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}
