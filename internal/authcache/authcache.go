// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package authcache maintains a cache of recently authenticated client
// addresses, consulted when deciding whether to accept a survey
// session from a given peer.
package authcache

import (
	"net/netip"
	"sync"
	"time"
)

// normalize converts an IPv4-mapped IPv6 address (e.g. ::ffff:1.2.3.4)
// to its plain IPv4 form so lookups are consistent regardless of which
// form a given connection surfaced.
func normalize(addr netip.Addr) netip.Addr {
	if addr.Is4In6() {
		return addr.Unmap()
	}
	return addr
}

// Entry records who authenticated from a given address and when.
type Entry struct {
	Addr              netip.Addr
	UserID            string
	DisplayName       string
	LastAuthenticated time.Time
	AuthSource        string
}

// Cache is a thread-safe store of recently authenticated addresses.
type Cache struct {
	mu      sync.RWMutex
	entries map[netip.Addr]Entry
	timeout time.Duration
}

// New creates a Cache whose entries expire after timeout.
func New(timeout time.Duration) *Cache {
	return &Cache{
		entries: make(map[netip.Addr]Entry),
		timeout: timeout,
	}
}

// RecordAuth records that addr authenticated as userID via authSource.
func (c *Cache) RecordAuth(addr netip.Addr, userID, displayName, authSource string) {
	normalized := normalize(addr)
	entry := Entry{
		Addr:              normalized,
		UserID:            userID,
		DisplayName:       displayName,
		LastAuthenticated: time.Now(),
		AuthSource:        authSource,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[normalized] = entry
}

// RefreshAuth updates the timestamp of an existing entry without
// changing any other field. It returns false if no entry exists.
func (c *Cache) RefreshAuth(addr netip.Addr) bool {
	normalized := normalize(addr)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[normalized]
	if !ok {
		return false
	}
	entry.LastAuthenticated = time.Now()
	c.entries[normalized] = entry
	return true
}

// CheckAuth returns the entry for addr if it exists and has not
// expired. It does not delete expired entries; CleanupExpired does.
func (c *Cache) CheckAuth(addr netip.Addr) (Entry, bool) {
	normalized := normalize(addr)

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[normalized]
	if !ok || time.Since(entry.LastAuthenticated) >= c.timeout {
		return Entry{}, false
	}
	return entry, true
}

// IsAuthenticated is a boolean convenience wrapper over CheckAuth.
func (c *Cache) IsAuthenticated(addr netip.Addr) bool {
	_, ok := c.CheckAuth(addr)
	return ok
}

// CleanupExpired removes entries whose timeout has elapsed.
func (c *Cache) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for addr, entry := range c.entries {
		if now.Sub(entry.LastAuthenticated) >= c.timeout {
			delete(c.entries, addr)
		}
	}
}

// AllValid returns all currently unexpired entries.
func (c *Cache) AllValid() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	out := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		if now.Sub(entry.LastAuthenticated) < c.timeout {
			out = append(out, entry)
		}
	}
	return out
}

// Timeout returns the configured validity window.
func (c *Cache) Timeout() time.Duration {
	return c.timeout
}
