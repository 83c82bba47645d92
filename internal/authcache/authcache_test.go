// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package authcache

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return a
}

func TestNormalize_V4MappedV6(t *testing.T) {
	mapped := mustAddr(t, "::ffff:37.228.235.27")
	plain := mustAddr(t, "37.228.235.27")
	assert.Equal(t, plain, normalize(mapped))
}

func TestNormalize_PlainAddressesUnchanged(t *testing.T) {
	v4 := mustAddr(t, "192.0.2.1")
	assert.Equal(t, v4, normalize(v4))

	v6 := mustAddr(t, "2001:db8::1")
	assert.Equal(t, v6, normalize(v6))
}

func TestCache_RecordThenCheckWithMappedForm(t *testing.T) {
	c := New(60 * time.Second)
	plain := mustAddr(t, "192.0.2.1")
	c.RecordAuth(plain, "user1", "", "test")

	mapped := mustAddr(t, "::ffff:192.0.2.1")
	_, ok := c.CheckAuth(mapped)
	assert.True(t, ok)
}

func TestCache_RecordWithMappedThenCheckWithPlain(t *testing.T) {
	c := New(60 * time.Second)
	mapped := mustAddr(t, "::ffff:192.0.2.1")
	c.RecordAuth(mapped, "user1", "", "test")

	plain := mustAddr(t, "192.0.2.1")
	_, ok := c.CheckAuth(plain)
	assert.True(t, ok)
}

func TestCache_BothFormsAgree(t *testing.T) {
	c := New(60 * time.Second)
	plain := mustAddr(t, "37.228.235.27")
	c.RecordAuth(plain, "user1", "User One", "oauth")

	mapped := mustAddr(t, "::ffff:37.228.235.27")
	e1, ok1 := c.CheckAuth(plain)
	e2, ok2 := c.CheckAuth(mapped)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, e1.UserID, e2.UserID)
}

func TestCache_ExpiresAfterTimeout(t *testing.T) {
	c := New(1 * time.Millisecond)
	addr := mustAddr(t, "192.0.2.1")
	c.RecordAuth(addr, "user1", "", "test")
	time.Sleep(5 * time.Millisecond)

	_, ok := c.CheckAuth(addr)
	assert.False(t, ok)
}

func TestCache_CheckAuth_DoesNotDeleteExpiredEntries(t *testing.T) {
	c := New(1 * time.Millisecond)
	addr := mustAddr(t, "192.0.2.1")
	c.RecordAuth(addr, "user1", "", "test")
	time.Sleep(5 * time.Millisecond)

	c.CheckAuth(addr)
	assert.Len(t, c.AllValid(), 0)

	c.mu.RLock()
	_, stillPresent := c.entries[addr]
	c.mu.RUnlock()
	assert.True(t, stillPresent, "CheckAuth must not evict expired entries itself")
}

func TestCache_CleanupExpired_RemovesStaleEntries(t *testing.T) {
	c := New(1 * time.Millisecond)
	addr := mustAddr(t, "192.0.2.1")
	c.RecordAuth(addr, "user1", "", "test")
	time.Sleep(5 * time.Millisecond)

	c.CleanupExpired()

	c.mu.RLock()
	_, stillPresent := c.entries[addr]
	c.mu.RUnlock()
	assert.False(t, stillPresent)
}

func TestCache_RefreshAuth(t *testing.T) {
	c := New(60 * time.Second)
	addr := mustAddr(t, "192.0.2.1")

	assert.False(t, c.RefreshAuth(addr), "refreshing unknown address should fail")

	c.RecordAuth(addr, "user1", "", "test")
	assert.True(t, c.RefreshAuth(addr))
}
