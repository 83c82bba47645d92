// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package keylog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_Line(t *testing.T) {
	clientRandom := bytes.Repeat([]byte{0x01}, 32)
	masterSecret := bytes.Repeat([]byte{0xaa}, 48)
	e := Entry{ClientRandom: clientRandom, MasterSecret: masterSecret}

	line := e.Line()
	assert.True(t, strings.HasPrefix(line, "CLIENT_RANDOM "))

	parts := strings.Split(line, " ")
	require.Len(t, parts, 3)
	assert.Equal(t, "CLIENT_RANDOM", parts[0])
	assert.Len(t, parts[1], 64)
	assert.Len(t, parts[2], 96)
}

func TestStore_AddAndExport(t *testing.T) {
	s := New(10, true)
	s.Add("session-1", make([]byte, 32), bytes.Repeat([]byte{0xaa}, 48))

	entries := s.Keylogs("session-1")
	require.Len(t, entries, 1)

	content := s.Export("session-1")
	assert.True(t, strings.HasPrefix(content, "CLIENT_RANDOM"))
	assert.True(t, strings.HasSuffix(content, "\n"))

	stats := s.StatsSnapshot()
	assert.Equal(t, 1, stats.SessionsStored)
	assert.Equal(t, 1, stats.TotalEntries)
}

func TestStore_Disabled(t *testing.T) {
	s := New(10, false)
	s.Add("session-1", make([]byte, 32), bytes.Repeat([]byte{0xaa}, 48))
	assert.Empty(t, s.Keylogs("session-1"))
	assert.Equal(t, "", s.Export("session-1"))
}

func TestStore_EmptySessionID_IsNoop(t *testing.T) {
	s := New(10, true)
	s.Add("", make([]byte, 32), make([]byte, 48))
	assert.Equal(t, 0, s.StatsSnapshot().SessionsStored)
}

func TestStore_FIFOEviction(t *testing.T) {
	s := New(2, true)
	s.Add("session-1", make([]byte, 32), bytes.Repeat([]byte{0xaa}, 48))
	s.Add("session-2", make([]byte, 32), bytes.Repeat([]byte{0xbb}, 48))
	s.Add("session-3", make([]byte, 32), bytes.Repeat([]byte{0xcc}, 48))

	assert.Empty(t, s.Keylogs("session-1"), "oldest session should have been evicted")
	assert.Len(t, s.Keylogs("session-2"), 1)
	assert.Len(t, s.Keylogs("session-3"), 1)
}

func TestStore_NoExportWithoutEntries(t *testing.T) {
	s := New(10, true)
	assert.Equal(t, "", s.Export("missing"))
}
