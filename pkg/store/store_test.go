// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpoke/netpoke/pkg/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleStats(probeCount uint64) protocol.DirectionStats {
	return protocol.DirectionStats{
		DelayDeviationMs: [4]float64{10, 20, 5, 30},
		JitterMs:         [4]float64{1, 2, 0.5, 3},
		RttMs:            [4]float64{20, 40, 10, 60},
		LossRate:         0.01,
		ReorderRate:      0.0,
		ProbeCount:       probeCount,
		BaselineDelayMs:  8,
	}
}

func TestStore_CreateSurveySession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateSurveySession(ctx, "sess-1", "DEMO", nil))

	key, err := s.MagicKey(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "DEMO", key)
}

func TestStore_MagicKey_UnknownSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key, err := s.MagicKey(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, "", key)
}

func TestStore_SoftDeleteSurveySession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateSurveySession(ctx, "sess-1", "DEMO", nil))
	require.NoError(t, s.SoftDeleteSurveySession(ctx, "sess-1"))

	var deleted int
	err := s.db.QueryRowContext(ctx, "SELECT deleted FROM survey_sessions WHERE session_id = ?", "sess-1").Scan(&deleted)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestStore_RecordProbeStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateSurveySession(ctx, "sess-1", "DEMO", nil))

	c2s := sampleStats(100)
	s2c := sampleStats(200)
	require.NoError(t, s.RecordProbeStats(ctx, "sess-1", "conn-1", 1000, c2s, s2c))

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM survey_metrics WHERE session_id = ? AND source = 'server'", "sess-1").Scan(&count))
	assert.Equal(t, 2, count)

	var direction string
	var probeCount uint64
	require.NoError(t, s.db.QueryRowContext(ctx,
		"SELECT direction, probe_count FROM survey_metrics WHERE session_id = ? AND direction = 'c2s'", "sess-1").
		Scan(&direction, &probeCount))
	assert.Equal(t, "c2s", direction)
	assert.Equal(t, uint64(100), probeCount)
}

func TestStore_RecordClientMetrics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateSurveySession(ctx, "sess-1", "DEMO", nil))

	require.NoError(t, s.RecordClientMetrics(ctx, "sess-1", "conn-1", 1000, sampleStats(42)))

	var source, direction string
	require.NoError(t, s.db.QueryRowContext(ctx,
		"SELECT source, direction FROM survey_metrics WHERE session_id = ?", "sess-1").
		Scan(&source, &direction))
	assert.Equal(t, "client", source)
	assert.Equal(t, "s2c", direction)
}

func TestStore_RecordMetrics_UnknownSessionFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.RecordClientMetrics(ctx, "ghost", "conn-1", 1000, sampleStats(1))
	assert.Error(t, err)
}

func TestStore_Recording_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateSurveySession(ctx, "sess-1", "DEMO", nil))

	require.NoError(t, s.CreateRecording(ctx, "rec-1", "sess-1", 2621440, "/tmp/uploads/rec-1"))

	rec, err := s.GetRecording(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Complete)
	assert.Nil(t, rec.Checksum)

	require.NoError(t, s.CompleteRecording(ctx, "rec-1", "abc123"))

	rec, err = s.GetRecording(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Complete)
	require.NotNil(t, rec.Checksum)
	assert.Equal(t, "abc123", *rec.Checksum)
}

func TestStore_GetRecording_Missing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.GetRecording(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
