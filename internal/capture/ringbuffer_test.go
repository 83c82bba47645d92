// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_OverflowWrapsInPlace(t *testing.T) {
	r := NewRingBuffer(3, 65535)

	for i := 0; i < 5; i++ {
		r.Add(Packet{TsSec: int64(i), Data: []byte{byte(i)}})
	}

	stats := r.StatsSnapshot()
	assert.Equal(t, 3, stats.PacketsInBuffer)
	assert.Equal(t, uint64(5), stats.TotalCaptured)

	got := r.Packets()
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[0].TsSec, "oldest surviving packet first")
	assert.Equal(t, int64(4), got[2].TsSec)
}

func TestRingBuffer_ClearKeepsTotalCaptured(t *testing.T) {
	r := NewRingBuffer(3, 65535)
	r.Add(Packet{TsSec: 1})
	r.Add(Packet{TsSec: 2})

	r.Clear()

	stats := r.StatsSnapshot()
	assert.Equal(t, 0, stats.PacketsInBuffer)
	assert.Equal(t, uint64(2), stats.TotalCaptured, "Clear must not reset the lifetime counter")
}

func TestRingBuffer_PacketsForSession_FiltersInOrder(t *testing.T) {
	r := NewRingBuffer(200, 65535)

	for i := 0; i < 100; i++ {
		id := "A"
		if i%2 == 1 {
			id = "B"
		}
		r.Add(Packet{TsSec: int64(i), SurveySessionID: id})
	}

	got := r.PacketsForSession("A")
	require.Len(t, got, 50)
	for i, p := range got {
		assert.Equal(t, "A", p.SurveySessionID)
		assert.Equal(t, int64(i*2), p.TsSec, fmt.Sprintf("packet %d out of original order", i))
	}
}

func TestRingBuffer_FillBelowCapacity(t *testing.T) {
	r := NewRingBuffer(10, 65535)
	r.Add(Packet{TsSec: 1})
	r.Add(Packet{TsSec: 2})

	got := r.Packets()
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].TsSec)
	assert.Equal(t, int64(2), got[1].TsSec)
}
