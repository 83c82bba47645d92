// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package measure

import (
	"math"
	"testing"
	"time"
)

func TestEngine_DelayAndJitter(t *testing.T) {
	e := NewEngine()
	base := time.Now()

	e.RecordProbe(1, uint64(base.UnixMilli()), base.Add(10*time.Millisecond))
	e.RecordProbe(2, uint64(base.UnixMilli()), base.Add(20*time.Millisecond))
	e.RecordProbe(3, uint64(base.UnixMilli()), base.Add(30*time.Millisecond))

	snap := e.Snapshot(base.Add(30 * time.Millisecond))
	// window 0 is 1s, covers all three samples
	if snap[0].DelayAvgMs <= 0 {
		t.Fatalf("expected positive average delay, got %v", snap[0].DelayAvgMs)
	}
	if snap[0].JitterMs < 0 {
		t.Fatalf("jitter must not be negative, got %v", snap[0].JitterMs)
	}
}

func TestEngine_LossRate(t *testing.T) {
	e := NewEngine()
	base := time.Now()

	// seq 1,2,4,5 received -> seq 3 missing, expected 5 (1..5), received 4
	for _, seq := range []uint64{1, 2, 4, 5} {
		e.RecordProbe(seq, uint64(base.UnixMilli()), base)
	}

	snap := e.Snapshot(base)
	want := (1.0 / 5.0) * 100
	if math.Abs(snap[0].LossRate-want) > 0.001 {
		t.Fatalf("loss rate = %v, want %v", snap[0].LossRate, want)
	}
}

func TestEngine_LossRateRequiresTwoSamples(t *testing.T) {
	e := NewEngine()
	base := time.Now()
	e.RecordProbe(1, uint64(base.UnixMilli()), base)

	snap := e.Snapshot(base)
	if snap[0].LossRate != 0 {
		t.Fatalf("loss rate with a single sample should be 0, got %v", snap[0].LossRate)
	}
}

func TestEngine_ReorderRate(t *testing.T) {
	e := NewEngine()
	base := time.Now()

	for _, seq := range []uint64{1, 2, 1, 3} {
		e.RecordProbe(seq, uint64(base.UnixMilli()), base)
	}

	snap := e.Snapshot(base)
	want := (1.0 / 4.0) * 100
	if math.Abs(snap[0].ReorderRate-want) > 0.001 {
		t.Fatalf("reorder rate = %v, want %v", snap[0].ReorderRate, want)
	}
}

func TestEngine_Throughput(t *testing.T) {
	e := NewEngine()
	base := time.Now()

	e.RecordBulk(1024, base)
	e.RecordBulk(1024, base)

	snap := e.Snapshot(base)
	want := 2048.0 / 1.0 // 1s window
	if snap[0].ThroughputBps != want {
		t.Fatalf("throughput = %v, want %v", snap[0].ThroughputBps, want)
	}
}

func TestEngine_PruneDropsOldSamples(t *testing.T) {
	e := NewEngine()
	base := time.Now()

	e.RecordProbe(1, uint64(base.UnixMilli()), base)
	e.RecordProbe(2, uint64(base.UnixMilli()), base.Add(90*time.Second))

	snap := e.Snapshot(base.Add(90 * time.Second))
	if snap[2].DelayAvgMs == 0 {
		t.Fatalf("expected the surviving sample to still contribute to the 60s window")
	}
}

func TestEngine_Clear(t *testing.T) {
	e := NewEngine()
	base := time.Now()
	e.RecordProbe(1, uint64(base.UnixMilli()), base)
	e.RecordBulk(1024, base)

	e.Clear()

	snap := e.Snapshot(base)
	if snap[0].DelayAvgMs != 0 || snap[0].ThroughputBps != 0 {
		t.Fatalf("expected empty stats after Clear, got %+v", snap[0])
	}
}

func TestEngine_DelayDistribution(t *testing.T) {
	e := NewEngine()
	base := time.Now()

	for i, delayMs := range []int{10, 20, 30, 40} {
		sent := base.Add(time.Duration(i) * time.Second)
		e.RecordProbe(uint64(i+1), uint64(sent.UnixMilli()), sent.Add(time.Duration(delayMs)*time.Millisecond))
	}

	dist, count := e.DelayDistribution(base.Add(4 * time.Second))
	if count != 4 {
		t.Fatalf("probe count = %d, want 4", count)
	}
	if dist[2] > dist[0] || dist[0] > dist[3] {
		t.Fatalf("expected min <= p50 <= max, got %+v", dist)
	}
	if dist[2] < 9 || dist[3] > 41 {
		t.Fatalf("distribution outside recorded delays: %+v", dist)
	}
}

func TestEngine_JitterDistribution_NeedsTwoSamples(t *testing.T) {
	e := NewEngine()
	base := time.Now()
	e.RecordProbe(1, uint64(base.UnixMilli()), base)

	if got := e.JitterDistribution(base); got != (Distribution{}) {
		t.Fatalf("jitter distribution with one sample should be zero, got %+v", got)
	}
}

func TestStats_ToArray(t *testing.T) {
	var s Stats
	s[0] = WindowStats{DelayAvgMs: 1, JitterMs: 2, LossRate: 3, ReorderRate: 4, ThroughputBps: 5}

	delay, jitter, loss, reorder, throughput := s.ToArray()
	if delay[0] != 1 || jitter[0] != 2 || loss[0] != 3 || reorder[0] != 4 || throughput[0] != 5 {
		t.Fatalf("ToArray did not preserve values: %+v %+v %+v %+v %+v", delay, jitter, loss, reorder, throughput)
	}
}
