// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes netpoke's internal counters and windowed
// measurement statistics as Prometheus collectors, gathered behind one
// registry served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/netpoke/netpoke/internal/measure"
)

// windowLabels mirrors measure.Windows' index order: 1s, 10s, 60s.
var windowLabels = [3]string{"1s", "10s", "60s"}

// Registry holds every Prometheus collector netpoke registers.
type Registry struct {
	reg *prometheus.Registry

	trackedPackets prometheus.Gauge
	queuedEvents   prometheus.Gauge
	delayMs        *prometheus.GaugeVec
	jitterMs       *prometheus.GaugeVec
	lossRate       *prometheus.GaugeVec
	throughputBps  *prometheus.GaugeVec
}

// New creates a Registry, pre-registering the standard Go/process
// collectors alongside netpoke's own.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		reg: reg,
		trackedPackets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netpoke_tracked_packets",
			Help: "Packets currently awaiting ICMP correlation or expiry.",
		}),
		queuedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netpoke_queued_events",
			Help: "Matched ICMP events queued for the tracking-events endpoint.",
		}),
		delayMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netpoke_measurement_delay_ms",
			Help: "Average one-way delay per rolling window, most recently observed session.",
		}, []string{"direction", "window"}),
		jitterMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netpoke_measurement_jitter_ms",
			Help: "Delay jitter per rolling window, most recently observed session.",
		}, []string{"direction", "window"}),
		lossRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netpoke_measurement_loss_rate",
			Help: "Packet loss percentage per rolling window, most recently observed session.",
		}, []string{"direction", "window"}),
		throughputBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netpoke_measurement_throughput_bps",
			Help: "Bulk-channel throughput per rolling window, most recently observed session.",
		}, []string{"direction", "window"}),
	}
	reg.MustRegister(r.trackedPackets, r.queuedEvents, r.delayMs, r.jitterMs, r.lossRate, r.throughputBps)
	return r
}

// GetRegistry exposes the registry promhttp.HandlerFor serves.
func (r *Registry) GetRegistry() *prometheus.Registry {
	return r.reg
}

// ObserveTracker updates the tracker occupancy gauges.
func (r *Registry) ObserveTracker(trackedCount, queuedEventCount int) {
	r.trackedPackets.Set(float64(trackedCount))
	r.queuedEvents.Set(float64(queuedEventCount))
}

// ObserveWindow updates direction's per-window gauges from a freshly
// computed measure.Stats snapshot. Gauges are not labeled by session,
// since session IDs are unbounded-cardinality label values Prometheus
// scraping should never see; a deployment wanting per-session values
// instead reads /api/dashboard or the measurement control-channel
// reports.
func (r *Registry) ObserveWindow(direction string, stats measure.Stats) {
	for i, label := range windowLabels {
		w := stats[i]
		r.delayMs.WithLabelValues(direction, label).Set(w.DelayAvgMs)
		r.jitterMs.WithLabelValues(direction, label).Set(w.JitterMs)
		r.lossRate.WithLabelValues(direction, label).Set(w.LossRate)
		r.throughputBps.WithLabelValues(direction, label).Set(w.ThroughputBps)
	}
}
