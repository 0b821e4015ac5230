/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics is the A4 observability surface: Prometheus
// collectors for reconcile tick duration, VM state transitions, and
// scaling decisions, served on their own registry rather than the
// global default one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var tickBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics collects every Prometheus series the provider exposes. A nil
// *Metrics is valid and every method on it is a no-op, so callers that
// are not wired to a Metrics instance (most unit tests) need not care.
type Metrics struct {
	registry *prometheus.Registry

	reconcileTickSeconds    *prometheus.HistogramVec
	reconcileTicksTotal     *prometheus.CounterVec
	vmStateTransitionsTotal *prometheus.CounterVec
	scalingDecisionsTotal   *prometheus.CounterVec
	groupDesiredSize        *prometheus.GaugeVec
	groupLiveSize           *prometheus.GaugeVec
}

// New constructs a metrics registry and registers every collector.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		reconcileTickSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ca_proxmox",
				Subsystem: "reconcile",
				Name:      "tick_duration_seconds",
				Help:      "Time spent running one full reconcile tick across every group.",
				Buckets:   tickBuckets,
			},
			[]string{"result"},
		),
		reconcileTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ca_proxmox",
				Subsystem: "reconcile",
				Name:      "ticks_total",
				Help:      "Total reconcile ticks run, by result.",
			},
			[]string{"result"},
		),
		vmStateTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ca_proxmox",
				Subsystem: "vm",
				Name:      "state_transitions_total",
				Help:      "Total VM lifecycle state transitions, by group, from-state and to-state.",
			},
			[]string{"group", "from", "to"},
		),
		scalingDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ca_proxmox",
				Subsystem: "scaling",
				Name:      "decisions_total",
				Help:      "Total node-group scaling operations accepted or rejected, by group, operation and result.",
			},
			[]string{"group", "operation", "result"},
		),
		groupDesiredSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ca_proxmox",
				Subsystem: "group",
				Name:      "desired_size",
				Help:      "Current desired size recorded for a node group.",
			},
			[]string{"group"},
		),
		groupLiveSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ca_proxmox",
				Subsystem: "group",
				Name:      "live_size",
				Help:      "Current number of pending+active VMs observed for a node group.",
			},
			[]string{"group"},
		),
	}

	registry.MustRegister(
		m.reconcileTickSeconds,
		m.reconcileTicksTotal,
		m.vmStateTransitionsTotal,
		m.scalingDecisionsTotal,
		m.groupDesiredSize,
		m.groupLiveSize,
	)

	return m
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReconcileTick records one completed tick's wall-clock duration
// and outcome. result is typically "ok" or "error".
func (m *Metrics) ObserveReconcileTick(duration time.Duration, result string) {
	if m == nil {
		return
	}

	result = orUnknown(result)

	m.reconcileTickSeconds.WithLabelValues(result).Observe(duration.Seconds())
	m.reconcileTicksTotal.WithLabelValues(result).Inc()
}

// IncVMStateTransition records one VM moving from one lifecycle state
// to another within groupID.
func (m *Metrics) IncVMStateTransition(groupID, from, to string) {
	if m == nil {
		return
	}

	m.vmStateTransitionsTotal.WithLabelValues(orUnknown(groupID), orUnknown(from), orUnknown(to)).Inc()
}

// IncScalingDecision records one node-group operation (increase_size,
// decrease_target_size, delete_nodes) and whether it was accepted or
// rejected.
func (m *Metrics) IncScalingDecision(groupID, operation, result string) {
	if m == nil {
		return
	}

	m.scalingDecisionsTotal.WithLabelValues(orUnknown(groupID), orUnknown(operation), orUnknown(result)).Inc()
}

// SetGroupSizes publishes the current desired and live counts for
// groupID, typically called once per reconcile tick.
func (m *Metrics) SetGroupSizes(groupID string, desired, live int) {
	if m == nil {
		return
	}

	groupID = orUnknown(groupID)

	m.groupDesiredSize.WithLabelValues(groupID).Set(float64(desired))
	m.groupLiveSize.WithLabelValues(groupID).Set(float64(live))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}
