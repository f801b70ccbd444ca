// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package circuit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Circuit Breakers
// =============================================================================

var (
	// breakerState exposes the current state per breaker
	// (0=closed, 1=open, 2=half-open).
	// Labels: name
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "aleutian_store",
		Subsystem: "circuit",
		Name:      "state",
		Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"name"})

	// breakerTransitions counts state transitions.
	// Labels: name, from, to
	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_store",
		Subsystem: "circuit",
		Name:      "transitions_total",
		Help:      "Total circuit breaker state transitions",
	}, []string{"name", "from", "to"})

	// breakerRejections counts calls rejected while open.
	// Labels: name
	breakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_store",
		Subsystem: "circuit",
		Name:      "rejections_total",
		Help:      "Total calls rejected by an open circuit breaker",
	}, []string{"name"})
)

// recordBreakerState publishes the current state gauge for a breaker.
func recordBreakerState(name string, state State) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// recordTransition counts a state transition.
func recordTransition(name string, from, to State) {
	breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// recordRejection counts a fast-failed call.
func recordRejection(name string) {
	breakerRejections.WithLabelValues(name).Inc()
}
