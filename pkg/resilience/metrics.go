// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Resilience Layer
// =============================================================================

var (
	// operationsTotal counts facade operations.
	// Labels: op
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_store",
		Subsystem: "resilience",
		Name:      "operations_total",
		Help:      "Total store operations through the resilient client",
	}, []string{"op"})

	// operationFailures counts failed facade operations.
	// Labels: op
	operationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_store",
		Subsystem: "resilience",
		Name:      "operation_failures_total",
		Help:      "Total failed store operations",
	}, []string{"op"})

	// recoveryAttempts counts recovery pipeline runs.
	recoveryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian_store",
		Subsystem: "resilience",
		Name:      "recovery_attempts_total",
		Help:      "Total recovery pipeline attempts",
	})

	// recoverySuccesses counts recovery pipeline runs that restored health.
	recoverySuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian_store",
		Subsystem: "resilience",
		Name:      "recovery_successes_total",
		Help:      "Total successful recoveries",
	})

	// backupsCreated counts snapshots by reason.
	// Labels: reason
	backupsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_store",
		Subsystem: "resilience",
		Name:      "backups_created_total",
		Help:      "Total backups created",
	}, []string{"reason"})

	// backupsRotated counts snapshots removed by rotation.
	backupsRotated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian_store",
		Subsystem: "resilience",
		Name:      "backups_rotated_total",
		Help:      "Total backups deleted by rotation",
	})

	// backupsRestored counts restores from snapshot.
	backupsRestored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian_store",
		Subsystem: "resilience",
		Name:      "backups_restored_total",
		Help:      "Total snapshot restores",
	})

	// healthChecks counts health report computations.
	// Labels: result (healthy|unhealthy|cached)
	healthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_store",
		Subsystem: "resilience",
		Name:      "health_checks_total",
		Help:      "Total health checks by result",
	}, []string{"result"})
)

// RecoveryMetrics holds process-lifetime counters on the client.
// Cleared only by an explicit ResetMetrics call.
type RecoveryMetrics struct {
	RecoveryAttempts     uint64 `json:"recovery_attempts"`
	SuccessfulRecoveries uint64 `json:"successful_recoveries"`
	TotalOperations      uint64 `json:"total_operations"`
	FailedOperations     uint64 `json:"failed_operations"`
}
