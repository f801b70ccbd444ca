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
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianStore/pkg/logging"
)

// HealthReport is a point-in-time judgment of whether the store is
// usable. Ephemeral value object; recomputed on demand and cached for
// the configured interval.
type HealthReport struct {
	// IsHealthy is the overall verdict.
	IsHealthy bool `json:"is_healthy"`

	// CollectionCount is the number of collections observed by the
	// connectivity probe.
	CollectionCount int `json:"collection_count"`

	// DocumentCount is the number of documents in the client's
	// collection.
	DocumentCount int `json:"document_count"`

	// IntegrityOK is the structural verdict from the integrity checker.
	IntegrityOK bool `json:"integrity_ok"`

	// ErrorMessage carries the failure diagnostic when unhealthy.
	ErrorMessage string `json:"error_message,omitempty"`

	// CheckedAt is when this report was computed.
	CheckedAt time.Time `json:"checked_at"`
}

// ProbeResult is what a successful connectivity probe observed.
type ProbeResult struct {
	Collections int
	Documents   int
}

// HealthHooks are the callbacks a HealthMonitor needs from the
// component that owns the store connection.
type HealthHooks struct {
	// Release quiesces any live store handle before a deep check, so
	// the integrity checker can take the engine's directory lock.
	Release func()

	// Probe (re)acquires the store connection and lists collections.
	// Success means the store is reachable.
	Probe func(ctx context.Context) (ProbeResult, error)

	// CountDocuments cheaply refreshes the document count on cached
	// reads. Optional.
	CountDocuments func(ctx context.Context) (int, error)
}

// HealthMonitor produces cached HealthReports.
//
// # Description
//
// A full check releases the live handle, runs the integrity checker,
// and on a clean verdict probes connectivity. Integrity failure
// short-circuits: no probe is attempted against a store already known
// to be structurally broken. Reports younger than the interval are
// served from cache with only the document count refreshed.
//
// Concurrent forced checks are deduplicated; every waiter receives the
// same report.
//
// # Thread Safety
//
// Safe for concurrent use.
type HealthMonitor struct {
	interval time.Duration
	path     string
	checker  IntegrityChecker
	hooks    HealthHooks
	logger   *logging.Logger

	mu     sync.Mutex
	cached *HealthReport

	group singleflight.Group
}

// NewHealthMonitor creates a monitor. A non-positive interval defaults
// to 60s; a nil logger falls back to logging.Default.
func NewHealthMonitor(path string, interval time.Duration, checker IntegrityChecker,
	hooks HealthHooks, logger *logging.Logger) *HealthMonitor {

	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthMonitor{
		interval: interval,
		path:     path,
		checker:  checker,
		hooks:    hooks,
		logger:   logger,
	}
}

// Check returns a health report, honoring the cache unless force is set.
func (m *HealthMonitor) Check(ctx context.Context, force bool) HealthReport {
	if !force {
		if report, ok := m.cachedReport(ctx); ok {
			healthChecks.WithLabelValues("cached").Inc()
			return report
		}
	}

	v, _, _ := m.group.Do("check", func() (interface{}, error) {
		return m.fullCheck(ctx), nil
	})
	return v.(HealthReport)
}

// cachedReport serves a fresh-enough cached report, refreshing only
// the document count.
func (m *HealthMonitor) cachedReport(ctx context.Context) (HealthReport, bool) {
	m.mu.Lock()
	if m.cached == nil || time.Since(m.cached.CheckedAt) >= m.interval {
		m.mu.Unlock()
		return HealthReport{}, false
	}
	report := *m.cached
	m.mu.Unlock()

	if m.hooks.CountDocuments != nil && report.IsHealthy {
		if count, err := m.hooks.CountDocuments(ctx); err == nil {
			report.DocumentCount = count
			m.mu.Lock()
			if m.cached != nil {
				m.cached.DocumentCount = count
			}
			m.mu.Unlock()
		}
	}
	return report, true
}

// fullCheck computes and caches a fresh report.
func (m *HealthMonitor) fullCheck(ctx context.Context) HealthReport {
	report := HealthReport{CheckedAt: time.Now().UTC()}

	if m.hooks.Release != nil {
		m.hooks.Release()
	}

	ok, message := m.checker.Check(ctx, m.path)
	report.IntegrityOK = ok
	if !ok {
		report.ErrorMessage = message
		m.logger.Warn("integrity check failed", "path", m.path, "message", message)
		m.store(report)
		healthChecks.WithLabelValues("unhealthy").Inc()
		return report
	}

	result, err := m.hooks.Probe(ctx)
	if err != nil {
		report.ErrorMessage = err.Error()
		m.logger.Warn("connectivity probe failed", "path", m.path, "error", err)
		m.store(report)
		healthChecks.WithLabelValues("unhealthy").Inc()
		return report
	}

	report.IsHealthy = true
	report.CollectionCount = result.Collections
	report.DocumentCount = result.Documents
	m.store(report)
	healthChecks.WithLabelValues("healthy").Inc()
	return report
}

// store replaces the cached report.
func (m *HealthMonitor) store(report HealthReport) {
	m.mu.Lock()
	m.cached = &report
	m.mu.Unlock()
}

// Invalidate drops the cached report so the next Check recomputes.
// Called when store files change underneath the client.
func (m *HealthMonitor) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// Cached returns the current cached report without triggering a check.
func (m *HealthMonitor) Cached() (HealthReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached == nil {
		return HealthReport{}, false
	}
	return *m.cached, true
}
