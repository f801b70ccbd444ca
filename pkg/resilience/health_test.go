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
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianStore/pkg/logging"
)

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, _ := logging.New(logging.Config{Quiet: true})
	return logger
}

func TestHealthMonitor_HealthyCheck(t *testing.T) {
	checker := &MockIntegrityChecker{}
	probes := 0
	monitor := NewHealthMonitor("/store", time.Minute, checker, HealthHooks{
		Probe: func(ctx context.Context) (ProbeResult, error) {
			probes++
			return ProbeResult{Collections: 2, Documents: 7}, nil
		},
	}, quietLogger(t))

	report := monitor.Check(context.Background(), true)
	if !report.IsHealthy || !report.IntegrityOK {
		t.Fatalf("report = %+v, want healthy", report)
	}
	if report.CollectionCount != 2 || report.DocumentCount != 7 {
		t.Errorf("counts = %d/%d, want 2/7", report.CollectionCount, report.DocumentCount)
	}
	if report.CheckedAt.IsZero() {
		t.Error("CheckedAt not stamped")
	}
	if probes != 1 {
		t.Errorf("probes = %d, want 1", probes)
	}
}

func TestHealthMonitor_IntegrityFailureShortCircuits(t *testing.T) {
	checker := &MockIntegrityChecker{
		CheckFunc: func(ctx context.Context, path string) (bool, string) {
			return false, "manifest torn"
		},
	}
	probes := 0
	monitor := NewHealthMonitor("/store", time.Minute, checker, HealthHooks{
		Probe: func(ctx context.Context) (ProbeResult, error) {
			probes++
			return ProbeResult{}, nil
		},
	}, quietLogger(t))

	report := monitor.Check(context.Background(), true)
	if report.IsHealthy || report.IntegrityOK {
		t.Errorf("report = %+v, want integrity failure", report)
	}
	if report.ErrorMessage != "manifest torn" {
		t.Errorf("ErrorMessage = %q, want integrity diagnostic", report.ErrorMessage)
	}
	// No probe against a store already known to be broken.
	if probes != 0 {
		t.Errorf("probe ran %d times despite integrity failure", probes)
	}
}

func TestHealthMonitor_ProbeFailure(t *testing.T) {
	monitor := NewHealthMonitor("/store", time.Minute, &MockIntegrityChecker{}, HealthHooks{
		Probe: func(ctx context.Context) (ProbeResult, error) {
			return ProbeResult{}, errors.New("connection refused")
		},
	}, quietLogger(t))

	report := monitor.Check(context.Background(), true)
	if report.IsHealthy {
		t.Error("report healthy despite probe failure")
	}
	if !report.IntegrityOK {
		t.Error("IntegrityOK lost on probe failure")
	}
	if report.ErrorMessage != "connection refused" {
		t.Errorf("ErrorMessage = %q", report.ErrorMessage)
	}
}

func TestHealthMonitor_CacheHonoredWithinInterval(t *testing.T) {
	checker := &MockIntegrityChecker{}
	probes := 0
	counts := 0
	monitor := NewHealthMonitor("/store", time.Minute, checker, HealthHooks{
		Probe: func(ctx context.Context) (ProbeResult, error) {
			probes++
			return ProbeResult{Collections: 1, Documents: 3}, nil
		},
		CountDocuments: func(ctx context.Context) (int, error) {
			counts++
			return 9, nil
		},
	}, quietLogger(t))
	ctx := context.Background()

	first := monitor.Check(ctx, false)
	second := monitor.Check(ctx, false)

	if probes != 1 || checker.CheckCount() != 1 {
		t.Errorf("full check ran %d/%d times, want once", probes, checker.CheckCount())
	}
	// Cached read refreshes only the document count.
	if counts != 1 {
		t.Errorf("document count refresh ran %d times, want 1", counts)
	}
	if second.DocumentCount != 9 {
		t.Errorf("cached DocumentCount = %d, want refreshed 9", second.DocumentCount)
	}
	if !second.CheckedAt.Equal(first.CheckedAt) {
		t.Error("cached report recomputed CheckedAt")
	}
}

func TestHealthMonitor_ForceBypassesCache(t *testing.T) {
	checker := &MockIntegrityChecker{}
	monitor := NewHealthMonitor("/store", time.Minute, checker, HealthHooks{
		Probe: func(ctx context.Context) (ProbeResult, error) {
			return ProbeResult{}, nil
		},
	}, quietLogger(t))
	ctx := context.Background()

	monitor.Check(ctx, false)
	monitor.Check(ctx, true)
	if checker.CheckCount() != 2 {
		t.Errorf("forced check served from cache: %d integrity checks", checker.CheckCount())
	}
}

func TestHealthMonitor_ExpiredCacheRecomputes(t *testing.T) {
	checker := &MockIntegrityChecker{}
	monitor := NewHealthMonitor("/store", 10*time.Millisecond, checker, HealthHooks{
		Probe: func(ctx context.Context) (ProbeResult, error) {
			return ProbeResult{}, nil
		},
	}, quietLogger(t))
	ctx := context.Background()

	monitor.Check(ctx, false)
	time.Sleep(20 * time.Millisecond)
	monitor.Check(ctx, false)
	if checker.CheckCount() != 2 {
		t.Errorf("expired cache not recomputed: %d checks", checker.CheckCount())
	}
}

func TestHealthMonitor_Invalidate(t *testing.T) {
	checker := &MockIntegrityChecker{}
	monitor := NewHealthMonitor("/store", time.Minute, checker, HealthHooks{
		Probe: func(ctx context.Context) (ProbeResult, error) {
			return ProbeResult{}, nil
		},
	}, quietLogger(t))
	ctx := context.Background()

	monitor.Check(ctx, false)
	monitor.Invalidate()
	if _, ok := monitor.Cached(); ok {
		t.Error("cache survived Invalidate")
	}
	monitor.Check(ctx, false)
	if checker.CheckCount() != 2 {
		t.Errorf("invalidated cache not recomputed: %d checks", checker.CheckCount())
	}
}

func TestHealthMonitor_ConcurrentForcedChecksShareReports(t *testing.T) {
	release := make(chan struct{})
	checker := &MockIntegrityChecker{
		CheckFunc: func(ctx context.Context, path string) (bool, string) {
			<-release
			return true, "ok"
		},
	}
	monitor := NewHealthMonitor("/store", time.Minute, checker, HealthHooks{
		Probe: func(ctx context.Context) (ProbeResult, error) {
			return ProbeResult{}, nil
		},
	}, quietLogger(t))

	const callers = 10
	reports := make(chan HealthReport, callers)
	for i := 0; i < callers; i++ {
		go func() {
			reports <- monitor.Check(context.Background(), true)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	stamps := make(map[time.Time]int)
	for i := 0; i < callers; i++ {
		report := <-reports
		if !report.IsHealthy {
			t.Errorf("caller %d got unhealthy report", i)
		}
		stamps[report.CheckedAt]++
	}

	// Callers in flight together must share one computed report; a
	// straggler arriving after completion may start a second one.
	if checker.CheckCount() > 2 {
		t.Errorf("%d integrity checks for %d concurrent callers", checker.CheckCount(), callers)
	}
	if len(stamps) != checker.CheckCount() {
		t.Errorf("%d distinct reports from %d checks", len(stamps), checker.CheckCount())
	}
}

func TestHealthMonitor_ReleaseRunsBeforeDeepCheck(t *testing.T) {
	var order []string
	checker := &MockIntegrityChecker{
		CheckFunc: func(ctx context.Context, path string) (bool, string) {
			order = append(order, "check")
			return true, "ok"
		},
	}
	monitor := NewHealthMonitor("/store", time.Minute, checker, HealthHooks{
		Release: func() { order = append(order, "release") },
		Probe: func(ctx context.Context) (ProbeResult, error) {
			order = append(order, "probe")
			return ProbeResult{}, nil
		},
	}, quietLogger(t))

	monitor.Check(context.Background(), true)
	want := []string{"release", "check", "probe"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("hook order = %v, want %v", order, want)
	}
}
