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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianStore/pkg/logging"
)

// =============================================================================
// IntegrityChecker Interface
// =============================================================================

// IntegrityChecker verifies structural soundness of an on-disk store.
//
// # Description
//
// Answers "is this store readable and consistent" without the caller
// holding an open handle. Check never returns an error: any engine
// failure is folded into (false, message) so callers branch on the
// verdict, not on exceptions.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The store directory
// must not be held open by a live handle while Check or Repair runs;
// the engine's directory lock would make the verdict meaningless.
type IntegrityChecker interface {
	// Check verifies the store at path. Returns the verdict and a
	// human-readable message preserved for diagnostics.
	Check(ctx context.Context, path string) (bool, string)

	// Repair attempts a non-destructive structural compaction. Returns
	// whether it completed without failure. Best effort only: callers
	// must re-run Check afterward.
	Repair(ctx context.Context, path string) bool
}

// =============================================================================
// Default Implementation
// =============================================================================

// IntegrityConfig configures DefaultIntegrityChecker.
type IntegrityConfig struct {
	// OpenTimeout bounds how long a verification open may take.
	// Default: 10s.
	OpenTimeout time.Duration

	// GCDiscardRatio is passed to the engine's value-log GC during
	// Repair. Default: 0.5.
	GCDiscardRatio float64

	// FlattenWorkers is the compaction parallelism during Repair.
	// Default: 2.
	FlattenWorkers int
}

// DefaultIntegrityConfig returns production defaults.
func DefaultIntegrityConfig() IntegrityConfig {
	return IntegrityConfig{
		OpenTimeout:    10 * time.Second,
		GCDiscardRatio: 0.5,
		FlattenWorkers: 2,
	}
}

// DefaultIntegrityChecker verifies BadgerDB-backed store directories.
//
// # Description
//
// Check inspects the engine's control files (MANIFEST), then opens the
// store read-only within a bounded timeout and runs the engine's
// checksum verification. A missing directory is valid: the store has
// simply not been created yet.
//
// Repair opens read-write, flattens the LSM tree, and runs value-log
// GC until there is nothing left to rewrite.
type DefaultIntegrityChecker struct {
	config IntegrityConfig
	logger *logging.Logger
}

// NewIntegrityChecker creates a checker. Zero-value config fields are
// replaced with defaults; a nil logger falls back to logging.Default.
func NewIntegrityChecker(config IntegrityConfig, logger *logging.Logger) *DefaultIntegrityChecker {
	defaults := DefaultIntegrityConfig()
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = defaults.OpenTimeout
	}
	if config.GCDiscardRatio <= 0 || config.GCDiscardRatio >= 1 {
		config.GCDiscardRatio = defaults.GCDiscardRatio
	}
	if config.FlattenWorkers <= 0 {
		config.FlattenWorkers = defaults.FlattenWorkers
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultIntegrityChecker{config: config, logger: logger}
}

// Check verifies the store at path.
//
// # Outputs
//
//   - bool: true when the store is structurally sound (or absent).
//   - string: diagnostic message, always non-empty.
func (c *DefaultIntegrityChecker) Check(ctx context.Context, path string) (bool, string) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, "store not yet created"
	}
	if err != nil {
		return false, fmt.Sprintf("cannot stat store directory: %v", err)
	}
	if !info.IsDir() {
		return false, fmt.Sprintf("store path %s is not a directory", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return false, fmt.Sprintf("cannot read store directory: %v", err)
	}
	if len(entries) == 0 {
		return true, "store directory is empty"
	}

	// A populated engine directory always carries a MANIFEST.
	if _, err := os.Stat(filepath.Join(path, "MANIFEST")); err != nil {
		return false, fmt.Sprintf("engine manifest missing or unreadable: %v", err)
	}

	db, err := c.openBounded(ctx, path)
	if err != nil {
		return false, fmt.Sprintf("verification open failed: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			c.logger.Warn("closing verification handle failed", "path", path, "error", err)
		}
	}()

	if err := db.VerifyChecksum(); err != nil {
		return false, fmt.Sprintf("checksum verification failed: %v", err)
	}

	// Confirm the collection catalog is readable end to end.
	count := 0
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("col/")
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return false, fmt.Sprintf("catalog scan failed: %v", err)
	}

	return true, fmt.Sprintf("store verified: %d collections", count)
}

// openResult carries the outcome of an asynchronous engine open.
type openResult struct {
	db  *badger.DB
	err error
}

// openBounded opens the store read-only, abandoning the wait (but not
// the handle) when the timeout elapses.
func (c *DefaultIntegrityChecker) openBounded(ctx context.Context, path string) (*badger.DB, error) {
	ch := make(chan openResult, 1)

	go func() {
		opts := badger.DefaultOptions(path).
			WithReadOnly(true).
			WithLogger(nil)
		db, err := badger.Open(opts)
		ch <- openResult{db: db, err: err}
	}()

	timer := time.NewTimer(c.config.OpenTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.db, res.err
	case <-ctx.Done():
		go drainOpen(ch)
		return nil, ctx.Err()
	case <-timer.C:
		go drainOpen(ch)
		return nil, fmt.Errorf("open exceeded %s", c.config.OpenTimeout)
	}
}

// drainOpen closes a handle from an abandoned open so the directory
// lock is released whenever the open eventually completes.
func drainOpen(ch <-chan openResult) {
	res := <-ch
	if res.db != nil {
		_ = res.db.Close()
	}
}

// Repair compacts the store in place.
func (c *DefaultIntegrityChecker) Repair(ctx context.Context, path string) bool {
	if err := ctx.Err(); err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		c.logger.Warn("repair skipped, store directory unusable", "path", path, "error", err)
		return false
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		c.logger.Error("repair open failed", "path", path, "error", err)
		return false
	}
	defer db.Close()

	if err := db.Flatten(c.config.FlattenWorkers); err != nil {
		c.logger.Error("flatten failed during repair", "path", path, "error", err)
		return false
	}

	// Reclaim value-log space until the engine has nothing to rewrite.
	for {
		err := db.RunValueLogGC(c.config.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			c.logger.Warn("value log GC stopped during repair", "path", path, "error", err)
			break
		}
	}

	c.logger.Info("store repair completed", "path", path)
	return true
}

// Compile-time interface check
var _ IntegrityChecker = (*DefaultIntegrityChecker)(nil)

// =============================================================================
// Mock Implementation
// =============================================================================

// MockIntegrityChecker is a test double for IntegrityChecker.
type MockIntegrityChecker struct {
	// CheckFunc overrides Check. Default verdict: (true, "ok").
	CheckFunc func(ctx context.Context, path string) (bool, string)

	// RepairFunc overrides Repair. Default: true.
	RepairFunc func(ctx context.Context, path string) bool

	mu sync.Mutex

	// CheckCalls records the path of every Check invocation.
	CheckCalls []string

	// RepairCalls records the path of every Repair invocation.
	RepairCalls []string
}

// Check records the call and delegates to CheckFunc.
func (m *MockIntegrityChecker) Check(ctx context.Context, path string) (bool, string) {
	m.mu.Lock()
	m.CheckCalls = append(m.CheckCalls, path)
	m.mu.Unlock()

	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, path)
	}
	return true, "ok"
}

// Repair records the call and delegates to RepairFunc.
func (m *MockIntegrityChecker) Repair(ctx context.Context, path string) bool {
	m.mu.Lock()
	m.RepairCalls = append(m.RepairCalls, path)
	m.mu.Unlock()

	if m.RepairFunc != nil {
		return m.RepairFunc(ctx, path)
	}
	return true
}

// CheckCount returns how many times Check was invoked.
func (m *MockIntegrityChecker) CheckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CheckCalls)
}

// RepairCount returns how many times Repair was invoked.
func (m *MockIntegrityChecker) RepairCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RepairCalls)
}

// Compile-time interface check
var _ IntegrityChecker = (*MockIntegrityChecker)(nil)
