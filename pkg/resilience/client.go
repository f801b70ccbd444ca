// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience wraps a persistent document/vector store with
// health monitoring, snapshot backups, and multi-stage failure
// recovery (repair, restore, fresh start).
//
// Applications talk to the Client facade; the lower-level pieces
// (IntegrityChecker, BackupManager, HealthMonitor) are exported for
// direct use in tooling.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianStore/pkg/circuit"
	"github.com/AleutianAI/AleutianStore/pkg/logging"
	"github.com/AleutianAI/AleutianStore/pkg/vectorstore"
)

// EmbeddingBreakerName is the registry key of the breaker guarding the
// embedding provider.
const EmbeddingBreakerName = "embeddings"

// Config configures the resilient store client.
type Config struct {
	// PersistDirectory is the store's on-disk location. Required.
	PersistDirectory string `yaml:"persist_directory"`

	// CollectionName is the collection all facade operations target.
	// Required.
	CollectionName string `yaml:"collection_name"`

	// AutoBackup enables startup and pre-write snapshots.
	AutoBackup bool `yaml:"auto_backup"`

	// MaxRetries bounds connect attempts during recovery. Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base delay between connect attempts; attempt n
	// waits RetryDelay * n. Default: 1s.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// MaxBackups is the snapshot retention count. Default: 5.
	MaxBackups int `yaml:"max_backups"`

	// HealthCheckInterval is how long a health report stays cached.
	// Default: 60s.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// FailureThreshold, SuccessThreshold, and BreakerTimeout configure
	// breakers created by this client's registry.
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`

	// QueryCacheSize is the LRU capacity for query results. Default: 128.
	QueryCacheSize int `yaml:"query_cache_size"`
}

// DefaultConfig returns production defaults. PersistDirectory and
// CollectionName must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		AutoBackup:          true,
		MaxRetries:          3,
		RetryDelay:          time.Second,
		MaxBackups:          5,
		HealthCheckInterval: 60 * time.Second,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		BreakerTimeout:      30 * time.Second,
		QueryCacheSize:      128,
	}
}

// applyDefaults fills zero-value fields.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = defaults.MaxBackups
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaults.SuccessThreshold
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = defaults.BreakerTimeout
	}
	if c.QueryCacheSize <= 0 {
		c.QueryCacheSize = defaults.QueryCacheSize
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.PersistDirectory == "" {
		return errors.New("persist_directory is required")
	}
	if c.CollectionName == "" {
		return errors.New("collection_name is required")
	}
	return nil
}

// Status is the client's self-description for diagnostics.
type Status struct {
	Health        HealthReport              `json:"health"`
	Metrics       RecoveryMetrics           `json:"metrics"`
	RecentBackups []BackupRecord            `json:"recent_backups"`
	Breakers      map[string]circuit.Status `json:"breakers"`
}

// Client is the resilient store facade.
//
// # Description
//
// Composes health monitoring, snapshot backups, and the recovery
// pipeline around CRUD-style store operations. The underlying store
// handle is a shared resource the client may discard and recreate
// during recovery; callers never hold a collection handle across
// operations.
//
// # Thread Safety
//
// Safe for concurrent use. One mutex serializes every operation,
// backup, and recovery step against the store, so reads issued during
// a recovery block until it completes.
type Client struct {
	config   Config
	driver   vectorstore.Driver
	embedder vectorstore.Embedder
	registry *circuit.Registry

	backups   BackupManager
	integrity IntegrityChecker
	monitor   *HealthMonitor
	logger    *logging.Logger
	tracer    trace.Tracer

	// mu guards store, metrics, ready, and watcher, and serializes all
	// operations, backups, and recovery. The health monitor's hooks
	// run with mu already held and must not reacquire it.
	mu      sync.Mutex
	store   vectorstore.Store
	metrics RecoveryMetrics
	ready   bool
	watcher *StoreWatcher

	queryCache *lru.Cache[string, []vectorstore.QueryResult]
}

// NewClient wires a client from its parts. The registry may be shared
// across components or nil to create a private one. No connection is
// made until EnsureHealthy or the first operation.
func NewClient(config Config, driver vectorstore.Driver, embedder vectorstore.Embedder,
	registry *circuit.Registry, logger *logging.Logger) (*Client, error) {

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, errors.New("store driver is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if registry == nil {
		registry = circuit.NewRegistry(circuit.Config{
			FailureThreshold: config.FailureThreshold,
			SuccessThreshold: config.SuccessThreshold,
			Timeout:          config.BreakerTimeout,
		})
	}

	backups, err := NewBackupManager(BackupConfig{
		StorePath:  config.PersistDirectory,
		MaxBackups: config.MaxBackups,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create backup manager: %w", err)
	}

	cache, err := lru.New[string, []vectorstore.QueryResult](config.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	c := &Client{
		config:     config,
		driver:     driver,
		embedder:   embedder,
		registry:   registry,
		backups:    backups,
		integrity:  NewIntegrityChecker(IntegrityConfig{}, logger),
		logger:     logger.With("component", "resilient_client"),
		tracer:     otel.Tracer("github.com/AleutianAI/AleutianStore/pkg/resilience"),
		queryCache: cache,
	}
	c.monitor = NewHealthMonitor(config.PersistDirectory, config.HealthCheckInterval,
		c.integrity, HealthHooks{
			Release:        c.releaseLocked,
			Probe:          c.probeLocked,
			CountDocuments: c.countLocked,
		}, logger)
	return c, nil
}

// Backups exposes the backup manager for tooling (scheduler, CLI).
func (c *Client) Backups() BackupManager {
	return c.backups
}

// Registry exposes the breaker registry for diagnostics.
func (c *Client) Registry() *circuit.Registry {
	return c.registry
}

// =============================================================================
// Connection Management
// =============================================================================

// releaseLocked closes and discards the store handle. Caller holds mu.
func (c *Client) releaseLocked() {
	if c.store == nil {
		return
	}
	if err := c.store.Close(); err != nil {
		c.logger.Warn("closing store handle failed", "error", err)
	}
	c.store = nil
}

// connectLocked ensures a live handle, dialing with retry if absent.
// Caller holds mu.
func (c *Client) connectLocked(ctx context.Context) error {
	if c.store != nil {
		return nil
	}
	store, err := connectWithRetry(ctx, c.driver, c.config.PersistDirectory,
		c.config.MaxRetries, c.config.RetryDelay, c.logger)
	if err != nil {
		return err
	}
	c.store = store
	return nil
}

// probeLocked is the health monitor's connectivity probe: (re)acquire
// the connection and list collections. Caller holds mu via the monitor.
func (c *Client) probeLocked(ctx context.Context) (ProbeResult, error) {
	if c.store == nil {
		store, err := c.driver.Connect(ctx, c.config.PersistDirectory)
		if err != nil {
			return ProbeResult{}, &ConnectivityError{Path: c.config.PersistDirectory, Err: err}
		}
		c.store = store
	}

	collections, err := c.store.ListCollections(ctx)
	if err != nil {
		return ProbeResult{}, &ConnectivityError{Path: c.config.PersistDirectory, Err: err}
	}

	documents := 0
	for _, name := range collections {
		if name == c.config.CollectionName {
			col, err := c.store.GetOrCreateCollection(ctx, c.config.CollectionName)
			if err != nil {
				return ProbeResult{}, &ConnectivityError{Path: c.config.PersistDirectory, Err: err}
			}
			if documents, err = col.Count(ctx); err != nil {
				return ProbeResult{}, &ConnectivityError{Path: c.config.PersistDirectory, Err: err}
			}
			break
		}
	}
	return ProbeResult{Collections: len(collections), Documents: documents}, nil
}

// countLocked cheaply refreshes the document count for cached health
// reads. Caller holds mu via the monitor.
func (c *Client) countLocked(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, errors.New("no live store handle")
	}
	col, err := c.store.GetOrCreateCollection(ctx, c.config.CollectionName)
	if err != nil {
		return 0, err
	}
	return col.Count(ctx)
}

// =============================================================================
// Recovery Pipeline
// =============================================================================

// EnsureHealthy verifies the store is usable, running the recovery
// pipeline if it is not. Call at process startup and on demand.
//
// # Outputs
//
//   - error: nil when healthy (possibly after recovery);
//     *RecoveryExhaustedError when every pipeline step failed — the
//     caller must not report itself ready.
func (c *Client) EnsureHealthy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureHealthyLocked(ctx)
}

func (c *Client) ensureHealthyLocked(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "resilience.EnsureHealthy")
	defer span.End()

	// An already-verified client takes the cached fast path: no second
	// startup backup, no forced re-check inside the interval.
	if c.ready {
		report := c.monitor.Check(ctx, false)
		if report.IsHealthy {
			return nil
		}
		c.ready = false
	}

	// Step 1: startup snapshot, best effort.
	if c.config.AutoBackup && dirExists(c.config.PersistDirectory) {
		c.backups.CreateBackup(ctx, ReasonStartup)
	}

	// Step 2: forced health check.
	report := c.monitor.Check(ctx, true)
	if report.IsHealthy {
		c.ready = true
		return nil
	}

	c.metrics.RecoveryAttempts++
	recoveryAttempts.Inc()
	c.logger.Warn("store unhealthy, starting recovery",
		"operation", "ensure_healthy", "category", "recovery",
		"message", report.ErrorMessage)

	// Step 3: in-place repair when integrity failed.
	if !report.IntegrityOK {
		c.releaseLocked()
		if c.integrity.Repair(ctx, c.config.PersistDirectory) {
			report = c.monitor.Check(ctx, true)
			if report.IsHealthy {
				c.recoverySucceeded("repair")
				return nil
			}
		}
	}

	// Step 4: restore the newest snapshot.
	latest, err := c.backups.GetLatestBackup()
	if err != nil {
		c.logger.Warn("listing backups failed during recovery", "error", err)
	}
	if latest != nil {
		c.releaseLocked()
		if err := c.backups.RestoreBackup(ctx, latest.Name); err != nil {
			c.logger.Error("restore failed during recovery",
				"backup", latest.Name, "error", err)
		} else if err := c.connectLocked(ctx); err != nil {
			c.logger.Error("reconnect failed after restore",
				"backup", latest.Name, "error", err)
		} else {
			report = c.monitor.Check(ctx, true)
			if report.IsHealthy {
				c.recoverySucceeded("restore")
				return nil
			}
		}
	}

	// Step 5: fresh start. The old store is moved aside, never deleted.
	c.releaseLocked()
	if dirExists(c.config.PersistDirectory) {
		aside, err := c.backups.MoveStoreAside()
		if err != nil {
			c.logger.Error("moving corrupt store aside failed", "error", err)
		} else {
			c.logger.Warn("corrupt store preserved", "path", aside)
		}
	}
	if err := c.connectLocked(ctx); err != nil {
		// Step 6 exhausted: fatal.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("recovery exhausted",
			"operation", "ensure_healthy", "category", "fatal", "error", err)
		return err
	}
	c.monitor.Invalidate()
	c.recoverySucceeded("fresh_start")
	return nil
}

func (c *Client) recoverySucceeded(step string) {
	c.metrics.SuccessfulRecoveries++
	recoverySuccesses.Inc()
	c.ready = true
	c.queryCache.Purge()
	c.logger.Info("recovery succeeded", "step", step)
}

// =============================================================================
// Safe Operation Wrapper
// =============================================================================

// safeOperation runs one store operation with the resilience contract:
// pre-write snapshot for mutating kinds, failure accounting, forced
// health check and recovery on failure. The original error always
// reaches the caller — recovery restores future calls, it never
// silently replays a side-effecting one.
func (c *Client) safeOperation(ctx context.Context, op string, mutating bool,
	fn func(ctx context.Context, store vectorstore.Store, col vectorstore.Collection) error) error {

	ctx, span := c.tracer.Start(ctx, "resilience."+op)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.TotalOperations++
	operationsTotal.WithLabelValues(op).Inc()

	err := func() error {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
		if mutating && c.config.AutoBackup {
			c.backups.CreateBackup(ctx, BeforeReason(op))
		}
		col, err := c.store.GetOrCreateCollection(ctx, c.config.CollectionName)
		if err != nil {
			return err
		}
		return fn(ctx, c.store, col)
	}()

	if err == nil {
		if mutating {
			c.queryCache.Purge()
		}
		return nil
	}

	c.metrics.FailedOperations++
	operationFailures.WithLabelValues(op).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Error("store operation failed",
		"operation", op, "category", errorCategory(err), "error", err)

	// Every failure forces a re-check, not just typed health errors:
	// engine corruption on the read path surfaces as plain errors.
	// errorCategory above is log classification only.
	report := c.monitor.Check(ctx, true)
	if !report.IsHealthy {
		if rerr := c.ensureHealthyLocked(ctx); rerr != nil {
			c.logger.Error("recovery failed after operation failure",
				"operation", op, "error", rerr)
		}
	}

	return &OperationError{Op: op, Err: err}
}

// errorCategory tags an error for logs. Classification is by type.
func errorCategory(err error) string {
	var connectivity *ConnectivityError
	var integrity *IntegrityError
	var exhausted *RecoveryExhaustedError
	var rejected *circuit.RejectedError
	switch {
	case errors.As(err, &exhausted):
		return "fatal"
	case errors.As(err, &integrity):
		return "integrity"
	case errors.As(err, &connectivity), errors.Is(err, vectorstore.ErrStoreClosed):
		return "connectivity"
	case errors.As(err, &rejected):
		return "rejected"
	default:
		return "operation"
	}
}

// =============================================================================
// Facade Operations
// =============================================================================

// AddDocuments embeds (when needed) and stores documents, returning
// their IDs.
//
// # Inputs
//
//   - contents: Document texts. Required.
//   - embeddings: Optional pre-computed vectors, one per content. When
//     nil the configured embedding provider is called, guarded by the
//     "embeddings" circuit breaker.
//   - metadatas: Optional per-document metadata, one per content.
//   - ids: Optional IDs; generated when nil.
func (c *Client) AddDocuments(ctx context.Context, contents []string,
	embeddings [][]float32, metadatas []map[string]string, ids []string) ([]string, error) {

	if len(contents) == 0 {
		return nil, nil
	}
	if embeddings != nil && len(embeddings) != len(contents) {
		return nil, fmt.Errorf("got %d embeddings for %d contents", len(embeddings), len(contents))
	}
	if metadatas != nil && len(metadatas) != len(contents) {
		return nil, fmt.Errorf("got %d metadatas for %d contents", len(metadatas), len(contents))
	}
	if ids != nil && len(ids) != len(contents) {
		return nil, fmt.Errorf("got %d ids for %d contents", len(ids), len(contents))
	}

	if embeddings == nil {
		if c.embedder == nil {
			return nil, errors.New("no embeddings given and no embedding provider configured")
		}
		breaker := c.registry.Get(EmbeddingBreakerName)
		vectors, err := circuit.Do(ctx, breaker, func(ctx context.Context) ([][]float32, error) {
			return c.embedder.Embed(ctx, contents)
		})
		if err != nil {
			return nil, fmt.Errorf("embed %d documents: %w", len(contents), err)
		}
		embeddings = vectors
	}

	if ids == nil {
		ids = make([]string, len(contents))
		for i := range ids {
			ids[i] = uuid.NewString()
		}
	}

	docs := make([]vectorstore.Document, len(contents))
	now := time.Now().UTC()
	for i, content := range contents {
		docs[i] = vectorstore.Document{
			ID:        ids[i],
			Content:   content,
			Embedding: embeddings[i],
			AddedAt:   now,
		}
		if metadatas != nil {
			docs[i].Metadata = metadatas[i]
		}
	}

	err := c.safeOperation(ctx, "add", true,
		func(ctx context.Context, _ vectorstore.Store, col vectorstore.Collection) error {
			return col.Add(ctx, docs)
		})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// QueryRequest describes one similarity query. Exactly one of Text or
// Embedding must be set.
type QueryRequest struct {
	// Text is embedded via the configured provider.
	Text string

	// Embedding is used directly when set.
	Embedding []float32

	// NResults caps the hit count. Default: 10.
	NResults int

	// Where filters hits by metadata equality.
	Where vectorstore.Where

	// Include selects result fields (vectorstore.IncludeDocuments etc).
	// Default: documents and metadatas.
	Include []string
}

// Query returns ranked hits for the request. Results are served from
// an LRU cache that every mutation purges.
func (c *Client) Query(ctx context.Context, req QueryRequest) ([]vectorstore.QueryResult, error) {
	if req.NResults <= 0 {
		req.NResults = 10
	}
	if req.Include == nil {
		req.Include = []string{vectorstore.IncludeDocuments, vectorstore.IncludeMetadatas}
	}

	if req.Embedding == nil {
		if req.Text == "" {
			return nil, errors.New("query needs text or an embedding")
		}
		if c.embedder == nil {
			return nil, errors.New("text query given but no embedding provider configured")
		}
		breaker := c.registry.Get(EmbeddingBreakerName)
		vectors, err := circuit.Do(ctx, breaker, func(ctx context.Context) ([][]float32, error) {
			return c.embedder.Embed(ctx, []string{req.Text})
		})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		req.Embedding = vectors[0]
	}

	key := queryCacheKey(req)
	if hits, ok := c.queryCache.Get(key); ok {
		return hits, nil
	}

	var hits []vectorstore.QueryResult
	err := c.safeOperation(ctx, "query", false,
		func(ctx context.Context, _ vectorstore.Store, col vectorstore.Collection) error {
			var qerr error
			hits, qerr = col.Query(ctx, req.Embedding, req.NResults, req.Where, req.Include)
			return qerr
		})
	if err != nil {
		return nil, err
	}

	c.queryCache.Add(key, hits)
	return hits, nil
}

// queryCacheKey serializes the request into a canonical fingerprint.
// The full fingerprint is the cache key, so distinct requests can
// never alias each other the way a bare hash could. Filter keys are
// walked in sorted order and filter strings are quoted so equal
// requests always serialize alike and unequal ones never do.
func queryCacheKey(req QueryRequest) string {
	var b strings.Builder
	for _, v := range req.Embedding {
		fmt.Fprintf(&b, "%x,", v)
	}
	fmt.Fprintf(&b, "|%d|", req.NResults)

	keys := make([]string, 0, len(req.Where))
	for k := range req.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%q=%q;", k, req.Where[k])
	}

	for _, inc := range req.Include {
		fmt.Fprintf(&b, "+%q", inc)
	}
	return b.String()
}

// Delete removes documents by ID and/or metadata filter.
func (c *Client) Delete(ctx context.Context, ids []string, where vectorstore.Where) error {
	return c.safeOperation(ctx, "delete", true,
		func(ctx context.Context, _ vectorstore.Store, col vectorstore.Collection) error {
			return col.Delete(ctx, ids, where)
		})
}

// Count returns the number of documents in the collection.
func (c *Client) Count(ctx context.Context) (int, error) {
	var count int
	err := c.safeOperation(ctx, "count", false,
		func(ctx context.Context, _ vectorstore.Store, col vectorstore.Collection) error {
			var cerr error
			count, cerr = col.Count(ctx)
			return cerr
		})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Clear destroys and recreates the collection, always preceded by a
// before_clear snapshot when AutoBackup is enabled.
func (c *Client) Clear(ctx context.Context) error {
	return c.safeOperation(ctx, "clear", true,
		func(ctx context.Context, store vectorstore.Store, _ vectorstore.Collection) error {
			if err := store.DeleteCollection(ctx, c.config.CollectionName); err != nil {
				return err
			}
			_, err := store.GetOrCreateCollection(ctx, c.config.CollectionName)
			return err
		})
}

// GetStatus reports health, lifetime metrics, recent backups, and
// breaker states.
func (c *Client) GetStatus(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Health:   c.monitor.Check(ctx, false),
		Metrics:  c.metrics,
		Breakers: c.registry.Status(),
	}
	if backups, err := c.backups.ListBackups(); err == nil {
		status.RecentBackups = backups
	} else {
		c.logger.Warn("listing backups for status failed", "error", err)
	}
	return status
}

// ResetMetrics clears the lifetime counters. Explicit API only.
func (c *Client) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = RecoveryMetrics{}
}

// StartWatcher begins invalidating cached health state on external
// store file changes. The store directory must exist.
func (c *Client) StartWatcher() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return nil
	}
	watcher, err := NewStoreWatcher(c.config.PersistDirectory, c.monitor.Invalidate, c.logger)
	if err != nil {
		return err
	}
	c.watcher = watcher
	return nil
}

// Close releases the store handle and stops the watcher.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.watcher != nil {
		err = c.watcher.Close()
		c.watcher = nil
	}
	c.releaseLocked()
	c.ready = false
	return err
}

// dirExists reports whether path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
