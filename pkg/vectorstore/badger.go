// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout inside BadgerDB:
//
//	col/<name>          -> collectionMeta (JSON)
//	doc/<name>/<id>     -> Document (JSON)
//
// Collection names must not contain '/' so prefixes stay unambiguous.
const (
	collectionKeyPrefix = "col/"
	documentKeyPrefix   = "doc/"
)

// collectionMeta is the catalog entry for one collection.
type collectionMeta struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// BadgerConfig configures the embedded driver.
type BadgerConfig struct {
	// SyncWrites enables synchronous writes for durability.
	// Default: true. Disable only in tests.
	SyncWrites bool

	// Logger receives engine-level log output. If nil, the engine's
	// internal logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{SyncWrites: true}
}

// BadgerDriver opens embedded BadgerDB-backed stores.
//
// # Description
//
// The concrete Driver used by the resilience layer for single-node
// deployments: low-latency local storage whose on-disk directory can
// be snapshotted, restored, and integrity-checked at the file level.
//
// # Thread Safety
//
// Safe for concurrent use; handles it returns are safe for concurrent
// use as well.
type BadgerDriver struct {
	config BadgerConfig
}

// NewBadgerDriver creates a driver with the given configuration.
func NewBadgerDriver(config BadgerConfig) *BadgerDriver {
	return &BadgerDriver{config: config}
}

// Connect opens the store at path, creating the directory if needed.
//
// # Outputs
//
//   - Store: Open handle. Caller must Close it.
//   - error: *UnavailableError if the engine cannot be opened.
func (d *BadgerDriver) Connect(ctx context.Context, path string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, &UnavailableError{Path: path, Err: errors.New("path is required")}
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, &UnavailableError{Path: path, Err: err}
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(d.config.SyncWrites).
		WithNumVersionsToKeep(1)
	if d.config.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: d.config.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &UnavailableError{Path: path, Err: err}
	}

	return &badgerStore{db: db, path: path}, nil
}

// Compile-time interface check
var _ Driver = (*BadgerDriver)(nil)

// badgerLogger adapts slog.Logger to the engine's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// badgerStore is one open handle to a BadgerDB-backed store.
type badgerStore struct {
	db   *badger.DB
	path string
}

// checkOpen returns ErrStoreClosed once the handle has been closed.
func (s *badgerStore) checkOpen() error {
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	return nil
}

// Path returns the store directory.
func (s *badgerStore) Path() string {
	return s.path
}

// Sync flushes pending writes to disk.
func (s *badgerStore) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Sync()
}

// Close releases the handle.
func (s *badgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// ListCollections returns all catalog entries, sorted by name.
func (s *badgerStore) ListCollections(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionKeyPrefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			names = append(names, strings.TrimPrefix(key, collectionKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// GetOrCreateCollection returns the named collection, writing a catalog
// entry on first use.
func (s *badgerStore) GetOrCreateCollection(ctx context.Context, name string) (Collection, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := []byte(collectionKeyPrefix + name)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		meta, err := json.Marshal(collectionMeta{Name: name, CreatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return txn.Set(key, meta)
	})
	if err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", name, err)
	}

	return &badgerCollection{store: s, name: name}, nil
}

// DeleteCollection removes the catalog entry and every document.
func (s *badgerStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := validateCollectionName(name); err != nil {
		return err
	}

	keys, err := s.collectKeys(ctx, documentKeyPrefix+name+"/")
	if err != nil {
		return err
	}
	keys = append(keys, []byte(collectionKeyPrefix+name))

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete collection %q: %w", name, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete collection %q: %w", name, err)
	}
	return nil
}

// collectKeys gathers all keys under a prefix without loading values.
func (s *badgerStore) collectKeys(ctx context.Context, prefix string) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	return keys, nil
}

// validateCollectionName rejects names that break the key layout.
func validateCollectionName(name string) error {
	if name == "" {
		return errors.New("collection name must not be empty")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("collection name %q must not contain '/'", name)
	}
	return nil
}

// badgerCollection implements Collection over one name prefix.
type badgerCollection struct {
	store *badgerStore
	name  string
}

// Name returns the collection name.
func (c *badgerCollection) Name() string {
	return c.name
}

// docKey builds the storage key for a document ID.
func (c *badgerCollection) docKey(id string) []byte {
	return []byte(documentKeyPrefix + c.name + "/" + id)
}

// Add upserts documents by ID.
func (c *badgerCollection) Add(ctx context.Context, docs []Document) error {
	if err := c.store.checkOpen(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	wb := c.store.db.NewWriteBatch()
	defer wb.Cancel()

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if doc.ID == "" {
			return errors.New("document ID must not be empty")
		}
		if doc.AddedAt.IsZero() {
			doc.AddedAt = time.Now().UTC()
		}
		value, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document %q: %w", doc.ID, err)
		}
		if err := wb.Set(c.docKey(doc.ID), value); err != nil {
			return fmt.Errorf("add document %q: %w", doc.ID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("add %d documents to %q: %w", len(docs), c.name, err)
	}
	return nil
}

// Count returns the number of documents in the collection.
func (c *badgerCollection) Count(ctx context.Context) (int, error) {
	if err := c.store.checkOpen(); err != nil {
		return 0, err
	}

	count := 0
	err := c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(documentKeyPrefix + c.name + "/")
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", c.name, err)
	}
	return count, nil
}

// Delete removes documents by ID and/or metadata filter.
func (c *badgerCollection) Delete(ctx context.Context, ids []string, where Where) error {
	if err := c.store.checkOpen(); err != nil {
		return err
	}
	if len(ids) == 0 && len(where) == 0 {
		return nil
	}

	var keys [][]byte
	if len(where) == 0 {
		// Fast path: direct key deletes, no scan required.
		for _, id := range ids {
			keys = append(keys, c.docKey(id))
		}
	} else {
		idSet := make(map[string]bool, len(ids))
		for _, id := range ids {
			idSet[id] = true
		}
		err := c.scan(ctx, func(doc *Document) error {
			if !where.Matches(doc.Metadata) {
				return nil
			}
			if len(idSet) > 0 && !idSet[doc.ID] {
				return nil
			}
			keys = append(keys, c.docKey(doc.ID))
			return nil
		})
		if err != nil {
			return err
		}
	}

	wb := c.store.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete from %q: %w", c.name, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete %d documents from %q: %w", len(keys), c.name, err)
	}
	return nil
}

// Query returns the n nearest documents by cosine distance.
//
// This is an exact linear scan. It is deliberately simple: collections
// at this scale are small enough that an index would not pay for its
// complexity, and the resilience layer above does not depend on the
// search algorithm.
func (c *badgerCollection) Query(ctx context.Context, embedding []float32, n int, where Where, include []string) ([]QueryResult, error) {
	if err := c.store.checkOpen(); err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, errors.New("query embedding must not be empty")
	}
	if n <= 0 {
		return []QueryResult{}, nil
	}

	wantDocs := includeHas(include, IncludeDocuments)
	wantMeta := includeHas(include, IncludeMetadatas)
	wantEmb := includeHas(include, IncludeEmbeddings)

	var hits []QueryResult
	err := c.scan(ctx, func(doc *Document) error {
		if !where.Matches(doc.Metadata) {
			return nil
		}
		distance, ok := cosineDistance(embedding, doc.Embedding)
		if !ok {
			return nil // dimension mismatch or zero vector, not a match
		}
		hit := QueryResult{ID: doc.ID, Distance: distance}
		if wantDocs {
			hit.Content = doc.Content
		}
		if wantMeta {
			hit.Metadata = doc.Metadata
		}
		if wantEmb {
			hit.Embedding = doc.Embedding
		}
		hits = append(hits, hit)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

// scan iterates every document in the collection, invoking fn per doc.
func (c *badgerCollection) scan(ctx context.Context, fn func(doc *Document) error) error {
	err := c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(documentKeyPrefix + c.name + "/")

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var doc Document
			if err := json.Unmarshal(value, &doc); err != nil {
				return fmt.Errorf("unmarshal document %s: %w", it.Item().Key(), err)
			}
			if err := fn(&doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan collection %q: %w", c.name, err)
	}
	return nil
}

// includeHas reports whether an include field was requested.
func includeHas(include []string, field string) bool {
	for _, f := range include {
		if f == field {
			return true
		}
	}
	return false
}

// cosineDistance returns 1 - cosine similarity. The second return is
// false when the vectors have different dimensions or a zero norm.
func cosineDistance(a, b []float32) (float32, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32(1 - similarity), true
}

// Compile-time interface checks
var (
	_ Store      = (*badgerStore)(nil)
	_ Collection = (*badgerCollection)(nil)
)
