// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorstore defines the storage driver boundary for the
// resilience layer, plus a concrete embedded driver backed by BadgerDB.
//
// The resilience layer treats the engine as opaque: everything it needs
// is expressed by the Driver, Store, and Collection interfaces, keyed
// by a filesystem path and a collection name. Health, backup, and
// recovery logic lives in pkg/resilience; this package only stores and
// retrieves.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrStoreClosed is returned by operations on a closed store handle.
var ErrStoreClosed = errors.New("vector store is closed")

// ErrCollectionNotFound is returned when a named collection does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// UnavailableError indicates the storage engine could not be opened or
// reached. The resilience layer classifies this error by type, never
// by message text.
type UnavailableError struct {
	// Path is the store directory that could not be opened.
	Path string

	// Err is the underlying engine error.
	Err error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vector store at %s unavailable: %v", e.Path, e.Err)
}

// Unwrap returns the underlying engine error.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Driver opens stores keyed by a filesystem path.
//
// # Description
//
// A Driver is the factory boundary the resilience layer holds: during
// recovery it discards a Store handle and asks the Driver for a fresh
// one, possibly against a restored or newly created directory.
type Driver interface {
	// Connect opens (creating if necessary) the store at path.
	Connect(ctx context.Context, path string) (Store, error)
}

// Store is one open handle to a persistent document/vector store.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// GetOrCreateCollection returns the named collection, creating it
	// if absent.
	GetOrCreateCollection(ctx context.Context, name string) (Collection, error)

	// DeleteCollection removes a collection and all its documents.
	// Deleting an absent collection is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// Sync flushes pending writes to disk.
	Sync() error

	// Close releases the handle. Further operations return ErrStoreClosed.
	Close() error

	// Path returns the store directory this handle is bound to.
	Path() string
}

// Collection exposes CRUD-style primitives over one named collection.
//
// Handles are cheap and must be re-fetched per operation rather than
// cached: the owning Store may be discarded and recreated by recovery
// at any time.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Add upserts documents by ID.
	Add(ctx context.Context, docs []Document) error

	// Query returns the n nearest documents to the embedding, filtered
	// by where, ranked by ascending cosine distance.
	Query(ctx context.Context, embedding []float32, n int, where Where, include []string) ([]QueryResult, error)

	// Delete removes documents by ID and/or metadata filter. With both
	// given, only documents matching both are removed. With neither,
	// nothing is removed.
	Delete(ctx context.Context, ids []string, where Where) error

	// Count returns the number of documents.
	Count(ctx context.Context) (int, error)
}
