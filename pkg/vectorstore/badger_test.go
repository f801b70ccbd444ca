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
	"errors"
	"testing"
)

// openTestStore opens a throwaway store in a temp directory.
func openTestStore(t *testing.T) Store {
	t.Helper()
	driver := NewBadgerDriver(BadgerConfig{SyncWrites: false})
	store, err := driver.Connect(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestConnect_CreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/store"
	driver := NewBadgerDriver(DefaultBadgerConfig())

	store, err := driver.Connect(context.Background(), dir)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer store.Close()

	if store.Path() != dir {
		t.Errorf("Path() = %q, want %q", store.Path(), dir)
	}
}

func TestConnect_EmptyPath(t *testing.T) {
	driver := NewBadgerDriver(DefaultBadgerConfig())

	_, err := driver.Connect(context.Background(), "")
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected *UnavailableError, got %v", err)
	}
}

func TestGetOrCreateCollection_Idempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreateCollection(ctx, "docs")
	if err != nil {
		t.Fatalf("first GetOrCreateCollection failed: %v", err)
	}
	second, err := store.GetOrCreateCollection(ctx, "docs")
	if err != nil {
		t.Fatalf("second GetOrCreateCollection failed: %v", err)
	}
	if first.Name() != second.Name() {
		t.Errorf("names differ: %q vs %q", first.Name(), second.Name())
	}

	names, err := store.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(names) != 1 || names[0] != "docs" {
		t.Errorf("ListCollections = %v, want [docs]", names)
	}
}

func TestGetOrCreateCollection_InvalidName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreateCollection(ctx, ""); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := store.GetOrCreateCollection(ctx, "a/b"); err == nil {
		t.Error("name with slash accepted")
	}
}

func TestAddAndCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	col, err := store.GetOrCreateCollection(ctx, "docs")
	if err != nil {
		t.Fatalf("GetOrCreateCollection failed: %v", err)
	}

	docs := []Document{
		{ID: "a", Content: "alpha", Embedding: []float32{1, 0}},
		{ID: "b", Content: "beta", Embedding: []float32{0, 1}},
	}
	if err := col.Add(ctx, docs); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	count, err := col.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}

	// Upsert by ID must not grow the collection.
	if err := col.Add(ctx, []Document{{ID: "a", Content: "alpha v2", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	count, _ = col.Count(ctx)
	if count != 2 {
		t.Errorf("Count after upsert = %d, want 2", count)
	}
}

func TestAdd_EmptyID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	col, _ := store.GetOrCreateCollection(ctx, "docs")
	if err := col.Add(ctx, []Document{{Content: "no id"}}); err == nil {
		t.Error("document with empty ID accepted")
	}
}

func TestQuery_RanksByDistance(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	col, _ := store.GetOrCreateCollection(ctx, "docs")
	err := col.Add(ctx, []Document{
		{ID: "exact", Content: "exact", Embedding: []float32{1, 0}},
		{ID: "near", Content: "near", Embedding: []float32{0.9, 0.1}},
		{ID: "far", Content: "far", Embedding: []float32{-1, 0}},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	hits, err := col.Query(ctx, []float32{1, 0}, 2, nil, []string{IncludeDocuments})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != "exact" || hits[1].ID != "near" {
		t.Errorf("ranking = [%s %s], want [exact near]", hits[0].ID, hits[1].ID)
	}
	if hits[0].Distance > 0.0001 {
		t.Errorf("exact match distance = %f, want ~0", hits[0].Distance)
	}
	if hits[0].Content != "exact" {
		t.Errorf("Content not included: %q", hits[0].Content)
	}
	if hits[0].Metadata != nil || hits[0].Embedding != nil {
		t.Error("fields included without being requested")
	}
}

func TestQuery_WhereFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	col, _ := store.GetOrCreateCollection(ctx, "docs")
	err := col.Add(ctx, []Document{
		{ID: "a", Embedding: []float32{1, 0}, Metadata: map[string]string{"lang": "go"}},
		{ID: "b", Embedding: []float32{1, 0}, Metadata: map[string]string{"lang": "rust"}},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	hits, err := col.Query(ctx, []float32{1, 0}, 10, Where{"lang": "go"}, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Errorf("filtered hits = %v, want only a", hits)
	}
}

func TestQuery_SkipsMismatchedDimensions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	col, _ := store.GetOrCreateCollection(ctx, "docs")
	err := col.Add(ctx, []Document{
		{ID: "ok", Embedding: []float32{1, 0}},
		{ID: "wrong-dims", Embedding: []float32{1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	hits, err := col.Query(ctx, []float32{1, 0}, 10, nil, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "ok" {
		t.Errorf("hits = %v, want only ok", hits)
	}
}

func TestDelete_ByIDAndWhere(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	col, _ := store.GetOrCreateCollection(ctx, "docs")
	err := col.Add(ctx, []Document{
		{ID: "a", Embedding: []float32{1}, Metadata: map[string]string{"tier": "old"}},
		{ID: "b", Embedding: []float32{1}, Metadata: map[string]string{"tier": "old"}},
		{ID: "c", Embedding: []float32{1}, Metadata: map[string]string{"tier": "new"}},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Both filters given: only documents matching both go away.
	if err := col.Delete(ctx, []string{"a", "c"}, Where{"tier": "old"}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	count, _ := col.Count(ctx)
	if count != 2 {
		t.Errorf("Count = %d, want 2 (only a deleted)", count)
	}

	// Neither filter given: nothing happens.
	if err := col.Delete(ctx, nil, nil); err != nil {
		t.Fatalf("empty Delete failed: %v", err)
	}
	count, _ = col.Count(ctx)
	if count != 2 {
		t.Errorf("Count after no-op delete = %d, want 2", count)
	}

	// IDs only.
	if err := col.Delete(ctx, []string{"b", "c"}, nil); err != nil {
		t.Fatalf("Delete by IDs failed: %v", err)
	}
	count, _ = col.Count(ctx)
	if count != 0 {
		t.Errorf("Count = %d, want 0", count)
	}
}

func TestDeleteCollection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	col, _ := store.GetOrCreateCollection(ctx, "docs")
	_ = col.Add(ctx, []Document{{ID: "a", Embedding: []float32{1}}})

	if err := store.DeleteCollection(ctx, "docs"); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}
	names, _ := store.ListCollections(ctx)
	if len(names) != 0 {
		t.Errorf("ListCollections = %v, want empty", names)
	}

	// Deleting an absent collection is not an error.
	if err := store.DeleteCollection(ctx, "docs"); err != nil {
		t.Errorf("deleting absent collection: %v", err)
	}
}

func TestClosedStore_ReturnsErrStoreClosed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	col, _ := store.GetOrCreateCollection(ctx, "docs")
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := store.ListCollections(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("ListCollections error = %v, want ErrStoreClosed", err)
	}
	if err := col.Add(ctx, []Document{{ID: "x"}}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Add error = %v, want ErrStoreClosed", err)
	}

	// Double close is harmless.
	if err := store.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestPersistence_AcrossReopen(t *testing.T) {
	dir := t.TempDir()
	driver := NewBadgerDriver(BadgerConfig{SyncWrites: false})
	ctx := context.Background()

	store, err := driver.Connect(ctx, dir)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	col, _ := store.GetOrCreateCollection(ctx, "docs")
	if err := col.Add(ctx, []Document{{ID: "a", Content: "persisted", Embedding: []float32{1}}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := driver.Connect(ctx, dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	col, err = reopened.GetOrCreateCollection(ctx, "docs")
	if err != nil {
		t.Fatalf("GetOrCreateCollection after reopen failed: %v", err)
	}
	count, err := col.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count after reopen = %d, want 1", count)
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
		ok   bool
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 0, true},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1, true},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2, true},
		{"dimension mismatch", []float32{1}, []float32{1, 0}, 0, false},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cosineDistance(tt.a, tt.b)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && absDiff(got, tt.want) > 0.0001 {
				t.Errorf("distance = %f, want %f", got, tt.want)
			}
		})
	}
}

func absDiff(a, b float32) float32 {
	if a > b {
		return a - b
	}
	return b - a
}
