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
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianStore/pkg/logging"
	"github.com/AleutianAI/AleutianStore/pkg/vectorstore"
)

func newTestChecker(t *testing.T) *DefaultIntegrityChecker {
	t.Helper()
	logger, _ := logging.New(logging.Config{Quiet: true})
	return NewIntegrityChecker(IntegrityConfig{}, logger)
}

// populateStore writes a real store at path and closes it again.
func populateStore(t *testing.T, path string) {
	t.Helper()
	driver := vectorstore.NewBadgerDriver(vectorstore.BadgerConfig{SyncWrites: false})
	store, err := driver.Connect(context.Background(), path)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	col, err := store.GetOrCreateCollection(context.Background(), "docs")
	if err != nil {
		t.Fatalf("GetOrCreateCollection failed: %v", err)
	}
	err = col.Add(context.Background(), []vectorstore.Document{
		{ID: "a", Content: "alpha", Embedding: []float32{1, 0}},
		{ID: "b", Content: "beta", Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCheck_MissingDirectoryIsValid(t *testing.T) {
	checker := newTestChecker(t)

	ok, message := checker.Check(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if !ok {
		t.Errorf("missing directory judged invalid: %s", message)
	}
}

func TestCheck_EmptyDirectoryIsValid(t *testing.T) {
	checker := newTestChecker(t)

	ok, message := checker.Check(context.Background(), t.TempDir())
	if !ok {
		t.Errorf("empty directory judged invalid: %s", message)
	}
}

func TestCheck_FileInsteadOfDirectory(t *testing.T) {
	checker := newTestChecker(t)
	path := filepath.Join(t.TempDir(), "store")
	if err := os.WriteFile(path, []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}

	ok, _ := checker.Check(context.Background(), path)
	if ok {
		t.Error("regular file judged valid")
	}
}

func TestCheck_PopulatedDirWithoutManifest(t *testing.T) {
	checker := newTestChecker(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stray.bin"), []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}

	ok, _ := checker.Check(context.Background(), dir)
	if ok {
		t.Error("populated non-engine directory judged valid")
	}
}

func TestCheck_ValidStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	populateStore(t, dir)

	checker := newTestChecker(t)
	ok, message := checker.Check(context.Background(), dir)
	if !ok {
		t.Errorf("valid store judged invalid: %s", message)
	}
}

func TestCheck_CorruptManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	populateStore(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "MANIFEST"), []byte("garbage"), 0640); err != nil {
		t.Fatal(err)
	}

	checker := newTestChecker(t)
	ok, message := checker.Check(context.Background(), dir)
	if ok {
		t.Error("store with corrupt manifest judged valid")
	}
	if message == "" {
		t.Error("diagnostic message missing")
	}
}

func TestRepair_ValidStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	populateStore(t, dir)

	checker := newTestChecker(t)
	if !checker.Repair(context.Background(), dir) {
		t.Fatal("Repair on a healthy store failed")
	}

	// Repair must leave the store checkable.
	ok, message := checker.Check(context.Background(), dir)
	if !ok {
		t.Errorf("store invalid after repair: %s", message)
	}
}

func TestRepair_MissingDirectory(t *testing.T) {
	checker := newTestChecker(t)
	if checker.Repair(context.Background(), filepath.Join(t.TempDir(), "absent")) {
		t.Error("Repair on a missing directory reported success")
	}
}

func TestMockIntegrityChecker(t *testing.T) {
	mock := &MockIntegrityChecker{
		CheckFunc: func(ctx context.Context, path string) (bool, string) {
			return false, "staged failure"
		},
	}

	ok, message := mock.Check(context.Background(), "/some/path")
	if ok || message != "staged failure" {
		t.Errorf("Check = (%v, %q), want staged failure", ok, message)
	}
	if !mock.Repair(context.Background(), "/some/path") {
		t.Error("default Repair should report success")
	}
	if mock.CheckCount() != 1 || mock.RepairCount() != 1 {
		t.Errorf("call counts = %d/%d, want 1/1", mock.CheckCount(), mock.RepairCount())
	}
	if mock.CheckCalls[0] != "/some/path" {
		t.Errorf("recorded path = %q", mock.CheckCalls[0])
	}
}
