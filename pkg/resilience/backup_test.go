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
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianStore/pkg/logging"
)

// newTestStoreDir creates a fake store directory with a few files,
// including an engine LOCK that backups must skip.
func newTestStoreDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	store := filepath.Join(root, "store")
	if err := os.MkdirAll(filepath.Join(store, "sub"), 0750); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"MANIFEST":     "manifest-bytes",
		"000001.vlog":  "value-log-bytes",
		"sub/data.sst": "table-bytes",
		"LOCK":         "pid",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(store, name), []byte(content), 0640); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func newTestManager(t *testing.T, store string, maxBackups int) *DefaultBackupManager {
	t.Helper()
	logger, _ := logging.New(logging.Config{Quiet: true})
	m, err := NewBackupManager(BackupConfig{
		StorePath:  store,
		MaxBackups: maxBackups,
	}, logger)
	if err != nil {
		t.Fatalf("NewBackupManager failed: %v", err)
	}
	return m
}

func TestCreateBackup_Basic(t *testing.T) {
	store := newTestStoreDir(t)
	m := newTestManager(t, store, 5)

	record := m.CreateBackup(context.Background(), ReasonManual)
	if record == nil {
		t.Fatal("CreateBackup returned nil")
	}
	if !strings.HasPrefix(record.Name, "manual_") {
		t.Errorf("Name = %q, want manual_ prefix", record.Name)
	}
	if record.Reason != ReasonManual {
		t.Errorf("Reason = %q, want manual", record.Reason)
	}
	if record.SizeBytes == 0 {
		t.Error("SizeBytes = 0")
	}

	// The snapshot carries the store files but never the engine LOCK.
	if _, err := os.Stat(filepath.Join(record.Path, "MANIFEST")); err != nil {
		t.Errorf("MANIFEST missing from snapshot: %v", err)
	}
	if _, err := os.Stat(filepath.Join(record.Path, "sub", "data.sst")); err != nil {
		t.Errorf("nested file missing from snapshot: %v", err)
	}
	if _, err := os.Stat(filepath.Join(record.Path, "LOCK")); err == nil {
		t.Error("LOCK file copied into snapshot")
	}
	if _, err := os.Stat(filepath.Join(record.Path, manifestFileName)); err != nil {
		t.Errorf("snapshot manifest missing: %v", err)
	}
}

func TestCreateBackup_MissingStore(t *testing.T) {
	m := newTestManager(t, filepath.Join(t.TempDir(), "nope"), 5)
	if record := m.CreateBackup(context.Background(), ReasonStartup); record != nil {
		t.Errorf("CreateBackup on missing store = %+v, want nil", record)
	}
}

func TestRotation_KeepsExactlyMaxBackups(t *testing.T) {
	store := newTestStoreDir(t)
	m := newTestManager(t, store, 5)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if record := m.CreateBackup(ctx, ReasonManual); record == nil {
			t.Fatalf("backup %d failed", i+1)
		}
	}

	records, err := m.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("got %d backups after 7 creates, want 5", len(records))
	}

	// Newest first.
	for i := 1; i < len(records); i++ {
		if records[i].CreatedAt.After(records[i-1].CreatedAt) {
			t.Errorf("records not sorted newest-first at index %d", i)
		}
	}

	// Exactly five directories remain under the root.
	entries, _ := os.ReadDir(m.BackupRoot())
	dirs := 0
	for _, e := range entries {
		if e.IsDir() {
			dirs++
		}
	}
	if dirs != 5 {
		t.Errorf("%d directories under backup root, want 5", dirs)
	}
}

func TestListBackups_SkipsIncompleteDirectories(t *testing.T) {
	store := newTestStoreDir(t)
	m := newTestManager(t, store, 5)
	ctx := context.Background()

	if m.CreateBackup(ctx, ReasonManual) == nil {
		t.Fatal("backup failed")
	}

	// A crashed copy: directory without a manifest.
	if err := os.MkdirAll(filepath.Join(m.BackupRoot(), "manual_crashed"), 0750); err != nil {
		t.Fatal(err)
	}
	// An in-flight temporary.
	if err := os.MkdirAll(filepath.Join(m.BackupRoot(), ".tmp_manual_x_ab12"), 0750); err != nil {
		t.Fatal(err)
	}

	records, err := m.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d backups, want 1 (incomplete dirs must be invisible)", len(records))
	}
}

func TestCreateBackup_SweepsStaleTemporaries(t *testing.T) {
	store := newTestStoreDir(t)
	m := newTestManager(t, store, 5)

	stale := filepath.Join(m.BackupRoot(), ".tmp_manual_old_dead")
	if err := os.MkdirAll(stale, 0750); err != nil {
		t.Fatal(err)
	}

	if m.CreateBackup(context.Background(), ReasonManual) == nil {
		t.Fatal("backup failed")
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale temporary not swept by the next backup")
	}
}

func TestRestoreBackup_RoundTrip(t *testing.T) {
	store := newTestStoreDir(t)
	m := newTestManager(t, store, 5)
	ctx := context.Background()

	record := m.CreateBackup(ctx, ReasonManual)
	if record == nil {
		t.Fatal("backup failed")
	}

	// Corrupt the live store.
	if err := os.WriteFile(filepath.Join(store, "MANIFEST"), []byte("garbage"), 0640); err != nil {
		t.Fatal(err)
	}

	if err := m.RestoreBackup(ctx, record.Name); err != nil {
		t.Fatalf("RestoreBackup failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(store, "MANIFEST"))
	if err != nil {
		t.Fatalf("restored MANIFEST unreadable: %v", err)
	}
	if string(content) != "manifest-bytes" {
		t.Errorf("restored MANIFEST = %q, want original bytes", content)
	}

	// The snapshot's own manifest must not leak into the store.
	if _, err := os.Stat(filepath.Join(store, manifestFileName)); err == nil {
		t.Error("snapshot manifest copied into the restored store")
	}

	// The corrupt store was moved aside, not deleted.
	entries, _ := os.ReadDir(filepath.Dir(store))
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "corrupt_") {
			found = true
			data, _ := os.ReadFile(filepath.Join(filepath.Dir(store), e.Name(), "MANIFEST"))
			if string(data) != "garbage" {
				t.Error("corrupt copy does not preserve the broken store")
			}
		}
	}
	if !found {
		t.Error("no corrupt_<timestamp> directory preserved")
	}
}

func TestRestoreBackup_UnknownName(t *testing.T) {
	store := newTestStoreDir(t)
	m := newTestManager(t, store, 5)

	if err := m.RestoreBackup(context.Background(), "manual_never_existed"); err == nil {
		t.Error("restoring an unknown backup succeeded")
	}
}

func TestGetLatestBackup(t *testing.T) {
	store := newTestStoreDir(t)
	m := newTestManager(t, store, 5)
	ctx := context.Background()

	latest, err := m.GetLatestBackup()
	if err != nil {
		t.Fatalf("GetLatestBackup failed: %v", err)
	}
	if latest != nil {
		t.Errorf("latest = %+v with no backups, want nil", latest)
	}

	_ = m.CreateBackup(ctx, ReasonStartup)
	second := m.CreateBackup(ctx, ReasonManual)

	latest, err = m.GetLatestBackup()
	if err != nil {
		t.Fatalf("GetLatestBackup failed: %v", err)
	}
	if latest == nil || latest.Name != second.Name {
		t.Errorf("latest = %+v, want %q", latest, second.Name)
	}
}

func TestMoveStoreAside(t *testing.T) {
	store := newTestStoreDir(t)
	m := newTestManager(t, store, 5)

	aside, err := m.MoveStoreAside()
	if err != nil {
		t.Fatalf("MoveStoreAside failed: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(aside), "corrupt_") {
		t.Errorf("aside path %q lacks corrupt_ prefix", aside)
	}
	if _, err := os.Stat(store); !os.IsNotExist(err) {
		t.Error("store directory still present after move")
	}
	if _, err := os.Stat(filepath.Join(aside, "MANIFEST")); err != nil {
		t.Errorf("moved store incomplete: %v", err)
	}
}

func TestBeforeReason(t *testing.T) {
	if got := BeforeReason("clear"); got != "before_clear" {
		t.Errorf("BeforeReason = %q, want before_clear", got)
	}
}
