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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewStoreWatcher_MissingPath(t *testing.T) {
	_, err := NewStoreWatcher(filepath.Join(t.TempDir(), "absent"), func() {}, quietLogger(t))
	if err == nil {
		t.Fatal("watcher accepted a missing path")
	}
}

func TestStoreWatcher_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan struct{}, 16)

	watcher, err := NewStoreWatcher(dir, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, quietLogger(t))
	if err != nil {
		t.Fatalf("NewStoreWatcher failed: %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(filepath.Join(dir, "000001.vlog"), []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification within 2s")
	}
}

func TestStoreWatcher_CloseIdempotent(t *testing.T) {
	watcher, err := NewStoreWatcher(t.TempDir(), func() {}, quietLogger(t))
	if err != nil {
		t.Fatalf("NewStoreWatcher failed: %v", err)
	}

	if err := watcher.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
