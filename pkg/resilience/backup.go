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
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianStore/pkg/logging"
)

// Backup reasons. Pre-write backups use "before_<op>" built with
// BeforeReason.
const (
	ReasonStartup   = "startup"
	ReasonScheduled = "scheduled"
	ReasonManual    = "manual"
)

// BeforeReason builds the reason string for a pre-write snapshot.
func BeforeReason(op string) string {
	return "before_" + op
}

// manifestFileName is the per-snapshot manifest. A directory under the
// backup root without one is invisible to ListBackups: it is either an
// in-flight copy or the debris of a crash.
const manifestFileName = "manifest.yaml"

// backupTimeFormat orders snapshot names lexicographically by creation
// time, with nanoseconds so bursts of snapshots never collide.
const backupTimeFormat = "20060102T150405.000000000"

// BackupRecord describes one completed snapshot.
type BackupRecord struct {
	// Name is "<reason>_<timestamp>", the subdirectory name.
	Name string `json:"name"`

	// Path is the absolute snapshot directory.
	Path string `json:"path"`

	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time `json:"created_at"`

	// Reason is why the snapshot was taken.
	Reason string `json:"reason"`

	// SizeBytes is the total size of the snapshot's files.
	SizeBytes int64 `json:"size_bytes"`
}

// backupManifest is the on-disk manifest.yaml payload.
type backupManifest struct {
	Name       string         `yaml:"name"`
	CreatedAt  time.Time      `yaml:"created_at"`
	Reason     string         `yaml:"reason"`
	SourcePath string         `yaml:"source_path"`
	Files      []manifestFile `yaml:"files"`
}

// manifestFile is one file entry in the manifest.
type manifestFile struct {
	Path      string `yaml:"path"`
	SizeBytes int64  `yaml:"size_bytes"`
}

// =============================================================================
// BackupManager Interface
// =============================================================================

// BackupManager creates, lists, rotates, and restores timestamped
// snapshots of a store directory.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Callers coordinating
// with a live store handle must still ensure the handle is quiesced
// before restore; the manager only guarantees filesystem-level safety.
type BackupManager interface {
	// CreateBackup snapshots the store. Returns nil on any failure:
	// backups are best effort and must never break the caller.
	CreateBackup(ctx context.Context, reason string) *BackupRecord

	// ListBackups returns completed snapshots, newest first.
	ListBackups() ([]BackupRecord, error)

	// Rotate deletes the oldest snapshots until at most MaxBackups remain.
	Rotate() error

	// RestoreBackup moves the current store aside (never deletes it)
	// and copies the named snapshot into the store path.
	RestoreBackup(ctx context.Context, name string) error

	// GetLatestBackup returns the newest snapshot, or nil if none exist.
	GetLatestBackup() (*BackupRecord, error)

	// MoveStoreAside relocates the store directory to a
	// corrupt_<timestamp> sibling and returns the new location.
	MoveStoreAside() (string, error)
}

// =============================================================================
// Default Implementation
// =============================================================================

// BackupConfig configures DefaultBackupManager.
type BackupConfig struct {
	// StorePath is the store directory to snapshot.
	StorePath string

	// BackupRoot is where snapshots live.
	// Default: <StorePath parent>/backups.
	BackupRoot string

	// MaxBackups is the retention count enforced by Rotate.
	// Default: 5.
	MaxBackups int
}

// DefaultBackupManager snapshots a store directory on the local
// filesystem.
//
// # Description
//
// Snapshots are crash-safe: files are copied into a hidden temporary
// sibling under the backup root, the manifest is written last, and the
// directory is atomically renamed into place. An interrupted backup is
// never visible to ListBackups and is swept on the next create.
//
// # Limitations
//
//   - Rename atomicity requires the backup root and its temporaries to
//     share a filesystem, which holds since both live under the root.
//   - The store must be quiescent during CreateBackup for a consistent
//     snapshot; the owning client serializes writes around it.
type DefaultBackupManager struct {
	storePath  string
	backupRoot string
	maxBackups int
	logger     *logging.Logger

	mu sync.Mutex
}

// NewBackupManager creates a manager. Zero-value config fields are
// replaced with defaults; a nil logger falls back to logging.Default.
func NewBackupManager(config BackupConfig, logger *logging.Logger) (*DefaultBackupManager, error) {
	if config.StorePath == "" {
		return nil, errors.New("backup manager requires a store path")
	}
	if config.BackupRoot == "" {
		config.BackupRoot = filepath.Join(filepath.Dir(config.StorePath), "backups")
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 5
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultBackupManager{
		storePath:  config.StorePath,
		backupRoot: config.BackupRoot,
		maxBackups: config.MaxBackups,
		logger:     logger,
	}, nil
}

// BackupRoot returns the snapshot directory.
func (m *DefaultBackupManager) BackupRoot() string {
	return m.backupRoot
}

// CreateBackup snapshots the store directory.
//
// # Outputs
//
//   - *BackupRecord: The completed snapshot, or nil when the store does
//     not exist yet or the copy failed (logged, never raised).
func (m *DefaultBackupManager) CreateBackup(ctx context.Context, reason string) *BackupRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.storePath)
	if err != nil || !info.IsDir() {
		m.logger.Debug("backup skipped, store directory absent", "path", m.storePath)
		return nil
	}
	if err := os.MkdirAll(m.backupRoot, 0750); err != nil {
		m.logger.Error("backup root unusable", "root", m.backupRoot, "error", err)
		return nil
	}
	m.sweepTempDirs()

	createdAt := time.Now().UTC()
	name := fmt.Sprintf("%s_%s", reason, createdAt.Format(backupTimeFormat))
	finalPath := filepath.Join(m.backupRoot, name)
	tempPath := filepath.Join(m.backupRoot, ".tmp_"+name+"_"+randomSuffix())

	files, err := copyTree(ctx, m.storePath, tempPath)
	if err != nil {
		m.logger.Error("backup copy failed",
			"reason", reason, "store", m.storePath, "error", err)
		_ = os.RemoveAll(tempPath)
		return nil
	}

	manifest := backupManifest{
		Name:       name,
		CreatedAt:  createdAt,
		Reason:     reason,
		SourcePath: m.storePath,
		Files:      files,
	}
	if err := writeManifest(filepath.Join(tempPath, manifestFileName), manifest); err != nil {
		m.logger.Error("backup manifest write failed", "name", name, "error", err)
		_ = os.RemoveAll(tempPath)
		return nil
	}

	// The rename is the commit point: before it, nothing is visible.
	if err := os.Rename(tempPath, finalPath); err != nil {
		m.logger.Error("backup rename failed", "name", name, "error", err)
		_ = os.RemoveAll(tempPath)
		return nil
	}

	var size int64
	for _, f := range files {
		size += f.SizeBytes
	}
	backupsCreated.WithLabelValues(reason).Inc()
	m.logger.Info("backup created",
		"name", name, "reason", reason, "size_bytes", size, "files", len(files))

	if err := m.rotateLocked(); err != nil {
		m.logger.Warn("backup rotation failed", "error", err)
	}

	return &BackupRecord{
		Name:      name,
		Path:      finalPath,
		CreatedAt: createdAt,
		Reason:    reason,
		SizeBytes: size,
	}
}

// ListBackups enumerates completed snapshots, newest first.
func (m *DefaultBackupManager) ListBackups() ([]BackupRecord, error) {
	entries, err := os.ReadDir(m.backupRoot)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup root: %w", err)
	}

	var records []BackupRecord
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		path := filepath.Join(m.backupRoot, entry.Name())
		manifest, err := readManifest(filepath.Join(path, manifestFileName))
		if err != nil {
			// Manifest-less directories are incomplete; skip them.
			continue
		}
		var size int64
		for _, f := range manifest.Files {
			size += f.SizeBytes
		}
		records = append(records, BackupRecord{
			Name:      entry.Name(),
			Path:      path,
			CreatedAt: manifest.CreatedAt,
			Reason:    manifest.Reason,
			SizeBytes: size,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].Name > records[j].Name
	})
	return records, nil
}

// Rotate deletes the oldest snapshots beyond MaxBackups.
func (m *DefaultBackupManager) Rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked()
}

func (m *DefaultBackupManager) rotateLocked() error {
	records, err := m.ListBackups()
	if err != nil {
		return err
	}
	for _, excess := range records[minInt(len(records), m.maxBackups):] {
		if err := os.RemoveAll(excess.Path); err != nil {
			return fmt.Errorf("rotate backup %s: %w", excess.Name, err)
		}
		backupsRotated.Inc()
		m.logger.Info("backup rotated out", "name", excess.Name)
	}
	return nil
}

// RestoreBackup replaces the store directory with the named snapshot.
// The current store is moved aside with a corrupt_<timestamp> suffix,
// never deleted.
func (m *DefaultBackupManager) RestoreBackup(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backupPath := filepath.Join(m.backupRoot, name)
	if _, err := readManifest(filepath.Join(backupPath, manifestFileName)); err != nil {
		return fmt.Errorf("backup %s is missing or incomplete: %w", name, err)
	}

	if _, err := os.Stat(m.storePath); err == nil {
		aside, err := m.moveStoreAsideLocked()
		if err != nil {
			return err
		}
		m.logger.Info("store moved aside before restore", "path", aside)
	}

	if _, err := copyTree(ctx, backupPath, m.storePath, manifestFileName); err != nil {
		return fmt.Errorf("restore backup %s: %w", name, err)
	}

	backupsRestored.Inc()
	m.logger.Info("backup restored", "name", name, "store", m.storePath)
	return nil
}

// GetLatestBackup returns the newest snapshot, or nil if none exist.
func (m *DefaultBackupManager) GetLatestBackup() (*BackupRecord, error) {
	records, err := m.ListBackups()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// MoveStoreAside relocates the store to a corrupt_<timestamp> sibling.
func (m *DefaultBackupManager) MoveStoreAside() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveStoreAsideLocked()
}

func (m *DefaultBackupManager) moveStoreAsideLocked() (string, error) {
	aside := filepath.Join(filepath.Dir(m.storePath),
		"corrupt_"+time.Now().UTC().Format(backupTimeFormat))
	if err := os.Rename(m.storePath, aside); err != nil {
		return "", fmt.Errorf("move store aside: %w", err)
	}
	return aside, nil
}

// sweepTempDirs removes leftover temporaries from interrupted backups.
func (m *DefaultBackupManager) sweepTempDirs() {
	entries, err := os.ReadDir(m.backupRoot)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() && len(entry.Name()) > 5 && entry.Name()[:5] == ".tmp_" {
			_ = os.RemoveAll(filepath.Join(m.backupRoot, entry.Name()))
		}
	}
}

// Compile-time interface check
var _ BackupManager = (*DefaultBackupManager)(nil)

// =============================================================================
// Filesystem Helpers
// =============================================================================

// copyTree recursively copies src into dst, skipping the engine's LOCK
// file and any names in skip. Returns the manifest entries for the
// copied files.
func copyTree(ctx context.Context, src, dst string, skip ...string) ([]manifestFile, error) {
	skipSet := map[string]bool{"LOCK": true}
	for _, name := range skip {
		skipSet[name] = true
	}

	var files []manifestFile
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if skipSet[d.Name()] && rel == d.Name() {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0750)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		size, err := copyFile(path, target)
		if err != nil {
			return err
		}
		files = append(files, manifestFile{Path: rel, SizeBytes: size})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// copyFile copies one regular file, returning its size.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return 0, err
	}

	size, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return 0, err
	}
	return size, out.Close()
}

// writeManifest serializes a manifest to path.
func writeManifest(path string, manifest backupManifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// readManifest loads and validates a manifest file.
func readManifest(path string) (*backupManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest backupManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	if manifest.CreatedAt.IsZero() {
		return nil, errors.New("manifest missing created_at")
	}
	return &manifest, nil
}

// randomSuffix returns a short hex string for temp-dir uniqueness.
func randomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
