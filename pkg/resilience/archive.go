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
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ArchiveExtension is the suffix of exported snapshot archives.
const ArchiveExtension = ".tar.zst"

// ExportArchive writes the named snapshot as a zstd-compressed tar
// archive at destPath. Used to move snapshots off the host.
func (m *DefaultBackupManager) ExportArchive(ctx context.Context, name, destPath string) error {
	backupPath := filepath.Join(m.backupRoot, name)
	if _, err := readManifest(filepath.Join(backupPath, manifestFileName)); err != nil {
		return fmt.Errorf("backup %s is missing or incomplete: %w", name, err)
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("init compressor: %w", err)
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(backupPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(backupPath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize compression: %w", err)
	}

	m.logger.Info("backup exported", "name", name, "dest", destPath)
	return nil
}

// ImportArchive unpacks an exported archive back into the backup root,
// making it visible to ListBackups and restorable like any local
// snapshot. Returns the imported record.
func (m *DefaultBackupManager) ImportArchive(ctx context.Context, srcPath string) (*BackupRecord, error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	zr, err := zstd.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("init decompressor: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(m.backupRoot, 0750); err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(srcPath), ArchiveExtension)
	tempPath := filepath.Join(m.backupRoot, ".tmp_"+name+"_"+randomSuffix())
	finalPath := filepath.Join(m.backupRoot, name)

	if err := extractTar(ctx, tar.NewReader(zr), tempPath); err != nil {
		_ = os.RemoveAll(tempPath)
		return nil, fmt.Errorf("extract archive: %w", err)
	}

	manifest, err := readManifest(filepath.Join(tempPath, manifestFileName))
	if err != nil {
		_ = os.RemoveAll(tempPath)
		return nil, fmt.Errorf("archive has no valid manifest: %w", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.RemoveAll(tempPath)
		return nil, fmt.Errorf("commit import: %w", err)
	}

	var size int64
	for _, f := range manifest.Files {
		size += f.SizeBytes
	}
	m.logger.Info("backup imported", "name", name, "src", srcPath)
	return &BackupRecord{
		Name:      name,
		Path:      finalPath,
		CreatedAt: manifest.CreatedAt,
		Reason:    manifest.Reason,
		SizeBytes: size,
	}, nil
}

// extractTar unpacks a tar stream under dst, rejecting entries that
// escape it.
func extractTar(ctx context.Context, tr *tar.Reader, dst string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dst, filepath.FromSlash(header.Name))
		rel, err := filepath.Rel(dst, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and specials have no business in a snapshot.
			return fmt.Errorf("archive entry %q has unsupported type %d", header.Name, header.Typeflag)
		}
	}
}
