// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStore/pkg/resilience"
)

func runBackupCreate(cmd *cobra.Command, args []string) {
	client := newResilientClient()
	defer client.Close()

	// Quiesce the live handle so the snapshot sees settled files.
	if err := client.Close(); err != nil {
		log.Fatalf("Failed to release the store: %v", err)
	}

	record := client.Backups().CreateBackup(context.Background(), resilience.ReasonManual)
	if record == nil {
		log.Fatal("Backup did not complete; check the logs for details")
	}
	fmt.Printf("Created backup %s (%s)\n", record.Name, formatSize(record.SizeBytes))
}

func runBackupList(cmd *cobra.Command, args []string) {
	client := newResilientClient()
	defer client.Close()

	records, err := client.Backups().ListBackups()
	if err != nil {
		log.Fatalf("Failed to list backups: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No backups found.")
		return
	}
	for _, record := range records {
		fmt.Printf("%-40s %s  %-12s %s\n", record.Name,
			record.CreatedAt.Format("2006-01-02 15:04:05"),
			record.Reason, formatSize(record.SizeBytes))
	}
}

func runBackupRestore(cmd *cobra.Command, args []string) {
	client := newResilientClient()
	defer client.Close()

	// The store handle must be released before files are swapped.
	if err := client.Close(); err != nil {
		log.Fatalf("Failed to release the store: %v", err)
	}

	name := args[0]
	fmt.Printf("Restoring store from %s...\n", name)
	if err := client.Backups().RestoreBackup(context.Background(), name); err != nil {
		log.Fatalf("Restore failed: %v", err)
	}

	// Verify what was just restored actually works.
	if err := client.EnsureHealthy(context.Background()); err != nil {
		log.Fatalf("Restored store failed verification: %v", err)
	}
	count, err := client.Count(context.Background())
	if err != nil {
		log.Fatalf("Restored store unreadable: %v", err)
	}
	fmt.Printf("Restore complete: %d documents\n", count)
}

func runBackupExport(cmd *cobra.Command, args []string) {
	client := newResilientClient()
	defer client.Close()

	name := args[0]
	dest := exportOutput
	if dest == "" {
		dest = name + resilience.ArchiveExtension
	}

	manager, ok := client.Backups().(*resilience.DefaultBackupManager)
	if !ok {
		log.Fatal("The configured backup manager does not support archive export")
	}
	if err := manager.ExportArchive(context.Background(), name, dest); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	fmt.Printf("Exported %s to %s\n", name, dest)
}

func runBackupImport(cmd *cobra.Command, args []string) {
	client := newResilientClient()
	defer client.Close()

	manager, ok := client.Backups().(*resilience.DefaultBackupManager)
	if !ok {
		log.Fatal("The configured backup manager does not support archive import")
	}
	record, err := manager.ImportArchive(context.Background(), args[0])
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}
	fmt.Printf("Imported backup %s (%s, created %s)\n", record.Name,
		formatSize(record.SizeBytes), record.CreatedAt.Format("2006-01-02 15:04:05"))
}
