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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	queryResults  int
	queryFilters  []string
	docIDs        []string
	docMetadata   []string
	exportOutput  string
	clearForce    bool
	statusAsJSON  bool

	rootCmd = &cobra.Command{
		Use:   "aleutianstore",
		Short: "A cli to manage the AleutianStore resilient document store",
		Long: `AleutianStore is a persistent document/vector store with health
				monitoring, automatic backups, and multi-stage crash recovery.`,
	}

	// --- Health / Recovery ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show store health, metrics, recent backups, and breaker states",
		Run:   runStatus, // Defined in cmd_store.go
	}
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Run a forced deep health check against the store",
		Run:   runCheck, // Defined in cmd_store.go
	}
	recoverCmd = &cobra.Command{
		Use:   "recover",
		Short: "Run the full recovery pipeline (repair, restore, fresh start)",
		Run:   runRecover, // Defined in cmd_store.go
	}

	// --- Documents ---
	addCmd = &cobra.Command{
		Use:   "add [text...]",
		Short: "Add documents to the collection, embedding each argument",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAdd, // Defined in cmd_store.go
	}
	queryCmd = &cobra.Command{
		Use:   "query [text]",
		Short: "Run a similarity query against the collection",
		Args:  cobra.ExactArgs(1),
		Run:   runQuery, // Defined in cmd_store.go
	}
	countCmd = &cobra.Command{
		Use:   "count",
		Short: "Count documents in the collection",
		Run:   runCount, // Defined in cmd_store.go
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "DANGER: Deletes every document in the collection",
		Run:   runClear, // Defined in cmd_store.go
	}

	// --- Backup Admin ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Perform administrative tasks on store snapshots",
	}
	backupCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a new snapshot of the store",
		Run:   runBackupCreate, // Defined in cmd_backup.go
	}
	backupListCmd = &cobra.Command{
		Use:   "list",
		Short: "List completed snapshots, newest first",
		Run:   runBackupList, // Defined in cmd_backup.go
	}
	backupRestoreCmd = &cobra.Command{
		Use:   "restore [backup-name]",
		Short: "Restore the store from a snapshot",
		Args:  cobra.ExactArgs(1),
		Run:   runBackupRestore, // Defined in cmd_backup.go
	}
	backupExportCmd = &cobra.Command{
		Use:   "export [backup-name]",
		Short: "Export a snapshot as a compressed archive",
		Args:  cobra.ExactArgs(1),
		Run:   runBackupExport, // Defined in cmd_backup.go
	}
	backupImportCmd = &cobra.Command{
		Use:   "import [archive-file]",
		Short: "Import an exported archive back into the backup set",
		Args:  cobra.ExactArgs(1),
		Run:   runBackupImport, // Defined in cmd_backup.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusAsJSON, "json", false, "Emit the status as JSON for scripting")
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(recoverCmd)

	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringArrayVar(&docIDs, "id", nil, "Explicit document ID (repeat once per text)")
	addCmd.Flags().StringArrayVar(&docMetadata, "meta", nil, "Metadata as key=value (applied to every document)")

	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().IntVarP(&queryResults, "results", "n", 5, "Maximum number of hits")
	queryCmd.Flags().StringArrayVar(&queryFilters, "where", nil, "Metadata filter as key=value (repeatable)")

	rootCmd.AddCommand(countCmd)

	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().BoolVar(&clearForce, "force", false, "Required to confirm the deletion of all documents.")

	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupExportCmd)
	backupExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output filename (default: {name}.tar.zst)")
	backupCmd.AddCommand(backupImportCmd)
}
