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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStore/cmd/aleutianstore/config"
	"github.com/AleutianAI/AleutianStore/pkg/resilience"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run in the foreground, taking scheduled backups and watching the store",
	Run:   runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	client := newResilientClient()
	defer client.Close()

	if err := client.EnsureHealthy(context.Background()); err != nil {
		log.Fatalf("Store failed its startup check: %v", err)
	}
	if err := client.StartWatcher(); err != nil {
		log.Fatalf("Failed to watch the store directory: %v", err)
	}

	schedule := config.Global.Backup.Schedule
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	scheduler, err := resilience.NewBackupScheduler(schedule, client.Backups(), nil)
	if err != nil {
		log.Fatalf("Invalid backup schedule: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	fmt.Printf("Watching %s (backup schedule: %s). Ctrl-C to stop.\n",
		config.Global.Store.PersistDirectory, schedule)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	fmt.Println("\nShutting down.")
}
