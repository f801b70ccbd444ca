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
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStore/pkg/resilience"
)

func runStatus(cmd *cobra.Command, args []string) {
	client := newResilientClient()
	defer client.Close()

	status := client.GetStatus(context.Background())
	if statusAsJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode status: %v", err)
		}
		fmt.Println(string(data))
		return
	}

	health := status.Health
	state := "HEALTHY"
	if !health.IsHealthy {
		state = "UNHEALTHY"
	}
	fmt.Printf("Store:       %s\n", state)
	if health.ErrorMessage != "" {
		fmt.Printf("Problem:     %s\n", health.ErrorMessage)
	}
	fmt.Printf("Collections: %d\n", health.CollectionCount)
	fmt.Printf("Documents:   %d\n", health.DocumentCount)
	fmt.Printf("Checked at:  %s\n", health.CheckedAt.Format("2006-01-02 15:04:05"))

	m := status.Metrics
	fmt.Printf("\nOperations:  %d total, %d failed\n", m.TotalOperations, m.FailedOperations)
	fmt.Printf("Recoveries:  %d attempted, %d succeeded\n", m.RecoveryAttempts, m.SuccessfulRecoveries)

	if len(status.Breakers) > 0 {
		fmt.Println("\nCircuit breakers:")
		for name, b := range status.Breakers {
			fmt.Printf("  %-16s %s\n", name, b.State)
		}
	}
	if len(status.RecentBackups) > 0 {
		fmt.Println("\nRecent backups:")
		for _, b := range status.RecentBackups {
			fmt.Printf("  %-40s %s  %s\n", b.Name,
				b.CreatedAt.Format("2006-01-02 15:04:05"), formatSize(b.SizeBytes))
		}
	}
}

func runCheck(cmd *cobra.Command, args []string) {
	client := newResilientClient()
	defer client.Close()

	report := client.GetStatus(context.Background()).Health
	if report.IsHealthy {
		fmt.Printf("Store is healthy: %d collections, %d documents\n",
			report.CollectionCount, report.DocumentCount)
		return
	}
	fmt.Printf("Store is UNHEALTHY: %s\n", report.ErrorMessage)
	fmt.Println("Run 'aleutianstore recover' to attempt repair.")
}

func runRecover(cmd *cobra.Command, args []string) {
	client := newResilientClient()
	defer client.Close()

	fmt.Println("Running the recovery pipeline...")
	if err := client.EnsureHealthy(context.Background()); err != nil {
		log.Fatalf("Recovery failed: %v", err)
	}

	status := client.GetStatus(context.Background())
	fmt.Printf("Store is healthy: %d collections, %d documents\n",
		status.Health.CollectionCount, status.Health.DocumentCount)
	if status.Metrics.SuccessfulRecoveries > 0 {
		fmt.Printf("Recovery steps taken: %d\n", status.Metrics.RecoveryAttempts)
	}
}

func runAdd(cmd *cobra.Command, args []string) {
	if len(docIDs) > 0 && len(docIDs) != len(args) {
		log.Fatalf("Got %d --id flags for %d documents", len(docIDs), len(args))
	}
	metadata, err := parseKeyValues(docMetadata)
	if err != nil {
		log.Fatalf("Invalid --meta flag: %v", err)
	}

	var metadatas []map[string]string
	if metadata != nil {
		metadatas = make([]map[string]string, len(args))
		for i := range metadatas {
			metadatas[i] = metadata
		}
	}
	var ids []string
	if len(docIDs) > 0 {
		ids = docIDs
	}

	client := newResilientClient()
	defer client.Close()

	assigned, err := client.AddDocuments(context.Background(), args, nil, metadatas, ids)
	if err != nil {
		log.Fatalf("Failed to add documents: %v", err)
	}
	fmt.Printf("Added %d documents:\n", len(assigned))
	for _, id := range assigned {
		fmt.Printf("  %s\n", id)
	}
}

func runQuery(cmd *cobra.Command, args []string) {
	where, err := parseKeyValues(queryFilters)
	if err != nil {
		log.Fatalf("Invalid --where flag: %v", err)
	}

	client := newResilientClient()
	defer client.Close()

	hits, err := client.Query(context.Background(), resilience.QueryRequest{
		Text:     args[0],
		NResults: queryResults,
		Where:    where,
	})
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if len(hits) == 0 {
		fmt.Println("No matching documents.")
		return
	}
	for i, hit := range hits {
		fmt.Printf("%d. [%.4f] %s\n", i+1, hit.Distance, hit.Content)
		if len(hit.Metadata) > 0 {
			fmt.Printf("   metadata: %v\n", hit.Metadata)
		}
	}
}

func runCount(cmd *cobra.Command, args []string) {
	client := newResilientClient()
	defer client.Close()

	count, err := client.Count(context.Background())
	if err != nil {
		log.Fatalf("Count failed: %v", err)
	}
	fmt.Printf("%d documents\n", count)
}

func runClear(cmd *cobra.Command, args []string) {
	if !clearForce {
		log.Fatal("Refusing to delete all documents without --force")
	}

	client := newResilientClient()
	defer client.Close()

	if err := client.Clear(context.Background()); err != nil {
		log.Fatalf("Clear failed: %v", err)
	}
	fmt.Println("Collection cleared. A before_clear snapshot was taken first.")
}
