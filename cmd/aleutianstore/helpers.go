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
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianStore/cmd/aleutianstore/config"
	"github.com/AleutianAI/AleutianStore/pkg/logging"
	"github.com/AleutianAI/AleutianStore/pkg/resilience"
	"github.com/AleutianAI/AleutianStore/pkg/vectorstore"
)

// newResilientClient builds the client from the loaded config. Fatal
// on misconfiguration: every command needs a working client.
func newResilientClient() *resilience.Client {
	cfg := config.Global

	persistDir, err := config.ExpandHome(cfg.Store.PersistDirectory)
	if err != nil {
		log.Fatalf("Failed to resolve the store directory: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.LogDir,
		Service: "aleutianstore",
		Quiet:   true,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	embedder := vectorstore.NewOpenAIEmbedder(vectorstore.EmbedderConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
	})

	client, err := resilience.NewClient(resilience.Config{
		PersistDirectory:    persistDir,
		CollectionName:      cfg.Store.Collection,
		AutoBackup:          cfg.Backup.AutoBackup,
		MaxBackups:          cfg.Backup.MaxBackups,
		MaxRetries:          cfg.Resilience.MaxRetries,
		RetryDelay:          time.Duration(cfg.Resilience.RetryDelaySeconds) * time.Second,
		HealthCheckInterval: time.Duration(cfg.Resilience.HealthCheckIntervalSeconds) * time.Second,
		FailureThreshold:    cfg.Resilience.FailureThreshold,
		SuccessThreshold:    cfg.Resilience.SuccessThreshold,
		BreakerTimeout:      time.Duration(cfg.Resilience.BreakerTimeoutSeconds) * time.Second,
	}, vectorstore.NewBadgerDriver(vectorstore.DefaultBadgerConfig()), embedder, nil, logger)
	if err != nil {
		log.Fatalf("Failed to create the store client: %v", err)
	}
	return client
}

// parseKeyValues turns repeated key=value flags into a map.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}

// formatSize renders a byte count for humans.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
