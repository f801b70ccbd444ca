// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

type StoreConfig struct {
	// Store: where the documents live on disk
	Store StoreSection `yaml:"store"`

	// Embedding: the provider that turns text into vectors
	Embedding EmbeddingSection `yaml:"embedding"`

	// Backup: snapshot retention and scheduling
	Backup BackupSection `yaml:"backup"`

	// Resilience: retry and circuit breaker tuning
	Resilience ResilienceSection `yaml:"resilience"`

	// Logging: where and how much to log
	Logging LoggingSection `yaml:"logging"`
}

type StoreSection struct {
	PersistDirectory string `yaml:"persist_directory"` // e.g. ~/.aleutianstore/data
	Collection       string `yaml:"collection"`        // e.g. documents
}

type EmbeddingSection struct {
	// BaseURL points at any OpenAI-compatible endpoint, Ollama included.
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key,omitempty"`
}

type BackupSection struct {
	AutoBackup bool   `yaml:"auto_backup"`
	MaxBackups int    `yaml:"max_backups"`
	// Schedule is a five-field cron expression. Empty disables
	// scheduled snapshots.
	Schedule string `yaml:"schedule,omitempty"`
}

type ResilienceSection struct {
	MaxRetries                 int `yaml:"max_retries"`
	RetryDelaySeconds          int `yaml:"retry_delay_seconds"`
	FailureThreshold           int `yaml:"failure_threshold"`
	SuccessThreshold           int `yaml:"success_threshold"`
	BreakerTimeoutSeconds      int `yaml:"breaker_timeout_seconds"`
	HealthCheckIntervalSeconds int `yaml:"health_check_interval_seconds"`
}

type LoggingSection struct {
	LogDir string `yaml:"log_dir,omitempty"`
	Level  string `yaml:"level"`
}

// DefaultConfig returns the config written on first run.
func DefaultConfig() StoreConfig {
	return StoreConfig{
		Store: StoreSection{
			PersistDirectory: "~/.aleutianstore/data",
			Collection:       "documents",
		},
		Embedding: EmbeddingSection{
			BaseURL: "http://localhost:11434/v1",
			Model:   "nomic-embed-text",
		},
		Backup: BackupSection{
			AutoBackup: true,
			MaxBackups: 5,
		},
		Resilience: ResilienceSection{
			MaxRetries:                 3,
			RetryDelaySeconds:          1,
			FailureThreshold:           5,
			SuccessThreshold:           2,
			BreakerTimeoutSeconds:      30,
			HealthCheckIntervalSeconds: 60,
		},
		Logging: LoggingSection{
			Level: "info",
		},
	}
}
