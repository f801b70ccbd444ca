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
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/AleutianAI/AleutianStore/pkg/logging"
)

// BackupScheduler creates scheduled-reason snapshots on a cron
// expression.
//
// # Example
//
//	scheduler, err := resilience.NewBackupScheduler("0 3 * * *", manager, logger)
//	if err != nil { ... }
//	scheduler.Start()
//	defer scheduler.Stop()
type BackupScheduler struct {
	cron    *cron.Cron
	manager BackupManager
	logger  *logging.Logger
	spec    string
}

// NewBackupScheduler validates the cron expression and wires the job.
// Standard five-field cron syntax.
func NewBackupScheduler(spec string, manager BackupManager, logger *logging.Logger) (*BackupScheduler, error) {
	if logger == nil {
		logger = logging.Default()
	}

	s := &BackupScheduler{
		cron:    cron.New(),
		manager: manager,
		logger:  logger,
		spec:    spec,
	}

	_, err := s.cron.AddFunc(spec, func() {
		if record := s.manager.CreateBackup(context.Background(), ReasonScheduled); record != nil {
			s.logger.Info("scheduled backup completed", "name", record.Name)
		} else {
			s.logger.Warn("scheduled backup did not complete")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the schedule in its own goroutine.
func (s *BackupScheduler) Start() {
	s.logger.Info("backup scheduler started", "schedule", s.spec)
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight job to finish.
func (s *BackupScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("backup scheduler stopped")
}
