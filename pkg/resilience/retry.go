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
	"math/rand"
	"time"

	"github.com/AleutianAI/AleutianStore/pkg/logging"
	"github.com/AleutianAI/AleutianStore/pkg/vectorstore"
)

// connectWithRetry opens the store at path, retrying up to maxRetries
// times with a linearly growing delay (retryDelay * attempt between
// attempts).
//
// # Outputs
//
//   - vectorstore.Store: Open handle on success.
//   - error: *RecoveryExhaustedError when every attempt failed, or the
//     context error if cancelled mid-wait.
func connectWithRetry(ctx context.Context, driver vectorstore.Driver, path string,
	maxRetries int, retryDelay time.Duration, logger *logging.Logger) (vectorstore.Store, error) {

	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		store, err := driver.Connect(ctx, path)
		if err == nil {
			if attempt > 1 {
				logger.Info("store connected after retry",
					"path", path, "attempt", attempt)
			}
			return store, nil
		}
		lastErr = err
		logger.Warn("store connect failed",
			"path", path, "attempt", attempt, "max_retries", maxRetries, "error", err)

		if attempt < maxRetries {
			if err := sleepWithContext(ctx, retryDelay*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
	}

	return nil, &RecoveryExhaustedError{Path: path, Attempts: maxRetries, Err: lastErr}
}

// sleepWithContext sleeps for d unless the context is cancelled first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffWithJitter returns an exponentially growing delay with up to
// 25% random jitter, capped at max. attempt is 1-based.
func backoffWithJitter(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	if delay+jitter > max {
		return max
	}
	return delay + jitter
}
