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
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================
//
// Failures are classified by type, never by message text. Each variant
// carries enough structure for the recovery pipeline to decide what to
// do without parsing strings.

// ConnectivityError indicates the store is unreachable or the handle
// is invalid. Triggers the recovery pipeline when raised from a
// guarded operation.
type ConnectivityError struct {
	// Path is the store directory.
	Path string

	// Err is the underlying driver error.
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("store at %s unreachable: %v", e.Path, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// IntegrityError indicates corruption detected by the integrity
// checker. Triggers the recovery pipeline.
type IntegrityError struct {
	// Path is the store directory.
	Path string

	// Message is the checker's diagnostic text.
	Message string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("store at %s failed integrity check: %s", e.Path, e.Message)
}

// RecoveryExhaustedError indicates every recovery step failed. Fatal:
// the caller must not report itself ready.
type RecoveryExhaustedError struct {
	// Path is the store directory.
	Path string

	// Attempts is how many connect attempts were made in the final step.
	Attempts int

	// Err is the last failure observed.
	Err error
}

func (e *RecoveryExhaustedError) Error() string {
	return fmt.Sprintf("recovery exhausted for store at %s after %d connect attempts: %v",
		e.Path, e.Attempts, e.Err)
}

func (e *RecoveryExhaustedError) Unwrap() error {
	return e.Err
}

// OperationError wraps a failed store operation. The original error is
// preserved via Unwrap; recovery never swallows it.
type OperationError struct {
	// Op is the operation name ("add", "query", "delete", ...).
	Op string

	// Err is the original failure.
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
