// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package circuit

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is the sentinel matched by errors.Is when a breaker
// rejects a call. The concrete error returned is always *RejectedError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// RejectedError is returned when a breaker fails a call fast without
// invoking the wrapped operation.
//
// # Description
//
// Carries the breaker name and how long the caller should wait before
// the breaker will permit a half-open probe. RetryAfter is always less
// than or equal to the breaker's configured Timeout.
//
// # Examples
//
//	err := breaker.Call(ctx, op)
//	var rej *circuit.RejectedError
//	if errors.As(err, &rej) {
//	    time.Sleep(rej.RetryAfter)
//	}
type RejectedError struct {
	// Name is the breaker that rejected the call.
	Name string

	// RetryAfter is the remaining time until the breaker may half-open.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("circuit %q is open, retry after %s", e.Name, e.RetryAfter)
}

// Is reports true for ErrCircuitOpen so callers can use errors.Is
// without naming the concrete type.
func (e *RejectedError) Is(target error) bool {
	return target == ErrCircuitOpen
}
