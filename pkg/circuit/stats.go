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

import "time"

// Stats holds the call counters for one breaker.
//
// # Description
//
// TotalCalls, SuccessfulCalls, FailedCalls, and RejectedCalls are
// monotonic and cleared only by an explicit Reset. ConsecutiveFailures
// and ConsecutiveSuccesses track the current streak; at most one of
// them is non-zero at any time.
//
// # Thread Safety
//
// Stats is NOT safe for concurrent use on its own. Every mutation
// happens while holding the owning breaker's mutex; callers outside
// this package only ever see value copies taken under that mutex.
type Stats struct {
	TotalCalls      uint64 `json:"total_calls"`
	SuccessfulCalls uint64 `json:"successful_calls"`
	FailedCalls     uint64 `json:"failed_calls"`
	RejectedCalls   uint64 `json:"rejected_calls"`

	ConsecutiveFailures  int `json:"consecutive_failures"`
	ConsecutiveSuccesses int `json:"consecutive_successes"`

	LastFailureTime time.Time `json:"last_failure_time"`
	LastSuccessTime time.Time `json:"last_success_time"`
}

// recordSuccess notes a successful call. Caller holds the breaker lock.
func (s *Stats) recordSuccess(now time.Time) {
	s.TotalCalls++
	s.SuccessfulCalls++
	s.ConsecutiveSuccesses++
	s.ConsecutiveFailures = 0
	s.LastSuccessTime = now
}

// recordFailure notes a failed call. Caller holds the breaker lock.
func (s *Stats) recordFailure(now time.Time) {
	s.TotalCalls++
	s.FailedCalls++
	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	s.LastFailureTime = now
}

// recordExcluded notes a call whose error is in the breaker's excluded
// set. The call is counted but no streak is affected, so an expected
// error can never trip the breaker. Caller holds the breaker lock.
func (s *Stats) recordExcluded() {
	s.TotalCalls++
}

// recordRejection notes a fast-failed call. Caller holds the breaker lock.
func (s *Stats) recordRejection() {
	s.RejectedCalls++
}

// reset clears all counters. Caller holds the breaker lock.
func (s *Stats) reset() {
	*s = Stats{}
}
