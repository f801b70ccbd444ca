// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package circuit implements the circuit breaker pattern for guarding
// calls to degradable dependencies.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[successes]◄── HALF_OPEN ◄─┘
//	                      [timeout]
//
// Breakers are looked up through an explicitly constructed Registry
// passed by reference to whatever needs to guard a call; there is no
// package-level state.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	// Closed is the normal operating state; calls flow through.
	Closed State = iota

	// Open means the circuit has tripped and calls are rejected.
	Open

	// HalfOpen means the breaker is probing whether the dependency
	// has recovered.
	HalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Config configures circuit breaker behavior.
//
// # Example
//
//	config := circuit.Config{
//	    FailureThreshold: 5,               // open after 5 consecutive failures
//	    SuccessThreshold: 2,               // close after 2 consecutive successes
//	    Timeout:          30 * time.Second, // stay open for 30s
//	}
type Config struct {
	// FailureThreshold is consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is consecutive successes to close from half-open.
	// Default: 2
	SuccessThreshold int

	// Timeout is how long to stay open before allowing a half-open probe.
	// Default: 30 seconds
	Timeout time.Duration

	// ExcludedErrors lists error values (matched via errors.Is) that
	// never count toward the failure threshold. The error still
	// propagates to the caller.
	ExcludedErrors []error

	// OnStateChange is called when the state transitions.
	// Called asynchronously to avoid blocking under the breaker lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Breaker guards calls to a single named dependency.
//
// # Description
//
// Stops calling a failing dependency once FailureThreshold consecutive
// failures are observed, rejects further calls while Open, and after
// Timeout permits half-open probes, one trial call in flight at a
// time. SuccessThreshold consecutive probe successes close the breaker
// and reset its stats.
//
// # Thread Safety
//
// Breaker is safe for concurrent use. All state and stats reads and
// writes happen under a single mutex; Status takes a snapshot and
// never blocks the caller on I/O.
//
// # Example
//
//	b := circuit.NewBreaker("embeddings", circuit.DefaultConfig())
//	err := b.Call(ctx, func(ctx context.Context) error {
//	    return embedder.Embed(ctx, texts)
//	})
//	if errors.Is(err, circuit.ErrCircuitOpen) {
//	    // dependency is known to be down, fail fast
//	}
type Breaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	openedAt time.Time // zero unless state == Open
	inFlight int       // admitted half-open probes not yet recorded
	stats    Stats
}

// Status is a point-in-time snapshot of a breaker.
type Status struct {
	Name             string        `json:"name"`
	State            State         `json:"state"`
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
	OpenedAt         *time.Time    `json:"opened_at,omitempty"`
	Stats            Stats         `json:"stats"`
}

// NewBreaker creates a breaker in the Closed state.
//
// # Inputs
//
//   - name: Dependency name, used in errors, logs, and metrics.
//   - config: Behavior configuration. Zero values get defaults.
//
// # Outputs
//
//   - *Breaker: New breaker guarding the named dependency.
func NewBreaker(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	b := &Breaker{
		name:   name,
		config: config,
		state:  Closed,
	}
	recordBreakerState(name, Closed)
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Call executes fn if the breaker permits it, else fails fast.
//
// # Description
//
// While Open and within Timeout, returns *RejectedError without
// invoking fn and increments RejectedCalls. While HalfOpen with a
// trial call already in flight, rejects the same way. Otherwise
// invokes fn and records the outcome: errors count toward the failure
// threshold unless they match the excluded set, in which case they
// propagate but leave the streak counters untouched.
//
// # Inputs
//
//   - ctx: Passed through to fn. The breaker itself does not block.
//   - fn: The operation to guard.
//
// # Outputs
//
//   - error: *RejectedError if the circuit is open, or fn's error.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}

	err = fn(ctx)
	b.record(err, probe)
	return err
}

// allow decides whether a call may proceed, observing the Open
// timeout on the way. While HalfOpen, exactly one trial call is in
// flight at a time; concurrent callers are rejected until its outcome
// is recorded.
func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil

	case HalfOpen:
		if b.inFlight > 0 {
			b.stats.recordRejection()
			recordRejection(b.name)
			return false, &RejectedError{Name: b.name, RetryAfter: b.config.Timeout}
		}
		b.inFlight++
		return true, nil

	case Open:
		elapsed := time.Since(b.openedAt)
		if elapsed >= b.config.Timeout {
			b.transitionTo(HalfOpen)
			b.inFlight++
			return true, nil
		}
		b.stats.recordRejection()
		recordRejection(b.name)
		return false, &RejectedError{
			Name:       b.name,
			RetryAfter: b.config.Timeout - elapsed,
		}

	default:
		return false, &RejectedError{Name: b.name, RetryAfter: b.config.Timeout}
	}
}

// record updates stats and state from a call outcome.
func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe && b.inFlight > 0 {
		b.inFlight--
	}

	now := time.Now()
	if err == nil {
		b.stats.recordSuccess(now)
		if b.state == HalfOpen && b.stats.ConsecutiveSuccesses >= b.config.SuccessThreshold {
			b.stats.reset()
			b.transitionTo(Closed)
		}
		return
	}

	if b.isExcluded(err) {
		b.stats.recordExcluded()
		return
	}

	b.stats.recordFailure(now)
	switch b.state {
	case Closed:
		if b.stats.ConsecutiveFailures >= b.config.FailureThreshold {
			b.transitionTo(Open)
		}
	case HalfOpen:
		// Any real failure during a probe re-opens immediately.
		b.transitionTo(Open)
	}
}

// isExcluded reports whether err matches the configured excluded set.
func (b *Breaker) isExcluded(err error) bool {
	for _, excluded := range b.config.ExcludedErrors {
		if errors.Is(err, excluded) {
			return true
		}
	}
	return false
}

// transitionTo changes state under the held lock and maintains the
// opened_at invariant: set if and only if the breaker is Open.
func (b *Breaker) transitionTo(state State) {
	if b.state == state {
		return
	}

	old := b.state
	b.state = state
	if state == Open {
		b.openedAt = time.Now()
	} else {
		b.openedAt = time.Time{}
	}
	if state == HalfOpen {
		b.inFlight = 0
	}

	recordTransition(b.name, old, state)
	recordBreakerState(b.name, state)

	if b.config.OnStateChange != nil {
		// Callback runs outside the lock to prevent deadlocks.
		go b.config.OnStateChange(b.name, old, state)
	}
}

// State returns the current state, observing the Open timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observeTimeoutLocked()
	return b.state
}

// Status returns a snapshot of the breaker.
//
// # Description
//
// Reading status also observes the Open timeout: a breaker whose
// Timeout has elapsed transitions to HalfOpen on this read, matching
// what the next Call would do.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observeTimeoutLocked()

	status := Status{
		Name:             b.name,
		State:            b.state,
		FailureThreshold: b.config.FailureThreshold,
		SuccessThreshold: b.config.SuccessThreshold,
		Timeout:          b.config.Timeout,
		Stats:            b.stats,
	}
	if b.state == Open {
		openedAt := b.openedAt
		status.OpenedAt = &openedAt
	}
	return status
}

// observeTimeoutLocked transitions Open breakers whose timeout has
// elapsed. Caller holds the lock.
func (b *Breaker) observeTimeoutLocked() {
	if b.state == Open && time.Since(b.openedAt) >= b.config.Timeout {
		b.transitionTo(HalfOpen)
	}
}

// Reset forces the breaker to Closed and clears all stats.
//
// Use when the dependency is known to have been fixed externally.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.reset()
	b.transitionTo(Closed)
}

// ForceOpen trips the breaker immediately, stamping opened_at with now.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		b.openedAt = time.Now()
		return
	}
	b.transitionTo(Open)
}
