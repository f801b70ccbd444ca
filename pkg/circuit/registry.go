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

import "sync"

// Registry is a named table of breakers for one process.
//
// # Description
//
// The registry exists for diagnostics and explicit lookup, not for
// control flow: components receive a *Registry by dependency injection
// and ask it for the breaker guarding a dependency. Breakers live for
// the process lifetime and are never implicitly destroyed, only
// explicitly reset.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
//
// # Example
//
//	registry := circuit.NewRegistry(circuit.DefaultConfig())
//	b := registry.Get("embeddings")
//	err := b.Call(ctx, op)
type Registry struct {
	defaults Config
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
//
// # Inputs
//
//   - defaults: Configuration applied to breakers created by Get.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		defaults: defaults,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a dependency, creating it with the
// registry defaults if absent.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.defaults)
	r.breakers[name] = b
	return b
}

// GetWithConfig returns the breaker for a dependency, creating it with
// a custom configuration if absent. An existing breaker keeps its
// original configuration.
func (r *Registry) GetWithConfig(name string, config Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, config)
	r.breakers[name] = b
	return b
}

// Status returns a snapshot of every registered breaker keyed by name.
func (r *Registry) Status() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Status, len(r.breakers))
	for name, b := range r.breakers {
		result[name] = b.Status()
	}
	return result
}

// Reset resets one breaker by name. Returns false if no breaker is
// registered under that name.
func (r *Registry) Reset(name string) bool {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// ResetAll resets every registered breaker.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
