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

import "context"

// GuardedOperation wraps a callable so it routes through a breaker.
//
// # Description
//
// An explicit adapter constructed at the call site: composition
// instead of implicit interception. The zero value is not usable;
// build one with NewGuardedOperation.
//
// # Example
//
//	op := circuit.NewGuardedOperation(registry, "embeddings", func(ctx context.Context) error {
//	    return embedder.Embed(ctx, texts)
//	})
//	err := op.Invoke(ctx)
type GuardedOperation struct {
	breaker *Breaker
	fn      func(context.Context) error
}

// NewGuardedOperation builds an adapter guarding fn with the named
// breaker from the registry.
func NewGuardedOperation(registry *Registry, dependency string, fn func(context.Context) error) GuardedOperation {
	return GuardedOperation{
		breaker: registry.Get(dependency),
		fn:      fn,
	}
}

// Invoke runs the wrapped callable through the breaker.
func (g GuardedOperation) Invoke(ctx context.Context) error {
	return g.breaker.Call(ctx, g.fn)
}

// Do runs a value-returning operation through a breaker.
//
// # Description
//
// Generic companion to Breaker.Call for operations that produce a
// result. On rejection the zero value of T is returned alongside
// *RejectedError.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Call(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = fn(ctx)
		return callErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
