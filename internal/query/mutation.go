package query

import (
	"context"
	"sync"
)

// Mutation wraps a single-attempt remote write with its own pending and error
// state. OnSuccess runs after a successful call, before Mutate returns.
type Mutation[V, R any] struct {
	fn        func(ctx context.Context, vars V) (R, error)
	onSuccess func(result R, vars V)

	mu      sync.Mutex
	pending int
	err     error
}

func NewMutation[V, R any](fn func(ctx context.Context, vars V) (R, error), onSuccess func(result R, vars V)) *Mutation[V, R] {
	return &Mutation[V, R]{fn: fn, onSuccess: onSuccess}
}

// Mutate runs the write once. Failures are never retried.
func (m *Mutation[V, R]) Mutate(ctx context.Context, vars V) (R, error) {
	m.mu.Lock()
	m.pending++
	m.err = nil
	m.mu.Unlock()

	result, err := m.fn(ctx, vars)

	m.mu.Lock()
	m.pending--
	m.err = err
	m.mu.Unlock()

	if err == nil && m.onSuccess != nil {
		m.onSuccess(result, vars)
	}

	return result, err
}

func (m *Mutation[V, R]) IsPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending > 0
}

// Err is the error of the most recent call, nil after a success.
func (m *Mutation[V, R]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Mutation[V, R]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = nil
}
