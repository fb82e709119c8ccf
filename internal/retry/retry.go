// Package retry provides bounded retry with linearly growing backoff for
// the pipeline's transient I/O boundaries (vector store, relational
// store, generative provider).
package retry

import (
	"context"
	"time"
)

// DefaultAttempts matches the pipeline contract of three tries per
// external call.
const DefaultAttempts = 3

// DefaultBaseDelay is the first backoff interval; attempt n waits n*base.
const DefaultBaseDelay = 200 * time.Millisecond

// Do runs fn up to attempts times, sleeping base*attempt between tries.
// It returns the last error when all attempts fail, and stops early when
// the context is cancelled.
func Do(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if base <= 0 {
		base = DefaultBaseDelay
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(base * time.Duration(attempt)):
		}
	}
	return err
}

// DoValue is Do for functions that return a value.
func DoValue[T any](ctx context.Context, attempts int, base time.Duration, fn func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, attempts, base, func() error {
		var ferr error
		out, ferr = fn()
		return ferr
	})
	return out, err
}
