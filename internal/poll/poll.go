// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package poll provides bounded polling and retry loops with explicit outcomes.
package poll

import (
	"context"
	"time"
)

// Status defines outcome of a polling step or of the whole poll.
type Status int

const (
	// Pending defines that the awaited state is not reached yet.
	Pending Status = iota
	// Resolved defines that the awaited state is reached.
	Resolved
	// Fatal defines failure which further attempts cannot fix.
	Fatal
)

// String returns status name.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Fatal:
		return "fatal"
	}

	return "unknown"
}

// Result defines outcome of a polling step. Attempts is set by WithBudget.
type Result[T any] struct {
	Status   Status
	Value    T
	Err      error
	Attempts int
}

// Resolve returns resolved result with value.
func Resolve[T any](value T) Result[T] {
	return Result[T]{Status: Resolved, Value: value}
}

// Wait returns pending result, err describes why the step is not resolved and may be nil.
func Wait[T any](err error) Result[T] {
	return Result[T]{Status: Pending, Err: err}
}

// Fail returns fatal result.
func Fail[T any](err error) Result[T] {
	return Result[T]{Status: Fatal, Err: err}
}

// WithBudget calls action until it returns Resolved or Fatal, at most maxAttempts times,
// sleeping interval between attempts. Returns the last Pending result when the budget
// is exhausted or ctx is done, Err then holds the last step error or the context error.
func WithBudget[T any](ctx context.Context, interval time.Duration, maxAttempts int, action func(context.Context) Result[T]) Result[T] {
	var last Result[T]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = action(ctx)
		last.Attempts = attempt
		if last.Status != Pending || attempt == maxAttempts {
			return last
		}

		if err := sleep(ctx, interval); err != nil {
			last.Err = err
			return last
		}
	}

	return last
}

// Retry calls action until it succeeds, returns non transient error or attempts are spent,
// sleeping delay between attempts. Returns number of made attempts and the last error.
func Retry(ctx context.Context, delay time.Duration, attempts int, transient func(error) bool, action func(context.Context) error) (int, error) {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = action(ctx); err == nil || !transient(err) || attempt == attempts {
			return attempt, err
		}

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return attempt, err
		}
	}

	return 0, err
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
