// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package poll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/chimera/internal/poll"
)

func TestWithBudget(t *testing.T) {
	ctx := context.Background()
	errFatal := errors.New("fatal")

	tests := []struct {
		name        string
		resolveAt   int // attempt which resolves, 0 for never.
		failAt      int // attempt which fails, 0 for never.
		maxAttempts int
		status      poll.Status
		attempts    int
	}{
		{"resolved first", 1, 0, 5, poll.Resolved, 1},
		{"resolved last", 5, 0, 5, poll.Resolved, 5},
		{"exhausted", 0, 0, 4, poll.Pending, 4},
		{"fatal", 0, 2, 5, poll.Fatal, 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			calls := 0
			result := poll.WithBudget(ctx, time.Millisecond, test.maxAttempts, func(context.Context) poll.Result[string] {
				calls++
				switch calls {
				case test.resolveAt:
					return poll.Resolve("txid")
				case test.failAt:
					return poll.Fail[string](errFatal)
				}

				return poll.Wait[string](nil)
			})

			require.Equal(t, test.status, result.Status)
			require.Equal(t, test.attempts, result.Attempts)
			require.Equal(t, test.attempts, calls)
			switch test.status {
			case poll.Resolved:
				require.Equal(t, "txid", result.Value)
			case poll.Fatal:
				require.ErrorIs(t, result.Err, errFatal)
			}
		})
	}

	t.Run("context done", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		result := poll.WithBudget(ctx, time.Hour, 100, func(context.Context) poll.Result[int] {
			return poll.Wait[int](nil)
		})
		require.Equal(t, poll.Pending, result.Status)
		require.Equal(t, 1, result.Attempts)
		require.ErrorIs(t, result.Err, context.DeadlineExceeded)
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	errTransient := errors.New("transient")
	errPermanent := errors.New("permanent")
	isTransient := func(err error) bool { return errors.Is(err, errTransient) }

	t.Run("budget spent", func(t *testing.T) {
		calls := 0
		attempts, err := poll.Retry(ctx, time.Millisecond, 3, isTransient, func(context.Context) error {
			calls++
			return errTransient
		})
		require.ErrorIs(t, err, errTransient)
		require.Equal(t, 3, attempts)
		require.Equal(t, 3, calls)
	})

	t.Run("succeeds", func(t *testing.T) {
		calls := 0
		attempts, err := poll.Retry(ctx, time.Millisecond, 3, isTransient, func(context.Context) error {
			calls++
			if calls < 2 {
				return errTransient
			}

			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 2, attempts)
	})

	t.Run("permanent", func(t *testing.T) {
		attempts, err := poll.Retry(ctx, time.Millisecond, 3, isTransient, func(context.Context) error {
			return errPermanent
		})
		require.ErrorIs(t, err, errPermanent)
		require.Equal(t, 1, attempts)
	})
}
