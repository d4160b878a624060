// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package ratelimit provides process local fixed window rate limiter.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/BoostyLabs/chimera/errs"
)

// ErrLimitExceeded defines that the window admitted its limit already.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// FixedWindow admits at most Limit calls per window, windows are aligned to the clock,
// so the counter resets when the wall clock crosses the window boundary.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	started time.Time
	count   int
}

// DefaultWindow replaces non positive windows, which can not be aligned to the clock.
const DefaultWindow = time.Minute

// NewFixedWindow is a constructor for FixedWindow, now may be nil to use the wall clock.
func NewFixedWindow(limit int, window time.Duration, now func() time.Time) *FixedWindow {
	if now == nil {
		now = time.Now
	}

	if window <= 0 {
		window = DefaultWindow
	}

	return &FixedWindow{
		limit:  limit,
		window: window,
		now:    now,
	}
}

// Allow admits the call or returns RateLimited error.
func (fw *FixedWindow) Allow() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	current := fw.now().Truncate(fw.window)
	if !current.Equal(fw.started) {
		fw.started, fw.count = current, 0
	}

	if fw.count >= fw.limit {
		return errs.Wrap(errs.RateLimited, ErrLimitExceeded)
	}

	fw.count++

	return nil
}
