// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package sequencereader

import (
	"errors"
)

// ErrEnded defines read past the end of the sequence.
var ErrEnded = errors.New("the sequence is ended")

// SequenceReader reads sequence items one by one or in fixed size groups.
type SequenceReader[T any] struct {
	s   []T
	idx int
}

// New is a constructor for SequenceReader.
func New[T any](seq []T) *SequenceReader[T] {
	return &SequenceReader[T]{s: seq}
}

// HasNext returns true is sequence is not ended.
func (sr *SequenceReader[T]) HasNext() bool {
	return sr.idx < len(sr.s)
}

// Next returns next element of the sequence.
func (sr *SequenceReader[T]) Next() (T, error) {
	if !sr.HasNext() {
		return *new(T), ErrEnded
	}

	sr.idx++

	return sr.s[sr.idx-1], nil
}

// Take returns next n elements, reads nothing if fewer are left.
func (sr *SequenceReader[T]) Take(n int) ([]T, error) {
	if n < 0 || sr.Len() < n {
		return nil, ErrEnded
	}

	group := sr.s[sr.idx : sr.idx+n : sr.idx+n]
	sr.idx += n

	return group, nil
}

// Len returns how many items are left.
func (sr *SequenceReader[T]) Len() int {
	return len(sr.s) - sr.idx
}
