// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package errs defines the closed set of error kinds surfaced to callers.
package errs

import (
	"errors"
	"fmt"
)

// Kind defines stable error class callers can branch on.
type Kind int

const (
	// Internal defines unexpected failure inside the service.
	Internal Kind = iota
	// InputValidation defines malformed caller input: pubkey, address, asset id, amount or shape.
	InputValidation
	// InsufficientFunds defines that candidates are exhausted before the target is met.
	InsufficientFunds
	// NoAvailableCounterAsset defines that escrow holds no matching asset at the moment, retryable by caller.
	NoAvailableCounterAsset
	// RateLimited defines rejected request by the fixed window limiter.
	RateLimited
	// ExternalService defines failure of the indexer, fee oracle, relay or execution layer.
	ExternalService
	// BroadcastRejected defines that base chain relay refused the transaction.
	BroadcastRejected
	// SettlementTimeout defines that the execution layer did not resolve the transaction in time.
	SettlementTimeout
)

var kindNames = map[Kind]string{
	Internal:                "internal",
	InputValidation:         "input_validation",
	InsufficientFunds:       "insufficient_funds",
	NoAvailableCounterAsset: "no_available_counter_asset",
	RateLimited:             "rate_limited",
	ExternalService:         "external_service",
	BroadcastRejected:       "broadcast_rejected",
	SettlementTimeout:       "settlement_timeout",
}

// String returns snake case kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Error binds an error to its Kind.
type Error struct {
	Kind      Kind
	Retryable bool
	Err       error
}

// Error returns error description.
func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap returns underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates Error of the kind with formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap binds err to the kind, returns nil for nil err.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Err: err}
}

// Retryable binds err to the kind and marks it as retryable.
func Retryable(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Retryable: true, Err: err}
}

// kinded is implemented by typed errors of other packages which know their kind.
type kinded interface {
	Kind() Kind
}

// KindOf returns the kind of the outermost classified error in the chain, Internal if none.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		switch typed := e.(type) {
		case *Error:
			return typed.Kind
		case kinded:
			return typed.Kind()
		}
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}

	return Internal
}

// Is returns true if err is classified with the kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable returns true if any Error in the chain is marked retryable,
// NoAvailableCounterAsset is always retryable.
func IsRetryable(err error) bool {
	var classified *Error
	if errors.As(err, &classified) && classified.Retryable {
		return true
	}

	return Is(err, NoAvailableCounterAsset)
}
