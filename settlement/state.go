// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package settlement

import (
	logger "github.com/sirupsen/logrus"
)

// State defines settlement progress. No state is persisted, every call starts from Requested.
type State int

const (
	// Requested defines received settle call.
	Requested State = iota
	// DraftSigned defines validated signed draft and its referenced utxos.
	DraftSigned
	// Finalized defines extracted raw transaction without escrow inputs.
	Finalized
	// Submitted defines envelope accepted by the execution layer.
	Submitted
	// ExecutionResolved defines processed envelope with resulting base chain txid.
	ExecutionResolved
	// BaseChainConfirmed defines base chain transaction seen by the indexer.
	BaseChainConfirmed
	// Settled defines terminal success.
	Settled
	// Failed defines terminal failure reachable from any other state.
	Failed
)

var stateNames = map[State]string{
	Requested:          "REQUESTED",
	DraftSigned:        "DRAFT_SIGNED",
	Finalized:          "FINALIZED",
	Submitted:          "SUBMITTED_TO_EXECUTION_LAYER",
	ExecutionResolved:  "EXECUTION_RESOLVED",
	BaseChainConfirmed: "BASE_CHAIN_CONFIRMED",
	Settled:            "SETTLED",
	Failed:             "FAILED",
}

// String returns state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "UNKNOWN"
}

// IsTerminal returns true for Settled and Failed.
func (s State) IsTerminal() bool {
	return s == Settled || s == Failed
}

// flow tracks state of one settle call and logs every transition.
type flow struct {
	state State
	log   *logger.Entry
}

func newFlow(fields logger.Fields) *flow {
	f := &flow{state: Requested, log: logger.WithFields(fields)}
	f.log.WithField("state", f.state.String()).Info("settlement requested")

	return f
}

// advance moves the flow forward, extra fields are kept for the next transitions.
func (f *flow) advance(next State, fields logger.Fields) {
	if fields != nil {
		f.log = f.log.WithFields(fields)
	}

	f.log.WithFields(logger.Fields{"from": f.state.String(), "state": next.String()}).Info("settlement state changed")
	f.state = next
}

// fail moves the flow to Failed and returns err.
func (f *flow) fail(err error) error {
	f.log.WithError(err).WithFields(logger.Fields{"from": f.state.String(), "state": Failed.String()}).Error("settlement failed")
	f.state = Failed

	return err
}
