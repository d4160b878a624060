// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package settlement drives a user signed draft through the execution layer to a
// confirmed base chain transaction and commits counters of the operation.
package settlement

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/chimera/bitcoin/signer"
	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
	"github.com/BoostyLabs/chimera/errs"
	"github.com/BoostyLabs/chimera/execution"
	"github.com/BoostyLabs/chimera/internal/poll"
	"github.com/BoostyLabs/chimera/ledger"
)

// Config defines settlement budgets and execution layer accounts.
type Config struct {
	ProgramID     execution.Pubkey
	EscrowAccount execution.Pubkey
	NetworkParams *chaincfg.Params // network of user addresses counters are charged to.

	SubmitAttempts int           // total submission attempts, also bounds rebroadcasts.
	SubmitDelay    time.Duration // constant delay between submission attempts.

	PollInterval time.Duration
	PollAttempts int
	Timeout      time.Duration // wall clock deadline of processed transaction polling.

	ConfirmInterval time.Duration
	ConfirmAttempts int
	RequireBlock    bool // wait for a block instead of mempool acceptance before committing counters.
}

// withDefaults returns config with every budget set to at least one attempt.
func (c Config) withDefaults() Config {
	c.SubmitAttempts = max(c.SubmitAttempts, 1)
	c.PollAttempts = max(c.PollAttempts, 1)
	c.ConfirmAttempts = max(c.ConfirmAttempts, 1)

	return c
}

// Executor submits envelopes to the execution layer and looks processed ones up.
type Executor interface {
	SendTransaction(ctx context.Context, tx *execution.RuntimeTransaction) (string, error)
	ProcessedTransaction(ctx context.Context, txID string) (*execution.ProcessedTransaction, error)
}

// Broadcaster relays raw transactions to the base chain.
type Broadcaster interface {
	Broadcast(tx *wire.MsgTx) (string, error)
}

// ChainIndex reports whether the base chain transaction is known or confirmed.
type ChainIndex interface {
	IsKnown(ctx context.Context, txHash string) (bool, error)
	IsConfirmed(ctx context.Context, txHash string) (bool, error)
}

// Releaser drops outpoint leases.
type Releaser interface {
	Release(outpoints ...string) error
}

// Request describes signed draft to settle.
type Request struct {
	Packet     *psbt.Packet
	Referenced Referenced

	// EscrowScript is the resolved escrow locking script, required by counter shapes
	// to tell the user destination of the runes from escrow change.
	EscrowScript []byte

	// UserAddress is optional, if set it must be the address the draft pays runes to.
	UserAddress string

	// Admit is optional, it is called with the address counters are charged to before submission.
	Admit func(ctx context.Context, userAddress string) error
}

// Submitter settles signed drafts.
type Submitter struct {
	config   Config
	key      *btcec.PrivateKey
	executor Executor
	relay    Broadcaster
	index    ChainIndex
	counters ledger.Store
	releaser Releaser
}

// NewSubmitter is a constructor for Submitter. relay and releaser are optional.
func NewSubmitter(config Config, key *btcec.PrivateKey, executor Executor, relay Broadcaster, index ChainIndex,
	counters ledger.Store, releaser Releaser) *Submitter {
	return &Submitter{
		config:   config.withDefaults(),
		key:      key,
		executor: executor,
		relay:    relay,
		index:    index,
		counters: counters,
		releaser: releaser,
	}
}

// Settle finalizes the signed draft, submits it to the execution layer, waits for the resulting
// base chain transaction and, for counter mutating operations, commits the counters once the
// indexer knows that transaction. Returns the base chain txid.
func (s *Submitter) Settle(ctx context.Context, req Request) (string, error) {
	shape, err := txbuilder.ShapeByOperation(req.Referenced.Operation)
	if err != nil {
		return "", err
	}

	f := newFlow(logger.Fields{"shape": shape.Name, "user": req.UserAddress})

	if req.Packet == nil || req.Packet.UnsignedTx == nil {
		return "", f.fail(errs.New(errs.InputValidation, "signed draft is missing"))
	}
	if err = req.Referenced.match(req.Packet, shape.Placement); err != nil {
		return "", f.fail(err)
	}

	var userAddress string
	if shape.Counter != "" {
		if userAddress, err = s.recipient(ctx, req); err != nil {
			return "", f.fail(err)
		}
	}

	outpoints := make([]string, 0, len(req.Packet.UnsignedTx.TxIn))
	for _, in := range req.Packet.UnsignedTx.TxIn {
		outpoints = append(outpoints, in.PreviousOutPoint.String())
	}
	f.advance(DraftSigned, logger.Fields{"inputs": len(outpoints)})

	tx, err := signer.Finalize(req.Packet, req.Referenced.InputIndexes())
	if err != nil {
		s.release(outpoints)
		return "", f.fail(errs.Wrap(errs.InputValidation, err))
	}
	f.advance(Finalized, nil)

	envelope, err := s.envelope(shape, req.Referenced, tx)
	if err != nil {
		s.release(outpoints)
		return "", f.fail(errs.Wrap(errs.Internal, err))
	}

	executionTxID, err := s.submit(ctx, envelope)
	if err != nil {
		s.release(outpoints)
		return "", f.fail(err)
	}
	f.advance(Submitted, logger.Fields{"execution_txid": executionTxID})

	processed, err := s.resolve(ctx, executionTxID)
	if err != nil {
		return "", f.fail(err)
	}

	bitcoinTxID := processed.BitcoinTxIDs[0]
	f.advance(ExecutionResolved, logger.Fields{"bitcoin_txid": bitcoinTxID})

	if err = s.rebroadcast(ctx, processed); err != nil {
		return "", f.fail(err)
	}

	if shape.Counter != "" {
		if err = s.confirm(ctx, bitcoinTxID); err != nil {
			return "", f.fail(err)
		}
		f.advance(BaseChainConfirmed, nil)

		if err = s.commit(ctx, shape.Counter, userAddress); err != nil {
			return "", f.fail(err)
		}
	}

	s.release(outpoints)
	f.advance(Settled, nil)

	return bitcoinTxID, nil
}

// recipient returns address the draft pays runes to, checks it against the requested one
// and lets the caller admit it.
func (s *Submitter) recipient(ctx context.Context, req Request) (string, error) {
	userAddress, err := Recipient(req.Packet.UnsignedTx, req.EscrowScript, s.config.NetworkParams)
	if err != nil {
		return "", err
	}

	if req.UserAddress != "" && req.UserAddress != userAddress {
		return "", errs.New(errs.InputValidation, "draft pays runes to %s, not to %s", userAddress, req.UserAddress)
	}

	if req.Admit != nil {
		if err = req.Admit(ctx, userAddress); err != nil {
			return "", err
		}
	}

	return userAddress, nil
}

// envelope returns signed envelope carrying the settlement instruction.
func (s *Submitter) envelope(shape txbuilder.SwapShape, referenced Referenced, tx *wire.MsgTx) (*execution.RuntimeTransaction, error) {
	var raw bytes.Buffer
	if err := tx.Serialize(&raw); err != nil {
		return nil, err
	}

	instruction, err := execution.NewSwapInstruction(s.config.ProgramID, s.config.EscrowAccount, shape.Operation,
		referenced.payload(raw.Bytes()))
	if err != nil {
		return nil, err
	}

	return execution.NewRuntimeTransaction(s.key, instruction)
}

// submit sends the envelope, retrying transient failures within the submission budget.
func (s *Submitter) submit(ctx context.Context, envelope *execution.RuntimeTransaction) (string, error) {
	var txID string
	attempts, err := poll.Retry(ctx, s.config.SubmitDelay, s.config.SubmitAttempts, execution.IsTransient, func(ctx context.Context) error {
		id, err := s.executor.SendTransaction(ctx, envelope)
		if err != nil {
			logger.WithError(err).Warn("envelope submission failed")
			return err
		}

		txID = id
		return nil
	})
	if err != nil {
		return "", errs.Wrap(errs.ExternalService, fmt.Errorf("submission failed after %d attempts: %w", attempts, err))
	}

	return txID, nil
}

// resolve polls the execution layer until the envelope is processed, the budget is spent or the deadline passes.
func (s *Submitter) resolve(ctx context.Context, txID string) (*execution.ProcessedTransaction, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	result := poll.WithBudget(ctx, s.config.PollInterval, s.config.PollAttempts, func(ctx context.Context) poll.Result[*execution.ProcessedTransaction] {
		processed, err := s.executor.ProcessedTransaction(ctx, txID)
		switch {
		case err != nil && execution.IsTransient(err):
			return poll.Wait[*execution.ProcessedTransaction](err)
		case err != nil:
			return poll.Fail[*execution.ProcessedTransaction](errs.Wrap(errs.ExternalService, err))
		case processed == nil || processed.Status == execution.StatusProcessing:
			return poll.Wait[*execution.ProcessedTransaction](nil)
		case processed.Status == execution.StatusFailed:
			return poll.Fail[*execution.ProcessedTransaction](errs.New(errs.ExternalService,
				"execution layer rolled %s back: %s", txID, processed.RollbackMessage))
		case len(processed.BitcoinTxIDs) == 0:
			return poll.Fail[*execution.ProcessedTransaction](errs.New(errs.ExternalService,
				"processed %s carries no bitcoin transaction", txID))
		}

		return poll.Resolve(processed)
	})

	switch result.Status {
	case poll.Resolved:
		return result.Value, nil
	case poll.Fatal:
		return nil, result.Err
	}

	return nil, timeout(fmt.Sprintf("execution transaction %s is not processed after %d attempts", txID, result.Attempts), result.Err)
}

// rebroadcast relays signed transactions of the processed record, if it carries any.
func (s *Submitter) rebroadcast(ctx context.Context, processed *execution.ProcessedTransaction) error {
	if s.relay == nil {
		return nil
	}

	for _, rawHex := range processed.BitcoinTxs {
		raw, err := hex.DecodeString(rawHex)
		if err != nil {
			return errs.Wrap(errs.ExternalService, fmt.Errorf("processed transaction hex: %w", err))
		}

		tx := new(wire.MsgTx)
		if err = tx.Deserialize(bytes.NewReader(raw)); err != nil {
			return errs.Wrap(errs.ExternalService, fmt.Errorf("processed transaction: %w", err))
		}

		_, err = poll.Retry(ctx, s.config.SubmitDelay, s.config.SubmitAttempts, errs.IsRetryable, func(context.Context) error {
			_, err := s.relay.Broadcast(tx)
			return err
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// confirm waits until the indexer knows the transaction, or sees it in a block if required.
func (s *Submitter) confirm(ctx context.Context, txID string) error {
	check := s.index.IsKnown
	if s.config.RequireBlock {
		check = s.index.IsConfirmed
	}

	result := poll.WithBudget(ctx, s.config.ConfirmInterval, s.config.ConfirmAttempts, func(ctx context.Context) poll.Result[bool] {
		ok, err := check(ctx, txID)
		if err != nil || !ok {
			return poll.Wait[bool](err)
		}

		return poll.Resolve(true)
	})
	if result.Status == poll.Resolved {
		return nil
	}

	return timeout(fmt.Sprintf("bitcoin transaction %s is not confirmed after %d attempts", txID, result.Attempts), result.Err)
}

// commit increments the counter once for the user and once globally.
func (s *Submitter) commit(ctx context.Context, counter, userAddress string) error {
	for _, scope := range []string{ledger.UserScope(userAddress), ledger.GlobalScope} {
		if err := s.counters.Increment(ctx, scope, counter, 1); err != nil {
			return err
		}

		logger.WithFields(logger.Fields{"scope": scope, "counter": counter}).Debug("counter incremented")
	}

	return nil
}

// release drops leases of the outpoints, a failure only delays their reuse until the lease expires.
func (s *Submitter) release(outpoints []string) {
	if s.releaser == nil {
		return
	}

	if err := s.releaser.Release(outpoints...); err != nil {
		logger.WithError(err).Warn("could not release reservations")
	}
}

func timeout(message string, cause error) error {
	if cause == nil {
		return errs.New(errs.SettlementTimeout, "%s", message)
	}

	return errs.New(errs.SettlementTimeout, "%s: %w", message, cause)
}
