// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"context"
	"errors"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
	"github.com/BoostyLabs/chimera/errs"
	"github.com/BoostyLabs/chimera/internal/numbers"
)

// defaultValidationConcurrency defines how many candidate checks run at once.
const defaultValidationConcurrency = 8

// ErrNoAvailableAsset defines that no candidate carries a matching asset.
var ErrNoAvailableAsset = errors.New("no available asset")

// Pager returns a page of candidates in indexer order, hasMore reports that further pages exist.
type Pager func(ctx context.Context, page int) (utxos []bitcoin.UTXO, hasMore bool, err error)

// Validator checks that candidate outputs are spendable right now.
type Validator interface {
	// IsConfirmed returns true if the transaction is included in a block.
	IsConfirmed(ctx context.Context, txHash string) (bool, error)
	// IsUnspent returns true if the output is not spent by any known transaction.
	IsUnspent(ctx context.Context, txHash string, vout uint32) (bool, error)
}

// Exclusions defines set of outpoints already taken by the request.
type Exclusions map[string]struct{}

// Add adds outpoints of provided utxos.
func (e Exclusions) Add(utxos ...bitcoin.UTXO) {
	for _, utxo := range utxos {
		e[utxo.OutPoint()] = struct{}{}
	}
}

// Has returns true if outpoint is excluded.
func (e Exclusions) Has(outpoint string) bool {
	_, ok := e[outpoint]
	return ok
}

// ValueTarget describes what the payment inputs have to fund.
type ValueTarget struct {
	FixedInputs int   // inputs already placed in the draft.
	Outputs     int   // outputs except the trailing change one.
	Amount      int64 // outputs value minus fixed inputs value, negative if fixed inputs overfund outputs.
	FeeRate     int64 // satoshi per vByte.
}

// ValueSelection describes selected payment inputs.
type ValueSelection struct {
	UTXOs  []bitcoin.UTXO
	Total  int64 // value of selected utxos.
	Fee    int64
	Change int64 // trailing change output value.
}

// Selector accumulates candidates returned by the indexer until the target is met.
type Selector struct {
	validator   Validator
	skip        func(outpoint string) bool
	concurrency int
}

// NewSelector is a constructor for Selector, skip reports outpoints leased by other requests and may be nil.
func NewSelector(validator Validator, skip func(outpoint string) bool) *Selector {
	if skip == nil {
		skip = func(string) bool { return false }
	}

	return &Selector{
		validator:   validator,
		skip:        skip,
		concurrency: defaultValidationConcurrency,
	}
}

// SelectRunes selects rune carrying utxos until their total amount of the rune reaches need.
// Returns selected utxos and their total rune amount.
func (s *Selector) SelectRunes(ctx context.Context, pager Pager, runeID runes.RuneID, need *big.Int, used Exclusions) ([]bitcoin.UTXO, *big.Int, error) {
	var (
		selected []bitcoin.UTXO
		total    = big.NewInt(0)
	)

	accept := func(utxo *bitcoin.UTXO) bool {
		// inscriptions on a rune utxo would travel with the rune change.
		return len(utxo.Inscriptions) == 0 && numbers.IsPositive(utxo.RuneAmount(runeID))
	}

	err := s.scan(ctx, pager, used, accept, func(utxo bitcoin.UTXO) (bool, error) {
		selected = append(selected, utxo)
		total.Add(total, utxo.RuneAmount(runeID))

		return !numbers.IsLess(total, need), nil
	})
	if err != nil {
		return nil, nil, err
	}

	if numbers.IsLess(total, need) {
		insufficient := &InsufficientError{Type: InsufficientErrorTypeRune, Asset: runeID.String()}
		return nil, nil, insufficient.withAmounts(new(big.Int).Set(need), total)
	}

	return selected, total, nil
}

// SelectValue selects plain utxos to fund target with fee and a non-dust change output.
// Fee depends on the inputs number only, so after adding the k-th candidate the fee is recomputed
// for FixedInputs+k inputs; every iteration adds exactly one input, which bounds the loop by the
// number of candidates and makes the required amount non-decreasing.
func (s *Selector) SelectValue(ctx context.Context, pager Pager, target ValueTarget, used Exclusions) (*ValueSelection, error) {
	selection := new(ValueSelection)
	need := func() int64 {
		selection.Fee = Fee(target.FixedInputs+len(selection.UTXOs), target.Outputs, target.FeeRate, true)
		return target.Amount + selection.Fee + bitcoin.DustAmount
	}

	if selection.Total >= need() {
		selection.Change = selection.Total - target.Amount - selection.Fee
		return selection, nil
	}

	accept := func(utxo *bitcoin.UTXO) bool {
		return utxo.IsPlain() && utxo.Amount > 0
	}

	err := s.scan(ctx, pager, used, accept, func(utxo bitcoin.UTXO) (bool, error) {
		selection.UTXOs = append(selection.UTXOs, utxo)
		selection.Total += utxo.Amount

		return selection.Total >= need(), nil
	})
	if err != nil {
		return nil, err
	}

	if required := need(); selection.Total < required {
		insufficient := &InsufficientError{Type: InsufficientErrorTypeBitcoin}
		return nil, insufficient.withAmounts(big.NewInt(required), big.NewInt(selection.Total))
	}

	selection.Change = selection.Total - target.Amount - selection.Fee

	return selection, nil
}

// SelectAsset returns the first spendable inscription carrying utxo accepted by match.
func (s *Selector) SelectAsset(ctx context.Context, pager Pager, match func(context.Context, bitcoin.UTXO) (bool, error), used Exclusions) (bitcoin.UTXO, error) {
	var found *bitcoin.UTXO

	accept := func(utxo *bitcoin.UTXO) bool {
		// runes on an asset utxo are not distributed by asset legs.
		return len(utxo.Inscriptions) > 0 && !utxo.HasRunes()
	}

	err := s.scan(ctx, pager, used, accept, func(utxo bitcoin.UTXO) (bool, error) {
		ok, err := match(ctx, utxo)
		if err != nil || !ok {
			return false, err
		}

		found = &utxo
		return true, nil
	})
	if err != nil {
		return bitcoin.UTXO{}, err
	}

	if found == nil {
		return bitcoin.UTXO{}, errs.Retryable(errs.NoAvailableCounterAsset, ErrNoAvailableAsset)
	}

	return *found, nil
}

// scan walks pages of candidates, validates accepted ones concurrently per page and
// visits valid candidates in indexer order until visit reports completion.
func (s *Selector) scan(ctx context.Context, pager Pager, used Exclusions, accept func(*bitcoin.UTXO) bool,
	visit func(bitcoin.UTXO) (bool, error)) error {
	for page := 0; ; page++ {
		utxos, hasMore, err := pager(ctx, page)
		if err != nil {
			return errs.Wrap(errs.ExternalService, err)
		}

		candidates := make([]bitcoin.UTXO, 0, len(utxos))
		for idx := range utxos {
			outpoint := utxos[idx].OutPoint()
			if used.Has(outpoint) || s.skip(outpoint) || !accept(&utxos[idx]) {
				continue
			}

			candidates = append(candidates, utxos[idx])
		}

		valid, err := s.validate(ctx, candidates)
		if err != nil {
			return err
		}

		for idx, candidate := range candidates {
			if !valid[idx] {
				continue
			}

			done, err := visit(candidate)
			if err != nil {
				return err
			}

			if done {
				return nil
			}
		}

		if !hasMore || len(utxos) == 0 {
			return nil
		}
	}
}

// validate runs confirmation and unspent checks for every candidate and waits for all of them.
func (s *Selector) validate(ctx context.Context, candidates []bitcoin.UTXO) ([]bool, error) {
	confirmed := make([]bool, len(candidates))
	unspent := make([]bool, len(candidates))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for idx := range candidates {
		group.Go(func() (err error) {
			confirmed[idx], err = s.validator.IsConfirmed(groupCtx, candidates[idx].TxHash)
			return err
		})
		group.Go(func() (err error) {
			unspent[idx], err = s.validator.IsUnspent(groupCtx, candidates[idx].TxHash, candidates[idx].Index)
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return nil, errs.Wrap(errs.ExternalService, err)
	}

	valid := make([]bool, len(candidates))
	for idx := range candidates {
		valid[idx] = confirmed[idx] && unspent[idx]
	}

	return valid, nil
}
