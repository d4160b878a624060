// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package swap provides caller facing operations: building swap drafts and settling signed ones.
package swap

import (
	"context"
	"math/big"

	logger "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/bitcoin/ord/inscriptions"
	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
	"github.com/BoostyLabs/chimera/errs"
	"github.com/BoostyLabs/chimera/internal/ratelimit"
	"github.com/BoostyLabs/chimera/ledger"
	"github.com/BoostyLabs/chimera/settlement"
)

// Config defines tradable assets and prices.
type Config struct {
	Collection  string       // inscription collection exchanged in asset swaps.
	PaymentRune runes.RuneID // rune paid to escrow in asset swaps.
	ExchangeFee string       // display units of PaymentRune paid in AssetForToken.
	AssetPrice  string       // minimal display units of PaymentRune paid in TokenForAsset.
	ClaimRune   runes.RuneID
	ClaimAmount string // display units of ClaimRune released per claim.
	ClaimCap    int64  // claims per user, zero disables the cap.
	Basket      txbuilder.Basket
}

// Indexer provides utxos and asset metadata.
type Indexer interface {
	txbuilder.Source
	ListInscriptionUTXOs(ctx context.Context, address string, page int) ([]bitcoin.UTXO, bool, error)
	Rune(ctx context.Context, runeID runes.RuneID) (bitcoin.Rune, error)
	InscriptionCollection(ctx context.Context, inscriptionID string) (string, error)
}

// EscrowResolver resolves current escrow address.
type EscrowResolver interface {
	Resolve(ctx context.Context) (txbuilder.Escrow, error)
}

// FeeOracle returns recommended fee rate in satoshi per vByte.
type FeeOracle interface {
	Rate(ctx context.Context) int64
}

// Settler settles signed drafts.
type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (string, error)
}

// Reserver leases outpoints of built drafts.
type Reserver interface {
	Reserve(outpoints ...string) error
}

// Dependencies defines collaborators of the Service. Reserver is optional.
type Dependencies struct {
	Indexer  Indexer
	Selector *txbuilder.Selector
	Builder  *txbuilder.TxBuilder
	Resolver EscrowResolver
	Fees     FeeOracle
	Limiter  *ratelimit.FixedWindow
	Counters ledger.Store
	Reserver Reserver
	Settler  Settler
}

// BuildRequest describes caller request for drafts.
//
// AmountOrAssetID is the user inscription id for AssetForToken, rune amount in display units
// for TokenForAsset and TokenBasketRedemption and is ignored by Claim.
type BuildRequest struct {
	Shape           string
	Wallet          txbuilder.Wallet
	AmountOrAssetID string
}

// SettleRequest describes signed draft returned by the caller.
type SettleRequest struct {
	WalletType  WalletType
	SignedDraft string
	Referenced  settlement.Referenced
	UserAddress string
}

// Service provides swap related logic.
type Service struct {
	config Config
	deps   Dependencies
}

// NewService is a constructor for Service.
func NewService(config Config, deps Dependencies) *Service {
	return &Service{config: config, deps: deps}
}

// BuildDraft builds drafts of the requested shape. Basket redemption may return up to
// txbuilder.MaxDraftsPerRequest drafts, other shapes return one.
func (s *Service) BuildDraft(ctx context.Context, req BuildRequest) ([]Draft, error) {
	shape, err := txbuilder.ShapeByName(req.Shape)
	if err != nil {
		return nil, err
	}

	log := logger.WithFields(logger.Fields{"shape": shape.Name, "user": req.Wallet.TaprootAddress})

	if shape.Operation == txbuilder.OperationClaim {
		if err = s.admitClaim(ctx, req.Wallet.TaprootAddress); err != nil {
			log.WithError(err).Info("claim is rejected")
			return nil, err
		}
	}

	escrow, err := s.deps.Resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	draftReq := txbuilder.DraftRequest{
		Shape:   shape,
		User:    req.Wallet,
		Escrow:  escrow,
		FeeRate: s.deps.Fees.Rate(ctx),
		Used:    make(txbuilder.Exclusions),
	}

	switch shape.Operation {
	case txbuilder.OperationAssetForToken:
		err = s.prepareAssetForToken(ctx, &draftReq, req.AmountOrAssetID)
	case txbuilder.OperationTokenForAsset:
		err = s.prepareTokenForAsset(ctx, &draftReq, req.AmountOrAssetID)
	case txbuilder.OperationTokenBasketRedemption:
		draftReq.Legs, err = s.config.Basket.Legs(req.AmountOrAssetID)
	case txbuilder.OperationClaim:
		err = s.prepareClaim(ctx, &draftReq)
	}
	if err != nil {
		return nil, err
	}

	built, err := s.deps.Builder.Build(ctx, draftReq)
	if err != nil {
		return nil, err
	}

	if err = s.reserve(built); err != nil {
		return nil, err
	}

	drafts := make([]Draft, 0, len(built))
	for _, draft := range built {
		converted, err := newDraft(draft)
		if err != nil {
			return nil, err
		}

		drafts = append(drafts, converted)
	}

	log.WithFields(logger.Fields{"drafts": len(drafts), "fee_rate": draftReq.FeeRate}).Info("drafts are built")

	return drafts, nil
}

// Settle settles signed draft and returns base chain txid.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (string, error) {
	packet, err := ParseSignedDraft(req.WalletType, req.SignedDraft)
	if err != nil {
		return "", err
	}

	shape, err := txbuilder.ShapeByOperation(req.Referenced.Operation)
	if err != nil {
		return "", err
	}

	settleReq := settlement.Request{
		Packet:      packet,
		Referenced:  req.Referenced,
		UserAddress: req.UserAddress,
	}

	if shape.Counter != "" {
		escrow, err := s.deps.Resolver.Resolve(ctx)
		if err != nil {
			return "", err
		}
		settleReq.EscrowScript = escrow.Script
	}

	// the cap is checked again against the address the signed draft pays.
	if shape.Operation == txbuilder.OperationClaim {
		settleReq.Admit = s.checkClaimCap
	}

	return s.deps.Settler.Settle(ctx, settleReq)
}

// Counters returns counters of the scope.
func (s *Service) Counters(ctx context.Context, scope string) (map[string]int64, error) {
	return s.deps.Counters.Counters(ctx, scope)
}

// admitClaim applies the process wide rate limit and the per user cap.
func (s *Service) admitClaim(ctx context.Context, userAddress string) error {
	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Allow(); err != nil {
			return err
		}
	}

	return s.checkClaimCap(ctx, userAddress)
}

// checkClaimCap rejects users who settled ClaimCap claims already.
func (s *Service) checkClaimCap(ctx context.Context, userAddress string) error {
	if s.config.ClaimCap <= 0 {
		return nil
	}

	claims, err := s.deps.Counters.Get(ctx, ledger.UserScope(userAddress), txbuilder.Claim.Counter)
	if err != nil {
		return err
	}

	if claims >= s.config.ClaimCap {
		return errs.New(errs.RateLimited, "user has reached %d claims", s.config.ClaimCap)
	}

	return nil
}

// prepareAssetForToken sets the user asset, a matching escrow asset and the exchange fee leg.
func (s *Service) prepareAssetForToken(ctx context.Context, req *txbuilder.DraftRequest, assetID string) error {
	id, err := inscriptions.NewIDFromString(assetID)
	if err != nil {
		return errs.New(errs.InputValidation, "invalid inscription id %q: %w", assetID, err)
	}

	collection, err := s.deps.Indexer.InscriptionCollection(ctx, id.String())
	if err != nil {
		return err
	}
	if collection != s.config.Collection {
		return errs.New(errs.InputValidation, "inscription %s is not in collection %s", id.String(), s.config.Collection)
	}

	userAsset, err := s.deps.Selector.SelectAsset(ctx, s.inscriptionPager(req.User.TaprootAddress),
		func(_ context.Context, utxo bitcoin.UTXO) (bool, error) {
			return utxo.HasInscription(id.String()), nil
		}, req.Used)
	if err != nil {
		if errs.Is(err, errs.NoAvailableCounterAsset) {
			return errs.New(errs.InputValidation, "inscription %s is not spendable by %s", id.String(), req.User.TaprootAddress)
		}

		return err
	}
	req.UserAsset = &userAsset

	if err = s.selectEscrowAsset(ctx, req); err != nil {
		return err
	}

	fee, err := s.scale(ctx, s.config.PaymentRune, s.config.ExchangeFee)
	if err != nil {
		return err
	}

	req.Legs = []txbuilder.TokenLeg{{RuneID: s.config.PaymentRune, Amount: fee, From: txbuilder.OwnerUser}}

	return nil
}

// prepareTokenForAsset sets a matching escrow asset and the payment leg of at least the asset price.
func (s *Service) prepareTokenForAsset(ctx context.Context, req *txbuilder.DraftRequest, display string) error {
	amount, err := s.scale(ctx, s.config.PaymentRune, display)
	if err != nil {
		return err
	}

	price, err := s.scale(ctx, s.config.PaymentRune, s.config.AssetPrice)
	if err != nil {
		return err
	}

	if amount.Cmp(price) < 0 {
		return errs.New(errs.InputValidation, "amount %s is below asset price %s", display, s.config.AssetPrice)
	}

	if err = s.selectEscrowAsset(ctx, req); err != nil {
		return err
	}

	req.Legs = []txbuilder.TokenLeg{{RuneID: s.config.PaymentRune, Amount: amount, From: txbuilder.OwnerUser}}

	return nil
}

// prepareClaim sets the fixed claim leg from escrow.
func (s *Service) prepareClaim(ctx context.Context, req *txbuilder.DraftRequest) error {
	amount, err := s.scale(ctx, s.config.ClaimRune, s.config.ClaimAmount)
	if err != nil {
		return err
	}

	req.Legs = []txbuilder.TokenLeg{{RuneID: s.config.ClaimRune, Amount: amount, From: txbuilder.OwnerEscrow}}

	return nil
}

// selectEscrowAsset picks the first spendable escrow utxo carrying one inscription of the collection.
func (s *Service) selectEscrowAsset(ctx context.Context, req *txbuilder.DraftRequest) error {
	escrowAsset, err := s.deps.Selector.SelectAsset(ctx, s.inscriptionPager(req.Escrow.Address),
		func(ctx context.Context, utxo bitcoin.UTXO) (bool, error) {
			if len(utxo.Inscriptions) != 1 {
				return false, nil
			}

			collection, err := s.deps.Indexer.InscriptionCollection(ctx, utxo.Inscriptions[0])
			if err != nil {
				return false, err
			}

			return collection == s.config.Collection, nil
		}, req.Used)
	if err != nil {
		return err
	}

	req.EscrowAsset = &escrowAsset

	return nil
}

// scale converts display amount of the rune to minimal units using fresh rune metadata.
func (s *Service) scale(ctx context.Context, runeID runes.RuneID, display string) (*big.Int, error) {
	meta, err := s.deps.Indexer.Rune(ctx, runeID)
	if err != nil {
		return nil, err
	}

	amount, err := runes.ScaleAmount(display, meta.Divisibility)
	if err != nil {
		return nil, errs.New(errs.InputValidation, "invalid amount %q: %w", display, err)
	}

	return amount, nil
}

func (s *Service) inscriptionPager(address string) txbuilder.Pager {
	return func(ctx context.Context, page int) ([]bitcoin.UTXO, bool, error) {
		return s.deps.Indexer.ListInscriptionUTXOs(ctx, address, page)
	}
}

// reserve leases every input of the drafts.
func (s *Service) reserve(drafts []*txbuilder.Draft) error {
	if s.deps.Reserver == nil {
		return nil
	}

	var outpoints []string
	for _, draft := range drafts {
		for _, input := range draft.Inputs {
			outpoints = append(outpoints, input.UTXO.OutPoint())
		}
	}

	return s.deps.Reserver.Reserve(outpoints...)
}
