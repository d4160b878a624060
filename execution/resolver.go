// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package execution

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
	"github.com/BoostyLabs/chimera/errs"
)

// AddressSource returns base chain address of an execution layer account.
type AddressSource interface {
	AccountAddress(ctx context.Context, account Pubkey) (string, error)
}

// Resolver resolves escrow account to its current base chain address.
type Resolver struct {
	source        AddressSource
	account       Pubkey
	networkParams *chaincfg.Params
}

// NewResolver is a constructor for Resolver.
func NewResolver(source AddressSource, account Pubkey, networkParams *chaincfg.Params) *Resolver {
	return &Resolver{source: source, account: account, networkParams: networkParams}
}

// Resolve returns escrow address and its locking script. The result is not cached.
func (r *Resolver) Resolve(ctx context.Context) (txbuilder.Escrow, error) {
	address, err := r.source.AccountAddress(ctx, r.account)
	if err != nil {
		return txbuilder.Escrow{}, err
	}

	script, err := bitcoin.ScriptFromAddress(address, r.networkParams)
	if err != nil {
		logger.WithFields(logger.Fields{"account": r.account.String(), "address": address}).
			Error("execution layer returned undecodable escrow address")
		return txbuilder.Escrow{}, errs.New(errs.ExternalService, "escrow address %q: %w", address, err)
	}

	return txbuilder.Escrow{Address: address, Script: script}, nil
}
