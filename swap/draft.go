// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package swap

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
	"github.com/BoostyLabs/chimera/errs"
	"github.com/BoostyLabs/chimera/settlement"
)

// Draft is the caller facing representation of a built transaction draft.
type Draft struct {
	DraftHex           string                `json:"draftHex"`
	DraftBase64        string                `json:"draftBase64"`
	PaymentSignIndexes []int                 `json:"paymentSignIndexes"`
	AssetSignIndexes   []int                 `json:"assetSignIndexes"`
	Referenced         settlement.Referenced `json:"referenced"`
	Fee                int64                 `json:"fee"`
}

// newDraft converts builder draft into caller facing one.
func newDraft(draft *txbuilder.Draft) (Draft, error) {
	draftHex, err := draft.Hex()
	if err != nil {
		return Draft{}, errs.Wrap(errs.Internal, err)
	}

	draftBase64, err := draft.Base64()
	if err != nil {
		return Draft{}, errs.Wrap(errs.Internal, err)
	}

	return Draft{
		DraftHex:           draftHex,
		DraftBase64:        draftBase64,
		PaymentSignIndexes: draft.Indexes(txbuilder.RolePayment),
		AssetSignIndexes:   draft.Indexes(txbuilder.RoleAssetHolder),
		Referenced:         settlement.ReferencedFromDraft(draft),
		Fee:                draft.Fee,
	}, nil
}

// WalletType defines user wallet which signed the draft.
type WalletType string

const (
	// WalletUnisat defines Unisat wallet, returns hex encoded PSBT.
	WalletUnisat WalletType = "unisat"
	// WalletOKX defines OKX wallet, returns hex encoded PSBT.
	WalletOKX WalletType = "okx"
	// WalletXverse defines Xverse wallet, returns base64 encoded PSBT.
	WalletXverse WalletType = "xverse"
	// WalletLeather defines Leather wallet, returns base64 encoded PSBT.
	WalletLeather WalletType = "leather"
	// WalletMagicEden defines Magic Eden wallet, returns base64 encoded PSBT.
	WalletMagicEden WalletType = "magiceden"
)

// returnsHex reports wallets which return signed PSBT as hex.
var returnsHex = map[WalletType]bool{
	WalletUnisat:    true,
	WalletOKX:       true,
	WalletXverse:    false,
	WalletLeather:   false,
	WalletMagicEden: false,
}

// ParseSignedDraft decodes PSBT signed by the wallet.
func ParseSignedDraft(walletType WalletType, signed string) (*psbt.Packet, error) {
	isHex, ok := returnsHex[WalletType(strings.ToLower(string(walletType)))]
	if !ok {
		return nil, errs.New(errs.InputValidation, "unknown wallet type %q", walletType)
	}

	signed = strings.TrimSpace(signed)

	var (
		packet *psbt.Packet
		err    error
	)
	if isHex {
		raw, decodeErr := hex.DecodeString(signed)
		if decodeErr != nil {
			return nil, errs.New(errs.InputValidation, "signed draft is not hex: %w", decodeErr)
		}

		packet, err = psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	} else {
		packet, err = psbt.NewFromRawBytes(strings.NewReader(signed), true)
	}
	if err != nil {
		return nil, errs.New(errs.InputValidation, "malformed signed draft: %w", err)
	}

	return packet, nil
}
