// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package execution

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/near/borsh-go"
)

// RuntimeTransactionVersion defines supported envelope version.
const RuntimeTransactionVersion uint32 = 0

// ErrInvalidSignature defines envelope signature which does not match its signers.
var ErrInvalidSignature = errors.New("invalid envelope signature")

// Signature defines BIP-340 schnorr signature.
type Signature [schnorr.SignatureSize]byte

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return hexutil.Bytes(s[:]).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	var decoded hexutil.Bytes
	if err := decoded.UnmarshalText(text); err != nil {
		return err
	}

	if len(decoded) != len(s) {
		return fmt.Errorf("invalid signature length %d", len(decoded))
	}

	copy(s[:], decoded)

	return nil
}

// Message defines signed part of the envelope.
type Message struct {
	Signers      []Pubkey      `json:"signers"`
	Instructions []Instruction `json:"instructions"`
}

// Hash returns SHA-256 of borsh encoded message.
func (m Message) Hash() ([32]byte, error) {
	encoded, err := borsh.Serialize(m)
	if err != nil {
		return [32]byte{}, err
	}

	return sha256.Sum256(encoded), nil
}

// RuntimeTransaction defines signed envelope submitted to the execution layer.
type RuntimeTransaction struct {
	Version    uint32      `json:"version"`
	Signatures []Signature `json:"signatures"`
	Message    Message     `json:"message"`
}

// SignerPubkey returns x-only key of the signer as execution layer pubkey.
func SignerPubkey(key *btcec.PrivateKey) Pubkey {
	var pubkey Pubkey
	copy(pubkey[:], schnorr.SerializePubKey(key.PubKey()))

	return pubkey
}

// NewRuntimeTransaction builds envelope of instructions signed by the key.
func NewRuntimeTransaction(key *btcec.PrivateKey, instructions ...Instruction) (*RuntimeTransaction, error) {
	message := Message{
		Signers:      []Pubkey{SignerPubkey(key)},
		Instructions: instructions,
	}

	hash, err := message.Hash()
	if err != nil {
		return nil, err
	}

	sig, err := schnorr.Sign(key, hash[:])
	if err != nil {
		return nil, err
	}

	var signature Signature
	copy(signature[:], sig.Serialize())

	return &RuntimeTransaction{
		Version:    RuntimeTransactionVersion,
		Signatures: []Signature{signature},
		Message:    message,
	}, nil
}

// Verify checks that every signer signed the message hash.
func (tx *RuntimeTransaction) Verify() error {
	if len(tx.Signatures) != len(tx.Message.Signers) {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrInvalidSignature, len(tx.Signatures), len(tx.Message.Signers))
	}

	hash, err := tx.Message.Hash()
	if err != nil {
		return err
	}

	for idx, signer := range tx.Message.Signers {
		pubKey, err := schnorr.ParsePubKey(signer[:])
		if err != nil {
			return errors.Join(ErrInvalidSignature, err)
		}

		sig, err := schnorr.ParseSignature(tx.Signatures[idx][:])
		if err != nil {
			return errors.Join(ErrInvalidSignature, err)
		}

		if !sig.Verify(hash[:], pubKey) {
			return fmt.Errorf("%w: signer %s", ErrInvalidSignature, signer.String())
		}
	}

	return nil
}
