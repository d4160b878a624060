// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package settlement_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
	"github.com/BoostyLabs/chimera/bitcoin/signer"
	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
	"github.com/BoostyLabs/chimera/errs"
	"github.com/BoostyLabs/chimera/execution"
	"github.com/BoostyLabs/chimera/ledger"
	"github.com/BoostyLabs/chimera/settlement"
)

// rpcError is a JSON-RPC error with code.
type rpcError struct {
	code int
}

func (e rpcError) Error() string  { return "rpc error" }
func (e rpcError) ErrorCode() int { return e.code }

type executor struct {
	sendErrs []error // returned by consecutive sends, success afterwards.
	sends    int
	sent     []*execution.RuntimeTransaction
	records  []*execution.ProcessedTransaction // returned by consecutive lookups, the last repeats.
	lookups  int
}

func (e *executor) SendTransaction(_ context.Context, tx *execution.RuntimeTransaction) (string, error) {
	e.sends++
	if len(e.sendErrs) > 0 {
		err := e.sendErrs[0]
		if len(e.sendErrs) > 1 {
			e.sendErrs = e.sendErrs[1:]
		}

		if err != nil {
			return "", err
		}
	}

	e.sent = append(e.sent, tx)
	return "execution-tx", nil
}

func (e *executor) ProcessedTransaction(_ context.Context, txID string) (*execution.ProcessedTransaction, error) {
	e.lookups++
	if txID != "execution-tx" || len(e.records) == 0 {
		return nil, nil
	}

	record := e.records[min(e.lookups, len(e.records))-1]
	return record, nil
}

type index struct {
	knownAfter int
	calls      int
}

func (i *index) IsKnown(context.Context, string) (bool, error) {
	i.calls++
	if i.calls <= i.knownAfter {
		return false, errs.Wrap(errs.ExternalService, errors.New("not indexed yet"))
	}

	return true, nil
}

func (i *index) IsConfirmed(context.Context, string) (bool, error) {
	i.calls++
	return false, nil
}

type relay struct {
	errs      []error
	broadcast []*wire.MsgTx
}

func (r *relay) Broadcast(tx *wire.MsgTx) (string, error) {
	r.broadcast = append(r.broadcast, tx)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return "", err
	}

	return tx.TxHash().String(), nil
}

type releaser struct {
	released []string
}

func (r *releaser) Release(outpoints ...string) error {
	r.released = append(r.released, outpoints...)
	return nil
}

// fixture is a signed draft with one escrow input placed as the operation requires.
// Its runestone sends claimed runes to the user and the rest back to escrow.
type fixture struct {
	packet       *psbt.Packet
	referenced   settlement.Referenced
	prevOuts     []*wire.TxOut
	userAddress  string
	escrowScript []byte
	escrowIndex  int
}

func newFixture(t *testing.T, operation txbuilder.Operation, signed bool) fixture {
	userKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return newUserFixture(t, operation, signed, userKey)
}

func newUserFixture(t *testing.T, operation txbuilder.Operation, signed bool, userKey *btcec.PrivateKey) fixture {
	shape, err := txbuilder.ShapeByOperation(operation)
	require.NoError(t, err)

	escrowKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	userAddress, userScript := taproot(t, userKey)
	_, escrowScript := taproot(t, escrowKey)

	escrowIndex := map[txbuilder.Placement]int{
		txbuilder.PlacementPrepend: 0,
		txbuilder.PlacementIndexed: 1,
		txbuilder.PlacementAppend:  2,
	}[shape.Placement]

	hashes := []string{strings.Repeat("a1", 32), strings.Repeat("b2", 32), strings.Repeat("c3", 32)}
	tx := wire.NewMsgTx(2)
	for idx, h := range hashes {
		hash, err := chainhash.NewHashFromStr(h)
		require.NoError(t, err)
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, uint32(idx)), nil, nil))
	}

	claimed := runes.RuneID{Block: 840000, TxID: 2}
	runestone, err := (&runes.Runestone{Edicts: []runes.Edict{
		{RuneID: claimed, Amount: big.NewInt(25), Output: 1},
		{RuneID: claimed, Amount: big.NewInt(75), Output: 2},
	}}).IntoScript()
	require.NoError(t, err)

	tx.AddTxOut(wire.NewTxOut(0, runestone))
	tx.AddTxOut(wire.NewTxOut(546, userScript))
	tx.AddTxOut(wire.NewTxOut(546, escrowScript))
	tx.AddTxOut(wire.NewTxOut(9000, userScript))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	userIndexes := make([]int, 0, 2)
	prevOuts := make([]*wire.TxOut, len(hashes))
	for idx := range packet.Inputs {
		switch {
		case idx == escrowIndex:
			prevOuts[idx] = wire.NewTxOut(546, escrowScript)
		case len(userIndexes) == 0:
			prevOuts[idx] = wire.NewTxOut(546, userScript)
		default:
			prevOuts[idx] = wire.NewTxOut(12000, userScript)
		}

		packet.Inputs[idx].WitnessUtxo = prevOuts[idx]
		if idx == escrowIndex {
			continue
		}

		userIndexes = append(userIndexes, idx)
		packet.Inputs[idx].SighashType = txscript.SigHashAll | txscript.SigHashAnyOneCanPay
		packet.Inputs[idx].TaprootInternalKey = schnorr.SerializePubKey(userKey.PubKey())
	}

	packet.Unknowns = []*psbt.Unknown{
		{Key: txbuilder.TaprootInputsHelpingKey.Bytes(), Value: []byte{byte(userIndexes[0]), byte(userIndexes[1])}},
		{Key: txbuilder.EscrowInputsHelpingKey.Bytes(), Value: []byte{byte(escrowIndex)}},
	}

	if signed {
		var serialized bytes.Buffer
		require.NoError(t, packet.Serialize(&serialized))

		signedBytes, err := signer.NewSigner(&chaincfg.TestNet3Params).SignTaproot(signer.SignParams{
			SerializedPSBT: serialized.Bytes(),
			Inputs:         userIndexes,
			PrivateKey:     userKey,
		})
		require.NoError(t, err)

		packet, err = psbt.NewFromRawBytes(bytes.NewReader(signedBytes), false)
		require.NoError(t, err)
	}

	return fixture{
		packet: packet,
		referenced: settlement.Referenced{
			Operation: operation,
			UTXOs: []settlement.ReferencedUTXO{{
				TxID:       tx.TxIn[escrowIndex].PreviousOutPoint.Hash.String(),
				Vout:       uint32(escrowIndex),
				Value:      546,
				Script:     hex.EncodeToString(escrowScript),
				InputIndex: uint32(escrowIndex),
			}},
		},
		prevOuts:     prevOuts,
		userAddress:  userAddress,
		escrowScript: escrowScript,
		escrowIndex:  escrowIndex,
	}
}

// request returns settlement request of the fixture with the resolved escrow script.
func (f fixture) request() settlement.Request {
	return settlement.Request{Packet: f.packet, Referenced: f.referenced, EscrowScript: f.escrowScript}
}

func taproot(t *testing.T, key *btcec.PrivateKey) (string, []byte) {
	address, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(txscript.ComputeTaprootKeyNoScript(key.PubKey())),
		&chaincfg.TestNet3Params)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(address)
	require.NoError(t, err)

	return address.EncodeAddress(), script
}

func processedRecord(bitcoinTxs ...string) *execution.ProcessedTransaction {
	return &execution.ProcessedTransaction{
		Status:       execution.StatusProcessed,
		BitcoinTxIDs: []string{strings.Repeat("ef", 32)},
		BitcoinTxs:   bitcoinTxs,
	}
}

type harness struct {
	executor *executor
	index    *index
	relay    *relay
	releaser *releaser
	counters *ledger.SQLiteStore
	key      *btcec.PrivateKey
	config   settlement.Config
}

func newHarness(t *testing.T) *harness {
	counters, err := ledger.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = counters.Close() })

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return &harness{
		executor: &executor{records: []*execution.ProcessedTransaction{processedRecord()}},
		index:    &index{},
		relay:    &relay{},
		releaser: &releaser{},
		counters: counters,
		key:      key,
		config: settlement.Config{
			ProgramID:       execution.Pubkey{7},
			EscrowAccount:   execution.Pubkey{8},
			NetworkParams:   &chaincfg.TestNet3Params,
			SubmitAttempts:  3,
			SubmitDelay:     time.Millisecond,
			PollInterval:    time.Millisecond,
			PollAttempts:    5,
			Timeout:         5 * time.Second,
			ConfirmInterval: time.Millisecond,
			ConfirmAttempts: 5,
		},
	}
}

func (h *harness) submitter() *settlement.Submitter {
	return settlement.NewSubmitter(h.config, h.key, h.executor, h.relay, h.index, h.counters, h.releaser)
}

func (h *harness) counter(t *testing.T, scope, name string) int64 {
	value, err := h.counters.Get(context.Background(), scope, name)
	require.NoError(t, err)

	return value
}

func TestSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("claim commits counters after indexer barrier", func(t *testing.T) {
		h := newHarness(t)
		h.index.knownAfter = 2
		h.executor.records = []*execution.ProcessedTransaction{nil, {Status: execution.StatusProcessing}, processedRecord()}
		f := newFixture(t, txbuilder.OperationClaim, true)

		txID, err := h.submitter().Settle(ctx, f.request())
		require.NoError(t, err)
		require.Equal(t, strings.Repeat("ef", 32), txID)
		require.Equal(t, 3, h.executor.lookups)
		require.Equal(t, 3, h.index.calls)

		require.Len(t, h.executor.sent, 1)
		envelope := h.executor.sent[0]
		require.NoError(t, envelope.Verify())
		require.Equal(t, []execution.Pubkey{execution.SignerPubkey(h.key)}, envelope.Message.Signers)
		require.Equal(t, h.config.ProgramID, envelope.Message.Instructions[0].ProgramID)
		require.Equal(t, h.config.EscrowAccount, envelope.Message.Instructions[0].Accounts[0].Pubkey)

		operation, payload, err := execution.DecodeInstructionData(envelope.Message.Instructions[0].Data)
		require.NoError(t, err)
		require.Equal(t, txbuilder.OperationClaim, operation)
		// claimed escrow runes are attached behind the user inputs.
		require.Equal(t, 2, f.escrowIndex)
		require.Equal(t, []execution.EscrowInput{{TxID: f.referenced.UTXOs[0].TxID, Vout: 2, InputIndex: 2}}, payload.Escrow)

		tx := new(wire.MsgTx)
		require.NoError(t, tx.Deserialize(bytes.NewReader(payload.Tx)))
		require.Len(t, tx.TxIn, 2)
		require.Equal(t, f.packet.UnsignedTx.TxIn[0].PreviousOutPoint, tx.TxIn[0].PreviousOutPoint)
		require.Equal(t, f.packet.UnsignedTx.TxIn[1].PreviousOutPoint, tx.TxIn[1].PreviousOutPoint)
		require.NotEmpty(t, tx.TxIn[0].Witness)

		require.EqualValues(t, 1, h.counter(t, ledger.UserScope(f.userAddress), "claims"))
		require.EqualValues(t, 1, h.counter(t, ledger.GlobalScope, "claims"))
		require.Len(t, h.releaser.released, 3)
	})

	t.Run("swap without counter skips indexer barrier", func(t *testing.T) {
		h := newHarness(t)
		f := newFixture(t, txbuilder.OperationTokenForAsset, true)

		_, err := h.submitter().Settle(ctx, f.request())
		require.NoError(t, err)
		require.Zero(t, h.index.calls)

		// escrow asset is prepended in front of the user inputs.
		_, payload, err := execution.DecodeInstructionData(h.executor.sent[0].Message.Instructions[0].Data)
		require.NoError(t, err)
		require.Equal(t, []execution.EscrowInput{{TxID: f.referenced.UTXOs[0].TxID, Vout: 0, InputIndex: 0}}, payload.Escrow)

		counters, err := h.counters.Counters(ctx, ledger.GlobalScope)
		require.NoError(t, err)
		require.Empty(t, counters)
	})

	t.Run("every settled basket draft counts", func(t *testing.T) {
		h := newHarness(t)
		userKey := newKey(t)

		var address string
		for idx := 0; idx < 2; idx++ {
			f := newUserFixture(t, txbuilder.OperationTokenBasketRedemption, true, userKey)
			address = f.userAddress

			_, err := h.submitter().Settle(ctx, f.request())
			require.NoError(t, err)
		}

		require.EqualValues(t, 2, h.counter(t, ledger.UserScope(address), "redemptions"))
		require.EqualValues(t, 2, h.counter(t, ledger.GlobalScope, "redemptions"))
	})

	t.Run("submission retries exactly the configured budget", func(t *testing.T) {
		h := newHarness(t)
		h.executor.sendErrs = []error{rpcError{code: -32000}}
		f := newFixture(t, txbuilder.OperationClaim, true)

		_, err := h.submitter().Settle(ctx, f.request())
		require.Error(t, err)
		require.Equal(t, errs.ExternalService, errs.KindOf(err))
		require.Equal(t, h.config.SubmitAttempts, h.executor.sends)
		require.Zero(t, h.executor.lookups)
		require.Len(t, h.releaser.released, 3)
	})

	t.Run("transient submission failure recovers", func(t *testing.T) {
		h := newHarness(t)
		h.executor.sendErrs = []error{rpcError{code: -32000}, nil}
		f := newFixture(t, txbuilder.OperationTokenForAsset, true)

		_, err := h.submitter().Settle(ctx, f.request())
		require.NoError(t, err)
		require.Equal(t, 2, h.executor.sends)
	})

	t.Run("client error is not retried", func(t *testing.T) {
		h := newHarness(t)
		h.executor.sendErrs = []error{rpcError{code: -32602}}
		f := newFixture(t, txbuilder.OperationTokenForAsset, true)

		_, err := h.submitter().Settle(ctx, f.request())
		require.Equal(t, errs.ExternalService, errs.KindOf(err))
		require.Equal(t, 1, h.executor.sends)
	})

	t.Run("polling budget exhaustion is timeout", func(t *testing.T) {
		h := newHarness(t)
		h.executor.records = []*execution.ProcessedTransaction{{Status: execution.StatusProcessing}}
		f := newFixture(t, txbuilder.OperationClaim, true)

		_, err := h.submitter().Settle(ctx, f.request())
		require.Equal(t, errs.SettlementTimeout, errs.KindOf(err))
		require.Equal(t, h.config.PollAttempts, h.executor.lookups)
		require.Zero(t, h.counter(t, ledger.GlobalScope, "claims"))
		require.Empty(t, h.releaser.released)
	})

	t.Run("deadline is timeout", func(t *testing.T) {
		h := newHarness(t)
		h.config.PollAttempts = 1000
		h.config.PollInterval = 20 * time.Millisecond
		h.config.Timeout = 50 * time.Millisecond
		h.executor.records = []*execution.ProcessedTransaction{nil}
		f := newFixture(t, txbuilder.OperationTokenForAsset, true)

		_, err := h.submitter().Settle(ctx, f.request())
		require.Equal(t, errs.SettlementTimeout, errs.KindOf(err))
		require.Less(t, h.executor.lookups, 1000)
	})

	t.Run("rollback fails without counters", func(t *testing.T) {
		h := newHarness(t)
		h.executor.records = []*execution.ProcessedTransaction{{Status: execution.StatusFailed, RollbackMessage: "escrow asset is gone"}}
		f := newFixture(t, txbuilder.OperationClaim, true)

		_, err := h.submitter().Settle(ctx, f.request())
		require.Equal(t, errs.ExternalService, errs.KindOf(err))
		require.ErrorContains(t, err, "escrow asset is gone")
		require.Equal(t, 1, h.executor.lookups)
		require.Zero(t, h.counter(t, ledger.GlobalScope, "claims"))
	})

	t.Run("indexer barrier exhaustion is timeout", func(t *testing.T) {
		h := newHarness(t)
		h.config.RequireBlock = true
		f := newFixture(t, txbuilder.OperationClaim, true)

		_, err := h.submitter().Settle(ctx, f.request())
		require.Equal(t, errs.SettlementTimeout, errs.KindOf(err))
		require.Equal(t, h.config.ConfirmAttempts, h.index.calls)
		require.Zero(t, h.counter(t, ledger.UserScope(f.userAddress), "claims"))
	})

	t.Run("rebroadcast", func(t *testing.T) {
		signedTx := wire.NewMsgTx(2)
		signedTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{9}, 0), nil, nil))
		signedTx.AddTxOut(wire.NewTxOut(1000, []byte{txscript.OP_TRUE}))

		var raw bytes.Buffer
		require.NoError(t, signedTx.Serialize(&raw))

		tests := []struct {
			name       string
			relayErrs  []error
			broadcasts int
			kind       errs.Kind
		}{
			{"accepted", nil, 1, -1},
			{"mempool chain retried", []error{errs.Retryable(errs.BroadcastRejected, errors.New("too-long-mempool-chain"))}, 2, -1},
			{"fatal", []error{errs.Wrap(errs.BroadcastRejected, errors.New("dust"))}, 1, errs.BroadcastRejected},
		}
		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				h := newHarness(t)
				h.relay.errs = test.relayErrs
				h.executor.records = []*execution.ProcessedTransaction{processedRecord(hex.EncodeToString(raw.Bytes()))}
				f := newFixture(t, txbuilder.OperationTokenForAsset, true)

				_, err := h.submitter().Settle(ctx, f.request())
				require.Len(t, h.relay.broadcast, test.broadcasts)
				require.Equal(t, signedTx.TxHash(), h.relay.broadcast[0].TxHash())
				if test.kind < 0 {
					require.NoError(t, err)
					return
				}

				require.Equal(t, test.kind, errs.KindOf(err))
			})
		}
	})
}

func TestSettleValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("unsigned draft", func(t *testing.T) {
		h := newHarness(t)
		f := newFixture(t, txbuilder.OperationTokenForAsset, false)

		_, err := h.submitter().Settle(ctx, f.request())
		require.ErrorIs(t, err, signer.ErrNotSigned)
		require.Equal(t, errs.InputValidation, errs.KindOf(err))
		require.Zero(t, h.executor.sends)
		require.Len(t, h.releaser.released, 3)
	})

	t.Run("referenced utxos", func(t *testing.T) {
		tests := []struct {
			name   string
			modify func(*settlement.Referenced)
		}{
			{"wrong txid", func(r *settlement.Referenced) { r.UTXOs[0].TxID = strings.Repeat("00", 32) }},
			{"wrong vout", func(r *settlement.Referenced) { r.UTXOs[0].Vout = 5 }},
			{"index out of range", func(r *settlement.Referenced) { r.UTXOs[0].InputIndex = 3 }},
			{"escrow input not referenced", func(r *settlement.Referenced) { r.UTXOs = nil }},
			{"unknown operation", func(r *settlement.Referenced) { r.Operation = 9 }},
			{"escrow input misplaced for operation", func(r *settlement.Referenced) { r.Operation = txbuilder.OperationTokenBasketRedemption }},
		}
		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				h := newHarness(t)
				f := newFixture(t, txbuilder.OperationTokenForAsset, true)
				test.modify(&f.referenced)

				_, err := h.submitter().Settle(ctx, f.request())
				require.Equal(t, errs.InputValidation, errs.KindOf(err))
				require.Zero(t, h.executor.sends)
			})
		}
	})

	t.Run("counters are charged to the draft recipient", func(t *testing.T) {
		otherAddress, _ := taproot(t, newKey(t))

		tests := []struct {
			name    string
			address string
			kind    errs.Kind
		}{
			{"matching address", "", -1},
			{"same address requested", "same", -1},
			{"other address requested", otherAddress, errs.InputValidation},
		}
		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				h := newHarness(t)
				f := newFixture(t, txbuilder.OperationClaim, true)

				req := f.request()
				req.UserAddress = test.address
				if test.address == "same" {
					req.UserAddress = f.userAddress
				}

				_, err := h.submitter().Settle(ctx, req)
				if test.kind < 0 {
					require.NoError(t, err)
					require.EqualValues(t, 1, h.counter(t, ledger.UserScope(f.userAddress), "claims"))
					return
				}

				require.Equal(t, test.kind, errs.KindOf(err))
				require.Zero(t, h.executor.sends)
				require.Zero(t, h.counter(t, ledger.UserScope(otherAddress), "claims"))
				require.Zero(t, h.counter(t, ledger.UserScope(f.userAddress), "claims"))
				require.Zero(t, h.counter(t, ledger.GlobalScope, "claims"))
			})
		}
	})

	t.Run("admission sees the recipient before submission", func(t *testing.T) {
		h := newHarness(t)
		f := newFixture(t, txbuilder.OperationClaim, true)

		var admitted []string
		req := f.request()
		req.Admit = func(_ context.Context, address string) error {
			admitted = append(admitted, address)
			return errs.New(errs.RateLimited, "cap reached")
		}

		_, err := h.submitter().Settle(ctx, req)
		require.Equal(t, errs.RateLimited, errs.KindOf(err))
		require.Equal(t, []string{f.userAddress}, admitted)
		require.Zero(t, h.executor.sends)
	})

	t.Run("recipient", func(t *testing.T) {
		_, otherScript := taproot(t, newKey(t))

		tests := []struct {
			name   string
			modify func(*fixture, *settlement.Request)
		}{
			{"escrow script is not resolved", func(_ *fixture, req *settlement.Request) { req.EscrowScript = nil }},
			{"runes to two user addresses", func(f *fixture, _ *settlement.Request) {
				f.packet.UnsignedTx.TxOut[2].PkScript = otherScript
			}},
			{"runes to escrow only", func(f *fixture, _ *settlement.Request) {
				f.packet.UnsignedTx.TxOut[1].PkScript = f.escrowScript
			}},
			{"no runestone", func(f *fixture, _ *settlement.Request) {
				f.packet.UnsignedTx.TxOut[0].PkScript = []byte{txscript.OP_RETURN}
			}},
		}
		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				h := newHarness(t)
				f := newFixture(t, txbuilder.OperationClaim, true)
				req := f.request()
				test.modify(&f, &req)

				_, err := h.submitter().Settle(ctx, req)
				require.Equal(t, errs.InputValidation, errs.KindOf(err))
				require.Zero(t, h.executor.sends)
			})
		}
	})
}

func newKey(t *testing.T) *btcec.PrivateKey {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return key
}

func TestState(t *testing.T) {
	require.Equal(t, "SUBMITTED_TO_EXECUTION_LAYER", settlement.Submitted.String())
	require.True(t, settlement.Failed.IsTerminal())
	require.False(t, settlement.ExecutionResolved.IsTerminal())
}
