// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package execution_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
	"github.com/BoostyLabs/chimera/errs"
	"github.com/BoostyLabs/chimera/execution"
)

// node is a fake execution layer JSON-RPC node.
type node struct {
	mu        sync.Mutex
	address   string
	sent      []execution.RuntimeTransaction
	processed map[string]*execution.ProcessedTransaction
	failures  int // number of send_transaction calls answered with a server error.
	calls     map[string]int
}

func newNode(t *testing.T, n *node) *execution.Client {
	n.calls = make(map[string]int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		n.mu.Lock()
		defer n.mu.Unlock()
		n.calls[req.Method]++

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "get_account_address":
			resp["result"] = n.address
		case "send_transaction":
			if n.failures > 0 {
				n.failures--
				resp["error"] = map[string]any{"code": -32000, "message": "node is syncing"}
				break
			}

			var tx execution.RuntimeTransaction
			if err := json.Unmarshal(req.Params[0], &tx); err != nil {
				resp["error"] = map[string]any{"code": -32602, "message": err.Error()}
				break
			}

			n.sent = append(n.sent, tx)
			resp["result"] = "execution-tx-1"
		case "get_processed_transaction":
			var txID string
			_ = json.Unmarshal(req.Params[0], &txID)
			resp["result"] = n.processed[txID]
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}

		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	client, err := execution.Dial(context.Background(), server.URL, server.Client())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

// strippedTx returns serialized transaction of user inputs only.
func strippedTx(t *testing.T, inputs int) []byte {
	tx := wire.NewMsgTx(2)
	for idx := 0; idx < inputs; idx++ {
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{byte(idx + 1)}, uint32(idx)), nil, nil))
	}
	tx.AddTxOut(wire.NewTxOut(546, []byte{txscript.OP_TRUE}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	return buf.Bytes()
}

// borshBytes returns u32 little endian length prefixed bytes.
func borshBytes(b []byte) []byte {
	return append(binary.LittleEndian.AppendUint32(nil, uint32(len(b))), b...)
}

func TestInstructionData(t *testing.T) {
	const (
		txID  = "6a8fb2b4a0b6e4c1c0ff4a2a3ae9e3b5b4a1c5f7e2d9a8b7c6d5e4f3a2b1c0d9"
		txID2 = "c0d96a8fb2b4a0b6e4c1c0ff4a2a3ae9e3b5b4a1c5f7e2d9a8b7c6d5e4f3a2b1"
	)
	tx := strippedTx(t, 2)

	t.Run("prepend", func(t *testing.T) {
		payload := execution.SwapPayload{Escrow: []execution.EscrowInput{{TxID: txID, Vout: 1, InputIndex: 0}}, Tx: tx}

		data, err := execution.EncodeInstructionData(txbuilder.OperationTokenForAsset, payload)
		require.NoError(t, err)

		// op, txid string, u8 vout, tx bytes.
		expected := []byte{0}
		expected = append(expected, borshBytes([]byte(txID))...)
		expected = append(expected, 1)
		expected = append(expected, borshBytes(tx)...)
		require.Equal(t, expected, data)

		operation, decoded, err := execution.DecodeInstructionData(data)
		require.NoError(t, err)
		require.Equal(t, txbuilder.OperationTokenForAsset, operation)
		require.Equal(t, payload, decoded)
	})

	t.Run("append", func(t *testing.T) {
		payload := execution.SwapPayload{
			Escrow: []execution.EscrowInput{{TxID: txID, Vout: 2, InputIndex: 2}, {TxID: txID2, Vout: 3, InputIndex: 3}},
			Tx:     tx,
		}

		data, err := execution.EncodeInstructionData(txbuilder.OperationTokenBasketRedemption, payload)
		require.NoError(t, err)

		// op, vec of txid strings, vec of u8 vouts, tx bytes.
		expected := []byte{1, 2, 0, 0, 0}
		expected = append(expected, borshBytes([]byte(txID))...)
		expected = append(expected, borshBytes([]byte(txID2))...)
		expected = append(expected, borshBytes([]byte{2, 3})...)
		expected = append(expected, borshBytes(tx)...)
		require.Equal(t, expected, data)

		operation, decoded, err := execution.DecodeInstructionData(data)
		require.NoError(t, err)
		require.Equal(t, txbuilder.OperationTokenBasketRedemption, operation)
		require.Equal(t, payload, decoded)
	})

	t.Run("indexed", func(t *testing.T) {
		payload := execution.SwapPayload{Escrow: []execution.EscrowInput{{TxID: txID, Vout: 300, InputIndex: 1}}, Tx: tx}

		data, err := execution.EncodeInstructionData(txbuilder.OperationAssetForToken, payload)
		require.NoError(t, err)
		require.EqualValues(t, txbuilder.OperationAssetForToken, data[0])

		operation, decoded, err := execution.DecodeInstructionData(data)
		require.NoError(t, err)
		require.Equal(t, txbuilder.OperationAssetForToken, operation)
		require.Equal(t, payload, decoded)
	})

	invalid := []struct {
		name      string
		operation txbuilder.Operation
		payload   execution.SwapPayload
	}{
		{"prepend not first", txbuilder.OperationTokenForAsset, execution.SwapPayload{Escrow: []execution.EscrowInput{{TxID: txID, InputIndex: 1}}, Tx: tx}},
		{"prepend without escrow", txbuilder.OperationTokenForAsset, execution.SwapPayload{Tx: tx}},
		{"append vout above byte", txbuilder.OperationClaim, execution.SwapPayload{Escrow: []execution.EscrowInput{{TxID: txID, Vout: 256, InputIndex: 2}}, Tx: tx}},
		{"append between user inputs", txbuilder.OperationClaim, execution.SwapPayload{Escrow: []execution.EscrowInput{{TxID: txID, InputIndex: 1}}, Tx: tx}},
		{"indexed out of range", txbuilder.OperationAssetForToken, execution.SwapPayload{Escrow: []execution.EscrowInput{{TxID: txID, InputIndex: 3}}, Tx: tx}},
		{"malformed transaction", txbuilder.OperationClaim, execution.SwapPayload{Tx: []byte{0x02, 0, 0, 0}}},
		{"unknown operation", 9, execution.SwapPayload{Tx: tx}},
	}
	for _, test := range invalid {
		t.Run(test.name, func(t *testing.T) {
			_, err := execution.EncodeInstructionData(test.operation, test.payload)
			require.ErrorIs(t, err, execution.ErrInvalidInstruction)
		})
	}

	t.Run("truncated", func(t *testing.T) {
		_, _, err := execution.DecodeInstructionData([]byte{1})
		require.ErrorIs(t, err, execution.ErrInvalidInstruction)
	})

	t.Run("misaligned vouts", func(t *testing.T) {
		data := []byte{3, 1, 0, 0, 0}
		data = append(data, borshBytes([]byte(txID))...)
		data = append(data, borshBytes(nil)...)
		data = append(data, borshBytes(tx)...)

		_, _, err := execution.DecodeInstructionData(data)
		require.ErrorIs(t, err, execution.ErrInvalidInstruction)
	})
}

func TestRuntimeTransaction(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	instruction, err := execution.NewSwapInstruction(execution.Pubkey{1}, execution.Pubkey{2}, txbuilder.OperationTokenForAsset,
		execution.SwapPayload{Escrow: []execution.EscrowInput{{TxID: "a1", InputIndex: 0}}, Tx: strippedTx(t, 1)})
	require.NoError(t, err)

	tx, err := execution.NewRuntimeTransaction(key, instruction)
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 1)
	require.Equal(t, []execution.Pubkey{execution.SignerPubkey(key)}, tx.Message.Signers)
	require.NoError(t, tx.Verify())

	t.Run("deterministic", func(t *testing.T) {
		again, err := execution.NewRuntimeTransaction(key, instruction)
		require.NoError(t, err)
		require.Equal(t, tx.Signatures, again.Signatures)
	})

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(tx)
		require.NoError(t, err)

		var decoded execution.RuntimeTransaction
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.NoError(t, decoded.Verify())
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := *tx
		tampered.Message.Instructions = []execution.Instruction{instruction}
		tampered.Message.Instructions[0].Data = append([]byte{0}, instruction.Data[1:]...)
		require.ErrorIs(t, tampered.Verify(), execution.ErrInvalidSignature)
	})
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	fake := &node{
		address: "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx",
		processed: map[string]*execution.ProcessedTransaction{
			"execution-tx-1": {Status: execution.StatusProcessed, BitcoinTxIDs: []string{"ab"}},
		},
	}
	client := newNode(t, fake)

	t.Run("account address", func(t *testing.T) {
		address, err := client.AccountAddress(ctx, execution.Pubkey{3})
		require.NoError(t, err)
		require.Equal(t, fake.address, address)
	})

	t.Run("send transaction", func(t *testing.T) {
		key, err := btcec.NewPrivateKey()
		require.NoError(t, err)

		tx, err := execution.NewRuntimeTransaction(key)
		require.NoError(t, err)

		txID, err := client.SendTransaction(ctx, tx)
		require.NoError(t, err)
		require.Equal(t, "execution-tx-1", txID)
		require.Len(t, fake.sent, 1)
		require.NoError(t, fake.sent[0].Verify())
	})

	t.Run("server error is transient", func(t *testing.T) {
		fake.failures = 1

		_, err := client.SendTransaction(ctx, &execution.RuntimeTransaction{})
		require.Error(t, err)
		require.Equal(t, errs.ExternalService, errs.KindOf(err))
		require.True(t, errs.IsRetryable(err))
		require.True(t, execution.IsTransient(err))
	})

	t.Run("processed transaction", func(t *testing.T) {
		processed, err := client.ProcessedTransaction(ctx, "execution-tx-1")
		require.NoError(t, err)
		require.Equal(t, execution.StatusProcessed, processed.Status)
		require.Equal(t, []string{"ab"}, processed.BitcoinTxIDs)

		processed, err = client.ProcessedTransaction(ctx, "unknown")
		require.NoError(t, err)
		require.Nil(t, processed)
	})
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"bad gateway", rpc.HTTPError{StatusCode: http.StatusBadGateway}, true},
		{"bad request", rpc.HTTPError{StatusCode: http.StatusBadRequest}, false},
		{"plain", errors.New("decode failure"), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.transient, execution.IsTransient(test.err))
		})
	}
}

type addressSource string

func (a addressSource) AccountAddress(context.Context, execution.Pubkey) (string, error) {
	return string(a), nil
}

func TestResolver(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	address, err := btcutil.NewAddressTaproot(txscript.ComputeTaprootKeyNoScript(key.PubKey()).SerializeCompressed()[1:], &chaincfg.TestNet3Params)
	require.NoError(t, err)

	escrow, err := execution.NewResolver(addressSource(address.EncodeAddress()), execution.Pubkey{}, &chaincfg.TestNet3Params).Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, address.EncodeAddress(), escrow.Address)

	expected, err := txscript.PayToAddrScript(address)
	require.NoError(t, err)
	require.Equal(t, expected, escrow.Script)

	t.Run("foreign network", func(t *testing.T) {
		mainnet, err := btcutil.NewAddressTaproot(address.ScriptAddress(), &chaincfg.MainNetParams)
		require.NoError(t, err)

		_, err = execution.NewResolver(addressSource(mainnet.EncodeAddress()), execution.Pubkey{}, &chaincfg.TestNet3Params).Resolve(context.Background())
		require.Equal(t, errs.ExternalService, errs.KindOf(err))
	})
}
