// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package relay provides base chain transaction broadcasting over bitcoin node JSON-RPC.
package relay

import (
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/chimera/errs"
)

// ErrBroadcastRejected defines that the node refused the transaction.
var ErrBroadcastRejected = errors.New("broadcast rejected")

// Outcome defines classified broadcast result.
type Outcome int

const (
	// Accepted defines transaction accepted by the node or already known to it.
	Accepted Outcome = iota
	// Retryable defines temporary refusal, the same transaction may be accepted later.
	Retryable
	// Fatal defines permanent refusal.
	Fatal
)

// retryableReasons are node policy rejections which clear once ancestors confirm.
var retryableReasons = []string{"too-long-mempool-chain"}

// knownReasons mean the transaction is already in the node mempool or chain.
var knownReasons = []string{"txn-already-in-mempool", "already in mempool", "txn-already-known", "transaction already in block chain"}

// Config defines node connection parameters.
type Config struct {
	Host       string // host:port.
	User       string
	Pass       string
	DisableTLS bool
}

// sender sends raw transactions to the node.
type sender interface {
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)
	Shutdown()
}

// Client broadcasts transactions and classifies node responses.
type Client struct {
	rpc sender
}

// NewClient is a constructor for Client.
func NewClient(config Config) (*Client, error) {
	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         config.Host,
		User:         config.User,
		Pass:         config.Pass,
		HTTPPostMode: true, // bitcoin core supports only HTTP POST mode.
		DisableTLS:   config.DisableTLS,
	}, nil)
	if err != nil {
		return nil, err
	}

	return &Client{rpc: rpc}, nil
}

// Close shuts the rpc client down.
func (c *Client) Close() {
	c.rpc.Shutdown()
}

// Broadcast sends the transaction. Returns txid for accepted or already known transaction,
// BroadcastRejected error otherwise, marked retryable for temporary policy rejections.
func (c *Client) Broadcast(tx *wire.MsgTx) (string, error) {
	txID := tx.TxHash().String()

	_, err := c.rpc.SendRawTransaction(tx, false)
	switch Classify(err) {
	case Accepted:
		if err != nil {
			logger.WithFields(logger.Fields{"txid": txID, "reason": err.Error()}).Info("transaction is already known to the node")
		}

		return txID, nil
	case Retryable:
		return "", errs.Retryable(errs.BroadcastRejected, errors.Join(ErrBroadcastRejected, err))
	}

	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		// transport failure, the node may not have seen the transaction.
		return "", errs.Retryable(errs.ExternalService, err)
	}

	return "", errs.Wrap(errs.BroadcastRejected, errors.Join(ErrBroadcastRejected, err))
}

// Classify classifies node response to sendrawtransaction.
func Classify(err error) Outcome {
	if err == nil {
		return Accepted
	}

	message := strings.ToLower(err.Error())
	for _, reason := range knownReasons {
		if strings.Contains(message, reason) {
			return Accepted
		}
	}

	for _, reason := range retryableReasons {
		if strings.Contains(message, reason) {
			return Retryable
		}
	}

	return Fatal
}
