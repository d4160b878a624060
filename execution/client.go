// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package execution provides the execution layer JSON-RPC client, settlement instruction
// encoding, signed envelopes and escrow address resolution.
package execution

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/BoostyLabs/chimera/errs"
)

const (
	methodAccountAddress       = "get_account_address"
	methodSendTransaction      = "send_transaction"
	methodProcessedTransaction = "get_processed_transaction"
)

// ProcessedStatus defines execution status of a submitted envelope.
type ProcessedStatus string

const (
	// StatusProcessing defines envelope accepted but not executed yet.
	StatusProcessing ProcessedStatus = "processing"
	// StatusProcessed defines executed envelope.
	StatusProcessed ProcessedStatus = "processed"
	// StatusFailed defines envelope rolled back by the program.
	StatusFailed ProcessedStatus = "failed"
)

// ProcessedTransaction describes processed envelope record.
type ProcessedTransaction struct {
	Status          ProcessedStatus `json:"status"`
	BitcoinTxIDs    []string        `json:"bitcoin_txids"`
	BitcoinTxs      []string        `json:"bitcoin_txs"` // hex encoded signed transactions, may be empty.
	RollbackMessage string          `json:"rollback_message"`
}

// Client is the execution layer JSON-RPC client.
type Client struct {
	rpc *rpc.Client
}

// Dial connects the client to the execution layer node.
func Dial(ctx context.Context, url string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	client, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return &Client{rpc: client}, nil
}

// Close closes the connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// AccountAddress returns base chain address controlled by the account.
func (c *Client) AccountAddress(ctx context.Context, account Pubkey) (string, error) {
	var address string
	if err := c.call(ctx, &address, methodAccountAddress, account.String()); err != nil {
		return "", err
	}

	return address, nil
}

// SendTransaction submits the envelope and returns its execution layer id.
func (c *Client) SendTransaction(ctx context.Context, tx *RuntimeTransaction) (string, error) {
	var txID string
	if err := c.call(ctx, &txID, methodSendTransaction, tx); err != nil {
		return "", err
	}

	return txID, nil
}

// ProcessedTransaction returns the record of the envelope, nil if the node does not know it yet.
func (c *Client) ProcessedTransaction(ctx context.Context, txID string) (*ProcessedTransaction, error) {
	var processed *ProcessedTransaction
	if err := c.call(ctx, &processed, methodProcessedTransaction, txID); err != nil {
		return nil, err
	}

	return processed, nil
}

// call invokes the method and classifies failure as external service error.
func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	err := c.rpc.CallContext(ctx, result, method, args...)
	if err == nil {
		return nil
	}

	if IsTransient(err) {
		return errs.Retryable(errs.ExternalService, err)
	}

	return errs.Wrap(errs.ExternalService, err)
}

// IsTransient returns true for failures a later attempt may not hit: transport errors,
// server side HTTP statuses and JSON-RPC errors outside of the client error range.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError || httpErr.StatusCode == http.StatusTooManyRequests
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32700, -32600, -32601, -32602:
			return false
		}

		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
