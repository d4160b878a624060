// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package feerate provides fee rate oracle client.
package feerate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
)

// recommendedPath defines mempool.space compatible recommended fees endpoint.
const recommendedPath = "/api/v1/fees/recommended"

// recommended defines recommended fees response, satoshi per vByte per confirmation tier.
type recommended struct {
	FastestFee  int64 `json:"fastestFee"`
	HalfHourFee int64 `json:"halfHourFee"`
	HourFee     int64 `json:"hourFee"`
	EconomyFee  int64 `json:"economyFee"`
	MinimumFee  int64 `json:"minimumFee"`
}

// Oracle returns fastest confirmation fee rate, never below the floor.
type Oracle struct {
	baseURL string
	client  *http.Client
	floor   int64
}

// NewOracle is a constructor for Oracle, client may be nil to use the default one.
func NewOracle(baseURL string, client *http.Client) *Oracle {
	if client == nil {
		client = http.DefaultClient
	}

	return &Oracle{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		floor:   txbuilder.MinFeeRate,
	}
}

// Rate returns fee rate in satoshi per vByte, falls back to the floor on any oracle failure.
func (o *Oracle) Rate(ctx context.Context) int64 {
	rate, err := o.fetch(ctx)
	if err != nil {
		logger.WithError(err).WithField("floor", o.floor).Warn("fee rate oracle failed, using floor")
		return o.floor
	}

	return max(rate, o.floor)
}

// fetch requests recommended fees.
func (o *Oracle) fetch(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+recommendedPath, nil)
	if err != nil {
		return 0, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var fees recommended
	if err = json.NewDecoder(resp.Body).Decode(&fees); err != nil {
		return 0, err
	}

	if fees.FastestFee <= 0 {
		return 0, fmt.Errorf("invalid fastest fee %d", fees.FastestFee)
	}

	return fees.FastestFee, nil
}
