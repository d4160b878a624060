// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package indexer provides client of the address and asset indexer.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
	"github.com/BoostyLabs/chimera/errs"
)

// DefaultPageSize defines number of utxos requested per page.
const DefaultPageSize = 50

// ErrNotFound defines that the indexer does not know requested entity.
var ErrNotFound = errors.New("not found")

// Config defines configurable values of the indexer client.
type Config struct {
	URL      string
	APIKey   string
	PageSize int
}

// Client is an indexer REST API client.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient is a constructor for Client, httpClient may be nil to use the default one.
func NewClient(config Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}

	config.URL = strings.TrimSuffix(config.URL, "/")

	return &Client{config: config, http: httpClient}
}

// ListUTXOs returns page of address utxos.
func (c *Client) ListUTXOs(ctx context.Context, address string, page int) ([]bitcoin.UTXO, bool, error) {
	return c.listUTXOs(ctx, "/addresses/"+url.PathEscape(address)+"/utxos", page)
}

// ListRuneUTXOs returns page of address utxos holding the rune.
func (c *Client) ListRuneUTXOs(ctx context.Context, address string, runeID runes.RuneID, page int) ([]bitcoin.UTXO, bool, error) {
	return c.listUTXOs(ctx, "/addresses/"+url.PathEscape(address)+"/runes/"+url.PathEscape(runeID.String())+"/utxos", page)
}

// ListInscriptionUTXOs returns page of address utxos holding inscriptions.
func (c *Client) ListInscriptionUTXOs(ctx context.Context, address string, page int) ([]bitcoin.UTXO, bool, error) {
	return c.listUTXOs(ctx, "/addresses/"+url.PathEscape(address)+"/inscriptions/utxos", page)
}

// IsConfirmed returns true if the transaction is included in a block, unknown transaction is not confirmed.
func (c *Client) IsConfirmed(ctx context.Context, txHash string) (bool, error) {
	var tx transaction
	err := c.get(ctx, "/transactions/"+url.PathEscape(txHash), nil, &tx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return tx.Confirmed, nil
}

// IsKnown returns true if the indexer has seen the transaction, in mempool or in a block.
func (c *Client) IsKnown(ctx context.Context, txHash string) (bool, error) {
	var tx transaction
	err := c.get(ctx, "/transactions/"+url.PathEscape(txHash), nil, &tx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// IsUnspent returns true if the output is not spent by any known transaction.
func (c *Client) IsUnspent(ctx context.Context, txHash string, vout uint32) (bool, error) {
	var status outputStatus
	path := "/transactions/" + url.PathEscape(txHash) + "/outputs/" + strconv.FormatUint(uint64(vout), 10)
	err := c.get(ctx, path, nil, &status)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return !status.Spent, nil
}

// Rune returns rune metadata.
func (c *Client) Rune(ctx context.Context, runeID runes.RuneID) (bitcoin.Rune, error) {
	var info runeInfo
	if err := c.get(ctx, "/runes/"+url.PathEscape(runeID.String()), nil, &info); err != nil {
		return bitcoin.Rune{}, err
	}

	if info.ID != "" && info.ID != runeID.String() {
		return bitcoin.Rune{}, errs.New(errs.ExternalService, "indexer returned rune %s for %s", info.ID, runeID)
	}

	if info.Divisibility > runes.MaxDivisibility {
		return bitcoin.Rune{}, errs.New(errs.ExternalService, "rune %s divisibility %d is too large", runeID, info.Divisibility)
	}

	return bitcoin.Rune{ID: runeID, Name: info.Name, Symbol: info.Symbol, Divisibility: info.Divisibility}, nil
}

// InscriptionCollection returns collection slug of the inscription, empty if it belongs to none.
func (c *Client) InscriptionCollection(ctx context.Context, inscriptionID string) (string, error) {
	var info inscriptionInfo
	if err := c.get(ctx, "/inscriptions/"+url.PathEscape(inscriptionID), nil, &info); err != nil {
		return "", err
	}

	return info.Collection, nil
}

// listUTXOs requests utxo page and converts it.
func (c *Client) listUTXOs(ctx context.Context, path string, page int) ([]bitcoin.UTXO, bool, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(c.config.PageSize))

	var resp utxoPage
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, false, err
	}

	utxos := make([]bitcoin.UTXO, 0, len(resp.Data))
	for _, item := range resp.Data {
		converted, err := item.toUTXO()
		if err != nil {
			return nil, false, errs.Wrap(errs.ExternalService, err)
		}

		utxos = append(utxos, converted)
	}

	return utxos, resp.HasMore, nil
}

// get performs GET request and decodes JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.config.URL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errs.Wrap(errs.Internal, err)
	}

	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.ExternalService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.Wrap(errs.ExternalService, fmt.Errorf("%s: %w", path, ErrNotFound))
	case resp.StatusCode != http.StatusOK:
		logger.WithFields(logger.Fields{"path": path, "status": resp.StatusCode}).Debug("indexer request failed")
		return errs.New(errs.ExternalService, "indexer %s: unexpected status %d", path, resp.StatusCode)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.ExternalService, fmt.Errorf("decode %s: %w", path, err))
	}

	return nil
}
