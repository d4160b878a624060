// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package config loads daemon configuration from a yaml file and environment.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/bitcoin/indexer"
	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
	"github.com/BoostyLabs/chimera/bitcoin/relay"
	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
	"github.com/BoostyLabs/chimera/execution"
	"github.com/BoostyLabs/chimera/reservation"
	"github.com/BoostyLabs/chimera/settlement"
	"github.com/BoostyLabs/chimera/swap"
)

// EnvConfigFilePath defines environment variable holding the config file location.
const EnvConfigFilePath = "CHIMERA_CONFIG"

// Config defines daemon configuration.
type Config struct {
	Network       *chaincfg.Params
	HTTPAddress   string
	LogLevel      string // debug, info or production.
	FeeOracleURL  string
	ExecutionURL  string
	SignerKey     *btcec.PrivateKey
	LedgerPath    string
	ClaimLimit    int
	ClaimWindow   time.Duration
	Indexer       indexer.Config
	Relay         relay.Config
	Settlement    settlement.Config
	Reservation   reservation.Config
	Swap          swap.Config
	EscrowAccount execution.Pubkey
}

var defaults = map[string]any{
	"NETWORK":            "testnet",
	"HTTP_ADDRESS":       ":8080",
	"LOG_LEVEL":          "info",
	"INDEXER_PAGE_SIZE":  60,
	"RELAY_DISABLE_TLS":  false,
	"SUBMIT_ATTEMPTS":    3,
	"SUBMIT_DELAY":       "2s",
	"POLL_INTERVAL":      "2s",
	"POLL_ATTEMPTS":      30,
	"SETTLEMENT_TIMEOUT": "2m",
	"CONFIRM_INTERVAL":   "5s",
	"CONFIRM_ATTEMPTS":   60,
	"REQUIRE_BLOCK":      false,
	"RESERVATION_DIR":    "data/reservations",
	"RESERVATION_SHARDS": reservation.DefaultShards,
	"RESERVATION_LEASE":  reservation.DefaultLease.String(),
	"LEDGER_PATH":        "data/ledger.db",
	"CLAIM_RATE_LIMIT":   10,
	"CLAIM_RATE_WINDOW":  "1m",
	"CLAIM_CAP":          1,
}

// Load reads configuration from the file, environment variables override file values.
// Empty path reads the file named by CHIMERA_CONFIG, if any.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path == "" {
		path = v.GetString(EnvConfigFilePath)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", path, err)
		}
	}

	return parse(v)
}

func parse(v *viper.Viper) (_ *Config, err error) {
	config := &Config{
		HTTPAddress:  v.GetString("HTTP_ADDRESS"),
		LogLevel:     v.GetString("LOG_LEVEL"),
		FeeOracleURL: v.GetString("FEE_ORACLE_URL"),
		ExecutionURL: v.GetString("EXECUTION_URL"),
		LedgerPath:   v.GetString("LEDGER_PATH"),
		ClaimLimit:   v.GetInt("CLAIM_RATE_LIMIT"),
		ClaimWindow:  v.GetDuration("CLAIM_RATE_WINDOW"),
		Indexer: indexer.Config{
			URL:      v.GetString("INDEXER_URL"),
			APIKey:   v.GetString("INDEXER_API_KEY"),
			PageSize: v.GetInt("INDEXER_PAGE_SIZE"),
		},
		Relay: relay.Config{
			Host:       v.GetString("RELAY_HOST"),
			User:       v.GetString("RELAY_USER"),
			Pass:       v.GetString("RELAY_PASS"),
			DisableTLS: v.GetBool("RELAY_DISABLE_TLS"),
		},
		Settlement: settlement.Config{
			SubmitAttempts:  v.GetInt("SUBMIT_ATTEMPTS"),
			SubmitDelay:     v.GetDuration("SUBMIT_DELAY"),
			PollInterval:    v.GetDuration("POLL_INTERVAL"),
			PollAttempts:    v.GetInt("POLL_ATTEMPTS"),
			Timeout:         v.GetDuration("SETTLEMENT_TIMEOUT"),
			ConfirmInterval: v.GetDuration("CONFIRM_INTERVAL"),
			ConfirmAttempts: v.GetInt("CONFIRM_ATTEMPTS"),
			RequireBlock:    v.GetBool("REQUIRE_BLOCK"),
		},
		Reservation: reservation.Config{
			Dir:    v.GetString("RESERVATION_DIR"),
			Shards: v.GetInt("RESERVATION_SHARDS"),
			Lease:  v.GetDuration("RESERVATION_LEASE"),
		},
		Swap: swap.Config{
			Collection:  v.GetString("COLLECTION"),
			ExchangeFee: v.GetString("EXCHANGE_FEE"),
			AssetPrice:  v.GetString("ASSET_PRICE"),
			ClaimAmount: v.GetString("CLAIM_AMOUNT"),
			ClaimCap:    v.GetInt64("CLAIM_CAP"),
		},
	}

	network := v.GetString("NETWORK")
	if config.Network = bitcoin.NetworkParams(network); config.Network == nil {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	config.Settlement.NetworkParams = config.Network

	if config.ClaimLimit <= 0 {
		return nil, fmt.Errorf("CLAIM_RATE_LIMIT must be positive, got %d", config.ClaimLimit)
	}

	if config.ClaimWindow <= 0 {
		return nil, fmt.Errorf("CLAIM_RATE_WINDOW must be positive, got %s", config.ClaimWindow)
	}

	if config.Settlement.ProgramID, err = pubkey(v, "EXECUTION_PROGRAM_ID"); err != nil {
		return nil, err
	}

	if config.EscrowAccount, err = pubkey(v, "EXECUTION_ESCROW_ACCOUNT"); err != nil {
		return nil, err
	}
	config.Settlement.EscrowAccount = config.EscrowAccount

	if config.SignerKey, err = signerKey(v.GetString("EXECUTION_SIGNER_KEY")); err != nil {
		return nil, err
	}

	if config.Swap.PaymentRune, err = runeID(v, "PAYMENT_RUNE"); err != nil {
		return nil, err
	}

	if config.Swap.ClaimRune, err = runeID(v, "CLAIM_RUNE"); err != nil {
		return nil, err
	}

	if basketFile := v.GetString("BASKET_FILE"); basketFile != "" {
		if config.Swap.Basket, err = LoadBasket(basketFile); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func pubkey(v *viper.Viper, key string) (execution.Pubkey, error) {
	value := v.GetString(key)
	if value == "" {
		return execution.Pubkey{}, fmt.Errorf("%s is required", key)
	}

	decoded, err := execution.PubkeyFromHex(value)
	if err != nil {
		return execution.Pubkey{}, fmt.Errorf("invalid %s: %w", key, err)
	}

	return decoded, nil
}

func runeID(v *viper.Viper, key string) (runes.RuneID, error) {
	value := v.GetString(key)
	if value == "" {
		return runes.RuneID{}, nil
	}

	decoded, err := runes.NewRuneIDFromString(value)
	if err != nil {
		return runes.RuneID{}, fmt.Errorf("invalid %s: %w", key, err)
	}

	return decoded, nil
}

func signerKey(value string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("EXECUTION_SIGNER_KEY must be %d hex encoded bytes", btcec.PrivKeyBytesLen)
	}

	key, _ := btcec.PrivKeyFromBytes(raw)

	return key, nil
}

// basketRune is a rune reference in the basket file.
type basketRune struct {
	Rune         string `yaml:"rune"`
	Divisibility byte   `yaml:"divisibility"`
}

func (r basketRune) parse() (bitcoin.Rune, error) {
	id, err := runes.NewRuneIDFromString(r.Rune)
	if err != nil {
		return bitcoin.Rune{}, fmt.Errorf("invalid basket rune %q: %w", r.Rune, err)
	}

	return bitcoin.Rune{ID: id, Divisibility: r.Divisibility}, nil
}

// basketFile is the yaml layout of the basket definition.
type basketFile struct {
	Source       basketRune `yaml:"source"`
	Destinations []struct {
		basketRune `yaml:",inline"`
		Weight     string `yaml:"weight"`
	} `yaml:"destinations"`
}

// LoadBasket reads and validates the basket definition.
func LoadBasket(path string) (txbuilder.Basket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return txbuilder.Basket{}, fmt.Errorf("could not read basket file: %w", err)
	}

	var file basketFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return txbuilder.Basket{}, fmt.Errorf("could not parse basket file: %w", err)
	}

	var basket txbuilder.Basket
	if basket.Source, err = file.Source.parse(); err != nil {
		return txbuilder.Basket{}, err
	}

	for _, destination := range file.Destinations {
		destinationRune, err := destination.parse()
		if err != nil {
			return txbuilder.Basket{}, err
		}

		weight, err := decimal.NewFromString(destination.Weight)
		if err != nil {
			return txbuilder.Basket{}, fmt.Errorf("invalid weight of %s: %w", destination.Rune, err)
		}

		basket.Destinations = append(basket.Destinations, txbuilder.BasketWeight{Rune: destinationRune, Weight: weight})
	}

	if err = basket.Validate(); err != nil {
		return txbuilder.Basket{}, err
	}

	return basket, nil
}
