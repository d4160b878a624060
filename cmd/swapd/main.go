// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/chimera/api"
	"github.com/BoostyLabs/chimera/bitcoin/feerate"
	"github.com/BoostyLabs/chimera/bitcoin/indexer"
	"github.com/BoostyLabs/chimera/bitcoin/relay"
	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
	"github.com/BoostyLabs/chimera/config"
	"github.com/BoostyLabs/chimera/execution"
	"github.com/BoostyLabs/chimera/internal/ratelimit"
	"github.com/BoostyLabs/chimera/ledger"
	"github.com/BoostyLabs/chimera/logconfig"
	"github.com/BoostyLabs/chimera/reservation"
	"github.com/BoostyLabs/chimera/settlement"
	"github.com/BoostyLabs/chimera/swap"
)

const httpClientTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file, "+config.EnvConfigFilePath+" is used if empty")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("could not load configuration")
	}

	if err = logconfig.Configure(cfg.LogLevel); err != nil {
		logger.WithError(err).Fatal("could not configure logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg); err != nil {
		logger.WithError(err).Fatal("swapd stopped")
	}

	logger.Info("swapd stopped")
}

// run wires components and serves the api until ctx is done.
func run(ctx context.Context, cfg *config.Config) (err error) {
	httpClient := &http.Client{Timeout: httpClientTimeout}

	indexerClient := indexer.NewClient(cfg.Indexer, httpClient)
	fees := feerate.NewOracle(cfg.FeeOracleURL, httpClient)

	relayClient, err := relay.NewClient(cfg.Relay)
	if err != nil {
		return err
	}
	defer relayClient.Close()

	executor, err := execution.Dial(ctx, cfg.ExecutionURL, httpClient)
	if err != nil {
		return err
	}
	defer executor.Close()

	if err = os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
		return err
	}

	counters, err := ledger.NewSQLiteStore(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, counters.Close()) }()

	leases, err := reservation.Open(cfg.Reservation, time.Now)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, leases.Close()) }()

	selector := txbuilder.NewSelector(indexerClient, leases.IsReserved)
	submitter := settlement.NewSubmitter(cfg.Settlement, cfg.SignerKey, executor, relayClient, indexerClient, counters, leases)

	service := swap.NewService(cfg.Swap, swap.Dependencies{
		Indexer:  indexerClient,
		Selector: selector,
		Builder:  txbuilder.NewTxBuilder(cfg.Network, selector, indexerClient),
		Resolver: execution.NewResolver(executor, cfg.EscrowAccount, cfg.Network),
		Fees:     fees,
		Limiter:  ratelimit.NewFixedWindow(cfg.ClaimLimit, cfg.ClaimWindow, time.Now),
		Counters: counters,
		Reserver: leases,
		Settler:  submitter,
	})

	logger.WithFields(logger.Fields{
		"network": cfg.Network.Name,
		"escrow":  cfg.EscrowAccount.String(),
	}).Info("swapd is starting")

	return api.NewServer(service).Run(ctx, cfg.HTTPAddress)
}
