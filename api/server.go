// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package api exposes swap operations over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	logger "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
	"github.com/BoostyLabs/chimera/errs"
	"github.com/BoostyLabs/chimera/ledger"
	"github.com/BoostyLabs/chimera/settlement"
	"github.com/BoostyLabs/chimera/swap"
)

const (
	// RouteDrafts builds unsigned drafts of a swap request, POST.
	RouteDrafts = "/v1/drafts"
	// RouteSettlements settles a user signed draft, POST.
	RouteSettlements = "/v1/settlements"
	// RouteCounters returns counters of the global or a user scope, GET.
	RouteCounters = "/v1/counters/:scope"

	shutdownTimeout = 10 * time.Second
)

// Service provides swap operations served by the api.
type Service interface {
	BuildDraft(ctx context.Context, req swap.BuildRequest) ([]swap.Draft, error)
	Settle(ctx context.Context, req swap.SettleRequest) (string, error)
	Counters(ctx context.Context, scope string) (map[string]int64, error)
}

// Server serves swap routes.
type Server struct {
	Router  *gin.Engine
	service Service
}

// NewServer is a constructor for Server.
func NewServer(service Service) *Server {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	server := &Server{
		Router:  gin.New(),
		service: service,
	}
	server.Router.Use(gin.Recovery(), requestLogger())

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.Router.POST(RouteDrafts, s.buildDrafts)
	s.Router.POST(RouteSettlements, s.settle)
	s.Router.GET(RouteCounters, s.counters)
}

// Run serves on the address until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, address string) error {
	httpServer := &http.Server{
		Addr:              address,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	served := make(chan error, 1)
	go func() {
		logger.WithField("address", address).Info("api is listening")
		served <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// DraftsRequest is the body of POST /v1/drafts.
type DraftsRequest struct {
	Shape           string `json:"shape" binding:"required"`
	TaprootAddress  string `json:"taprootAddress" binding:"required"`
	TaprootPubKey   string `json:"taprootPubKey" binding:"required"`
	PaymentAddress  string `json:"paymentAddress" binding:"required"`
	PaymentPubKey   string `json:"paymentPubKey" binding:"required"`
	AmountOrAssetID string `json:"amountOrAssetId"`
}

// DraftsResponse is the body returned by POST /v1/drafts.
type DraftsResponse struct {
	Drafts []swap.Draft `json:"drafts"`
}

// SettlementRequest is the body of POST /v1/settlements.
type SettlementRequest struct {
	WalletType  string                `json:"walletType" binding:"required"`
	SignedDraft string                `json:"signedDraft" binding:"required"`
	Referenced  settlement.Referenced `json:"referenced"`
	UserAddress string                `json:"userAddress"` // optional, must match the address the draft pays runes to.
}

// SettlementResponse is the body returned by POST /v1/settlements.
type SettlementResponse struct {
	TxID string `json:"txId"`
}

// CountersResponse is the body returned by GET /v1/counters/:scope.
type CountersResponse struct {
	Scope    string           `json:"scope"`
	Counters map[string]int64 `json:"counters"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func (s *Server) buildDrafts(c *gin.Context) {
	var req DraftsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, errs.Wrap(errs.InputValidation, err))
		return
	}

	drafts, err := s.service.BuildDraft(c.Request.Context(), swap.BuildRequest{
		Shape: req.Shape,
		Wallet: txbuilder.Wallet{
			TaprootAddress: req.TaprootAddress,
			TaprootPubKey:  req.TaprootPubKey,
			PaymentAddress: req.PaymentAddress,
			PaymentPubKey:  req.PaymentPubKey,
		},
		AmountOrAssetID: req.AmountOrAssetID,
	})
	if err != nil {
		s.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, DraftsResponse{Drafts: drafts})
}

func (s *Server) settle(c *gin.Context) {
	var req SettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, errs.Wrap(errs.InputValidation, err))
		return
	}

	txID, err := s.service.Settle(c.Request.Context(), swap.SettleRequest{
		WalletType:  swap.WalletType(req.WalletType),
		SignedDraft: req.SignedDraft,
		Referenced:  req.Referenced,
		UserAddress: req.UserAddress,
	})
	if err != nil {
		s.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, SettlementResponse{TxID: txID})
}

// counters accepts "global" or a user address as the scope.
func (s *Server) counters(c *gin.Context) {
	scope := strings.TrimSpace(c.Param("scope"))
	if scope != ledger.GlobalScope {
		scope = ledger.UserScope(scope)
	}

	counters, err := s.service.Counters(c.Request.Context(), scope)
	if err != nil {
		s.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, CountersResponse{Scope: scope, Counters: counters})
}

func (s *Server) abort(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := StatusOf(kind)

	entry := logger.WithError(err).WithFields(logger.Fields{"route": c.FullPath(), "kind": kind.String()})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     err.Error(),
		Kind:      kind.String(),
		Retryable: errs.IsRetryable(err),
	})
}

// StatusOf maps error kind to HTTP status code.
func StatusOf(kind errs.Kind) int {
	switch kind {
	case errs.InputValidation:
		return http.StatusBadRequest
	case errs.InsufficientFunds:
		return http.StatusUnprocessableEntity
	case errs.NoAvailableCounterAsset:
		return http.StatusConflict
	case errs.RateLimited:
		return http.StatusTooManyRequests
	case errs.ExternalService, errs.BroadcastRejected:
		return http.StatusBadGateway
	case errs.SettlementTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request served")
	}
}
