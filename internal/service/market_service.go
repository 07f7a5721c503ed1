// Package service implements the application-facing operations on top of the
// settlement ledger and its mirror stores.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/engine"
	"github.com/fanpredict/marketd/internal/odds"
)

// MarketService handles market lifecycle reads and writes short of
// settlement: creation, lookup, listing, and quote computation.
type MarketService struct {
	ledger  *engine.Ledger
	markets domain.MarketStore
	cache   domain.MarketCache
	logger  *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	ledger *engine.Ledger,
	markets domain.MarketStore,
	cache domain.MarketCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		ledger:  ledger,
		markets: markets,
		cache:   cache,
		logger:  logger,
	}
}

// Create opens a new market on the ledger and projects it into the mirror.
// Mirror and cache writes are non-fatal: the ledger commit is the market.
func (s *MarketService) Create(ctx context.Context, creator, token common.Address, question string, endTime time.Time) (domain.Market, error) {
	questionID := uuid.New().String()

	m, err := s.ledger.CreateMarket(ctx, creator, token, questionID, question, endTime)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	if err := s.markets.Upsert(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market_service: mirror upsert failed",
			slog.String("market", m.Address.Hex()),
			slog.String("error", err.Error()),
		)
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("market", m.Address.Hex()),
			slog.String("error", err.Error()),
		)
	}

	return m, nil
}

// Get retrieves a market by address: cache first, then the ledger, then the
// mirror for markets the ledger no longer holds.
func (s *MarketService) Get(ctx context.Context, address string) (domain.Market, error) {
	m, err := s.cache.Get(ctx, address)
	if err == nil {
		return m, nil
	}

	m, err = s.ledger.Snapshot(common.HexToAddress(address))
	if errors.Is(err, domain.ErrNotFound) {
		m, err = s.markets.GetByAddress(ctx, address)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", address, err)
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("market", address),
			slog.String("error", cacheErr.Error()),
		)
	}

	return m, nil
}

// GetWithBets returns a market snapshot plus the wallet's own bet log.
func (s *MarketService) GetWithBets(ctx context.Context, address, wallet string) (domain.MarketSnapshot, error) {
	m, err := s.Get(ctx, address)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	snap := domain.MarketSnapshot{Market: m}
	if wallet != "" {
		bets, err := s.ledger.UserBets(m.Address, common.HexToAddress(wallet))
		if err == nil {
			snap.UserBets = bets
		}
	}
	return snap, nil
}

// ListOpen returns unresolved markets from the mirror, newest first.
func (s *MarketService) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListOpen(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list open: %w", err)
	}
	return markets, nil
}

// ListResolved returns resolved markets from the mirror, newest first.
func (s *MarketService) ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListResolved(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list resolved: %w", err)
	}
	return markets, nil
}

// Count returns the total number of mirrored markets.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// Quote is a display-only payout estimate for a hypothetical stake. It never
// commits anything and the multiplier it reports is not locked in.
type Quote struct {
	MarketAddress   string      `json:"market_address"`
	Side            domain.Side `json:"side"`
	Amount          int64       `json:"amount"`
	Multiplier      float64     `json:"multiplier"`
	PotentialPayout int64       `json:"potential_payout"`
}

// QuoteBet computes the current multiplier and potential payout for staking
// amount on one side of the market.
func (s *MarketService) QuoteBet(ctx context.Context, address string, side domain.Side, amount int64) (Quote, error) {
	if !side.Valid() {
		return Quote{}, fmt.Errorf("market_service: quote: unknown side %q", side)
	}
	if amount <= 0 {
		return Quote{}, fmt.Errorf("market_service: quote: %w", domain.ErrInvalidAmount)
	}

	m, err := s.Get(ctx, address)
	if err != nil {
		return Quote{}, err
	}

	mult := odds.Quote(m.Pool(side), m.TotalPool())
	return Quote{
		MarketAddress:   strings.ToLower(m.Address.Hex()),
		Side:            side,
		Amount:          amount,
		Multiplier:      mult,
		PotentialPayout: odds.PotentialPayout(amount, mult),
	}, nil
}
