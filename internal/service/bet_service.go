package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/engine"
)

// BetService places bets on the ledger and keeps the mirror's bet rows and
// event stream fed.
type BetService struct {
	ledger *engine.Ledger
	bets   domain.BetStore
	cache  domain.MarketCache
	audit  domain.AuditStore
	bus    domain.SignalBus
	now    func() time.Time
	logger *slog.Logger
}

// NewBetService creates a BetService with all required dependencies.
func NewBetService(
	ledger *engine.Ledger,
	bets domain.BetStore,
	cache domain.MarketCache,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		ledger: ledger,
		bets:   bets,
		cache:  cache,
		audit:  audit,
		bus:    bus,
		now:    time.Now,
		logger: logger,
	}
}

// Place commits a bet to the ledger, then projects it into the mirror. The
// ledger commit is the bet: once it succeeds the caller's stake is escrowed,
// so mirror, cache, audit, and event failures are logged but never unwind it.
func (s *BetService) Place(ctx context.Context, market, wallet common.Address, side domain.Side, amount int64) (domain.BetRow, error) {
	snap, err := s.ledger.PlaceBet(ctx, market, wallet, side, amount)
	if err != nil {
		return domain.BetRow{}, fmt.Errorf("bet_service: place: %w", err)
	}

	row := domain.BetRow{
		ID:            uuid.New().String(),
		QuestionID:    snap.QuestionID,
		WalletAddress: strings.ToLower(wallet.Hex()),
		Outcome:       side,
		Amount:        amount,
		Status:        domain.BetStatusPending,
		MarketAddress: strings.ToLower(market.Hex()),
		CreatedAt:     s.now(),
	}
	if err := s.bets.Create(ctx, row); err != nil {
		s.logger.ErrorContext(ctx, "bet_service: mirror row insert failed",
			slog.String("bet_id", row.ID),
			slog.String("market", row.MarketAddress),
			slog.String("error", err.Error()),
		)
	}

	if err := s.cache.Invalidate(ctx, row.MarketAddress); err != nil {
		s.logger.WarnContext(ctx, "bet_service: cache invalidate failed",
			slog.String("market", row.MarketAddress),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "bet_placed", map[string]any{
		"bet_id": row.ID,
		"market": row.MarketAddress,
		"wallet": row.WalletAddress,
		"side":   string(side),
		"amount": amount,
	}); err != nil {
		s.logger.WarnContext(ctx, "bet_service: audit log failed",
			slog.String("error", err.Error()))
	}

	s.publish(ctx, domain.ChannelBetPlaced, domain.BetPlacedEvent{
		MarketAddress: row.MarketAddress,
		QuestionID:    row.QuestionID,
		Wallet:        row.WalletAddress,
		Side:          side,
		Amount:        amount,
		TotalYes:      snap.TotalYes,
		TotalNo:       snap.TotalNo,
		PlacedAt:      row.CreatedAt,
	})

	return row, nil
}

// History returns the wallet's mirror rows, newest first.
func (s *BetService) History(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.BetRow, error) {
	rows, err := s.bets.ListByWallet(ctx, strings.ToLower(wallet), opts)
	if err != nil {
		return nil, fmt.Errorf("bet_service: history %q: %w", wallet, err)
	}
	return rows, nil
}

// ByQuestion returns mirror rows for one question, newest first.
func (s *BetService) ByQuestion(ctx context.Context, questionID string, opts domain.ListOpts) ([]domain.BetRow, error) {
	rows, err := s.bets.ListByQuestion(ctx, questionID, opts)
	if err != nil {
		return nil, fmt.Errorf("bet_service: by question %q: %w", questionID, err)
	}
	return rows, nil
}

// Leaderboard aggregates settled rows into wallet rankings.
func (s *BetService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	entries, err := s.bets.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("bet_service: leaderboard: %w", err)
	}
	return entries, nil
}

// publish fans an event out over pub/sub. Failures are logged; live events
// are best-effort.
func (s *BetService) publish(ctx context.Context, channel string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "bet_service: event marshal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "bet_service: event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
