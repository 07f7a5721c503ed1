package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/engine"
	"github.com/fanpredict/marketd/internal/settle"
)

// SettlementService drives the post-resolution path: outcome resolution on
// the ledger, mirror reconciliation, and payout claims.
type SettlementService struct {
	ledger     *engine.Ledger
	reconciler *settle.Reconciler
	markets    domain.MarketStore
	bets       domain.BetStore
	cache      domain.MarketCache
	audit      domain.AuditStore
	bus        domain.SignalBus
	now        func() time.Time
	logger     *slog.Logger
}

// NewSettlementService creates a SettlementService with all required
// dependencies.
func NewSettlementService(
	ledger *engine.Ledger,
	reconciler *settle.Reconciler,
	markets domain.MarketStore,
	bets domain.BetStore,
	cache domain.MarketCache,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		ledger:     ledger,
		reconciler: reconciler,
		markets:    markets,
		bets:       bets,
		cache:      cache,
		audit:      audit,
		bus:        bus,
		now:        time.Now,
		logger:     logger,
	}
}

// Resolve sets the market outcome on the ledger and emits the resolution
// event that triggers mirror reconciliation. The ledger enforces who may
// resolve and when; this layer only projects the result outward.
func (s *SettlementService) Resolve(ctx context.Context, market, caller common.Address, outcomeIsYes bool) (domain.Market, error) {
	m, err := s.ledger.Resolve(ctx, market, caller, outcomeIsYes)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement_service: resolve: %w", err)
	}

	if err := s.markets.Upsert(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: mirror upsert failed",
			slog.String("market", m.Address.Hex()),
			slog.String("error", err.Error()),
		)
	}
	if err := s.cache.Invalidate(ctx, strings.ToLower(m.Address.Hex())); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: cache invalidate failed",
			slog.String("market", m.Address.Hex()),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "market_resolved", map[string]any{
		"market":      strings.ToLower(m.Address.Hex()),
		"question_id": m.QuestionID,
		"outcome":     string(m.Outcome),
		"total_yes":   m.TotalYes,
		"total_no":    m.TotalNo,
	}); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed",
			slog.String("error", err.Error()))
	}

	s.publishResolved(ctx, m)
	return m, nil
}

// publishResolved emits the resolution both over pub/sub for live consumers
// and onto the durable stream the reconcile worker reads, so a worker that
// was down during the resolve still picks it up.
func (s *SettlementService) publishResolved(ctx context.Context, m domain.Market) {
	payload, err := json.Marshal(domain.MarketResolvedEvent{
		MarketAddress: strings.ToLower(m.Address.Hex()),
		QuestionID:    m.QuestionID,
		Outcome:       m.Outcome,
		TotalYes:      m.TotalYes,
		TotalNo:       m.TotalNo,
		ResolvedAt:    s.now(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: event marshal failed",
			slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelMarketResolved, payload); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: event publish failed",
			slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, domain.ChannelMarketResolved, payload); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: stream append failed",
			slog.String("error", err.Error()))
	}
}

// Reconcile runs one mirror reconciliation pass for a resolved question.
func (s *SettlementService) Reconcile(ctx context.Context, questionID string) (settle.Result, error) {
	m, err := s.markets.GetByQuestionID(ctx, questionID)
	if err != nil {
		return settle.Result{}, fmt.Errorf("settlement_service: reconcile %q: %w", questionID, err)
	}

	res, err := s.reconciler.Reconcile(ctx, questionID, m.Address)
	if err != nil {
		return settle.Result{}, fmt.Errorf("settlement_service: reconcile %q: %w", questionID, err)
	}

	event := "reconcile_done"
	if res.Failed() {
		event = "reconcile_partial"
	}
	if err := s.audit.Log(ctx, event, map[string]any{
		"question_id": questionID,
		"outcome":     string(res.Outcome),
		"won":         res.Won,
		"lost":        res.Lost,
		"skipped":     res.Skipped,
		"failed":      len(res.FailedRowIDs),
	}); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed",
			slog.String("error", err.Error()))
	}
	return res, nil
}

// Claim withdraws the caller's winnings from the ledger and marks the
// wallet's won mirror rows claimed. The ledger transfer is the claim; mirror
// failures are logged and repaired by a later reconcile, never refunded.
func (s *SettlementService) Claim(ctx context.Context, market, caller common.Address) (int64, error) {
	payout, err := s.ledger.Claim(ctx, market, caller)
	if err != nil {
		return 0, fmt.Errorf("settlement_service: claim: %w", err)
	}

	snap, err := s.ledger.Snapshot(market)
	if err != nil {
		// The market just paid out, so this should not happen; the mirror
		// rows stay won until the next reconcile pass.
		s.logger.ErrorContext(ctx, "settlement_service: snapshot after claim failed",
			slog.String("market", market.Hex()),
			slog.String("error", err.Error()),
		)
		return payout, nil
	}

	wallet := strings.ToLower(caller.Hex())
	if _, err := s.reconciler.MarkClaimed(ctx, snap.QuestionID, wallet); err != nil {
		s.logger.ErrorContext(ctx, "settlement_service: mark claimed failed",
			slog.String("question_id", snap.QuestionID),
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "claimed", map[string]any{
		"market":      strings.ToLower(market.Hex()),
		"question_id": snap.QuestionID,
		"wallet":      wallet,
		"payout":      payout,
	}); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed",
			slog.String("error", err.Error()))
	}

	if payload, err := json.Marshal(domain.ClaimedEvent{
		MarketAddress: strings.ToLower(market.Hex()),
		QuestionID:    snap.QuestionID,
		Wallet:        wallet,
		Payout:        payout,
		ClaimedAt:     s.now(),
	}); err == nil {
		if err := s.bus.Publish(ctx, domain.ChannelClaimed, payload); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: event publish failed",
				slog.String("error", err.Error()))
		}
	}

	return payout, nil
}

// ClaimableSummary reports what a wallet can still withdraw.
type ClaimableSummary struct {
	Wallet string `json:"wallet"`
	Total  int64  `json:"total"`
}

// Claimable sums the wallet's won-but-unclaimed mirror winnings.
func (s *SettlementService) Claimable(ctx context.Context, wallet string) (ClaimableSummary, error) {
	w := strings.ToLower(wallet)
	total, err := s.bets.SumClaimable(ctx, w)
	if err != nil {
		return ClaimableSummary{}, fmt.Errorf("settlement_service: claimable %q: %w", wallet, err)
	}
	return ClaimableSummary{Wallet: w, Total: total}, nil
}
