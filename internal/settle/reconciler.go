// Package settle keeps the off-chain bet mirror consistent with the
// authoritative settlement ledger after a market resolves. The mirror is a
// display projection only; every field written here is recomputed from the
// ledger's canonical pool snapshot, never trusted from the row itself.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/engine"
)

// lockTTL bounds how long a reconciliation pass may hold the per-question
// lock before it expires on its own.
const lockTTL = 30 * time.Second

// Snapshotter provides the canonical market state the pass settles against.
type Snapshotter interface {
	Snapshot(market common.Address) (domain.Market, error)
}

// Result reports what one reconciliation pass did. FailedRowIDs lists rows
// whose update hit a storage error and were left pending for retry; the pass
// itself continues past them.
type Result struct {
	QuestionID   string         `json:"question_id"`
	Outcome      domain.Outcome `json:"outcome"`
	Won          int            `json:"won"`
	Lost         int            `json:"lost"`
	Skipped      int            `json:"skipped"`
	FailedRowIDs []string       `json:"failed_row_ids,omitempty"`
	FinishedAt   time.Time      `json:"finished_at"`
}

// Failed reports whether any row update failed.
func (r Result) Failed() bool { return len(r.FailedRowIDs) > 0 }

// Reconciler batch-updates pending mirror rows to match a resolved market.
type Reconciler struct {
	bets   domain.BetStore
	ledger Snapshotter
	locks  domain.LockManager
	now    func() time.Time
	logger *slog.Logger
}

// NewReconciler creates a Reconciler. locks may be nil, in which case
// concurrent passes rely solely on the store's pending-status guard.
func NewReconciler(bets domain.BetStore, ledger Snapshotter, locks domain.LockManager, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		bets:   bets,
		ledger: ledger,
		locks:  locks,
		now:    time.Now,
		logger: logger.With(slog.String("component", "reconciler")),
	}
}

// Reconcile settles every pending mirror row for questionID against the
// resolved market at marketAddr. Rows on the winning side become won with
// winnings recomputed pro-rata from the ledger's pool snapshot; the rest
// become lost with zero winnings. The pass is idempotent: the store only
// updates rows still pending, so rerunning it (including concurrently, under
// the per-question lock) never rewrites settled rows. Individual row failures
// are recorded in the Result and do not abort the pass.
func (r *Reconciler) Reconcile(ctx context.Context, questionID string, marketAddr common.Address) (Result, error) {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, "reconcile:"+questionID, lockTTL)
		if err != nil {
			return Result{}, fmt.Errorf("settle: reconcile %s: %w", questionID, err)
		}
		defer unlock()
	}

	market, err := r.ledger.Snapshot(marketAddr)
	if err != nil {
		return Result{}, fmt.Errorf("settle: reconcile %s: snapshot: %w", questionID, err)
	}
	if !market.Resolved {
		return Result{}, fmt.Errorf("settle: reconcile %s: %w", questionID, domain.ErrNotResolved)
	}
	winner, _ := market.Outcome.Winner()

	pending, err := r.bets.ListPending(ctx, questionID)
	if err != nil {
		return Result{}, fmt.Errorf("settle: reconcile %s: list pending: %w", questionID, err)
	}

	res := Result{QuestionID: questionID, Outcome: market.Outcome}
	now := r.now()

	for _, row := range pending {
		upd := domain.SettlementUpdate{
			RowID:      row.ID,
			Status:     domain.BetStatusLost,
			ResolvedAt: now,
		}
		if row.Outcome == winner {
			upd.Status = domain.BetStatusWon
			upd.Winnings = engine.Payout(row.Amount, market.TotalYes, market.TotalNo, market.Pool(winner))
		}

		switch err := r.bets.Settle(ctx, upd); {
		case err == nil:
			if upd.Status == domain.BetStatusWon {
				res.Won++
			} else {
				res.Lost++
			}
		case isAlreadySettled(err):
			// Another pass got here first; the row is no longer pending.
			res.Skipped++
		default:
			r.logger.ErrorContext(ctx, "row settlement failed, leaving pending for retry",
				slog.String("question_id", questionID),
				slog.String("row_id", row.ID),
				slog.String("error", err.Error()),
			)
			res.FailedRowIDs = append(res.FailedRowIDs, row.ID)
		}
	}

	res.FinishedAt = now
	r.logger.InfoContext(ctx, "reconciliation pass finished",
		slog.String("question_id", questionID),
		slog.String("outcome", string(market.Outcome)),
		slog.Int("won", res.Won),
		slog.Int("lost", res.Lost),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", len(res.FailedRowIDs)),
	)
	return res, nil
}

// MarkClaimed transitions the wallet's won rows for questionID to claimed,
// driven by an observed ledger claim. Returns the number of rows moved; zero
// on a repeat invocation.
func (r *Reconciler) MarkClaimed(ctx context.Context, questionID, wallet string) (int64, error) {
	n, err := r.bets.MarkClaimed(ctx, questionID, wallet, r.now())
	if err != nil {
		return 0, fmt.Errorf("settle: mark claimed %s/%s: %w", questionID, wallet, err)
	}
	return n, nil
}

// isAlreadySettled distinguishes "the guard matched no pending row" from a
// real storage failure.
func isAlreadySettled(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
