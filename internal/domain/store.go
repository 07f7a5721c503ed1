package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists mirror-side market metadata (question text, end time,
// resolution state) for listing and history. The settlement ledger remains
// authoritative for pools and claims.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByAddress(ctx context.Context, address string) (Market, error)
	GetByQuestionID(ctx context.Context, questionID string) (Market, error)
	ListOpen(ctx context.Context, opts ListOpts) ([]Market, error)
	ListResolved(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// SettlementUpdate carries the fields a reconciliation pass writes to one row.
type SettlementUpdate struct {
	RowID      string
	Status     BetStatus // won or lost
	Winnings   int64
	ResolvedAt time.Time
}

// BetStore persists mirror bet rows. Settle and MarkClaimed are guarded
// partial updates: Settle only touches rows still pending and MarkClaimed
// only rows in won, which is what makes reconciliation idempotent and a
// repeat claim pass a no-op.
type BetStore interface {
	Create(ctx context.Context, row BetRow) error
	GetByID(ctx context.Context, id string) (BetRow, error)
	ListPending(ctx context.Context, questionID string) ([]BetRow, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]BetRow, error)
	ListByQuestion(ctx context.Context, questionID string, opts ListOpts) ([]BetRow, error)
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]BetRow, error)
	Settle(ctx context.Context, upd SettlementUpdate) error
	MarkClaimed(ctx context.Context, questionID, wallet string, claimedAt time.Time) (int64, error)
	SumClaimable(ctx context.Context, wallet string) (int64, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of settlement activity.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
