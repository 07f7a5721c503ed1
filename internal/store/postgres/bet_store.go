package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanpredict/marketd/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betCols = `id, question_id, wallet_address, outcome, amount,
	status, winnings, market_address, created_at, resolved_at`

// Create inserts a new pending bet row.
func (s *BetStore) Create(ctx context.Context, row domain.BetRow) error {
	const query = `
		INSERT INTO bets (
			id, question_id, wallet_address, outcome, amount,
			status, winnings, market_address, created_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)`

	_, err := s.pool.Exec(ctx, query,
		row.ID, row.QuestionID, strings.ToLower(row.WalletAddress),
		string(row.Outcome), row.Amount,
		string(row.Status), row.Winnings, strings.ToLower(row.MarketAddress),
		row.CreatedAt, row.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create bet %s: %w", row.ID, err)
	}
	return nil
}

// scanBet scans a single bet row.
func scanBet(row pgx.Row) (domain.BetRow, error) {
	var b domain.BetRow
	var outcome, status string
	err := row.Scan(
		&b.ID, &b.QuestionID, &b.WalletAddress, &outcome, &b.Amount,
		&status, &b.Winnings, &b.MarketAddress, &b.CreatedAt, &b.ResolvedAt,
	)
	if err != nil {
		return domain.BetRow{}, err
	}
	b.Outcome = domain.Side(outcome)
	b.Status = domain.BetStatus(status)
	return b, nil
}

// GetByID retrieves a bet row by its primary key.
func (s *BetStore) GetByID(ctx context.Context, id string) (domain.BetRow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+betCols+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.BetRow{}, domain.ErrNotFound
		}
		return domain.BetRow{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

// ListPending returns every still-pending row for a question, oldest first.
// This is the working set of a reconciliation pass.
func (s *BetStore) ListPending(ctx context.Context, questionID string) ([]domain.BetRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets WHERE question_id = $1 AND status = 'pending' ORDER BY created_at`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending bets for %s: %w", questionID, err)
	}
	defer rows.Close()
	return collectBets(rows)
}

// ListByWallet returns a wallet's bet history, newest first.
func (s *BetStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.BetRow, error) {
	return s.listFiltered(ctx, "wallet_address = $1", strings.ToLower(wallet), opts)
}

// ListByQuestion returns all rows for a question, newest first.
func (s *BetStore) ListByQuestion(ctx context.Context, questionID string, opts domain.ListOpts) ([]domain.BetRow, error) {
	return s.listFiltered(ctx, "question_id = $1", questionID, opts)
}

func (s *BetStore) listFiltered(ctx context.Context, where, arg string, opts domain.ListOpts) ([]domain.BetRow, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE ` + where + ` ORDER BY created_at DESC`
	args := []any{arg}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()
	return collectBets(rows)
}

// ListSettledBefore returns settled rows (won, lost, or claimed) whose
// resolution predates cutoff, for archival.
func (s *BetStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.BetRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets
		 WHERE status IN ('won', 'lost', 'claimed') AND resolved_at < $1
		 ORDER BY resolved_at
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled bets: %w", err)
	}
	defer rows.Close()
	return collectBets(rows)
}

// Settle transitions one pending row to won or lost. The status guard makes a
// repeated pass over an already-settled row a no-op, which is what keeps
// reconciliation idempotent; hitting a non-pending row returns ErrNotFound so
// the caller can tell nothing was written.
func (s *BetStore) Settle(ctx context.Context, upd domain.SettlementUpdate) error {
	const query = `
		UPDATE bets
		SET status = $1, winnings = $2, resolved_at = $3
		WHERE id = $4 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query,
		string(upd.Status), upd.Winnings, upd.ResolvedAt, upd.RowID,
	)
	if err != nil {
		return fmt.Errorf("postgres: settle bet %s: %w", upd.RowID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkClaimed transitions a wallet's won rows for a question to claimed and
// returns how many rows moved. The status guard makes repeat passes no-ops.
func (s *BetStore) MarkClaimed(ctx context.Context, questionID, wallet string, claimedAt time.Time) (int64, error) {
	const query = `
		UPDATE bets
		SET status = 'claimed', resolved_at = $1
		WHERE question_id = $2 AND wallet_address = $3 AND status = 'won'`

	tag, err := s.pool.Exec(ctx, query, claimedAt, questionID, strings.ToLower(wallet))
	if err != nil {
		return 0, fmt.Errorf("postgres: mark claimed %s/%s: %w", questionID, wallet, err)
	}
	return tag.RowsAffected(), nil
}

// SumClaimable totals a wallet's won-but-unclaimed winnings for display.
func (s *BetStore) SumClaimable(ctx context.Context, wallet string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(winnings), 0) FROM bets WHERE wallet_address = $1 AND status = 'won'`,
		strings.ToLower(wallet),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum claimable for %s: %w", wallet, err)
	}
	return total, nil
}

// DeleteByIDs removes rows after they have been archived.
func (s *BetStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM bets WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("postgres: delete archived bets: %w", err)
	}
	return nil
}

// Leaderboard aggregates settled rows per wallet, ranked by total winnings.
func (s *BetStore) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT wallet_address,
		       COUNT(*) FILTER (WHERE status IN ('won', 'claimed'))   AS bets_won,
		       COUNT(*) FILTER (WHERE status = 'lost')                AS bets_lost,
		       COALESCE(SUM(amount), 0)                               AS total_staked,
		       COALESCE(SUM(winnings), 0)                             AS total_winnings
		FROM bets
		WHERE status IN ('won', 'lost', 'claimed')
		GROUP BY wallet_address
		ORDER BY total_winnings DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.WalletAddress, &e.BetsWon, &e.BetsLost, &e.TotalStaked, &e.TotalWinnings); err != nil {
			return nil, fmt.Errorf("postgres: scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: leaderboard rows: %w", err)
	}
	return entries, nil
}

// collectBets drains a result set into bet rows.
func collectBets(rows pgx.Rows) ([]domain.BetRow, error) {
	var bets []domain.BetRow
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bet rows: %w", err)
	}
	return bets, nil
}
