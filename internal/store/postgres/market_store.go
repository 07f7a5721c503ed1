package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanpredict/marketd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Rows mirror the
// settlement ledger's market state for listing and history queries.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `address, question_id, question, token, creator, end_time,
	total_yes, total_no, resolved, outcome, created_at`

// Upsert inserts or refreshes one market row. Pools and resolution state are
// overwritten from the ledger snapshot; immutable fields stay as created.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			address, question_id, question, token, creator, end_time,
			total_yes, total_no, resolved, outcome, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, NOW()
		)
		ON CONFLICT (address) DO UPDATE SET
			total_yes  = EXCLUDED.total_yes,
			total_no   = EXCLUDED.total_no,
			resolved   = EXCLUDED.resolved,
			outcome    = EXCLUDED.outcome,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		hexLower(m.Address), m.QuestionID, m.Question, hexLower(m.Token), hexLower(m.Creator),
		m.EndTime, m.TotalYes, m.TotalNo, m.Resolved, string(m.Outcome), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.Address.Hex(), err)
	}
	return nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var address, token, creator, outcome string
	err := row.Scan(
		&address, &m.QuestionID, &m.Question, &token, &creator, &m.EndTime,
		&m.TotalYes, &m.TotalNo, &m.Resolved, &outcome, &m.CreatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Address = common.HexToAddress(address)
	m.Token = common.HexToAddress(token)
	m.Creator = common.HexToAddress(creator)
	m.Outcome = domain.Outcome(outcome)
	return m, nil
}

// GetByAddress retrieves a market row by its address.
func (s *MarketStore) GetByAddress(ctx context.Context, address string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE address = $1`, strings.ToLower(address))
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", address, err)
	}
	return m, nil
}

// GetByQuestionID retrieves a market row by the question identifier its bet
// rows are keyed under.
func (s *MarketStore) GetByQuestionID(ctx context.Context, questionID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE question_id = $1`, questionID)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by question %s: %w", questionID, err)
	}
	return m, nil
}

// ListOpen returns unresolved markets, newest first.
func (s *MarketStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx, "resolved = FALSE", opts)
}

// ListResolved returns resolved markets, newest first.
func (s *MarketStore) ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx, "resolved = TRUE", opts)
}

func (s *MarketStore) list(ctx context.Context, where string, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE ` + where
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of market rows.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// hexLower renders an address as lowercase hex, the canonical storage form.
func hexLower(a common.Address) string {
	return strings.ToLower(a.Hex())
}
