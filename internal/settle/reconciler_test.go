package settle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
)

var marketAddr = common.HexToAddress("0x1234000000000000000000000000000000000001")

// fakeBetStore is an in-memory domain.BetStore with injectable failures.
type fakeBetStore struct {
	mu      sync.Mutex
	rows    map[string]*domain.BetRow
	failIDs map[string]bool // Settle on these IDs returns a storage error
}

func newFakeBetStore(rows ...domain.BetRow) *fakeBetStore {
	s := &fakeBetStore{rows: make(map[string]*domain.BetRow), failIDs: make(map[string]bool)}
	for i := range rows {
		r := rows[i]
		s.rows[r.ID] = &r
	}
	return s
}

func (s *fakeBetStore) Create(_ context.Context, row domain.BetRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ID] = &row
	return nil
}

func (s *fakeBetStore) GetByID(_ context.Context, id string) (domain.BetRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		return *r, nil
	}
	return domain.BetRow{}, domain.ErrNotFound
}

func (s *fakeBetStore) ListPending(_ context.Context, questionID string) ([]domain.BetRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BetRow
	for _, r := range s.rows {
		if r.QuestionID == questionID && r.Status == domain.BetStatusPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeBetStore) ListByWallet(context.Context, string, domain.ListOpts) ([]domain.BetRow, error) {
	return nil, nil
}

func (s *fakeBetStore) ListByQuestion(context.Context, string, domain.ListOpts) ([]domain.BetRow, error) {
	return nil, nil
}

func (s *fakeBetStore) ListSettledBefore(context.Context, time.Time, int) ([]domain.BetRow, error) {
	return nil, nil
}

func (s *fakeBetStore) Settle(_ context.Context, upd domain.SettlementUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[upd.RowID] {
		return errors.New("storage write failed")
	}
	r, ok := s.rows[upd.RowID]
	if !ok || r.Status != domain.BetStatusPending {
		return domain.ErrNotFound
	}
	r.Status = upd.Status
	r.Winnings = upd.Winnings
	at := upd.ResolvedAt
	r.ResolvedAt = &at
	return nil
}

func (s *fakeBetStore) MarkClaimed(_ context.Context, questionID, wallet string, claimedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.QuestionID == questionID && r.WalletAddress == wallet && r.Status == domain.BetStatusWon {
			r.Status = domain.BetStatusClaimed
			at := claimedAt
			r.ResolvedAt = &at
			n++
		}
	}
	return n, nil
}

func (s *fakeBetStore) SumClaimable(context.Context, string) (int64, error) { return 0, nil }
func (s *fakeBetStore) DeleteByIDs(context.Context, []string) error         { return nil }
func (s *fakeBetStore) Leaderboard(context.Context, int) ([]domain.LeaderboardEntry, error) {
	return nil, nil
}

// fakeSnapshotter serves a fixed market snapshot.
type fakeSnapshotter struct{ market domain.Market }

func (f fakeSnapshotter) Snapshot(common.Address) (domain.Market, error) { return f.market, nil }

func resolvedMarket(outcome domain.Outcome, totalYes, totalNo int64) domain.Market {
	return domain.Market{
		Address:  marketAddr,
		Token:    common.HexToAddress("0xfa40000000000000000000000000000000000001"),
		EndTime:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TotalYes: totalYes,
		TotalNo:  totalNo,
		Resolved: true,
		Outcome:  outcome,
	}
}

func pendingRow(id, wallet string, side domain.Side, amount int64) domain.BetRow {
	return domain.BetRow{
		ID:            id,
		QuestionID:    "q1",
		WalletAddress: wallet,
		Outcome:       side,
		Amount:        amount,
		Status:        domain.BetStatusPending,
		MarketAddress: "0x1234000000000000000000000000000000000001",
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileSettlesProRata(t *testing.T) {
	ctx := context.Background()
	store := newFakeBetStore(
		pendingRow("b1", "0xaaa", domain.SideYes, 100),
		pendingRow("b2", "0xbbb", domain.SideNo, 50),
	)
	ledger := fakeSnapshotter{market: resolvedMarket(domain.OutcomeYes, 100, 50)}
	r := NewReconciler(store, ledger, nil, testLogger())

	res, err := r.Reconcile(ctx, "q1", marketAddr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Won != 1 || res.Lost != 1 || res.Failed() {
		t.Fatalf("result = %+v", res)
	}

	won, _ := store.GetByID(ctx, "b1")
	if won.Status != domain.BetStatusWon {
		t.Errorf("b1 status = %s, want won", won.Status)
	}
	// Winnings are the pro-rata share of the whole pool, not the 1:1 stake.
	if won.Winnings != 150 { // 100 * 150 / 100
		t.Errorf("b1 winnings = %d, want 150", won.Winnings)
	}
	if won.ResolvedAt == nil {
		t.Error("b1 resolved_at not set")
	}

	lost, _ := store.GetByID(ctx, "b2")
	if lost.Status != domain.BetStatusLost || lost.Winnings != 0 {
		t.Errorf("b2 = %s/%d, want lost/0", lost.Status, lost.Winnings)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeBetStore(
		pendingRow("b1", "0xaaa", domain.SideYes, 100),
		pendingRow("b2", "0xbbb", domain.SideNo, 50),
	)
	ledger := fakeSnapshotter{market: resolvedMarket(domain.OutcomeYes, 100, 50)}
	r := NewReconciler(store, ledger, nil, testLogger())

	if _, err := r.Reconcile(ctx, "q1", marketAddr); err != nil {
		t.Fatal(err)
	}
	first, _ := store.GetByID(ctx, "b1")

	// Second pass finds nothing pending and changes nothing.
	res, err := r.Reconcile(ctx, "q1", marketAddr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Won != 0 || res.Lost != 0 || res.Skipped != 0 {
		t.Fatalf("second pass touched rows: %+v", res)
	}
	second, _ := store.GetByID(ctx, "b1")
	if second.Status != first.Status || second.Winnings != first.Winnings {
		t.Errorf("second pass rewrote row: %+v -> %+v", first, second)
	}
}

func TestReconcilePartialFailureContinues(t *testing.T) {
	ctx := context.Background()
	store := newFakeBetStore(
		pendingRow("b1", "0xaaa", domain.SideYes, 100),
		pendingRow("b2", "0xbbb", domain.SideYes, 200),
		pendingRow("b3", "0xccc", domain.SideNo, 50),
	)
	store.failIDs["b2"] = true
	ledger := fakeSnapshotter{market: resolvedMarket(domain.OutcomeYes, 300, 50)}
	r := NewReconciler(store, ledger, nil, testLogger())

	res, err := r.Reconcile(ctx, "q1", marketAddr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Won != 1 || res.Lost != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.FailedRowIDs) != 1 || res.FailedRowIDs[0] != "b2" {
		t.Fatalf("failed rows = %v, want [b2]", res.FailedRowIDs)
	}

	// The failed row stays pending, so a retry picks it up.
	stuck, _ := store.GetByID(ctx, "b2")
	if stuck.Status != domain.BetStatusPending {
		t.Fatalf("b2 status = %s, want pending", stuck.Status)
	}

	store.failIDs = map[string]bool{}
	res, err = r.Reconcile(ctx, "q1", marketAddr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Won != 1 || res.Failed() {
		t.Fatalf("retry result = %+v", res)
	}
	retried, _ := store.GetByID(ctx, "b2")
	if retried.Status != domain.BetStatusWon || retried.Winnings != 233 { // 200*350/300
		t.Errorf("b2 after retry = %s/%d, want won/233", retried.Status, retried.Winnings)
	}
}

func TestReconcileUnresolvedMarket(t *testing.T) {
	store := newFakeBetStore(pendingRow("b1", "0xaaa", domain.SideYes, 100))
	m := resolvedMarket(domain.OutcomeUnset, 100, 0)
	m.Resolved = false
	r := NewReconciler(store, fakeSnapshotter{market: m}, nil, testLogger())

	if _, err := r.Reconcile(context.Background(), "q1", marketAddr); !errors.Is(err, domain.ErrNotResolved) {
		t.Fatalf("got %v, want ErrNotResolved", err)
	}
}

func TestMarkClaimed(t *testing.T) {
	ctx := context.Background()
	row := pendingRow("b1", "0xaaa", domain.SideYes, 100)
	row.Status = domain.BetStatusWon
	row.Winnings = 150
	store := newFakeBetStore(row)
	r := NewReconciler(store, fakeSnapshotter{}, nil, testLogger())

	n, err := r.MarkClaimed(ctx, "q1", "0xaaa")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("moved %d rows, want 1", n)
	}

	got, _ := store.GetByID(ctx, "b1")
	if got.Status != domain.BetStatusClaimed {
		t.Errorf("status = %s, want claimed", got.Status)
	}

	// Repeat invocation is a no-op.
	n, err = r.MarkClaimed(ctx, "q1", "0xaaa")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("repeat moved %d rows, want 0", n)
	}
}
