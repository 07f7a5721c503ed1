package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/engine"
	"github.com/fanpredict/marketd/internal/settle"
	"github.com/fanpredict/marketd/internal/token"
)

var (
	creator = common.HexToAddress("0xc0ffee0000000000000000000000000000000001")
	psg     = common.HexToAddress("0xfa40000000000000000000000000000000000001")
	alice   = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	bob     = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// ---------------------------------------------------------------------------
// In-memory store fakes.
// ---------------------------------------------------------------------------

type memMarketStore struct {
	mu      sync.Mutex
	markets map[string]domain.Market // by lowercase address
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{markets: make(map[string]domain.Market)}
}

func (s *memMarketStore) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[strings.ToLower(m.Address.Hex())] = m
	return nil
}

func (s *memMarketStore) GetByAddress(_ context.Context, address string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[strings.ToLower(address)]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) GetByQuestionID(_ context.Context, questionID string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.QuestionID == questionID {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *memMarketStore) ListOpen(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if !m.Resolved {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) ListResolved(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Resolved {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

type memBetStore struct {
	mu   sync.Mutex
	rows map[string]domain.BetRow
}

func newMemBetStore() *memBetStore {
	return &memBetStore{rows: make(map[string]domain.BetRow)}
}

func (s *memBetStore) Create(_ context.Context, row domain.BetRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.rows[row.ID] = row
	return nil
}

func (s *memBetStore) GetByID(_ context.Context, id string) (domain.BetRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return domain.BetRow{}, domain.ErrNotFound
	}
	return row, nil
}

func (s *memBetStore) ListPending(_ context.Context, questionID string) ([]domain.BetRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BetRow
	for _, row := range s.rows {
		if row.QuestionID == questionID && row.Status == domain.BetStatusPending {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memBetStore) ListByWallet(_ context.Context, wallet string, _ domain.ListOpts) ([]domain.BetRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BetRow
	for _, row := range s.rows {
		if row.WalletAddress == wallet {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memBetStore) ListByQuestion(_ context.Context, questionID string, _ domain.ListOpts) ([]domain.BetRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BetRow
	for _, row := range s.rows {
		if row.QuestionID == questionID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memBetStore) ListSettledBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.BetRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BetRow
	for _, row := range s.rows {
		if row.Status == domain.BetStatusPending || row.ResolvedAt == nil {
			continue
		}
		if row.ResolvedAt.Before(cutoff) {
			out = append(out, row)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memBetStore) Settle(_ context.Context, upd domain.SettlementUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[upd.RowID]
	if !ok || row.Status != domain.BetStatusPending {
		return domain.ErrNotFound
	}
	row.Status = upd.Status
	row.Winnings = upd.Winnings
	t := upd.ResolvedAt
	row.ResolvedAt = &t
	s.rows[upd.RowID] = row
	return nil
}

func (s *memBetStore) MarkClaimed(_ context.Context, questionID, wallet string, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.rows {
		if row.QuestionID == questionID && row.WalletAddress == wallet && row.Status == domain.BetStatusWon {
			row.Status = domain.BetStatusClaimed
			s.rows[id] = row
			n++
		}
	}
	return n, nil
}

func (s *memBetStore) SumClaimable(_ context.Context, wallet string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, row := range s.rows {
		if row.WalletAddress == wallet && row.Status == domain.BetStatusWon {
			total += row.Winnings
		}
	}
	return total, nil
}

func (s *memBetStore) DeleteByIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.rows, id)
	}
	return nil
}

func (s *memBetStore) Leaderboard(_ context.Context, _ int) ([]domain.LeaderboardEntry, error) {
	return nil, nil
}

type memCache struct {
	mu      sync.Mutex
	markets map[string]domain.Market
}

func newMemCache() *memCache { return &memCache{markets: make(map[string]domain.Market)} }

func (c *memCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[strings.ToLower(m.Address.Hex())] = m
	return nil
}

func (c *memCache) Get(_ context.Context, address string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[strings.ToLower(address)]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memCache) Invalidate(_ context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, strings.ToLower(address))
	return nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newMemBus() *memBus { return &memBus{published: make(map[string][][]byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return b.Publish(ctx, "stream:"+stream, payload)
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------

type testEnv struct {
	clock   *testClock
	tokens  *token.Ledger
	ledger  *engine.Ledger
	markets *memMarketStore
	bets    *memBetStore
	cache   *memCache
	bus     *memBus
	audit   *memAudit

	market     *MarketService
	bet        *BetService
	wallet     *WalletService
	settlement *SettlementService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	tokens := token.NewLedger("PSG")
	ledger := engine.New(tokens, logger)
	ledger.SetClock(clock.Now)

	env := &testEnv{
		clock:   clock,
		tokens:  tokens,
		ledger:  ledger,
		markets: newMemMarketStore(),
		bets:    newMemBetStore(),
		cache:   newMemCache(),
		bus:     newMemBus(),
		audit:   &memAudit{},
	}

	reconciler := settle.NewReconciler(env.bets, ledger, nil, logger)

	env.market = NewMarketService(ledger, env.markets, env.cache, logger)
	env.bet = NewBetService(ledger, env.bets, env.cache, env.audit, env.bus, logger)
	env.wallet = NewWalletService(tokens, env.audit, logger)
	env.bet.now = clock.Now
	env.settlement = NewSettlementService(ledger, reconciler, env.markets, env.bets, env.cache, env.audit, env.bus, logger)
	env.settlement.now = clock.Now

	return env
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (env *testEnv) fund(t *testing.T, market, owner common.Address, amount int64) {
	t.Helper()
	env.tokens.Mint(owner, big.NewInt(amount))
	if err := env.tokens.Approve(context.Background(), owner, market, big.NewInt(amount)); err != nil {
		t.Fatal(err)
	}
}

// TestSettlementLifecycle walks the full path: create, quote, bet, resolve,
// reconcile, claim. Alice stakes 100 on Yes, Bob 50 on No, Yes wins, and
// Alice withdraws the entire 150 pool exactly once.
func TestSettlementLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	m, err := env.market.Create(ctx, creator, psg, "Will PSG win the final?", env.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	addr := strings.ToLower(m.Address.Hex())

	// Empty market quotes the default multiplier on both sides.
	q, err := env.market.QuoteBet(ctx, addr, domain.SideYes, 100)
	if err != nil {
		t.Fatal(err)
	}
	if q.Multiplier != 2.0 || q.PotentialPayout != 200 {
		t.Fatalf("empty quote = %v/%d, want 2.0/200", q.Multiplier, q.PotentialPayout)
	}

	env.fund(t, m.Address, alice, 100)
	env.fund(t, m.Address, bob, 50)

	rowA, err := env.bet.Place(ctx, m.Address, alice, domain.SideYes, 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.bet.Place(ctx, m.Address, bob, domain.SideNo, 50); err != nil {
		t.Fatal(err)
	}
	if got := env.bus.count(domain.ChannelBetPlaced); got != 2 {
		t.Errorf("bet_placed events = %d, want 2", got)
	}

	// Yes pool 100 of 150 total: multiplier 1.5.
	q, err = env.market.QuoteBet(ctx, addr, domain.SideYes, 100)
	if err != nil {
		t.Fatal(err)
	}
	if q.Multiplier != 1.5 || q.PotentialPayout != 150 {
		t.Fatalf("quote = %v/%d, want 1.5/150", q.Multiplier, q.PotentialPayout)
	}

	// Resolve Yes after the betting window closes.
	env.clock.Advance(2 * time.Hour)
	resolved, err := env.settlement.Resolve(ctx, m.Address, creator, true)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Outcome != domain.OutcomeYes {
		t.Fatalf("outcome = %s, want yes", resolved.Outcome)
	}
	if got := env.bus.count(domain.ChannelMarketResolved); got != 1 {
		t.Errorf("market_resolved events = %d, want 1", got)
	}

	// Mirror reconciliation settles both rows.
	res, err := env.settlement.Reconcile(ctx, m.QuestionID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Won != 1 || res.Lost != 1 || res.Failed() {
		t.Fatalf("reconcile = %+v", res)
	}
	won, err := env.bets.GetByID(ctx, rowA.ID)
	if err != nil {
		t.Fatal(err)
	}
	if won.Status != domain.BetStatusWon || won.Winnings != 150 {
		t.Fatalf("alice row = %s/%d, want won/150", won.Status, won.Winnings)
	}

	// A second pass is a no-op.
	res, err = env.settlement.Reconcile(ctx, m.QuestionID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Won != 0 || res.Lost != 0 {
		t.Fatalf("second pass settled rows: %+v", res)
	}

	sum, err := env.settlement.Claimable(ctx, alice.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 150 {
		t.Fatalf("claimable = %d, want 150", sum.Total)
	}

	payout, err := env.settlement.Claim(ctx, m.Address, alice)
	if err != nil {
		t.Fatal(err)
	}
	if payout != 150 {
		t.Fatalf("payout = %d, want 150", payout)
	}
	bal, _ := env.tokens.BalanceOf(ctx, alice)
	if bal.Int64() != 150 {
		t.Fatalf("alice balance = %d, want 150", bal.Int64())
	}

	// The claim drained the claimable sum and flipped the row.
	sum, _ = env.settlement.Claimable(ctx, alice.Hex())
	if sum.Total != 0 {
		t.Errorf("claimable after claim = %d, want 0", sum.Total)
	}
	claimed, _ := env.bets.GetByID(ctx, rowA.ID)
	if claimed.Status != domain.BetStatusClaimed {
		t.Errorf("alice row status = %s, want claimed", claimed.Status)
	}

	// Repeat claim and loser claim both reject.
	if _, err := env.settlement.Claim(ctx, m.Address, alice); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Errorf("double claim: got %v, want ErrAlreadyClaimed", err)
	}
	if _, err := env.settlement.Claim(ctx, m.Address, bob); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Errorf("loser claim: got %v, want ErrNothingToClaim", err)
	}
}

func TestResolveRequiresCreatorAndClosedWindow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	m, err := env.market.Create(ctx, creator, psg, "Will the match go to penalties?", env.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.settlement.Resolve(ctx, m.Address, creator, true); !errors.Is(err, domain.ErrBettingOpen) {
		t.Errorf("early resolve: got %v, want ErrBettingOpen", err)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := env.settlement.Resolve(ctx, m.Address, alice, true); !errors.Is(err, domain.ErrNotCreator) {
		t.Errorf("non-creator resolve: got %v, want ErrNotCreator", err)
	}

	if _, err := env.settlement.Resolve(ctx, m.Address, creator, false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.settlement.Resolve(ctx, m.Address, creator, true); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("re-resolve: got %v, want ErrAlreadyResolved", err)
	}
}

func TestGetFallsBackToMirror(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// A market that only the mirror knows about, e.g. from before a restart.
	old := domain.Market{
		Address:    common.HexToAddress("0xdead000000000000000000000000000000000001"),
		QuestionID: "q-old",
		Question:   "Did the old market resolve?",
		Resolved:   true,
		Outcome:    domain.OutcomeNo,
	}
	if err := env.markets.Upsert(ctx, old); err != nil {
		t.Fatal(err)
	}

	got, err := env.market.Get(ctx, old.Address.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if got.QuestionID != "q-old" {
		t.Fatalf("got %+v", got)
	}
}

// TestDepositAndApproveFundBetting drives the funding path end to end: a
// fresh wallet cannot bet, a deposit alone is not enough, and once the
// market is approved the stake escrows and the balance drains.
func TestDepositAndApproveFundBetting(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	m, err := env.market.Create(ctx, creator, psg, "Will PSG score first?", env.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.bet.Place(ctx, m.Address, alice, domain.SideYes, 100); !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("unfunded bet: got %v, want ErrInsufficientAllowance", err)
	}

	if _, err := env.wallet.Deposit(ctx, alice, 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("zero deposit: got %v, want ErrInvalidAmount", err)
	}
	bal, err := env.wallet.Deposit(ctx, alice, 100)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Balance != 100 || bal.Symbol != "PSG" {
		t.Fatalf("after deposit = %+v, want balance 100 PSG", bal)
	}

	// A balance without an allowance still cannot be escrowed.
	if _, err := env.bet.Place(ctx, m.Address, alice, domain.SideYes, 100); !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("unapproved bet: got %v, want ErrInsufficientAllowance", err)
	}

	if _, err := env.wallet.Approve(ctx, alice, m.Address, 100); err != nil {
		t.Fatal(err)
	}
	allowance, err := env.wallet.Allowance(ctx, alice, m.Address)
	if err != nil {
		t.Fatal(err)
	}
	if allowance != 100 {
		t.Fatalf("allowance = %d, want 100", allowance)
	}

	if _, err := env.bet.Place(ctx, m.Address, alice, domain.SideYes, 100); err != nil {
		t.Fatal(err)
	}

	bal, err = env.wallet.Balance(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Balance != 0 {
		t.Fatalf("balance after bet = %d, want 0", bal.Balance)
	}
	allowance, _ = env.wallet.Allowance(ctx, alice, m.Address)
	if allowance != 0 {
		t.Fatalf("allowance after bet = %d, want 0", allowance)
	}

	var sawDeposit, sawApprove bool
	for _, e := range env.audit.events {
		switch e {
		case "deposit":
			sawDeposit = true
		case "approve":
			sawApprove = true
		}
	}
	if !sawDeposit || !sawApprove {
		t.Fatalf("audit events = %v, want deposit and approve", env.audit.events)
	}
}
