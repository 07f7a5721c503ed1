package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/token"
)

var (
	creator = common.HexToAddress("0xc0ffee0000000000000000000000000000000001")
	psg     = common.HexToAddress("0xfa40000000000000000000000000000000000001")
	userA   = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	userB   = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
	userC   = common.HexToAddress("0xcccc000000000000000000000000000000000003")
)

// testClock is a movable time source.
type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLedger(t *testing.T) (*Ledger, *token.Ledger, *testClock) {
	t.Helper()
	tokens := token.NewLedger("PSG")
	l := New(tokens, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l.SetClock(clock.Now)
	return l, tokens, clock
}

// testWriter routes ledger logs through t.Log.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func fund(t *testing.T, tokens *token.Ledger, market common.Address, owner common.Address, amount int64) {
	t.Helper()
	tokens.Mint(owner, big.NewInt(amount))
	if err := tokens.Approve(context.Background(), owner, market, big.NewInt(amount)); err != nil {
		t.Fatal(err)
	}
}

func mustCreate(t *testing.T, l *Ledger, clock *testClock, horizon time.Duration) domain.Market {
	t.Helper()
	m, err := l.CreateMarket(context.Background(), creator, psg, "q-final", "Will PSG win the final?", clock.Now().Add(horizon))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestPlaceBetConservation(t *testing.T) {
	ctx := context.Background()
	l, tokens, clock := newTestLedger(t)
	m := mustCreate(t, l, clock, time.Hour)

	fund(t, tokens, m.Address, userA, 1000)
	fund(t, tokens, m.Address, userB, 1000)

	var accepted int64
	stakes := []struct {
		user   common.Address
		side   domain.Side
		amount int64
	}{
		{userA, domain.SideYes, 100},
		{userB, domain.SideNo, 50},
		{userA, domain.SideYes, 200},
		{userB, domain.SideYes, 25},
	}
	for _, s := range stakes {
		if _, err := l.PlaceBet(ctx, m.Address, s.user, s.side, s.amount); err != nil {
			t.Fatalf("place bet: %v", err)
		}
		accepted += s.amount
	}

	// Rejected calls contribute nothing.
	if _, err := l.PlaceBet(ctx, m.Address, userA, domain.SideYes, 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := l.PlaceBet(ctx, m.Address, userA, domain.SideYes, -5); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}
	// Unfunded bettor: transfer fails, pools untouched.
	if _, err := l.PlaceBet(ctx, m.Address, userC, domain.SideNo, 40); !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Errorf("unfunded bettor: got %v, want ErrInsufficientAllowance", err)
	}

	snap, err := l.Snapshot(m.Address)
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalPool() != accepted {
		t.Errorf("totalYes+totalNo = %d, want %d", snap.TotalPool(), accepted)
	}
	if snap.TotalYes != 325 || snap.TotalNo != 50 {
		t.Errorf("pools = %d/%d, want 325/50", snap.TotalYes, snap.TotalNo)
	}

	// Escrow matches the pool.
	bal, _ := tokens.BalanceOf(ctx, m.Address)
	if bal.Int64() != accepted {
		t.Errorf("escrow balance = %d, want %d", bal.Int64(), accepted)
	}
}

func TestPlaceBetAfterEndTime(t *testing.T) {
	ctx := context.Background()
	l, tokens, clock := newTestLedger(t)
	m := mustCreate(t, l, clock, time.Hour)
	fund(t, tokens, m.Address, userA, 100)

	clock.Advance(time.Hour)
	if _, err := l.PlaceBet(ctx, m.Address, userA, domain.SideYes, 100); !errors.Is(err, domain.ErrMarketClosed) {
		t.Fatalf("got %v, want ErrMarketClosed", err)
	}
}

func TestResolveMonotonic(t *testing.T) {
	ctx := context.Background()
	l, _, clock := newTestLedger(t)
	m := mustCreate(t, l, clock, time.Hour)

	// Early resolution is rejected even for the creator.
	if _, err := l.Resolve(ctx, m.Address, creator, true); !errors.Is(err, domain.ErrBettingOpen) {
		t.Fatalf("early resolve: got %v, want ErrBettingOpen", err)
	}

	clock.Advance(2 * time.Hour)

	// Non-creator is rejected.
	if _, err := l.Resolve(ctx, m.Address, userA, true); !errors.Is(err, domain.ErrNotCreator) {
		t.Fatalf("non-creator resolve: got %v, want ErrNotCreator", err)
	}

	resolved, err := l.Resolve(ctx, m.Address, creator, true)
	if err != nil {
		t.Fatal(err)
	}
	if !resolved.Resolved || resolved.Outcome != domain.OutcomeYes {
		t.Fatalf("resolved market = %+v", resolved)
	}

	// Every subsequent call fails.
	for i := 0; i < 3; i++ {
		if _, err := l.Resolve(ctx, m.Address, creator, false); !errors.Is(err, domain.ErrAlreadyResolved) {
			t.Fatalf("re-resolve: got %v, want ErrAlreadyResolved", err)
		}
	}

	// Outcome never changed.
	snap, _ := l.Snapshot(m.Address)
	if snap.Outcome != domain.OutcomeYes {
		t.Errorf("outcome = %s after failed re-resolve, want yes", snap.Outcome)
	}

	// Betting on a resolved market rejects.
	if _, err := l.PlaceBet(ctx, m.Address, userA, domain.SideYes, 10); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("bet on resolved: got %v, want ErrAlreadyResolved", err)
	}
}

func TestClaimProRataExactlyOnce(t *testing.T) {
	ctx := context.Background()
	l, tokens, clock := newTestLedger(t)
	m := mustCreate(t, l, clock, time.Hour)

	fund(t, tokens, m.Address, userA, 30)
	fund(t, tokens, m.Address, userB, 270)
	fund(t, tokens, m.Address, userC, 100)

	// totalYes=300, totalNo=100; A staked 30 on Yes.
	if _, err := l.PlaceBet(ctx, m.Address, userA, domain.SideYes, 30); err != nil {
		t.Fatal(err)
	}
	if _, err := l.PlaceBet(ctx, m.Address, userB, domain.SideYes, 270); err != nil {
		t.Fatal(err)
	}
	if _, err := l.PlaceBet(ctx, m.Address, userC, domain.SideNo, 100); err != nil {
		t.Fatal(err)
	}

	// Claim before resolution rejects.
	if _, err := l.Claim(ctx, m.Address, userA); !errors.Is(err, domain.ErrNotResolved) {
		t.Fatalf("claim before resolve: got %v, want ErrNotResolved", err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := l.Resolve(ctx, m.Address, creator, true); err != nil {
		t.Fatal(err)
	}

	payout, err := l.Claim(ctx, m.Address, userA)
	if err != nil {
		t.Fatal(err)
	}
	if payout != 40 { // 30 * 400 / 300
		t.Errorf("payout = %d, want 40", payout)
	}
	bal, _ := tokens.BalanceOf(ctx, userA)
	if bal.Int64() != 40 {
		t.Errorf("userA balance = %d, want 40", bal.Int64())
	}

	// Second claim by the same user fails and transfers nothing.
	if _, err := l.Claim(ctx, m.Address, userA); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("double claim: got %v, want ErrAlreadyClaimed", err)
	}
	bal, _ = tokens.BalanceOf(ctx, userA)
	if bal.Int64() != 40 {
		t.Errorf("userA balance after double claim = %d, want 40", bal.Int64())
	}

	// Loser has no winning stake.
	if _, err := l.Claim(ctx, m.Address, userC); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Fatalf("loser claim: got %v, want ErrNothingToClaim", err)
	}

	// Remaining winner drains the rest of the pool exactly.
	payoutB, err := l.Claim(ctx, m.Address, userB)
	if err != nil {
		t.Fatal(err)
	}
	if payoutB != 360 { // 270 * 400 / 300
		t.Errorf("userB payout = %d, want 360", payoutB)
	}
	escrow, _ := tokens.BalanceOf(ctx, m.Address)
	if escrow.Int64() != 0 {
		t.Errorf("escrow after all claims = %d, want 0", escrow.Int64())
	}
}

func TestZeroWinnerMarket(t *testing.T) {
	ctx := context.Background()
	l, tokens, clock := newTestLedger(t)
	m := mustCreate(t, l, clock, time.Hour)

	fund(t, tokens, m.Address, userB, 100)
	if _, err := l.PlaceBet(ctx, m.Address, userB, domain.SideNo, 100); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Hour)
	// Resolve Yes with totalYes == 0: nobody is owed anything.
	if _, err := l.Resolve(ctx, m.Address, creator, true); err != nil {
		t.Fatal(err)
	}

	for _, u := range []common.Address{userA, userB, creator} {
		if _, err := l.Claim(ctx, m.Address, u); !errors.Is(err, domain.ErrNothingToClaim) {
			t.Errorf("claim by %s: got %v, want ErrNothingToClaim", u.Hex(), err)
		}
	}

	// No transfer happened; stake remains in escrow.
	escrow, _ := tokens.BalanceOf(ctx, m.Address)
	if escrow.Int64() != 100 {
		t.Errorf("escrow = %d, want 100", escrow.Int64())
	}
}

func TestPayout(t *testing.T) {
	tests := []struct {
		name                             string
		stake, totalYes, totalNo, winner int64
		want                             int64
	}{
		{"three way split", 30, 300, 100, 300, 40},
		{"full pool to sole winner", 100, 100, 50, 100, 150},
		{"zero winning pool", 0, 0, 100, 0, 0},
		{"rounds down", 10, 35, 31, 35, 18},
		{"large pools no overflow", 1 << 40, 1 << 41, 1 << 41, 1 << 41, 1 << 41},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Payout(tt.stake, tt.totalYes, tt.totalNo, tt.winner); got != tt.want {
				t.Errorf("Payout(%d,%d,%d,%d) = %d, want %d",
					tt.stake, tt.totalYes, tt.totalNo, tt.winner, got, tt.want)
			}
		})
	}
}

func TestUserBetsAppendOnly(t *testing.T) {
	ctx := context.Background()
	l, tokens, clock := newTestLedger(t)
	m := mustCreate(t, l, clock, time.Hour)
	fund(t, tokens, m.Address, userA, 300)

	_, _ = l.PlaceBet(ctx, m.Address, userA, domain.SideYes, 100)
	_, _ = l.PlaceBet(ctx, m.Address, userA, domain.SideNo, 50)

	bets, err := l.UserBets(m.Address, userA)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Bet{{Side: domain.SideYes, Amount: 100}, {Side: domain.SideNo, Amount: 50}}
	if len(bets) != len(want) {
		t.Fatalf("got %d bets, want %d", len(bets), len(want))
	}
	for i := range want {
		if bets[i] != want[i] {
			t.Errorf("bet[%d] = %+v, want %+v", i, bets[i], want[i])
		}
	}
}
