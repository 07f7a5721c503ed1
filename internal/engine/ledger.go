// Package engine implements the authoritative pari-mutuel settlement ledger.
// Markets, pools, per-user bets, and claim bookkeeping live here; the
// Postgres mirror is only a display projection of this state.
package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/fanpredict/marketd/internal/domain"
)

// marketState is the full mutable state of one market: the public Market
// fields plus the append-only bet log and the claimed set.
type marketState struct {
	market  domain.Market
	bets    map[common.Address][]domain.Bet
	claimed map[common.Address]bool
}

// Ledger is a single-writer settlement ledger. Every operation commits
// atomically under one mutex, so concurrent PlaceBet/Resolve/Claim calls are
// serialized the way transactions are on a chain: pool increments are
// race-free by construction and no per-market locking is needed.
type Ledger struct {
	mu      sync.Mutex
	markets map[common.Address]*marketState
	nonce   uint64

	tokens domain.TokenLedger
	now    func() time.Time
	logger *slog.Logger
}

// New creates an empty Ledger that escrows stakes through the given token
// ledger.
func New(tokens domain.TokenLedger, logger *slog.Logger) *Ledger {
	return &Ledger{
		markets: make(map[common.Address]*marketState),
		tokens:  tokens,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "ledger")),
	}
}

// SetClock overrides the ledger's time source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// CreateMarket opens a new market for the given question. The market address
// is derived from the creator, token, question, and a ledger nonce, and acts
// as the escrow account holding all staked funds. questionID is the external
// key the mirror stores bet rows under.
func (l *Ledger) CreateMarket(ctx context.Context, creator, token common.Address, questionID, question string, endTime time.Time) (domain.Market, error) {
	if question == "" {
		return domain.Market{}, fmt.Errorf("ledger: create market: empty question")
	}
	if questionID == "" {
		return domain.Market{}, fmt.Errorf("ledger: create market: empty question id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !endTime.After(now) {
		return domain.Market{}, fmt.Errorf("ledger: create market: end time %s is not in the future", endTime)
	}

	l.nonce++
	addr := deriveAddress(creator, token, question, l.nonce)
	if _, ok := l.markets[addr]; ok {
		return domain.Market{}, domain.ErrAlreadyExists
	}

	m := domain.Market{
		Address:    addr,
		QuestionID: questionID,
		Question:   question,
		Token:      token,
		Creator:    creator,
		EndTime:    endTime,
		Outcome:    domain.OutcomeUnset,
		CreatedAt:  now,
	}
	l.markets[addr] = &marketState{
		market:  m,
		bets:    make(map[common.Address][]domain.Bet),
		claimed: make(map[common.Address]bool),
	}

	l.logger.InfoContext(ctx, "market created",
		slog.String("market", addr.Hex()),
		slog.String("creator", creator.Hex()),
		slog.Time("end_time", endTime),
	)
	return m, nil
}

// PlaceBet stakes amount on one side of an open market. The stake is pulled
// from the bettor through the token ledger (requiring a prior approval of at
// least amount for the market address) before any pool is touched, so a
// failed transfer leaves the market unchanged.
func (l *Ledger) PlaceBet(ctx context.Context, market, bettor common.Address, side domain.Side, amount int64) (domain.Market, error) {
	if amount <= 0 {
		return domain.Market{}, domain.ErrInvalidAmount
	}
	if !side.Valid() {
		return domain.Market{}, fmt.Errorf("ledger: place bet: unknown side %q", side)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.markets[market]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if st.market.Resolved {
		return domain.Market{}, domain.ErrAlreadyResolved
	}
	if !l.now().Before(st.market.EndTime) {
		return domain.Market{}, domain.ErrMarketClosed
	}

	// Escrow the stake first. The market address is both spender and
	// destination; nothing is mutated if the pull fails.
	if err := l.tokens.TransferFrom(ctx, market, bettor, market, big.NewInt(amount)); err != nil {
		return domain.Market{}, fmt.Errorf("ledger: place bet: %w", err)
	}

	st.bets[bettor] = append(st.bets[bettor], domain.Bet{Side: side, Amount: amount})
	if side == domain.SideYes {
		st.market.TotalYes += amount
	} else {
		st.market.TotalNo += amount
	}

	l.logger.InfoContext(ctx, "bet placed",
		slog.String("market", market.Hex()),
		slog.String("bettor", bettor.Hex()),
		slog.String("side", string(side)),
		slog.Int64("amount", amount),
		slog.Int64("total_yes", st.market.TotalYes),
		slog.Int64("total_no", st.market.TotalNo),
	)
	return st.market, nil
}

// Resolve sets the market outcome. Only the creator may resolve, only after
// the betting period has ended, and only once; pools freeze from this point.
func (l *Ledger) Resolve(ctx context.Context, market, caller common.Address, outcomeIsYes bool) (domain.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.markets[market]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if caller != st.market.Creator {
		return domain.Market{}, domain.ErrNotCreator
	}
	if st.market.Resolved {
		return domain.Market{}, domain.ErrAlreadyResolved
	}
	if l.now().Before(st.market.EndTime) {
		return domain.Market{}, domain.ErrBettingOpen
	}

	st.market.Resolved = true
	if outcomeIsYes {
		st.market.Outcome = domain.OutcomeYes
	} else {
		st.market.Outcome = domain.OutcomeNo
	}

	l.logger.InfoContext(ctx, "market resolved",
		slog.String("market", market.Hex()),
		slog.String("outcome", string(st.market.Outcome)),
	)
	return st.market, nil
}

// Claim pays the caller their pro-rata share of the full pool: winners split
// totalYes+totalNo proportional to their stake on the winning side, since the
// losing side's stake funds the payout. A caller claims at most once; callers
// with no winning stake (including every caller on a market whose winning
// side is empty) are rejected with ErrNothingToClaim and no transfer occurs.
func (l *Ledger) Claim(ctx context.Context, market, caller common.Address) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.markets[market]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if !st.market.Resolved {
		return 0, domain.ErrNotResolved
	}
	if st.claimed[caller] {
		return 0, domain.ErrAlreadyClaimed
	}

	winner, _ := st.market.Outcome.Winner()
	stake := sumSide(st.bets[caller], winner)
	if stake == 0 {
		return 0, domain.ErrNothingToClaim
	}

	payout := Payout(stake, st.market.TotalYes, st.market.TotalNo, st.market.Pool(winner))
	if err := l.tokens.Transfer(ctx, market, caller, big.NewInt(payout)); err != nil {
		return 0, fmt.Errorf("ledger: claim payout: %w", err)
	}
	st.claimed[caller] = true

	l.logger.InfoContext(ctx, "winnings claimed",
		slog.String("market", market.Hex()),
		slog.String("caller", caller.Hex()),
		slog.Int64("payout", payout),
	)
	return payout, nil
}

// Snapshot returns a copy of the market's public state.
func (l *Ledger) Snapshot(market common.Address) (domain.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.markets[market]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return st.market, nil
}

// UserBets returns the caller's bet log for a market, oldest first.
func (l *Ledger) UserBets(market, user common.Address) ([]domain.Bet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.markets[market]
	if !ok {
		return nil, domain.ErrNotFound
	}
	bets := make([]domain.Bet, len(st.bets[user]))
	copy(bets, st.bets[user])
	return bets, nil
}

// HasClaimed reports whether the user already withdrew their payout.
func (l *Ledger) HasClaimed(market, user common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.markets[market]
	if !ok {
		return false, domain.ErrNotFound
	}
	return st.claimed[user], nil
}

// ClaimableStake returns the user's stake on the winning side of a resolved
// market, or 0 when there is nothing to claim.
func (l *Ledger) ClaimableStake(market, user common.Address) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.markets[market]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if !st.market.Resolved || st.claimed[user] {
		return 0, nil
	}
	winner, _ := st.market.Outcome.Winner()
	return sumSide(st.bets[user], winner), nil
}

// Payout computes the pari-mutuel payout for a winner who staked `stake` on
// the winning side: stake * (totalYes + totalNo) / winningPool, in big.Int to
// rule out intermediate overflow. A zero winning pool yields zero rather than
// a division fault; callers reject that case before paying anyone.
func Payout(stake, totalYes, totalNo, winningPool int64) int64 {
	if stake <= 0 || winningPool <= 0 {
		return 0
	}
	total := new(big.Int).Add(big.NewInt(totalYes), big.NewInt(totalNo))
	num := new(big.Int).Mul(big.NewInt(stake), total)
	return num.Div(num, big.NewInt(winningPool)).Int64()
}

// sumSide totals a bettor's stake on one side across their bet log.
func sumSide(bets []domain.Bet, side domain.Side) int64 {
	var total int64
	for _, b := range bets {
		if b.Side == side {
			total += b.Amount
		}
	}
	return total
}

// deriveAddress builds a deterministic market address from the creation
// parameters and ledger nonce, keccak-hashed the way contract addresses are.
func deriveAddress(creator, token common.Address, question string, nonce uint64) common.Address {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	h := ethcrypto.Keccak256(creator.Bytes(), token.Bytes(), []byte(question), n[:])
	return common.BytesToAddress(h[12:])
}
