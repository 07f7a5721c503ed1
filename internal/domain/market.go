package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side is the side of a binary market a bet is placed on.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is one of the two defined sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Outcome is the resolved result of a market. It is Unset until the creator
// resolves, and set exactly once afterwards.
type Outcome string

const (
	OutcomeUnset Outcome = "unset"
	OutcomeYes   Outcome = "yes"
	OutcomeNo    Outcome = "no"
)

// Winner returns the winning side for a resolved outcome. The second return
// is false while the outcome is still Unset.
func (o Outcome) Winner() (Side, bool) {
	switch o {
	case OutcomeYes:
		return SideYes, true
	case OutcomeNo:
		return SideNo, true
	default:
		return "", false
	}
}

// Bet is a single stake placed by one bettor. Bets are append-only while the
// market is open.
type Bet struct {
	Side   Side  `json:"side"`
	Amount int64 `json:"amount"` // smallest currency unit, always > 0
}

// Market is one binary prediction market. Question, Token, Creator, and
// EndTime are fixed at creation; TotalYes/TotalNo grow monotonically while
// the market is open and freeze once Resolved flips true.
type Market struct {
	Address    common.Address `json:"address"`
	QuestionID string         `json:"question_id"` // key linking ledger state to mirror rows
	Question   string         `json:"question"`
	Token      common.Address `json:"token"` // staking currency
	Creator    common.Address `json:"creator"`
	EndTime    time.Time      `json:"end_time"`
	TotalYes   int64          `json:"total_yes"`
	TotalNo    int64          `json:"total_no"`
	Resolved   bool           `json:"resolved"`
	Outcome    Outcome        `json:"outcome"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Pool returns the staked total for one side.
func (m Market) Pool(s Side) int64 {
	if s == SideYes {
		return m.TotalYes
	}
	return m.TotalNo
}

// TotalPool returns the combined stake across both sides.
func (m Market) TotalPool() int64 {
	return m.TotalYes + m.TotalNo
}

// Open reports whether the market still accepts bets at the given time.
func (m Market) Open(now time.Time) bool {
	return !m.Resolved && now.Before(m.EndTime)
}

// MarketSnapshot is a read-only view of a market plus the caller's own bets,
// as returned to API clients.
type MarketSnapshot struct {
	Market
	UserBets []Bet `json:"user_bets,omitempty"`
}
