package domain

import "time"

// BetStatus tracks the mirror-row lifecycle. Rows are created pending,
// settle to won or lost exactly once during reconciliation, and winning rows
// move to claimed when the payout is withdrawn.
type BetStatus string

const (
	BetStatusPending   BetStatus = "pending"
	BetStatusWon       BetStatus = "won"
	BetStatusLost      BetStatus = "lost"
	BetStatusClaimed   BetStatus = "claimed"
	BetStatusCancelled BetStatus = "cancelled"
)

// BetRow is the off-chain mirror of one placed bet, kept for history and
// leaderboard display. The authoritative state lives in the settlement
// ledger; a row must never contradict it.
type BetRow struct {
	ID            string     `json:"id"`
	QuestionID    string     `json:"question_id"`
	WalletAddress string     `json:"wallet_address"` // lowercase hex
	Outcome       Side       `json:"outcome"`
	Amount        int64      `json:"amount"`
	Status        BetStatus  `json:"status"`
	Winnings      int64      `json:"winnings"`
	MarketAddress string     `json:"market_address"` // lowercase hex
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// LeaderboardEntry aggregates a wallet's settled performance from mirror rows.
type LeaderboardEntry struct {
	WalletAddress string `json:"wallet_address"`
	BetsWon       int64  `json:"bets_won"`
	BetsLost      int64  `json:"bets_lost"`
	TotalStaked   int64  `json:"total_staked"`
	TotalWinnings int64  `json:"total_winnings"`
}
