package domain

import "time"

// Event channel names on the signal bus.
const (
	ChannelBetPlaced      = "events:bet_placed"
	ChannelMarketResolved = "events:market_resolved"
	ChannelClaimed        = "events:claimed"
)

// BetPlacedEvent is emitted after a bet commits to the ledger.
type BetPlacedEvent struct {
	MarketAddress string    `json:"market_address"`
	QuestionID    string    `json:"question_id"`
	Wallet        string    `json:"wallet"`
	Side          Side      `json:"side"`
	Amount        int64     `json:"amount"`
	TotalYes      int64     `json:"total_yes"`
	TotalNo       int64     `json:"total_no"`
	PlacedAt      time.Time `json:"placed_at"`
}

// MarketResolvedEvent is emitted once per market, when the creator resolves.
// It is the trigger for the mirror reconciliation pass.
type MarketResolvedEvent struct {
	MarketAddress string    `json:"market_address"`
	QuestionID    string    `json:"question_id"`
	Outcome       Outcome   `json:"outcome"`
	TotalYes      int64     `json:"total_yes"`
	TotalNo       int64     `json:"total_no"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// ClaimedEvent is emitted when a winner withdraws their payout.
type ClaimedEvent struct {
	MarketAddress string    `json:"market_address"`
	QuestionID    string    `json:"question_id"`
	Wallet        string    `json:"wallet"`
	Payout        int64     `json:"payout"`
	ClaimedAt     time.Time `json:"claimed_at"`
}
