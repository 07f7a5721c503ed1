package notify

import (
	"encoding/json"
	"fmt"

	"github.com/fanpredict/marketd/internal/domain"
)

// FormatEvent renders a settlement bus payload into a notification. The
// returned event name is what the Notifier filters on. ok is false for
// channels or payloads that have no notification rendering.
func FormatEvent(channel string, payload []byte) (event, title, message string, ok bool) {
	switch channel {
	case domain.ChannelBetPlaced:
		var e domain.BetPlacedEvent
		if json.Unmarshal(payload, &e) != nil {
			return "", "", "", false
		}
		return "bet_placed",
			"Bet placed",
			fmt.Sprintf("%s staked %d on %s (market %s, pools %d/%d)",
				e.Wallet, e.Amount, e.Side, e.MarketAddress, e.TotalYes, e.TotalNo),
			true

	case domain.ChannelMarketResolved:
		var e domain.MarketResolvedEvent
		if json.Unmarshal(payload, &e) != nil {
			return "", "", "", false
		}
		return "market_resolved",
			"Market resolved",
			fmt.Sprintf("market %s resolved %s (pools %d/%d)",
				e.MarketAddress, e.Outcome, e.TotalYes, e.TotalNo),
			true

	case domain.ChannelClaimed:
		var e domain.ClaimedEvent
		if json.Unmarshal(payload, &e) != nil {
			return "", "", "", false
		}
		return "claimed",
			"Winnings claimed",
			fmt.Sprintf("%s withdrew %d from market %s", e.Wallet, e.Payout, e.MarketAddress),
			true
	}
	return "", "", "", false
}

// FormatReconcile renders a reconciliation outcome into a notification. A
// pass with failed rows reports as reconcile_partial so operators can retry.
func FormatReconcile(questionID string, won, lost, skipped, failed int) (event, title, message string) {
	event = "reconcile_done"
	title = "Reconciliation finished"
	if failed > 0 {
		event = "reconcile_partial"
		title = "Reconciliation left failed rows"
	}
	message = fmt.Sprintf("question %s: %d won, %d lost, %d skipped, %d failed",
		questionID, won, lost, skipped, failed)
	return event, title, message
}
