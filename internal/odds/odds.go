// Package odds computes advisory pari-mutuel odds quotes. Quotes are display
// estimates only: pools move with every accepted bet and there is no per-user
// price lock, so the multiplier a bettor saw at click time is not binding.
package odds

import "math"

const (
	// DefaultMultiplier is quoted when a side has no stake yet and the pool
	// carries no information.
	DefaultMultiplier = 2.0

	// MinMultiplier floors every quote so bettors are never shown a
	// degenerate or unprofitable (<1.0) multiplier.
	MinMultiplier = 1.1
)

// Quote returns the multiplier for a side given its own pool and the overall
// pool, both in smallest currency units. It is stateless and deterministic:
// the same pool snapshot always yields the same quote.
func Quote(sidePool, totalPool int64) float64 {
	if sidePool <= 0 {
		return DefaultMultiplier
	}
	return math.Max(float64(totalPool)/float64(sidePool), MinMultiplier)
}

// PotentialPayout returns the advisory payout for staking amount at the given
// multiplier, rounded down to whole units.
func PotentialPayout(amount int64, multiplier float64) int64 {
	if amount <= 0 {
		return 0
	}
	return int64(math.Floor(float64(amount) * multiplier))
}
