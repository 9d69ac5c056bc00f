package rates

import (
	"math/big"
	"time"
)

// Record is the current published rate for a currency. Round points at the
// round history entry the rate was recorded under.
type Record struct {
	Rate      *big.Int  `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
	Round     uint64    `json:"round"`
}

// Round is one entry in a currency's append-only rate history. Rounds form a
// per-currency monotonically increasing sequence starting at 1; the
// settlement engine reads "the price one round after the exchange" from it.
type Round struct {
	Rate      *big.Int  `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

// InversePricing configures a currency whose published rate moves opposite to
// its market rate, banded between two limits. Once frozen at a limit the
// published rate stays pinned there until the owner reconfigures the band.
type InversePricing struct {
	EntryPoint    *big.Int `json:"entryPoint"`
	UpperLimit    *big.Int `json:"upperLimit"`
	LowerLimit    *big.Int `json:"lowerLimit"`
	FrozenAtUpper bool     `json:"frozenAtUpper"`
	FrozenAtLower bool     `json:"frozenAtLower"`
	FrozenRound   uint64   `json:"frozenRound,omitempty"`
}

// Frozen reports whether the pair is pinned at either limit.
func (p InversePricing) Frozen() bool {
	return p.FrozenAtUpper || p.FrozenAtLower
}
