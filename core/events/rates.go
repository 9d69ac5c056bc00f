package events

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

const (
	// TypeRatesUpdated is emitted once per accepted oracle rate batch.
	TypeRatesUpdated = "rates.updated"
	// TypeRateDeleted is emitted when the oracle withdraws a rate.
	TypeRateDeleted = "rates.deleted"
	// TypeInverseRateFrozen is emitted when an inverse-priced currency is
	// pinned at one of its configured limits.
	TypeInverseRateFrozen = "rates.inverseFrozen"
)

type RatesUpdated struct {
	Keys      []types.CurrencyKey
	Rates     []*big.Int
	Timestamp time.Time
}

func (RatesUpdated) EventType() string { return TypeRatesUpdated }

func (e RatesUpdated) Event() *types.Event {
	keys := make([]string, 0, len(e.Keys))
	for _, k := range e.Keys {
		keys = append(keys, k.String())
	}
	rates := make([]string, 0, len(e.Rates))
	for _, r := range e.Rates {
		rates = append(rates, fixed.Format(r))
	}
	return &types.Event{
		Type: TypeRatesUpdated,
		Attributes: map[string]string{
			"keys":      strings.Join(keys, ","),
			"rates":     strings.Join(rates, ","),
			"timestamp": strconv.FormatInt(e.Timestamp.Unix(), 10),
		},
	}
}

type RateDeleted struct {
	Key types.CurrencyKey
}

func (RateDeleted) EventType() string { return TypeRateDeleted }

type InverseRateFrozen struct {
	Key     types.CurrencyKey
	Rate    *big.Int
	AtUpper bool
	Round   uint64
}

func (InverseRateFrozen) EventType() string { return TypeInverseRateFrozen }

func (e InverseRateFrozen) Event() *types.Event {
	limit := "lower"
	if e.AtUpper {
		limit = "upper"
	}
	return &types.Event{
		Type: TypeInverseRateFrozen,
		Attributes: map[string]string{
			"key":   e.Key.String(),
			"rate":  fixed.Format(e.Rate),
			"limit": limit,
			"round": strconv.FormatUint(e.Round, 10),
		},
	}
}
