package events

import (
	"math/big"
	"strconv"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

const (
	// TypeExchangeExecuted is emitted for every completed currency exchange.
	TypeExchangeExecuted = "exchange.executed"
	// TypeExchangeSettled is emitted when a settlement pass clears a queue.
	TypeExchangeSettled = "exchange.settled"
	// TypePynthSuspended is emitted when the price-deviation circuit breaker
	// suspends a currency.
	TypePynthSuspended = "exchange.pynthSuspended"
)

type ExchangeExecuted struct {
	Account        string
	Src            types.CurrencyKey
	SrcAmount      *big.Int
	Dest           types.CurrencyKey
	AmountReceived *big.Int
	Fee            *big.Int
	TrackingCode   string
}

func (ExchangeExecuted) EventType() string { return TypeExchangeExecuted }

func (e ExchangeExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeExecuted,
		Attributes: map[string]string{
			"account":        e.Account,
			"src":            e.Src.String(),
			"srcAmount":      fixed.Format(e.SrcAmount),
			"dest":           e.Dest.String(),
			"amountReceived": fixed.Format(e.AmountReceived),
			"fee":            fixed.Format(e.Fee),
			"trackingCode":   e.TrackingCode,
		},
	}
}

type ExchangeSettled struct {
	Account string
	Key     types.CurrencyKey
	Reclaim *big.Int
	Rebate  *big.Int
	Entries int
}

func (ExchangeSettled) EventType() string { return TypeExchangeSettled }

func (e ExchangeSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeSettled,
		Attributes: map[string]string{
			"account": e.Account,
			"key":     e.Key.String(),
			"reclaim": fixed.Format(e.Reclaim),
			"rebate":  fixed.Format(e.Rebate),
			"entries": strconv.Itoa(e.Entries),
		},
	}
}

type PynthSuspended struct {
	Key    types.CurrencyKey
	Reason string
}

func (PynthSuspended) EventType() string { return TypePynthSuspended }
