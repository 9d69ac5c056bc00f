package events

import (
	"math/big"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

const (
	// TypePynthsIssued is emitted when pUSD is minted against collateral.
	TypePynthsIssued = "issuer.issued"
	// TypePynthsBurned is emitted when pUSD is burned and collateral released.
	TypePynthsBurned = "issuer.burned"
	// TypeAccountFitted is emitted by the forced-deleveraging operation.
	TypeAccountFitted = "issuer.fitted"
	// TypeAccountExited is emitted by a full unwind.
	TypeAccountExited = "issuer.exited"
)

type PynthsIssued struct {
	Account       string
	CollateralKey types.CurrencyKey
	Amount        *big.Int
	Staked        *big.Int
}

func (PynthsIssued) EventType() string { return TypePynthsIssued }

func (e PynthsIssued) Event() *types.Event {
	return &types.Event{
		Type: TypePynthsIssued,
		Attributes: map[string]string{
			"account":       e.Account,
			"collateralKey": e.CollateralKey.String(),
			"amount":        fixed.Format(e.Amount),
			"staked":        fixed.Format(e.Staked),
		},
	}
}

type PynthsBurned struct {
	Account       string
	CollateralKey types.CurrencyKey
	Amount        *big.Int
	Unstaked      *big.Int
}

func (PynthsBurned) EventType() string { return TypePynthsBurned }

func (e PynthsBurned) Event() *types.Event {
	return &types.Event{
		Type: TypePynthsBurned,
		Attributes: map[string]string{
			"account":       e.Account,
			"collateralKey": e.CollateralKey.String(),
			"amount":        fixed.Format(e.Amount),
			"unstaked":      fixed.Format(e.Unstaked),
		},
	}
}

type AccountFitted struct {
	Account  string
	Burned   *big.Int
	Unstaked *big.Int
}

func (AccountFitted) EventType() string { return TypeAccountFitted }

type AccountExited struct {
	Account string
	Burned  *big.Int
}

func (AccountExited) EventType() string { return TypeAccountExited }
