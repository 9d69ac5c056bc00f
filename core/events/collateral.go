package events

import (
	"math/big"
	"strconv"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

const (
	TypeLoanCreated    = "loan.created"
	TypeLoanClosed     = "loan.closed"
	TypeLoanModified   = "loan.modified"
	TypeLoanLiquidated = "loan.liquidated"
)

type LoanCreated struct {
	ID         uint64
	Engine     string
	Owner      string
	Collateral *big.Int
	Amount     *big.Int
	Currency   types.CurrencyKey
	Short      bool
}

func (LoanCreated) EventType() string { return TypeLoanCreated }

func (e LoanCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanCreated,
		Attributes: map[string]string{
			"id":         strconv.FormatUint(e.ID, 10),
			"engine":     e.Engine,
			"owner":      e.Owner,
			"collateral": fixed.Format(e.Collateral),
			"amount":     fixed.Format(e.Amount),
			"currency":   e.Currency.String(),
			"short":      strconv.FormatBool(e.Short),
		},
	}
}

type LoanClosed struct {
	ID    uint64
	Owner string
}

func (LoanClosed) EventType() string { return TypeLoanClosed }

// LoanModified covers deposits, withdrawals, draws and repayments.
type LoanModified struct {
	ID         uint64
	Owner      string
	Action     string
	Amount     *big.Int
	Collateral *big.Int
	Principal  *big.Int
}

func (LoanModified) EventType() string { return TypeLoanModified }

type LoanLiquidated struct {
	ID         uint64
	Engine     string
	Owner      string
	Liquidator string
	Repaid     *big.Int
	Seized     *big.Int
}

func (LoanLiquidated) EventType() string { return TypeLoanLiquidated }
