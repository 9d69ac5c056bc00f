package events

import "math/big"

const (
	TypeNetworkDebtAppended = "crosschain.networkDebtAppended"
	TypeDebtShareSnapshot   = "crosschain.debtShareSnapshot"
	TypeFeePeriodClosed     = "feepool.periodClosed"
	TypeFeesClaimed         = "feepool.claimed"
)

type NetworkDebtAppended struct {
	Delta *big.Int
	Total *big.Int
}

func (NetworkDebtAppended) EventType() string { return TypeNetworkDebtAppended }

type DebtShareSnapshot struct {
	Period uint64
	Total  *big.Int
}

func (DebtShareSnapshot) EventType() string { return TypeDebtShareSnapshot }

type FeePeriodClosed struct {
	Period uint64
	Fees   *big.Int
}

func (FeePeriodClosed) EventType() string { return TypeFeePeriodClosed }

type FeesClaimed struct {
	Account string
	Amount  *big.Int
	Periods int
}

func (FeesClaimed) EventType() string { return TypeFeesClaimed }
