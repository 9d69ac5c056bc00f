package exchange

import (
	"math/big"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/types"
)

// SettlementEntry is one queued slot in an account's per-destination
// settlement queue. Entries are appended in time order and consumed only by a
// full settle pass, never removed individually.
type SettlementEntry struct {
	Src            types.CurrencyKey `json:"src"`
	SrcAmount      *big.Int          `json:"srcAmount"`
	Dest           types.CurrencyKey `json:"dest"`
	AmountReceived *big.Int          `json:"amountReceived"`
	FeeRate        *big.Int          `json:"feeRate"`
	Timestamp      time.Time         `json:"timestamp"`
	SrcRound       uint64            `json:"srcRound"`
	DestRound      uint64            `json:"destRound"`
}
