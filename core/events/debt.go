package events

import (
	"math/big"
	"strconv"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

const (
	// TypeDebtSnapshotTaken is emitted on every full debt cache resync.
	TypeDebtSnapshotTaken = "debt.snapshotTaken"
	// TypeDebtCacheInvalidated is emitted whenever the cache validity flag
	// transitions.
	TypeDebtCacheInvalidated = "debt.cacheValidityChanged"
)

type DebtSnapshotTaken struct {
	Debt      *big.Int
	Invalid   bool
	Timestamp time.Time
}

func (DebtSnapshotTaken) EventType() string { return TypeDebtSnapshotTaken }

func (e DebtSnapshotTaken) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtSnapshotTaken,
		Attributes: map[string]string{
			"debt":      fixed.Format(e.Debt),
			"invalid":   strconv.FormatBool(e.Invalid),
			"timestamp": strconv.FormatInt(e.Timestamp.Unix(), 10),
		},
	}
}

type DebtCacheValidityChanged struct {
	Invalid bool
}

func (DebtCacheValidityChanged) EventType() string { return TypeDebtCacheInvalidated }
