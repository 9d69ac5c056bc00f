// Package feepool accumulates exchange fees into rolling periods and pays
// them out to debt-share holders. A period's share percentages are frozen by
// the debt-share snapshot taken when the period closes, and claims are scaled
// by the chain's share of the network-wide debt.
package feepool

import (
	"errors"
	"math/big"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/events"
	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

var (
	errNilState       = errors.New("feepool: state not configured")
	errOnlyExchanger  = errors.New("Only Exchanger can invoke this")
	errNothingToClaim = errors.New("No fees available for claim")
	errZeroFee        = errors.New("feepool: fee must be positive")
)

// Period is one fee accumulation window. The newest period is open; fees
// land there until ClosePeriod freezes it.
type Period struct {
	ID        uint64    `json:"id"`
	Fees      *big.Int  `json:"fees"`
	StartTime time.Time `json:"startTime"`
}

type poolState interface {
	FeePeriodsGet() ([]Period, error)
	FeePeriodsPut(periods []Period) error
	FeeClaimedGet(period uint64, account string) (bool, error)
	FeeClaimedPut(period uint64, account string) error
	AccountGet(addr string) (*types.Account, error)
	AccountPut(addr string, acct *types.Account) error
}

// ShareSource reads the frozen debt-share percentages for closed periods.
type ShareSource interface {
	SharePercentOnPeriod(account string, period uint64) (*big.Int, error)
}

// Snapshotter freezes the share ledger when a period closes.
type Snapshotter interface {
	TakeSnapshot(role common.Role, period uint64) error
}

// NetworkSource scales local claims by this chain's share of global debt.
type NetworkSource interface {
	CurrentNetworkDebtPercentage() (*big.Int, error)
}

// Pool is the fee pool.
type Pool struct {
	state       poolState
	shares      ShareSource
	snapshotter Snapshotter
	network     NetworkSource
	emitter     events.Emitter
	retained    func() (int, error)
	nowFn       func() time.Time
}

// NewPool constructs a fee pool over the supplied state backend.
func NewPool(state poolState) *Pool {
	return &Pool{
		state:    state,
		emitter:  events.NoopEmitter{},
		retained: func() (int, error) { return 4, nil },
		nowFn:    time.Now,
	}
}

// SetShareSource wires the debt-share ledger reads.
func (p *Pool) SetShareSource(s ShareSource) {
	if p == nil || s == nil {
		return
	}
	p.shares = s
}

// SetSnapshotter wires the debt-share snapshot hook.
func (p *Pool) SetSnapshotter(s Snapshotter) {
	if p == nil || s == nil {
		return
	}
	p.snapshotter = s
}

// SetNetworkSource wires the cross-chain manager.
func (p *Pool) SetNetworkSource(n NetworkSource) {
	if p == nil || n == nil {
		return
	}
	p.network = n
}

// SetEmitter wires the event emitter.
func (p *Pool) SetEmitter(em events.Emitter) {
	if p == nil || em == nil {
		return
	}
	p.emitter = em
}

// SetRetainedPeriods wires the settings getter for the period window.
func (p *Pool) SetRetainedPeriods(get func() (int, error)) {
	if p == nil || get == nil {
		return
	}
	p.retained = get
}

// SetClock overrides the time source.
func (p *Pool) SetClock(now func() time.Time) {
	if p == nil || now == nil {
		return
	}
	p.nowFn = now
}

// periods returns the period list, seeding the first open period on first
// touch. Index 0 is always the open period.
func (p *Pool) periods() ([]Period, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	existing, err := p.state.FeePeriodsGet()
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}
	seeded := []Period{{ID: 1, Fees: big.NewInt(0), StartTime: p.nowFn()}}
	if err := p.state.FeePeriodsPut(seeded); err != nil {
		return nil, err
	}
	return seeded, nil
}

// RecordExchangeFee adds a fee amount, already converted to pUSD, into the
// open period. Exchanger only.
func (p *Pool) RecordExchangeFee(role common.Role, amount *big.Int) error {
	if err := common.RequireOneOf(role, errOnlyExchanger, common.RoleExchanger); err != nil {
		return err
	}
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return errZeroFee
	}
	periods, err := p.periods()
	if err != nil {
		return err
	}
	periods[0].Fees = new(big.Int).Add(fixed.Set(periods[0].Fees), amount)
	return p.state.FeePeriodsPut(periods)
}

// ClosePeriod freezes the open period, snapshots the debt shares under its
// id and opens the next one. The retained window bounds the closed history.
func (p *Pool) ClosePeriod(role common.Role) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	periods, err := p.periods()
	if err != nil {
		return err
	}
	closing := periods[0]
	if p.snapshotter != nil {
		if err := p.snapshotter.TakeSnapshot(common.RoleOwner, closing.ID); err != nil {
			return err
		}
	}
	next := Period{ID: closing.ID + 1, Fees: big.NewInt(0), StartTime: p.nowFn()}
	updated := append([]Period{next}, periods...)
	keep, err := p.retained()
	if err != nil {
		return err
	}
	// Open period plus the retained closed ones.
	if len(updated) > keep+1 {
		updated = updated[:keep+1]
	}
	if err := p.state.FeePeriodsPut(updated); err != nil {
		return err
	}
	p.emitter.Emit(events.FeePeriodClosed{Period: closing.ID, Fees: fixed.Set(closing.Fees)})
	return nil
}

// entitlement is the account's unclaimed pUSD across the closed periods.
func (p *Pool) entitlement(account string) (*big.Int, []uint64, error) {
	if p.shares == nil || p.network == nil {
		return nil, nil, errNilState
	}
	periods, err := p.periods()
	if err != nil {
		return nil, nil, err
	}
	networkPct, err := p.network.CurrentNetworkDebtPercentage()
	if err != nil {
		return nil, nil, err
	}
	total := big.NewInt(0)
	var claimed []uint64
	for _, period := range periods[1:] {
		if fixed.IsZero(period.Fees) {
			continue
		}
		done, err := p.state.FeeClaimedGet(period.ID, account)
		if err != nil {
			return nil, nil, err
		}
		if done {
			continue
		}
		pct, err := p.shares.SharePercentOnPeriod(account, period.ID)
		if err != nil {
			return nil, nil, err
		}
		if fixed.IsZero(pct) {
			continue
		}
		amount := fixed.MulUnit(fixed.MulUnit(period.Fees, pct), networkPct)
		if amount.Sign() == 0 {
			continue
		}
		total.Add(total, amount)
		claimed = append(claimed, period.ID)
	}
	return total, claimed, nil
}

// FeesAvailable is the account's unclaimed entitlement without mutating.
func (p *Pool) FeesAvailable(account string) (*big.Int, error) {
	total, _, err := p.entitlement(account)
	return total, err
}

// ClaimFees pays the account's entitlement in pUSD, once per period per
// account. The paid pUSD was already minted when the fees were recorded, so
// the claim only moves it into the account.
func (p *Pool) ClaimFees(account string) (*big.Int, error) {
	total, periods, err := p.entitlement(account)
	if err != nil {
		return nil, err
	}
	if total.Sign() == 0 {
		return nil, errNothingToClaim
	}
	for _, id := range periods {
		if err := p.state.FeeClaimedPut(id, account); err != nil {
			return nil, err
		}
	}
	acct, err := p.state.AccountGet(account)
	if err != nil {
		return nil, err
	}
	acct.EnsureDefaults()
	acct.SetPynthBalance(types.PUSD, new(big.Int).Add(acct.PynthBalance(types.PUSD), total))
	if err := p.state.AccountPut(account, acct); err != nil {
		return nil, err
	}
	p.emitter.Emit(events.FeesClaimed{Account: account, Amount: fixed.Set(total), Periods: len(periods)})
	return total, nil
}
