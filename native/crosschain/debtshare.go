package crosschain

import (
	"errors"
	"math/big"
	"sort"

	"github.com/perifinance/peri-finance-sub001/core/events"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

var (
	errNotInHistory       = errors.New("not found in recent history")
	errInsufficientShares = errors.New("crosschain: burn exceeds share balance")
	errTransferExceeds    = errors.New("crosschain: transfer exceeds share balance")
)

// ShareSnapshot freezes the ledger at one fee period.
type ShareSnapshot struct {
	Period   uint64              `json:"period"`
	Balances map[string]*big.Int `json:"balances"`
	Total    *big.Int            `json:"total"`
}

type shareState interface {
	ShareBalanceGet(account string) (*big.Int, error)
	ShareBalancePut(account string, v *big.Int) error
	ShareHolders() ([]string, error)
	ShareTotalGet() (*big.Int, error)
	ShareTotalPut(v *big.Int) error
	ShareSnapshotGet(period uint64) (ShareSnapshot, bool, error)
	ShareSnapshotPut(snap ShareSnapshot) error
	ShareSnapshotDelete(period uint64) error
	ShareSnapshotPeriods() ([]uint64, error)
}

// DebtShare is the non-transferable debt-share ledger. Shares move only
// through issuer mint/burn and broker-forced transfers; period snapshots make
// closed fee periods immutable, and only a bounded window of them is kept.
type DebtShare struct {
	state    shareState
	emitter  events.Emitter
	retained func() (int, error)
}

// NewDebtShare constructs a ledger over the supplied state backend.
func NewDebtShare(state shareState) *DebtShare {
	return &DebtShare{
		state:    state,
		emitter:  events.NoopEmitter{},
		retained: func() (int, error) { return 4, nil },
	}
}

// SetEmitter wires the event emitter.
func (d *DebtShare) SetEmitter(em events.Emitter) {
	if d == nil || em == nil {
		return
	}
	d.emitter = em
}

// SetRetainedPeriods wires the settings getter for the snapshot window.
func (d *DebtShare) SetRetainedPeriods(get func() (int, error)) {
	if d == nil || get == nil {
		return
	}
	d.retained = get
}

// BalanceOf returns the account's current share balance.
func (d *DebtShare) BalanceOf(account string) (*big.Int, error) {
	if d == nil || d.state == nil {
		return nil, errNilState
	}
	v, err := d.state.ShareBalanceGet(account)
	if err != nil {
		return nil, err
	}
	return fixed.Set(v), nil
}

// TotalSupply returns the current share total.
func (d *DebtShare) TotalSupply() (*big.Int, error) {
	if d == nil || d.state == nil {
		return nil, errNilState
	}
	v, err := d.state.ShareTotalGet()
	if err != nil {
		return nil, err
	}
	return fixed.Set(v), nil
}

// MintShare credits shares to an account. Issuer only.
func (d *DebtShare) MintShare(role common.Role, account string, amount *big.Int) error {
	if err := common.RequireOneOf(role, common.ErrOnlyIssuer, common.RoleIssuer); err != nil {
		return err
	}
	if d == nil || d.state == nil {
		return errNilState
	}
	balance, err := d.state.ShareBalanceGet(account)
	if err != nil {
		return err
	}
	if err := d.state.ShareBalancePut(account, new(big.Int).Add(fixed.Set(balance), amount)); err != nil {
		return err
	}
	total, err := d.state.ShareTotalGet()
	if err != nil {
		return err
	}
	return d.state.ShareTotalPut(new(big.Int).Add(fixed.Set(total), amount))
}

// BurnShare debits shares from an account. Issuer only.
func (d *DebtShare) BurnShare(role common.Role, account string, amount *big.Int) error {
	if err := common.RequireOneOf(role, common.ErrOnlyIssuer, common.RoleIssuer); err != nil {
		return err
	}
	if d == nil || d.state == nil {
		return errNilState
	}
	balance, err := d.state.ShareBalanceGet(account)
	if err != nil {
		return err
	}
	if fixed.Set(balance).Cmp(amount) < 0 {
		return errInsufficientShares
	}
	if err := d.state.ShareBalancePut(account, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	total, err := d.state.ShareTotalGet()
	if err != nil {
		return err
	}
	return d.state.ShareTotalPut(new(big.Int).Sub(fixed.Set(total), amount))
}

// TransferFrom force-moves shares between accounts. Shares are otherwise
// non-transferable: only the broker holds this permission, modelled as an
// explicit role rather than an allowance sentinel.
func (d *DebtShare) TransferFrom(role common.Role, from, to string, amount *big.Int) error {
	if err := common.RequireOneOf(role, common.ErrOnlyBroker, common.RoleBroker); err != nil {
		return err
	}
	if d == nil || d.state == nil {
		return errNilState
	}
	fromBalance, err := d.state.ShareBalanceGet(from)
	if err != nil {
		return err
	}
	if fixed.Set(fromBalance).Cmp(amount) < 0 {
		return errTransferExceeds
	}
	if err := d.state.ShareBalancePut(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := d.state.ShareBalanceGet(to)
	if err != nil {
		return err
	}
	return d.state.ShareBalancePut(to, new(big.Int).Add(fixed.Set(toBalance), amount))
}

// TakeSnapshot freezes the current balances under the given period id and
// prunes snapshots that fall out of the retained window.
func (d *DebtShare) TakeSnapshot(role common.Role, period uint64) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if d == nil || d.state == nil {
		return errNilState
	}
	holders, err := d.state.ShareHolders()
	if err != nil {
		return err
	}
	balances := make(map[string]*big.Int, len(holders))
	for _, account := range holders {
		v, err := d.state.ShareBalanceGet(account)
		if err != nil {
			return err
		}
		if fixed.IsZero(v) {
			continue
		}
		balances[account] = fixed.Set(v)
	}
	total, err := d.state.ShareTotalGet()
	if err != nil {
		return err
	}
	snap := ShareSnapshot{Period: period, Balances: balances, Total: fixed.Set(total)}
	if err := d.state.ShareSnapshotPut(snap); err != nil {
		return err
	}
	if err := d.prune(); err != nil {
		return err
	}
	d.emitter.Emit(events.DebtShareSnapshot{Period: period, Total: fixed.Set(total)})
	return nil
}

func (d *DebtShare) prune() error {
	keep, err := d.retained()
	if err != nil {
		return err
	}
	periods, err := d.state.ShareSnapshotPeriods()
	if err != nil {
		return err
	}
	if len(periods) <= keep {
		return nil
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
	for _, p := range periods[:len(periods)-keep] {
		if err := d.state.ShareSnapshotDelete(p); err != nil {
			return err
		}
	}
	return nil
}

func (d *DebtShare) snapshot(period uint64) (ShareSnapshot, error) {
	if d == nil || d.state == nil {
		return ShareSnapshot{}, errNilState
	}
	snap, ok, err := d.state.ShareSnapshotGet(period)
	if err != nil {
		return ShareSnapshot{}, err
	}
	if !ok {
		return ShareSnapshot{}, errNotInHistory
	}
	return snap, nil
}

// BalanceOfOnPeriod returns the account's balance in a retained snapshot.
// Periods outside the window fail rather than reading as zero.
func (d *DebtShare) BalanceOfOnPeriod(account string, period uint64) (*big.Int, error) {
	snap, err := d.snapshot(period)
	if err != nil {
		return nil, err
	}
	if v, ok := snap.Balances[account]; ok {
		return fixed.Set(v), nil
	}
	return big.NewInt(0), nil
}

// TotalSupplyOnPeriod returns the share total in a retained snapshot.
func (d *DebtShare) TotalSupplyOnPeriod(period uint64) (*big.Int, error) {
	snap, err := d.snapshot(period)
	if err != nil {
		return nil, err
	}
	return fixed.Set(snap.Total), nil
}

// SharePercentOnPeriod is the account's fraction of the snapshot total, 18dp.
func (d *DebtShare) SharePercentOnPeriod(account string, period uint64) (*big.Int, error) {
	snap, err := d.snapshot(period)
	if err != nil {
		return nil, err
	}
	balance := snap.Balances[account]
	return fixed.DivUnit(fixed.Set(balance), snap.Total), nil
}
