// Package collateral implements the over-collateralised loan tier: a manager
// holding the registries and aggregate long/short books that the debt cache
// reads, and the loan engines (ETH, ERC-20 and short variants) that mint and
// burn against it.
package collateral

import (
	"errors"
	"math/big"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

var (
	errNilState       = errors.New("collateral: state not configured")
	errLengthMismatch = errors.New("Input array length mismatch")
	errDebtLimit      = errors.New("Debt limit or invalid rate")
	errNegativeBook   = errors.New("collateral: decrement exceeds recorded amount")
	errNotShortable   = errors.New("collateral: currency is not shortable")
	errNotManaged     = errors.New("collateral: currency is not managed")
)

type managerState interface {
	CollateralRegistryGet() ([]string, error)
	CollateralRegistryPut(names []string) error
	ManagedPynthsGet() ([]types.CurrencyKey, error)
	ManagedPynthsPut(keys []types.CurrencyKey) error
	ShortablePynthsGet() ([]types.CurrencyKey, error)
	ShortablePynthsPut(keys []types.CurrencyKey) error
	LongBookGet(key types.CurrencyKey) (*big.Int, error)
	LongBookAdjust(key types.CurrencyKey, delta *big.Int) error
	ShortBookGet(key types.CurrencyKey) (*big.Int, error)
	ShortBookAdjust(key types.CurrencyKey, delta *big.Int) error
	BorrowRateGet() (*big.Int, error)
	BorrowRatePut(rate *big.Int) error
	ShortRateGet(key types.CurrencyKey) (*big.Int, error)
	ShortRatePut(key types.CurrencyKey, rate *big.Int) error
}

// RateSource is the slice of the rates engine the manager consumes.
type RateSource interface {
	RateForCurrency(key types.CurrencyKey) (*big.Int, error)
	AnyRateIsInvalid(keys []types.CurrencyKey) (bool, error)
}

// SettingsSource supplies the loan-tier tunables.
type SettingsSource interface {
	MaxCollateralDebt() (*big.Int, error)
	InteractionDelay() (time.Duration, error)
}

// Manager is the single aggregate view over every registered collateral
// engine: which engines exist, which pynths they may issue or short, the
// per-currency long/short books and the accrual rates.
type Manager struct {
	state    managerState
	rates    RateSource
	settings SettingsSource
}

// NewManager constructs a manager over the supplied state backend.
func NewManager(state managerState) *Manager {
	return &Manager{state: state}
}

// SetRateSource wires the rates engine.
func (m *Manager) SetRateSource(r RateSource) {
	if m == nil || r == nil {
		return
	}
	m.rates = r
}

// SetSettings wires the settings store.
func (m *Manager) SetSettings(s SettingsSource) {
	if m == nil || s == nil {
		return
	}
	m.settings = s
}

func (m *Manager) ready() error {
	if m == nil || m.state == nil || m.rates == nil || m.settings == nil {
		return errNilState
	}
	return nil
}

// AddCollaterals registers loan engines by name. Duplicate adds are no-ops.
func (m *Manager) AddCollaterals(role common.Role, names []string) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if err := m.ready(); err != nil {
		return err
	}
	existing, err := m.state.CollateralRegistryGet()
	if err != nil {
		return err
	}
	for _, name := range names {
		if containsString(existing, name) {
			continue
		}
		existing = append(existing, name)
	}
	return m.state.CollateralRegistryPut(existing)
}

// RemoveCollaterals unregisters loan engines by name.
func (m *Manager) RemoveCollaterals(role common.Role, names []string) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if err := m.ready(); err != nil {
		return err
	}
	existing, err := m.state.CollateralRegistryGet()
	if err != nil {
		return err
	}
	kept := existing[:0]
	for _, name := range existing {
		if containsString(names, name) {
			continue
		}
		kept = append(kept, name)
	}
	return m.state.CollateralRegistryPut(kept)
}

// HasCollateral reports whether an engine name is registered.
func (m *Manager) HasCollateral(name string) (bool, error) {
	if m == nil || m.state == nil {
		return false, errNilState
	}
	existing, err := m.state.CollateralRegistryGet()
	if err != nil {
		return false, err
	}
	return containsString(existing, name), nil
}

// AddPynths registers borrowable currencies. The names and keys arrays are
// paired and must match in length; duplicate keys are no-ops.
func (m *Manager) AddPynths(role common.Role, names []string, keys []types.CurrencyKey) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if err := m.ready(); err != nil {
		return err
	}
	if len(names) != len(keys) {
		return errLengthMismatch
	}
	existing, err := m.state.ManagedPynthsGet()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if containsKey(existing, key) {
			continue
		}
		existing = append(existing, key)
	}
	return m.state.ManagedPynthsPut(existing)
}

// RemovePynths unregisters borrowable currencies.
func (m *Manager) RemovePynths(role common.Role, names []string, keys []types.CurrencyKey) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if err := m.ready(); err != nil {
		return err
	}
	if len(names) != len(keys) {
		return errLengthMismatch
	}
	existing, err := m.state.ManagedPynthsGet()
	if err != nil {
		return err
	}
	kept := existing[:0]
	for _, key := range existing {
		if containsKey(keys, key) {
			continue
		}
		kept = append(kept, key)
	}
	return m.state.ManagedPynthsPut(kept)
}

// AddShortablePynths registers currencies that short engines may open against.
func (m *Manager) AddShortablePynths(role common.Role, names []string, keys []types.CurrencyKey) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if err := m.ready(); err != nil {
		return err
	}
	if len(names) != len(keys) {
		return errLengthMismatch
	}
	existing, err := m.state.ShortablePynthsGet()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if containsKey(existing, key) {
			continue
		}
		existing = append(existing, key)
	}
	return m.state.ShortablePynthsPut(existing)
}

// RemoveShortablePynths unregisters shortable currencies.
func (m *Manager) RemoveShortablePynths(role common.Role, names []string, keys []types.CurrencyKey) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if err := m.ready(); err != nil {
		return err
	}
	if len(names) != len(keys) {
		return errLengthMismatch
	}
	existing, err := m.state.ShortablePynthsGet()
	if err != nil {
		return err
	}
	kept := existing[:0]
	for _, key := range existing {
		if containsKey(keys, key) {
			continue
		}
		kept = append(kept, key)
	}
	return m.state.ShortablePynthsPut(kept)
}

// IsPynthManaged reports whether a currency is registered as borrowable.
func (m *Manager) IsPynthManaged(key types.CurrencyKey) (bool, error) {
	existing, err := m.state.ManagedPynthsGet()
	if err != nil {
		return false, err
	}
	return containsKey(existing, key), nil
}

// IsPynthShortable reports whether a currency is registered as shortable.
func (m *Manager) IsPynthShortable(key types.CurrencyKey) (bool, error) {
	existing, err := m.state.ShortablePynthsGet()
	if err != nil {
		return false, err
	}
	return containsKey(existing, key), nil
}

// Long values the outstanding long book of one currency in quote terms.
func (m *Manager) Long(key types.CurrencyKey) (*big.Int, bool, error) {
	if err := m.ready(); err != nil {
		return nil, true, err
	}
	amount, err := m.state.LongBookGet(key)
	if err != nil {
		return nil, true, err
	}
	return m.value(key, amount)
}

// Short values the outstanding short book of one currency in quote terms.
func (m *Manager) Short(key types.CurrencyKey) (*big.Int, bool, error) {
	if err := m.ready(); err != nil {
		return nil, true, err
	}
	amount, err := m.state.ShortBookGet(key)
	if err != nil {
		return nil, true, err
	}
	return m.value(key, amount)
}

func (m *Manager) value(key types.CurrencyKey, amount *big.Int) (*big.Int, bool, error) {
	rate, err := m.rates.RateForCurrency(key)
	if err != nil {
		return nil, true, err
	}
	invalid, err := m.rates.AnyRateIsInvalid([]types.CurrencyKey{key})
	if err != nil {
		return nil, true, err
	}
	return fixed.MulUnit(amount, rate), invalid, nil
}

// TotalLong values the entire long book across managed currencies.
func (m *Manager) TotalLong() (*big.Int, bool, error) {
	keys, err := m.state.ManagedPynthsGet()
	if err != nil {
		return nil, true, err
	}
	return m.sumBooks(keys, m.Long)
}

// TotalShort values the entire short book across shortable currencies.
func (m *Manager) TotalShort() (*big.Int, bool, error) {
	keys, err := m.state.ShortablePynthsGet()
	if err != nil {
		return nil, true, err
	}
	return m.sumBooks(keys, m.Short)
}

func (m *Manager) sumBooks(keys []types.CurrencyKey, book func(types.CurrencyKey) (*big.Int, bool, error)) (*big.Int, bool, error) {
	total := big.NewInt(0)
	anyInvalid := false
	for _, key := range keys {
		value, invalid, err := book(key)
		if err != nil {
			return nil, true, err
		}
		total.Add(total, value)
		anyInvalid = anyInvalid || invalid
	}
	return total, anyInvalid, nil
}

// TotalLongAndShort is the combined loan debt the debt cache subtracts from
// the pynth supply total.
func (m *Manager) TotalLongAndShort() (*big.Int, bool, error) {
	long, longInvalid, err := m.TotalLong()
	if err != nil {
		return nil, true, err
	}
	short, shortInvalid, err := m.TotalShort()
	if err != nil {
		return nil, true, err
	}
	return new(big.Int).Add(long, short), longInvalid || shortInvalid, nil
}

// ExceedsDebtLimit reports whether issuing amount of the given currency would
// push the combined book over the configured ceiling, and whether any rate
// involved was invalid. Callers reject on either.
func (m *Manager) ExceedsDebtLimit(amount *big.Int, key types.CurrencyKey) (bool, bool, error) {
	if err := m.ready(); err != nil {
		return true, true, err
	}
	value, invalid, err := m.value(key, amount)
	if err != nil {
		return true, true, err
	}
	total, totalInvalid, err := m.TotalLongAndShort()
	if err != nil {
		return true, true, err
	}
	maxDebt, err := m.settings.MaxCollateralDebt()
	if err != nil {
		return true, true, err
	}
	exceeds := new(big.Int).Add(total, value).Cmp(maxDebt) > 0
	return exceeds, invalid || totalInvalid, nil
}

// IncrementLongs grows a currency's long book. Only registered collateral
// engines may move the books; not even the owner can.
func (m *Manager) IncrementLongs(role common.Role, key types.CurrencyKey, amount *big.Int) error {
	if err := m.requireCollateral(role); err != nil {
		return err
	}
	if ok, err := m.IsPynthManaged(key); err != nil {
		return err
	} else if !ok {
		return errNotManaged
	}
	return m.state.LongBookAdjust(key, fixed.Set(amount))
}

// DecrementLongs shrinks a currency's long book.
func (m *Manager) DecrementLongs(role common.Role, key types.CurrencyKey, amount *big.Int) error {
	if err := m.requireCollateral(role); err != nil {
		return err
	}
	current, err := m.state.LongBookGet(key)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return errNegativeBook
	}
	return m.state.LongBookAdjust(key, new(big.Int).Neg(amount))
}

// IncrementShorts grows a currency's short book.
func (m *Manager) IncrementShorts(role common.Role, key types.CurrencyKey, amount *big.Int) error {
	if err := m.requireCollateral(role); err != nil {
		return err
	}
	if ok, err := m.IsPynthShortable(key); err != nil {
		return err
	} else if !ok {
		return errNotShortable
	}
	return m.state.ShortBookAdjust(key, fixed.Set(amount))
}

// DecrementShorts shrinks a currency's short book.
func (m *Manager) DecrementShorts(role common.Role, key types.CurrencyKey, amount *big.Int) error {
	if err := m.requireCollateral(role); err != nil {
		return err
	}
	current, err := m.state.ShortBookGet(key)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return errNegativeBook
	}
	return m.state.ShortBookAdjust(key, new(big.Int).Neg(amount))
}

// UpdateBorrowRate stores the per-second borrow accrual rate.
func (m *Manager) UpdateBorrowRate(role common.Role, rate *big.Int) error {
	if err := m.requireCollateral(role); err != nil {
		return err
	}
	return m.state.BorrowRatePut(fixed.Set(rate))
}

// UpdateShortRate stores the per-second short accrual rate for one currency.
func (m *Manager) UpdateShortRate(role common.Role, key types.CurrencyKey, rate *big.Int) error {
	if err := m.requireCollateral(role); err != nil {
		return err
	}
	return m.state.ShortRatePut(key, fixed.Set(rate))
}

// BorrowRate returns the per-second borrow accrual rate.
func (m *Manager) BorrowRate() (*big.Int, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	return m.state.BorrowRateGet()
}

// ShortRate returns the per-second short accrual rate for one currency.
func (m *Manager) ShortRate(key types.CurrencyKey) (*big.Int, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	return m.state.ShortRateGet(key)
}

// InteractionDelay exposes the configured loan throttle to the engines.
func (m *Manager) InteractionDelay() (time.Duration, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	return m.settings.InteractionDelay()
}

func (m *Manager) requireCollateral(role common.Role) error {
	if err := m.ready(); err != nil {
		return err
	}
	return common.RequireOneOf(role, common.ErrOnlyCollateral, common.RoleCollateral)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsKey(haystack []types.CurrencyKey, needle types.CurrencyKey) bool {
	for _, k := range haystack {
		if k == needle {
			return true
		}
	}
	return false
}
