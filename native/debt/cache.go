// Package debt maintains the cached view of total system debt. Hot paths
// (transfer locks, c-ratio checks) read the cache; issue, burn, exchange and
// settle push incremental per-currency updates into it; a full snapshot
// resynchronises it against live rates.
package debt

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/events"
	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

var (
	errNilState         = errors.New("debt cache: state not configured")
	errLengthMismatch   = errors.New("Input array length mismatch")
	errAlreadyImported  = errors.New("debt cache: excluded debts already imported")
	errNoPreviousPynths = errors.New("debt cache: previous issuer has no pynths")
	errNegativeExcluded = errors.New("debt cache: excluded debt cannot become negative")
	errPynthStillActive = errors.New("debt cache: currency still active")
)

// GlobalRecord is the persisted cache header.
type GlobalRecord struct {
	Debt      *big.Int  `json:"debt"`
	Timestamp time.Time `json:"timestamp"`
	Invalid   bool      `json:"invalid"`
	Imported  bool      `json:"imported"`
}

type cacheState interface {
	DebtEntryGet(key types.CurrencyKey) (*big.Int, bool, error)
	DebtEntryPut(key types.CurrencyKey, value *big.Int) error
	DebtEntryDelete(key types.CurrencyKey) error
	DebtGlobalGet() (GlobalRecord, bool, error)
	DebtGlobalPut(rec GlobalRecord) error
	DebtExcludedGet(key types.CurrencyKey) (*big.Int, bool, error)
	DebtExcludedPut(key types.CurrencyKey, value *big.Int) error
	DebtExcludedAll() (map[types.CurrencyKey]*big.Int, error)
}

// SupplySource exposes the active pynth set and per-currency total supplies,
// provided by the issuer's registry.
type SupplySource interface {
	ActivePynths() ([]types.CurrencyKey, error)
	TotalSupply(key types.CurrencyKey) (*big.Int, error)
}

// RateSource is the slice of the rates engine the cache values supplies with.
type RateSource interface {
	RateForCurrency(key types.CurrencyKey) (*big.Int, error)
	AnyRateIsInvalid(keys []types.CurrencyKey) (bool, error)
}

// DiscountSource supplies the per-currency dynamic-redeemer discount rate.
type DiscountSource interface {
	DiscountRate(key types.CurrencyKey) (*big.Int, error)
	DebtSnapshotStaleTime() (time.Duration, error)
}

// CollateralSource reports the combined loan debt carried by the collateral
// engines. That debt is not backed by staked collateral, so the cache
// subtracts it from the pynth-supply valuation.
type CollateralSource interface {
	TotalLongAndShort() (*big.Int, bool, error)
}

// FuturesSource reports externally tracked futures-market debt. Optional.
type FuturesSource interface {
	FuturesDebt() (*big.Int, bool, error)
}

// Cache is the debt cache engine.
type Cache struct {
	state      cacheState
	supplies   SupplySource
	rates      RateSource
	settings   DiscountSource
	collateral CollateralSource
	futures    FuturesSource
	status     *common.Status
	emitter    events.Emitter
	nowFn      func() time.Time
}

// NewCache constructs a debt cache over the supplied state backend.
func NewCache(state cacheState) *Cache {
	return &Cache{
		state:   state,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetSupplySource wires the pynth registry.
func (c *Cache) SetSupplySource(s SupplySource) {
	if c == nil || s == nil {
		return
	}
	c.supplies = s
}

// SetRateSource wires the rates engine.
func (c *Cache) SetRateSource(r RateSource) {
	if c == nil || r == nil {
		return
	}
	c.rates = r
}

// SetSettings wires the settings store.
func (c *Cache) SetSettings(s DiscountSource) {
	if c == nil || s == nil {
		return
	}
	c.settings = s
}

// SetCollateralSource wires the collateral manager totals.
func (c *Cache) SetCollateralSource(s CollateralSource) {
	if c == nil || s == nil {
		return
	}
	c.collateral = s
}

// SetFuturesSource wires the futures debt reporter.
func (c *Cache) SetFuturesSource(s FuturesSource) {
	if c == nil || s == nil {
		return
	}
	c.futures = s
}

// SetStatus wires the suspension registry.
func (c *Cache) SetStatus(s *common.Status) {
	if c == nil || s == nil {
		return
	}
	c.status = s
}

// SetEmitter wires the event emitter.
func (c *Cache) SetEmitter(em events.Emitter) {
	if c == nil || em == nil {
		return
	}
	c.emitter = em
}

// SetClock overrides the time source.
func (c *Cache) SetClock(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.nowFn = now
}

func (c *Cache) ready() error {
	if c == nil || c.state == nil || c.supplies == nil || c.rates == nil || c.settings == nil {
		return errNilState
	}
	return nil
}

// valueOf prices one currency's full supply in quote terms, discounted.
func (c *Cache) valueOf(key types.CurrencyKey, rate *big.Int) (*big.Int, error) {
	supply, err := c.supplies.TotalSupply(key)
	if err != nil {
		return nil, err
	}
	discount, err := c.settings.DiscountRate(key)
	if err != nil {
		return nil, err
	}
	return fixed.MulUnit(fixed.MulUnit(supply, rate), discount), nil
}

func (c *Cache) excludedTotal() (*big.Int, error) {
	total := big.NewInt(0)
	excluded, err := c.state.DebtExcludedAll()
	if err != nil {
		return nil, err
	}
	for _, v := range excluded {
		total.Add(total, v)
	}
	return total, nil
}

func (c *Cache) nonPynthDebt() (*big.Int, bool, error) {
	total := big.NewInt(0)
	invalid := false
	if c.futures != nil {
		f, finvalid, err := c.futures.FuturesDebt()
		if err != nil {
			return nil, false, err
		}
		total.Add(total, f)
		invalid = invalid || finvalid
	}
	return total, invalid, nil
}

// CurrentDebt recomputes total system debt from live rates: the discounted
// value of every pynth supply, plus futures debt, minus debt that is not
// backed by staked collateral (loan positions and imported exclusions). The
// second return reports whether any contributing rate was invalid.
func (c *Cache) CurrentDebt() (*big.Int, bool, error) {
	if err := c.ready(); err != nil {
		return nil, true, err
	}
	keys, err := c.supplies.ActivePynths()
	if err != nil {
		return nil, true, err
	}
	total := big.NewInt(0)
	for _, key := range keys {
		rate, err := c.rates.RateForCurrency(key)
		if err != nil {
			return nil, true, err
		}
		v, err := c.valueOf(key, rate)
		if err != nil {
			return nil, true, err
		}
		total.Add(total, v)
	}
	invalid, err := c.rates.AnyRateIsInvalid(keys)
	if err != nil {
		return nil, true, err
	}
	extra, extraInvalid, err := c.nonPynthDebt()
	if err != nil {
		return nil, true, err
	}
	total.Add(total, extra)
	invalid = invalid || extraInvalid

	if c.collateral != nil {
		loans, loansInvalid, err := c.collateral.TotalLongAndShort()
		if err != nil {
			return nil, true, err
		}
		total.Sub(total, loans)
		invalid = invalid || loansInvalid
	}
	excluded, err := c.excludedTotal()
	if err != nil {
		return nil, true, err
	}
	total.Sub(total, excluded)
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
	return total, invalid, nil
}

// TakeDebtSnapshot performs a full resynchronisation of the cache from live
// rates. Anyone may snapshot while the system is running; during a suspension
// only the owner can, so incident response is never blocked.
func (c *Cache) TakeDebtSnapshot(role common.Role) error {
	if err := c.ready(); err != nil {
		return err
	}
	if c.status != nil && c.status.IsSystemSuspended() {
		if err := common.RequireOwner(role); err != nil {
			return err
		}
	}
	keys, err := c.supplies.ActivePynths()
	if err != nil {
		return err
	}
	for _, key := range keys {
		rate, err := c.rates.RateForCurrency(key)
		if err != nil {
			return err
		}
		v, err := c.valueOf(key, rate)
		if err != nil {
			return err
		}
		if err := c.state.DebtEntryPut(key, v); err != nil {
			return err
		}
	}
	debt, invalid, err := c.CurrentDebt()
	if err != nil {
		return err
	}
	prev, _, err := c.state.DebtGlobalGet()
	if err != nil {
		return err
	}
	now := c.nowFn()
	rec := GlobalRecord{
		Debt:      debt,
		Timestamp: now,
		Invalid:   invalid,
		Imported:  prev.Imported,
	}
	if err := c.state.DebtGlobalPut(rec); err != nil {
		return err
	}
	c.emitter.Emit(events.DebtSnapshotTaken{Debt: fixed.Set(debt), Invalid: invalid, Timestamp: now})
	if prev.Invalid != invalid {
		c.emitter.Emit(events.DebtCacheValidityChanged{Invalid: invalid})
	}
	return nil
}

// CacheInfo returns the cached debt, its timestamp, the invalid flag and
// whether the snapshot has aged past the configured staleness window. Stale
// and invalid are orthogonal.
func (c *Cache) CacheInfo() (*big.Int, time.Time, bool, bool, error) {
	if err := c.ready(); err != nil {
		return nil, time.Time{}, true, true, err
	}
	rec, ok, err := c.state.DebtGlobalGet()
	if err != nil {
		return nil, time.Time{}, true, true, err
	}
	if !ok {
		return big.NewInt(0), time.Time{}, true, true, nil
	}
	staleTime, err := c.settings.DebtSnapshotStaleTime()
	if err != nil {
		return nil, time.Time{}, true, true, err
	}
	stale := c.nowFn().Sub(rec.Timestamp) > staleTime
	return fixed.Set(rec.Debt), rec.Timestamp, rec.Invalid, stale, nil
}

// CachedDebt returns just the cached global figure.
func (c *Cache) CachedDebt() (*big.Int, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	rec, _, err := c.state.DebtGlobalGet()
	if err != nil {
		return nil, err
	}
	return fixed.Set(rec.Debt), nil
}

// CachedPynthDebt returns one currency's cached contribution.
func (c *Cache) CachedPynthDebt(key types.CurrencyKey) (*big.Int, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	v, _, err := c.state.DebtEntryGet(key)
	if err != nil {
		return nil, err
	}
	return fixed.Set(v), nil
}

// applyEntry replaces one currency's cached value and folds the delta into
// the global total. Returns the updated global record unpersisted.
func (c *Cache) applyEntry(rec *GlobalRecord, key types.CurrencyKey, value *big.Int) error {
	prev, _, err := c.state.DebtEntryGet(key)
	if err != nil {
		return err
	}
	if err := c.state.DebtEntryPut(key, fixed.Set(value)); err != nil {
		return err
	}
	if rec.Debt == nil {
		rec.Debt = big.NewInt(0)
	}
	rec.Debt = new(big.Int).Add(rec.Debt, new(big.Int).Sub(value, fixed.Set(prev)))
	if rec.Debt.Sign() < 0 {
		rec.Debt.SetInt64(0)
	}
	return nil
}

// UpdateCachedPynthDebtWithRate is the issuer's incremental update for a
// single currency after issue or burn.
func (c *Cache) UpdateCachedPynthDebtWithRate(role common.Role, key types.CurrencyKey, rate *big.Int) error {
	if err := common.RequireOneOf(role, common.ErrOnlyIssuer, common.RoleIssuer); err != nil {
		return err
	}
	return c.updateCachedDebts([]types.CurrencyKey{key}, []*big.Int{rate})
}

// UpdateCachedPynthDebtsWithRates is the multi-currency incremental update
// used after exchanges and settlements. A partial update can only invalidate
// the cache, never revalidate it.
func (c *Cache) UpdateCachedPynthDebtsWithRates(role common.Role, keys []types.CurrencyKey, newRates []*big.Int) error {
	if err := common.RequireOneOf(role, common.ErrOnlyIssuerOrExchanger, common.RoleIssuer, common.RoleExchanger); err != nil {
		return err
	}
	return c.updateCachedDebts(keys, newRates)
}

func (c *Cache) updateCachedDebts(keys []types.CurrencyKey, newRates []*big.Int) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(keys) != len(newRates) {
		return errLengthMismatch
	}
	rec, _, err := c.state.DebtGlobalGet()
	if err != nil {
		return err
	}
	for i, key := range keys {
		v, err := c.valueOf(key, newRates[i])
		if err != nil {
			return err
		}
		if err := c.applyEntry(&rec, key, v); err != nil {
			return err
		}
	}
	invalid, err := c.rates.AnyRateIsInvalid(keys)
	if err != nil {
		return err
	}
	if invalid && !rec.Invalid {
		rec.Invalid = true
		c.emitter.Emit(events.DebtCacheValidityChanged{Invalid: true})
	}
	return c.state.DebtGlobalPut(rec)
}

// UpdateCachedPUSDDebt applies a signed delta for pUSD minted or burned
// outside the exchange path, e.g. debt migration.
func (c *Cache) UpdateCachedPUSDDebt(role common.Role, delta *big.Int) error {
	if err := common.RequireOneOf(role, common.ErrOnlyIssuer, common.RoleIssuer, common.RoleOwner); err != nil {
		return err
	}
	if err := c.ready(); err != nil {
		return err
	}
	if delta == nil {
		return nil
	}
	prev, _, err := c.state.DebtEntryGet(types.PUSD)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(fixed.Set(prev), delta)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	rec, _, err := c.state.DebtGlobalGet()
	if err != nil {
		return err
	}
	if err := c.applyEntry(&rec, types.PUSD, next); err != nil {
		return err
	}
	return c.state.DebtGlobalPut(rec)
}

// RecordExcludedDebtChange adjusts one currency's excluded debt by a signed
// delta, rejecting any change that would drive it negative.
func (c *Cache) RecordExcludedDebtChange(role common.Role, key types.CurrencyKey, delta *big.Int) error {
	if err := common.RequireOneOf(role, common.ErrOnlyCollateral, common.RoleCollateral, common.RoleOwner); err != nil {
		return err
	}
	if err := c.ready(); err != nil {
		return err
	}
	prev, _, err := c.state.DebtExcludedGet(key)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(fixed.Set(prev), fixed.Set(delta))
	if next.Sign() < 0 {
		return errNegativeExcluded
	}
	return c.state.DebtExcludedPut(key, next)
}

// ExcludedIssuedDebt returns one currency's excluded figure.
func (c *Cache) ExcludedIssuedDebt(key types.CurrencyKey) (*big.Int, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	v, _, err := c.state.DebtExcludedGet(key)
	if err != nil {
		return nil, err
	}
	return fixed.Set(v), nil
}

// ImportExcludedIssuedDebts seeds the excluded-debt table from a previous
// deployment. It may run exactly once, and only when the previous issuer
// actually carried pynths; a second attempt is a hard failure so operator
// mistakes surface.
func (c *Cache) ImportExcludedIssuedDebts(role common.Role, keys []types.CurrencyKey, values []*big.Int, previousPynths []types.CurrencyKey) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if err := c.ready(); err != nil {
		return err
	}
	if len(keys) != len(values) {
		return errLengthMismatch
	}
	if len(previousPynths) == 0 {
		return errNoPreviousPynths
	}
	rec, _, err := c.state.DebtGlobalGet()
	if err != nil {
		return err
	}
	if rec.Imported {
		return errAlreadyImported
	}
	for i, key := range keys {
		if values[i] == nil || values[i].Sign() < 0 {
			return fmt.Errorf("debt cache: invalid excluded debt for %s", key)
		}
		if err := c.state.DebtExcludedPut(key, fixed.Set(values[i])); err != nil {
			return err
		}
	}
	rec.Imported = true
	return c.state.DebtGlobalPut(rec)
}

// PurgeCachedPynthDebt drops the cached entry for a currency that has been
// retired from the active set.
func (c *Cache) PurgeCachedPynthDebt(role common.Role, key types.CurrencyKey) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if err := c.ready(); err != nil {
		return err
	}
	active, err := c.supplies.ActivePynths()
	if err != nil {
		return err
	}
	for _, k := range active {
		if k == key {
			return errPynthStillActive
		}
	}
	prev, ok, err := c.state.DebtEntryGet(key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	rec, _, err := c.state.DebtGlobalGet()
	if err != nil {
		return err
	}
	if rec.Debt != nil {
		rec.Debt = new(big.Int).Sub(rec.Debt, fixed.Set(prev))
		if rec.Debt.Sign() < 0 {
			rec.Debt.SetInt64(0)
		}
	}
	if err := c.state.DebtEntryDelete(key); err != nil {
		return err
	}
	return c.state.DebtGlobalPut(rec)
}

// AddPynth invalidates the cache when the issuer registers a currency.
// Topology changes are never assumed debt-neutral.
func (c *Cache) AddPynth(role common.Role, key types.CurrencyKey) error {
	if err := common.RequireOneOf(role, common.ErrOnlyIssuer, common.RoleIssuer, common.RoleOwner); err != nil {
		return err
	}
	return c.invalidate()
}

// RemovePynth zeroes the departing currency's cached entry, subtracts it from
// the global total and invalidates the cache.
func (c *Cache) RemovePynth(role common.Role, key types.CurrencyKey) error {
	if err := common.RequireOneOf(role, common.ErrOnlyIssuer, common.RoleIssuer, common.RoleOwner); err != nil {
		return err
	}
	if err := c.ready(); err != nil {
		return err
	}
	rec, _, err := c.state.DebtGlobalGet()
	if err != nil {
		return err
	}
	if err := c.applyEntry(&rec, key, big.NewInt(0)); err != nil {
		return err
	}
	if !rec.Invalid {
		rec.Invalid = true
		c.emitter.Emit(events.DebtCacheValidityChanged{Invalid: true})
	}
	return c.state.DebtGlobalPut(rec)
}

func (c *Cache) invalidate() error {
	if err := c.ready(); err != nil {
		return err
	}
	rec, _, err := c.state.DebtGlobalGet()
	if err != nil {
		return err
	}
	if rec.Invalid {
		return nil
	}
	rec.Invalid = true
	c.emitter.Emit(events.DebtCacheValidityChanged{Invalid: true})
	return c.state.DebtGlobalPut(rec)
}
