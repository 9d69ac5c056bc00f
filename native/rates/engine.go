// Package rates is the single source of truth for what one unit of any
// currency is worth in the quote currency, with staleness and
// manipulation-resistance guarantees. Every accepted update advances a
// per-currency round sequence that the settlement engine replays.
package rates

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/events"
	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

var (
	errNilState        = errors.New("rates engine: state not configured")
	errKeyRateMismatch = errors.New("Currency key array length must match rates array length")
	errQuoteRate       = errors.New("Rate of pUSD cannot be updated, it's always UNIT")
	errZeroRate        = errors.New("Zero is not a valid rate, please call deleteRate instead")
	errFutureTimestamp = errors.New("Time is too far into the future")
	errNoRateToDelete  = errors.New("rates engine: no rate to delete")
	errNotInverse      = errors.New("Cannot freeze non-inverse rate")
	errAlreadyFrozen   = errors.New("The rate is already frozen")
	errWithinBounds    = errors.New("Rate within bounds")

	errEntryPointZero = errors.New("entryPoint must be above 0")
	errLowerZero      = errors.New("lowerLimit must be above 0")
	errUpperBelow     = errors.New("upperLimit must be above the entryPoint")
	errUpperTooHigh   = errors.New("upperLimit must be less than double entryPoint")
	errLowerAbove     = errors.New("lowerLimit must be below the entryPoint")
	errBothFrozen     = errors.New("Cannot freeze at both limits")
)

// roundHistory bounds how many historical rounds remain readable per
// currency. Settlement only ever looks one round past an exchange, so a
// shallow window is sufficient.
const roundHistory = 256

type engineState interface {
	RateGet(key types.CurrencyKey) (Record, bool, error)
	RatePut(key types.CurrencyKey, rec Record) error
	RateDelete(key types.CurrencyKey) error
	RateRoundGet(key types.CurrencyKey, round uint64) (Round, bool, error)
	RateRoundPut(key types.CurrencyKey, round uint64, r Round) error
	RateRoundDelete(key types.CurrencyKey, round uint64) error
	InverseGet(key types.CurrencyKey) (InversePricing, bool, error)
	InversePut(key types.CurrencyKey, p InversePricing) error
	InverseDelete(key types.CurrencyKey) error
}

// Engine maintains the rate table. All mutation flows through UpdateRates and
// the inverse-pricing administration; everything else is a reader.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() time.Time

	stalePeriod     time.Duration
	futureTolerance time.Duration

	aggMu       sync.RWMutex
	aggregators map[types.CurrencyKey]Aggregator
}

// NewEngine constructs a rates engine over the supplied state backend.
func NewEngine(state engineState) *Engine {
	return &Engine{
		state:           state,
		emitter:         events.NoopEmitter{},
		nowFn:           time.Now,
		stalePeriod:     3 * time.Hour,
		futureTolerance: 10 * time.Minute,
		aggregators:     make(map[types.CurrencyKey]Aggregator),
	}
}

// SetEmitter wires the event emitter.
func (e *Engine) SetEmitter(em events.Emitter) {
	if e == nil || em == nil {
		return
	}
	e.emitter = em
}

// SetClock overrides the time source, used by tests and the settlement
// engine's admission checks.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// SetStalePeriod updates the staleness window, pushed from system settings.
func (e *Engine) SetStalePeriod(d time.Duration) {
	if e == nil || d <= 0 {
		return
	}
	e.stalePeriod = d
}

// SetFutureTolerance bounds how far ahead of the local clock an oracle
// timestamp may sit.
func (e *Engine) SetFutureTolerance(d time.Duration) {
	if e == nil || d <= 0 {
		return
	}
	e.futureTolerance = d
}

// SetAggregator replaces the push feed for a currency with an external
// aggregator. Passing nil removes the registration.
func (e *Engine) SetAggregator(key types.CurrencyKey, agg Aggregator) {
	if e == nil {
		return
	}
	e.aggMu.Lock()
	if agg == nil {
		delete(e.aggregators, key)
	} else {
		e.aggregators[key] = agg
	}
	e.aggMu.Unlock()
}

func (e *Engine) aggregator(key types.CurrencyKey) Aggregator {
	e.aggMu.RLock()
	defer e.aggMu.RUnlock()
	return e.aggregators[key]
}

// UpdateRates ingests an oracle batch. Updates older than the stored record
// for a key are skipped rather than rejected, so delayed batches cannot
// rewind the table.
func (e *Engine) UpdateRates(role common.Role, keys []types.CurrencyKey, newRates []*big.Int, ts time.Time) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireOneOf(role, common.ErrOnlyOracle, common.RoleOracle); err != nil {
		return err
	}
	if len(keys) != len(newRates) {
		return errKeyRateMismatch
	}
	now := e.nowFn()
	if ts.After(now.Add(e.futureTolerance)) {
		return errFutureTimestamp
	}
	for i, key := range keys {
		if key.IsQuote() {
			return errQuoteRate
		}
		if fixed.IsZero(newRates[i]) {
			return errZeroRate
		}
	}

	applied := make([]types.CurrencyKey, 0, len(keys))
	published := make([]*big.Int, 0, len(keys))
	for i, key := range keys {
		existing, ok, err := e.state.RateGet(key)
		if err != nil {
			return err
		}
		if ok && !ts.After(existing.Timestamp) {
			continue
		}
		rate, err := e.publishableRate(key, newRates[i])
		if err != nil {
			return err
		}
		round := existing.Round + 1
		if err := e.state.RateRoundPut(key, round, Round{Rate: fixed.Set(rate), Timestamp: ts}); err != nil {
			return err
		}
		if round > roundHistory {
			if err := e.state.RateRoundDelete(key, round-roundHistory); err != nil {
				return err
			}
		}
		if err := e.state.RatePut(key, Record{Rate: fixed.Set(rate), Timestamp: ts, Round: round}); err != nil {
			return err
		}
		applied = append(applied, key)
		published = append(published, fixed.Set(rate))
	}
	if len(applied) > 0 {
		e.emitter.Emit(events.RatesUpdated{Keys: applied, Rates: published, Timestamp: ts})
	}
	return nil
}

// publishableRate applies the inverse transformation when configured. The
// transformed value clamps silently into the band; a frozen pair stays pinned
// at its limit regardless of the market rate.
func (e *Engine) publishableRate(key types.CurrencyKey, market *big.Int) (*big.Int, error) {
	inv, ok, err := e.state.InverseGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return market, nil
	}
	if inv.FrozenAtUpper {
		return inv.UpperLimit, nil
	}
	if inv.FrozenAtLower {
		return inv.LowerLimit, nil
	}
	double := new(big.Int).Mul(inv.EntryPoint, big.NewInt(2))
	inverted := new(big.Int).Sub(double, market)
	return fixed.Clamp(inverted, inv.LowerLimit, inv.UpperLimit), nil
}

// DeleteRate withdraws a currency's rate. The round history is retained for
// settlement of exchanges executed before the deletion.
func (e *Engine) DeleteRate(role common.Role, key types.CurrencyKey) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireOneOf(role, common.ErrOnlyOracle, common.RoleOracle); err != nil {
		return err
	}
	if key.IsQuote() {
		return errQuoteRate
	}
	_, ok, err := e.state.RateGet(key)
	if err != nil {
		return err
	}
	if !ok {
		return errNoRateToDelete
	}
	if err := e.state.RateDelete(key); err != nil {
		return err
	}
	e.emitter.Emit(events.RateDeleted{Key: key})
	return nil
}

// readRecord resolves the effective current record for a currency, preferring
// a registered aggregator feed over the pushed table.
func (e *Engine) readRecord(key types.CurrencyKey) (Record, bool, error) {
	if key.IsQuote() {
		return Record{Rate: fixed.Unit(), Timestamp: e.nowFn()}, true, nil
	}
	stored, ok, err := e.state.RateGet(key)
	if err != nil {
		return Record{}, false, err
	}
	if agg := e.aggregator(key); agg != nil {
		rate, ts, aerr := agg.Latest()
		if aerr == nil && !fixed.IsZero(rate) {
			return Record{Rate: rate, Timestamp: ts, Round: stored.Round}, true, nil
		}
	}
	return stored, ok, nil
}

// RateForCurrency returns the current rate, zero when never set or deleted.
func (e *Engine) RateForCurrency(key types.CurrencyKey) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rec, ok, err := e.readRecord(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return fixed.Set(rec.Rate), nil
}

// RateAndUpdatedTime returns the current rate and its observation time.
func (e *Engine) RateAndUpdatedTime(key types.CurrencyKey) (*big.Int, time.Time, error) {
	if e == nil || e.state == nil {
		return nil, time.Time{}, errNilState
	}
	rec, ok, err := e.readRecord(key)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok {
		return big.NewInt(0), time.Time{}, nil
	}
	return fixed.Set(rec.Rate), rec.Timestamp, nil
}

// CurrentRound returns the latest round number for a currency; the quote
// currency has no rounds.
func (e *Engine) CurrentRound(key types.CurrencyKey) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if key.IsQuote() {
		return 0, nil
	}
	rec, _, err := e.state.RateGet(key)
	if err != nil {
		return 0, err
	}
	return rec.Round, nil
}

// RateAtRound returns the rate recorded at a specific round, zero when the
// round is unknown. Rounds past the latest resolve to the latest observation
// so that "one round later" reads settle against the freshest price. The
// quote currency is 1.0 at every round.
func (e *Engine) RateAtRound(key types.CurrencyKey, round uint64) (*big.Int, time.Time, error) {
	if e == nil || e.state == nil {
		return nil, time.Time{}, errNilState
	}
	if key.IsQuote() {
		return fixed.Unit(), e.nowFn(), nil
	}
	rec, ok, err := e.state.RateGet(key)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok && rec.Round == 0 {
		return big.NewInt(0), time.Time{}, nil
	}
	if round == 0 || round > rec.Round {
		round = rec.Round
	}
	r, ok, err := e.state.RateRoundGet(key, round)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok {
		return big.NewInt(0), time.Time{}, nil
	}
	return fixed.Set(r.Rate), r.Timestamp, nil
}

// EffectiveValue converts an amount of the source currency into the
// destination currency at current rates, zero when either rate is missing.
func (e *Engine) EffectiveValue(src types.CurrencyKey, amount *big.Int, dest types.CurrencyKey) (*big.Int, error) {
	if src == dest {
		return fixed.Set(amount), nil
	}
	srcRate, err := e.RateForCurrency(src)
	if err != nil {
		return nil, err
	}
	destRate, err := e.RateForCurrency(dest)
	if err != nil {
		return nil, err
	}
	if fixed.IsZero(srcRate) || fixed.IsZero(destRate) {
		return big.NewInt(0), nil
	}
	return fixed.DivUnit(fixed.MulUnit(amount, srcRate), destRate), nil
}

// EffectiveValueAtRounds performs the conversion against historical rounds,
// used by the reclaim/rebate computation.
func (e *Engine) EffectiveValueAtRounds(src types.CurrencyKey, amount *big.Int, dest types.CurrencyKey, srcRound, destRound uint64) (*big.Int, error) {
	srcRate, _, err := e.RateAtRound(src, srcRound)
	if err != nil {
		return nil, err
	}
	destRate, _, err := e.RateAtRound(dest, destRound)
	if err != nil {
		return nil, err
	}
	if fixed.IsZero(srcRate) || fixed.IsZero(destRate) {
		return big.NewInt(0), nil
	}
	return fixed.DivUnit(fixed.MulUnit(amount, srcRate), destRate), nil
}

// RateIsStale reports whether the currency's last observation is older than
// the stale period. The quote currency can never go stale.
func (e *Engine) RateIsStale(key types.CurrencyKey) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if key.IsQuote() {
		return false, nil
	}
	rec, ok, err := e.readRecord(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return e.nowFn().Sub(rec.Timestamp) > e.stalePeriod, nil
}

// AnyRateIsInvalid reports true when any listed currency has a missing or
// zero rate, is stale, or its aggregator source is flagged invalid. The quote
// currency is always valid.
func (e *Engine) AnyRateIsInvalid(keys []types.CurrencyKey) (bool, error) {
	if e == nil || e.state == nil {
		return true, errNilState
	}
	for _, key := range keys {
		if key.IsQuote() {
			continue
		}
		if agg := e.aggregator(key); agg != nil && agg.Invalid() {
			return true, nil
		}
		rec, ok, err := e.readRecord(key)
		if err != nil {
			return true, err
		}
		if !ok || fixed.IsZero(rec.Rate) {
			return true, nil
		}
		if e.nowFn().Sub(rec.Timestamp) > e.stalePeriod {
			return true, nil
		}
	}
	return false, nil
}

// IsInverse reports whether inverse pricing is configured for the currency.
func (e *Engine) IsInverse(key types.CurrencyKey) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	_, ok, err := e.state.InverseGet(key)
	return ok, err
}

// IsFrozen reports whether an inverse-priced currency is pinned at a limit.
func (e *Engine) IsFrozen(key types.CurrencyKey) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	inv, ok, err := e.state.InverseGet(key)
	if err != nil || !ok {
		return false, err
	}
	return inv.Frozen(), nil
}

// SetInversePricing configures (or reconfigures) the inverse band for a
// currency. Reconfiguring resets any frozen state unless an initial frozen
// side is explicitly requested.
func (e *Engine) SetInversePricing(role common.Role, key types.CurrencyKey, entryPoint, upperLimit, lowerLimit *big.Int, freezeAtUpper, freezeAtLower bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	switch {
	case fixed.IsZero(entryPoint) || entryPoint.Sign() < 0:
		return errEntryPointZero
	case fixed.IsZero(lowerLimit) || lowerLimit.Sign() < 0:
		return errLowerZero
	case upperLimit == nil || upperLimit.Cmp(entryPoint) <= 0:
		return errUpperBelow
	case upperLimit.Cmp(new(big.Int).Mul(entryPoint, big.NewInt(2))) >= 0:
		return errUpperTooHigh
	case lowerLimit.Cmp(entryPoint) >= 0:
		return errLowerAbove
	case freezeAtUpper && freezeAtLower:
		return errBothFrozen
	}
	inv := InversePricing{
		EntryPoint:    fixed.Set(entryPoint),
		UpperLimit:    fixed.Set(upperLimit),
		LowerLimit:    fixed.Set(lowerLimit),
		FrozenAtUpper: freezeAtUpper,
		FrozenAtLower: freezeAtLower,
	}
	if err := e.state.InversePut(key, inv); err != nil {
		return err
	}
	// An initially-frozen pair publishes its limit immediately.
	if inv.Frozen() {
		limit := inv.LowerLimit
		if inv.FrozenAtUpper {
			limit = inv.UpperLimit
		}
		rec, _, err := e.state.RateGet(key)
		if err != nil {
			return err
		}
		round := rec.Round + 1
		now := e.nowFn()
		if err := e.state.RateRoundPut(key, round, Round{Rate: fixed.Set(limit), Timestamp: now}); err != nil {
			return err
		}
		return e.state.RatePut(key, Record{Rate: fixed.Set(limit), Timestamp: now, Round: round})
	}
	return nil
}

// RemoveInversePricing drops the inverse configuration for a currency.
func (e *Engine) RemoveInversePricing(role common.Role, key types.CurrencyKey) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	return e.state.InverseDelete(key)
}

// CanFreezeRate reports whether a permissionless freeze would currently
// succeed.
func (e *Engine) CanFreezeRate(key types.CurrencyKey) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	inv, ok, err := e.state.InverseGet(key)
	if err != nil || !ok || inv.Frozen() {
		return false, err
	}
	rec, ok, err := e.state.RateGet(key)
	if err != nil || !ok || fixed.IsZero(rec.Rate) {
		return false, err
	}
	return rec.Rate.Cmp(inv.UpperLimit) >= 0 || rec.Rate.Cmp(inv.LowerLimit) <= 0, nil
}

// FreezeRate pins an inverse-priced currency at the limit its current rate
// has reached. Permissionless: anyone observing a rate at a limit may freeze
// it. The triggering round is recorded for audit.
func (e *Engine) FreezeRate(key types.CurrencyKey) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	inv, ok, err := e.state.InverseGet(key)
	if err != nil {
		return err
	}
	if !ok {
		return errNotInverse
	}
	if inv.Frozen() {
		return errAlreadyFrozen
	}
	rec, ok, err := e.state.RateGet(key)
	if err != nil {
		return err
	}
	if !ok || fixed.IsZero(rec.Rate) {
		return errWithinBounds
	}
	switch {
	case rec.Rate.Cmp(inv.UpperLimit) >= 0:
		inv.FrozenAtUpper = true
	case rec.Rate.Cmp(inv.LowerLimit) <= 0:
		inv.FrozenAtLower = true
	default:
		return errWithinBounds
	}
	inv.FrozenRound = rec.Round
	if err := e.state.InversePut(key, inv); err != nil {
		return err
	}
	e.emitter.Emit(events.InverseRateFrozen{Key: key, Rate: fixed.Set(rec.Rate), AtUpper: inv.FrozenAtUpper, Round: rec.Round})
	return nil
}
