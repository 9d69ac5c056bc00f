// Package exchange executes atomic conversions between pynth balances: fee
// computation, the price-deviation circuit breaker, and the delayed
// reclaim/rebate settlement scheme that protects the debt pool against stale
// price arbitrage.
package exchange

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
	errNilState           = errors.New("exchange engine: state not configured")
	errWaitingPeriod      = errors.New("Cannot settle during waiting period")
	errInvalidRate        = errors.New("Src/dest rate invalid or not found")
	errQueueFull          = errors.New("Max queue length reached")
	errSameCurrency       = errors.New("exchange engine: cannot exchange a currency into itself")
	errZeroAmount         = errors.New("exchange engine: amount must be positive")
	errInsufficientFunds  = errors.New("exchange engine: insufficient balance")
	errNothingToSettleFor = errors.New("exchange engine: settlement target must not be the quote currency")
)

type engineState interface {
	PynthBalanceGet(account string, key types.CurrencyKey) (*big.Int, error)
	PynthBalanceSet(account string, key types.CurrencyKey, amount *big.Int) error
	PynthSupplyAdjust(key types.CurrencyKey, delta *big.Int) error
	SettlementQueueGet(account string, key types.CurrencyKey) ([]SettlementEntry, error)
	SettlementQueuePut(account string, key types.CurrencyKey, entries []SettlementEntry) error
	LastExchangeRateGet(key types.CurrencyKey) (*big.Int, bool, error)
	LastExchangeRatePut(key types.CurrencyKey, rate *big.Int) error
}

// RateSource is the slice of the rates engine the exchange consumes.
type RateSource interface {
	EffectiveValue(src types.CurrencyKey, amount *big.Int, dest types.CurrencyKey) (*big.Int, error)
	EffectiveValueAtRounds(src types.CurrencyKey, amount *big.Int, dest types.CurrencyKey, srcRound, destRound uint64) (*big.Int, error)
	RateForCurrency(key types.CurrencyKey) (*big.Int, error)
	CurrentRound(key types.CurrencyKey) (uint64, error)
	AnyRateIsInvalid(keys []types.CurrencyKey) (bool, error)
	IsInverse(key types.CurrencyKey) (bool, error)
	IsFrozen(key types.CurrencyKey) (bool, error)
}

// SettingsSource supplies the tunables the exchange reads per operation.
type SettingsSource interface {
	ExchangeFeeRate(key types.CurrencyKey) (*big.Int, error)
	WaitingPeriod() (time.Duration, error)
	PriceDeviationThresholdFactor() (*big.Int, error)
	MaxEntriesInQueue() (int, error)
}

// DebtSink receives incremental debt updates after balances move. The cache
// satisfies it directly.
type DebtSink interface {
	UpdateCachedPynthDebtsWithRates(role common.Role, keys []types.CurrencyKey, rates []*big.Int) error
}

// FeeSink receives the pUSD-denominated exchange fee for the open fee period.
type FeeSink interface {
	RecordExchangeFee(role common.Role, amount *big.Int) error
}

// Engine is the exchange and settlement engine.
type Engine struct {
	state    engineState
	rates    RateSource
	settings SettingsSource
	status   *common.Status
	debt     DebtSink
	fees     FeeSink
	emitter  events.Emitter
	nowFn    func() time.Time
}

// NewEngine constructs an exchange engine over the supplied state backend.
func NewEngine(state engineState) *Engine {
	return &Engine{
		state:   state,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetRateSource wires the rates engine.
func (e *Engine) SetRateSource(r RateSource) {
	if e == nil || r == nil {
		return
	}
	e.rates = r
}

// SetSettings wires the settings store.
func (e *Engine) SetSettings(s SettingsSource) {
	if e == nil || s == nil {
		return
	}
	e.settings = s
}

// SetStatus wires the suspension registry.
func (e *Engine) SetStatus(s *common.Status) {
	if e == nil || s == nil {
		return
	}
	e.status = s
}

// SetDebtSink wires the debt cache.
func (e *Engine) SetDebtSink(d DebtSink) {
	if e == nil || d == nil {
		return
	}
	e.debt = d
}

// SetFeeSink wires the fee pool.
func (e *Engine) SetFeeSink(f FeeSink) {
	if e == nil || f == nil {
		return
	}
	e.fees = f
}

// SetEmitter wires the event emitter.
func (e *Engine) SetEmitter(em events.Emitter) {
	if e == nil || em == nil {
		return
	}
	e.emitter = em
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.rates == nil || e.settings == nil {
		return errNilState
	}
	return nil
}

// FeeRateForExchange computes the fee for a pair: the larger of the two
// per-currency base rates, doubled when exactly one side is inverse-priced (a
// swing trade). Symmetric in its arguments.
func (e *Engine) FeeRateForExchange(src, dest types.CurrencyKey) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	srcFee, err := e.settings.ExchangeFeeRate(src)
	if err != nil {
		return nil, err
	}
	destFee, err := e.settings.ExchangeFeeRate(dest)
	if err != nil {
		return nil, err
	}
	base := srcFee
	if destFee.Cmp(base) > 0 {
		base = destFee
	}
	srcInverse, err := e.rates.IsInverse(src)
	if err != nil {
		return nil, err
	}
	destInverse, err := e.rates.IsInverse(dest)
	if err != nil {
		return nil, err
	}
	if srcInverse != destInverse {
		return new(big.Int).Mul(base, big.NewInt(2)), nil
	}
	return fixed.Set(base), nil
}

// Exchange converts amount of the account's src balance into dest. Entry is
// restricted to the token facade and pynth contracts. Returns the amount
// received; a circuit-breaker trip suspends the offending pynth and returns
// zero without moving funds.
func (e *Engine) Exchange(role common.Role, account string, src types.CurrencyKey, amount *big.Int, dest types.CurrencyKey, trackingCode string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.RequireOneOf(role, common.ErrOnlyTokenOrPynth, common.RoleToken, common.RolePynth); err != nil {
		return nil, err
	}
	if src == dest {
		return nil, errSameCurrency
	}
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return nil, errZeroAmount
	}
	if e.status != nil {
		if err := e.status.RequireSectionActive(common.SectionExchange); err != nil {
			return nil, err
		}
		if err := e.status.RequirePynthActive(src); err != nil {
			return nil, err
		}
		if err := e.status.RequirePynthActive(dest); err != nil {
			return nil, err
		}
	}

	// Exchanging away a currency with outstanding settlement entries first
	// settles them; entries still inside the waiting period block the trade.
	if !src.IsQuote() {
		left, err := e.MaxSecsLeftInWaitingPeriod(account, src)
		if err != nil {
			return nil, err
		}
		if left > 0 {
			return nil, errWaitingPeriod
		}
		if _, _, _, err := e.internalSettle(account, src); err != nil {
			return nil, err
		}
	}

	invalid, err := e.rates.AnyRateIsInvalid([]types.CurrencyKey{src, dest})
	if err != nil {
		return nil, err
	}
	if invalid {
		return nil, errInvalidRate
	}

	tripped, err := e.breakCircuit(src)
	if err != nil {
		return nil, err
	}
	if !tripped {
		tripped, err = e.breakCircuit(dest)
		if err != nil {
			return nil, err
		}
	}
	if tripped {
		return big.NewInt(0), nil
	}

	balance, err := e.state.PynthBalanceGet(account, src)
	if err != nil {
		return nil, err
	}
	if fixed.Set(balance).Cmp(amount) < 0 {
		return nil, errInsufficientFunds
	}

	gross, err := e.rates.EffectiveValue(src, amount, dest)
	if err != nil {
		return nil, err
	}
	feeRate, err := e.FeeRateForExchange(src, dest)
	if err != nil {
		return nil, err
	}
	fee := fixed.MulUnit(gross, feeRate)
	received := new(big.Int).Sub(gross, fee)

	waiting, err := e.settings.WaitingPeriod()
	if err != nil {
		return nil, err
	}
	if waiting > 0 {
		queued, err := e.state.SettlementQueueGet(account, dest)
		if err != nil {
			return nil, err
		}
		max, err := e.settings.MaxEntriesInQueue()
		if err != nil {
			return nil, err
		}
		if len(queued) >= max {
			return nil, errQueueFull
		}
	}

	if err := e.moveBalance(account, src, new(big.Int).Neg(amount)); err != nil {
		return nil, err
	}
	if err := e.moveBalance(account, dest, received); err != nil {
		return nil, err
	}

	feePUSD, err := e.rates.EffectiveValue(dest, fee, types.PUSD)
	if err != nil {
		return nil, err
	}
	if feePUSD.Sign() > 0 && e.fees != nil {
		if err := e.state.PynthSupplyAdjust(types.PUSD, feePUSD); err != nil {
			return nil, err
		}
		if err := e.fees.RecordExchangeFee(common.RoleExchanger, feePUSD); err != nil {
			return nil, err
		}
	}

	if waiting > 0 {
		if err := e.appendEntry(account, src, amount, dest, received, feeRate); err != nil {
			return nil, err
		}
	}

	if err := e.rememberRate(src); err != nil {
		return nil, err
	}
	if err := e.rememberRate(dest); err != nil {
		return nil, err
	}
	if err := e.notifyDebt(src, dest); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.ExchangeExecuted{
		Account:        account,
		Src:            src,
		SrcAmount:      fixed.Set(amount),
		Dest:           dest,
		AmountReceived: fixed.Set(received),
		Fee:            feePUSD,
		TrackingCode:   trackingCode,
	})
	return received, nil
}

func (e *Engine) moveBalance(account string, key types.CurrencyKey, delta *big.Int) error {
	balance, err := e.state.PynthBalanceGet(account, key)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(fixed.Set(balance), delta)
	if next.Sign() < 0 {
		return errInsufficientFunds
	}
	if err := e.state.PynthBalanceSet(account, key, next); err != nil {
		return err
	}
	return e.state.PynthSupplyAdjust(key, delta)
}

func (e *Engine) appendEntry(account string, src types.CurrencyKey, amount *big.Int, dest types.CurrencyKey, received, feeRate *big.Int) error {
	entries, err := e.state.SettlementQueueGet(account, dest)
	if err != nil {
		return err
	}
	max, err := e.settings.MaxEntriesInQueue()
	if err != nil {
		return err
	}
	if len(entries) >= max {
		return errQueueFull
	}
	srcRound, err := e.rates.CurrentRound(src)
	if err != nil {
		return err
	}
	destRound, err := e.rates.CurrentRound(dest)
	if err != nil {
		return err
	}
	entries = append(entries, SettlementEntry{
		Src:            src,
		SrcAmount:      fixed.Set(amount),
		Dest:           dest,
		AmountReceived: fixed.Set(received),
		FeeRate:        fixed.Set(feeRate),
		Timestamp:      e.nowFn(),
		SrcRound:       srcRound,
		DestRound:      destRound,
	})
	return e.state.SettlementQueuePut(account, dest, entries)
}

// breakCircuit compares the current rate against the last recorded exchange
// rate; beyond the deviation factor it suspends the pynth and reports the
// trip. A rate that is not an outlier is remembered for the next comparison.
func (e *Engine) breakCircuit(key types.CurrencyKey) (bool, error) {
	if key.IsQuote() {
		return false, nil
	}
	current, err := e.rates.RateForCurrency(key)
	if err != nil {
		return false, err
	}
	outlier, err := e.isDeviationOutlier(key, current)
	if err != nil {
		return false, err
	}
	if !outlier {
		return false, nil
	}
	if e.status != nil {
		if err := e.status.SuspendPynth(common.RoleExchanger, key, "price deviation"); err != nil {
			return false, err
		}
	}
	e.emitter.Emit(events.PynthSuspended{Key: key, Reason: "price deviation"})
	return true, nil
}

func (e *Engine) isDeviationOutlier(key types.CurrencyKey, current *big.Int) (bool, error) {
	last, ok, err := e.state.LastExchangeRateGet(key)
	if err != nil {
		return false, err
	}
	if !ok || fixed.IsZero(last) {
		return false, nil
	}
	if fixed.IsZero(current) {
		return true, nil
	}
	factor, err := e.settings.PriceDeviationThresholdFactor()
	if err != nil {
		return false, err
	}
	hi, lo := current, last
	if hi.Cmp(lo) < 0 {
		hi, lo = lo, hi
	}
	return fixed.DivUnit(hi, lo).Cmp(factor) >= 0, nil
}

// rememberRate persists the last exchange rate for future circuit-breaker
// comparisons, only when the observation itself is not an outlier.
func (e *Engine) rememberRate(key types.CurrencyKey) error {
	if key.IsQuote() {
		return nil
	}
	current, err := e.rates.RateForCurrency(key)
	if err != nil {
		return err
	}
	outlier, err := e.isDeviationOutlier(key, current)
	if err != nil {
		return err
	}
	if outlier {
		return nil
	}
	return e.state.LastExchangeRatePut(key, current)
}

func (e *Engine) notifyDebt(keys ...types.CurrencyKey) error {
	if e.debt == nil {
		return nil
	}
	currentRates := make([]*big.Int, len(keys))
	for i, key := range keys {
		rate, err := e.rates.RateForCurrency(key)
		if err != nil {
			return err
		}
		currentRates[i] = rate
	}
	return e.debt.UpdateCachedPynthDebtsWithRates(common.RoleExchanger, keys, currentRates)
}

// SettlementOwing computes the outstanding reclaim and rebate for an
// account's queue in a currency, both in units of that currency, plus the
// number of queued entries. Entries whose source or destination froze after
// the trade are excluded.
func (e *Engine) SettlementOwing(account string, key types.CurrencyKey) (*big.Int, *big.Int, int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, 0, err
	}
	entries, err := e.state.SettlementQueueGet(account, key)
	if err != nil {
		return nil, nil, 0, err
	}
	reclaim := big.NewInt(0)
	rebate := big.NewInt(0)
	for _, entry := range entries {
		excluded, err := e.entryFrozen(entry)
		if err != nil {
			return nil, nil, 0, err
		}
		if excluded {
			continue
		}
		settled, err := e.rates.EffectiveValueAtRounds(entry.Src, entry.SrcAmount, entry.Dest, entry.SrcRound+1, entry.DestRound+1)
		if err != nil {
			return nil, nil, 0, err
		}
		shouldHaveReceived := new(big.Int).Sub(settled, fixed.MulUnit(settled, entry.FeeRate))
		switch entry.AmountReceived.Cmp(shouldHaveReceived) {
		case 1:
			reclaim.Add(reclaim, new(big.Int).Sub(entry.AmountReceived, shouldHaveReceived))
		case -1:
			rebate.Add(rebate, new(big.Int).Sub(shouldHaveReceived, entry.AmountReceived))
		}
	}
	return reclaim, rebate, len(entries), nil
}

func (e *Engine) entryFrozen(entry SettlementEntry) (bool, error) {
	srcFrozen, err := e.rates.IsFrozen(entry.Src)
	if err != nil {
		return false, err
	}
	if srcFrozen {
		return true, nil
	}
	return e.rates.IsFrozen(entry.Dest)
}

// MaxSecsLeftInWaitingPeriod returns the longest remaining waiting period
// across the account's queued entries for a currency.
func (e *Engine) MaxSecsLeftInWaitingPeriod(account string, key types.CurrencyKey) (time.Duration, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	entries, err := e.state.SettlementQueueGet(account, key)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	waiting, err := e.settings.WaitingPeriod()
	if err != nil {
		return 0, err
	}
	now := e.nowFn()
	var max time.Duration
	for _, entry := range entries {
		left := waiting - now.Sub(entry.Timestamp)
		if left > max {
			max = left
		}
	}
	return max, nil
}

// HasWaitingPeriodOrSettlementOwing reports whether settling the currency now
// would either be blocked or move value.
func (e *Engine) HasWaitingPeriodOrSettlementOwing(account string, key types.CurrencyKey) (bool, error) {
	left, err := e.MaxSecsLeftInWaitingPeriod(account, key)
	if err != nil {
		return false, err
	}
	if left > 0 {
		return true, nil
	}
	reclaim, rebate, _, err := e.SettlementOwing(account, key)
	if err != nil {
		return false, err
	}
	return reclaim.Sign() > 0 || rebate.Sign() > 0, nil
}

// Settle finalises an account's queue for a currency: the reclaim burns from
// the settled balance (clamped at the balance), the rebate mints, the queue
// clears. Settling an empty queue with nothing owed is a silent no-op.
func (e *Engine) Settle(role common.Role, account string, key types.CurrencyKey) (*big.Int, *big.Int, int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, 0, err
	}
	if err := common.RequireOneOf(role, common.ErrOnlyTokenOrPynth, common.RoleToken, common.RolePynth, common.RoleExchanger); err != nil {
		return nil, nil, 0, err
	}
	if key.IsQuote() {
		return nil, nil, 0, errNothingToSettleFor
	}
	left, err := e.MaxSecsLeftInWaitingPeriod(account, key)
	if err != nil {
		return nil, nil, 0, err
	}
	if left > 0 {
		return nil, nil, 0, errWaitingPeriod
	}
	return e.internalSettle(account, key)
}

func (e *Engine) internalSettle(account string, key types.CurrencyKey) (*big.Int, *big.Int, int, error) {
	reclaim, rebate, numEntries, err := e.SettlementOwing(account, key)
	if err != nil {
		return nil, nil, 0, err
	}
	if numEntries == 0 && reclaim.Sign() == 0 && rebate.Sign() == 0 {
		return reclaim, rebate, 0, nil
	}
	if reclaim.Sign() > 0 {
		balance, err := e.state.PynthBalanceGet(account, key)
		if err != nil {
			return nil, nil, 0, err
		}
		burn := fixed.Clamp(reclaim, nil, fixed.Set(balance))
		if err := e.moveBalance(account, key, new(big.Int).Neg(burn)); err != nil {
			return nil, nil, 0, err
		}
	}
	if rebate.Sign() > 0 {
		if err := e.moveBalance(account, key, rebate); err != nil {
			return nil, nil, 0, err
		}
	}
	if err := e.state.SettlementQueuePut(account, key, nil); err != nil {
		return nil, nil, 0, err
	}
	if err := e.notifyDebt(key); err != nil {
		return nil, nil, 0, err
	}
	e.emitter.Emit(events.ExchangeSettled{
		Account: account,
		Key:     key,
		Reclaim: fixed.Set(reclaim),
		Rebate:  fixed.Set(rebate),
		Entries: numEntries,
	})
	return reclaim, rebate, numEntries, nil
}

// QueueLength reports the number of queued entries for (account, currency).
func (e *Engine) QueueLength(account string, key types.CurrencyKey) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	entries, err := e.state.SettlementQueueGet(account, key)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// LastExchangeRate reports the stored circuit-breaker reference rate.
func (e *Engine) LastExchangeRate(key types.CurrencyKey) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	rate, ok, err := e.state.LastExchangeRateGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return fixed.Set(rate), nil
}
