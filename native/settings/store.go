// Package settings provides the typed, versioned configuration store consumed
// by every engine: fee rates, ratios, staleness windows and queue bounds.
// Values persist as JSON in the parameter store; each getter falls back to a
// documented default when the key has never been written.
package settings

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

// StoreState captures the subset of state manager capabilities required by
// the settings helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// Store provides typed accessors for owner-controlled protocol parameters.
type Store struct {
	state StoreState
}

// NewStore constructs a settings store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("settings: state not configured")
	}
	return s.state, nil
}

// Defaults applied when a parameter was never configured.
var (
	defaultIssuanceRatio, _      = fixed.FromDecimal("0.25")
	defaultExternalTokenQuota, _ = fixed.FromDecimal("0.2")
	defaultExchangeFeeRate, _    = fixed.FromDecimal("0.003")
	defaultDeviationFactor       = fixed.FromUnits(3)
	defaultMaxCollateralDebt     = fixed.FromUnits(75_000_000)
)

const (
	defaultMinimumStakeTime      = 24 * time.Hour
	defaultRateStalePeriod       = 3 * time.Hour
	defaultWaitingPeriod         = 6 * time.Minute
	defaultMaxEntriesInQueue     = 12
	defaultDebtSnapshotStaleTime = 12 * time.Hour
	defaultInteractionDelay      = 5 * time.Minute
	defaultRetainedPeriods       = 4
)

func (s *Store) setAmount(role common.Role, key string, v *big.Int) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	state, err := s.withState()
	if err != nil {
		return err
	}
	if v == nil || v.Sign() < 0 {
		return fmt.Errorf("settings: %s must be non-negative", key)
	}
	encoded, err := json.Marshal(v.String())
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	return state.ParamStoreSet(key, encoded)
}

func (s *Store) amount(key string, fallback *big.Int) (*big.Int, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	raw, ok, err := state.ParamStoreGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return fixed.Set(fallback), nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, fmt.Errorf("settings: decode %s: %w", key, err)
	}
	v, valid := new(big.Int).SetString(text, 10)
	if !valid {
		return nil, fmt.Errorf("settings: corrupt value for %s", key)
	}
	return v, nil
}

func (s *Store) setSeconds(role common.Role, key string, d time.Duration) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	state, err := s.withState()
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("settings: %s must be non-negative", key)
	}
	encoded, err := json.Marshal(int64(d / time.Second))
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	return state.ParamStoreSet(key, encoded)
}

func (s *Store) seconds(key string, fallback time.Duration) (time.Duration, error) {
	state, err := s.withState()
	if err != nil {
		return 0, err
	}
	raw, ok, err := state.ParamStoreGet(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	var secs int64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return 0, fmt.Errorf("settings: decode %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}

func (s *Store) setInt(role common.Role, key string, v int) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	state, err := s.withState()
	if err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("settings: %s must be positive", key)
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	return state.ParamStoreSet(key, encoded)
}

func (s *Store) intValue(key string, fallback int) (int, error) {
	state, err := s.withState()
	if err != nil {
		return 0, err
	}
	raw, ok, err := state.ParamStoreGet(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("settings: decode %s: %w", key, err)
	}
	return v, nil
}

// IssuanceRatio is debt issuable per unit of collateral value (the inverse of
// the target collateralisation ratio).
func (s *Store) IssuanceRatio() (*big.Int, error) {
	return s.amount(KeyIssuanceRatio, defaultIssuanceRatio)
}

func (s *Store) SetIssuanceRatio(role common.Role, v *big.Int) error {
	if v == nil || v.Sign() <= 0 || v.Cmp(fixed.Unit()) > 0 {
		return fmt.Errorf("settings: issuance ratio must be in (0, 1]")
	}
	return s.setAmount(role, KeyIssuanceRatio, v)
}

// ExternalTokenQuota is the maximum fraction of an account's debt that may be
// backed by external (non-PERI) collateral.
func (s *Store) ExternalTokenQuota() (*big.Int, error) {
	return s.amount(KeyExternalTokenQuota, defaultExternalTokenQuota)
}

func (s *Store) SetExternalTokenQuota(role common.Role, v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.Cmp(fixed.Unit()) > 0 {
		return fmt.Errorf("settings: quota must be in [0, 1]")
	}
	return s.setAmount(role, KeyExternalTokenQuota, v)
}

// MinimumStakeTime must elapse between staking an external token and the next
// unstake of the same token.
func (s *Store) MinimumStakeTime() (time.Duration, error) {
	return s.seconds(KeyMinimumStakeTime, defaultMinimumStakeTime)
}

func (s *Store) SetMinimumStakeTime(role common.Role, d time.Duration) error {
	return s.setSeconds(role, KeyMinimumStakeTime, d)
}

// RateStalePeriod is the age beyond which a rate no longer supports value
// computations.
func (s *Store) RateStalePeriod() (time.Duration, error) {
	return s.seconds(KeyRateStalePeriod, defaultRateStalePeriod)
}

func (s *Store) SetRateStalePeriod(role common.Role, d time.Duration) error {
	return s.setSeconds(role, KeyRateStalePeriod, d)
}

// ExchangeFeeRate returns the configured exchange fee for a currency, falling
// back to the global default.
func (s *Store) ExchangeFeeRate(key types.CurrencyKey) (*big.Int, error) {
	v, err := s.amount(KeyExchangeFeeRate+":"+key.String(), nil)
	if err != nil {
		return nil, err
	}
	if v.Sign() != 0 {
		return v, nil
	}
	return s.amount(KeyExchangeFeeRate, defaultExchangeFeeRate)
}

func (s *Store) SetExchangeFeeRate(role common.Role, key types.CurrencyKey, v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.Cmp(fixed.Unit()) >= 0 {
		return fmt.Errorf("settings: exchange fee rate must be in [0, 1)")
	}
	name := KeyExchangeFeeRate
	if key != "" {
		name += ":" + key.String()
	}
	return s.setAmount(role, name, v)
}

// WaitingPeriod is the settlement delay applied after every exchange.
func (s *Store) WaitingPeriod() (time.Duration, error) {
	return s.seconds(KeyWaitingPeriod, defaultWaitingPeriod)
}

func (s *Store) SetWaitingPeriod(role common.Role, d time.Duration) error {
	return s.setSeconds(role, KeyWaitingPeriod, d)
}

// PriceDeviationThresholdFactor bounds the rate movement tolerated between
// consecutive exchanges before the circuit breaker suspends a currency.
func (s *Store) PriceDeviationThresholdFactor() (*big.Int, error) {
	return s.amount(KeyPriceDeviationThreshold, defaultDeviationFactor)
}

func (s *Store) SetPriceDeviationThresholdFactor(role common.Role, v *big.Int) error {
	if v == nil || v.Cmp(fixed.Unit()) <= 0 {
		return fmt.Errorf("settings: deviation factor must exceed 1")
	}
	return s.setAmount(role, KeyPriceDeviationThreshold, v)
}

// MaxEntriesInQueue bounds the settlement queue per (account, currency).
func (s *Store) MaxEntriesInQueue() (int, error) {
	return s.intValue(KeyMaxEntriesInQueue, defaultMaxEntriesInQueue)
}

func (s *Store) SetMaxEntriesInQueue(role common.Role, v int) error {
	return s.setInt(role, KeyMaxEntriesInQueue, v)
}

// DebtSnapshotStaleTime is the age beyond which the cached debt is stale.
func (s *Store) DebtSnapshotStaleTime() (time.Duration, error) {
	return s.seconds(KeyDebtSnapshotStaleTime, defaultDebtSnapshotStaleTime)
}

func (s *Store) SetDebtSnapshotStaleTime(role common.Role, d time.Duration) error {
	return s.setSeconds(role, KeyDebtSnapshotStaleTime, d)
}

// InteractionDelay throttles consecutive state-changing actions on one loan.
func (s *Store) InteractionDelay() (time.Duration, error) {
	return s.seconds(KeyInteractionDelay, defaultInteractionDelay)
}

func (s *Store) SetInteractionDelay(role common.Role, d time.Duration) error {
	return s.setSeconds(role, KeyInteractionDelay, d)
}

// MaxCollateralDebt caps the combined long and short loan debt in quote
// currency terms.
func (s *Store) MaxCollateralDebt() (*big.Int, error) {
	return s.amount(KeyMaxCollateralDebt, defaultMaxCollateralDebt)
}

func (s *Store) SetMaxCollateralDebt(role common.Role, v *big.Int) error {
	return s.setAmount(role, KeyMaxCollateralDebt, v)
}

// RetainedPeriods is how many closed debt-share periods remain queryable.
func (s *Store) RetainedPeriods() (int, error) {
	return s.intValue(KeyRetainedPeriods, defaultRetainedPeriods)
}

func (s *Store) SetRetainedPeriods(role common.Role, v int) error {
	return s.setInt(role, KeyRetainedPeriods, v)
}

// DiscountRate is the dynamic-redeemer discount applied when valuing a pynth
// in the debt pool; 1.0 (no discount) when unset.
func (s *Store) DiscountRate(key types.CurrencyKey) (*big.Int, error) {
	v, err := s.amount(KeyDiscountRate+":"+key.String(), nil)
	if err != nil {
		return nil, err
	}
	if v.Sign() != 0 {
		return v, nil
	}
	return fixed.Unit(), nil
}

func (s *Store) SetDiscountRate(role common.Role, key types.CurrencyKey, v *big.Int) error {
	if v == nil || v.Sign() <= 0 || v.Cmp(fixed.Unit()) > 0 {
		return fmt.Errorf("settings: discount rate must be in (0, 1]")
	}
	return s.setAmount(role, KeyDiscountRate+":"+key.String(), v)
}
