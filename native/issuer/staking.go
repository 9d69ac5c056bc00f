package issuer

import (
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

var (
	errNotStakingCoin    = errors.New("pUSD is not staking coin")
	errMinimumStakeTime  = errors.New("Minimum stake time not reached")
	errInsufficientStake = errors.New("issuer: unstake amount exceeds staked amount")
)

// StakeRecord is the per-(account, token) stake ledger entry. Amount is in
// token units at 18 decimal places.
type StakeRecord struct {
	Amount    *big.Int  `json:"amount"`
	LastStake time.Time `json:"lastStake"`
}

type stakeState interface {
	StakeGet(account string, token types.CurrencyKey) (StakeRecord, bool, error)
	StakePut(account string, token types.CurrencyKey, rec StakeRecord) error
	StakeDelete(account string, token types.CurrencyKey) error
	StakeAll(account string) (map[types.CurrencyKey]StakeRecord, error)
}

// StakeRateSource values staked tokens in quote terms.
type StakeRateSource interface {
	RateForCurrency(key types.CurrencyKey) (*big.Int, error)
	AnyRateIsInvalid(keys []types.CurrencyKey) (bool, error)
}

// StakeManager is the external-token stake ledger: quota-aware staking and
// unstaking for non-native collateral, one record per (account, token).
type StakeManager struct {
	state  stakeState
	tokens *TokenRegistry
	rates  StakeRateSource
	nowFn  func() time.Time

	minStakeTime func() (time.Duration, error)
}

// NewStakeManager constructs a stake manager over the supplied state backend.
func NewStakeManager(state stakeState, tokens *TokenRegistry) *StakeManager {
	return &StakeManager{
		state:        state,
		tokens:       tokens,
		nowFn:        time.Now,
		minStakeTime: func() (time.Duration, error) { return 24 * time.Hour, nil },
	}
}

// SetRateSource wires the rates engine.
func (m *StakeManager) SetRateSource(r StakeRateSource) {
	if m == nil || r == nil {
		return
	}
	m.rates = r
}

// SetMinimumStakeTime wires the settings getter for the unstake delay.
func (m *StakeManager) SetMinimumStakeTime(get func() (time.Duration, error)) {
	if m == nil || get == nil {
		return
	}
	m.minStakeTime = get
}

// SetClock overrides the time source.
func (m *StakeManager) SetClock(now func() time.Time) {
	if m == nil || now == nil {
		return
	}
	m.nowFn = now
}

// StakedAmount returns the account's staked token units.
func (m *StakeManager) StakedAmount(account string, token types.CurrencyKey) (*big.Int, error) {
	rec, _, err := m.state.StakeGet(account, token)
	if err != nil {
		return nil, err
	}
	return fixed.Set(rec.Amount), nil
}

// Stake records additional staked token units and stamps the stake time. The
// token must be registered and activated; pUSD is never staking collateral.
func (m *StakeManager) Stake(account string, token types.CurrencyKey, tokenAmount *big.Int) error {
	if token.IsQuote() {
		return errNotStakingCoin
	}
	if _, err := m.tokens.Require(token); err != nil {
		return err
	}
	rec, _, err := m.state.StakeGet(account, token)
	if err != nil {
		return err
	}
	rec.Amount = new(big.Int).Add(fixed.Set(rec.Amount), tokenAmount)
	rec.LastStake = m.nowFn()
	return m.state.StakePut(account, token, rec)
}

// Unstake releases staked token units. The configured minimum stake time must
// have elapsed since the account's last stake of this token. Force skips the
// time gate, used by exit and fit-to-claimable.
func (m *StakeManager) Unstake(account string, token types.CurrencyKey, tokenAmount *big.Int, force bool) error {
	if token.IsQuote() {
		return errNotStakingCoin
	}
	rec, ok, err := m.state.StakeGet(account, token)
	if err != nil {
		return err
	}
	if !ok || fixed.Set(rec.Amount).Cmp(tokenAmount) < 0 {
		return errInsufficientStake
	}
	if !force {
		min, err := m.minStakeTime()
		if err != nil {
			return err
		}
		if m.nowFn().Sub(rec.LastStake) < min {
			return errMinimumStakeTime
		}
	}
	rec.Amount = new(big.Int).Sub(rec.Amount, tokenAmount)
	if rec.Amount.Sign() == 0 {
		return m.state.StakeDelete(account, token)
	}
	return m.state.StakePut(account, token, rec)
}

// Stakes lists the account's stake records in stable token order.
func (m *StakeManager) Stakes(account string) ([]types.CurrencyKey, map[types.CurrencyKey]StakeRecord, error) {
	all, err := m.state.StakeAll(account)
	if err != nil {
		return nil, nil, err
	}
	keys := make([]types.CurrencyKey, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, all, nil
}

// CombinedStakedValue sums the account's staked tokens in quote terms at
// current rates, reporting whether any contributing rate was invalid.
func (m *StakeManager) CombinedStakedValue(account string) (*big.Int, bool, error) {
	keys, all, err := m.Stakes(account)
	if err != nil {
		return nil, true, err
	}
	total := big.NewInt(0)
	for _, key := range keys {
		rate, err := m.rates.RateForCurrency(key)
		if err != nil {
			return nil, true, err
		}
		total.Add(total, fixed.MulUnit(all[key].Amount, rate))
	}
	if len(keys) == 0 {
		return total, false, nil
	}
	invalid, err := m.rates.AnyRateIsInvalid(keys)
	if err != nil {
		return nil, true, err
	}
	return total, invalid, nil
}
