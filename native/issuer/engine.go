// Package issuer gatekeeps minting and burning of pynths against locked
// collateral: native PERI staking, quota-limited external token staking, the
// fit-to-claimable forced deleveraging and the full exit unwind.
package issuer

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
	errNilState           = errors.New("issuer: state not configured")
	errZeroAmount         = errors.New("issuer: amount must be positive")
	errRateInvalid        = errors.New("issuer: rate invalid or not found")
	errAmountTooLarge     = errors.New("Amount too large")
	errQuotaExceeded      = errors.New("External token staking amount exceeds quota limit")
	errNoAvailableStaking = errors.New("No available external token staking amount")
	errAlreadyClaimable   = errors.New("Account is already claimable")
	errNoNativeDebt       = errors.New("issuer: account has no debt against native collateral")
	errInsufficientFunds  = errors.New("issuer: insufficient pUSD balance")
	errInsufficientTokens = errors.New("issuer: insufficient token balance")
	errNoDebtToExit       = errors.New("issuer: account has no debt")
	errSupplyNotZero      = errors.New("issuer: pynth supply must be zero")
	errPynthUnknown       = errors.New("issuer: pynth not registered")
)

type engineState interface {
	AccountGet(addr string) (*types.Account, error)
	AccountPut(addr string, acct *types.Account) error
	PynthSupplyGet(key types.CurrencyKey) (*big.Int, error)
	PynthSupplyAdjust(key types.CurrencyKey, delta *big.Int) error
	PynthRegistryGet() ([]types.CurrencyKey, error)
	PynthRegistryPut(keys []types.CurrencyKey) error
}

// RateSource is the slice of the rates engine the issuer consumes.
type RateSource interface {
	RateForCurrency(key types.CurrencyKey) (*big.Int, error)
	AnyRateIsInvalid(keys []types.CurrencyKey) (bool, error)
}

// SettingsSource supplies the issuance tunables.
type SettingsSource interface {
	IssuanceRatio() (*big.Int, error)
	ExternalTokenQuota() (*big.Int, error)
}

// DebtSource is the slice of the debt cache the issuer consumes.
type DebtSource interface {
	CurrentDebt() (*big.Int, bool, error)
	UpdateCachedPynthDebtWithRate(role common.Role, key types.CurrencyKey, rate *big.Int) error
	AddPynth(role common.Role, key types.CurrencyKey) error
	RemovePynth(role common.Role, key types.CurrencyKey) error
}

// ShareLedger is the debt-share ledger; each account's proportional claim on
// the debt pool is its share balance over the total.
type ShareLedger interface {
	MintShare(role common.Role, account string, amount *big.Int) error
	BurnShare(role common.Role, account string, amount *big.Int) error
	BalanceOf(account string) (*big.Int, error)
	TotalSupply() (*big.Int, error)
}

// Engine is the issuer.
type Engine struct {
	state    engineState
	stakes   *StakeManager
	tokens   *TokenRegistry
	rates    RateSource
	settings SettingsSource
	debt     DebtSource
	shares   ShareLedger
	status   *common.Status
	emitter  events.Emitter
	nowFn    func() time.Time
}

// NewEngine constructs an issuer over the supplied state backend.
func NewEngine(state engineState, stakes *StakeManager, tokens *TokenRegistry) *Engine {
	return &Engine{
		state:   state,
		stakes:  stakes,
		tokens:  tokens,
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

// SetDebtSource wires the debt cache.
func (e *Engine) SetDebtSource(d DebtSource) {
	if e == nil || d == nil {
		return
	}
	e.debt = d
}

// SetShareLedger wires the debt-share ledger.
func (e *Engine) SetShareLedger(s ShareLedger) {
	if e == nil || s == nil {
		return
	}
	e.shares = s
}

// SetStatus wires the suspension registry.
func (e *Engine) SetStatus(s *common.Status) {
	if e == nil || s == nil {
		return
	}
	e.status = s
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
	if e == nil || e.state == nil || e.stakes == nil || e.tokens == nil ||
		e.rates == nil || e.settings == nil || e.debt == nil || e.shares == nil {
		return errNilState
	}
	return nil
}

// ActivePynths implements the debt cache's supply source: the registered
// pynth set, always including the quote currency.
func (e *Engine) ActivePynths() ([]types.CurrencyKey, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	keys, err := e.state.PynthRegistryGet()
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if key.IsQuote() {
			return keys, nil
		}
	}
	return append([]types.CurrencyKey{types.PUSD}, keys...), nil
}

// TotalSupply implements the debt cache's supply source.
func (e *Engine) TotalSupply(key types.CurrencyKey) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.PynthSupplyGet(key)
}

// AddPynth registers a currency and invalidates the debt cache.
func (e *Engine) AddPynth(role common.Role, key types.CurrencyKey) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if err := e.ready(); err != nil {
		return err
	}
	keys, err := e.state.PynthRegistryGet()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	if err := e.state.PynthRegistryPut(append(keys, key)); err != nil {
		return err
	}
	return e.debt.AddPynth(common.RoleIssuer, key)
}

// RemovePynth retires a currency. Its supply must already be zero.
func (e *Engine) RemovePynth(role common.Role, key types.CurrencyKey) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if err := e.ready(); err != nil {
		return err
	}
	supply, err := e.state.PynthSupplyGet(key)
	if err != nil {
		return err
	}
	if !fixed.IsZero(supply) {
		return errSupplyNotZero
	}
	keys, err := e.state.PynthRegistryGet()
	if err != nil {
		return err
	}
	kept := keys[:0]
	found := false
	for _, k := range keys {
		if k == key {
			found = true
			continue
		}
		kept = append(kept, k)
	}
	if !found {
		return errPynthUnknown
	}
	if err := e.state.PynthRegistryPut(kept); err != nil {
		return err
	}
	return e.debt.RemovePynth(common.RoleIssuer, key)
}

// DebtBalanceOf returns the account's proportional share of the debt pool in
// quote terms.
func (e *Engine) DebtBalanceOf(account string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	owned, err := e.shares.BalanceOf(account)
	if err != nil {
		return nil, err
	}
	total, err := e.shares.TotalSupply()
	if err != nil {
		return nil, err
	}
	if fixed.IsZero(owned) || fixed.IsZero(total) {
		return big.NewInt(0), nil
	}
	debt, _, err := e.debt.CurrentDebt()
	if err != nil {
		return nil, err
	}
	return fixed.DivUnit(fixed.MulUnit(debt, owned), total), nil
}

// Collateral returns the account's native collateral in PERI units, escrowed
// included.
func (e *Engine) Collateral(account string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	acct, err := e.state.AccountGet(account)
	if err != nil {
		return nil, err
	}
	acct.EnsureDefaults()
	return new(big.Int).Add(acct.BalancePERI, acct.EscrowedPERI), nil
}

func (e *Engine) nativeCollateralValue(account string) (*big.Int, error) {
	collateral, err := e.Collateral(account)
	if err != nil {
		return nil, err
	}
	rate, err := e.rates.RateForCurrency(types.PERI)
	if err != nil {
		return nil, err
	}
	return fixed.MulUnit(collateral, rate), nil
}

// MaxIssuablePynths is the debt the account could carry at the target ratio
// given its native and external collateral.
func (e *Engine) MaxIssuablePynths(account string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	native, err := e.nativeCollateralValue(account)
	if err != nil {
		return nil, err
	}
	external, _, err := e.stakes.CombinedStakedValue(account)
	if err != nil {
		return nil, err
	}
	ratio, err := e.settings.IssuanceRatio()
	if err != nil {
		return nil, err
	}
	return fixed.MulUnit(new(big.Int).Add(native, external), ratio), nil
}

// RemainingIssuablePynths is how much more the account could issue right now.
func (e *Engine) RemainingIssuablePynths(account string) (*big.Int, error) {
	max, err := e.MaxIssuablePynths(account)
	if err != nil {
		return nil, err
	}
	debt, err := e.DebtBalanceOf(account)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(max, debt)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return remaining, nil
}

// CollateralisationRatio is debt over native collateral value; zero when the
// account holds no native collateral.
func (e *Engine) CollateralisationRatio(account string) (*big.Int, error) {
	debt, err := e.DebtBalanceOf(account)
	if err != nil {
		return nil, err
	}
	native, err := e.nativeCollateralValue(account)
	if err != nil {
		return nil, err
	}
	return fixed.DivUnit(debt, native), nil
}

// TransferablePeri is the account's PERI balance minus what must stay locked
// to back its native-denominated debt at the target ratio. Escrowed PERI
// absorbs the lock first; it is never itself transferable.
func (e *Engine) TransferablePeri(account string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	acct, err := e.state.AccountGet(account)
	if err != nil {
		return nil, err
	}
	acct.EnsureDefaults()
	debt, err := e.DebtBalanceOf(account)
	if err != nil {
		return nil, err
	}
	external, _, err := e.stakes.CombinedStakedValue(account)
	if err != nil {
		return nil, err
	}
	ratio, err := e.settings.IssuanceRatio()
	if err != nil {
		return nil, err
	}
	nativeDebt := new(big.Int).Sub(debt, fixed.MulUnit(external, ratio))
	if nativeDebt.Sign() <= 0 {
		return fixed.Set(acct.BalancePERI), nil
	}
	rate, err := e.rates.RateForCurrency(types.PERI)
	if err != nil {
		return nil, err
	}
	lockedValue := fixed.DivUnit(nativeDebt, ratio)
	lockedPeri := fixed.DivUnit(lockedValue, rate)
	lockedPeri.Sub(lockedPeri, acct.EscrowedPERI)
	if lockedPeri.Sign() < 0 {
		lockedPeri.SetInt64(0)
	}
	transferable := new(big.Int).Sub(acct.BalancePERI, lockedPeri)
	if transferable.Sign() < 0 {
		transferable.SetInt64(0)
	}
	return transferable, nil
}

func (e *Engine) requireIssuanceActive() error {
	if e.status == nil {
		return nil
	}
	return e.status.RequireSectionActive(common.SectionIssuance)
}

func (e *Engine) requireFreshRates(keys ...types.CurrencyKey) error {
	invalid, err := e.rates.AnyRateIsInvalid(keys)
	if err != nil {
		return err
	}
	if invalid {
		return errRateInvalid
	}
	return nil
}

// mintPUSD credits the account, grows the supply, mints proportional debt
// shares and pushes the incremental debt update.
func (e *Engine) mintPUSD(account string, amount *big.Int) error {
	debtBefore, _, err := e.debt.CurrentDebt()
	if err != nil {
		return err
	}
	totalShares, err := e.shares.TotalSupply()
	if err != nil {
		return err
	}
	shareAmount := fixed.Set(amount)
	if !fixed.IsZero(totalShares) && !fixed.IsZero(debtBefore) {
		shareAmount = fixed.DivUnit(fixed.MulUnit(amount, totalShares), debtBefore)
	}
	if err := e.shares.MintShare(common.RoleIssuer, account, shareAmount); err != nil {
		return err
	}
	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	acct.SetPynthBalance(types.PUSD, new(big.Int).Add(acct.PynthBalance(types.PUSD), amount))
	if err := e.state.AccountPut(account, acct); err != nil {
		return err
	}
	if err := e.state.PynthSupplyAdjust(types.PUSD, amount); err != nil {
		return err
	}
	return e.debt.UpdateCachedPynthDebtWithRate(common.RoleIssuer, types.PUSD, fixed.Unit())
}

// burnPUSD debits the account, shrinks the supply and burns proportional debt
// shares. burnAll retires the account's entire share balance to avoid dust.
func (e *Engine) burnPUSD(account string, amount *big.Int, burnAll bool) error {
	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	balance := acct.PynthBalance(types.PUSD)
	if balance.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	debtBefore, _, err := e.debt.CurrentDebt()
	if err != nil {
		return err
	}
	owned, err := e.shares.BalanceOf(account)
	if err != nil {
		return err
	}
	totalShares, err := e.shares.TotalSupply()
	if err != nil {
		return err
	}
	var shareAmount *big.Int
	if burnAll {
		shareAmount = fixed.Set(owned)
	} else {
		if fixed.IsZero(debtBefore) {
			return errNoDebtToExit
		}
		shareAmount = fixed.DivUnit(fixed.MulUnit(amount, totalShares), debtBefore)
		if shareAmount.Cmp(owned) > 0 {
			shareAmount = fixed.Set(owned)
		}
	}
	if err := e.shares.BurnShare(common.RoleIssuer, account, shareAmount); err != nil {
		return err
	}
	acct.SetPynthBalance(types.PUSD, new(big.Int).Sub(balance, amount))
	if err := e.state.AccountPut(account, acct); err != nil {
		return err
	}
	if err := e.state.PynthSupplyAdjust(types.PUSD, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return e.debt.UpdateCachedPynthDebtWithRate(common.RoleIssuer, types.PUSD, fixed.Unit())
}

// quotaSatisfied reports whether external-backed debt stays within the quota
// for the given external staked value and total debt.
func (e *Engine) quotaSatisfied(externalValue, totalDebt *big.Int) (bool, error) {
	ratio, err := e.settings.IssuanceRatio()
	if err != nil {
		return false, err
	}
	quota, err := e.settings.ExternalTokenQuota()
	if err != nil {
		return false, err
	}
	externalDebt := fixed.MulUnit(externalValue, ratio)
	if externalDebt.Sign() == 0 {
		return true, nil
	}
	return externalDebt.Cmp(fixed.MulUnit(quota, totalDebt)) <= 0, nil
}

// IssuePynths mints amount pUSD against the given collateral. The native
// path locks PERI implicitly through the transferable computation; the
// external path stakes the token through the stake manager.
func (e *Engine) IssuePynths(role common.Role, account string, collateralKey types.CurrencyKey, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.RequireOneOf(role, common.ErrOnlyTokenOrPynth, common.RoleToken, common.RolePynth); err != nil {
		return err
	}
	if err := e.requireIssuanceActive(); err != nil {
		return err
	}
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return errZeroAmount
	}
	if collateralKey == types.PERI {
		return e.issueNative(account, amount)
	}
	return e.issueExternal(account, collateralKey, amount)
}

func (e *Engine) issueNative(account string, amount *big.Int) error {
	if err := e.requireFreshRates(types.PERI); err != nil {
		return err
	}
	remaining, err := e.RemainingIssuablePynths(account)
	if err != nil {
		return err
	}
	if amount.Cmp(remaining) > 0 {
		return errAmountTooLarge
	}
	if err := e.mintPUSD(account, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.PynthsIssued{
		Account:       account,
		CollateralKey: types.PERI,
		Amount:        fixed.Set(amount),
		Staked:        big.NewInt(0),
	})
	return nil
}

func (e *Engine) issueExternal(account string, tokenKey types.CurrencyKey, amount *big.Int) error {
	if tokenKey.IsQuote() {
		return errNotStakingCoin
	}
	if _, err := e.tokens.Require(tokenKey); err != nil {
		return err
	}
	if err := e.requireFreshRates(types.PERI, tokenKey); err != nil {
		return err
	}
	debt, err := e.DebtBalanceOf(account)
	if err != nil {
		return err
	}
	if fixed.IsZero(debt) {
		return errNoNativeDebt
	}
	ratio, err := e.settings.IssuanceRatio()
	if err != nil {
		return err
	}
	stakeValue := fixed.DivUnit(amount, ratio)
	rate, err := e.rates.RateForCurrency(tokenKey)
	if err != nil {
		return err
	}
	tokenAmount := fixed.DivUnit(stakeValue, rate)

	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	if acct.TokenBalance(tokenKey).Cmp(tokenAmount) < 0 {
		return errInsufficientTokens
	}

	external, _, err := e.stakes.CombinedStakedValue(account)
	if err != nil {
		return err
	}
	newExternal := new(big.Int).Add(external, stakeValue)
	newDebt := new(big.Int).Add(debt, amount)
	ok, err := e.quotaSatisfied(newExternal, newDebt)
	if err != nil {
		return err
	}
	if !ok {
		return errQuotaExceeded
	}

	acct.SetTokenBalance(tokenKey, new(big.Int).Sub(acct.TokenBalance(tokenKey), tokenAmount))
	if err := e.state.AccountPut(account, acct); err != nil {
		return err
	}
	if err := e.stakes.Stake(account, tokenKey, tokenAmount); err != nil {
		return err
	}
	if err := e.mintPUSD(account, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.PynthsIssued{
		Account:       account,
		CollateralKey: tokenKey,
		Amount:        fixed.Set(amount),
		Staked:        fixed.Set(tokenAmount),
	})
	return nil
}

// IssueMaxPynths issues up to the account's remaining issuable amount against
// native collateral.
func (e *Engine) IssueMaxPynths(role common.Role, account string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.RequireOneOf(role, common.ErrOnlyTokenOrPynth, common.RoleToken, common.RolePynth); err != nil {
		return err
	}
	if err := e.requireIssuanceActive(); err != nil {
		return err
	}
	if err := e.requireFreshRates(types.PERI); err != nil {
		return err
	}
	remaining, err := e.RemainingIssuablePynths(account)
	if err != nil {
		return err
	}
	if remaining.Sign() == 0 {
		return errAmountTooLarge
	}
	return e.issueNative(account, remaining)
}

// IssuePynthsToMaxQuota stakes exactly enough of the token to bring the
// account to the external-token quota limit, bounded by its token balance,
// and mints the corresponding pUSD.
func (e *Engine) IssuePynthsToMaxQuota(role common.Role, account string, tokenKey types.CurrencyKey) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.RequireOneOf(role, common.ErrOnlyTokenOrPynth, common.RoleToken, common.RolePynth); err != nil {
		return err
	}
	if err := e.requireIssuanceActive(); err != nil {
		return err
	}
	if tokenKey.IsQuote() {
		return errNotStakingCoin
	}
	if _, err := e.tokens.Require(tokenKey); err != nil {
		return err
	}
	if err := e.requireFreshRates(types.PERI, tokenKey); err != nil {
		return err
	}

	debt, err := e.DebtBalanceOf(account)
	if err != nil {
		return err
	}
	external, _, err := e.stakes.CombinedStakedValue(account)
	if err != nil {
		return err
	}
	ratio, err := e.settings.IssuanceRatio()
	if err != nil {
		return err
	}
	quota, err := e.settings.ExternalTokenQuota()
	if err != nil {
		return err
	}

	// Solve (E+v)*r <= Q*(D+v*r) for the issued debt d = v*r:
	// d = (Q*D - E*r) / (1 - Q).
	externalDebt := fixed.MulUnit(external, ratio)
	headroom := new(big.Int).Sub(fixed.MulUnit(quota, debt), externalDebt)
	if headroom.Sign() <= 0 {
		return errNoAvailableStaking
	}
	issueDebt := fixed.DivUnit(headroom, new(big.Int).Sub(fixed.Unit(), quota))

	// Bound by the account's token balance.
	rate, err := e.rates.RateForCurrency(tokenKey)
	if err != nil {
		return err
	}
	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	maxStakeValue := fixed.MulUnit(acct.TokenBalance(tokenKey), rate)
	maxIssueDebt := fixed.MulUnit(maxStakeValue, ratio)
	if issueDebt.Cmp(maxIssueDebt) > 0 {
		issueDebt = maxIssueDebt
	}
	if issueDebt.Sign() <= 0 {
		return errInsufficientTokens
	}
	return e.issueExternal(account, tokenKey, issueDebt)
}

// BurnPynths burns amount pUSD of the account's debt. The external path also
// unstakes the matching token amount, gated by the minimum stake time.
func (e *Engine) BurnPynths(role common.Role, account string, collateralKey types.CurrencyKey, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.RequireOneOf(role, common.ErrOnlyTokenOrPynth, common.RoleToken, common.RolePynth); err != nil {
		return err
	}
	if err := e.requireIssuanceActive(); err != nil {
		return err
	}
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return errZeroAmount
	}
	debt, err := e.DebtBalanceOf(account)
	if err != nil {
		return err
	}
	if fixed.IsZero(debt) {
		return errNoDebtToExit
	}
	if amount.Cmp(debt) > 0 {
		return errAmountTooLarge
	}
	external, _, err := e.stakes.CombinedStakedValue(account)
	if err != nil {
		return err
	}
	newDebt := new(big.Int).Sub(debt, amount)

	unstaked := big.NewInt(0)
	newExternal := fixed.Set(external)
	var unstakeValue *big.Int
	if collateralKey != types.PERI {
		if collateralKey.IsQuote() {
			return errNotStakingCoin
		}
		if err := e.requireFreshRates(types.PERI, collateralKey); err != nil {
			return err
		}
		ratio, err := e.settings.IssuanceRatio()
		if err != nil {
			return err
		}
		rate, err := e.rates.RateForCurrency(collateralKey)
		if err != nil {
			return err
		}
		unstakeValue = fixed.DivUnit(amount, ratio)
		unstaked = fixed.DivUnit(unstakeValue, rate)
		newExternal.Sub(newExternal, unstakeValue)
		if newExternal.Sign() < 0 {
			newExternal.SetInt64(0)
		}
	} else if err := e.requireFreshRates(types.PERI); err != nil {
		return err
	}

	// Shrinking the debt denominator must not leave the external stake newly
	// over quota.
	ok, err := e.quotaSatisfied(newExternal, newDebt)
	if err != nil {
		return err
	}
	if !ok {
		return errQuotaExceeded
	}

	if collateralKey == types.PERI {
		if err := e.burnPUSD(account, amount, amount.Cmp(debt) == 0); err != nil {
			return err
		}
	} else {
		if err := e.stakes.Unstake(account, collateralKey, unstaked, false); err != nil {
			return err
		}
		if err := e.burnPUSD(account, amount, amount.Cmp(debt) == 0); err != nil {
			return err
		}
		acct, err := e.state.AccountGet(account)
		if err != nil {
			return err
		}
		acct.EnsureDefaults()
		acct.SetTokenBalance(collateralKey, new(big.Int).Add(acct.TokenBalance(collateralKey), unstaked))
		if err := e.state.AccountPut(account, acct); err != nil {
			return err
		}
	}
	e.emitter.Emit(events.PynthsBurned{
		Account:       account,
		CollateralKey: collateralKey,
		Amount:        fixed.Set(amount),
		Unstaked:      fixed.Set(unstaked),
	})
	return nil
}

// claimable reports whether the account satisfies both the target ratio and
// the external-token quota.
func (e *Engine) claimable(account string) (bool, error) {
	debt, err := e.DebtBalanceOf(account)
	if err != nil {
		return false, err
	}
	max, err := e.MaxIssuablePynths(account)
	if err != nil {
		return false, err
	}
	if debt.Cmp(max) > 0 {
		return false, nil
	}
	external, _, err := e.stakes.CombinedStakedValue(account)
	if err != nil {
		return false, err
	}
	return e.quotaSatisfied(external, debt)
}

// FitToClaimable burns the minimal pUSD (and unstakes the minimal external
// collateral) to bring the account back to the target ratio and quota, ratio
// first. Already compliant accounts are rejected.
func (e *Engine) FitToClaimable(role common.Role, account string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.RequireOneOf(role, common.ErrOnlyTokenOrPynth, common.RoleToken, common.RolePynth); err != nil {
		return err
	}
	if err := e.requireIssuanceActive(); err != nil {
		return err
	}
	ok, err := e.claimable(account)
	if err != nil {
		return err
	}
	if ok {
		return errAlreadyClaimable
	}

	debt, err := e.DebtBalanceOf(account)
	if err != nil {
		return err
	}
	max, err := e.MaxIssuablePynths(account)
	if err != nil {
		return err
	}
	ratio, err := e.settings.IssuanceRatio()
	if err != nil {
		return err
	}
	quota, err := e.settings.ExternalTokenQuota()
	if err != nil {
		return err
	}
	external, _, err := e.stakes.CombinedStakedValue(account)
	if err != nil {
		return err
	}

	// Step 1: burn down to the target ratio.
	burn := big.NewInt(0)
	fitted := fixed.Set(debt)
	if debt.Cmp(max) > 0 {
		burn = new(big.Int).Sub(debt, max)
		fitted = fixed.Set(max)
	}

	// Step 2: unstake the quota excess. Solving (E-u)*r = Q*(D - u*r) for
	// the unstaked value u keeps the ratio exactly at target afterwards.
	unstakeValue := big.NewInt(0)
	externalDebt := fixed.MulUnit(external, ratio)
	quotaDebt := fixed.MulUnit(quota, fitted)
	if externalDebt.Cmp(quotaDebt) > 0 {
		excess := new(big.Int).Sub(externalDebt, quotaDebt)
		denom := fixed.MulUnit(ratio, new(big.Int).Sub(fixed.Unit(), quota))
		unstakeValue = fixed.DivUnitCeil(excess, denom)
		burn = burn.Add(burn, fixed.MulUnit(unstakeValue, ratio))
	}

	if err := e.burnPUSD(account, burn, false); err != nil {
		return err
	}
	if unstakeValue.Sign() > 0 {
		if err := e.unstakeByValue(account, unstakeValue); err != nil {
			return err
		}
	}
	e.emitter.Emit(events.AccountFitted{
		Account:  account,
		Burned:   fixed.Set(burn),
		Unstaked: fixed.Set(unstakeValue),
	})
	return nil
}

// unstakeByValue releases staked tokens worth the given quote value, walking
// the account's stakes in stable order and returning the tokens to its
// balances. Forced: the minimum stake time does not apply.
func (e *Engine) unstakeByValue(account string, value *big.Int) error {
	keys, all, err := e.stakes.Stakes(account)
	if err != nil {
		return err
	}
	remaining := fixed.Set(value)
	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	for _, key := range keys {
		if remaining.Sign() <= 0 {
			break
		}
		rate, err := e.rates.RateForCurrency(key)
		if err != nil {
			return err
		}
		if fixed.IsZero(rate) {
			return errRateInvalid
		}
		staked := fixed.Set(all[key].Amount)
		stakedValue := fixed.MulUnit(staked, rate)
		take := staked
		if stakedValue.Cmp(remaining) > 0 {
			take = fixed.DivUnit(remaining, rate)
			remaining.SetInt64(0)
		} else {
			remaining.Sub(remaining, stakedValue)
		}
		if take.Sign() == 0 {
			continue
		}
		if err := e.stakes.Unstake(account, key, take, true); err != nil {
			return err
		}
		acct.SetTokenBalance(key, new(big.Int).Add(acct.TokenBalance(key), take))
	}
	return e.state.AccountPut(account, acct)
}

// Exit unwinds the account completely: burns all debt and unstakes every
// external token, regardless of ratio or quota state.
func (e *Engine) Exit(role common.Role, account string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.RequireOneOf(role, common.ErrOnlyTokenOrPynth, common.RoleToken, common.RolePynth); err != nil {
		return err
	}
	if err := e.requireIssuanceActive(); err != nil {
		return err
	}
	debt, err := e.DebtBalanceOf(account)
	if err != nil {
		return err
	}
	if fixed.IsZero(debt) {
		return errNoDebtToExit
	}
	if err := e.burnPUSD(account, debt, true); err != nil {
		return err
	}
	keys, all, err := e.stakes.Stakes(account)
	if err != nil {
		return err
	}
	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	for _, key := range keys {
		staked := fixed.Set(all[key].Amount)
		if staked.Sign() == 0 {
			continue
		}
		if err := e.stakes.Unstake(account, key, staked, true); err != nil {
			return err
		}
		acct.SetTokenBalance(key, new(big.Int).Add(acct.TokenBalance(key), staked))
	}
	if err := e.state.AccountPut(account, acct); err != nil {
		return err
	}
	e.emitter.Emit(events.AccountExited{Account: account, Burned: fixed.Set(debt)})
	return nil
}
