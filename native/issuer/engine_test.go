package issuer

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/events"
	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

type memState struct {
	accounts map[string]*types.Account
	supplies map[types.CurrencyKey]*big.Int
	registry []types.CurrencyKey
	stakes   map[string]map[types.CurrencyKey]StakeRecord
	tokens   map[types.CurrencyKey]TokenInfo
}

func newMemState() *memState {
	return &memState{
		accounts: make(map[string]*types.Account),
		supplies: make(map[types.CurrencyKey]*big.Int),
		stakes:   make(map[string]map[types.CurrencyKey]StakeRecord),
		tokens:   make(map[types.CurrencyKey]TokenInfo),
	}
}

func (m *memState) AccountGet(addr string) (*types.Account, error) {
	if acct, ok := m.accounts[addr]; ok {
		return acct, nil
	}
	acct := &types.Account{}
	acct.EnsureDefaults()
	return acct, nil
}

func (m *memState) AccountPut(addr string, acct *types.Account) error {
	m.accounts[addr] = acct
	return nil
}

func (m *memState) PynthSupplyGet(key types.CurrencyKey) (*big.Int, error) {
	if v, ok := m.supplies[key]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *memState) PynthSupplyAdjust(key types.CurrencyKey, delta *big.Int) error {
	prev, ok := m.supplies[key]
	if !ok {
		prev = big.NewInt(0)
	}
	m.supplies[key] = new(big.Int).Add(prev, delta)
	return nil
}

func (m *memState) PynthRegistryGet() ([]types.CurrencyKey, error) {
	return append([]types.CurrencyKey(nil), m.registry...), nil
}

func (m *memState) PynthRegistryPut(keys []types.CurrencyKey) error {
	m.registry = append([]types.CurrencyKey(nil), keys...)
	return nil
}

func (m *memState) StakeGet(account string, token types.CurrencyKey) (StakeRecord, bool, error) {
	rec, ok := m.stakes[account][token]
	return rec, ok, nil
}

func (m *memState) StakePut(account string, token types.CurrencyKey, rec StakeRecord) error {
	if m.stakes[account] == nil {
		m.stakes[account] = make(map[types.CurrencyKey]StakeRecord)
	}
	m.stakes[account][token] = rec
	return nil
}

func (m *memState) StakeDelete(account string, token types.CurrencyKey) error {
	delete(m.stakes[account], token)
	return nil
}

func (m *memState) StakeAll(account string) (map[types.CurrencyKey]StakeRecord, error) {
	out := make(map[types.CurrencyKey]StakeRecord, len(m.stakes[account]))
	for k, v := range m.stakes[account] {
		out[k] = v
	}
	return out, nil
}

func (m *memState) TokenInfoGet(key types.CurrencyKey) (TokenInfo, bool, error) {
	info, ok := m.tokens[key]
	return info, ok, nil
}

func (m *memState) TokenInfoPut(key types.CurrencyKey, info TokenInfo) error {
	m.tokens[key] = info
	return nil
}

func (m *memState) TokenInfoAll() ([]TokenInfo, error) {
	out := make([]TokenInfo, 0, len(m.tokens))
	for _, info := range m.tokens {
		out = append(out, info)
	}
	return out, nil
}

type fakeRates struct {
	rates map[types.CurrencyKey]*big.Int
}

func (f *fakeRates) RateForCurrency(key types.CurrencyKey) (*big.Int, error) {
	if key.IsQuote() {
		return fixed.Unit(), nil
	}
	if v, ok := f.rates[key]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeRates) AnyRateIsInvalid(keys []types.CurrencyKey) (bool, error) {
	for _, key := range keys {
		if key.IsQuote() {
			continue
		}
		if _, ok := f.rates[key]; !ok {
			return true, nil
		}
	}
	return false, nil
}

type fakeSettings struct {
	ratio *big.Int
	quota *big.Int
}

func (f *fakeSettings) IssuanceRatio() (*big.Int, error) { return new(big.Int).Set(f.ratio), nil }

func (f *fakeSettings) ExternalTokenQuota() (*big.Int, error) { return new(big.Int).Set(f.quota), nil }

// fakeDebt derives the current debt from the pUSD supply; issuer tests only
// ever mint the quote currency.
type fakeDebt struct {
	state   *memState
	updates int
}

func (f *fakeDebt) CurrentDebt() (*big.Int, bool, error) {
	supply, err := f.state.PynthSupplyGet(types.PUSD)
	return supply, false, err
}

func (f *fakeDebt) UpdateCachedPynthDebtWithRate(role common.Role, key types.CurrencyKey, rate *big.Int) error {
	if role != common.RoleIssuer {
		return errors.New("unexpected role")
	}
	f.updates++
	return nil
}

func (f *fakeDebt) AddPynth(role common.Role, key types.CurrencyKey) error { return nil }

func (f *fakeDebt) RemovePynth(role common.Role, key types.CurrencyKey) error { return nil }

type fakeShares struct {
	balances map[string]*big.Int
	total    *big.Int
}

func newFakeShares() *fakeShares {
	return &fakeShares{balances: make(map[string]*big.Int), total: big.NewInt(0)}
}

func (f *fakeShares) MintShare(role common.Role, account string, amount *big.Int) error {
	if role != common.RoleIssuer {
		return errors.New("unexpected role")
	}
	prev, ok := f.balances[account]
	if !ok {
		prev = big.NewInt(0)
	}
	f.balances[account] = new(big.Int).Add(prev, amount)
	f.total.Add(f.total, amount)
	return nil
}

func (f *fakeShares) BurnShare(role common.Role, account string, amount *big.Int) error {
	if role != common.RoleIssuer {
		return errors.New("unexpected role")
	}
	prev, ok := f.balances[account]
	if !ok || prev.Cmp(amount) < 0 {
		return errors.New("insufficient shares")
	}
	f.balances[account] = new(big.Int).Sub(prev, amount)
	f.total.Sub(f.total, amount)
	return nil
}

func (f *fakeShares) BalanceOf(account string) (*big.Int, error) {
	if v, ok := f.balances[account]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeShares) TotalSupply() (*big.Int, error) {
	return new(big.Int).Set(f.total), nil
}

type harness struct {
	engine   *Engine
	state    *memState
	rates    *fakeRates
	settings *fakeSettings
	shares   *fakeShares
	debt     *fakeDebt
	stakes   *StakeManager
	recorder *events.Recorder
	now      time.Time
}

const (
	alice = "peri1alice"
	bob   = "peri1bob"
	usdc  = types.CurrencyKey("USDC")
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:    newMemState(),
		settings: &fakeSettings{},
		shares:   newFakeShares(),
		recorder: events.NewRecorder(),
		now:      time.Unix(1_700_000_000, 0),
	}
	h.settings.ratio, _ = fixed.FromDecimal("0.25")
	h.settings.quota, _ = fixed.FromDecimal("0.2")
	h.rates = &fakeRates{rates: map[types.CurrencyKey]*big.Int{
		types.PERI: mustDecimal(t, "0.1"),
		usdc:       fixed.FromUnits(1),
	}}
	h.debt = &fakeDebt{state: h.state}

	tokens := NewTokenRegistry(h.state)
	h.stakes = NewStakeManager(h.state, tokens)
	h.stakes.SetRateSource(h.rates)
	h.stakes.SetClock(func() time.Time { return h.now })

	h.engine = NewEngine(h.state, h.stakes, tokens)
	h.engine.SetRateSource(h.rates)
	h.engine.SetSettings(h.settings)
	h.engine.SetDebtSource(h.debt)
	h.engine.SetShareLedger(h.shares)
	h.engine.SetEmitter(h.recorder)
	h.engine.SetClock(func() time.Time { return h.now })

	if err := tokens.Register(common.RoleOwner, TokenInfo{Key: usdc, Decimals: 6, Activated: true}); err != nil {
		t.Fatalf("register token: %v", err)
	}

	// Alice holds 10000 PERI (native value 1000 pUSD) and 1000 USDC.
	acct := &types.Account{}
	acct.EnsureDefaults()
	acct.BalancePERI = fixed.FromUnits(10000)
	acct.SetTokenBalance(usdc, fixed.FromUnits(1000))
	h.state.accounts[alice] = acct
	return h
}

func mustDecimal(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := fixed.FromDecimal(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func (h *harness) debtOf(t *testing.T, account string) *big.Int {
	t.Helper()
	d, err := h.engine.DebtBalanceOf(account)
	if err != nil {
		t.Fatalf("debt balance: %v", err)
	}
	return d
}

func TestIssueNativeAndLimits(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.IssuePynths(common.RoleOwner, alice, types.PERI, fixed.FromUnits(100)); !errors.Is(err, common.ErrOnlyTokenOrPynth) {
		t.Fatalf("expected entry gate, got %v", err)
	}
	if err := h.engine.IssuePynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if h.debtOf(t, alice).Cmp(fixed.FromUnits(100)) != 0 {
		t.Fatalf("unexpected debt %s", fixed.Format(h.debtOf(t, alice)))
	}
	if h.state.accounts[alice].PynthBalance(types.PUSD).Cmp(fixed.FromUnits(100)) != 0 {
		t.Fatalf("pUSD balance not credited")
	}

	// Max issuable is 10000 PERI * 0.1 * 0.25 = 250.
	if err := h.engine.IssuePynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(200)); !errors.Is(err, errAmountTooLarge) {
		t.Fatalf("over-ratio issuance must fail, got %v", err)
	}
	if err := h.engine.IssueMaxPynths(common.RoleToken, alice); err != nil {
		t.Fatalf("issue max: %v", err)
	}
	if h.debtOf(t, alice).Cmp(fixed.FromUnits(250)) != 0 {
		t.Fatalf("issue max must reach the ratio limit, got %s", fixed.Format(h.debtOf(t, alice)))
	}
	if err := h.engine.IssueMaxPynths(common.RoleToken, alice); !errors.Is(err, errAmountTooLarge) {
		t.Fatalf("issue max at the limit must fail, got %v", err)
	}
}

func TestTransferablePeri(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.IssuePynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	// 100 pUSD debt at ratio 0.25 locks 400 pUSD of PERI = 4000 PERI.
	transferable, err := h.engine.TransferablePeri(alice)
	if err != nil {
		t.Fatalf("transferable: %v", err)
	}
	if transferable.Cmp(fixed.FromUnits(6000)) != 0 {
		t.Fatalf("expected 6000 transferable PERI, got %s", fixed.Format(transferable))
	}

	// Escrowed PERI absorbs the lock first and is never itself transferable.
	h.state.accounts[alice].EscrowedPERI = fixed.FromUnits(1000)
	transferable, err = h.engine.TransferablePeri(alice)
	if err != nil {
		t.Fatalf("transferable: %v", err)
	}
	if transferable.Cmp(fixed.FromUnits(7000)) != 0 {
		t.Fatalf("expected 7000 transferable PERI with escrow, got %s", fixed.Format(transferable))
	}
}

func TestExternalStaking(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.IssuePynths(common.RoleToken, alice, types.PUSD, fixed.FromUnits(10)); !errors.Is(err, errNotStakingCoin) {
		t.Fatalf("pUSD staking must be rejected, got %v", err)
	}
	if err := h.engine.IssuePynths(common.RoleToken, alice, "DAI", fixed.FromUnits(10)); !errors.Is(err, errTokenNotRegistered) {
		t.Fatalf("unregistered token must be rejected, got %v", err)
	}
	if err := h.engine.IssuePynths(common.RoleToken, alice, usdc, fixed.FromUnits(10)); !errors.Is(err, errNoNativeDebt) {
		t.Fatalf("external staking without existing debt must fail, got %v", err)
	}

	if err := h.engine.IssuePynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(100)); err != nil {
		t.Fatalf("issue native: %v", err)
	}
	// 10 pUSD against USDC stakes 10/0.25 = 40 USDC.
	if err := h.engine.IssuePynths(common.RoleToken, alice, usdc, fixed.FromUnits(10)); err != nil {
		t.Fatalf("issue external: %v", err)
	}
	staked, err := h.stakes.StakedAmount(alice, usdc)
	if err != nil {
		t.Fatalf("staked amount: %v", err)
	}
	if staked.Cmp(fixed.FromUnits(40)) != 0 {
		t.Fatalf("expected 40 USDC staked, got %s", fixed.Format(staked))
	}
	if h.state.accounts[alice].TokenBalance(usdc).Cmp(fixed.FromUnits(960)) != 0 {
		t.Fatalf("token balance not debited")
	}
	if h.debtOf(t, alice).Cmp(fixed.FromUnits(110)) != 0 {
		t.Fatalf("unexpected debt %s", fixed.Format(h.debtOf(t, alice)))
	}

	// Staking 40 more pUSD of debt would put external debt (50) over the
	// 20% quota of total debt (150).
	if err := h.engine.IssuePynths(common.RoleToken, alice, usdc, fixed.FromUnits(40)); !errors.Is(err, errQuotaExceeded) {
		t.Fatalf("over-quota staking must fail, got %v", err)
	}
}

func TestIssueToMaxQuota(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.IssuePynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(100)); err != nil {
		t.Fatalf("issue native: %v", err)
	}

	// d = (Q*D - S)/(1 - Q) = (20 - 0)/0.8 = 25 pUSD, staking 100 USDC.
	if err := h.engine.IssuePynthsToMaxQuota(common.RoleToken, alice, usdc); err != nil {
		t.Fatalf("issue to max quota: %v", err)
	}
	if h.debtOf(t, alice).Cmp(fixed.FromUnits(125)) != 0 {
		t.Fatalf("expected debt 125, got %s", fixed.Format(h.debtOf(t, alice)))
	}
	staked, _ := h.stakes.StakedAmount(alice, usdc)
	if staked.Cmp(fixed.FromUnits(100)) != 0 {
		t.Fatalf("expected 100 USDC staked, got %s", fixed.Format(staked))
	}

	// Exactly at quota now; a second call has no headroom.
	if err := h.engine.IssuePynthsToMaxQuota(common.RoleToken, alice, usdc); !errors.Is(err, errNoAvailableStaking) {
		t.Fatalf("at-quota account must be rejected, got %v", err)
	}
}

func TestIssueToMaxQuotaBoundedByBalance(t *testing.T) {
	h := newHarness(t)
	acct := &types.Account{}
	acct.EnsureDefaults()
	acct.BalancePERI = fixed.FromUnits(10000)
	acct.SetTokenBalance(usdc, fixed.FromUnits(10))
	h.state.accounts[bob] = acct
	if err := h.engine.IssuePynths(common.RoleToken, bob, types.PERI, fixed.FromUnits(100)); err != nil {
		t.Fatalf("issue native: %v", err)
	}

	// Quota allows 25 pUSD but 10 USDC only backs 2.5.
	if err := h.engine.IssuePynthsToMaxQuota(common.RoleToken, bob, usdc); err != nil {
		t.Fatalf("issue to max quota: %v", err)
	}
	want, _ := fixed.FromDecimal("102.5")
	if h.debtOf(t, bob).Cmp(want) != 0 {
		t.Fatalf("expected debt 102.5, got %s", fixed.Format(h.debtOf(t, bob)))
	}
	staked, _ := h.stakes.StakedAmount(bob, usdc)
	if staked.Cmp(fixed.FromUnits(10)) != 0 {
		t.Fatalf("stake must be bounded by balance, got %s", fixed.Format(staked))
	}
}

func TestBurnPaths(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.IssuePynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(100)); err != nil {
		t.Fatalf("issue native: %v", err)
	}
	if err := h.engine.IssuePynths(common.RoleToken, alice, usdc, fixed.FromUnits(10)); err != nil {
		t.Fatalf("issue external: %v", err)
	}

	// Unstaking before the minimum stake time is rejected.
	if err := h.engine.BurnPynths(common.RoleToken, alice, usdc, fixed.FromUnits(10)); !errors.Is(err, errMinimumStakeTime) {
		t.Fatalf("expected stake time gate, got %v", err)
	}

	h.now = h.now.Add(25 * time.Hour)
	if err := h.engine.BurnPynths(common.RoleToken, alice, usdc, fixed.FromUnits(10)); err != nil {
		t.Fatalf("burn external: %v", err)
	}
	staked, _ := h.stakes.StakedAmount(alice, usdc)
	if staked.Sign() != 0 {
		t.Fatalf("stake must be released, got %s", fixed.Format(staked))
	}
	if h.state.accounts[alice].TokenBalance(usdc).Cmp(fixed.FromUnits(1000)) != 0 {
		t.Fatalf("token balance must be restored")
	}
	if h.debtOf(t, alice).Cmp(fixed.FromUnits(100)) != 0 {
		t.Fatalf("unexpected debt %s", fixed.Format(h.debtOf(t, alice)))
	}

	if err := h.engine.BurnPynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(100)); err != nil {
		t.Fatalf("burn native: %v", err)
	}
	if h.debtOf(t, alice).Sign() != 0 {
		t.Fatalf("debt must be fully burned")
	}
	if total, _ := h.shares.TotalSupply(); total.Sign() != 0 {
		t.Fatalf("shares must be fully burned")
	}
}

func TestBurnCannotBreakQuota(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.IssuePynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(100)); err != nil {
		t.Fatalf("issue native: %v", err)
	}
	if err := h.engine.IssuePynthsToMaxQuota(common.RoleToken, alice, usdc); err != nil {
		t.Fatalf("issue to max quota: %v", err)
	}

	// Burning native-side debt shrinks the denominator while the external
	// stake stays; the account would end up newly over quota.
	if err := h.engine.BurnPynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(25)); !errors.Is(err, errQuotaExceeded) {
		t.Fatalf("denominator-shrinking burn must fail, got %v", err)
	}
}

func TestFitToClaimableRatio(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.IssueMaxPynths(common.RoleToken, alice); err != nil {
		t.Fatalf("issue max: %v", err)
	}

	if err := h.engine.FitToClaimable(common.RoleToken, alice); !errors.Is(err, errAlreadyClaimable) {
		t.Fatalf("compliant account must be rejected, got %v", err)
	}

	// PERI halves: max issuable drops from 250 to 125.
	h.rates.rates[types.PERI] = mustDecimal(t, "0.05")
	if err := h.engine.FitToClaimable(common.RoleToken, alice); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if h.debtOf(t, alice).Cmp(fixed.FromUnits(125)) != 0 {
		t.Fatalf("fit must burn down to the ratio target, got %s", fixed.Format(h.debtOf(t, alice)))
	}
	ratio, err := h.engine.CollateralisationRatio(alice)
	if err != nil {
		t.Fatalf("c-ratio: %v", err)
	}
	if ratio.Cmp(h.settings.ratio) != 0 {
		t.Fatalf("post-fit c-ratio must equal the target, got %s", fixed.Format(ratio))
	}
	if err := h.engine.FitToClaimable(common.RoleToken, alice); !errors.Is(err, errAlreadyClaimable) {
		t.Fatalf("second fit must be rejected, got %v", err)
	}
}

func TestFitToClaimableQuota(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.IssuePynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(100)); err != nil {
		t.Fatalf("issue native: %v", err)
	}
	if err := h.engine.IssuePynths(common.RoleToken, alice, usdc, fixed.FromUnits(10)); err != nil {
		t.Fatalf("issue external: %v", err)
	}
	if err := h.engine.IssuePynthsToMaxQuota(common.RoleToken, alice, usdc); err != nil {
		t.Fatalf("issue to max quota: %v", err)
	}

	// USDC doubles: the staked value jumps over the quota.
	h.rates.rates[usdc] = fixed.FromUnits(2)
	if err := h.engine.FitToClaimable(common.RoleToken, alice); err != nil {
		t.Fatalf("fit: %v", err)
	}
	ok, err := h.engine.claimable(alice)
	if err != nil {
		t.Fatalf("claimable: %v", err)
	}
	if !ok {
		t.Fatalf("account must be claimable after fit")
	}
	if err := h.engine.FitToClaimable(common.RoleToken, alice); !errors.Is(err, errAlreadyClaimable) {
		t.Fatalf("second fit must be rejected, got %v", err)
	}
	if len(h.recorder.OfType(events.TypeAccountFitted)) != 1 {
		t.Fatalf("expected one fit event")
	}
}

func TestExit(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.IssuePynths(common.RoleToken, alice, types.PERI, fixed.FromUnits(100)); err != nil {
		t.Fatalf("issue native: %v", err)
	}
	if err := h.engine.IssuePynths(common.RoleToken, alice, usdc, fixed.FromUnits(10)); err != nil {
		t.Fatalf("issue external: %v", err)
	}

	if err := h.engine.Exit(common.RoleToken, alice); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if h.debtOf(t, alice).Sign() != 0 {
		t.Fatalf("exit must clear all debt")
	}
	staked, _ := h.stakes.StakedAmount(alice, usdc)
	if staked.Sign() != 0 {
		t.Fatalf("exit must unstake everything")
	}
	if h.state.accounts[alice].TokenBalance(usdc).Cmp(fixed.FromUnits(1000)) != 0 {
		t.Fatalf("exit must return staked tokens")
	}
	if err := h.engine.Exit(common.RoleToken, alice); !errors.Is(err, errNoDebtToExit) {
		t.Fatalf("exit with no debt must fail, got %v", err)
	}
}

func TestPynthRegistry(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.AddPynth(common.RoleToken, "pETH"); !errors.Is(err, common.ErrOnlyOwner) {
		t.Fatalf("expected owner gate, got %v", err)
	}
	if err := h.engine.AddPynth(common.RoleOwner, "pETH"); err != nil {
		t.Fatalf("add pynth: %v", err)
	}
	// Duplicate add is a no-op.
	if err := h.engine.AddPynth(common.RoleOwner, "pETH"); err != nil {
		t.Fatalf("duplicate add: %v", err)
	}
	active, err := h.engine.ActivePynths()
	if err != nil {
		t.Fatalf("active pynths: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected pUSD and pETH, got %v", active)
	}

	if err := h.state.PynthSupplyAdjust("pETH", fixed.FromUnits(5)); err != nil {
		t.Fatalf("adjust supply: %v", err)
	}
	if err := h.engine.RemovePynth(common.RoleOwner, "pETH"); !errors.Is(err, errSupplyNotZero) {
		t.Fatalf("removing a live pynth must fail, got %v", err)
	}
	if err := h.state.PynthSupplyAdjust("pETH", fixed.FromUnits(-5)); err != nil {
		t.Fatalf("adjust supply: %v", err)
	}
	if err := h.engine.RemovePynth(common.RoleOwner, "pETH"); err != nil {
		t.Fatalf("remove pynth: %v", err)
	}
}
