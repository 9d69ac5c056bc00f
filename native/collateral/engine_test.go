package collateral

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

const (
	alice = "peri1alice"
	bob   = "peri1bob"
	pETH  = types.CurrencyKey("pETH")
)

type memState struct {
	collaterals []string
	managed     []types.CurrencyKey
	shortable   []types.CurrencyKey
	longs       map[types.CurrencyKey]*big.Int
	shorts      map[types.CurrencyKey]*big.Int
	borrowRate  *big.Int
	shortRates  map[types.CurrencyKey]*big.Int

	loans    map[string]map[uint64]Loan
	indexes  map[string]map[string][]uint64
	nextID   map[string]uint64
	accounts map[string]*types.Account
	supplies map[types.CurrencyKey]*big.Int
}

func newMemState() *memState {
	return &memState{
		longs:      make(map[types.CurrencyKey]*big.Int),
		shorts:     make(map[types.CurrencyKey]*big.Int),
		borrowRate: big.NewInt(0),
		shortRates: make(map[types.CurrencyKey]*big.Int),
		loans:      make(map[string]map[uint64]Loan),
		indexes:    make(map[string]map[string][]uint64),
		nextID:     make(map[string]uint64),
		accounts:   make(map[string]*types.Account),
		supplies:   make(map[types.CurrencyKey]*big.Int),
	}
}

func (m *memState) CollateralRegistryGet() ([]string, error) { return m.collaterals, nil }

func (m *memState) CollateralRegistryPut(names []string) error {
	m.collaterals = append([]string(nil), names...)
	return nil
}

func (m *memState) ManagedPynthsGet() ([]types.CurrencyKey, error) { return m.managed, nil }

func (m *memState) ManagedPynthsPut(keys []types.CurrencyKey) error {
	m.managed = append([]types.CurrencyKey(nil), keys...)
	return nil
}

func (m *memState) ShortablePynthsGet() ([]types.CurrencyKey, error) { return m.shortable, nil }

func (m *memState) ShortablePynthsPut(keys []types.CurrencyKey) error {
	m.shortable = append([]types.CurrencyKey(nil), keys...)
	return nil
}

func (m *memState) LongBookGet(key types.CurrencyKey) (*big.Int, error) {
	if v, ok := m.longs[key]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *memState) LongBookAdjust(key types.CurrencyKey, delta *big.Int) error {
	prev, _ := m.LongBookGet(key)
	m.longs[key] = prev.Add(prev, delta)
	return nil
}

func (m *memState) ShortBookGet(key types.CurrencyKey) (*big.Int, error) {
	if v, ok := m.shorts[key]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *memState) ShortBookAdjust(key types.CurrencyKey, delta *big.Int) error {
	prev, _ := m.ShortBookGet(key)
	m.shorts[key] = prev.Add(prev, delta)
	return nil
}

func (m *memState) BorrowRateGet() (*big.Int, error) { return new(big.Int).Set(m.borrowRate), nil }

func (m *memState) BorrowRatePut(rate *big.Int) error {
	m.borrowRate = new(big.Int).Set(rate)
	return nil
}

func (m *memState) ShortRateGet(key types.CurrencyKey) (*big.Int, error) {
	if v, ok := m.shortRates[key]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *memState) ShortRatePut(key types.CurrencyKey, rate *big.Int) error {
	m.shortRates[key] = new(big.Int).Set(rate)
	return nil
}

func (m *memState) LoanGet(engine string, id uint64) (Loan, bool, error) {
	loan, ok := m.loans[engine][id]
	return loan, ok, nil
}

func (m *memState) LoanPut(engine string, loan Loan) error {
	if m.loans[engine] == nil {
		m.loans[engine] = make(map[uint64]Loan)
	}
	m.loans[engine][loan.ID] = loan
	return nil
}

func (m *memState) LoanDelete(engine string, id uint64) error {
	delete(m.loans[engine], id)
	return nil
}

func (m *memState) LoanIndexGet(engine, account string) ([]uint64, error) {
	return m.indexes[engine][account], nil
}

func (m *memState) LoanIndexPut(engine, account string, ids []uint64) error {
	if m.indexes[engine] == nil {
		m.indexes[engine] = make(map[string][]uint64)
	}
	m.indexes[engine][account] = append([]uint64(nil), ids...)
	return nil
}

func (m *memState) NextLoanID(engine string) (uint64, error) {
	m.nextID[engine]++
	return m.nextID[engine], nil
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

func (m *memState) PynthSupplyAdjust(key types.CurrencyKey, delta *big.Int) error {
	prev, ok := m.supplies[key]
	if !ok {
		prev = big.NewInt(0)
	}
	m.supplies[key] = new(big.Int).Add(prev, delta)
	return nil
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
	maxDebt *big.Int
	delay   time.Duration
}

func (f *fakeSettings) MaxCollateralDebt() (*big.Int, error) { return new(big.Int).Set(f.maxDebt), nil }

func (f *fakeSettings) InteractionDelay() (time.Duration, error) { return f.delay, nil }

type harness struct {
	state    *memState
	manager  *Manager
	eth      *Engine
	short    *Engine
	rates    *fakeRates
	settings *fakeSettings
	recorder *events.Recorder
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:    newMemState(),
		settings: &fakeSettings{maxDebt: fixed.FromUnits(10_000_000), delay: 5 * time.Minute},
		recorder: events.NewRecorder(),
		now:      time.Unix(1_700_000_000, 0),
	}
	h.rates = &fakeRates{rates: map[types.CurrencyKey]*big.Int{
		ETH:  fixed.FromUnits(100),
		pETH: fixed.FromUnits(100),
	}}
	h.manager = NewManager(h.state)
	h.manager.SetRateSource(h.rates)
	h.manager.SetSettings(h.settings)

	h.eth = NewEthEngine(h.state, h.manager)
	h.eth.SetRateSource(h.rates)
	h.eth.SetEmitter(h.recorder)
	h.eth.SetClock(func() time.Time { return h.now })

	h.short = NewShortEngine(h.state, h.manager)
	h.short.SetRateSource(h.rates)
	h.short.SetEmitter(h.recorder)
	h.short.SetClock(func() time.Time { return h.now })

	if err := h.manager.AddCollaterals(common.RoleOwner, []string{NameEth, NameShort}); err != nil {
		t.Fatalf("add collaterals: %v", err)
	}
	if err := h.manager.AddPynths(common.RoleOwner, []string{"PynthpUSD"}, []types.CurrencyKey{types.PUSD}); err != nil {
		t.Fatalf("add pynths: %v", err)
	}
	if err := h.manager.AddShortablePynths(common.RoleOwner, []string{"PynthpETH"}, []types.CurrencyKey{pETH}); err != nil {
		t.Fatalf("add shortable: %v", err)
	}

	acct := &types.Account{}
	acct.EnsureDefaults()
	acct.SetTokenBalance(ETH, fixed.FromUnits(100))
	h.state.accounts[alice] = acct
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) aliceAcct() *types.Account { return h.state.accounts[alice] }

func TestRegistriesAndGates(t *testing.T) {
	h := newHarness(t)

	if err := h.manager.AddCollaterals(common.RoleCollateral, []string{"X"}); !errors.Is(err, common.ErrOnlyOwner) {
		t.Fatalf("expected owner gate, got %v", err)
	}
	// Duplicate adds are no-ops.
	if err := h.manager.AddCollaterals(common.RoleOwner, []string{NameEth}); err != nil {
		t.Fatalf("duplicate add: %v", err)
	}
	names, _ := h.state.CollateralRegistryGet()
	if len(names) != 2 {
		t.Fatalf("duplicate add must not grow the registry, got %v", names)
	}

	err := h.manager.AddPynths(common.RoleOwner, []string{"a", "b"}, []types.CurrencyKey{"pX"})
	if err == nil || err.Error() != "Input array length mismatch" {
		t.Fatalf("expected length mismatch, got %v", err)
	}

	if err := h.manager.IncrementLongs(common.RoleOwner, types.PUSD, fixed.FromUnits(1)); !errors.Is(err, common.ErrOnlyCollateral) {
		t.Fatalf("book mutation must be collateral-only, got %v", err)
	}
	if err := h.manager.UpdateBorrowRate(common.RoleOwner, big.NewInt(1)); !errors.Is(err, common.ErrOnlyCollateral) {
		t.Fatalf("rate mutation must be collateral-only, got %v", err)
	}
	if err := h.manager.IncrementLongs(common.RoleCollateral, "pXYZ", fixed.FromUnits(1)); !errors.Is(err, errNotManaged) {
		t.Fatalf("unmanaged currency must be rejected, got %v", err)
	}
}

func TestAggregates(t *testing.T) {
	h := newHarness(t)

	if err := h.manager.IncrementLongs(common.RoleCollateral, types.PUSD, fixed.FromUnits(1000)); err != nil {
		t.Fatalf("increment longs: %v", err)
	}
	if err := h.manager.IncrementShorts(common.RoleCollateral, pETH, fixed.FromUnits(20)); err != nil {
		t.Fatalf("increment shorts: %v", err)
	}

	long, invalid, err := h.manager.TotalLong()
	if err != nil || invalid {
		t.Fatalf("total long: %v invalid=%v", err, invalid)
	}
	if long.Cmp(fixed.FromUnits(1000)) != 0 {
		t.Fatalf("expected long 1000, got %s", fixed.Format(long))
	}
	short, _, err := h.manager.TotalShort()
	if err != nil {
		t.Fatalf("total short: %v", err)
	}
	if short.Cmp(fixed.FromUnits(2000)) != 0 {
		t.Fatalf("expected short 2000, got %s", fixed.Format(short))
	}
	both, invalid, err := h.manager.TotalLongAndShort()
	if err != nil || invalid {
		t.Fatalf("combined: %v invalid=%v", err, invalid)
	}
	if both.Cmp(fixed.FromUnits(3000)) != 0 {
		t.Fatalf("expected combined 3000, got %s", fixed.Format(both))
	}

	// A missing rate flags the aggregate invalid without erroring.
	delete(h.rates.rates, pETH)
	_, invalid, err = h.manager.TotalLongAndShort()
	if err != nil {
		t.Fatalf("combined with missing rate: %v", err)
	}
	if !invalid {
		t.Fatalf("missing rate must flag the aggregate invalid")
	}

	if err := h.manager.DecrementShorts(common.RoleCollateral, pETH, fixed.FromUnits(30)); !errors.Is(err, errNegativeBook) {
		t.Fatalf("over-decrement must fail, got %v", err)
	}
}

func TestOpenChecks(t *testing.T) {
	h := newHarness(t)

	if _, err := h.eth.Open(alice, fixed.FromUnits(1), fixed.FromUnits(10), types.PUSD); !errors.Is(err, errMinCollateral) {
		t.Fatalf("below minimum collateral must fail, got %v", err)
	}
	if _, err := h.eth.Open(alice, fixed.FromUnits(10), fixed.FromUnits(10), "pXYZ"); !errors.Is(err, errNotManaged) {
		t.Fatalf("unmanaged currency must fail, got %v", err)
	}
	// 10 ETH = 1000 pUSD of collateral caps borrowing at 1000/1.3.
	if _, err := h.eth.Open(alice, fixed.FromUnits(10), fixed.FromUnits(800), types.PUSD); !errors.Is(err, errBorrowPower) {
		t.Fatalf("over borrow power must fail, got %v", err)
	}
	h.settings.maxDebt = fixed.FromUnits(100)
	if _, err := h.eth.Open(alice, fixed.FromUnits(10), fixed.FromUnits(500), types.PUSD); !errors.Is(err, errDebtLimit) {
		t.Fatalf("debt limit must gate admission, got %v", err)
	}
	h.settings.maxDebt = fixed.FromUnits(10_000_000)

	loan, err := h.eth.Open(alice, fixed.FromUnits(10), fixed.FromUnits(500), types.PUSD)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if loan.ID != 1 {
		t.Fatalf("loan ids start at 1, got %d", loan.ID)
	}
	if h.aliceAcct().TokenBalance(ETH).Cmp(fixed.FromUnits(90)) != 0 {
		t.Fatalf("collateral not taken")
	}
	if h.aliceAcct().PynthBalance(types.PUSD).Cmp(fixed.FromUnits(500)) != 0 {
		t.Fatalf("borrowed amount not paid out")
	}
	long, _, _ := h.manager.Long(types.PUSD)
	if long.Cmp(fixed.FromUnits(500)) != 0 {
		t.Fatalf("long book not updated, got %s", fixed.Format(long))
	}
	ids, _ := h.eth.AccountLoans(alice)
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("owner index not updated: %v", ids)
	}
}

func TestInteractionDelayThrottle(t *testing.T) {
	h := newHarness(t)
	loan, err := h.eth.Open(alice, fixed.FromUnits(10), fixed.FromUnits(500), types.PUSD)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := h.eth.Deposit(alice, loan.ID, fixed.FromUnits(1)); !errors.Is(err, errInteractionDelay) {
		t.Fatalf("mutation inside the delay must fail, got %v", err)
	}
	h.advance(5 * time.Minute)
	if err := h.eth.Deposit(alice, loan.ID, fixed.FromUnits(1)); err != nil {
		t.Fatalf("deposit after delay: %v", err)
	}
	// The deposit restarted the clock.
	if err := h.eth.Withdraw(alice, loan.ID, fixed.FromUnits(1)); !errors.Is(err, errInteractionDelay) {
		t.Fatalf("delay must restart on every interaction, got %v", err)
	}
}

func TestWithdrawKeepsRatio(t *testing.T) {
	h := newHarness(t)
	loan, err := h.eth.Open(alice, fixed.FromUnits(10), fixed.FromUnits(500), types.PUSD)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.advance(5 * time.Minute)

	// 6 ETH = 600 against 500 debt is 1.2, below the 1.3 minimum.
	if err := h.eth.Withdraw(alice, loan.ID, fixed.FromUnits(4)); !errors.Is(err, errCratioTooLow) {
		t.Fatalf("ratio-breaking withdrawal must fail, got %v", err)
	}
	if err := h.eth.Withdraw(alice, loan.ID, fixed.FromUnits(3)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if h.aliceAcct().TokenBalance(ETH).Cmp(fixed.FromUnits(93)) != 0 {
		t.Fatalf("collateral not returned")
	}
}

func TestInterestAccrualAndRepay(t *testing.T) {
	h := newHarness(t)
	// 1e12 per second is 0.0001% per second in 18dp terms.
	if err := h.manager.UpdateBorrowRate(common.RoleCollateral, big.NewInt(1_000_000_000_000)); err != nil {
		t.Fatalf("set borrow rate: %v", err)
	}
	loan, err := h.eth.Open(alice, fixed.FromUnits(10), fixed.FromUnits(500), types.PUSD)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// 2000 seconds at 1e-6/s on 500 principal accrues exactly 1 pUSD.
	h.advance(2000 * time.Second)
	if err := h.eth.Repay(alice, loan.ID, fixed.FromUnits(100)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	got, err := h.eth.Loan(loan.ID)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	// 1 of the 100 paid interest; 99 retired principal.
	if got.Amount.Cmp(fixed.FromUnits(401)) != 0 {
		t.Fatalf("expected principal 401, got %s", fixed.Format(got.Amount))
	}
	if got.AccruedInterest.Sign() != 0 {
		t.Fatalf("interest must be paid first")
	}
	long, _, _ := h.manager.Long(types.PUSD)
	if long.Cmp(fixed.FromUnits(401)) != 0 {
		t.Fatalf("book must shrink by the principal portion only, got %s", fixed.Format(long))
	}
	if h.aliceAcct().PynthBalance(types.PUSD).Cmp(fixed.FromUnits(400)) != 0 {
		t.Fatalf("full payment must leave the payer")
	}

	h.advance(5 * time.Minute)
	owed, _ := h.eth.Loan(loan.ID)
	if err := h.eth.Repay(alice, loan.ID, new(big.Int).Add(owed.owed(), fixed.FromUnits(1000))); !errors.Is(err, errRepayTooHigh) {
		t.Fatalf("overpayment must fail, got %v", err)
	}
}

func TestCloseReturnsCollateral(t *testing.T) {
	h := newHarness(t)
	loan, err := h.eth.Open(alice, fixed.FromUnits(10), fixed.FromUnits(500), types.PUSD)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.advance(5 * time.Minute)

	if err := h.eth.Close(bob, loan.ID); !errors.Is(err, errNotBorrower) {
		t.Fatalf("close by a stranger must fail, got %v", err)
	}
	if err := h.eth.Close(alice, loan.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if h.aliceAcct().TokenBalance(ETH).Cmp(fixed.FromUnits(100)) != 0 {
		t.Fatalf("collateral must return on close")
	}
	if h.aliceAcct().PynthBalance(types.PUSD).Sign() != 0 {
		t.Fatalf("debt must be burned on close")
	}
	long, _, _ := h.manager.Long(types.PUSD)
	if long.Sign() != 0 {
		t.Fatalf("book must be empty after close, got %s", fixed.Format(long))
	}
	if _, err := h.eth.Loan(loan.ID); !errors.Is(err, errLoanNotFound) {
		t.Fatalf("closed loan must be gone, got %v", err)
	}
	if len(h.recorder.OfType(events.TypeLoanClosed)) != 1 {
		t.Fatalf("expected one close event")
	}
}

func TestLiquidation(t *testing.T) {
	h := newHarness(t)
	loan, err := h.eth.Open(alice, fixed.FromUnits(10), fixed.FromUnits(700), types.PUSD)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bobAcct := &types.Account{}
	bobAcct.EnsureDefaults()
	bobAcct.SetPynthBalance(types.PUSD, fixed.FromUnits(1000))
	h.state.accounts[bob] = bobAcct

	if err := h.eth.Liquidate(bob, loan.ID, fixed.FromUnits(100)); !errors.Is(err, errLoanHealthy) {
		t.Fatalf("healthy loan must not be liquidatable, got %v", err)
	}

	// ETH drops to 80: collateral 800 against 700 debt is under 1.3.
	h.rates.rates[ETH] = fixed.FromUnits(80)
	// The corrective repayment is (1.3*700 - 800)/(1.3 - 1.1) = 550; the
	// request is capped there even when asking for more.
	if err := h.eth.Liquidate(bob, loan.ID, fixed.FromUnits(10_000)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	got, err := h.eth.Loan(loan.ID)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	if got.Amount.Cmp(fixed.FromUnits(150)) != 0 {
		t.Fatalf("expected residual principal 150, got %s", fixed.Format(got.Amount))
	}
	// 550 * 1.1 = 605 pUSD of collateral at 80 = 7.5625 ETH seized.
	seized, _ := fixed.FromDecimal("7.5625")
	if h.state.accounts[bob].TokenBalance(ETH).Cmp(seized) != 0 {
		t.Fatalf("expected %s ETH seized, got %s", fixed.Format(seized), fixed.Format(h.state.accounts[bob].TokenBalance(ETH)))
	}
	if h.state.accounts[bob].PynthBalance(types.PUSD).Cmp(fixed.FromUnits(450)) != 0 {
		t.Fatalf("liquidator must pay exactly the capped amount")
	}
	// The remaining position sits exactly at the minimum ratio.
	ratio, err := h.eth.CollateralRatio(loan.ID)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	min, _ := fixed.FromDecimal("1.3")
	if ratio.Cmp(min) != 0 {
		t.Fatalf("post-liquidation ratio must equal the minimum, got %s", fixed.Format(ratio))
	}
	if len(h.recorder.OfType(events.TypeLoanLiquidated)) != 1 {
		t.Fatalf("expected one liquidation event")
	}
}

func TestShortLifecycle(t *testing.T) {
	h := newHarness(t)
	acct := h.aliceAcct()
	acct.SetPynthBalance(types.PUSD, fixed.FromUnits(5000))

	// Shorting 20 pETH (2000) against 3000 pUSD collateral pays the quote
	// value out, not the pynth itself.
	loan, err := h.short.Open(alice, fixed.FromUnits(3000), fixed.FromUnits(20), pETH)
	if err != nil {
		t.Fatalf("open short: %v", err)
	}
	if h.aliceAcct().PynthBalance(types.PUSD).Cmp(fixed.FromUnits(4000)) != 0 {
		t.Fatalf("short proceeds must be pUSD, got %s", fixed.Format(h.aliceAcct().PynthBalance(types.PUSD)))
	}
	short, _, _ := h.manager.Short(pETH)
	if short.Cmp(fixed.FromUnits(2000)) != 0 {
		t.Fatalf("short book not updated, got %s", fixed.Format(short))
	}

	// Closing needs the shorted pynth back.
	h.advance(5 * time.Minute)
	if err := h.short.Close(alice, loan.ID); !errors.Is(err, errInsufficientBalance) {
		t.Fatalf("close without the pynth must fail, got %v", err)
	}
	h.aliceAcct().SetPynthBalance(pETH, fixed.FromUnits(20))
	if err := h.short.Close(alice, loan.ID); err != nil {
		t.Fatalf("close short: %v", err)
	}
	if h.aliceAcct().PynthBalance(types.PUSD).Cmp(fixed.FromUnits(7000)) != 0 {
		t.Fatalf("collateral must return on close, got %s", fixed.Format(h.aliceAcct().PynthBalance(types.PUSD)))
	}
	if h.aliceAcct().PynthBalance(pETH).Sign() != 0 {
		t.Fatalf("shorted pynth must be burned on close")
	}
	short, _, _ = h.manager.Short(pETH)
	if short.Sign() != 0 {
		t.Fatalf("short book must be empty, got %s", fixed.Format(short))
	}
}

func TestSectionSuspensionBlocksLoans(t *testing.T) {
	h := newHarness(t)
	status := common.NewStatus()
	h.eth.SetStatus(status)
	if err := status.SuspendSection(common.RoleOwner, common.SectionLoans); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := h.eth.Open(alice, fixed.FromUnits(10), fixed.FromUnits(500), types.PUSD); !errors.Is(err, common.ErrOperationProhibited) {
		t.Fatalf("suspended section must block opens, got %v", err)
	}
}
