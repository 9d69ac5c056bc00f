package collateral

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
	errZeroAmount          = errors.New("collateral: amount must be positive")
	errRateInvalid         = errors.New("collateral: rate invalid or not found")
	errMinCollateral       = errors.New("Not enough collateral to open a loan")
	errBorrowPower         = errors.New("Exceeds max borrowing power")
	errCratioTooLow        = errors.New("Cratio too low")
	errLoanHealthy         = errors.New("Cratio above liquidation ratio")
	errInteractionDelay    = errors.New("Recently interacted with loan")
	errLoanNotFound        = errors.New("Loan does not exist or has been closed")
	errNotBorrower         = errors.New("collateral: caller does not own the loan")
	errRepayTooHigh        = errors.New("collateral: repayment exceeds amount owed")
	errInsufficientBalance = errors.New("collateral: insufficient balance")
	errWithdrawTooLarge    = errors.New("collateral: withdrawal exceeds collateral")
)

// Loan is one collateralised position. Amount is the outstanding principal in
// units of Currency; AccruedInterest is kept separately and is always paid
// down before principal.
type Loan struct {
	ID              uint64            `json:"id"`
	Account         string            `json:"account"`
	Collateral      *big.Int          `json:"collateral"`
	Currency        types.CurrencyKey `json:"currency"`
	Amount          *big.Int          `json:"amount"`
	AccruedInterest *big.Int          `json:"accruedInterest"`
	Short           bool              `json:"short"`
	LastInteraction time.Time         `json:"lastInteraction"`
}

type engineState interface {
	LoanGet(engine string, id uint64) (Loan, bool, error)
	LoanPut(engine string, loan Loan) error
	LoanDelete(engine string, id uint64) error
	LoanIndexGet(engine, account string) ([]uint64, error)
	LoanIndexPut(engine, account string, ids []uint64) error
	NextLoanID(engine string) (uint64, error)
	AccountGet(addr string) (*types.Account, error)
	AccountPut(addr string, acct *types.Account) error
	PynthSupplyAdjust(key types.CurrencyKey, delta *big.Int) error
}

// Config fixes one loan engine's collateral asset and risk parameters.
type Config struct {
	// Name is the engine's registry identity with the manager.
	Name string
	// CollateralKey is the asset posted as collateral. The quote currency
	// marks a pUSD-collateralised engine (shorts).
	CollateralKey types.CurrencyKey
	// MinCratio is the minimum collateral value over debt value, 18dp.
	MinCratio *big.Int
	// MinCollateral is the smallest position an open may create.
	MinCollateral *big.Int
	// LiquidationPenalty is the liquidator's bonus fraction, 18dp.
	LiquidationPenalty *big.Int
	// Short engines increment the manager's short book and pay the borrower
	// in pUSD instead of the borrowed currency.
	Short bool
}

// Engine is one collateral loan engine. The ETH, ERC-20 and short variants
// are the same engine under different configs; see variants.go.
type Engine struct {
	state   engineState
	manager *Manager
	cfg     Config
	rates   RateSource
	status  *common.Status
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewEngine constructs a loan engine over the supplied state backend.
func NewEngine(state engineState, manager *Manager, cfg Config) *Engine {
	return &Engine{
		state:   state,
		manager: manager,
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// Name is the engine's registry identity with the manager.
func (e *Engine) Name() string {
	return e.cfg.Name
}

// SetRateSource wires the rates engine.
func (e *Engine) SetRateSource(r RateSource) {
	if e == nil || r == nil {
		return
	}
	e.rates = r
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
	if e == nil || e.state == nil || e.manager == nil || e.rates == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) requireLoansActive(currency types.CurrencyKey) error {
	if e.status == nil {
		return nil
	}
	if err := e.status.RequireSectionActive(common.SectionLoans); err != nil {
		return err
	}
	return e.status.RequirePynthActive(currency)
}

func (e *Engine) requireFreshRates(currency types.CurrencyKey) error {
	keys := []types.CurrencyKey{currency}
	if !e.cfg.CollateralKey.IsQuote() {
		keys = append(keys, e.cfg.CollateralKey)
	}
	invalid, err := e.rates.AnyRateIsInvalid(keys)
	if err != nil {
		return err
	}
	if invalid {
		return errRateInvalid
	}
	return nil
}

// collateralBalance reads the account's balance of the posting asset: the
// pynth ledger for quote-collateralised engines, the token ledger otherwise.
func (e *Engine) collateralBalance(acct *types.Account) *big.Int {
	if e.cfg.CollateralKey.IsQuote() {
		return acct.PynthBalance(e.cfg.CollateralKey)
	}
	return acct.TokenBalance(e.cfg.CollateralKey)
}

func (e *Engine) setCollateralBalance(acct *types.Account, v *big.Int) {
	if e.cfg.CollateralKey.IsQuote() {
		acct.SetPynthBalance(e.cfg.CollateralKey, v)
		return
	}
	acct.SetTokenBalance(e.cfg.CollateralKey, v)
}

func (e *Engine) quoteValue(key types.CurrencyKey, amount *big.Int) (*big.Int, error) {
	rate, err := e.rates.RateForCurrency(key)
	if err != nil {
		return nil, err
	}
	if fixed.IsZero(rate) && !key.IsQuote() {
		return nil, errRateInvalid
	}
	if key.IsQuote() {
		return fixed.Set(amount), nil
	}
	return fixed.MulUnit(amount, rate), nil
}

// owed is the loan's principal plus accrued interest.
func (l Loan) owed() *big.Int {
	return new(big.Int).Add(fixed.Set(l.Amount), fixed.Set(l.AccruedInterest))
}

// cratio is collateral value over debt value, zero when the loan carries no
// debt value.
func (e *Engine) cratio(loan Loan) (*big.Int, error) {
	collateralValue, err := e.quoteValue(e.cfg.CollateralKey, loan.Collateral)
	if err != nil {
		return nil, err
	}
	debtValue, err := e.quoteValue(loan.Currency, loan.owed())
	if err != nil {
		return nil, err
	}
	return fixed.DivUnit(collateralValue, debtValue), nil
}

// accrueInterest folds linear interest since the last interaction into the
// loan. The per-second rate comes from the manager's book for this side.
func (e *Engine) accrueInterest(loan *Loan) error {
	var rate *big.Int
	var err error
	if loan.Short {
		rate, err = e.manager.ShortRate(loan.Currency)
	} else {
		rate, err = e.manager.BorrowRate()
	}
	if err != nil {
		return err
	}
	elapsed := int64(e.nowFn().Sub(loan.LastInteraction) / time.Second)
	if elapsed <= 0 || fixed.IsZero(rate) {
		return nil
	}
	factor := new(big.Int).Mul(rate, big.NewInt(elapsed))
	delta := fixed.MulUnit(loan.Amount, factor)
	loan.AccruedInterest = new(big.Int).Add(fixed.Set(loan.AccruedInterest), delta)
	return nil
}

func (e *Engine) checkInteractionDelay(loan Loan) error {
	delay, err := e.manager.InteractionDelay()
	if err != nil {
		return err
	}
	if e.nowFn().Sub(loan.LastInteraction) < delay {
		return errInteractionDelay
	}
	return nil
}

func (e *Engine) loadOwned(account string, id uint64) (Loan, error) {
	loan, ok, err := e.state.LoanGet(e.cfg.Name, id)
	if err != nil {
		return Loan{}, err
	}
	if !ok {
		return Loan{}, errLoanNotFound
	}
	if loan.Account != account {
		return Loan{}, errNotBorrower
	}
	return loan, nil
}

// issueDebt pays the borrower and grows the manager book: longs mint the
// borrowed currency, shorts mint the quote value of the shorted amount.
func (e *Engine) issueDebt(acct *types.Account, currency types.CurrencyKey, amount *big.Int) error {
	if e.cfg.Short {
		value, err := e.quoteValue(currency, amount)
		if err != nil {
			return err
		}
		acct.SetPynthBalance(types.PUSD, new(big.Int).Add(acct.PynthBalance(types.PUSD), value))
		if err := e.state.PynthSupplyAdjust(types.PUSD, value); err != nil {
			return err
		}
		return e.manager.IncrementShorts(common.RoleCollateral, currency, amount)
	}
	acct.SetPynthBalance(currency, new(big.Int).Add(acct.PynthBalance(currency), amount))
	if err := e.state.PynthSupplyAdjust(currency, amount); err != nil {
		return err
	}
	return e.manager.IncrementLongs(common.RoleCollateral, currency, amount)
}

// retireDebt burns payment units of the loan currency from the payer and
// shrinks the manager book by the principal portion only; the interest
// portion accrues to the debt pool.
func (e *Engine) retireDebt(payer *types.Account, loan *Loan, payment *big.Int) error {
	balance := payer.PynthBalance(loan.Currency)
	if balance.Cmp(payment) < 0 {
		return errInsufficientBalance
	}
	interest := fixed.Set(loan.AccruedInterest)
	principal := new(big.Int).Sub(payment, interest)
	if principal.Sign() < 0 {
		loan.AccruedInterest = new(big.Int).Neg(principal)
		principal = big.NewInt(0)
	} else {
		loan.AccruedInterest = big.NewInt(0)
	}
	payer.SetPynthBalance(loan.Currency, new(big.Int).Sub(balance, payment))
	if err := e.state.PynthSupplyAdjust(loan.Currency, new(big.Int).Neg(payment)); err != nil {
		return err
	}
	if principal.Sign() > 0 {
		loan.Amount = new(big.Int).Sub(loan.Amount, principal)
		if loan.Short {
			return e.manager.DecrementShorts(common.RoleCollateral, loan.Currency, principal)
		}
		return e.manager.DecrementLongs(common.RoleCollateral, loan.Currency, principal)
	}
	return nil
}

// Open creates a loan: collateral moves from the account into the position
// and the borrowed amount is paid out. The debt limit and the engine's
// minimum collateral ratio both gate admission.
func (e *Engine) Open(account string, collateralAmount, amount *big.Int, currency types.CurrencyKey) (Loan, error) {
	if err := e.ready(); err != nil {
		return Loan{}, err
	}
	if err := e.requireLoansActive(currency); err != nil {
		return Loan{}, err
	}
	if fixed.IsZero(collateralAmount) || fixed.IsZero(amount) || amount.Sign() < 0 || collateralAmount.Sign() < 0 {
		return Loan{}, errZeroAmount
	}
	if e.cfg.Short {
		if ok, err := e.manager.IsPynthShortable(currency); err != nil {
			return Loan{}, err
		} else if !ok {
			return Loan{}, errNotShortable
		}
	} else {
		if ok, err := e.manager.IsPynthManaged(currency); err != nil {
			return Loan{}, err
		} else if !ok {
			return Loan{}, errNotManaged
		}
	}
	if err := e.requireFreshRates(currency); err != nil {
		return Loan{}, err
	}
	if e.cfg.MinCollateral != nil && collateralAmount.Cmp(e.cfg.MinCollateral) < 0 {
		return Loan{}, errMinCollateral
	}

	exceeds, invalid, err := e.manager.ExceedsDebtLimit(amount, currency)
	if err != nil {
		return Loan{}, err
	}
	if exceeds || invalid {
		return Loan{}, errDebtLimit
	}

	collateralValue, err := e.quoteValue(e.cfg.CollateralKey, collateralAmount)
	if err != nil {
		return Loan{}, err
	}
	debtValue, err := e.quoteValue(currency, amount)
	if err != nil {
		return Loan{}, err
	}
	maxDebtValue := fixed.DivUnit(collateralValue, e.cfg.MinCratio)
	if debtValue.Cmp(maxDebtValue) > 0 {
		return Loan{}, errBorrowPower
	}

	acct, err := e.state.AccountGet(account)
	if err != nil {
		return Loan{}, err
	}
	acct.EnsureDefaults()
	balance := e.collateralBalance(acct)
	if balance.Cmp(collateralAmount) < 0 {
		return Loan{}, errInsufficientBalance
	}
	e.setCollateralBalance(acct, new(big.Int).Sub(balance, collateralAmount))
	if err := e.issueDebt(acct, currency, amount); err != nil {
		return Loan{}, err
	}
	if err := e.state.AccountPut(account, acct); err != nil {
		return Loan{}, err
	}

	id, err := e.state.NextLoanID(e.cfg.Name)
	if err != nil {
		return Loan{}, err
	}
	loan := Loan{
		ID:              id,
		Account:         account,
		Collateral:      fixed.Set(collateralAmount),
		Currency:        currency,
		Amount:          fixed.Set(amount),
		AccruedInterest: big.NewInt(0),
		Short:           e.cfg.Short,
		LastInteraction: e.nowFn(),
	}
	if err := e.state.LoanPut(e.cfg.Name, loan); err != nil {
		return Loan{}, err
	}
	ids, err := e.state.LoanIndexGet(e.cfg.Name, account)
	if err != nil {
		return Loan{}, err
	}
	if err := e.state.LoanIndexPut(e.cfg.Name, account, append(ids, id)); err != nil {
		return Loan{}, err
	}
	e.emitter.Emit(events.LoanCreated{
		ID:         id,
		Engine:     e.cfg.Name,
		Owner:      account,
		Collateral: fixed.Set(collateralAmount),
		Amount:     fixed.Set(amount),
		Currency:   currency,
		Short:      e.cfg.Short,
	})
	return loan, nil
}

// Close repays the full outstanding debt and returns the collateral.
func (e *Engine) Close(account string, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	loan, err := e.loadOwned(account, id)
	if err != nil {
		return err
	}
	if err := e.requireLoansActive(loan.Currency); err != nil {
		return err
	}
	if err := e.checkInteractionDelay(loan); err != nil {
		return err
	}
	if err := e.requireFreshRates(loan.Currency); err != nil {
		return err
	}
	if err := e.accrueInterest(&loan); err != nil {
		return err
	}

	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	if err := e.retireDebt(acct, &loan, loan.owed()); err != nil {
		return err
	}
	e.setCollateralBalance(acct, new(big.Int).Add(e.collateralBalance(acct), loan.Collateral))
	if err := e.state.AccountPut(account, acct); err != nil {
		return err
	}
	if err := e.removeLoan(loan); err != nil {
		return err
	}
	e.emitter.Emit(events.LoanClosed{ID: id, Owner: account})
	return nil
}

// Deposit moves additional collateral from the account into the loan.
func (e *Engine) Deposit(account string, id uint64, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return errZeroAmount
	}
	loan, err := e.loadOwned(account, id)
	if err != nil {
		return err
	}
	if err := e.requireLoansActive(loan.Currency); err != nil {
		return err
	}
	if err := e.checkInteractionDelay(loan); err != nil {
		return err
	}
	if err := e.accrueInterest(&loan); err != nil {
		return err
	}

	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	balance := e.collateralBalance(acct)
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	e.setCollateralBalance(acct, new(big.Int).Sub(balance, amount))
	if err := e.state.AccountPut(account, acct); err != nil {
		return err
	}
	loan.Collateral = new(big.Int).Add(loan.Collateral, amount)
	return e.touchAndStore(loan, "deposit", amount)
}

// Withdraw removes collateral from the loan; the position must stay at or
// above the minimum collateral ratio.
func (e *Engine) Withdraw(account string, id uint64, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return errZeroAmount
	}
	loan, err := e.loadOwned(account, id)
	if err != nil {
		return err
	}
	if err := e.requireLoansActive(loan.Currency); err != nil {
		return err
	}
	if err := e.checkInteractionDelay(loan); err != nil {
		return err
	}
	if err := e.requireFreshRates(loan.Currency); err != nil {
		return err
	}
	if err := e.accrueInterest(&loan); err != nil {
		return err
	}
	if loan.Collateral.Cmp(amount) < 0 {
		return errWithdrawTooLarge
	}
	loan.Collateral = new(big.Int).Sub(loan.Collateral, amount)
	ratio, err := e.cratio(loan)
	if err != nil {
		return err
	}
	if ratio.Cmp(e.cfg.MinCratio) < 0 {
		return errCratioTooLow
	}

	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	e.setCollateralBalance(acct, new(big.Int).Add(e.collateralBalance(acct), amount))
	if err := e.state.AccountPut(account, acct); err != nil {
		return err
	}
	return e.touchAndStore(loan, "withdraw", amount)
}

// Draw borrows more against the existing collateral; the debt limit and the
// minimum collateral ratio both gate admission.
func (e *Engine) Draw(account string, id uint64, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return errZeroAmount
	}
	loan, err := e.loadOwned(account, id)
	if err != nil {
		return err
	}
	if err := e.requireLoansActive(loan.Currency); err != nil {
		return err
	}
	if err := e.checkInteractionDelay(loan); err != nil {
		return err
	}
	if err := e.requireFreshRates(loan.Currency); err != nil {
		return err
	}
	if err := e.accrueInterest(&loan); err != nil {
		return err
	}
	exceeds, invalid, err := e.manager.ExceedsDebtLimit(amount, loan.Currency)
	if err != nil {
		return err
	}
	if exceeds || invalid {
		return errDebtLimit
	}
	loan.Amount = new(big.Int).Add(loan.Amount, amount)
	ratio, err := e.cratio(loan)
	if err != nil {
		return err
	}
	if ratio.Cmp(e.cfg.MinCratio) < 0 {
		return errBorrowPower
	}

	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	if err := e.issueDebt(acct, loan.Currency, amount); err != nil {
		return err
	}
	if err := e.state.AccountPut(account, acct); err != nil {
		return err
	}
	return e.touchAndStore(loan, "draw", amount)
}

// Repay pays down accrued interest first, then principal.
func (e *Engine) Repay(account string, id uint64, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return errZeroAmount
	}
	loan, err := e.loadOwned(account, id)
	if err != nil {
		return err
	}
	if err := e.requireLoansActive(loan.Currency); err != nil {
		return err
	}
	if err := e.checkInteractionDelay(loan); err != nil {
		return err
	}
	if err := e.accrueInterest(&loan); err != nil {
		return err
	}
	if amount.Cmp(loan.owed()) > 0 {
		return errRepayTooHigh
	}

	acct, err := e.state.AccountGet(account)
	if err != nil {
		return err
	}
	acct.EnsureDefaults()
	if err := e.retireDebt(acct, &loan, amount); err != nil {
		return err
	}
	if err := e.state.AccountPut(account, acct); err != nil {
		return err
	}
	if loan.owed().Sign() == 0 {
		ownerAcct, err := e.state.AccountGet(loan.Account)
		if err != nil {
			return err
		}
		ownerAcct.EnsureDefaults()
		e.setCollateralBalance(ownerAcct, new(big.Int).Add(e.collateralBalance(ownerAcct), loan.Collateral))
		if err := e.state.AccountPut(loan.Account, ownerAcct); err != nil {
			return err
		}
		if err := e.removeLoan(loan); err != nil {
			return err
		}
		e.emitter.Emit(events.LoanClosed{ID: id, Owner: loan.Account})
		return nil
	}
	return e.touchAndStore(loan, "repay", amount)
}

// Liquidate lets anyone repay an under-collateralised loan and seize the
// matching collateral plus the penalty bonus. The repayment is capped at
// what restores the minimum ratio, so liquidations take the smallest
// corrective bite.
func (e *Engine) Liquidate(liquidator string, id uint64, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return errZeroAmount
	}
	loan, ok, err := e.state.LoanGet(e.cfg.Name, id)
	if err != nil {
		return err
	}
	if !ok {
		return errLoanNotFound
	}
	if err := e.requireLoansActive(loan.Currency); err != nil {
		return err
	}
	if err := e.requireFreshRates(loan.Currency); err != nil {
		return err
	}
	if err := e.accrueInterest(&loan); err != nil {
		return err
	}
	ratio, err := e.cratio(loan)
	if err != nil {
		return err
	}
	if ratio.Cmp(e.cfg.MinCratio) >= 0 {
		return errLoanHealthy
	}

	needed, err := e.liquidationAmount(loan)
	if err != nil {
		return err
	}
	repay := fixed.Clamp(amount, nil, needed)
	repay = fixed.Clamp(repay, nil, loan.owed())

	repayValue, err := e.quoteValue(loan.Currency, repay)
	if err != nil {
		return err
	}
	bonus := new(big.Int).Add(fixed.Unit(), fixed.Set(e.cfg.LiquidationPenalty))
	seizedValue := fixed.MulUnit(repayValue, bonus)
	collateralRate, err := e.rates.RateForCurrency(e.cfg.CollateralKey)
	if err != nil {
		return err
	}
	var seized *big.Int
	if e.cfg.CollateralKey.IsQuote() {
		seized = seizedValue
	} else {
		seized = fixed.DivUnit(seizedValue, collateralRate)
	}
	seized = fixed.Clamp(seized, nil, loan.Collateral)

	liqAcct, err := e.state.AccountGet(liquidator)
	if err != nil {
		return err
	}
	liqAcct.EnsureDefaults()
	if err := e.retireDebt(liqAcct, &loan, repay); err != nil {
		return err
	}
	e.setCollateralBalance(liqAcct, new(big.Int).Add(e.collateralBalance(liqAcct), seized))
	if err := e.state.AccountPut(liquidator, liqAcct); err != nil {
		return err
	}
	loan.Collateral = new(big.Int).Sub(loan.Collateral, seized)

	if loan.owed().Sign() == 0 {
		ownerAcct, err := e.state.AccountGet(loan.Account)
		if err != nil {
			return err
		}
		ownerAcct.EnsureDefaults()
		e.setCollateralBalance(ownerAcct, new(big.Int).Add(e.collateralBalance(ownerAcct), loan.Collateral))
		if err := e.state.AccountPut(loan.Account, ownerAcct); err != nil {
			return err
		}
		if err := e.removeLoan(loan); err != nil {
			return err
		}
	} else {
		loan.LastInteraction = e.nowFn()
		if err := e.state.LoanPut(e.cfg.Name, loan); err != nil {
			return err
		}
	}
	e.emitter.Emit(events.LoanLiquidated{
		ID:         id,
		Engine:     e.cfg.Name,
		Owner:      loan.Account,
		Liquidator: liquidator,
		Repaid:     fixed.Set(repay),
		Seized:     fixed.Set(seized),
	})
	return nil
}

// liquidationAmount solves for the repayment that restores the minimum
// ratio: x = (mc*D - C) / (mc - (1+p)), all in quote terms, converted back
// into loan currency units.
func (e *Engine) liquidationAmount(loan Loan) (*big.Int, error) {
	collateralValue, err := e.quoteValue(e.cfg.CollateralKey, loan.Collateral)
	if err != nil {
		return nil, err
	}
	debtValue, err := e.quoteValue(loan.Currency, loan.owed())
	if err != nil {
		return nil, err
	}
	bonus := new(big.Int).Add(fixed.Unit(), fixed.Set(e.cfg.LiquidationPenalty))
	denom := new(big.Int).Sub(fixed.Set(e.cfg.MinCratio), bonus)
	if denom.Sign() <= 0 {
		// Penalty at or above the ratio: no partial repayment can restore
		// health, take the whole debt.
		return loan.owed(), nil
	}
	num := new(big.Int).Sub(fixed.MulUnit(e.cfg.MinCratio, debtValue), collateralValue)
	if num.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	valueNeeded := fixed.DivUnit(num, denom)
	rate, err := e.rates.RateForCurrency(loan.Currency)
	if err != nil {
		return nil, err
	}
	if loan.Currency.IsQuote() {
		return valueNeeded, nil
	}
	return fixed.DivUnit(valueNeeded, rate), nil
}

// Loan returns one position by id.
func (e *Engine) Loan(id uint64) (Loan, error) {
	if e == nil || e.state == nil {
		return Loan{}, errNilState
	}
	loan, ok, err := e.state.LoanGet(e.cfg.Name, id)
	if err != nil {
		return Loan{}, err
	}
	if !ok {
		return Loan{}, errLoanNotFound
	}
	return loan, nil
}

// AccountLoans lists the account's open loan ids for this engine.
func (e *Engine) AccountLoans(account string) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.LoanIndexGet(e.cfg.Name, account)
}

// CollateralRatio returns the loan's current ratio with interest accrued to
// now, without persisting the accrual.
func (e *Engine) CollateralRatio(id uint64) (*big.Int, error) {
	loan, err := e.Loan(id)
	if err != nil {
		return nil, err
	}
	if err := e.accrueInterest(&loan); err != nil {
		return nil, err
	}
	return e.cratio(loan)
}

func (e *Engine) touchAndStore(loan Loan, action string, amount *big.Int) error {
	loan.LastInteraction = e.nowFn()
	if err := e.state.LoanPut(e.cfg.Name, loan); err != nil {
		return err
	}
	e.emitter.Emit(events.LoanModified{
		ID:         loan.ID,
		Owner:      loan.Account,
		Action:     action,
		Amount:     fixed.Set(amount),
		Collateral: fixed.Set(loan.Collateral),
		Principal:  fixed.Set(loan.Amount),
	})
	return nil
}

func (e *Engine) removeLoan(loan Loan) error {
	if err := e.state.LoanDelete(e.cfg.Name, loan.ID); err != nil {
		return err
	}
	ids, err := e.state.LoanIndexGet(e.cfg.Name, loan.Account)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if id == loan.ID {
			continue
		}
		kept = append(kept, id)
	}
	return e.state.LoanIndexPut(e.cfg.Name, loan.Account, kept)
}
