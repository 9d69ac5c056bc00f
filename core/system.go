// Package core assembles the protocol engines over a shared persistence
// layer and exposes the operations callers invoke. Every state-changing
// facade method runs inside a write batch, so a failing operation leaves no
// partial writes behind.
package core

import (
	"errors"
	"math/big"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/events"
	"github.com/perifinance/peri-finance-sub001/core/state"
	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/crypto"
	"github.com/perifinance/peri-finance-sub001/native/collateral"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/crosschain"
	"github.com/perifinance/peri-finance-sub001/native/debt"
	"github.com/perifinance/peri-finance-sub001/native/exchange"
	"github.com/perifinance/peri-finance-sub001/native/feepool"
	"github.com/perifinance/peri-finance-sub001/native/issuer"
	"github.com/perifinance/peri-finance-sub001/native/rates"
	"github.com/perifinance/peri-finance-sub001/native/settings"
	"github.com/perifinance/peri-finance-sub001/storage"
)

var (
	errUnknownLoanEngine = errors.New("core: unknown loan engine")
	errInvalidAccount    = errors.New("core: invalid account address")
)

// requireAccounts rejects identifiers that are not well-formed peri-prefixed
// bech32 addresses before any engine work runs. Engines themselves treat
// accounts as opaque strings, so the boundary check lives here.
func requireAccounts(accounts ...string) error {
	for _, account := range accounts {
		addr, err := crypto.DecodeAddress(account)
		if err != nil || addr.Prefix() != crypto.PeriPrefix {
			return errInvalidAccount
		}
	}
	return nil
}

// System is the assembled protocol. Engine fields are exported for read-only
// queries; mutations go through the facade methods so they batch atomically.
type System struct {
	State     *state.Manager
	Status    *common.Status
	Settings  *settings.Store
	Rates     *rates.Engine
	Exchanger *exchange.Engine
	Debt      *debt.Cache
	Issuer    *issuer.Engine
	Stakes    *issuer.StakeManager
	Tokens    *issuer.TokenRegistry

	Collateral *collateral.Manager
	Loans      map[string]*collateral.Engine

	CrossChain *crosschain.Manager
	DebtShares *crosschain.DebtShare
	FeePool    *feepool.Pool
}

// New assembles a system over the supplied database. The emitter may be nil
// for a silent system.
func New(db storage.Database, emitter events.Emitter) *System {
	st := state.NewManager(db)
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	sys := &System{
		State:    st,
		Status:   common.NewStatus(),
		Settings: settings.NewStore(st),
	}

	sys.Rates = rates.NewEngine(st)
	sys.Rates.SetEmitter(emitter)
	if stale, err := sys.Settings.RateStalePeriod(); err == nil {
		sys.Rates.SetStalePeriod(stale)
	}

	sys.Tokens = issuer.NewTokenRegistry(st)
	sys.Stakes = issuer.NewStakeManager(st, sys.Tokens)
	sys.Stakes.SetRateSource(sys.Rates)
	sys.Stakes.SetMinimumStakeTime(sys.Settings.MinimumStakeTime)

	sys.Debt = debt.NewCache(st)
	sys.Debt.SetRateSource(sys.Rates)
	sys.Debt.SetSettings(sys.Settings)
	sys.Debt.SetStatus(sys.Status)
	sys.Debt.SetEmitter(emitter)

	sys.Issuer = issuer.NewEngine(st, sys.Stakes, sys.Tokens)
	sys.Issuer.SetRateSource(sys.Rates)
	sys.Issuer.SetSettings(sys.Settings)
	sys.Issuer.SetDebtSource(sys.Debt)
	sys.Issuer.SetStatus(sys.Status)
	sys.Issuer.SetEmitter(emitter)
	sys.Debt.SetSupplySource(sys.Issuer)

	sys.DebtShares = crosschain.NewDebtShare(st)
	sys.DebtShares.SetEmitter(emitter)
	sys.DebtShares.SetRetainedPeriods(sys.Settings.RetainedPeriods)
	sys.Issuer.SetShareLedger(sys.DebtShares)

	sys.CrossChain = crosschain.NewManager(st)
	sys.CrossChain.SetEmitter(emitter)
	sys.CrossChain.SetLocalDebtSource(sys.Debt)

	sys.Collateral = collateral.NewManager(st)
	sys.Collateral.SetRateSource(sys.Rates)
	sys.Collateral.SetSettings(sys.Settings)
	sys.Debt.SetCollateralSource(sys.Collateral)

	sys.Loans = make(map[string]*collateral.Engine)
	for _, eng := range []*collateral.Engine{
		collateral.NewEthEngine(st, sys.Collateral),
		collateral.NewShortEngine(st, sys.Collateral),
	} {
		eng.SetRateSource(sys.Rates)
		eng.SetStatus(sys.Status)
		eng.SetEmitter(emitter)
		sys.Loans[eng.Name()] = eng
	}

	sys.FeePool = feepool.NewPool(st)
	sys.FeePool.SetShareSource(sys.DebtShares)
	sys.FeePool.SetSnapshotter(sys.DebtShares)
	sys.FeePool.SetNetworkSource(sys.CrossChain)
	sys.FeePool.SetEmitter(emitter)
	sys.FeePool.SetRetainedPeriods(sys.Settings.RetainedPeriods)

	sys.Exchanger = exchange.NewEngine(st)
	sys.Exchanger.SetRateSource(sys.Rates)
	sys.Exchanger.SetSettings(sys.Settings)
	sys.Exchanger.SetStatus(sys.Status)
	sys.Exchanger.SetDebtSink(sys.Debt)
	sys.Exchanger.SetFeeSink(sys.FeePool)
	sys.Exchanger.SetEmitter(emitter)

	return sys
}

// AddErc20Collateral registers a loan engine for an ERC20-style collateral
// token and enrols it with the collateral manager.
func (s *System) AddErc20Collateral(token types.CurrencyKey, minCollateral *big.Int) error {
	return s.run(func() error {
		eng := collateral.NewErc20Engine(s.State, s.Collateral, token, minCollateral)
		eng.SetRateSource(s.Rates)
		eng.SetStatus(s.Status)
		if err := s.Collateral.AddCollaterals(common.RoleOwner, []string{eng.Name()}); err != nil {
			return err
		}
		s.Loans[eng.Name()] = eng
		return nil
	})
}

// SetClock overrides the time source on every engine, used by tests and
// deterministic replays.
func (s *System) SetClock(now func() time.Time) {
	s.Rates.SetClock(now)
	s.Exchanger.SetClock(now)
	s.Debt.SetClock(now)
	s.Issuer.SetClock(now)
	s.Stakes.SetClock(now)
	s.FeePool.SetClock(now)
	for _, eng := range s.Loans {
		eng.SetClock(now)
	}
}

// run executes one facade operation inside a write batch. Any error rolls
// back every write the operation staged.
func (s *System) run(fn func() error) error {
	s.State.Begin()
	if err := fn(); err != nil {
		s.State.Rollback()
		return err
	}
	return s.State.Commit()
}

// --- oracle ---

// SubmitRates ingests an oracle price batch.
func (s *System) SubmitRates(keys []types.CurrencyKey, newRates []*big.Int, ts time.Time) error {
	return s.run(func() error {
		return s.Rates.UpdateRates(common.RoleOracle, keys, newRates, ts)
	})
}

// RemoveRate withdraws a currency's price.
func (s *System) RemoveRate(key types.CurrencyKey) error {
	return s.run(func() error {
		return s.Rates.DeleteRate(common.RoleOracle, key)
	})
}

// --- issuance ---

// Issue mints pynths against the caller's collateral. The collateral key
// selects native (PERI) or external-token issuance.
func (s *System) Issue(account string, collateralKey types.CurrencyKey, amount *big.Int) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		return s.Issuer.IssuePynths(common.RolePynth, account, collateralKey, amount)
	})
}

// IssueMax mints the largest amount the account's native collateral allows.
func (s *System) IssueMax(account string) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		return s.Issuer.IssueMaxPynths(common.RolePynth, account)
	})
}

// IssueToMaxQuota stakes external tokens up to the quota and mints against
// them in one step.
func (s *System) IssueToMaxQuota(account string, token types.CurrencyKey) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		return s.Issuer.IssuePynthsToMaxQuota(common.RolePynth, account, token)
	})
}

// Burn retires pUSD debt and releases the matching collateral.
func (s *System) Burn(account string, collateralKey types.CurrencyKey, amount *big.Int) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		return s.Issuer.BurnPynths(common.RolePynth, account, collateralKey, amount)
	})
}

// FitToClaimable burns debt and unstakes just enough to restore both the
// c-ratio and the external quota.
func (s *System) FitToClaimable(account string) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		return s.Issuer.FitToClaimable(common.RolePynth, account)
	})
}

// Exit burns all debt and unstakes everything.
func (s *System) Exit(account string) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		return s.Issuer.Exit(common.RolePynth, account)
	})
}

// --- exchange and settlement ---

// Exchange converts src pynths into dest pynths at current rates.
func (s *System) Exchange(account string, src types.CurrencyKey, amount *big.Int, dest types.CurrencyKey, trackingCode string) (*big.Int, error) {
	if err := requireAccounts(account); err != nil {
		return nil, err
	}
	var received *big.Int
	err := s.run(func() error {
		var err error
		received, err = s.Exchanger.Exchange(common.RolePynth, account, src, amount, dest, trackingCode)
		return err
	})
	return received, err
}

// Settle resolves the account's settlement queue for a currency.
func (s *System) Settle(account string, key types.CurrencyKey) (reclaimed, rebated *big.Int, entries int, err error) {
	if err := requireAccounts(account); err != nil {
		return nil, nil, 0, err
	}
	err = s.run(func() error {
		var ierr error
		reclaimed, rebated, entries, ierr = s.Exchanger.Settle(common.RolePynth, account, key)
		return ierr
	})
	return reclaimed, rebated, entries, err
}

// SettlementOwing reports the pending reclaim and rebate without settling.
func (s *System) SettlementOwing(account string, key types.CurrencyKey) (*big.Int, *big.Int, int, error) {
	if err := requireAccounts(account); err != nil {
		return nil, nil, 0, err
	}
	return s.Exchanger.SettlementOwing(account, key)
}

// --- debt ---

// CurrentDebt recomputes total system debt from live rates.
func (s *System) CurrentDebt() (*big.Int, bool, error) {
	return s.Debt.CurrentDebt()
}

// TakeDebtSnapshot resynchronises the debt cache.
func (s *System) TakeDebtSnapshot(role common.Role) error {
	return s.run(func() error {
		return s.Debt.TakeDebtSnapshot(role)
	})
}

// CacheInfo reports the cached debt, timestamp, invalid and stale flags.
func (s *System) CacheInfo() (*big.Int, time.Time, bool, bool, error) {
	return s.Debt.CacheInfo()
}

// --- loans ---

func (s *System) loanEngine(name string) (*collateral.Engine, error) {
	eng, ok := s.Loans[name]
	if !ok {
		return nil, errUnknownLoanEngine
	}
	return eng, nil
}

// OpenLoan opens a position with the named loan engine.
func (s *System) OpenLoan(engine, account string, collateralAmount, amount *big.Int, currency types.CurrencyKey) (collateral.Loan, error) {
	if err := requireAccounts(account); err != nil {
		return collateral.Loan{}, err
	}
	var loan collateral.Loan
	err := s.run(func() error {
		eng, err := s.loanEngine(engine)
		if err != nil {
			return err
		}
		loan, err = eng.Open(account, collateralAmount, amount, currency)
		return err
	})
	return loan, err
}

// CloseLoan repays a loan in full and returns its collateral.
func (s *System) CloseLoan(engine, account string, id uint64) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		eng, err := s.loanEngine(engine)
		if err != nil {
			return err
		}
		return eng.Close(account, id)
	})
}

// DepositCollateral adds collateral to an open loan.
func (s *System) DepositCollateral(engine, account string, id uint64, amount *big.Int) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		eng, err := s.loanEngine(engine)
		if err != nil {
			return err
		}
		return eng.Deposit(account, id, amount)
	})
}

// WithdrawCollateral removes collateral from an open loan.
func (s *System) WithdrawCollateral(engine, account string, id uint64, amount *big.Int) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		eng, err := s.loanEngine(engine)
		if err != nil {
			return err
		}
		return eng.Withdraw(account, id, amount)
	})
}

// DrawLoan borrows more against an open loan.
func (s *System) DrawLoan(engine, account string, id uint64, amount *big.Int) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		eng, err := s.loanEngine(engine)
		if err != nil {
			return err
		}
		return eng.Draw(account, id, amount)
	})
}

// RepayLoan pays down an open loan.
func (s *System) RepayLoan(engine, account string, id uint64, amount *big.Int) error {
	if err := requireAccounts(account); err != nil {
		return err
	}
	return s.run(func() error {
		eng, err := s.loanEngine(engine)
		if err != nil {
			return err
		}
		return eng.Repay(account, id, amount)
	})
}

// LiquidateLoan lets anyone repair an undercollateralised loan for a bonus.
func (s *System) LiquidateLoan(engine, liquidator string, id uint64, amount *big.Int) error {
	if err := requireAccounts(liquidator); err != nil {
		return err
	}
	return s.run(func() error {
		eng, err := s.loanEngine(engine)
		if err != nil {
			return err
		}
		return eng.Liquidate(liquidator, id, amount)
	})
}

// --- cross chain ---

// ReportNetworkDebt appends debt observed on other chains.
func (s *System) ReportNetworkDebt(delta *big.Int) error {
	return s.run(func() error {
		return s.CrossChain.AppendTotalNetworkDebt(common.RoleDebtManager, delta)
	})
}

// NetworkDebtPercentage is this chain's share of network-wide debt.
func (s *System) NetworkDebtPercentage() (*big.Int, error) {
	return s.CrossChain.CurrentNetworkDebtPercentage()
}

// --- fees ---

// CloseFeePeriod freezes the open fee period and snapshots debt shares.
func (s *System) CloseFeePeriod() error {
	return s.run(func() error {
		return s.FeePool.ClosePeriod(common.RoleOwner)
	})
}

// ClaimFees pays the account's accumulated fee entitlement in pUSD.
func (s *System) ClaimFees(account string) (*big.Int, error) {
	if err := requireAccounts(account); err != nil {
		return nil, err
	}
	var paid *big.Int
	err := s.run(func() error {
		var ierr error
		paid, ierr = s.FeePool.ClaimFees(account)
		return ierr
	})
	return paid, err
}
