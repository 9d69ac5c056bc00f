// Package state persists every engine's records over a key-value database.
// One Manager satisfies all of the engines' narrow state interfaces; records
// are JSON under typed key prefixes, and a write journal gives the facade
// all-or-nothing semantics for each top-level operation.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/collateral"
	"github.com/perifinance/peri-finance-sub001/native/crosschain"
	"github.com/perifinance/peri-finance-sub001/native/debt"
	"github.com/perifinance/peri-finance-sub001/native/exchange"
	"github.com/perifinance/peri-finance-sub001/native/feepool"
	"github.com/perifinance/peri-finance-sub001/native/issuer"
	"github.com/perifinance/peri-finance-sub001/native/rates"
	"github.com/perifinance/peri-finance-sub001/storage"
)

var errNoBatch = errors.New("state: no batch in progress")

// Key prefixes. Everything the protocol persists lives under one of these.
const (
	prefixAccount      = "acct:"
	prefixSupply       = "supply:"
	keyPynthRegistry   = "pynths"
	prefixRate         = "rate:"
	prefixRound        = "round:"
	prefixInverse      = "inv:"
	prefixParam        = "param:"
	prefixQueue        = "queue:"
	prefixLastRate     = "lastrate:"
	prefixDebtEntry    = "debt:entry:"
	keyDebtGlobal      = "debt:global"
	prefixDebtExcluded = "debt:excluded:"
	keyDebtExcludedIdx = "debt:excluded:index"
	prefixStake        = "stake:"
	prefixStakeIdx     = "stake:index:"
	prefixToken        = "token:"
	keyTokenIdx        = "token:index"
	keyCollRegistry    = "coll:registry"
	keyCollPynths      = "coll:pynths"
	keyCollShortable   = "coll:shortable"
	prefixCollLong     = "coll:long:"
	prefixCollShort    = "coll:short:"
	keyCollBorrowRate  = "coll:borrowrate"
	prefixCollShortRat = "coll:shortrate:"
	prefixLoan         = "loan:"
	prefixLoanIdx      = "loan:index:"
	prefixLoanNext     = "loan:nextid:"
	keyNetworkDebt     = "xchain:networkdebt"
	prefixCrossUser    = "xchain:user:"
	prefixShare        = "share:bal:"
	keyShareTotal      = "share:total"
	keyShareHolders    = "share:holders"
	prefixShareSnap    = "share:snap:"
	keyShareSnapIdx    = "share:snapindex"
	keyFeePeriods      = "fee:periods"
	prefixFeeClaimed   = "fee:claimed:"
)

// Manager is the protocol's persistence layer. All reads go through the
// journal overlay so a batch observes its own writes.
type Manager struct {
	mu      sync.Mutex
	db      storage.Database
	staged  map[string][]byte
	deleted map[string]bool
	inBatch bool
}

// NewManager constructs a manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin starts a write batch. Until Commit, writes stay in the overlay.
func (m *Manager) Begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = make(map[string][]byte)
	m.deleted = make(map[string]bool)
	m.inBatch = true
}

// Commit flushes the batch to the database.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inBatch {
		return errNoBatch
	}
	for key := range m.deleted {
		if err := m.db.Delete([]byte(key)); err != nil {
			return err
		}
	}
	for key, value := range m.staged {
		if err := m.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	m.staged = nil
	m.deleted = nil
	m.inBatch = false
	return nil
}

// Rollback discards the batch.
func (m *Manager) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = nil
	m.deleted = nil
	m.inBatch = false
}

func (m *Manager) rawGet(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inBatch {
		if m.deleted[key] {
			return nil, false, nil
		}
		if v, ok := m.staged[key]; ok {
			return v, true, nil
		}
	}
	v, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (m *Manager) rawPut(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inBatch {
		delete(m.deleted, key)
		m.staged[key] = value
		return nil
	}
	return m.db.Put([]byte(key), value)
}

func (m *Manager) rawDelete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inBatch {
		delete(m.staged, key)
		m.deleted[key] = true
		return nil
	}
	err := m.db.Delete([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (m *Manager) getJSON(key string, out any) (bool, error) {
	raw, ok, err := m.rawGet(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.rawPut(key, raw)
}

func (m *Manager) getAmount(key string) (*big.Int, bool, error) {
	v := new(big.Int)
	ok, err := m.getJSON(key, v)
	if err != nil || !ok {
		return nil, ok, err
	}
	return v, true, nil
}

// stringList maintains the JSON list indexes that stand in for prefix scans.
func (m *Manager) stringList(key string) ([]string, error) {
	var out []string
	if _, err := m.getJSON(key, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) addToList(key, member string) error {
	list, err := m.stringList(key)
	if err != nil {
		return err
	}
	for _, s := range list {
		if s == member {
			return nil
		}
	}
	return m.putJSON(key, append(list, member))
}

// --- accounts and pynth supplies ---

func (m *Manager) AccountGet(addr string) (*types.Account, error) {
	acct := &types.Account{}
	if _, err := m.getJSON(prefixAccount+addr, acct); err != nil {
		return nil, err
	}
	acct.EnsureDefaults()
	return acct, nil
}

func (m *Manager) AccountPut(addr string, acct *types.Account) error {
	return m.putJSON(prefixAccount+addr, acct)
}

func (m *Manager) PynthSupplyGet(key types.CurrencyKey) (*big.Int, error) {
	v, ok, err := m.getAmount(prefixSupply + key.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return v, nil
}

func (m *Manager) PynthSupplyAdjust(key types.CurrencyKey, delta *big.Int) error {
	current, err := m.PynthSupplyGet(key)
	if err != nil {
		return err
	}
	return m.putJSON(prefixSupply+key.String(), new(big.Int).Add(current, delta))
}

func (m *Manager) PynthBalanceGet(account string, key types.CurrencyKey) (*big.Int, error) {
	acct, err := m.AccountGet(account)
	if err != nil {
		return nil, err
	}
	return acct.PynthBalance(key), nil
}

func (m *Manager) PynthBalanceSet(account string, key types.CurrencyKey, amount *big.Int) error {
	acct, err := m.AccountGet(account)
	if err != nil {
		return err
	}
	acct.SetPynthBalance(key, amount)
	return m.AccountPut(account, acct)
}

func (m *Manager) PynthRegistryGet() ([]types.CurrencyKey, error) {
	var out []types.CurrencyKey
	if _, err := m.getJSON(keyPynthRegistry, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) PynthRegistryPut(keys []types.CurrencyKey) error {
	return m.putJSON(keyPynthRegistry, keys)
}

// --- rate table ---

func (m *Manager) RateGet(key types.CurrencyKey) (rates.Record, bool, error) {
	var rec rates.Record
	ok, err := m.getJSON(prefixRate+key.String(), &rec)
	return rec, ok, err
}

func (m *Manager) RatePut(key types.CurrencyKey, rec rates.Record) error {
	return m.putJSON(prefixRate+key.String(), rec)
}

func (m *Manager) RateDelete(key types.CurrencyKey) error {
	return m.rawDelete(prefixRate + key.String())
}

func roundKey(key types.CurrencyKey, round uint64) string {
	return fmt.Sprintf("%s%s:%d", prefixRound, key, round)
}

func (m *Manager) RateRoundGet(key types.CurrencyKey, round uint64) (rates.Round, bool, error) {
	var r rates.Round
	ok, err := m.getJSON(roundKey(key, round), &r)
	return r, ok, err
}

func (m *Manager) RateRoundPut(key types.CurrencyKey, round uint64, r rates.Round) error {
	return m.putJSON(roundKey(key, round), r)
}

func (m *Manager) RateRoundDelete(key types.CurrencyKey, round uint64) error {
	return m.rawDelete(roundKey(key, round))
}

func (m *Manager) InverseGet(key types.CurrencyKey) (rates.InversePricing, bool, error) {
	var p rates.InversePricing
	ok, err := m.getJSON(prefixInverse+key.String(), &p)
	return p, ok, err
}

func (m *Manager) InversePut(key types.CurrencyKey, p rates.InversePricing) error {
	return m.putJSON(prefixInverse+key.String(), p)
}

func (m *Manager) InverseDelete(key types.CurrencyKey) error {
	return m.rawDelete(prefixInverse + key.String())
}

// --- settings params ---

func (m *Manager) ParamStoreSet(name string, value []byte) error {
	return m.rawPut(prefixParam+name, value)
}

func (m *Manager) ParamStoreGet(name string) ([]byte, bool, error) {
	return m.rawGet(prefixParam + name)
}

// --- exchange queues and circuit-breaker anchors ---

func queueKey(account string, key types.CurrencyKey) string {
	return prefixQueue + account + ":" + key.String()
}

func (m *Manager) SettlementQueueGet(account string, key types.CurrencyKey) ([]exchange.SettlementEntry, error) {
	var entries []exchange.SettlementEntry
	if _, err := m.getJSON(queueKey(account, key), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Manager) SettlementQueuePut(account string, key types.CurrencyKey, entries []exchange.SettlementEntry) error {
	if len(entries) == 0 {
		return m.rawDelete(queueKey(account, key))
	}
	return m.putJSON(queueKey(account, key), entries)
}

func (m *Manager) LastExchangeRateGet(key types.CurrencyKey) (*big.Int, bool, error) {
	return m.getAmount(prefixLastRate + key.String())
}

func (m *Manager) LastExchangeRatePut(key types.CurrencyKey, rate *big.Int) error {
	return m.putJSON(prefixLastRate+key.String(), rate)
}

// --- debt cache ---

func (m *Manager) DebtEntryGet(key types.CurrencyKey) (*big.Int, bool, error) {
	return m.getAmount(prefixDebtEntry + key.String())
}

func (m *Manager) DebtEntryPut(key types.CurrencyKey, value *big.Int) error {
	return m.putJSON(prefixDebtEntry+key.String(), value)
}

func (m *Manager) DebtEntryDelete(key types.CurrencyKey) error {
	return m.rawDelete(prefixDebtEntry + key.String())
}

func (m *Manager) DebtGlobalGet() (debt.GlobalRecord, bool, error) {
	var rec debt.GlobalRecord
	ok, err := m.getJSON(keyDebtGlobal, &rec)
	return rec, ok, err
}

func (m *Manager) DebtGlobalPut(rec debt.GlobalRecord) error {
	return m.putJSON(keyDebtGlobal, rec)
}

func (m *Manager) DebtExcludedGet(key types.CurrencyKey) (*big.Int, bool, error) {
	return m.getAmount(prefixDebtExcluded + key.String())
}

func (m *Manager) DebtExcludedPut(key types.CurrencyKey, value *big.Int) error {
	if err := m.addToList(keyDebtExcludedIdx, key.String()); err != nil {
		return err
	}
	return m.putJSON(prefixDebtExcluded+key.String(), value)
}

func (m *Manager) DebtExcludedAll() (map[types.CurrencyKey]*big.Int, error) {
	idx, err := m.stringList(keyDebtExcludedIdx)
	if err != nil {
		return nil, err
	}
	out := make(map[types.CurrencyKey]*big.Int, len(idx))
	for _, s := range idx {
		key := types.CurrencyKey(s)
		v, ok, err := m.DebtExcludedGet(key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

// --- external-token stakes and registry ---

func stakeKey(account string, token types.CurrencyKey) string {
	return prefixStake + account + ":" + token.String()
}

func (m *Manager) StakeGet(account string, token types.CurrencyKey) (issuer.StakeRecord, bool, error) {
	var rec issuer.StakeRecord
	ok, err := m.getJSON(stakeKey(account, token), &rec)
	return rec, ok, err
}

func (m *Manager) StakePut(account string, token types.CurrencyKey, rec issuer.StakeRecord) error {
	if err := m.addToList(prefixStakeIdx+account, token.String()); err != nil {
		return err
	}
	return m.putJSON(stakeKey(account, token), rec)
}

func (m *Manager) StakeDelete(account string, token types.CurrencyKey) error {
	return m.rawDelete(stakeKey(account, token))
}

func (m *Manager) StakeAll(account string) (map[types.CurrencyKey]issuer.StakeRecord, error) {
	idx, err := m.stringList(prefixStakeIdx + account)
	if err != nil {
		return nil, err
	}
	out := make(map[types.CurrencyKey]issuer.StakeRecord, len(idx))
	for _, s := range idx {
		token := types.CurrencyKey(s)
		rec, ok, err := m.StakeGet(account, token)
		if err != nil {
			return nil, err
		}
		if ok {
			out[token] = rec
		}
	}
	return out, nil
}

func (m *Manager) TokenInfoGet(key types.CurrencyKey) (issuer.TokenInfo, bool, error) {
	var info issuer.TokenInfo
	ok, err := m.getJSON(prefixToken+key.String(), &info)
	return info, ok, err
}

func (m *Manager) TokenInfoPut(key types.CurrencyKey, info issuer.TokenInfo) error {
	if err := m.addToList(keyTokenIdx, key.String()); err != nil {
		return err
	}
	return m.putJSON(prefixToken+key.String(), info)
}

func (m *Manager) TokenInfoAll() ([]issuer.TokenInfo, error) {
	idx, err := m.stringList(keyTokenIdx)
	if err != nil {
		return nil, err
	}
	out := make([]issuer.TokenInfo, 0, len(idx))
	for _, s := range idx {
		info, ok, err := m.TokenInfoGet(types.CurrencyKey(s))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// --- collateral manager books and loans ---

func (m *Manager) CollateralRegistryGet() ([]string, error) {
	return m.stringList(keyCollRegistry)
}

func (m *Manager) CollateralRegistryPut(names []string) error {
	return m.putJSON(keyCollRegistry, names)
}

func (m *Manager) ManagedPynthsGet() ([]types.CurrencyKey, error) {
	var out []types.CurrencyKey
	if _, err := m.getJSON(keyCollPynths, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) ManagedPynthsPut(keys []types.CurrencyKey) error {
	return m.putJSON(keyCollPynths, keys)
}

func (m *Manager) ShortablePynthsGet() ([]types.CurrencyKey, error) {
	var out []types.CurrencyKey
	if _, err := m.getJSON(keyCollShortable, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) ShortablePynthsPut(keys []types.CurrencyKey) error {
	return m.putJSON(keyCollShortable, keys)
}

func (m *Manager) bookGet(prefix string, key types.CurrencyKey) (*big.Int, error) {
	v, ok, err := m.getAmount(prefix + key.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return v, nil
}

func (m *Manager) bookAdjust(prefix string, key types.CurrencyKey, delta *big.Int) error {
	current, err := m.bookGet(prefix, key)
	if err != nil {
		return err
	}
	return m.putJSON(prefix+key.String(), new(big.Int).Add(current, delta))
}

func (m *Manager) LongBookGet(key types.CurrencyKey) (*big.Int, error) {
	return m.bookGet(prefixCollLong, key)
}

func (m *Manager) LongBookAdjust(key types.CurrencyKey, delta *big.Int) error {
	return m.bookAdjust(prefixCollLong, key, delta)
}

func (m *Manager) ShortBookGet(key types.CurrencyKey) (*big.Int, error) {
	return m.bookGet(prefixCollShort, key)
}

func (m *Manager) ShortBookAdjust(key types.CurrencyKey, delta *big.Int) error {
	return m.bookAdjust(prefixCollShort, key, delta)
}

func (m *Manager) BorrowRateGet() (*big.Int, error) {
	v, ok, err := m.getAmount(keyCollBorrowRate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return v, nil
}

func (m *Manager) BorrowRatePut(rate *big.Int) error {
	return m.putJSON(keyCollBorrowRate, rate)
}

func (m *Manager) ShortRateGet(key types.CurrencyKey) (*big.Int, error) {
	return m.bookGet(prefixCollShortRat, key)
}

func (m *Manager) ShortRatePut(key types.CurrencyKey, rate *big.Int) error {
	return m.putJSON(prefixCollShortRat+key.String(), rate)
}

func loanKey(engine string, id uint64) string {
	return fmt.Sprintf("%s%s:%d", prefixLoan, engine, id)
}

func (m *Manager) LoanGet(engine string, id uint64) (collateral.Loan, bool, error) {
	var loan collateral.Loan
	ok, err := m.getJSON(loanKey(engine, id), &loan)
	return loan, ok, err
}

func (m *Manager) LoanPut(engine string, loan collateral.Loan) error {
	return m.putJSON(loanKey(engine, loan.ID), loan)
}

func (m *Manager) LoanDelete(engine string, id uint64) error {
	return m.rawDelete(loanKey(engine, id))
}

func (m *Manager) LoanIndexGet(engine, account string) ([]uint64, error) {
	var ids []uint64
	if _, err := m.getJSON(prefixLoanIdx+engine+":"+account, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) LoanIndexPut(engine, account string, ids []uint64) error {
	return m.putJSON(prefixLoanIdx+engine+":"+account, ids)
}

func (m *Manager) NextLoanID(engine string) (uint64, error) {
	var last uint64
	if _, err := m.getJSON(prefixLoanNext+engine, &last); err != nil {
		return 0, err
	}
	next := last + 1
	if err := m.putJSON(prefixLoanNext+engine, next); err != nil {
		return 0, err
	}
	return next, nil
}

// --- cross-chain debt and shares ---

func (m *Manager) NetworkDebtGet() (*big.Int, error) {
	v, ok, err := m.getAmount(keyNetworkDebt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return v, nil
}

func (m *Manager) NetworkDebtPut(v *big.Int) error {
	return m.putJSON(keyNetworkDebt, v)
}

func (m *Manager) CrossUserDebtGet(account string) (*big.Int, bool, error) {
	return m.getAmount(prefixCrossUser + account)
}

func (m *Manager) CrossUserDebtPut(account string, v *big.Int) error {
	return m.putJSON(prefixCrossUser+account, v)
}

func (m *Manager) CrossUserDebtDelete(account string) error {
	return m.rawDelete(prefixCrossUser + account)
}

func (m *Manager) ShareBalanceGet(account string) (*big.Int, error) {
	v, ok, err := m.getAmount(prefixShare + account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return v, nil
}

func (m *Manager) ShareBalancePut(account string, v *big.Int) error {
	if err := m.addToList(keyShareHolders, account); err != nil {
		return err
	}
	return m.putJSON(prefixShare+account, v)
}

func (m *Manager) ShareHolders() ([]string, error) {
	return m.stringList(keyShareHolders)
}

func (m *Manager) ShareTotalGet() (*big.Int, error) {
	v, ok, err := m.getAmount(keyShareTotal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return v, nil
}

func (m *Manager) ShareTotalPut(v *big.Int) error {
	return m.putJSON(keyShareTotal, v)
}

func snapKey(period uint64) string {
	return fmt.Sprintf("%s%d", prefixShareSnap, period)
}

func (m *Manager) ShareSnapshotGet(period uint64) (crosschain.ShareSnapshot, bool, error) {
	var snap crosschain.ShareSnapshot
	ok, err := m.getJSON(snapKey(period), &snap)
	return snap, ok, err
}

func (m *Manager) ShareSnapshotPut(snap crosschain.ShareSnapshot) error {
	var periods []uint64
	if _, err := m.getJSON(keyShareSnapIdx, &periods); err != nil {
		return err
	}
	found := false
	for _, p := range periods {
		if p == snap.Period {
			found = true
			break
		}
	}
	if !found {
		if err := m.putJSON(keyShareSnapIdx, append(periods, snap.Period)); err != nil {
			return err
		}
	}
	return m.putJSON(snapKey(snap.Period), snap)
}

func (m *Manager) ShareSnapshotDelete(period uint64) error {
	var periods []uint64
	if _, err := m.getJSON(keyShareSnapIdx, &periods); err != nil {
		return err
	}
	kept := periods[:0]
	for _, p := range periods {
		if p == period {
			continue
		}
		kept = append(kept, p)
	}
	if err := m.putJSON(keyShareSnapIdx, kept); err != nil {
		return err
	}
	return m.rawDelete(snapKey(period))
}

func (m *Manager) ShareSnapshotPeriods() ([]uint64, error) {
	var periods []uint64
	if _, err := m.getJSON(keyShareSnapIdx, &periods); err != nil {
		return nil, err
	}
	return periods, nil
}

// --- fee periods ---

func (m *Manager) FeePeriodsGet() ([]feepool.Period, error) {
	var periods []feepool.Period
	if _, err := m.getJSON(keyFeePeriods, &periods); err != nil {
		return nil, err
	}
	return periods, nil
}

func (m *Manager) FeePeriodsPut(periods []feepool.Period) error {
	return m.putJSON(keyFeePeriods, periods)
}

func feeClaimKey(period uint64, account string) string {
	return fmt.Sprintf("%s%d:%s", prefixFeeClaimed, period, account)
}

func (m *Manager) FeeClaimedGet(period uint64, account string) (bool, error) {
	_, ok, err := m.rawGet(feeClaimKey(period, account))
	return ok, err
}

func (m *Manager) FeeClaimedPut(period uint64, account string) error {
	return m.rawPut(feeClaimKey(period, account), []byte{1})
}
