// Package crosschain tracks the multi-chain debt aggregate and the debt-share
// ledger. A chain's locally computed debt is expressed as a percentage of the
// network-wide figure so fee and reward distribution reflects true global
// participation rather than local debt alone.
package crosschain

import (
	"errors"
	"math/big"

	"github.com/perifinance/peri-finance-sub001/core/events"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

var (
	errNilState      = errors.New("crosschain: state not configured")
	errNegativeDelta = errors.New("crosschain: network debt delta must be positive")
)

type managerState interface {
	NetworkDebtGet() (*big.Int, error)
	NetworkDebtPut(v *big.Int) error
	CrossUserDebtGet(account string) (*big.Int, bool, error)
	CrossUserDebtPut(account string, v *big.Int) error
	CrossUserDebtDelete(account string) error
}

// LocalDebtSource supplies this chain's cached debt figure.
type LocalDebtSource interface {
	CachedDebt() (*big.Int, error)
}

// Manager is the cross-chain debt accountant.
type Manager struct {
	state   managerState
	local   LocalDebtSource
	emitter events.Emitter
}

// NewManager constructs a manager over the supplied state backend.
func NewManager(state managerState) *Manager {
	return &Manager{state: state, emitter: events.NoopEmitter{}}
}

// SetLocalDebtSource wires the debt cache.
func (m *Manager) SetLocalDebtSource(d LocalDebtSource) {
	if m == nil || d == nil {
		return
	}
	m.local = d
}

// SetEmitter wires the event emitter.
func (m *Manager) SetEmitter(em events.Emitter) {
	if m == nil || em == nil {
		return
	}
	m.emitter = em
}

// AppendTotalNetworkDebt accumulates the off-chain reporter's network debt
// figure. Only the debt manager may report, and the figure only grows.
func (m *Manager) AppendTotalNetworkDebt(role common.Role, delta *big.Int) error {
	if err := common.RequireOneOf(role, common.ErrOnlyDebtManager, common.RoleDebtManager); err != nil {
		return err
	}
	if m == nil || m.state == nil {
		return errNilState
	}
	if delta == nil || delta.Sign() <= 0 {
		return errNegativeDelta
	}
	current, err := m.state.NetworkDebtGet()
	if err != nil {
		return err
	}
	total := new(big.Int).Add(fixed.Set(current), delta)
	if err := m.state.NetworkDebtPut(total); err != nil {
		return err
	}
	m.emitter.Emit(events.NetworkDebtAppended{Delta: fixed.Set(delta), Total: fixed.Set(total)})
	return nil
}

// CurrentTotalNetworkDebt returns the accumulated network debt.
func (m *Manager) CurrentTotalNetworkDebt() (*big.Int, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	v, err := m.state.NetworkDebtGet()
	if err != nil {
		return nil, err
	}
	return fixed.Set(v), nil
}

// CurrentNetworkDebtPercentage is the local cached debt over the network
// total, 18dp. Before any network figure has been reported this chain is the
// whole network: 100%.
func (m *Manager) CurrentNetworkDebtPercentage() (*big.Int, error) {
	if m == nil || m.state == nil || m.local == nil {
		return nil, errNilState
	}
	network, err := m.state.NetworkDebtGet()
	if err != nil {
		return nil, err
	}
	if fixed.IsZero(network) {
		return fixed.Unit(), nil
	}
	local, err := m.local.CachedDebt()
	if err != nil {
		return nil, err
	}
	return fixed.DivUnit(local, network), nil
}

// SetCrossNetworkUserDebt records an account's external-chain debt during
// cross-chain migration. Issuer only.
func (m *Manager) SetCrossNetworkUserDebt(role common.Role, account string, amount *big.Int) error {
	if err := common.RequireOneOf(role, common.ErrOnlyIssuer, common.RoleIssuer); err != nil {
		return err
	}
	if m == nil || m.state == nil {
		return errNilState
	}
	return m.state.CrossUserDebtPut(account, fixed.Set(amount))
}

// ClearCrossNetworkUserDebt removes an account's external-chain debt record.
func (m *Manager) ClearCrossNetworkUserDebt(role common.Role, account string) error {
	if err := common.RequireOneOf(role, common.ErrOnlyIssuer, common.RoleIssuer); err != nil {
		return err
	}
	if m == nil || m.state == nil {
		return errNilState
	}
	return m.state.CrossUserDebtDelete(account)
}

// CrossNetworkUserDebt returns an account's recorded external-chain debt.
func (m *Manager) CrossNetworkUserDebt(account string) (*big.Int, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	v, ok, err := m.state.CrossUserDebtGet(account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return fixed.Set(v), nil
}
