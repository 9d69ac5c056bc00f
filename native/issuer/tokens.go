package issuer

import (
	"errors"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/common"
)

var (
	errTokenNotRegistered = errors.New("issuer: token not registered")
	errTokenNotActivated  = errors.New("issuer: token not activated")
	errTokenExists        = errors.New("issuer: token already registered")
)

// TokenInfo describes one registered external staking token. Amounts are
// stored normalised to 18 decimal places; Decimals records the token's native
// precision for gateway conversions.
type TokenInfo struct {
	Key       types.CurrencyKey `json:"key"`
	Decimals  uint8             `json:"decimals"`
	Activated bool              `json:"activated"`
}

type tokenState interface {
	TokenInfoGet(key types.CurrencyKey) (TokenInfo, bool, error)
	TokenInfoPut(key types.CurrencyKey, info TokenInfo) error
	TokenInfoAll() ([]TokenInfo, error)
}

// TokenRegistry manages the set of external tokens accepted as staking
// collateral.
type TokenRegistry struct {
	state tokenState
}

// NewTokenRegistry constructs a registry over the supplied state backend.
func NewTokenRegistry(state tokenState) *TokenRegistry {
	return &TokenRegistry{state: state}
}

// Register adds a token. Registering the quote currency is rejected up front;
// it can never be staking collateral.
func (r *TokenRegistry) Register(role common.Role, info TokenInfo) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	if r == nil || r.state == nil {
		return errTokenNotRegistered
	}
	if info.Key.IsQuote() {
		return errNotStakingCoin
	}
	if _, ok, err := r.state.TokenInfoGet(info.Key); err != nil {
		return err
	} else if ok {
		return errTokenExists
	}
	return r.state.TokenInfoPut(info.Key, info)
}

// SetActivated flips a token's activation flag.
func (r *TokenRegistry) SetActivated(role common.Role, key types.CurrencyKey, active bool) error {
	if err := common.RequireOwner(role); err != nil {
		return err
	}
	info, ok, err := r.state.TokenInfoGet(key)
	if err != nil {
		return err
	}
	if !ok {
		return errTokenNotRegistered
	}
	info.Activated = active
	return r.state.TokenInfoPut(key, info)
}

// Require returns the token's info, failing unless it is registered and
// activated.
func (r *TokenRegistry) Require(key types.CurrencyKey) (TokenInfo, error) {
	if r == nil || r.state == nil {
		return TokenInfo{}, errTokenNotRegistered
	}
	info, ok, err := r.state.TokenInfoGet(key)
	if err != nil {
		return TokenInfo{}, err
	}
	if !ok {
		return TokenInfo{}, errTokenNotRegistered
	}
	if !info.Activated {
		return TokenInfo{}, errTokenNotActivated
	}
	return info, nil
}

// All lists every registered token.
func (r *TokenRegistry) All() ([]TokenInfo, error) {
	if r == nil || r.state == nil {
		return nil, errTokenNotRegistered
	}
	return r.state.TokenInfoAll()
}
