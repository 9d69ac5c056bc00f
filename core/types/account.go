package types

import "math/big"

// Account holds every balance the protocol tracks for an address: the native
// PERI token (free and escrowed), pynth balances keyed by currency, and
// external staking token balances keyed by token symbol.
type Account struct {
	Nonce        uint64                   `json:"nonce"`
	BalancePERI  *big.Int                 `json:"balancePERI"`
	EscrowedPERI *big.Int                 `json:"escrowedPERI"`
	Pynths       map[CurrencyKey]*big.Int `json:"pynths,omitempty"`
	Tokens       map[CurrencyKey]*big.Int `json:"tokens,omitempty"`
}

// EnsureDefaults replaces nil balances with zero values so callers can operate
// on the account without nil checks.
func (a *Account) EnsureDefaults() {
	if a.BalancePERI == nil {
		a.BalancePERI = big.NewInt(0)
	}
	if a.EscrowedPERI == nil {
		a.EscrowedPERI = big.NewInt(0)
	}
	if a.Pynths == nil {
		a.Pynths = make(map[CurrencyKey]*big.Int)
	}
	if a.Tokens == nil {
		a.Tokens = make(map[CurrencyKey]*big.Int)
	}
}

// PynthBalance returns the account's balance of the given pynth, zero when the
// currency has never been held.
func (a *Account) PynthBalance(key CurrencyKey) *big.Int {
	if a == nil || a.Pynths == nil {
		return big.NewInt(0)
	}
	if v, ok := a.Pynths[key]; ok && v != nil {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// SetPynthBalance stores a pynth balance, dropping zero entries to keep the
// persisted record compact.
func (a *Account) SetPynthBalance(key CurrencyKey, v *big.Int) {
	a.EnsureDefaults()
	if v == nil || v.Sign() == 0 {
		delete(a.Pynths, key)
		return
	}
	a.Pynths[key] = new(big.Int).Set(v)
}

// TokenBalance returns the account's balance of an external staking token.
func (a *Account) TokenBalance(key CurrencyKey) *big.Int {
	if a == nil || a.Tokens == nil {
		return big.NewInt(0)
	}
	if v, ok := a.Tokens[key]; ok && v != nil {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// SetTokenBalance stores an external token balance, dropping zero entries.
func (a *Account) SetTokenBalance(key CurrencyKey, v *big.Int) {
	a.EnsureDefaults()
	if v == nil || v.Sign() == 0 {
		delete(a.Tokens, key)
		return
	}
	a.Tokens[key] = new(big.Int).Set(v)
}
