package types

import "strings"

// CurrencyKey identifies a unit of value tracked by the protocol: the native
// PERI token, the quote pynth pUSD, any other pynth, or an external staking
// token symbol.
type CurrencyKey string

const (
	// PUSD is the quote currency. Its rate is defined as exactly 1.0, it can
	// never go stale and it can never be deleted.
	PUSD CurrencyKey = "pUSD"
	// PERI is the native staking token.
	PERI CurrencyKey = "PERI"
)

func (k CurrencyKey) String() string { return string(k) }

// IsQuote reports whether the key is the quote currency.
func (k CurrencyKey) IsQuote() bool { return k == PUSD }

// Normalise trims surrounding whitespace from a currency key.
func Normalise(k CurrencyKey) CurrencyKey {
	return CurrencyKey(strings.TrimSpace(string(k)))
}
