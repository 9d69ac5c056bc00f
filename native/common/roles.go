package common

import "errors"

// Role is the typed capability attached to every mutating call. It replaces
// the string-keyed resolver checks of the on-chain system: each engine states
// which roles its entry points accept and rejects everything else with a
// role-specific message, because downstream tooling asserts on exact reasons.
type Role uint8

const (
	RoleNone Role = iota
	// RoleOwner is the administrative operator.
	RoleOwner
	// RoleOracle is the authorised price feed submitter.
	RoleOracle
	// RoleIssuer marks calls originating from the issuance engine.
	RoleIssuer
	// RoleExchanger marks calls originating from the exchange engine.
	RoleExchanger
	// RoleCollateral marks calls from registered collateral loan engines.
	RoleCollateral
	// RoleDebtManager is the off-chain network debt reporter.
	RoleDebtManager
	// RoleBroker may force debt-share transfers.
	RoleBroker
	// RoleToken marks calls arriving through the PeriFinance token facade.
	RoleToken
	// RolePynth marks calls arriving through a pynth token contract.
	RolePynth
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleOracle:
		return "oracle"
	case RoleIssuer:
		return "issuer"
	case RoleExchanger:
		return "exchanger"
	case RoleCollateral:
		return "collateral"
	case RoleDebtManager:
		return "debtManager"
	case RoleBroker:
		return "broker"
	case RoleToken:
		return "token"
	case RolePynth:
		return "pynth"
	default:
		return "none"
	}
}

// Canonical permission errors shared across engines. Messages are pinned:
// tests and operator tooling match on them verbatim.
var (
	ErrOnlyOwner             = errors.New("Only the contract owner may perform this action")
	ErrOnlyOracle            = errors.New("Only the oracle can perform this action")
	ErrOnlyIssuer            = errors.New("Sender is not Issuer")
	ErrOnlyIssuerOrExchanger = errors.New("Sender is not Issuer or Exchanger")
	ErrOnlyCollateral        = errors.New("Only collateral contracts")
	ErrOnlyDebtManager       = errors.New("Only the debt manager may perform this action")
	ErrOnlyBroker            = errors.New("Only an authorised broker can perform this action")
	ErrOnlyTokenOrPynth      = errors.New("Only periFinance or a pynth contract can perform this action")
)

// RequireOwner rejects any caller that is not the owner.
func RequireOwner(r Role) error {
	if r != RoleOwner {
		return ErrOnlyOwner
	}
	return nil
}

// RequireOneOf rejects callers whose role is not in the accepted set,
// returning the supplied sentinel.
func RequireOneOf(r Role, sentinel error, accepted ...Role) error {
	for _, a := range accepted {
		if r == a {
			return nil
		}
	}
	return sentinel
}
