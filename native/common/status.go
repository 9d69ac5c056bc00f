package common

import (
	"errors"
	"sync"

	"github.com/perifinance/peri-finance-sub001/core/types"
)

// Section identifies an administratively suspendable slice of the protocol.
type Section uint8

const (
	SectionSystem Section = iota
	SectionIssuance
	SectionExchange
	SectionLoans
)

var (
	// ErrOperationProhibited is returned while the system or the relevant
	// section is suspended.
	ErrOperationProhibited = errors.New("Operation prohibited")
	// ErrPynthSuspended is returned when a specific currency is suspended,
	// whether administratively or by the price-deviation circuit breaker.
	ErrPynthSuspended = errors.New("Pynth is suspended")
)

// Status is the central suspension registry. Engines consult it at the top of
// every state-changing operation; the circuit breaker suspends individual
// pynths through it.
type Status struct {
	mu       sync.RWMutex
	system   bool
	sections map[Section]bool
	pynths   map[types.CurrencyKey]string
}

func NewStatus() *Status {
	return &Status{
		sections: make(map[Section]bool),
		pynths:   make(map[types.CurrencyKey]string),
	}
}

// RequireSystemActive fails while the whole system is suspended.
func (s *Status) RequireSystemActive() error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.system {
		return ErrOperationProhibited
	}
	return nil
}

// RequireSectionActive fails while the system or the given section is
// suspended.
func (s *Status) RequireSectionActive(sec Section) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.system || s.sections[sec] {
		return ErrOperationProhibited
	}
	return nil
}

// RequirePynthActive fails when the currency is suspended. The quote currency
// can never be suspended.
func (s *Status) RequirePynthActive(key types.CurrencyKey) error {
	if s == nil || key.IsQuote() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, suspended := s.pynths[key]; suspended {
		return ErrPynthSuspended
	}
	return nil
}

// IsSystemSuspended reports the global suspension flag.
func (s *Status) IsSystemSuspended() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system
}

// IsPynthSuspended reports whether a currency is suspended and the recorded
// reason.
func (s *Status) IsPynthSuspended(key types.CurrencyKey) (bool, string) {
	if s == nil {
		return false, ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	reason, suspended := s.pynths[key]
	return suspended, reason
}

func (s *Status) SuspendSystem(role Role) error {
	if err := RequireOwner(role); err != nil {
		return err
	}
	s.mu.Lock()
	s.system = true
	s.mu.Unlock()
	return nil
}

func (s *Status) ResumeSystem(role Role) error {
	if err := RequireOwner(role); err != nil {
		return err
	}
	s.mu.Lock()
	s.system = false
	s.mu.Unlock()
	return nil
}

func (s *Status) SuspendSection(role Role, sec Section) error {
	if err := RequireOwner(role); err != nil {
		return err
	}
	s.mu.Lock()
	s.sections[sec] = true
	s.mu.Unlock()
	return nil
}

func (s *Status) ResumeSection(role Role, sec Section) error {
	if err := RequireOwner(role); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sections, sec)
	s.mu.Unlock()
	return nil
}

// SuspendPynth marks a currency suspended. The exchange engine calls this with
// RoleExchanger when the circuit breaker trips; operators use RoleOwner.
func (s *Status) SuspendPynth(role Role, key types.CurrencyKey, reason string) error {
	if err := RequireOneOf(role, ErrOnlyOwner, RoleOwner, RoleExchanger); err != nil {
		return err
	}
	if key.IsQuote() {
		return errors.New("quote currency cannot be suspended")
	}
	s.mu.Lock()
	s.pynths[key] = reason
	s.mu.Unlock()
	return nil
}

func (s *Status) ResumePynth(role Role, key types.CurrencyKey) error {
	if err := RequireOwner(role); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.pynths, key)
	s.mu.Unlock()
	return nil
}
