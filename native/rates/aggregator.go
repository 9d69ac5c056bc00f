package rates

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Aggregator is an external price feed that replaces oracle pushes for a
// currency. Invalid covers upstream halt flags: an invalid aggregator makes
// every value computation involving its currency fail.
type Aggregator interface {
	Latest() (*big.Int, time.Time, error)
	Invalid() bool
}

// ManualAggregator is an in-memory aggregator used for tests and manual
// overrides during incident response.
type ManualAggregator struct {
	mu      sync.RWMutex
	rate    *big.Int
	ts      time.Time
	invalid bool
}

func NewManualAggregator() *ManualAggregator {
	return &ManualAggregator{}
}

// Set stores the latest observation.
func (m *ManualAggregator) Set(rate *big.Int, ts time.Time) {
	if m == nil || rate == nil {
		return
	}
	m.mu.Lock()
	m.rate = new(big.Int).Set(rate)
	m.ts = ts
	m.mu.Unlock()
}

// SetInvalid flips the upstream halt flag.
func (m *ManualAggregator) SetInvalid(invalid bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.invalid = invalid
	m.mu.Unlock()
}

func (m *ManualAggregator) Latest() (*big.Int, time.Time, error) {
	if m == nil {
		return nil, time.Time{}, fmt.Errorf("manual aggregator not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rate == nil {
		return nil, time.Time{}, fmt.Errorf("manual aggregator: no observation")
	}
	return new(big.Int).Set(m.rate), m.ts, nil
}

func (m *ManualAggregator) Invalid() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.invalid
}
