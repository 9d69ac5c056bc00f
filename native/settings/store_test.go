package settings

import (
	"errors"
	"testing"
	"time"

	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

type memParams struct {
	values map[string][]byte
}

func newMemParams() *memParams { return &memParams{values: make(map[string][]byte)} }

func (m *memParams) ParamStoreSet(name string, value []byte) error {
	m.values[name] = append([]byte(nil), value...)
	return nil
}

func (m *memParams) ParamStoreGet(name string) ([]byte, bool, error) {
	v, ok := m.values[name]
	return v, ok, nil
}

func TestDefaults(t *testing.T) {
	s := NewStore(newMemParams())

	ratio, err := s.IssuanceRatio()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := fixed.FromDecimal("0.25")
	if ratio.Cmp(want) != 0 {
		t.Fatalf("unexpected default issuance ratio: %s", fixed.Format(ratio))
	}

	wp, err := s.WaitingPeriod()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wp != 6*time.Minute {
		t.Fatalf("unexpected default waiting period: %s", wp)
	}

	max, err := s.MaxEntriesInQueue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if max != 12 {
		t.Fatalf("unexpected default queue bound: %d", max)
	}

	disc, err := s.DiscountRate("pETH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if disc.Cmp(fixed.Unit()) != 0 {
		t.Fatalf("unset discount rate must be 1.0, got %s", fixed.Format(disc))
	}
}

func TestOwnerGating(t *testing.T) {
	s := NewStore(newMemParams())

	if err := s.SetWaitingPeriod(common.RoleToken, time.Minute); !errors.Is(err, common.ErrOnlyOwner) {
		t.Fatalf("expected owner gate, got %v", err)
	}
	if err := s.SetWaitingPeriod(common.RoleOwner, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wp, err := s.WaitingPeriod()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wp != time.Minute {
		t.Fatalf("unexpected waiting period: %s", wp)
	}
}

func TestPerCurrencyFeeRate(t *testing.T) {
	s := NewStore(newMemParams())

	base, _ := fixed.FromDecimal("0.001")
	if err := s.SetExchangeFeeRate(common.RoleOwner, "", base); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	eth, _ := fixed.FromDecimal("0.005")
	if err := s.SetExchangeFeeRate(common.RoleOwner, "pETH", eth); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.ExchangeFeeRate(types.CurrencyKey("pETH"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(eth) != 0 {
		t.Fatalf("per-currency override not honoured: %s", fixed.Format(got))
	}
	got, err = s.ExchangeFeeRate(types.CurrencyKey("pBTC"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(base) != 0 {
		t.Fatalf("global fallback not honoured: %s", fixed.Format(got))
	}
}

func TestValidation(t *testing.T) {
	s := NewStore(newMemParams())

	if err := s.SetIssuanceRatio(common.RoleOwner, fixed.FromUnits(2)); err == nil {
		t.Fatalf("ratio above 1 must be rejected")
	}
	if err := s.SetPriceDeviationThresholdFactor(common.RoleOwner, fixed.Unit()); err == nil {
		t.Fatalf("deviation factor of 1 must be rejected")
	}
	if err := s.SetMaxEntriesInQueue(common.RoleOwner, 0); err == nil {
		t.Fatalf("zero queue bound must be rejected")
	}
}
