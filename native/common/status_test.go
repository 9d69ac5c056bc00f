package common

import (
	"errors"
	"testing"

	"github.com/perifinance/peri-finance-sub001/core/types"
)

func TestStatusSectionSuspension(t *testing.T) {
	s := NewStatus()

	if err := s.RequireSectionActive(SectionExchange); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SuspendSection(RoleToken, SectionExchange); !errors.Is(err, ErrOnlyOwner) {
		t.Fatalf("expected owner check, got %v", err)
	}
	if err := s.SuspendSection(RoleOwner, SectionExchange); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RequireSectionActive(SectionExchange); !errors.Is(err, ErrOperationProhibited) {
		t.Fatalf("expected Operation prohibited, got %v", err)
	}
	if err := s.RequireSectionActive(SectionIssuance); err != nil {
		t.Fatalf("other sections must stay active: %v", err)
	}

	if err := s.SuspendSystem(RoleOwner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RequireSectionActive(SectionIssuance); !errors.Is(err, ErrOperationProhibited) {
		t.Fatalf("system suspension must cover all sections, got %v", err)
	}
}

func TestStatusPynthSuspension(t *testing.T) {
	s := NewStatus()
	key := types.CurrencyKey("pBTC")

	if err := s.SuspendPynth(RoleExchanger, key, "price deviation"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RequirePynthActive(key); !errors.Is(err, ErrPynthSuspended) {
		t.Fatalf("expected suspension, got %v", err)
	}
	suspended, reason := s.IsPynthSuspended(key)
	if !suspended || reason != "price deviation" {
		t.Fatalf("unexpected state: %v %q", suspended, reason)
	}
	if err := s.SuspendPynth(RoleOwner, types.PUSD, "x"); err == nil {
		t.Fatalf("quote currency must not be suspendable")
	}
	if err := s.RequirePynthActive(types.PUSD); err != nil {
		t.Fatalf("quote currency always active: %v", err)
	}
	if err := s.ResumePynth(RoleOwner, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RequirePynthActive(key); err != nil {
		t.Fatalf("expected resumed pynth, got %v", err)
	}
}

func TestRequireOneOf(t *testing.T) {
	if err := RequireOneOf(RoleIssuer, ErrOnlyIssuerOrExchanger, RoleIssuer, RoleExchanger); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := RequireOneOf(RoleToken, ErrOnlyIssuerOrExchanger, RoleIssuer, RoleExchanger); !errors.Is(err, ErrOnlyIssuerOrExchanger) {
		t.Fatalf("expected sentinel, got %v", err)
	}
}
