package fixed

import (
	"math/big"
	"testing"
)

func TestFromDecimal(t *testing.T) {
	v, err := FromDecimal("0.25")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int).Quo(Unit(), big.NewInt(4))
	if v.Cmp(want) != 0 {
		t.Fatalf("unexpected value: %s", v)
	}
	if _, err := FromDecimal("not-a-number"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := FromDecimal(""); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestMulDivUnit(t *testing.T) {
	half, _ := FromDecimal("0.5")
	two := FromUnits(2)

	if got := MulUnit(two, half); got.Cmp(FromUnits(1)) != 0 {
		t.Fatalf("2 * 0.5 = %s", Format(got))
	}
	if got := DivUnit(FromUnits(1), half); got.Cmp(two) != 0 {
		t.Fatalf("1 / 0.5 = %s", Format(got))
	}
	if got := DivUnit(FromUnits(1), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("division by zero must yield zero, got %s", got)
	}
	if got := MulUnit(nil, half); got.Sign() != 0 {
		t.Fatalf("nil operand must yield zero")
	}
}

func TestClamp(t *testing.T) {
	lo, hi := FromUnits(1), FromUnits(3)
	if got := Clamp(FromUnits(0), lo, hi); got.Cmp(lo) != 0 {
		t.Fatalf("clamp low failed: %s", got)
	}
	if got := Clamp(FromUnits(5), lo, hi); got.Cmp(hi) != 0 {
		t.Fatalf("clamp high failed: %s", got)
	}
	if got := Clamp(FromUnits(2), lo, hi); got.Cmp(FromUnits(2)) != 0 {
		t.Fatalf("clamp middle failed: %s", got)
	}
}
