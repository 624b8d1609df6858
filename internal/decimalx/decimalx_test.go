package decimalx

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToDecimalRoundTrip(t *testing.T) {
	cases := []string{"100", "0.0000001234", "138.2", "-5.5"}
	for _, c := range cases {
		d, ok := ToDecimal(c)
		if !ok {
			t.Fatalf("ToDecimal(%q) failed", c)
		}
		back, ok := ToDecimal(d.String())
		if !ok || !back.Equal(d) {
			t.Errorf("round trip mismatch for %q: got %s", c, back.String())
		}
	}
}

func TestToDecimalInvalid(t *testing.T) {
	if _, ok := ToDecimal("not-a-number"); ok {
		t.Error("expected failure for non-numeric string")
	}
	if _, ok := ToDecimal(nil); ok {
		t.Error("expected failure for nil")
	}
}

func TestToDecimalSafeFallback(t *testing.T) {
	fallback := decimal.NewFromInt(0)
	got := ToDecimalSafe("garbage", fallback)
	if !got.Equal(fallback) {
		t.Errorf("expected fallback %s, got %s", fallback, got)
	}
}

func TestCompare(t *testing.T) {
	a := decimal.NewFromFloat(1.5)
	b := decimal.NewFromFloat(2.5)
	if Compare(a, b) != -1 {
		t.Error("expected a < b")
	}
	if Compare(b, a) != 1 {
		t.Error("expected b > a")
	}
	if Compare(a, a) != 0 {
		t.Error("expected a == a")
	}
}
