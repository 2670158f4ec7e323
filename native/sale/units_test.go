package sale

import (
	"math/big"
	"testing"
)

func TestParseAndFormatUnits(t *testing.T) {
	cases := map[string]string{
		"0.2":                      "200000000000000000",
		"100":                      "100000000000000000000",
		".5":                       "500000000000000000",
		"47627.8932":               "47627893200000000000000",
		"0.000000000000000001":     "1",
		"20954.545454545454545454": "20954545454545454545454",
	}
	for raw, want := range cases {
		got, err := ParseUnits(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got.String() != want {
			t.Fatalf("parse %q = %s, want %s", raw, got, want)
		}
	}
	for _, bad := range []string{"", "-1", "1.", "abc", "1.0000000000000000001", "1e18"} {
		if _, err := ParseUnits(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if got := FormatUnits(units(t, "389530.1068")); got != "389530.1068" {
		t.Fatalf("format = %s", got)
	}
	if got := FormatUnits(Units(5)); got != "5" {
		t.Fatalf("format whole = %s", got)
	}
	if got := FormatUnits(big.NewInt(1)); got != "0.000000000000000001" {
		t.Fatalf("format wei = %s", got)
	}
}

func TestConversionsAtBasePrice(t *testing.T) {
	price := units(t, "0.2")
	requireAmount(t, "tokensFor(100)", TokensFor(Units(100), price), "500")
	requireAmount(t, "tokensFor(1)", TokensFor(Units(1), price), "5")
	requireAmount(t, "stableFor(100)", StableFor(Units(100), price), "20")
	if got := TokensFor(big.NewInt(1), price); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("tokensFor(1 wei) = %s", got)
	}
	if got := StableFor(big.NewInt(4), price); got.Sign() != 0 {
		t.Fatalf("stableFor(4 wei) must truncate to zero, got %s", got)
	}
	if got := TokensFor(Units(1), new(big.Int)); got.Sign() != 0 {
		t.Fatalf("zero price must not divide, got %s", got)
	}
}
