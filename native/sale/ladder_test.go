package sale

import (
	"errors"
	"math/big"
	"testing"
)

func TestDefaultLadderPriceFor(t *testing.T) {
	ladder := DefaultPriceLadder()
	if err := ladder.Validate(); err != nil {
		t.Fatalf("default ladder invalid: %v", err)
	}
	oneWei := big.NewInt(1)
	cases := []struct {
		volume *big.Int
		want   string
	}{
		{new(big.Int), "0.2"},
		{new(big.Int).Sub(Units(500_000), oneWei), "0.2"},
		{Units(500_000), "0.22"},
		{Units(999_999), "0.22"},
		{Units(1_000_000), "0.23"},
		{Units(2_345_678), "0.25"},
		{Units(4_499_999), "0.29"},
		{Units(4_500_000), "0.3"},
		{Units(90_000_000), "0.3"},
	}
	for _, tc := range cases {
		requireAmount(t, "price for "+FormatUnits(tc.volume), ladder.PriceFor(tc.volume), tc.want)
	}
	requireAmount(t, "max", ladder.Max(), "0.3")
	requireAmount(t, "nil volume", ladder.PriceFor(nil), "0.2")
}

func TestLadderValidate(t *testing.T) {
	base := Units(1)
	cases := map[string]PriceLadder{
		"zero base":          {Base: new(big.Int)},
		"threshold repeats":  {Base: base, Steps: []PriceStep{{Units(10), Units(2)}, {Units(10), Units(3)}}},
		"price decreases":    {Base: base, Steps: []PriceStep{{Units(10), Units(3)}, {Units(20), Units(2)}}},
		"below base":         {Base: base, Steps: []PriceStep{{Units(10), big.NewInt(1)}}},
		"non-positive start": {Base: base, Steps: []PriceStep{{new(big.Int), Units(2)}}},
	}
	for name, ladder := range cases {
		if err := ladder.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected invalid config, got %v", name, err)
		}
	}
	flat := PriceLadder{Base: base}
	if err := flat.Validate(); err != nil {
		t.Fatalf("flat ladder: %v", err)
	}
	requireAmount(t, "flat max", flat.Max(), "1")
}
