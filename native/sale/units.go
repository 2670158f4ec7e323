package sale

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the precision shared by the sale token, the payment tokens and
// prices.
const Decimals = 18

// Unit is 10^Decimals, the fixed-point scale of every amount and price.
var Unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Units returns whole * Unit.
func Units(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), Unit)
}

// ParseUnits converts a decimal string such as "1234.5" into base units. At
// most Decimals fractional digits are accepted.
func ParseUnits(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("sale: amount required")
	}
	if strings.HasPrefix(trimmed, "-") {
		return nil, fmt.Errorf("sale: amount %q must not be negative", raw)
	}
	trimmed = strings.TrimPrefix(trimmed, "+")
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && frac == "" {
		return nil, fmt.Errorf("sale: invalid amount %q", raw)
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("sale: amount %q exceeds %d decimals", raw, Decimals)
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("sale: invalid amount %q", raw)
		}
	}
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("sale: invalid amount %q", raw)
	}
	return out, nil
}

// FormatUnits renders base units as a decimal string without trailing zeros.
func FormatUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	quo, rem := new(big.Int).QuoRem(abs, Unit, new(big.Int))
	out := quo.String()
	if rem.Sign() != 0 {
		frac := rem.String()
		frac = strings.Repeat("0", Decimals-len(frac)) + frac
		out += "." + strings.TrimRight(frac, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

// TokensFor converts a stable amount into tokens at price, truncating.
func TokensFor(stable, price *big.Int) *big.Int {
	if stable == nil || price == nil || price.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(stable, Unit)
	return out.Quo(out, price)
}

// StableFor converts a token amount into its stable value at price, truncating.
func StableFor(tokens, price *big.Int) *big.Int {
	if tokens == nil || price == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(tokens, price)
	return out.Quo(out, Unit)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func mustUnits(raw string) *big.Int {
	v, err := ParseUnits(raw)
	if err != nil {
		panic(err)
	}
	return v
}
