package sale

import (
	"fmt"
	"math/big"
	"sort"
)

// BonusTier grants RateBps of Threshold once a buyer's spend reaches it.
type BonusTier struct {
	Threshold *big.Int
	RateBps   uint64
}

// BonusTable holds tiers ordered by strictly increasing threshold.
type BonusTable struct {
	Tiers []BonusTier
}

// DefaultBonusTable is 500/1k/2k/5k/10k/20k at 2/3/5/10/15/25 percent.
func DefaultBonusTable() BonusTable {
	return BonusTable{Tiers: []BonusTier{
		{Threshold: Units(500), RateBps: 200},
		{Threshold: Units(1_000), RateBps: 300},
		{Threshold: Units(2_000), RateBps: 500},
		{Threshold: Units(5_000), RateBps: 1_000},
		{Threshold: Units(10_000), RateBps: 1_500},
		{Threshold: Units(20_000), RateBps: 2_500},
	}}
}

func (t BonusTable) Validate() error {
	var prev *big.Int
	for i, tier := range t.Tiers {
		if tier.Threshold == nil || tier.Threshold.Sign() <= 0 {
			return fmt.Errorf("%w: bonus tier %d threshold must be positive", ErrInvalidConfig, i)
		}
		if prev != nil && tier.Threshold.Cmp(prev) <= 0 {
			return fmt.Errorf("%w: bonus tier %d threshold must increase", ErrInvalidConfig, i)
		}
		if tier.RateBps == 0 || tier.RateBps > MaxBps {
			return fmt.Errorf("%w: bonus tier %d rate must be within (0, %d]", ErrInvalidConfig, i, MaxBps)
		}
		prev = tier.Threshold
	}
	return nil
}

// tierIndex returns the greatest tier reached by spend, or -1.
func (t BonusTable) tierIndex(spend *big.Int) int {
	return sort.Search(len(t.Tiers), func(i int) bool {
		return t.Tiers[i].Threshold.Cmp(spend) > 0
	}) - 1
}

// Lookup returns the tier reached by spend. ok is false below the first tier.
func (t BonusTable) Lookup(spend *big.Int) (BonusTier, bool) {
	if spend == nil {
		return BonusTier{}, false
	}
	idx := t.tierIndex(spend)
	if idx < 0 {
		return BonusTier{}, false
	}
	return t.Tiers[idx], true
}

// BonusFor is the stable-value bonus of a lone order of amount.
func (t BonusTable) BonusFor(amount *big.Int) *big.Int {
	return t.Accrue(new(big.Int), amount)
}

// Accrue returns the stable-value bonus earned by an order of amount placed
// by a buyer whose cumulative spend is prev. Only the tier crossing pays: the
// gap between the newly reached threshold and the previously reached one, at
// the new tier's rate. An order that stays inside the buyer's current tier
// earns nothing.
func (t BonusTable) Accrue(prev, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	if prev == nil {
		prev = new(big.Int)
	}
	next := new(big.Int).Add(prev, amount)
	from := t.tierIndex(prev)
	to := t.tierIndex(next)
	if to <= from {
		return new(big.Int)
	}
	reached := t.Tiers[to]
	gap := new(big.Int).Set(reached.Threshold)
	if from >= 0 {
		gap.Sub(gap, t.Tiers[from].Threshold)
	}
	gap.Mul(gap, new(big.Int).SetUint64(reached.RateBps))
	return gap.Quo(gap, bpsDenominator)
}
