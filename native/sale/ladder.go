package sale

import (
	"fmt"
	"math/big"
	"sort"
)

// PriceStep switches the price once cumulative base tokens sold reach
// Threshold.
type PriceStep struct {
	Threshold *big.Int
	Price     *big.Int
}

// PriceLadder maps cumulative base volume sold to a per-token price.
type PriceLadder struct {
	Base  *big.Int
	Steps []PriceStep
}

// DefaultPriceLadder starts at 0.20 and climbs in 500k-token steps to 0.30.
func DefaultPriceLadder() PriceLadder {
	prices := []string{"0.22", "0.23", "0.24", "0.25", "0.26", "0.27", "0.28", "0.29", "0.30"}
	steps := make([]PriceStep, 0, len(prices))
	for i, price := range prices {
		steps = append(steps, PriceStep{
			Threshold: Units(int64(i+1) * 500_000),
			Price:     mustUnits(price),
		})
	}
	return PriceLadder{Base: mustUnits("0.2"), Steps: steps}
}

// Validate checks that the base is positive, thresholds strictly increase and
// prices never decrease.
func (l PriceLadder) Validate() error {
	if l.Base == nil || l.Base.Sign() <= 0 {
		return fmt.Errorf("%w: base price must be positive", ErrInvalidConfig)
	}
	prevPrice := l.Base
	var prevThreshold *big.Int
	for i, step := range l.Steps {
		if step.Threshold == nil || step.Threshold.Sign() <= 0 {
			return fmt.Errorf("%w: price step %d threshold must be positive", ErrInvalidConfig, i)
		}
		if prevThreshold != nil && step.Threshold.Cmp(prevThreshold) <= 0 {
			return fmt.Errorf("%w: price step %d threshold must increase", ErrInvalidConfig, i)
		}
		if step.Price == nil || step.Price.Cmp(prevPrice) < 0 {
			return fmt.Errorf("%w: price step %d must not lower the price", ErrInvalidConfig, i)
		}
		prevThreshold = step.Threshold
		prevPrice = step.Price
	}
	return nil
}

// PriceFor returns the price of the greatest step whose threshold is at or
// below volume, or the base price below the first step.
func (l PriceLadder) PriceFor(volume *big.Int) *big.Int {
	if volume == nil {
		return cloneBig(l.Base)
	}
	idx := sort.Search(len(l.Steps), func(i int) bool {
		return l.Steps[i].Threshold.Cmp(volume) > 0
	})
	if idx == 0 {
		return cloneBig(l.Base)
	}
	return cloneBig(l.Steps[idx-1].Price)
}

// Max is the final price of the ladder.
func (l PriceLadder) Max() *big.Int {
	if len(l.Steps) == 0 {
		return cloneBig(l.Base)
	}
	return cloneBig(l.Steps[len(l.Steps)-1].Price)
}
