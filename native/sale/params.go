package sale

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// MaxBps is 100% expressed in basis points.
	MaxBps = 10_000
	// DefaultReferralRateBps pays referrers 10% of each order.
	DefaultReferralRateBps = 1_000
)

var bpsDenominator = big.NewInt(MaxBps)

// Config fixes the sale's identity and pricing tables. Mutable parameters
// (owner, referral rate, phase) are only seeded from it on first start; after
// that the persisted state wins.
type Config struct {
	// Address is the sale's own account: it holds the inventory, receives
	// payments and spends buyer allowances.
	Address       common.Address
	SaleToken     common.Address
	PaymentTokens []common.Address
	Owner         common.Address

	Ladder          PriceLadder
	Bonus           BonusTable
	ReferralRateBps uint64
	StartPaused     bool
}

// DefaultConfig returns the reference pricing tables for the given accounts.
func DefaultConfig(address, saleToken, owner common.Address, paymentTokens ...common.Address) Config {
	return Config{
		Address:         address,
		SaleToken:       saleToken,
		PaymentTokens:   append([]common.Address(nil), paymentTokens...),
		Owner:           owner,
		Ladder:          DefaultPriceLadder(),
		Bonus:           DefaultBonusTable(),
		ReferralRateBps: DefaultReferralRateBps,
	}
}

// Validate reports the first configuration problem.
func (c Config) Validate() error {
	zero := common.Address{}
	if c.Address == zero {
		return fmt.Errorf("%w: sale address required", ErrInvalidConfig)
	}
	if c.SaleToken == zero {
		return fmt.Errorf("%w: sale token required", ErrInvalidConfig)
	}
	if len(c.PaymentTokens) == 0 {
		return fmt.Errorf("%w: at least one payment token required", ErrInvalidConfig)
	}
	seen := make(map[common.Address]struct{}, len(c.PaymentTokens))
	for _, token := range c.PaymentTokens {
		if token == zero || token == c.SaleToken {
			return fmt.Errorf("%w: payment token %s not allowed", ErrInvalidConfig, token.Hex())
		}
		if _, dup := seen[token]; dup {
			return fmt.Errorf("%w: duplicate payment token %s", ErrInvalidConfig, token.Hex())
		}
		seen[token] = struct{}{}
	}
	if c.ReferralRateBps > MaxBps {
		return fmt.Errorf("%w: referral rate %d exceeds %d", ErrInvalidConfig, c.ReferralRateBps, MaxBps)
	}
	if err := c.Ladder.Validate(); err != nil {
		return err
	}
	return c.Bonus.Validate()
}
