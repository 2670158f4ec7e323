package sale

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// referralResolution is the outcome of resolving a buyer's referrer for one
// order.
type referralResolution struct {
	father common.Address
	bind   bool
	rebate *big.Int
}

// resolveReferral applies bind-once semantics: a bound father always wins,
// the zero address and the buyer itself mean "no referrer", anything else is
// bound by this order.
func resolveReferral(account *Account, buyer, proposed common.Address, amount *big.Int, rateBps uint64) referralResolution {
	res := referralResolution{rebate: new(big.Int)}
	switch {
	case account != nil && account.ReferralFather != (common.Address{}):
		res.father = account.ReferralFather
	case proposed == (common.Address{}) || proposed == buyer:
		return res
	default:
		res.father = proposed
		res.bind = true
	}
	res.rebate = rebateFor(amount, rateBps)
	return res
}

func rebateFor(amount *big.Int, rateBps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || rateBps == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(rateBps))
	return out.Quo(out, bpsDenominator)
}
