package sale

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// TestReferenceScenarioTotals replays a full sale with rate changes,
// withdrawals and referral rebinding attempts, then checks every balance and
// counter against the reference figures.
func TestReferenceScenarioTotals(t *testing.T) {
	h := newHarness(t)
	zero := common.Address{}

	h.buy(userOne, usdtToken, Units(400), zero)
	h.buy(userTwo, usdtToken, Units(4_500), zero)
	h.buy(userOne, usdtToken, Units(100_000), userTwo)
	h.setRate(3_500)
	h.buy(userTwo, usdtToken, Units(123_000), userOne)
	h.setRate(1_234)
	h.buy(userTwo, usdtToken, Units(12_300), admin)
	h.buy(userOne, usdtToken, Units(100_000), userOne)

	withdraw := func(token, to common.Address, amount int64) {
		t.Helper()
		if err := h.engine.Withdraw(admin, token, to, Units(amount)); err != nil {
			t.Fatalf("withdraw: %v", err)
		}
	}
	withdraw(cratToken, admin, 12_300)
	withdraw(cratToken, userTwo, 12_300)
	withdraw(usdtToken, admin, 12_300)

	h.buy(userTwo, usdtToken, Units(12_399), saleAddr)
	h.buy(userTwo, usdtToken, Units(12_399), zero)
	h.setRate(0)
	h.buy(userTwo, usdtToken, Units(99_000), userOne)

	withdraw(cratToken, admin, 4_500)
	withdraw(cratToken, userOne, 4_500)
	withdraw(usdtToken, userOne, 4_500)

	h.buy(admin, usdtToken, Units(12_300), userOne)

	requireAmount(t, "sale usdt", h.balance(usdtToken, saleAddr), "389530.1068")
	requireAmount(t, "userOne usdt", h.balance(usdtToken, userOne), "9851727.8932")
	requireAmount(t, "admin usdt", h.balance(usdtToken, admin), "0")

	state := h.engine.State()
	requireAmount(t, "raised", state.TotalFundsRaised, "476298")
	requireAmount(t, "price", state.CurrentPrice, "0.25")
	if state.ReferralRateBps != 0 {
		t.Fatalf("rate = %d", state.ReferralRateBps)
	}

	one := h.account(userOne)
	requireAmount(t, "userOne bonus", one.BonusTokensReceived, "25000")
	requireAmount(t, "userOne referral", one.ReferralReceived, "47627.8932")
	requireAmount(t, "userOne spend", one.TotalSpend, "200400")
	if one.ReferralFather != userTwo {
		t.Fatalf("userOne father = %s", one.ReferralFather.Hex())
	}

	two := h.account(userTwo)
	requireAmount(t, "userTwo bonus", two.BonusTokensReceived, "20954.545454545454545454")
	requireAmount(t, "userTwo referral", two.ReferralReceived, "22340")
	requireAmount(t, "userTwo spend", two.TotalSpend, "263598")
	if two.ReferralFather != userOne {
		t.Fatalf("userTwo father = %s", two.ReferralFather.Hex())
	}

	if got := h.account(admin).ReferralFather; got != userOne {
		t.Fatalf("admin father = %s", got.Hex())
	}

	holders := []common.Address{saleAddr, admin, userOne, userTwo}
	for _, token := range []common.Address{usdtToken, cratToken} {
		total := new(big.Int)
		for _, holder := range holders {
			total.Add(total, h.balance(token, holder))
		}
		requireAmount(t, "total "+token.Hex(), total, "20000000")
	}
}
