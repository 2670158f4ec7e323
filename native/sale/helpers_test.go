package sale

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"cratsale/core/events"
	"cratsale/native/bank"
	"cratsale/storage"
)

var (
	saleAddr  = common.HexToAddress("0x5a1e000000000000000000000000000000000001")
	cratToken = common.HexToAddress("0xc7a7000000000000000000000000000000000001")
	usdtToken = common.HexToAddress("0x05d7000000000000000000000000000000000001")
	usdcToken = common.HexToAddress("0x05dc000000000000000000000000000000000001")
	admin     = common.HexToAddress("0xad00000000000000000000000000000000000001")
	userOne   = common.HexToAddress("0x1100000000000000000000000000000000000001")
	userTwo   = common.HexToAddress("0x2200000000000000000000000000000000000002")
	stranger  = common.HexToAddress("0x3300000000000000000000000000000000000003")
)

// premint mirrors the reference deployment: 20M sale tokens held by the sale
// and 20M of each stablecoin split between the two users.
var premint = Units(20_000_000)

type harness struct {
	t        *testing.T
	db       *storage.MemDB
	ledger   *bank.Ledger
	engine   *Engine
	recorder *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storage.NewMemDB()
	ledger, err := bank.NewLedger(db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	for token, symbol := range map[common.Address]string{cratToken: "CRAT", usdtToken: "USDT", usdcToken: "USDC"} {
		if _, err := ledger.Register(token, symbol, Decimals); err != nil {
			t.Fatalf("register %s: %v", symbol, err)
		}
	}
	half := new(big.Int).Div(premint, big.NewInt(2))
	mints := []struct {
		token common.Address
		to    common.Address
		value *big.Int
	}{
		{cratToken, saleAddr, premint},
		{usdtToken, userOne, half},
		{usdtToken, userTwo, half},
		{usdcToken, userOne, half},
		{usdcToken, userTwo, half},
	}
	for _, m := range mints {
		if err := ledger.Mint(m.token, m.to, m.value); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	h := &harness{t: t, db: db, ledger: ledger, recorder: &events.Recorder{}}
	h.engine = h.open()
	return h
}

func (h *harness) open() *Engine {
	h.t.Helper()
	cfg := DefaultConfig(saleAddr, cratToken, admin, usdtToken, usdcToken)
	engine, err := NewEngine(cfg, h.ledger, h.db)
	if err != nil {
		h.t.Fatalf("new engine: %v", err)
	}
	engine.SetEmitter(h.recorder)
	engine.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return engine
}

func (h *harness) balance(token, owner common.Address) *big.Int {
	h.t.Helper()
	var out *big.Int
	err := h.ledger.View(func(tokens bank.Tokens) error {
		var err error
		out, err = tokens.BalanceOf(token, owner)
		return err
	})
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return out
}

func (h *harness) approve(token, owner common.Address, amount *big.Int) {
	h.t.Helper()
	err := h.ledger.Atomic(func(tokens bank.Tokens, _ storage.Batch) error {
		return tokens.Approve(token, owner, saleAddr, amount)
	})
	if err != nil {
		h.t.Fatalf("approve: %v", err)
	}
}

func (h *harness) transfer(token, from, to common.Address, amount *big.Int) {
	h.t.Helper()
	err := h.ledger.Atomic(func(tokens bank.Tokens, _ storage.Batch) error {
		return tokens.Transfer(token, from, to, amount)
	})
	if err != nil {
		h.t.Fatalf("transfer: %v", err)
	}
}

// buy approves exactly amount and buys with the previewed rebate as guard,
// the way a well-behaved client does.
func (h *harness) buy(buyer, token common.Address, amount *big.Int, referrer common.Address) *Receipt {
	h.t.Helper()
	h.approve(token, buyer, amount)
	rebate, err := h.engine.PreviewRebate(buyer, referrer, amount)
	if err != nil {
		h.t.Fatalf("preview rebate: %v", err)
	}
	receipt, err := h.engine.Buy(buyer, BuyRequest{PaymentToken: token, Amount: amount, Referrer: referrer, MinRebate: rebate})
	if err != nil {
		h.t.Fatalf("buy %s by %s: %v", FormatUnits(amount), buyer.Hex(), err)
	}
	return receipt
}

func (h *harness) setRate(bps uint64) {
	h.t.Helper()
	if err := h.engine.Pause(admin); err != nil {
		h.t.Fatalf("pause: %v", err)
	}
	if err := h.engine.ChangeReferralRate(admin, bps); err != nil {
		h.t.Fatalf("change rate: %v", err)
	}
	if err := h.engine.Unpause(admin); err != nil {
		h.t.Fatalf("unpause: %v", err)
	}
}

func (h *harness) account(addr common.Address) *Account {
	h.t.Helper()
	acc, err := h.engine.AccountOf(addr)
	if err != nil {
		h.t.Fatalf("account of %s: %v", addr.Hex(), err)
	}
	return acc
}

func units(t *testing.T, raw string) *big.Int {
	t.Helper()
	v, err := ParseUnits(raw)
	if err != nil {
		t.Fatalf("parse units %q: %v", raw, err)
	}
	return v
}

func requireAmount(t *testing.T, label string, got *big.Int, want string) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: got nil, want %s", label, want)
	}
	if w := units(t, want); got.Cmp(w) != 0 {
		t.Fatalf("%s: got %s, want %s", label, FormatUnits(got), want)
	}
}
