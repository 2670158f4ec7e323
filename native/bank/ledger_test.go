package bank

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"cratsale/core/events"
	"cratsale/storage"
)

var (
	testToken = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func newTestLedger(t *testing.T, db storage.Database) *Ledger {
	t.Helper()
	ledger, err := NewLedger(db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if _, err := ledger.Register(testToken, "usdt", 18); err != nil {
		t.Fatalf("register: %v", err)
	}
	return ledger
}

func balanceOf(t *testing.T, l *Ledger, owner common.Address) *big.Int {
	t.Helper()
	var out *big.Int
	err := l.View(func(tokens Tokens) error {
		var err error
		out, err = tokens.BalanceOf(testToken, owner)
		return err
	})
	if err != nil {
		t.Fatalf("balance of %s: %v", owner.Hex(), err)
	}
	return out
}

func TestRegisterIsIdempotent(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	created, err := ledger.Register(testToken, "USDT", 18)
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if created {
		t.Fatalf("expected second registration to report existing token")
	}
	info, err := ledger.Token(testToken)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if info.Symbol != "USDT" || info.Decimals != 18 {
		t.Fatalf("unexpected token info %+v", info)
	}
	if _, err := ledger.Register(common.Address{}, "X", 18); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address error, got %v", err)
	}
}

func TestMintAllIsAllOrNothing(t *testing.T) {
	db := storage.NewMemDB()
	ledger := newTestLedger(t, db)
	err := ledger.MintAll(testToken, []Credit{
		{To: alice, Amount: big.NewInt(10)},
		{To: common.Address{}, Amount: big.NewInt(5)},
	})
	if !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address error, got %v", err)
	}
	if got := balanceOf(t, ledger, alice); got.Sign() != 0 {
		t.Fatalf("partial mint persisted in memory: %s", got)
	}
	if info, _ := ledger.Token(testToken); info.TotalSupply.Sign() != 0 {
		t.Fatalf("supply moved: %s", info.TotalSupply)
	}

	if err := ledger.MintAll(testToken, []Credit{{To: alice, Amount: big.NewInt(10)}, {To: bob, Amount: big.NewInt(5)}}); err != nil {
		t.Fatalf("mint all: %v", err)
	}
	reloaded, err := NewLedger(db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if info, _ := reloaded.Token(testToken); info.TotalSupply.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("persisted supply = %s", info.TotalSupply)
	}
}

func TestMintTransferAndSupply(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	if err := ledger.Mint(testToken, alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := ledger.Atomic(func(tokens Tokens, _ storage.Batch) error {
		return tokens.Transfer(testToken, alice, bob, big.NewInt(400))
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := balanceOf(t, ledger, alice); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("alice balance = %s", got)
	}
	if got := balanceOf(t, ledger, bob); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("bob balance = %s", got)
	}
	info, _ := ledger.Token(testToken)
	if info.TotalSupply.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("supply = %s", info.TotalSupply)
	}
}

func TestTransferFailuresLeaveBalancesUntouched(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	if err := ledger.Mint(testToken, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	cases := []struct {
		name string
		fn   func(Tokens) error
		want error
	}{
		{"exceeds balance", func(tk Tokens) error { return tk.Transfer(testToken, alice, bob, big.NewInt(101)) }, ErrInsufficientBalance},
		{"zero recipient", func(tk Tokens) error { return tk.Transfer(testToken, alice, common.Address{}, big.NewInt(1)) }, ErrZeroAddress},
		{"negative", func(tk Tokens) error { return tk.Transfer(testToken, alice, bob, big.NewInt(-1)) }, ErrInvalidAmount},
		{"unknown token", func(tk Tokens) error { return tk.Transfer(bob, alice, bob, big.NewInt(1)) }, ErrUnknownToken},
		{"no allowance", func(tk Tokens) error { return tk.TransferFrom(testToken, carol, alice, bob, big.NewInt(1)) }, ErrInsufficientAllowance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ledger.Atomic(func(tokens Tokens, _ storage.Batch) error { return tc.fn(tokens) })
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := balanceOf(t, ledger, alice); got.Cmp(big.NewInt(100)) != 0 {
				t.Fatalf("alice balance changed to %s", got)
			}
		})
	}
}

func TestSettersRaceWithMutations(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			ledger.SetEmitter(&events.Recorder{})
			ledger.SetLogger(logger)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := ledger.Mint(testToken, alice, big.NewInt(1)); err != nil {
				t.Errorf("mint: %v", err)
				return
			}
		}
	}()
	wg.Wait()
	if got := balanceOf(t, ledger, alice); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("balance = %s", got)
	}
}

func TestAtomicRevertsEarlierWritesOnFailure(t *testing.T) {
	db := storage.NewMemDB()
	ledger := newTestLedger(t, db)
	if err := ledger.Mint(testToken, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	rec := &events.Recorder{}
	ledger.SetEmitter(rec)
	err := ledger.Atomic(func(tokens Tokens, batch storage.Batch) error {
		if err := tokens.Transfer(testToken, alice, bob, big.NewInt(60)); err != nil {
			return err
		}
		if err := batch.Put([]byte("extra"), []byte("1")); err != nil {
			return err
		}
		return tokens.Transfer(testToken, alice, carol, big.NewInt(60))
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if got := balanceOf(t, ledger, alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("alice balance = %s", got)
	}
	if got := balanceOf(t, ledger, bob); got.Sign() != 0 {
		t.Fatalf("bob balance = %s", got)
	}
	if _, err := db.Get([]byte("extra")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("staged key leaked: %v", err)
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("expected no events from reverted call, got %d", len(rec.Events()))
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	if err := ledger.Mint(testToken, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	rec := &events.Recorder{}
	ledger.SetEmitter(rec)
	err := ledger.Atomic(func(tokens Tokens, _ storage.Batch) error {
		if err := tokens.Approve(testToken, alice, carol, big.NewInt(70)); err != nil {
			return err
		}
		return tokens.TransferFrom(testToken, carol, alice, bob, big.NewInt(50))
	})
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	var allowance *big.Int
	_ = ledger.View(func(tokens Tokens) error {
		allowance, err = tokens.Allowance(testToken, alice, carol)
		return err
	})
	if allowance.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("allowance = %s", allowance)
	}
	if len(rec.OfType(events.TypeTokenApproval)) != 1 || len(rec.OfType(events.TypeTokenTransfer)) != 1 {
		t.Fatalf("unexpected events: %+v", rec.Events())
	}

	unlimited := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	err = ledger.Atomic(func(tokens Tokens, _ storage.Batch) error {
		if err := tokens.Approve(testToken, alice, carol, unlimited); err != nil {
			return err
		}
		return tokens.TransferFrom(testToken, carol, alice, bob, big.NewInt(50))
	})
	if err != nil {
		t.Fatalf("unlimited transfer from: %v", err)
	}
	_ = ledger.View(func(tokens Tokens) error {
		allowance, err = tokens.Allowance(testToken, alice, carol)
		return err
	})
	if allowance.Cmp(unlimited) != 0 {
		t.Fatalf("unlimited allowance decremented to %s", allowance)
	}
}

func TestViewRejectsWrites(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	err := ledger.View(func(tokens Tokens) error {
		return tokens.Approve(testToken, alice, bob, big.NewInt(1))
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected read-only error, got %v", err)
	}
}

func TestLedgerReloadsFromDatabase(t *testing.T) {
	db := storage.NewMemDB()
	ledger := newTestLedger(t, db)
	if err := ledger.Mint(testToken, alice, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := ledger.Atomic(func(tokens Tokens, _ storage.Batch) error {
		if err := tokens.Approve(testToken, alice, bob, big.NewInt(9)); err != nil {
			return err
		}
		return tokens.Transfer(testToken, alice, bob, big.NewInt(125))
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	reopened, err := NewLedger(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	created, err := reopened.Register(testToken, "USDT", 18)
	if err != nil || created {
		t.Fatalf("expected existing token, created=%v err=%v", created, err)
	}
	if got := balanceOf(t, reopened, alice); got.Cmp(big.NewInt(375)) != 0 {
		t.Fatalf("alice balance after reload = %s", got)
	}
	if got := balanceOf(t, reopened, bob); got.Cmp(big.NewInt(125)) != 0 {
		t.Fatalf("bob balance after reload = %s", got)
	}
	info, _ := reopened.Token(testToken)
	if info.TotalSupply.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("supply after reload = %s", info.TotalSupply)
	}
	var allowance *big.Int
	_ = reopened.View(func(tokens Tokens) error {
		allowance, err = tokens.Allowance(testToken, alice, bob)
		return err
	})
	if allowance.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("allowance after reload = %s", allowance)
	}
}
