package sale

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"cratsale/core/events"
	"cratsale/native/bank"
	"cratsale/storage"
)

// Ledger is the token collaborator. Atomic must apply every token movement
// and every key staged into the batch together, or none of them.
type Ledger interface {
	Atomic(fn func(tokens bank.Tokens, batch storage.Batch) error) error
	View(fn func(tokens bank.Tokens) error) error
}

// Engine owns the sale aggregate. Every operation holds the engine lock and
// either commits fully or leaves no trace.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	payments map[common.Address]struct{}
	ledger   Ledger
	db       storage.Database

	state    State
	accounts map[common.Address]*Account

	emitter events.Emitter
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewEngine validates cfg and restores persisted state from db. On first start
// the state is seeded from cfg and written immediately.
func NewEngine(cfg Config, ledger Ledger, db storage.Database) (*Engine, error) {
	if ledger == nil {
		return nil, errNilLedger
	}
	if db == nil {
		return nil, errNilDatabase
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		payments: make(map[common.Address]struct{}, len(cfg.PaymentTokens)),
		ledger:   ledger,
		db:       db,
		accounts: make(map[common.Address]*Account),
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		nowFn:    time.Now,
	}
	for _, token := range cfg.PaymentTokens {
		e.payments[token] = struct{}{}
	}
	state, ok, err := getState(db)
	if err != nil {
		return nil, err
	}
	if !ok {
		state = State{
			Owner:            cfg.Owner,
			TotalFundsRaised: new(big.Int),
			TokensSold:       new(big.Int),
			CurrentPrice:     cfg.Ladder.PriceFor(new(big.Int)),
			ReferralRateBps:  cfg.ReferralRateBps,
			Phase:            PhaseActive,
		}
		if cfg.StartPaused {
			state.Phase = PhasePaused
		}
		if err := putState(db, state); err != nil {
			return nil, err
		}
	}
	e.state = state
	return e, nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the clock stamped on receipts. Primarily intended for
// tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// Config returns the static configuration.
func (e *Engine) Config() Config { return e.cfg }

// Address is the sale's own account.
func (e *Engine) Address() common.Address { return e.cfg.Address }

// AcceptsPayment reports whether token is a configured payment token.
func (e *Engine) AcceptsPayment(token common.Address) bool {
	_, ok := e.payments[token]
	return ok
}

// State returns a copy of the global sale state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// AccountOf returns a copy of addr's account. Unknown addresses yield a zero
// account.
func (e *Engine) AccountOf(addr common.Address) (*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.clone(), nil
}

// TokensFor converts a stable amount into tokens at the current price.
func (e *Engine) TokensFor(stable *big.Int) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return TokensFor(stable, e.state.CurrentPrice)
}

// StableFor converts a token amount into stable value at the current price.
func (e *Engine) StableFor(tokens *big.Int) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StableFor(tokens, e.state.CurrentPrice)
}

// PreviewRebate returns the rebate a purchase of amount by buyer with the
// proposed referrer would pay right now. It never mutates state.
func (e *Engine) PreviewRebate(buyer, referrer common.Address, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.loadAccount(buyer)
	if err != nil {
		return nil, err
	}
	return resolveReferral(acc, buyer, referrer, amount, e.state.ReferralRateBps).rebate, nil
}

// Quote previews the tokens and rebate of an order at the current price.
func (e *Engine) Quote(buyer, referrer common.Address, amount *big.Int) (Quote, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Quote{}, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.loadAccount(buyer)
	if err != nil {
		return Quote{}, err
	}
	price := cloneBig(e.state.CurrentPrice)
	ref := resolveReferral(acc, buyer, referrer, amount, e.state.ReferralRateBps)
	return Quote{
		Price:       price,
		BaseTokens:  TokensFor(amount, price),
		BonusTokens: TokensFor(e.cfg.Bonus.Accrue(acc.TotalSpend, amount), price),
		Rebate:      ref.rebate,
		Referrer:    ref.father,
	}, nil
}

// Buy executes one purchase for buyer. Preconditions are checked in order
// (phase, payment token, amount, rebate guard) before any transfer; token
// failures propagate unchanged and roll the whole purchase back.
func (e *Engine) Buy(buyer common.Address, req BuyRequest) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseActive {
		return nil, ErrPaused
	}
	if !e.AcceptsPayment(req.PaymentToken) {
		return nil, ErrInvalidPaymentToken
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	amount := cloneBig(req.Amount)

	current, err := e.loadAccount(buyer)
	if err != nil {
		return nil, err
	}
	ref := resolveReferral(current, buyer, req.Referrer, amount, e.state.ReferralRateBps)
	minRebate := cloneBig(req.MinRebate)
	if ref.rebate.Cmp(minRebate) < 0 {
		return nil, ErrRebateBelowMinimum
	}

	price := cloneBig(e.state.CurrentPrice)
	baseTokens := TokensFor(amount, price)
	bonusTokens := TokensFor(e.cfg.Bonus.Accrue(current.TotalSpend, amount), price)
	payout := new(big.Int).Add(baseTokens, bonusTokens)
	retained := new(big.Int).Sub(amount, ref.rebate)

	next := e.state.clone()
	next.TotalFundsRaised.Add(next.TotalFundsRaised, amount)
	next.TokensSold.Add(next.TokensSold, baseTokens)
	if advanced := e.cfg.Ladder.PriceFor(next.TokensSold); advanced.Cmp(next.CurrentPrice) > 0 {
		next.CurrentPrice = advanced
	}

	buyerAcc := current.clone()
	buyerAcc.TotalSpend.Add(buyerAcc.TotalSpend, amount)
	buyerAcc.BonusTokensReceived.Add(buyerAcc.BonusTokensReceived, bonusTokens)
	if ref.bind {
		buyerAcc.ReferralFather = ref.father
	}
	var fatherAcc *Account
	if ref.rebate.Sign() > 0 {
		loaded, err := e.loadAccount(ref.father)
		if err != nil {
			return nil, err
		}
		fatherAcc = loaded.clone()
		fatherAcc.ReferralReceived.Add(fatherAcc.ReferralReceived, ref.rebate)
	}

	err = e.ledger.Atomic(func(tokens bank.Tokens, batch storage.Batch) error {
		if ref.rebate.Sign() > 0 {
			if err := tokens.TransferFrom(req.PaymentToken, e.cfg.Address, buyer, ref.father, ref.rebate); err != nil {
				return err
			}
		}
		if err := tokens.TransferFrom(req.PaymentToken, e.cfg.Address, buyer, e.cfg.Address, retained); err != nil {
			return err
		}
		if err := tokens.Transfer(e.cfg.SaleToken, e.cfg.Address, buyer, payout); err != nil {
			return err
		}
		if err := putState(batch, next); err != nil {
			return err
		}
		if err := putAccount(batch, buyer, buyerAcc); err != nil {
			return err
		}
		if fatherAcc != nil {
			return putAccount(batch, ref.father, fatherAcc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prevPrice := e.state.CurrentPrice
	e.state = next
	e.accounts[buyer] = buyerAcc
	if fatherAcc != nil {
		e.accounts[ref.father] = fatherAcc
	}

	receipt := &Receipt{
		Buyer:         buyer,
		PaymentToken:  req.PaymentToken,
		Amount:        amount,
		Price:         price,
		BaseTokens:    baseTokens,
		BonusTokens:   bonusTokens,
		Rebate:        ref.rebate,
		Referrer:      ref.father,
		ReferrerBound: ref.bind,
		NextPrice:     cloneBig(next.CurrentPrice),
		Timestamp:     e.nowFn().UTC(),
	}
	if ref.bind {
		e.emit(events.SaleReferralBound{Buyer: buyer, Referrer: ref.father})
	}
	if ref.rebate.Sign() > 0 {
		e.emit(events.SaleReferralPaid{Referrer: ref.father, Buyer: buyer, PaymentToken: req.PaymentToken, Amount: cloneBig(ref.rebate)})
	}
	e.emit(events.SalePurchased{
		Buyer:        buyer,
		PaymentToken: req.PaymentToken,
		Amount:       cloneBig(amount),
		Price:        cloneBig(price),
		BaseTokens:   cloneBig(baseTokens),
		BonusTokens:  cloneBig(bonusTokens),
		Rebate:       cloneBig(ref.rebate),
		Referrer:     ref.father,
	})
	if next.CurrentPrice.Cmp(prevPrice) > 0 {
		e.emit(events.SalePriceAdvanced{Previous: cloneBig(prevPrice), Current: cloneBig(next.CurrentPrice), TokensSold: cloneBig(next.TokensSold)})
		e.logger.Info("sale: price advanced",
			slog.String("previous", FormatUnits(prevPrice)),
			slog.String("current", FormatUnits(next.CurrentPrice)))
	}
	e.logger.Info("sale: purchase committed",
		slog.String("buyer", buyer.Hex()),
		slog.String("payment_token", req.PaymentToken.Hex()),
		slog.String("amount", FormatUnits(amount)),
		slog.String("base_tokens", FormatUnits(baseTokens)),
		slog.String("bonus_tokens", FormatUnits(bonusTokens)),
		slog.String("rebate", FormatUnits(ref.rebate)))
	return receipt, nil
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// loadAccount returns the cached account, loading it from disk or creating an
// empty one. The returned pointer must not be mutated by callers.
func (e *Engine) loadAccount(addr common.Address) (*Account, error) {
	if acc, ok := e.accounts[addr]; ok {
		return acc, nil
	}
	acc, ok, err := getAccount(e.db, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newAccount(), nil
	}
	e.accounts[addr] = acc
	return acc, nil
}

// commitState persists next on its own and swaps it in on success.
func (e *Engine) commitState(next State) error {
	err := e.ledger.Atomic(func(_ bank.Tokens, batch storage.Batch) error {
		return putState(batch, next)
	})
	if err != nil {
		return err
	}
	e.state = next
	return nil
}

// IsPaymentError reports whether err came from the token ledger rather than
// from a sale precondition.
func IsPaymentError(err error) bool {
	return errors.Is(err, bank.ErrInsufficientBalance) ||
		errors.Is(err, bank.ErrInsufficientAllowance) ||
		errors.Is(err, bank.ErrUnknownToken) ||
		errors.Is(err, bank.ErrZeroAddress)
}
