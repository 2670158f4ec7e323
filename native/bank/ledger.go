package bank

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cratsale/core/events"
	"cratsale/storage"
)

// Tokens is the fungible-token capability handed to callers of Atomic and
// View. Every method addresses a token by its contract address.
type Tokens interface {
	BalanceOf(token, owner common.Address) (*big.Int, error)
	Allowance(token, owner, spender common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
	Approve(token, owner, spender common.Address, amount *big.Int) error
}

// TokenInfo describes a registered token.
type TokenInfo struct {
	Address     common.Address
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

type storedToken struct {
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

type tokenMeta struct {
	symbol   string
	decimals uint8
	supply   *uint256.Int
}

type entryKind uint8

const (
	entryBalance entryKind = iota
	entryAllowance
	entrySupply
)

type journalEntry struct {
	kind      entryKind
	balance   balanceKey
	allowance allowanceKey
	token     common.Address
	prev      *uint256.Int
}

// Ledger is an ERC20-style multi-token balance sheet persisted in a
// storage.Database. Mutations run inside Atomic: they are journaled, staged
// into a single batch together with the caller's own writes and reverted in
// memory when either the callback or the batch write fails.
type Ledger struct {
	mu     sync.Mutex
	db     storage.Database
	logger *slog.Logger

	emitter events.Emitter
	pending []events.Event

	tokens     map[common.Address]*tokenMeta
	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int

	dirtyBalances   map[balanceKey]struct{}
	dirtyAllowances map[allowanceKey]struct{}
	dirtyTokens     map[common.Address]struct{}

	journal []journalEntry
}

// NewLedger returns a ledger backed by db.
func NewLedger(db storage.Database) (*Ledger, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	return &Ledger{
		db:              db,
		logger:          slog.Default(),
		emitter:         events.NoopEmitter{},
		tokens:          make(map[common.Address]*tokenMeta),
		balances:        make(map[balanceKey]*uint256.Int),
		allowances:      make(map[allowanceKey]*uint256.Int),
		dirtyBalances:   make(map[balanceKey]struct{}),
		dirtyAllowances: make(map[allowanceKey]struct{}),
		dirtyTokens:     make(map[common.Address]struct{}),
	}, nil
}

// SetLogger overrides the structured logger. Nil restores slog.Default.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = logger
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.emitter = emitter
}

// Register records a token. It reports false without error when the token is
// already known so bootstrap code can run on every start.
func (l *Ledger) Register(token common.Address, symbol string, decimals uint8) (bool, error) {
	if token == (common.Address{}) {
		return false, ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	meta, err := l.loadToken(token)
	if err == nil && meta != nil {
		return false, nil
	}
	if err != nil && !errors.Is(err, ErrUnknownToken) {
		return false, err
	}
	meta = &tokenMeta{symbol: strings.ToUpper(strings.TrimSpace(symbol)), decimals: decimals, supply: new(uint256.Int)}
	record := storedToken{Symbol: meta.symbol, Decimals: decimals, TotalSupply: big.NewInt(0)}
	if err := storage.KVPut(l.db, tokenKey(token), record); err != nil {
		return false, err
	}
	l.tokens[token] = meta
	l.logger.Info("bank: token registered", slog.String("token", token.Hex()), slog.String("symbol", meta.symbol))
	return true, nil
}

// Tokens lists registered tokens that have been loaded into memory, sorted by
// symbol.
func (l *Ledger) Tokens() []TokenInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TokenInfo, 0, len(l.tokens))
	for addr, meta := range l.tokens {
		out = append(out, TokenInfo{Address: addr, Symbol: meta.symbol, Decimals: meta.decimals, TotalSupply: meta.supply.ToBig()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol == out[j].Symbol {
			return out[i].Address.Hex() < out[j].Address.Hex()
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Token returns metadata for a registered token.
func (l *Ledger) Token(token common.Address) (TokenInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	meta, err := l.loadToken(token)
	if err != nil {
		return TokenInfo{}, err
	}
	return TokenInfo{Address: token, Symbol: meta.symbol, Decimals: meta.decimals, TotalSupply: meta.supply.ToBig()}, nil
}

// Mint credits amount of token to the recipient and grows the total supply.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	return l.Atomic(func(tokens Tokens, _ storage.Batch) error {
		return tokens.(*txn).mint(token, to, amount)
	})
}

// Credit is one recipient of a MintAll call.
type Credit struct {
	To     common.Address
	Amount *big.Int
}

// MintAll credits every recipient of token in a single atomic write. Either
// all credits land or none do.
func (l *Ledger) MintAll(token common.Address, credits []Credit) error {
	return l.Atomic(func(tokens Tokens, _ storage.Batch) error {
		for _, credit := range credits {
			if err := tokens.(*txn).mint(token, credit.To, credit.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}

// Atomic runs fn with exclusive access to the ledger. Writes made through the
// supplied Tokens and any keys fn stages into batch are committed together.
// On error every in-memory change is rolled back and nothing is persisted.
func (l *Ledger) Atomic(fn func(tokens Tokens, batch storage.Batch) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := l.snapshot()
	batch := l.db.NewBatch()
	if err := fn(&txn{l: l}, batch); err != nil {
		l.revertToSnapshot(snap)
		return err
	}
	if err := l.flush(batch); err != nil {
		l.revertToSnapshot(snap)
		return err
	}
	if err := batch.Write(); err != nil {
		l.revertToSnapshot(snap)
		return fmt.Errorf("bank: commit batch: %w", err)
	}
	l.journal = l.journal[:0]
	pending := l.pending
	l.pending = nil
	for _, evt := range pending {
		l.emitter.Emit(evt)
	}
	return nil
}

// View runs fn with a read-only Tokens handle. Mutating calls fail with
// ErrReadOnly.
func (l *Ledger) View(fn func(tokens Tokens) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(&txn{l: l, readOnly: true})
}

func (l *Ledger) snapshot() int { return len(l.journal) }

func (l *Ledger) revertToSnapshot(id int) {
	for i := len(l.journal) - 1; i >= id; i-- {
		entry := l.journal[i]
		switch entry.kind {
		case entryBalance:
			l.balances[entry.balance] = entry.prev
		case entryAllowance:
			l.allowances[entry.allowance] = entry.prev
		case entrySupply:
			if meta, ok := l.tokens[entry.token]; ok {
				meta.supply = entry.prev
			}
		}
	}
	l.journal = l.journal[:id]
	l.pending = nil
	for k := range l.dirtyBalances {
		delete(l.dirtyBalances, k)
	}
	for k := range l.dirtyAllowances {
		delete(l.dirtyAllowances, k)
	}
	for k := range l.dirtyTokens {
		delete(l.dirtyTokens, k)
	}
}

func (l *Ledger) flush(batch storage.Batch) error {
	for key := range l.dirtyBalances {
		if err := storage.KVPut(batch, key.bytes(), l.balances[key].ToBig()); err != nil {
			return err
		}
		delete(l.dirtyBalances, key)
	}
	for key := range l.dirtyAllowances {
		if err := storage.KVPut(batch, key.bytes(), l.allowances[key].ToBig()); err != nil {
			return err
		}
		delete(l.dirtyAllowances, key)
	}
	for token := range l.dirtyTokens {
		meta := l.tokens[token]
		record := storedToken{Symbol: meta.symbol, Decimals: meta.decimals, TotalSupply: meta.supply.ToBig()}
		if err := storage.KVPut(batch, tokenKey(token), record); err != nil {
			return err
		}
		delete(l.dirtyTokens, token)
	}
	return nil
}

func (l *Ledger) loadToken(token common.Address) (*tokenMeta, error) {
	if meta, ok := l.tokens[token]; ok {
		return meta, nil
	}
	var record storedToken
	ok, err := storage.KVGet(l.db, tokenKey(token), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownToken
	}
	supply, overflow := uint256.FromBig(record.TotalSupply)
	if overflow {
		return nil, ErrOverflow
	}
	meta := &tokenMeta{symbol: record.Symbol, decimals: record.Decimals, supply: supply}
	l.tokens[token] = meta
	return meta, nil
}

func (l *Ledger) loadBalance(key balanceKey) (*uint256.Int, error) {
	if v, ok := l.balances[key]; ok {
		return v, nil
	}
	v, err := l.loadAmount(key.bytes())
	if err != nil {
		return nil, err
	}
	l.balances[key] = v
	return v, nil
}

func (l *Ledger) loadAllowance(key allowanceKey) (*uint256.Int, error) {
	if v, ok := l.allowances[key]; ok {
		return v, nil
	}
	v, err := l.loadAmount(key.bytes())
	if err != nil {
		return nil, err
	}
	l.allowances[key] = v
	return v, nil
}

func (l *Ledger) loadAmount(key []byte) (*uint256.Int, error) {
	stored := new(big.Int)
	ok, err := storage.KVGet(l.db, key, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	v, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

func (l *Ledger) setBalance(key balanceKey, value *uint256.Int) {
	l.journal = append(l.journal, journalEntry{kind: entryBalance, balance: key, prev: l.balances[key]})
	l.balances[key] = value
	l.dirtyBalances[key] = struct{}{}
}

func (l *Ledger) setAllowance(key allowanceKey, value *uint256.Int) {
	l.journal = append(l.journal, journalEntry{kind: entryAllowance, allowance: key, prev: l.allowances[key]})
	l.allowances[key] = value
	l.dirtyAllowances[key] = struct{}{}
}

func (l *Ledger) setSupply(token common.Address, meta *tokenMeta, value *uint256.Int) {
	l.journal = append(l.journal, journalEntry{kind: entrySupply, token: token, prev: meta.supply})
	meta.supply = value
	l.dirtyTokens[token] = struct{}{}
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}
