package bank

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cratsale/core/events"
)

// maxAllowance is treated as an unlimited approval and never decremented.
var maxAllowance = new(uint256.Int).SetAllOne()

// UnlimitedAllowance returns the approval amount that TransferFrom never
// decrements.
func UnlimitedAllowance() *big.Int { return maxAllowance.ToBig() }

type txn struct {
	l        *Ledger
	readOnly bool
}

func (t *txn) BalanceOf(token, owner common.Address) (*big.Int, error) {
	if _, err := t.l.loadToken(token); err != nil {
		return nil, err
	}
	v, err := t.l.loadBalance(balanceKey{token: token, owner: owner})
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

func (t *txn) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	if _, err := t.l.loadToken(token); err != nil {
		return nil, err
	}
	v, err := t.l.loadAllowance(allowanceKey{token: token, owner: owner, spender: spender})
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

func (t *txn) Transfer(token, from, to common.Address, amount *big.Int) error {
	if t.readOnly {
		return ErrReadOnly
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if _, err := t.l.loadToken(token); err != nil {
		return err
	}
	return t.move(token, from, to, value)
}

func (t *txn) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if t.readOnly {
		return ErrReadOnly
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if _, err := t.l.loadToken(token); err != nil {
		return err
	}
	key := allowanceKey{token: token, owner: from, spender: spender}
	allowance, err := t.l.loadAllowance(key)
	if err != nil {
		return err
	}
	if !allowance.Eq(maxAllowance) {
		if allowance.Lt(value) {
			return ErrInsufficientAllowance
		}
		t.l.setAllowance(key, new(uint256.Int).Sub(allowance, value))
	}
	return t.move(token, from, to, value)
}

func (t *txn) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if _, err := t.l.loadToken(token); err != nil {
		return err
	}
	key := allowanceKey{token: token, owner: owner, spender: spender}
	if _, err := t.l.loadAllowance(key); err != nil {
		return err
	}
	t.l.setAllowance(key, value)
	t.l.pending = append(t.l.pending, events.TokenApproval{Token: token, Owner: owner, Spender: spender, Amount: value.ToBig()})
	return nil
}

func (t *txn) move(token, from, to common.Address, value *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromKey := balanceKey{token: token, owner: from}
	fromBalance, err := t.l.loadBalance(fromKey)
	if err != nil {
		return err
	}
	if fromBalance.Lt(value) {
		return ErrInsufficientBalance
	}
	t.l.setBalance(fromKey, new(uint256.Int).Sub(fromBalance, value))
	toKey := balanceKey{token: token, owner: to}
	toBalance, err := t.l.loadBalance(toKey)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBalance, value)
	if overflow {
		return ErrOverflow
	}
	t.l.setBalance(toKey, credited)
	t.l.pending = append(t.l.pending, events.TokenTransfer{Token: token, From: from, To: to, Amount: value.ToBig()})
	return nil
}

func (t *txn) mint(token, to common.Address, amount *big.Int) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	meta, err := t.l.loadToken(token)
	if err != nil {
		return err
	}
	supply, overflow := new(uint256.Int).AddOverflow(meta.supply, value)
	if overflow {
		return ErrOverflow
	}
	key := balanceKey{token: token, owner: to}
	balance, err := t.l.loadBalance(key)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(balance, value)
	if overflow {
		return ErrOverflow
	}
	t.l.setSupply(token, meta, supply)
	t.l.setBalance(key, credited)
	t.l.pending = append(t.l.pending, events.TokenTransfer{Token: token, To: to, Amount: value.ToBig()})
	return nil
}
