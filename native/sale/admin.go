package sale

import (
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"cratsale/core/events"
	"cratsale/native/bank"
	"cratsale/storage"
)

// Owner returns the current owner. The zero address means ownership was
// renounced.
func (e *Engine) Owner() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Owner
}

func (e *Engine) requireOwner(caller common.Address) error {
	if e.state.Owner == (common.Address{}) || caller != e.state.Owner {
		return ErrUnauthorized
	}
	return nil
}

// Pause moves the sale from Active to Paused.
func (e *Engine) Pause(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.state.Phase == PhasePaused {
		return ErrPaused
	}
	next := e.state.clone()
	next.Phase = PhasePaused
	if err := e.commitState(next); err != nil {
		return err
	}
	e.emit(events.SalePhaseChanged{Paused: true, Actor: caller})
	e.logger.Info("sale: paused", slog.String("actor", caller.Hex()))
	return nil
}

// Unpause moves the sale from Paused back to Active.
func (e *Engine) Unpause(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.state.Phase != PhasePaused {
		return ErrNotPaused
	}
	next := e.state.clone()
	next.Phase = PhaseActive
	if err := e.commitState(next); err != nil {
		return err
	}
	e.emit(events.SalePhaseChanged{Paused: false, Actor: caller})
	e.logger.Info("sale: unpaused", slog.String("actor", caller.Hex()))
	return nil
}

// ChangeReferralRate sets the rebate rate. It is only legal while paused.
func (e *Engine) ChangeReferralRate(caller common.Address, rateBps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.state.Phase != PhasePaused {
		return ErrNotPaused
	}
	if rateBps > MaxBps {
		return ErrInvalidReferralRate
	}
	prev := e.state.ReferralRateBps
	next := e.state.clone()
	next.ReferralRateBps = rateBps
	if err := e.commitState(next); err != nil {
		return err
	}
	e.emit(events.SaleReferralRateChanged{Previous: prev, Current: rateBps, Actor: caller})
	e.logger.Info("sale: referral rate changed",
		slog.Uint64("previous_bps", prev),
		slog.Uint64("current_bps", rateBps))
	return nil
}

// Withdraw moves amount of any token held by the sale to the recipient.
// Token errors (unknown token, short balance) propagate unchanged.
func (e *Engine) Withdraw(caller, token, to common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	err := e.ledger.Atomic(func(tokens bank.Tokens, _ storage.Batch) error {
		return tokens.Transfer(token, e.cfg.Address, to, amount)
	})
	if err != nil {
		return err
	}
	e.emit(events.SaleWithdrawn{Token: token, To: to, Amount: cloneBig(amount), Actor: caller})
	e.logger.Info("sale: withdrawal",
		slog.String("token", token.Hex()),
		slog.String("to", to.Hex()),
		slog.String("amount", FormatUnits(amount)))
	return nil
}

// TransferOwnership hands the owner role to next.
func (e *Engine) TransferOwnership(caller, next common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return ErrZeroOwner
	}
	return e.setOwner(next)
}

// RenounceOwnership clears the owner, disabling every owner-only operation for
// good.
func (e *Engine) RenounceOwnership(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	return e.setOwner(common.Address{})
}

func (e *Engine) setOwner(owner common.Address) error {
	prev := e.state.Owner
	next := e.state.clone()
	next.Owner = owner
	if err := e.commitState(next); err != nil {
		return err
	}
	e.emit(events.SaleOwnershipChanged{Previous: prev, Next: owner})
	e.logger.Info("sale: ownership transferred",
		slog.String("previous", prev.Hex()),
		slog.String("next", owner.Hex()))
	return nil
}
