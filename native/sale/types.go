package sale

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Phase is the sale's two-state pause machine.
type Phase uint8

const (
	PhaseActive Phase = iota
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhasePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// State is the global sale aggregate.
type State struct {
	Owner            common.Address
	TotalFundsRaised *big.Int
	TokensSold       *big.Int
	CurrentPrice     *big.Int
	ReferralRateBps  uint64
	Phase            Phase
}

// Paused reports whether purchases are blocked.
func (s State) Paused() bool { return s.Phase == PhasePaused }

func (s State) clone() State {
	out := s
	out.TotalFundsRaised = cloneBig(s.TotalFundsRaised)
	out.TokensSold = cloneBig(s.TokensSold)
	out.CurrentPrice = cloneBig(s.CurrentPrice)
	return out
}

// Account is a buyer's purchase and referral history. Accounts are created on
// first touch and never removed.
type Account struct {
	TotalSpend          *big.Int
	BonusTokensReceived *big.Int
	ReferralReceived    *big.Int
	// ReferralFather is zero until bound and never changes afterwards.
	ReferralFather common.Address
}

func newAccount() *Account {
	return &Account{
		TotalSpend:          new(big.Int),
		BonusTokensReceived: new(big.Int),
		ReferralReceived:    new(big.Int),
	}
}

func (a *Account) clone() *Account {
	if a == nil {
		return newAccount()
	}
	return &Account{
		TotalSpend:          cloneBig(a.TotalSpend),
		BonusTokensReceived: cloneBig(a.BonusTokensReceived),
		ReferralReceived:    cloneBig(a.ReferralReceived),
		ReferralFather:      a.ReferralFather,
	}
}

// BuyRequest is one purchase order. MinRebate is the caller's slippage guard
// on the referral rebate; nil means zero.
type BuyRequest struct {
	PaymentToken common.Address
	Amount       *big.Int
	Referrer     common.Address
	MinRebate    *big.Int
}

// Receipt describes a committed purchase.
type Receipt struct {
	Buyer         common.Address
	PaymentToken  common.Address
	Amount        *big.Int
	Price         *big.Int
	BaseTokens    *big.Int
	BonusTokens   *big.Int
	Rebate        *big.Int
	Referrer      common.Address
	ReferrerBound bool
	NextPrice     *big.Int
	Timestamp     time.Time
}

// Payout is the total sale tokens delivered.
func (r *Receipt) Payout() *big.Int {
	return new(big.Int).Add(cloneBig(r.BaseTokens), cloneBig(r.BonusTokens))
}

// Quote previews an order without executing it.
type Quote struct {
	Price       *big.Int
	BaseTokens  *big.Int
	BonusTokens *big.Int
	Rebate      *big.Int
	Referrer    common.Address
}
