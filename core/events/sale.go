package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"cratsale/core/types"
)

const (
	TypeSalePurchased           = "sale.purchased"
	TypeSaleReferralBound       = "sale.referral.bound"
	TypeSaleReferralPaid        = "sale.referral.paid"
	TypeSalePriceAdvanced       = "sale.price.advanced"
	TypeSalePaused              = "sale.paused"
	TypeSaleUnpaused            = "sale.unpaused"
	TypeSaleReferralRateChanged = "sale.referral_rate.changed"
	TypeSaleWithdrawn           = "sale.withdrawn"
	TypeSaleOwnershipChanged    = "sale.ownership.transferred"
)

// SalePurchased is emitted once per committed purchase.
type SalePurchased struct {
	Buyer        common.Address
	PaymentToken common.Address
	Amount       *big.Int
	Price        *big.Int
	BaseTokens   *big.Int
	BonusTokens  *big.Int
	Rebate       *big.Int
	Referrer     common.Address
}

func (SalePurchased) EventType() string { return TypeSalePurchased }

func (e SalePurchased) Event() *types.Event {
	return &types.Event{
		Type: TypeSalePurchased,
		Attributes: map[string]string{
			"buyer":        formatAddress(e.Buyer),
			"paymentToken": formatAddress(e.PaymentToken),
			"amount":       formatAmount(e.Amount),
			"price":        formatAmount(e.Price),
			"baseTokens":   formatAmount(e.BaseTokens),
			"bonusTokens":  formatAmount(e.BonusTokens),
			"rebate":       formatAmount(e.Rebate),
			"referrer":     formatAddress(e.Referrer),
		},
	}
}

// SaleReferralBound is emitted when a buyer is permanently bound to a referrer.
type SaleReferralBound struct {
	Buyer    common.Address
	Referrer common.Address
}

func (SaleReferralBound) EventType() string { return TypeSaleReferralBound }

func (e SaleReferralBound) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleReferralBound,
		Attributes: map[string]string{
			"buyer":    formatAddress(e.Buyer),
			"referrer": formatAddress(e.Referrer),
		},
	}
}

type SaleReferralPaid struct {
	Referrer     common.Address
	Buyer        common.Address
	PaymentToken common.Address
	Amount       *big.Int
}

func (SaleReferralPaid) EventType() string { return TypeSaleReferralPaid }

func (e SaleReferralPaid) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleReferralPaid,
		Attributes: map[string]string{
			"referrer":     formatAddress(e.Referrer),
			"buyer":        formatAddress(e.Buyer),
			"paymentToken": formatAddress(e.PaymentToken),
			"amount":       formatAmount(e.Amount),
		},
	}
}

type SalePriceAdvanced struct {
	Previous   *big.Int
	Current    *big.Int
	TokensSold *big.Int
}

func (SalePriceAdvanced) EventType() string { return TypeSalePriceAdvanced }

func (e SalePriceAdvanced) Event() *types.Event {
	return &types.Event{
		Type: TypeSalePriceAdvanced,
		Attributes: map[string]string{
			"previous":   formatAmount(e.Previous),
			"current":    formatAmount(e.Current),
			"tokensSold": formatAmount(e.TokensSold),
		},
	}
}

// SalePhaseChanged covers both pause and unpause transitions.
type SalePhaseChanged struct {
	Paused bool
	Actor  common.Address
}

func (e SalePhaseChanged) EventType() string {
	if e.Paused {
		return TypeSalePaused
	}
	return TypeSaleUnpaused
}

func (e SalePhaseChanged) Event() *types.Event {
	return &types.Event{
		Type:       e.EventType(),
		Attributes: map[string]string{"actor": formatAddress(e.Actor)},
	}
}

type SaleReferralRateChanged struct {
	Previous uint64
	Current  uint64
	Actor    common.Address
}

func (SaleReferralRateChanged) EventType() string { return TypeSaleReferralRateChanged }

func (e SaleReferralRateChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleReferralRateChanged,
		Attributes: map[string]string{
			"previousBps": uintToString(e.Previous),
			"currentBps":  uintToString(e.Current),
			"actor":       formatAddress(e.Actor),
		},
	}
}

type SaleWithdrawn struct {
	Token  common.Address
	To     common.Address
	Amount *big.Int
	Actor  common.Address
}

func (SaleWithdrawn) EventType() string { return TypeSaleWithdrawn }

func (e SaleWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleWithdrawn,
		Attributes: map[string]string{
			"token":  formatAddress(e.Token),
			"to":     formatAddress(e.To),
			"amount": formatAmount(e.Amount),
			"actor":  formatAddress(e.Actor),
		},
	}
}

// SaleOwnershipChanged is emitted on transfer and on renounce (empty next).
type SaleOwnershipChanged struct {
	Previous common.Address
	Next     common.Address
}

func (SaleOwnershipChanged) EventType() string { return TypeSaleOwnershipChanged }

func (e SaleOwnershipChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleOwnershipChanged,
		Attributes: map[string]string{
			"previous": formatAddress(e.Previous),
			"next":     formatAddress(e.Next),
		},
	}
}
