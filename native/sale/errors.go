package sale

import "errors"

var (
	ErrPaused              = errors.New("sale: paused")
	ErrNotPaused           = errors.New("sale: not paused")
	ErrInvalidPaymentToken = errors.New("sale: invalid payment token")
	ErrInvalidAmount       = errors.New("sale: invalid amount")
	ErrRebateBelowMinimum  = errors.New("sale: minimum rebate not met")
	ErrInvalidReferralRate = errors.New("sale: invalid referral rate")
	ErrUnauthorized        = errors.New("sale: caller is not the owner")
	ErrZeroOwner           = errors.New("sale: new owner is the zero address")
	ErrInvalidConfig       = errors.New("sale: invalid config")

	errNilLedger   = errors.New("sale engine: ledger not configured")
	errNilDatabase = errors.New("sale engine: database not configured")
)
