package bank

import "errors"

var (
	ErrUnknownToken          = errors.New("bank: unknown token")
	ErrTokenExists           = errors.New("bank: token already registered")
	ErrInsufficientBalance   = errors.New("bank: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrZeroAddress           = errors.New("bank: zero address")
	ErrInvalidAmount         = errors.New("bank: invalid amount")
	ErrOverflow              = errors.New("bank: amount overflows 256 bits")
	ErrReadOnly              = errors.New("bank: read-only view")
	errNilDatabase           = errors.New("bank: database not configured")
)
