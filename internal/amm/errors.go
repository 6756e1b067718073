package amm

import (
	"errors"

	"ammScope/internal/fixedpoint"
)

// Every failed operation returns one of these, wrapped with context. Match
// with errors.Is.
var (
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrUnknownAsset              = errors.New("unknown asset")
	ErrEmptyPool                 = errors.New("empty pool")
	ErrRatioMismatch             = errors.New("deposit ratio mismatch")
	ErrInsufficientShares        = errors.New("insufficient shares")
	ErrInsufficientOutputReserve = errors.New("insufficient output reserve")
	ErrLedgerTransferFailed      = errors.New("ledger transfer failed")
	ErrArithmeticOverflow        = fixedpoint.ErrOverflow
)
