package errors

import (
	"errors"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroAmount          = errors.New("amount must be non-zero")
	ErrInvalidAmount       = errors.New("invalid amount")

	ErrNilTransaction           = errors.New("transaction is nil")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrDuplicateOrder           = errors.New("order already recorded")

	// Payment gateway
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrMalformedReference = errors.New("malformed order reference")

	ErrBookingNotFound      = errors.New("booking not found")
	ErrInvalidBookingStatus = errors.New("invalid booking status")
	ErrRefundWindowClosed   = errors.New("refund window closed: cancellation must be requested earlier before the booking starts")

	ErrListingNotFound   = errors.New("listing not found")
	ErrNotPromoted       = errors.New("listing is not promoted")
	ErrAlreadyPromoted   = errors.New("listing is already promoted")
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrUnknownJob        = errors.New("unknown job")
	ErrJobAlreadyRunning = errors.New("job already running")
	ErrInternal          = errors.New("internal error")
)
