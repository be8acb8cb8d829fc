package models

import "time"

// Transaction is an immutable ledger entry. BalanceBefore and BalanceAfter
// are captured when the entry is written and never recomputed.
type Transaction struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"account_id"`
	Type          TransactionType `json:"type"`
	Amount        int64           `json:"amount"`
	Description   string          `json:"description"`
	Status        StatusType      `json:"status"`
	BalanceBefore int64           `json:"balance_before"`
	BalanceAfter  int64           `json:"balance_after"`
	BookingID     *int64          `json:"booking_id,omitempty"`
	ListingID     *int64          `json:"listing_id,omitempty"`
	OrderID       string          `json:"order_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type TransactionType string

const (
	TypeTopup             TransactionType = "topup"
	TypeBookingPayment    TransactionType = "booking_payment"
	TypeBookingRefund     TransactionType = "booking_refund"
	TypeBookingRevenue    TransactionType = "booking_revenue"
	TypePostingFee        TransactionType = "posting_fee"
	TypePostingFeeRevenue TransactionType = "posting_fee_revenue"
	TypeSystemFee         TransactionType = "system_fee"
	TypeWithdrawal        TransactionType = "withdrawal"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeTopup, TypeBookingPayment, TypeBookingRefund, TypeBookingRevenue,
		TypePostingFee, TypePostingFeeRevenue, TypeSystemFee, TypeWithdrawal:
		return true
	}
	return false
}

type StatusType string

const (
	StatusPending   StatusType = "pending"
	StatusCompleted StatusType = "completed"
	StatusFailed    StatusType = "failed"
)

func (s StatusType) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusFailed
}
