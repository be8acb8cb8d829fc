package models

import "time"

type NotificationKind string

const (
	NotifyPostingFeeCharged    NotificationKind = "posting_fee_charged"
	NotifyPostingStopped       NotificationKind = "posting_stopped"
	NotifyPromotionExpired     NotificationKind = "promotion_expired"
	NotifyBookingRefunded      NotificationKind = "booking_refunded"
	NotifyRefundReconciliation NotificationKind = "refund_reconciliation"
)

// Notification is created here and delivered by a separate service.
type Notification struct {
	ID          int64            `json:"id"`
	RecipientID int64            `json:"recipient_id"`
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	ListingID   *int64           `json:"listing_id,omitempty"`
	BookingID   *int64           `json:"booking_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
