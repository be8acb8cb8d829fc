package models

import "time"

type Booking struct {
	ID         int64         `json:"id"`
	CourtID    int64         `json:"court_id"`
	OwnerID    int64         `json:"owner_id"`
	PayerID    int64         `json:"payer_id"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	TotalPrice int64         `json:"total_price"`
	Status     BookingStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)
