package repository

import (
	"context"

	"github.com/honeynil/court-wallet/internal/models"
)

type BookingRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Booking, error)
	// UpdateStatus moves a booking from one status to another and fails with
	// ErrInvalidBookingStatus if it is no longer in from.
	UpdateStatus(ctx context.Context, id int64, from, to models.BookingStatus) error
}
