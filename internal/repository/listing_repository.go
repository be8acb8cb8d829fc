package repository

import (
	"context"
	"time"

	"github.com/honeynil/court-wallet/internal/models"
)

type ListingRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Listing, error)
	ListPromoted(ctx context.Context) ([]models.Listing, error)
	StartPromotion(ctx context.Context, id int64, start, end time.Time, dailyFee int64) error
	// ClaimDailyCharge marks day as charged and adds fee to the running total,
	// but only if day has not been charged yet. It reports whether the claim
	// was taken.
	ClaimDailyCharge(ctx context.Context, id int64, day time.Time, fee int64) (bool, error)
	// ReleaseDailyCharge undoes a claim whose charge did not go through.
	ReleaseDailyCharge(ctx context.Context, id int64, previous *time.Time, fee int64) error
	StopPromotion(ctx context.Context, id int64, endDate time.Time) error
	// ExpirePromotions lapses every posted listing whose end date is not after now.
	ExpirePromotions(ctx context.Context, now time.Time) ([]models.Listing, error)
}
