package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/court-wallet/internal/models"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const (
	listingColumns = `id, owner_id, name, is_posted, posting_start_date, posting_end_date, last_fee_charged_date, daily_posting_fee, total_posting_fee`
	dateLayout     = "2006-01-02"
)

type PostgresListingRepository struct {
	db *sql.DB
}

func NewPostgresListingRepository(db *sql.DB) *PostgresListingRepository {
	return &PostgresListingRepository{db: db}
}

func (r *PostgresListingRepository) GetByID(ctx context.Context, id int64) (_ *models.Listing, err error) {
	ctx, span, finish := instrument(ctx, "listing-repository", "GetListingByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("listing_id", id))

	listing, err := scanListing(r.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM courts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing by id: %w", err)
	}
	return listing, nil
}

func (r *PostgresListingRepository) ListPromoted(ctx context.Context) (_ []models.Listing, err error) {
	ctx, _, finish := instrument(ctx, "listing-repository", "ListPromotedListings")
	defer func() { finish(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM courts WHERE is_posted ORDER BY id`)
	if err != nil {
		slog.Error("failed to list promoted listings", "method", "ListPromoted", "error", err)
		return nil, fmt.Errorf("failed to list promoted listings: %w", err)
	}
	defer rows.Close()
	return collectListings(rows)
}

func (r *PostgresListingRepository) StartPromotion(ctx context.Context, id int64, start, end time.Time, dailyFee int64) (err error) {
	ctx, span, finish := instrument(ctx, "listing-repository", "StartPromotion")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("listing_id", id))

	// last_fee_charged_date is kept so a listing re-promoted on a day it
	// already paid for is not charged for that day again.
	query := `UPDATE courts SET is_posted = TRUE, posting_start_date = $2, posting_end_date = $3, daily_posting_fee = $4 WHERE id = $1 AND NOT is_posted`
	res, err := r.db.ExecContext(ctx, query, id, start, end, dailyFee)
	if err != nil {
		return fmt.Errorf("failed to start promotion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to start promotion: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrAlreadyPromoted
	}
	return nil
}

func (r *PostgresListingRepository) ClaimDailyCharge(ctx context.Context, id int64, day time.Time, fee int64) (_ bool, err error) {
	ctx, span, finish := instrument(ctx, "listing-repository", "ClaimDailyCharge")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("listing_id", id), attribute.String("day", day.Format(dateLayout)))

	query := `UPDATE courts SET last_fee_charged_date = $2::date, total_posting_fee = total_posting_fee + $3 WHERE id = $1 AND is_posted AND (last_fee_charged_date IS NULL OR last_fee_charged_date < $2::date)`
	res, err := r.db.ExecContext(ctx, query, id, day.Format(dateLayout), fee)
	if err != nil {
		return false, fmt.Errorf("failed to claim daily charge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim daily charge: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresListingRepository) ReleaseDailyCharge(ctx context.Context, id int64, previous *time.Time, fee int64) (err error) {
	ctx, _, finish := instrument(ctx, "listing-repository", "ReleaseDailyCharge")
	defer func() { finish(err) }()

	var prev any
	if previous != nil {
		prev = previous.Format(dateLayout)
	}
	query := `UPDATE courts SET last_fee_charged_date = $2::date, total_posting_fee = total_posting_fee - $3 WHERE id = $1`
	if _, err = r.db.ExecContext(ctx, query, id, prev, fee); err != nil {
		slog.Error("failed to release daily charge", "method", "ReleaseDailyCharge", "listing_id", id, "error", err)
		return fmt.Errorf("failed to release daily charge: %w", err)
	}
	return nil
}

func (r *PostgresListingRepository) StopPromotion(ctx context.Context, id int64, endDate time.Time) (err error) {
	ctx, _, finish := instrument(ctx, "listing-repository", "StopPromotion")
	defer func() { finish(err) }()

	if _, err = r.db.ExecContext(ctx, `UPDATE courts SET is_posted = FALSE, posting_end_date = $2 WHERE id = $1`, id, endDate); err != nil {
		return fmt.Errorf("failed to stop promotion: %w", err)
	}
	return nil
}

func (r *PostgresListingRepository) ExpirePromotions(ctx context.Context, now time.Time) (_ []models.Listing, err error) {
	ctx, _, finish := instrument(ctx, "listing-repository", "ExpirePromotions")
	defer func() { finish(err) }()

	query := `UPDATE courts SET is_posted = FALSE WHERE is_posted AND posting_end_date <= $1 RETURNING ` + listingColumns
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire promotions: %w", err)
	}
	defer rows.Close()
	return collectListings(rows)
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID, &l.OwnerID, &l.Name, &l.IsPosted,
		&l.PostingStartDate, &l.PostingEndDate, &l.LastFeeChargedDate,
		&l.DailyPostingFee, &l.TotalPostingFee,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectListings(rows *sql.Rows) ([]models.Listing, error) {
	listings := []models.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return listings, nil
}
