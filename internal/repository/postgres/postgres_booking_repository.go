package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/court-wallet/internal/models"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresBookingRepository struct {
	db *sql.DB
}

func NewPostgresBookingRepository(db *sql.DB) *PostgresBookingRepository {
	return &PostgresBookingRepository{db: db}
}

func (r *PostgresBookingRepository) GetByID(ctx context.Context, id int64) (_ *models.Booking, err error) {
	ctx, span, finish := instrument(ctx, "booking-repository", "GetBookingByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("booking_id", id))

	query := `
		SELECT b.id, b.court_id, c.owner_id, b.payer_id, b.start_time, b.end_time, b.total_price, b.status, b.created_at
		FROM bookings b
		JOIN courts c ON c.id = b.court_id
		WHERE b.id = $1`
	var b models.Booking
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.CourtID, &b.OwnerID, &b.PayerID,
		&b.StartTime, &b.EndTime, &b.TotalPrice, &b.Status, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrBookingNotFound
	}
	if err != nil {
		slog.Error("failed to get booking", "method", "GetByID", "booking_id", id, "error", err)
		return nil, fmt.Errorf("failed to get booking by id: %w", err)
	}
	return &b, nil
}

func (r *PostgresBookingRepository) UpdateStatus(ctx context.Context, id int64, from, to models.BookingStatus) (err error) {
	ctx, span, finish := instrument(ctx, "booking-repository", "UpdateBookingStatus")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("booking_id", id), attribute.String("to", string(to)))

	res, err := r.db.ExecContext(ctx, `UPDATE bookings SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrInvalidBookingStatus
	}
	slog.Info("booking status updated", "method", "UpdateStatus", "booking_id", id, "from", from, "to", to)
	return nil
}
