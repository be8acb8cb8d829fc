package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/honeynil/court-wallet/internal/models"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
)

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

func (r *PostgresNotificationRepository) Create(ctx context.Context, n *models.Notification) (err error) {
	ctx, _, finish := instrument(ctx, "notification-repository", "CreateNotification")
	defer func() { finish(err) }()

	if n == nil {
		return pkgerrors.ErrInvalidInput
	}
	query := `INSERT INTO notifications (recipient_id, kind, title, message, listing_id, booking_id) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, n.RecipientID, n.Kind, n.Title, n.Message, n.ListingID, n.BookingID).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}
