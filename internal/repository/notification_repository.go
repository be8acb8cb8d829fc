package repository

import (
	"context"

	"github.com/honeynil/court-wallet/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
}
