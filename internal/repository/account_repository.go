package repository

import (
	"context"

	"github.com/honeynil/court-wallet/internal/models"
)

type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Account, error)
}
