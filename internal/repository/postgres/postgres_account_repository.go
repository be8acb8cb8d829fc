package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/honeynil/court-wallet/internal/models"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) GetByID(ctx context.Context, id int64) (_ *models.Account, err error) {
	ctx, span, finish := instrument(ctx, "account-repository", "GetAccountByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("account_id", id))

	query := `SELECT id, role, wallet_balance, is_active, created_at, updated_at FROM accounts WHERE id = $1`
	var account models.Account
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID,
		&account.Role,
		&account.WalletBalance,
		&account.IsActive,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrAccountNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get account by id: %w", err)
	}
	return &account, nil
}
