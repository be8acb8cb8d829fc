package repository

import (
	"context"

	"github.com/honeynil/court-wallet/internal/models"
)

// TransactionRepository is the ledger store.
//
// Apply is the balance mutator: it locks the account, checks that a debit is
// covered, writes the new wallet balance and appends tx with BalanceBefore and
// BalanceAfter set, all in one storage transaction. Two Apply calls on the same
// account never observe the same BalanceBefore.
type TransactionRepository interface {
	Apply(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Transaction, error)
	ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]models.Transaction, error)
	ListByBooking(ctx context.Context, bookingID int64) ([]models.Transaction, error)
}
