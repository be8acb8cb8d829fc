package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/court-wallet/internal/models"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const transactionColumns = `id, account_id, type, amount, description, status, balance_before, balance_after, booking_id, listing_id, COALESCE(order_id, ''), created_at`

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// Apply changes the account balance by tx.Amount and appends tx to the ledger
// in one database transaction. The account row is locked with FOR UPDATE, so
// concurrent calls for one account are serialized by Postgres even across
// service instances.
func (r *PostgresTransactionRepository) Apply(ctx context.Context, tx *models.Transaction) (err error) {
	ctx, span, finish := instrument(ctx, "transaction-repository", "ApplyTransaction")
	defer func() { finish(err) }()

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to apply transaction", "method", "Apply", "error", err)
		return err
	}
	if !tx.Type.Valid() {
		err = pkgerrors.ErrInvalidTransactionType
		slog.Error("invalid transaction type", "method", "Apply", "type", tx.Type, "error", err)
		return err
	}
	if tx.Status == "" {
		tx.Status = models.StatusCompleted
	}
	if !tx.Status.Valid() {
		err = pkgerrors.ErrInvalidTransactionStatus
		slog.Error("invalid transaction status", "method", "Apply", "status", tx.Status, "error", err)
		return err
	}
	if tx.Amount == 0 {
		err = pkgerrors.ErrZeroAmount
		slog.Error("zero amount", "method", "Apply", "account_id", tx.AccountID, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.Int64("account_id", tx.AccountID),
		attribute.Int64("amount", tx.Amount),
		attribute.String("type", string(tx.Type)),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Apply", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var before int64
	err = dbTx.QueryRowContext(ctx, `SELECT wallet_balance FROM accounts WHERE id = $1 FOR UPDATE`, tx.AccountID).Scan(&before)
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Error("account not found", "method", "Apply", "account_id", tx.AccountID)
		err = rollback(dbTx, "Apply", pkgerrors.ErrAccountNotFound)
		return err
	}
	if err != nil {
		slog.Error("failed to lock account", "method", "Apply", "account_id", tx.AccountID, "error", err)
		err = rollback(dbTx, "Apply", fmt.Errorf("failed to lock account: %w", err))
		return err
	}

	after := before + tx.Amount
	if after < 0 {
		slog.Warn("insufficient balance", "method", "Apply", "account_id", tx.AccountID, "balance", before, "amount", tx.Amount)
		err = rollback(dbTx, "Apply", pkgerrors.ErrInsufficientBalance)
		return err
	}

	if _, err = dbTx.ExecContext(ctx, `UPDATE accounts SET wallet_balance = $1, updated_at = NOW() WHERE id = $2`, after, tx.AccountID); err != nil {
		slog.Error("failed to update balance", "method", "Apply", "account_id", tx.AccountID, "error", err)
		err = rollback(dbTx, "Apply", fmt.Errorf("failed to update balance: %w", err))
		return err
	}

	query := `INSERT INTO transactions (account_id, type, amount, description, status, balance_before, balance_after, booking_id, listing_id, order_id) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, '')) RETURNING id, created_at`
	var (
		id        int64
		createdAt time.Time
	)
	err = dbTx.QueryRowContext(ctx, query,
		tx.AccountID, tx.Type, tx.Amount, tx.Description, tx.Status,
		before, after, tx.BookingID, tx.ListingID, tx.OrderID,
	).Scan(&id, &createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			slog.Warn("order already recorded", "method", "Apply", "order_id", tx.OrderID)
			err = rollback(dbTx, "Apply", pkgerrors.ErrDuplicateOrder)
			return err
		}
		slog.Error("failed to insert transaction", "method", "Apply", "account_id", tx.AccountID, "type", tx.Type, "error", err)
		err = rollback(dbTx, "Apply", fmt.Errorf("failed to create transaction: %w", err))
		return err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Apply", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	tx.ID = id
	tx.BalanceBefore = before
	tx.BalanceAfter = after
	tx.CreatedAt = createdAt
	slog.Info("transaction applied", "method", "Apply", "id", tx.ID, "account_id", tx.AccountID, "type", tx.Type, "amount", tx.Amount, "balance_after", after)
	return nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int64) (_ *models.Transaction, err error) {
	ctx, span, finish := instrument(ctx, "transaction-repository", "GetTransactionByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("transaction_id", id))

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) GetByOrderID(ctx context.Context, orderID string) (_ *models.Transaction, err error) {
	ctx, span, finish := instrument(ctx, "transaction-repository", "GetTransactionByOrderID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("order_id", orderID))

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1`, orderID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		slog.Error("failed to get transaction by order id", "method", "GetByOrderID", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to get transaction by order id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) ListByAccount(ctx context.Context, accountID int64, limit, offset int) (_ []models.Transaction, err error) {
	ctx, span, finish := instrument(ctx, "transaction-repository", "ListTransactionsByAccount")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("account_id", accountID))

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByAccount", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (r *PostgresTransactionRepository) ListByBooking(ctx context.Context, bookingID int64) (_ []models.Transaction, err error) {
	ctx, span, finish := instrument(ctx, "transaction-repository", "ListTransactionsByBooking")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("booking_id", bookingID))

	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE booking_id = $1 ORDER BY id`, bookingID)
	if err != nil {
		slog.Error("failed to list booking transactions", "method", "ListByBooking", "booking_id", bookingID, "error", err)
		return nil, fmt.Errorf("failed to list booking transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.Type, &tx.Amount, &tx.Description, &tx.Status,
		&tx.BalanceBefore, &tx.BalanceAfter, &tx.BookingID, &tx.ListingID, &tx.OrderID, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return transactions, nil
}
