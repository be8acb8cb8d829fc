package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/honeynil/court-wallet/internal/infrastructure/kafka"
	"github.com/honeynil/court-wallet/internal/infrastructure/observability"
	"github.com/honeynil/court-wallet/internal/infrastructure/redis"
	"github.com/honeynil/court-wallet/internal/models"
	"github.com/honeynil/court-wallet/internal/repository"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// balanceCacheTTL bounds how long a reordered cache write can show a stale
// balance. The cache is for display only; money decisions read storage.
const balanceCacheTTL = time.Minute

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// LedgerService is the only path that changes a wallet balance.
type LedgerService interface {
	ApplyTransaction(ctx context.Context, req ApplyRequest) (*models.Transaction, error)
	GetBalance(ctx context.Context, accountID int64) (int64, error)
	GetTransactionHistory(ctx context.Context, accountID int64, limit, offset int) ([]models.Transaction, error)
	FindByOrderID(ctx context.Context, orderID string) (*models.Transaction, error)
}

// ApplyRequest describes one balance change. Amount is signed: negative for
// debits, positive for credits.
type ApplyRequest struct {
	AccountID   int64
	Type        models.TransactionType
	Amount      int64
	Description string
	BookingID   *int64
	ListingID   *int64
	OrderID     string
}

// LedgerEvent is published to the ledger topic after every applied entry.
type LedgerEvent struct {
	EventType   string             `json:"event_type"`
	Transaction models.Transaction `json:"transaction"`
}

type ledgerService struct {
	accounts     repository.AccountRepository
	transactions repository.TransactionRepository
	cache        redis.RedisClient
	producer     kafka.KafkaProducer
}

// NewLedgerService builds the ledger. cache and producer may be nil, in which
// case balances are always read from storage and no events are published.
func NewLedgerService(
	accounts repository.AccountRepository,
	transactions repository.TransactionRepository,
	cache redis.RedisClient,
	producer kafka.KafkaProducer,
) *ledgerService {
	return &ledgerService{
		accounts:     accounts,
		transactions: transactions,
		cache:        cache,
		producer:     producer,
	}
}

func (s *ledgerService) ApplyTransaction(ctx context.Context, req ApplyRequest) (*models.Transaction, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "ApplyTransaction")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("account_id", req.AccountID),
		attribute.String("type", string(req.Type)),
		attribute.Int64("amount", req.Amount),
	)
	logger := observability.WithContext(ctx, "account_id", req.AccountID, "type", req.Type, "amount", req.Amount)

	if req.Amount == 0 {
		span.SetStatus(codes.Error, "zero amount")
		return nil, pkgerrors.ErrZeroAmount
	}

	tx := &models.Transaction{
		AccountID:   req.AccountID,
		Type:        req.Type,
		Amount:      req.Amount,
		Description: req.Description,
		Status:      models.StatusCompleted,
		BookingID:   req.BookingID,
		ListingID:   req.ListingID,
		OrderID:     req.OrderID,
	}
	if err := s.transactions.Apply(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		switch {
		case stderrors.Is(err, pkgerrors.ErrInsufficientBalance), stderrors.Is(err, pkgerrors.ErrDuplicateOrder):
			logger.Warn("transaction rejected", "error", err)
		default:
			logger.Error("failed to apply transaction", "error", err)
		}
		return nil, err
	}

	observability.LedgerTransactions.WithLabelValues(string(tx.Type)).Inc()
	observability.LedgerAmount.WithLabelValues(string(tx.Type)).Add(float64(abs(tx.Amount)))

	if s.cache != nil {
		if err := s.cache.Set(ctx, redis.BalanceKey(tx.AccountID), tx.BalanceAfter, balanceCacheTTL); err != nil {
			logger.Warn("failed to refresh balance cache", "error", err)
			if derr := s.cache.Del(ctx, redis.BalanceKey(tx.AccountID)); derr != nil {
				logger.Warn("failed to invalidate balance cache", "error", derr)
			}
		}
	}
	if s.producer != nil {
		event := LedgerEvent{EventType: "transaction_applied", Transaction: *tx}
		if err := kafka.SendJSON(ctx, s.producer, kafka.TopicLedgerTransactions, tx.AccountID, event); err != nil {
			logger.Error("failed to publish ledger event", "transaction_id", tx.ID, "error", err)
		}
	}

	logger.Info("transaction applied", "transaction_id", tx.ID, "balance_after", tx.BalanceAfter)
	return tx, nil
}

func (s *ledgerService) GetBalance(ctx context.Context, accountID int64) (int64, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "GetBalance")
	defer span.End()

	key := redis.BalanceKey(accountID)
	if s.cache != nil {
		val, err := s.cache.Get(ctx, key)
		if err == nil {
			if balance, perr := strconv.ParseInt(val, 10, 64); perr == nil {
				return balance, nil
			}
		} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Warn("balance cache read failed", "account_id", accountID, "error", err)
		}
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account lookup failed")
		return 0, err
	}

	// Fill only if absent: a mutation that committed after the read above has
	// already written the newer balance.
	if s.cache != nil {
		if _, err := s.cache.SetNX(ctx, key, account.WalletBalance, balanceCacheTTL); err != nil {
			slog.Warn("failed to cache balance", "account_id", accountID, "error", err)
		}
	}
	return account.WalletBalance, nil
}

func (s *ledgerService) GetTransactionHistory(ctx context.Context, accountID int64, limit, offset int) ([]models.Transaction, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "GetTransactionHistory")
	defer span.End()

	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	txs, err := s.transactions.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get transaction history", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("%w: failed to get transaction history", pkgerrors.ErrInternal)
	}
	return txs, nil
}

func (s *ledgerService) FindByOrderID(ctx context.Context, orderID string) (*models.Transaction, error) {
	return s.transactions.GetByOrderID(ctx, orderID)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
