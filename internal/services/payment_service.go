package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"

	"github.com/honeynil/court-wallet/internal/infrastructure/gateway"
	"github.com/honeynil/court-wallet/internal/infrastructure/observability"
	"github.com/honeynil/court-wallet/internal/models"
	"github.com/honeynil/court-wallet/internal/repository"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PaymentGateway interface {
	BuildPaymentURL(req gateway.PaymentRequest) (*gateway.PaymentURL, error)
	VerifyCallback(params url.Values) (*gateway.Callback, error)
}

// PaymentResult is the outcome of a verified gateway callback. Duplicate is
// set when the order had already been credited; that still counts as success.
type PaymentResult struct {
	AccountID    int64
	Amount       int64
	OrderID      string
	Success      bool
	Duplicate    bool
	ResponseCode string
	Transaction  *models.Transaction
}

type PaymentService struct {
	accounts repository.AccountRepository
	gateway  PaymentGateway
	ledger   LedgerService
}

func NewPaymentService(accounts repository.AccountRepository, gw PaymentGateway, ledger LedgerService) *PaymentService {
	return &PaymentService{accounts: accounts, gateway: gw, ledger: ledger}
}

func (s *PaymentService) CreatePaymentURL(ctx context.Context, accountID, amount int64, clientIP string) (*gateway.PaymentURL, error) {
	ctx, span := otel.Tracer("payment-service").Start(ctx, "CreatePaymentURL")
	defer span.End()
	span.SetAttributes(attribute.Int64("account_id", accountID), attribute.Int64("amount", amount))
	logger := observability.WithContext(ctx, "account_id", accountID, "amount", amount)

	if amount < gateway.MinAmount || amount > gateway.MaxAmount {
		span.SetStatus(codes.Error, "amount out of range")
		logger.Warn("top-up amount out of range")
		return nil, fmt.Errorf("%w: amount must be between %d and %d", pkgerrors.ErrInvalidAmount, gateway.MinAmount, gateway.MaxAmount)
	}
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !account.IsActive {
		return nil, pkgerrors.ErrForbidden
	}

	p, err := s.gateway.BuildPaymentURL(gateway.PaymentRequest{
		AccountID: accountID,
		Amount:    amount,
		ClientIP:  clientIP,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Info("payment url created", "order_id", p.OrderID, "expires_at", p.ExpiresAt)
	return p, nil
}

// HandleCallback verifies a gateway return or IPN and credits the wallet at
// most once per order.
func (s *PaymentService) HandleCallback(ctx context.Context, params url.Values) (*PaymentResult, error) {
	ctx, span := otel.Tracer("payment-service").Start(ctx, "HandleCallback")
	defer span.End()
	logger := observability.WithContext(ctx, "order_id", params.Get("vnp_TxnRef"))

	cb, err := s.gateway.VerifyCallback(params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "callback rejected")
		logger.Warn("gateway callback rejected", "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order_id", cb.OrderID), attribute.Bool("success", cb.Success))

	result := &PaymentResult{
		AccountID:    cb.AccountID,
		Amount:       cb.Amount,
		OrderID:      cb.OrderID,
		Success:      cb.Success,
		ResponseCode: cb.ResponseCode,
	}
	if !cb.Success {
		logger.Info("payment not successful", "response_code", cb.ResponseCode)
		return result, nil
	}

	existing, err := s.ledger.FindByOrderID(ctx, cb.OrderID)
	switch {
	case err == nil:
		logger.Info("duplicate gateway callback", "transaction_id", existing.ID)
		result.Duplicate = true
		result.Transaction = existing
		return result, nil
	case !stderrors.Is(err, pkgerrors.ErrTransactionNotFound):
		span.RecordError(err)
		logger.Error("failed to check order", "error", err)
		return nil, err
	}

	tx, err := s.ledger.ApplyTransaction(ctx, ApplyRequest{
		AccountID:   cb.AccountID,
		Type:        models.TypeTopup,
		Amount:      cb.Amount,
		Description: fmt.Sprintf("Wallet top-up via gateway, txn %s", cb.GatewayTxnNo),
		OrderID:     cb.OrderID,
	})
	if stderrors.Is(err, pkgerrors.ErrDuplicateOrder) {
		// Lost a race with a concurrent delivery of the same callback.
		existing, ferr := s.ledger.FindByOrderID(ctx, cb.OrderID)
		if ferr != nil {
			return nil, ferr
		}
		result.Duplicate = true
		result.Transaction = existing
		return result, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit failed")
		return nil, err
	}

	result.Transaction = tx
	logger.Info("wallet topped up", "account_id", cb.AccountID, "amount", cb.Amount, "transaction_id", tx.ID)
	return result, nil
}
