package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/honeynil/court-wallet/internal/infrastructure/kafka"
	"github.com/honeynil/court-wallet/internal/infrastructure/observability"
	"github.com/honeynil/court-wallet/internal/models"
	"github.com/honeynil/court-wallet/internal/repository"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Actor is whoever asks for a booking state change.
type Actor struct {
	AccountID int64
	Role      models.Role
}

// SystemActor is used for changes arriving from other services.
var SystemActor = Actor{Role: models.RoleAdmin}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

type SettlementConfig struct {
	PlatformAccountID int64
	CommissionRate    decimal.Decimal
	RefundThreshold   time.Duration
}

// Settlement holds the three ledger legs of a confirmed booking. PlatformFee is
// nil when the commission rounds to zero.
type Settlement struct {
	Payment      *models.Transaction
	OwnerRevenue *models.Transaction
	PlatformFee  *models.Transaction
	Commission   int64
}

type BookingService struct {
	bookings     repository.BookingRepository
	transactions repository.TransactionRepository
	ledger       LedgerService
	notifier     Notifier
	cfg          SettlementConfig
	now          func() time.Time
}

func NewBookingService(
	bookings repository.BookingRepository,
	transactions repository.TransactionRepository,
	ledger LedgerService,
	notifier Notifier,
	cfg SettlementConfig,
) *BookingService {
	return &BookingService{
		bookings:     bookings,
		transactions: transactions,
		ledger:       ledger,
		notifier:     notifier,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Commission is rate × price rounded half-up to a whole currency unit.
func (s *BookingService) Commission(totalPrice int64) int64 {
	return decimal.NewFromInt(totalPrice).Mul(s.cfg.CommissionRate).Round(0).IntPart()
}

// ConfirmBooking moves a pending booking to confirmed and settles it. The
// status change is made first so two concurrent confirmations cannot both
// settle; a failed settlement puts the booking back to pending.
func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID int64, actor Actor) (*models.Booking, error) {
	ctx, span := otel.Tracer("booking-service").Start(ctx, "ConfirmBooking")
	defer span.End()
	span.SetAttributes(attribute.Int64("booking_id", bookingID))
	logger := observability.WithContext(ctx, "booking_id", bookingID, "actor_id", actor.AccountID)

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.AccountID != b.OwnerID {
		logger.Warn("confirm forbidden", "owner_id", b.OwnerID)
		return nil, pkgerrors.ErrForbidden
	}
	if b.Status != models.BookingPending {
		return nil, pkgerrors.ErrInvalidBookingStatus
	}
	if err := s.bookings.UpdateStatus(ctx, b.ID, models.BookingPending, models.BookingConfirmed); err != nil {
		return nil, err
	}

	if _, err := s.SettleBookingPayment(ctx, b); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
		if rerr := s.bookings.UpdateStatus(ctx, b.ID, models.BookingConfirmed, models.BookingPending); rerr != nil {
			logger.Error("failed to revert booking status", "error", rerr)
		}
		return nil, err
	}

	b.Status = models.BookingConfirmed
	logger.Info("booking confirmed", "total_price", b.TotalPrice)
	return b, nil
}

// CancelBooking cancels a pending or confirmed booking and refunds the payer
// whatever they paid for it.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64, actor Actor) (*models.Booking, *models.Transaction, error) {
	ctx, span := otel.Tracer("booking-service").Start(ctx, "CancelBooking")
	defer span.End()
	span.SetAttributes(attribute.Int64("booking_id", bookingID))
	logger := observability.WithContext(ctx, "booking_id", bookingID, "actor_id", actor.AccountID)

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsAdmin() && actor.AccountID != b.PayerID {
		logger.Warn("cancel forbidden", "payer_id", b.PayerID)
		return nil, nil, pkgerrors.ErrForbidden
	}
	if err := s.checkRefundWindow(b, s.now()); err != nil {
		logger.Info("cancellation rejected", "error", err, "start_time", b.StartTime)
		return nil, nil, err
	}

	previous := b.Status
	if err := s.bookings.UpdateStatus(ctx, b.ID, previous, models.BookingCancelled); err != nil {
		return nil, nil, err
	}
	refund, err := s.refundPayment(ctx, b)
	if err != nil {
		span.RecordError(err)
		if rerr := s.bookings.UpdateStatus(ctx, b.ID, models.BookingCancelled, previous); rerr != nil {
			logger.Error("failed to revert booking status", "error", rerr)
		}
		return nil, nil, err
	}

	b.Status = models.BookingCancelled
	logger.Info("booking cancelled", "refunded", refund != nil)
	return b, refund, nil
}

// SettleBookingPayment debits the payer and splits the price between the
// court owner and the platform. If a credit fails, every leg already written
// is reversed so the payer is never left charged.
func (s *BookingService) SettleBookingPayment(ctx context.Context, b *models.Booking) (*Settlement, error) {
	ctx, span := otel.Tracer("booking-service").Start(ctx, "SettleBookingPayment")
	defer span.End()
	logger := observability.WithContext(ctx, "booking_id", b.ID, "payer_id", b.PayerID, "owner_id", b.OwnerID)

	if b.TotalPrice <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}
	commission := s.Commission(b.TotalPrice)
	revenue := b.TotalPrice - commission
	bookingID := b.ID

	payment, err := s.ledger.ApplyTransaction(ctx, ApplyRequest{
		AccountID:   b.PayerID,
		Type:        models.TypeBookingPayment,
		Amount:      -b.TotalPrice,
		Description: fmt.Sprintf("Payment for booking #%d", b.ID),
		BookingID:   &bookingID,
	})
	if err != nil {
		return nil, err
	}
	st := &Settlement{Payment: payment, Commission: commission}

	st.OwnerRevenue, err = s.ledger.ApplyTransaction(ctx, ApplyRequest{
		AccountID:   b.OwnerID,
		Type:        models.TypeBookingRevenue,
		Amount:      revenue,
		Description: fmt.Sprintf("Revenue for booking #%d", b.ID),
		BookingID:   &bookingID,
	})
	if err != nil {
		logger.Error("owner credit failed, compensating payer", "error", err)
		return nil, s.compensate(ctx, b, st, err)
	}

	if commission > 0 {
		st.PlatformFee, err = s.ledger.ApplyTransaction(ctx, ApplyRequest{
			AccountID:   s.cfg.PlatformAccountID,
			Type:        models.TypeSystemFee,
			Amount:      commission,
			Description: fmt.Sprintf("Commission for booking #%d", b.ID),
			BookingID:   &bookingID,
		})
		if err != nil {
			logger.Error("platform credit failed, compensating", "error", err)
			return nil, s.compensate(ctx, b, st, err)
		}
	}

	logger.Info("booking settled", "total_price", b.TotalPrice, "owner_revenue", revenue, "commission", commission)
	return st, nil
}

func (s *BookingService) compensate(ctx context.Context, b *models.Booking, st *Settlement, cause error) error {
	logger := observability.WithContext(ctx, "booking_id", b.ID)
	bookingID := b.ID
	errs := []error{fmt.Errorf("settlement failed: %w", cause)}

	if st.OwnerRevenue != nil {
		_, err := s.ledger.ApplyTransaction(ctx, ApplyRequest{
			AccountID:   b.OwnerID,
			Type:        models.TypeBookingRevenue,
			Amount:      -st.OwnerRevenue.Amount,
			Description: fmt.Sprintf("Reversal of revenue for booking #%d", b.ID),
			BookingID:   &bookingID,
		})
		if err != nil {
			logger.Error("failed to reverse owner revenue", "owner_id", b.OwnerID, "error", err)
			errs = append(errs, fmt.Errorf("reverse owner revenue: %w", err))
		}
	}

	_, err := s.ledger.ApplyTransaction(ctx, ApplyRequest{
		AccountID:   b.PayerID,
		Type:        models.TypeBookingRefund,
		Amount:      -st.Payment.Amount,
		Description: fmt.Sprintf("Compensation for failed settlement of booking #%d", b.ID),
		BookingID:   &bookingID,
	})
	if err != nil {
		logger.Error("failed to compensate payer", "payer_id", b.PayerID, "amount", -st.Payment.Amount, "error", err)
		errs = append(errs, fmt.Errorf("compensate payer: %w", err))
	}
	return stderrors.Join(errs...)
}

// SettleRefund refunds a cancelled-in-time booking. It returns a nil
// transaction when the payer has nothing outstanding for the booking.
func (s *BookingService) SettleRefund(ctx context.Context, b *models.Booking, now time.Time) (*models.Transaction, error) {
	if err := s.checkRefundWindow(b, now); err != nil {
		return nil, err
	}
	return s.refundPayment(ctx, b)
}

func (s *BookingService) checkRefundWindow(b *models.Booking, now time.Time) error {
	if b.Status != models.BookingPending && b.Status != models.BookingConfirmed {
		return pkgerrors.ErrInvalidBookingStatus
	}
	if !b.StartTime.After(now.Add(s.cfg.RefundThreshold)) {
		return pkgerrors.ErrRefundWindowClosed
	}
	return nil
}

func (s *BookingService) refundPayment(ctx context.Context, b *models.Booking) (*models.Transaction, error) {
	ctx, span := otel.Tracer("booking-service").Start(ctx, "SettleRefund")
	defer span.End()
	logger := observability.WithContext(ctx, "booking_id", b.ID, "payer_id", b.PayerID)

	legs, err := s.transactions.ListByBooking(ctx, b.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	var outstanding, ownerRevenue, commission int64
	for _, tx := range legs {
		switch {
		case tx.AccountID == b.PayerID && (tx.Type == models.TypeBookingPayment || tx.Type == models.TypeBookingRefund):
			outstanding -= tx.Amount
		case tx.AccountID == b.OwnerID && tx.Type == models.TypeBookingRevenue:
			ownerRevenue += tx.Amount
		case tx.Type == models.TypeSystemFee:
			commission += tx.Amount
		}
	}
	if outstanding <= 0 {
		logger.Info("nothing to refund")
		return nil, nil
	}

	bookingID := b.ID
	refund, err := s.ledger.ApplyTransaction(ctx, ApplyRequest{
		AccountID:   b.PayerID,
		Type:        models.TypeBookingRefund,
		Amount:      outstanding,
		Description: fmt.Sprintf("Refund for cancelled booking #%d", b.ID),
		BookingID:   &bookingID,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.notifier.Notify(ctx, models.Notification{
		RecipientID: b.PayerID,
		Kind:        models.NotifyBookingRefunded,
		Title:       "Booking refunded",
		Message:     fmt.Sprintf("Booking #%d was cancelled and %d was returned to your wallet.", b.ID, outstanding),
		BookingID:   &bookingID,
	})
	if ownerRevenue != 0 || commission != 0 {
		s.notifier.Notify(ctx, models.Notification{
			RecipientID: s.cfg.PlatformAccountID,
			Kind:        models.NotifyRefundReconciliation,
			Title:       "Refund needs reconciliation",
			Message: fmt.Sprintf("Booking #%d refunded %d to account %d; owner %d kept revenue %d and platform kept commission %d.",
				b.ID, outstanding, b.PayerID, b.OwnerID, ownerRevenue, commission),
			BookingID: &bookingID,
		})
	}

	logger.Info("booking refunded", "amount", outstanding, "transaction_id", refund.ID)
	return refund, nil
}

// HandleBookingEvent applies a booking change published by another service.
func (s *BookingService) HandleBookingEvent(ctx context.Context, event kafka.BookingEvent) error {
	switch event.EventType {
	case kafka.EventBookingConfirmed:
		_, err := s.ConfirmBooking(ctx, event.BookingID, SystemActor)
		return err
	case kafka.EventBookingCancelled:
		_, _, err := s.CancelBooking(ctx, event.BookingID, SystemActor)
		return err
	default:
		return fmt.Errorf("%w: unknown booking event %q", pkgerrors.ErrInvalidInput, event.EventType)
	}
}
