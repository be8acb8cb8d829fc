package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/court-wallet/internal/infrastructure/observability"
	"github.com/honeynil/court-wallet/internal/models"
	"github.com/honeynil/court-wallet/internal/repository"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const maxPromotionDays = 365

type PostingFeeConfig struct {
	PlatformAccountID int64
	DailyPostingFee   int64
	// Location decides where one calendar day ends and the next begins.
	Location *time.Location
}

type RunSummary struct {
	Day       string `json:"day"`
	Processed int    `json:"processed"`
	Charged   int    `json:"charged"`
	Stopped   int    `json:"stopped"`
	Expired   int    `json:"expired"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Revenue   int64  `json:"revenue"`
}

type outcome string

const (
	outcomeCharged outcome = "charged"
	outcomeStopped outcome = "stopped"
	outcomeExpired outcome = "expired"
	outcomeSkipped outcome = "skipped"
	outcomeFailed  outcome = "failed"
)

type PostingFeeService struct {
	listings repository.ListingRepository
	accounts repository.AccountRepository
	ledger   LedgerService
	notifier Notifier
	cfg      PostingFeeConfig
	now      func() time.Time
}

func NewPostingFeeService(
	listings repository.ListingRepository,
	accounts repository.AccountRepository,
	ledger LedgerService,
	notifier Notifier,
	cfg PostingFeeConfig,
) *PostingFeeService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &PostingFeeService{
		listings: listings,
		accounts: accounts,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Today is midnight of now's calendar day in the platform location.
func (s *PostingFeeService) Today(now time.Time) time.Time {
	y, m, d := now.In(s.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)
}

// RunDailyCharge charges every promoted listing for the day containing now.
// It is safe to run more than once a day: a listing already charged for the
// day is skipped. Only a failure to list the promoted listings is returned;
// per-listing failures are counted and logged.
func (s *PostingFeeService) RunDailyCharge(ctx context.Context, now time.Time) (*RunSummary, error) {
	ctx, span := otel.Tracer("posting-fee-service").Start(ctx, "RunDailyCharge")
	defer span.End()

	today := s.Today(now)
	summary := &RunSummary{Day: today.Format("2006-01-02")}
	logger := observability.WithContext(ctx, "day", summary.Day)

	listings, err := s.listings.ListPromoted(ctx)
	if err != nil {
		span.RecordError(err)
		logger.Error("failed to list promoted listings", "error", err)
		return nil, err
	}

	for i := range listings {
		if err := ctx.Err(); err != nil {
			logger.Warn("posting fee run interrupted", "error", err)
			break
		}
		l := &listings[i]
		out, err := s.processListing(ctx, l, today, now)
		if err != nil {
			logger.Error("failed to process listing", "listing_id", l.ID, "owner_id", l.OwnerID, "error", err)
		}
		observability.PostingFeeListings.WithLabelValues(string(out)).Inc()

		summary.Processed++
		switch out {
		case outcomeCharged:
			summary.Charged++
			summary.Revenue += s.feeFor(l)
		case outcomeStopped:
			summary.Stopped++
		case outcomeExpired:
			summary.Expired++
		case outcomeSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("processed", summary.Processed),
		attribute.Int("charged", summary.Charged),
		attribute.Int64("revenue", summary.Revenue),
	)
	logger.Info("posting fee run completed",
		"processed", summary.Processed,
		"charged", summary.Charged,
		"stopped", summary.Stopped,
		"expired", summary.Expired,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"revenue", summary.Revenue)
	return summary, nil
}

func (s *PostingFeeService) processListing(ctx context.Context, l *models.Listing, today, now time.Time) (outcome, error) {
	if l.ChargedOn(today) {
		return outcomeSkipped, nil
	}
	if l.ExpiredAt(now) {
		if err := s.expire(ctx, l); err != nil {
			return outcomeFailed, err
		}
		return outcomeExpired, nil
	}

	fee := s.feeFor(l)
	owner, err := s.accounts.GetByID(ctx, l.OwnerID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("load owner: %w", err)
	}
	if owner.WalletBalance < fee {
		if err := s.stop(ctx, l, today, owner.WalletBalance); err != nil {
			return outcomeFailed, err
		}
		return outcomeStopped, nil
	}
	return s.chargeDay(ctx, l, today, fee)
}

// chargeDay claims the day on the listing before moving any money, so a
// concurrent or repeated run cannot charge it twice. Any failure after the
// claim releases it again.
func (s *PostingFeeService) chargeDay(ctx context.Context, l *models.Listing, today time.Time, fee int64) (outcome, error) {
	logger := observability.WithContext(ctx, "listing_id", l.ID, "owner_id", l.OwnerID, "fee", fee)

	claimed, err := s.listings.ClaimDailyCharge(ctx, l.ID, today, fee)
	if err != nil {
		return outcomeFailed, fmt.Errorf("claim day: %w", err)
	}
	if !claimed {
		return outcomeSkipped, nil
	}
	release := func() {
		if err := s.listings.ReleaseDailyCharge(ctx, l.ID, l.LastFeeChargedDate, fee); err != nil {
			logger.Error("failed to release daily charge", "error", err)
		}
	}

	listingID := l.ID
	day := today.Format("2006-01-02")
	_, err = s.ledger.ApplyTransaction(ctx, ApplyRequest{
		AccountID:   l.OwnerID,
		Type:        models.TypePostingFee,
		Amount:      -fee,
		Description: fmt.Sprintf("Promotion fee for %q on %s", l.Name, day),
		ListingID:   &listingID,
	})
	if stderrors.Is(err, pkgerrors.ErrInsufficientBalance) {
		// Balance dropped between the check and the debit.
		release()
		if serr := s.stop(ctx, l, today, 0); serr != nil {
			return outcomeFailed, serr
		}
		return outcomeStopped, nil
	}
	if err != nil {
		release()
		return outcomeFailed, fmt.Errorf("debit owner: %w", err)
	}

	_, err = s.ledger.ApplyTransaction(ctx, ApplyRequest{
		AccountID:   s.cfg.PlatformAccountID,
		Type:        models.TypePostingFeeRevenue,
		Amount:      fee,
		Description: fmt.Sprintf("Promotion fee for listing #%d on %s", l.ID, day),
		ListingID:   &listingID,
	})
	if err != nil {
		_, cerr := s.ledger.ApplyTransaction(ctx, ApplyRequest{
			AccountID:   l.OwnerID,
			Type:        models.TypePostingFee,
			Amount:      fee,
			Description: fmt.Sprintf("Reversal of promotion fee for %q on %s", l.Name, day),
			ListingID:   &listingID,
		})
		if cerr != nil {
			logger.Error("failed to reverse posting fee", "error", cerr)
			err = stderrors.Join(err, cerr)
		}
		release()
		return outcomeFailed, fmt.Errorf("credit platform: %w", err)
	}

	s.notifier.Notify(ctx, models.Notification{
		RecipientID: l.OwnerID,
		Kind:        models.NotifyPostingFeeCharged,
		Title:       "Promotion fee charged",
		Message:     fmt.Sprintf("%d was charged to keep %q promoted on %s.", fee, l.Name, day),
		ListingID:   &listingID,
	})
	logger.Info("posting fee charged", "day", day)
	return outcomeCharged, nil
}

func (s *PostingFeeService) stop(ctx context.Context, l *models.Listing, today time.Time, balance int64) error {
	if err := s.listings.StopPromotion(ctx, l.ID, today); err != nil {
		return fmt.Errorf("stop promotion: %w", err)
	}
	listingID := l.ID
	s.notifier.Notify(ctx, models.Notification{
		RecipientID: l.OwnerID,
		Kind:        models.NotifyPostingStopped,
		Title:       "Promotion stopped",
		Message:     fmt.Sprintf("Promotion of %q stopped: wallet balance %d is below the daily fee of %d.", l.Name, balance, s.feeFor(l)),
		ListingID:   &listingID,
	})
	slog.Info("promotion stopped for insufficient balance", "listing_id", l.ID, "owner_id", l.OwnerID, "balance", balance)
	return nil
}

func (s *PostingFeeService) expire(ctx context.Context, l *models.Listing) error {
	if err := s.listings.StopPromotion(ctx, l.ID, *l.PostingEndDate); err != nil {
		return fmt.Errorf("expire promotion: %w", err)
	}
	s.notifyExpired(ctx, *l)
	return nil
}

func (s *PostingFeeService) notifyExpired(ctx context.Context, l models.Listing) {
	listingID := l.ID
	s.notifier.Notify(ctx, models.Notification{
		RecipientID: l.OwnerID,
		Kind:        models.NotifyPromotionExpired,
		Title:       "Promotion ended",
		Message:     fmt.Sprintf("The promotion period of %q has ended.", l.Name),
		ListingID:   &listingID,
	})
}

// ExpirePromotions lapses every promotion whose end date has passed and
// returns how many were lapsed.
func (s *PostingFeeService) ExpirePromotions(ctx context.Context, now time.Time) (int, error) {
	ctx, span := otel.Tracer("posting-fee-service").Start(ctx, "ExpirePromotions")
	defer span.End()

	expired, err := s.listings.ExpirePromotions(ctx, now)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	for _, l := range expired {
		s.notifyExpired(ctx, l)
		observability.PostingFeeListings.WithLabelValues(string(outcomeExpired)).Inc()
	}
	if len(expired) > 0 {
		slog.Info("promotions expired", "count", len(expired))
	}
	return len(expired), nil
}

// StartPromotion promotes a listing for the given number of days and charges
// the first day right away.
func (s *PostingFeeService) StartPromotion(ctx context.Context, actor Actor, listingID int64, days int) (*models.Listing, error) {
	ctx, span := otel.Tracer("posting-fee-service").Start(ctx, "StartPromotion")
	defer span.End()
	span.SetAttributes(attribute.Int64("listing_id", listingID), attribute.Int("days", days))
	logger := observability.WithContext(ctx, "listing_id", listingID, "actor_id", actor.AccountID)

	if days < 1 || days > maxPromotionDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", pkgerrors.ErrInvalidInput, maxPromotionDays)
	}
	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.AccountID != l.OwnerID {
		logger.Warn("promotion forbidden", "owner_id", l.OwnerID)
		return nil, pkgerrors.ErrForbidden
	}
	if l.IsPosted {
		return nil, pkgerrors.ErrAlreadyPromoted
	}

	fee := s.cfg.DailyPostingFee
	now := s.now()
	today := s.Today(now)
	paidToday := l.ChargedOn(today)
	if !paidToday {
		owner, err := s.accounts.GetByID(ctx, l.OwnerID)
		if err != nil {
			return nil, err
		}
		if owner.WalletBalance < fee {
			return nil, pkgerrors.ErrInsufficientBalance
		}
	}

	end := now.AddDate(0, 0, days)
	if err := s.listings.StartPromotion(ctx, l.ID, now, end, fee); err != nil {
		return nil, err
	}
	l.IsPosted = true
	l.PostingStartDate = &now
	l.PostingEndDate = &end
	l.DailyPostingFee = fee

	out, err := s.chargeDay(ctx, l, today, fee)
	switch {
	case out == outcomeCharged:
		logger.Info("promotion started", "days", days, "fee", fee)
		return s.listings.GetByID(ctx, l.ID)
	case out == outcomeSkipped && paidToday:
		logger.Info("promotion restarted, today already paid", "days", days, "fee", fee)
		return s.listings.GetByID(ctx, l.ID)
	case out == outcomeStopped:
		return nil, pkgerrors.ErrInsufficientBalance
	default:
		if serr := s.listings.StopPromotion(ctx, l.ID, now); serr != nil {
			logger.Error("failed to roll back promotion", "error", serr)
		}
		if err == nil {
			err = fmt.Errorf("%w: first day was not charged", pkgerrors.ErrInternal)
		}
		return nil, err
	}
}

func (s *PostingFeeService) feeFor(l *models.Listing) int64 {
	if l.DailyPostingFee > 0 {
		return l.DailyPostingFee
	}
	return s.cfg.DailyPostingFee
}
