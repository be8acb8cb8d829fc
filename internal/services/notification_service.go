package service

import (
	"context"

	"github.com/honeynil/court-wallet/internal/infrastructure/kafka"
	"github.com/honeynil/court-wallet/internal/infrastructure/observability"
	"github.com/honeynil/court-wallet/internal/models"
	"github.com/honeynil/court-wallet/internal/repository"
)

// Notifier records notifications for the delivery service. Delivery itself
// happens elsewhere.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

type notificationService struct {
	repo     repository.NotificationRepository
	producer kafka.KafkaProducer
}

func NewNotificationService(repo repository.NotificationRepository, producer kafka.KafkaProducer) *notificationService {
	return &notificationService{repo: repo, producer: producer}
}

// Notify never fails the caller: a notification that cannot be stored or
// published is logged and dropped.
func (s *notificationService) Notify(ctx context.Context, n models.Notification) {
	logger := observability.WithContext(ctx, "recipient_id", n.RecipientID, "kind", n.Kind)

	if err := s.repo.Create(ctx, &n); err != nil {
		logger.Error("failed to store notification", "error", err)
		return
	}
	if s.producer != nil {
		if err := kafka.SendJSON(ctx, s.producer, kafka.TopicNotifications, n.RecipientID, n); err != nil {
			logger.Error("failed to publish notification", "notification_id", n.ID, "error", err)
			return
		}
	}
	logger.Debug("notification created", "notification_id", n.ID)
}
