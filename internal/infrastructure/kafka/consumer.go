package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
)

// BookingEvent is published by the booking service when a booking is
// confirmed or cancelled outside this service.
type BookingEvent struct {
	EventType  string    `json:"event_type"`
	BookingID  int64     `json:"booking_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookingEventHandler interface {
	HandleBookingEvent(ctx context.Context, event BookingEvent) error
}

const (
	minRetryDelay = time.Second
	maxRetryDelay = 30 * time.Second
)

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     messageReader
	topic      string
	handler    BookingEventHandler
	retryDelay time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, handler BookingEventHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		topic:      topic,
		handler:    handler,
		retryDelay: minRetryDelay,
	}
}

// Consume reads until ctx is cancelled. An offset is committed only once its
// event has been settled or rejected for good; transient failures are retried
// in place so later events on the partition wait behind it.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer stopped", "topic", c.topic)
				return
			}
			slog.Error("failed to fetch Kafka message", "topic", c.topic, "error", err)
			if !sleep(ctx, c.retryDelay) {
				return
			}
			continue
		}
		slog.Debug("Kafka message received", "topic", msg.Topic, "key", string(msg.Key), "offset", msg.Offset)
		if !c.process(ctx, msg) {
			slog.Info("Kafka consumer stopped", "topic", c.topic, "uncommitted_offset", msg.Offset)
			return
		}
	}
}

// process retries msg until it is handled, then commits it. It reports false
// if ctx ended first, leaving the offset uncommitted for redelivery.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	delay := c.retryDelay
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, msg)
		if err == nil {
			break
		}
		slog.Error("failed to process booking event, will retry",
			"offset", msg.Offset, "attempt", attempt, "retry_in", delay, "error", err)
		if !sleep(ctx, delay) {
			return false
		}
		delay = min(delay*2, maxRetryDelay)
	}

	for {
		err := c.reader.CommitMessages(ctx, msg)
		if err == nil {
			return true
		}
		slog.Error("failed to commit Kafka offset", "offset", msg.Offset, "error", err)
		if !sleep(ctx, c.retryDelay) {
			return false
		}
	}
}

// handle applies one booking event. It returns an error only for failures
// worth retrying; malformed events and business rejections are final.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	event, err := decodeBookingEvent(msg.Value)
	if err != nil {
		slog.Error("dropping booking event", "offset", msg.Offset, "error", err)
		return nil
	}

	err = c.handler.HandleBookingEvent(ctx, event)
	switch {
	case err == nil:
		slog.Info("booking event processed", "event_type", event.EventType, "booking_id", event.BookingID)
		return nil
	case stderrors.Is(err, pkgerrors.ErrInvalidBookingStatus),
		stderrors.Is(err, pkgerrors.ErrRefundWindowClosed),
		stderrors.Is(err, pkgerrors.ErrInsufficientBalance),
		stderrors.Is(err, pkgerrors.ErrBookingNotFound):
		slog.Warn("booking event rejected", "event_type", event.EventType, "booking_id", event.BookingID, "error", err)
		return nil
	default:
		return fmt.Errorf("booking %d %s: %w", event.BookingID, event.EventType, err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func decodeBookingEvent(value []byte) (BookingEvent, error) {
	var event BookingEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return event, fmt.Errorf("unmarshal booking event: %w", err)
	}
	if event.BookingID <= 0 {
		return event, fmt.Errorf("%w: missing booking_id", pkgerrors.ErrInvalidInput)
	}
	switch event.EventType {
	case EventBookingConfirmed, EventBookingCancelled:
		return event, nil
	default:
		return event, fmt.Errorf("%w: unknown event type %q", pkgerrors.ErrInvalidInput, event.EventType)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
