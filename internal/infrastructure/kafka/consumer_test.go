package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	events   []BookingEvent
	failures int
	err      error
}

func (h *recordingHandler) HandleBookingEvent(_ context.Context, event BookingEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	if h.failures > 0 {
		h.failures--
		return errors.New("connection reset")
	}
	return h.err
}

func (h *recordingHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func message(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: TopicBookings, Offset: offset, Value: []byte(value)}
}

func TestDecodeBookingEvent(t *testing.T) {
	event, err := decodeBookingEvent([]byte(`{"event_type":"booking.confirmed","booking_id":7,"occurred_at":"2026-03-01T10:00:00Z"}`))
	assert.NoError(t, err)
	assert.Equal(t, EventBookingConfirmed, event.EventType)
	assert.Equal(t, int64(7), event.BookingID)

	_, err = decodeBookingEvent([]byte(`{"event_type":"booking.created","booking_id":7}`))
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)

	_, err = decodeBookingEvent([]byte(`{"event_type":"booking.cancelled"}`))
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)

	_, err = decodeBookingEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestConsumer_Handle(t *testing.T) {
	h := &recordingHandler{}
	c := &Consumer{handler: h}
	ctx := context.Background()

	assert.NoError(t, c.handle(ctx, message(1, `{"event_type":"booking.cancelled","booking_id":3}`)))
	assert.NoError(t, c.handle(ctx, message(2, `{"event_type":"booking.paid","booking_id":3}`)))
	assert.Len(t, h.events, 1)
	assert.Equal(t, EventBookingCancelled, h.events[0].EventType)

	h.err = pkgerrors.ErrRefundWindowClosed
	assert.NoError(t, c.handle(ctx, message(3, `{"event_type":"booking.cancelled","booking_id":4}`)))
	assert.Len(t, h.events, 2)

	h.err = errors.New("pq: connection refused")
	err := c.handle(ctx, message(4, `{"event_type":"booking.confirmed","booking_id":5}`))
	assert.ErrorContains(t, err, "connection refused")
}

func TestConsumer_Consume(t *testing.T) {
	t.Run("transient failure is retried before commit", func(t *testing.T) {
		reader := &fakeReader{pending: []kafka.Message{
			message(10, `{"event_type":"booking.confirmed","booking_id":1}`),
			message(11, `{"event_type":"booking.cancelled","booking_id":2}`),
		}}
		h := &recordingHandler{failures: 2}
		c := &Consumer{reader: reader, topic: TopicBookings, handler: h, retryDelay: time.Millisecond}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			c.Consume(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, time.Millisecond)
		cancel()
		<-done

		assert.Equal(t, []int64{10, 11}, reader.commits())
		assert.Equal(t, 4, h.calls())
	})

	t.Run("transient failure never commits", func(t *testing.T) {
		reader := &fakeReader{pending: []kafka.Message{
			message(20, `{"event_type":"booking.confirmed","booking_id":1}`),
			message(21, `{"event_type":"booking.confirmed","booking_id":2}`),
		}}
		h := &recordingHandler{err: errors.New("pq: connection refused")}
		c := &Consumer{reader: reader, topic: TopicBookings, handler: h, retryDelay: time.Millisecond}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			c.Consume(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool { return h.calls() >= 3 }, time.Second, time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("consumer did not stop after cancel")
		}

		assert.Empty(t, reader.commits())
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, e := range h.events {
			assert.Equal(t, int64(1), e.BookingID)
		}
	})

	t.Run("rejected and malformed events are committed", func(t *testing.T) {
		reader := &fakeReader{pending: []kafka.Message{
			message(30, `garbage`),
			message(31, `{"event_type":"booking.confirmed","booking_id":9}`),
		}}
		h := &recordingHandler{err: pkgerrors.ErrInvalidBookingStatus}
		c := &Consumer{reader: reader, topic: TopicBookings, handler: h, retryDelay: time.Millisecond}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			c.Consume(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, time.Millisecond)
		cancel()
		<-done
		assert.Equal(t, 1, h.calls())
	})
}
