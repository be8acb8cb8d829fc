package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/honeynil/court-wallet/internal/infrastructure/redis"
	"github.com/honeynil/court-wallet/internal/models"
	"github.com/honeynil/court-wallet/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

const (
	platformID int64 = 1
	ownerID    int64 = 2
	payerID    int64 = 3
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Send(ctx context.Context, topic string, key int64, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func (m *mockProducer) Close() error {
	return m.Called().Error(0)
}

type fixture struct {
	store    *memory.Store
	ledger   *ledgerService
	notifier *notificationService
}

func newFixture(balances map[int64]int64) *fixture {
	store := memory.NewStore()
	for id, balance := range balances {
		role := models.RolePlayer
		switch id {
		case platformID:
			role = models.RoleAdmin
		case ownerID:
			role = models.RoleOwner
		}
		store.PutAccount(models.Account{ID: id, Role: role, WalletBalance: balance, IsActive: true})
	}
	return &fixture{
		store:    store,
		ledger:   NewLedgerService(store.Accounts(), store.Ledger(), nil, nil),
		notifier: NewNotificationService(store.NotificationStore(), nil),
	}
}

func (f *fixture) balance(id int64) int64 {
	a, err := f.store.Accounts().GetByID(context.Background(), id)
	if err != nil {
		return -1
	}
	return a.WalletBalance
}

func (f *fixture) bookingService() *BookingService {
	return NewBookingService(f.store.Bookings(), f.store.Ledger(), f.ledger, f.notifier, SettlementConfig{
		PlatformAccountID: platformID,
		CommissionRate:    decimal.RequireFromString("0.05"),
		RefundThreshold:   2 * time.Hour,
	})
}

func (f *fixture) postingFeeService(loc *time.Location) *PostingFeeService {
	return NewPostingFeeService(f.store.Listings(), f.store.Accounts(), f.ledger, f.notifier, PostingFeeConfig{
		PlatformAccountID: platformID,
		DailyPostingFee:   100000,
		Location:          loc,
	})
}

func (f *fixture) notificationsOf(kind models.NotificationKind) []models.Notification {
	var out []models.Notification
	for _, n := range f.store.Notifications() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// mapCache is an in-process redis.RedisClient. beforeSetNX, when set, runs
// just before a SetNX takes effect.
type mapCache struct {
	mu          sync.Mutex
	values      map[string]string
	beforeSetNX func()
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string]string)}
}

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = fmt.Sprint(value)
	return nil
}

func (c *mapCache) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	if hook := c.beforeSetNX; hook != nil {
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = fmt.Sprint(value)
	return true, nil
}

func (c *mapCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *mapCache) Close() error { return nil }
