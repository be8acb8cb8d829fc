package service

import (
	"context"
	"sync"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/honeynil/court-wallet/internal/infrastructure/kafka"
	"github.com/honeynil/court-wallet/internal/infrastructure/redis"
	"github.com/honeynil/court-wallet/internal/models"
	"github.com/honeynil/court-wallet/internal/repository/memory"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLedgerService_ApplyTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("credit then debit", func(t *testing.T) {
		f := newFixture(map[int64]int64{payerID: 0})

		credit, err := f.ledger.ApplyTransaction(ctx, ApplyRequest{AccountID: payerID, Type: models.TypeTopup, Amount: 50000})
		require.NoError(t, err)
		assert.Equal(t, int64(0), credit.BalanceBefore)
		assert.Equal(t, int64(50000), credit.BalanceAfter)

		debit, err := f.ledger.ApplyTransaction(ctx, ApplyRequest{AccountID: payerID, Type: models.TypeBookingPayment, Amount: -50000})
		require.NoError(t, err)
		assert.Equal(t, int64(50000), debit.BalanceBefore)
		assert.Equal(t, int64(0), debit.BalanceAfter)
		assert.Equal(t, int64(0), f.balance(payerID))
	})

	t.Run("insufficient balance changes nothing", func(t *testing.T) {
		f := newFixture(map[int64]int64{payerID: 99999})

		tx, err := f.ledger.ApplyTransaction(ctx, ApplyRequest{AccountID: payerID, Type: models.TypePostingFee, Amount: -100000})
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)
		assert.Nil(t, tx)
		assert.Equal(t, int64(99999), f.balance(payerID))
		assert.Empty(t, f.store.Transactions())
	})

	t.Run("zero amount", func(t *testing.T) {
		f := newFixture(map[int64]int64{payerID: 0})
		_, err := f.ledger.ApplyTransaction(ctx, ApplyRequest{AccountID: payerID, Type: models.TypeTopup})
		assert.ErrorIs(t, err, pkgerrors.ErrZeroAmount)
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newFixture(nil)
		_, err := f.ledger.ApplyTransaction(ctx, ApplyRequest{AccountID: 404, Type: models.TypeTopup, Amount: 10})
		assert.ErrorIs(t, err, pkgerrors.ErrAccountNotFound)
	})

	t.Run("concurrent debits are serialized", func(t *testing.T) {
		f := newFixture(map[int64]int64{payerID: 20000})

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded, rejected := 0, 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.ledger.ApplyTransaction(ctx, ApplyRequest{AccountID: payerID, Type: models.TypeBookingPayment, Amount: -1000})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					succeeded++
				} else {
					rejected++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 20, succeeded)
		assert.Equal(t, 30, rejected)
		assert.Equal(t, int64(0), f.balance(payerID))

		seen := map[int64]bool{}
		for _, tx := range f.store.Transactions() {
			assert.Equal(t, tx.BalanceBefore+tx.Amount, tx.BalanceAfter)
			assert.False(t, seen[tx.BalanceBefore], "balance_before %d observed twice", tx.BalanceBefore)
			seen[tx.BalanceBefore] = true
		}
	})

	t.Run("writes fresh balance to cache and publishes event", func(t *testing.T) {
		store := memory.NewStore()
		store.PutAccount(models.Account{ID: payerID, WalletBalance: 0, IsActive: true})
		db, redisMock := redismock.NewClientMock()
		producer := &mockProducer{}
		svc := NewLedgerService(store.Accounts(), store.Ledger(), redis.NewFromClient(db), producer)

		redisMock.ExpectSet("account:3:balance", int64(10000), balanceCacheTTL).SetVal("OK")
		producer.On("Send", mock.Anything, kafka.TopicLedgerTransactions, payerID, mock.Anything).Return(nil).Once()

		_, err := svc.ApplyTransaction(ctx, ApplyRequest{AccountID: payerID, Type: models.TypeTopup, Amount: 10000, OrderID: "3_x"})
		require.NoError(t, err)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		producer.AssertExpectations(t)
	})

	t.Run("publish failure does not fail the mutation", func(t *testing.T) {
		store := memory.NewStore()
		store.PutAccount(models.Account{ID: payerID, WalletBalance: 0, IsActive: true})
		producer := &mockProducer{}
		svc := NewLedgerService(store.Accounts(), store.Ledger(), nil, producer)
		producer.On("Send", mock.Anything, kafka.TopicLedgerTransactions, payerID, mock.Anything).Return(assert.AnError)

		tx, err := svc.ApplyTransaction(ctx, ApplyRequest{AccountID: payerID, Type: models.TypeTopup, Amount: 10000})
		require.NoError(t, err)
		assert.Equal(t, int64(10000), tx.BalanceAfter)
	})
}

func TestLedgerService_GetBalance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutAccount(models.Account{ID: payerID, WalletBalance: 75000, IsActive: true})
	db, redisMock := redismock.NewClientMock()
	svc := NewLedgerService(store.Accounts(), store.Ledger(), redis.NewFromClient(db), nil)

	t.Run("cache hit", func(t *testing.T) {
		redisMock.ExpectGet("account:3:balance").SetVal("12345")

		balance, err := svc.GetBalance(ctx, payerID)
		require.NoError(t, err)
		assert.Equal(t, int64(12345), balance)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("cache miss reads storage and fills cache", func(t *testing.T) {
		redisMock.ExpectGet("account:3:balance").RedisNil()
		redisMock.ExpectSetNX("account:3:balance", int64(75000), balanceCacheTTL).SetVal(true)

		balance, err := svc.GetBalance(ctx, payerID)
		require.NoError(t, err)
		assert.Equal(t, int64(75000), balance)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		redisMock.ExpectGet("account:9:balance").RedisNil()

		_, err := svc.GetBalance(ctx, 9)
		assert.ErrorIs(t, err, pkgerrors.ErrAccountNotFound)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestLedgerService_GetTransactionHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[int64]int64{payerID: 0, ownerID: 0})
	for i := 1; i <= 3; i++ {
		_, err := f.ledger.ApplyTransaction(ctx, ApplyRequest{AccountID: payerID, Type: models.TypeTopup, Amount: int64(i * 10000)})
		require.NoError(t, err)
	}
	_, err := f.ledger.ApplyTransaction(ctx, ApplyRequest{AccountID: ownerID, Type: models.TypeTopup, Amount: 10000})
	require.NoError(t, err)

	txs, err := f.ledger.GetTransactionHistory(ctx, payerID, 2, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(30000), txs[0].Amount)
	assert.Equal(t, int64(20000), txs[1].Amount)

	txs, err = f.ledger.GetTransactionHistory(ctx, payerID, 2, 2)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(10000), txs[0].Amount)
	assert.Equal(t, txs[0].BalanceAfter, int64(10000))

	_, err = f.ledger.GetTransactionHistory(ctx, 404, 10, 0)
	assert.ErrorIs(t, err, pkgerrors.ErrAccountNotFound)

	t.Run("limit is capped", func(t *testing.T) {
		f := newFixture(map[int64]int64{payerID: 0})
		for i := 0; i < maxHistoryLimit+5; i++ {
			_, err := f.ledger.ApplyTransaction(ctx, ApplyRequest{AccountID: payerID, Type: models.TypeTopup, Amount: 10000})
			require.NoError(t, err)
		}

		txs, err := f.ledger.GetTransactionHistory(ctx, payerID, 500, 0)
		require.NoError(t, err)
		assert.Len(t, txs, maxHistoryLimit)

		txs, err = f.ledger.GetTransactionHistory(ctx, payerID, 0, 0)
		require.NoError(t, err)
		assert.Len(t, txs, defaultHistoryLimit)
	})
}

func TestLedgerService_StaleCacheFillLosesToMutation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutAccount(models.Account{ID: payerID, WalletBalance: 75000, IsActive: true})
	cache := newMapCache()
	svc := NewLedgerService(store.Accounts(), store.Ledger(), cache, nil)

	// A top-up commits between GetBalance's storage read and its cache fill.
	cache.beforeSetNX = func() {
		cache.beforeSetNX = nil
		_, err := svc.ApplyTransaction(ctx, ApplyRequest{AccountID: payerID, Type: models.TypeTopup, Amount: 25000})
		require.NoError(t, err)
	}

	balance, err := svc.GetBalance(ctx, payerID)
	require.NoError(t, err)
	assert.Equal(t, int64(75000), balance)

	balance, err = svc.GetBalance(ctx, payerID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), balance)
}
