package service

import (
	"context"
	"net/url"
	"testing"

	"github.com/honeynil/court-wallet/internal/infrastructure/gateway"
	"github.com/honeynil/court-wallet/internal/models"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentService(f *fixture) (*PaymentService, *gateway.Adapter) {
	gw := gateway.NewAdapter(gateway.Config{
		TmnCode:    "COURT01",
		HashSecret: "secret",
		PayURL:     "https://pay.example.test/vpcpay.html",
		ReturnURL:  "https://api.example.test/payment/gateway_return",
	})
	return NewPaymentService(f.store.Accounts(), gw, f.ledger), gw
}

func gatewayReturn(t *testing.T, gw *gateway.Adapter, paymentURL, code string) url.Values {
	t.Helper()
	u, err := url.Parse(paymentURL)
	require.NoError(t, err)
	params := url.Values{}
	params.Set("vnp_Amount", u.Query().Get("vnp_Amount"))
	params.Set("vnp_TxnRef", u.Query().Get("vnp_TxnRef"))
	params.Set("vnp_ResponseCode", code)
	params.Set("vnp_TransactionNo", "14000001")
	params.Set("vnp_SecureHash", gw.Sign(params))
	return params
}

func TestPaymentService_CreatePaymentURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[int64]int64{payerID: 0})
	f.store.PutAccount(models.Account{ID: 8, IsActive: false})
	svc, _ := newPaymentService(f)

	p, err := svc.CreatePaymentURL(ctx, payerID, 50000, "10.0.0.1")
	require.NoError(t, err)
	assert.Contains(t, p.URL, "vnp_SecureHash=")
	assert.Empty(t, f.store.Transactions())

	_, err = svc.CreatePaymentURL(ctx, payerID, 5000, "")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	_, err = svc.CreatePaymentURL(ctx, payerID, 20_000_000, "")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	_, err = svc.CreatePaymentURL(ctx, 404, 50000, "")
	assert.ErrorIs(t, err, pkgerrors.ErrAccountNotFound)
	_, err = svc.CreatePaymentURL(ctx, 8, 50000, "")
	assert.ErrorIs(t, err, pkgerrors.ErrForbidden)
}

func TestPaymentService_HandleCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("credits once", func(t *testing.T) {
		f := newFixture(map[int64]int64{payerID: 0})
		svc, gw := newPaymentService(f)
		p, err := svc.CreatePaymentURL(ctx, payerID, 50000, "")
		require.NoError(t, err)
		params := gatewayReturn(t, gw, p.URL, "00")

		res, err := svc.HandleCallback(ctx, params)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.False(t, res.Duplicate)
		assert.Equal(t, payerID, res.AccountID)
		assert.Equal(t, int64(50000), res.Amount)
		assert.Equal(t, p.OrderID, res.Transaction.OrderID)
		assert.Equal(t, models.TypeTopup, res.Transaction.Type)

		again, err := svc.HandleCallback(ctx, params)
		require.NoError(t, err)
		assert.True(t, again.Success)
		assert.True(t, again.Duplicate)
		assert.Equal(t, res.Transaction.ID, again.Transaction.ID)

		assert.Equal(t, int64(50000), f.balance(payerID))
		assert.Len(t, f.store.Transactions(), 1)
	})

	t.Run("invalid signature", func(t *testing.T) {
		f := newFixture(map[int64]int64{payerID: 0})
		svc, gw := newPaymentService(f)
		p, err := svc.CreatePaymentURL(ctx, payerID, 50000, "")
		require.NoError(t, err)
		params := gatewayReturn(t, gw, p.URL, "00")
		params.Set("vnp_Amount", "9999900")

		_, err = svc.HandleCallback(ctx, params)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidSignature)
		assert.Empty(t, f.store.Transactions())
	})

	t.Run("declined payment", func(t *testing.T) {
		f := newFixture(map[int64]int64{payerID: 0})
		svc, gw := newPaymentService(f)
		p, err := svc.CreatePaymentURL(ctx, payerID, 50000, "")
		require.NoError(t, err)

		res, err := svc.HandleCallback(ctx, gatewayReturn(t, gw, p.URL, "24"))
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Nil(t, res.Transaction)
		assert.Empty(t, f.store.Transactions())
	})

	t.Run("account vanished", func(t *testing.T) {
		f := newFixture(nil)
		svc, gw := newPaymentService(f)
		params := url.Values{}
		params.Set("vnp_Amount", "5000000")
		params.Set("vnp_TxnRef", gateway.NewOrderID(77))
		params.Set("vnp_ResponseCode", "00")
		params.Set("vnp_SecureHash", gw.Sign(params))

		_, err := svc.HandleCallback(ctx, params)
		assert.ErrorIs(t, err, pkgerrors.ErrAccountNotFound)
	})
}
