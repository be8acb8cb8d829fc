package gateway_test

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/honeynil/court-wallet/internal/infrastructure/gateway"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter() *gateway.Adapter {
	fixed := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	return gateway.NewAdapter(gateway.Config{
		TmnCode:    "COURT01",
		HashSecret: "secret",
		PayURL:     "https://pay.example.test/paymentv2/vpcpay.html",
		ReturnURL:  "https://api.example.test/payment/gateway_return",
		PaymentTTL: 15 * time.Minute,
	}).WithClock(func() time.Time { return fixed })
}

// callback turns a built redirect into the parameters the gateway would send
// back after a payment with the given response code.
func callback(t *testing.T, a *gateway.Adapter, redirect, code string) url.Values {
	t.Helper()
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	sent := u.Query()
	params := url.Values{}
	params.Set("vnp_TmnCode", sent.Get("vnp_TmnCode"))
	params.Set("vnp_Amount", sent.Get("vnp_Amount"))
	params.Set("vnp_TxnRef", sent.Get("vnp_TxnRef"))
	params.Set("vnp_OrderInfo", sent.Get("vnp_OrderInfo"))
	params.Set("vnp_ResponseCode", code)
	params.Set("vnp_TransactionStatus", code)
	params.Set("vnp_TransactionNo", "14000001")
	params.Set("vnp_BankCode", "NCB")
	params.Set("vnp_SecureHashType", "HmacSHA512")
	params.Set("vnp_SecureHash", a.Sign(params))
	return params
}

func TestBuildPaymentURL(t *testing.T) {
	a := newAdapter()

	t.Run("Success", func(t *testing.T) {
		p, err := a.BuildPaymentURL(gateway.PaymentRequest{AccountID: 42, Amount: 50000, ClientIP: "10.0.0.1"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(p.OrderID, "42_"))
		assert.Len(t, strings.TrimPrefix(p.OrderID, "42_"), 32)

		u, err := url.Parse(p.URL)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "5000000", q.Get("vnp_Amount"))
		assert.Equal(t, p.OrderID, q.Get("vnp_TxnRef"))
		assert.Equal(t, "VND", q.Get("vnp_CurrCode"))
		assert.Equal(t, "20260301100000", q.Get("vnp_CreateDate"))
		assert.Equal(t, "20260301101500", q.Get("vnp_ExpireDate"))
		assert.Equal(t, a.Sign(q), q.Get("vnp_SecureHash"))
		assert.Len(t, q.Get("vnp_SecureHash"), 128)
	})

	t.Run("UniqueOrderIDs", func(t *testing.T) {
		p1, err := a.BuildPaymentURL(gateway.PaymentRequest{AccountID: 42, Amount: 50000})
		require.NoError(t, err)
		p2, err := a.BuildPaymentURL(gateway.PaymentRequest{AccountID: 42, Amount: 50000})
		require.NoError(t, err)
		assert.NotEqual(t, p1.OrderID, p2.OrderID)
	})

	t.Run("AmountBounds", func(t *testing.T) {
		for _, amount := range []int64{9_999, 10_000_001, 0, -10_000} {
			_, err := a.BuildPaymentURL(gateway.PaymentRequest{AccountID: 42, Amount: amount})
			assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount, "amount %d", amount)
		}
		for _, amount := range []int64{gateway.MinAmount, gateway.MaxAmount} {
			_, err := a.BuildPaymentURL(gateway.PaymentRequest{AccountID: 42, Amount: amount})
			assert.NoError(t, err, "amount %d", amount)
		}
	})

	t.Run("InvalidAccount", func(t *testing.T) {
		_, err := a.BuildPaymentURL(gateway.PaymentRequest{AccountID: 0, Amount: 50000})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestVerifyCallback(t *testing.T) {
	a := newAdapter()
	p, err := a.BuildPaymentURL(gateway.PaymentRequest{AccountID: 42, Amount: 50000})
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		cb, err := a.VerifyCallback(callback(t, a, p.URL, "00"))
		require.NoError(t, err)
		assert.Equal(t, int64(42), cb.AccountID)
		assert.Equal(t, int64(50000), cb.Amount)
		assert.Equal(t, p.OrderID, cb.OrderID)
		assert.True(t, cb.Success)
		assert.Equal(t, "14000001", cb.GatewayTxnNo)
	})

	t.Run("UppercaseSignatureAccepted", func(t *testing.T) {
		params := callback(t, a, p.URL, "00")
		params.Set("vnp_SecureHash", strings.ToUpper(params.Get("vnp_SecureHash")))
		_, err := a.VerifyCallback(params)
		assert.NoError(t, err)
	})

	t.Run("GatewayDeclined", func(t *testing.T) {
		cb, err := a.VerifyCallback(callback(t, a, p.URL, "24"))
		require.NoError(t, err)
		assert.False(t, cb.Success)
		assert.Equal(t, "24", cb.ResponseCode)
	})

	t.Run("TamperedAmount", func(t *testing.T) {
		params := callback(t, a, p.URL, "00")
		params.Set("vnp_Amount", "500000000")
		_, err := a.VerifyCallback(params)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidSignature)
	})

	t.Run("MissingSignature", func(t *testing.T) {
		params := callback(t, a, p.URL, "00")
		params.Del("vnp_SecureHash")
		_, err := a.VerifyCallback(params)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidSignature)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := gateway.NewAdapter(gateway.Config{HashSecret: "other"})
		_, err := other.VerifyCallback(callback(t, a, p.URL, "00"))
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidSignature)
	})

	t.Run("MalformedReference", func(t *testing.T) {
		params := callback(t, a, p.URL, "00")
		params.Set("vnp_TxnRef", "abc")
		params.Set("vnp_SecureHash", a.Sign(params))
		_, err := a.VerifyCallback(params)
		assert.ErrorIs(t, err, pkgerrors.ErrMalformedReference)
	})
}

func TestParseAccountID(t *testing.T) {
	id, err := gateway.ParseAccountID(gateway.NewOrderID(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	for _, ref := range []string{"", "7", "7_", "_abc", "x_abc", "-1_abc", "0_abc"} {
		_, err := gateway.ParseAccountID(ref)
		assert.ErrorIs(t, err, pkgerrors.ErrMalformedReference, "ref %q", ref)
	}
}

func TestVerifyCallback_DeclinedWithBadReference(t *testing.T) {
	a := newAdapter()
	params := url.Values{}
	params.Set("vnp_TxnRef", "garbage")
	params.Set("vnp_Amount", "5000000")
	params.Set("vnp_ResponseCode", "24")
	params.Set("vnp_SecureHash", a.Sign(params))

	cb, err := a.VerifyCallback(params)
	require.NoError(t, err)
	assert.False(t, cb.Success)
	assert.Equal(t, int64(0), cb.AccountID)
}
