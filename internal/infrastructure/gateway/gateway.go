// Package gateway builds signed payment redirects for the card gateway and
// verifies the parameters the gateway sends back on the return URL and IPN.
//
// Both directions are signed with HMAC-SHA512 over the parameters sorted by
// key and URL-encoded, excluding the signature fields themselves.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
)

const (
	MinAmount int64 = 10_000
	MaxAmount int64 = 10_000_000

	version      = "2.1.0"
	command      = "pay"
	currency     = "VND"
	locale       = "vn"
	orderType    = "other"
	timeLayout   = "20060102150405"
	successCode  = "00"
	paramHash    = "vnp_SecureHash"
	paramHashTyp = "vnp_SecureHashType"
)

type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	PaymentTTL time.Duration
	// Location is the gateway's clock; CreateDate and ExpireDate are
	// rendered in it.
	Location *time.Location
}

type Adapter struct {
	cfg Config
	now func() time.Time
}

func NewAdapter(cfg Config) *Adapter {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("GMT+7", 7*60*60)
	}
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = 15 * time.Minute
	}
	return &Adapter{cfg: cfg, now: time.Now}
}

// WithClock replaces the time source.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

type PaymentRequest struct {
	AccountID int64
	Amount    int64
	ClientIP  string
	OrderInfo string
}

type PaymentURL struct {
	URL       string
	OrderID   string
	ExpiresAt time.Time
}

// Callback is the verified content of a gateway return or IPN request.
type Callback struct {
	AccountID    int64
	Amount       int64
	OrderID      string
	Success      bool
	ResponseCode string
	GatewayTxnNo string
	BankCode     string
}

func (a *Adapter) BuildPaymentURL(req PaymentRequest) (*PaymentURL, error) {
	if req.AccountID <= 0 {
		return nil, pkgerrors.ErrInvalidInput
	}
	if req.Amount < MinAmount || req.Amount > MaxAmount {
		return nil, pkgerrors.ErrInvalidAmount
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	info := req.OrderInfo
	if info == "" {
		info = fmt.Sprintf("Wallet top-up for account %d", req.AccountID)
	}

	now := a.now().In(a.cfg.Location)
	expires := now.Add(a.cfg.PaymentTTL)
	orderID := NewOrderID(req.AccountID)

	params := url.Values{}
	params.Set("vnp_Version", version)
	params.Set("vnp_Command", command)
	params.Set("vnp_TmnCode", a.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_CurrCode", currency)
	params.Set("vnp_TxnRef", orderID)
	params.Set("vnp_OrderInfo", info)
	params.Set("vnp_OrderType", orderType)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_ReturnUrl", a.cfg.ReturnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", now.Format(timeLayout))
	params.Set("vnp_ExpireDate", expires.Format(timeLayout))

	signed := params.Encode()
	return &PaymentURL{
		URL:       a.cfg.PayURL + "?" + signed + "&" + paramHash + "=" + a.sign(signed),
		OrderID:   orderID,
		ExpiresAt: expires,
	}, nil
}

// VerifyCallback checks the signature before it reads anything else, so an
// unsigned request never reaches order reference parsing.
func (a *Adapter) VerifyCallback(params url.Values) (*Callback, error) {
	got := strings.ToLower(params.Get(paramHash))
	if got == "" {
		return nil, pkgerrors.ErrInvalidSignature
	}
	if !hmac.Equal([]byte(got), []byte(a.Sign(params))) {
		return nil, pkgerrors.ErrInvalidSignature
	}

	code := params.Get("vnp_ResponseCode")
	status := params.Get("vnp_TransactionStatus")
	cb := &Callback{
		OrderID:      params.Get("vnp_TxnRef"),
		Success:      code == successCode && (status == "" || status == successCode),
		ResponseCode: code,
		GatewayTxnNo: params.Get("vnp_TransactionNo"),
		BankCode:     params.Get("vnp_BankCode"),
	}
	if !cb.Success {
		// Nothing will be credited; the reference is only kept for logging.
		cb.AccountID, _ = ParseAccountID(cb.OrderID)
		return cb, nil
	}

	accountID, err := ParseAccountID(cb.OrderID)
	if err != nil {
		return nil, err
	}
	raw, err := strconv.ParseInt(params.Get("vnp_Amount"), 10, 64)
	if err != nil || raw <= 0 || raw%100 != 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}
	cb.AccountID = accountID
	cb.Amount = raw / 100
	return cb, nil
}

// Sign returns the hex signature of params, ignoring any signature fields
// already present.
func (a *Adapter) Sign(params url.Values) string {
	clean := make(url.Values, len(params))
	for k, v := range params {
		if k == paramHash || k == paramHashTyp {
			continue
		}
		clean[k] = v
	}
	return a.sign(clean.Encode())
}

func (a *Adapter) sign(canonical string) string {
	mac := hmac.New(sha512.New, []byte(a.cfg.HashSecret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewOrderID returns "<accountId>_<32 hex chars>".
func NewOrderID(accountID int64) string {
	return strconv.FormatInt(accountID, 10) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func ParseAccountID(orderID string) (int64, error) {
	prefix, suffix, ok := strings.Cut(orderID, "_")
	if !ok || suffix == "" {
		return 0, pkgerrors.ErrMalformedReference
	}
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.ErrMalformedReference
	}
	return id, nil
}
