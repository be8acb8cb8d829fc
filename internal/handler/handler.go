package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/honeynil/court-wallet/internal/infrastructure/auth"
	"github.com/honeynil/court-wallet/internal/models"
	service "github.com/honeynil/court-wallet/internal/services"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
)

// JobRunner triggers a scheduled job out of band.
type JobRunner interface {
	RunOnce(ctx context.Context, name string) error
}

type RedirectURLs struct {
	Success string
	Failure string
}

type Handler struct {
	ledger    service.LedgerService
	payments  *service.PaymentService
	bookings  *service.BookingService
	postings  *service.PostingFeeService
	jobs      JobRunner
	redirects RedirectURLs
	validate  *validator.Validate
}

func NewHandler(
	ledger service.LedgerService,
	payments *service.PaymentService,
	bookings *service.BookingService,
	postings *service.PostingFeeService,
	jobs JobRunner,
	redirects RedirectURLs,
) *Handler {
	return &Handler{
		ledger:    ledger,
		payments:  payments,
		bookings:  bookings,
		postings:  postings,
		jobs:      jobs,
		redirects: redirects,
		validate:  validator.New(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrInsufficientBalance),
		errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrZeroAmount),
		errors.Is(err, pkgerrors.ErrRefundWindowClosed),
		errors.Is(err, pkgerrors.ErrMalformedReference):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrAccountNotFound),
		errors.Is(err, pkgerrors.ErrBookingNotFound),
		errors.Is(err, pkgerrors.ErrListingNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInvalidBookingStatus),
		errors.Is(err, pkgerrors.ErrAlreadyPromoted),
		errors.Is(err, pkgerrors.ErrNotPromoted),
		errors.Is(err, pkgerrors.ErrJobAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		err = pkgerrors.ErrInternal
	}
	h.writeError(w, status, err)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.HandleFunc("/payment/gateway_return", h.GatewayReturn).Methods("GET")
	r.HandleFunc("/payment/gateway_ipn", h.GatewayIPN).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router, authMW func(http.Handler) http.Handler) {
	protect := func(path string, fn http.HandlerFunc, method string) {
		r.Handle(path, authMW(fn)).Methods(method)
	}
	protect("/payment/create_payment_url", h.CreatePaymentURL, "POST")
	protect("/wallet/balance", h.GetBalance, "GET")
	protect("/wallet/transactions", h.GetTransactionHistory, "GET")
	protect("/bookings/{id:[0-9]+}/confirm", h.ConfirmBooking, "POST")
	protect("/bookings/{id:[0-9]+}/cancel", h.CancelBooking, "POST")
	protect("/listings/{id:[0-9]+}/promotion", h.StartPromotion, "POST")
	protect("/admin/jobs/{name}/run", h.RunJob, "POST")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actor(r *http.Request) (service.Actor, bool) {
	id, role, ok := auth.AccountFromContext(r.Context())
	return service.Actor{AccountID: id, Role: role}, ok
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad id", pkgerrors.ErrInvalidInput)
	}
	return id, nil
}

type createPaymentRequest struct {
	Amount int64 `json:"amount" validate:"required,min=10000,max=10000000"`
}

func (h *Handler) CreatePaymentURL(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("account not authenticated"))
		return
	}
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: amount must be between 10000 and 10000000", pkgerrors.ErrInvalidAmount))
		return
	}

	p, err := h.payments.CreatePaymentURL(r.Context(), a.AccountID, req.Amount, clientIP(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"paymentUrl": p.URL,
		"orderId":    p.OrderID,
		"expiresAt":  p.ExpiresAt,
	})
}

// GatewayReturn is where the gateway sends the payer's browser back.
func (h *Handler) GatewayReturn(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.HandleCallback(r.Context(), r.URL.Query())
	target := h.redirects.Failure
	q := url.Values{}
	switch {
	case err != nil:
		q.Set("reason", reason(err))
	case res.Success:
		target = h.redirects.Success
		q.Set("orderId", res.OrderID)
		q.Set("amount", strconv.FormatInt(res.Amount, 10))
	default:
		q.Set("orderId", res.OrderID)
		q.Set("code", res.ResponseCode)
	}
	http.Redirect(w, r, withQuery(target, q), http.StatusFound)
}

type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// GatewayIPN is the server-to-server confirmation. The gateway only reads the
// JSON body, so the status is always 200.
func (h *Handler) GatewayIPN(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.HandleCallback(r.Context(), r.URL.Query())
	var resp ipnResponse
	switch {
	case err == nil && res.Duplicate:
		resp = ipnResponse{RspCode: "00", Message: "Order already confirmed"}
	case err == nil:
		resp = ipnResponse{RspCode: "00", Message: "Confirm Success"}
	case errors.Is(err, pkgerrors.ErrInvalidSignature):
		resp = ipnResponse{RspCode: "97", Message: "Invalid signature"}
	case errors.Is(err, pkgerrors.ErrMalformedReference), errors.Is(err, pkgerrors.ErrAccountNotFound):
		resp = ipnResponse{RspCode: "01", Message: "Order not found"}
	default:
		resp = ipnResponse{RspCode: "99", Message: "Unknown error"}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("account not authenticated"))
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), a.AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("account not authenticated"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	transactions, err := h.ledger.GetTransactionHistory(r.Context(), a.AccountID, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("account not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.bookings.ConfirmBooking(r.Context(), id, a)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("account not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	b, refund, err := h.bookings.CancelBooking(r.Context(), id, a)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Booking *models.Booking     `json:"booking"`
		Refund  *models.Transaction `json:"refund,omitempty"`
	}{b, refund})
}

type promotionRequest struct {
	Days int `json:"days" validate:"required,min=1,max=365"`
}

func (h *Handler) StartPromotion(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("account not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req promotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: days must be between 1 and 365", pkgerrors.ErrInvalidInput))
		return
	}

	l, err := h.postings.StartPromotion(r.Context(), a, id, req.Days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("account not authenticated"))
		return
	}
	if !a.IsAdmin() {
		h.writeError(w, http.StatusForbidden, pkgerrors.ErrForbidden)
		return
	}
	name := mux.Vars(r)["name"]
	if err := h.jobs.RunOnce(r.Context(), name); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "completed"})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func reason(err error) string {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, pkgerrors.ErrMalformedReference):
		return "malformed_reference"
	case errors.Is(err, pkgerrors.ErrAccountNotFound):
		return "account_not_found"
	default:
		return "error"
	}
}

func withQuery(base string, q url.Values) string {
	if strings.Contains(base, "?") {
		return base + "&" + q.Encode()
	}
	return base + "?" + q.Encode()
}
