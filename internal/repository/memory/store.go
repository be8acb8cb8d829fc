// Package memory is an in-process implementation of the repository
// interfaces. It backs STORAGE_DRIVER=memory and the service tests.
//
// A single mutex guards all state, which makes every Apply strictly
// serialized; that is a stronger ordering than the per-account guarantee the
// Postgres store gives.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/honeynil/court-wallet/internal/models"
	pkgerrors "github.com/honeynil/court-wallet/pkg/errors"
)

type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	accounts      map[int64]*models.Account
	transactions  []models.Transaction
	orders        map[string]int
	listings      map[int64]*models.Listing
	bookings      map[int64]*models.Booking
	notifications []models.Notification

	// FailApply, when set, is consulted before every Apply and its error
	// returned unchanged.
	FailApply func(tx *models.Transaction) error
}

func NewStore() *Store {
	return &Store{
		now:      time.Now,
		accounts: make(map[int64]*models.Account),
		orders:   make(map[string]int),
		listings: make(map[int64]*models.Listing),
		bookings: make(map[int64]*models.Booking),
	}
}

func (s *Store) PutAccount(a models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = &a
}

func (s *Store) PutListing(l models.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = &l
}

func (s *Store) PutBooking(b models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = &b
}

// Transactions returns a copy of the whole ledger in append order.
func (s *Store) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// Accounts

type AccountRepository struct{ *Store }

func (s *Store) Accounts() AccountRepository { return AccountRepository{s} }

func (r AccountRepository) GetByID(_ context.Context, id int64) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, pkgerrors.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

// Ledger

type TransactionRepository struct{ *Store }

func (s *Store) Ledger() TransactionRepository { return TransactionRepository{s} }

func (r TransactionRepository) Apply(_ context.Context, tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	if !tx.Type.Valid() {
		return pkgerrors.ErrInvalidTransactionType
	}
	if tx.Status == "" {
		tx.Status = models.StatusCompleted
	}
	if !tx.Status.Valid() {
		return pkgerrors.ErrInvalidTransactionStatus
	}
	if tx.Amount == 0 {
		return pkgerrors.ErrZeroAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailApply != nil {
		if err := r.FailApply(tx); err != nil {
			return err
		}
	}
	a, ok := r.accounts[tx.AccountID]
	if !ok {
		return pkgerrors.ErrAccountNotFound
	}
	if tx.OrderID != "" {
		if _, dup := r.orders[tx.OrderID]; dup {
			return pkgerrors.ErrDuplicateOrder
		}
	}
	after := a.WalletBalance + tx.Amount
	if after < 0 {
		return pkgerrors.ErrInsufficientBalance
	}

	tx.ID = int64(len(r.transactions) + 1)
	tx.BalanceBefore = a.WalletBalance
	tx.BalanceAfter = after
	tx.CreatedAt = r.now()
	a.WalletBalance = after
	a.UpdatedAt = tx.CreatedAt

	r.transactions = append(r.transactions, *tx)
	if tx.OrderID != "" {
		r.orders[tx.OrderID] = len(r.transactions) - 1
	}
	return nil
}

func (r TransactionRepository) GetByID(_ context.Context, id int64) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 1 || int(id) > len(r.transactions) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	tx := r.transactions[id-1]
	return &tx, nil
}

func (r TransactionRepository) GetByOrderID(_ context.Context, orderID string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.orders[orderID]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	tx := r.transactions[i]
	return &tx, nil
}

func (r TransactionRepository) ListByAccount(_ context.Context, accountID int64, limit, offset int) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Transaction{}
	skipped := 0
	for i := len(r.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if r.transactions[i].AccountID != accountID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, r.transactions[i])
	}
	return out, nil
}

func (r TransactionRepository) ListByBooking(_ context.Context, bookingID int64) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Transaction{}
	for _, tx := range r.transactions {
		if tx.BookingID != nil && *tx.BookingID == bookingID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Listings

type ListingRepository struct{ *Store }

func (s *Store) Listings() ListingRepository { return ListingRepository{s} }

func (r ListingRepository) GetByID(_ context.Context, id int64) (*models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, pkgerrors.ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (r ListingRepository) ListPromoted(_ context.Context) ([]models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Listing{}
	for _, l := range r.listings {
		if l.IsPosted {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r ListingRepository) StartPromotion(_ context.Context, id int64, start, end time.Time, dailyFee int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return pkgerrors.ErrListingNotFound
	}
	if l.IsPosted {
		return pkgerrors.ErrAlreadyPromoted
	}
	l.IsPosted = true
	l.PostingStartDate = &start
	l.PostingEndDate = &end
	l.DailyPostingFee = dailyFee
	return nil
}

func (r ListingRepository) ClaimDailyCharge(_ context.Context, id int64, day time.Time, fee int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return false, pkgerrors.ErrListingNotFound
	}
	if !l.IsPosted || l.ChargedOn(day) || (l.LastFeeChargedDate != nil && l.LastFeeChargedDate.After(day)) {
		return false, nil
	}
	d := day
	l.LastFeeChargedDate = &d
	l.TotalPostingFee += fee
	return true, nil
}

func (r ListingRepository) ReleaseDailyCharge(_ context.Context, id int64, previous *time.Time, fee int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return pkgerrors.ErrListingNotFound
	}
	l.LastFeeChargedDate = previous
	l.TotalPostingFee -= fee
	return nil
}

func (r ListingRepository) StopPromotion(_ context.Context, id int64, endDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return pkgerrors.ErrListingNotFound
	}
	l.IsPosted = false
	l.PostingEndDate = &endDate
	return nil
}

func (r ListingRepository) ExpirePromotions(_ context.Context, now time.Time) ([]models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Listing{}
	for _, l := range r.listings {
		if l.IsPosted && l.ExpiredAt(now) {
			l.IsPosted = false
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Bookings

type BookingRepository struct{ *Store }

func (s *Store) Bookings() BookingRepository { return BookingRepository{s} }

func (r BookingRepository) GetByID(_ context.Context, id int64) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, pkgerrors.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r BookingRepository) UpdateStatus(_ context.Context, id int64, from, to models.BookingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return pkgerrors.ErrBookingNotFound
	}
	if b.Status != from {
		return pkgerrors.ErrInvalidBookingStatus
	}
	b.Status = to
	return nil
}

// Notifications

type NotificationRepository struct{ *Store }

func (s *Store) NotificationStore() NotificationRepository { return NotificationRepository{s} }

func (r NotificationRepository) Create(_ context.Context, n *models.Notification) error {
	if n == nil {
		return pkgerrors.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = int64(len(r.notifications) + 1)
	n.CreatedAt = r.now()
	r.notifications = append(r.notifications, *n)
	return nil
}
