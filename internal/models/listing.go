package models

import "time"

// Listing is the promotion state of a court listing.
type Listing struct {
	ID                 int64      `json:"id"`
	OwnerID            int64      `json:"owner_id"`
	Name               string     `json:"name"`
	IsPosted           bool       `json:"is_posted"`
	PostingStartDate   *time.Time `json:"posting_start_date,omitempty"`
	PostingEndDate     *time.Time `json:"posting_end_date,omitempty"`
	LastFeeChargedDate *time.Time `json:"last_fee_charged_date,omitempty"`
	DailyPostingFee    int64      `json:"daily_posting_fee"`
	TotalPostingFee    int64      `json:"total_posting_fee"`
}

// ChargedOn reports whether the daily fee has already been taken for day.
// day must be a calendar date at midnight in the platform location.
func (l *Listing) ChargedOn(day time.Time) bool {
	if l.LastFeeChargedDate == nil {
		return false
	}
	y1, m1, d1 := l.LastFeeChargedDate.Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func (l *Listing) ExpiredAt(now time.Time) bool {
	return l.PostingEndDate != nil && !l.PostingEndDate.After(now)
}
