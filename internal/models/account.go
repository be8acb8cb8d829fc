package models

import "time"

type Role string

const (
	RolePlayer Role = "player"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

// Account is the wallet-bearing part of a user. WalletBalance is in the
// smallest currency unit and is only changed through the ledger.
type Account struct {
	ID            int64     `json:"id"`
	Role          Role      `json:"role"`
	WalletBalance int64     `json:"wallet_balance"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
