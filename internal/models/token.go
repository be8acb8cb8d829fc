package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims are the access-token claims issued by the auth service.
type TokenClaims struct {
	AccountID int64 `json:"account_id"`
	Role      Role  `json:"role"`
	jwt.RegisteredClaims
}
