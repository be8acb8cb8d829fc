package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/honeynil/court-wallet/internal/infrastructure/redis"
	"github.com/honeynil/court-wallet/internal/models"
)

type contextKey string

const (
	accountIDKey contextKey = "account_id"
	roleKey      contextKey = "role"
)

// AuthMiddleware accepts a Bearer token signed with jwtSecret. When
// redisClient is set the token must also be the one currently stored for the
// account, which lets the account service revoke sessions.
func AuthMiddleware(redisClient redis.RedisClient, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			tokenStr := parts[1]
			claims, err := ValidateJWT(tokenStr, jwtSecret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			if redisClient != nil {
				storedToken, err := redisClient.Get(r.Context(), redis.TokenKey(claims.AccountID))
				if err != nil || storedToken != tokenStr {
					slog.Error("invalid or revoked token", "account_id", claims.AccountID, "error", err)
					http.Error(w, "invalid or revoked token", http.StatusUnauthorized)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), claims.AccountID, claims.Role)))
		})
	}
}

func WithAccount(ctx context.Context, accountID int64, role models.Role) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, accountID)
	return context.WithValue(ctx, roleKey, role)
}

// AccountFromContext returns the authenticated account, if any.
func AccountFromContext(ctx context.Context) (int64, models.Role, bool) {
	id, ok := ctx.Value(accountIDKey).(int64)
	if !ok {
		return 0, "", false
	}
	role, _ := ctx.Value(roleKey).(models.Role)
	return id, role, true
}
