package config

import (
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	PostgresDSN   string   `envconfig:"POSTGRES_DSN" default:"host=localhost user=postgres password=postgres dbname=court sslmode=disable"`
	RedisAddr     string   `envconfig:"REDIS_ADDR"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	StorageDriver string   `envconfig:"STORAGE_DRIVER" default:"postgres" validate:"oneof=postgres memory"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true" validate:"required"`
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	PlatformAccountID int64  `envconfig:"PLATFORM_ACCOUNT_ID" default:"1" validate:"gt=0"`
	PlatformTimezone  string `envconfig:"PLATFORM_TIMEZONE" default:"Asia/Ho_Chi_Minh"`

	CommissionRate  decimal.Decimal `envconfig:"COMMISSION_RATE" default:"0.05"`
	RefundThreshold time.Duration   `envconfig:"REFUND_THRESHOLD" default:"2h" validate:"gte=0"`
	DailyPostingFee int64           `envconfig:"DAILY_POSTING_FEE" default:"100000" validate:"gt=0"`

	PostingFeeSchedule      string `envconfig:"POSTING_FEE_SCHEDULE" default:"0 0 * * *"`
	PromotionExpirySchedule string `envconfig:"PROMOTION_EXPIRY_SCHEDULE" default:"*/15 * * * *"`

	GatewayTmnCode    string        `envconfig:"GATEWAY_TMN_CODE"`
	GatewayHashSecret string        `envconfig:"GATEWAY_HASH_SECRET" required:"true" validate:"required"`
	GatewayPayURL     string        `envconfig:"GATEWAY_PAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html" validate:"url"`
	GatewayReturnURL  string        `envconfig:"GATEWAY_RETURN_URL" default:"http://localhost:8080/payment/gateway_return" validate:"url"`
	GatewayPaymentTTL time.Duration `envconfig:"GATEWAY_PAYMENT_TTL" default:"15m" validate:"gt=0"`

	PaymentSuccessURL string `envconfig:"PAYMENT_SUCCESS_URL" default:"http://localhost:3000/wallet/success" validate:"url"`
	PaymentFailureURL string `envconfig:"PAYMENT_FAILURE_URL" default:"http://localhost:3000/wallet/failure" validate:"url"`

	location *time.Location
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment only", "error", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.CommissionRate.IsNegative() || cfg.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("config: COMMISSION_RATE must be in [0, 1), got %s", cfg.CommissionRate)
	}
	loc, err := time.LoadLocation(cfg.PlatformTimezone)
	if err != nil {
		return nil, fmt.Errorf("config: PLATFORM_TIMEZONE: %w", err)
	}
	cfg.location = loc

	slog.Info("config loaded",
		"storage_driver", cfg.StorageDriver,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"platform_timezone", cfg.PlatformTimezone,
		"commission_rate", cfg.CommissionRate.String(),
	)
	return &cfg, nil
}

// Location is the platform timezone; every calendar-day decision uses it.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}
