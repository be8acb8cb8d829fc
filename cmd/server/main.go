package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/court-wallet/internal/api"
	"github.com/honeynil/court-wallet/internal/config"
	"github.com/honeynil/court-wallet/internal/handler"
	"github.com/honeynil/court-wallet/internal/infrastructure/gateway"
	"github.com/honeynil/court-wallet/internal/infrastructure/kafka"
	"github.com/honeynil/court-wallet/internal/infrastructure/redis"
	"github.com/honeynil/court-wallet/internal/observability"
	"github.com/honeynil/court-wallet/internal/repository"
	"github.com/honeynil/court-wallet/internal/repository/memory"
	core "github.com/honeynil/court-wallet/internal/repository/postgres"
	"github.com/honeynil/court-wallet/internal/scheduler"
	service "github.com/honeynil/court-wallet/internal/services"
	_ "github.com/lib/pq"
)

const (
	serviceName     = "court-wallet"
	consumerGroup   = "court-wallet-bookings"
	shutdownTimeout = 10 * time.Second
)

type repositories struct {
	accounts      repository.AccountRepository
	transactions  repository.TransactionRepository
	listings      repository.ListingRepository
	bookings      repository.BookingRepository
	notifications repository.NotificationRepository
	close         func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracing, metricsHandler := observability.Setup(serviceName, cfg.LogLevel)
	defer shutdownTracing(context.Background())

	repos, err := openStorage(cfg)
	if err != nil {
		slog.Error("failed to open storage", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer repos.close()

	// Redis and Kafka are optional; without them the ledger skips the
	// balance cache and event publishing.
	var cache redis.RedisClient
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(cfg.RedisAddr)
		if err != nil {
			slog.Warn("running without Redis", "error", err)
		} else {
			cache = client
			defer client.Close()
		}
	}
	var producer kafka.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		p := kafka.NewProducer(cfg.KafkaBrokers)
		producer = p
		defer p.Close()
	}

	ledger := service.NewLedgerService(repos.accounts, repos.transactions, cache, producer)
	notifier := service.NewNotificationService(repos.notifications, producer)
	gw := gateway.NewAdapter(gateway.Config{
		TmnCode:    cfg.GatewayTmnCode,
		HashSecret: cfg.GatewayHashSecret,
		PayURL:     cfg.GatewayPayURL,
		ReturnURL:  cfg.GatewayReturnURL,
		PaymentTTL: cfg.GatewayPaymentTTL,
		Location:   cfg.Location(),
	})
	payments := service.NewPaymentService(repos.accounts, gw, ledger)
	bookings := service.NewBookingService(repos.bookings, repos.transactions, ledger, notifier, service.SettlementConfig{
		PlatformAccountID: cfg.PlatformAccountID,
		CommissionRate:    cfg.CommissionRate,
		RefundThreshold:   cfg.RefundThreshold,
	})
	postings := service.NewPostingFeeService(repos.listings, repos.accounts, ledger, notifier, service.PostingFeeConfig{
		PlatformAccountID: cfg.PlatformAccountID,
		DailyPostingFee:   cfg.DailyPostingFee,
		Location:          cfg.Location(),
	})

	sched := scheduler.New(cfg.Location(), cache)
	jobs := []scheduler.Job{
		{
			Name: scheduler.JobPostingFee,
			Spec: cfg.PostingFeeSchedule,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := postings.RunDailyCharge(ctx, now)
				return err
			},
		},
		{
			Name: scheduler.JobPromotionExpiry,
			Spec: cfg.PromotionExpirySchedule,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := postings.ExpirePromotions(ctx, now)
				return err
			},
		},
	}
	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			slog.Error("failed to register job", "job", job.Name, "error", err)
			os.Exit(1)
		}
	}
	sched.Start()

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if len(cfg.KafkaBrokers) > 0 {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, kafka.TopicBookings, consumerGroup, bookings)
		go consumer.Consume(consumerCtx)
		defer consumer.Close()
	}

	h := handler.NewHandler(ledger, payments, bookings, postings, sched, handler.RedirectURLs{
		Success: cfg.PaymentSuccessURL,
		Failure: cfg.PaymentFailureURL,
	})
	router := api.SetupRouter(h, cache, cfg.JWTSecret, metricsHandler)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	if err := sched.Stop(ctx); err != nil {
		slog.Error("scheduler shutdown failed", "error", err)
	}
	stopConsumer()
	slog.Info("server stopped")
}

func openStorage(cfg *config.Config) (*repositories, error) {
	if cfg.StorageDriver == config.StorageMemory {
		store := memory.NewStore()
		slog.Warn("using in-memory storage; balances are lost on restart")
		return &repositories{
			accounts:      store.Accounts(),
			transactions:  store.Ledger(),
			listings:      store.Listings(),
			bookings:      store.Bookings(),
			notifications: store.NotificationStore(),
			close:         func() error { return nil },
		}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("connected to Postgres")
	return &repositories{
		accounts:      core.NewPostgresAccountRepository(db),
		transactions:  core.NewPostgresTransactionRepository(db),
		listings:      core.NewPostgresListingRepository(db),
		bookings:      core.NewPostgresBookingRepository(db),
		notifications: core.NewPostgresNotificationRepository(db),
		close:         db.Close,
	}, nil
}
