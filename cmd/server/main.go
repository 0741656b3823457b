package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation/internal/clock"
	"github.com/iliyamo/ticket-reservation/internal/config"
	"github.com/iliyamo/ticket-reservation/internal/database"
	"github.com/iliyamo/ticket-reservation/internal/handler"
	"github.com/iliyamo/ticket-reservation/internal/lock"
	"github.com/iliyamo/ticket-reservation/internal/logging"
	"github.com/iliyamo/ticket-reservation/internal/memstore"
	"github.com/iliyamo/ticket-reservation/internal/middleware"
	"github.com/iliyamo/ticket-reservation/internal/model"
	"github.com/iliyamo/ticket-reservation/internal/payment"
	"github.com/iliyamo/ticket-reservation/internal/queue"
	"github.com/iliyamo/ticket-reservation/internal/repository"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
	"github.com/iliyamo/ticket-reservation/internal/router"
	"github.com/iliyamo/ticket-reservation/internal/sweeper"
	"github.com/iliyamo/ticket-reservation/internal/utils"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	runMigrations := pflag.Bool("migrate", false, "apply embedded schema migrations at start (mysql backend)")
	noSweeper := pflag.Bool("no-sweeper", false, "do not run the expiry sweeper in this process")
	noConsumer := pflag.Bool("no-consumer", false, "do not run the notification consumer in this process")
	printToken := pflag.Uint64("print-token", 0, "print a CUSTOMER access token for the given id and exit")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: os.Getenv("LOG_LEVEL"), Env: os.Getenv("APP_ENV")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if *printToken != 0 {
		tok, err := utils.NewAccessToken(cfg.JWTSecret, *printToken, "CUSTOMER", cfg.AccessTTLMin)
		if err != nil {
			logger.Fatal("mint token", zap.Error(err))
		}
		fmt.Println(tok.Token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, cfg.Tracing, cfg.Env)
	if err != nil {
		logger.Fatal("init tracer", zap.Error(err))
	}
	logger.Info("tracing enabled", zap.String("exporter", cfg.Tracing.Exporter))

	err = run(ctx, cfg, logger, *runMigrations, !*noSweeper, !*noConsumer)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := tp.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("tracer shutdown", zap.Error(serr))
	}
	if err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, migrate, withSweeper, withConsumer bool) error {
	health := &handler.HealthHandler{Backend: cfg.StoreBackend}
	var store interface {
		reservation.Store
		sweeper.Source
	}
	switch cfg.StoreBackend {
	case config.BackendMySQL:
		if migrate {
			if err := database.Migrate(database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)); err != nil {
				return err
			}
			logger.Info("migrations applied")
		}
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer func() { _ = db.Close() }()
		health.DB = db
		store = repository.NewStore(db)
	default:
		mem := memstore.New()
		seedDemo(mem, time.Now().UTC())
		logger.Warn("using in-memory store; state is lost on restart")
		store = mem
	}

	opts := []reservation.Option{
		reservation.WithLogger(logger),
		reservation.WithTTL(cfg.Reservation.TTL),
		reservation.WithMaxItems(cfg.Reservation.MaxItems),
		reservation.WithLockTiming(cfg.Reservation.LockTTL, cfg.Reservation.LockWait),
		reservation.WithNotifyTimeout(cfg.Reservation.NotifyTimeout),
	}

	var limiter echo.MiddlewareFunc
	if rcfg, ok := config.LoadRedisConfig(); ok {
		rdb, err := config.NewRedisClient(rcfg)
		if err != nil {
			logger.Warn("redis unavailable; using in-process customer lock, rate limiting off", zap.Error(err))
		} else {
			defer func() { _ = rdb.Close() }()
			opts = append(opts, reservation.WithLocker(lock.NewRedisLocker(rdb, lock.WithPrefix("reservation"))))
			limiter = middleware.NewTokenBucket(config.LoadRateLimitConfig(), redis.Scripter(rdb), clock.Real(), logger)
		}
	}

	publisher := queue.NewPublisher(cfg.BrokerURL, logger)
	defer func() { _ = publisher.Close() }()
	opts = append(opts, reservation.WithNotifier(publisher))

	var gateway *payment.Gateway
	if cfg.Payment.Enabled() {
		gw, err := payment.New(payment.Config{
			BaseURL:      cfg.Payment.BaseURL,
			Secret:       cfg.Payment.Secret,
			MerchantCode: cfg.Payment.MerchantCode,
			ReturnURL:    cfg.Payment.ReturnURL,
		}, clock.Real())
		if err != nil {
			return err
		}
		gateway = gw
		opts = append(opts, reservation.WithPaymentGateway(gw))
	}

	svc := reservation.NewService(store, opts...)

	var wg sync.WaitGroup
	if withSweeper {
		sw := sweeper.New(store, svc,
			sweeper.WithInterval(cfg.Reservation.SweepInterval),
			sweeper.WithBatchSize(cfg.Reservation.SweepBatch),
			sweeper.WithLogger(logger))
		wg.Add(1)
		go func() {
			defer wg.Done()
			sw.Run(ctx)
		}()
	}
	if withConsumer {
		consumer := queue.NewConsumer(cfg.BrokerURL, cfg.LogDir, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error(ctx, logger, "notification consumer stopped", zap.Error(err))
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	var payments *handler.PaymentHandler
	if gateway != nil {
		payments = handler.NewPaymentHandler(svc, gateway, logger)
	}
	router.RegisterRoutes(e, health, payments)
	router.RegisterCustomer(e, handler.NewOrderHandler(svc, logger), cfg.JWTSecret, limiter)

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreBackend))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

// seedDemo gives the memory backend one on-sale event to order from.
func seedDemo(s *memstore.Store, now time.Time) {
	s.PutEvent(model.Event{
		ID:       1,
		Name:     "Demo Concert",
		Status:   model.EventActive,
		StartsAt: now.Add(30 * 24 * time.Hour),
		EndsAt:   now.Add(30*24*time.Hour + 3*time.Hour),
	})
	s.PutTicketType(model.TicketType{ID: 1, EventID: 1, Name: "General Admission",
		UnitPrice: decimal.RequireFromString("25.00"), TotalCapacity: 500, IsActive: true})
	s.PutTicketType(model.TicketType{ID: 2, EventID: 1, Name: "VIP",
		UnitPrice: decimal.RequireFromString("90.00"), TotalCapacity: 50, IsActive: true})
}
