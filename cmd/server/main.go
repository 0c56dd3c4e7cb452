package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/config"
	"github.com/iliyamo/newstore-ledger/internal/database"
	"github.com/iliyamo/newstore-ledger/internal/gateway"
	"github.com/iliyamo/newstore-ledger/internal/handler"
	"github.com/iliyamo/newstore-ledger/internal/middleware"
	"github.com/iliyamo/newstore-ledger/internal/obs"
	"github.com/iliyamo/newstore-ledger/internal/pricing"
	"github.com/iliyamo/newstore-ledger/internal/queue"
	"github.com/iliyamo/newstore-ledger/internal/repository"
	"github.com/iliyamo/newstore-ledger/internal/router"
	"github.com/iliyamo/newstore-ledger/internal/service"
	"github.com/iliyamo/newstore-ledger/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("cannot read .env", "err", err)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProd() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h).With("service", "newstore-ledger"))
}

func newGateway(cfg config.Config) (gateway.Gateway, error) {
	switch cfg.PaymentProvider {
	case "omise":
		return gateway.NewOmise(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.Currency)
	default:
		return gateway.NewMercadoPago(cfg.MPBaseURL, cfg.MPAccessToken, cfg.ProviderTimeout), nil
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, "newstore-ledger", cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		MaxConns: cfg.DBMaxConns, ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := repository.NewStore(db)

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		slog.Warn("redis unavailable; rate limiting, response cache and shared price cache are off")
	} else {
		defer rdb.Close()
	}

	gw, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("payment gateway: %w", err)
	}

	var pub queue.Publisher = queue.Nop{}
	if cfg.RabbitURL != "" {
		rp, err := queue.NewRabbitPublisher(cfg.RabbitURL, queue.Exchange)
		if err != nil {
			slog.Warn("rabbitmq unavailable; domain events are dropped", "err", err)
		} else {
			defer rp.Close()
			pub = rp
			go queue.StartAuditConsumer(ctx, cfg.RabbitURL, queue.Exchange, cfg.LedgerLog)
		}
	}

	clk := clock.System{}
	prices := pricing.New(store, rdb, clk, cfg.PriceCacheTTL, cfg.TicketPriceCents)
	tasks := worker.NewTasks(ctx)

	var reservations *service.Reservations
	janitor := worker.NewLoop("reservation-janitor", cfg.JanitorInterval, func(ctx context.Context) error {
		_, err := reservations.SweepExpired(ctx)
		return err
	})
	reservations = service.NewReservations(store, clk, cfg.ReservationTTL, janitor.Kick)

	settlement := service.NewSettlement(store, gw, clk, pub, cfg.ProviderTimeout)
	checkout := service.NewCheckout(store, gw, prices, clk, service.CheckoutConfig{
		NotificationURL: cfg.NotificationURL,
		PixMinExpiry:    cfg.PixMinExpiry,
		Timeout:         cfg.ProviderTimeout,
	})
	vouchers := service.NewVouchers(store, clk, pub)
	autopay := service.NewAutopay(store, gw, prices, reservations, settlement, clk, pub, service.AutopayConfig{
		MaxNumbers:      cfg.AutopayMaxNumbers,
		NotificationURL: cfg.NotificationURL,
		Timeout:         cfg.ProviderTimeout,
	})
	sweeper := service.NewSweeper(store, settlement, clk, service.SweeperConfig{
		MinInterval: cfg.SweepMinInterval,
		Batch:       cfg.SweepBatch,
		Lookback:    cfg.SweepLookback,
	})
	draws := service.NewDraws(store, clk, pub, func(drawID int64) {
		tasks.Go(fmt.Sprintf("autopay draw %d", drawID), func(ctx context.Context) error {
			_, err := autopay.RunForDraw(ctx, drawID, false)
			return err
		})
	})
	sweepLoop := worker.NewLoop("payment-sweeper", cfg.SweepInterval, func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx, false)
		return err
	})
	go janitor.Run(ctx)
	go sweepLoop.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "requestId", v.RequestID}
			if v.Error != nil {
				slog.Error("request", append(attrs, "err", v.Error)...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	}))

	router.RegisterRoutes(e, store)
	router.RegisterPublic(e, handler.NewPublicHandler(draws, reservations), middleware.NewRedisCache(cfg.Cache, rdb))
	router.RegisterWebhook(e, handler.NewWebhookHandler(settlement, cfg.MPWebhookSecret, cfg.ProviderTimeout))
	router.RegisterCustomer(e,
		handler.NewCustomerHandler(reservations, checkout, settlement, vouchers, autopay),
		cfg.JWTSecret,
		middleware.NewTokenBucket(cfg.RateLimit, rdb),
		middleware.Kick(sweepLoop.Kick),
	)
	router.RegisterAdmin(e, handler.NewAdminHandler(draws, autopay, settlement, sweeper, vouchers, prices), cfg.JWTSecret)

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		slog.Info("listening", "addr", addr, "env", cfg.Env, "provider", cfg.PaymentProvider)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	if err := tasks.Wait(); err != nil {
		slog.Warn("background task failed", "err", err)
	}
	return nil
}
