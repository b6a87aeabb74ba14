package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/app"
	"github.com/iliyamo/table-booking-session/internal/availability"
	"github.com/iliyamo/table-booking-session/internal/changefeed"
	"github.com/iliyamo/table-booking-session/internal/config"
	"github.com/iliyamo/table-booking-session/internal/database"
	"github.com/iliyamo/table-booking-session/internal/handler"
	"github.com/iliyamo/table-booking-session/internal/lifecycle"
	"github.com/iliyamo/table-booking-session/internal/middleware"
	"github.com/iliyamo/table-booking-session/internal/queue"
	"github.com/iliyamo/table-booking-session/internal/repository"
	"github.com/iliyamo/table-booking-session/internal/router"
	"github.com/iliyamo/table-booking-session/internal/session"
	"github.com/iliyamo/table-booking-session/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// the logger is not configured yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting disabled and drafts are not shared between instances")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	kv, closeKV, err := draftBackend(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal("draft backend", zap.Error(err))
	}
	defer closeKV()

	var bus changefeed.Bus = changefeed.NewLocalBus()
	if rdb != nil {
		rb := changefeed.NewRedisBus(rdb, cfg.ChangeChannel, logger.Named("changefeed"))
		<-rb.Run(ctx)
		bus = rb
	}

	client := upstream.NewClient(cfg.UpstreamURL, cfg.UpstreamTimeout, logger.Named("upstream"))
	mgr := session.NewManager(session.Config{
		DraftTTL:  cfg.DraftTTL,
		KeyPrefix: cfg.DraftKeyPrefix,
		Location:  cfg.Timezone,
		Lifecycle: lifecycle.Config{
			PollInterval:  cfg.PollInterval,
			Tick:          cfg.CountdownTick,
			MaxCodeLength: cfg.OTPCodeLength,
		},
		IdleTimeout: cfg.SessionIdle,
	}, kv, bus, client, logger.Named("session"))
	go mgr.Run(ctx, time.Minute)

	catalog := session.NewCatalog(client, logger.Named("catalog"))
	dispatcher := session.NewDispatcher(mgr, catalog, logger.Named("events"))

	sub, err := eventSubscriber(cfg, logger)
	if err != nil {
		logger.Warn("real-time events disabled; payment status relies on polling", zap.Error(err))
		sub = queue.Nop{}
	}
	defer func() { _ = sub.Close() }()
	go func() {
		if err := sub.Run(ctx, dispatcher.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event subscriber stopped", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.RegisterRoutes(e, mgr, router.Handlers{
		Draft:        handler.NewDraftHandler(),
		Availability: handler.NewAvailabilityHandler(catalog, availability.Engine{Duration: cfg.DefaultDuration, Location: cfg.Timezone}, logger.Named("http")),
		Reservation:  handler.NewReservationHandler(catalog, handler.DefaultMaxSlipSize, logger.Named("http")),
		Stream:       handler.NewStreamHandler(0, logger.Named("stream")),
	}, router.Options{
		ProfileCookie: cfg.ProfileCookie,
		SecureCookie:  cfg.IsProduction(),
		JWTSecret:     cfg.JWTSecret,
		CodeLimiter:   middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger.Named("ratelimit")),
		Log:           logger.Named("identity"),
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("draft_backend", cfg.DraftBackend))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}

// draftBackend opens the configured draft store.  Redis falls back to
// memory when the server is down.
func draftBackend(ctx context.Context, cfg config.Config, rdb *redis.Client, log *zap.Logger) (repository.KV, func(), error) {
	switch cfg.DraftBackend {
	case config.BackendRedis:
		if rdb != nil {
			return repository.NewRedisKV(rdb), func() {}, nil
		}
		log.Warn("DRAFT_BACKEND=redis but redis is unavailable; using memory")
	case config.BackendMySQL:
		db, err := database.Open(ctx, cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
		if err != nil {
			return nil, nil, err
		}
		mg, err := app.NewMigrator(db, log.Named("migrate"))
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := mg.Run(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repository.NewSQLKV(db), func() { _ = db.Close() }, nil
	}
	return repository.NewMemoryKV(), func() {}, nil
}

func eventSubscriber(cfg config.Config, log *zap.Logger) (queue.Subscriber, error) {
	switch cfg.EventsTransport {
	case config.TransportAMQP:
		return queue.NewAMQPSubscriber(cfg.AMQPURL, cfg.AMQPExchange, log.Named("amqp")), nil
	case config.TransportNATS:
		return queue.NewNATSSubscriber(cfg.NATSURL, cfg.NATSPrefix, log.Named("nats"))
	}
	return queue.Nop{}, nil
}
