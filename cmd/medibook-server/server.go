package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain/identity"
	"github.com/medibook/medibook/internal/domain/inbox"
	"github.com/medibook/medibook/internal/domain/prescription"
	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/assistant"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/blobstore"
	"github.com/medibook/medibook/internal/platform/db"
	"github.com/medibook/medibook/internal/platform/events"
	"github.com/medibook/medibook/internal/platform/lock"
	"github.com/medibook/medibook/internal/platform/metrics"
	"github.com/medibook/medibook/internal/platform/middleware"
	"github.com/medibook/medibook/internal/platform/speech"
)

const version = "0.1.0"

// deps holds the services shared by the server and the one-shot commands.
type deps struct {
	loc           *time.Location
	tokens        *auth.TokenIssuer
	revocations   auth.RevocationList
	identity      *identity.Service
	inbox         *inbox.Service
	bookings      *scheduling.Service
	prescriptions *prescription.Service
	blobs         blobstore.BlobStore
	analyzer      assistant.TextGenerator
	closers       []func() error
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger, bm *metrics.BookingMetrics) (*deps, error) {
	d := &deps{}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	d.loc = loc

	txRunner := db.NewTxRunner(pool)
	d.tokens = auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTTTL)

	d.identity = identity.NewService(identity.NewUserRepoPG(pool), identity.NewDoctorRepoPG(pool),
		txRunner, d.tokens, logger.With().Str("component", "identity").Logger())
	d.inbox = inbox.NewService(inbox.NewNotificationRepoPG(pool), logger.With().Str("component", "inbox").Logger())

	// Booking critical sections and logged-out tokens
	var locker lock.Locker = lock.NewLocal()
	d.revocations = auth.NewMemoryRevocationList()
	if cfg.UseRedisLock() {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, client.Close)
		locker = lock.NewRedisLocker(client, cfg.LockTTL)
		d.revocations = auth.NewRedisRevocationList(client)
		logger.Info().Msg("using redis booking lock")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		p, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, p.Close)
		publisher = p
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing booking events")
	}

	d.bookings = scheduling.NewService(
		scheduling.NewWindowRepoPG(pool),
		scheduling.NewBookingRepoPG(pool),
		doctorDirectory{svc: d.identity},
		inboxNotifier{svc: d.inbox},
		scheduling.WithLocker(locker),
		scheduling.WithTxRunner(txRunner),
		scheduling.WithPublisher(publisher),
		scheduling.WithMetrics(bm),
		scheduling.WithLogger(logger.With().Str("component", "scheduling").Logger()),
	)

	// Prescription files and speech audio
	switch cfg.BlobBackend {
	case "minio":
		store, err := blobstore.NewMinioBlobStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.blobs = store
	default:
		d.blobs = blobstore.NewInMemoryBlobStore()
	}

	d.analyzer = assistant.NewOllamaClient(cfg.AssistantURL, cfg.AssistantModel)
	d.prescriptions = prescription.NewService(prescription.NewRepoPG(pool), d.bookings, d.blobs, d.analyzer,
		logger.With().Str("component", "prescription").Logger())
	return d, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bm := metrics.NewBookingMetrics(reg)

	d, err := buildDeps(ctx, cfg, pool, logger, bm)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	defer d.Close()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.HeaderPolicy{HSTS: !cfg.IsDev()}))
	e.Use(bm.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Auth middleware
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:      cfg.JWTIssuer,
		SigningKey:  []byte(cfg.JWTSecret),
		Skipper:     auth.AuthSkipper,
		Revocations: d.revocations,
	}))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.NewReadiness(pool, db.NewMigrator(pool, migrationSource(cfg.MigrationsDir)), cfg.DBSchema).Handler())
	e.GET("/metrics", metrics.Handler(reg))

	// API
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	identity.NewHandler(d.identity).RegisterRoutes(apiV1)
	apiV1.POST("/auth/logout", auth.LogoutHandler(d.revocations), auth.RequireAuthenticated())
	scheduling.NewHandler(d.bookings, d.loc).RegisterRoutes(apiV1)
	inbox.NewHandler(d.inbox).RegisterRoutes(apiV1)
	prescription.NewHandler(d.prescriptions).RegisterRoutes(apiV1)
	assistant.NewHandler(d.analyzer, logger).RegisterRoutes(apiV1)
	speech.NewHandler(speech.NewWhisperClient(cfg.STTURL), speech.NewTTSClient(cfg.TTSURL), d.blobs, logger).RegisterRoutes(apiV1)

	// Status sweeper
	go d.bookings.Sweeper().Start(ctx, cfg.SweepInterval)
	logger.Info().Dur("interval", cfg.SweepInterval).Msg("booking sweeper started")

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
