package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quotekeeper/internal/bot"
	"quotekeeper/internal/cache"
	"quotekeeper/internal/config"
	"quotekeeper/internal/db"
	"quotekeeper/internal/handler"
	"quotekeeper/internal/health"
	"quotekeeper/internal/job"
	"quotekeeper/internal/logging"
	"quotekeeper/internal/provider"
	"quotekeeper/internal/repository"
	"quotekeeper/internal/resilience"
	"quotekeeper/internal/service"
	"quotekeeper/internal/stats"
	"quotekeeper/internal/validator"
	"quotekeeper/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "quotekeeper/docs"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initTracerFunc         = tracing.InitTracer
	newCacheFunc           = cache.New
	newPoolFunc            = db.NewPool
	newBotFunc             = bot.New
	startPollerFunc        = func(p *job.HealthPoller, ctx context.Context) { go p.Start(ctx) }
	newRouterFunc          = func() *gin.Engine { return gin.New() }
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Quotekeeper API
// @version         1.0
// @description     Resilient multi-source crypto quote service.

// @host      localhost:8080
// @BasePath  /
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracer")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	// Redis is optional; without it the service loses its fallback cache
	// but still serves live quotes.
	store, err := newCacheFunc(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, cache fallback disabled")
		store = nil
	}

	// Postgres is optional; without it critical failures are not persisted.
	var errorEvents *repository.ErrorEventRepository
	if cfg.DatabaseURL != "" {
		pool, err := newPoolFunc(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn().Err(err).Msg("postgres unavailable, error persistence disabled")
		} else {
			defer pool.Close()
			errorEvents = repository.NewErrorEventRepository(pool, tracer)
			if err := errorEvents.RunMigrations(ctx); err != nil {
				logger.Fatal().Err(err).Msg("failed to run migrations")
			}
		}
	}

	coingecko := provider.NewCoinGecko(tracer)
	binance := provider.NewBinance(tracer)
	coinpaprika := provider.NewCoinPaprika(tracer)

	targets := []health.Target{
		{Name: "coingecko", Probe: coingecko.Ping},
		{Name: "binance", Probe: binance.Ping},
		{Name: "coinpaprika", Probe: coinpaprika.Ping},
	}
	if store != nil {
		targets = append(targets, health.Target{Name: "redis", Probe: store.Ping})
	}
	checker := health.NewChecker(
		time.Duration(cfg.HealthCacheTTLSecs)*time.Second,
		time.Duration(cfg.HealthDegradedMs)*time.Millisecond,
		logger,
		targets...,
	)

	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: int32(cfg.BreakerFailureThreshold),
		ResetTimeout:     time.Duration(cfg.BreakerResetTimeoutMs) * time.Millisecond,
		HalfOpenTrials:   int32(cfg.BreakerHalfOpenTrials),
	}, logger)

	statsRegistry := stats.NewRegistry(breakers, checker)
	executor := resilience.NewExecutor(logger, statsRegistry)

	deps := service.Deps{
		Tracer:   tracer,
		Logger:   logger,
		Breakers: breakers,
		Retry:    executor,
		RetryConfig: resilience.RetryConfig{
			MaxAttempts:  cfg.RetryMaxAttempts,
			BaseDelay:    time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
			JitterFactor: cfg.RetryJitterFactor,
		},
		Validator: validator.New(cfg.PriceVarianceThreshold),
		Providers: []provider.Registration{
			{Adapter: coingecko, Priority: 1},
			{Adapter: binance, Priority: 2},
			{Adapter: coinpaprika, Priority: 3},
		},
	}
	if store != nil {
		deps.Cache = store
	}
	if errorEvents != nil {
		deps.ErrorEvents = errorEvents
	}
	quoteService := service.NewQuoteService(deps)

	tgBot, err := newBotFunc(cfg.TelegramBotToken, cfg.TelegramAlertChatID, quoteService, checker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create telegram bot")
	}
	if tgBot != nil {
		quoteService.SetAlerter(tgBot)
		go tgBot.Start()
		defer tgBot.Stop()
	}

	poller := job.NewHealthPoller(tracer, logger, checker, cfg.HealthPollSecs)
	startPollerFunc(poller, ctx)

	h := handler.New(tracer, quoteService, checker, statsRegistry)

	r := newRouterFunc()
	r.Use(gin.Recovery())
	r.Use(handler.RequestLogger(logger))
	r.Use(otelgin.Middleware("quotekeeper"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen failed")
		}
	}()
	logger.Info().Str("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	logger.Info().Msg("shutting down server")

	cancel()
	statsRegistry.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis client")
		}
	}

	logger.Info().Msg("server exiting")
}
