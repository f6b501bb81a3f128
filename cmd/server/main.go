package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"veltrix/internal/auth"
	"veltrix/internal/config"
	cronrunner "veltrix/internal/cron"
	"veltrix/internal/handler"
	"veltrix/internal/logger"
	"veltrix/internal/service"
	"veltrix/internal/telemetry"

	_ "veltrix/docs"
)

func main() {
	cfgPath := os.Getenv("VX_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("VX_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meterProvider, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("telemetry init failed", zap.Error(err))
	}
	metrics, err := telemetry.NewMetrics(meterProvider)
	if err != nil {
		logger.Fatal("metrics init failed", zap.Error(err))
	}

	store, closeStore, err := openRepository(ctx, cfg.DB, logger)
	if err != nil {
		logger.Fatal("repository open failed", zap.Error(err))
	}
	defer closeStore()

	redisClient, err := openRedis(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("redis connect failed", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus := newEventBus(cfg.Events, redisClient, logger)
	defer bus.Close()

	strategySvc := &service.StrategyService{
		Repo:         store,
		Events:       bus,
		Logger:       logger,
		Metrics:      metrics,
		SingleActive: cfg.Lifecycle.SingleActive,
		HistoryLimit: cfg.Lifecycle.HistoryLimit,
	}
	brokerSvc := &service.BrokerAccountService{Repo: store, Logger: logger}

	analysisCache, sweepCache := newCache(cfg.Cache, redisClient)
	aiSvc, limiter, err := newAIService(cfg.AI, strategySvc, analysisCache, metrics, logger)
	if err != nil {
		logger.Fatal("ai init failed", zap.Error(err))
	}

	cronRunner := cronrunner.New(logger, ctx)
	if _, err := cronRunner.Add("strategy_expiry", cfg.Lifecycle.ExpirySweep, time.Minute, func(ctx context.Context) error {
		_, err := strategySvc.ExpireElapsed(ctx, time.Now().UTC())
		return err
	}); err != nil {
		logger.Fatal("schedule expiry sweep failed", zap.Error(err))
	}
	if _, err := cronRunner.Add("ai_limiter_prune", cfg.AI.LimiterPruneSpec, 0, func(context.Context) error {
		if n := limiter.Prune(cfg.AI.LimiterIdleTTL); n > 0 {
			logger.Debug("pruned idle ai limiters", zap.Int("count", n))
		}
		return nil
	}); err != nil {
		logger.Fatal("schedule limiter prune failed", zap.Error(err))
	}
	if sweepCache != nil {
		if _, err := cronRunner.Add("cache_sweep", cfg.AI.LimiterPruneSpec, 0, func(context.Context) error {
			sweepCache()
			return nil
		}); err != nil {
			logger.Fatal("schedule cache sweep failed", zap.Error(err))
		}
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handler.Router{
		JWT: auth.JWT{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Issuer:   cfg.Auth.Issuer,
			TokenTTL: cfg.Auth.TokenTTL,
		},
		Logger:         logger,
		Metrics:        metrics,
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.CORS.AllowedOrigins,
		Health:         &handler.HealthHandler{Store: store, StartedAt: time.Now(), StorageLabel: cfg.DB.Driver},
		Strategies:     &handler.StrategyHandler{Service: strategySvc},
		Brokers:        &handler.BrokerAccountHandler{Service: brokerSvc},
		AI:             &handler.AIHandler{Service: aiSvc},
		Events:         &handler.EventsHandler{Bus: bus, Logger: logger, OriginPatterns: originPatterns(cfg.CORS.AllowedOrigins)},
	}
	engine := router.Engine()
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	cronRunner.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	cronRunner.Stop()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}
