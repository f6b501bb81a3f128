package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"veltrix/internal/aidraft"
	"veltrix/internal/cache"
	"veltrix/internal/client/llm"
	"veltrix/internal/config"
	"veltrix/internal/db"
	"veltrix/internal/events"
	"veltrix/internal/ratelimit"
	"veltrix/internal/repository"
	gormrepository "veltrix/internal/repository/gorm"
	memoryrepository "veltrix/internal/repository/memory"
	"veltrix/internal/service"
	"veltrix/internal/telemetry"
)

func openRepository(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (repository.Repository, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory repository; data is lost on restart")
		return memoryrepository.New(), func() {}, nil
	}

	conn, err := db.OpenWithRetry(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.SetTimezone(conn, cfg.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(conn); err != nil {
			_ = db.Close(conn)
			return nil, nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}
	return gormrepository.New(conn.Gorm), func() { _ = db.Close(conn) }, nil
}

// openRedis connects only when a backend asks for redis.
func openRedis(ctx context.Context, cfg config.Config, logger *zap.Logger) (*redis.Client, error) {
	if cfg.Cache.Backend != "redis" && cfg.Events.Backend != "redis" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	return client, nil
}

func newEventBus(cfg config.EventsConfig, client *redis.Client, logger *zap.Logger) events.Bus {
	if cfg.Backend == "redis" && client != nil {
		return &events.RedisBus{Client: client, Prefix: cfg.ChannelPrefix, Buffer: cfg.Buffer, Logger: logger}
	}
	return events.NewMemoryBus(cfg.Buffer)
}

// newCache returns the store and, for the memory backend, its sweep func.
func newCache(cfg config.CacheConfig, client *redis.Client) (cache.Store, func()) {
	if cfg.Backend == "redis" && client != nil {
		return cache.Prefixed{Prefix: cfg.KeyPrefix, Store: cache.NewRedisStore(client)}, nil
	}
	mem := cache.NewMemoryStore()
	return mem, func() { mem.Sweep() }
}

func newAIService(cfg config.AIConfig, strategies *service.StrategyService, store cache.Store, metrics *telemetry.Metrics, logger *zap.Logger) (*service.AIService, *ratelimit.Keyed, error) {
	funds, err := decimal.NewFromString(strings.TrimSpace(cfg.DefaultDraftFunds))
	if err != nil {
		return nil, nil, fmt.Errorf("ai.default_draft_funds: %w", err)
	}
	limiter := ratelimit.PerMinute(cfg.RatePerMinute, cfg.Burst)
	svc := &service.AIService{
		Strategies: strategies,
		Limiter:    limiter,
		Cache:      store,
		CacheTTL:   cfg.AnalysisCacheTTL,
		DraftFunds: funds,
		Logger:     logger,
	}
	if cfg.Provider == "" {
		logger.Info("ai provider not configured; ai routes answer 502")
		return svc, limiter, nil
	}
	completer, err := llm.New(cfg.Provider, llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, nil, err
	}
	svc.Producer = &aidraft.Producer{
		Completer: completer,
		Timeout:   cfg.Timeout,
		Logger:    logger,
		Metrics:   metrics,
	}
	return svc, limiter, nil
}

// originPatterns turns CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
