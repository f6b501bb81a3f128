package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"veltrix/internal/config"
)

const maxConnectInterval = 10 * time.Second

type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

func Open(cfg config.DBConfig) (*DB, error) {
	gdb, err := gorm.Open(postgres.Open(cfg.DSN), gormConfig())
	if err != nil {
		return nil, err
	}
	return wrap(gdb, cfg)
}

// OpenWithRetry keeps dialing with exponential backoff until the database
// answers a ping or cfg.ConnectTimeout elapses.
func OpenWithRetry(ctx context.Context, cfg config.DBConfig, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxConnectInterval

	for attempt := 1; ; attempt++ {
		conn, err := Open(cfg)
		if err == nil {
			if err = Ping(ctx, conn); err == nil {
				return conn, nil
			}
			_ = Close(conn)
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxConnectInterval
		}
		log.Warn("database not ready", zap.Int("attempt", attempt), zap.Duration("retry_in", sleep), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect database after %d attempts: %w", attempt, err)
		case <-time.After(sleep):
		}
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        NowUTC,
	}
}

func wrap(gdb *gorm.DB, cfg config.DBConfig) (*DB, error) {
	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{Gorm: gdb, SQL: sqldb}, nil
}

func Close(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func Ping(ctx context.Context, db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.PingContext(ctx)
}

func SetTimezone(db *DB, tz string) error {
	if tz == "" {
		return nil
	}
	_, err := db.SQL.Exec("SET TIME ZONE '" + tz + "'")
	return err
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
