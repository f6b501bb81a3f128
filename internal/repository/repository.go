package repository

import (
	"context"
	"errors"

	"veltrix/internal/models"
)

var (
	// ErrNotFound is returned by mutations whose target is absent or owned by
	// another user. Reads return a nil item instead.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate signals a unique index violation.
	ErrDuplicate = errors.New("duplicate record")
	// ErrUnavailable is returned when the store has no backing connection.
	ErrUnavailable = errors.New("store unavailable")
)

// StrategyStore persists strategies. Every read and write filters by owner so
// a foreign id behaves exactly like a missing one.
type StrategyStore interface {
	InsertStrategy(ctx context.Context, item *models.Strategy) error
	GetStrategy(ctx context.Context, userID, id string) (*models.Strategy, error)
	ListStrategiesByUser(ctx context.Context, userID string) ([]models.Strategy, error)
	ListStrategiesByLineage(ctx context.Context, userID, lineageID string) ([]models.Strategy, error)
	// LockLineageMaxVersion serializes versioning of one lineage until the
	// surrounding transaction ends and returns its highest version.
	LockLineageMaxVersion(ctx context.Context, lineageID string) (int, error)
	UpdateStrategyFields(ctx context.Context, userID, id string, updates map[string]any) error
	DeleteStrategy(ctx context.Context, userID, id string) error
	CountActiveStrategies(ctx context.Context, userID, excludeID string) (int64, error)
	ListActiveStrategies(ctx context.Context) ([]models.Strategy, error)
}

// ParameterStore persists strategy parameters. Inserts and deletes check the
// parent strategy belongs to userID.
type ParameterStore interface {
	InsertParameter(ctx context.Context, userID string, item *models.StrategyParameter) error
	GetParameter(ctx context.Context, userID, id string) (*models.StrategyParameter, error)
	ListParameters(ctx context.Context, userID, strategyID string) ([]models.StrategyParameter, error)
	DeleteParameter(ctx context.Context, userID, id string) error
	DeleteParametersByStrategy(ctx context.Context, strategyID string) (int64, error)
	CopyParameters(ctx context.Context, fromStrategyID, toStrategyID string) (int64, error)
}

type BrokerAccountStore interface {
	InsertBrokerAccount(ctx context.Context, item *models.BrokerAccount) error
	GetBrokerAccount(ctx context.Context, userID, id string) (*models.BrokerAccount, error)
	ListBrokerAccounts(ctx context.Context, userID string) ([]models.BrokerAccount, error)
	UpdateBrokerAccountFields(ctx context.Context, userID, id string, updates map[string]any) error
	DeleteBrokerAccount(ctx context.Context, userID, id string) error
}

type EventStore interface {
	InsertStrategyEvent(ctx context.Context, item *models.StrategyEvent) error
	ListStrategyEvents(ctx context.Context, userID, lineageID string, limit int) ([]models.StrategyEvent, error)
}

type Repository interface {
	StrategyStore
	ParameterStore
	BrokerAccountStore
	EventStore

	// InTx runs fn against a transaction-bound Repository. A nil return
	// commits, any error rolls back.
	InTx(ctx context.Context, fn func(tx Repository) error) error
	Ping(ctx context.Context) error
}
