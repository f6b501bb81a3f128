// Package events fans strategy lifecycle changes out to live subscribers.
package events

import (
	"context"
	"time"
)

type Type string

const (
	StrategyCreated     Type = "strategy.created"
	StrategyActivated   Type = "strategy.activated"
	StrategyDeactivated Type = "strategy.deactivated"
	StrategyExpired     Type = "strategy.expired"
	StrategyVersioned   Type = "strategy.versioned"
	StrategyDeleted     Type = "strategy.deleted"
	ParameterAdded      Type = "parameter.added"
	ParameterRemoved    Type = "parameter.removed"
)

type Event struct {
	Type       Type           `json:"type"`
	UserID     string         `json:"user_id"`
	StrategyID string         `json:"strategy_id"`
	LineageID  string         `json:"lineage_id"`
	Version    int            `json:"version"`
	IsActive   bool           `json:"is_active"`
	Detail     map[string]any `json:"detail,omitempty"`
	At         time.Time      `json:"at"`
}

// Bus delivers events to the subscribers of the event's owner. Subscribers
// never see another user's events.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe returns a channel that is closed when ctx ends or the
	// returned cancel func is called.
	Subscribe(ctx context.Context, userID string) (<-chan Event, func(), error)
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Subscribe(ctx context.Context, _ string) (<-chan Event, func(), error) {
	ch := make(chan Event)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, cancel, nil
}

func (Nop) Close() error { return nil }
