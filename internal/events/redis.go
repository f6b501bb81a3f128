package events

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus publishes on one pub/sub channel per user so every API replica
// can serve any user's websocket.
type RedisBus struct {
	Client *redis.Client
	Prefix string
	Buffer int
	Logger *zap.Logger
}

func (b *RedisBus) channel(userID string) string {
	return b.Prefix + userID
}

func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.Client.Publish(ctx, b.channel(evt.UserID), payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, userID string) (<-chan Event, func(), error) {
	ps := b.Client.Subscribe(ctx, b.channel(userID))
	// Receive blocks until the subscription is confirmed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	buffer := b.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan Event, buffer)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					if b.Logger != nil {
						b.Logger.Warn("drop malformed event", zap.String("channel", msg.Channel), zap.Error(err))
					}
					continue
				}
				select {
				case out <- evt:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}

func (b *RedisBus) Close() error {
	return nil
}
