package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("event bus closed")

// MemoryBus delivers in process. A subscriber whose buffer is full misses the
// event rather than stalling the publisher.
type MemoryBus struct {
	buffer int

	mu      sync.RWMutex
	subs    map[string]map[uint64]*subscriber
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBus{buffer: buffer, subs: map[string]map[uint64]*subscriber{}}
}

func (b *MemoryBus) Publish(_ context.Context, evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.subs[evt.UserID] {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, userID string) (<-chan Event, func(), error) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrClosed
	}
	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = map[uint64]*subscriber{}
	}
	b.subs[userID][id] = sub
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		b.remove(userID, id)
	}()
	return sub.ch, cancel, nil
}

func (b *MemoryBus) remove(userID string, id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[userID][id]
	if ok {
		delete(b.subs[userID], id)
		if len(b.subs[userID]) == 0 {
			delete(b.subs, userID)
		}
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Dropped reports events lost to full subscriber buffers.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for userID, subs := range b.subs {
		for id, sub := range subs {
			sub.close()
			delete(subs, id)
		}
		delete(b.subs, userID)
	}
	return nil
}
