package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market snapshot lookups for quote display.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, address string) (Market, error)
	Invalidate(ctx context.Context, address string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking, used to serialize concurrent
// reconciliation passes over the same question.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries settlement events between components: pub/sub for live
// fan-out and streams for durable, ordered delivery.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
