package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fanpredict/marketd/internal/domain"
)

// marketTTL keeps cached snapshots short-lived: quotes computed from a stale
// pool are still advisory, but a fresh snapshot keeps UI and server agreeing.
const marketTTL = 30 * time.Second

// MarketCache implements domain.MarketCache with JSON-serialized market
// snapshots under market:{address}.
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(address string) string {
	return "market:" + strings.ToLower(address)
}

// Set stores a market snapshot with the cache TTL.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.Address.Hex(), err)
	}
	if err := mc.rdb.Set(ctx, marketKey(market.Address.Hex()), data, marketTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.Address.Hex(), err)
	}
	return nil
}

// Get retrieves a market snapshot by address. It returns domain.ErrNotFound
// when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, address string) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", address, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", address, err)
	}
	return market, nil
}

// Invalidate removes a market snapshot, forcing the next read through to the
// ledger. Called after every pool-changing commit.
func (mc *MarketCache) Invalidate(ctx context.Context, address string) error {
	if err := mc.rdb.Del(ctx, marketKey(address)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", address, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
