package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"MarketLedger/internal/observability"
)

// MarketCache is a Redis read-through cache for market queries. It degrades
// gracefully: any Redis failure is treated as a miss and the query falls
// through to Postgres.
type MarketCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewMarketCache(rdb *redis.Client, ttl time.Duration, metrics *observability.Metrics) *MarketCache {
	return &MarketCache{
		rdb:     rdb,
		ttl:     ttl,
		log:     observability.NewLogger("market-cache"),
		metrics: metrics,
	}
}

func marketKey(marketID int64) string {
	return fmt.Sprintf("market:%d", marketID)
}

// Get returns the cached market, or (nil, false) on miss or error.
func (c *MarketCache) Get(ctx context.Context, marketID int64) (*MarketResponse, bool) {
	data, err := c.rdb.Get(ctx, marketKey(marketID)).Bytes()
	if err == redis.Nil {
		c.record("miss")
		return nil, false
	}
	if err != nil {
		c.log.Warn().Err(err).Int64("market_id", marketID).Msg("cache read failed")
		c.record("error")
		return nil, false
	}

	var m MarketResponse
	if err := json.Unmarshal(data, &m); err != nil {
		c.log.Warn().Err(err).Int64("market_id", marketID).Msg("cache entry corrupt")
		c.record("error")
		return nil, false
	}

	c.record("hit")
	return &m, true
}

// Set stores the market with the configured TTL. Failures are logged and
// ignored.
func (c *MarketCache) Set(ctx context.Context, m *MarketResponse) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, marketKey(m.MarketID), data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Int64("market_id", m.MarketID).Msg("cache write failed")
		c.record("error")
	}
}

// Invalidate drops the cached entry after a state change.
func (c *MarketCache) Invalidate(ctx context.Context, marketID int64) {
	if err := c.rdb.Del(ctx, marketKey(marketID)).Err(); err != nil {
		c.log.Warn().Err(err).Int64("market_id", marketID).Msg("cache invalidation failed")
	}
}

func (c *MarketCache) record(outcome string) {
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues(outcome).Inc()
	}
}
