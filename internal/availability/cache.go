package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// BusyCache is a short-TTL redis cache over successful busy-interval lookups.
// It only ever serves the list path; a miss or any redis error falls through
// to the provider. Provider errors are never cached.
type BusyCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

const defaultCacheTTL = 30 * time.Second

func NewBusyCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *BusyCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BusyCache{rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(from, to time.Time) string {
	return fmt.Sprintf("busy:%s|%s",
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
}

func (c *BusyCache) Get(ctx context.Context, from, to time.Time) ([]Interval, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(from, to)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("busy cache read failed", "err", err)
		}
		return nil, false
	}
	var out []Interval
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("busy cache decode failed", "err", err)
		return nil, false
	}
	return out, true
}

func (c *BusyCache) Set(ctx context.Context, from, to time.Time, intervals []Interval) {
	raw, err := json.Marshal(intervals)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(from, to), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("busy cache write failed", "err", err)
	}
}
