package alarming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arequipa/aire-server/internal/alerts"
	"github.com/arequipa/aire-server/internal/metrics"
)

// redisKV is the subset of the Redis client used by the cache
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RecentAlertCache remembers the latest alert per user, type and
// pollutant for the length of the dedup window
type RecentAlertCache struct {
	redis  redisKV
	window time.Duration
	now    func() time.Time
}

// NewRecentAlertCache creates a cache whose entries expire after window
func NewRecentAlertCache(client redisKV, window time.Duration) *RecentAlertCache {
	return &RecentAlertCache{redis: client, window: window, now: time.Now}
}

func recentKey(userID int64, alertType alerts.Type, pollutant string) string {
	return fmt.Sprintf("alert_recent:%d:%s:%s", userID, alertType, pollutant)
}

// Get returns the cached alert, or nil when there is none
func (c *RecentAlertCache) Get(ctx context.Context, userID int64, alertType alerts.Type, pollutant string) (*alerts.Record, error) {
	data, err := c.redis.Get(ctx, recentKey(userID, alertType, pollutant)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recent alert from Redis: %w", err)
	}

	var rec alerts.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recent alert: %w", err)
	}
	return &rec, nil
}

// Remember caches a stored alert until its dedup window closes
func (c *RecentAlertCache) Remember(ctx context.Context, rec alerts.Record) error {
	ttl := c.window - c.now().Sub(rec.CreatedAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recent alert: %w", err)
	}

	if err := c.redis.Set(ctx, recentKey(rec.UserID, rec.Type, rec.Pollutant), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set recent alert in Redis: %w", err)
	}
	return nil
}

// Lookup answers from the cache and falls back to store on a miss or
// a Redis failure
func (c *RecentAlertCache) Lookup(store alerts.Lookup) alerts.Lookup {
	return alerts.LookupFunc(func(ctx context.Context, userID int64, alertType alerts.Type, pollutant string, since time.Time) ([]alerts.Record, error) {
		rec, err := c.Get(ctx, userID, alertType, pollutant)
		switch {
		case err != nil:
			metrics.DedupCacheTotal.WithLabelValues("error").Inc()
		case rec != nil && !rec.CreatedAt.Before(since):
			metrics.DedupCacheTotal.WithLabelValues("hit").Inc()
			return []alerts.Record{*rec}, nil
		default:
			metrics.DedupCacheTotal.WithLabelValues("miss").Inc()
		}
		return store.FindSimilarAlerts(ctx, userID, alertType, pollutant, since)
	})
}
