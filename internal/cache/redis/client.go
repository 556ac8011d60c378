package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opencoding/backend/internal/metrics"
	"github.com/opencoding/backend/pkg/logger"
)

// Client caches per-user annotation stats. The cache is optional: a nil
// *Client is valid and every method becomes a no-op, so the API runs
// unchanged when no Redis address is configured.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(addr, password string, db int, statsTTL time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{client: client, ttl: statsTTL}, nil
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) SetStats(ctx context.Context, userID string, stats interface{}) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	err = c.client.Set(ctx, statsKey(userID), data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set stats cache: %w", err)
	}

	logger.Debug("Stats cached", zap.String("user_id", userID), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) GetStats(ctx context.Context, userID string, stats interface{}) (bool, error) {
	if c == nil {
		return false, nil
	}

	data, err := c.client.Get(ctx, statsKey(userID)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("stats").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get stats cache: %w", err)
	}

	err = json.Unmarshal(data, stats)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal stats: %w", err)
	}

	metrics.CacheHits.WithLabelValues("stats").Inc()
	return true, nil
}

// InvalidateStats drops the cached stats for a user. Called after every
// annotation write so the stats endpoint never serves a stale rate for
// longer than one request.
func (c *Client) InvalidateStats(ctx context.Context, userID string) error {
	if c == nil {
		return nil
	}

	err := c.client.Del(ctx, statsKey(userID)).Err()
	if err != nil {
		return fmt.Errorf("failed to invalidate stats cache: %w", err)
	}
	return nil
}

func statsKey(userID string) string {
	return fmt.Sprintf("stats:%s", userID)
}
