package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/metrics"
	"github.com/modalbot/backend/pkg/logger"
	"github.com/modalbot/backend/pkg/utils"
)

type Client struct {
	client  *redis.Client
	toolTTL time.Duration
}

func NewClient(host string, port int, password string, db int, toolTTL time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, toolTTL: toolTTL}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Get implements the tool-output cache. Misses and transport errors both
// report a miss; a flaky cache must never fail a tool call.
func (c *Client) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("tool").Inc()
		return "", false
	}
	if err != nil {
		logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		metrics.CacheMisses.WithLabelValues("tool").Inc()
		return "", false
	}

	metrics.CacheHits.WithLabelValues("tool").Inc()
	return val, true
}

func (c *Client) Set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, key, value, c.toolTTL).Err(); err != nil {
		logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// SetEmbedding caches a prompt embedding so repeated retrieval fan-outs for
// the same text skip the embedding call.
func (c *Client) SetEmbedding(ctx context.Context, text string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	key := "embedding:" + utils.HashString(text)
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("key", key))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, text string) ([]float32, bool, error) {
	key := "embedding:" + utils.HashString(text)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	metrics.CacheHits.WithLabelValues("embedding").Inc()
	return embedding, true, nil
}
