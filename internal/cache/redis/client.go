package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/model-bridge/backend/internal/storage/models"
	"github.com/model-bridge/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	_, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func experimentKey(id string) string {
	return fmt.Sprintf("experiment:%s", id)
}

func assignmentsKey(id string) string {
	return fmt.Sprintf("assignments:%s", id)
}

func (c *Client) SetExperiment(ctx context.Context, exp *models.Experiment, ttl time.Duration) error {
	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to marshal experiment: %w", err)
	}

	err = c.client.Set(ctx, experimentKey(exp.ID), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set experiment cache: %w", err)
	}

	logger.Debug("Experiment cached", zap.String("experiment_id", exp.ID), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetExperiment(ctx context.Context, id string) (*models.Experiment, bool, error) {
	data, err := c.client.Get(ctx, experimentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get experiment cache: %w", err)
	}

	var exp models.Experiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal experiment: %w", err)
	}

	logger.Debug("Experiment cache hit", zap.String("experiment_id", id))
	return &exp, true, nil
}

func (c *Client) InvalidateExperiment(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, experimentKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate experiment cache: %w", err)
	}
	return nil
}

// IncrementAssignment bumps the per-variant assignment counter of an experiment.
func (c *Client) IncrementAssignment(ctx context.Context, experimentID, variant string) error {
	return c.client.HIncrBy(ctx, assignmentsKey(experimentID), variant, 1).Err()
}

func (c *Client) AssignmentCounts(ctx context.Context, experimentID string) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, assignmentsKey(experimentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment counts: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for variant, v := range raw {
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			logger.Warn("Ignoring malformed assignment counter",
				zap.String("experiment_id", experimentID),
				zap.String("variant", variant),
			)
			continue
		}
		counts[variant] = n
	}
	return counts, nil
}
