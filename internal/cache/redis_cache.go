package cache

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/bffless/bffless/internal/domain"
)

type redisCache struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisCache constructs a Redis backed metadata cache. Failures degrade to
// cache misses; the database remains the source of truth.
func NewRedisCache(addr, password string, db int, logger *slog.Logger) (MetadataCache, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisCache{
		client:  client,
		logger:  logger,
		prefix:  "bffless:",
		timeout: 250 * time.Millisecond,
	}, nil
}

func (c *redisCache) Get(ctx context.Context, projectID, commitSHA, publicPath string) (*domain.Asset, bool) {
	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.client.Get(opCtx, c.prefix+assetKey(projectID, commitSHA, publicPath)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logRedisError("get", err)
		}
		return nil, false
	}
	var asset domain.Asset
	if err := json.Unmarshal(raw, &asset); err != nil {
		c.logRedisError("decode", err)
		return nil, false
	}
	return &asset, true
}

func (c *redisCache) Set(ctx context.Context, asset *domain.Asset, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(asset)
	if err != nil {
		c.logRedisError("encode", err)
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Set(opCtx, c.prefix+assetKey(asset.ProjectID, asset.CommitSHA, asset.PublicPath), raw, ttl).Err(); err != nil {
		c.logRedisError("set", err)
	}
}

func (c *redisCache) Close() {
	if c.client != nil {
		_ = c.client.Close()
	}
}

func (c *redisCache) logRedisError(op string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Error("redis metadata cache error", "op", op, "error", err)
}
