package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options configures the realtime store connection. PoolSize bounds the
// shared command pool; every live participant additionally holds its own
// dedicated pub/sub connection outside that pool.
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int // 0 keeps the driver default
}

// Client is the go-redis client carrying the signaling and presence topics.
type Client struct {
	*redis.Client
	logger *zap.Logger
}

func buildOptions(opts Options) *redis.Options {
	o := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.PoolSize > 0 {
		o.PoolSize = opts.PoolSize
	}
	return o
}

// NewClient creates the realtime store client and verifies connectivity.
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(buildOptions(opts))

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("realtime store connected",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
	)
	return &Client{Client: rdb, logger: logger}, nil
}
