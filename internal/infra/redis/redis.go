package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pingTimeout = 3 * time.Second
	poolSize    = 4
)

// NewRedis connects to the record store server at url. The pool is small
// because a run issues one command at a time; retries are kept short so an
// unreachable server falls back quickly.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = poolSize
	}
	opts.MaxRetries = 1

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis at %s did not answer: %w", opts.Addr, err)
	}

	return client, nil
}
