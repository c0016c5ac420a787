package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the shared Redis client.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// New creates a Redis client and verifies it answers a ping.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}

	return client, nil
}

// Pinger adapts a client to the readiness probe signature.
func Pinger(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return fmt.Errorf("platform/cache: client not configured")
		}
		return client.Ping(ctx).Err()
	}
}
