// Package cache publishes gold tables to Redis for low-latency reads and
// provides a Redis-backed folder lock for the object store gateway.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// NewClient parses a redis:// URL and pings the server.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, eris.New("cache: redis url must be provided")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "cache: ping redis")
	}
	zap.L().Info("connected to redis", zap.String("component", "cache"), zap.String("addr", opts.Addr))
	return client, nil
}
