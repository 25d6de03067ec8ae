package health

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/foryou/internal/tracing"
)

// RedisChecker checks the Redis instance backing the signal cache and the
// exposure stream.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck sends a PING.
func (r *RedisChecker) HealthCheck(ctx context.Context) (err error) {
	ctx, endSpan := tracing.StartCacheSpan(ctx, "PING", 0)
	defer func() { endSpan(err) }()
	return r.client.Ping(ctx).Err()
}
