package signal

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/foryou/internal/interaction"
	"github.com/onnwee/foryou/internal/tracing"
)

const defaultCachePrefix = "foryou:signals"

// RedisCacheConfig configures RedisSnapshotCache.
type RedisCacheConfig struct {
	// TTL bounds staleness of cached aggregates. Default: 30s.
	TTL time.Duration
	// Prefix namespaces cache keys. Default: "foryou:signals".
	Prefix string
	Logger *slog.Logger
}

// RedisSnapshotCache is a short-TTL read-through cache in front of an
// interaction.SignalSource. Redis failures fall through to the source.
type RedisSnapshotCache struct {
	next   interaction.SignalSource
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisSnapshotCache wraps next with a Redis cache.
func NewRedisSnapshotCache(client *redis.Client, next interaction.SignalSource, cfg RedisCacheConfig) *RedisSnapshotCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultCachePrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSnapshotCache{
		next:   next,
		client: client,
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		logger: logger,
	}
}

// AggregateSignals returns cached aggregates, loading misses from the source.
func (c *RedisSnapshotCache) AggregateSignals(ctx context.Context, candidateIDs []string, window time.Duration) (map[string]interaction.Aggregate, error) {
	return readThrough(ctx, c, "agg", candidateIDs, window,
		func(ctx context.Context, ids []string) (map[string]interaction.Aggregate, error) {
			return c.next.AggregateSignals(ctx, ids, window)
		},
		func(id string) interaction.Aggregate { return interaction.Aggregate{CandidateID: id} },
	)
}

// CreatorCompletionRates returns cached rates, loading misses from the source.
func (c *RedisSnapshotCache) CreatorCompletionRates(ctx context.Context, creatorIDs []string, window time.Duration) (map[string]float64, error) {
	return readThrough(ctx, c, "completion", creatorIDs, window,
		func(ctx context.Context, ids []string) (map[string]float64, error) {
			return c.next.CreatorCompletionRates(ctx, ids, window)
		},
		func(string) float64 { return 0 },
	)
}

func (c *RedisSnapshotCache) key(kind string, window time.Duration, id string) string {
	return c.prefix + ":" + kind + ":" + strconv.FormatInt(int64(window/time.Second), 10) + ":" + id
}

// readThrough serves ids from Redis and loads the rest with load. Entries
// the source omits are cached as empty so repeated misses stay cheap.
func readThrough[V any](
	ctx context.Context,
	c *RedisSnapshotCache,
	kind string,
	ids []string,
	window time.Duration,
	load func(context.Context, []string) (map[string]V, error),
	empty func(id string) V,
) (map[string]V, error) {
	out := make(map[string]V, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(kind, window, id)
	}

	misses := ids
	cctx, endGet := tracing.StartCacheSpan(ctx, "mget", len(keys))
	values, err := c.client.MGet(cctx, keys...).Result()
	endGet(err)
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "signal cache read failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	} else {
		misses = make([]string, 0, len(ids))
		for i, raw := range values {
			s, ok := raw.(string)
			if !ok {
				misses = append(misses, ids[i])
				continue
			}
			var v V
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				misses = append(misses, ids[i])
				continue
			}
			out[ids[i]] = v
		}
	}

	if len(misses) == 0 {
		return out, nil
	}

	loaded, err := load(ctx, misses)
	if err != nil {
		return nil, err
	}

	pctx, endSet := tracing.StartCacheSpan(ctx, "set", len(misses))
	pipe := c.client.Pipeline()
	for _, id := range misses {
		v, ok := loaded[id]
		if !ok {
			v = empty(id)
		} else {
			out[id] = v
		}
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		pipe.Set(pctx, c.key(kind, window, id), data, c.ttl)
	}
	_, err = pipe.Exec(pctx)
	endSet(err)
	if err != nil {
		c.logger.WarnContext(ctx, "signal cache write failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
	return out, nil
}
