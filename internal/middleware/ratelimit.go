package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCodeRateLimited is the error code recorded for throttled requests.
const ErrCodeRateLimited = "rate_limit_exceeded"

// RateLimitConfig defines the rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per window.
	// Must be > 0.
	RequestsPerWindow int
	// WindowDuration is the time window for the rate limit.
	// Must be > 0.
	WindowDuration time.Duration
}

// Validate checks that the RateLimitConfig has valid values.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// RateLimitStore holds fixed-window counters.
type RateLimitStore interface {
	// Allow counts a request for key. It returns whether the request is
	// within the limit and, when it is not, the seconds until the window
	// resets.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, retryAfter int)
}

type bucket struct {
	count     int
	windowEnd time.Time
}

// InMemoryRateLimitStore is a per-process fixed window counter.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow implements RateLimitStore.
func (s *InMemoryRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.windowEnd) {
		s.buckets[key] = &bucket{count: 1, windowEnd: now.Add(config.WindowDuration)}
		return true, 0
	}
	if b.count < config.RequestsPerWindow {
		b.count++
		return true, 0
	}
	return false, retrySeconds(b.windowEnd.Sub(now))
}

// Cleanup removes expired buckets. Call it periodically, at a multiple of
// the longest window.
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, b := range s.buckets {
		if !now.Before(b.windowEnd) {
			delete(s.buckets, key)
		}
	}
}

// RedisRateLimitStore shares counters across replicas. It fails open: a
// Redis error admits the request.
type RedisRateLimitStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisRateLimitStore creates a Redis-backed store.
func NewRedisRateLimitStore(client redis.UniversalClient, logger *slog.Logger) *RedisRateLimitStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimitStore{client: client, prefix: "foryou:ratelimit:", logger: logger}
}

// Allow implements RateLimitStore using INCR. The window expiry is set when
// the key has none, which covers the first hit of each window.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	k := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WarnContext(ctx, "rate limit store unavailable, allowing request", "error", err)
		return true, 0
	}

	remaining := ttl.Val()
	if remaining < 0 {
		if err := s.client.PExpire(ctx, k, config.WindowDuration).Err(); err != nil {
			s.logger.WarnContext(ctx, "failed to set rate limit window", "error", err)
		}
		remaining = config.WindowDuration
	}

	if incr.Val() <= int64(config.RequestsPerWindow) {
		return true, 0
	}
	return false, retrySeconds(remaining)
}

func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs <= 0 {
		return 1
	}
	return secs
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc returns a KeyFunc that uses the client's IP address.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

// IdentityKeyFunc keys on the given identity headers in order, falling back
// to the client IP for requests that carry none.
func IdentityKeyFunc(headers ...string) KeyFunc {
	ipFunc := IPKeyFunc()
	return func(r *http.Request) string {
		for _, h := range headers {
			if v := r.Header.Get(h); v != "" {
				return strings.ToLower(h) + ":" + v
			}
		}
		return "ip:" + ipFunc(r)
	}
}

var rateLimitedBody = []byte(`{"error":{"code":"` + ErrCodeRateLimited + `","message":"Too many requests"}}`)

// RateLimiter returns 429 Too Many Requests with Retry-After once a key
// exceeds config.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := store.Allow(r.Context(), keyFunc(r), config)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			UpdateResponseContext(SetErrorCode(r.Context(), ErrCodeRateLimited))

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write(rateLimitedBody)
		})
	}
}
