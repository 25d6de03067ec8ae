package exposure

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/foryou/internal/tracing"
)

const (
	defaultStream        = "foryou:exposures"
	defaultStreamMaxLen  = 1_000_000
	defaultHistoryWindow = 24 * time.Hour
)

// RedisStreamConfig configures RedisStreamSink.
type RedisStreamConfig struct {
	// Stream is the stream key. Default: "foryou:exposures".
	Stream string
	// MaxLen approximately caps the stream length. Default: 1,000,000.
	MaxLen int64
	// HistoryWindow is how long per-viewer history sets are kept. Default: 24h.
	HistoryWindow time.Duration
	// WriteLag is the longest expected gap between serving an exposure and
	// appending it to the stream. Default: DefaultWriteTimeout.
	WriteLag time.Duration
}

// RedisStreamSink appends exposures to a Redis stream for downstream
// consumers and keeps a per-viewer sorted set of recently served
// candidates for novelty exclusion.
type RedisStreamSink struct {
	client        *redis.Client
	stream        string
	maxLen        int64
	historyWindow time.Duration
	writeLag      time.Duration
}

// NewRedisStreamSink creates a new RedisStreamSink.
func NewRedisStreamSink(client *redis.Client, cfg RedisStreamConfig) *RedisStreamSink {
	if cfg.Stream == "" {
		cfg.Stream = defaultStream
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultStreamMaxLen
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.WriteLag <= 0 {
		cfg.WriteLag = DefaultWriteTimeout
	}
	return &RedisStreamSink{
		client:        client,
		stream:        cfg.Stream,
		maxLen:        cfg.MaxLen,
		historyWindow: cfg.HistoryWindow,
		writeLag:      cfg.WriteLag,
	}
}

func (s *RedisStreamSink) historyKey(key string) string {
	return s.stream + ":history:" + key
}

// Append writes all exposures in a single pipeline.
func (s *RedisStreamSink) Append(ctx context.Context, exposures []Exposure) (err error) {
	if len(exposures) == 0 {
		return nil
	}

	ctx, endSpan := tracing.StartCacheSpan(ctx, "xadd", len(exposures))
	defer func() { endSpan(err) }()

	pipe := s.client.Pipeline()
	touched := make(map[string]struct{})
	for _, e := range exposures {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode exposure: %w", err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"variant": e.Variant,
				"payload": payload,
			},
		})

		hk := s.historyKey(e.Key())
		pipe.ZAdd(ctx, hk, redis.Z{Score: float64(e.ServedAt.UnixMilli()), Member: e.CandidateID})
		touched[hk] = struct{}{}
	}
	for hk := range touched {
		pipe.Expire(ctx, hk, s.historyWindow)
	}

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append exposures: %w", err)
	}
	return nil
}

// ExposuresSince returns exposures served in [since, until).
// Stream IDs carry the append time, which trails the served time by up to
// the write lag, so the read range extends past until and entries are
// filtered on their recorded served time.
func (s *RedisStreamSink) ExposuresSince(ctx context.Context, since, until time.Time) (out []Exposure, err error) {
	ctx, endSpan := tracing.StartCacheSpan(ctx, "xrange", 1)
	defer func() { endSpan(err) }()

	start, end := s.streamRange(since, until)
	msgs, err := s.client.XRange(ctx, s.stream, start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read exposure stream: %w", err)
	}

	for _, msg := range msgs {
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var e Exposure
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode exposure %s: %w", msg.ID, err)
		}
		if e.ServedAt.Before(since) || !e.ServedAt.Before(until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// streamRange returns the XRANGE bounds for exposures served in
// [since, until).
func (s *RedisStreamSink) streamRange(since, until time.Time) (start, end string) {
	start = strconv.FormatInt(since.UnixMilli(), 10)
	end = strconv.FormatInt(until.Add(s.writeLag).UnixMilli(), 10)
	return start, end
}

// RecentCandidateIDs returns candidates served to key in [since, until).
// A candidate served more than once is reported by its latest exposure.
func (s *RedisStreamSink) RecentCandidateIDs(ctx context.Context, key string, since, until time.Time) (ids []string, err error) {
	ctx, endSpan := tracing.StartCacheSpan(ctx, "zrangebyscore", 1)
	defer func() { endSpan(err) }()

	ids, err = s.client.ZRangeByScore(ctx, s.historyKey(key), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(until.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read exposure history: %w", err)
	}
	return ids, nil
}
