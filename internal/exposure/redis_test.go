package exposure

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStreamSink_AppendAndRead(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	stream := "foryou:test:exposures:" + uuid.NewString()
	sink := NewRedisStreamSink(client, RedisStreamConfig{Stream: stream, HistoryWindow: time.Hour})
	t.Cleanup(func() {
		_ = client.Del(context.Background(), stream, sink.historyKey("v1"), sink.historyKey("s2")).Err()
	})

	now := time.Now().UTC()
	err := sink.Append(ctx, []Exposure{
		{ViewerID: strPtr("v1"), SessionID: "s1", CandidateID: "c1", Variant: "A", Position: 0, ServedAt: now},
		{ViewerID: strPtr("v1"), SessionID: "s1", CandidateID: "c2", Variant: "A", Position: 1, ServedAt: now},
		{SessionID: "s2", CandidateID: "c3", Variant: "B", Position: 0, ServedAt: now},
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := sink.ExposuresSince(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ExposuresSince() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d exposures, want 3", len(got))
	}
	if got[0].ID == "" {
		t.Error("exposure ID not assigned")
	}
	if got[2].Variant != "B" || got[2].ViewerID != nil {
		t.Errorf("third exposure = %+v, want anonymous variant B", got[2])
	}

	ids, err := sink.RecentCandidateIDs(ctx, "v1", now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RecentCandidateIDs() error = %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("history = %v, want 2 candidates", ids)
	}

	ttl, err := client.TTL(ctx, sink.historyKey("v1")).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("history TTL = %v, want (0, 1h]", ttl)
	}
}

func TestRedisStreamSink_StreamRangeCoversWriteLag(t *testing.T) {
	since := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	tests := []struct {
		name    string
		lag     time.Duration
		wantEnd time.Time
	}{
		{"default lag", 0, until.Add(DefaultWriteTimeout)},
		{"configured lag", 30 * time.Second, until.Add(30 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := NewRedisStreamSink(nil, RedisStreamConfig{WriteLag: tt.lag})
			start, end := sink.streamRange(since, until)
			if start != strconv.FormatInt(since.UnixMilli(), 10) {
				t.Errorf("start = %s, want %d", start, since.UnixMilli())
			}
			if end != strconv.FormatInt(tt.wantEnd.UnixMilli(), 10) {
				t.Errorf("end = %s, want %d", end, tt.wantEnd.UnixMilli())
			}
		})
	}
}

func TestRedisStreamSink_IncludesLateWrites(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	stream := "foryou:test:exposures:" + uuid.NewString()
	sink := NewRedisStreamSink(client, RedisStreamConfig{Stream: stream})
	t.Cleanup(func() {
		_ = client.Del(context.Background(), stream, sink.historyKey("v1")).Err()
	})

	// Served before until but appended after it.
	until := time.Now().UTC().Add(-time.Second)
	servedAt := until.Add(-time.Second)
	err := sink.Append(ctx, []Exposure{
		{ViewerID: strPtr("v1"), SessionID: "s1", CandidateID: "late", Variant: "A", ServedAt: servedAt},
		{ViewerID: strPtr("v1"), SessionID: "s1", CandidateID: "after", Variant: "A", ServedAt: until.Add(500 * time.Millisecond)},
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := sink.ExposuresSince(ctx, until.Add(-time.Minute), until)
	if err != nil {
		t.Fatalf("ExposuresSince() error = %v", err)
	}
	if len(got) != 1 || got[0].CandidateID != "late" {
		t.Errorf("got %+v, want only the exposure served before until", got)
	}
}

func TestRedisStreamSink_EmptyBatch(t *testing.T) {
	sink := NewRedisStreamSink(nil, RedisStreamConfig{})
	if err := sink.Append(context.Background(), nil); err != nil {
		t.Errorf("Append(nil) error = %v", err)
	}
}
