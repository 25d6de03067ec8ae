package interaction

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/foryou/internal/tracing"
)

// PostgresStore implements SignalSource, EventSource and Recorder over the
// interactions table.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Record inserts events in a single transaction.
func (s *PostgresStore) Record(ctx context.Context, events ...Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "interactions", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO interactions (id, viewer_id, session_id, candidate_id, event_type, value, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err = stmt.ExecContext(ctx, id, e.ViewerID, e.SessionID, e.CandidateID, string(e.Type), e.Value, e.OccurredAt); err != nil {
			return fmt.Errorf("failed to insert interaction: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interactions: %w", err)
	}
	return nil
}

// AggregateSignals returns hourly-bucketed counts over the trailing window.
func (s *PostgresStore) AggregateSignals(ctx context.Context, candidateIDs []string, window time.Duration) (out map[string]Aggregate, err error) {
	out = make(map[string]Aggregate, len(candidateIDs))
	if len(candidateIDs) == 0 {
		return out, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "interactions", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id,
		       date_trunc('hour', occurred_at AT TIME ZONE 'UTC') AS bucket,
		       COUNT(*) FILTER (WHERE event_type = 'view'),
		       COUNT(*) FILTER (WHERE event_type = 'like'),
		       COUNT(*) FILTER (WHERE event_type = 'share'),
		       COUNT(*) FILTER (WHERE event_type = 'complete')
		FROM interactions
		WHERE candidate_id = ANY($1) AND occurred_at >= $2
		GROUP BY candidate_id, bucket
		ORDER BY candidate_id, bucket
	`, pq.Array(candidateIDs), s.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			b  Bucket
		)
		if err := rows.Scan(&id, &b.Start, &b.Views, &b.Likes, &b.Shares, &b.Completes); err != nil {
			return nil, fmt.Errorf("failed to scan interaction bucket: %w", err)
		}
		b.Start = time.Date(b.Start.Year(), b.Start.Month(), b.Start.Day(), b.Start.Hour(), 0, 0, 0, time.UTC)

		agg := out[id]
		agg.CandidateID = id
		agg.Views += b.Views
		agg.Likes += b.Likes
		agg.Shares += b.Shares
		agg.Completes += b.Completes
		agg.Buckets = append(agg.Buckets, b)
		out[id] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interaction buckets: %w", err)
	}
	return out, nil
}

// CreatorCompletionRates returns completes/views per creator over the window.
func (s *PostgresStore) CreatorCompletionRates(ctx context.Context, creatorIDs []string, window time.Duration) (out map[string]float64, err error) {
	out = make(map[string]float64, len(creatorIDs))
	if len(creatorIDs) == 0 {
		return out, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "interactions", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.creator_id,
		       COUNT(*) FILTER (WHERE i.event_type = 'view'),
		       COUNT(*) FILTER (WHERE i.event_type = 'complete')
		FROM interactions i
		JOIN candidates c ON c.id = i.candidate_id
		WHERE c.creator_id = ANY($1) AND i.occurred_at >= $2
		GROUP BY c.creator_id
	`, pq.Array(creatorIDs), s.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to compute creator completion: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			creator          string
			views, completes int64
		)
		if err := rows.Scan(&creator, &views, &completes); err != nil {
			return nil, fmt.Errorf("failed to scan creator completion: %w", err)
		}
		if views > 0 {
			out[creator] = float64(completes) / float64(views)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate creator completion: %w", err)
	}
	return out, nil
}

// EventsSince returns events with since <= occurred_at < until, oldest first.
func (s *PostgresStore) EventsSince(ctx context.Context, since, until time.Time) (out []Event, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "interactions", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, viewer_id, session_id, candidate_id, event_type, value, occurred_at
		FROM interactions
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at ASC
	`, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e        Event
			viewerID sql.NullString
			value    sql.NullFloat64
			typ      string
		)
		if err := rows.Scan(&e.ID, &viewerID, &e.SessionID, &e.CandidateID, &typ, &value, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		e.Type = EventType(typ)
		if viewerID.Valid {
			v := viewerID.String
			e.ViewerID = &v
		}
		if value.Valid {
			v := value.Float64
			e.Value = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interactions: %w", err)
	}
	return out, nil
}
