package exposure

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/foryou/internal/tracing"
)

// PostgresStore implements Sink and Source over the exposures table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append bulk-loads exposures with COPY inside a transaction.
func (s *PostgresStore) Append(ctx context.Context, exposures []Exposure) (err error) {
	if len(exposures) == 0 {
		return nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "exposures", tracing.DBOperationCopy)
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

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("exposures",
		"id", "viewer_id", "session_id", "candidate_id", "variant", "position", "served_at", "request_id"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, e := range exposures {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		var requestID sql.NullString
		if e.RequestID != "" {
			requestID = sql.NullString{String: e.RequestID, Valid: true}
		}
		if _, err = stmt.ExecContext(ctx, id, e.ViewerID, e.SessionID, e.CandidateID, e.Variant, e.Position, e.ServedAt, requestID); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to copy exposure: %w", err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to flush exposures: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exposures: %w", err)
	}
	return nil
}

// ExposuresSince returns exposures served in [since, until), oldest first.
func (s *PostgresStore) ExposuresSince(ctx context.Context, since, until time.Time) (out []Exposure, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "exposures", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, viewer_id, session_id, candidate_id, variant, position, served_at, request_id
		FROM exposures
		WHERE served_at >= $1 AND served_at < $2
		ORDER BY served_at ASC
	`, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list exposures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e         Exposure
			viewerID  sql.NullString
			requestID sql.NullString
		)
		if err := rows.Scan(&e.ID, &viewerID, &e.SessionID, &e.CandidateID, &e.Variant, &e.Position, &e.ServedAt, &requestID); err != nil {
			return nil, fmt.Errorf("failed to scan exposure: %w", err)
		}
		if viewerID.Valid {
			v := viewerID.String
			e.ViewerID = &v
		}
		e.RequestID = requestID.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exposures: %w", err)
	}
	return out, nil
}

// RecentCandidateIDs returns distinct candidates served to a viewer or
// session in [since, until).
func (s *PostgresStore) RecentCandidateIDs(ctx context.Context, key string, since, until time.Time) (out []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "exposures", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT candidate_id
		FROM exposures
		WHERE COALESCE(viewer_id, session_id) = $1 AND served_at >= $2 AND served_at < $3
	`, key, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list exposure history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan exposure history: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exposure history: %w", err)
	}
	return out, nil
}
