package content

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/onnwee/foryou/internal/tracing"
)

// PostgresStore implements Store over the candidates table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const candidateColumns = `id, creator_id, category, published_at, view_count, is_premium, tip_enabled`

// ListEligibleCandidates returns up to limit published candidates matching
// filters, newest first. Deleted or unpublished rows are never returned.
func (s *PostgresStore) ListEligibleCandidates(ctx context.Context, filters Filters, limit int) (out []Candidate, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "candidates", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var (
		conds = []string{"deleted_at IS NULL", "published_at IS NOT NULL"}
		args  []any
	)
	addArg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filters.PublishedAfter.IsZero() {
		conds = append(conds, "published_at >= "+addArg(filters.PublishedAfter))
	}
	if !filters.PublishedBefore.IsZero() {
		conds = append(conds, "published_at <= "+addArg(filters.PublishedBefore))
	}
	if len(filters.ExcludeIDs) > 0 {
		ids := make([]string, 0, len(filters.ExcludeIDs))
		for id := range filters.ExcludeIDs {
			ids = append(ids, id)
		}
		conds = append(conds, "NOT (id = ANY("+addArg(pq.Array(ids))+"))")
	}

	query := `SELECT ` + candidateColumns + `
		FROM candidates
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY published_at DESC, id ASC
		LIMIT ` + addArg(limit)

	return s.query(ctx, query, args...)
}

// ListRecentCandidates returns the most recently published candidates.
func (s *PostgresStore) ListRecentCandidates(ctx context.Context, limit int) (out []Candidate, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "candidates", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	return s.query(ctx, `SELECT `+candidateColumns+`
		FROM candidates
		WHERE deleted_at IS NULL AND published_at IS NOT NULL AND published_at <= NOW()
		ORDER BY published_at DESC, id ASC
		LIMIT $1`, limit)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			c        Candidate
			category sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.CreatorID, &category, &c.PublishedAt, &c.ViewCount, &c.IsPremium, &c.TipEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if category.Valid {
			cat := category.String
			c.Category = &cat
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return out, nil
}
