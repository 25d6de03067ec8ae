package social

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/onnwee/foryou/internal/tracing"
)

// PostgresGraph implements Graph using the follows table.
type PostgresGraph struct {
	db *sql.DB
}

// NewPostgresGraph creates a new PostgresGraph.
func NewPostgresGraph(db *sql.DB) *PostgresGraph {
	return &PostgresGraph{db: db}
}

// FollowedCreators returns the creators the viewer follows.
func (g *PostgresGraph) FollowedCreators(ctx context.Context, viewerID string) (ids []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := g.db.QueryContext(ctx, `
		SELECT creator_id
		FROM follows
		WHERE follower_id = $1
	`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list followed creators: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan followed creator: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate followed creators: %w", err)
	}
	return ids, nil
}

// FollowerCounts returns follower counts for the given creators.
func (g *PostgresGraph) FollowerCounts(ctx context.Context, creatorIDs []string) (counts map[string]int64, err error) {
	counts = make(map[string]int64, len(creatorIDs))
	if len(creatorIDs) == 0 {
		return counts, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := g.db.QueryContext(ctx, `
		SELECT creator_id, COUNT(*)
		FROM follows
		WHERE creator_id = ANY($1)
		GROUP BY creator_id
	`, pq.Array(creatorIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to count followers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan follower count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate follower counts: %w", err)
	}
	return counts, nil
}
