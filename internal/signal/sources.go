package signal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"github.com/onnwee/foryou/internal/tracing"
)

// InMemoryAffinity is an in-memory AffinitySource.
type InMemoryAffinity struct {
	mu       sync.RWMutex
	affinity map[string]map[string]float64
}

// NewInMemoryAffinity creates an empty affinity source.
func NewInMemoryAffinity() *InMemoryAffinity {
	return &InMemoryAffinity{affinity: make(map[string]map[string]float64)}
}

// Set records the affinity of a viewer for a category.
func (a *InMemoryAffinity) Set(viewerID, category string, weight float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.affinity[viewerID]
	if !ok {
		m = make(map[string]float64)
		a.affinity[viewerID] = m
	}
	m[category] = weight
}

// CategoryAffinity returns a copy of the viewer's affinities.
func (a *InMemoryAffinity) CategoryAffinity(ctx context.Context, viewerID string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	src := a.affinity[viewerID]
	if len(src) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

// InMemoryCollaborative is an in-memory CollaborativeSource.
type InMemoryCollaborative struct {
	mu      sync.RWMutex
	signals map[string]map[string]float64 // viewerKey -> candidateID -> signal
}

// NewInMemoryCollaborative creates an empty collaborative source.
func NewInMemoryCollaborative() *InMemoryCollaborative {
	return &InMemoryCollaborative{signals: make(map[string]map[string]float64)}
}

// Set records a signal for (viewerKey, candidateID).
func (c *InMemoryCollaborative) Set(viewerKey, candidateID string, signal float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.signals[viewerKey]
	if !ok {
		m = make(map[string]float64)
		c.signals[viewerKey] = m
	}
	m[candidateID] = signal
}

// Signals returns the recorded signals for the requested candidates.
func (c *InMemoryCollaborative) Signals(ctx context.Context, viewerKey string, candidateIDs []string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]float64)
	for _, id := range candidateIDs {
		if v, ok := c.signals[viewerKey][id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// PostgresAffinitySource reads the viewer_category_affinity table.
type PostgresAffinitySource struct {
	db *sql.DB
}

// NewPostgresAffinitySource creates a new PostgresAffinitySource.
func NewPostgresAffinitySource(db *sql.DB) *PostgresAffinitySource {
	return &PostgresAffinitySource{db: db}
}

// CategoryAffinity returns the viewer's category weights.
func (s *PostgresAffinitySource) CategoryAffinity(ctx context.Context, viewerID string) (out map[string]float64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "viewer_category_affinity", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, weight
		FROM viewer_category_affinity
		WHERE viewer_id = $1
	`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load category affinity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			category string
			weight   float64
		)
		if err := rows.Scan(&category, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan category affinity: %w", err)
		}
		if out == nil {
			out = make(map[string]float64)
		}
		out[category] = weight
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate category affinity: %w", err)
	}
	return out, nil
}

// PostgresCollaborativeSource reads precomputed signals from the
// collaborative_signals table.
type PostgresCollaborativeSource struct {
	db *sql.DB
}

// NewPostgresCollaborativeSource creates a new PostgresCollaborativeSource.
func NewPostgresCollaborativeSource(db *sql.DB) *PostgresCollaborativeSource {
	return &PostgresCollaborativeSource{db: db}
}

// Signals returns signals for the requested candidates.
func (s *PostgresCollaborativeSource) Signals(ctx context.Context, viewerKey string, candidateIDs []string) (out map[string]float64, err error) {
	out = make(map[string]float64)
	if len(candidateIDs) == 0 {
		return out, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "collaborative_signals", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, score
		FROM collaborative_signals
		WHERE viewer_key = $1 AND candidate_id = ANY($2)
	`, viewerKey, pq.Array(candidateIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load collaborative signals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan collaborative signal: %w", err)
		}
		out[id] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collaborative signals: %w", err)
	}
	return out, nil
}
