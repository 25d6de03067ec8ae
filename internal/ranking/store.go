package ranking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/onnwee/foryou/internal/tracing"
)

// ProfileStore is the configuration store for weight profiles.
type ProfileStore interface {
	// ActiveWeightProfile returns the latest active profile for the variant,
	// or nil and no error when none is configured.
	ActiveWeightProfile(ctx context.Context, variant string) (*WeightProfile, error)
}

// InMemoryProfileStore is an in-memory ProfileStore. The highest version
// stored for a variant is the active one.
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*WeightProfile
}

// NewInMemoryProfileStore creates an empty store.
func NewInMemoryProfileStore() *InMemoryProfileStore {
	return &InMemoryProfileStore{profiles: make(map[string]*WeightProfile)}
}

// Put stores a copy of the profile if its version supersedes the current one.
func (s *InMemoryProfileStore) Put(p *WeightProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.profiles[p.Variant]; ok && cur.Version > p.Version {
		return
	}
	s.profiles[p.Variant] = p.Clone()
}

// ActiveWeightProfile returns a copy of the active profile.
func (s *InMemoryProfileStore) ActiveWeightProfile(ctx context.Context, variant string) (*WeightProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[variant].Clone(), nil
}

// FileProfileStore serves profiles from a JSON profile file. The file is
// re-read on every lookup, so edits apply once the resolver cache expires.
type FileProfileStore struct {
	path string
}

// NewFileProfileStore creates a store backed by path.
func NewFileProfileStore(path string) *FileProfileStore {
	return &FileProfileStore{path: path}
}

// ActiveWeightProfile returns the file's profile for variant.
func (s *FileProfileStore) ActiveWeightProfile(ctx context.Context, variant string) (*WeightProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	profiles, err := LoadProfiles(s.path)
	if err != nil {
		return nil, err
	}
	return profiles[variant], nil
}

// PostgresProfileStore reads the weight_profiles table. Profile bodies are
// stored as partial JSON overrides on top of the variant defaults.
type PostgresProfileStore struct {
	db            *sql.DB
	experimentKey string
}

// NewPostgresProfileStore creates a store scoped to one experiment.
func NewPostgresProfileStore(db *sql.DB, experimentKey string) *PostgresProfileStore {
	return &PostgresProfileStore{db: db, experimentKey: experimentKey}
}

// ActiveWeightProfile returns the highest active version for the variant.
func (s *PostgresProfileStore) ActiveWeightProfile(ctx context.Context, variant string) (p *WeightProfile, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "weight_profiles", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var (
		name    string
		version int
		body    []byte
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT name, version, body
		FROM weight_profiles
		WHERE experiment_key = $1 AND variant = $2 AND active
		ORDER BY version DESC
		LIMIT 1
	`, s.experimentKey, variant).Scan(&name, &version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load weight profile: %w", err)
	}

	var override ProfileOverride
	if err := json.Unmarshal(body, &override); err != nil {
		return nil, fmt.Errorf("failed to decode weight profile %s v%d: %w", name, version, err)
	}

	p = MergeProfile(DefaultProfile(variant), &override)
	p.Name = name
	p.Version = version
	p.Variant = variant
	p.ExperimentKey = s.experimentKey
	return p, nil
}
