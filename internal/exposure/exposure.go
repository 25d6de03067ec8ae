// Package exposure records which candidates were served to whom, at which
// position and under which variant. Records are append-only.
package exposure

import (
	"context"
	"time"
)

// Exposure records that a candidate was shown at a position in a page.
type Exposure struct {
	ID          string    `json:"id"`
	ViewerID    *string   `json:"viewer_id,omitempty"`
	SessionID   string    `json:"session_id"`
	CandidateID string    `json:"candidate_id"`
	Variant     string    `json:"variant"`
	Position    int       `json:"position"`
	ServedAt    time.Time `json:"served_at"`
	RequestID   string    `json:"request_id,omitempty"`
}

// Key returns the viewer ID when known, otherwise the session ID.
func (e Exposure) Key() string {
	if e.ViewerID != nil && *e.ViewerID != "" {
		return *e.ViewerID
	}
	return e.SessionID
}

// Sink is an append-only destination for exposures.
type Sink interface {
	Append(ctx context.Context, exposures []Exposure) error
}

// Source lists exposures for offline aggregation.
type Source interface {
	// ExposuresSince returns exposures with since <= served_at < until.
	ExposuresSince(ctx context.Context, since, until time.Time) ([]Exposure, error)
}
