// Package interaction models viewer interaction events and the windowed
// aggregates the ranking signals are built from.
package interaction

import (
	"context"
	"errors"
	"time"
)

// EventType identifies an interaction kind.
type EventType string

const (
	EventView     EventType = "view"
	EventLike     EventType = "like"
	EventShare    EventType = "share"
	EventComplete EventType = "complete"
	EventDwell    EventType = "dwell"
)

// ErrInvalidEvent is returned when an event fails validation.
var ErrInvalidEvent = errors.New("invalid interaction event")

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventView, EventLike, EventShare, EventComplete, EventDwell:
		return true
	}
	return false
}

// Event is a single viewer interaction with a candidate.
type Event struct {
	ID          string    `json:"id"`
	ViewerID    *string   `json:"viewer_id,omitempty"`
	SessionID   string    `json:"session_id"`
	CandidateID string    `json:"candidate_id"`
	Type        EventType `json:"type"`
	// Value carries dwell seconds for dwell events. Nil when absent.
	Value      *float64  `json:"value,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Validate checks required fields.
func (e Event) Validate() error {
	if e.CandidateID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("candidate_id is required"))
	}
	if e.ViewerID == nil && e.SessionID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("viewer_id or session_id is required"))
	}
	if !e.Type.Valid() {
		return errors.Join(ErrInvalidEvent, errors.New("unknown event type "+string(e.Type)))
	}
	if e.OccurredAt.IsZero() {
		return errors.Join(ErrInvalidEvent, errors.New("occurred_at is required"))
	}
	return nil
}

// Bucket holds counts for one hour of interactions.
type Bucket struct {
	Start     time.Time `json:"start"`
	Views     int64     `json:"views"`
	Likes     int64     `json:"likes"`
	Shares    int64     `json:"shares"`
	Completes int64     `json:"completes"`
}

// Aggregate holds trailing-window counts for one candidate.
type Aggregate struct {
	CandidateID string   `json:"candidate_id"`
	Views       int64    `json:"views"`
	Likes       int64    `json:"likes"`
	Shares      int64    `json:"shares"`
	Completes   int64    `json:"completes"`
	Buckets     []Bucket `json:"buckets"`
}

// SignalSource reads windowed interaction aggregates.
type SignalSource interface {
	// AggregateSignals returns aggregates for the candidates over the trailing
	// window. Candidates without interactions may be omitted.
	AggregateSignals(ctx context.Context, candidateIDs []string, window time.Duration) (map[string]Aggregate, error)
	// CreatorCompletionRates returns completes/views across each creator's
	// content over the trailing window.
	CreatorCompletionRates(ctx context.Context, creatorIDs []string, window time.Duration) (map[string]float64, error)
}

// EventSource lists raw events for offline aggregation.
type EventSource interface {
	EventsSince(ctx context.Context, since, until time.Time) ([]Event, error)
}

// Recorder appends interaction events.
type Recorder interface {
	Record(ctx context.Context, events ...Event) error
}

// hourStart truncates t to the start of its UTC hour.
func hourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func (b *Bucket) add(t EventType) {
	switch t {
	case EventView:
		b.Views++
	case EventLike:
		b.Likes++
	case EventShare:
		b.Shares++
	case EventComplete:
		b.Completes++
	}
}
