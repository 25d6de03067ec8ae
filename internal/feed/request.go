// Package feed assembles a ranked, diversified and paginated "For You"
// page for one viewer or session.
package feed

import (
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/foryou/internal/ranking"
)

var (
	// ErrInvalidPage is returned for pages below 1.
	ErrInvalidPage = errors.New("page must be >= 1")
	// ErrInvalidPageSize is returned for page sizes outside [1, max].
	ErrInvalidPageSize = errors.New("invalid page size")
	// ErrMissingIdentity is returned when neither viewer nor session is set.
	ErrMissingIdentity = errors.New("viewer id or session id is required")
	// ErrInvalidAsOf is returned when a continuation instant lies in the future.
	ErrInvalidAsOf = errors.New("as_of must not be in the future")
)

// Request is one feed page request.
type Request struct {
	// ViewerID is empty for anonymous sessions.
	ViewerID  string
	SessionID string
	// Page is 1-based.
	Page     int
	PageSize int
	// Variant forces a configured variant when non-empty.
	Variant string
	// Explain attaches per-term score breakdowns to the items.
	Explain   bool
	RequestID string
	// AsOf is the as_of of the first page when requesting later pages of
	// the same feed load. Zero starts a new load.
	AsOf time.Time
}

// Validate checks the request before any retrieval work.
func (r Request) Validate(maxPageSize int) error {
	if r.ViewerID == "" && r.SessionID == "" {
		return ErrMissingIdentity
	}
	if r.Page < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPage, r.Page)
	}
	if r.PageSize < 1 {
		return fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidPageSize, r.PageSize)
	}
	if maxPageSize > 0 && r.PageSize > maxPageSize {
		return fmt.Errorf("%w: must be <= %d, got %d", ErrInvalidPageSize, maxPageSize, r.PageSize)
	}
	return nil
}

// Item is one ranked candidate in a page.
type Item struct {
	CandidateID string             `json:"candidate_id"`
	CreatorID   string             `json:"creator_id"`
	Category    *string            `json:"category"`
	Position    int                `json:"position"`
	Score       float64            `json:"score"`
	Breakdown   *ranking.Breakdown `json:"breakdown,omitempty"`
}

// Pagination describes the page within the ranked list.
//
// TotalEstimate is the length of the ranked list built for this request
// from a bounded candidate pool. It is not a corpus count.
type Pagination struct {
	Page            int  `json:"page"`
	PageSize        int  `json:"page_size"`
	TotalEstimate   int  `json:"total_estimate"`
	TotalPages      int  `json:"total_pages"`
	TotalIsEstimate bool `json:"total_is_estimate"`
}

// ProfileRef identifies the weight profile used for ranking.
type ProfileRef struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
	Source  string `json:"source"`
}

// Response is a rendered feed page.
type Response struct {
	RequestID string `json:"request_id"`
	// AsOf is the instant the ranking was evaluated at. Passing it back on
	// later pages keeps the ranked list stable across pages.
	AsOf       time.Time  `json:"as_of"`
	Variant    string     `json:"variant"`
	Profile    ProfileRef `json:"profile"`
	Items      []Item     `json:"items"`
	Pagination Pagination `json:"pagination"`
	// Degraded lists the inputs that were unavailable for this page.
	Degraded []string `json:"degraded"`
}
