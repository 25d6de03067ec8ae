package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/foryou/internal/feed"
	"github.com/onnwee/foryou/internal/middleware"
	"github.com/onnwee/foryou/internal/validate"
	"github.com/onnwee/foryou/internal/variant"
)

// Identity headers.
const (
	ViewerIDHeader  = "X-Viewer-ID"
	SessionIDHeader = "X-Session-ID"
)

// FeedService builds feed pages.
type FeedService interface {
	Feed(ctx context.Context, req feed.Request) (*feed.Response, error)
	DefaultPageSize() int
}

// FeedHandlers serves the "For You" feed.
type FeedHandlers struct {
	service FeedService
}

// NewFeedHandlers creates FeedHandlers.
func NewFeedHandlers(service FeedService) *FeedHandlers {
	return &FeedHandlers{service: service}
}

// GetFeed handles GET /feed.
//
// Query parameters: page (1-based, default 1), page_size (default from
// config), variant (optional override), explain (bool), as_of (RFC 3339,
// the as_of of page 1 when paging through one feed load).
// Identity comes from X-Viewer-ID or, for anonymous callers, X-Session-ID.
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	req, msg := h.parseRequest(r)
	if msg != "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	ctx := middleware.SetViewer(r.Context(), middleware.Identity{
		ViewerID:  req.ViewerID,
		SessionID: req.SessionID,
	})
	middleware.UpdateResponseContext(ctx)
	req.RequestID = middleware.GetRequestID(ctx)

	resp, err := h.service.Feed(ctx, req)
	if err != nil {
		h.writeFeedError(w, ctx, err)
		return
	}
	writeJSON(w, ctx, http.StatusOK, resp)
}

func (h *FeedHandlers) parseRequest(r *http.Request) (feed.Request, string) {
	q := r.URL.Query()
	req := feed.Request{
		Page:     1,
		PageSize: h.service.DefaultPageSize(),
		Variant:  q.Get("variant"),
	}

	viewerID, err := validate.Identifier(r.Header.Get(ViewerIDHeader))
	if err != nil {
		return req, ViewerIDHeader + " is malformed"
	}
	sessionID, err := validate.Identifier(r.Header.Get(SessionIDHeader))
	if err != nil {
		return req, SessionIDHeader + " is malformed"
	}
	req.ViewerID, req.SessionID = viewerID, sessionID

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, "page must be an integer"
		}
		req.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, "page_size must be an integer"
		}
		req.PageSize = n
	}
	if v := q.Get("explain"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, "explain must be a boolean"
		}
		req.Explain = b
	}
	if v := q.Get("as_of"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return req, "as_of must be an RFC 3339 timestamp"
		}
		req.AsOf = t
	}
	return req, ""
}

func (h *FeedHandlers) writeFeedError(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case errors.Is(err, variant.ErrUnknownVariant):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidVariant, err.Error())
	case errors.Is(err, feed.ErrMissingIdentity),
		errors.Is(err, feed.ErrInvalidPage),
		errors.Is(err, feed.ErrInvalidPageSize),
		errors.Is(err, feed.ErrInvalidAsOf):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, ctx, http.StatusGatewayTimeout, ErrCodeCancelled, "feed request timed out")
	case errors.Is(err, context.Canceled):
		WriteError(w, ctx, StatusClientClosedRequest, ErrCodeCancelled, "feed request cancelled")
	default:
		slog.ErrorContext(ctx, "feed request failed", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to build feed")
	}
}
