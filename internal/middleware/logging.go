// Package middleware provides HTTP middleware components for the feed API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// viewerKey is the context key for the caller identity.
type viewerKey struct{}

// errorCodeKey is the context key for error code.
type errorCodeKey struct{}

// errorSlotKey is the context key for the per-request error code slot
// installed by Logging.
type errorSlotKey struct{}

// Identity is the caller of a feed request. At least one field is set for
// feed requests; both may be empty on other routes.
type Identity struct {
	ViewerID  string
	SessionID string
}

// SetViewer stores the caller identity in the context.
func SetViewer(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, viewerKey{}, id)
}

// GetViewer retrieves the caller identity from context.
func GetViewer(ctx context.Context) Identity {
	if id, ok := ctx.Value(viewerKey{}).(Identity); ok {
		return id
	}
	return Identity{}
}

// SetErrorCode stores an error code in the context.
// This should be called by handlers when returning error responses.
func SetErrorCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode retrieves the error code from context. Returns empty string if not present.
func GetErrorCode(ctx context.Context) string {
	if code, ok := ctx.Value(errorCodeKey{}).(string); ok {
		return code
	}
	return ""
}

// errorSlot carries values set deep in a handler back out to Logging, which
// only holds the request context it created.
type errorSlot struct {
	mu       sync.Mutex
	code     string
	identity Identity
}

// UpdateResponseContext publishes the error code and identity held in ctx to
// the enclosing Logging middleware. Handlers call it after SetErrorCode or
// SetViewer, since the derived context never reaches the middleware.
func UpdateResponseContext(ctx context.Context) {
	slot, ok := ctx.Value(errorSlotKey{}).(*errorSlot)
	if !ok {
		return
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if code := GetErrorCode(ctx); code != "" {
		slot.code = code
	}
	if id := GetViewer(ctx); id != (Identity{}) {
		slot.identity = id
	}
}

func (s *errorSlot) snapshot() (string, Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code, s.identity
}

// responseWriter wraps http.ResponseWriter to capture status code and response size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
// Only the first call sets the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// NewLogger creates an slog.Logger based on the environment.
// In production (env == "production"), it returns a JSON handler.
// Otherwise, it returns a text handler for development.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

// Logging is a middleware that logs HTTP requests with structured fields:
// method, path, status, latency (ms), response size, request ID, viewer or
// session id when known, and error_code for error responses.
//
// Place a recovery middleware outside of Logging if panics must be logged.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slot := &errorSlot{}
			ctx := context.WithValue(r.Context(), errorSlotKey{}, slot)
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r.WithContext(ctx))

			code, identity := slot.snapshot()
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int("size", rw.size),
			}
			if requestID := GetRequestID(ctx); requestID != "" {
				attrs = append(attrs, slog.String("request_id", requestID))
			}
			if identity.ViewerID != "" {
				attrs = append(attrs, slog.String("viewer_id", identity.ViewerID))
			} else if identity.SessionID != "" {
				attrs = append(attrs, slog.String("session_id", identity.SessionID))
			}
			if rw.statusCode >= 400 && code != "" {
				attrs = append(attrs, slog.String("error_code", code))
			}

			level := slog.LevelInfo
			switch {
			case rw.statusCode >= 500:
				level = slog.LevelError
			case rw.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}
