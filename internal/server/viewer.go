package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leonletto/chatsync/internal/api"
	"github.com/leonletto/chatsync/internal/identity"
)

type viewerKey struct{}

// WithViewer returns a context carrying the authenticated viewer ID.
func WithViewer(ctx context.Context, viewerID string) context.Context {
	return context.WithValue(ctx, viewerKey{}, viewerID)
}

// ViewerFrom returns the viewer ID stored in ctx, or "".
func ViewerFrom(ctx context.Context) string {
	if v, ok := ctx.Value(viewerKey{}).(string); ok {
		return v
	}
	return ""
}

// requestLogger attaches a request-scoped logger, tagged with the caller's
// X-Request-ID or a fresh one, to the request context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(api.HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(api.HeaderRequestID, reqID)

		l := s.logger.With().Str("request_id", reqID).Str("method", r.Method).Str("path", r.URL.Path).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

// requireViewer resolves the viewer from the X-User-ID header. Requests
// without a valid identity are rejected with 401.
func (s *Server) requireViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewerID := r.Header.Get(api.HeaderUserID)
		if viewerID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+api.HeaderUserID+" header")
			return
		}
		if err := identity.ValidateUserID(viewerID); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := WithViewer(r.Context(), viewerID)
		l := zerolog.Ctx(ctx).With().Str("viewer", viewerID).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(ctx)))
	})
}

// rateLimit rejects viewers over their request budget with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.limiter.Allow(ViewerFrom(r.Context())); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("request rate limited")
			w.Header().Set("Retry-After", "1")
			if rle, ok := err.(*RateLimitError); ok {
				writeError(w, rle.Code, rle.Message)
				return
			}
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
