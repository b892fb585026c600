package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leonletto/chatsync/internal/config"
)

// RateLimiter applies a token bucket per viewer.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*viewerLimiter
	cfg      config.RateLimitConfig
	now      func() time.Time
}

type viewerLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter creates a limiter. Zero rate or burst fall back to the
// config defaults.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if cfg.MaxRequestsPerSecond == 0 {
		cfg.MaxRequestsPerSecond = config.DefaultMaxRequestsPerSecond
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = config.DefaultBurstSize
	}
	return &RateLimiter{
		limiters: make(map[string]*viewerLimiter),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Allow returns nil if viewerID may make another request now, or a
// *RateLimitError.
func (r *RateLimiter) Allow(viewerID string) error {
	if !r.cfg.Enabled {
		return nil
	}
	if !r.getLimiter(viewerID).AllowN(r.now(), 1) {
		return &RateLimitError{
			Code:     http.StatusTooManyRequests,
			Message:  "rate limit exceeded",
			ViewerID: viewerID,
		}
	}
	return nil
}

// CleanupStale drops limiters for viewers not seen within maxAge and
// returns how many were removed.
func (r *RateLimiter) CleanupStale(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, vl := range r.limiters {
		if vl.lastAccess.Before(cutoff) {
			delete(r.limiters, id)
			removed++
		}
	}
	return removed
}

func (r *RateLimiter) getLimiter(viewerID string) *rate.Limiter {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if vl, ok := r.limiters[viewerID]; ok {
		vl.lastAccess = now
		return vl.limiter
	}
	limiter := rate.NewLimiter(rate.Limit(r.cfg.MaxRequestsPerSecond), r.cfg.BurstSize)
	r.limiters[viewerID] = &viewerLimiter{limiter: limiter, lastAccess: now}
	return limiter
}

// RateLimitError is returned when a viewer exceeds its budget.
type RateLimitError struct {
	Code     int
	Message  string
	ViewerID string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit error (code %d) for viewer %s: %s", e.Code, e.ViewerID, e.Message)
}
