// ABOUTME: Limiter contract, rules, and the HTTP middleware that enforces them
// ABOUTME: Sets X-RateLimit-* headers and Retry-After on rejection

package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pengfeipang/aizn/internal/metrics"
)

// Rule is a request budget for one scope.
type Rule struct {
	Name   string // scope label, part of the storage key
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter counts a request against rule for key.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Decision, error)
}

// KeyFunc derives the client key for a request, usually its IP.
type KeyFunc func(r *http.Request) string

// RejectFunc writes the response for a rate-limited request.
type RejectFunc func(w http.ResponseWriter, r *http.Request, d Decision)

// windowStart returns the start of the fixed window containing now.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

// Middleware enforces rule on every request passing through it.
func Middleware(l Limiter, rule Rule, key KeyFunc, reject RejectFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := key(r)
			d, err := l.Allow(r.Context(), client, rule)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request", "rule", rule.Name, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				metrics.RateLimitHits.WithLabelValues(rule.Name).Inc()
				logger.Warn("rate limit exceeded",
					"type", "security",
					"rule", rule.Name,
					"client", client,
					"method", r.Method)
				reject(w, r, d)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
