package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/hongminglow/hostel-portal/internal/http/respond"
)

// RateLimiter caps the request rate of the portal. The portal serves a
// single student, so one token bucket covers all callers.
type RateLimiter struct {
	limiter *rate.Limiter
	rate    rate.Limit
}

// NewRateLimiter allows perMinute requests per minute with an equal burst.
// A non-positive budget disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{}
	}
	r := rate.Limit(float64(perMinute) / 60.0)
	return &RateLimiter{limiter: rate.NewLimiter(r, perMinute), rate: r}
}

// Middleware rejects requests over budget with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limiter != nil && !rl.limiter.Allow() {
			retryAfter := int(math.Ceil(1.0 / float64(rl.rate)))
			if retryAfter < 1 {
				retryAfter = 1
			}
			slog.WarnContext(r.Context(), "rate limit exceeded", slog.String("path", r.URL.Path))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			respond.Error(w, http.StatusTooManyRequests, "Too many requests. Please wait and retry.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
