package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	apierrors "gbtlicense/internal/errors"
)

// RateLimit applies a global token-bucket limit. Activation talks to remote
// license endpoints on every call, so the bucket is shared across clients
// rather than keyed per IP: the resource being protected is the upstream,
// not this server.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				apierrors.RenderError(w, r, nil, apierrors.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
