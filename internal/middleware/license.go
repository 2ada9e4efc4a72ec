package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	apierrors "gbtlicense/internal/errors"
)

// LicenseChecker reports whether an active license is stored.
type LicenseChecker interface {
	IsLicenseActive(ctx context.Context) bool
}

// LicenseGate blocks requests to protected endpoints when no license is
// active. License management and health endpoints are always excluded so a
// site can activate its way out of the blocked state.
type LicenseGate struct {
	checker         LicenseChecker
	logger          *slog.Logger
	excludePaths    map[string]struct{}
	excludePrefixes []string

	mu        sync.Mutex
	cachedOK  bool
	checkedAt time.Time
	ttl       time.Duration
}

// NewLicenseGate creates the gate with the default exclusions.
func NewLicenseGate(checker LicenseChecker, logger *slog.Logger) *LicenseGate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &LicenseGate{
		checker: checker,
		logger:  logger.With(slog.String("component", "license_gate")),
		ttl:     time.Minute,
		excludePaths: map[string]struct{}{
			"/healthz": {},
			"/metrics": {},
		},
		excludePrefixes: []string{
			"/api/license/",
		},
	}
	return g
}

// Handler returns the middleware handler function.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !g.active(r.Context()) {
			g.logger.InfoContext(r.Context(), "request blocked, no active license",
				slog.String("path", r.URL.Path),
			)
			apierrors.RenderError(w, r, g.logger, apierrors.ErrLicenseRequired)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *LicenseGate) excluded(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// active checks the license state through a short-lived cache. Positive and
// negative answers are both cached: the store read is cheap but the gate
// sits in front of every request.
func (g *LicenseGate) active(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Since(g.checkedAt) < g.ttl {
		return g.cachedOK
	}
	g.cachedOK = g.checker.IsLicenseActive(ctx)
	g.checkedAt = time.Now()
	return g.cachedOK
}

// Invalidate drops the cached answer. Called after activation and
// deactivation so state changes take effect immediately.
func (g *LicenseGate) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkedAt = time.Time{}
}
