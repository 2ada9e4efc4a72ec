package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	active bool
	calls  int
}

func (f *fakeChecker) IsLicenseActive(ctx context.Context) bool {
	f.calls++
	return f.active
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveGate(g *LicenseGate, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGateBlocksWithoutLicense(t *testing.T) {
	g := NewLicenseGate(&fakeChecker{active: false}, nil)

	rec := serveGate(g, "/api/theme/features")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "LICENSE_REQUIRED")
}

func TestGatePassesWithLicense(t *testing.T) {
	g := NewLicenseGate(&fakeChecker{active: true}, nil)

	rec := serveGate(g, "/api/theme/features")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// License management, health, and metrics endpoints stay reachable even
// when no license is active, otherwise a site could never activate.
func TestGateExclusions(t *testing.T) {
	g := NewLicenseGate(&fakeChecker{active: false}, nil)

	for _, path := range []string{
		"/healthz",
		"/metrics",
		"/api/license/activate",
		"/api/license/status",
	} {
		rec := serveGate(g, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestGateCachesDecision(t *testing.T) {
	checker := &fakeChecker{active: true}
	g := NewLicenseGate(checker, nil)

	serveGate(g, "/api/theme/features")
	serveGate(g, "/api/theme/features")
	assert.Equal(t, 1, checker.calls, "second request must hit the cache")

	g.Invalidate()
	serveGate(g, "/api/theme/features")
	assert.Equal(t, 2, checker.calls, "invalidation must force a re-check")
}
