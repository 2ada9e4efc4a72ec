package benefits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gbtlicense/internal/client"
	"gbtlicense/internal/store"
)

func TestSpecialRefreshAndCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req specialLicenseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "AAAAAAAA-BBBB-CCCC-DDDD-EEEEFFFF0000", req.LicenseKey)

		json.NewEncoder(w).Encode(specialLicenseResponse{Data: &SpecialLicenseData{
			OverallStatus:  OverallStatus{HasSpecialLicense: true, BuiltInUpdatesActive: true, SupportActive: false},
			BuiltInUpdates: BenefitWindow{DaysRemaining: 120},
			Support:        BenefitWindow{Expired: true},
		}})
	}))
	defer srv.Close()

	mem := store.NewMemoryStore()
	m := NewSpecialManager(client.NewFallback(5*time.Second, nil, nil), []string{srv.URL}, mem, nil)

	data, err := m.Refresh(context.Background(), "AAAAAAAA-BBBB-CCCC-DDDD-EEEEFFFF0000")
	require.NoError(t, err)
	assert.True(t, data.OverallStatus.HasSpecialLicense)
	assert.Equal(t, 120, data.BuiltInUpdates.DaysRemaining)
	assert.True(t, data.Support.Expired)
	assert.NotZero(t, data.RefreshedAt)

	cached, ok, err := m.Cached(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data.OverallStatus, cached.OverallStatus)
}

// A failed refresh keeps the previous cache: the special license blob has
// no local expiry and only an explicit successful fetch replaces it.
func TestSpecialRefreshFailureKeepsCache(t *testing.T) {
	mem := store.NewMemoryStore()
	previous := &SpecialLicenseData{OverallStatus: OverallStatus{HasSpecialLicense: true}}
	raw, err := json.Marshal(previous)
	require.NoError(t, err)
	require.NoError(t, mem.Set(context.Background(), "gbt_special_license_data", string(raw)))

	dead := httptest.NewServer(http.HandlerFunc(nil))
	dead.Close()

	m := NewSpecialManager(client.NewFallback(time.Second, nil, nil), []string{dead.URL}, mem, nil)
	_, err = m.Refresh(context.Background(), "AAAAAAAA-BBBB-CCCC-DDDD-EEEEFFFF0000")
	require.Error(t, err)

	cached, ok, err := m.Cached(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cached.OverallStatus.HasSpecialLicense)
}

func TestSpecialCachedEmpty(t *testing.T) {
	m := NewSpecialManager(client.NewFallback(time.Second, nil, nil), nil, store.NewMemoryStore(), nil)
	_, ok, err := m.Cached(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpecialRefreshEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null}`))
	}))
	defer srv.Close()

	m := NewSpecialManager(client.NewFallback(time.Second, nil, nil), []string{srv.URL}, store.NewMemoryStore(), nil)
	_, err := m.Refresh(context.Background(), "AAAAAAAA-BBBB-CCCC-DDDD-EEEEFFFF0000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}
