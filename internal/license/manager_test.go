package license

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
	"gbtlicense/internal/config"
	"gbtlicense/internal/connector"
	"gbtlicense/internal/hostenv"
	"gbtlicense/internal/store"
)

const (
	testKey    = "ABCDEF12-3456-7890-ABCD-EF1234567890"
	testItemID = "12345"
)

type managerFixture struct {
	manager *Manager
	store   *store.MemoryStore
	verify  *httptest.Server
	server  *httptest.Server
}

type fixtureOpts struct {
	domain        string
	development   bool
	verifyHandler http.HandlerFunc
	serverHandler http.HandlerFunc
}

func newFixture(t *testing.T, opts fixtureOpts) *managerFixture {
	t.Helper()

	if opts.domain == "" {
		opts.domain = "myshop.com"
	}
	if opts.verifyHandler == nil {
		opts.verifyHandler = verifyOK(testItemID, "2027-03-01 00:00:00")
	}
	if opts.serverHandler == nil {
		opts.serverHandler = serverOK()
	}

	verifySrv := httptest.NewServer(opts.verifyHandler)
	t.Cleanup(verifySrv.Close)
	serverSrv := httptest.NewServer(opts.serverHandler)
	t.Cleanup(serverSrv.Close)

	mem := store.NewMemoryStore()
	fb := client.NewFallback(5*time.Second, nil, nil)
	verifier := client.NewVerifier(fb, []string{verifySrv.URL}, opts.development, nil)
	detector := hostenv.NewDetector(config.HostConfig{
		Domain:          opts.domain,
		LocalHostnames:  []string{"localhost"},
		LocalExtensions: []string{".local", ".test"},
	})
	conn := connector.New(fb, []string{serverSrv.URL}, detector.Domain(), "", "shopkeeper", opts.development, nil)
	cfg := config.LicenseConfig{
		ThemeSlug:        "shopkeeper",
		ItemID:           testItemID,
		ReverifyInterval: 720 * time.Hour,
		ExpiringSoonDays: 30,
		Development:      opts.development,
	}

	return &managerFixture{
		manager: NewManager(mem, verifier, conn, detector, cfg, nil, nil),
		store:   mem,
		verify:  verifySrv,
		server:  serverSrv,
	}
}

func verifyOK(itemID, supportedUntil string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(client.VerificationResult{
			Success: true,
			Message: "License verified",
			Info: &client.VerificationInfo{
				ItemID:         itemID,
				BuyerName:      "Buyer",
				BuyerUsername:  "buyer",
				PurchaseDate:   "2025-01-15 09:00:00",
				SupportedUntil: supportedUntil,
				LicenseType:    "regular",
				TotalPurchases: 1,
			},
		})
	}
}

func verifyReject(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(client.VerificationResult{Success: false, Message: message})
	}
}

func serverOK() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(connector.Response{Status: "ok"})
	}
}

func serverDenied(activeDomain string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(connector.Response{
			Status:  "error",
			Message: "License is already active on " + activeDomain,
			Data:    &connector.ResponseData{Status: connector.StatusActivationDenied, ActiveDomain: activeDomain},
		})
	}
}

// assertRecordAbsent checks that no record field is stored at all (P1: no
// partial writes observable).
func assertRecordAbsent(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	for _, key := range recordKeys {
		_, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "key %s must not be set", key)
	}
}

// assertRecordComplete checks that every record field is stored (P1).
func assertRecordComplete(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	for _, key := range recordKeys {
		v, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "key %s must be set", key)
		assert.NotEmpty(t, v, "key %s must be non-empty", key)
	}
}

func TestActivateSuccess(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	result := f.manager.Activate(ctx, testKey, "shopkeeper", testItemID, true, "")
	require.True(t, result.Success, result.Message)
	assert.Equal(t, MessageSuccess, result.Type)

	assertRecordComplete(t, f.store)
	assert.True(t, f.manager.IsLicenseActive(ctx))
	assert.True(t, f.manager.IsSupportActive(ctx))
}

func TestActivateValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "empty key", key: ""},
		{name: "whitespace key", key: "   "},
		{name: "too short", key: "ABCD-1234"},
		{name: "wrong segment lengths", key: "ABC-DEFG-HIJK-LMNO-PQRSTUVWXYZ123456"},
		{name: "non hex characters", key: "ZZZZZZZZ-ZZZZ-ZZZZ-ZZZZ-ZZZZZZZZZZZZ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{
				verifyHandler: func(w http.ResponseWriter, r *http.Request) {
					t.Error("validation failures must not reach the network")
				},
			})
			result := f.manager.Activate(context.Background(), tt.key, "shopkeeper", testItemID, false, "")
			assert.False(t, result.Success)
			assertRecordAbsent(t, f.store)
		})
	}
}

// E2E scenario B: server-unknown key leaves no trace locally.
func TestActivateServerRejection(t *testing.T) {
	f := newFixture(t, fixtureOpts{verifyHandler: verifyReject("Invalid code")})
	ctx := context.Background()

	result := f.manager.Activate(ctx, testKey, "shopkeeper", testItemID, false, "")
	assert.False(t, result.Success)
	assert.Equal(t, "Invalid code", result.Message)

	assertRecordAbsent(t, f.store)
	assert.False(t, f.manager.IsLicenseActive(ctx))
}

// E2E scenario C: item mismatch fails before anything is stored.
func TestActivateItemMismatch(t *testing.T) {
	f := newFixture(t, fixtureOpts{verifyHandler: verifyOK("99999", "2027-03-01 00:00:00")})

	result := f.manager.Activate(context.Background(), testKey, "shopkeeper", testItemID, false, "")
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "not valid for this theme")
	assertRecordAbsent(t, f.store)
}

func TestActivateVerificationUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(nil))
	dead.Close()

	f := newFixture(t, fixtureOpts{})
	f.manager.verifier = client.NewVerifier(client.NewFallback(time.Second, nil, nil), []string{dead.URL}, false, nil)

	result := f.manager.Activate(context.Background(), testKey, "shopkeeper", testItemID, false, "")
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "check your connection")
	assertRecordAbsent(t, f.store)
}

// Activation is not complete without the bookkeeping write: a dead license
// server means nothing is stored.
func TestActivateConnectorUnreachable(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.server.Close()

	result := f.manager.Activate(context.Background(), testKey, "shopkeeper", testItemID, false, "")
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "license server")
	assertRecordAbsent(t, f.store)
}

// P7: a structured domain denial clears local state and surfaces the
// claiming domain in the message.
func TestActivateDomainDenied(t *testing.T) {
	f := newFixture(t, fixtureOpts{serverHandler: serverDenied("other.com")})
	ctx := context.Background()

	// Seed an existing record to prove the denial clears it.
	require.NoError(t, saveRecord(ctx, f.store, &Record{
		Key:          "11111111-2222-3333-4444-555555555555",
		ThemeID:      testItemID,
		Info:         &client.VerificationInfo{ItemID: testItemID},
		LastVerified: time.Now().Unix(),
	}))

	result := f.manager.Activate(ctx, testKey, "shopkeeper", testItemID, false, "")
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "other.com")
	assertRecordAbsent(t, f.store)
}

// Other server errors preserve whatever local state existed before.
func TestActivateServerErrorPreservesState(t *testing.T) {
	f := newFixture(t, fixtureOpts{serverHandler: func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(connector.Response{Status: "error", Message: "Maintenance in progress"})
	}})
	ctx := context.Background()

	existing := &Record{
		Key:          "11111111-2222-3333-4444-555555555555",
		ThemeID:      testItemID,
		Info:         &client.VerificationInfo{ItemID: testItemID},
		LastVerified: time.Now().Unix(),
	}
	require.NoError(t, saveRecord(ctx, f.store, existing))

	result := f.manager.Activate(ctx, testKey, "shopkeeper", testItemID, false, "")
	assert.False(t, result.Success)
	assert.Equal(t, "Maintenance in progress", result.Message)

	rec, err := loadRecord(ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, existing.Key, rec.Key)
}

// Local environments store the record without touching the bookkeeping
// server, and say so in the result.
func TestActivateLocalhostSkipsConnector(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		domain: "myshop.local",
		serverHandler: func(w http.ResponseWriter, r *http.Request) {
			t.Error("bookkeeping server must not be called from a local environment")
		},
	})

	result := f.manager.Activate(context.Background(), testKey, "shopkeeper", testItemID, false, "")
	require.True(t, result.Success, result.Message)
	assert.Contains(t, result.Message, "(Local environment)")
	assertRecordComplete(t, f.store)
}

// E2E scenario A, activation path: today's sentinel stores DEV-0000 with a
// one-year support window without any remote call.
func TestActivateDevSentinel(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		development: true,
		verifyHandler: func(w http.ResponseWriter, r *http.Request) {
			t.Error("sentinel activation must not call the verification API")
		},
		serverHandler: func(w http.ResponseWriter, r *http.Request) {
			t.Error("sentinel activation must not call the bookkeeping server")
		},
	})
	ctx := context.Background()

	result := f.manager.Activate(ctx, client.DevSentinelKey(time.Now()), "shopkeeper", testItemID, true, "")
	require.True(t, result.Success, result.Message)

	rec, err := loadRecord(ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, client.DevItemID, rec.ThemeID)

	yearFromNow := time.Now().AddDate(1, 0, 0).Unix()
	assert.InDelta(t, yearFromNow, rec.SupportExpiration, 120)
}

func TestActivateDevSentinelDisabledInProduction(t *testing.T) {
	f := newFixture(t, fixtureOpts{verifyHandler: verifyReject("Invalid code")})

	result := f.manager.Activate(context.Background(), client.DevSentinelKey(time.Now()), "shopkeeper", testItemID, false, "")
	assert.False(t, result.Success)
	assertRecordAbsent(t, f.store)
}

// P2: deactivation is idempotent; the second call reports no active
// license.
func TestDeactivateIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	require.True(t, f.manager.Activate(ctx, testKey, "shopkeeper", testItemID, false, "").Success)

	first := f.manager.Deactivate(ctx, "")
	assert.True(t, first.Success)
	assertRecordAbsent(t, f.store)

	second := f.manager.Deactivate(ctx, "")
	assert.True(t, second.Success)
	assert.Contains(t, second.Message, "No active license to deactivate")
}

// Deactivation clears locally even when the bookkeeping server is dead.
func TestDeactivateClearsDespiteServerFailure(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	require.True(t, f.manager.Activate(ctx, testKey, "shopkeeper", testItemID, false, "").Success)
	f.server.Close()

	result := f.manager.Deactivate(ctx, "")
	assert.True(t, result.Success)
	assertRecordAbsent(t, f.store)
}

// Deactivation clears locally even when the server denies it.
func TestDeactivateClearsDespiteDomainDenial(t *testing.T) {
	denyOnce := false
	f := newFixture(t, fixtureOpts{serverHandler: func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostFormValue("action") == "deactivation" {
			denyOnce = true
			json.NewEncoder(w).Encode(connector.Response{
				Status: "error",
				Data:   &connector.ResponseData{Status: connector.StatusDeactivationDenied, ActiveDomain: "other.com"},
			})
			return
		}
		json.NewEncoder(w).Encode(connector.Response{Status: "ok"})
	}})
	ctx := context.Background()

	require.True(t, f.manager.Activate(ctx, testKey, "shopkeeper", testItemID, false, "").Success)

	result := f.manager.Deactivate(ctx, "")
	assert.True(t, result.Success)
	assert.True(t, denyOnce)
	assertRecordAbsent(t, f.store)
}

// P4: the interval gate.
func TestMaybeReverifyGate(t *testing.T) {
	tests := []struct {
		name         string
		lastVerified time.Duration // age of the last verification
		wantCall     bool
	}{
		{name: "29 days old is a no-op", lastVerified: 29 * 24 * time.Hour, wantCall: false},
		{name: "31 days old verifies", lastVerified: 31 * 24 * time.Hour, wantCall: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			f := newFixture(t, fixtureOpts{verifyHandler: func(w http.ResponseWriter, r *http.Request) {
				called = true
				verifyOK(testItemID, "2027-03-01 00:00:00")(w, r)
			}})
			ctx := context.Background()

			require.NoError(t, saveRecord(ctx, f.store, &Record{
				Key:          testKey,
				ThemeID:      testItemID,
				Info:         &client.VerificationInfo{ItemID: testItemID},
				LastVerified: time.Now().Add(-tt.lastVerified).Unix(),
			}))

			result := f.manager.MaybeReverify(ctx)
			assert.Equal(t, tt.wantCall, called)
			if tt.wantCall {
				require.NotNil(t, result)
				assert.True(t, result.Success)
			} else {
				assert.Nil(t, result)
			}
		})
	}
}

func TestMaybeReverifyNoLicense(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	assert.Nil(t, f.manager.MaybeReverify(context.Background()))
}

// A failed re-verification leaves the record but moves the watermark, so
// the next check waits a full interval again.
func TestReverifyFailureKeepsRecordMovesWatermark(t *testing.T) {
	f := newFixture(t, fixtureOpts{verifyHandler: verifyReject("Invalid code")})
	ctx := context.Background()

	staleWatermark := time.Now().Add(-40 * 24 * time.Hour).Unix()
	require.NoError(t, saveRecord(ctx, f.store, &Record{
		Key:          testKey,
		ThemeID:      testItemID,
		Info:         &client.VerificationInfo{ItemID: testItemID},
		LastVerified: staleWatermark,
	}))

	result := f.manager.Reverify(ctx)
	assert.False(t, result.Success)

	rec, err := loadRecord(ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, testKey, rec.Key, "record survives a non-domain failure")
	assert.Greater(t, rec.LastVerified, staleWatermark, "watermark moves on every attempt")
}

// A domain denial during re-verification means another site claimed the
// key; local state goes away.
func TestReverifyDomainDenialClearsRecord(t *testing.T) {
	f := newFixture(t, fixtureOpts{verifyHandler: verifyReject("This key is already active on other.com")})
	ctx := context.Background()

	require.NoError(t, saveRecord(ctx, f.store, &Record{
		Key:          testKey,
		ThemeID:      testItemID,
		Info:         &client.VerificationInfo{ItemID: testItemID},
		LastVerified: time.Now().Add(-40 * 24 * time.Hour).Unix(),
	}))

	result := f.manager.Reverify(ctx)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "other.com")
	assertRecordAbsent(t, f.store)
}

func TestReverifyTransportFailureKeepsRecord(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.verify.Close()
	ctx := context.Background()

	require.NoError(t, saveRecord(ctx, f.store, &Record{
		Key:          testKey,
		ThemeID:      testItemID,
		Info:         &client.VerificationInfo{ItemID: testItemID},
		LastVerified: time.Now().Add(-40 * 24 * time.Hour).Unix(),
	}))

	result := f.manager.Reverify(ctx)
	assert.False(t, result.Success)

	rec, err := loadRecord(ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, testKey, rec.Key)
}

func TestReverifyWithoutLicense(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	result := f.manager.Reverify(context.Background())
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "No active license")
}

func TestReverifySuccessRefreshesSupportWindow(t *testing.T) {
	f := newFixture(t, fixtureOpts{verifyHandler: verifyOK(testItemID, "2030-01-01 00:00:00")})
	ctx := context.Background()

	require.NoError(t, saveRecord(ctx, f.store, &Record{
		Key:               testKey,
		ThemeID:           testItemID,
		Info:              &client.VerificationInfo{ItemID: testItemID},
		SupportExpiration: time.Now().Add(24 * time.Hour).Unix(),
		LastVerified:      time.Now().Add(-40 * 24 * time.Hour).Unix(),
	}))

	result := f.manager.Reverify(ctx)
	require.True(t, result.Success, result.Message)

	rec, err := loadRecord(ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), rec.SupportExpiration)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "ABCDEF12...", MaskKey(testKey))
	assert.Equal(t, "short", MaskKey("short"))
	assert.Equal(t, "", MaskKey(""))
}
