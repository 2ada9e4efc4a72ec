// Package license implements the license lifecycle state machine: remote
// verification, activation and deactivation against the bookkeeping server,
// periodic re-verification, and the status queries derived from the
// persisted record.
package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"gbtlicense/internal/client"
	"gbtlicense/internal/config"
	"gbtlicense/internal/connector"
	"gbtlicense/internal/hostenv"
	"gbtlicense/internal/infrastructure"
	"gbtlicense/internal/store"
)

// keyPattern is the 8-4-4-4-12 purchase code shape.
var keyPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// domainDeniedFragment mirrors the connector heuristic for verification
// responses, which carry no structured denial status.
const domainDeniedFragment = "already active on"

// Manager drives the license state machine. All mutations of the persisted
// record happen under a single mutex, so multi-key writes are never
// observed half-done.
type Manager struct {
	store     store.Store
	verifier  *client.Verifier
	connector *connector.Connector
	detector  *hostenv.Detector
	cfg       config.LicenseConfig
	logger    *slog.Logger
	metrics   *infrastructure.Metrics

	mu  sync.Mutex
	now func() time.Time
}

// NewManager wires the state machine to its collaborators. metrics may be
// nil.
func NewManager(s store.Store, verifier *client.Verifier, conn *connector.Connector, detector *hostenv.Detector, cfg config.LicenseConfig, logger *slog.Logger, metrics *infrastructure.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     s,
		verifier:  verifier,
		connector: conn,
		detector:  detector,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "license_manager")),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Activate verifies the key remotely, registers the activation with the
// bookkeeping server and persists the record. The record is written only
// after every remote step succeeded; any failure leaves the previous state
// untouched except for a domain denial, which clears local state because
// another site owns the key.
func (m *Manager) Activate(ctx context.Context, key, themeSlug, itemID string, autoUpdate bool, userEmail string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	key = strings.TrimSpace(key)
	if key == "" {
		return Fail("Please enter a license key.")
	}

	if m.cfg.Development && client.IsDevSentinel(key, m.now()) {
		return m.activateDev(ctx, key)
	}

	if !keyPattern.MatchString(key) {
		m.countActivation("invalid_format")
		return Fail("The license key format is invalid. Expected: XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX.")
	}

	m.logger.InfoContext(ctx, "license activation started",
		slog.String("operation", "activate"),
		slog.String("license_key", MaskKey(key)),
		slog.String("theme_slug", themeSlug),
		slog.String("item_id", itemID),
	)

	result, err := m.verifier.Verify(ctx, key, themeSlug)
	if err != nil {
		m.countActivation("verification_unreachable")
		return Fail(remoteFailureMessage(err))
	}
	m.countVerification(result.Success)

	if !result.Success {
		m.countActivation("rejected")
		return Fail(result.Message)
	}
	if result.Info == nil {
		m.countActivation("invalid_response")
		return Fail("The verification server returned an incomplete response. Please try again later.")
	}

	if result.Info.ItemID != itemID {
		m.countActivation("item_mismatch")
		m.logger.WarnContext(ctx, "license key belongs to a different item",
			slog.String("operation", "activate"),
			slog.String("returned_item_id", result.Info.ItemID),
			slog.String("expected_item_id", itemID),
		)
		return Fail("This license key is not valid for this theme. Please use the key purchased for this product.")
	}

	result.Info.AutoUpdate = autoUpdate
	supportExpiration := client.ParseSupportedUntil(result.Info.SupportedUntil)

	rec := &Record{
		Key:               key,
		ThemeID:           result.Info.ItemID,
		Info:              result.Info,
		SupportExpiration: supportExpiration,
		LastVerified:      m.now().Unix(),
	}

	// Local environments skip the bookkeeping write so development
	// activations never count against the production domain binding.
	if m.detector.IsLocalhost() {
		if err := saveRecord(ctx, m.store, rec); err != nil {
			m.countActivation("store_error")
			return Fail("Failed to save the license locally. Please check file permissions and try again.")
		}
		m.countActivation("success_local")
		return Succeed("License activated successfully. (Local environment)")
	}

	resp, err := m.connector.SyncActivation(ctx, key, userEmail, result.Info, supportExpiration)
	if err != nil {
		m.countActivation("server_unreachable")
		return Fail("Couldn't connect to the license server. Please check your connection and try again.")
	}

	if resp.DomainDenied(connector.StatusActivationDenied) {
		// Another site holds this key. Local state is stale, clear it.
		if err := clearRecord(ctx, m.store); err != nil {
			m.logger.ErrorContext(ctx, "failed to clear license after domain denial",
				slog.String("operation", "activate"),
				slog.String("error", err.Error()),
			)
		}
		m.countActivation("domain_denied")
		return Fail(domainDeniedMessage(resp))
	}

	if !resp.OK() {
		m.countActivation("server_rejected")
		message := resp.Message
		if message == "" {
			message = "The license server rejected the activation. Please contact support."
		}
		return Fail(message)
	}

	if err := saveRecord(ctx, m.store, rec); err != nil {
		m.countActivation("store_error")
		return Fail("Failed to save the license locally. Please check file permissions and try again.")
	}

	m.countActivation("success")
	m.logger.InfoContext(ctx, "license activated",
		slog.String("operation", "activate"),
		slog.String("license_key", MaskKey(key)),
		slog.String("item_id", itemID),
		slog.Int64("support_expiration", supportExpiration),
	)
	return Succeed("License activated successfully.")
}

// activateDev stores synthetic development data without any remote call.
// The activation path grants a one-year support window.
func (m *Manager) activateDev(ctx context.Context, key string) Result {
	now := m.now()
	info := &client.VerificationInfo{
		ItemID:          client.DevItemID,
		BuyerName:       "Development",
		BuyerUsername:   "development",
		PurchaseDate:    now.Format("2006-01-02 15:04:05"),
		SupportedUntil:  now.AddDate(1, 0, 0).Format("2006-01-02 15:04:05"),
		LicenseType:     "regular",
		LicenseProvider: "development",
		TotalPurchases:  1,
		AutoUpdate:      true,
	}
	rec := &Record{
		Key:               key,
		ThemeID:           client.DevItemID,
		Info:              info,
		SupportExpiration: client.ParseSupportedUntil(info.SupportedUntil),
		LastVerified:      now.Unix(),
	}
	if err := saveRecord(ctx, m.store, rec); err != nil {
		return Fail("Failed to save the license locally. Please check file permissions and try again.")
	}
	m.countActivation("success_dev")
	m.logger.InfoContext(ctx, "development license activated",
		slog.String("operation", "activate"),
	)
	return Succeed("Development license activated.")
}

// Deactivate releases the local license. The bookkeeping sync is
// best-effort: the local record is always cleared, even when the server is
// unreachable or denies the deactivation, because a user must always be
// able to free up their own site.
func (m *Manager) Deactivate(ctx context.Context, userEmail string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := loadRecord(ctx, m.store)
	if err != nil {
		// A corrupt record should still be clearable.
		m.logger.WarnContext(ctx, "failed to load record during deactivation",
			slog.String("operation", "deactivate"),
			slog.String("error", err.Error()),
		)
		rec = &Record{}
		if raw, ok, _ := m.store.Get(ctx, config.KeyLicenseKey); ok {
			rec.Key = raw
		}
	}

	if !rec.Active() {
		return Notice("No active license to deactivate.")
	}

	if m.detector.IsLocalhost() {
		m.logger.InfoContext(ctx, "local environment, skipping deactivation sync",
			slog.String("operation", "deactivate"),
		)
	} else {
		resp, err := m.connector.SyncDeactivation(ctx, rec.Key, userEmail)
		switch {
		case err != nil:
			m.logger.WarnContext(ctx, "deactivation sync failed, clearing locally anyway",
				slog.String("operation", "deactivate"),
				slog.String("error", err.Error()),
			)
		case resp.DomainDenied(connector.StatusDeactivationDenied):
			m.logger.WarnContext(ctx, "server denied deactivation, clearing locally anyway",
				slog.String("operation", "deactivate"),
				slog.String("active_domain", resp.ActiveDomain()),
			)
		case !resp.OK():
			m.logger.WarnContext(ctx, "server rejected deactivation, clearing locally anyway",
				slog.String("operation", "deactivate"),
				slog.String("server_message", resp.Message),
			)
		}
	}

	if err := clearRecord(ctx, m.store); err != nil {
		return Fail("Failed to remove the local license data. Please check file permissions and try again.")
	}

	m.logger.InfoContext(ctx, "license deactivated",
		slog.String("operation", "deactivate"),
		slog.String("license_key", MaskKey(rec.Key)),
	)
	return Succeed("License deactivated successfully.")
}

// MaybeReverify re-runs verification when the last check is older than the
// re-verification interval. A nil return means the gate was closed and no
// remote call happened.
func (m *Manager) MaybeReverify(ctx context.Context) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := loadRecord(ctx, m.store)
	if err != nil || !rec.Active() {
		return nil
	}

	lastVerified := time.Unix(rec.LastVerified, 0)
	if m.now().Sub(lastVerified) < m.cfg.ReverifyInterval {
		return nil
	}

	result := m.reverifyLocked(ctx, rec)
	return &result
}

// Reverify re-runs verification immediately, bypassing the interval gate.
// Used for explicit user-triggered refresh actions.
func (m *Manager) Reverify(ctx context.Context) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := loadRecord(ctx, m.store)
	if err != nil {
		return Fail("The stored license data could not be read. Please re-activate your license.")
	}
	if !rec.Active() {
		return Notice("No active license to verify.")
	}
	return m.reverifyLocked(ctx, rec)
}

// reverifyLocked performs one verification round for the stored key.
// The last-verified watermark moves forward on every attempt, success or
// not, so a flapping server cannot trigger a verification on every check.
func (m *Manager) reverifyLocked(ctx context.Context, rec *Record) Result {
	m.logger.InfoContext(ctx, "license re-verification started",
		slog.String("operation", "reverify"),
		slog.String("license_key", MaskKey(rec.Key)),
	)

	result, err := m.verifier.Verify(ctx, rec.Key, m.cfg.ThemeSlug)
	rec.LastVerified = m.now().Unix()

	if err != nil {
		m.countVerification(false)
		if saveErr := saveRecord(ctx, m.store, rec); saveErr != nil {
			m.logger.ErrorContext(ctx, "failed to persist verification watermark",
				slog.String("operation", "reverify"),
				slog.String("error", saveErr.Error()),
			)
		}
		return Fail(remoteFailureMessage(err))
	}

	if !result.Success {
		m.countVerification(false)
		if strings.Contains(strings.ToLower(result.Message), domainDeniedFragment) {
			// Another site has claimed the key since the last check.
			if err := clearRecord(ctx, m.store); err != nil {
				m.logger.ErrorContext(ctx, "failed to clear license after domain denial",
					slog.String("operation", "reverify"),
					slog.String("error", err.Error()),
				)
			}
			m.logger.WarnContext(ctx, "license claimed by another domain, local data cleared",
				slog.String("operation", "reverify"),
			)
			return Fail(result.Message)
		}

		if err := saveRecord(ctx, m.store, rec); err != nil {
			m.logger.ErrorContext(ctx, "failed to persist verification watermark",
				slog.String("operation", "reverify"),
				slog.String("error", err.Error()),
			)
		}
		return Fail(result.Message)
	}

	m.countVerification(true)
	if result.Info != nil {
		rec.Info = result.Info
		rec.ThemeID = result.Info.ItemID
		rec.SupportExpiration = client.ParseSupportedUntil(result.Info.SupportedUntil)
	}
	if err := saveRecord(ctx, m.store, rec); err != nil {
		return Fail("Failed to save the refreshed license data. Please check file permissions and try again.")
	}

	m.logger.InfoContext(ctx, "license re-verified",
		slog.String("operation", "reverify"),
		slog.Int64("support_expiration", rec.SupportExpiration),
	)
	return Succeed("License verified successfully.")
}

func remoteFailureMessage(err error) string {
	if errors.Is(err, client.ErrInvalidResponse) {
		return "The verification server returned an invalid response. Please try again later."
	}
	return "Could not reach the verification server. Please check your connection and try again."
}

func domainDeniedMessage(resp *connector.Response) string {
	domain := resp.ActiveDomain()
	if domain == "" {
		if resp.Message != "" {
			return resp.Message
		}
		return "This license key is already active on another domain. Deactivate it there first, then try again."
	}
	return fmt.Sprintf("This license key is already active on %s. Open that site, go to Theme > License and deactivate it there, then try again here.", domain)
}

func (m *Manager) countActivation(result string) {
	if m.metrics != nil {
		m.metrics.ActivationsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Manager) countVerification(success bool) {
	if m.metrics == nil {
		return
	}
	if success {
		m.metrics.VerificationsTotal.WithLabelValues("success").Inc()
	} else {
		m.metrics.VerificationsTotal.WithLabelValues("failure").Inc()
	}
}
