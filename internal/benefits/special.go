// Package benefits implements the special-benefits eligibility gate and its
// two input feeds: the special license grants and the buyer review
// metadata. Both feeds are cached in the persistent store and refreshed
// only on explicit request; the gate itself never touches the network.
package benefits

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gbtlicense/internal/client"
	"gbtlicense/internal/config"
	"gbtlicense/internal/store"
)

// OverallStatus summarizes the special license grants for this install.
type OverallStatus struct {
	HasSpecialLicense    bool `json:"has_special_license"`
	BuiltInUpdatesActive bool `json:"built_in_updates_active"`
	SupportActive        bool `json:"support_active"`
}

// BenefitWindow is the time-bounded state of one benefit category.
type BenefitWindow struct {
	DaysRemaining int  `json:"days_remaining"`
	Expired       bool `json:"expired"`
}

// SpecialLicenseData is the cached special license blob. It carries no
// local expiration; it is only replaced by an explicit refresh.
type SpecialLicenseData struct {
	OverallStatus  OverallStatus `json:"overall_status"`
	BuiltInUpdates BenefitWindow `json:"built_in_updates"`
	Support        BenefitWindow `json:"support"`
	RefreshedAt    int64         `json:"refreshed_at,omitempty"`
}

type specialLicenseResponse struct {
	Data *SpecialLicenseData `json:"data"`
}

type specialLicenseRequest struct {
	LicenseKey string `json:"license_key"`
}

// SpecialManager fetches and caches special license grants.
type SpecialManager struct {
	fallback *client.Fallback
	urls     []string
	store    store.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewSpecialManager creates a special license manager.
func NewSpecialManager(fallback *client.Fallback, urls []string, s store.Store, logger *slog.Logger) *SpecialManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpecialManager{
		fallback: fallback,
		urls:     urls,
		store:    s,
		logger:   logger.With(slog.String("component", "special_license")),
		now:      time.Now,
	}
}

// Refresh fetches the special license state for the key and replaces the
// cache. On failure the previous cache is left in place.
func (m *SpecialManager) Refresh(ctx context.Context, licenseKey string) (*SpecialLicenseData, error) {
	var resp specialLicenseResponse
	err := m.fallback.PostJSON(ctx, "special_license", m.urls, specialLicenseRequest{LicenseKey: licenseKey}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("special license response carried no data")
	}

	data := resp.Data
	data.RefreshedAt = m.now().Unix()

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode special license data: %w", err)
	}
	if err := m.store.Set(ctx, config.KeySpecialLicense, string(raw)); err != nil {
		return nil, fmt.Errorf("failed to cache special license data: %w", err)
	}

	m.logger.InfoContext(ctx, "special license data refreshed",
		slog.String("operation", "special_refresh"),
		slog.Bool("has_special_license", data.OverallStatus.HasSpecialLicense),
		slog.Bool("built_in_updates_active", data.OverallStatus.BuiltInUpdatesActive),
		slog.Bool("support_active", data.OverallStatus.SupportActive),
	)
	return data, nil
}

// Cached returns the cached special license data, or (nil, false) when
// nothing has been fetched yet.
func (m *SpecialManager) Cached(ctx context.Context) (*SpecialLicenseData, bool, error) {
	raw, ok, err := m.store.Get(ctx, config.KeySpecialLicense)
	if err != nil {
		return nil, false, err
	}
	if !ok || raw == "" {
		return nil, false, nil
	}

	data := &SpecialLicenseData{}
	if err := json.Unmarshal([]byte(raw), data); err != nil {
		return nil, false, fmt.Errorf("corrupt special license cache: %w", err)
	}
	return data, true, nil
}
