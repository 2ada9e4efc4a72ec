package license

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"gbtlicense/internal/client"
	"gbtlicense/internal/config"
	"gbtlicense/internal/store"
)

// Record is the persisted license state. An empty Key means no license;
// the remaining fields are only meaningful alongside a non-empty Key and
// are always written or cleared as a unit.
type Record struct {
	Key               string
	ThemeID           string
	Info              *client.VerificationInfo
	SupportExpiration int64 // unix seconds, 0 when unknown or unparseable
	LastVerified      int64 // unix seconds of the last verification attempt
}

// Active reports whether a license key is stored.
func (r *Record) Active() bool {
	return r.Key != ""
}

// recordKeys are every store key a record occupies, in clear order.
var recordKeys = []string{
	config.KeyLicenseKey,
	config.KeyThemeID,
	config.KeyLicenseInfo,
	config.KeySupportExpiration,
	config.KeyLastVerified,
}

// loadRecord reads the license record from the store. Missing keys load as
// zero values; a corrupt info blob is an error so callers never operate on
// half a record.
func loadRecord(ctx context.Context, s store.Store) (*Record, error) {
	rec := &Record{}

	var err error
	if rec.Key, err = getString(ctx, s, config.KeyLicenseKey); err != nil {
		return nil, err
	}
	if rec.ThemeID, err = getString(ctx, s, config.KeyThemeID); err != nil {
		return nil, err
	}

	raw, err := getString(ctx, s, config.KeyLicenseInfo)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		info := &client.VerificationInfo{}
		if err := json.Unmarshal([]byte(raw), info); err != nil {
			return nil, fmt.Errorf("corrupt license info in store: %w", err)
		}
		rec.Info = info
	}

	if rec.SupportExpiration, err = getInt64(ctx, s, config.KeySupportExpiration); err != nil {
		return nil, err
	}
	if rec.LastVerified, err = getInt64(ctx, s, config.KeyLastVerified); err != nil {
		return nil, err
	}
	return rec, nil
}

// saveRecord writes every record field. The caller holds the manager mutex,
// so the write sequence has no interleaving point and readers never observe
// a partial record.
func saveRecord(ctx context.Context, s store.Store, rec *Record) error {
	infoJSON := ""
	if rec.Info != nil {
		raw, err := json.Marshal(rec.Info)
		if err != nil {
			return fmt.Errorf("failed to encode license info: %w", err)
		}
		infoJSON = string(raw)
	}

	writes := []struct{ key, value string }{
		{config.KeyLicenseKey, rec.Key},
		{config.KeyThemeID, rec.ThemeID},
		{config.KeyLicenseInfo, infoJSON},
		{config.KeySupportExpiration, formatInt64(rec.SupportExpiration)},
		{config.KeyLastVerified, formatInt64(rec.LastVerified)},
	}
	for _, w := range writes {
		if err := s.Set(ctx, w.key, w.value); err != nil {
			return fmt.Errorf("failed to persist %s: %w", w.key, err)
		}
	}
	return nil
}

// clearRecord removes every record field. Idempotent: clearing an absent
// record succeeds.
func clearRecord(ctx context.Context, s store.Store) error {
	for _, key := range recordKeys {
		if err := s.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return nil
}

func getString(ctx context.Context, s store.Store, key string) (string, error) {
	v, _, err := s.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, nil
}

func getInt64(ctx context.Context, s store.Store, key string) (int64, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil // treat unparseable timestamps as unset
	}
	return n, nil
}

func formatInt64(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

// MaskKey shortens a license key for logs and status output.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
