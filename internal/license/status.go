package license

import (
	"context"
	"time"
)

const secondsPerDay = 86400

// Status is a read-only snapshot of the license state, derived from the
// persisted record at query time.
type Status struct {
	Active            bool   `json:"active"`
	MaskedKey         string `json:"masked_key,omitempty"`
	ThemeID           string `json:"theme_id,omitempty"`
	BuyerUsername     string `json:"buyer_username,omitempty"`
	SupportActive     bool   `json:"support_active"`
	SupportExpiration int64  `json:"support_expiration,omitempty"`
	SupportDaysLeft   int    `json:"support_days_left"`
	ExpiringSoon      bool   `json:"support_expiring_soon"`
	LastVerified      int64  `json:"last_verified,omitempty"`
}

// Status derives the current snapshot.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	rec, err := loadRecord(ctx, m.store)
	if err != nil {
		return nil, err
	}

	st := &Status{Active: rec.Active()}
	if !st.Active {
		return st, nil
	}

	st.MaskedKey = MaskKey(rec.Key)
	st.ThemeID = rec.ThemeID
	st.LastVerified = rec.LastVerified
	st.SupportExpiration = rec.SupportExpiration
	if rec.Info != nil {
		st.BuyerUsername = rec.Info.BuyerUsername
	}

	now := m.now()
	st.SupportActive = supportActive(rec.SupportExpiration, now)
	days, ok := supportDaysRemaining(rec.SupportExpiration, now)
	if ok {
		st.SupportDaysLeft = days
	}
	st.ExpiringSoon = expiringSoon(rec.SupportExpiration, now, m.cfg.ExpiringSoonDays)
	return st, nil
}

// IsLicenseActive reports whether a license key is stored.
func (m *Manager) IsLicenseActive(ctx context.Context) bool {
	rec, err := loadRecord(ctx, m.store)
	if err != nil {
		return false
	}
	return rec.Active()
}

// Credentials returns the stored license key and buyer username. ok is
// false when no license is active. The raw key is needed by callers that
// talk to the benefits endpoints; it must never reach a log line.
func (m *Manager) Credentials(ctx context.Context) (key, buyerUsername string, ok bool) {
	rec, err := loadRecord(ctx, m.store)
	if err != nil || !rec.Active() {
		return "", "", false
	}
	if rec.Info != nil {
		buyerUsername = rec.Info.BuyerUsername
	}
	return rec.Key, buyerUsername, true
}

// IsSupportActive reports whether the stored support window reaches past
// the current moment. An expiration exactly at now counts as expired.
func (m *Manager) IsSupportActive(ctx context.Context) bool {
	rec, err := loadRecord(ctx, m.store)
	if err != nil {
		return false
	}
	return supportActive(rec.SupportExpiration, m.now())
}

// SupportDaysRemaining returns the whole days of support left, rounded up,
// floored at zero once expired. The second return is false when no
// expiration is stored.
func (m *Manager) SupportDaysRemaining(ctx context.Context) (int, bool) {
	rec, err := loadRecord(ctx, m.store)
	if err != nil {
		return 0, false
	}
	return supportDaysRemaining(rec.SupportExpiration, m.now())
}

// IsSupportExpiringSoon reports whether support expires within the
// configured threshold. Zero days remaining ("expires today") does not
// count: that state gets its own, more urgent treatment.
func (m *Manager) IsSupportExpiringSoon(ctx context.Context) bool {
	rec, err := loadRecord(ctx, m.store)
	if err != nil {
		return false
	}
	return expiringSoon(rec.SupportExpiration, m.now(), m.cfg.ExpiringSoonDays)
}

func supportActive(expiration int64, now time.Time) bool {
	return expiration > 0 && expiration > now.Unix()
}

func supportDaysRemaining(expiration int64, now time.Time) (int, bool) {
	if expiration <= 0 {
		return 0, false
	}
	diff := expiration - now.Unix()
	if diff <= 0 {
		return 0, true
	}
	return int((diff + secondsPerDay - 1) / secondsPerDay), true
}

func expiringSoon(expiration int64, now time.Time, thresholdDays int) bool {
	days, ok := supportDaysRemaining(expiration, now)
	if !ok {
		return false
	}
	return days > 0 && days <= thresholdDays
}
