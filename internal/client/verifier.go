package client

import (
	"context"
	"log/slog"
	"time"
)

// VerificationInfo is the license metadata returned by the verification API.
// The state machine treats it as opaque except for SupportedUntil.
type VerificationInfo struct {
	ItemID               string `json:"item_id"`
	BuyerName            string `json:"buyer_name"`
	BuyerUsername        string `json:"buyer_username"`
	PurchaseDate         string `json:"purchase_date"`
	SupportedUntil       string `json:"supported_until"`
	LicenseType          string `json:"license_type"`
	LicenseProvider      string `json:"license_provider"`
	TotalPurchases       int    `json:"total_purchases"`
	AuthorEarningAmount  string `json:"author_earning_amount"`
	SupportEarningAmount string `json:"support_earning_amount"`
	AutoUpdate           bool   `json:"auto_update"`
}

// VerificationResult is the parsed verification API response.
type VerificationResult struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Info    *VerificationInfo `json:"license_info,omitempty"`
}

type verifyRequest struct {
	LicenseKey string `json:"license_key"`
	ThemeSlug  string `json:"theme_slug"`
}

// Verifier performs license verification against the remote API.
type Verifier struct {
	fallback    *Fallback
	urls        []string
	development bool
	logger      *slog.Logger
	now         func() time.Time
}

// NewVerifier creates a verification client. urls is the ordered candidate
// list for the configured environment. The development flag arms the daily
// bypass key; in production it stays off and the sentinel is just another
// invalid key.
func NewVerifier(fallback *Fallback, urls []string, development bool, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		fallback:    fallback,
		urls:        urls,
		development: development,
		logger:      logger.With(slog.String("component", "verifier")),
		now:         time.Now,
	}
}

// Verify checks the license key against the remote verification API.
//
// A non-nil error is a transport or protocol failure (ErrTransport,
// ErrInvalidResponse); a nil error with result.Success == false means the
// server answered and rejected the key. The returned message is surfaced to
// the user unchanged in that case.
func (v *Verifier) Verify(ctx context.Context, licenseKey, themeSlug string) (*VerificationResult, error) {
	if v.development && IsDevSentinel(licenseKey, v.now()) {
		v.logger.InfoContext(ctx, "development bypass key accepted, skipping remote verification",
			slog.String("operation", "verify"),
			slog.String("theme_slug", themeSlug),
		)
		return v.devResult(), nil
	}

	var result VerificationResult
	err := v.fallback.PostJSON(ctx, "verification", v.urls, verifyRequest{
		LicenseKey: licenseKey,
		ThemeSlug:  themeSlug,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// devResult synthesizes the submission-path development response: a valid
// license on the development item with a ten-day support window.
func (v *Verifier) devResult() *VerificationResult {
	now := v.now()
	return &VerificationResult{
		Success: true,
		Message: "Development license verified",
		Info: &VerificationInfo{
			ItemID:          DevItemID,
			BuyerName:       "Development",
			BuyerUsername:   "development",
			PurchaseDate:    now.Format("2006-01-02 15:04:05"),
			SupportedUntil:  now.Add(10 * 24 * time.Hour).Format("2006-01-02 15:04:05"),
			LicenseType:     "regular",
			LicenseProvider: "development",
			TotalPurchases:  1,
			AutoUpdate:      true,
		},
	}
}

// supportedUntilLayouts are the date formats the verification API has been
// seen returning over the years.
var supportedUntilLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseSupportedUntil converts the API's supported_until string to a Unix
// timestamp. A zero return means the value was empty or unparseable; the
// caller treats that as "support inactive", never as a fatal error.
func ParseSupportedUntil(value string) int64 {
	if value == "" {
		return 0
	}
	for _, layout := range supportedUntilLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Unix()
		}
	}
	return 0
}
