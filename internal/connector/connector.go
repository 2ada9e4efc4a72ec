// Package connector synchronizes activation and deactivation events to the
// remote bookkeeping server. This server tracks which domain each license
// key is active on; it is distinct from the verification server.
package connector

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gbtlicense/internal/client"
)

// Nested status values the server uses to signal domain restrictions.
const (
	StatusActivationDenied   = "activation_denied"
	StatusDeactivationDenied = "deactivation_denied"
)

// domainDeniedFragment is the secondary text heuristic for older server
// builds that answer with a message instead of a structured status.
const domainDeniedFragment = "already active on"

// Response is the bookkeeping server's reply. A parsed error body is
// returned to callers as-is so they can inspect the structured status.
type Response struct {
	Status  string        `json:"status"` // "ok" | "error"
	Message string        `json:"message,omitempty"`
	Data    *ResponseData `json:"data,omitempty"`
}

// ResponseData carries the structured detail of an error response.
type ResponseData struct {
	Status       string `json:"status,omitempty"`
	ActiveDomain string `json:"active_domain,omitempty"`
}

// OK reports whether the server accepted the event.
func (r *Response) OK() bool {
	return r != nil && r.Status == "ok"
}

// DomainDenied reports whether the response signals a domain restriction
// for the given denial status (StatusActivationDenied or
// StatusDeactivationDenied). The structured status takes precedence; the
// message-text heuristic alone is also sufficient.
func (r *Response) DomainDenied(denialStatus string) bool {
	if r == nil {
		return false
	}
	if r.Data != nil && r.Data.Status == denialStatus {
		return true
	}
	return strings.Contains(strings.ToLower(r.Message), domainDeniedFragment)
}

// ActiveDomain returns the domain the server reports the key as active on,
// if any.
func (r *Response) ActiveDomain() string {
	if r == nil || r.Data == nil {
		return ""
	}
	return r.Data.ActiveDomain
}

// Connector posts license bookkeeping events using the shared multi-URL
// fallback transport.
type Connector struct {
	fallback    *client.Fallback
	urls        []string
	domain      string
	adminEmail  string
	themeSlug   string
	development bool
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a connector bound to this install's domain and theme.
// adminEmail is the configured admin address and may be empty; see
// resolveAdminEmail for the fallback chain.
func New(fallback *client.Fallback, urls []string, domain, adminEmail, themeSlug string, development bool, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		fallback:    fallback,
		urls:        urls,
		domain:      domain,
		adminEmail:  adminEmail,
		themeSlug:   themeSlug,
		development: development,
		logger:      logger.With(slog.String("component", "server_connector")),
		now:         time.Now,
	}
}

// SyncActivation registers an activation with the bookkeeping server.
// The returned error is non-nil only when no URL produced a JSON response;
// a parsed error body comes back as a Response with Status "error".
func (c *Connector) SyncActivation(ctx context.Context, licenseKey, userEmail string, info *client.VerificationInfo, supportExpiration int64) (*Response, error) {
	if c.development && client.IsDevSentinel(licenseKey, c.now()) {
		c.logger.InfoContext(ctx, "development bypass key accepted, skipping activation sync",
			slog.String("operation", "sync_activation"),
		)
		return &Response{Status: "ok", Message: "Development activation recorded"}, nil
	}

	fields := c.baseFields(licenseKey, userEmail)
	if info != nil {
		fields.Set("item_id", info.ItemID)
		fields.Set("buyer_username", info.BuyerUsername)
		fields.Set("purchase_date", info.PurchaseDate)
		fields.Set("license_provider", info.LicenseProvider)
		fields.Set("license_type", info.LicenseType)
		fields.Set("total_purchases", strconv.Itoa(info.TotalPurchases))
		fields.Set("author_earning_amount", info.AuthorEarningAmount)
		fields.Set("support_earning_amount", info.SupportEarningAmount)
		fields.Set("auto_update", strconv.FormatBool(info.AutoUpdate))
	}
	if supportExpiration > 0 {
		fields.Set("support_expiration", strconv.FormatInt(supportExpiration, 10))
	}

	var resp Response
	if err := c.fallback.PostForm(ctx, "server", c.urls, fields, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncDeactivation notifies the bookkeeping server that this domain
// released the key. Activation-only fields are omitted.
func (c *Connector) SyncDeactivation(ctx context.Context, licenseKey, userEmail string) (*Response, error) {
	if c.development && client.IsDevSentinel(licenseKey, c.now()) {
		c.logger.InfoContext(ctx, "development bypass key accepted, skipping deactivation sync",
			slog.String("operation", "sync_deactivation"),
		)
		return &Response{Status: "ok", Message: "Development deactivation recorded"}, nil
	}

	fields := c.baseFields(licenseKey, userEmail)
	fields.Set("action", "deactivation")

	var resp Response
	if err := c.fallback.PostForm(ctx, "server", c.urls, fields, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Connector) baseFields(licenseKey, userEmail string) url.Values {
	fields := url.Values{}
	fields.Set("license_key", licenseKey)
	fields.Set("domain", c.domain)
	fields.Set("admin_email", c.resolveAdminEmail(userEmail))
	fields.Set("theme_slug", c.themeSlug)
	return fields
}

// resolveAdminEmail picks the contact address for the bookkeeping record:
// the configured admin email, then the acting user's email, then a
// synthesized admin@<domain> so the field is never empty.
func (c *Connector) resolveAdminEmail(userEmail string) string {
	if c.adminEmail != "" {
		return c.adminEmail
	}
	if userEmail != "" {
		return userEmail
	}
	return "admin@" + c.domain
}
