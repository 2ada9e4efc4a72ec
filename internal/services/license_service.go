package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gbtlicense/internal/benefits"
	"gbtlicense/internal/infrastructure"
	"gbtlicense/internal/license"
)

// ErrNoActiveLicense is returned by operations that need a stored license
// key when none is present.
var ErrNoActiveLicense = errors.New("no active license")

// LicenseService is the business-logic surface behind the HTTP handlers.
// It wraps the license manager and the benefits feeds, adding trace IDs and
// response envelopes.
type LicenseService interface {
	Status(ctx context.Context) (*StatusResponse, error)
	Activate(ctx context.Context, input ActivationInput) *ActionResponse
	Deactivate(ctx context.Context, userEmail string) *ActionResponse
	Reverify(ctx context.Context) *ActionResponse
	MaybeReverify(ctx context.Context) *ActionResponse
	RefreshBenefits(ctx context.Context) (*BenefitsStatusResponse, error)
	BenefitsStatus(ctx context.Context) (*BenefitsStatusResponse, error)
}

// ActivationInput carries the caller-supplied activation parameters.
type ActivationInput struct {
	LicenseKey string
	ThemeSlug  string
	ItemID     string
	AutoUpdate bool
	UserEmail  string
}

// ActionResponse is the envelope for state-changing license operations.
type ActionResponse struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message"`
	Type      license.MessageType `json:"type"`
	TraceID   string              `json:"trace_id"`
	Timestamp time.Time           `json:"timestamp"`
}

// StatusResponse is the read-only license snapshot served to clients.
type StatusResponse struct {
	license.Status
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ReviewSummary is the client-facing digest of the cached review data. The
// individual reviews stay internal; only the aggregate leaves the service.
type ReviewSummary struct {
	HasReviews  bool  `json:"has_reviews"`
	ReviewCount int   `json:"review_count"`
	Fetched     bool  `json:"fetched"`
	FetchedAt   int64 `json:"fetched_at,omitempty"`
}

// BenefitsStatusResponse combines the special license state with the gate
// decision that applies to it.
type BenefitsStatusResponse struct {
	Special          *benefits.SpecialLicenseData `json:"special,omitempty"`
	Reviews          *ReviewSummary               `json:"reviews,omitempty"`
	BenefitsDisabled bool                         `json:"benefits_disabled"`
	Penalties        benefits.Penalties           `json:"penalties"`
	TraceID          string                       `json:"trace_id"`
	Timestamp        time.Time                    `json:"timestamp"`
}

// licenseService implements LicenseService.
type licenseService struct {
	manager *license.Manager
	special *benefits.SpecialManager
	reviews *benefits.ReviewChecker
	gate    *benefits.Gate
	logger  *slog.Logger
}

// NewLicenseService creates the license service.
func NewLicenseService(manager *license.Manager, special *benefits.SpecialManager, reviews *benefits.ReviewChecker, gate *benefits.Gate, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		manager: manager,
		special: special,
		reviews: reviews,
		gate:    gate,
		logger:  logger.With(slog.String("service", "license")),
	}
}

func (s *licenseService) Status(ctx context.Context) (*StatusResponse, error) {
	st, err := s.manager.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{
		Status:    *st,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *licenseService) Activate(ctx context.Context, input ActivationInput) *ActionResponse {
	result := s.manager.Activate(ctx, input.LicenseKey, input.ThemeSlug, input.ItemID, input.AutoUpdate, input.UserEmail)
	return s.envelope(ctx, result)
}

func (s *licenseService) Deactivate(ctx context.Context, userEmail string) *ActionResponse {
	result := s.manager.Deactivate(ctx, userEmail)
	return s.envelope(ctx, result)
}

func (s *licenseService) Reverify(ctx context.Context) *ActionResponse {
	result := s.manager.Reverify(ctx)
	return s.envelope(ctx, result)
}

// MaybeReverify runs the periodic re-verification if it is due. It returns
// nil when there is nothing to do, matching the manager's contract.
func (s *licenseService) MaybeReverify(ctx context.Context) *ActionResponse {
	result := s.manager.MaybeReverify(ctx)
	if result == nil {
		return nil
	}
	return s.envelope(ctx, *result)
}

// RefreshBenefits re-fetches both benefits feeds for the stored license.
// The special license fetch and the review fetch fail independently; the
// response reflects whatever succeeded, and the first error is returned
// only when both feeds failed.
func (s *licenseService) RefreshBenefits(ctx context.Context) (*BenefitsStatusResponse, error) {
	key, username, ok := s.manager.Credentials(ctx)
	if !ok {
		return nil, ErrNoActiveLicense
	}

	var specialErr, reviewErr error
	if _, specialErr = s.special.Refresh(ctx, key); specialErr != nil {
		s.logger.WarnContext(ctx, "special license refresh failed",
			slog.String("operation", "benefits_refresh"),
			slog.String("error", specialErr.Error()),
		)
	}
	if username == "" {
		reviewErr = errors.New("stored license carries no buyer username")
	} else if _, reviewErr = s.reviews.Refresh(ctx, username); reviewErr != nil {
		s.logger.WarnContext(ctx, "buyer review refresh failed",
			slog.String("operation", "benefits_refresh"),
			slog.String("error", reviewErr.Error()),
		)
	}
	if specialErr != nil && reviewErr != nil {
		return nil, specialErr
	}
	return s.BenefitsStatus(ctx)
}

// BenefitsStatus reports the cached benefits state and the gate decision.
// Missing caches are not an error: the response simply omits them.
func (s *licenseService) BenefitsStatus(ctx context.Context) (*BenefitsStatusResponse, error) {
	resp := &BenefitsStatusResponse{
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	}

	if special, ok, err := s.special.Cached(ctx); err == nil && ok {
		resp.Special = special
	}
	if reviews, ok, err := s.reviews.Cached(ctx); err == nil && ok {
		resp.Reviews = &ReviewSummary{
			HasReviews:  reviews.HasReviews,
			ReviewCount: reviews.ReviewCount,
			Fetched:     reviews.Fetched,
			FetchedAt:   reviews.FetchedAt,
		}
	}
	resp.BenefitsDisabled, resp.Penalties = s.gate.Evaluate(ctx)
	return resp, nil
}

func (s *licenseService) envelope(ctx context.Context, result license.Result) *ActionResponse {
	return &ActionResponse{
		Success:   result.Success,
		Message:   result.Message,
		Type:      result.Type,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	}
}
