package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "gbtlicense/internal/errors"
	"gbtlicense/internal/services"
)

var validate = validator.New()

// LicenseHandler handles license-related HTTP requests.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// ActivationRequest is the license activation payload.
type ActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	ThemeSlug  string `json:"theme_slug,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	AutoUpdate bool   `json:"auto_update,omitempty"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
}

// Bind implements the render.Binder interface.
func (a *ActivationRequest) Bind(r *http.Request) error {
	a.LicenseKey = strings.TrimSpace(a.LicenseKey)
	if err := validate.Struct(a); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			field := strings.ToLower(invalid[0].Field())
			if field == "licensekey" {
				field = "license_key"
			}
			return apierrors.ErrValidation(field, "failed validation: "+invalid[0].Tag())
		}
		return apierrors.InvalidRequestWithError(err)
	}
	return nil
}

// DeactivationRequest is the optional deactivation payload.
type DeactivationRequest struct {
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// Bind implements the render.Binder interface.
func (d *DeactivationRequest) Bind(r *http.Request) error {
	if err := validate.Struct(d); err != nil {
		return apierrors.ErrValidation("email", "must be a valid email address")
	}
	return nil
}

// Routes returns a chi router for the license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/reverify", h.Reverify)

	return r
}

// GetStatus handles GET /api/license/status.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response, err := h.service.Status(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "license status request failed",
			slog.String("operation", "get_status"),
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.String("error", err.Error()),
		)
		apierrors.RenderError(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, response)
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &ActivationRequest{}
	if err := render.Bind(r, req); err != nil {
		apierrors.RenderError(w, r, h.logger, bindError(err))
		return
	}

	h.logger.InfoContext(ctx, "license activation requested",
		slog.String("operation", "activate"),
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("theme_slug", req.ThemeSlug),
	)

	response := h.service.Activate(ctx, services.ActivationInput{
		LicenseKey: req.LicenseKey,
		ThemeSlug:  req.ThemeSlug,
		ItemID:     req.ItemID,
		AutoUpdate: req.AutoUpdate,
		UserEmail:  req.Email,
	})
	render.JSON(w, r, response)
}

// Deactivate handles POST /api/license/deactivate. The body is optional.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &DeactivationRequest{}
	if r.ContentLength != 0 {
		if err := render.Bind(r, req); err != nil {
			apierrors.RenderError(w, r, h.logger, bindError(err))
			return
		}
	}

	h.logger.InfoContext(ctx, "license deactivation requested",
		slog.String("operation", "deactivate"),
		slog.String("request_id", middleware.GetReqID(ctx)),
	)

	response := h.service.Deactivate(ctx, req.Email)
	render.JSON(w, r, response)
}

// Reverify handles POST /api/license/reverify, forcing a remote check
// regardless of the periodic gate.
func (h *LicenseHandler) Reverify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.logger.InfoContext(ctx, "license re-verification requested",
		slog.String("operation", "reverify"),
		slog.String("request_id", middleware.GetReqID(ctx)),
	)

	response := h.service.Reverify(ctx)
	render.JSON(w, r, response)
}

// bindError normalizes binder failures: APIErrors pass through, anything
// else (malformed JSON, wrong content type) becomes a 400.
func bindError(err error) *apierrors.APIError {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return apierrors.InvalidRequestWithError(err)
}
