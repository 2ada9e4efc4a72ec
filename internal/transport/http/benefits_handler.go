package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "gbtlicense/internal/errors"
	"gbtlicense/internal/services"
)

// BenefitsHandler handles the special-benefits HTTP endpoints.
type BenefitsHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewBenefitsHandler creates a new benefits handler.
func NewBenefitsHandler(service services.LicenseService, logger *slog.Logger) *BenefitsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BenefitsHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "benefits")),
	}
}

// Routes returns a chi router for the benefits endpoints.
func (h *BenefitsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Post("/refresh", h.Refresh)

	return r
}

// GetStatus handles GET /api/benefits/status. It serves cached data only
// and never touches the network.
func (h *BenefitsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response, err := h.service.BenefitsStatus(ctx)
	if err != nil {
		apierrors.RenderError(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, response)
}

// Refresh handles POST /api/benefits/refresh, re-fetching both benefits
// feeds for the stored license.
func (h *BenefitsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.logger.InfoContext(ctx, "benefits refresh requested",
		slog.String("operation", "benefits_refresh"),
		slog.String("request_id", middleware.GetReqID(ctx)),
	)

	response, err := h.service.RefreshBenefits(ctx)
	if err != nil {
		if errors.Is(err, services.ErrNoActiveLicense) {
			apierrors.RenderError(w, r, h.logger, apierrors.ErrLicenseRequired)
			return
		}
		apierrors.RenderError(w, r, h.logger, apierrors.UpstreamError(err))
		return
	}

	render.JSON(w, r, response)
}
