package benefits

import (
	"context"
	"log/slog"
	"strings"

	"gbtlicense/internal/config"
	"gbtlicense/internal/infrastructure"
)

// Penalties is the per-signal breakdown behind a gate decision, exposed so
// the status surface can explain why benefits were disabled.
type Penalties struct {
	HasLowStarReviews  bool `json:"has_low_star_reviews"`
	HasNoReviews       bool `json:"has_no_reviews"`
	AllRatingsOutdated bool `json:"all_ratings_outdated"`
}

// Gate decides whether the special benefits should be disabled for this
// buyer. It is a soft reputation gate tied to an incentive program, not a
// security control: review data is buyer-supplied and heuristic, so the
// gate deliberately fails open whenever the signal is missing or
// incomplete.
type Gate struct {
	cfg     config.BenefitsConfig
	reviews *ReviewChecker
	logger  *slog.Logger
	metrics *infrastructure.Metrics
}

// NewGate creates an eligibility gate. metrics may be nil.
func NewGate(cfg config.BenefitsConfig, reviews *ReviewChecker, logger *slog.Logger, metrics *infrastructure.Metrics) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg:     cfg,
		reviews: reviews,
		logger:  logger.With(slog.String("component", "benefits_gate")),
		metrics: metrics,
	}
}

// ShouldDisableSpecialBenefits evaluates the enabled penalties against the
// cached review data. It returns false (benefits stay on) when the review
// cache is absent or its last fetch did not complete.
func (g *Gate) ShouldDisableSpecialBenefits(ctx context.Context) bool {
	disabled, _ := g.Evaluate(ctx)
	return disabled
}

// Evaluate returns the gate decision together with the per-penalty
// breakdown that produced it.
func (g *Gate) Evaluate(ctx context.Context) (bool, Penalties) {
	data, ok, err := g.reviews.Cached(ctx)
	if err != nil || !ok || !data.Fetched {
		// No trustworthy signal: fail open.
		g.count("benefits_kept")
		return false, Penalties{}
	}

	penalties := Penalties{
		HasLowStarReviews:  HasLowStarReviews(data.Reviews),
		HasNoReviews:       len(data.Reviews) == 0,
		AllRatingsOutdated: AllRatingsOutdated(data.Reviews),
	}

	disabled := (g.cfg.LowRatingPenalty && penalties.HasLowStarReviews) ||
		(g.cfg.NoReviewPenalty && penalties.HasNoReviews) ||
		(g.cfg.OutdatedRatingPenalty && penalties.AllRatingsOutdated)

	if disabled {
		g.count("benefits_disabled")
		g.logger.InfoContext(ctx, "special benefits disabled",
			slog.String("operation", "benefits_evaluate"),
			slog.Bool("low_star", penalties.HasLowStarReviews),
			slog.Bool("no_reviews", penalties.HasNoReviews),
			slog.Bool("outdated", penalties.AllRatingsOutdated),
		)
	} else {
		g.count("benefits_kept")
	}
	return disabled, penalties
}

// HasLowStarReviews reports whether any review carries a rating between 1
// and 3 inclusive. A single bad review among many good ones is sufficient.
func HasLowStarReviews(reviews []Review) bool {
	for _, r := range reviews {
		if r.Rating >= 1 && r.Rating <= 3 {
			return true
		}
	}
	return false
}

// AllRatingsOutdated reports whether every dated review is at least a year
// old and none is recent. The review API only exposes relative date text
// ("2 days ago", "1 year ago"), so this is a substring heuristic, not a
// contract; reviews whose text carries no recognizable unit are ignored.
func AllRatingsOutdated(reviews []Review) bool {
	staleCount := 0
	for _, r := range reviews {
		text := strings.ToLower(r.DateText)
		if strings.Contains(text, "day") || strings.Contains(text, "week") || strings.Contains(text, "month") {
			return false
		}
		if strings.Contains(text, "year") {
			staleCount++
		}
	}
	return staleCount > 0
}

func (g *Gate) count(decision string) {
	if g.metrics != nil {
		g.metrics.BenefitsEvaluations.WithLabelValues(decision).Inc()
	}
}
