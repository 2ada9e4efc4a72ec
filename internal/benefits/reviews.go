package benefits

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"gbtlicense/internal/client"
	"gbtlicense/internal/config"
	"gbtlicense/internal/store"
)

// Review is a single buyer review as reported by the review API.
type Review struct {
	ID       string `json:"id"`
	Rating   int    `json:"rating"`
	DateText string `json:"date"`
}

// ReviewData is the cached review blob for a buyer. Fetched records whether
// the last refresh completed; the eligibility gate treats an incomplete
// fetch as "no signal" and fails open.
type ReviewData struct {
	Username    string   `json:"username"`
	Reviews     []Review `json:"reviews"`
	HasReviews  bool     `json:"has_reviews"`
	ReviewCount int      `json:"review_count"`
	Fetched     bool     `json:"fetched"`
	FetchedAt   int64    `json:"fetched_at"`
}

type reviewSummaryRequest struct {
	Username string `json:"username"`
}

type reviewSummaryResponse struct {
	Data struct {
		ReviewIDs []string `json:"review_ids"`
	} `json:"data"`
}

type reviewDetailResponse struct {
	Data *Review `json:"data"`
}

// ReviewChecker fetches and caches buyer review metadata. It is purely an
// input signal for the eligibility gate, never authoritative on its own.
type ReviewChecker struct {
	fallback *client.Fallback
	urls     []string
	store    store.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewReviewChecker creates a review checker.
func NewReviewChecker(fallback *client.Fallback, urls []string, s store.Store, logger *slog.Logger) *ReviewChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewChecker{
		fallback: fallback,
		urls:     urls,
		store:    s,
		logger:   logger.With(slog.String("component", "buyer_reviews")),
		now:      time.Now,
	}
}

// Refresh re-fetches the buyer's reviews. The fetch is two-step and
// all-or-nothing: a summary call lists the review IDs, then every ID is
// fetched individually; if any of them fails the whole cache is marked
// incomplete so a half-fetched picture never feeds the gate.
func (c *ReviewChecker) Refresh(ctx context.Context, username string) (*ReviewData, error) {
	var summary reviewSummaryResponse
	if err := c.fallback.PostJSON(ctx, "buyer_review", c.urls, reviewSummaryRequest{Username: username}, &summary); err != nil {
		c.markIncomplete(ctx, username)
		return nil, err
	}

	reviews := make([]Review, 0, len(summary.Data.ReviewIDs))
	for _, id := range summary.Data.ReviewIDs {
		query := url.Values{}
		query.Set("rating_id", id)
		query.Set("username", username)

		var detail reviewDetailResponse
		if err := c.fallback.Get(ctx, "buyer_review", c.urls, query, &detail); err != nil {
			c.markIncomplete(ctx, username)
			return nil, fmt.Errorf("review %s could not be fetched: %w", id, err)
		}
		if detail.Data == nil {
			c.markIncomplete(ctx, username)
			return nil, fmt.Errorf("review %s resolved to an empty body", id)
		}
		reviews = append(reviews, *detail.Data)
	}

	data := &ReviewData{
		Username:    username,
		Reviews:     reviews,
		HasReviews:  len(reviews) > 0,
		ReviewCount: len(reviews),
		Fetched:     true,
		FetchedAt:   c.now().Unix(),
	}
	if err := c.save(ctx, data); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "buyer reviews refreshed",
		slog.String("operation", "review_refresh"),
		slog.String("buyer_username", username),
		slog.Int("review_count", data.ReviewCount),
	)
	return data, nil
}

// Cached returns the cached review data, or (nil, false) when nothing has
// been fetched yet.
func (c *ReviewChecker) Cached(ctx context.Context) (*ReviewData, bool, error) {
	raw, ok, err := c.store.Get(ctx, config.KeyBuyerReview)
	if err != nil {
		return nil, false, err
	}
	if !ok || raw == "" {
		return nil, false, nil
	}

	data := &ReviewData{}
	if err := json.Unmarshal([]byte(raw), data); err != nil {
		return nil, false, fmt.Errorf("corrupt buyer review cache: %w", err)
	}
	return data, true, nil
}

// markIncomplete invalidates the cache after a partial fetch. Best-effort:
// a store failure here only gets logged, the fetch error is what the
// caller sees.
func (c *ReviewChecker) markIncomplete(ctx context.Context, username string) {
	data := &ReviewData{
		Username:  username,
		Fetched:   false,
		FetchedAt: c.now().Unix(),
	}
	if err := c.save(ctx, data); err != nil {
		c.logger.WarnContext(ctx, "failed to invalidate review cache",
			slog.String("operation", "review_refresh"),
			slog.String("error", err.Error()),
		)
	}
}

func (c *ReviewChecker) save(ctx context.Context, data *ReviewData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode review data: %w", err)
	}
	if err := c.store.Set(ctx, config.KeyBuyerReview, string(raw)); err != nil {
		return fmt.Errorf("failed to cache review data: %w", err)
	}
	return nil
}
