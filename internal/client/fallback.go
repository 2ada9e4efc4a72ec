// Package client implements the HTTP side of the license subsystem: the
// multi-URL fallback transport shared by every remote API family, and the
// verification client built on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gbtlicense/internal/infrastructure"
)

// Sentinel errors used to classify remote failures. Callers map these to
// user-facing messages ("check your connection" vs "invalid response").
var (
	// ErrTransport means no candidate URL could be reached at all.
	ErrTransport = errors.New("license server unreachable")
	// ErrInvalidResponse means at least one URL answered but none produced
	// a parseable JSON body.
	ErrInvalidResponse = errors.New("invalid response from license server")
)

// Fallback tries an ordered list of candidate URLs until one of them both
// succeeds at the transport layer and yields a valid JSON body. The same
// instance serves verification, server bookkeeping, special license and
// buyer review calls; only the URL lists differ.
type Fallback struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *infrastructure.Metrics
}

// NewFallback creates a fallback transport with the given per-attempt
// timeout. metrics may be nil.
func NewFallback(timeout time.Duration, logger *slog.Logger, metrics *infrastructure.Metrics) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "remote_client")),
		metrics:    metrics,
	}
}

// PostJSON posts a JSON body to each candidate in order and unmarshals the
// first valid JSON response into out.
func (f *Fallback) PostJSON(ctx context.Context, group string, urls []string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return f.attempt(ctx, group, urls, out, func(target string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// PostForm posts a flat form-encoded field map to each candidate in order
// and unmarshals the first valid JSON response into out.
func (f *Fallback) PostForm(ctx context.Context, group string, urls []string, fields url.Values, out any) error {
	encoded := fields.Encode()
	return f.attempt(ctx, group, urls, out, func(target string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// Get issues a GET with query parameters to each candidate in order and
// unmarshals the first valid JSON response into out.
func (f *Fallback) Get(ctx context.Context, group string, urls []string, query url.Values, out any) error {
	return f.attempt(ctx, group, urls, out, func(target string) (*http.Request, error) {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	})
}

func (f *Fallback) attempt(ctx context.Context, group string, urls []string, out any, build func(string) (*http.Request, error)) error {
	if len(urls) == 0 {
		return fmt.Errorf("%w: no candidate URLs configured", ErrTransport)
	}

	var lastTransportErr error
	sawParseFailure := false

	for i, target := range urls {
		start := time.Now()
		req, err := build(target)
		if err != nil {
			lastTransportErr = err
			continue
		}
		req.Header.Set("X-Requested-With", "XMLHttpRequest")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			lastTransportErr = err
			f.record(group, "transport_error")
			f.logger.WarnContext(ctx, "remote request failed",
				slog.String("group", group),
				slog.String("url", target),
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastTransportErr = err
			f.record(group, "transport_error")
			continue
		}

		if err := json.Unmarshal(body, out); err != nil {
			sawParseFailure = true
			f.record(group, "parse_error")
			f.logger.WarnContext(ctx, "remote response is not valid JSON",
				slog.String("group", group),
				slog.String("url", target),
				slog.Int("attempt", i+1),
				slog.Int("status_code", resp.StatusCode),
				slog.Int("body_bytes", len(body)),
			)
			continue
		}

		f.record(group, "success")
		f.observeLatency(group, time.Since(start))
		f.logger.DebugContext(ctx, "remote request succeeded",
			slog.String("group", group),
			slog.String("url", target),
			slog.Int("attempt", i+1),
			slog.Duration("latency", time.Since(start)),
		)
		return nil
	}

	// Transport errors dominate the surfaced failure: only report an
	// invalid-response error when every failure was a parse failure.
	if lastTransportErr != nil {
		return fmt.Errorf("%w: %v", ErrTransport, lastTransportErr)
	}
	if sawParseFailure {
		return ErrInvalidResponse
	}
	return ErrTransport
}

func (f *Fallback) record(group, outcome string) {
	if f.metrics != nil {
		f.metrics.FallbackAttempts.WithLabelValues(group, outcome).Inc()
	}
}

func (f *Fallback) observeLatency(group string, d time.Duration) {
	if f.metrics != nil {
		f.metrics.RemoteLatencySecs.WithLabelValues(group).Observe(d.Seconds())
	}
}
