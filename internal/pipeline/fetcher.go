package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
)

// Fallback reasons recorded in Metadata.FallbackReason.
const (
	ReasonPrimaryError = "primary_error"
	ReasonPrimaryEmpty = "primary_empty"
)

// Source fetches raw items for one airport from one upstream.
type Source interface {
	FetchRaw(ctx context.Context, icao string) ([]domain.RawItem, error)
	Source() domain.Source
}

// Options tunes a Fetcher.
type Options struct {
	// FallbackPrefixes lists ICAO prefixes for which the secondary source is
	// consulted when the primary fails or comes back empty.
	FallbackPrefixes []string
	// MaxRecords caps the records returned per airport. Zero means no cap.
	MaxRecords int
}

// Fetcher polls one airport: primary source first, secondary as fallback,
// then normalization, expiry filtering, priority ordering and truncation.
type Fetcher struct {
	primary   Source
	secondary Source
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewFetcher creates a Fetcher. secondary may be nil to disable fallback.
func NewFetcher(primary, secondary Source, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{
		primary:   primary,
		secondary: secondary,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// Fetch returns the current canonical snapshot for icao.
//
// A rate-limited primary is returned as-is so the caller can defer the code;
// the secondary is not tried because its answer would diff against a
// primary-sourced snapshot. Any other primary failure, or a primary answer
// with no usable records, falls back to the secondary for eligible codes. A
// failed fallback is an error even after an empty primary, so an outage never
// replaces the last snapshot with an empty one.
func (f *Fetcher) Fetch(ctx context.Context, icao string) (domain.Envelope, error) {
	code, err := domain.NormalizeICAO(icao)
	if err != nil {
		return domain.Envelope{}, err
	}
	start := domain.Now()

	items, err := f.primary.FetchRaw(ctx, code)
	if errors.Is(err, domain.ErrRateLimited) {
		return domain.Envelope{}, err
	}

	source := f.primary.Source()
	var records []domain.Notam
	if err == nil {
		records = f.normalize(items, code, source)
	}

	var reason string
	if (err != nil || len(records) == 0) && f.canFallback(code) {
		reason = ReasonPrimaryEmpty
		if err != nil {
			reason = ReasonPrimaryError
		}
		f.logger.Info("falling back to secondary source", "icao", code, "reason", reason, "primary_error", err)

		fbItems, fbErr := f.secondary.FetchRaw(ctx, code)
		switch {
		case fbErr != nil && err != nil:
			return domain.Envelope{}, fmt.Errorf("fetch %s: %w", code, errors.Join(err, fbErr))
		case fbErr != nil:
			return domain.Envelope{}, fmt.Errorf("fetch %s: primary empty, secondary failed: %w", code, fbErr)
		default:
			records = f.normalize(fbItems, code, f.secondary.Source())
			source = f.secondary.Source()
			err = nil
			f.metrics.Fallbacks.WithLabelValues(reason).Inc()
		}
	}
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("fetch %s: %w", code, err)
	}

	data, filtered := domain.Finalize(records, f.opts.MaxRecords)
	if filtered > 0 {
		f.metrics.RecordsFiltered.Add(float64(filtered))
	}

	now := domain.Now()
	return domain.Envelope{
		Data: data,
		Metadata: domain.Metadata{
			ICAO:             code,
			Total:            len(data),
			Filtered:         filtered,
			ProcessingTimeMs: now.Sub(start).Milliseconds(),
			Source:           source,
			FallbackReason:   reason,
			Timestamp:        now.UTC(),
		},
	}, nil
}

func (f *Fetcher) canFallback(icao string) bool {
	if f.secondary == nil {
		return false
	}
	for _, p := range f.opts.FallbackPrefixes {
		if strings.HasPrefix(icao, p) {
			return true
		}
	}
	return false
}
