package pipeline

import (
	"github.com/couchcryptid/notam-watch/internal/domain"
)

// normalize converts raw items into canonical records. Items that cannot be
// normalized are logged and counted, never surfaced as an error, so one bad
// item does not cost the rest of the payload.
func (f *Fetcher) normalize(items []domain.RawItem, icao string, source domain.Source) []domain.Notam {
	out := make([]domain.Notam, 0, len(items))
	for i, item := range items {
		n, ok := domain.Normalize(item, icao, i, source)
		if !ok {
			f.logger.Warn("normalize failed, dropping item", "icao", icao, "source", source, "ordinal", i)
			f.metrics.NormalizeDropped.WithLabelValues(string(source)).Inc()
			continue
		}
		out = append(out, n)
	}
	return out
}
