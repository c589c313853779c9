// Command inspect runs a saved upstream payload through item extraction and
// normalization offline, using the same domain code as the service. It prints
// the canonical envelope as JSON on stdout and a classification breakdown on
// stderr.
//
// Usage:
//
//	go run ./cmd/inspect -file payload.json -icao CYYZ -source secondary
//	go run ./cmd/inspect -file kjfk.json -icao KJFK -now 2024-01-01T15:00:00Z
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/notam-watch/internal/adapter/faa"
	"github.com/couchcryptid/notam-watch/internal/adapter/navcan"
	"github.com/couchcryptid/notam-watch/internal/domain"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "path to a saved upstream JSON payload")
	icao := fs.String("icao", "", "airport ICAO code the payload belongs to")
	source := fs.String("source", "primary", "payload shape: primary (FAA) or secondary (NAV CANADA)")
	maxRecords := fs.Int("max", 0, "cap on returned records after priority sort (0 = no cap)")
	now := fs.String("now", "", "RFC 3339 time used for the expiry filter (default: current time)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *file == "" || *icao == "" {
		fs.Usage()
		return errors.New("missing required flags: -file, -icao")
	}
	code, err := domain.NormalizeICAO(*icao)
	if err != nil {
		return err
	}
	if *now != "" {
		t, err := time.Parse(time.RFC3339, *now)
		if err != nil {
			return fmt.Errorf("invalid -now %q: %w", *now, err)
		}
		domain.SetClock(clockwork.NewFakeClockAt(t))
		defer domain.SetClock(nil)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	var (
		items []domain.RawItem
		src   domain.Source
	)
	switch *source {
	case "primary":
		src = domain.SourcePrimary
		if items, err = faa.ParsePayload(data); err != nil {
			return err
		}
	case "secondary":
		src = domain.SourceSecondary
		items = navcan.ExtractItems(data, code)
	default:
		return fmt.Errorf("unknown -source %q: want primary or secondary", *source)
	}

	start := time.Now()
	records, dropped := domain.NormalizeAll(items, code, src)
	kept, filtered := domain.Finalize(records, *maxRecords)

	env := domain.Envelope{
		Data: kept,
		Metadata: domain.Metadata{
			ICAO:             code,
			Total:            len(kept),
			Filtered:         filtered,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			Source:           src,
			Timestamp:        domain.Now().UTC(),
		},
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	printBreakdown(stderr, len(items), dropped, filtered, kept)
	return nil
}

func printBreakdown(w io.Writer, items, dropped, filtered int, records []domain.Notam) {
	counts := make(map[domain.Classification]int)
	for _, n := range records {
		counts[n.Classification]++
	}
	classes := make([]string, 0, len(counts))
	for c := range counts {
		classes = append(classes, string(c))
	}
	sort.Strings(classes)

	fmt.Fprintf(w, "items: %d  dropped: %d  expired: %d  kept: %d\n", items, dropped, filtered, len(records))
	for _, c := range classes {
		fmt.Fprintf(w, "  %-5s %d\n", c, counts[domain.Classification(c)])
	}
	for _, n := range records {
		fmt.Fprintf(w, "  %s\n", n)
	}
}
