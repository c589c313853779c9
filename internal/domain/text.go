package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxSummaryLen bounds Summary; longer text is cut and suffixed with "...".
	MaxSummaryLen = 200
	// maxRawBodyLen bounds the raw-text fallback used when sectioning finds nothing.
	maxRawBodyLen = 500

	// mainContentMinLen is the length a line must exceed to be taken as the
	// primary content on first sight.
	mainContentMinLen = 20
	// additionalMinLen filters out short fragments from additional info.
	additionalMinLen = 10

	placeholderNoText    = "NOTAM information not available"
	placeholderNoContent = "NOTAM content not available"
)

var (
	lineSplitRe    = regexp.MustCompile(`[\r\n]+`)
	locationLineRe = regexp.MustCompile(`^[A-Z]{4}\s`)
	validityLineRe = regexp.MustCompile(`^\d{10,}`)
	itemHeaderRe   = regexp.MustCompile(`^[A-Z]\)`)
	qLineRe        = regexp.MustCompile(`Q\)[^\r\n]+`)

	multiDotRe    = regexp.MustCompile(`\.{2,}`)
	multiSpaceRe  = regexp.MustCompile(`\s{2,}`)
	hSpaceRe      = regexp.MustCompile(`[ \t]{2,}`)
	manyNLRe      = regexp.MustCompile(`\n{3,}`)
	parentheticRe = regexp.MustCompile(`\s+\([^)]*\)\s*`)
	bracketRe     = regexp.MustCompile(`[{}\[\]]`)
	controlRe     = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	abbreviations = []struct {
		re   *regexp.Regexp
		with string
	}{
		{regexp.MustCompile(`\bRWY\b`), "RUNWAY"},
		{regexp.MustCompile(`\bTWY\b`), "TAXIWAY"},
		{regexp.MustCompile(`\bCLSD\b`), "CLOSED"},
		{regexp.MustCompile(`\bU/S\b`), "UNSERVICEABLE"},
		{regexp.MustCompile(`\bO/S\b`), "OUT OF SERVICE"},
	}
)

// Sections is free NOTAM text split into its heuristic parts.
type Sections struct {
	QLine      string
	Location   string
	Validity   string
	Main       string
	Additional []string
}

// SplitSections classifies each non-empty line of text. A line is the Q-line
// if it starts with "Q)", a location line if it starts with any four capital
// letters and whitespace, a validity line if it starts with ten or more
// digits. The first other line longer than 20 characters becomes Main and
// later lines become Additional. Text of an "E)" item is the notice itself
// and always becomes Main; other single-letter item headers are skipped.
// When no line qualifies as Main, the first content line of any length is
// promoted so a short single-line notice keeps its text.
func SplitSections(text string) Sections {
	var s Sections
	var first, item string

	for _, line := range lineSplitRe.Split(text, -1) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "Q)") {
			if s.QLine == "" {
				s.QLine = line
			}
			continue
		}
		if locationLineRe.MatchString(line) {
			s.Location = line
			continue
		}
		if validityLineRe.MatchString(line) {
			s.Validity = line
			continue
		}

		if strings.HasPrefix(line, "E)") {
			line = strings.TrimSpace(line[2:])
			if line != "" && item == "" {
				item = line
			}
			continue
		}
		if itemHeaderRe.MatchString(line) {
			continue
		}

		if first == "" {
			first = line
		}
		switch {
		case s.Main == "" && len(line) > mainContentMinLen:
			s.Main = line
		case len(line) > additionalMinLen:
			s.Additional = append(s.Additional, line)
		}
	}

	if item != "" {
		if s.Main != "" {
			s.Additional = append([]string{s.Main}, s.Additional...)
		}
		s.Main = item
		return s
	}
	if s.Main == "" && first != "" {
		s.Main = first
		if len(s.Additional) > 0 && s.Additional[0] == first {
			s.Additional = s.Additional[1:]
		}
		if len(s.Additional) == 0 {
			s.Additional = nil
		}
	}
	return s
}

// ExtractQLine finds the first "Q)" segment anywhere in text.
func ExtractQLine(text string) string {
	return strings.TrimSpace(qLineRe.FindString(text))
}

// BuildSummary turns the primary content line into a short readable summary:
// repeated punctuation and whitespace collapsed, abbreviations expanded,
// parenthetical asides and bracket characters removed, hard-truncated.
func BuildSummary(main string) string {
	if main == "" {
		return ""
	}

	s := controlRe.ReplaceAllString(main, " ")
	s = multiDotRe.ReplaceAllString(s, ". ")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	for _, a := range abbreviations {
		s = a.re.ReplaceAllString(s, a.with)
	}
	s = parentheticRe.ReplaceAllString(s, " ")
	s = bracketRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	return truncate(s, MaxSummaryLen)
}

// BuildBody joins the main content, additional lines and a labelled validity
// line. The raw text is only used, bounded, when sectioning produced nothing.
func BuildBody(s Sections, rawText string) string {
	var parts []string
	if s.Main != "" {
		parts = append(parts, s.Main)
	}
	if len(s.Additional) > 0 {
		parts = append(parts, strings.Join(s.Additional, "\n"))
	}
	if s.Validity != "" {
		parts = append(parts, "Validity: "+s.Validity)
	}

	body := strings.Join(parts, "\n\n")
	body = controlRe.ReplaceAllString(body, " ")
	body = hSpaceRe.ReplaceAllString(body, " ")
	body = manyNLRe.ReplaceAllString(body, "\n\n")
	body = strings.TrimSpace(body)

	if body == "" {
		return truncateRunes(strings.TrimSpace(rawText), maxRawBodyLen)
	}
	return body
}

// truncate cuts s to max runes, replacing the tail with "..." when it overflows.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
