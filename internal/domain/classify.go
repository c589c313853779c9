package domain

import (
	"regexp"
	"strings"
)

// explicitClasses maps upstream classification synonyms onto the taxonomy.
var explicitClasses = map[string]Classification{
	"RUNWAY":         ClassRunway,
	"TAXIWAY":        ClassTaxiway,
	"INSTRUMENT":     ClassNavaid,
	"NAVIGATION":     ClassNavaid,
	"NAV":            ClassNavaid,
	"COMMUNICATION":  ClassCommunications,
	"COMMUNICATIONS": ClassCommunications,
	"SERVICE":        ClassService,
	"DOMESTIC":       ClassDomestic,
	"INTERNATIONAL":  ClassInternational,
	"AERODROME":      ClassAerodrome,
	"OTHER":          ClassOther,

	string(ClassRunway):         ClassRunway,
	string(ClassTaxiway):        ClassTaxiway,
	string(ClassNavaid):         ClassNavaid,
	string(ClassService):        ClassService,
	string(ClassAerodrome):      ClassAerodrome,
	string(ClassCommunications): ClassCommunications,
	string(ClassDomestic):       ClassDomestic,
	string(ClassInternational):  ClassInternational,
	string(ClassOther):          ClassOther,
}

// qCodeClasses maps the first two letters of the Q-line code segment.
var qCodeClasses = map[string]Classification{
	"QM": ClassRunway,
	"QT": ClassTaxiway,
	"QI": ClassNavaid,
	"QR": ClassNavaid,
	"QF": ClassService,
	"QA": ClassAerodrome,
	"QC": ClassCommunications,
}

// keywordClasses is evaluated in order; the first match wins.
var keywordClasses = []struct {
	re    *regexp.Regexp
	class Classification
}{
	{regexp.MustCompile(`\b(RUNWAY|RWY)\b`), ClassRunway},
	{regexp.MustCompile(`\b(TAXIWAY|TWY)\b`), ClassTaxiway},
	{regexp.MustCompile(`\b(ILS|INSTRUMENT)\b`), ClassNavaid},
	{regexp.MustCompile(`\bFUEL\b`), ClassService},
	{regexp.MustCompile(`\bDOMESTIC\b`), ClassDomestic},
}

var cancelRe = regexp.MustCompile(`\b(CANCEL|CANCELLED|CANCELED|CNL)\b`)

// Classify picks a subject code using, in order: a specific explicit value,
// the Q-line code, keywords in the summary and body, a coarse explicit scope
// value (DOM, INTL), and finally AO.
func Classify(explicit, qLine, summary, body string) Classification {
	var coarse Classification
	if c, ok := explicitClasses[strings.ToUpper(strings.TrimSpace(explicit))]; ok {
		if !isScope(c) {
			return c
		}
		coarse = c
	}

	if c, ok := classFromQLine(qLine); ok {
		return c
	}

	text := strings.ToUpper(summary + " " + body)
	for _, k := range keywordClasses {
		if k.re.MatchString(text) {
			return k.class
		}
	}

	if coarse != "" {
		return coarse
	}
	return ClassOther
}

// isScope reports whether c describes traffic scope rather than subject.
func isScope(c Classification) bool {
	return c == ClassDomestic || c == ClassInternational
}

// classFromQLine reads the second slash-delimited segment of a Q-line, e.g.
// "QMRLC" in "Q) CZYZ/QMRLC/IV/NBO/A/000/999/".
func classFromQLine(qLine string) (Classification, bool) {
	parts := strings.Split(qLine, "/")
	if len(parts) < 2 {
		return "", false
	}
	code := strings.ToUpper(strings.TrimSpace(parts[1]))
	if len(code) < 2 {
		return "", false
	}
	c, ok := qCodeClasses[code[:2]]
	return c, ok
}

// DetectType returns "C" for cancellations, otherwise the explicit
// single-letter upstream type, otherwise "A".
func DetectType(explicit, text string) string {
	if cancelRe.MatchString(strings.ToUpper(text)) {
		return "C"
	}
	t := strings.ToUpper(strings.TrimSpace(explicit))
	if len(t) == 1 && t[0] >= 'A' && t[0] <= 'Z' {
		return t
	}
	return "A"
}
