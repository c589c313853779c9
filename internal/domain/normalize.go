package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Normalize converts one upstream item into a Notam. It never panics outward:
// any failure while reading the item yields ok=false so the caller can drop
// that record and keep the rest of the batch. ordinal is the item's position
// in its payload and seeds the id when the upstream gives no number.
func Normalize(item RawItem, icao string, ordinal int, source Source) (n Notam, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			n, ok = Notam{}, false
		}
	}()

	if item == nil {
		return Notam{}, false
	}
	icao = strings.ToUpper(strings.TrimSpace(icao))
	if icao == "" {
		return Notam{}, false
	}

	number := item.Get(idFields...)
	id := icao + "-" + strconv.Itoa(ordinal)
	if number != "" {
		id = icao + "-" + number
	}

	rawText := item.Get(textFields...)
	sections := SplitSections(rawText)

	summary := BuildSummary(sections.Main)
	if summary == "" {
		summary = BuildSummary(item.Get("summary", "simpleText"))
	}
	switch {
	case summary != "":
	case strings.TrimSpace(rawText) == "":
		summary = placeholderNoText
	default:
		summary = placeholderNoContent
	}

	body := BuildBody(sections, rawText)
	if body == "" {
		body = summary
	}

	qLine := item.Get("qLine")
	if qLine == "" {
		qLine = sections.QLine
	}
	if qLine == "" {
		qLine = ExtractQLine(rawText + "\n" + item.Get("fullText"))
	}

	validFrom := NormalizeDate(item.Get(validFromFields...))
	validTo := NormalizeDate(item.Get(validToFields...))
	if validFrom != "" && validTo != "" && validTo < validFrom {
		validTo = ""
	}

	location := item.Get(locationFields...)
	if location == "" {
		location = icao
	}

	return Notam{
		ID:             id,
		ICAO:           icao,
		Number:         number,
		Type:           DetectType(item.Get("type"), rawText+" "+summary),
		Classification: Classify(item.Get("classification"), qLine, summary, body),
		Location:       location,
		ValidFrom:      validFrom,
		ValidTo:        validTo,
		Issued:         NormalizeDate(item.Get(issuedFields...)),
		Summary:        summary,
		Body:           body,
		QLine:          qLine,
		Source:         source,
	}, true
}

// NormalizeAll normalizes every item, returning the kept records and the
// number of items that failed.
func NormalizeAll(items []RawItem, icao string, source Source) ([]Notam, int) {
	out := make([]Notam, 0, len(items))
	dropped := 0
	for i, item := range items {
		n, ok := Normalize(item, icao, i, source)
		if !ok {
			dropped++
			continue
		}
		out = append(out, n)
	}
	return out, dropped
}

// String is a compact one-line rendering used in logs and the inspect tool.
func (n Notam) String() string {
	return fmt.Sprintf("%s [%s/%s] %s", n.ID, n.Classification, n.Type, n.Summary)
}
