package series

import (
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var dayLayouts = []string{
	"2006-1-2",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/1/2",
}

// ParseDay reads a calendar day from an ISO-ish date key. Non-padded
// months and days and full timestamps are accepted.
func ParseDay(raw string) (civil.Date, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return civil.Date{}, false
	}
	if d, err := civil.ParseDate(raw); err == nil {
		return d, true
	}
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

// SortDates orders date keys chronologically. Keys that do not parse sort
// after every valid key, lexically among themselves.
func SortDates(keys []string) []string {
	type dated struct {
		raw   string
		day   civil.Date
		valid bool
	}
	parsed := make([]dated, 0, len(keys))
	for _, key := range keys {
		day, ok := ParseDay(key)
		parsed = append(parsed, dated{raw: key, day: day, valid: ok})
	}
	slices.SortFunc(parsed, func(a, b dated) int {
		switch {
		case a.valid && !b.valid:
			return -1
		case !a.valid && b.valid:
			return 1
		case a.valid && b.valid:
			if a.day.Before(b.day) {
				return -1
			}
			if a.day.After(b.day) {
				return 1
			}
		}
		return strings.Compare(a.raw, b.raw)
	})
	out := make([]string, 0, len(parsed))
	for _, p := range parsed {
		out = append(out, p.raw)
	}
	return out
}
