package extract

import "time"

// dateLayouts are the input formats parseDate normalises, tried in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"20060102",
}

// parseDate parses raw against each of dateLayouts and returns the first
// successful match in UTC. Returns ok=false for an empty or unparsable
// string, letting the caller fall back to its own default.
func parseDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
