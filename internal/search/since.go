package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxLookbackDays bounds relative recency windows (about a century), which
// keeps hour counts inside time.Duration.
const maxLookbackDays = 36525

// ParseSince converts a recency filter into the earliest accepted instant.
// Accepted forms: an RFC3339 timestamp, a YYYY-MM-DD date (midnight UTC),
// "<N>h", "<N>d", "<N>w" relative to now, "today" and "yesterday" (UTC
// midnight). An empty string means no filter and yields the zero time.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Time{}, nil
	}
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch s {
	case "today":
		return midnight, nil
	case "yesterday":
		return midnight.AddDate(0, 0, -1), nil
	}

	if t, err := time.Parse(time.RFC3339, strings.ToUpper(s)); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	if len(s) >= 2 {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err == nil && n >= 0 {
			switch s[len(s)-1] {
			case 'h':
				if n <= maxLookbackDays*24 {
					return now.Add(-time.Duration(n) * time.Hour), nil
				}
			case 'd':
				if n <= maxLookbackDays {
					return now.AddDate(0, 0, -n), nil
				}
			case 'w':
				if n <= maxLookbackDays/7 {
					return now.AddDate(0, 0, -7*n), nil
				}
			}
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised recency %q (use RFC3339, YYYY-MM-DD, Nh, Nd, Nw up to 100 years, today or yesterday)", s)
}
