package cone

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationRe = regexp.MustCompile(`(?i)(\d+)\s*(second|minute|hour|day|week)s?`)

var unitSeconds = map[string]int64{
	"second": 1,
	"minute": 60,
	"hour":   3600,
	"day":    86400,
	"week":   604800,
}

var permanentWords = []string{"permanent", "forever", "indefinite"}

// Lifetime is a parsed duration spec. Zero means no expiry.
type Lifetime struct {
	Duration time.Duration
	Label    string
	// Matched is false when the spec was neither a duration nor a permanence word.
	Matched bool
}

// ParseDuration reads "<n> <unit>[s]" anywhere in spec. Empty specs, the words
// permanent/forever/indefinite and unmatched text all mean no expiry.
func ParseDuration(spec string) Lifetime {
	s := strings.TrimSpace(spec)
	if s == "" {
		return Lifetime{Label: "permanent", Matched: true}
	}
	lower := strings.ToLower(s)
	for _, w := range permanentWords {
		if strings.Contains(lower, w) {
			return Lifetime{Label: "permanent", Matched: true}
		}
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return Lifetime{Label: "permanent"}
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return Lifetime{Label: "permanent", Matched: true}
	}
	unit := strings.ToLower(m[2])
	// Lifetimes past the time.Duration range (about 292 years) never expire.
	if n > math.MaxInt64/int64(time.Second)/unitSeconds[unit] {
		return Lifetime{Label: "permanent", Matched: true}
	}
	label := fmt.Sprintf("%d %s", n, unit)
	if n != 1 {
		label += "s"
	}
	return Lifetime{
		Duration: time.Duration(n*unitSeconds[unit]) * time.Second,
		Label:    label,
		Matched:  true,
	}
}
