package datetime

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const numPattern = `(\d+(?:\.\d+)?|an?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fifteen|twenty|thirty|forty-five|forty|sixty|ninety)`

var numberWords = map[string]float64{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"fifteen": 15, "twenty": 20, "thirty": 30, "forty": 40, "forty-five": 45,
	"sixty": 60, "ninety": 90,
}

var (
	relativeRe    = regexp.MustCompile(`\bin\s+` + numPattern + `\s+(minutes?|mins?|hours?|hrs?|days?|weeks?|months?)\b`)
	halfHourRe    = regexp.MustCompile(`\bhalf\s+an?\s+hour\b`)
	hourAndHalfRe = regexp.MustCompile(`\b(?:(?:an?|one|1)\s+)?hour\s+and\s+a\s+half\b`)
	durationRe    = regexp.MustCompile(`\b` + numPattern + `\s*(hours?|hrs?|minutes?|mins?)\b(?:\s*(?:and\s+)?(\d+)\s*(minutes?|mins?)\b)?`)
)

const maxDuration = 24 * time.Hour

func parseNumber(s string) (float64, bool) {
	if v, ok := numberWords[s]; ok {
		return v, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func unitMinutes(unit string) float64 {
	switch {
	case strings.HasPrefix(unit, "h"):
		return 60
	case strings.HasPrefix(unit, "m"):
		return 1
	}
	return 0
}

// ParseDuration extracts an explicit meeting length such as "for 30 minutes", "an hour"
// or "1.5 hours". Relative offsets like "in 2 hours" are not durations.
func ParseDuration(fragment string) (time.Duration, bool) {
	text := blank(normalize(fragment), relativeRe)
	if text == "" {
		return 0, false
	}
	if halfHourRe.MatchString(text) {
		return 30 * time.Minute, true
	}
	if hourAndHalfRe.MatchString(text) {
		return 90 * time.Minute, true
	}
	m := durationRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, ok := parseNumber(m[1])
	if !ok {
		return 0, false
	}
	minutes := n * unitMinutes(m[2])
	if m[3] != "" {
		extra, _ := strconv.ParseFloat(m[3], 64)
		minutes += extra
	}
	d := time.Duration(math.Round(minutes)) * time.Minute
	if d <= 0 || d > maxDuration {
		return 0, false
	}
	return d, true
}

var meetingKinds = []struct {
	words    []string
	duration time.Duration
}{
	{[]string{"workshop", "training"}, 120 * time.Minute},
	{[]string{"call", "quick", "brief", "sync", "chat"}, 30 * time.Minute},
	{[]string{"meeting", "session", "appointment"}, 60 * time.Minute},
}

// InferDuration returns the explicit duration when present, otherwise a length implied by
// the kind of meeting mentioned ("quick call", "workshop").
func InferDuration(text string) (time.Duration, bool) {
	if d, ok := ParseDuration(text); ok {
		return d, true
	}
	words := strings.Fields(normalize(text))
	for _, kind := range meetingKinds {
		for _, w := range words {
			for _, k := range kind.words {
				if w == k {
					return kind.duration, true
				}
			}
		}
	}
	return 0, false
}
