// Package datetime turns natural-language date, time and duration fragments into
// concrete calendar ranges. Everything here is pure: results depend only on the
// fragment, the reference instant and the resolver settings.
package datetime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"booking-chatter/internal/calendar"
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

func (c Clock) Offset() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// DefaultDayParts are the window starts used for "morning", "afternoon" and "evening".
var DefaultDayParts = map[string]Clock{
	"morning": {Hour: 9},
	"afternoon": {Hour: 14},
	"evening": {Hour: 18},
	"tonight": {Hour: 18},
}

// Resolver resolves fragments in a single location.
type Resolver struct {
	Location         *time.Location
	DefaultTimeOfDay Clock
	DayParts         map[string]Clock
}

func NewResolver(loc *time.Location, defaultTimeOfDay Clock) Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return Resolver{Location: loc, DefaultTimeOfDay: defaultTimeOfDay, DayParts: DefaultDayParts}
}

var (
	dayAfterRe  = regexp.MustCompile(`\bday after tomorrow\b`)
	tomorrowRe  = regexp.MustCompile(`\btomorrow\b`)
	todayRe     = regexp.MustCompile(`\btoday\b`)
	tonightRe   = regexp.MustCompile(`\btonight\b`)
	nextWeekRe  = regexp.MustCompile(`\bnext week\b`)
	nextMonthRe = regexp.MustCompile(`\bnext month\b`)
	weekdayRe   = regexp.MustCompile(`\b(?:(this|next|coming)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)s?\b`)

	monthNames   = `(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)`
	isoDateRe    = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	usDashRe     = regexp.MustCompile(`\b(\d{1,2})-(\d{1,2})-(\d{4})\b`)
	slashDateRe  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	monthDayRe   = regexp.MustCompile(`\b` + monthNames + `\s+(\d{1,2})(?:st|nd|rd|th)?(?:\s+(\d{4}))?\b`)
	dayMonthRe   = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthNames + `(?:\s+(\d{4}))?\b`)
	ordinalDayRe = regexp.MustCompile(`\bthe\s+(\d{1,2})(?:st|nd|rd|th)\b`)

	colonTimeRe    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	meridiemTimeRe = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	oclockRe       = regexp.MustCompile(`\b(\d{1,2})\s*o'?\s*clock\b`)
	atHourRe       = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
	noonRe         = regexp.MustCompile(`\b(noon|midday)\b`)
	midnightRe     = regexp.MustCompile(`\bmidnight\b`)
	dayPartRe      = regexp.MustCompile(`\b(morning|afternoon|evening)\b`)

	punctRe  = regexp.MustCompile(`[,;!?()"]`)
	periodRe = regexp.MustCompile(`\.(\D|$)`)
)

var months = map[string]time.Month{
	"january": time.January, "jan": time.January, "february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March, "april": time.April, "apr": time.April, "may": time.May,
	"june": time.June, "jun": time.June, "july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August, "september": time.September, "sept": time.September,
	"sep": time.September, "october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November, "december": time.December, "dec": time.December,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("a.m.", "am", "p.m.", "pm", "’", "'", "`", "'").Replace(s)
	s = punctRe.ReplaceAllString(s, " ")
	s = periodRe.ReplaceAllString(s, " $1")
	return strings.Join(strings.Fields(s), " ")
}

// blank replaces every match of re with spaces so later patterns cannot reuse its digits.
func blank(s string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(s, func(m string) string { return strings.Repeat(" ", len(m)) })
}

type clockMatch struct {
	clock    Clock
	meridiem bool
}

type parsed struct {
	days    []time.Time
	instant *time.Time
	clocks  []clockMatch
	dayPart string
	tonight bool
}

func (p *parsed) addDay(d time.Time) {
	for _, existing := range p.days {
		if existing.Equal(d) {
			return
		}
	}
	p.days = append(p.days, d)
}

func (p *parsed) addClock(c clockMatch) {
	for _, existing := range p.clocks {
		if existing.clock == c.clock {
			return
		}
	}
	p.clocks = append(p.clocks, c)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func ceilMinute(t time.Time) time.Time {
	if tr := t.Truncate(time.Minute); tr.Before(t) {
		return tr.Add(time.Minute)
	}
	return t
}

func (r Resolver) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r Resolver) dayPart(name string) Clock {
	if c, ok := r.DayParts[name]; ok {
		return c
	}
	return DefaultDayParts[name]
}

// Resolve converts a fragment into a concrete range, relative to reference.
// Explicit durations inside the fragment override defaultDuration.
func (r Resolver) Resolve(fragment string, reference time.Time, defaultDuration time.Duration) (calendar.TimeRange, error) {
	ref := reference.In(r.location())
	text := normalize(fragment)

	duration := defaultDuration
	if d, ok := ParseDuration(text); ok {
		duration = d
	}
	if duration <= 0 {
		duration = time.Hour
	}

	start, err := r.resolveStart(text, ref)
	if err != nil {
		if re, ok := AsResolutionError(err); ok {
			re.Fragment = fragment
		}
		return calendar.TimeRange{}, err
	}
	return calendar.NewTimeRange(start, start.Add(duration))
}

func (r Resolver) resolveStart(text string, ref time.Time) (time.Time, error) {
	if text == "" {
		return time.Time{}, newErr(ReasonNoTemporal, "")
	}
	p, err := r.parse(text, ref)
	if err != nil {
		return time.Time{}, err
	}

	if len(p.days) > 1 {
		return time.Time{}, newErr(ReasonAmbiguous, "more than one date")
	}
	if len(p.clocks) > 1 {
		return time.Time{}, newErr(ReasonAmbiguous, "more than one time")
	}

	if p.instant != nil {
		if len(p.days) > 0 || len(p.clocks) > 0 {
			return time.Time{}, newErr(ReasonAmbiguous, "relative offset combined with a date or time")
		}
		return *p.instant, nil
	}

	var clock *Clock
	switch {
	case len(p.clocks) == 1:
		c := p.clocks[0]
		if !c.meridiem && c.clock.Hour < 12 && (p.dayPart == "afternoon" || p.dayPart == "evening" || p.tonight) {
			c.clock.Hour += 12
		}
		clock = &c.clock
	case p.dayPart != "":
		c := r.dayPart(p.dayPart)
		clock = &c
	case p.tonight:
		c := r.dayPart("tonight")
		clock = &c
	}

	today := midnight(ref)
	switch {
	case len(p.days) == 1:
		c := r.DefaultTimeOfDay
		if clock != nil {
			c = *clock
		}
		start := c.On(p.days[0])
		if start.Before(ref) && len(p.clocks) == 0 && p.days[0].Equal(today) {
			// Later today without a stated time: the next whole minute.
			start = ceilMinute(ref)
		}
		if start.Before(ref) {
			return time.Time{}, newErr(ReasonPast, start.Format(time.RFC3339))
		}
		return start, nil
	case clock != nil:
		start := clock.On(today)
		if !start.After(ref) {
			start = clock.On(today.AddDate(0, 0, 1))
		}
		return start, nil
	}
	return time.Time{}, newErr(ReasonNoTemporal, "")
}

func (r Resolver) parse(text string, ref time.Time) (*parsed, error) {
	p := &parsed{}
	today := midnight(ref)
	work := text

	for _, m := range relativeRe.FindAllStringSubmatch(work, -1) {
		n, ok := parseNumber(m[1])
		if !ok || n <= 0 {
			return nil, newErr(ReasonInvalid, m[0])
		}
		switch unit := m[2]; {
		case strings.HasPrefix(unit, "min"), strings.HasPrefix(unit, "h"):
			offset := time.Duration(n * unitMinutes(unit) * float64(time.Minute))
			at := ceilMinute(ref.Add(offset))
			if p.instant != nil && !p.instant.Equal(at) {
				return nil, newErr(ReasonAmbiguous, "more than one offset")
			}
			p.instant = &at
		case strings.HasPrefix(unit, "day"):
			p.addDay(today.AddDate(0, 0, int(n)))
		case strings.HasPrefix(unit, "week"):
			p.addDay(today.AddDate(0, 0, 7*int(n)))
		case strings.HasPrefix(unit, "month"):
			p.addDay(today.AddDate(0, int(n), 0))
		}
	}
	work = blank(work, relativeRe)
	work = blank(work, halfHourRe)
	work = blank(work, hourAndHalfRe)
	work = blank(work, durationRe)

	if dayAfterRe.MatchString(work) {
		p.addDay(today.AddDate(0, 0, 2))
		work = blank(work, dayAfterRe)
	}
	if tomorrowRe.MatchString(work) {
		p.addDay(today.AddDate(0, 0, 1))
		work = blank(work, tomorrowRe)
	}
	if todayRe.MatchString(work) {
		p.addDay(today)
		work = blank(work, todayRe)
	}
	if tonightRe.MatchString(work) {
		p.addDay(today)
		p.tonight = true
		work = blank(work, tonightRe)
	}
	if nextWeekRe.MatchString(work) {
		p.addDay(today.AddDate(0, 0, 7))
		work = blank(work, nextWeekRe)
	}
	if nextMonthRe.MatchString(work) {
		p.addDay(today.AddDate(0, 1, 0))
		work = blank(work, nextMonthRe)
	}

	for _, m := range weekdayRe.FindAllStringSubmatch(work, -1) {
		day, err := weekdayDate(m[1], weekdays[m[2]], today)
		if err != nil {
			return nil, err
		}
		p.addDay(day)
	}
	work = blank(work, weekdayRe)

	var err error
	if work, err = r.absoluteDates(p, work, today); err != nil {
		return nil, err
	}
	if err := r.clocks(p, work); err != nil {
		return nil, err
	}
	return p, nil
}

// weekdayDate picks the occurrence named by a weekday reference.
// A bare weekday equal to the reference weekday is ambiguous: today or in a week.
func weekdayDate(qualifier string, wd time.Weekday, today time.Time) (time.Time, error) {
	ahead := (int(wd) - int(today.Weekday()) + 7) % 7
	switch qualifier {
	case "this":
	case "coming":
		if ahead == 0 {
			ahead = 7
		}
	case "next":
		if ahead == 0 {
			ahead = 7
		}
		ahead += 7
	default:
		if ahead == 0 {
			return time.Time{}, newErr(ReasonAmbiguous, "weekday names the current day")
		}
	}
	return today.AddDate(0, 0, ahead), nil
}

func (r Resolver) absoluteDates(p *parsed, work string, today time.Time) (string, error) {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}

	for _, m := range isoDateRe.FindAllStringSubmatch(work, -1) {
		d, err := buildDate(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]), today)
		if err != nil {
			return "", err
		}
		p.addDay(d)
	}
	work = blank(work, isoDateRe)

	for _, m := range usDashRe.FindAllStringSubmatch(work, -1) {
		d, err := buildDate(atoi(m[3]), time.Month(atoi(m[1])), atoi(m[2]), today)
		if err != nil {
			return "", err
		}
		p.addDay(d)
	}
	work = blank(work, usDashRe)

	for _, m := range slashDateRe.FindAllStringSubmatch(work, -1) {
		year := atoi(m[3])
		if m[3] != "" && year < 100 {
			year += 2000
		}
		d, err := buildDate(year, time.Month(atoi(m[1])), atoi(m[2]), today)
		if err != nil {
			return "", err
		}
		p.addDay(d)
	}
	work = blank(work, slashDateRe)

	for _, m := range monthDayRe.FindAllStringSubmatch(work, -1) {
		d, err := buildDate(atoi(m[3]), months[m[1]], atoi(m[2]), today)
		if err != nil {
			return "", err
		}
		p.addDay(d)
	}
	work = blank(work, monthDayRe)

	for _, m := range dayMonthRe.FindAllStringSubmatch(work, -1) {
		d, err := buildDate(atoi(m[3]), months[m[2]], atoi(m[1]), today)
		if err != nil {
			return "", err
		}
		p.addDay(d)
	}
	work = blank(work, dayMonthRe)

	for _, m := range ordinalDayRe.FindAllStringSubmatch(work, -1) {
		day := atoi(m[1])
		month := today.Month()
		year := today.Year()
		if day < today.Day() {
			next := time.Date(year, month+1, 1, 0, 0, 0, 0, today.Location())
			month, year = next.Month(), next.Year()
		}
		d, err := buildDate(year, month, day, today)
		if err != nil {
			return "", err
		}
		p.addDay(d)
	}
	return blank(work, ordinalDayRe), nil
}

// buildDate validates a calendar date. A zero year selects the next occurrence on or
// after today.
func buildDate(year int, month time.Month, day int, today time.Time) (time.Time, error) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, newErr(ReasonInvalid, fmt.Sprintf("%d/%d", month, day))
	}
	explicitYear := year != 0
	if !explicitYear {
		year = today.Year()
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, today.Location())
	if !explicitYear && d.Before(today) {
		d = time.Date(year+1, month, day, 0, 0, 0, 0, today.Location())
	}
	if d.Day() != day {
		return time.Time{}, newErr(ReasonInvalid, fmt.Sprintf("%s %d does not exist", month, day))
	}
	return d, nil
}

func (r Resolver) clocks(p *parsed, work string) error {
	for _, m := range colonTimeRe.FindAllStringSubmatch(work, -1) {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		c, err := makeClock(h, mm, m[3])
		if err != nil {
			return err
		}
		p.addClock(c)
	}
	work = blank(work, colonTimeRe)

	for _, m := range meridiemTimeRe.FindAllStringSubmatch(work, -1) {
		h, _ := strconv.Atoi(m[1])
		c, err := makeClock(h, 0, m[2])
		if err != nil {
			return err
		}
		p.addClock(c)
	}
	work = blank(work, meridiemTimeRe)

	for _, re := range []*regexp.Regexp{oclockRe, atHourRe} {
		for _, m := range re.FindAllStringSubmatch(work, -1) {
			h, _ := strconv.Atoi(m[1])
			c, err := makeClock(h, 0, "")
			if err != nil {
				return err
			}
			p.addClock(c)
		}
		work = blank(work, re)
	}

	if noonRe.MatchString(work) {
		p.addClock(clockMatch{clock: Clock{Hour: 12}, meridiem: true})
		work = blank(work, noonRe)
	}
	if midnightRe.MatchString(work) {
		p.addClock(clockMatch{clock: Clock{}, meridiem: true})
		work = blank(work, midnightRe)
	}

	for _, m := range dayPartRe.FindAllStringSubmatch(work, -1) {
		if p.dayPart != "" && p.dayPart != m[1] && len(p.clocks) == 0 {
			return newErr(ReasonAmbiguous, "more than one part of the day")
		}
		p.dayPart = m[1]
	}
	return nil
}

// makeClock applies meridiem rules. Without am/pm, hours 1..7 are read as afternoon,
// since nobody books a meeting at 3 in the morning by saying "at 3".
func makeClock(h, m int, meridiem string) (clockMatch, error) {
	if m < 0 || m > 59 {
		return clockMatch{}, newErr(ReasonInvalid, fmt.Sprintf("minute %d", m))
	}
	switch meridiem {
	case "am", "pm":
		if h < 1 || h > 12 {
			return clockMatch{}, newErr(ReasonInvalid, fmt.Sprintf("%d%s", h, meridiem))
		}
		if meridiem == "pm" && h != 12 {
			h += 12
		}
		if meridiem == "am" && h == 12 {
			h = 0
		}
		return clockMatch{clock: Clock{Hour: h, Minute: m}, meridiem: true}, nil
	default:
		if h < 0 || h > 23 {
			return clockMatch{}, newErr(ReasonInvalid, fmt.Sprintf("hour %d", h))
		}
		if h >= 1 && h <= 7 {
			h += 12
		}
		return clockMatch{clock: Clock{Hour: h, Minute: m}, meridiem: h >= 13}, nil
	}
}
