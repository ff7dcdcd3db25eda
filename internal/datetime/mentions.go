package datetime

import (
	"regexp"
	"strings"
)

var (
	datePatterns = []*regexp.Regexp{
		dayAfterRe, tomorrowRe, todayRe, tonightRe, nextWeekRe, nextMonthRe, weekdayRe,
		isoDateRe, usDashRe, slashDateRe, monthDayRe, dayMonthRe, ordinalDayRe,
	}
	timePatterns = []*regexp.Regexp{
		colonTimeRe, meridiemTimeRe, oclockRe, atHourRe, noonRe, midnightRe, dayPartRe,
	}
)

// Mentions splits text into the date, time-of-day and duration phrases it contains,
// each normalized. Relative offsets in minutes or hours count as times, in days or
// longer as dates. Joining the three phrases resolves to the same range as the text.
func Mentions(text string) (date, clock, duration string) {
	work := normalize(text)

	var dates, clocks []string
	for _, m := range relativeRe.FindAllStringSubmatch(work, -1) {
		if u := m[2]; strings.HasPrefix(u, "min") || strings.HasPrefix(u, "h") {
			clocks = append(clocks, m[0])
		} else {
			dates = append(dates, m[0])
		}
	}
	work = blank(work, relativeRe)

	for _, re := range []*regexp.Regexp{halfHourRe, hourAndHalfRe, durationRe} {
		if m := re.FindString(work); m != "" && duration == "" {
			duration = m
		}
		work = blank(work, re)
	}

	for _, re := range datePatterns {
		dates = append(dates, re.FindAllString(work, -1)...)
		work = blank(work, re)
	}
	for _, re := range timePatterns {
		clocks = append(clocks, re.FindAllString(work, -1)...)
		work = blank(work, re)
	}
	return strings.Join(dates, " "), strings.Join(clocks, " "), duration
}
