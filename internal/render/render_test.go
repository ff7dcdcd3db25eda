package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"booking-chatter/internal/calendar"
	"booking-chatter/internal/datetime"
	"booking-chatter/internal/dialogue"
	"booking-chatter/internal/negotiator"
)

// Tuesday, 10:00.
var now = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

func span(d, h, m int, dur time.Duration) calendar.TimeRange {
	start := time.Date(2026, time.March, d, h, m, 0, 0, time.UTC)
	return calendar.TimeRange{Start: start, End: start.Add(dur)}
}

func TestMoment(t *testing.T) {
	r := New(nil)
	cases := map[string]time.Time{
		"Today at 3:00 PM":                       time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC),
		"Tomorrow at 9:30 AM":                    time.Date(2026, time.March, 11, 9, 30, 0, 0, time.UTC),
		"This Friday at 10:00 AM":                time.Date(2026, time.March, 13, 10, 0, 0, 0, time.UTC),
		"Tuesday, March 17, 2026 at 10:00 AM":    time.Date(2026, time.March, 17, 10, 0, 0, 0, time.UTC),
		"Wednesday, December 2, 2026 at 4:15 PM": time.Date(2026, time.December, 2, 16, 15, 0, 0, time.UTC),
	}
	for want, at := range cases {
		assert.Equal(t, want, r.Moment(at, now))
	}
}

func TestMoment_UsesConfiguredLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 16:00 UTC on Tuesday is 01:00 Wednesday in Tokyo; now is 19:00 Tuesday there.
	got := New(tokyo).Moment(time.Date(2026, time.March, 10, 16, 0, 0, 0, time.UTC), now)
	assert.Equal(t, "Tomorrow at 1:00 AM", got)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "30 min", Duration(30*time.Minute))
	assert.Equal(t, "1 h", Duration(time.Hour))
	assert.Equal(t, "1 h 30 min", Duration(90*time.Minute))
}

func TestRender_Kinds(t *testing.T) {
	r := New(nil)
	slot := span(11, 15, 0, 30*time.Minute)

	got := r.Render(dialogue.Response{Kind: dialogue.KindAskConfirmation, Range: &slot}, now)
	assert.Equal(t, "Tomorrow at 3:00 PM (30 min) is free. Shall I book it?", got)

	got = r.Render(dialogue.Response{Kind: dialogue.KindFinalized, Range: &slot, EventID: "e1"}, now)
	assert.Contains(t, got, "booked for Tomorrow at 3:00 PM")

	got = r.Render(dialogue.Response{Kind: dialogue.KindClarifyTime, Reason: datetime.ReasonPast}, now)
	assert.Contains(t, got, "already passed")

	got = r.Render(dialogue.Response{Kind: dialogue.KindProviderError, Booking: true}, now)
	assert.Contains(t, got, "couldn't save")

	for _, k := range []dialogue.Kind{
		dialogue.KindGreeting, dialogue.KindAskIntent, dialogue.KindAskForTime,
		dialogue.KindNoAvailability, dialogue.KindCancelled, dialogue.KindProviderError,
	} {
		assert.NotEmpty(t, r.Render(dialogue.Response{Kind: k}, now), k)
	}
}

func TestRender_Candidates(t *testing.T) {
	r := New(nil)
	cands := []calendar.TimeRange{span(11, 15, 30, 30*time.Minute), span(11, 16, 0, 30*time.Minute)}

	got := r.Render(dialogue.Response{Kind: dialogue.KindProposeCandidates, Candidates: cands, Conflict: negotiator.ReasonBusy}, now)
	lines := strings.Split(got, "\n")
	assert.Equal(t, "That time is already taken. Here are the nearest free slots:", lines[0])
	assert.Equal(t, "1. Tomorrow at 3:30 PM (30 min)", lines[1])
	assert.Equal(t, "2. Tomorrow at 4:00 PM (30 min)", lines[2])

	got = r.Render(dialogue.Response{Kind: dialogue.KindProposeCandidates, Candidates: cands, Conflict: negotiator.ReasonOutsideBusinessHrs}, now)
	assert.True(t, strings.HasPrefix(got, "That time is outside business hours."))

	got = r.Render(dialogue.Response{Kind: dialogue.KindInvalidSelection, Candidates: cands}, now)
	assert.True(t, strings.HasPrefix(got, "Please pick a number between 1 and 2"))
}
