// Package render turns dialogue response classes into user-facing English text.
package render

import (
	"fmt"
	"strings"
	"time"

	"booking-chatter/internal/calendar"
	"booking-chatter/internal/datetime"
	"booking-chatter/internal/dialogue"
	"booking-chatter/internal/negotiator"
)

// Text renders plain-text replies. Times are shown in Location when set, otherwise in
// the location of the range itself.
type Text struct {
	Location *time.Location
}

func New(loc *time.Location) Text { return Text{Location: loc} }

func (t Text) Render(resp dialogue.Response, now time.Time) string {
	switch resp.Kind {
	case dialogue.KindGreeting:
		return "Hi! I can book an appointment for you. What would you like to do?"
	case dialogue.KindAskIntent:
		return "I can book or reschedule an appointment. Just tell me what you need, for example \"book a meeting tomorrow at 3pm\"."
	case dialogue.KindAskForTime:
		return "When would you like to meet? For example \"tomorrow at 3pm\" or \"Friday morning\"."
	case dialogue.KindClarifyTime:
		return clarify(resp.Reason)
	case dialogue.KindProposeCandidates:
		var b strings.Builder
		b.WriteString(conflict(resp.Conflict))
		b.WriteString(" Here are the nearest free slots:\n")
		b.WriteString(t.List(resp.Candidates, now))
		b.WriteString("\nReply with a number, or suggest another time.")
		return b.String()
	case dialogue.KindInvalidSelection:
		return fmt.Sprintf("Please pick a number between 1 and %d:\n%s", len(resp.Candidates), t.List(resp.Candidates, now))
	case dialogue.KindNoAvailability:
		return "I couldn't find a free slot near that time. Could you suggest another day?"
	case dialogue.KindAskConfirmation:
		if resp.Range == nil {
			return "Shall I book it?"
		}
		return fmt.Sprintf("%s is free. Shall I book it?", t.Range(*resp.Range, now))
	case dialogue.KindFinalized:
		if resp.Range == nil {
			return "Done! Your appointment is booked."
		}
		return fmt.Sprintf("Done! Your appointment is booked for %s.", t.Range(*resp.Range, now))
	case dialogue.KindCancelled:
		return "Okay, I've dropped this booking request. Message me any time to start again."
	case dialogue.KindProviderError:
		if resp.Booking {
			return "I couldn't save the booking to the calendar just now. Reply \"yes\" to try again."
		}
		return "I couldn't reach the calendar just now. Reply \"try again\" in a moment, or suggest another time."
	default:
		return "Sorry, I didn't get that."
	}
}

func clarify(reason datetime.Reason) string {
	switch reason {
	case datetime.ReasonPast:
		return "That time has already passed. Could you pick a later one?"
	case datetime.ReasonAmbiguous:
		return "I found more than one possible time there. Could you give me a single date and time?"
	case datetime.ReasonNoTemporal:
		return "I couldn't find a date or time in that. When would you like to meet?"
	default:
		return "That doesn't look like a valid date or time. Could you rephrase it?"
	}
}

func conflict(reason negotiator.Reason) string {
	if reason == negotiator.ReasonOutsideBusinessHrs {
		return "That time is outside business hours."
	}
	return "That time is already taken."
}

// List renders numbered options, one per line.
func (t Text) List(rs []calendar.TimeRange, now time.Time) string {
	lines := make([]string, len(rs))
	for i, r := range rs {
		lines[i] = fmt.Sprintf("%d. %s", i+1, t.Range(r, now))
	}
	return strings.Join(lines, "\n")
}

// Range renders "Tomorrow at 3:00 PM (30 min)".
func (t Text) Range(r calendar.TimeRange, now time.Time) string {
	return fmt.Sprintf("%s (%s)", t.Moment(r.Start, now), Duration(r.Duration()))
}

// Moment renders a start time relative to now: "Today at 3:00 PM", "Tomorrow at ...",
// "This Friday at ..." within the coming week, and a full date beyond that.
func (t Text) Moment(at, now time.Time) string {
	loc := t.Location
	if loc == nil {
		loc = at.Location()
	}
	at, now = at.In(loc), now.In(loc)
	clock := at.Format("3:04 PM")

	days := dayNumber(at) - dayNumber(now)
	switch {
	case days == 0:
		return "Today at " + clock
	case days == 1:
		return "Tomorrow at " + clock
	case days > 1 && days < 7:
		return fmt.Sprintf("This %s at %s", at.Weekday(), clock)
	default:
		return fmt.Sprintf("%s at %s", at.Format("Monday, January 2, 2006"), clock)
	}
}

// dayNumber counts calendar days in the value's own location.
func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// Duration renders "30 min", "1 h", "1 h 30 min".
func Duration(d time.Duration) string {
	mins := int(d / time.Minute)
	h, m := mins/60, mins%60
	switch {
	case h == 0:
		return fmt.Sprintf("%d min", m)
	case m == 0:
		return fmt.Sprintf("%d h", h)
	default:
		return fmt.Sprintf("%d h %d min", h, m)
	}
}
