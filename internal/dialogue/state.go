// Package dialogue drives a booking conversation: it tracks what is known about the
// requested appointment, decides what to ask next, and turns negotiation and booking
// results into response classes for the transport layer to render.
package dialogue

import (
	"time"

	"booking-chatter/internal/calendar"
	"booking-chatter/internal/nlu"
)

type State string

const (
	StateGreeting             State = "greeting"
	StateCollectingIntent     State = "collecting_intent"
	StateCollectingDateTime   State = "collecting_datetime"
	StateNegotiating          State = "negotiating"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateFinalized            State = "finalized"
	StateCancelled            State = "cancelled"
)

// Terminal reports whether the session is over. A terminal session never changes again.
func (s State) Terminal() bool { return s == StateFinalized || s == StateCancelled }

// Memory is the slot memory of one session.
//
// Validated is set only by a negotiation that found RequestedRange free, and Confirmed
// is only ever set while Validated holds.
type Memory struct {
	Intent          nlu.Intent           `json:"intent"`
	RequestedRange  *calendar.TimeRange  `json:"requested_range,omitempty"`
	DurationMinutes *int                 `json:"duration_minutes,omitempty"`
	Confirmed       bool                 `json:"confirmed"`
	Validated       bool                 `json:"validated"`
	Candidates      []calendar.TimeRange `json:"candidate_slots,omitempty"`
}

// Clone returns a deep copy so transitions never share pointers with their input.
func (m Memory) Clone() Memory {
	out := m
	if m.RequestedRange != nil {
		r := *m.RequestedRange
		out.RequestedRange = &r
	}
	if m.DurationMinutes != nil {
		d := *m.DurationMinutes
		out.DurationMinutes = &d
	}
	if m.Candidates != nil {
		out.Candidates = append([]calendar.TimeRange(nil), m.Candidates...)
	}
	return out
}

// Duration is the requested length, or def when the user never stated one.
func (m Memory) Duration(def time.Duration) time.Duration {
	if m.DurationMinutes != nil && *m.DurationMinutes > 0 {
		return time.Duration(*m.DurationMinutes) * time.Minute
	}
	return def
}

func (m *Memory) setDuration(d time.Duration) {
	mins := int(d / time.Minute)
	m.DurationMinutes = &mins
}

// clearTime drops everything tied to the requested time, keeping intent and duration.
func (m *Memory) clearTime() {
	m.RequestedRange = nil
	m.Confirmed = false
	m.Validated = false
	m.Candidates = nil
}
