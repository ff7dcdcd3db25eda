// Package nlu turns raw user text into an intent and the entity fragments the dialogue needs.
package nlu

import (
	"context"
	"strings"
)

type Intent string

const (
	IntentBook       Intent = "book"
	IntentReschedule Intent = "reschedule"
	IntentCancel     Intent = "cancel"
	IntentUnknown    Intent = "unknown"
)

// ParseIntent maps free-form labels onto the known intents.
func ParseIntent(s string) Intent {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "book", "booking", "schedule":
		return IntentBook
	case "reschedule", "modification", "modify":
		return IntentReschedule
	case "cancel", "cancellation":
		return IntentCancel
	default:
		return IntentUnknown
	}
}

type Confirmation string

const (
	ConfirmNone Confirmation = ""
	ConfirmYes  Confirmation = "yes"
	ConfirmNo   Confirmation = "no"
)

// Entities carries the raw fragments found in one message. Selection is a 1-based
// choice among proposed options, zero when absent.
type Entities struct {
	Date         string       `json:"date,omitempty"`
	Time         string       `json:"time,omitempty"`
	Duration     string       `json:"duration,omitempty"`
	Confirmation Confirmation `json:"confirmation,omitempty"`
	Selection    int          `json:"selection,omitempty"`
}

func (e Entities) HasTemporal() bool { return e.Date != "" || e.Time != "" }

// TemporalFragment joins the date, time and duration fragments for resolution.
func (e Entities) TemporalFragment() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Date, e.Time, e.Duration} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

type Extraction struct {
	Intent   Intent   `json:"intent"`
	Entities Entities `json:"entities"`
	Text     string   `json:"text"`
}

// Extractor is the NLU capability. Implementations must be safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, text string) (Extraction, error)
}
