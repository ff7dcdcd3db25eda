package dialogue

import (
	"booking-chatter/internal/calendar"
	"booking-chatter/internal/datetime"
	"booking-chatter/internal/negotiator"
)

// Kind classifies what the system says next. Rendering text is up to the transport.
type Kind string

const (
	KindNone              Kind = ""
	KindGreeting          Kind = "greeting"
	KindAskIntent         Kind = "ask_intent"
	KindAskForTime        Kind = "ask_for_time"
	KindClarifyTime       Kind = "clarify_time"
	KindProposeCandidates Kind = "propose_candidates"
	KindInvalidSelection  Kind = "invalid_selection"
	KindNoAvailability    Kind = "no_availability"
	KindAskConfirmation   Kind = "ask_confirmation"
	KindFinalized         Kind = "finalized"
	KindCancelled         Kind = "cancelled"
	KindProviderError     Kind = "provider_error"
)

type Response struct {
	Kind Kind `json:"kind"`
	// Range is the slot under confirmation or the booked slot.
	Range      *calendar.TimeRange  `json:"range,omitempty"`
	Candidates []calendar.TimeRange `json:"candidates,omitempty"`
	EventID    calendar.EventID     `json:"event_id,omitempty"`
	// Reason explains a ClarifyTime response.
	Reason datetime.Reason `json:"reason,omitempty"`
	// Conflict explains why candidates are proposed.
	Conflict negotiator.Reason `json:"conflict,omitempty"`
	// Booking is true when a ProviderError happened while writing the event.
	Booking bool `json:"booking,omitempty"`
}

func respond(k Kind) Response { return Response{Kind: k} }

func askConfirmation(r calendar.TimeRange) Response {
	return Response{Kind: KindAskConfirmation, Range: &r}
}

func proposeCandidates(c []calendar.TimeRange, reason negotiator.Reason) Response {
	return Response{Kind: KindProposeCandidates, Candidates: append([]calendar.TimeRange(nil), c...), Conflict: reason}
}
