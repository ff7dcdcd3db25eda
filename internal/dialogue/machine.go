package dialogue

import (
	"time"

	"booking-chatter/internal/calendar"
	"booking-chatter/internal/datetime"
	"booking-chatter/internal/negotiator"
	"booking-chatter/internal/nlu"
)

// Event is an input to the state machine.
type Event interface{ isEvent() }

// TurnEvent is one user message, already extracted.
type TurnEvent struct {
	Extraction nlu.Extraction
	ReceivedAt time.Time
}

// NegotiatedEvent reports the result of a requested negotiation. Err is set when the
// provider was unavailable.
type NegotiatedEvent struct {
	Range  calendar.TimeRange
	Result negotiator.Result
	Err    error
}

// BookedEvent reports the result of writing the confirmed booking.
type BookedEvent struct {
	Range   calendar.TimeRange
	EventID calendar.EventID
	Err     error
}

func (TurnEvent) isEvent()       {}
func (NegotiatedEvent) isEvent() {}
func (BookedEvent) isEvent()     {}

type EffectKind int

const (
	EffectNone EffectKind = iota
	// EffectNegotiate asks for a NegotiatedEvent for Range.
	EffectNegotiate
	// EffectFinalize asks for the booking of Range and a BookedEvent.
	EffectFinalize
	// EffectReprocess feeds the same TurnEvent again in the new state.
	EffectReprocess
)

func (k EffectKind) String() string {
	switch k {
	case EffectNegotiate:
		return "negotiate"
	case EffectFinalize:
		return "finalize"
	case EffectReprocess:
		return "reprocess"
	default:
		return "none"
	}
}

type Effect struct {
	Kind  EffectKind
	Range calendar.TimeRange
}

// Outcome is the result of one transition. Response is empty while an effect is pending.
type Outcome struct {
	State    State
	Memory   Memory
	Response Response
	Effect   Effect
}

// Machine is the pure transition function of the booking dialogue. It performs no I/O:
// calendar work is requested through effects and its results come back as events.
type Machine struct {
	Resolver        datetime.Resolver
	DefaultDuration time.Duration
}

func NewMemory() Memory { return Memory{Intent: nlu.IntentUnknown} }

func (m Machine) Transition(state State, mem Memory, ev Event) Outcome {
	mem = mem.Clone()
	switch e := ev.(type) {
	case TurnEvent:
		return m.onTurn(state, mem, e)
	case NegotiatedEvent:
		return m.onNegotiated(state, mem, e)
	case BookedEvent:
		return m.onBooked(state, mem, e)
	}
	return Outcome{State: state, Memory: mem}
}

func (m Machine) onTurn(state State, mem Memory, e TurnEvent) Outcome {
	x := e.Extraction
	if state.Terminal() {
		state, mem = StateGreeting, NewMemory()
	}
	if x.Intent == nlu.IntentCancel {
		return Outcome{State: StateCancelled, Memory: NewMemory(), Response: respond(KindCancelled)}
	}

	if d, ok := datetime.ParseDuration(x.Entities.Duration); ok {
		mem.setDuration(d)
	} else if mem.DurationMinutes == nil && collecting(state) {
		if d, ok := datetime.InferDuration(x.Text); ok {
			mem.setDuration(d)
		}
	}

	switch state {
	case StateGreeting, StateCollectingIntent:
		if wantsBooking(x.Intent) {
			mem.Intent = x.Intent
			return m.collect(mem, x, e.ReceivedAt)
		}
		kind := KindAskIntent
		if state == StateGreeting {
			kind = KindGreeting
		}
		return Outcome{State: StateCollectingIntent, Memory: mem, Response: respond(kind)}

	case StateCollectingDateTime:
		if wantsBooking(x.Intent) {
			mem.Intent = x.Intent
		}
		return m.collect(mem, x, e.ReceivedAt)

	case StateNegotiating:
		return m.onNegotiatingTurn(mem, x)

	case StateAwaitingConfirmation:
		return m.onConfirmationTurn(mem, x)
	}
	return Outcome{State: state, Memory: mem}
}

// onNegotiatingTurn handles replies while candidates are on the table, or after the
// provider failed and the user may retry.
func (m Machine) onNegotiatingTurn(mem Memory, x nlu.Extraction) Outcome {
	ents := x.Entities
	if ents.HasTemporal() {
		mem.clearTime()
		return Outcome{State: StateCollectingDateTime, Memory: mem, Effect: Effect{Kind: EffectReprocess}}
	}
	if ents.Duration != "" && mem.RequestedRange != nil {
		r := m.resized(mem)
		mem.clearTime()
		return m.negotiate(mem, r)
	}

	if len(mem.Candidates) > 0 {
		if n := ents.Selection; n > 0 {
			if n > len(mem.Candidates) {
				return Outcome{State: StateNegotiating, Memory: mem, Response: Response{Kind: KindInvalidSelection, Candidates: mem.Candidates}}
			}
			return m.negotiate(mem, mem.Candidates[n-1])
		}
		switch ents.Confirmation {
		case nlu.ConfirmYes:
			return m.negotiate(mem, mem.Candidates[0])
		case nlu.ConfirmNo:
			mem.clearTime()
			return Outcome{State: StateCollectingDateTime, Memory: mem, Response: respond(KindAskForTime)}
		}
		return Outcome{State: StateNegotiating, Memory: mem, Response: proposeCandidates(mem.Candidates, "")}
	}

	if mem.RequestedRange != nil {
		return m.negotiate(mem, m.resized(mem))
	}
	return Outcome{State: StateCollectingDateTime, Memory: mem, Response: respond(KindAskForTime)}
}

// resized keeps the requested start and applies the current duration.
func (m Machine) resized(mem Memory) calendar.TimeRange {
	start := mem.RequestedRange.Start
	return calendar.TimeRange{Start: start, End: start.Add(mem.Duration(m.DefaultDuration))}
}

func (m Machine) onConfirmationTurn(mem Memory, x nlu.Extraction) Outcome {
	if mem.RequestedRange == nil || !mem.Validated {
		mem.clearTime()
		return Outcome{State: StateCollectingDateTime, Memory: mem, Response: respond(KindAskForTime)}
	}

	switch Interpret(x) {
	case SignalAffirm:
		mem.Confirmed = true
		return Outcome{State: StateAwaitingConfirmation, Memory: mem, Effect: Effect{Kind: EffectFinalize, Range: *mem.RequestedRange}}
	case SignalReject:
		mem.clearTime()
		return Outcome{State: StateCollectingDateTime, Memory: mem, Response: respond(KindAskForTime)}
	case SignalAmend:
		if !x.Entities.HasTemporal() {
			// Only the length changed: keep the start and check the new range.
			r := m.resized(mem)
			mem.clearTime()
			return m.negotiate(mem, r)
		}
		mem.clearTime()
		return Outcome{State: StateCollectingDateTime, Memory: mem, Effect: Effect{Kind: EffectReprocess}}
	default:
		return Outcome{State: StateAwaitingConfirmation, Memory: mem, Response: askConfirmation(*mem.RequestedRange)}
	}
}

// collect tries to turn the message into a concrete range to negotiate.
func (m Machine) collect(mem Memory, x nlu.Extraction, at time.Time) Outcome {
	if !x.Entities.HasTemporal() {
		return Outcome{State: StateCollectingDateTime, Memory: mem, Response: respond(KindAskForTime)}
	}
	r, err := m.Resolver.Resolve(x.Entities.TemporalFragment(), at, mem.Duration(m.DefaultDuration))
	if err != nil {
		reason := datetime.ReasonInvalid
		if re, ok := datetime.AsResolutionError(err); ok {
			reason = re.Reason
		}
		return Outcome{State: StateCollectingDateTime, Memory: mem, Response: Response{Kind: KindClarifyTime, Reason: reason}}
	}
	mem.clearTime()
	return m.negotiate(mem, r)
}

func (m Machine) negotiate(mem Memory, r calendar.TimeRange) Outcome {
	mem.RequestedRange = &r
	mem.Validated = false
	mem.Confirmed = false
	return Outcome{State: StateNegotiating, Memory: mem, Effect: Effect{Kind: EffectNegotiate, Range: r}}
}

func (m Machine) onNegotiated(state State, mem Memory, e NegotiatedEvent) Outcome {
	if state != StateNegotiating || !requested(mem, e.Range) {
		return Outcome{State: state, Memory: mem}
	}
	if e.Err != nil {
		return Outcome{State: StateNegotiating, Memory: mem, Response: respond(KindProviderError)}
	}
	if e.Result.Free() {
		r := e.Range
		mem.RequestedRange = &r
		mem.Validated = true
		mem.Confirmed = false
		mem.Candidates = nil
		return Outcome{State: StateAwaitingConfirmation, Memory: mem, Response: askConfirmation(r)}
	}
	if len(e.Result.Candidates) > 0 {
		mem.Validated = false
		mem.Candidates = append([]calendar.TimeRange(nil), e.Result.Candidates...)
		return Outcome{State: StateNegotiating, Memory: mem, Response: proposeCandidates(mem.Candidates, e.Result.Reason)}
	}
	mem.clearTime()
	return Outcome{State: StateCollectingDateTime, Memory: mem, Response: respond(KindNoAvailability)}
}

func (m Machine) onBooked(state State, mem Memory, e BookedEvent) Outcome {
	if state != StateAwaitingConfirmation || !mem.Confirmed || !requested(mem, e.Range) {
		return Outcome{State: state, Memory: mem}
	}
	r := e.Range
	if e.Err != nil {
		mem.Confirmed = false
		return Outcome{State: StateAwaitingConfirmation, Memory: mem, Response: Response{Kind: KindProviderError, Range: &r, Booking: true}}
	}
	return Outcome{State: StateFinalized, Memory: mem, Response: Response{Kind: KindFinalized, Range: &r, EventID: e.EventID}}
}

// requested reports whether a provider result belongs to the range in memory.
func requested(mem Memory, r calendar.TimeRange) bool {
	return mem.RequestedRange != nil && mem.RequestedRange.Equal(r)
}

func wantsBooking(i nlu.Intent) bool {
	return i == nlu.IntentBook || i == nlu.IntentReschedule
}

func collecting(s State) bool {
	return s == StateGreeting || s == StateCollectingIntent || s == StateCollectingDateTime
}
