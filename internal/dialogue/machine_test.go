package dialogue

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-chatter/internal/calendar"
	"booking-chatter/internal/datetime"
	"booking-chatter/internal/negotiator"
	"booking-chatter/internal/nlu"
)

// Tuesday, 10:00.
var ref = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

func at(d, h, m int) time.Time {
	return time.Date(2026, time.March, d, h, m, 0, 0, time.UTC)
}

func span(d, h, m int, dur time.Duration) calendar.TimeRange {
	start := at(d, h, m)
	return calendar.TimeRange{Start: start, End: start.Add(dur)}
}

func testMachine() Machine {
	return Machine{
		Resolver:        datetime.NewResolver(time.UTC, datetime.Clock{Hour: 10}),
		DefaultDuration: time.Hour,
	}
}

func turnOf(t *testing.T, text string) TurnEvent {
	t.Helper()
	x, err := nlu.NewRuleExtractor().Extract(context.Background(), text)
	require.NoError(t, err)
	return TurnEvent{Extraction: x, ReceivedAt: ref}
}

// awaiting builds a session waiting for confirmation of r.
func awaiting(r calendar.TimeRange) Memory {
	mem := NewMemory()
	mem.Intent = nlu.IntentBook
	mem.RequestedRange = &r
	mem.Validated = true
	return mem
}

func TestTransition_GreetingWithoutIntent(t *testing.T) {
	m := testMachine()

	out := m.Transition(StateGreeting, NewMemory(), turnOf(t, "hello"))
	assert.Equal(t, StateCollectingIntent, out.State)
	assert.Equal(t, KindGreeting, out.Response.Kind)
	assert.Equal(t, EffectNone, out.Effect.Kind)

	out = m.Transition(out.State, out.Memory, turnOf(t, "what's up"))
	assert.Equal(t, StateCollectingIntent, out.State)
	assert.Equal(t, KindAskIntent, out.Response.Kind)
}

func TestTransition_IntentWithoutTimeAsksForTime(t *testing.T) {
	m := testMachine()
	out := m.Transition(StateGreeting, NewMemory(), turnOf(t, "I'd like to book a meeting"))

	assert.Equal(t, StateCollectingDateTime, out.State)
	assert.Equal(t, KindAskForTime, out.Response.Kind)
	assert.Equal(t, nlu.IntentBook, out.Memory.Intent)
	require.NotNil(t, out.Memory.DurationMinutes)
	assert.Equal(t, 60, *out.Memory.DurationMinutes)
}

func TestTransition_FullRequestRequestsNegotiation(t *testing.T) {
	m := testMachine()
	out := m.Transition(StateGreeting, NewMemory(), turnOf(t, "Book a 30 minute meeting tomorrow at 3pm"))

	assert.Equal(t, StateNegotiating, out.State)
	require.Equal(t, EffectNegotiate, out.Effect.Kind)
	assert.True(t, out.Effect.Range.Equal(span(11, 15, 0, 30*time.Minute)), out.Effect.Range.String())
	assert.False(t, out.Memory.Validated)
	assert.False(t, out.Memory.Confirmed)
	require.NotNil(t, out.Memory.DurationMinutes)
	assert.Equal(t, 30, *out.Memory.DurationMinutes)
}

func TestTransition_UnresolvableTimeAsksToClarify(t *testing.T) {
	m := testMachine()
	out := m.Transition(StateCollectingDateTime, NewMemory(), turnOf(t, "book a meeting today at 9am"))

	assert.Equal(t, StateCollectingDateTime, out.State)
	assert.Equal(t, KindClarifyTime, out.Response.Kind)
	assert.Equal(t, datetime.ReasonPast, out.Response.Reason)
	assert.Nil(t, out.Memory.RequestedRange)
}

func TestTransition_FreeThenConfirmThenBooked(t *testing.T) {
	m := testMachine()
	r := span(11, 15, 0, 30*time.Minute)

	out := m.Transition(StateGreeting, NewMemory(), turnOf(t, "Book a 30 minute meeting tomorrow at 3pm"))
	out = m.Transition(out.State, out.Memory, NegotiatedEvent{Range: r, Result: negotiator.Result{Status: negotiator.StatusFree}})
	assert.Equal(t, StateAwaitingConfirmation, out.State)
	assert.Equal(t, KindAskConfirmation, out.Response.Kind)
	require.NotNil(t, out.Response.Range)
	assert.True(t, out.Response.Range.Equal(r))
	assert.True(t, out.Memory.Validated)
	assert.False(t, out.Memory.Confirmed)

	out = m.Transition(out.State, out.Memory, turnOf(t, "yes, book it"))
	assert.Equal(t, StateAwaitingConfirmation, out.State)
	require.Equal(t, EffectFinalize, out.Effect.Kind)
	assert.True(t, out.Effect.Range.Equal(r))
	assert.True(t, out.Memory.Confirmed)
	assert.True(t, out.Memory.Validated)

	out = m.Transition(out.State, out.Memory, BookedEvent{Range: r, EventID: "evt-1"})
	assert.Equal(t, StateFinalized, out.State)
	assert.Equal(t, KindFinalized, out.Response.Kind)
	assert.Equal(t, calendar.EventID("evt-1"), out.Response.EventID)
}

func TestTransition_BookingFailureKeepsConfirmationPending(t *testing.T) {
	m := testMachine()
	r := span(11, 15, 0, time.Hour)
	mem := awaiting(r)
	mem.Confirmed = true

	out := m.Transition(StateAwaitingConfirmation, mem, BookedEvent{Range: r, Err: errors.New("503")})
	assert.Equal(t, StateAwaitingConfirmation, out.State)
	assert.Equal(t, KindProviderError, out.Response.Kind)
	assert.True(t, out.Response.Booking)
	assert.False(t, out.Memory.Confirmed)
	assert.True(t, out.Memory.Validated)
}

func TestTransition_RejectionWithNewTimeIsAnAmendment(t *testing.T) {
	m := testMachine()
	mem := awaiting(span(11, 15, 0, 30*time.Minute))
	thirty := 30
	mem.DurationMinutes = &thirty
	ev := turnOf(t, "no, how about Friday instead")

	out := m.Transition(StateAwaitingConfirmation, mem, ev)
	assert.Equal(t, StateCollectingDateTime, out.State)
	assert.Equal(t, EffectReprocess, out.Effect.Kind)
	assert.Nil(t, out.Memory.RequestedRange)
	assert.False(t, out.Memory.Validated)
	assert.False(t, out.Memory.Confirmed)

	out = m.Transition(out.State, out.Memory, ev)
	assert.Equal(t, StateNegotiating, out.State)
	require.Equal(t, EffectNegotiate, out.Effect.Kind)
	assert.True(t, out.Effect.Range.Equal(span(13, 10, 0, 30*time.Minute)), out.Effect.Range.String())
}

func TestTransition_PlainRejectionAsksForTime(t *testing.T) {
	m := testMachine()
	out := m.Transition(StateAwaitingConfirmation, awaiting(span(11, 15, 0, time.Hour)), turnOf(t, "no"))

	assert.Equal(t, StateCollectingDateTime, out.State)
	assert.Equal(t, KindAskForTime, out.Response.Kind)
	assert.Nil(t, out.Memory.RequestedRange)
}

func TestTransition_DurationAmendmentKeepsStart(t *testing.T) {
	m := testMachine()
	out := m.Transition(StateAwaitingConfirmation, awaiting(span(11, 15, 0, time.Hour)), turnOf(t, "make it 30 minutes"))

	assert.Equal(t, StateNegotiating, out.State)
	require.Equal(t, EffectNegotiate, out.Effect.Kind)
	assert.True(t, out.Effect.Range.Equal(span(11, 15, 0, 30*time.Minute)))
}

func TestTransition_UnclearReplyRepeatsQuestion(t *testing.T) {
	m := testMachine()
	r := span(11, 15, 0, time.Hour)
	out := m.Transition(StateAwaitingConfirmation, awaiting(r), turnOf(t, "hmm"))

	assert.Equal(t, StateAwaitingConfirmation, out.State)
	assert.Equal(t, KindAskConfirmation, out.Response.Kind)
	assert.False(t, out.Memory.Confirmed)
}

func TestTransition_ProviderErrorThenRetry(t *testing.T) {
	m := testMachine()
	r := span(11, 15, 0, time.Hour)
	start := m.Transition(StateCollectingDateTime, NewMemory(), turnOf(t, "tomorrow at 3pm"))
	require.Equal(t, StateNegotiating, start.State)

	out := m.Transition(start.State, start.Memory, NegotiatedEvent{Range: r, Err: negotiator.ErrProviderUnavailable})
	assert.Equal(t, StateNegotiating, out.State)
	assert.Equal(t, KindProviderError, out.Response.Kind)
	assert.Equal(t, start.Memory, out.Memory)

	out = m.Transition(out.State, out.Memory, turnOf(t, "try again"))
	assert.Equal(t, StateNegotiating, out.State)
	require.Equal(t, EffectNegotiate, out.Effect.Kind)
	assert.True(t, out.Effect.Range.Equal(r))
}

func TestTransition_ConflictProposesCandidates(t *testing.T) {
	m := testMachine()
	req := span(11, 15, 0, 30*time.Minute)
	cands := []calendar.TimeRange{
		span(11, 15, 30, 30*time.Minute),
		span(11, 16, 0, 30*time.Minute),
		span(11, 16, 30, 30*time.Minute),
	}
	mem := NewMemory()
	mem.RequestedRange = &req
	res := negotiator.Result{Status: negotiator.StatusConflict, Reason: negotiator.ReasonBusy, Candidates: cands}

	out := m.Transition(StateNegotiating, mem, NegotiatedEvent{Range: req, Result: res})
	assert.Equal(t, StateNegotiating, out.State)
	assert.Equal(t, KindProposeCandidates, out.Response.Kind)
	assert.Equal(t, negotiator.ReasonBusy, out.Response.Conflict)
	require.Len(t, out.Response.Candidates, 3)
	assert.True(t, out.Response.Candidates[0].Start.Equal(at(11, 15, 30)))
	assert.False(t, out.Memory.Validated)

	proposed := out

	out = m.Transition(proposed.State, proposed.Memory, turnOf(t, "5"))
	assert.Equal(t, KindInvalidSelection, out.Response.Kind)
	assert.Len(t, out.Response.Candidates, 3)

	out = m.Transition(proposed.State, proposed.Memory, turnOf(t, "the second one"))
	require.Equal(t, EffectNegotiate, out.Effect.Kind)
	assert.True(t, out.Effect.Range.Equal(cands[1]))

	out = m.Transition(proposed.State, proposed.Memory, turnOf(t, "yes"))
	require.Equal(t, EffectNegotiate, out.Effect.Kind)
	assert.True(t, out.Effect.Range.Equal(cands[0]))

	out = m.Transition(proposed.State, proposed.Memory, turnOf(t, "no, none of those"))
	assert.Equal(t, StateCollectingDateTime, out.State)
	assert.Equal(t, KindAskForTime, out.Response.Kind)
	assert.Empty(t, out.Memory.Candidates)

	out = m.Transition(proposed.State, proposed.Memory, turnOf(t, "what about thursday at 11am"))
	assert.Equal(t, StateCollectingDateTime, out.State)
	assert.Equal(t, EffectReprocess, out.Effect.Kind)
}

func TestTransition_DurationChangeWhileCandidatesPending(t *testing.T) {
	m := testMachine()
	req := span(11, 15, 0, 30*time.Minute)
	mem := NewMemory()
	mem.Intent = nlu.IntentBook
	mem.RequestedRange = &req
	thirty := 30
	mem.DurationMinutes = &thirty
	busy := negotiator.Result{Status: negotiator.StatusConflict, Reason: negotiator.ReasonBusy,
		Candidates: []calendar.TimeRange{span(11, 15, 30, 30*time.Minute), span(11, 16, 0, 30*time.Minute)}}
	proposed := m.Transition(StateNegotiating, mem, NegotiatedEvent{Range: req, Result: busy})
	require.Equal(t, KindProposeCandidates, proposed.Response.Kind)

	out := m.Transition(proposed.State, proposed.Memory, turnOf(t, "make it 45 minutes"))
	assert.Equal(t, StateNegotiating, out.State)
	require.Equal(t, EffectNegotiate, out.Effect.Kind)
	longer := span(11, 15, 0, 45*time.Minute)
	assert.True(t, out.Effect.Range.Equal(longer), out.Effect.Range.String())
	require.NotNil(t, out.Memory.DurationMinutes)
	assert.Equal(t, 45, *out.Memory.DurationMinutes)
	assert.Empty(t, out.Memory.Candidates)

	busy.Candidates = []calendar.TimeRange{span(11, 15, 45, 45*time.Minute)}
	out = m.Transition(out.State, out.Memory, NegotiatedEvent{Range: longer, Result: busy})
	require.Equal(t, KindProposeCandidates, out.Response.Kind)
	out = m.Transition(out.State, out.Memory, turnOf(t, "1"))
	require.Equal(t, EffectNegotiate, out.Effect.Kind)
	assert.Equal(t, 45*time.Minute, out.Effect.Range.Duration())
}

func TestTransition_DurationChangeAfterProviderError(t *testing.T) {
	m := testMachine()
	req := span(11, 15, 0, time.Hour)
	mem := NewMemory()
	mem.Intent = nlu.IntentBook
	mem.RequestedRange = &req
	failed := m.Transition(StateNegotiating, mem, NegotiatedEvent{Range: req, Err: negotiator.ErrProviderUnavailable})
	require.Equal(t, KindProviderError, failed.Response.Kind)

	out := m.Transition(failed.State, failed.Memory, turnOf(t, "make it 30 minutes"))
	require.Equal(t, EffectNegotiate, out.Effect.Kind)
	assert.True(t, out.Effect.Range.Equal(span(11, 15, 0, 30*time.Minute)), out.Effect.Range.String())
}

func TestTransition_NoAvailability(t *testing.T) {
	m := testMachine()
	req := span(11, 15, 0, time.Hour)
	mem := NewMemory()
	mem.RequestedRange = &req
	res := negotiator.Result{Status: negotiator.StatusConflict, Reason: negotiator.ReasonBusy}

	out := m.Transition(StateNegotiating, mem, NegotiatedEvent{Range: req, Result: res})
	assert.Equal(t, StateCollectingDateTime, out.State)
	assert.Equal(t, KindNoAvailability, out.Response.Kind)
	assert.Nil(t, out.Memory.RequestedRange)
}

func TestTransition_CancelFromEveryState(t *testing.T) {
	m := testMachine()
	r := span(11, 15, 0, time.Hour)
	states := []State{
		StateGreeting, StateCollectingIntent, StateCollectingDateTime,
		StateNegotiating, StateAwaitingConfirmation,
	}
	for _, st := range states {
		t.Run(string(st), func(t *testing.T) {
			out := m.Transition(st, awaiting(r), turnOf(t, "cancel"))
			assert.Equal(t, StateCancelled, out.State)
			assert.Equal(t, KindCancelled, out.Response.Kind)
			assert.Equal(t, EffectNone, out.Effect.Kind)
			assert.Equal(t, NewMemory(), out.Memory)
		})
	}
}

func TestTransition_TerminalStartsOver(t *testing.T) {
	m := testMachine()
	for _, st := range []State{StateFinalized, StateCancelled} {
		out := m.Transition(st, awaiting(span(11, 15, 0, time.Hour)), turnOf(t, "hi there"))
		assert.Equal(t, StateCollectingIntent, out.State)
		assert.Equal(t, KindGreeting, out.Response.Kind)
		assert.Nil(t, out.Memory.RequestedRange)
	}
}

func TestTransition_StaleEventsIgnored(t *testing.T) {
	m := testMachine()
	r := span(11, 15, 0, time.Hour)

	out := m.Transition(StateCollectingDateTime, NewMemory(), NegotiatedEvent{Range: r, Result: negotiator.Result{Status: negotiator.StatusFree}})
	assert.Equal(t, StateCollectingDateTime, out.State)
	assert.Equal(t, KindNone, out.Response.Kind)

	out = m.Transition(StateAwaitingConfirmation, awaiting(r), BookedEvent{Range: r, EventID: "x"})
	assert.Equal(t, StateAwaitingConfirmation, out.State, "booking result without confirmation")

	mem := NewMemory()
	mem.RequestedRange = &r
	other := span(12, 9, 0, time.Hour)
	out = m.Transition(StateNegotiating, mem, NegotiatedEvent{Range: other, Result: negotiator.Result{Status: negotiator.StatusFree}})
	assert.Equal(t, StateNegotiating, out.State, "result for a range no longer requested")
	assert.False(t, out.Memory.Validated)

	confirmed := awaiting(r)
	confirmed.Confirmed = true
	out = m.Transition(StateAwaitingConfirmation, confirmed, BookedEvent{Range: other, EventID: "x"})
	assert.Equal(t, StateAwaitingConfirmation, out.State, "booking of a different range")
}

func TestTransition_DoesNotMutateInput(t *testing.T) {
	m := testMachine()
	r := span(11, 15, 0, time.Hour)
	mem := awaiting(r)
	before := mem.Clone()

	m.Transition(StateAwaitingConfirmation, mem, turnOf(t, "no, friday"))
	assert.Equal(t, before, mem)
}

// Random walks over utterances and calendar results must never reach a confirmed
// but unvalidated memory.
func TestTransition_ConfirmedImpliesValidated(t *testing.T) {
	m := testMachine()
	utterances := []string{
		"book a meeting", "tomorrow at 3pm", "yes", "no", "2", "friday", "cancel",
		"make it 30 minutes", "hello", "no, how about friday instead", "today at 9am", "ok",
	}
	events := make([]TurnEvent, len(utterances))
	for i, u := range utterances {
		events[i] = turnOf(t, u)
	}
	rng := rand.New(rand.NewSource(7))

	for walk := 0; walk < 200; walk++ {
		state, mem := StateGreeting, NewMemory()
		for step := 0; step < 25; step++ {
			out := m.Transition(state, mem, events[rng.Intn(len(events))])
			for i := 0; out.Effect.Kind != EffectNone && i < maxEffects; i++ {
				check(t, out)
				r := out.Effect.Range
				switch out.Effect.Kind {
				case EffectNegotiate:
					res := negotiator.Result{Status: negotiator.StatusFree}
					var err error
					switch rng.Intn(3) {
					case 1:
						res = negotiator.Result{Status: negotiator.StatusConflict, Reason: negotiator.ReasonBusy,
							Candidates: []calendar.TimeRange{{Start: r.End, End: r.End.Add(r.Duration())}}}
					case 2:
						err = negotiator.ErrProviderUnavailable
					}
					out = m.Transition(out.State, out.Memory, NegotiatedEvent{Range: r, Result: res, Err: err})
				case EffectFinalize:
					var err error
					if rng.Intn(2) == 0 {
						err = errors.New("boom")
					}
					out = m.Transition(out.State, out.Memory, BookedEvent{Range: r, EventID: "e", Err: err})
				case EffectReprocess:
					out = m.Transition(out.State, out.Memory, events[0])
				}
			}
			check(t, out)
			state, mem = out.State, out.Memory
		}
	}
}

func check(t *testing.T, out Outcome) {
	t.Helper()
	if out.Memory.Confirmed {
		require.True(t, out.Memory.Validated, "confirmed without validation in %s", out.State)
		require.NotNil(t, out.Memory.RequestedRange)
	}
	if out.State == StateAwaitingConfirmation {
		require.True(t, out.Memory.Validated)
	}
}

func TestInterpret(t *testing.T) {
	cases := map[string]Signal{
		"yes":                          SignalAffirm,
		"sounds good":                  SignalAffirm,
		"no":                           SignalReject,
		"no, how about Friday instead": SignalAmend,
		"make it an hour":              SignalAmend,
		"I want to reschedule":         SignalReject,
		"hmm":                          SignalUnclear,
	}
	for text, want := range cases {
		x, err := nlu.NewRuleExtractor().Extract(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, Interpret(x), text)
	}
}
