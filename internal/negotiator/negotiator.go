// Package negotiator checks a requested range against calendar availability and proposes
// conflict-free alternatives inside business hours.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"booking-chatter/internal/calendar"
)

// ErrProviderUnavailable covers every failure of the availability provider: transport
// and auth errors, context cancellation or deadline, and panics inside the provider.
var ErrProviderUnavailable = errors.New("availability provider unavailable")

type Status string

const (
	StatusFree     Status = "free"
	StatusConflict Status = "conflict"
)

type Reason string

const (
	ReasonBusy               Reason = "busy"
	ReasonOutsideBusinessHrs Reason = "outside_business_hours"
)

// Result is the outcome of one negotiation attempt. Candidates are chronological and only
// set on conflict; an empty list means nothing is free within the search horizon.
type Result struct {
	Status     Status               `json:"status"`
	Reason     Reason               `json:"reason,omitempty"`
	Candidates []calendar.TimeRange `json:"candidates,omitempty"`
}

func (r Result) Free() bool { return r.Status == StatusFree }

// Config holds the search rules. DayStart and DayEnd are wall-clock times of day,
// expressed as hours and minutes past midnight.
type Config struct {
	DayStart             time.Duration
	DayEnd               time.Duration
	IncludeWeekends      bool
	MaxCandidates        int
	Horizon              time.Duration
	EnforceBusinessHours bool
}

func DefaultConfig() Config {
	return Config{
		DayStart:      9 * time.Hour,
		DayEnd:        17 * time.Hour,
		MaxCandidates: 3,
		Horizon:       14 * 24 * time.Hour,
	}
}

// Negotiator is stateless apart from its configuration and safe for concurrent use.
type Negotiator struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Negotiator {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.DayEnd <= cfg.DayStart {
		cfg.DayStart, cfg.DayEnd = def.DayStart, def.DayEnd
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	return &Negotiator{cfg: cfg, log: log}
}

func (n *Negotiator) Config() Config { return n.cfg }

// Negotiate reports whether requested is free. On conflict it searches forward from
// requested.End in steps of the requested duration for up to MaxCandidates free slots
// within business hours and the horizon. A non-positive horizon uses the configured one.
// The provider is only read, never written.
func (n *Negotiator) Negotiate(ctx context.Context, requested calendar.TimeRange, provider calendar.Provider, horizon time.Duration) (Result, error) {
	if horizon <= 0 {
		horizon = n.cfg.Horizon
	}

	var reason Reason
	if n.cfg.EnforceBusinessHours && !n.withinBusinessHours(requested) {
		reason = ReasonOutsideBusinessHrs
	} else {
		busy, err := listBusy(ctx, provider, requested)
		if err != nil {
			return Result{}, err
		}
		if !overlapsAny(requested, busy) {
			return Result{Status: StatusFree}, nil
		}
		reason = ReasonBusy
	}

	candidates, err := n.candidates(ctx, requested, provider, horizon)
	if err != nil {
		return Result{}, err
	}
	n.log.Debug("negotiation conflict",
		zap.Stringer("requested", requested),
		zap.String("reason", string(reason)),
		zap.Int("candidates", len(candidates)))
	return Result{Status: StatusConflict, Reason: reason, Candidates: candidates}, nil
}

func (n *Negotiator) candidates(ctx context.Context, requested calendar.TimeRange, provider calendar.Provider, horizon time.Duration) ([]calendar.TimeRange, error) {
	length := requested.Duration()
	windowEnd := requested.Start.Add(horizon)
	if !requested.End.Before(windowEnd) {
		return nil, nil
	}
	busy, err := listBusy(ctx, provider, calendar.TimeRange{Start: requested.End, End: windowEnd})
	if err != nil {
		return nil, err
	}

	var out []calendar.TimeRange
	cursor := requested.End
	for cursor.Before(windowEnd) && len(out) < n.cfg.MaxCandidates {
		day := midnight(cursor)
		if !n.cfg.IncludeWeekends && isWeekend(day) {
			cursor = n.window(nextDay(day)).Start
			continue
		}
		open := n.window(day)
		if cursor.Before(open.Start) {
			cursor = open.Start
		}
		end := cursor.Add(length)
		if end.After(open.End) {
			cursor = n.window(nextDay(day)).Start
			continue
		}
		if end.After(windowEnd) {
			break
		}
		slot := calendar.TimeRange{Start: cursor, End: end}
		if !overlapsAny(slot, busy) {
			out = append(out, slot)
		}
		cursor = end
	}
	return out, nil
}

func (n *Negotiator) withinBusinessHours(r calendar.TimeRange) bool {
	day := midnight(r.Start)
	if !n.cfg.IncludeWeekends && isWeekend(day) {
		return false
	}
	return n.window(day).Contains(r)
}

// window is the business day of day, built from wall-clock times so that DST
// transitions do not shift it.
func (n *Negotiator) window(day time.Time) calendar.TimeRange {
	return calendar.TimeRange{Start: wallClock(day, n.cfg.DayStart), End: wallClock(day, n.cfg.DayEnd)}
}

func wallClock(day time.Time, offset time.Duration) time.Time {
	h, m := int(offset/time.Hour), int(offset%time.Hour/time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

// listBusy normalizes every provider failure into ErrProviderUnavailable.
func listBusy(ctx context.Context, p calendar.Provider, r calendar.TimeRange) (busy []calendar.TimeRange, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			busy, err = nil, fmt.Errorf("%w: provider panic: %v", ErrProviderUnavailable, rec)
		}
	}()
	if p == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrProviderUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	busy, err = p.ListBusy(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return busy, nil
}

func overlapsAny(r calendar.TimeRange, busy []calendar.TimeRange) bool {
	for _, b := range busy {
		if r.Overlaps(b) {
			return true
		}
	}
	return false
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func nextDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
