package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"booking-chatter/internal/calendar"
	"booking-chatter/internal/datetime"
	"booking-chatter/internal/negotiator"
	"booking-chatter/internal/nlu"
	"booking-chatter/internal/render"
)

// ResolveParams are the arguments of resolve_datetime.
type ResolveParams struct {
	Text            string `json:"text" mcp:"natural-language date and time, e.g. 'next Friday at 3pm for 45 minutes'"`
	DurationMinutes int    `json:"duration_minutes,omitempty" mcp:"meeting length in minutes; overrides any duration in text"`
}

// AvailabilityParams are the arguments of check_availability.
type AvailabilityParams struct {
	When            string `json:"when" mcp:"requested slot as natural language or an RFC 3339 start time"`
	DurationMinutes int    `json:"duration_minutes,omitempty" mcp:"meeting length in minutes (default: configured duration)"`
}

// BusyParams are the arguments of list_busy.
type BusyParams struct {
	Start string `json:"start" mcp:"range start, RFC 3339"`
	End   string `json:"end" mcp:"range end, RFC 3339"`
}

// bookingTools exposes read-only scheduling capabilities. Nothing here writes to the
// calendar.
type bookingTools struct {
	resolver        datetime.Resolver
	negotiator      *negotiator.Negotiator
	provider        calendar.Provider
	render          render.Text
	defaultDuration time.Duration
	horizon         time.Duration
	timeout         time.Duration
	log             *zap.Logger
	now             func() time.Time
}

func (t *bookingTools) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_datetime",
		Description: "Resolves a natural-language date/time expression into a concrete time range",
	}, t.ResolveDateTime)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_availability",
		Description: "Checks whether a slot is free in the calendar and proposes the nearest free alternatives if not",
	}, t.CheckAvailability)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_busy",
		Description: "Lists busy intervals in the calendar between two RFC 3339 timestamps",
	}, t.ListBusy)
}

func (t *bookingTools) ResolveDateTime(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ResolveParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	r, err := t.resolveText(args.Text, args.DurationMinutes)
	if err != nil {
		return toolError(err), nil
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: t.render.Range(r, t.now())}},
		Meta: map[string]interface{}{
			"start":            r.Start,
			"end":              r.End,
			"duration_minutes": int(r.Duration() / time.Minute),
		},
	}, nil
}

func (t *bookingTools) CheckAvailability(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[AvailabilityParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	r, err := t.resolveWhen(args.When, args.DurationMinutes)
	if err != nil {
		return toolError(err), nil
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	res, err := t.negotiator.Negotiate(ctx, r, t.provider, t.horizon)
	if err != nil {
		t.log.Warn("availability check failed", zap.Error(err))
		return toolError(err), nil
	}

	now := t.now()
	var text string
	switch {
	case res.Free():
		text = fmt.Sprintf("%s is free.", t.render.Range(r, now))
	case len(res.Candidates) == 0:
		text = fmt.Sprintf("%s is not available and nothing is free nearby.", t.render.Range(r, now))
	default:
		text = fmt.Sprintf("%s is not available (%s). Nearest free slots:\n%s", t.render.Range(r, now), res.Reason, t.render.List(res.Candidates, now))
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		Meta: map[string]interface{}{
			"requested":  r,
			"status":     res.Status,
			"reason":     res.Reason,
			"candidates": res.Candidates,
		},
	}, nil
}

func (t *bookingTools) ListBusy(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[BusyParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	start, err := time.Parse(time.RFC3339, args.Start)
	if err != nil {
		return toolError(fmt.Errorf("start: %w", err)), nil
	}
	end, err := time.Parse(time.RFC3339, args.End)
	if err != nil {
		return toolError(fmt.Errorf("end: %w", err)), nil
	}
	r, err := calendar.NewTimeRange(start, end)
	if err != nil {
		return toolError(err), nil
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	busy, err := t.provider.ListBusy(ctx, r)
	if err != nil {
		t.log.Warn("busy lookup failed", zap.Error(err))
		return toolError(fmt.Errorf("%w: %v", negotiator.ErrProviderUnavailable, err)), nil
	}
	text := "No busy intervals in that range."
	if len(busy) > 0 {
		lines := make([]string, len(busy))
		for i, b := range busy {
			lines[i] = "- " + b.In(t.render.Location).String()
		}
		text = fmt.Sprintf("%d busy intervals:\n%s", len(busy), strings.Join(lines, "\n"))
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		Meta:    map[string]interface{}{"range": r, "busy": busy},
	}, nil
}

// resolveWhen accepts an RFC 3339 start time as well as natural language.
func (t *bookingTools) resolveWhen(when string, minutes int) (calendar.TimeRange, error) {
	if start, err := time.Parse(time.RFC3339, strings.TrimSpace(when)); err == nil {
		d := t.defaultDuration
		if minutes > 0 {
			d = time.Duration(minutes) * time.Minute
		}
		return calendar.NewTimeRange(start, start.Add(d))
	}
	return t.resolveText(when, minutes)
}

func (t *bookingTools) resolveText(text string, minutes int) (calendar.TimeRange, error) {
	date, clock, dur := datetime.Mentions(text)
	if date == "" && clock == "" {
		return calendar.TimeRange{}, fmt.Errorf("no date or time found in %q", text)
	}
	d := t.defaultDuration
	if minutes > 0 {
		d = time.Duration(minutes) * time.Minute
		dur = ""
	}
	fragment := nlu.Entities{Date: date, Time: clock, Duration: dur}.TemporalFragment()
	return t.resolver.Resolve(fragment, t.now(), d)
}

func (t *bookingTools) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout > 0 {
		return context.WithTimeout(ctx, t.timeout)
	}
	return context.WithCancel(ctx)
}

func toolError(err error) *mcp.CallToolResultFor[any] {
	msg := err.Error()
	if rerr, ok := datetime.AsResolutionError(err); ok {
		msg = fmt.Sprintf("could not resolve the time: %s", rerr.Reason)
	}
	if errors.Is(err, negotiator.ErrProviderUnavailable) {
		msg = "calendar is unavailable: " + msg
	}
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
