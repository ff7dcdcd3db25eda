package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"booking-chatter/internal/calendar"
	"booking-chatter/internal/datetime"
	"booking-chatter/internal/negotiator"
	"booking-chatter/internal/render"
)

// Tuesday, 10:00.
var ref = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

func newTools(provider *calendar.MemoryProvider) *bookingTools {
	return &bookingTools{
		resolver:        datetime.NewResolver(time.UTC, datetime.Clock{Hour: 10}),
		negotiator:      negotiator.New(negotiator.DefaultConfig(), nil),
		provider:        provider,
		render:          render.New(time.UTC),
		defaultDuration: time.Hour,
		log:             zap.NewNop(),
		now:             func() time.Time { return ref },
	}
}

func text(t *testing.T, res *mcp.CallToolResultFor[any]) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestResolveDateTime(t *testing.T) {
	tools := newTools(calendar.NewMemoryProvider())
	ctx := context.Background()

	res, err := tools.ResolveDateTime(ctx, nil, &mcp.CallToolParamsFor[ResolveParams]{
		Arguments: ResolveParams{Text: "tomorrow at 3pm for 30 minutes"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Tomorrow at 3:00 PM (30 min)", text(t, res))

	res, err = tools.ResolveDateTime(ctx, nil, &mcp.CallToolParamsFor[ResolveParams]{
		Arguments: ResolveParams{Text: "tomorrow at 3pm", DurationMinutes: 45},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tomorrow at 3:00 PM (45 min)", text(t, res))

	res, err = tools.ResolveDateTime(ctx, nil, &mcp.CallToolParamsFor[ResolveParams]{
		Arguments: ResolveParams{Text: "whenever suits you"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "no date or time")
}

func TestCheckAvailability(t *testing.T) {
	provider := calendar.NewMemoryProvider(calendar.MustRange(
		time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 11, 16, 0, 0, 0, time.UTC),
	))
	tools := newTools(provider)
	ctx := context.Background()

	res, err := tools.CheckAvailability(ctx, nil, &mcp.CallToolParamsFor[AvailabilityParams]{
		Arguments: AvailabilityParams{When: "tomorrow at 11am", DurationMinutes: 30},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tomorrow at 11:00 AM (30 min) is free.", text(t, res))

	res, err = tools.CheckAvailability(ctx, nil, &mcp.CallToolParamsFor[AvailabilityParams]{
		Arguments: AvailabilityParams{When: "2026-03-11T15:00:00Z", DurationMinutes: 30},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "is not available (busy)")
	assert.Contains(t, text(t, res), "1. ")

	provider.Fail(errors.New("down"))
	res, err = tools.CheckAvailability(ctx, nil, &mcp.CallToolParamsFor[AvailabilityParams]{
		Arguments: AvailabilityParams{When: "tomorrow at 11am"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListBusy(t *testing.T) {
	busy := calendar.MustRange(
		time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 11, 16, 0, 0, 0, time.UTC),
	)
	tools := newTools(calendar.NewMemoryProvider(busy))
	ctx := context.Background()

	res, err := tools.ListBusy(ctx, nil, &mcp.CallToolParamsFor[BusyParams]{
		Arguments: BusyParams{Start: "2026-03-11T00:00:00Z", End: "2026-03-12T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "1 busy intervals")

	res, err = tools.ListBusy(ctx, nil, &mcp.CallToolParamsFor[BusyParams]{
		Arguments: BusyParams{Start: "2026-03-12T00:00:00Z", End: "2026-03-13T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, "No busy intervals in that range.", text(t, res))

	res, err = tools.ListBusy(ctx, nil, &mcp.CallToolParamsFor[BusyParams]{
		Arguments: BusyParams{Start: "yesterday", End: "2026-03-13T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestServerRoundTrip(t *testing.T) {
	ctx := context.Background()
	server := mcp.NewServer(&mcp.Implementation{Name: "booking-chatter-mcp", Version: "test"}, nil)
	newTools(calendar.NewMemoryProvider()).register(server)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "booking-chatter-test", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport)
	require.NoError(t, err)
	defer session.Close()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "resolve_datetime",
		Arguments: map[string]any{"text": "tomorrow at 3pm", "duration_minutes": 30},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Tomorrow at 3:00 PM (30 min)", tc.Text)
	assert.EqualValues(t, 30, result.Meta["duration_minutes"])
}
