package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
}

func TestNewTimeRange_RejectsEmptyAndInverted(t *testing.T) {
	_, err := NewTimeRange(at(10, 0), at(10, 0))
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = NewTimeRange(at(11, 0), at(10, 0))
	require.ErrorIs(t, err, ErrInvalidRange)

	r, err := NewTimeRange(at(10, 0), at(10, 30))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, r.Duration())
}

func TestOverlaps_TouchingEndpointsAreFree(t *testing.T) {
	a := MustRange(at(15, 0), at(15, 30))
	b := MustRange(at(15, 30), at(16, 0))
	assert.False(t, a.Overlaps(b))
	assert.False(t, b.Overlaps(a))

	c := MustRange(at(15, 29), at(16, 0))
	assert.True(t, a.Overlaps(c))
	assert.True(t, MustRange(at(9, 0), at(17, 0)).Overlaps(a))
}

func TestMemoryProvider_ListBusyAndCreate(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(MustRange(at(12, 0), at(13, 0)), MustRange(at(9, 0), at(9, 30)))

	busy, err := p.ListBusy(ctx, MustRange(at(8, 0), at(12, 30)))
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.True(t, busy[0].Start.Equal(at(9, 0)), "busy intervals must be sorted")

	id, err := p.CreateEvent(ctx, MustRange(at(14, 0), at(15, 0)), EventMetadata{Title: "Meeting"})
	require.NoError(t, err)
	r, ok := p.Event(id)
	require.True(t, ok)
	assert.True(t, r.Start.Equal(at(14, 0)))

	busy, err = p.ListBusy(ctx, MustRange(at(14, 30), at(14, 45)))
	require.NoError(t, err)
	assert.Len(t, busy, 1, "created events become busy")
}

func TestMemoryProvider_Fail(t *testing.T) {
	p := NewMemoryProvider()
	p.Fail(errors.New("connection refused"))

	_, err := p.ListBusy(context.Background(), MustRange(at(9, 0), at(10, 0)))
	require.ErrorIs(t, err, ErrProvider)

	p.Fail(nil)
	_, err = p.ListBusy(context.Background(), MustRange(at(9, 0), at(10, 0)))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Calls())
}

func TestParseCredentials_Formats(t *testing.T) {
	flat := []byte(`{"client_id":"id","client_secret":"secret"}`)
	c, err := ParseCredentials(flat)
	require.NoError(t, err)
	assert.Equal(t, "id", c.ClientID)

	installed := []byte(`{"installed":{"client_id":"id2","client_secret":"s2"}}`)
	c, err = ParseCredentials(installed)
	require.NoError(t, err)
	assert.Equal(t, "id2", c.ClientID)

	_, err = ParseCredentials([]byte(`{"other":{}}`))
	require.Error(t, err)

	assert.True(t, IsServiceAccount([]byte(`{"type":"service_account"}`)))
	assert.False(t, IsServiceAccount(installed))
}
