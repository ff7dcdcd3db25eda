package calendar

import (
	"context"
	"errors"
)

// EventID identifies an event created in the backing calendar.
type EventID string

// EventMetadata describes the booking being written to the calendar.
type EventMetadata struct {
	Title       string
	Description string
	SessionID   string
}

// ErrProvider is wrapped by every error a provider returns for a failed call.
var ErrProvider = errors.New("calendar provider error")

// Provider abstracts the calendar backend.
// ListBusy returns the busy intervals overlapping r; CreateEvent writes a new event.
// Implementations must be safe for concurrent use.
type Provider interface {
	ListBusy(ctx context.Context, r TimeRange) ([]TimeRange, error)
	CreateEvent(ctx context.Context, r TimeRange, meta EventMetadata) (EventID, error)
}
