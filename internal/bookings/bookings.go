// Package bookings persists finalized appointments.
package bookings

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("booking not found")

// Record is a finalized booking as written by the dialogue engine.
type Record struct {
	ID              string    `json:"id" bson:"id"`
	SessionID       string    `json:"session_id" bson:"session_id"`
	ConversationKey string    `json:"conversation_key" bson:"conversation_key"`
	EventID         string    `json:"event_id" bson:"event_id"`
	Title           string    `json:"title" bson:"title"`
	Start           time.Time `json:"start" bson:"start"`
	End             time.Time `json:"end" bson:"end"`
	Timezone        string    `json:"timezone" bson:"timezone"`
	Intent          string    `json:"intent" bson:"intent"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
}

// Filter selects bookings overlapping [From, To). Zero bounds are open.
type Filter struct {
	From time.Time
	To   time.Time
}

func (f Filter) Match(r Record) bool {
	if !f.From.IsZero() && !r.End.After(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.Start.Before(f.To) {
		return false
	}
	return true
}

// Repository stores booking records. Implementations must be safe for concurrent use.
type Repository interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
}
