package storage

import "time"

// Event is one processed dialogue turn: the user's message, the response class the
// engine produced, and the state the session ended the turn in.
// Events are expected to be appended in chronological order.
type Event struct {
	Timestamp         time.Time `json:"timestamp"`
	SessionID         string    `json:"session_id"`
	ConversationKey   string    `json:"conversation_key"`
	Channel           string    `json:"channel,omitempty"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	Intent            string    `json:"intent,omitempty"`
	Response          string    `json:"response"`
	State             string    `json:"state"`
}

// Recorder abstracts persistence of interaction events.
// LoadInteractions should return events in chronological order.
// AppendInteraction should atomically append a new event.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
