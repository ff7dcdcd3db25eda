package dialogue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"booking-chatter/internal/history"
)

// Session is one booking conversation. A conversation key (a chat, an HTTP client)
// has at most one live session; a new one is opened after the previous one ends or
// goes idle.
type Session struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"`
	State     State          `json:"state"`
	Memory    Memory         `json:"memory"`
	Turns     []history.Turn `json:"turns,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func newSession(key string, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Key:       key,
		State:     StateGreeting,
		Memory:    NewMemory(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Expired reports whether the session sat idle for at least timeout. A non-positive
// timeout never expires.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(s.UpdatedAt) >= timeout
}

func (s *Session) clone() Session {
	out := *s
	out.Memory = s.Memory.Clone()
	out.Turns = append([]history.Turn(nil), s.Turns...)
	return out
}

func (s *Session) cloneRef() *Session {
	c := s.clone()
	return &c
}

func marshalSession(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

func unmarshalSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if s.ID == "" || s.State == "" {
		return nil, fmt.Errorf("unmarshal session: incomplete snapshot")
	}
	return &s, nil
}
