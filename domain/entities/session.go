package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionState is a node of the per-session turn state machine.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateListening    SessionState = "listening"
	StateTranscribing SessionState = "transcribing"
	StateRouting      SessionState = "routing"
	StateResponding   SessionState = "responding"
	StateClosed       SessionState = "closed"
)

// SpeakerUser marks turns spoken by the client. Assistant turns use the
// intent label of the responder that produced them as speaker.
const SpeakerUser = "user"

// Turn is one utterance in the conversation history.
type Turn struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// FromUser reports whether the turn was spoken by the client.
func (t Turn) FromUser() bool {
	return t.Speaker == SpeakerUser
}

// Session is one client connection. It lives in memory only and is dropped
// on disconnect.
type Session struct {
	ID           string       `json:"id"`
	DeviceID     string       `json:"device_id"`
	Format       Format       `json:"format"`
	State        SessionState `json:"state"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`

	history []Turn
}

// NewSession creates an idle session for a device.
func NewSession(deviceID string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		DeviceID:     deviceID,
		Format:       DefaultWireFormat,
		State:        StateIdle,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// AppendTurn adds a turn to the history. History is append-only; empty text
// is ignored.
func (s *Session) AppendTurn(speaker, text string) {
	if text == "" {
		return
	}
	now := time.Now()
	s.history = append(s.history, Turn{Speaker: speaker, Text: text, At: now})
	s.LastActiveAt = now
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Turn {
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Touch records client activity.
func (s *Session) Touch() {
	s.LastActiveAt = time.Now()
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.DeviceID == "" {
		return errors.New("device_id is required")
	}
	switch s.State {
	case StateIdle, StateListening, StateTranscribing, StateRouting, StateResponding, StateClosed:
	default:
		return errors.New("invalid session state")
	}
	return s.Format.Validate()
}
