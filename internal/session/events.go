package session

import (
	"context"

	"github.com/satriahrh/voicegate/domain/entities"
)

// Event types sent to the client.
const (
	EventState              = "state"
	EventProcessingSpeech   = "processing_speech"
	EventTranscription      = "transcription"
	EventAgentResponse      = "agent_response"
	EventProcessingComplete = "processing_complete"
	EventNotice             = "notice"
	EventError              = "error"
)

// Codes carried by error and notice events.
const (
	CodeTranscriptionFailed = "transcription_failed"
	CodeResponseFailed      = "response_failed"
	CodeMalformedInput      = "malformed_input"
	CodeNoSpeech            = "no_speech"
	CodeFatal               = "fatal"
)

const (
	MessageCouldNotHear = "Sorry, I could not hear you. Please try again."
	MessageApology      = "I'm sorry, I'm having trouble processing your request. Please try again."
	MessageNoSpeech     = "I didn't catch that. Please try again."
)

// Event is a control notification for the client.
type Event struct {
	Type       string                `json:"type"`
	SessionID  string                `json:"session_id,omitempty"`
	State      entities.SessionState `json:"state,omitempty"`
	Text       string                `json:"text,omitempty"`
	Final      bool                  `json:"final,omitempty"`
	Confidence float64               `json:"confidence,omitempty"`
	Agent      string                `json:"agent,omitempty"`
	Code       string                `json:"code,omitempty"`
}

// Sink delivers coordinator output to the client. Implementations must be
// safe for concurrent use. Errors mean the transport is gone.
type Sink interface {
	SendEvent(ctx context.Context, ev Event) error
	SendChunk(ctx context.Context, chunk entities.ResponseChunk) error
}
