package websocket

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/satriahrh/voicegate/domain"
	"github.com/satriahrh/voicegate/domain/entities"
)

// MessageType defines the type of a control message
type MessageType string

// Client to server control messages
const (
	MessageTypeStart       MessageType = "start"
	MessageTypeEndOfSpeech MessageType = "end_of_speech"
	MessageTypeStop        MessageType = "stop"
	MessageTypePing        MessageType = "ping"
)

// Server to client messages that are not session events
const (
	MessageTypePong          MessageType = "pong"
	MessageTypeSessionReady  MessageType = "session_ready"
	MessageTypeResponseChunk MessageType = "response_chunk"
)

// seqHeaderSize is the big-endian sequence number in front of every binary
// audio frame, in both directions.
const seqHeaderSize = 4

// ControlMessage is a JSON text frame from the client.
type ControlMessage struct {
	Type       MessageType `json:"type"`
	Encoding   string      `json:"encoding,omitempty"`
	SampleRate int         `json:"sample_rate,omitempty"`
	Channels   int         `json:"channels,omitempty"`
	Data       string      `json:"data,omitempty"`
}

// Format returns the announced wire format, filling unset fields from the
// default wire format.
func (m *ControlMessage) Format() entities.Format {
	f := entities.DefaultWireFormat
	if m.Encoding != "" {
		f.Encoding = entities.Encoding(m.Encoding)
	}
	if m.SampleRate != 0 {
		f.SampleRate = m.SampleRate
	}
	if m.Channels != 0 {
		f.Channels = m.Channels
	}
	return f
}

// SessionReadyMessage is the first message on a new connection.
type SessionReadyMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Output    entities.Format `json:"output_format"`
}

// PongMessage represents a pong response
type PongMessage struct {
	Type MessageType `json:"type"`
	Data string      `json:"data,omitempty"`
}

// ResponseChunkMessage carries the text of a response chunk. Audio for the
// same seq follows as a binary frame when HasAudio is set.
type ResponseChunkMessage struct {
	Type     MessageType `json:"type"`
	Seq      int         `json:"seq"`
	Text     string      `json:"text"`
	HasAudio bool        `json:"has_audio"`
}

// MessageValidator provides validation for control messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses and validates a control message. Every error wraps
// domain.ErrMalformedInput.
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format: %v", domain.ErrMalformedInput, err)
	}

	switch msg.Type {
	case MessageTypeStart:
		if err := msg.Format().Validate(); err != nil {
			return nil, fmt.Errorf("%w: invalid start message: %v", domain.ErrMalformedInput, err)
		}
	case MessageTypeEndOfSpeech, MessageTypeStop, MessageTypePing:
	case "":
		return nil, fmt.Errorf("%w: type is required", domain.ErrMalformedInput)
	default:
		return nil, fmt.Errorf("%w: unsupported message type: %s", domain.ErrMalformedInput, msg.Type)
	}
	return &msg, nil
}

// DecodeAudioFrame splits a binary client frame into its sequence number and
// samples.
func DecodeAudioFrame(data []byte) (uint32, []byte, error) {
	if len(data) <= seqHeaderSize {
		return 0, nil, fmt.Errorf("%w: audio frame of %d bytes has no samples", domain.ErrMalformedInput, len(data))
	}
	return binary.BigEndian.Uint32(data[:seqHeaderSize]), data[seqHeaderSize:], nil
}

// EncodeAudioFrame prefixes samples with seq.
func EncodeAudioFrame(seq uint32, samples []byte) []byte {
	out := make([]byte, seqHeaderSize+len(samples))
	binary.BigEndian.PutUint32(out, seq)
	copy(out[seqHeaderSize:], samples)
	return out
}
