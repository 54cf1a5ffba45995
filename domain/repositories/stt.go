package repositories

import (
	"context"

	"github.com/satriahrh/voicegate/domain/entities"
)

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// Transcriber is the streaming speech recognition capability.
type Transcriber interface {
	// StreamTranscribe opens a recognition stream. Audio sent on the stream
	// must already be in the format described by config.
	StreamTranscribe(ctx context.Context, config AudioConfig) (TranscriptionStream, error)
}

// TranscriptionStream is one open recognition request.
//
// Send and CloseSend are called from a single goroutine, Recv from another.
// Recv returns io.EOF once the backend has delivered its last result.
type TranscriptionStream interface {
	Send(audio []byte) error
	CloseSend() error
	Recv() (entities.Transcript, error)
}
