package repositories

import "context"

// TextToSpeech turns a pronounceable unit of text into PCM16LE mono audio.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) ([]byte, error)
}
