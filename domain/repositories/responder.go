package repositories

import (
	"context"

	"github.com/satriahrh/voicegate/domain/entities"
)

// Responder answers a transcript for one intent. Text streams out of
// StreamRespond and is voiced unit by unit through Synthesize.
type Responder interface {
	StreamRespond(ctx context.Context, text string, history []entities.Turn) (<-chan TextDelta, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
