// Package transcription drives a streaming Transcriber over the audio of one
// turn and reduces its results to partials plus a single final transcript.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/domain"
	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
)

const (
	// correctionMinConfidence is the score a correction needs to replace the
	// recognized text.
	correctionMinConfidence = 0.5
	defaultMinRunes         = 2
)

// Config holds recognizer settings for a stage.
type Config struct {
	Language string `yaml:"language"`
	// MinRunes is the shortest transcript treated as speech. Anything
	// shorter produces an empty final.
	MinRunes int `yaml:"min_runes"`
}

func DefaultConfig() Config {
	return Config{Language: "en-US", MinRunes: defaultMinRunes}
}

// Correction is a cleaned-up version of a transcript.
type Correction struct {
	Text       string  `json:"corrected_text"`
	Confidence float64 `json:"confidence_score"`
}

// Corrector repairs recognition mistakes in a final transcript.
type Corrector interface {
	Correct(ctx context.Context, text string) (Correction, error)
}

// Option customizes a Stage.
type Option func(*Stage)

// WithCorrector runs every non-empty final transcript through c.
func WithCorrector(c Corrector) Option {
	return func(s *Stage) { s.corrector = c }
}

// Stage turns frames into transcripts using a Transcriber.
type Stage struct {
	transcriber repositories.Transcriber
	corrector   Corrector
	cfg         Config
	logger      *zap.Logger
}

func NewStage(transcriber repositories.Transcriber, cfg Config, logger *zap.Logger, opts ...Option) *Stage {
	if cfg.MinRunes <= 0 {
		cfg.MinRunes = defaultMinRunes
	}
	s := &Stage{
		transcriber: transcriber,
		cfg:         cfg,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is a single transcription. It is finite and cannot be restarted.
type Run struct {
	out chan entities.Transcript
	err error
}

// Transcripts yields zero or more partials followed by exactly one final.
// The channel closes early, without a final, when the run fails.
func (r *Run) Transcripts() <-chan entities.Transcript {
	return r.out
}

// Err reports why the run ended. It is only valid once Transcripts is closed.
// Backend failures wrap domain.ErrBackendUnavailable.
func (r *Run) Err() error {
	return r.err
}

// Transcribe starts a run that consumes frames as they arrive. Closing frames
// signals end-of-speech; the final transcript is produced only after that.
// Frames must already be in the internal format.
func (s *Stage) Transcribe(ctx context.Context, frames <-chan entities.AudioFrame) *Run {
	r := &Run{out: make(chan entities.Transcript, 16)}
	go func() {
		defer close(r.out)
		r.err = s.run(ctx, frames, r.out)
	}()
	return r
}

func (s *Stage) run(ctx context.Context, frames <-chan entities.AudioFrame, out chan<- entities.Transcript) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.transcriber.StreamTranscribe(ctx, repositories.AudioConfig{
		SampleRate: entities.InternalFormat.SampleRate,
		Encoding:   "LINEAR16",
		Language:   s.cfg.Language,
	})
	if err != nil {
		return s.failure(ctx, "open stream", err)
	}

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- pump(ctx, stream, frames)
	}()

	var (
		segments    []string
		confidences []float64
		lastPartial entities.Transcript
	)
	for {
		tr, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.failure(ctx, "receive", err)
		}

		if tr.Final {
			if text := strings.TrimSpace(tr.Text); text != "" {
				segments = append(segments, text)
				confidences = append(confidences, tr.Confidence)
			}
			lastPartial = entities.Transcript{}
			continue
		}

		lastPartial = tr
		partial := entities.Transcript{
			Text:       joinSegments(append(segments[:len(segments):len(segments)], strings.TrimSpace(tr.Text))),
			Confidence: tr.Confidence,
		}
		select {
		case out <- partial:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// The backend may finish before the client stops talking; the final
	// still waits for end-of-speech.
	select {
	case err := <-sendDone:
		if err != nil {
			return s.failure(ctx, "send", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	final := entities.Transcript{Final: true}
	if len(segments) > 0 {
		final.Text = joinSegments(segments)
		final.Confidence = mean(confidences)
	} else {
		final.Text = strings.TrimSpace(lastPartial.Text)
		final.Confidence = lastPartial.Confidence
	}
	if utf8.RuneCountInString(final.Text) < s.cfg.MinRunes {
		s.logger.Debug("Transcript too short, treating as no speech", zap.String("text", final.Text))
		final.Text = ""
	}
	if final.Text != "" && s.corrector != nil {
		final.Text = s.correct(ctx, final.Text)
	}

	select {
	case out <- final:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump forwards frames to the backend until the input closes. After a send
// failure it keeps draining so the producer never blocks on a dead stream.
func pump(ctx context.Context, stream repositories.TranscriptionStream, frames <-chan entities.AudioFrame) error {
	var sendErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				if sendErr != nil {
					return sendErr
				}
				return stream.CloseSend()
			}
			if sendErr != nil || len(f.Data) == 0 {
				continue
			}
			sendErr = stream.Send(f.Data)
		}
	}
}

func (s *Stage) correct(ctx context.Context, text string) string {
	c, err := s.corrector.Correct(ctx, text)
	if err != nil {
		s.logger.Warn("Transcript correction failed, keeping recognized text", zap.Error(err))
		return text
	}
	if c.Confidence <= correctionMinConfidence || strings.TrimSpace(c.Text) == "" {
		s.logger.Debug("Correction below confidence, keeping recognized text",
			zap.Float64("confidence", c.Confidence))
		return text
	}
	return strings.TrimSpace(c.Text)
}

func (s *Stage) failure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Error("Transcription backend failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: transcription %s: %v", domain.ErrBackendUnavailable, op, err)
}

func joinSegments(parts []string) string {
	return strings.TrimSpace(strings.Join(parts, " "))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
