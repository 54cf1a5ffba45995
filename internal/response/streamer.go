// Package response turns a responder's streamed text into ordered chunks of
// text and fixed-duration audio.
package response

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/satriahrh/voicegate/domain"
	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
	"github.com/satriahrh/voicegate/internal/metrics"
)

// Config controls chunking. Audio produced by responders is PCM16LE mono at
// OutputSampleRate.
type Config struct {
	ChunkDuration        time.Duration `yaml:"chunk_duration"`
	OutputSampleRate     int           `yaml:"output_sample_rate"`
	MaxUnitWait          time.Duration `yaml:"max_unit_wait"`
	MinClauseRunes       int           `yaml:"min_clause_runes"`
	MaxUnitRunes         int           `yaml:"max_unit_runes"`
	SynthesisConcurrency int           `yaml:"synthesis_concurrency"`
}

func DefaultConfig() Config {
	return Config{
		ChunkDuration:        200 * time.Millisecond,
		OutputSampleRate:     24000,
		MaxUnitWait:          200 * time.Millisecond,
		MinClauseRunes:       24,
		MaxUnitRunes:         160,
		SynthesisConcurrency: 3,
	}
}

func (c Config) Validate() error {
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk duration must be positive, got %v", c.ChunkDuration)
	}
	if c.OutputSampleRate < 8000 || c.OutputSampleRate > 48000 {
		return fmt.Errorf("output sample rate must be between 8000 and 48000, got %d", c.OutputSampleRate)
	}
	if c.MaxUnitWait <= 0 {
		return fmt.Errorf("max unit wait must be positive, got %v", c.MaxUnitWait)
	}
	if c.SynthesisConcurrency < 1 {
		return fmt.Errorf("synthesis concurrency must be at least 1, got %d", c.SynthesisConcurrency)
	}
	return nil
}

// OutputFormat is the format of every audio segment.
func (c Config) OutputFormat() entities.Format {
	return entities.Format{Encoding: entities.EncodingPCM16, SampleRate: c.OutputSampleRate, Channels: 1}
}

// Option customizes a Streamer.
type Option func(*Streamer)

// WithClock replaces the wall clock used for the unit flush deadline.
func WithClock(c clock.Clock) Option {
	return func(s *Streamer) { s.clock = c }
}

// WithMetrics records synthesis failures.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Streamer) { s.metrics = m }
}

// Streamer is stateless between calls and safe for concurrent use.
type Streamer struct {
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewStreamer(cfg Config, logger *zap.Logger, opts ...Option) *Streamer {
	s := &Streamer{cfg: cfg, clock: clock.New(), logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream is one streamed reply. It is finite and cannot be restarted.
type Stream struct {
	out  chan entities.ResponseChunk
	err  error
	text strings.Builder
}

// Chunks yields chunks in the order their text was produced.
func (s *Stream) Chunks() <-chan entities.ResponseChunk {
	return s.out
}

// Err is valid once Chunks is closed. A responder failure wraps
// domain.ErrBackendUnavailable; synthesis failures are not errors.
func (s *Stream) Err() error {
	return s.err
}

// Text is the reply text that was delivered. Valid once Chunks is closed.
func (s *Stream) Text() string {
	return s.text.String()
}

type synthJob struct {
	text  string
	audio []byte
	err   error
	done  chan struct{}
}

// Stream asks responder for a reply to transcript and chunks it.
func (s *Streamer) Stream(ctx context.Context, responder repositories.Responder, transcript entities.Transcript, history []entities.Turn) *Stream {
	st := &Stream{out: make(chan entities.ResponseChunk, 8)}
	go func() {
		defer close(st.out)
		st.err = s.run(ctx, responder, transcript, history, st)
	}()
	return st
}

func (s *Streamer) run(ctx context.Context, responder repositories.Responder, transcript entities.Transcript, history []entities.Turn, st *Stream) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deltas, err := responder.StreamRespond(ctx, transcript.Text, history)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: respond: %v", domain.ErrBackendUnavailable, err)
	}

	jobs := make(chan *synthJob, 32)
	emitted := make(chan error, 1)
	go func() {
		emitted <- s.emit(ctx, jobs, st)
	}()

	produceErr := s.produce(ctx, responder, deltas, jobs)
	emitErr := <-emitted
	if produceErr != nil {
		return produceErr
	}
	return emitErr
}

// produce splits deltas into units and starts their synthesis. It always
// closes jobs, so units submitted before a failure are still emitted.
func (s *Streamer) produce(ctx context.Context, responder repositories.Responder, deltas <-chan repositories.TextDelta, jobs chan<- *synthJob) error {
	defer close(jobs)

	sem := semaphore.NewWeighted(int64(s.cfg.SynthesisConcurrency))
	splitter := newUnitSplitter(s.cfg.MinClauseRunes, s.cfg.MaxUnitRunes)
	submit := func(unit string) error {
		job := &synthJob{text: unit, done: make(chan struct{})}
		speech := strings.TrimSpace(unit)
		if speech == "" {
			close(job.done)
		} else {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			go func() {
				defer close(job.done)
				defer sem.Release(1)
				job.audio, job.err = responder.Synthesize(ctx, speech)
			}()
		}
		select {
		case jobs <- job:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var deadline <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-deltas:
			if !ok {
				if rest := splitter.flush(); rest != "" {
					return submit(rest)
				}
				return nil
			}
			if d.Err != nil {
				if rest := splitter.flush(); rest != "" {
					if err := submit(rest); err != nil {
						return err
					}
				}
				s.logger.Warn("Responder failed mid-stream", zap.Error(d.Err))
				return fmt.Errorf("%w: respond: %v", domain.ErrBackendUnavailable, d.Err)
			}
			units := splitter.add(d.Text)
			for _, unit := range units {
				if err := submit(unit); err != nil {
					return err
				}
			}
			switch {
			case !splitter.hasPending():
				deadline = nil
			case deadline == nil || len(units) > 0:
				deadline = s.clock.After(s.cfg.MaxUnitWait)
			}

		case <-deadline:
			deadline = nil
			if unit := splitter.flushWords(); unit != "" {
				if err := submit(unit); err != nil {
					return err
				}
			}
			if splitter.hasPending() {
				deadline = s.clock.After(s.cfg.MaxUnitWait)
			}
		}
	}
}

// emit waits for each job in submission order and cuts its audio into
// segments. The first chunk of a unit carries its text.
func (s *Streamer) emit(ctx context.Context, jobs <-chan *synthJob, st *Stream) error {
	segmentBytes := s.cfg.OutputFormat().BytesForDuration(s.cfg.ChunkDuration)
	seq := 0
	for job := range jobs {
		select {
		case <-job.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		audio := job.audio
		if job.err != nil {
			if errors.Is(job.err, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("Synthesis failed, sending text only",
				zap.Int("seq", seq),
				zap.Error(job.err))
			s.metrics.SynthesisFailed()
			audio = nil
		}

		segments := split(audio, segmentBytes)
		if len(segments) == 0 {
			segments = [][]byte{nil}
		}
		for i, seg := range segments {
			chunk := entities.ResponseChunk{Seq: seq, Audio: seg}
			if i == 0 {
				chunk.Text = job.text
			}
			select {
			case st.out <- chunk:
				seq++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		st.text.WriteString(job.text)
	}
	return nil
}

func split(audio []byte, size int) [][]byte {
	if len(audio) == 0 || size <= 0 {
		return nil
	}
	out := make([][]byte, 0, (len(audio)+size-1)/size)
	for start := 0; start < len(audio); start += size {
		end := start + size
		if end > len(audio) {
			end = len(audio)
		}
		out = append(out, audio[start:end])
	}
	return out
}
