package audio

import (
	"fmt"

	"github.com/satriahrh/voicegate/domain"
	"github.com/satriahrh/voicegate/domain/entities"
)

const (
	// DefaultSilenceThreshold is the normalized RMS level below which a frame
	// counts as quiet. It is roughly a mean amplitude of 100 on int16 samples.
	DefaultSilenceThreshold = 0.01
	// DefaultSilenceFrames is 800ms of 20ms frames.
	DefaultSilenceFrames = 40
)

// Config controls silence detection.
type Config struct {
	SilenceThreshold float64 `yaml:"silence_threshold"`
	SilenceFrames    int     `yaml:"silence_frames"`
}

func DefaultConfig() Config {
	return Config{
		SilenceThreshold: DefaultSilenceThreshold,
		SilenceFrames:    DefaultSilenceFrames,
	}
}

func (c Config) Validate() error {
	if c.SilenceThreshold <= 0 || c.SilenceThreshold >= 1 {
		return fmt.Errorf("silence threshold must be in (0, 1), got %f", c.SilenceThreshold)
	}
	if c.SilenceFrames < 1 {
		return fmt.Errorf("silence frames must be positive, got %d", c.SilenceFrames)
	}
	return nil
}

// FrameBuffer accumulates the frames of one turn.
//
// End-of-speech is latched: it is reported on the frame that completes the
// run of quiet frames and never again until Reset. Frames pushed after that
// are still buffered; callers decide whether to keep them.
//
// A FrameBuffer is not safe for concurrent use.
type FrameBuffer struct {
	cfg    Config
	target entities.Format

	frames   []entities.AudioFrame
	lastSeq  uint32
	seenSeq  bool
	quiet    int
	detected bool
}

// NewFrameBuffer returns a buffer that drains into the internal format.
func NewFrameBuffer(cfg Config) *FrameBuffer {
	return &FrameBuffer{cfg: cfg, target: entities.InternalFormat}
}

// Push appends a frame and reports whether end-of-speech was newly detected.
// Frames whose sequence number does not increase or whose payload does not
// match their format are rejected with domain.ErrMalformedInput.
func (b *FrameBuffer) Push(frame entities.AudioFrame) (bool, error) {
	if b.seenSeq && frame.Seq <= b.lastSeq {
		return false, fmt.Errorf("%w: frame %d after %d", domain.ErrMalformedInput, frame.Seq, b.lastSeq)
	}
	if err := frame.Format.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	energy, err := Energy(frame)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}

	b.lastSeq = frame.Seq
	b.seenSeq = true
	b.frames = append(b.frames, frame)

	if b.detected {
		return false, nil
	}
	if energy < b.cfg.SilenceThreshold {
		b.quiet++
	} else {
		b.quiet = 0
	}
	if b.quiet >= b.cfg.SilenceFrames {
		b.detected = true
		return true, nil
	}
	return false, nil
}

// Drain returns every buffered frame converted to the internal format and
// empties the buffer. Sequence tracking and silence state are kept.
func (b *FrameBuffer) Drain() ([]entities.AudioFrame, error) {
	if len(b.frames) == 0 {
		return nil, nil
	}
	out := make([]entities.AudioFrame, 0, len(b.frames))
	for _, f := range b.frames {
		converted, err := Convert(f, b.target)
		if err != nil {
			return nil, fmt.Errorf("convert frame %d: %w", f.Seq, err)
		}
		out = append(out, converted)
	}
	b.frames = b.frames[:0]
	return out, nil
}

// Reset clears all state for a new turn.
func (b *FrameBuffer) Reset() {
	b.frames = nil
	b.lastSeq = 0
	b.seenSeq = false
	b.quiet = 0
	b.detected = false
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	return len(b.frames)
}

// Detected reports whether end-of-speech has been reported this turn.
func (b *FrameBuffer) Detected() bool {
	return b.detected
}
