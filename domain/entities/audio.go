package entities

import (
	"fmt"
	"time"
)

// Encoding names the sample layout of an audio payload.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_s16le"
	EncodingFloat Encoding = "pcm_f32le"
)

// Format describes how samples inside an AudioFrame are laid out.
type Format struct {
	Encoding   Encoding `json:"encoding" yaml:"encoding"`
	SampleRate int      `json:"sample_rate" yaml:"sample_rate"`
	Channels   int      `json:"channels" yaml:"channels"`
}

// InternalFormat is what the transcription stage consumes.
var InternalFormat = Format{Encoding: EncodingPCM16, SampleRate: 16000, Channels: 1}

// DefaultWireFormat is assumed when a client does not announce its format.
var DefaultWireFormat = Format{Encoding: EncodingPCM16, SampleRate: 24000, Channels: 1}

// BytesPerSample returns the width of a single sample of one channel.
func (f Format) BytesPerSample() int {
	if f.Encoding == EncodingFloat {
		return 4
	}
	return 2
}

// FrameBytes returns the size of one sample across all channels.
func (f Format) FrameBytes() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return f.BytesPerSample() * ch
}

// BytesForDuration returns how many bytes hold d worth of audio in this format.
func (f Format) BytesForDuration(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.FrameBytes()
}

// Duration returns the playback length of n bytes in this format.
func (f Format) Duration(n int) time.Duration {
	fb := f.FrameBytes()
	if f.SampleRate <= 0 || fb == 0 {
		return 0
	}
	return time.Duration(int64(n/fb) * int64(time.Second) / int64(f.SampleRate))
}

// Validate checks that the format is one the gateway can convert.
func (f Format) Validate() error {
	switch f.Encoding {
	case EncodingPCM16, EncodingFloat:
	default:
		return fmt.Errorf("unsupported encoding %q", f.Encoding)
	}
	if f.SampleRate < 8000 || f.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000, got %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", f.Channels)
	}
	return nil
}

// AudioFrame is a timestamped chunk of samples. Treat it as immutable once
// produced: converters return new frames instead of editing Data in place.
type AudioFrame struct {
	Seq       uint32
	Timestamp time.Time
	Format    Format
	Data      []byte
}

// Duration returns the playback length of the frame.
func (a AudioFrame) Duration() time.Duration {
	return a.Format.Duration(len(a.Data))
}
