package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/satriahrh/voicegate/domain/repositories"
)

// ToneVoice is an offline TextToSpeech. It renders a quiet sine tone whose
// length follows the text, roughly matching speaking rate.
type ToneVoice struct {
	SampleRate int
	// PerRune is the audio length per rune of text, in samples.
	PerRune int
	Freq    float64
}

var _ repositories.TextToSpeech = (*ToneVoice)(nil)

// NewToneVoice returns a voice producing PCM16LE mono at sampleRate.
func NewToneVoice(sampleRate int) *ToneVoice {
	return &ToneVoice{
		SampleRate: sampleRate,
		PerRune:    sampleRate / 15,
		Freq:       220,
	}
}

// ConvertTextToSpeech implements repositories.TextToSpeech
func (v *ToneVoice) ConvertTextToSpeech(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	samples := utf8.RuneCountInString(text) * v.PerRune
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		s := 0.1 * math.Sin(2*math.Pi*v.Freq*float64(i)/float64(v.SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return pcm, nil
}
