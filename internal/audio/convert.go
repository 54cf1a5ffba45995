// Package audio buffers client audio for a turn, detects end-of-speech from
// frame energy and converts wire formats into the recognizer format.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/satriahrh/voicegate/domain/entities"
)

// Convert re-encodes a frame into another format: stereo is downmixed,
// float samples are quantized and the sample rate is changed with linear
// interpolation. The input frame is left untouched.
func Convert(frame entities.AudioFrame, to entities.Format) (entities.AudioFrame, error) {
	if frame.Format == to {
		data := make([]byte, len(frame.Data))
		copy(data, frame.Data)
		frame.Data = data
		return frame, nil
	}
	if to.Channels != 1 {
		return entities.AudioFrame{}, fmt.Errorf("unsupported target channel count %d", to.Channels)
	}

	samples, err := decodeMono(frame.Data, frame.Format)
	if err != nil {
		return entities.AudioFrame{}, err
	}
	samples = resample(samples, frame.Format.SampleRate, to.SampleRate)

	out := frame
	out.Format = to
	switch to.Encoding {
	case entities.EncodingPCM16:
		out.Data = encodePCM16(samples)
	case entities.EncodingFloat:
		out.Data = encodeFloat32(samples)
	default:
		return entities.AudioFrame{}, fmt.Errorf("unsupported target encoding %q", to.Encoding)
	}
	return out, nil
}

// decodeMono returns samples normalized to [-1, 1], averaging channels.
func decodeMono(data []byte, f entities.Format) ([]float64, error) {
	frameBytes := f.FrameBytes()
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a multiple of %d", len(data), frameBytes)
	}
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	width := f.BytesPerSample()

	n := len(data) / frameBytes
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			off := i*frameBytes + ch*width
			switch f.Encoding {
			case entities.EncodingPCM16:
				sum += float64(int16(binary.LittleEndian.Uint16(data[off:]))) / 32768.0
			case entities.EncodingFloat:
				sum += float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
			default:
				return nil, fmt.Errorf("unsupported encoding %q", f.Encoding)
			}
		}
		out[i] = sum / float64(channels)
	}
	return out, nil
}

func resample(in []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(in) == 0 || fromRate <= 0 || toRate <= 0 {
		return in
	}
	n := int(float64(len(in)) * float64(toRate) / float64(fromRate))
	out := make([]float64, n)
	ratio := float64(fromRate) / float64(toRate)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = in[idx] + frac*(in[idx+1]-in[idx])
	}
	return out
}

func encodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(s * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func encodeFloat32(samples []float64) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(s)))
	}
	return out
}
