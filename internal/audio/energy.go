package audio

import (
	"math"

	"github.com/satriahrh/voicegate/domain/entities"
)

// Energy returns the short-term RMS level of a frame, normalized to [0, 1].
func Energy(frame entities.AudioFrame) (float64, error) {
	samples, err := decodeMono(frame.Data, frame.Format)
	if err != nil {
		return 0, err
	}
	return rms(samples), nil
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
