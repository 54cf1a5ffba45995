package entities

// Transcript is a recognition result. Only final transcripts advance a turn.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}
