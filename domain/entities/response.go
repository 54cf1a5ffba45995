package entities

// ResponseChunk pairs a text fragment with an optional audio segment.
// Audio is nil when synthesis failed or the chunk carries text only.
type ResponseChunk struct {
	Seq   int
	Text  string
	Audio []byte
}

// HasAudio reports whether the chunk carries synthesized audio.
func (c ResponseChunk) HasAudio() bool {
	return len(c.Audio) > 0
}
