package stt

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
)

// mockPhrases are picked by how much audio was sent, so longer utterances
// give longer questions.
var mockPhrases = []string{
	"Hello",
	"I have a headache",
	"What is chemotherapy?",
	"How can I lower my blood pressure?",
	"What should I eat if I have diabetes and high blood pressure?",
}

// MockTranscriber is an offline Transcriber. It emits a partial for every
// second of audio and a final phrase when the client stops sending.
type MockTranscriber struct {
	logger *zap.Logger
}

func NewMockTranscriber(logger *zap.Logger) *MockTranscriber {
	return &MockTranscriber{logger: logger}
}

func (m *MockTranscriber) StreamTranscribe(ctx context.Context, config repositories.AudioConfig) (repositories.TranscriptionStream, error) {
	m.logger.Debug("Opening mock transcription stream",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	bytesPerSecond := config.SampleRate * 2
	if bytesPerSecond <= 0 {
		bytesPerSecond = 32000
	}
	return &MockTranscriptionStream{
		ctx:            ctx,
		bytesPerSecond: bytesPerSecond,
		results:        make(chan entities.Transcript, 64),
	}, nil
}

// MockTranscriptionStream is the stream returned by MockTranscriber.
type MockTranscriptionStream struct {
	ctx            context.Context
	bytesPerSecond int
	results        chan entities.Transcript

	mu       sync.Mutex
	received int
	closed   bool
}

func (s *MockTranscriptionStream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}

	before := s.received / s.bytesPerSecond
	s.received += len(audio)
	if after := s.received / s.bytesPerSecond; after > before {
		select {
		case s.results <- entities.Transcript{Text: phraseFor(after, true), Confidence: 0.5}:
		default:
		}
	}
	return nil
}

func (s *MockTranscriptionStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.received > 0 {
		seconds := s.received / s.bytesPerSecond
		final := entities.Transcript{Text: phraseFor(seconds, false), Confidence: 0.95, Final: true}
		select {
		case s.results <- final:
		case <-s.ctx.Done():
		}
	}
	close(s.results)
	return nil
}

func (s *MockTranscriptionStream) Recv() (entities.Transcript, error) {
	select {
	case tr, ok := <-s.results:
		if !ok {
			return entities.Transcript{}, io.EOF
		}
		return tr, nil
	case <-s.ctx.Done():
		return entities.Transcript{}, s.ctx.Err()
	}
}

// phraseFor returns the phrase for an utterance of the given length. Partials
// are the first half of the phrase's words.
func phraseFor(seconds int, partial bool) string {
	idx := seconds
	if idx >= len(mockPhrases) {
		idx = len(mockPhrases) - 1
	}
	phrase := mockPhrases[idx]
	if !partial {
		return phrase
	}
	words := 0
	for i, r := range phrase {
		if r == ' ' {
			words++
			if words == 2 {
				return phrase[:i]
			}
		}
	}
	return phrase
}
