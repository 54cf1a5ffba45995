package transcription

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicegate/domain"
	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
)

type result struct {
	tr  entities.Transcript
	err error
}

type fakeStream struct {
	mu      sync.Mutex
	sent    int
	closed  chan struct{}
	results chan result
}

func newFakeStream() *fakeStream {
	return &fakeStream{closed: make(chan struct{}), results: make(chan result, 16)}
}

func (f *fakeStream) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeStream) CloseSend() error {
	close(f.closed)
	return nil
}

func (f *fakeStream) Recv() (entities.Transcript, error) {
	r, ok := <-f.results
	if !ok {
		return entities.Transcript{}, io.EOF
	}
	return r.tr, r.err
}

func (f *fakeStream) sentFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

type fakeTranscriber struct {
	stream  *fakeStream
	openErr error
}

func (f *fakeTranscriber) StreamTranscribe(ctx context.Context, config repositories.AudioConfig) (repositories.TranscriptionStream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

type fakeCorrector struct {
	correction Correction
	err        error
}

func (f fakeCorrector) Correct(ctx context.Context, text string) (Correction, error) {
	return f.correction, f.err
}

func frame(seq uint32) entities.AudioFrame {
	return entities.AudioFrame{Seq: seq, Format: entities.InternalFormat, Data: make([]byte, 640)}
}

func collect(t *testing.T, run *Run) []entities.Transcript {
	t.Helper()
	var out []entities.Transcript
	timeout := time.After(2 * time.Second)
	for {
		select {
		case tr, ok := <-run.Transcripts():
			if !ok {
				return out
			}
			out = append(out, tr)
		case <-timeout:
			t.Fatal("timed out waiting for transcripts")
			return nil
		}
	}
}

func TestStage_PartialsThenSingleFinal(t *testing.T) {
	stream := newFakeStream()
	stage := NewStage(&fakeTranscriber{stream: stream}, DefaultConfig(), zaptest.NewLogger(t))

	frames := make(chan entities.AudioFrame, 4)
	run := stage.Transcribe(context.Background(), frames)

	frames <- frame(1)
	stream.results <- result{tr: entities.Transcript{Text: "what is"}}
	frames <- frame(2)
	stream.results <- result{tr: entities.Transcript{Text: "what is chemo"}}
	close(frames)

	<-stream.closed
	stream.results <- result{tr: entities.Transcript{Text: "What is chemotherapy?", Confidence: 0.9, Final: true}}
	close(stream.results)

	got := collect(t, run)
	if run.Err() != nil {
		t.Fatalf("Unexpected error: %v", run.Err())
	}
	if len(got) != 3 {
		t.Fatalf("Expected 2 partials and a final, got %d transcripts: %+v", len(got), got)
	}
	for _, tr := range got[:2] {
		if tr.Final {
			t.Errorf("Expected partial, got final %q", tr.Text)
		}
	}
	final := got[2]
	if !final.Final || final.Text != "What is chemotherapy?" {
		t.Errorf("Unexpected final: %+v", final)
	}
	if final.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %f", final.Confidence)
	}
	if stream.sentFrames() != 2 {
		t.Errorf("Expected 2 frames sent, got %d", stream.sentFrames())
	}
}

func TestStage_FinalWaitsForEndOfSpeech(t *testing.T) {
	stream := newFakeStream()
	stage := NewStage(&fakeTranscriber{stream: stream}, DefaultConfig(), zap.NewNop())

	frames := make(chan entities.AudioFrame, 4)
	run := stage.Transcribe(context.Background(), frames)

	// The backend closes the utterance on its own before the client is done.
	stream.results <- result{tr: entities.Transcript{Text: "my heart", Confidence: 0.8, Final: true}}
	close(stream.results)

	select {
	case tr := <-run.Transcripts():
		t.Fatalf("No transcript expected before end-of-speech, got %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}

	close(frames)
	got := collect(t, run)
	if len(got) != 1 || !got[0].Final || got[0].Text != "my heart" {
		t.Fatalf("Expected a single final, got %+v", got)
	}
}

func TestStage_JoinsBackendSegments(t *testing.T) {
	stream := newFakeStream()
	stage := NewStage(&fakeTranscriber{stream: stream}, DefaultConfig(), zap.NewNop())

	frames := make(chan entities.AudioFrame)
	run := stage.Transcribe(context.Background(), frames)

	stream.results <- result{tr: entities.Transcript{Text: "I have chest pain", Confidence: 0.8, Final: true}}
	stream.results <- result{tr: entities.Transcript{Text: "when I climb stairs", Confidence: 0.6, Final: true}}
	close(stream.results)
	close(frames)

	got := collect(t, run)
	if len(got) != 1 {
		t.Fatalf("Expected one final, got %+v", got)
	}
	if got[0].Text != "I have chest pain when I climb stairs" {
		t.Errorf("Unexpected joined text %q", got[0].Text)
	}
	if got[0].Confidence < 0.69 || got[0].Confidence > 0.71 {
		t.Errorf("Expected mean confidence 0.7, got %f", got[0].Confidence)
	}
}

func TestStage_BackendFailures(t *testing.T) {
	t.Run("open fails", func(t *testing.T) {
		stage := NewStage(&fakeTranscriber{openErr: errors.New("dial tcp: refused")}, DefaultConfig(), zap.NewNop())
		frames := make(chan entities.AudioFrame)
		run := stage.Transcribe(context.Background(), frames)

		if got := collect(t, run); len(got) != 0 {
			t.Errorf("Expected no transcripts, got %+v", got)
		}
		if !errors.Is(run.Err(), domain.ErrBackendUnavailable) {
			t.Errorf("Expected ErrBackendUnavailable, got %v", run.Err())
		}
	})

	t.Run("recv fails mid-stream", func(t *testing.T) {
		stream := newFakeStream()
		stage := NewStage(&fakeTranscriber{stream: stream}, DefaultConfig(), zap.NewNop())
		frames := make(chan entities.AudioFrame, 4)
		run := stage.Transcribe(context.Background(), frames)

		frames <- frame(1)
		stream.results <- result{tr: entities.Transcript{Text: "what"}}
		stream.results <- result{err: errors.New("rpc error: code = Unavailable")}

		got := collect(t, run)
		for _, tr := range got {
			if tr.Final {
				t.Errorf("No final expected after failure, got %+v", tr)
			}
		}
		if !errors.Is(run.Err(), domain.ErrBackendUnavailable) {
			t.Errorf("Expected ErrBackendUnavailable, got %v", run.Err())
		}
	})
}

func TestStage_ShortTranscriptBecomesEmptyFinal(t *testing.T) {
	stream := newFakeStream()
	stage := NewStage(&fakeTranscriber{stream: stream}, DefaultConfig(), zap.NewNop())

	frames := make(chan entities.AudioFrame)
	run := stage.Transcribe(context.Background(), frames)
	stream.results <- result{tr: entities.Transcript{Text: "a", Final: true}}
	close(stream.results)
	close(frames)

	got := collect(t, run)
	if len(got) != 1 || !got[0].Final || got[0].Text != "" {
		t.Fatalf("Expected an empty final, got %+v", got)
	}
}

func TestStage_Correction(t *testing.T) {
	tests := []struct {
		name      string
		corrector fakeCorrector
		want      string
	}{
		{
			name:      "confident correction replaces text",
			corrector: fakeCorrector{correction: Correction{Text: "Patient takes 500mg ibuprofen", Confidence: 0.92}},
			want:      "Patient takes 500mg ibuprofen",
		},
		{
			name:      "low confidence keeps recognized text",
			corrector: fakeCorrector{correction: Correction{Text: "something else", Confidence: 0.4}},
			want:      "patient takes 500 mg ibuprofen",
		},
		{
			name:      "corrector error keeps recognized text",
			corrector: fakeCorrector{err: errors.New("quota exceeded")},
			want:      "patient takes 500 mg ibuprofen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := newFakeStream()
			stage := NewStage(&fakeTranscriber{stream: stream}, DefaultConfig(), zap.NewNop(), WithCorrector(tt.corrector))

			frames := make(chan entities.AudioFrame)
			run := stage.Transcribe(context.Background(), frames)
			stream.results <- result{tr: entities.Transcript{Text: "patient takes 500 mg ibuprofen", Final: true}}
			close(stream.results)
			close(frames)

			got := collect(t, run)
			if len(got) != 1 || got[0].Text != tt.want {
				t.Fatalf("Expected final %q, got %+v", tt.want, got)
			}
		})
	}
}

func TestStage_CancelReleasesRun(t *testing.T) {
	stream := newFakeStream()
	stage := NewStage(&fakeTranscriber{stream: stream}, DefaultConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan entities.AudioFrame)
	run := stage.Transcribe(ctx, frames)

	stream.results <- result{tr: entities.Transcript{Text: "hello", Final: true}}
	close(stream.results)
	cancel()

	got := collect(t, run)
	for _, tr := range got {
		if tr.Final {
			t.Errorf("No final expected after cancel, got %+v", tr)
		}
	}
	if !errors.Is(run.Err(), context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", run.Err())
	}
}
