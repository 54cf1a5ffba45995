package stt

import (
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/genproto/googleapis/rpc/status"

	"github.com/satriahrh/voicegate/domain/repositories"
)

var _ repositories.Transcriber = &GoogleTranscriber{}

type fakeRecognizeStream struct {
	sent      []*speechpb.StreamingRecognizeRequest
	responses []*speechpb.StreamingRecognizeResponse
	recvErr   error
	closed    bool
}

func (f *fakeRecognizeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeRecognizeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	if len(f.responses) == 0 {
		if f.recvErr != nil {
			return nil, f.recvErr
		}
		return nil, io.EOF
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeRecognizeStream) CloseSend() error {
	f.closed = true
	return nil
}

func result(text string, confidence float32, final bool) *speechpb.StreamingRecognitionResult {
	return &speechpb.StreamingRecognitionResult{
		IsFinal: final,
		Alternatives: []*speechpb.SpeechRecognitionAlternative{
			{Transcript: text, Confidence: confidence},
		},
	}
}

func TestOpenStream_SendsInterimConfig(t *testing.T) {
	fake := &fakeRecognizeStream{}
	_, err := openStream(fake, repositories.AudioConfig{SampleRate: 16000, Encoding: "LINEAR16", Language: "en-US"}, "latest_short")
	if err != nil {
		t.Fatalf("openStream failed: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("Expected the config request, got %d requests", len(fake.sent))
	}
	cfg := fake.sent[0].GetStreamingConfig()
	if cfg == nil || !cfg.GetInterimResults() || cfg.GetSingleUtterance() {
		t.Errorf("Unexpected streaming config: %+v", cfg)
	}
	if cfg.GetConfig().GetSampleRateHertz() != 16000 || cfg.GetConfig().GetEncoding() != speechpb.RecognitionConfig_LINEAR16 {
		t.Errorf("Unexpected recognition config: %+v", cfg.GetConfig())
	}
}

func TestOpenStream_RejectsEncoding(t *testing.T) {
	fake := &fakeRecognizeStream{}
	if _, err := openStream(fake, repositories.AudioConfig{SampleRate: 16000, Encoding: "MP3"}, ""); err == nil {
		t.Fatal("Expected unsupported encoding error")
	}
	if !fake.closed {
		t.Error("Stream should be closed on failure")
	}
}

func TestGoogleStream_Recv(t *testing.T) {
	fake := &fakeRecognizeStream{
		responses: []*speechpb.StreamingRecognizeResponse{
			{Results: []*speechpb.StreamingRecognitionResult{result("what is", 0.4, false)}},
			{Results: []*speechpb.StreamingRecognitionResult{
				result("what is chemotherapy", 0.92, true),
				result("and", 0.1, false),
			}},
			{Results: []*speechpb.StreamingRecognitionResult{{IsFinal: true}}},
		},
	}
	stream, err := openStream(fake, repositories.AudioConfig{SampleRate: 16000, Encoding: "LINEAR16"}, "")
	if err != nil {
		t.Fatalf("openStream failed: %v", err)
	}
	if err := stream.Send([]byte{1, 2}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := fake.sent[1].GetAudioContent(); len(got) != 2 {
		t.Errorf("Audio not forwarded: %v", got)
	}

	want := []struct {
		text  string
		final bool
	}{
		{"what is", false},
		{"what is chemotherapy", true},
		{"and", false},
	}
	for i, w := range want {
		tr, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv %d failed: %v", i, err)
		}
		if tr.Text != w.text || tr.Final != w.final {
			t.Errorf("Recv %d: got %+v, want %q final=%v", i, tr, w.text, w.final)
		}
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestGoogleStream_RecvErrors(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		stream := &GoogleStream{stream: &fakeRecognizeStream{recvErr: errors.New("unavailable")}}
		if _, err := stream.Recv(); err == nil || errors.Is(err, io.EOF) {
			t.Errorf("Expected transport error, got %v", err)
		}
	})

	t.Run("recognition status", func(t *testing.T) {
		stream := &GoogleStream{stream: &fakeRecognizeStream{responses: []*speechpb.StreamingRecognizeResponse{
			{Error: &status.Status{Code: 3, Message: "bad audio"}},
		}}}
		if _, err := stream.Recv(); err == nil {
			t.Error("Expected recognition error")
		}
	})
}
