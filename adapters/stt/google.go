package stt

import (
	"context"
	"errors"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
)

// recognizeStream is the part of the gRPC stream we use.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// GoogleTranscriber implements Transcriber with Google Cloud Speech-to-Text
// streaming recognition and interim results.
type GoogleTranscriber struct {
	client *speech.Client
	model  string
	logger *zap.Logger
}

// NewGoogleTranscriber creates a client shared by every stream. An empty
// credentialsFile uses application default credentials.
func NewGoogleTranscriber(ctx context.Context, credentialsFile, model string, logger *zap.Logger) (*GoogleTranscriber, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleTranscriber{client: client, model: model, logger: logger}, nil
}

func (g *GoogleTranscriber) Close() error {
	return g.client.Close()
}

func (g *GoogleTranscriber) StreamTranscribe(ctx context.Context, config repositories.AudioConfig) (repositories.TranscriptionStream, error) {
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}
	return openStream(stream, config, g.model)
}

func openStream(stream recognizeStream, config repositories.AudioConfig, model string) (*GoogleStream, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		_ = stream.CloseSend()
		return nil, err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					Model:                      model,
					EnableAutomaticPunctuation: true,
				},
				// End-of-speech is decided by the gateway, not the recognizer.
				InterimResults:  true,
				SingleUtterance: false,
			},
		},
	}); err != nil {
		_ = stream.CloseSend()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return &GoogleStream{stream: stream}, nil
}

// GoogleStream adapts one StreamingRecognize call.
type GoogleStream struct {
	stream  recognizeStream
	pending []entities.Transcript
}

func (g *GoogleStream) Send(audio []byte) error {
	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (g *GoogleStream) CloseSend() error {
	return g.stream.CloseSend()
}

// Recv returns results one at a time; a response may carry several.
func (g *GoogleStream) Recv() (entities.Transcript, error) {
	for len(g.pending) == 0 {
		resp, err := g.stream.Recv()
		if errors.Is(err, io.EOF) {
			return entities.Transcript{}, io.EOF
		}
		if err != nil {
			return entities.Transcript{}, fmt.Errorf("failed to receive response: %w", err)
		}
		if st := resp.GetError(); st != nil {
			return entities.Transcript{}, fmt.Errorf("recognition error %d: %s", st.GetCode(), st.GetMessage())
		}
		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			g.pending = append(g.pending, entities.Transcript{
				Text:       alts[0].GetTranscript(),
				Confidence: float64(alts[0].GetConfidence()),
				Final:      result.GetIsFinal(),
			})
		}
	}
	tr := g.pending[0]
	g.pending = g.pending[1:]
	return tr, nil
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
