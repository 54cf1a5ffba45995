// Command voiceclient drives one voice turn against a running gateway. It
// authenticates as a device, streams PCM audio, and saves the spoken reply.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/adapters/tts"
	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/internal/api"
	"github.com/satriahrh/voicegate/internal/session"
	ws "github.com/satriahrh/voicegate/internal/websocket"
)

type options struct {
	server   string
	serial   string
	secret   string
	input    string
	seconds  int
	output   string
	frameMS  int
	timeout  time.Duration
	autoplay bool
	verbose  bool
}

func main() {
	opts := options{}
	rootCmd := &cobra.Command{
		Use:   "voiceclient",
		Short: "Stream one utterance to the voice gateway and save the reply",
		Long: `voiceclient authenticates as a device, opens the /ws stream, sends
24 kHz mono PCM16 audio followed by end_of_speech, and writes the reply audio
to a raw PCM file.

Without --input a synthetic tone is sent. The mock recognizer picks its
question by utterance length, so --seconds selects what gets asked.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "gateway base URL")
	flags.StringVar(&opts.serial, "serial", "VOICEGATE001", "device serial number")
	flags.StringVar(&opts.secret, "secret", "secret123", "device secret key")
	flags.StringVarP(&opts.input, "input", "i", "", "raw PCM16LE 24 kHz mono file to send")
	flags.IntVar(&opts.seconds, "seconds", 2, "length of the synthetic tone when no input is given")
	flags.StringVarP(&opts.output, "output", "o", "reply.pcm", "where to write the reply audio")
	flags.IntVar(&opts.frameMS, "frame-ms", 20, "audio frame duration in milliseconds")
	flags.DurationVar(&opts.timeout, "timeout", time.Minute, "give up waiting for the reply after this long")
	flags.BoolVar(&opts.autoplay, "play", false, "play the reply with a local audio player")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every message")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	base, err := url.Parse(opts.server)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}

	audio, err := loadInput(opts.input, opts.seconds)
	if err != nil {
		return err
	}

	auth, err := authenticate(ctx, base, opts.serial, opts.secret)
	if err != nil {
		return err
	}
	logger.Info("Authenticated device", zap.String("device_id", auth.DeviceID), zap.Time("expires_at", auth.ExpiresAt))

	conn, err := dial(ctx, base, auth.Token)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	rec := &recorder{logger: logger}
	readErr := make(chan error, 1)
	go func() { readErr <- rec.read(conn) }()

	if err := stream(conn, audio, opts.frameMS, logger); err != nil {
		return err
	}

	select {
	case err := <-readErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return ctx.Err()
	}

	if err := os.WriteFile(opts.output, rec.audio.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	fmt.Printf("Reply from %s: %q\n", rec.agent, rec.reply)
	fmt.Printf("Audio saved to %s (%d bytes in %d frames)\n", opts.output, rec.audio.Len(), rec.frames)

	rate := rec.output.SampleRate
	if rate == 0 {
		rate = entities.DefaultWireFormat.SampleRate
	}
	if opts.autoplay {
		if err := playAudioFile(opts.output, rate, logger); err != nil {
			logger.Warn("Failed to play audio automatically", zap.Error(err))
			printPlaybackInstructions(opts.output, rate)
		}
	} else {
		printPlaybackInstructions(opts.output, rate)
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// loadInput reads the utterance to send, or synthesizes a tone of the given
// length.
func loadInput(path string, seconds int) ([]byte, error) {
	if path == "" {
		voice := tts.NewToneVoice(entities.DefaultWireFormat.SampleRate)
		runes := max(seconds, 1) * voice.SampleRate / voice.PerRune
		return voice.ConvertTextToSpeech(context.Background(), strings.Repeat("a", runes))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data[:len(data)&^1], nil
}

func authenticate(ctx context.Context, base *url.URL, serial, secret string) (*api.DeviceAuthResponse, error) {
	body, err := json.Marshal(api.DeviceAuthRequest{SerialNumber: serial, SecretKey: secret})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.JoinPath("/api/v1/device/auth").String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("authentication failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out api.DeviceAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	return &out, nil
}

func dial(ctx context.Context, base *url.URL, token string) (*websocket.Conn, error) {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return conn, nil
}

// stream sends start, the audio paced in real time, then end_of_speech.
func stream(conn *websocket.Conn, audio []byte, frameMS int, logger *zap.Logger) error {
	format := entities.DefaultWireFormat
	start := ws.ControlMessage{
		Type:       ws.MessageTypeStart,
		Encoding:   string(format.Encoding),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}
	if err := conn.WriteJSON(start); err != nil {
		return fmt.Errorf("send start: %w", err)
	}

	frameSize := format.SampleRate * 2 * frameMS / 1000
	if frameSize <= 0 {
		return errors.New("frame-ms must be positive")
	}
	ticker := time.NewTicker(time.Duration(frameMS) * time.Millisecond)
	defer ticker.Stop()

	var seq uint32
	for offset := 0; offset < len(audio); offset += frameSize {
		end := min(offset+frameSize, len(audio))
		if err := conn.WriteMessage(websocket.BinaryMessage, ws.EncodeAudioFrame(seq, audio[offset:end])); err != nil {
			return fmt.Errorf("send frame %d: %w", seq, err)
		}
		seq++
		<-ticker.C
	}
	logger.Info("Finished sending audio", zap.Uint32("frames", seq), zap.Int("bytes", len(audio)))

	if err := conn.WriteJSON(ws.ControlMessage{Type: ws.MessageTypeEndOfSpeech}); err != nil {
		return fmt.Errorf("send end_of_speech: %w", err)
	}
	return nil
}

// recorder collects the reply until processing_complete arrives.
type recorder struct {
	logger *zap.Logger

	output entities.Format
	agent  string
	reply  string
	audio  bytes.Buffer
	frames int
}

func (r *recorder) read(conn *websocket.Conn) error {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if messageType == websocket.BinaryMessage {
			seq, samples, err := ws.DecodeAudioFrame(message)
			if err != nil {
				return err
			}
			r.frames++
			r.audio.Write(samples)
			r.logger.Debug("Received audio frame", zap.Uint32("seq", seq), zap.Int("bytes", len(samples)))
			continue
		}

		r.logger.Debug("Received text message", zap.ByteString("message", message))
		var head struct {
			Type   string          `json:"type"`
			Output entities.Format `json:"output_format"`
		}
		if err := json.Unmarshal(message, &head); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}

		switch head.Type {
		case string(ws.MessageTypeSessionReady):
			r.output = head.Output
			r.logger.Info("Session ready", zap.Any("output_format", head.Output))
			continue
		case string(ws.MessageTypeResponseChunk), string(ws.MessageTypePong):
			continue
		}

		var ev session.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		switch ev.Type {
		case session.EventTranscription:
			if ev.Final {
				r.logger.Info("Transcript", zap.String("text", ev.Text), zap.Float64("confidence", ev.Confidence))
			}
		case session.EventAgentResponse:
			r.agent = ev.Agent
			r.reply = ev.Text
		case session.EventNotice:
			r.logger.Info("Notice", zap.String("text", ev.Text))
		case session.EventError:
			r.logger.Warn("Server error", zap.String("code", ev.Code), zap.String("text", ev.Text))
		case session.EventProcessingComplete:
			return nil
		}
	}
}
