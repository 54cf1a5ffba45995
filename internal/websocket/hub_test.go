package websocket

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicegate/adapters"
	"github.com/satriahrh/voicegate/adapters/llm"
	"github.com/satriahrh/voicegate/adapters/stt"
	"github.com/satriahrh/voicegate/adapters/tts"
	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
	"github.com/satriahrh/voicegate/internal/audio"
	"github.com/satriahrh/voicegate/internal/response"
	"github.com/satriahrh/voicegate/internal/router"
	"github.com/satriahrh/voicegate/internal/session"
	"github.com/satriahrh/voicegate/internal/transcription"
	"github.com/satriahrh/voicegate/usecase"
)

type testServer struct {
	hub   *Hub
	lease *adapters.MemoryLease
	url   string
}

func setupTestHub(t *testing.T, cfg HubConfig, opts ...HubOption) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	catalog := usecase.NewAgentCatalog(llm.NewMockLanguageModel(), tts.NewToneVoice(24000), logger)
	rt, err := router.NewRouter(router.NewKeywordClassifier(router.DefaultKeywords), catalog.Responders(), router.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	pipeline := session.Pipeline{
		Stage:    transcription.NewStage(stt.NewMockTranscriber(logger), transcription.DefaultConfig(), logger),
		Router:   rt,
		Streamer: response.NewStreamer(response.DefaultConfig(), logger),
	}

	lease := adapters.NewMemoryLease()
	hub := NewHub(pipeline, cfg, lease, logger, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		err := HandleWebSocketWithAuth(hub, c, c.QueryParam("device"))
		if errors.Is(err, repositories.ErrLeaseHeld) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "session_active"})
		}
		return err
	})
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		hub.Shutdown(shutdownCtx)
		cancel()
		server.Close()
	})

	return &testServer{
		hub:   hub,
		lease: lease,
		url:   "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
}

func testHubConfig() HubConfig {
	cfg := session.DefaultConfig()
	cfg.Audio = audio.Config{SilenceThreshold: audio.DefaultSilenceThreshold, SilenceFrames: 3}
	return HubConfig{
		Session:              cfg,
		OutputFormat:         response.DefaultConfig().OutputFormat(),
		AudioFramesPerSecond: 1000,
		AudioBurst:           1000,
		LeaseTTL:             time.Minute,
	}
}

func dial(t *testing.T, ts *testServer, device string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.url+"?device="+device, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ready := readUntil(t, conn, string(MessageTypeSessionReady))
	if ready["session_id"] == "" {
		t.Fatal("session_ready without session_id")
	}
	return conn
}

// readUntil reads text messages until one of type msgType arrives. Binary
// frames are skipped.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Waiting for %s: %v", msgType, err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Invalid JSON %q: %v", data, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
}

func loudFrame(seq uint32) []byte {
	samples := make([]byte, 480*2)
	for i := 0; i < 480; i++ {
		v := int16(8000)
		if i%2 == 1 {
			v = -8000
		}
		binary.LittleEndian.PutUint16(samples[i*2:], uint16(v))
	}
	return EncodeAudioFrame(seq, samples)
}

func TestHub_SessionTurn(t *testing.T) {
	ts := setupTestHub(t, testHubConfig())
	conn := dial(t, ts, "device-1")

	sendJSON(t, conn, ControlMessage{Type: MessageTypeStart, Encoding: "pcm_s16le", SampleRate: 24000, Channels: 1})
	state := readUntil(t, conn, session.EventState)
	if state["state"] != string(entities.StateListening) {
		t.Fatalf("Expected listening, got %v", state["state"])
	}

	for seq := uint32(0); seq < 10; seq++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, loudFrame(seq)); err != nil {
			t.Fatalf("Write audio failed: %v", err)
		}
	}
	sendJSON(t, conn, ControlMessage{Type: MessageTypeEndOfSpeech})

	readUntil(t, conn, session.EventProcessingSpeech)
	tr := readUntil(t, conn, session.EventTranscription)
	if tr["text"] != "Hello" {
		t.Errorf("Expected transcript 'Hello', got %v", tr["text"])
	}

	// Collect the reply until the turn completes.
	var (
		text      strings.Builder
		audioSeen bool
		reply     string
	)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Reading reply: %v", err)
		}
		if mt == websocket.BinaryMessage {
			if len(data) <= seqHeaderSize {
				t.Errorf("Audio frame without samples")
			}
			audioSeen = true
			continue
		}
		var msg map[string]any
		json.Unmarshal(data, &msg)
		switch msg["type"] {
		case string(MessageTypeResponseChunk):
			text.WriteString(msg["text"].(string))
		case session.EventAgentResponse:
			reply = msg["text"].(string)
		}
		if msg["type"] == session.EventProcessingComplete {
			break
		}
	}

	if !audioSeen {
		t.Error("Expected at least one audio frame")
	}
	if reply == "" || text.String() != reply {
		t.Errorf("Chunk text %q does not match reply %q", text.String(), reply)
	}
}

func TestHub_SecondConnectionRefused(t *testing.T) {
	ts := setupTestHub(t, testHubConfig())
	dial(t, ts, "device-1")

	_, resp, err := websocket.DefaultDialer.Dial(ts.url+"?device=device-1", nil)
	if err == nil {
		t.Fatal("Expected second connection to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("Expected 409, got %v", resp)
	}

	// Other devices are unaffected.
	dial(t, ts, "device-2")
	if ts.hub.Count() != 2 {
		t.Errorf("Expected 2 clients, got %d", ts.hub.Count())
	}
}

func TestHub_ProtocolErrors(t *testing.T) {
	ts := setupTestHub(t, testHubConfig())
	conn := dial(t, ts, "device-1")

	conn.WriteMessage(websocket.BinaryMessage, loudFrame(0))
	ev := readUntil(t, conn, session.EventError)
	if ev["code"] != session.CodeMalformedInput {
		t.Errorf("Expected malformed_input, got %v", ev["code"])
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"listening_start"}`))
	ev = readUntil(t, conn, session.EventError)
	if !strings.Contains(ev["text"].(string), "unsupported message type") {
		t.Errorf("Unexpected error text %v", ev["text"])
	}

	sendJSON(t, conn, ControlMessage{Type: MessageTypePing, Data: "hi"})
	pong := readUntil(t, conn, string(MessageTypePong))
	if pong["data"] != "hi" {
		t.Errorf("Expected pong data 'hi', got %v", pong["data"])
	}

	// The session is still usable.
	sendJSON(t, conn, ControlMessage{Type: MessageTypeStart})
	state := readUntil(t, conn, session.EventState)
	if state["state"] != string(entities.StateListening) {
		t.Errorf("Expected listening, got %v", state["state"])
	}
}

func TestHub_RateLimit(t *testing.T) {
	cfg := testHubConfig()
	cfg.AudioFramesPerSecond = 0.001
	cfg.AudioBurst = 2
	ts := setupTestHub(t, cfg)
	conn := dial(t, ts, "device-1")

	sendJSON(t, conn, ControlMessage{Type: MessageTypeStart})
	readUntil(t, conn, session.EventState)

	for seq := uint32(0); seq < 5; seq++ {
		conn.WriteMessage(websocket.BinaryMessage, loudFrame(seq))
	}
	ev := readUntil(t, conn, session.EventError)
	if !strings.Contains(ev["text"].(string), "rate limit") {
		t.Errorf("Expected rate limit error, got %v", ev["text"])
	}
}

func TestHub_IdleReaper(t *testing.T) {
	mock := clock.NewMock()
	cfg := testHubConfig()
	cfg.IdleTimeout = time.Minute
	ts := setupTestHub(t, cfg, WithClock(mock))
	conn := dial(t, ts, "device-1")

	mock.Add(2 * time.Minute)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("Expected close frame, got %v", err)
		}
		if closeErr.Text != "idle timeout" {
			t.Errorf("Unexpected close reason %q", closeErr.Text)
		}
		break
	}

	waitFor(t, func() bool { return ts.hub.Count() == 0 })
	// The lease was released with the session.
	if err := ts.lease.Acquire(context.Background(), "device-1", "other", time.Minute); err != nil {
		t.Errorf("Expected lease to be free, got %v", err)
	}
}

func TestHub_Shutdown(t *testing.T) {
	ts := setupTestHub(t, testHubConfig())
	conn := dial(t, ts, "device-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.hub.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Errorf("Expected going away close, got %v", err)
		}
		break
	}
	waitFor(t, func() bool { return ts.hub.Count() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
