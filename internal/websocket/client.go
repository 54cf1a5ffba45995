package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/satriahrh/voicegate/domain"
	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
	"github.com/satriahrh/voicegate/internal/session"
)

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and its session
// coordinator. It implements session.Sink.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; done signals
	// shutdown instead.
	send chan WriteData
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	deviceID string
	session  *entities.Session
	coord    *session.Coordinator

	limiter   *rate.Limiter
	throttled bool // read pump only
	validator *MessageValidator

	// lastSeen is the unix nano time of the last inbound message.
	lastSeen atomic.Int64

	logger *zap.Logger
}

var _ session.Sink = (*Client)(nil)

// SendEvent implements session.Sink
func (c *Client) SendEvent(ctx context.Context, ev session.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.enqueue(ctx, WriteData{Type: websocket.TextMessage, Payload: payload})
}

// SendChunk implements session.Sink. Text goes out as a response_chunk
// message, audio as a binary frame tagged with the chunk seq.
func (c *Client) SendChunk(ctx context.Context, chunk entities.ResponseChunk) error {
	if chunk.Text != "" || !chunk.HasAudio() {
		payload, err := json.Marshal(ResponseChunkMessage{
			Type:     MessageTypeResponseChunk,
			Seq:      chunk.Seq,
			Text:     chunk.Text,
			HasAudio: chunk.HasAudio(),
		})
		if err != nil {
			return fmt.Errorf("marshal chunk: %w", err)
		}
		if err := c.enqueue(ctx, WriteData{Type: websocket.TextMessage, Payload: payload}); err != nil {
			return err
		}
	}
	if chunk.HasAudio() {
		return c.enqueue(ctx, WriteData{
			Type:    websocket.BinaryMessage,
			Payload: EncodeAudioFrame(uint32(chunk.Seq), chunk.Audio),
		})
	}
	return nil
}

func (c *Client) enqueue(ctx context.Context, data WriteData) error {
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return domain.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendJSON queues a reply from the read pump. It never waits: when the
// client is not draining its queue the message is dropped, so a slow reader
// cannot stall its own control messages.
func (c *Client) sendJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	case <-c.done:
	default:
		c.logger.Warn("Send queue full, dropping message")
	}
}

// Close ends the connection, closes the session and releases the device
// lease. It is safe to call more than once.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)

		c.coord.Close()
		c.hub.releaseLease(c.deviceID, c.session.ID, c.logger)
		c.hub.unregisterClient(c)
		c.logger.Info("Client closed", zap.String("reason", reason))
	})
}

func (c *Client) touch() {
	c.lastSeen.Store(c.hub.clock.Now().UnixNano())
}

// LastSeen returns the time of the last inbound message.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// readPump pumps messages from the websocket connection to the coordinator.
func (c *Client) readPump() {
	defer c.Close(websocket.CloseNormalClosure, "client disconnected")

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the send queue to the websocket connection.
func (c *Client) writePump() {
	ticker := c.hub.clock.Ticker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		// Unblocks senders waiting on a queue nobody drains any more.
		go c.Close(websocket.CloseAbnormalClosure, "write loop ended")
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if !c.refreshLease() {
				c.writeClose(websocket.ClosePolicyViolation, "session taken over")
				return
			}

		case <-c.coord.Done():
			select {
			case <-c.done:
				// Closed through Close, which already chose the code.
				c.writeClose(c.closeCode, c.closeReason)
			default:
				c.flush()
				c.writeClose(websocket.CloseInternalServerErr, "session closed")
			}
			return

		case <-c.done:
			c.writeClose(c.closeCode, c.closeReason)
			return
		}
	}
}

// flush writes whatever is queued, so a fatal error event reaches the client
// before the close frame.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeClose(code int, reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// refreshLease extends the device lease. It reports false only when another
// session owns the device now.
func (c *Client) refreshLease() bool {
	ctx, cancel := context.WithTimeout(context.Background(), leaseTimeout)
	defer cancel()
	err := c.hub.lease.Refresh(ctx, c.deviceID, c.session.ID, c.hub.cfg.LeaseTTL)
	switch {
	case err == nil:
		return true
	case errors.Is(err, repositories.ErrLeaseHeld):
		c.logger.Warn("Session lease lost", zap.Error(err))
		return false
	default:
		c.logger.Warn("Failed to refresh session lease", zap.Error(err))
		return true
	}
}

// processMessage handles a control message from the device
func (c *Client) processMessage(message []byte) {
	msg, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.reportError(err)
		return
	}

	switch msg.Type {
	case MessageTypeStart:
		err = c.coord.Start(msg.Format())
	case MessageTypeEndOfSpeech:
		err = c.coord.EndOfSpeech()
	case MessageTypeStop:
		err = c.coord.Stop()
	case MessageTypePing:
		c.sendJSON(PongMessage{Type: MessageTypePong, Data: msg.Data})
	}
	if err != nil {
		c.reportError(err)
	}
}

// processBinaryAudioChunk handles one sequenced audio frame
func (c *Client) processBinaryAudioChunk(data []byte) {
	if !c.limiter.Allow() {
		c.hub.metrics.FrameDropped("rate_limited")
		// One error per burst of dropped frames.
		if !c.throttled {
			c.throttled = true
			c.reportError(fmt.Errorf("%w: audio rate limit exceeded", domain.ErrMalformedInput))
		}
		return
	}
	c.throttled = false

	seq, samples, err := DecodeAudioFrame(data)
	if err != nil {
		c.hub.metrics.FrameDropped("malformed")
		c.reportError(err)
		return
	}

	err = c.coord.PushAudio(entities.AudioFrame{
		Seq:       seq,
		Timestamp: c.hub.clock.Now(),
		Format:    c.coord.Format(),
		Data:      samples,
	})
	if err != nil {
		c.reportError(err)
	}
}

// reportError tells the client about a protocol error. The session stays
// usable.
func (c *Client) reportError(err error) {
	if errors.Is(err, domain.ErrTransportClosed) {
		return
	}
	c.logger.Debug("Protocol error", zap.Error(err))
	c.sendJSON(session.Event{
		Type:      session.EventError,
		SessionID: c.session.ID,
		Code:      session.CodeMalformedInput,
		Text:      err.Error(),
	})
}
