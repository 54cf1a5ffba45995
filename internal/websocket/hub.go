package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
	"github.com/satriahrh/voicegate/internal/metrics"
	"github.com/satriahrh/voicegate/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	// Time allowed for lease calls.
	leaseTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// Devices are not browsers; the bearer token is the only credential.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 16 * 1024,
}

// HubConfig holds transport settings shared by every connection.
type HubConfig struct {
	Session session.Config
	// OutputFormat is announced to clients in session_ready.
	OutputFormat entities.Format
	// IdleTimeout closes connections without inbound traffic. Zero disables
	// the reaper.
	IdleTimeout          time.Duration
	AudioFramesPerSecond float64
	AudioBurst           int
	LeaseTTL             time.Duration
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

func WithMetrics(m *metrics.Collector) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithClock replaces the wall clock used for activity tracking, pings and
// the idle reaper.
func WithClock(c clock.Clock) HubOption {
	return func(h *Hub) { h.clock = c }
}

func WithTracerProvider(tp trace.TracerProvider) HubOption {
	return func(h *Hub) { h.tracerProvider = tp }
}

// Hub maintains the set of active clients. Each client owns one session.
type Hub struct {
	// Registered clients by session ID.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	stopped chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	pipeline       session.Pipeline
	cfg            HubConfig
	lease          repositories.SessionLease
	metrics        *metrics.Collector
	tracerProvider trace.TracerProvider
	clock          clock.Clock

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(pipeline session.Pipeline, cfg HubConfig, lease repositories.SessionLease, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		pipeline:   pipeline,
		cfg:        cfg,
		lease:      lease,
		clock:      clock.New(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	var reap <-chan time.Time
	if h.cfg.IdleTimeout > 0 {
		ticker := h.clock.Ticker(h.cfg.IdleTimeout / 2)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.session.ID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("deviceID", client.deviceID),
				zap.String("sessionID", client.session.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client.session.ID] == client {
				delete(h.clients, client.session.ID)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered",
				zap.String("deviceID", client.deviceID),
				zap.String("sessionID", client.session.ID))

		case <-reap:
			h.reapIdle()

		case <-ctx.Done():
			return
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for their sessions to finish.
// Call it before cancelling the context given to Run.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	h.logger.Info("Closing client connections", zap.Int("count", len(clients)))

	var g errgroup.Group
	for _, c := range clients {
		g.Go(func() error {
			c.Close(websocket.CloseGoingAway, "server shutting down")
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// HandleWebSocketWithAuth upgrades a request from an authenticated device
// and starts its session. It returns repositories.ErrLeaseHeld, before
// upgrading, when the device already has a live session.
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, deviceID string) error {
	sess := entities.NewSession(deviceID)
	logger := hub.logger.With(
		zap.String("deviceID", deviceID),
		zap.String("sessionID", sess.ID))

	ctx, cancel := context.WithTimeout(c.Request().Context(), leaseTimeout)
	err := hub.lease.Acquire(ctx, deviceID, sess.ID, hub.cfg.LeaseTTL)
	cancel()
	if err != nil {
		logger.Warn("Session lease not acquired", zap.Error(err))
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		hub.releaseLease(deviceID, sess.ID, logger)
		return err
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, 256),
		done:      make(chan struct{}),
		deviceID:  deviceID,
		session:   sess,
		limiter:   rate.NewLimiter(rate.Limit(hub.cfg.AudioFramesPerSecond), hub.cfg.AudioBurst),
		validator: NewMessageValidator(),
		logger:    logger,
	}
	client.touch()

	var opts []session.Option
	if hub.metrics != nil {
		opts = append(opts, session.WithMetrics(hub.metrics))
	}
	if hub.tracerProvider != nil {
		opts = append(opts, session.WithTracerProvider(hub.tracerProvider))
	}
	// The connection outlives the upgrade request, so the session gets its
	// own root context.
	client.coord = session.NewCoordinator(context.Background(), sess, hub.pipeline, client, hub.cfg.Session, hub.logger, opts...)

	if !hub.registerClient(client) {
		client.coord.Close()
		hub.releaseLease(deviceID, sess.ID, logger)
		conn.Close()
		return nil
	}

	client.sendJSON(SessionReadyMessage{
		Type:      MessageTypeSessionReady,
		SessionID: sess.ID,
		Output:    hub.cfg.OutputFormat,
	})

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

func (h *Hub) releaseLease(deviceID, sessionID string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), leaseTimeout)
	defer cancel()
	if err := h.lease.Release(ctx, deviceID, sessionID); err != nil {
		logger.Warn("Failed to release session lease", zap.Error(err))
	}
}
