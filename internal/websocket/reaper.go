package websocket

import (
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/domain/entities"
)

// reapIdle closes connections that have been silent for IdleTimeout. A
// session in the middle of a turn is left alone; the turn timeout bounds it.
func (h *Hub) reapIdle() {
	now := h.clock.Now()

	h.mu.RLock()
	var idle []*Client
	for _, c := range h.clients {
		if now.Sub(c.LastSeen()) < h.cfg.IdleTimeout {
			continue
		}
		switch c.coord.State() {
		case entities.StateIdle, entities.StateListening:
			idle = append(idle, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range idle {
		h.logger.Info("Closing idle session",
			zap.String("deviceID", c.deviceID),
			zap.String("sessionID", c.session.ID),
			zap.Duration("idle", now.Sub(c.LastSeen())))
		// Close unregisters through Run, which is the caller.
		go c.Close(websocket.CloseNormalClosure, "idle timeout")
	}
}
