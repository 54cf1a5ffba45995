package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/satriahrh/voicegate/domain/repositories"
)

type lease struct {
	sessionID string
	expiresAt time.Time
}

// MemoryLease is a SessionLease for a single gateway instance.
type MemoryLease struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{leases: make(map[string]lease), now: time.Now}
}

func (m *MemoryLease) Acquire(ctx context.Context, deviceID, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[deviceID]; ok && l.sessionID != sessionID && now.Before(l.expiresAt) {
		return repositories.ErrLeaseHeld
	}
	m.leases[deviceID] = lease{sessionID: sessionID, expiresAt: now.Add(ttl)}
	return nil
}

func (m *MemoryLease) Refresh(ctx context.Context, deviceID, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[deviceID]
	if ok && l.sessionID != sessionID && m.now().Before(l.expiresAt) {
		return repositories.ErrLeaseHeld
	}
	m.leases[deviceID] = lease{sessionID: sessionID, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryLease) Release(ctx context.Context, deviceID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.leases[deviceID]; ok && l.sessionID == sessionID {
		delete(m.leases, deviceID)
	}
	return nil
}
