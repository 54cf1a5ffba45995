package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/satriahrh/voicegate/domain/entities"
)

var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLeaseHeld          = errors.New("device already has an active session")
)

// DeviceRepository defines data access methods for devices
type DeviceRepository interface {
	Create(ctx context.Context, device *entities.Device) error
	GetByID(ctx context.Context, id string) (*entities.Device, error)
	GetBySerialNumber(ctx context.Context, serialNumber string) (*entities.Device, error)
	Delete(ctx context.Context, id string) error
	// ValidateDevice validates device credentials for authentication
	ValidateDevice(ctx context.Context, serialNumber, secret string) (*entities.Device, error)
}

// SessionLease keeps at most one live session per device across gateway
// instances. Only the device to session mapping is stored, never history.
type SessionLease interface {
	// Acquire returns ErrLeaseHeld when another session owns the device.
	Acquire(ctx context.Context, deviceID, sessionID string, ttl time.Duration) error
	// Refresh extends a lease owned by sessionID.
	Refresh(ctx context.Context, deviceID, sessionID string, ttl time.Duration) error
	// Release drops the lease if sessionID still owns it.
	Release(ctx context.Context, deviceID, sessionID string) error
}
