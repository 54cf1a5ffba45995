package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
)

func TestMemoryDeviceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDeviceRepository()

	device := &entities.Device{SerialNumber: "VG-001", SecretKey: "s3cret", Model: "desk-speaker"}
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if device.ID == "" {
		t.Fatal("Expected an ID to be assigned")
	}
	if err := repo.Create(ctx, &entities.Device{SerialNumber: "VG-001", SecretKey: "x", Model: "m"}); err == nil {
		t.Error("Expected duplicate serial number to fail")
	}

	got, err := repo.ValidateDevice(ctx, "VG-001", "s3cret")
	if err != nil {
		t.Fatalf("ValidateDevice failed: %v", err)
	}
	if got.ID != device.ID {
		t.Errorf("Expected device %s, got %s", device.ID, got.ID)
	}

	if _, err := repo.ValidateDevice(ctx, "VG-001", "wrong"); !errors.Is(err, repositories.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := repo.ValidateDevice(ctx, "VG-999", "s3cret"); !errors.Is(err, repositories.ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}

	// Copies must not leak internal state.
	got.Model = "changed"
	again, err := repo.GetByID(ctx, device.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if again.Model != "desk-speaker" {
		t.Error("Repository returned a shared pointer")
	}

	if err := repo.Delete(ctx, device.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.GetBySerialNumber(ctx, "VG-001"); !errors.Is(err, repositories.ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound after delete, got %v", err)
	}
}

func TestMemoryLease(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	l := NewMemoryLease()
	l.now = func() time.Time { return now }

	if err := l.Acquire(ctx, "dev-1", "sess-a", time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := l.Acquire(ctx, "dev-1", "sess-b", time.Minute); !errors.Is(err, repositories.ErrLeaseHeld) {
		t.Errorf("Expected ErrLeaseHeld, got %v", err)
	}
	if err := l.Acquire(ctx, "dev-2", "sess-b", time.Minute); err != nil {
		t.Errorf("Other devices are independent: %v", err)
	}

	// Releasing someone else's lease does nothing.
	if err := l.Release(ctx, "dev-1", "sess-b"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := l.Refresh(ctx, "dev-1", "sess-b", time.Minute); !errors.Is(err, repositories.ErrLeaseHeld) {
		t.Errorf("Expected ErrLeaseHeld on refresh, got %v", err)
	}

	// Expired leases can be taken over.
	now = now.Add(2 * time.Minute)
	if err := l.Acquire(ctx, "dev-1", "sess-b", time.Minute); err != nil {
		t.Errorf("Expected expired lease to be taken over: %v", err)
	}

	if err := l.Release(ctx, "dev-1", "sess-b"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := l.Acquire(ctx, "dev-1", "sess-c", time.Minute); err != nil {
		t.Errorf("Expected released lease to be free: %v", err)
	}
}
