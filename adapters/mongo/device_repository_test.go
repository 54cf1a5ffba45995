package mongo

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
)

// TestDeviceRepository_Integration requires a running MongoDB instance
// (skipped if MONGODB_URI is not set)
func TestDeviceRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, mongoURI, "voicegate_test", zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		_ = client.Database.Drop(ctx)
		_ = client.Close(ctx)
	}()

	repo := NewDeviceRepository(client.Database)
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	device := &entities.Device{SerialNumber: "VG-100", SecretKey: "s3cret", Model: "desk-speaker", Language: "en-US"}
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	t.Run("DuplicateSerial", func(t *testing.T) {
		dup := &entities.Device{SerialNumber: "VG-100", SecretKey: "other", Model: "desk-speaker"}
		if err := repo.Create(ctx, dup); err == nil {
			t.Error("Expected duplicate serial number to fail")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		got, err := repo.ValidateDevice(ctx, "VG-100", "s3cret")
		if err != nil {
			t.Fatalf("ValidateDevice failed: %v", err)
		}
		if got.ID != device.ID || got.Language != "en-US" {
			t.Errorf("Unexpected device: %+v", got)
		}
		if _, err := repo.ValidateDevice(ctx, "VG-100", "nope"); !errors.Is(err, repositories.ErrInvalidCredentials) {
			t.Errorf("Expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, device.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.GetByID(ctx, device.ID); !errors.Is(err, repositories.ErrDeviceNotFound) {
			t.Errorf("Expected ErrDeviceNotFound, got %v", err)
		}
	})
}
