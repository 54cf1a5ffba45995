package mongo

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
)

const devicesCollection = "devices"

type DeviceRepository struct {
	collection *mongo.Collection
}

// NewDeviceRepository creates a new MongoDB device repository
func NewDeviceRepository(db *mongo.Database) *DeviceRepository {
	return &DeviceRepository{
		collection: db.Collection(devicesCollection),
	}
}

// EnsureIndexes makes serial numbers unique.
func (r *DeviceRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "serial_number", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("serial_number_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create device indexes: %w", err)
	}
	return nil
}

// Create implements repositories.DeviceRepository
func (r *DeviceRepository) Create(ctx context.Context, device *entities.Device) error {
	if device == nil {
		return errors.New("device cannot be nil")
	}
	if err := device.Validate(); err != nil {
		return err
	}

	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, device); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("device with serial number %s already exists", device.SerialNumber)
		}
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// GetByID implements repositories.DeviceRepository
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*entities.Device, error) {
	if id == "" {
		return nil, errors.New("device ID cannot be empty")
	}
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetBySerialNumber implements repositories.DeviceRepository
func (r *DeviceRepository) GetBySerialNumber(ctx context.Context, serialNumber string) (*entities.Device, error) {
	if serialNumber == "" {
		return nil, errors.New("serial number cannot be empty")
	}
	return r.findOne(ctx, bson.M{"serial_number": serialNumber})
}

// Delete implements repositories.DeviceRepository
func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if result.DeletedCount == 0 {
		return repositories.ErrDeviceNotFound
	}
	return nil
}

// ValidateDevice implements repositories.DeviceRepository
func (r *DeviceRepository) ValidateDevice(ctx context.Context, serialNumber, secret string) (*entities.Device, error) {
	device, err := r.GetBySerialNumber(ctx, serialNumber)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(device.SecretKey), []byte(secret)) != 1 {
		return nil, repositories.ErrInvalidCredentials
	}
	return device, nil
}

func (r *DeviceRepository) findOne(ctx context.Context, filter bson.M) (*entities.Device, error) {
	var device entities.Device
	err := r.collection.FindOne(ctx, filter).Decode(&device)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}
	return &device, nil
}
