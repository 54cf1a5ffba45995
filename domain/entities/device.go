package entities

import (
	"errors"
	"time"
)

// Device is a client allowed to open voice sessions. Devices authenticate
// with their serial number and secret key and receive a short-lived token.
type Device struct {
	ID           string    `json:"id" bson:"_id"`
	SerialNumber string    `json:"serial_number" bson:"serial_number"`
	SecretKey    string    `json:"-" bson:"secret_key"`
	Model        string    `json:"model" bson:"model"`
	Language     string    `json:"language" bson:"language"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

func (d *Device) Validate() error {
	if d.SerialNumber == "" {
		return errors.New("serial number is required")
	}
	if d.SecretKey == "" {
		return errors.New("secret key is required")
	}
	if d.Model == "" {
		return errors.New("model is required")
	}
	return nil
}
