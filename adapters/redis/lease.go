// Package redis keeps the one-session-per-device lease in Redis so several
// gateway instances can share it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satriahrh/voicegate/domain/repositories"
)

// refreshScript extends the lease only when it is still owned by the caller,
// or takes it when it has expired.
var refreshScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner == false or owner == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseOption configures a SessionLease.
type LeaseOption func(*SessionLease)

// WithPrefix sets the key prefix. Default is "voicegate".
func WithPrefix(prefix string) LeaseOption {
	return func(l *SessionLease) { l.prefix = prefix }
}

// SessionLease implements repositories.SessionLease with one key per device
// holding the owning session id.
type SessionLease struct {
	client redis.UniversalClient
	prefix string
}

func NewSessionLease(client redis.UniversalClient, opts ...LeaseOption) *SessionLease {
	l := &SessionLease{client: client, prefix: "voicegate"}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SessionLease) Acquire(ctx context.Context, deviceID, sessionID string, ttl time.Duration) error {
	key := l.key(deviceID)
	ok, err := l.client.SetNX(ctx, key, sessionID, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		return nil
	}

	owner, err := l.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between the two calls.
		return l.Refresh(ctx, deviceID, sessionID, ttl)
	case err != nil:
		return fmt.Errorf("read lease: %w", err)
	case owner == sessionID:
		return l.Refresh(ctx, deviceID, sessionID, ttl)
	}
	return repositories.ErrLeaseHeld
}

func (l *SessionLease) Refresh(ctx context.Context, deviceID, sessionID string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key(deviceID)}, sessionID, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lease: %w", err)
	}
	if n == 0 {
		return repositories.ErrLeaseHeld
	}
	return nil
}

func (l *SessionLease) Release(ctx context.Context, deviceID, sessionID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(deviceID)}, sessionID).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (l *SessionLease) key(deviceID string) string {
	return l.prefix + ":lease:" + deviceID
}
