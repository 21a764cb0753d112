// Package device provides the local key-value stores that hold anonymous
// usage counters and the persistent device identifier.
package device

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// IDKey is the key under which the device identifier is persisted.
const IDKey = "device_id"

// Store is a durable string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// IncrementBelow atomically adds one to the integer counter at key while
	// it is below limit, treating an absent key as zero. It returns the
	// resulting count and whether the increment happened.
	IncrementBelow(ctx context.Context, key string, limit int) (int, bool, error)
}

// EnsureID returns the persisted device identifier, generating and storing a
// random UUID on first use.
func EnsureID(ctx context.Context, s Store) (string, error) {
	id, ok, err := s.Get(ctx, IDKey)
	if err != nil {
		return "", fmt.Errorf("reading device id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.Set(ctx, IDKey, id); err != nil {
		return "", fmt.Errorf("storing device id: %w", err)
	}
	return id, nil
}

// parseCounter decodes a stored counter value.
func parseCounter(key, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("corrupt counter %q at %s", raw, key)
	}
	return n, nil
}
