// Package devicestore keeps small per-device key/value state: the persisted
// session and the local entitlement mirrors. Writes are last-write-wins.
package devicestore

import "context"

// Store is a per-device key/value store.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, device, key string) (string, bool, error)
	Set(ctx context.Context, device, key, value string) error
	Delete(ctx context.Context, device string, keys ...string) error
	// Clear removes every key for the device.
	Clear(ctx context.Context, device string) error
}
