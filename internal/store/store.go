// Package store provides the persistent key-value store backing the license
// subsystem. It mirrors the option-storage semantics the theme installs rely
// on: string keys, string values, no built-in expiry (expiry is modeled
// explicitly by the callers via stored timestamps).
package store

import "context"

// Store is a generic persistent key-value store.
//
// Get returns the stored value and true, or ("", false) when the key is
// absent. Absence is not an error; the error return is reserved for backend
// failures (I/O, connection loss).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
