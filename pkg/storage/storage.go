/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package storage defines the key-value storage contract consumed by the agent's
// key management and vault components.
package storage

import "errors"

var (
	// ErrStoreNotFound is returned when a store is not found.
	ErrStoreNotFound = errors.New("store not found")

	// ErrDataNotFound is returned when data is not found. Callers that treat a miss
	// as a soft condition are expected to check for this error with errors.Is.
	ErrDataNotFound = errors.New("data not found")
)

// Provider represents a storage provider capable of opening named stores.
type Provider interface {
	// OpenStore opens a store with the given namespace and returns it.
	OpenStore(name string) (Store, error)

	// Close closes all stores created under this provider.
	Close() error
}

// Store represents a key-value store.
type Store interface {
	// Put stores value under key. An empty key or nil value is rejected.
	Put(key string, value []byte) error

	// Get fetches the value stored under key. If no value is found, the returned
	// error wraps ErrDataNotFound.
	Get(key string) ([]byte, error)

	// Delete removes the value stored under key. Deleting a non-existent key is
	// not an error.
	Delete(key string) error

	// Clear removes all values from the store.
	Clear() error
}
