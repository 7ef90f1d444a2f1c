// Package kv provides the key-value storage used to persist pending
// authentication requests and tokens, along with change notifications that
// let independent engines sharing a store signal each other.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get when the key does not exist or has
// expired.
var ErrNotFound = errors.New("key not found")

// Store is a persisted key-value store.
type Store interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. An expiry greater than zero makes the entry
	// disappear once it elapses; zero means the entry never expires.
	Set(ctx context.Context, key, value string, expiry time.Duration) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Change describes a mutation of a single key.  NewValue is empty when the
// key was removed.
type Change struct {
	Key      string
	OldValue string
	NewValue string
}

// Watcher publishes changes made to a store.
type Watcher interface {
	// Watch returns a channel receiving every change to key and a func that
	// cancels the subscription and closes the channel.
	Watch(key string) (<-chan Change, func())
}
