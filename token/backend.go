package token

import "context"

// Key identifies an entry in a storage backend. The key names match what the
// auth service's web frontend uses, so a backend shared between clients stays
// interoperable.
type Key string

const (
	KeyAccessToken  Key = "accessToken"
	KeyRefreshToken Key = "refreshToken"
	KeyProfile      Key = "userProfile"
)

// Backend is the storage port for a single credential backend. Implementations
// must be safe for concurrent use. Get returns errors.ErrNotFound when the key
// has no value.
type Backend interface {
	// Name identifies the backend in logs ("file", "redis", "memory").
	Name() string
	Get(ctx context.Context, key Key) (string, error)
	Set(ctx context.Context, key Key, value string) error
	Delete(ctx context.Context, key Key) error
}

// EventKind classifies an external change to a watched key.
type EventKind string

const (
	EventSet     EventKind = "set"
	EventDeleted EventKind = "deleted"
)

// Event reports that another process (or another client sharing the backend)
// changed a key. Backends do not emit events for writes made through their own
// instance.
type Event struct {
	Key  Key
	Kind EventKind
}

// Watcher is the optional capability of a Backend to report external changes,
// the equivalent of the browser's storage-change events. Watch's channel is
// closed when ctx is cancelled.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Event, error)
}
