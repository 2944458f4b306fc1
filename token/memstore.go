package token

import (
	"context"
	"sync"

	"github.com/reduanahmadswe/parcel-delivery-client/internal/errors"
)

// MemoryBackend is an in-process Backend for tests and for deployments that
// want no persistence. SimulateExternalSet and SimulateExternalDelete mutate
// the backend as another process would, emitting watch events. Event delivery
// is non-blocking: a watcher that stopped consuming drops events rather than
// wedging the writer.
type MemoryBackend struct {
	mu       sync.Mutex
	values   map[Key]string
	watchers []*memWatcher

	failReads  bool
	failWrites bool
}

// memWatcher guards its channel with a closed flag so a late send can never
// land on a closed channel.
type memWatcher struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (w *memWatcher) send(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- ev:
	default:
	}
}

func (w *memWatcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	close(w.ch)
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Watcher = (*MemoryBackend)(nil)
)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: map[Key]string{}}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Get(_ context.Context, key Key) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return "", errors.Wrapf(errors.ErrStorage, "memory backend read failure")
	}
	value, ok := m.values[key]
	if !ok {
		return "", errors.ErrNotFound
	}
	return value, nil
}

func (m *MemoryBackend) Set(_ context.Context, key Key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.Wrapf(errors.ErrStorage, "memory backend write failure")
	}
	m.values[key] = value
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.Wrapf(errors.ErrStorage, "memory backend write failure")
	}
	delete(m.values, key)
	return nil
}

func (m *MemoryBackend) Watch(ctx context.Context) (<-chan Event, error) {
	watcher := &memWatcher{ch: make(chan Event, 8)}
	m.mu.Lock()
	m.watchers = append(m.watchers, watcher)
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, w := range m.watchers {
			if w == watcher {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		watcher.close()
	}()
	return watcher.ch, nil
}

// SimulateExternalSet writes key as another process would, notifying watchers.
func (m *MemoryBackend) SimulateExternalSet(key Key, value string) {
	m.mu.Lock()
	m.values[key] = value
	watchers := append([]*memWatcher(nil), m.watchers...)
	m.mu.Unlock()
	for _, w := range watchers {
		w.send(Event{Key: key, Kind: EventSet})
	}
}

// SimulateExternalDelete removes key as another process would, notifying
// watchers.
func (m *MemoryBackend) SimulateExternalDelete(key Key) {
	m.mu.Lock()
	delete(m.values, key)
	watchers := append([]*memWatcher(nil), m.watchers...)
	m.mu.Unlock()
	for _, w := range watchers {
		w.send(Event{Key: key, Kind: EventDeleted})
	}
}

// FailReads makes every Get return a storage error, for degraded-backend
// tests.
func (m *MemoryBackend) FailReads(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads = fail
}

// FailWrites makes every Set and Delete return a storage error.
func (m *MemoryBackend) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = fail
}

// Snapshot returns a copy of the stored values, for test assertions.
func (m *MemoryBackend) Snapshot() map[Key]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Key]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
