// Package filestore is the primary token backend: an origin of truth on the
// local disk, readable synchronously before any network round-trip. Entries
// live in a single JSON file under the user's config directory, optionally
// sealed with XChaCha20-Poly1305 so credentials are never stored in plaintext.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/reduanahmadswe/parcel-delivery-client/internal/errors"
	"github.com/reduanahmadswe/parcel-delivery-client/token"
)

// magic prefixes encrypted files so a plaintext file written by an older
// client is still readable.
var magic = []byte("PDC1")

const defaultWatchInterval = 2 * time.Second

type Store struct {
	path     string
	key      []byte // 32 bytes, nil for plaintext storage
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	baseline map[token.Key]string // last state written or observed by this process
}

var (
	_ token.Backend = (*Store)(nil)
	_ token.Watcher = (*Store)(nil)
)

// Option modifies a Store during construction.
type Option func(*Store)

// WithEncryptionKey seals the credentials file with the given hex-encoded
// 32-byte key. An empty string keeps plaintext storage.
func WithEncryptionKey(hexKey string) Option {
	return func(s *Store) {
		if hexKey == "" {
			return
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil || len(key) != chacha20poly1305.KeySize {
			s.log.Warn().Msg("invalid credentials encryption key, falling back to plaintext storage")
			return
		}
		s.key = key
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithWatchInterval sets the polling interval of the change watcher.
func WithWatchInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// New creates a file-backed token store at path. The parent directory is
// created on the first write.
func New(path string, options ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("[filestore.New] path is required")
	}
	store := &Store{
		path:     path,
		interval: defaultWatchInterval,
		log:      zerolog.Nop(),
		baseline: map[token.Key]string{},
	}
	for _, opt := range options {
		opt(store)
	}
	return store, nil
}

func (s *Store) Name() string { return "file" }

func (s *Store) Get(_ context.Context, key token.Key) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return "", err
	}
	value, ok := entries[key]
	if !ok {
		return "", errors.ErrNotFound
	}
	return value, nil
}

func (s *Store) Set(_ context.Context, key token.Key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[key] = value
	if err := s.save(entries); err != nil {
		return err
	}
	s.baseline = entries
	return nil
}

func (s *Store) Delete(_ context.Context, key token.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	if err := s.save(entries); err != nil {
		return err
	}
	s.baseline = entries
	return nil
}

// Watch polls the credentials file and reports keys changed by another
// process. Writes made through this Store instance update the comparison
// baseline and are not reported, mirroring how the browser only fires storage
// events in documents other than the writer.
func (s *Store) Watch(ctx context.Context) (<-chan token.Event, error) {
	s.mu.Lock()
	if entries, err := s.load(); err == nil {
		s.baseline = entries
	}
	s.mu.Unlock()

	events := make(chan token.Event, 8)
	go func() {
		defer close(events)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, ev := range s.poll() {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return events, nil
}

func (s *Store) poll() []token.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		s.log.Warn().Err(err).Msg("credentials file poll failed")
		return nil
	}
	var out []token.Event
	for key := range s.baseline {
		if _, ok := entries[key]; !ok {
			out = append(out, token.Event{Key: key, Kind: token.EventDeleted})
		}
	}
	for key, value := range entries {
		if previous, ok := s.baseline[key]; !ok || previous != value {
			out = append(out, token.Event{Key: key, Kind: token.EventSet})
		}
	}
	s.baseline = entries
	return out
}

// load reads and decodes the whole credentials file. A missing file is an
// empty store.
func (s *Store) load() (map[token.Key]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[token.Key]string{}, nil
		}
		return nil, errors.Wrapf(errors.ErrStorage, "read %s: %v", s.path, err)
	}
	if len(data) >= len(magic) && string(data[:len(magic)]) == string(magic) {
		if data, err = s.open(data[len(magic):]); err != nil {
			return nil, err
		}
	}
	entries := map[token.Key]string{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "decode %s: %v", s.path, err)
	}
	return entries, nil
}

// save writes the whole credentials file atomically (temp file + rename) with
// owner-only permissions.
func (s *Store) save(entries map[token.Key]string) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "encode credentials: %v", err)
	}
	if s.key != nil {
		if data, err = s.seal(data); err != nil {
			return err
		}
		data = append(append([]byte{}, magic...), data...)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrapf(errors.ErrStorage, "create %s: %v", filepath.Dir(s.path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "create temp file: %v", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStorage, "write %s: %v", tmpName, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStorage, "chmod %s: %v", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStorage, "close %s: %v", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStorage, "rename %s: %v", tmpName, err)
	}
	return nil
}

func (s *Store) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "init cipher: %v", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "generate nonce: %v", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	if s.key == nil {
		return nil, errors.Wrapf(errors.ErrStorage, "credentials file is encrypted but no key is configured")
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "init cipher: %v", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.Wrapf(errors.ErrStorage, "credentials file is truncated")
	}
	plaintext, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "decrypt credentials: %v", err)
	}
	return plaintext, nil
}

// GenerateKey returns a fresh hex-encoded key suitable for
// WithEncryptionKey, for first-run provisioning.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", errors.Wrapf(err, "generate key")
	}
	return hex.EncodeToString(key), nil
}
