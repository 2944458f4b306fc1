// Package token implements client-side custody of the credential pair issued
// by the auth service. A Store fronts a primary backend (durable, always
// consulted first) and an optional secondary backend (best-effort mirror,
// allowed to be unreliable). Tokens are opaque strings: the store never
// decodes them and never inspects expiry.
package token

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/reduanahmadswe/parcel-delivery-client/internal/errors"
	"github.com/reduanahmadswe/parcel-delivery-client/metrics"
	"github.com/reduanahmadswe/parcel-delivery-client/profile"
)

// Store orchestrates the credential backends. All failure modes degrade
// toward "appears logged out": a backend error is logged and treated as an
// absent value, never raised into UI code.
type Store struct {
	primary   Backend
	secondary Backend // nil when the deployment runs without a mirror
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// StoreOption modifies a Store during construction.
type StoreOption func(*Store)

// WithSecondary adds a best-effort mirror backend. Writes to it never fail the
// operation; reads from it repair the primary.
func WithSecondary(backend Backend) StoreOption {
	return func(s *Store) {
		s.secondary = backend
	}
}

// WithLogger sets the logger used for swallowed backend failures.
func WithLogger(log zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = log
	}
}

// WithMetrics enables instrumentation of mirror repairs.
func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a Store over the given primary backend.
func NewStore(primary Backend, options ...StoreOption) (*Store, error) {
	if primary == nil {
		return nil, errors.New("[NewStore] primary backend is required")
	}
	store := &Store{
		primary: primary,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(store)
	}
	return store, nil
}

// SetTokens persists the credential pair. The access token is required; an
// empty refresh token leaves any stored refresh token untouched (the renewal
// endpoint does not always rotate it). The primary write is authoritative;
// the secondary write is mirrored best-effort.
func (s *Store) SetTokens(ctx context.Context, access, refresh string) error {
	if access == "" {
		return errors.New("[SetTokens] access token is required")
	}
	if err := s.primary.Set(ctx, KeyAccessToken, access); err != nil {
		return errors.Wrapf(errors.ErrStorage, "set access token on %s: %v", s.primary.Name(), err)
	}
	if refresh != "" {
		if err := s.primary.Set(ctx, KeyRefreshToken, refresh); err != nil {
			return errors.Wrapf(errors.ErrStorage, "set refresh token on %s: %v", s.primary.Name(), err)
		}
	}
	if s.secondary != nil {
		if err := s.secondary.Set(ctx, KeyAccessToken, access); err != nil {
			s.log.Warn().Err(err).Str("backend", s.secondary.Name()).Msg("secondary access token write failed")
		}
		if refresh != "" {
			if err := s.secondary.Set(ctx, KeyRefreshToken, refresh); err != nil {
				s.log.Warn().Err(err).Str("backend", s.secondary.Name()).Msg("secondary refresh token write failed")
			}
		}
	}
	return nil
}

// AccessToken returns the current access token. Returns errors.ErrNoToken
// when neither backend holds one.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	value, ok := s.read(ctx, KeyAccessToken)
	if !ok {
		return "", errors.ErrNoToken
	}
	return value, nil
}

// RefreshToken returns the current refresh token. Returns
// errors.ErrNoRefreshToken when neither backend holds one.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	value, ok := s.read(ctx, KeyRefreshToken)
	if !ok {
		return "", errors.ErrNoRefreshToken
	}
	return value, nil
}

// HasTokens reports whether an access token is present. Presence only: token
// structure and expiry are never inspected client-side.
func (s *Store) HasTokens(ctx context.Context) bool {
	_, ok := s.read(ctx, KeyAccessToken)
	return ok
}

// Clear deletes the credential pair and the cached profile from every
// backend. Each deletion is independently best-effort; Clear never fails.
func (s *Store) Clear(ctx context.Context) {
	for _, key := range []Key{KeyAccessToken, KeyRefreshToken, KeyProfile} {
		if err := s.primary.Delete(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("backend", s.primary.Name()).Str("key", string(key)).Msg("clear failed")
		}
		if s.secondary != nil {
			if err := s.secondary.Delete(ctx, key); err != nil {
				s.log.Warn().Err(err).Str("backend", s.secondary.Name()).Str("key", string(key)).Msg("clear failed")
			}
		}
	}
}

// SetProfile caches the display-only profile snapshot alongside the tokens.
// The profile lives in the primary backend only.
func (s *Store) SetProfile(ctx context.Context, p *profile.Profile) error {
	if p == nil {
		return errors.New("[SetProfile] profile is required")
	}
	encoded, err := p.Encode()
	if err != nil {
		return err
	}
	if err := s.primary.Set(ctx, KeyProfile, encoded); err != nil {
		return errors.Wrapf(errors.ErrStorage, "set profile on %s: %v", s.primary.Name(), err)
	}
	return nil
}

// Profile returns the cached profile snapshot, or nil when none is cached.
// A corrupt cache entry is treated as absent.
func (s *Store) Profile(ctx context.Context) *profile.Profile {
	encoded, err := s.primary.Get(ctx, KeyProfile)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			s.log.Warn().Err(err).Str("backend", s.primary.Name()).Msg("profile read failed")
		}
		return nil
	}
	p, err := profile.Decode(encoded)
	if err != nil {
		s.log.Warn().Err(err).Msg("cached profile is corrupt, discarding")
		return nil
	}
	return p
}

// Watch returns a stream of external changes to the access-token key, merged
// across every backend that supports watching. The channel is closed once ctx
// is cancelled and every backend forwarder has drained.
func (s *Store) Watch(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, 8)
	var forwarders sync.WaitGroup
	started := 0
	for _, backend := range []Backend{s.primary, s.secondary} {
		watcher, ok := backend.(Watcher)
		if !ok {
			continue
		}
		events, err := watcher.Watch(ctx)
		if err != nil {
			s.log.Warn().Err(err).Str("backend", backend.Name()).Msg("watch unavailable")
			continue
		}
		started++
		forwarders.Add(1)
		go func() {
			defer forwarders.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					if ev.Key != KeyAccessToken {
						continue
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	if started == 0 {
		s.log.Debug().Msg("no backend supports watching, cross-process sync disabled")
	}
	// Close only after the last forwarder has returned, so no send can land
	// on a closed channel.
	go func() {
		forwarders.Wait()
		close(out)
	}()
	return out, nil
}

// read implements the priority read with the self-healing mirror: primary
// first, then secondary, backfilling the primary on a secondary hit.
func (s *Store) read(ctx context.Context, key Key) (string, bool) {
	value, err := s.primary.Get(ctx, key)
	if err == nil {
		return value, true
	}
	if !errors.Is(err, errors.ErrNotFound) {
		s.log.Warn().Err(err).Str("backend", s.primary.Name()).Str("key", string(key)).Msg("primary read failed")
	}
	if s.secondary == nil {
		return "", false
	}
	value, err = s.secondary.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			s.log.Warn().Err(err).Str("backend", s.secondary.Name()).Str("key", string(key)).Msg("secondary read failed")
		}
		return "", false
	}
	s.repair(ctx, key, value)
	return value, true
}

// repair backfills the primary backend after a secondary hit. Kept as an
// explicit step so the heal path shows up in logs and metrics.
func (s *Store) repair(ctx context.Context, key Key, value string) {
	if err := s.primary.Set(ctx, key, value); err != nil {
		s.log.Warn().Err(err).Str("backend", s.primary.Name()).Str("key", string(key)).Msg("backfill failed")
		return
	}
	s.metrics.StoreBackfill()
	s.log.Debug().Str("key", string(key)).Msg("primary backend repaired from secondary")
}
