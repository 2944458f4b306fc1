// Package redisstore is the optional secondary token backend. It mirrors the
// credential pair into Redis with a TTL (the analogue of cookie expiry
// attributes) and broadcasts key changes over pub/sub so other processes
// sharing the deployment observe logins and logouts. The backend is expected
// to be unreliable: callers treat every failure as best-effort.
package redisstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/reduanahmadswe/parcel-delivery-client/internal/errors"
	"github.com/reduanahmadswe/parcel-delivery-client/token"
)

const defaultKeyPrefix = "parcel-client:"

type Store struct {
	client     *redis.Client
	keyPrefix  string
	ttl        time.Duration
	log        zerolog.Logger
	instanceID string // excludes our own pub/sub messages from Watch
}

var (
	_ token.Backend = (*Store)(nil)
	_ token.Watcher = (*Store)(nil)
)

// Option modifies a Store during construction.
type Option func(*Store)

// WithKeyPrefix overrides the key namespace, for deployments sharing one
// Redis between environments.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithTTL sets the expiry applied to every token key. Zero keeps entries
// forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// New creates a Redis-backed token store over an existing client.
func New(client *redis.Client, options ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("[redisstore.New] redis client is required")
	}
	store := &Store{
		client:     client,
		keyPrefix:  defaultKeyPrefix,
		log:        zerolog.Nop(),
		instanceID: uuid.NewString(),
	}
	for _, opt := range options {
		opt(store)
	}
	return store, nil
}

func (s *Store) Name() string { return "redis" }

func (s *Store) Get(ctx context.Context, key token.Key) (string, error) {
	value, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errors.ErrNotFound
		}
		return "", errors.Wrapf(errors.ErrStorage, "redis get %s: %v", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key token.Key, value string) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, s.ttl).Err(); err != nil {
		return errors.Wrapf(errors.ErrStorage, "redis set %s: %v", key, err)
	}
	s.publish(ctx, key, token.EventSet)
	return nil
}

func (s *Store) Delete(ctx context.Context, key token.Key) error {
	deleted, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "redis del %s: %v", key, err)
	}
	if deleted > 0 {
		s.publish(ctx, key, token.EventDeleted)
	}
	return nil
}

// Watch subscribes to the change channel and forwards events published by
// other store instances.
func (s *Store) Watch(ctx context.Context) (<-chan token.Event, error) {
	pubsub := s.client.Subscribe(ctx, s.channel())
	// Confirm the subscription before reporting the watcher as live.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrapf(errors.ErrStorage, "redis subscribe: %v", err)
	}
	events := make(chan token.Event, 8)
	go func() {
		defer close(events)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, fromSelf := s.decodeMessage(msg.Payload)
				if fromSelf {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// publish broadcasts "instanceID|kind|key". Failures are logged only: change
// notification rides on a backend that is already best-effort.
func (s *Store) publish(ctx context.Context, key token.Key, kind token.EventKind) {
	payload := s.instanceID + "|" + string(kind) + "|" + string(key)
	if err := s.client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", string(key)).Msg("change publish failed")
	}
}

func (s *Store) decodeMessage(payload string) (token.Event, bool) {
	parts := strings.SplitN(payload, "|", 3)
	if len(parts) != 3 {
		return token.Event{}, true
	}
	if parts[0] == s.instanceID {
		return token.Event{}, true
	}
	return token.Event{Key: token.Key(parts[2]), Kind: token.EventKind(parts[1])}, false
}

func (s *Store) redisKey(key token.Key) string {
	return s.keyPrefix + string(key)
}

func (s *Store) channel() string {
	return s.keyPrefix + "changes"
}
