// Package redis stores blackboard snapshots in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
)

const defaultPrefix = "sentient:blackboard:"

// Store implements blackboard.Store using Redis. Each scope is one JSON
// document holding the ordered entries; scopes are indexed in a sorted set
// scored by save time.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for snapshots.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for snapshots.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: defaultPrefix,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(scope string) string {
	return s.prefix + scope
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// SaveEntries replaces the snapshot for scope.
func (s *Store) SaveEntries(ctx context.Context, scope string, entries []blackboard.Entry) error {
	if entries == nil {
		entries = []blackboard.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(scope), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(time.Now().Unix()),
		Member: scope,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// LoadEntries returns the snapshot for scope, or blackboard.ErrNoSnapshot.
func (s *Store) LoadEntries(ctx context.Context, scope string) ([]blackboard.Entry, error) {
	val, err := s.client.Get(ctx, s.key(scope)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, blackboard.ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var entries []blackboard.Entry
	if err := json.Unmarshal(val, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entries: %w", err)
	}
	return entries, nil
}

// Delete removes the snapshot for scope.
func (s *Store) Delete(ctx context.Context, scope string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(scope))
	pipe.ZRem(ctx, s.indexKey(), scope)
	_, err := pipe.Exec(ctx)
	return err
}

// Scopes lists saved scopes, oldest save first. Index members whose
// snapshot has expired are pruned.
func (s *Store) Scopes(ctx context.Context) ([]string, error) {
	scopes, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}

	live := scopes[:0]
	for _, scope := range scopes {
		n, err := s.client.Exists(ctx, s.key(scope)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			s.client.ZRem(ctx, s.indexKey(), scope)
			continue
		}
		live = append(live, scope)
	}
	return live, nil
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
