// Package session stores in-flight wizard drafts with an expiry. Drafts are
// opaque bytes to the store; the intake and concierge services own their
// encoding.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zekroTJA/timedmap"
)

var (
	// ErrNotFound is returned for a missing or expired key.
	ErrNotFound = errors.New("session: not found")
	// ErrConflict is returned by Swap when the stored value has changed.
	ErrConflict = errors.New("session: value changed")
)

// Store is a TTL key/value store for drafts.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Swap replaces the value at key only if it still equals old. It fails
	// with ErrNotFound when the key is gone and ErrConflict when it differs.
	Swap(ctx context.Context, key string, old, value []byte, ttl time.Duration) error
}

// MemoryStore keeps drafts in a timed map swept on a fixed interval.
type MemoryStore struct {
	mu sync.Mutex // serialises writes so Swap is atomic
	m  *timedmap.TimedMap
}

// NewMemoryStore creates a MemoryStore whose cleaner runs every sweep.
func NewMemoryStore(sweep time.Duration) *MemoryStore {
	if sweep <= 0 {
		sweep = time.Minute
	}
	return &MemoryStore{m: timedmap.New(sweep)}
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	s.mu.Lock()
	s.m.Set(key, buf, ttl)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.m.GetValue(key).([]byte)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	buf := make([]byte, len(v))
	copy(buf, v)
	return buf, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	s.m.Remove(key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Swap(_ context.Context, key string, old, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m.GetValue(key).([]byte)
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if !bytes.Equal(cur, old) {
		return fmt.Errorf("%s: %w", key, ErrConflict)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	s.m.Set(key, buf, ttl)
	return nil
}

// Close stops the background cleaner.
func (s *MemoryStore) Close() {
	s.m.StopCleaner()
}

// RedisStore keeps drafts in Redis so several server instances share them.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore. Keys are namespaced with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get %s: %w", key, err)
	}
	return b, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("session: redis del %s: %w", key, err)
	}
	return nil
}

// Swap uses WATCH so the compare and the SET run as one transaction.
func (s *RedisStore) Swap(ctx context.Context, key string, old, value []byte, ttl time.Duration) error {
	k := s.prefix + key
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("session: redis get %s: %w", key, err)
		}
		if !bytes.Equal(cur, old) {
			return fmt.Errorf("%s: %w", key, ErrConflict)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, value, ttl)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%s: %w", key, ErrConflict)
	}
	return err
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
