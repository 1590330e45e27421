package campus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisContextStore persists campus contexts as JSON in Redis so contexts
// survive process restarts and are shared across instances.
type RedisContextStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisContextStore creates a Redis-backed context store. ttl bounds how
// long an idle context survives; zero means no expiry.
func NewRedisContextStore(client *redis.Client, ttl time.Duration) *RedisContextStore {
	return &RedisContextStore{client: client, ttl: ttl}
}

func contextKey(userID uuid.UUID) string {
	return "campus:context:" + userID.String()
}

// Save writes the context.
func (s *RedisContextStore) Save(ctx context.Context, c *Context) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	if err := s.client.Set(ctx, contextKey(c.UserID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}

// Load reads the context; returns nil, nil when absent.
func (s *RedisContextStore) Load(ctx context.Context, userID uuid.UUID) (*Context, error) {
	raw, err := s.client.Get(ctx, contextKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	var c Context
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return &c, nil
}

// Delete removes the context.
func (s *RedisContextStore) Delete(ctx context.Context, userID uuid.UUID) error {
	return s.client.Del(ctx, contextKey(userID)).Err()
}

// MemoryContextStore is an in-process ContextStore for tests and single-node
// deployments without Redis.
type MemoryContextStore struct {
	mu       sync.RWMutex
	contexts map[uuid.UUID]Context
}

// NewMemoryContextStore creates an empty in-memory store.
func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{contexts: make(map[uuid.UUID]Context)}
}

// Save stores a copy of the context.
func (s *MemoryContextStore) Save(_ context.Context, c *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[c.UserID] = *c
	return nil
}

// Load returns a copy of the stored context, or nil, nil when absent.
func (s *MemoryContextStore) Load(_ context.Context, userID uuid.UUID) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[userID]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

// Delete removes the stored context.
func (s *MemoryContextStore) Delete(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, userID)
	return nil
}
