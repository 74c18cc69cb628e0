package keypool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"github.com/splax/pagesmith/internal/domain"
)

// MemoryStore keeps pool state in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	state *domain.KeyPoolState
	saves int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadPoolState returns the last saved state or nil.
func (s *MemoryStore) LoadPoolState(context.Context) (*domain.KeyPoolState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	cp := cloneState(*s.state)
	return &cp, nil
}

// SavePoolState replaces the stored state.
func (s *MemoryStore) SavePoolState(_ context.Context, state domain.KeyPoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneState(state)
	s.state = &cp
	s.saves++
	return nil
}

// Saves reports how many times state was written.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func cloneState(state domain.KeyPoolState) domain.KeyPoolState {
	out := state
	out.Credentials = append([]domain.CredentialUsage(nil), state.Credentials...)
	return out
}

// DefaultRedisKey is where RedisStore keeps the pool snapshot.
const DefaultRedisKey = "pagesmith:keypool:state"

// RedisStore keeps pool state as a JSON document under one Redis key so that
// several API replicas observe the same cooldowns.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore wraps a go-redis client.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// LoadPoolState reads the snapshot; a missing key yields nil state.
func (s *RedisStore) LoadPoolState(ctx context.Context) (*domain.KeyPoolState, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var state domain.KeyPoolState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode key pool state: %w", err)
	}
	return &state, nil
}

// SavePoolState overwrites the snapshot.
func (s *RedisStore) SavePoolState(ctx context.Context, state domain.KeyPoolState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode key pool state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Ping reports redis reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
