package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateSize = 32

// StateStore は認可リクエストごとのstateを保持する。
// Consumeは同じstateに対して一度だけokを返す。
type StateStore interface {
	Save(ctx context.Context, state, provider string) error
	Consume(ctx context.Context, state string) (provider string, ok bool, err error)
}

// NewState はランダムなstateを生成する。
func NewState() (string, error) {
	b := make([]byte, stateSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type stateEntry struct {
	provider  string
	expiresAt time.Time
}

// MemoryStateStore はプロセス内のStateStore。
type MemoryStateStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	states map[string]stateEntry
}

// NewMemoryStateStore はMemoryStateStoreを生成する。
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{
		ttl:    ttl,
		now:    time.Now,
		states: make(map[string]stateEntry),
	}
}

// Save はstateを保存する。期限切れのstateはこのとき削除する。
func (s *MemoryStateStore) Save(_ context.Context, state, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeLocked(now)
	if _, ok := s.states[state]; ok {
		return fmt.Errorf("state already exists")
	}
	s.states[state] = stateEntry{provider: provider, expiresAt: now.Add(s.ttl)}
	return nil
}

// Consume はstateを取り出して削除する。
func (s *MemoryStateStore) Consume(_ context.Context, state string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[state]
	if !ok {
		return "", false, nil
	}
	delete(s.states, state)
	if !s.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.provider, true, nil
}

// PurgeExpired は期限切れのstateを削除し、削除件数を返す。
func (s *MemoryStateStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(s.now()), nil
}

func (s *MemoryStateStore) purgeLocked(now time.Time) int {
	n := 0
	for k, e := range s.states {
		if !now.Before(e.expiresAt) {
			delete(s.states, k)
			n++
		}
	}
	return n
}

const redisStatePrefix = "oauth_state:"

// RedisStateStore はRedisに保存するStateStore。複数インスタンスで共有できる。
type RedisStateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStateStore はRedisStateStoreを生成する。
func NewRedisStateStore(rdb *redis.Client, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, ttl: ttl}
}

// Save はstateをSETNXで保存する。
func (s *RedisStateStore) Save(ctx context.Context, state, provider string) error {
	ok, err := s.rdb.SetNX(ctx, redisStatePrefix+state, provider, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store state in redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("state already exists")
	}
	return nil
}

// Consume はstateをGETDELで取り出す。
func (s *RedisStateStore) Consume(ctx context.Context, state string) (string, bool, error) {
	provider, err := s.rdb.GetDel(ctx, redisStatePrefix+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to consume state from redis: %w", err)
	}
	return provider, true, nil
}

// compile-time interface check
var (
	_ StateStore = (*MemoryStateStore)(nil)
	_ StateStore = (*RedisStateStore)(nil)
)
