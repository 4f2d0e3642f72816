package cache

import (
	"context"
	"sync"
	"time"
)

type mapEntry[V any] struct {
	value    V
	expireAt time.Time
}

func (e mapEntry[V]) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MapStore 带读写锁的 map 存储，支持过期时间
type MapStore[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]mapEntry[V]
}

func NewMapStore[K comparable, V any]() *MapStore[K, V] {
	return &MapStore[K, V]{m: make(map[K]mapEntry[V])}
}

func (s *MapStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := applySetOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if options.IfNotExist {
		if e, ok := s.m[key]; ok && !e.expired(now) {
			return ErrConditionFailed
		}
	}

	entry := mapEntry[V]{value: value}
	if options.Expiration > 0 {
		entry.expireAt = now.Add(options.Expiration)
	}
	s.m[key] = entry
	return nil
}

func (s *MapStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()

	if !ok || e.expired(time.Now()) {
		var zero V
		return zero, ErrKeyNotFound
	}
	return e.value, nil
}

func (s *MapStore[K, V]) Del(ctx context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MapStore[K, V]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[K]mapEntry[V])
	return nil
}
