package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type memoryEntry struct {
	value   string
	members map[string]struct{}
}

// MemoryStore implements Store on top of ttlcache. A mutex serializes the
// read-modify-write operations so GetDel and CompareAndDelete stay atomic.
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, memoryEntry]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-process store and starts its cleanup loop.
func NewMemoryStore() *MemoryStore {
	c := ttlcache.New(
		ttlcache.WithTTL[string, memoryEntry](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[string, memoryEntry](),
	)

	go c.Start()

	return &MemoryStore{cache: c}
}

func ttlOrForever(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttlcache.NoTTL
	}
	return ttl
}

// remaining returns the time left on item, keeping "no expiry" as is.
func remaining(item *ttlcache.Item[string, memoryEntry]) time.Duration {
	if item.ExpiresAt().IsZero() {
		return ttlcache.NoTTL
	}
	left := time.Until(item.ExpiresAt())
	if left <= 0 {
		// About to expire; keep the smallest positive ttl rather than forever.
		return time.Millisecond
	}
	return left
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	item := s.cache.Get(key)
	if item == nil || item.Value().members != nil {
		return "", ErrNotFound
	}
	return item.Value().value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(key, memoryEntry{value: value}, ttlOrForever(ttl))
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.Get(key) != nil {
		return false, nil
	}
	s.cache.Set(key, memoryEntry{value: value}, ttlOrForever(ttl))
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

func (s *MemoryStore) GetDel(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(key)
	if item == nil || item.Value().members != nil {
		return "", ErrNotFound
	}
	s.cache.Delete(key)
	return item.Value().value, nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(key)
	if item == nil || item.Value().members != nil || item.Value().value != expected {
		return false, nil
	}
	s.cache.Delete(key)
	return true, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(key)
	if item == nil {
		s.cache.Set(key, memoryEntry{value: "1"}, ttlOrForever(ttl))
		return 1, nil
	}

	n, err := strconv.ParseInt(item.Value().value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	s.cache.Set(key, memoryEntry{value: strconv.FormatInt(n, 10)}, remaining(item))
	return n, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	return s.cache.Get(key) != nil, nil
}

func (s *MemoryStore) AddToSet(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := map[string]struct{}{}
	if item := s.cache.Get(key); item != nil {
		for m := range item.Value().members {
			members[m] = struct{}{}
		}
	}
	members[member] = struct{}{}
	s.cache.Set(key, memoryEntry{members: members}, ttlOrForever(ttl))
	return nil
}

func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(key)
	if item == nil {
		return nil, nil
	}
	out := make([]string, 0, len(item.Value().members))
	for m := range item.Value().members {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) RemoveFromSet(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(key)
	if item == nil {
		return nil
	}
	left := map[string]struct{}{}
	for m := range item.Value().members {
		left[m] = struct{}{}
	}
	for _, m := range members {
		delete(left, m)
	}
	if len(left) == 0 {
		s.cache.Delete(key)
		return nil
	}
	s.cache.Set(key, memoryEntry{members: left}, remaining(item))
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}
