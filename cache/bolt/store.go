package bolt

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pilab-dev/shadow-auth/cache"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const bucketName = "kv"

// storedItem is the gob-encoded value of every key. A zero ExpiresAtUnixNano
// means the key never expires.
type storedItem struct {
	Value             string
	Members           map[string]bool
	ExpiresAtUnixNano int64
}

func (it *storedItem) expired(now time.Time) bool {
	return it.ExpiresAtUnixNano != 0 && now.UnixNano() > it.ExpiresAtUnixNano
}

// Store implements cache.Store on an embedded bbolt file. bbolt allows one
// writer at a time, so every read-modify-write runs inside a single Update
// transaction and is atomic.
type Store struct {
	db              *bbolt.DB
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
}

var _ cache.Store = (*Store)(nil)

// NewStore opens (or creates) the database at dbPath and starts the expiry
// sweeper when cleanupInterval is positive.
func NewStore(dbPath string, cleanupInterval time.Duration) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
	}

	s := &Store{
		db:              db,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go s.runCleanupLoop()
	}

	return s, nil
}

func expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixNano()
}

func decode(raw []byte) (*storedItem, error) {
	var it storedItem
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&it); err != nil {
		return nil, err
	}
	return &it, nil
}

func encode(it *storedItem) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(it); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// load returns the live item for key or nil when absent or expired.
func load(b *bbolt.Bucket, key string) (*storedItem, error) {
	raw := b.Get([]byte(key))
	if raw == nil {
		return nil, nil
	}
	it, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key %s: %w", key, err)
	}
	if it.expired(time.Now()) {
		return nil, nil
	}
	return it, nil
}

func put(b *bbolt.Bucket, key string, it *storedItem) error {
	raw, err := encode(it)
	if err != nil {
		return fmt.Errorf("failed to encode key %s: %w", key, err)
	}
	return b.Put([]byte(key), raw)
}

func (s *Store) view(fn func(b *bbolt.Bucket) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket([]byte(bucketName)))
	})
}

func (s *Store) update(fn func(b *bbolt.Bucket) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket([]byte(bucketName)))
	})
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	var value string
	err := s.view(func(b *bbolt.Bucket) error {
		it, err := load(b, key)
		if err != nil {
			return err
		}
		if it == nil || it.Members != nil {
			return cache.ErrNotFound
		}
		value = it.Value
		return nil
	})
	return value, err
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	return s.update(func(b *bbolt.Bucket) error {
		return put(b, key, &storedItem{Value: value, ExpiresAtUnixNano: expiresAt(ttl)})
	})
}

func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	var stored bool
	err := s.update(func(b *bbolt.Bucket) error {
		it, err := load(b, key)
		if err != nil || it != nil {
			return err
		}
		stored = true
		return put(b, key, &storedItem{Value: value, ExpiresAtUnixNano: expiresAt(ttl)})
	})
	return stored, err
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	return s.update(func(b *bbolt.Bucket) error {
		for _, key := range keys {
			if err := b.Delete([]byte(key)); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *Store) GetDel(_ context.Context, key string) (string, error) {
	var value string
	err := s.update(func(b *bbolt.Bucket) error {
		it, err := load(b, key)
		if err != nil {
			return err
		}
		if it == nil || it.Members != nil {
			return cache.ErrNotFound
		}
		value = it.Value
		return b.Delete([]byte(key))
	})
	return value, err
}

func (s *Store) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	var deleted bool
	err := s.update(func(b *bbolt.Bucket) error {
		it, err := load(b, key)
		if err != nil {
			return err
		}
		if it == nil || it.Members != nil || it.Value != expected {
			return nil
		}
		deleted = true
		return b.Delete([]byte(key))
	})
	return deleted, err
}

func (s *Store) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := s.update(func(b *bbolt.Bucket) error {
		it, err := load(b, key)
		if err != nil {
			return err
		}
		if it == nil {
			n = 1
			return put(b, key, &storedItem{Value: "1", ExpiresAtUnixNano: expiresAt(ttl)})
		}
		n, err = strconv.ParseInt(it.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("key %s does not hold a counter: %w", key, err)
		}
		n++
		it.Value = strconv.FormatInt(n, 10)
		return put(b, key, it)
	})
	return n, err
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	var found bool
	err := s.view(func(b *bbolt.Bucket) error {
		it, err := load(b, key)
		found = it != nil
		return err
	})
	return found, err
}

func (s *Store) AddToSet(_ context.Context, key, member string, ttl time.Duration) error {
	return s.update(func(b *bbolt.Bucket) error {
		it, err := load(b, key)
		if err != nil {
			return err
		}
		if it == nil || it.Members == nil {
			it = &storedItem{Members: map[string]bool{}}
		}
		it.Members[member] = true
		it.ExpiresAtUnixNano = expiresAt(ttl)
		return put(b, key, it)
	})
}

func (s *Store) SetMembers(_ context.Context, key string) ([]string, error) {
	var members []string
	err := s.view(func(b *bbolt.Bucket) error {
		it, err := load(b, key)
		if err != nil || it == nil {
			return err
		}
		for m := range it.Members {
			members = append(members, m)
		}
		return nil
	})
	return members, err
}

func (s *Store) RemoveFromSet(_ context.Context, key string, members ...string) error {
	return s.update(func(b *bbolt.Bucket) error {
		it, err := load(b, key)
		if err != nil || it == nil {
			return err
		}
		for _, m := range members {
			delete(it.Members, m)
		}
		if len(it.Members) == 0 {
			return b.Delete([]byte(key))
		}
		return put(b, key, it)
	})
}

// runCleanupLoop periodically removes expired keys.
func (s *Store) runCleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.deleteExpired(); err != nil {
				log.Warn().Err(err).Msg("bolt: cleanup of expired keys failed")
			} else if n > 0 {
				log.Debug().Int("count", n).Msg("bolt: deleted expired keys")
			}
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) deleteExpired() (int, error) {
	var deleted int
	err := s.update(func(b *bbolt.Bucket) error {
		now := time.Now()
		var expiredKeys [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			it, err := decode(v)
			if err != nil {
				log.Warn().Err(err).Str("key", string(k)).Msg("bolt: skipping undecodable key")
				continue
			}
			if it.expired(now) {
				expiredKeys = append(expiredKeys, append([]byte(nil), k...))
			}
		}
		for _, k := range expiredKeys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(expiredKeys)
		return nil
	})
	return deleted, err
}

// Close stops the sweeper and closes the database.
func (s *Store) Close() error {
	close(s.stopCleanup)
	return s.db.Close()
}
