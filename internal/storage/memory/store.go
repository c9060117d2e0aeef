// Package memory provides the in-memory keyspace for redstore.
//
// It maps byte-string keys to byte-string values with optional expiry,
// using sharded locking so concurrent connections contend as little as
// possible. Expired keys are never visible to readers: they are removed
// lazily on access and proactively by a background sweeper.
package memory

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/yxlane/redstore-go/pkg/cmap"
)

// DefaultSweepInterval is how often the background sweeper runs.
const DefaultSweepInterval = 100 * time.Millisecond

// ErrNotInteger is returned by IncrBy when the stored value is not a
// base-10 64-bit integer.
var ErrNotInteger = errors.New("memory: value is not an integer or out of range")

// TTLState describes the expiry state of a key as seen by TTL.
type TTLState int

const (
	// TTLMissing means the key does not exist (or has expired).
	TTLMissing TTLState = iota
	// TTLPersistent means the key exists and has no expiry.
	TTLPersistent
	// TTLRemaining means the key exists with an expiry in the future.
	TTLRemaining
)

// Store is the in-memory keyspace. It is safe for concurrent use.
//
// All mutations are serialized per shard, so two concurrent writes to the
// same key are linearized and a read never observes a partial write.
type Store struct {
	entries *cmap.Map[Entry]

	sweepInterval time.Duration
	onEvict       func(n int)

	stopSweep chan struct{}
	sweepWG   sync.WaitGroup
	closeOnce sync.Once

	// now is replaceable in tests.
	now func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithShardCount sets the number of shards for the underlying map.
func WithShardCount(n int) Option {
	return func(s *Store) {
		s.entries = cmap.NewWithShards[Entry](n)
	}
}

// WithSweepInterval sets the background sweep interval.
// A non-positive interval disables the sweeper; expiry is then lazy only.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		s.sweepInterval = d
	}
}

// WithEvictionHook registers a callback invoked with the number of keys
// removed by each sweep. Used to feed metrics without the store depending
// on the telemetry packages.
func WithEvictionHook(fn func(n int)) Option {
	return func(s *Store) {
		s.onEvict = fn
	}
}

// New creates a Store and starts its background sweeper.
func New(opts ...Option) *Store {
	s := &Store{
		entries:       cmap.New[Entry](),
		sweepInterval: DefaultSweepInterval,
		stopSweep:     make(chan struct{}),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.sweepInterval > 0 {
		s.sweepWG.Add(1)
		go s.sweepLoop()
	}

	return s
}

// Close stops the background sweeper. The store remains usable afterwards
// with lazy expiry only.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopSweep)
	})
	s.sweepWG.Wait()
}

// Set stores a key-value pair without expiry, overwriting any existing
// entry and clearing any prior expiry.
func (s *Store) Set(key string, value []byte) {
	s.entries.Set(key, Entry{Value: cloneBytes(value)})
}

// SetWithTTL stores a key-value pair that expires ttl from now. The expiry
// instant is computed here, once; a zero or negative ttl produces an entry
// that is already expired and therefore never visible.
func (s *Store) SetWithTTL(key string, value []byte, ttl time.Duration) {
	s.entries.Set(key, Entry{
		Value:     cloneBytes(value),
		ExpireAt:  s.now().Add(ttl),
		HasExpire: true,
	})
}

// Get returns a copy of the value for key, or (nil, false) if the key is
// missing or expired. Reading an expired key deletes it as a side effect.
func (s *Store) Get(key string) ([]byte, bool) {
	e, ok := s.entries.Get(key)
	if !ok {
		return nil, false
	}
	if e.Expired(s.now()) {
		s.deleteIfExpired(key)
		return nil, false
	}
	return cloneBytes(e.Value), true
}

// Exists reports whether key is present and not expired.
func (s *Store) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Delete removes a key. Returns true if a live entry was removed.
func (s *Store) Delete(key string) bool {
	e, ok := s.entries.Pop(key)
	if !ok {
		return false
	}
	return !e.Expired(s.now())
}

// Expire sets the expiry of an existing key to ttl from now.
// Returns false if the key is missing or already expired.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	now := s.now()
	applied := false
	s.entries.Update(key, func(e Entry, exists bool) (Entry, bool) {
		if !exists {
			return e, false
		}
		if e.Expired(now) {
			return e, false
		}
		e.ExpireAt = now.Add(ttl)
		e.HasExpire = true
		applied = true
		return e, true
	})
	return applied
}

// Persist removes the expiry from a key. Returns true if an expiry was
// actually removed.
func (s *Store) Persist(key string) bool {
	now := s.now()
	removed := false
	s.entries.Update(key, func(e Entry, exists bool) (Entry, bool) {
		if !exists {
			return e, false
		}
		if e.Expired(now) {
			return e, false
		}
		if e.HasExpire {
			e.ExpireAt = time.Time{}
			e.HasExpire = false
			removed = true
		}
		return e, true
	})
	return removed
}

// TTL reports the remaining time to live of a key.
// The duration is only meaningful when the state is TTLRemaining.
func (s *Store) TTL(key string) (time.Duration, TTLState) {
	now := s.now()
	e, ok := s.entries.Get(key)
	if !ok {
		return 0, TTLMissing
	}
	if e.Expired(now) {
		s.deleteIfExpired(key)
		return 0, TTLMissing
	}
	if !e.HasExpire {
		return 0, TTLPersistent
	}
	return e.ExpireAt.Sub(now), TTLRemaining
}

// IncrBy atomically adds delta to the integer value stored at key,
// creating the key with value delta if it is missing or expired. The
// expiry of an existing live key is preserved, matching Redis semantics.
func (s *Store) IncrBy(key string, delta int64) (int64, error) {
	now := s.now()
	var result int64
	var incrErr error

	s.entries.Update(key, func(e Entry, exists bool) (Entry, bool) {
		if !exists || e.Expired(now) {
			result = delta
			return Entry{Value: []byte(strconv.FormatInt(delta, 10))}, true
		}
		n, err := strconv.ParseInt(string(e.Value), 10, 64)
		if err != nil {
			incrErr = ErrNotInteger
			return e, true
		}
		result = n + delta
		e.Value = []byte(strconv.FormatInt(result, 10))
		return e, true
	})

	if incrErr != nil {
		return 0, incrErr
	}
	return result, nil
}

// Keys returns all live keys. Expired entries are skipped but left for the
// sweeper to collect.
func (s *Store) Keys() []string {
	now := s.now()
	keys := make([]string, 0, s.entries.Count())
	s.entries.Range(func(key string, e Entry) bool {
		if !e.Expired(now) {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	now := s.now()
	count := 0
	s.entries.Range(func(_ string, e Entry) bool {
		if !e.Expired(now) {
			count++
		}
		return true
	})
	return count
}

// FlushAll removes every key.
func (s *Store) FlushAll() {
	s.entries.Clear()
}

// deleteIfExpired removes key only if it still holds an expired entry,
// so a concurrent overwrite is never clobbered.
func (s *Store) deleteIfExpired(key string) {
	now := s.now()
	s.entries.Update(key, func(e Entry, exists bool) (Entry, bool) {
		if !exists {
			return e, false
		}
		return e, !e.Expired(now)
	})
}

func (s *Store) sweepLoop() {
	defer s.sweepWG.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			if n := s.sweepExpired(); n > 0 && s.onEvict != nil {
				s.onEvict(n)
			}
		}
	}
}

// sweepExpired removes all entries whose expiry has passed and returns the
// number removed. Candidates are collected under read locks first; each
// delete then re-checks expiry so a concurrent SET is not lost.
func (s *Store) sweepExpired() int {
	now := s.now()

	var candidates []string
	s.entries.Range(func(key string, e Entry) bool {
		if e.Expired(now) {
			candidates = append(candidates, key)
		}
		return true
	})

	removed := 0
	for _, key := range candidates {
		s.entries.Update(key, func(e Entry, exists bool) (Entry, bool) {
			if exists && e.Expired(now) {
				removed++
				return e, false
			}
			return e, exists
		})
	}
	return removed
}
