// Package results keeps generated code in memory just long enough for the
// download link on the result page to be followed.
package results

import (
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL is how long a generated result stays downloadable.
const DefaultTTL = 15 * time.Minute

// Entry is a downloadable result.
type Entry struct {
	ID        uuid.UUID
	Filename  string
	Content   string
	CreatedAt time.Time
}

// Store is a TTL cache of entries keyed by result id. Reads do not extend
// an entry's lifetime.
type Store struct {
	cache *ttlcache.Cache[uuid.UUID, Entry]
	ttl   time.Duration
}

// NewStore creates a store and starts its expiration loop.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := ttlcache.New[uuid.UUID, Entry](
		ttlcache.WithTTL[uuid.UUID, Entry](ttl),
		ttlcache.WithDisableTouchOnHit[uuid.UUID, Entry](),
	)
	go c.Start()
	return &Store{cache: c, ttl: ttl}
}

// TTL returns the lifetime of stored entries.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Put stores e under e.ID.
func (s *Store) Put(e Entry) {
	s.cache.Set(e.ID, e, ttlcache.DefaultTTL)
}

// Get returns the entry for id, or false if it is unknown or expired.
func (s *Store) Get(id uuid.UUID) (Entry, bool) {
	item := s.cache.Get(id)
	if item == nil || item.IsExpired() {
		return Entry{}, false
	}
	return item.Value(), true
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Close stops the expiration loop.
func (s *Store) Close() {
	s.cache.Stop()
}
