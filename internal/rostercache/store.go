// Package rostercache caches the sheet roster between runs so a flaky or
// slow webhook does not stall collection. Entries expire after a configured
// TTL; a stale or missing entry simply forces a fresh roster fetch.
package rostercache

import (
	"context"
	"sync"
	"time"

	"github.com/tallyhq/gitlab-tally/internal/identity"
)

// Store caches one roster snapshot.
type Store interface {
	// Get returns the cached roster. The second result is false when the
	// cache is empty or the entry has expired.
	Get(ctx context.Context) (identity.Roster, bool, error)
	// Put stores a roster snapshot, replacing any previous one.
	Put(ctx context.Context, roster identity.Roster) error
	// Close releases any backing resources.
	Close() error
}

// MemoryStore is the in-process roster cache used when no Redis address is
// configured.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	roster  identity.Roster
	stored  time.Time
	present bool
}

// NewMemoryStore creates a memory-backed roster cache. A non-positive TTL
// disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl: ttl,
		now: time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context) (identity.Roster, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.present {
		return identity.Roster{}, false, nil
	}
	if s.ttl > 0 && s.now().Sub(s.stored) > s.ttl {
		return identity.Roster{}, false, nil
	}
	return cloneRoster(s.roster), true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, roster identity.Roster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roster = cloneRoster(roster)
	s.stored = s.now()
	s.present = true
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneRoster(roster identity.Roster) identity.Roster {
	cloned := identity.Roster{
		FetchedAt: roster.FetchedAt,
	}
	if roster.OfficialNames != nil {
		cloned.OfficialNames = make([]string, len(roster.OfficialNames))
		copy(cloned.OfficialNames, roster.OfficialNames)
	}
	if roster.TeamsByName != nil {
		cloned.TeamsByName = make(map[string]string, len(roster.TeamsByName))
		for name, team := range roster.TeamsByName {
			cloned.TeamsByName[name] = team
		}
	}
	return cloned
}
