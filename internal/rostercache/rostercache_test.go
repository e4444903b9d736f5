package rostercache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tallyhq/gitlab-tally/internal/identity"
)

func sampleRoster() identity.Roster {
	return identity.Roster{
		OfficialNames: []string{"Hong Gildong", "Kim Cheolsu"},
		TeamsByName: map[string]string{
			"Hong Gildong": "Platform",
			"Kim Cheolsu":  "Data",
		},
		FetchedAt: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx); err != nil || ok {
		t.Fatalf("Get on empty store = ok=%v err=%v, want miss", ok, err)
	}

	if err := store.Put(ctx, sampleRoster()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	roster, ok, err := store.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("Get = ok=%v err=%v, want hit", ok, err)
	}
	if len(roster.OfficialNames) != 2 || roster.TeamsByName["Hong Gildong"] != "Platform" {
		t.Fatalf("roster = %+v, want stored snapshot", roster)
	}

	// The cache hands out copies; mutating a result must not corrupt it.
	roster.TeamsByName["Hong Gildong"] = "Mutated"
	again, _, _ := store.Get(ctx)
	if again.TeamsByName["Hong Gildong"] != "Platform" {
		t.Fatal("cached roster was mutated through a Get result")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Hour)
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Put(context.Background(), sampleRoster()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	now = now.Add(59 * time.Minute)
	if _, ok, _ := store.Get(context.Background()); !ok {
		t.Fatal("Get before TTL = miss, want hit")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := store.Get(context.Background()); ok {
		t.Fatal("Get after TTL = hit, want miss")
	}
}

type fakeRedisCommander struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedisCommander() *fakeRedisCommander {
	return &fakeRedisCommander{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (c *fakeRedisCommander) Get(_ context.Context, key string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getErr != nil {
		return redis.NewStringResult("", c.getErr)
	}
	value, ok := c.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (c *fakeRedisCommander) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch typed := value.(type) {
	case []byte:
		c.values[key] = string(typed)
	case string:
		c.values[key] = typed
	default:
		return redis.NewStatusResult("", redis.Nil)
	}
	c.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	t.Parallel()

	fake := newFakeRedisCommander()
	store := newRedisStoreFromCommander(fake, nil, RedisStoreConfig{
		Namespace: "tally-test",
		TTL:       time.Hour,
	})
	ctx := context.Background()

	if _, ok, err := store.Get(ctx); err != nil || ok {
		t.Fatalf("Get on empty store = ok=%v err=%v, want miss", ok, err)
	}

	if err := store.Put(ctx, sampleRoster()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := fake.ttls["tally-test:roster"]; got != time.Hour {
		t.Fatalf("stored TTL = %s, want 1h", got)
	}

	roster, ok, err := store.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("Get = ok=%v err=%v, want hit", ok, err)
	}
	if roster.TeamsByName["Kim Cheolsu"] != "Data" {
		t.Fatalf("roster = %+v, want stored snapshot", roster)
	}
	if !roster.FetchedAt.Equal(sampleRoster().FetchedAt) {
		t.Fatalf("FetchedAt = %s, want preserved", roster.FetchedAt)
	}
}

func TestRedisStoreCorruptEntryIsMiss(t *testing.T) {
	t.Parallel()

	fake := newFakeRedisCommander()
	fake.values["gitlab-tally:roster"] = "{not json"
	store := newRedisStoreFromCommander(fake, nil, RedisStoreConfig{})

	_, ok, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("Get = hit, want corrupt entry treated as miss")
	}
}
