package complement

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pairwise/internal/db"
	"github.com/kailas-cloud/pairwise/internal/domain"
)

type memStore struct {
	data   map[string][]byte
	setErr error
	getErr error
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return data, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

type stubGenerator struct {
	cats  []string
	err   error
	calls int
}

func (s *stubGenerator) Complements(_ context.Context, _ domain.Product) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.cats, nil
}

var swimTrunks = domain.Product{ID: "p1", Name: "Swim Trunks", Category: "Swim"}

func openCache(t *testing.T, s store, gen Generator, cfg Config) *Cache {
	t.Helper()
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	return Open(context.Background(), s, gen, cfg, zap.NewNop())
}

func TestComplements_GeneratesAndCaches(t *testing.T) {
	gen := &stubGenerator{cats: []string{"suncare", "beach"}}
	c := openCache(t, newMemStore(), gen, Config{})

	got := c.Complements(context.Background(), swimTrunks, true)
	want := []string{"Swim", "suncare", "beach"} // own category prepended
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// Second call is a cache hit: the generator must not run again.
	got = c.Complements(context.Background(), swimTrunks, true)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("cached result %v, want %v", got, want)
	}
	if gen.calls != 1 {
		t.Errorf("generator ran %d times, want 1", gen.calls)
	}
}

func TestComplements_OwnCategoryNotDuplicated(t *testing.T) {
	gen := &stubGenerator{cats: []string{"Swim", "suncare"}}
	c := openCache(t, newMemStore(), gen, Config{})

	got := c.Complements(context.Background(), swimTrunks, true)
	if !reflect.DeepEqual(got, []string{"Swim", "suncare"}) {
		t.Fatalf("got %v", got)
	}
}

func TestComplements_CacheBypass(t *testing.T) {
	gen := &stubGenerator{cats: []string{"suncare"}}
	c := openCache(t, newMemStore(), gen, Config{})

	c.Complements(context.Background(), swimTrunks, true)
	c.Complements(context.Background(), swimTrunks, false)
	if gen.calls != 2 {
		t.Errorf("generator ran %d times with cache bypass, want 2", gen.calls)
	}
}

func TestComplements_GenerationFailureUsesFallback(t *testing.T) {
	gen := &stubGenerator{err: errors.New("timeout")}
	fallback := map[string][]string{"Swim": {"Swim", "Suncare"}}
	c := openCache(t, newMemStore(), gen, Config{Fallback: fallback})

	got := c.Complements(context.Background(), swimTrunks, true)
	if !reflect.DeepEqual(got, []string{"Swim", "Suncare"}) {
		t.Fatalf("got %v", got)
	}
}

func TestComplements_FallbackMissingOwnCategory(t *testing.T) {
	gen := &stubGenerator{err: errors.New("timeout")}
	fallback := map[string][]string{"Swim": {"Suncare", "Beach"}}
	c := openCache(t, newMemStore(), gen, Config{Fallback: fallback})

	got := c.Complements(context.Background(), swimTrunks, true)
	if !reflect.DeepEqual(got, []string{"Swim", "Suncare", "Beach"}) {
		t.Fatalf("own category must be guaranteed present, got %v", got)
	}
}

func TestComplements_NoFallbackEntryYieldsEmpty(t *testing.T) {
	gen := &stubGenerator{err: errors.New("timeout")}
	c := openCache(t, newMemStore(), gen, Config{})

	got := c.Complements(context.Background(), swimTrunks, true)
	if len(got) != 0 {
		t.Fatalf("expected empty prior (no filter), got %v", got)
	}
}

func TestComplements_PersistenceFailureSwallowed(t *testing.T) {
	s := newMemStore()
	s.setErr = errors.New("disk full")
	gen := &stubGenerator{cats: []string{"suncare"}}
	c := openCache(t, s, gen, Config{})

	got := c.Complements(context.Background(), swimTrunks, true)
	if len(got) == 0 {
		t.Fatal("persistence failure must not fail the request")
	}

	// The entry must still serve from memory.
	c.Complements(context.Background(), swimTrunks, true)
	if gen.calls != 1 {
		t.Errorf("generator ran %d times, want 1", gen.calls)
	}
}

func TestComplements_PersistedRoundTrip(t *testing.T) {
	s := newMemStore()
	gen := &stubGenerator{cats: []string{"suncare"}}
	c := openCache(t, s, gen, Config{})
	want := c.Complements(context.Background(), swimTrunks, true)

	// A fresh cache over the same store serves without regenerating.
	gen2 := &stubGenerator{cats: []string{"other"}}
	c2 := openCache(t, s, gen2, Config{})
	got := c2.Complements(context.Background(), swimTrunks, true)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip got %v, want %v", got, want)
	}
	if gen2.calls != 0 {
		t.Errorf("generator ran %d times on a warm cache, want 0", gen2.calls)
	}
}

func TestComplements_TTLExpiryIsAMiss(t *testing.T) {
	gen := &stubGenerator{cats: []string{"suncare"}}
	c := openCache(t, newMemStore(), gen, Config{TTL: time.Hour})
	c.Complements(context.Background(), swimTrunks, true)

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	c.Complements(context.Background(), swimTrunks, true)
	if gen.calls != 2 {
		t.Errorf("expired entry must be a miss, generator ran %d times", gen.calls)
	}
}

func TestStats(t *testing.T) {
	gen := &stubGenerator{cats: []string{"suncare"}}
	c := openCache(t, newMemStore(), gen, Config{TTL: time.Hour})
	c.Complements(context.Background(), swimTrunks, true)
	c.Complements(context.Background(), domain.Product{ID: "p2", Name: "Sunscreen", Category: "Suncare"}, true)

	s := c.Stats()
	if s.Total != 2 || s.Valid != 2 || s.Expired != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	s = c.Stats()
	if s.Valid != 0 || s.Expired != 2 {
		t.Fatalf("expected all expired, got %+v", s)
	}
}

func TestClear(t *testing.T) {
	s := newMemStore()
	gen := &stubGenerator{cats: []string{"suncare"}}
	c := openCache(t, s, gen, Config{})
	c.Complements(context.Background(), swimTrunks, true)

	c.Clear(context.Background())
	if got := c.Stats(); got.Total != 0 {
		t.Fatalf("cache not cleared: %+v", got)
	}
	if string(s.data[storageKey]) != "{}" {
		t.Errorf("persisted document not emptied: %s", s.data[storageKey])
	}
}

func TestKey_StableOnNameAndCategory(t *testing.T) {
	a := domain.Product{ID: "a", Name: "Swim Trunks", Category: "Swim"}
	b := domain.Product{ID: "b", Name: "Swim Trunks", Category: "Swim"}
	if Key(a) != Key(b) {
		t.Error("identical name+category must share a cache key")
	}
	c := domain.Product{ID: "c", Name: "Swim Trunks", Category: "Beach"}
	if Key(a) == Key(c) {
		t.Error("different categories must not collide")
	}
}
