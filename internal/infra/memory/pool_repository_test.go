package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"klasskamp-service/internal/domain"
)

type countingLoader struct {
	mu    sync.Mutex
	calls int
	pools map[string]domain.SentencePool
}

func (l *countingLoader) LoadPool(_ context.Context, wordClass string) (domain.SentencePool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if pool, ok := l.pools[wordClass]; ok {
		return pool, nil
	}
	return domain.SentencePool{}, domain.ErrPoolNotFound
}

func (l *countingLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func verbPool() domain.SentencePool {
	return domain.SentencePool{
		WordClass:   "verb",
		DisplayName: "Verb",
		Sentences: []domain.Sentence{{
			ID:    "s1",
			Text:  "Katten sover",
			Words: []domain.Word{{Text: "Katten", Class: "substantiv"}, {Text: "sover", Class: "verb"}},
		}},
	}
}

func TestPoolRepositoryCachesLoads(t *testing.T) {
	loader := &countingLoader{pools: map[string]domain.SentencePool{"verb": verbPool()}}
	repo := NewPoolRepository(loader, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		pool, err := repo.GetPool(ctx, "verb")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if pool.WordClass != "verb" || len(pool.Sentences) != 1 {
			t.Fatalf("unexpected pool %+v", pool)
		}
	}
	if loader.callCount() != 1 {
		t.Fatalf("expected a single loader call, got %d", loader.callCount())
	}
}

func TestPoolRepositoryExpiry(t *testing.T) {
	loader := &countingLoader{pools: map[string]domain.SentencePool{"verb": verbPool()}}
	repo := NewPoolRepository(loader, time.Minute)

	now := time.Now()
	repo.clock = func() time.Time { return now }

	ctx := context.Background()
	if _, err := repo.GetPool(ctx, "verb"); err != nil {
		t.Fatalf("get: %v", err)
	}

	// jitter caps at 10%, so two TTLs later the entry must be stale
	now = now.Add(2 * time.Minute)
	if _, err := repo.GetPool(ctx, "verb"); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if loader.callCount() != 2 {
		t.Fatalf("expected reload after TTL, got %d calls", loader.callCount())
	}
}

func TestPoolRepositoryMissIsNotCached(t *testing.T) {
	loader := &countingLoader{pools: map[string]domain.SentencePool{}}
	repo := NewPoolRepository(loader, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := repo.GetPool(ctx, "adverb"); !errors.Is(err, domain.ErrPoolNotFound) {
			t.Fatalf("expected ErrPoolNotFound, got %v", err)
		}
	}
	if loader.callCount() != 2 {
		t.Fatalf("failed loads must not be cached, got %d calls", loader.callCount())
	}
}

func TestStaticPoolLoader(t *testing.T) {
	loader := NewStaticPoolLoader(map[string]domain.SentencePool{"verb": verbPool()})

	pool, err := loader.LoadPool(context.Background(), "verb")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pool.DisplayName != "Verb" {
		t.Fatalf("unexpected pool %+v", pool)
	}

	if _, err := loader.LoadPool(context.Background(), "substantiv"); !errors.Is(err, domain.ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}
}
