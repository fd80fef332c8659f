package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"klasskamp-service/internal/domain"
)

// PoolLoader fetches sentence pools from a backing store (e.g. Postgres).
type PoolLoader interface {
	LoadPool(ctx context.Context, wordClass string) (domain.SentencePool, error)
}

// PoolRepository caches sentence pools with TTL to avoid repeated DB hits
// while many rooms are created for the same word class.
type PoolRepository struct {
	loader PoolLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedPool
}

type cachedPool struct {
	pool      domain.SentencePool
	expiresAt time.Time
}

func NewPoolRepository(loader PoolLoader, ttl time.Duration) *PoolRepository {
	return &PoolRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedPool),
	}
}

func (r *PoolRepository) GetPool(ctx context.Context, wordClass string) (domain.SentencePool, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[wordClass]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.pool, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(wordClass, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[wordClass]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.pool, nil
		}
		r.mu.RUnlock()

		pool, err := r.loader.LoadPool(ctx, wordClass)
		if err != nil {
			return domain.SentencePool{}, err
		}

		r.mu.Lock()
		r.cache[wordClass] = cachedPool{
			pool:      pool,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return domain.SentencePool{}, err
	}
	return result.(domain.SentencePool), nil
}

func (r *PoolRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticPoolLoader is a simple loader backed by an in-memory map (useful for
// tests/demos and for running without Postgres).
type StaticPoolLoader struct {
	pools map[string]domain.SentencePool
}

func NewStaticPoolLoader(pools map[string]domain.SentencePool) *StaticPoolLoader {
	return &StaticPoolLoader{pools: pools}
}

func (l *StaticPoolLoader) LoadPool(_ context.Context, wordClass string) (domain.SentencePool, error) {
	if pool, ok := l.pools[wordClass]; ok {
		return pool, nil
	}
	return domain.SentencePool{}, domain.ErrPoolNotFound
}
