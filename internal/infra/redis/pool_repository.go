package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"klasskamp-service/internal/domain"
)

// PoolLoader fetches sentence pools from a backing store (e.g. Postgres).
type PoolLoader interface {
	LoadPool(ctx context.Context, wordClass string) (domain.SentencePool, error)
}

// PoolRepository caches sentence pools in Redis as JSON blobs and falls back
// to a loader on cache miss:
//
//	SET klasskamp:pool:{wordClass} {pool JSON} EX ttl
type PoolRepository struct {
	client *redis.Client
	loader PoolLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewPoolRepository(client *redis.Client, loader PoolLoader, ttl time.Duration) *PoolRepository {
	return &PoolRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *PoolRepository) GetPool(ctx context.Context, wordClass string) (domain.SentencePool, error) {
	key := r.poolKey(wordClass)

	if pool, ok := r.cached(ctx, key); ok {
		return pool, nil
	}

	result, err, _ := r.sf.Do(wordClass, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if pool, ok := r.cached(ctx, key); ok {
			return pool, nil
		}

		pool, err := r.loader.LoadPool(ctx, wordClass)
		if err != nil {
			return domain.SentencePool{}, err
		}

		if data, err := json.Marshal(pool); err == nil {
			_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		}
		return pool, nil
	})
	if err != nil {
		return domain.SentencePool{}, err
	}
	return result.(domain.SentencePool), nil
}

func (r *PoolRepository) cached(ctx context.Context, key string) (domain.SentencePool, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil || len(data) == 0 {
		return domain.SentencePool{}, false
	}
	var pool domain.SentencePool
	if err := json.Unmarshal(data, &pool); err != nil {
		return domain.SentencePool{}, false
	}
	return pool, true
}

func (r *PoolRepository) poolKey(wordClass string) string {
	return "klasskamp:pool:" + wordClass
}

func (r *PoolRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
