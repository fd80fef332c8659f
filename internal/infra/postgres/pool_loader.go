package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"klasskamp-service/internal/domain"
)

// PoolLoader loads sentence pool JSONB from Postgres.
type PoolLoader struct {
	pool *pgxpool.Pool
}

func NewPoolLoader(pool *pgxpool.Pool) *PoolLoader {
	return &PoolLoader{pool: pool}
}

func (l *PoolLoader) LoadPool(ctx context.Context, wordClass string) (domain.SentencePool, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM sentence_pools WHERE word_class=$1`, wordClass).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SentencePool{}, domain.ErrPoolNotFound
	}
	if err != nil {
		return domain.SentencePool{}, fmt.Errorf("load sentence pool: %w", err)
	}
	var pool domain.SentencePool
	if err := json.Unmarshal(raw, &pool); err != nil {
		return domain.SentencePool{}, fmt.Errorf("unmarshal sentence pool: %w", err)
	}
	return pool, nil
}
