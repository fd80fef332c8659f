package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"klasskamp-service/internal/domain"
)

// ResultSink stores final game summaries in Redis with a TTL:
//
//	SET klasskamp:result:{code} {summary JSON} EX ttl
//
// Long-term analytics storage belongs to the surrounding platform; this keeps
// recent results around for teachers revisiting a finished game.
type ResultSink struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultSink(client *redis.Client, ttl time.Duration) *ResultSink {
	return &ResultSink{client: client, ttl: ttl}
}

func (s *ResultSink) SaveSummary(ctx context.Context, summary domain.GameSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(summary.Code), data, s.ttl).Err()
}

func (s *ResultSink) key(code string) string {
	return "klasskamp:result:" + code
}
