package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence marks live room codes in Redis so operators (and, later, other
// instances) can see which codes are active:
//
//	SET klasskamp:room:{code} 1 EX ttl
//
// The registry treats these calls as best effort.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) MarkLive(ctx context.Context, code string) error {
	return p.client.Set(ctx, p.key(code), "1", p.ttl).Err()
}

func (p *Presence) Clear(ctx context.Context, code string) error {
	return p.client.Del(ctx, p.key(code)).Err()
}

func (p *Presence) key(code string) string {
	return "klasskamp:room:" + code
}
