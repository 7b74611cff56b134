package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher stores snapshots as JSON strings with a TTL.
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPublisher(client *redis.Client, ttl time.Duration) *RedisPublisher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisPublisher{client: client, ttl: ttl}
}

func (p *RedisPublisher) Publish(ctx context.Context, jobID string, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := p.client.Set(ctx, Key(jobID), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("publish progress for job %s: %w", jobID, err)
	}
	return nil
}

func (p *RedisPublisher) Read(ctx context.Context, jobID string) (Snapshot, error) {
	data, err := p.client.Get(ctx, Key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read progress for job %s: %w", jobID, err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode progress for job %s: %w", jobID, err)
	}
	return s, nil
}

func (p *RedisPublisher) Delete(ctx context.Context, jobID string) error {
	if err := p.client.Del(ctx, Key(jobID)).Err(); err != nil {
		return fmt.Errorf("delete progress for job %s: %w", jobID, err)
	}
	return nil
}
