package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue keeps ready tasks in a list per queue (LPUSH, BRPOP) and
// delayed tasks in a sorted set scored by due time in unix milliseconds.
// PromoteDue moves due tasks to the ready list; RunPromoter calls it on a
// ticker.
type RedisQueue struct {
	client      *redis.Client
	prefix      string
	pollTimeout time.Duration
	now         func() time.Time
}

func NewRedisQueue(client *redis.Client, prefix string, pollTimeout time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "queue"
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &RedisQueue{
		client:      client,
		prefix:      prefix,
		pollTimeout: pollTimeout,
		now:         time.Now,
	}
}

func (q *RedisQueue) readyKey(name string) string   { return q.prefix + ":" + name }
func (q *RedisQueue) delayedKey(name string) string { return q.prefix + ":" + name + ":delayed" }

func (q *RedisQueue) Enqueue(ctx context.Context, name string, task Task, delay time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}

	if delay <= 0 {
		if err := q.client.LPush(ctx, q.readyKey(name), data).Err(); err != nil {
			return fmt.Errorf("enqueue task %s on %s: %w", task.ID, name, err)
		}
		return nil
	}

	due := q.now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.delayedKey(name), &redis.Z{
		Score:  float64(due),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("schedule task %s on %s: %w", task.ID, name, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, name string) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}

		res, err := q.client.BRPop(ctx, q.pollTimeout, q.readyKey(name)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Task{}, ctxErr
			}
			return Task{}, fmt.Errorf("dequeue from %s: %w", name, err)
		}

		// BRPOP returns [key, value].
		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			slog.Error("dropping undecodable task", "queue", name, "error", err)
			continue
		}
		return task, nil
	}
}

// PromoteDue moves every delayed task whose due time has passed onto the
// ready list and returns how many were moved. Concurrent promoters are
// safe: only the one whose ZREM succeeds pushes the task.
func (q *RedisQueue) PromoteDue(ctx context.Context, name string) (int, error) {
	max := strconv.FormatInt(q.now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(name), &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed tasks on %s: %w", name, err)
	}

	moved := 0
	for _, m := range members {
		removed, err := q.client.ZRem(ctx, q.delayedKey(name), m).Result()
		if err != nil {
			return moved, fmt.Errorf("claim delayed task on %s: %w", name, err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey(name), m).Err(); err != nil {
			return moved, fmt.Errorf("promote delayed task on %s: %w", name, err)
		}
		moved++
	}
	return moved, nil
}

// RunPromoter promotes due tasks of the given queues every interval until
// ctx is cancelled.
func (q *RedisQueue) RunPromoter(ctx context.Context, interval time.Duration, names ...string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range names {
				n, err := q.PromoteDue(ctx, name)
				if err != nil {
					if ctx.Err() == nil {
						slog.Error("promote delayed tasks failed", "queue", name, "error", err)
					}
					continue
				}
				if n > 0 {
					slog.Debug("promoted delayed tasks", "queue", name, "count", n)
				}
			}
		}
	}
}

// Len returns the number of ready tasks on a queue.
func (q *RedisQueue) Len(ctx context.Context, name string) (int64, error) {
	return q.client.LLen(ctx, q.readyKey(name)).Result()
}
