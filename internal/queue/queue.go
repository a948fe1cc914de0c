// Package queue implements a Redis-backed job queue for best-effort
// background work such as outbound email.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/stratobill/stratobill/internal/config"
)

const (
	pendingKey = "stratobill:jobs:pending"
	delayedKey = "stratobill:jobs:delayed"

	// MaxAttempts bounds redelivery for a failing job.
	MaxAttempts = 3
	// baseBackoff doubles per attempt: 30s, 60s, 120s.
	baseBackoff = 30 * time.Second
)

var ErrQueueUnavailable = errors.New("queue_unavailable")

// Job is the envelope stored on the wire. Payload is an opaque JSON blob
// interpreted by the handler registered for Kind.
type Job struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Enqueuer is the narrow producer contract handed to services that only
// submit work.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) error
}

type Queue struct {
	rdb *redis.Client
	log *zap.Logger
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

func NewQueue(p Params) *Queue {
	rdb := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.RedisAddr,
		Password: p.Cfg.RedisPassword,
		DB:       p.Cfg.RedisDB,
	})
	return &Queue{
		rdb: rdb,
		log: p.Log.Named("queue"),
	}
}

// Enqueue serializes the payload and pushes a fresh job onto the pending
// list.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) error {
	if q == nil || q.rdb == nil {
		return ErrQueueUnavailable
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	job := Job{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: raw,
	}
	return q.push(ctx, job)
}

func (q *Queue) push(ctx context.Context, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, pendingKey, encoded).Err()
}

// retryLater parks a failed job on the delayed set until its backoff
// window elapses.
func (q *Queue) retryLater(ctx context.Context, job Job) error {
	if q == nil || q.rdb == nil {
		return ErrQueueUnavailable
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	due := time.Now().Add(backoffDelay(job.Attempts)).Unix()
	return q.rdb.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(due),
		Member: encoded,
	}).Err()
}

// promoteDue moves delayed jobs whose backoff has elapsed back onto the
// pending list.
func (q *Queue) promoteDue(ctx context.Context) error {
	if q == nil || q.rdb == nil {
		return ErrQueueUnavailable
	}
	now := time.Now().Unix()
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: 100,
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return err
		}
		// Another worker promoted it first.
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, pendingKey, member).Err(); err != nil {
			return err
		}
	}
	return nil
}

// pop blocks for up to the given timeout waiting for a pending job.
func (q *Queue) pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	values, err := q.rdb.BRPop(ctx, timeout, pendingKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(values) != 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Ping verifies connectivity at startup.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.rdb.Close()
}

// backoffDelay doubles per prior attempt: 30s after the first failure,
// then 60s, then 120s.
func backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return baseBackoff << (attempts - 1)
}
