package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pharmacy-finder/internal/config"
	"pharmacy-finder/internal/models"
)

// RedisQueue coordinates ready, in-flight, and scheduled generation jobs in
// Redis. Scheduled jobs carry their dispersed run time as the zset score, so
// hundreds of same-day generations drain spread out instead of at once.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	jobMetaPrefix string
	visibilityTTL time.Duration
	dlqKey        string
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 2 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "content:ready",
		inflightKey:   "content:inflight",
		scheduledKey:  "content:scheduled",
		jobMetaPrefix: "content:job:",
		visibilityTTL: visibility,
		dlqKey:        "content:dlq",
	}
}

// NewRedisQueueWithClient wires an existing client (tests use miniredis).
func NewRedisQueueWithClient(client *redis.Client, visibility time.Duration) *RedisQueue {
	q := NewRedisQueue(config.Config{VisibilityTimeout: visibility})
	q.client = client
	return q
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

// Enqueue inserts a generation job into either the scheduled set or the
// ready queue, persisting its payload alongside.
func (q *RedisQueue) Enqueue(ctx context.Context, job models.GenerationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(job.ID), "payload", payload)
	if job.RunAt.After(time.Now()) {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
	} else {
		pipe.RPush(ctx, q.readyKey, job.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Schedule moves a job into the scheduled set for deferred execution.
func (q *RedisQueue) Schedule(ctx context.Context, jobID string, runAt time.Time) error {
	return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: jobID,
	}).Err()
}

// PromoteScheduled moves due scheduled jobs into the ready queue. Returns
// how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops a ready job and places it into inflight with a
// visibility timeout, then loads its payload.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (models.GenerationJob, bool, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return models.GenerationJob{}, false, nil
	}
	if err != nil {
		return models.GenerationJob{}, false, err
	}
	jobID, ok := res.(string)
	if !ok {
		return models.GenerationJob{}, false, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	raw, err := q.client.HGet(ctx, q.metaKey(jobID), "payload").Result()
	if err == redis.Nil {
		// Payload lost; drop the lease so the loop moves on.
		_ = q.Ack(ctx, jobID)
		return models.GenerationJob{}, false, fmt.Errorf("job %s has no payload", jobID)
	}
	if err != nil {
		return models.GenerationJob{}, false, err
	}

	var job models.GenerationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		_ = q.Ack(ctx, jobID)
		return models.GenerationJob{}, false, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return job, true, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// Retry keeps the job payload and re-schedules it after a backoff, clearing
// the in-flight lease.
func (q *RedisQueue) Retry(ctx context.Context, job models.GenerationJob, runAt time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, job.ID)
	pipe.HSet(ctx, q.metaKey(job.ID), "payload", payload)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeadLetter moves an exhausted job out of flight and appends its full
// payload to the dead-letter queue, so entries stay inspectable and
// replayable after the meta record is gone.
func (q *RedisQueue) DeadLetter(ctx context.Context, job models.GenerationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, job.ID)
	pipe.Del(ctx, q.metaKey(job.ID))
	pipe.RPush(ctx, q.dlqKey, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// DLQPeek reads the oldest dead-lettered jobs.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]models.GenerationJob, error) {
	raws, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]models.GenerationJob, 0, len(raws))
	for _, raw := range raws {
		var job models.GenerationJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode dead-lettered job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ReadyDepth returns the length of the ready queue.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
