// Package queue implements a durable Redis-backed job queue with delayed
// retries and a dead letter list. Enqueue is synchronous; execution happens
// on worker processes with at-least-once semantics.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

const (
	readyKey   = "queue:ready"
	delayedKey = "queue:delayed"
	deadKey    = "queue:dead"
)

// Job is one unit of queued work. The payload is opaque to the queue and
// round-trips through JSON.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     time.Duration   `json:"backoff"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// Unmarshal decodes the job payload into dest
func (j *Job) Unmarshal(dest interface{}) error {
	return json.Unmarshal(j.Payload, dest)
}

func (j *Job) unmarshalFrom(data string) error {
	return json.Unmarshal([]byte(data), j)
}

// Options configures retry behavior for an enqueued job
type Options struct {
	// Attempts is the total number of executions allowed, including the
	// first. Zero means one attempt, no retries.
	Attempts int
	// Backoff is the initial retry delay; it doubles per attempt.
	Backoff time.Duration
}

// Queue is the producer side of the job queue
type Queue struct {
	redis   *redis.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a queue over the given Redis client
func New(client *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *Queue {
	return &Queue{redis: client, logger: logger, metrics: metrics}
}

// Enqueue pushes a job onto the ready list. Unlike cache writes, enqueue
// failures are returned: a lost job is not an acceptable degradation.
func (q *Queue) Enqueue(ctx context.Context, name string, payload interface{}, opts Options) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}

	job := &Job{
		ID:          uuid.NewString(),
		Name:        name,
		Payload:     data,
		Attempt:     0,
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		EnqueuedAt:  time.Now().UTC(),
	}

	if err := q.push(ctx, job); err != nil {
		return nil, err
	}

	if q.metrics != nil {
		q.metrics.QueueJobsEnqueued.WithLabelValues(name).Inc()
	}
	q.logger.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"job_name": job.Name,
	}).Debug("job enqueued")
	return job, nil
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.redis.LPush(ctx, readyKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// schedule parks a job on the delayed set until runAt
func (q *Queue) schedule(ctx context.Context, job *Job, runAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	err = q.redis.ZAdd(ctx, delayedKey, &redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	return nil
}

// PromoteDelayed moves due jobs from the delayed set to the ready list.
// Returns the number promoted.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.redis.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	promoted := 0
	for _, member := range members {
		// Remove first so two promoters never double-deliver one member
		removed, err := q.redis.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to remove delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.redis.LPush(ctx, readyKey, member).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote delayed job: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// bury moves a job that exhausted its attempts to the dead letter list
func (q *Queue) bury(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.redis.LPush(ctx, deadKey, data).Err(); err != nil {
		return fmt.Errorf("failed to bury job: %w", err)
	}
	return nil
}

// DeadLetters returns up to limit jobs from the dead letter list, newest
// first, without removing them.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := q.redis.LRange(ctx, deadKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	jobs := make([]*Job, 0, len(members))
	for _, member := range members {
		job := &Job{}
		if err := json.Unmarshal([]byte(member), job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Depth returns the number of jobs waiting, ready plus delayed
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	ready, err := q.redis.LLen(ctx, readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	delayed, err := q.redis.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed depth: %w", err)
	}
	return ready + delayed, nil
}
