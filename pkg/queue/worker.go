package queue

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

// Handler processes one job. Returning an error signals failure back to
// the queue so its retry policy applies.
type Handler func(ctx context.Context, job *Job) error

// Worker consumes jobs from the queue with a fixed number of goroutines.
// Delivery is at-least-once: a worker crash mid-job redelivers nothing by
// itself, which is why long-running handlers keep their own progress state.
type Worker struct {
	queue       *Queue
	concurrency int
	logger      *observability.Logger
	metrics     *observability.Metrics
	policy      *RetryPolicy

	mu       sync.RWMutex
	handlers map[string]Handler

	popTimeout      time.Duration
	promoteInterval time.Duration
}

// NewWorker creates a worker over the queue
func NewWorker(q *Queue, concurrency int, logger *observability.Logger, metrics *observability.Metrics, policy *RetryPolicy) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if policy == nil {
		policy = NewRetryPolicy(DefaultRetryConfig())
	}
	return &Worker{
		queue:           q,
		concurrency:     concurrency,
		logger:          logger,
		metrics:         metrics,
		policy:          policy,
		handlers:        make(map[string]Handler),
		popTimeout:      time.Second,
		promoteInterval: time.Second,
	}
}

// Register binds a handler to a job name. Jobs with no registered handler
// go straight to the dead letter list.
func (w *Worker) Register(name string, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = handler
}

func (w *Worker) handler(name string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	handler, ok := w.handlers[name]
	return handler, ok
}

// Run consumes jobs until the context is cancelled. It blocks; callers run
// it in its own goroutine or as the main loop of a worker process.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.promoteLoop(ctx)
	}()

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.consumeLoop(ctx, id)
		}(i)
	}

	wg.Wait()
}

// promoteLoop periodically moves due delayed jobs to the ready list and
// refreshes the depth gauge.
func (w *Worker) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(w.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.queue.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
				w.logger.WithError(err).Warn("failed to promote delayed jobs")
			}
			if w.metrics != nil {
				if depth, err := w.queue.Depth(ctx); err == nil {
					w.metrics.QueueDepth.Set(float64(depth))
				}
			}
		}
	}
}

func (w *Worker) consumeLoop(ctx context.Context, id int) {
	logger := w.logger.WithField("worker", id)

	for {
		if ctx.Err() != nil {
			return
		}

		result, err := w.queue.redis.BRPop(ctx, w.popTimeout, readyKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("failed to pop job, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.popTimeout):
			}
			continue
		}
		if len(result) != 2 {
			continue
		}

		job := &Job{}
		if err := job.unmarshalFrom(result[1]); err != nil {
			logger.WithError(err).Error("dropping undecodable job")
			continue
		}

		w.process(ctx, job, logger)
	}
}

func (w *Worker) process(ctx context.Context, job *Job, logger *observability.Logger) {
	logger = logger.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"job_name": job.Name,
		"attempt":  job.Attempt + 1,
	})

	handler, ok := w.handler(job.Name)
	if !ok {
		logger.Error("no handler registered, burying job")
		if err := w.queue.bury(ctx, job); err != nil {
			logger.WithError(err).Error("failed to bury job")
		}
		return
	}

	err := w.invoke(ctx, handler, job)
	job.Attempt++

	if err == nil {
		logger.Debug("job completed")
		return
	}

	if job.Attempt < job.MaxAttempts {
		delay := w.retryDelay(job)
		if w.metrics != nil {
			w.metrics.QueueJobRetries.WithLabelValues(job.Name).Inc()
		}
		logger.WithError(err).WithField("retry_in", delay.String()).Warn("job failed, scheduling retry")
		if err := w.queue.schedule(ctx, job, time.Now().Add(delay)); err != nil {
			logger.WithError(err).Error("failed to schedule retry, burying job")
			if buryErr := w.queue.bury(ctx, job); buryErr != nil {
				logger.WithError(buryErr).Error("failed to bury job")
			}
		}
		return
	}

	logger.WithError(err).Error("job exhausted retries, burying")
	if err := w.queue.bury(ctx, job); err != nil {
		logger.WithError(err).Error("failed to bury job")
	}
}

// invoke runs the handler with panic recovery so one bad job cannot take
// down the worker process.
func (w *Worker) invoke(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithFields(map[string]interface{}{
				"job_id": job.ID,
				"panic":  fmt.Sprintf("%v", r),
				"stack":  string(debug.Stack()),
			}).Error("panic in job handler")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

// retryDelay doubles the job's own backoff per completed attempt, falling
// back to the worker policy when the job carries none.
func (w *Worker) retryDelay(job *Job) time.Duration {
	if job.Backoff <= 0 {
		return w.policy.NextRetryDelay(job.Attempt)
	}
	delay := float64(job.Backoff) * math.Pow(2, float64(job.Attempt-1))
	if max := float64(w.policy.config.MaxDelay); delay > max {
		delay = max
	}
	return time.Duration(delay)
}
