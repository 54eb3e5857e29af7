package queue

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

func newTestWorker(t *testing.T, concurrency int) (*Worker, *Queue) {
	t.Helper()
	q := newTestQueue(t)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	w := NewWorker(q, concurrency, logger, nil, nil)
	w.popTimeout = 50 * time.Millisecond
	w.promoteInterval = 20 * time.Millisecond
	return w, q
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestWorkerProcessesJob(t *testing.T) {
	w, q := newTestWorker(t, 2)

	var processed atomic.Int32
	var gotRunID atomic.Value
	w.Register("generate-report", func(ctx context.Context, job *Job) error {
		var payload reportPayload
		if err := job.Unmarshal(&payload); err != nil {
			return err
		}
		gotRunID.Store(payload.RunID)
		processed.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if _, err := q.Enqueue(ctx, "generate-report", reportPayload{RunID: "r-9"}, Options{Attempts: 3}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return processed.Load() == 1 })
	if gotRunID.Load() != "r-9" {
		t.Errorf("Expected run r-9, got %v", gotRunID.Load())
	}
}

func TestWorkerRetriesThenBuries(t *testing.T) {
	w, q := newTestWorker(t, 1)

	var attempts atomic.Int32
	w.Register("generate-report", func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return fmt.Errorf("render failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Tiny backoff so retries promote within the test window
	if _, err := q.Enqueue(ctx, "generate-report", reportPayload{RunID: "r-1"}, Options{
		Attempts: 3,
		Backoff:  time.Millisecond,
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return attempts.Load() == 3 })

	waitFor(t, 2*time.Second, func() bool {
		dead, err := q.DeadLetters(ctx, 10)
		return err == nil && len(dead) == 1
	})

	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if dead[0].Attempt != 3 {
		t.Errorf("Expected 3 attempts recorded, got %d", dead[0].Attempt)
	}
}

func TestWorkerRecoversFromHandlerPanic(t *testing.T) {
	w, q := newTestWorker(t, 1)

	var attempts atomic.Int32
	w.Register("explosive", func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if _, err := q.Enqueue(ctx, "explosive", reportPayload{}, Options{Attempts: 2, Backoff: time.Millisecond}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// The panic is converted to a failure: one retry, then dead letter
	waitFor(t, 5*time.Second, func() bool { return attempts.Load() == 2 })
	waitFor(t, 2*time.Second, func() bool {
		dead, err := q.DeadLetters(ctx, 10)
		return err == nil && len(dead) == 1
	})
}

func TestWorkerBuriesUnregisteredJob(t *testing.T) {
	w, q := newTestWorker(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if _, err := q.Enqueue(ctx, "no-such-job", reportPayload{}, Options{Attempts: 3}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		dead, err := q.DeadLetters(ctx, 10)
		return err == nil && len(dead) == 1
	})
}
