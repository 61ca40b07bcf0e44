package queue

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestDrainLoopDispatchesOnceCapacityFrees(t *testing.T) {
	q := NewRequestQueue(5)
	attempts := 0
	req := &QueuedRequest{
		Model:      "m",
		EnqueuedAt: time.Now(),
		Deadline:   time.Now().Add(time.Minute),
		Response:   make(chan QueuedResult, 1),
		Attempt: func(ctx context.Context) (bool, error) {
			attempts++
			if attempts < 2 {
				return true, nil // still at capacity on the first tick
			}
			return false, nil // capacity freed on the second tick
		},
	}
	if err := q.Enqueue(req); err != nil {
		t.Fatal(err)
	}

	loop := NewDrainLoop(q, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go loop.Run(ctx)

	select {
	case res := <-req.Response:
		if res.Err != nil {
			t.Fatalf("expected successful dispatch, got %v", res.Err)
		}
	case <-time.After(400 * time.Millisecond):
		t.Fatal("expected the drain loop to dispatch the request before capacity-wait timeout")
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts (still-at-capacity then success), got %d", attempts)
	}
}

func TestDrainLoopFailsDeadlineExceededRequests(t *testing.T) {
	q := NewRequestQueue(5)
	req := &QueuedRequest{
		Model:      "m",
		EnqueuedAt: time.Now().Add(-time.Hour),
		Deadline:   time.Now().Add(-time.Minute), // already past due
		Response:   make(chan QueuedResult, 1),
		Attempt:    func(ctx context.Context) (bool, error) { return false, nil },
	}
	if err := q.Enqueue(req); err != nil {
		t.Fatal(err)
	}

	loop := NewDrainLoop(q, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go loop.Run(ctx)

	select {
	case res := <-req.Response:
		if !errors.Is(res.Err, ErrDeadlineExceeded) {
			t.Fatalf("expected ErrDeadlineExceeded, got %v", res.Err)
		}
	case <-time.After(150 * time.Millisecond):
		t.Fatal("expected the drain loop to fail the overdue request promptly")
	}
}

func TestDrainLoopDrainsRemainingOnShutdown(t *testing.T) {
	q := NewRequestQueue(5)
	req := &QueuedRequest{
		Model:      "m",
		EnqueuedAt: time.Now(),
		Deadline:   time.Now().Add(time.Minute),
		Response:   make(chan QueuedResult, 1),
		Attempt:    func(ctx context.Context) (bool, error) { return true, nil }, // never succeeds
	}
	if err := q.Enqueue(req); err != nil {
		t.Fatal(err)
	}

	loop := NewDrainLoop(q, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	cancel()

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Run to return promptly after cancellation")
	}

	select {
	case res := <-req.Response:
		if res.Err == nil {
			t.Fatal("expected the abandoned request to be failed on shutdown")
		}
	default:
		t.Fatal("expected shutdown to deliver a final response to the still-queued request")
	}
}
