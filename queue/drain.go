package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrDeadlineExceeded marks a queued request that sat past its deadline
// without ever being dispatched.
var ErrDeadlineExceeded = errors.New("queued request exceeded its deadline")

// DrainLoop polls queue every 50ms, attempting each lane's head request.
// It runs until ctx is cancelled, then drains whatever remains.
type DrainLoop struct {
	queue  *RequestQueue
	logger zerolog.Logger
	done   chan struct{}
}

func NewDrainLoop(q *RequestQueue, logger zerolog.Logger) *DrainLoop {
	return &DrainLoop{
		queue:  q,
		logger: logger.With().Str("component", "queue_drain").Logger(),
		done:   make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled. Call in its own goroutine.
func (d *DrainLoop) Run(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drained := d.queue.DrainRemaining(ctx.Err())
			if drained > 0 {
				d.logger.Info().Int("drained", drained).Msg("drained remaining queued requests on shutdown")
			}
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// Done reports when Run has fully returned (used to bound graceful
// shutdown on a deadline of its own).
func (d *DrainLoop) Done() <-chan struct{} {
	return d.done
}

// tick drains every ready request, stopping early once an attempt reports
// the candidates are still saturated — retrying the rest this same tick
// would just spin on the same full backends.
func (d *DrainLoop) tick(ctx context.Context) {
	for {
		req, ok := d.queue.TryDequeue()
		if !ok {
			return
		}

		if time.Now().After(req.Deadline) {
			d.logger.Info().Str("model", req.Model).Time("enqueued_at", req.EnqueuedAt).Msg("queued request timed out")
			d.finish(req, ErrDeadlineExceeded)
			continue
		}

		stillAtCapacity, err := req.Attempt(ctx)
		if stillAtCapacity {
			// Put it back, preserving enqueued_at and deadline exactly.
			if rqErr := d.queue.Requeue(req); rqErr != nil {
				d.finish(req, rqErr)
			}
			return
		}
		d.finish(req, err)
	}
}

func (d *DrainLoop) finish(req *QueuedRequest, err error) {
	select {
	case req.Response <- QueuedResult{Err: err}:
	default:
		// The caller already gave up (e.g. its own HTTP context was
		// cancelled) and nobody is listening; dropping is not fatal.
	}
}
