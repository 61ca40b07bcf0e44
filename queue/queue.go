package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Priority is the dual-lane selector; High is always checked
// before Normal on dequeue.
type Priority int

const (
	Normal Priority = iota
	High
)

// ErrQueueFull is returned by Enqueue when depth has reached max_size.
var ErrQueueFull = errors.New("request queue is full")

// QueuedRequest is one entry sitting in the queue, carrying the model it
// needs, its deadline, and the channel its eventual outcome arrives on.
// Attempt is supplied by the caller (the chat handler) and does the real
// work of re-running routing and, if a backend is now available, writing
// the HTTP response itself — the drain loop never touches the original
// http.ResponseWriter. Attempt returns stillAtCapacity=true to ask the
// drain loop to requeue unchanged; any other return ends the request.
type QueuedRequest struct {
	Model      string
	EnqueuedAt time.Time
	Deadline   time.Time
	Priority   Priority
	Attempt    func(ctx context.Context) (stillAtCapacity bool, err error)
	Response   chan QueuedResult
}

// QueuedResult is delivered on Response at most once, by the drain loop
// (after a terminal Attempt, a missed deadline or a failed requeue) or by
// DrainRemaining on shutdown. The caller's own timeout handling does not
// send on Response.
type QueuedResult struct {
	Err error
}

// DepthGauge receives the queue's depth after every enqueue and dequeue.
// prometheus.Gauge satisfies it.
type DepthGauge interface {
	Set(float64)
}

// RequestQueue is a bounded two-lane FIFO. depth is the sole source of
// truth for "is there room" — every enqueue path must reserve a depth slot
// via CAS before pushing onto a channel, and release it via CAS (saturating
// at zero) when a request leaves either by dequeue or by drop.
type RequestQueue struct {
	high    chan *QueuedRequest
	normal  chan *QueuedRequest
	maxSize uint32
	depth   atomic.Uint32
	gauge   DepthGauge
}

func NewRequestQueue(maxSize uint32) *RequestQueue {
	return &RequestQueue{
		high:    make(chan *QueuedRequest, maxSize),
		normal:  make(chan *QueuedRequest, maxSize),
		maxSize: maxSize,
	}
}

// SetDepthGauge wires the depth metric. Call before the queue sees traffic;
// nil leaves metric publication off.
func (q *RequestQueue) SetDepthGauge(g DepthGauge) {
	q.gauge = g
}

func (q *RequestQueue) publishDepth() {
	if q.gauge != nil {
		q.gauge.Set(float64(q.depth.Load()))
	}
}

// Enqueue reserves a depth slot via CAS retry loop, then pushes req onto
// its priority lane. Returns ErrQueueFull without blocking if the queue
// is at capacity.
func (q *RequestQueue) Enqueue(req *QueuedRequest) error {
	for {
		cur := q.depth.Load()
		if cur >= q.maxSize {
			return ErrQueueFull
		}
		if q.depth.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	var lane chan *QueuedRequest
	if req.Priority == High {
		lane = q.high
	} else {
		lane = q.normal
	}

	select {
	case lane <- req:
		q.publishDepth()
		return nil
	default:
		// Lane buffer (sized to max_size) is unexpectedly full even though
		// depth allowed this reservation; release the slot and fail closed.
		q.releaseSlot()
		return ErrQueueFull
	}
}

// TryDequeue returns the next request to process, High lane checked before
// Normal. Returns nil, false if both lanes are empty.
func (q *RequestQueue) TryDequeue() (*QueuedRequest, bool) {
	select {
	case req := <-q.high:
		q.releaseSlot()
		return req, true
	default:
	}
	select {
	case req := <-q.normal:
		q.releaseSlot()
		return req, true
	default:
		return nil, false
	}
}

// Requeue reinserts req into its own lane after the drain loop already
// released its depth slot via TryDequeue. It goes through the same
// CAS-bounded reservation as Enqueue — depth must never exceed max_size,
// even when a concurrent Enqueue fills the freed slot first, in which case
// Requeue reports ErrQueueFull and the drain loop fails the request with it.
// The deadline is the caller's to preserve; Requeue never touches it.
func (q *RequestQueue) Requeue(req *QueuedRequest) error {
	return q.Enqueue(req)
}

func (q *RequestQueue) releaseSlot() {
	for {
		cur := q.depth.Load()
		if cur == 0 {
			q.publishDepth()
			return
		}
		if q.depth.CompareAndSwap(cur, cur-1) {
			q.publishDepth()
			return
		}
	}
}

// Depth reports the current total occupancy across both lanes.
func (q *RequestQueue) Depth() uint32 {
	return q.depth.Load()
}

// DrainRemaining empties both lanes, failing every remaining request with
// err, and returns how many were drained.
func (q *RequestQueue) DrainRemaining(err error) int {
	count := 0
	for {
		req, ok := q.TryDequeue()
		if !ok {
			return count
		}
		count++
		select {
		case req.Response <- QueuedResult{Err: err}:
		default:
		}
	}
}
