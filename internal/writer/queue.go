// Package writer implements the collector's CSV writer: a single
// background consumer that flattens incoming batches into rows of the
// active hourly file and triggers rotation and upload on the hour.
package writer

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

// ErrQueueShutdown is returned by Get once the queue has been shut
// down and fully drained.
var ErrQueueShutdown = errors.New("writer: queue is shutting down")

// Job is one unit of work for the writer: a batch received from a
// single node, tagged with a stable id for tracing across a
// re-enqueue-on-disk-error retry.
type Job struct {
	ID         string
	NodeID     string
	Batch      models.Batch
	RetryCount int
}

// NewJob builds a Job with a fresh trace id.
func NewJob(nodeID string, batch models.Batch) Job {
	return Job{ID: uuid.New().String(), NodeID: nodeID, Batch: batch}
}

// Queue is a thread-safe FIFO with a single consumer and many
// producers. Unlike a plain channel, it supports pushing a job back
// onto the head after a failed attempt, so a disk error never drops
// data out of order.
type Queue struct {
	mu       sync.Mutex
	items    *list.List
	notify   chan struct{}
	shutdown bool
}

// NewQueue builds an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		items:  list.New(),
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues a job at the tail.
func (q *Queue) Push(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return ErrQueueShutdown
	}
	q.items.PushBack(job)
	q.wake()
	return nil
}

// PushFront re-enqueues a job at the head, used to retry a job that
// failed with a transient (disk) error without losing its position
// ahead of newer arrivals.
func (q *Queue) PushFront(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushFront(job)
	q.wake()
}

// wake signals the single consumer that the queue state changed.
// Must be called with mu held.
func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Get blocks until a job is available, the timeout elapses, or the
// queue is shut down. It returns (job, true, nil) on success, (Job{},
// false, nil) on timeout, and (Job{}, false, ErrQueueShutdown) once
// shut down with nothing left to drain.
func (q *Queue) Get(timeout time.Duration) (Job, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if job, ok, shuttingDown := q.tryPop(); ok || shuttingDown {
			if shuttingDown {
				return Job{}, false, ErrQueueShutdown
			}
			return job, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Job{}, false, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			return Job{}, false, nil
		}
	}
}

// tryPop removes and returns the head job if one exists. shuttingDown
// is true only when the queue is both empty and shut down.
func (q *Queue) tryPop() (job Job, ok bool, shuttingDown bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if front := q.items.Front(); front != nil {
		q.items.Remove(front)
		return front.Value.(Job), true, false
	}
	return Job{}, false, q.shutdown
}

// Shutdown marks the queue closed and wakes any blocked consumer.
// Already-enqueued jobs remain retrievable via Get until drained.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()
	q.wake()
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
