package cloudenv

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rockset/rocksdb-cloud/internal/objectstore"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// deletionJob is one pending cloud object removal.
type deletionJob struct {
	enqueuedAt time.Time
	key        string
}

// DeletionQueue is a mutex-guarded FIFO of pending cloud-object removals
// with one dedicated worker. When the engine deletes a sorted-data,
// manifest, or identity file, the local copy is unlinked immediately but
// the cloud object removal is posted here with a delay so that in-flight
// readers that still reference the old object can finish.
type DeletionQueue struct {
	store  objectstore.Client
	delay  time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	jobs     []deletionJob
	shutdown bool
	stopCh   chan struct{}

	wg sync.WaitGroup
}

// NewDeletionQueue creates a DeletionQueue that deletes enqueued keys from
// store, delay after they were enqueued. Call Start to launch its worker.
func NewDeletionQueue(store objectstore.Client, delay time.Duration, logger *slog.Logger) *DeletionQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &DeletionQueue{store: store, delay: delay, logger: logger, stopCh: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the single dedicated worker goroutine.
func (q *DeletionQueue) Start() {
	q.wg.Add(1)
	go q.run()
}

// Enqueue posts key for delayed cloud deletion. A no-op after Stop.
func (q *DeletionQueue) Enqueue(key string) {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return
	}
	q.jobs = append(q.jobs, deletionJob{enqueuedAt: time.Now(), key: key})
	q.mu.Unlock()
	q.cond.Signal()
}

// Pending reports how many deletions are queued and not yet taken by the
// worker, mostly useful for tests and diagnostics.
func (q *DeletionQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *DeletionQueue) run() {
	defer q.wg.Done()
	for {
		job, ok := q.dequeue()
		if !ok {
			return
		}
		if !q.waitUntilDue(job.enqueuedAt.Add(q.delay)) {
			return
		}
		if err := q.store.Delete(context.Background(), job.key); err != nil && !cerrors.IsNotFound(err) {
			q.logger.Warn("cloudenv: deletion queue failed to delete cloud object", "key", job.key, "error", err)
		}
	}
}

// dequeue sleeps on the condition variable until an item is present or
// shutdown is signalled. On shutdown, any items still queued are
// abandoned rather than drained.
func (q *DeletionQueue) dequeue() (deletionJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.shutdown {
		q.cond.Wait()
	}
	if q.shutdown {
		return deletionJob{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

// waitUntilDue sleeps until due, interruptible by shutdown. Returns false
// if shutdown fired first.
func (q *DeletionQueue) waitUntilDue(due time.Time) bool {
	d := time.Until(due)
	if d <= 0 {
		select {
		case <-q.stopCh:
			return false
		default:
			return true
		}
	}
	select {
	case <-time.After(d):
		return true
	case <-q.stopCh:
		return false
	}
}

// Stop signals shutdown and waits for the worker to exit. Pending items
// that have not yet been dequeued are abandoned, per spec.
func (q *DeletionQueue) Stop() {
	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()
	q.cond.Broadcast()
	close(q.stopCh)
	q.wg.Wait()
}
