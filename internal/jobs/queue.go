package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/postpainter/internal/common"
)

// WorkItem carries one post through a worker.
type WorkItem struct {
	Job Job
	// Done, when set, is called after processing regardless of outcome.
	Done func(Job, error)
}

// Processor defines how to process a WorkItem.
type Processor interface {
	Process(ctx context.Context, item WorkItem) (Job, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, item WorkItem) (Job, error)

func (f ProcessorFunc) Process(ctx context.Context, item WorkItem) (Job, error) { return f(ctx, item) }

// ErrQueueClosed is returned when submitting after Close or Shutdown.
var ErrQueueClosed = errors.New("queue closed")

// Queue is an in-memory bounded queue for WorkItems with a worker pool.
type Queue struct {
	log       *slog.Logger
	ch        chan WorkItem
	workers   int
	wg        sync.WaitGroup
	closeOnce sync.Once
	cancel    context.CancelFunc
	started   bool
	closed    bool
	mu        sync.RWMutex
}

// NewQueue creates a new Queue with the given capacity and worker count.
func NewQueue(logger *slog.Logger, capacity int, workers int) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = common.DefaultWorkerCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		log:     logger,
		ch:      make(chan WorkItem, capacity),
		workers: workers,
	}
}

// Start launches worker goroutines that consume WorkItems and process them using the provided Processor.
func (q *Queue) Start(ctx context.Context, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, p, i)
	}
	q.started = true
	return nil
}

func (q *Queue) worker(ctx context.Context, p Processor, idx int) {
	defer q.wg.Done()
	log := q.log.With("worker", idx)
	for {
		select {
		case <-ctx.Done():
			log.Debug("worker stopping due to context cancellation")
			return
		case item, ok := <-q.ch:
			if !ok {
				log.Debug("queue closed, worker exiting")
				return
			}
			postLog := log.With("run_id", item.Job.RunID, "post_id", item.Job.Post.ID)
			postLog.Info("processing post", "status", item.Job.Status)
			start := time.Now()
			job, err := p.Process(ctx, item)
			if err != nil {
				postLog.Error("post processing failed", "err", err, "duration", time.Since(start))
			} else {
				postLog.Info("post processed", "status", job.Status, "duration", time.Since(start))
			}
			if item.Done != nil {
				item.Done(job, err)
			}
		}
	}
}

// Submit adds a WorkItem, waiting for capacity until ctx is done.
func (q *Queue) Submit(ctx context.Context, item WorkItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.started {
		return errors.New("queue not started")
	}
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits until every queued item is processed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
	q.wg.Wait()
}

// Shutdown stops accepting work, cancels the workers' context and waits for
// them up to deadline; zero waits without limit. It may follow a Close that
// is still draining.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.wg.Wait()
	}()

	if deadline <= 0 {
		<-done
		return
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		q.log.Warn("queue shutdown deadline reached; workers may still be running")
	}
}
