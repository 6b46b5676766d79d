package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/postpainter/internal/cms"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type countingProcessor struct {
	count int32
	fail  bool
}

func (p *countingProcessor) Process(ctx context.Context, item WorkItem) (Job, error) {
	atomic.AddInt32(&p.count, 1)
	job := item.Job
	if p.fail {
		job.Status = StatusError
		return job, errors.New("fail")
	}
	job.Status = StatusSuccess
	return job, nil
}

func TestQueue_StartSubmitShutdown(t *testing.T) {
	q := NewQueue(quietLogger(), 2, 1)
	p := &countingProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx, p))

	done := make(chan Job, 1)
	item := WorkItem{Job: Job{RunID: "r", Post: cms.Post{ID: 1}}, Done: func(j Job, err error) { done <- j }}
	require.NoError(t, q.Submit(ctx, item))

	select {
	case j := <-done:
		assert.Equal(t, StatusSuccess, j.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("item was not processed")
	}
	q.Shutdown(2 * time.Second)
	assert.ErrorIs(t, q.Submit(ctx, item), ErrQueueClosed)
}

func TestQueue_SubmitBeforeStartFails(t *testing.T) {
	q := NewQueue(quietLogger(), 1, 1)
	assert.Error(t, q.Submit(context.Background(), WorkItem{}))
}

func TestQueue_ShutdownCancelsWorkersDuringDrain(t *testing.T) {
	q := NewQueue(quietLogger(), 2, 1)
	started := make(chan struct{}, 1)
	stopped := make(chan struct{})
	require.NoError(t, q.Start(context.Background(), ProcessorFunc(func(ctx context.Context, item WorkItem) (Job, error) {
		started <- struct{}{}
		<-ctx.Done()
		close(stopped)
		return item.Job, ctx.Err()
	})))
	require.NoError(t, q.Submit(context.Background(), WorkItem{}))
	<-started

	drained := make(chan struct{})
	go func() {
		q.Close()
		close(drained)
	}()
	q.Shutdown(2 * time.Second)

	select {
	case <-stopped:
	default:
		t.Fatal("worker context was not cancelled")
	}
	<-drained
}

func TestQueue_ShutdownDeadline(t *testing.T) {
	q := NewQueue(quietLogger(), 1, 1)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, q.Start(context.Background(), ProcessorFunc(func(ctx context.Context, item WorkItem) (Job, error) {
		started <- struct{}{}
		<-block
		return item.Job, nil
	})))
	defer close(block)
	require.NoError(t, q.Submit(context.Background(), WorkItem{}))
	<-started

	begin := time.Now()
	q.Shutdown(30 * time.Millisecond)
	assert.Less(t, time.Since(begin), time.Second)
}

func TestQueue_CloseDrainsEveryItem(t *testing.T) {
	q := NewQueue(quietLogger(), 4, 3)
	p := &countingProcessor{fail: true}
	require.NoError(t, q.Start(context.Background(), p))

	var mu sync.Mutex
	var failures int
	for i := 1; i <= 10; i++ {
		err := q.Submit(context.Background(), WorkItem{
			Job: Job{Post: cms.Post{ID: int64(i)}},
			Done: func(_ Job, err error) {
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures++
				}
			},
		})
		require.NoError(t, err)
	}
	q.Close()

	assert.Equal(t, int32(10), atomic.LoadInt32(&p.count))
	assert.Equal(t, 10, failures)
}

func TestQueue_SubmitHonoursContext(t *testing.T) {
	q := NewQueue(quietLogger(), 1, 1)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, q.Start(context.Background(), ProcessorFunc(func(ctx context.Context, item WorkItem) (Job, error) {
		started <- struct{}{}
		<-block
		return item.Job, nil
	})))
	defer func() {
		close(block)
		q.Close()
	}()

	require.NoError(t, q.Submit(context.Background(), WorkItem{}))
	<-started
	require.NoError(t, q.Submit(context.Background(), WorkItem{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Submit(ctx, WorkItem{}), context.DeadlineExceeded)
}
