package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jo-hoe/postpainter/internal/analyzer"
	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/cms"
	"github.com/jo-hoe/postpainter/internal/common"
	"github.com/jo-hoe/postpainter/internal/crawl"
	"github.com/jo-hoe/postpainter/internal/jobs"
	"github.com/jo-hoe/postpainter/internal/retry"
)

// RunRequest selects what a run processes.
type RunRequest struct {
	OnlyMissing bool   `json:"onlyMissing"`
	MaxPosts    int    `json:"maxPosts,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
	// Progress receives brief-batch progress.
	Progress analyzer.ProgressFunc `json:"-"`
}

// RunSummary is the outcome of a run.
type RunSummary struct {
	RunID      string         `json:"runId"`
	Status     jobs.RunStatus `json:"status"`
	Message    string         `json:"message,omitempty"`
	Audit      crawl.Audit    `json:"audit"`
	Backlog    int            `json:"backlog"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	NotStarted int            `json:"notStarted"`
	Jobs       []jobs.Job     `json:"jobs"`
}

// RunnerOptions tune run execution.
type RunnerOptions struct {
	Concurrency     int
	QueueCapacity   int
	CallbackRetries int
	CallbackBackoff time.Duration
	// ShutdownGrace bounds the wait for in-flight posts once the run is
	// cancelled; zero waits for them.
	ShutdownGrace time.Duration
	HTTPClient    *http.Client
	Sleep         func(ctx context.Context, d time.Duration) error
}

// Runner crawls a site, builds the backlog and feeds it to the pipeline
// through a bounded worker queue.
type Runner struct {
	log      *slog.Logger
	crawler  *crawl.Crawler
	analyzer ContentAnalyzer
	pipeline *Pipeline
	store    jobs.Store
	creds    cms.Credentials
	opts     RunnerOptions
}

func NewRunner(log *slog.Logger, crawler *crawl.Crawler, an ContentAnalyzer, p *Pipeline, store jobs.Store, creds cms.Credentials, opts RunnerOptions) *Runner {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = common.DefaultWorkerCount
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = common.DefaultQueueCapacity
	}
	if opts.CallbackRetries <= 0 {
		opts.CallbackRetries = 3
	}
	if opts.CallbackBackoff <= 0 {
		opts.CallbackBackoff = 2 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.SleepContext
	}
	return &Runner{log: log, crawler: crawler, analyzer: an, pipeline: p, store: store, creds: creds, opts: opts}
}

// Prepare records a new running run so callers can hand out its id before
// Execute starts.
func (r *Runner) Prepare(req RunRequest) (*jobs.Run, error) {
	run := &jobs.Run{
		ID:          uuid.NewString(),
		Status:      jobs.RunRunning,
		CallbackURL: req.CallbackURL,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// Run prepares and executes a run.
func (r *Runner) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	run, err := r.Prepare(req)
	if err != nil {
		return RunSummary{}, err
	}
	return r.Execute(ctx, run, req)
}

// Execute processes run to completion. Crawl failures abort the run and are
// returned; per-post failures are recorded on the posts only.
func (r *Runner) Execute(ctx context.Context, run *jobs.Run, req RunRequest) (RunSummary, error) {
	log := r.log.With("run_id", run.ID)
	summary := RunSummary{RunID: run.ID}

	res, err := r.crawler.Crawl(ctx, r.creds, nil)
	if err != nil {
		log.Error("crawl failed", "err", err)
		return r.abort(ctx, run, summary, err)
	}
	summary.Audit = res.Audit

	selected := jobs.SortByPriority(crawl.Filter(res.Posts, req.OnlyMissing))
	if req.MaxPosts > 0 && len(selected) > req.MaxPosts {
		selected = selected[:req.MaxPosts]
	}
	backlog := jobs.NewBacklog(selected)
	summary.Backlog = backlog.Len()
	run.TotalPosts = res.Audit.Total
	run.Backlog = backlog.Len()
	if err := r.store.UpdateRun(run); err != nil {
		log.Warn("update run failed", "err", err)
	}
	log.Info("backlog ready", "crawled", res.Audit.Total, "backlog", backlog.Len())

	pending := make(map[int64]*jobs.Job, backlog.Len())
	for _, post := range backlog.Posts() {
		job := r.pipeline.NewJob(run.ID, post)
		if err := r.pipeline.Enqueue(job); err != nil {
			return r.abort(ctx, run, summary, fmt.Errorf("enqueue post %d: %w", post.ID, err))
		}
		pending[post.ID] = job
	}

	briefs, err := r.analyzer.GenerateBriefs(ctx, backlog.Posts(), req.Progress)
	if err != nil {
		var be *analyzer.BatchError
		if !errors.As(err, &be) {
			log.Warn("brief generation stopped", "err", err)
		} else {
			log.Warn("brief batch failed; remaining posts request briefs one by one", "batch", be.Batch, "err", be.Err)
		}
	}

	var mu sync.Mutex
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = r.opts.Concurrency
	}
	queue := jobs.NewQueue(log, r.opts.QueueCapacity, concurrency)
	proc := jobs.ProcessorFunc(func(ctx context.Context, item jobs.WorkItem) (jobs.Job, error) {
		job := pending[item.Job.Post.ID]
		pass := &Pass{Job: job}
		if b, ok := briefs[job.Post.ID]; ok {
			pass.Brief = &b
		}
		return r.pipeline.Run(ctx, pass)
	})
	if err := queue.Start(ctx, proc); err != nil {
		return r.abort(ctx, run, summary, fmt.Errorf("start queue: %w", err))
	}

	// Posts that finish after a bounded shutdown are not counted.
	closed := false
	done := func(job jobs.Job, err error) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		switch job.Status {
		case jobs.StatusSuccess:
			summary.Succeeded++
		case jobs.StatusError:
			summary.Failed++
		default:
			return
		}
		backlog.Complete(job.Post.ID)
	}
	for {
		post, ok := backlog.Next()
		if !ok {
			break
		}
		item := jobs.WorkItem{Job: jobs.Job{RunID: run.ID, Post: post, Status: jobs.StatusPending}, Done: done}
		if err := queue.Submit(ctx, item); err != nil {
			log.Info("stopped feeding backlog", "err", err)
			break
		}
	}
	drained := make(chan struct{})
	go func() {
		queue.Close()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		queue.Shutdown(r.opts.ShutdownGrace)
	}

	mu.Lock()
	closed = true
	summary.NotStarted = backlog.Remaining()
	mu.Unlock()
	if ctx.Err() != nil {
		summary.Status = jobs.RunCancelled
		summary.Message = "run cancelled"
	} else {
		summary.Status = jobs.RunCompleted
	}
	r.finish(ctx, run, &summary)
	log.Info("run finished", "status", summary.Status, "succeeded", summary.Succeeded, "failed", summary.Failed, "not_started", summary.NotStarted)
	return summary, nil
}

// abort ends run as failed because of err.
func (r *Runner) abort(ctx context.Context, run *jobs.Run, summary RunSummary, err error) (RunSummary, error) {
	summary.Status = jobs.RunFailed
	summary.Message = apperr.UserMessage(err)
	r.finish(ctx, run, &summary)
	return summary, err
}

// finish stores the final run state, attaches job snapshots and fires the callback.
func (r *Runner) finish(ctx context.Context, run *jobs.Run, s *RunSummary) {
	now := time.Now().UTC()
	run.Status = s.Status
	run.Message = s.Message
	run.Succeeded = s.Succeeded
	run.Failed = s.Failed
	run.CompletedAt = &now
	if err := r.store.UpdateRun(run); err != nil {
		r.log.Warn("update run failed", "run_id", run.ID, "err", err)
	}
	if list, err := r.store.ListJobs(run.ID); err == nil {
		s.Jobs = list
	} else {
		r.log.Warn("list jobs failed", "run_id", run.ID, "err", err)
	}

	if run.CallbackURL == "" {
		return
	}
	status := common.StatusCompleted
	var errMsg *string
	if s.Status != jobs.RunCompleted {
		status = common.StatusFailed
		m := s.Message
		errMsg = &m
	}
	payload := callbackPayload{RunID: run.ID, Status: status, Succeeded: s.Succeeded, Failed: s.Failed, Backlog: s.Backlog, Error: errMsg}
	// The callback still goes out for cancelled runs.
	if err := r.sendCallbackWithRetry(context.WithoutCancel(ctx), run.CallbackURL, payload); err != nil {
		r.log.Warn("callback failed after retries", "run_id", run.ID, "err", err)
	}
}

type callbackPayload struct {
	RunID     string  `json:"run_id"`
	Status    string  `json:"status"` // completed|failed
	Backlog   int     `json:"backlog"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Error     *string `json:"error,omitempty"`
}

func (r *Runner) sendCallbackWithRetry(ctx context.Context, url string, payload callbackPayload) error {
	policy := retry.Policy{
		Attempts:     r.opts.CallbackRetries,
		InitialDelay: r.opts.CallbackBackoff,
		Linear:       true,
		Retryable:    func(error) bool { return true },
		Sleep:        r.opts.Sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			r.log.Debug("callback failed, retrying", "url", url, "attempt", attempt, "delay", delay, "err", err)
		},
	}
	_, err := retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.postJSON(ctx, url, payload)
	})
	return err
}

func (r *Runner) postJSON(ctx context.Context, url string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)

	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback status %d", resp.StatusCode)
	}
	return nil
}
