package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jo-hoe/postpainter/internal/common"
	"github.com/jo-hoe/postpainter/internal/config"
	"github.com/jo-hoe/postpainter/internal/jobs"
	"github.com/jo-hoe/postpainter/internal/processor"
)

// RunExecutor starts runs. *processor.Runner implements it.
type RunExecutor interface {
	Prepare(req processor.RunRequest) (*jobs.Run, error)
	Execute(ctx context.Context, run *jobs.Run, req processor.RunRequest) (processor.RunSummary, error)
}

var _ RunExecutor = (*processor.Runner)(nil)

type Service struct {
	Log      *slog.Logger
	Cfg      *config.Config
	Store    jobs.Store
	Runner   RunExecutor
	Defaults processor.RunRequest

	// BaseContext bounds asynchronous runs; cancel it to stop them.
	BaseContext context.Context

	busy atomic.Bool
	wg   sync.WaitGroup
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc(http.MethodPost+" "+common.PathRuns, svc.withCommon(svc.handleCreateRun))
	mux.HandleFunc(http.MethodGet+" "+common.PathRuns+"/{id}", svc.withCommon(svc.handleGetRun))
	mux.HandleFunc(http.MethodGet+" "+common.PathRuns+"/{id}/posts/{postId}", svc.withCommon(svc.handleGetPost))

	return &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux, svc.Log), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
}

// Wait blocks until asynchronous runs have returned.
func (svc *Service) Wait() { svc.wg.Wait() }

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		if max := safeInt64(svc.Cfg.Server.MaxRequestSize); max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

type createRunRequest struct {
	OnlyMissing *bool  `json:"onlyMissing"`
	MaxPosts    *int   `json:"maxPosts"`
	Concurrency int    `json:"concurrency"`
	CallbackURL string `json:"callbackUrl"`
}

type createResponse struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
}

type errorResponse struct {
	Error string `json:"error"`
	RunID string `json:"run_id,omitempty"`
}

func (svc *Service) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var in createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req := svc.Defaults
	if in.OnlyMissing != nil {
		req.OnlyMissing = *in.OnlyMissing
	}
	if in.MaxPosts != nil {
		if *in.MaxPosts < 0 {
			writeError(w, http.StatusBadRequest, "maxPosts must not be negative")
			return
		}
		req.MaxPosts = *in.MaxPosts
	}
	if in.Concurrency < 0 || in.Concurrency > 16 {
		writeError(w, http.StatusBadRequest, "concurrency must be between 1 and 16")
		return
	}
	if in.Concurrency > 0 {
		req.Concurrency = in.Concurrency
	}
	if cb := strings.TrimSpace(in.CallbackURL); cb != "" {
		if _, err := url.ParseRequestURI(cb); err != nil {
			writeError(w, http.StatusBadRequest, "invalid callbackUrl")
			return
		}
		req.CallbackURL = cb
	}

	// One run at a time: parallel runs would race on the same posts.
	if !svc.busy.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	run, err := svc.Runner.Prepare(req)
	if err != nil {
		svc.busy.Store(false)
		svc.Log.Error("prepare run", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	svc.Log.Info("run created", "run_id", run.ID)

	prefer := strings.ToLower(strings.TrimSpace(r.Header.Get(common.HeaderPrefer)))
	if strings.Contains(prefer, common.PreferRespondAsync) {
		ctx := svc.BaseContext
		if ctx == nil {
			ctx = context.Background()
		}
		svc.wg.Add(1)
		go func() {
			defer svc.wg.Done()
			defer svc.busy.Store(false)
			if _, err := svc.Runner.Execute(ctx, run, req); err != nil {
				svc.Log.Warn("run failed", "run_id", run.ID, "err", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, createResponse{RunID: run.ID, StatusURL: path.Join(common.PathRuns, run.ID)})
		return
	}

	defer svc.busy.Store(false)
	summary, err := svc.Runner.Execute(r.Context(), run, req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: summary.Message, RunID: run.ID})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type jobOut struct {
	PostID         int64                `json:"post_id"`
	Title          string               `json:"title"`
	Link           string               `json:"link,omitempty"`
	Status         jobs.Status          `json:"status"`
	StatusMessage  string               `json:"status_message,omitempty"`
	Brief          string               `json:"brief,omitempty"`
	AltText        string               `json:"alt_text,omitempty"`
	Placement      string               `json:"placement,omitempty"`
	GeneratedImage *jobs.GeneratedImage `json:"generated_image,omitempty"`
	Analysis       *jobs.Analysis       `json:"analysis,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
}

type runOut struct {
	RunID       string         `json:"run_id"`
	Status      jobs.RunStatus `json:"status"`
	Message     string         `json:"message,omitempty"`
	TotalPosts  int            `json:"total_posts"`
	Backlog     int            `json:"backlog"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Posts       []jobOut       `json:"posts"`
}

func (svc *Service) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := svc.Store.GetRun(id)
	if err != nil {
		svc.notFoundOrError(w, err)
		return
	}
	list, err := svc.Store.ListJobs(id)
	if err != nil {
		svc.notFoundOrError(w, err)
		return
	}
	out := runOut{
		RunID:       run.ID,
		Status:      run.Status,
		Message:     run.Message,
		TotalPosts:  run.TotalPosts,
		Backlog:     run.Backlog,
		Succeeded:   run.Succeeded,
		Failed:      run.Failed,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
		Posts:       make([]jobOut, 0, len(list)),
	}
	for i := range list {
		out.Posts = append(out.Posts, toJobOut(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (svc *Service) handleGetPost(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(r.PathValue("postId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	job, err := svc.Store.GetJob(r.PathValue("id"), postID)
	if err != nil {
		svc.notFoundOrError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobOut(job))
}

func (svc *Service) notFoundOrError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	svc.Log.Error("store read", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func toJobOut(j *jobs.Job) jobOut {
	return jobOut{
		PostID:         j.Post.ID,
		Title:          j.Post.Title,
		Link:           j.Post.Link,
		Status:         j.Status,
		StatusMessage:  j.StatusMessage,
		Brief:          j.Brief,
		AltText:        j.AltText,
		Placement:      j.Placement,
		GeneratedImage: j.GeneratedImage,
		Analysis:       j.Analysis,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(common.HeaderContentType, common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic in handler", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
