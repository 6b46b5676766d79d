package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jo-hoe/postpainter/internal/common"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a store at path. An empty path or ":memory:" yields a
// private in-memory database that disappears with the process.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" || path == ":memory:" {
		dsn = fmt.Sprintf("file:postpainter-%s?mode=memory&cache=shared&_pragma=busy_timeout(%d)",
			uuid.NewString(), common.SQLiteBusyTimeoutMS)
	} else {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single writer; also keeps the in-memory database alive.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		message TEXT,
		total_posts INTEGER NOT NULL DEFAULT 0,
		backlog INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		callback_url TEXT,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE TABLE IF NOT EXISTS jobs (
		run_id TEXT NOT NULL,
		post_id INTEGER NOT NULL,
		post_json TEXT NOT NULL,
		status TEXT NOT NULL,
		status_message TEXT,
		brief TEXT,
		alt_text TEXT,
		placement TEXT,
		content_with_placeholder TEXT,
		image_json TEXT,
		analysis_json TEXT,
		updated_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		PRIMARY KEY (run_id, post_id)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateRun(run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.ID == "" {
		return errors.New("run.ID is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, status, message, total_posts, backlog, succeeded, failed, callback_url, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), nullString(run.Message), run.TotalPosts, run.Backlog, run.Succeeded, run.Failed,
		nullString(run.CallbackURL), formatTime(run.CreatedAt), formatTimePtr(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRun(run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	res, err := s.db.Exec(`UPDATE runs
		SET status = ?, message = ?, total_posts = ?, backlog = ?, succeeded = ?, failed = ?, completed_at = ?
		WHERE id = ?`,
		string(run.Status), nullString(run.Message), run.TotalPosts, run.Backlog, run.Succeeded, run.Failed,
		formatTimePtr(run.CompletedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT id, status, message, total_posts, backlog, succeeded, failed, callback_url, created_at, completed_at
		FROM runs WHERE id = ?`, id)
	var run Run
	var status string
	var msg, cb, created, completed sql.NullString
	if err := row.Scan(&run.ID, &status, &msg, &run.TotalPosts, &run.Backlog, &run.Succeeded, &run.Failed, &cb, &created, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = RunStatus(status)
	run.Message = msg.String
	run.CallbackURL = cb.String
	if t := parseTime(created); t != nil {
		run.CreatedAt = *t
	}
	run.CompletedAt = parseTime(completed)
	return &run, nil
}

// SaveJob writes the full job snapshot in one statement.
func (s *SQLiteStore) SaveJob(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.RunID == "" || job.Post.ID == 0 {
		return errors.New("job.RunID and job.Post.ID are required")
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now().UTC()
	}
	post, err := json.Marshal(job.Post)
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}
	img, err := marshalOptional(job.GeneratedImage)
	if err != nil {
		return fmt.Errorf("marshal image: %w", err)
	}
	analysis, err := marshalOptional(job.Analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO jobs (run_id, post_id, post_json, status, status_message, brief, alt_text, placement,
			content_with_placeholder, image_json, analysis_json, updated_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, post_id) DO UPDATE SET
			post_json = excluded.post_json,
			status = excluded.status,
			status_message = excluded.status_message,
			brief = excluded.brief,
			alt_text = excluded.alt_text,
			placement = excluded.placement,
			content_with_placeholder = excluded.content_with_placeholder,
			image_json = excluded.image_json,
			analysis_json = excluded.analysis_json,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		job.RunID, job.Post.ID, string(post), string(job.Status), nullString(job.StatusMessage),
		nullString(job.Brief), nullString(job.AltText), nullString(job.Placement),
		nullString(job.ContentWithPlaceholder), img, analysis,
		formatTime(job.UpdatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

const jobColumns = `run_id, post_json, status, status_message, brief, alt_text, placement,
	content_with_placeholder, image_json, analysis_json, updated_at, started_at, completed_at`

func (s *SQLiteStore) GetJob(runID string, postID int64) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE run_id = ? AND post_id = ?`, runID, postID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s/%d: %w", runID, postID, ErrNotFound)
	}
	return job, err
}

// ListJobs returns a run's jobs in the order they were first saved.
func (s *SQLiteStore) ListJobs(runID string) ([]Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var post, status string
	var msg, brief, alt, placement, content, img, analysis, updated, started, completed sql.NullString
	if err := row.Scan(&job.RunID, &post, &status, &msg, &brief, &alt, &placement, &content, &img, &analysis,
		&updated, &started, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal([]byte(post), &job.Post); err != nil {
		return nil, fmt.Errorf("decode post: %w", err)
	}
	job.Status = Status(status)
	job.StatusMessage = msg.String
	job.Brief = brief.String
	job.AltText = alt.String
	job.Placement = placement.String
	job.ContentWithPlaceholder = content.String
	if img.Valid && img.String != "" {
		var g GeneratedImage
		if err := json.Unmarshal([]byte(img.String), &g); err == nil {
			job.GeneratedImage = &g
		}
	}
	if analysis.Valid && analysis.String != "" {
		var a Analysis
		if err := json.Unmarshal([]byte(analysis.String), &a); err == nil {
			job.Analysis = &a
		}
	}
	if t := parseTime(updated); t != nil {
		job.UpdatedAt = *t
	}
	job.StartedAt = parseTime(started)
	job.CompletedAt = parseTime(completed)
	return &job, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalOptional(v any) (*string, error) {
	switch x := v.(type) {
	case *GeneratedImage:
		if x == nil {
			return nil, nil
		}
	case *Analysis:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
