package jobs

import (
	"errors"
	"time"

	"github.com/jo-hoe/postpainter/internal/cms"
)

// Status is the observable pipeline state of one post.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusPending            Status = "pending"
	StatusGeneratingBrief    Status = "generating_brief"
	StatusAnalyzingPlacement Status = "analyzing_placement"
	StatusGeneratingImage    Status = "generating_image"
	StatusUploading          Status = "uploading"
	StatusInserting          Status = "inserting"
	StatusSettingFeatured    Status = "setting_featured"
	StatusUpdatingMeta       Status = "updating_meta"
	StatusSuccess            Status = "success"
	StatusError              Status = "error"

	// Vision re-check side path.
	StatusAnalyzing       Status = "analyzing"
	StatusAnalysisSuccess Status = "analysis_success"
)

// GeneratedImage records the image placed on a post.
type GeneratedImage struct {
	URL      string `json:"url"`
	Alt      string `json:"alt"`
	MediaID  int64  `json:"mediaId"`
	Brief    string `json:"brief"`
	MIMEType string `json:"mimeType"`
	FileName string `json:"fileName"`
}

// Analysis is the outcome of a vision re-check of an existing image.
type Analysis struct {
	QualityScore int    `json:"qualityScore"`
	AltText      string `json:"altText"`
	Brief        string `json:"brief"`
	Regenerate   bool   `json:"regenerate"`
}

// Job is the pipeline's working projection of a post for one run.
type Job struct {
	RunID                  string          `json:"runId"`
	Post                   cms.Post        `json:"post"`
	Status                 Status          `json:"status"`
	StatusMessage          string          `json:"statusMessage,omitempty"`
	Brief                  string          `json:"brief,omitempty"`
	AltText                string          `json:"altText,omitempty"`
	Placement              string          `json:"placement,omitempty"`
	ContentWithPlaceholder string          `json:"-"`
	GeneratedImage         *GeneratedImage `json:"generatedImage,omitempty"`
	Analysis               *Analysis       `json:"analysis,omitempty"`
	UpdatedAt              time.Time       `json:"updatedAt"`
	StartedAt              *time.Time      `json:"startedAt,omitempty"`
	CompletedAt            *time.Time      `json:"completedAt,omitempty"`
}

// Clone returns a deep copy safe to hand to observers.
func (j Job) Clone() Job {
	c := j
	if j.GeneratedImage != nil {
		g := *j.GeneratedImage
		c.GeneratedImage = &g
	}
	if j.Analysis != nil {
		a := *j.Analysis
		c.Analysis = &a
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// RunStatus is the lifecycle of a processing pass over a backlog.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run summarizes one processing pass.
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	Message     string     `json:"message,omitempty"`
	TotalPosts  int        `json:"totalPosts"`
	Backlog     int        `json:"backlog"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	CallbackURL string     `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ErrNotFound is returned by stores for unknown runs or jobs.
var ErrNotFound = errors.New("not found")

// Store keeps run and job snapshots. SaveJob replaces the whole snapshot so
// readers never observe a half-updated post.
type Store interface {
	CreateRun(run *Run) error
	UpdateRun(run *Run) error
	GetRun(id string) (*Run, error)
	SaveJob(job *Job) error
	GetJob(runID string, postID int64) (*Job, error)
	ListJobs(runID string) ([]Job, error)
	Close() error
}
