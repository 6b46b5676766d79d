// Package processor drives posts through the imagery pipeline and
// orchestrates whole runs over a site's backlog.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jo-hoe/postpainter/internal/analyzer"
	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/cms"
	"github.com/jo-hoe/postpainter/internal/config"
	"github.com/jo-hoe/postpainter/internal/content"
	"github.com/jo-hoe/postpainter/internal/jobs"
	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/provider"
	"github.com/jo-hoe/postpainter/internal/storage"
)

// ContentAnalyzer is what the pipeline needs from the analyzer.
type ContentAnalyzer interface {
	GenerateBriefs(ctx context.Context, posts []cms.Post, progress analyzer.ProgressFunc) (map[int64]analyzer.Brief, error)
	GenerateBrief(ctx context.Context, post cms.Post) (analyzer.Brief, error)
	Place(ctx context.Context, post cms.Post) analyzer.Placement
	AnalyzeImage(ctx context.Context, post cms.Post, image []byte, mimeType string) (analyzer.Analysis, error)
}

// ImageGenerator is the image half of the provider gateway.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, cfg provider.Config, prompt string, settings llm.ImageSettings, opts ...llm.CallOption) (*llm.Image, error)
}

// Archiver copies generated images somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, runID, fileName string, data []byte, mimeType string) (string, error)
}

// Observer receives a copy of every saved job snapshot.
type Observer func(jobs.Job)

var (
	_ ContentAnalyzer = (*analyzer.Analyzer)(nil)
	_ ImageGenerator  = (*llm.Gateway)(nil)
	_ Archiver        = (*storage.S3Archiver)(nil)
)

// errCancelled is recorded on posts interrupted between stages.
var errCancelled = errors.New("run cancelled")

// Deps wires a Pipeline.
type Deps struct {
	Logger    *slog.Logger
	CMS       cms.Gateway
	Fetcher   cms.ImageFetcher // optional, needed for Recheck
	Images    ImageGenerator
	Analyzer  ContentAnalyzer
	Store     jobs.Store
	Archiver  Archiver // optional
	Observers []Observer

	Credentials   cms.Credentials
	ImageProvider provider.Config
	ImageSettings llm.ImageSettings
	Featured      config.FeaturedPolicy
}

// Pipeline advances single posts through the state machine. It is safe for
// concurrent use by several workers, each owning a different post.
type Pipeline struct {
	d   Deps
	log *slog.Logger
	now func() time.Time
}

func NewPipeline(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Featured == "" {
		d.Featured = config.FeaturedIfMissing
	}
	d.ImageProvider.Kind = provider.KindImage
	return &Pipeline{d: d, log: d.Logger, now: func() time.Time { return time.Now().UTC() }}
}

// Pass is one post's trip through the pipeline. Brief is optional; when nil
// the brief is requested for this post alone.
type Pass struct {
	Job   *jobs.Job
	Brief *analyzer.Brief

	image *storage.Prepared
}

// NewJob creates the idle job for post in run.
func (p *Pipeline) NewJob(runID string, post cms.Post) *jobs.Job {
	return &jobs.Job{RunID: runID, Post: post, Status: jobs.StatusIdle, UpdatedAt: p.now()}
}

// Enqueue moves an idle job to pending and records it.
func (p *Pipeline) Enqueue(job *jobs.Job) error {
	if err := job.Transition(jobs.StatusPending, "waiting in backlog"); err != nil {
		return err
	}
	p.save(job)
	return nil
}

// Run advances pass until it reaches a terminal status. A pending post whose
// context is already cancelled stays pending. The returned error is the
// stage failure, already recorded on the job.
func (p *Pipeline) Run(ctx context.Context, pass *Pass) (jobs.Job, error) {
	job := pass.Job
	if job.Status == jobs.StatusPending && ctx.Err() != nil {
		return job.Clone(), ctx.Err()
	}
	for !job.Status.Terminal() {
		if _, err := p.advance(ctx, pass); err != nil {
			return job.Clone(), err
		}
	}
	return job.Clone(), nil
}

// advance performs the effect of entering the next happy-path state and
// returns that state. On failure the job is moved to error instead.
func (p *Pipeline) advance(ctx context.Context, pass *Pass) (jobs.Status, error) {
	job := pass.Job
	next, ok := jobs.Next(job.Status)
	if !ok {
		return job.Status, fmt.Errorf("no transition from %s", job.Status)
	}
	// From inserting on the post body carries the image, so the pass
	// finishes even when the run is cancelled.
	if ctx.Err() != nil && !patched(job.Status) {
		return p.fail(job, errCancelled)
	}
	if patched(next) {
		ctx = context.WithoutCancel(ctx)
	}
	if job.StartedAt == nil {
		t := p.now()
		job.StartedAt = &t
	}
	msg := stageMessage(next)
	if next == jobs.StatusSuccess {
		t := p.now()
		job.CompletedAt = &t
		msg = "image placed"
	}
	if err := job.Transition(next, msg); err != nil {
		return job.Status, err
	}
	p.save(job)

	var err error
	switch next {
	case jobs.StatusGeneratingBrief:
		err = p.brief(ctx, pass)
	case jobs.StatusAnalyzingPlacement:
		p.place(ctx, job)
	case jobs.StatusGeneratingImage:
		err = p.generate(ctx, pass)
	case jobs.StatusUploading:
		err = p.upload(ctx, pass)
	case jobs.StatusInserting:
		err = p.insert(ctx, job)
	case jobs.StatusSettingFeatured:
		err = p.feature(ctx, job)
	case jobs.StatusUpdatingMeta:
		err = p.updateMeta(ctx, job)
	}
	if err != nil {
		return p.fail(job, err)
	}
	return next, nil
}

func patched(s jobs.Status) bool {
	switch s {
	case jobs.StatusInserting, jobs.StatusSettingFeatured, jobs.StatusUpdatingMeta, jobs.StatusSuccess:
		return true
	}
	return false
}

func (p *Pipeline) brief(ctx context.Context, pass *Pass) error {
	b := pass.Brief
	if b == nil || b.Brief == "" || b.AltText == "" {
		got, err := p.d.Analyzer.GenerateBrief(ctx, pass.Job.Post)
		if err != nil {
			return err
		}
		b = &got
	}
	pass.Job.Brief = b.Brief
	pass.Job.AltText = b.AltText
	p.save(pass.Job)
	return nil
}

// place never fails: the analyzer downgrades to the heuristic on its own.
func (p *Pipeline) place(ctx context.Context, job *jobs.Job) {
	pl := p.d.Analyzer.Place(ctx, job.Post)
	job.ContentWithPlaceholder = pl.Content
	job.Placement = string(pl.Source)
	if pl.After == 0 {
		job.StatusMessage = fmt.Sprintf("image goes before the first paragraph (%s)", pl.Source)
	} else {
		job.StatusMessage = fmt.Sprintf("image goes after paragraph %d of %d (%s)", pl.After, pl.Paragraphs, pl.Source)
	}
	p.save(job)
}

func (p *Pipeline) generate(ctx context.Context, pass *Pass) error {
	job := pass.Job
	settings := p.d.ImageSettings
	img, err := p.d.Images.GenerateImage(ctx, p.d.ImageProvider, llm.ImagePrompt(job.Brief, settings), settings)
	if err != nil {
		return err
	}
	prepared, err := storage.Prepare(img.Data, storage.Encoding{Format: settings.Format, Quality: settings.Quality}, job.Post.Title)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Provider == "" {
			ae.Provider = string(p.d.ImageProvider.Provider)
		}
		return err
	}
	pass.image = &prepared

	if p.d.Archiver != nil {
		key, err := p.d.Archiver.Archive(ctx, job.RunID, prepared.FileName, prepared.Data, prepared.MIMEType)
		if err != nil {
			p.log.Warn("archive generated image failed", "run_id", job.RunID, "post_id", job.Post.ID, "err", err)
		} else {
			p.log.Debug("archived generated image", "post_id", job.Post.ID, "key", key)
		}
	}
	return nil
}

func (p *Pipeline) upload(ctx context.Context, pass *Pass) error {
	job := pass.Job
	if pass.image == nil {
		return errors.New("no generated image to upload")
	}
	img := pass.image
	media, err := p.d.CMS.UploadMedia(ctx, p.d.Credentials, img.Data, img.FileName, img.MIMEType, job.AltText, job.Post.Title)
	if err != nil {
		return err
	}
	job.GeneratedImage = &jobs.GeneratedImage{
		URL:      media.URL,
		Alt:      job.AltText,
		MediaID:  media.ID,
		Brief:    job.Brief,
		MIMEType: img.MIMEType,
		FileName: img.FileName,
	}
	// Bytes are no longer needed once the CMS holds them.
	pass.image = nil
	p.save(job)
	return nil
}

func (p *Pipeline) insert(ctx context.Context, job *jobs.Job) error {
	gi := job.GeneratedImage
	if gi == nil {
		return errors.New("no uploaded image to insert")
	}
	body, ok := content.ReplaceMarker(job.ContentWithPlaceholder, gi.URL, gi.Alt, gi.MediaID)
	if !ok {
		return errors.New("placement marker missing from rewritten content")
	}
	if _, err := p.d.CMS.PatchPost(ctx, p.d.Credentials, job.Post.ID, cms.PostPatch{Content: &body}); err != nil {
		return err
	}
	job.Post.Content = body
	job.Post.ImageCount = content.ImageCount(body)
	return nil
}

func (p *Pipeline) feature(ctx context.Context, job *jobs.Job) error {
	switch {
	case p.d.Featured == config.FeaturedNever:
		job.StatusMessage = "featured image left unchanged"
		p.save(job)
		return nil
	case p.d.Featured == config.FeaturedIfMissing && job.Post.FeaturedMediaID != 0:
		job.StatusMessage = "post already has a featured image"
		p.save(job)
		return nil
	}
	id := job.GeneratedImage.MediaID
	if _, err := p.d.CMS.PatchPost(ctx, p.d.Credentials, job.Post.ID, cms.PostPatch{FeaturedMediaID: &id}); err != nil {
		return err
	}
	job.Post.FeaturedMediaID = id
	return nil
}

func (p *Pipeline) updateMeta(ctx context.Context, job *jobs.Job) error {
	return p.d.CMS.PatchMediaAltText(ctx, p.d.Credentials, job.GeneratedImage.MediaID, job.GeneratedImage.Alt)
}

// Recheck runs the vision side path on a post's existing image.
func (p *Pipeline) Recheck(ctx context.Context, runID string, post cms.Post) (jobs.Job, error) {
	job := p.NewJob(runID, post)
	t := p.now()
	job.StartedAt = &t
	if err := job.Transition(jobs.StatusAnalyzing, "analyzing existing image"); err != nil {
		return job.Clone(), err
	}
	p.save(job)

	if post.ExistingImageURL == "" {
		_, err := p.fail(job, apperr.Validation("post %d has no image to analyze", post.ID))
		return job.Clone(), err
	}
	if p.d.Fetcher == nil {
		_, err := p.fail(job, errors.New("image fetching is not available for this site"))
		return job.Clone(), err
	}
	data, mimeType, err := p.d.Fetcher.FetchImage(ctx, p.d.Credentials, post.ExistingImageURL)
	if err != nil {
		_, err = p.fail(job, err)
		return job.Clone(), err
	}
	if mimeType == "" {
		if mimeType, err = storage.Detect(data); err != nil {
			_, err = p.fail(job, err)
			return job.Clone(), err
		}
	}
	a, err := p.d.Analyzer.AnalyzeImage(ctx, post, data, mimeType)
	if err != nil {
		_, err = p.fail(job, err)
		return job.Clone(), err
	}
	job.Analysis = &jobs.Analysis{QualityScore: a.QualityScore, AltText: a.AltText, Brief: a.Brief, Regenerate: a.Regenerate}
	msg := fmt.Sprintf("quality %d/10", a.QualityScore)
	if a.Regenerate {
		msg += ", regeneration recommended"
	}
	if err := job.Transition(jobs.StatusAnalysisSuccess, msg); err != nil {
		return job.Clone(), err
	}
	done := p.now()
	job.CompletedAt = &done
	p.save(job)
	return job.Clone(), nil
}

// fail records err on job and moves it to error.
func (p *Pipeline) fail(job *jobs.Job, err error) (jobs.Status, error) {
	msg := apperr.UserMessage(err)
	if errors.Is(err, errCancelled) {
		msg = errCancelled.Error()
	}
	if terr := job.Transition(jobs.StatusError, msg); terr != nil {
		return job.Status, terr
	}
	t := p.now()
	job.CompletedAt = &t
	p.save(job)
	p.log.Warn("post failed", "run_id", job.RunID, "post_id", job.Post.ID, "kind", apperr.KindOf(err).String(), "err", err)
	return jobs.StatusError, err
}

// save replaces the stored snapshot and notifies observers with copies.
func (p *Pipeline) save(job *jobs.Job) {
	job.UpdatedAt = p.now()
	if p.d.Store != nil {
		snap := job.Clone()
		if err := p.d.Store.SaveJob(&snap); err != nil {
			p.log.Warn("save job snapshot failed", "run_id", job.RunID, "post_id", job.Post.ID, "err", err)
		}
	}
	for _, o := range p.d.Observers {
		o(job.Clone())
	}
}

func stageMessage(s jobs.Status) string {
	switch s {
	case jobs.StatusGeneratingBrief:
		return "writing image brief"
	case jobs.StatusAnalyzingPlacement:
		return "choosing where the image goes"
	case jobs.StatusGeneratingImage:
		return "generating image"
	case jobs.StatusUploading:
		return "uploading image"
	case jobs.StatusInserting:
		return "inserting image into post"
	case jobs.StatusSettingFeatured:
		return "setting featured image"
	case jobs.StatusUpdatingMeta:
		return "updating alt text"
	}
	return ""
}
