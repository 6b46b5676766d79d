// Package crawl enumerates a site's posts and summarizes which of them
// already carry imagery.
package crawl

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jo-hoe/postpainter/internal/cms"
	"github.com/jo-hoe/postpainter/internal/common"
)

// Audit counts existing imagery across crawled posts.
type Audit struct {
	Total            int `json:"total"`
	WithFeatured     int `json:"withFeatured"`
	WithInlineImages int `json:"withInlineImages"`
	WithoutImagery   int `json:"withoutImagery"`
}

// Result is a completed crawl.
type Result struct {
	Posts []cms.Post
	Audit Audit
}

// ProgressFunc reports fetched posts against the announced total.
type ProgressFunc func(fetched, total int)

type Crawler struct {
	gw       cms.Gateway
	pageSize int
	log      *slog.Logger
}

func New(gw cms.Gateway, pageSize int, logger *slog.Logger) *Crawler {
	if pageSize <= 0 || pageSize > common.DefaultPageSize {
		pageSize = common.DefaultPageSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Crawler{gw: gw, pageSize: pageSize, log: logger}
}

// Crawl counts posts, then fetches them page by page. Any error aborts the
// crawl; the caller treats it as a connectivity problem.
func (c *Crawler) Crawl(ctx context.Context, creds cms.Credentials, progress ProgressFunc) (Result, error) {
	total, err := c.gw.CountPosts(ctx, creds)
	if err != nil {
		return Result{}, fmt.Errorf("count posts: %w", err)
	}
	c.log.Info("crawling posts", "total", total, "page_size", c.pageSize)

	posts := make([]cms.Post, 0, total)
	seen := make(map[int64]bool, total)
	pages := (total + c.pageSize - 1) / c.pageSize
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		batch, err := c.gw.ListPosts(ctx, creds, page, c.pageSize)
		if err != nil {
			return Result{}, fmt.Errorf("list posts page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, p := range batch {
			// Posts published mid-crawl shift pages; skip repeats.
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			posts = append(posts, p)
		}
		if progress != nil {
			progress(len(posts), total)
		}
		c.log.Debug("fetched page", "page", page, "posts", len(batch))
	}
	return Result{Posts: posts, Audit: AuditPosts(posts)}, nil
}

// AuditPosts summarizes imagery. A post may count as both featured and inline.
func AuditPosts(posts []cms.Post) Audit {
	a := Audit{Total: len(posts)}
	for _, p := range posts {
		if p.FeaturedMediaID != 0 {
			a.WithFeatured++
		}
		if p.ImageCount > 0 {
			a.WithInlineImages++
		}
		if p.NeedsImagery() {
			a.WithoutImagery++
		}
	}
	return a
}

// Filter keeps posts needing imagery when onlyMissing is set.
func Filter(posts []cms.Post, onlyMissing bool) []cms.Post {
	out := make([]cms.Post, 0, len(posts))
	for _, p := range posts {
		if onlyMissing && !p.NeedsImagery() {
			continue
		}
		out = append(out, p)
	}
	return out
}
