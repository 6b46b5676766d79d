package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/cms"
	"github.com/jo-hoe/postpainter/internal/content"
	"github.com/jo-hoe/postpainter/internal/llm"
)

const excerptChars = 600

// Brief is the generated image direction for one post.
type Brief struct {
	PostID  int64  `json:"postId"`
	Brief   string `json:"brief"`
	AltText string `json:"altText"`
}

var briefSchema = llm.Object(map[string]*llm.Schema{
	"postId":  llm.Integer("id of the post"),
	"brief":   llm.String("one or two sentences describing the image to generate"),
	"altText": llm.String("accessible alt text, under 125 characters"),
}, "postId", "brief", "altText")

var singleBriefSchema = llm.Object(map[string]*llm.Schema{
	"brief":   briefSchema.Properties["brief"],
	"altText": briefSchema.Properties["altText"],
}, "brief", "altText")

// ProgressFunc receives the number of posts processed so far and the total.
type ProgressFunc func(done, total int)

// GenerateBriefs splits posts into batches and requests briefs for each batch
// in order, sleeping between batches. The first failing batch stops the loop;
// briefs gathered so far are returned together with a *BatchError.
func (a *Analyzer) GenerateBriefs(ctx context.Context, posts []cms.Post, progress ProgressFunc) (map[int64]Brief, error) {
	out := make(map[int64]Brief, len(posts))
	total := len(posts)
	batch := 0
	for i := 0; i < total; i += a.opts.BatchSize {
		if i > 0 {
			if err := a.opts.Sleep(ctx, a.opts.BatchDelay); err != nil {
				return out, err
			}
		}
		end := i + a.opts.BatchSize
		if end > total {
			end = total
		}
		batch++
		chunk := posts[i:end]
		briefs, err := a.GenerateBriefBatch(ctx, chunk)
		if err != nil {
			ids := make([]int64, len(chunk))
			for j, p := range chunk {
				ids[j] = p.ID
			}
			return out, &BatchError{Batch: batch, PostIDs: ids, Err: err}
		}
		for _, b := range briefs {
			out[b.PostID] = b
		}
		a.log.Info("brief batch complete", "batch", batch, "posts", len(chunk), "briefs", len(briefs))
		if progress != nil {
			progress(end, total)
		}
	}
	return out, nil
}

// GenerateBriefBatch makes exactly one structured request for up to BatchSize posts.
func (a *Analyzer) GenerateBriefBatch(ctx context.Context, posts []cms.Post) ([]Brief, error) {
	if len(posts) == 0 {
		return nil, nil
	}
	reply, err := a.gen.GenerateJSON(ctx, a.text, batchPrompt(posts), llm.ArrayOf(briefSchema))
	if err != nil {
		return nil, err
	}
	var entries []Brief
	if err := llm.DecodeJSON(a.Provider(), reply, &entries); err != nil {
		return nil, err
	}
	inBatch := make(map[int64]bool, len(posts))
	for _, p := range posts {
		inBatch[p.ID] = true
	}
	seen := make(map[int64]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		e.Brief = strings.TrimSpace(e.Brief)
		e.AltText = strings.TrimSpace(e.AltText)
		switch {
		case !inBatch[e.PostID]:
			return nil, a.malformed(fmt.Sprintf("entry %d has unknown postId %d", i, e.PostID))
		case seen[e.PostID]:
			return nil, a.malformed(fmt.Sprintf("entry %d repeats postId %d", i, e.PostID))
		case e.Brief == "":
			return nil, a.malformed(fmt.Sprintf("entry for post %d is missing brief", e.PostID))
		case e.AltText == "":
			return nil, a.malformed(fmt.Sprintf("entry for post %d is missing altText", e.PostID))
		}
		seen[e.PostID] = true
	}
	return entries, nil
}

// GenerateBrief requests a brief for a single post.
func (a *Analyzer) GenerateBrief(ctx context.Context, post cms.Post) (Brief, error) {
	reply, err := a.gen.GenerateJSON(ctx, a.text, singlePrompt(post), singleBriefSchema)
	if err != nil {
		return Brief{}, err
	}
	var b Brief
	if err := llm.DecodeJSON(a.Provider(), reply, &b); err != nil {
		return Brief{}, err
	}
	b.PostID = post.ID
	b.Brief = strings.TrimSpace(b.Brief)
	b.AltText = strings.TrimSpace(b.AltText)
	if b.Brief == "" || b.AltText == "" {
		return Brief{}, a.malformed("brief or altText missing")
	}
	return b, nil
}

func (a *Analyzer) malformed(msg string) error {
	return &apperr.Error{Kind: apperr.KindMalformedResponse, Provider: a.Provider(), Message: msg}
}

const briefInstructions = `You are an art director for a blog. For each post below write:
- "brief": one or two sentences describing a single photographic or illustrative scene that fits the post. No text, logos or watermarks in the image.
- "altText": a concise description of that image for screen readers, under 125 characters.
`

func batchPrompt(posts []cms.Post) string {
	var b strings.Builder
	b.WriteString(briefInstructions)
	b.WriteString(`Return a JSON array with one object {"postId", "brief", "altText"} per post.`)
	b.WriteString("\n")
	for _, p := range posts {
		writePost(&b, p)
	}
	return b.String()
}

func singlePrompt(p cms.Post) string {
	var b strings.Builder
	b.WriteString(briefInstructions)
	b.WriteString(`Return a JSON object {"brief", "altText"}.`)
	b.WriteString("\n")
	writePost(&b, p)
	return b.String()
}

func writePost(b *strings.Builder, p cms.Post) {
	fmt.Fprintf(b, "\n---\nPost ID: %d\nTitle: %s\n", p.ID, p.Title)
	if ex := strings.TrimSpace(p.Excerpt); ex != "" {
		fmt.Fprintf(b, "Summary: %s\n", content.Excerpt(ex, 300))
	}
	if body := content.Markdown(p.Content); body != "" {
		fmt.Fprintf(b, "Content:\n%s\n", content.Excerpt(body, excerptChars))
	}
}
