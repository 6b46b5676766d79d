package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/postpainter/internal/analyzer"
	"github.com/jo-hoe/postpainter/internal/cms"
	"github.com/jo-hoe/postpainter/internal/cms/fake"
	"github.com/jo-hoe/postpainter/internal/config"
	"github.com/jo-hoe/postpainter/internal/crawl"
	"github.com/jo-hoe/postpainter/internal/jobs"
	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/llm/mock"
	"github.com/jo-hoe/postpainter/internal/provider"
	"github.com/jo-hoe/postpainter/internal/retry"
)

var (
	textCfg  = provider.Config{Provider: provider.OpenAI, APIKey: "k", Model: "gpt-4o-mini"}
	imageCfg = provider.Config{Provider: provider.OpenAI, APIKey: "k"}
	settings = llm.ImageSettings{Format: "image/jpeg", Quality: 80, AspectRatio: llm.AspectLandscape}
)

const sentence = " This sentence is long enough to make the paragraph count for placement."

func body(paragraphs int) string {
	var b strings.Builder
	for i := 1; i <= paragraphs; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d.%s</p>\n", i, sentence)
	}
	return b.String()
}

func post(id int64) cms.Post {
	return cms.Post{ID: id, Title: fmt.Sprintf("Post %d", id), Content: body(4), Link: fmt.Sprintf("https://blog.example.com/?p=%d", id)}
}

func promptPostIDs(prompt string) []int64 {
	var ids []int64
	for _, line := range strings.Split(prompt, "\n") {
		var id int64
		if _, err := fmt.Sscanf(line, "Post ID: %d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// textReplies answers batch, single-brief and placement prompts.
func textReplies(failBatch bool) func(ctx context.Context, req llm.TextRequest) (string, error) {
	return func(ctx context.Context, req llm.TextRequest) (string, error) {
		ids := promptPostIDs(req.Prompt)
		switch {
		case strings.Contains(req.Prompt, "JSON array"):
			if failBatch {
				return "I cannot help with that.", nil
			}
			var entries []analyzer.Brief
			for _, id := range ids {
				entries = append(entries, analyzer.Brief{PostID: id, Brief: fmt.Sprintf("scene %d", id), AltText: fmt.Sprintf("alt %d", id)})
			}
			b, _ := json.Marshal(entries)
			return string(b), nil
		case strings.Contains(req.Prompt, "JSON object"):
			return fmt.Sprintf(`{"brief":"single scene %d","altText":"single alt %d"}`, ids[0], ids[0]), nil
		default:
			return "2", nil
		}
	}
}

type harness struct {
	cms      *fake.Gateway
	text     *mock.Backend
	image    *mock.Backend
	store    *jobs.SQLiteStore
	pipeline *Pipeline
	runner   *Runner
	archive  *fakeArchiver

	mu     sync.Mutex
	events []jobs.Job
}

type harnessOptions struct {
	featured  config.FeaturedPolicy
	imageCfg  *provider.Config
	failBatch bool
	runner    RunnerOptions
}

func newHarness(t *testing.T, ho harnessOptions, posts ...cms.Post) *harness {
	t.Helper()
	h := &harness{
		cms:     fake.New(posts...),
		text:    mock.New(provider.OpenAI),
		image:   mock.New(provider.OpenAI),
		archive: &fakeArchiver{},
	}
	h.text.TextFunc = textReplies(ho.failBatch)

	noSleep := func(context.Context, time.Duration) error { return nil }
	gw := llm.NewGateway(llm.Options{Timeout: 5 * time.Second, Retry: retry.Policy{Sleep: noSleep}})
	gw.Register(provider.KindText, provider.OpenAI, h.text.Factory())
	gw.Register(provider.KindImage, provider.OpenAI, h.image.Factory())

	store, err := jobs.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	h.store = store

	an := analyzer.New(gw, textCfg, analyzer.Options{Sleep: noSleep})
	img := imageCfg
	if ho.imageCfg != nil {
		img = *ho.imageCfg
	}
	h.pipeline = NewPipeline(Deps{
		CMS:           h.cms,
		Fetcher:       h.cms,
		Images:        gw,
		Analyzer:      an,
		Store:         store,
		Archiver:      h.archive,
		Observers:     []Observer{h.observe},
		Credentials:   cms.Credentials{SiteURL: "https://blog.example.com", Username: "u", Password: "p"},
		ImageProvider: img,
		ImageSettings: settings,
		Featured:      ho.featured,
	})
	ro := ho.runner
	if ro.Sleep == nil {
		ro.Sleep = noSleep
	}
	h.runner = NewRunner(nil, crawl.New(h.cms, 2, nil), an, h.pipeline, store, cms.Credentials{}, ro)
	return h
}

func (h *harness) observe(j jobs.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, j)
}

// statuses returns the distinct status sequence observed for a post.
func (h *harness) statuses(postID int64) []jobs.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []jobs.Status
	for _, e := range h.events {
		if e.Post.ID != postID {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != e.Status {
			out = append(out, e.Status)
		}
	}
	return out
}

type fakeArchiver struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeArchiver) Archive(ctx context.Context, runID, fileName string, data []byte, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	key := runID + "/" + fileName
	f.keys = append(f.keys, key)
	return key, nil
}
