// Package fake is an in-memory cms.Gateway for tests and dry runs.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/cms"
	"github.com/jo-hoe/postpainter/internal/common"
	"github.com/jo-hoe/postpainter/internal/content"
)

// Upload records one UploadMedia call.
type Upload struct {
	MediaID  int64
	FileName string
	MIMEType string
	AltText  string
	Caption  string
	Data     []byte
}

// Gateway keeps posts and media in memory. The Fail* hooks inject errors
// per post or media id; returning nil lets the call succeed.
type Gateway struct {
	MediaBaseURL string

	CountErr      error
	ListErr       func(page int) error
	UploadErr     func(fileName string) error
	PatchErr      func(postID int64, patch cms.PostPatch) error
	MediaPatchErr func(mediaID int64) error

	mu          sync.Mutex
	posts       map[int64]cms.Post
	order       []int64
	nextMediaID int64
	uploads     []Upload
	patches     map[int64][]cms.PostPatch
	mediaAlt    map[int64]string
	images      map[string][]byte
}

var (
	_ cms.Gateway      = (*Gateway)(nil)
	_ cms.ImageFetcher = (*Gateway)(nil)
)

func New(posts ...cms.Post) *Gateway {
	g := &Gateway{
		MediaBaseURL: "https://blog.example.com/wp-content/uploads",
		posts:        make(map[int64]cms.Post),
		nextMediaID:  1000,
		patches:      make(map[int64][]cms.PostPatch),
		mediaAlt:     make(map[int64]string),
		images:       make(map[string][]byte),
	}
	for _, p := range posts {
		g.posts[p.ID] = p
		g.order = append(g.order, p.ID)
	}
	return g
}

func (g *Gateway) CountPosts(ctx context.Context, creds cms.Credentials) (int, error) {
	if g.CountErr != nil {
		return 0, g.CountErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order), nil
}

func (g *Gateway) ListPosts(ctx context.Context, creds cms.Credentials, page, pageSize int) ([]cms.Post, error) {
	if g.ListErr != nil {
		if err := g.ListErr(page); err != nil {
			return nil, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	start := (page - 1) * pageSize
	if start >= len(g.order) {
		return nil, nil
	}
	end := min(start+pageSize, len(g.order))
	out := make([]cms.Post, 0, end-start)
	for _, id := range g.order[start:end] {
		out = append(out, g.posts[id])
	}
	return out, nil
}

func (g *Gateway) UploadMedia(ctx context.Context, creds cms.Credentials, data []byte, fileName, mimeType, altText, caption string) (cms.Media, error) {
	if g.UploadErr != nil {
		if err := g.UploadErr(fileName); err != nil {
			return cms.Media{}, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextMediaID++
	id := g.nextMediaID
	url := fmt.Sprintf("%s/%s", g.MediaBaseURL, fileName)
	g.uploads = append(g.uploads, Upload{MediaID: id, FileName: fileName, MIMEType: mimeType, AltText: altText, Caption: caption, Data: data})
	g.mediaAlt[id] = altText
	g.images[url] = data
	return cms.Media{ID: id, URL: url}, nil
}

func (g *Gateway) PatchPost(ctx context.Context, creds cms.Credentials, postID int64, patch cms.PostPatch) (cms.Post, error) {
	if g.PatchErr != nil {
		if err := g.PatchErr(postID, patch); err != nil {
			return cms.Post{}, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.posts[postID]
	if !ok {
		return cms.Post{}, apperr.FromStatus("patch post", 404, "post not found")
	}
	if patch.Content != nil {
		p.Content = *patch.Content
		p.ImageCount = content.ImageCount(p.Content)
	}
	if patch.FeaturedMediaID != nil {
		p.FeaturedMediaID = *patch.FeaturedMediaID
	}
	g.posts[postID] = p
	g.patches[postID] = append(g.patches[postID], patch)
	return p, nil
}

func (g *Gateway) PatchMediaAltText(ctx context.Context, creds cms.Credentials, mediaID int64, altText string) error {
	if g.MediaPatchErr != nil {
		if err := g.MediaPatchErr(mediaID); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.mediaAlt[mediaID]; !ok {
		return apperr.FromStatus("patch media", 404, "media not found")
	}
	g.mediaAlt[mediaID] = altText
	return nil
}

// FetchImage serves uploaded media and images registered with AddImage.
func (g *Gateway) FetchImage(ctx context.Context, creds cms.Credentials, url string) ([]byte, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.images[url]
	if !ok {
		return nil, "", apperr.FromStatus("fetch image", 404, "image not found")
	}
	return data, common.MimeImagePNG, nil
}

// AddImage registers bytes served by FetchImage.
func (g *Gateway) AddImage(url string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.images[url] = data
}

// Post returns the current state of a post.
func (g *Gateway) Post(id int64) (cms.Post, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.posts[id]
	return p, ok
}

// Uploads returns every recorded upload in call order.
func (g *Gateway) Uploads() []Upload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Upload(nil), g.uploads...)
}

// Patches returns the patches applied to a post.
func (g *Gateway) Patches(postID int64) []cms.PostPatch {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cms.PostPatch(nil), g.patches[postID]...)
}

// MediaAlt returns the current alt text of a media item.
func (g *Gateway) MediaAlt(mediaID int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mediaAlt[mediaID]
}

// PatchedPosts lists post ids that received at least one patch, ascending.
func (g *Gateway) PatchedPosts() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int64, 0, len(g.patches))
	for id := range g.patches {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
