// Package cms defines the narrow contract the pipeline needs from a CMS.
package cms

import (
	"context"
)

// Credentials authenticate against the site with HTTP Basic auth.
type Credentials struct {
	SiteURL  string
	Username string
	Password string // application password
}

// Post is a CMS post as seen by the pipeline.
type Post struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	Excerpt          string `json:"excerpt"`
	Content          string `json:"content"`
	Link             string `json:"link"`
	FeaturedMediaID  int64  `json:"featuredMediaId"`
	ImageCount       int    `json:"imageCount"`
	ExistingImageURL string `json:"existingImageUrl,omitempty"`
	ExistingImageAlt string `json:"existingImageAlt,omitempty"`
}

// NeedsImagery reports whether the post has neither a featured nor an inline image.
func (p Post) NeedsImagery() bool {
	return p.FeaturedMediaID == 0 && p.ImageCount == 0
}

// Media is an uploaded attachment.
type Media struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// PostPatch carries the fields to update; nil fields are left untouched.
type PostPatch struct {
	Content         *string
	FeaturedMediaID *int64
}

// Gateway is implemented by CMS bindings. Errors are *apperr.Error values
// carrying the transport status code.
type Gateway interface {
	CountPosts(ctx context.Context, creds Credentials) (int, error)
	ListPosts(ctx context.Context, creds Credentials, page, pageSize int) ([]Post, error)
	UploadMedia(ctx context.Context, creds Credentials, data []byte, fileName, mimeType, altText, caption string) (Media, error)
	PatchPost(ctx context.Context, creds Credentials, postID int64, patch PostPatch) (Post, error)
	PatchMediaAltText(ctx context.Context, creds Credentials, mediaID int64, altText string) error
}

// ImageFetcher downloads an image already hosted on the site.
type ImageFetcher interface {
	FetchImage(ctx context.Context, creds Credentials, url string) ([]byte, string, error)
}
