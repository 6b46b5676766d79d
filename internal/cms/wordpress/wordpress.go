// Package wordpress implements cms.Gateway over the WordPress REST API (wp/v2).
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/cms"
	"github.com/jo-hoe/postpainter/internal/common"
	"github.com/jo-hoe/postpainter/internal/content"
)

var (
	_ cms.Gateway      = (*Client)(nil)
	_ cms.ImageFetcher = (*Client)(nil)
)

const (
	apiPrefix       = "wp-json/wp/v2"
	embedFeatured   = "wp:featuredmedia"
	maxErrorSnippet = 300
)

// Client is a WordPress REST client. It holds no credentials; they travel with each call.
type Client struct {
	http *http.Client
}

// New creates a client. Uses http.DefaultClient unless a custom client is provided via WithHTTPClient.
func New() *Client {
	return &Client{http: http.DefaultClient}
}

// WithHTTPClient allows tests to inject a custom HTTP client (e.g., pointing to httptest.Server).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// CountPosts reads X-WP-Total from a one-item page.
func (c *Client) CountPosts(ctx context.Context, creds cms.Credentials) (int, error) {
	q := url.Values{"per_page": {"1"}, "_fields": {"id"}}
	resp, _, err := c.do(ctx, creds, "count posts", http.MethodGet, "posts", q, nil, "")
	if err != nil {
		return 0, err
	}
	total, err := strconv.Atoi(resp.Header.Get(common.HeaderWPTotal))
	if err != nil {
		return 0, &apperr.Error{Kind: apperr.KindMalformedResponse, Op: "wordpress count posts", Message: "missing " + common.HeaderWPTotal + " header"}
	}
	return total, nil
}

// ListPosts fetches one page with featured media embedded and computes the image audit.
func (c *Client) ListPosts(ctx context.Context, creds cms.Credentials, page, pageSize int) ([]cms.Post, error) {
	q := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(pageSize)},
		"context":  {"edit"},
		"_embed":   {embedFeatured},
	}
	_, body, err := c.do(ctx, creds, "list posts", http.MethodGet, "posts", q, nil, "")
	if err != nil {
		return nil, err
	}
	var raw []wpPost
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &apperr.Error{Kind: apperr.KindMalformedResponse, Op: "wordpress list posts", Message: "response is not a post list", Err: err}
	}
	out := make([]cms.Post, 0, len(raw))
	for _, p := range raw {
		out = append(out, p.toPost())
	}
	return out, nil
}

// UploadMedia posts the image as multipart form data with alt text and caption fields.
func (c *Client) UploadMedia(ctx context.Context, creds cms.Credentials, data []byte, fileName, mimeType, altText, caption string) (cms.Media, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(fileName)))
	h.Set(common.HeaderContentType, mimeType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return cms.Media{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return cms.Media{}, fmt.Errorf("write file part: %w", err)
	}
	if altText != "" {
		_ = mw.WriteField("alt_text", altText)
	}
	if caption != "" {
		_ = mw.WriteField("caption", caption)
	}
	if err := mw.Close(); err != nil {
		return cms.Media{}, fmt.Errorf("close multipart: %w", err)
	}

	_, body, err := c.do(ctx, creds, "upload media", http.MethodPost, "media", nil, &buf, mw.FormDataContentType())
	if err != nil {
		return cms.Media{}, err
	}
	var m wpMedia
	if err := json.Unmarshal(body, &m); err != nil || m.ID == 0 {
		return cms.Media{}, &apperr.Error{Kind: apperr.KindMalformedResponse, Op: "wordpress upload media", Message: "response has no media id", Err: err}
	}
	return cms.Media{ID: m.ID, URL: m.SourceURL}, nil
}

// PatchPost updates content and/or featured media.
func (c *Client) PatchPost(ctx context.Context, creds cms.Credentials, postID int64, patch cms.PostPatch) (cms.Post, error) {
	payload := map[string]any{}
	if patch.Content != nil {
		payload["content"] = *patch.Content
	}
	if patch.FeaturedMediaID != nil {
		payload["featured_media"] = *patch.FeaturedMediaID
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return cms.Post{}, fmt.Errorf("marshal payload: %w", err)
	}
	q := url.Values{"context": {"edit"}}
	_, body, err := c.do(ctx, creds, "patch post", http.MethodPost, fmt.Sprintf("posts/%d", postID), q, bytes.NewReader(b), common.ContentTypeJSON)
	if err != nil {
		return cms.Post{}, err
	}
	var p wpPost
	if err := json.Unmarshal(body, &p); err != nil {
		return cms.Post{}, &apperr.Error{Kind: apperr.KindMalformedResponse, Op: "wordpress patch post", Message: "response is not a post", Err: err}
	}
	return p.toPost(), nil
}

// PatchMediaAltText sets alt_text on an attachment.
func (c *Client) PatchMediaAltText(ctx context.Context, creds cms.Credentials, mediaID int64, altText string) error {
	b, err := json.Marshal(map[string]string{"alt_text": altText})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, _, err = c.do(ctx, creds, "patch media", http.MethodPost, fmt.Sprintf("media/%d", mediaID), nil, bytes.NewReader(b), common.ContentTypeJSON)
	return err
}

// FetchImage downloads an image URL, sending credentials only to the configured site.
func (c *Client) FetchImage(ctx context.Context, creds cms.Credentials, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	if site, err := url.Parse(creds.SiteURL); err == nil && site.Host == req.URL.Host {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", &apperr.Error{Kind: apperr.KindTransport, Op: "wordpress fetch image", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &apperr.Error{Kind: apperr.KindTransport, Op: "wordpress fetch image", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", apperr.FromStatus("wordpress fetch image", resp.StatusCode, "")
	}
	return body, resp.Header.Get(common.HeaderContentType), nil
}

func (c *Client) do(ctx context.Context, creds cms.Credentials, op, method, resource string, q url.Values, body io.Reader, contentType string) (*http.Response, []byte, error) {
	op = "wordpress " + op
	u, err := endpoint(creds.SiteURL, resource, q)
	if err != nil {
		return nil, nil, &apperr.Error{Kind: apperr.KindValidation, Op: op, Message: "invalid site URL", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, nil, fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Accept", common.ContentTypeJSON)
	if contentType != "" {
		req.Header.Set(common.HeaderContentType, contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, nil, &apperr.Error{Kind: apperr.KindTransport, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &apperr.Error{Kind: apperr.KindTransport, Op: op, Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr apiError
		msg := ""
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		} else if len(data) > maxErrorSnippet {
			msg = string(data[:maxErrorSnippet])
		} else {
			msg = string(data)
		}
		return nil, nil, apperr.FromStatus(op, resp.StatusCode, msg)
	}
	return resp, data, nil
}

func endpoint(site, resource string, q url.Values) (string, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return "", errors.New("site URL is empty")
	}
	base, err := url.Parse(site)
	if err != nil {
		return "", err
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", base.Scheme)
	}
	u := base.JoinPath(apiPrefix, resource)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// Payload and response structures

type rendered struct {
	Raw      string `json:"raw"`
	Rendered string `json:"rendered"`
}

func (r rendered) best() string {
	if r.Raw != "" {
		return r.Raw
	}
	return r.Rendered
}

type wpPost struct {
	ID            int64    `json:"id"`
	Link          string   `json:"link"`
	Title         rendered `json:"title"`
	Excerpt       rendered `json:"excerpt"`
	Content       rendered `json:"content"`
	FeaturedMedia int64    `json:"featured_media"`
	Embedded      struct {
		FeaturedMedia []wpMedia `json:"wp:featuredmedia"`
	} `json:"_embedded"`
}

type wpMedia struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
	AltText   string `json:"alt_text"`
}

func (p wpPost) toPost() cms.Post {
	body := p.Content.best()
	post := cms.Post{
		ID:              p.ID,
		Title:           content.PlainText(p.Title.best()),
		Excerpt:         content.PlainText(p.Excerpt.best()),
		Content:         body,
		Link:            p.Link,
		FeaturedMediaID: p.FeaturedMedia,
		ImageCount:      content.ImageCount(body),
	}
	if len(p.Embedded.FeaturedMedia) > 0 && p.Embedded.FeaturedMedia[0].SourceURL != "" {
		post.ExistingImageURL = p.Embedded.FeaturedMedia[0].SourceURL
		post.ExistingImageAlt = p.Embedded.FeaturedMedia[0].AltText
	} else if src, alt, ok := content.FirstImage(body); ok {
		post.ExistingImageURL = src
		post.ExistingImageAlt = alt
	}
	return post
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
