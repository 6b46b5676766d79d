// Package pollinations is the free, unauthenticated image backend.
package pollinations

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/h2non/filetype"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/provider"
)

var _ llm.ImageGenerator = (*Client)(nil)

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func New(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if strings.TrimSpace(baseURL) == "" {
		spec, _ := provider.Lookup(provider.KindImage, provider.Pollinations)
		baseURL = spec.BaseURL
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

func Factory(httpClient *http.Client, baseURL string) llm.Factory {
	return func(provider.Config) (llm.Backend, error) {
		return New(httpClient, baseURL), nil
	}
}

func (c *Client) Provider() provider.ID { return provider.Pollinations }

// GenerateImage fetches GET /prompt/{prompt}?width&height&model&nologo.
func (c *Client) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.Image, error) {
	w, h := req.Settings.AspectRatio.Dimensions()
	q := url.Values{}
	q.Set("width", strconv.Itoa(w))
	q.Set("height", strconv.Itoa(h))
	q.Set("nologo", "true")
	if req.Model != "" {
		q.Set("model", req.Model)
	}
	if neg := strings.TrimSpace(req.Settings.NegativePrompt); neg != "" {
		q.Set("negative_prompt", neg)
	}
	u := c.baseURL + "/prompt/" + url.PathEscape(req.Prompt) + "?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	data, err := llm.Send(ctx, c.httpClient, httpReq, provider.Pollinations)
	if err != nil {
		return nil, err
	}
	kind, err := filetype.Match(data)
	if err != nil || !filetype.IsImage(data) {
		return nil, &apperr.Error{Kind: apperr.KindMalformedResponse, Provider: string(provider.Pollinations), Message: "response is not an image"}
	}
	return &llm.Image{Data: data, MIMEType: kind.MIME.Value}, nil
}
