// Package openaicompat implements chat completions for OpenAI-compatible
// vendors and OpenAI image generation.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/common"
	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/provider"
)

var (
	_ llm.TextGenerator  = (*Client)(nil)
	_ llm.ImageAnalyzer  = (*Client)(nil)
	_ llm.ImageGenerator = (*Client)(nil)
)

const (
	authSchemeBearer = "Bearer"

	endpointChatCompletions  = "v1/chat/completions"
	endpointImageGenerations = "v1/images/generations"

	contentTypeOctetStream = "application/octet-stream"
	dataURLPrefix          = "data:"
	dataURLBase64Sep       = ";base64,"

	finishContentFilter = "content_filter"
	defaultTemperature  = float32(0.7)
)

// Role represents the sender role for a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// PartType represents the type for a multimodal message part.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// Client talks to one OpenAI-compatible vendor.
type Client struct {
	id         provider.ID
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates a client for vendor id. An empty baseURL uses the vendor default.
func New(id provider.ID, httpClient *http.Client, baseURL, apiKey string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if strings.TrimSpace(baseURL) == "" {
		if spec, ok := provider.Lookup(provider.KindText, id); ok {
			baseURL = spec.BaseURL
		} else if spec, ok := provider.Lookup(provider.KindImage, id); ok {
			baseURL = spec.BaseURL
		}
	}
	return &Client{id: id, httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// Factory builds clients for vendor id.
func Factory(id provider.ID, httpClient *http.Client, baseURL string) llm.Factory {
	return func(cfg provider.Config) (llm.Backend, error) {
		return New(id, httpClient, baseURL, cfg.APIKey), nil
	}
}

func (c *Client) Provider() provider.ID { return c.id }

func (c *Client) GenerateText(ctx context.Context, req llm.TextRequest) (string, error) {
	var msgs []chatMessage
	if s := strings.TrimSpace(req.System); s != "" {
		msgs = append(msgs, chatMessage{Role: RoleSystem, Content: s})
	}
	msgs = append(msgs, chatMessage{Role: RoleUser, Content: req.Prompt})
	return c.complete(ctx, c.buildRequest(req.Model, msgs, req.Temperature, req.MaxTokens))
}

func (c *Client) AnalyzeImage(ctx context.Context, req llm.VisionRequest) (string, error) {
	if len(req.Image) == 0 {
		return "", apperr.Validation("image is empty")
	}
	prompt := req.Prompt
	msgs := []chatMessage{{
		Role: RoleUser,
		Content: []messagePart{
			{Type: PartText, Text: &prompt},
			{Type: PartImageURL, ImageURL: &imageURL{URL: buildDataURL(req.MIMEType, req.Image)}},
		},
	}}
	return c.complete(ctx, c.buildRequest(req.Model, msgs, nil, req.MaxTokens))
}

func (c *Client) buildRequest(model string, msgs []chatMessage, temperature *float32, maxTokens int) chatCompletionRequest {
	t := defaultTemperature
	if temperature != nil {
		t = *temperature
	}
	return chatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: &t,
		MaxTokens:   optionalInt(maxTokens),
	}
}

func (c *Client) complete(ctx context.Context, body chatCompletionRequest) (string, error) {
	raw, err := c.post(ctx, endpointChatCompletions, body)
	if err != nil {
		return "", err
	}
	var comp chatCompletionResponse
	if err := json.Unmarshal(raw, &comp); err != nil {
		return "", c.malformed("response is not valid JSON", err)
	}
	if len(comp.Choices) == 0 {
		return "", c.malformed("empty completion: no choices returned", nil)
	}
	choice := comp.Choices[0]
	if choice.FinishReason == finishContentFilter {
		return "", c.malformed("completion withheld by content filter", nil)
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", c.malformed("empty completion", nil)
	}
	return choice.Message.Content, nil
}

// GenerateImage calls the images endpoint asking for base64 output.
func (c *Client) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.Image, error) {
	raw, err := c.post(ctx, endpointImageGenerations, imageGenerationRequest{
		Model:          req.Model,
		Prompt:         req.Prompt,
		N:              1,
		Size:           imageSize(req.Settings.AspectRatio),
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, err
	}
	var out imageGenerationResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, c.malformed("response is not valid JSON", err)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, c.malformed("response contained no image", nil)
	}
	data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, c.malformed("image data is not valid base64", err)
	}
	return &llm.Image{Data: data, MIMEType: common.MimeImagePNG}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body any) ([]byte, error) {
	u, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("join url: %w", err)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(common.HeaderAuthorization, authSchemeBearer+" "+c.apiKey)
	}
	return llm.Send(ctx, c.httpClient, req, c.id)
}

func (c *Client) malformed(msg string, err error) error {
	return &apperr.Error{Kind: apperr.KindMalformedResponse, Provider: string(c.id), Message: msg, Err: err}
}

func imageSize(a llm.AspectRatio) string {
	switch a {
	case llm.AspectSquare:
		return "1024x1024"
	case llm.AspectPortrait:
		return "1024x1792"
	default:
		return "1792x1024"
	}
}

func buildDataURL(mime string, data []byte) string {
	mt := strings.TrimSpace(mime)
	if mt == "" {
		mt = contentTypeOctetStream
	}
	return dataURLPrefix + mt + dataURLBase64Sep + base64.StdEncoding.EncodeToString(data)
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

// OpenAI-compatible request/response types

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    Role `json:"role"`
	Content any  `json:"content"` // string or []messagePart
}

type messagePart struct {
	Type     PartType  `json:"type"`
	Text     *string   `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Choices []chatCompletionChoice `json:"choices"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      responseMsg `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type responseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type imageGenerationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageGenerationResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}
