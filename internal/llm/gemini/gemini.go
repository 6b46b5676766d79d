// Package gemini is the native multimodal backend for Google's Generative Language API.
package gemini

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

const (
	headerAPIKey   = "x-goog-api-key" // #nosec G101 - header name constant
	endpointFormat = "v1beta/models/%s:generateContent"

	finishSafety = "SAFETY"
)

var (
	_ llm.TextGenerator    = (*Client)(nil)
	_ llm.ImageGenerator   = (*Client)(nil)
	_ llm.ImageAnalyzer    = (*Client)(nil)
	_ llm.StructuredOutput = (*Client)(nil)
)

// Client calls generateContent for text, vision and image output.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates a client. An empty baseURL uses the provider default.
func New(httpClient *http.Client, baseURL, apiKey string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if strings.TrimSpace(baseURL) == "" {
		spec, _ := provider.Lookup(provider.KindText, provider.Gemini)
		baseURL = spec.BaseURL
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// Factory registers the client for both text and image Gemini variants.
func Factory(httpClient *http.Client, baseURL string) llm.Factory {
	return func(cfg provider.Config) (llm.Backend, error) {
		return New(httpClient, baseURL, cfg.APIKey), nil
	}
}

func (c *Client) Provider() provider.ID { return provider.Gemini }

func (c *Client) StructuredOutput() bool { return true }

func (c *Client) GenerateText(ctx context.Context, req llm.TextRequest) (string, error) {
	body := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: &generationConfig{MaxOutputTokens: req.MaxTokens, Temperature: req.Temperature},
	}
	if req.System != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	if req.JSON {
		body.GenerationConfig.ResponseMimeType = common.ContentTypeJSON
		body.GenerationConfig.ResponseSchema = convertSchema(req.Schema)
	}
	resp, err := c.generate(ctx, req.Model, body)
	if err != nil {
		return "", err
	}
	return resp.text()
}

func (c *Client) AnalyzeImage(ctx context.Context, req llm.VisionRequest) (string, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{
			{InlineData: &inlineData{MimeType: req.MIMEType, Data: base64.StdEncoding.EncodeToString(req.Image)}},
			{Text: req.Prompt},
		}}},
		GenerationConfig: &generationConfig{MaxOutputTokens: req.MaxTokens},
	}
	if req.JSON {
		body.GenerationConfig.ResponseMimeType = common.ContentTypeJSON
		body.GenerationConfig.ResponseSchema = convertSchema(req.Schema)
	}
	resp, err := c.generate(ctx, req.Model, body)
	if err != nil {
		return "", err
	}
	return resp.text()
}

func (c *Client) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.Image, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        &imageConfig{AspectRatio: req.Settings.AspectRatio.Ratio()},
		},
	}
	resp, err := c.generate(ctx, req.Model, body)
	if err != nil {
		return nil, err
	}
	cand, err := resp.candidate()
	if err != nil {
		return nil, err
	}
	for _, p := range cand.Content.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, malformed("image data is not valid base64")
		}
		return &llm.Image{Data: data, MIMEType: p.InlineData.MimeType}, nil
	}
	return nil, malformed("response contained no image")
}

func (c *Client) generate(ctx context.Context, model string, body generateRequest) (*generateResponse, error) {
	u, err := url.JoinPath(c.baseURL, fmt.Sprintf(endpointFormat, model))
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
	req.Header.Set(headerAPIKey, c.apiKey)

	raw, err := llm.Send(ctx, c.httpClient, req, provider.Gemini)
	if err != nil {
		return nil, err
	}
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &apperr.Error{Kind: apperr.KindMalformedResponse, Provider: string(provider.Gemini), Message: "response is not valid JSON", Err: err}
	}
	return &out, nil
}

func (r *generateResponse) candidate() (*candidate, error) {
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		return nil, malformed("prompt blocked: " + r.PromptFeedback.BlockReason)
	}
	if len(r.Candidates) == 0 {
		return nil, malformed("empty completion")
	}
	cand := &r.Candidates[0]
	if cand.FinishReason == finishSafety {
		return nil, malformed("completion withheld by safety filter")
	}
	return cand, nil
}

func (r *generateResponse) text() (string, error) {
	cand, err := r.candidate()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		b.WriteString(p.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", malformed("empty completion")
	}
	return b.String(), nil
}

func malformed(msg string) error {
	return &apperr.Error{Kind: apperr.KindMalformedResponse, Provider: string(provider.Gemini), Message: msg}
}

// convertSchema maps the gateway schema onto Gemini's upper-case OpenAPI types.
func convertSchema(s *llm.Schema) *schema {
	if s == nil {
		return nil
	}
	out := &schema{Type: strings.ToUpper(s.Type), Description: s.Description, Required: s.Required}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = convertSchema(v)
		}
	}
	out.Items = convertSchema(s.Items)
	return out
}

// Wire types for generateContent

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	MaxOutputTokens    int          `json:"maxOutputTokens,omitempty"`
	Temperature        *float32     `json:"temperature,omitempty"`
	ResponseMimeType   string       `json:"responseMimeType,omitempty"`
	ResponseSchema     *schema      `json:"responseSchema,omitempty"`
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*schema `json:"properties,omitempty"`
	Items       *schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}
