package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jo-hoe/postpainter/internal/cms"
	"github.com/jo-hoe/postpainter/internal/llm"
)

// Analysis is the result of a vision re-check of an existing image.
type Analysis struct {
	QualityScore int    `json:"qualityScore"`
	AltText      string `json:"altText"`
	Brief        string `json:"brief"`
	Regenerate   bool   `json:"regenerate"`
}

var analysisSchema = llm.Object(map[string]*llm.Schema{
	"qualityScore": llm.Integer("1 (poor) to 10 (excellent) fit and quality"),
	"altText":      llm.String("improved alt text, under 125 characters"),
	"brief":        llm.String("brief for a better replacement image"),
	"regenerate":   llm.Boolean("true when a replacement is recommended"),
}, "qualityScore", "altText", "brief", "regenerate")

// AnalyzeImage scores an image already attached to post and suggests revisions.
func (a *Analyzer) AnalyzeImage(ctx context.Context, post cms.Post, image []byte, mimeType string) (Analysis, error) {
	prompt := fmt.Sprintf(`This image illustrates the blog post titled %q.
Current alt text: %q.
Rate how well the image fits the post and its technical quality, propose better alt text,
write a brief for a replacement image, and say whether it should be regenerated.`,
		post.Title, post.ExistingImageAlt)

	reply, err := a.gen.AnalyzeImage(ctx, a.text, prompt, image, mimeType, analysisSchema)
	if err != nil {
		return Analysis{}, err
	}
	var out Analysis
	if err := llm.DecodeJSON(a.Provider(), reply, &out); err != nil {
		return Analysis{}, err
	}
	if out.QualityScore < 1 || out.QualityScore > 10 {
		return Analysis{}, a.malformed(fmt.Sprintf("qualityScore %d is outside 1..10", out.QualityScore))
	}
	out.AltText = strings.TrimSpace(out.AltText)
	out.Brief = strings.TrimSpace(out.Brief)
	return out, nil
}
