package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jo-hoe/postpainter/internal/cms"
	"github.com/jo-hoe/postpainter/internal/content"
	"github.com/jo-hoe/postpainter/internal/llm"
)

const (
	minParagraphsForAI   = 3
	placementCandidates  = 5
	minCandidateChars    = 80
	minQualifyingForAI   = 2
	placementExcerptSize = 220
)

// PlacementSource tells how a placement was decided.
type PlacementSource string

const (
	SourceAI        PlacementSource = "ai"
	SourceAIDefault PlacementSource = "ai-default"
	SourceHeuristic PlacementSource = "heuristic"
)

// Placement is where the marker went and the rewritten content.
type Placement struct {
	After      int // 1-based paragraph index, 0 means prepended
	Paragraphs int
	Source     PlacementSource
	Content    string
}

var firstInteger = regexp.MustCompile(`\d+`)

// Place decides where the image goes and inserts one marker. It never fails:
// sparse content and any provider error fall back to the heuristic.
func (a *Analyzer) Place(ctx context.Context, post cms.Post) Placement {
	paras := content.Paragraphs(post.Content)
	n := len(paras)
	if n < minParagraphsForAI {
		return Heuristic(post.Content)
	}

	type candidate struct {
		index int
		text  string
	}
	var cands []candidate
	for i := 0; i < n && i < placementCandidates; i++ {
		if len([]rune(paras[i].Text)) >= minCandidateChars {
			cands = append(cands, candidate{index: i + 1, text: paras[i].Text})
		}
	}
	if len(cands) < minQualifyingForAI {
		return Heuristic(post.Content)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n\n", post.Title)
	for _, c := range cands {
		fmt.Fprintf(&b, "[%d] %s\n", c.index, content.Excerpt(c.text, placementExcerptSize))
	}
	b.WriteString("\nAfter which paragraph number should a single illustrative image be inserted so it best supports the text? Answer with only the number.")

	reply, err := a.gen.GenerateText(ctx, a.text, b.String(),
		llm.WithMaxTokens(a.opts.PlacementMaxTokens),
		llm.WithTimeout(a.opts.PlacementTimeout),
		llm.WithTemperature(0),
	)
	if err != nil {
		a.log.Debug("placement analysis failed, using heuristic", "post_id", post.ID, "err", err)
		return Heuristic(post.Content)
	}

	idx, ok := parseIndex(reply)
	if !ok || idx < 1 || idx > n {
		return placed(post.Content, 1, n, SourceAIDefault)
	}
	return placed(post.Content, idx, n, SourceAI)
}

// Heuristic places the marker without consulting a provider.
func Heuristic(body string) Placement {
	n := len(content.Paragraphs(body))
	return placed(body, HeuristicIndex(n), n, SourceHeuristic)
}

// HeuristicIndex: after the 2nd paragraph when there are more than two,
// after the 1st when there are exactly two, after the only one, or prepend.
func HeuristicIndex(paragraphs int) int {
	switch {
	case paragraphs > 2:
		return 2
	case paragraphs == 2:
		return 1
	case paragraphs == 1:
		return 1
	default:
		return 0
	}
}

func placed(body string, after, n int, src PlacementSource) Placement {
	return Placement{After: after, Paragraphs: n, Source: src, Content: content.InsertMarker(body, after)}
}

func parseIndex(reply string) (int, bool) {
	m := firstInteger.FindString(reply)
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return v, true
}
