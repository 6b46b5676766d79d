// Package content inspects and rewrites post HTML: paragraph extraction,
// inline image audit and placement marker splicing.
package content

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/jo-hoe/postpainter/internal/common"
)

// Paragraph is one block of post text.
type Paragraph struct {
	Text string // plain text, whitespace collapsed
	End  int    // byte offset in the source HTML just past the block
}

var (
	paragraphBlock = regexp.MustCompile(`(?is)<p\b[^>]*>.*?</p>`)
	blockClose     = regexp.MustCompile(`^\s*<!--\s*/wp:[a-z0-9/-]+\s*-->`)
	blankLines     = regexp.MustCompile(`\n\s*\n`)
	spaces         = regexp.MustCompile(`\s+`)
)

// Paragraphs returns the non-empty paragraphs of body in document order.
// Bodies without <p> blocks (classic editor raw content) are split on blank lines.
func Paragraphs(body string) []Paragraph {
	var out []Paragraph
	locs := paragraphBlock.FindAllStringIndex(body, -1)
	if len(locs) > 0 {
		for _, loc := range locs {
			if text := PlainText(body[loc[0]:loc[1]]); text != "" {
				end := loc[1]
				// Serialized blocks close after the tag; the marker goes outside the block.
				if m := blockClose.FindStringIndex(body[end:]); m != nil {
					end += m[1]
				}
				out = append(out, Paragraph{Text: text, End: end})
			}
		}
		return out
	}

	start := 0
	for _, sep := range blankLines.FindAllStringIndex(body, -1) {
		if text := PlainText(body[start:sep[0]]); text != "" {
			out = append(out, Paragraph{Text: text, End: sep[0]})
		}
		start = sep[1]
	}
	if text := PlainText(body[start:]); text != "" {
		out = append(out, Paragraph{Text: text, End: len(strings.TrimRight(body, " \t\r\n"))})
	}
	return out
}

// PlainText strips markup and collapses whitespace.
func PlainText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(spaces.ReplaceAllString(doc.Text(), " "))
}

// ImageCount counts inline <img> tags.
func ImageCount(body string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return 0
	}
	return doc.Find("img").Length()
}

// FirstImage returns src and alt of the first inline image, if any.
func FirstImage(body string) (src, alt string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", "", false
	}
	img := doc.Find("img").First()
	src, ok = img.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return "", "", false
	}
	alt, _ = img.Attr("alt")
	return src, alt, true
}

// Markdown renders body as compact markdown for prompts.
func Markdown(body string) string {
	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(body)
	if err != nil {
		return PlainText(body)
	}
	return strings.TrimSpace(out)
}

// Excerpt truncates s to at most n runes on a word boundary.
func Excerpt(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	cut := string(r[:n])
	if i := strings.LastIndexAny(cut, " \n"); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}

// HasMarker reports whether body already carries the placement marker.
func HasMarker(body string) bool {
	return strings.Contains(body, common.PlacementMarker)
}

// InsertMarker places the marker after paragraph index after (1-based).
// after <= 0 prepends. A body that already has a marker is returned unchanged.
func InsertMarker(body string, after int) string {
	if HasMarker(body) {
		return body
	}
	paras := Paragraphs(body)
	if after <= 0 || len(paras) == 0 {
		return common.PlacementMarker + "\n" + body
	}
	if after > len(paras) {
		after = len(paras)
	}
	end := paras[after-1].End
	return body[:end] + "\n" + common.PlacementMarker + "\n" + body[end:]
}

// ReplaceMarker swaps the marker for an image block. ok is false when no marker exists.
func ReplaceMarker(body, src, alt string, mediaID int64) (string, bool) {
	if !HasMarker(body) {
		return body, false
	}
	return strings.Replace(body, common.PlacementMarker, ImageBlock(src, alt, mediaID), 1), true
}

// ImageBlock renders a block-editor image figure.
func ImageBlock(src, alt string, mediaID int64) string {
	return fmt.Sprintf("<!-- wp:image {\"id\":%d,\"sizeSlug\":\"large\"} -->\n"+
		"<figure class=\"wp-block-image size-large\"><img src=\"%s\" alt=\"%s\" class=\"wp-image-%d\"/></figure>\n"+
		"<!-- /wp:image -->",
		mediaID, html.EscapeString(src), html.EscapeString(alt), mediaID)
}
