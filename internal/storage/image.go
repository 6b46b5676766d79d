// Package storage prepares generated images for upload and optionally
// archives them to S3-compatible object storage.
package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"unicode"

	"github.com/h2non/filetype"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/common"
)

// Encoding is the requested output format. Quality is a percentage.
type Encoding struct {
	Format  string
	Quality int
}

// Prepared is an image ready to upload.
type Prepared struct {
	Data       []byte
	MIMEType   string
	FileName   string
	Transcoded bool
}

var extensions = map[string]string{
	common.MimeImagePNG:  ".png",
	common.MimeImageJPEG: ".jpg",
	common.MimeImageWebP: ".webp",
	"image/gif":          ".gif",
}

const fileNameAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Detect sniffs the MIME type of data and rejects anything that is not an image.
func Detect(data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperr.New(apperr.KindMalformedResponse, "detect image", "image payload is empty")
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || !filetype.IsImage(data) {
		return "", apperr.New(apperr.KindMalformedResponse, "detect image", "payload is not a recognizable image")
	}
	return kind.MIME.Value, nil
}

// NormalizeFormat maps aliases to canonical MIME types. Empty stays empty.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch f {
	case "jpg", "jpeg", common.MimeImageJPG:
		return common.MimeImageJPEG
	case "png":
		return common.MimeImagePNG
	case "webp":
		return common.MimeImageWebP
	}
	return f
}

// Extension returns the file extension for a MIME type.
func Extension(mimeType string) string {
	if ext, ok := extensions[NormalizeFormat(mimeType)]; ok {
		return ext
	}
	return ".bin"
}

// Prepare sniffs data, converts it to enc when an encoder exists and names
// the file after slug. Formats without a stdlib encoder (webp) keep the
// provider's bytes unchanged.
func Prepare(data []byte, enc Encoding, slug string) (Prepared, error) {
	src, err := Detect(data)
	if err != nil {
		return Prepared{}, err
	}
	out := Prepared{Data: data, MIMEType: src}

	target := NormalizeFormat(enc.Format)
	if target == "" {
		target = src
	}
	if needsEncode(src, target, enc.Quality) {
		encoded, err := transcode(data, target, enc.Quality)
		if err == nil {
			out.Data = encoded
			out.MIMEType = target
			out.Transcoded = true
		}
	}

	name, err := FileName(slug, out.MIMEType)
	if err != nil {
		return Prepared{}, err
	}
	out.FileName = name
	return out, nil
}

func needsEncode(src, target string, quality int) bool {
	switch target {
	case common.MimeImageJPEG:
		return src != target || (quality > 0 && quality < 100)
	case common.MimeImagePNG:
		return src != target
	default:
		return false
	}
}

func transcode(data []byte, target string, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	switch target {
	case common.MimeImageJPEG:
		if quality <= 0 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case common.MimeImagePNG:
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if quality > 0 && quality < 50 {
			enc.CompressionLevel = png.BestCompression
		}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("no encoder for %s", target)
	}
	return buf.Bytes(), nil
}

// flatten composites img on white so transparent areas do not turn black in JPEG.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

// FileName builds "<slug>-<id><ext>" with a random id so repeated runs never collide.
func FileName(slug, mimeType string) (string, error) {
	id, err := gonanoid.Generate(fileNameAlphabet, 10)
	if err != nil {
		return "", fmt.Errorf("generate file name: %w", err)
	}
	s := Slug(slug)
	if s == "" {
		s = "postpainter"
	}
	return s + "-" + id + Extension(mimeType), nil
}

// Slug lowercases title and keeps letters and digits joined by single dashes.
func Slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 48 {
			break
		}
	}
	return strings.TrimRight(b.String(), "-")
}
