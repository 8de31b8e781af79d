// Package tagger asks a vision service which emoji fit an image.
package tagger

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/user/boardsticker/internal/apperr"
	"github.com/user/boardsticker/internal/emoji"
	"github.com/user/boardsticker/pkg/vision"
)

// Prompt is the fixed instruction sent with every image.
const Prompt = "You will receive a PNG image. Output 1-20 fitting emojis only. " +
	"Do not output any other symbols, delimiters, or text."

// Gate admits one tagging call at a time per slot. It is shared by every
// pipeline run in the process.
type Gate interface {
	Acquire(ctx context.Context) error
}

// Tagger turns an image into a non-empty list of at most emoji.MaxTags emoji.
type Tagger struct {
	gate     Gate
	provider vision.Provider
}

// New creates a Tagger that waits on gate before every provider call.
func New(gate Gate, provider vision.Provider) *Tagger {
	return &Tagger{gate: gate, provider: provider}
}

// Tag reads the image at path and returns its emoji list. Transport and
// response failures are reported as apperr.ErrExternalService and are not
// retried here.
func (t *Tagger) Tag(ctx context.Context, path string) ([]string, error) {
	if err := t.gate.Acquire(ctx); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.IO("read image for tagging", path, err)
	}

	resp, err := t.provider.Describe(ctx, &vision.Request{
		Prompt:   Prompt,
		Image:    data,
		MimeType: mimeType(data),
	})
	if err != nil {
		return nil, apperr.External("tag image", err)
	}

	tags := emoji.Extract(resp.Text)
	if len(tags) == 1 && tags[0] == emoji.Fallback && resp.Text == "" {
		slog.Warn("tagging service returned no text, using fallback emoji", "path", path)
	}
	slog.Debug("tagged image", "path", path, "emoji", tags)
	return tags, nil
}

// mimeType sniffs the payload so non-PNG sources are labelled honestly.
// Anything unrecognized is sent as PNG.
func mimeType(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "image/png", "image/jpeg", "image/webp", "image/gif":
		return ct
	default:
		return "image/png"
	}
}
