// Package encoder converts source images into uploaded static stickers.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/user/boardsticker/internal/apperr"
	"github.com/user/boardsticker/internal/types"
)

const (
	// Side is the fixed width and height of a static sticker.
	Side = 512
	// DefaultMaxBytes is the platform ceiling for a static sticker file.
	DefaultMaxBytes = 512 * 1000
)

// ErrEmptyHandle is returned when the platform accepts an upload but
// returns no file id.
var ErrEmptyHandle = errors.New("uploaded file id is empty")

// Uploader stages sticker bytes on the platform and returns a file id.
type Uploader interface {
	UploadStickerFile(ctx context.Context, userID int64, filename string, data []byte) (string, error)
}

// Tagger returns the emoji list for an image.
type Tagger interface {
	Tag(ctx context.Context, path string) ([]string, error)
}

// Encoder resizes, re-encodes, uploads and tags one image at a time.
type Encoder struct {
	uploader Uploader
	tagger   Tagger
	maxBytes int
}

// New creates an Encoder. maxBytes <= 0 uses DefaultMaxBytes.
func New(uploader Uploader, tagger Tagger, maxBytes int) *Encoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Encoder{uploader: uploader, tagger: tagger, maxBytes: maxBytes}
}

// Prepare turns the image at path into a sticker owned by userID. The
// emoji are derived from the original file, not the resized copy.
func (e *Encoder) Prepare(ctx context.Context, userID int64, path string) (*types.Sticker, error) {
	data, err := e.Encode(path)
	if err != nil {
		return nil, err
	}

	fileID, err := e.uploader.UploadStickerFile(ctx, userID, stickerFilename(path), data)
	if err != nil {
		return nil, apperr.External("upload sticker file", err)
	}
	if fileID == "" {
		return nil, apperr.External("upload sticker file", ErrEmptyHandle)
	}

	tags, err := e.tagger.Tag(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("tag %s: %w", path, err)
	}

	slog.Debug("sticker prepared", "path", path, "bytes", len(data), "emoji", len(tags))
	return &types.Sticker{FileID: fileID, EmojiList: tags, Source: path}, nil
}

// Encode decodes the image at path, scales it to Side x Side with
// nearest-neighbor sampling and returns best-compression PNG bytes.
func (e *Encoder) Encode(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Validation("sticker source not found", path, err)
		}
		return nil, apperr.IO("open sticker source", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, apperr.Validation("decode image", path, err)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, Resize(src)); err != nil {
		return nil, apperr.IO("encode png", path, err)
	}

	if buf.Len() == 0 {
		return nil, apperr.Validation("empty encode result", path, nil)
	}
	if buf.Len() > e.maxBytes {
		return nil, apperr.Validation("sticker too large", path,
			fmt.Errorf("%d bytes exceeds %d", buf.Len(), e.maxBytes))
	}
	return buf.Bytes(), nil
}

// Resize returns src scaled to exactly Side x Side. The sampling filter is
// fixed so repeated runs produce identical pixels.
func Resize(src image.Image) image.Image {
	b := src.Bounds()
	if b.Dx() == Side && b.Dy() == Side {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, Side, Side))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func stickerFilename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".png"
}
