// Package board fetches image boards through the gallery-dl CLI into a local
// staging directory laid out as <staging>/<owner>/<board>[/<section>].
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/user/boardsticker/internal/apperr"
	"github.com/user/boardsticker/internal/types"
)

// DefaultBinary is the gallery-dl executable looked up on PATH.
const DefaultBinary = "gallery-dl"

// gallery-dl -j message types.
const (
	msgDirectory = 2
	msgURL       = 3
)

// sectionSep joins a board and its section in a staging directory name.
const sectionSep = '@'

// Executor abstracts command execution for testability.
type Executor interface {
	Output(ctx context.Context, binary string, args ...string) ([]byte, error)
}

// Option configures a Source.
type Option func(*Source)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(s *Source) {
		if exec != nil {
			s.exec = exec
		}
	}
}

// WithBinary overrides the gallery-dl executable.
func WithBinary(binary string) Option {
	return func(s *Source) {
		if b := strings.TrimSpace(binary); b != "" {
			s.binary = b
		}
	}
}

// Source lists, downloads and removes board images.
type Source struct {
	binary  string
	staging string
	exec    Executor
}

// New creates a Source that stages downloads under stagingDir.
func New(stagingDir string, opts ...Option) (*Source, error) {
	if strings.TrimSpace(stagingDir) == "" {
		return nil, errors.New("staging directory required")
	}
	s := &Source{
		binary:  DefaultBinary,
		staging: stagingDir,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StagingDir returns the root of all board directories.
func (s *Source) StagingDir() string { return s.staging }

// Parse extracts owner, board and optional section from a board URL such as
// https://www.pinterest.com/alice/cats/set-one/.
func Parse(rawURL string) (*types.Board, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.Validation("parse board url", "", errors.New("empty url"))
	}

	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		path = u.Path
	}

	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p == "" || strings.Contains(p, "pinterest") || strings.HasPrefix(p, "http") {
			continue
		}
		parts = append(parts, p)
	}
	if len(parts) < 2 {
		return nil, apperr.Validation("parse board url", "",
			fmt.Errorf("%q does not name an owner and a board", rawURL))
	}

	b := &types.Board{URL: rawURL, Owner: parts[0], Name: parts[1]}
	if len(parts) > 2 && strings.HasPrefix(parts[2], "set") {
		b.Section = parts[2]
	}
	return b, nil
}

// Resolve parses rawURL. It performs no network access.
func (s *Source) Resolve(ctx context.Context, rawURL string) (*types.Board, error) {
	return Parse(rawURL)
}

// Count asks gallery-dl for the board listing without downloading anything
// and returns the number of images it would fetch.
func (s *Source) Count(ctx context.Context, b *types.Board) (int, error) {
	out, err := s.exec.Output(ctx, s.binary, "-j", b.URL)
	if err != nil {
		return 0, apperr.External("list board", err)
	}
	n, err := countListing(out, b.Section)
	if err != nil {
		return 0, apperr.External("parse board listing", err)
	}
	slog.Debug("board listed", "owner", b.Owner, "board", b.Name, "section", b.Section, "images", n)
	return n, nil
}

func countListing(data []byte, section string) (int, error) {
	var msgs []json.RawMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return 0, fmt.Errorf("decode listing: %w", err)
	}

	count := 0
	for _, raw := range msgs {
		var msg []json.RawMessage
		if err := json.Unmarshal(raw, &msg); err != nil || len(msg) == 0 {
			continue
		}
		var kind int
		if err := json.Unmarshal(msg[0], &kind); err != nil || kind != msgURL {
			continue
		}
		if section != "" && !inSection(msg, section) {
			continue
		}
		count++
	}
	return count, nil
}

// inSection reports whether a URL message's metadata names section.
func inSection(msg []json.RawMessage, section string) bool {
	if len(msg) < 3 {
		return false
	}
	var meta struct {
		Section json.RawMessage `json:"section"`
	}
	if err := json.Unmarshal(msg[2], &meta); err != nil || len(meta.Section) == 0 {
		return false
	}
	var name string
	if err := json.Unmarshal(meta.Section, &name); err == nil {
		return name == section
	}
	var obj struct {
		Slug string `json:"slug"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(meta.Section, &obj); err == nil {
		return obj.Slug == section || obj.ID == section
	}
	return false
}

// Dir is the staging directory for one board. A section is staged next to
// its board as <owner>/<board>@<section>, never inside it, so cleaning up one
// never touches the other's files.
func (s *Source) Dir(b *types.Board) string {
	name := safeComponent(b.Name)
	if b.Section != "" {
		name += string(sectionSep) + safeComponent(b.Section)
	}
	return filepath.Join(s.staging, safeComponent(b.Owner), name)
}

// Download fetches every board image into Dir(b) and returns them in name
// order.
func (s *Source) Download(ctx context.Context, b *types.Board) ([]types.ImageAsset, error) {
	dir := s.Dir(b)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.IO("create staging dir", dir, err)
	}

	if _, err := s.exec.Output(ctx, s.binary, "-D", dir, "-f", "{id}.{extension}", b.URL); err != nil {
		return nil, apperr.External("download board", err)
	}
	return s.Images(b)
}

// Images lists the staged files for b, sorted by name. Hidden and partial
// download files are skipped.
func (s *Source) Images(b *types.Board) ([]types.ImageAsset, error) {
	dir := s.Dir(b)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperr.IO("read staging dir", dir, err)
	}

	var assets []types.ImageAsset
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".lock") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, apperr.IO("stat staged image", filepath.Join(dir, name), err)
		}
		assets = append(assets, types.ImageAsset{Path: filepath.Join(dir, name), Size: info.Size()})
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Path < assets[j].Path })
	return assets, nil
}

// Cleanup removes the staged files for b. A missing directory is not an
// error.
func (s *Source) Cleanup(ctx context.Context, b *types.Board) error {
	dir := s.Dir(b)
	if err := os.RemoveAll(dir); err != nil {
		return apperr.IO("remove staging dir", dir, err)
	}
	slog.Debug("board staging removed", "dir", dir)
	return nil
}

func safeComponent(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 || r == sectionSep {
			return '_'
		}
		return r
	}, s)
	if s == "." || s == ".." || s == "" {
		return "_"
	}
	return s
}

type commandExecutor struct{}

func (commandExecutor) Output(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", binary, err, msg)
		}
		return out, fmt.Errorf("%s: %w", binary, err)
	}
	return out, nil
}
