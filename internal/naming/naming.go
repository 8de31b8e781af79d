// Package naming picks sticker set names that do not collide with sets the
// bot already owns.
package naming

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Strategy selects how uniqueness is achieved.
type Strategy string

const (
	// StrategyTimestamp embeds a millisecond timestamp; no remote lookups.
	StrategyTimestamp Strategy = "timestamp"
	// StrategyProbe asks the platform and bumps a numeric suffix.
	StrategyProbe Strategy = "probe"
)

// MaxNameLen is the platform limit for a sticker set name.
const MaxNameLen = 64

const maxProbes = 1000

// ErrExhausted is returned when probing finds no free name.
var ErrExhausted = errors.New("no free sticker set name")

// Checker reports whether a set name is already in use.
type Checker func(ctx context.Context, name string) (bool, error)

// Resolver builds names of the form <owner>_<board>_<disambiguator>_by_<bot>.
// Names handed out by one Resolver are never repeated, even under concurrent
// calls for the same board.
type Resolver struct {
	botName  string
	strategy Strategy
	checks   []Checker
	now      func() time.Time

	mu     sync.Mutex
	lastTS int64
	issued map[string]struct{}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategy overrides the default timestamp strategy.
func WithStrategy(s Strategy) Option {
	return func(r *Resolver) { r.strategy = s }
}

// WithChecker adds a source of already-taken names. With the timestamp
// strategy checkers are consulted as a guard; with probing they drive it.
func WithChecker(c Checker) Option {
	return func(r *Resolver) { r.checks = append(r.checks, c) }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver for the bot with the given username.
func New(botName string, opts ...Option) *Resolver {
	r := &Resolver{
		botName:  botName,
		strategy: StrategyTimestamp,
		now:      time.Now,
		issued:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a fresh set name for the board.
func (r *Resolver) Resolve(ctx context.Context, owner, board string) (string, error) {
	switch r.strategy {
	case StrategyProbe:
		return r.probe(ctx, owner, board)
	case StrategyTimestamp, "":
		return r.timestamped(ctx, owner, board)
	default:
		return "", fmt.Errorf("unknown naming strategy %q", r.strategy)
	}
}

func (r *Resolver) timestamped(ctx context.Context, owner, board string) (string, error) {
	for attempt := 0; attempt < maxProbes; attempt++ {
		name := r.build(owner, board, strconv.FormatInt(r.nextTimestamp(), 10))
		taken, err := r.taken(ctx, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
	return "", ErrExhausted
}

func (r *Resolver) probe(ctx context.Context, owner, board string) (string, error) {
	for n := 1; n <= maxProbes; n++ {
		suffix := ""
		if n > 1 {
			suffix = strconv.Itoa(n)
		}
		name := r.build(owner, board, suffix)
		if !r.claim(name) {
			continue
		}
		taken, err := r.taken(ctx, name)
		if err != nil {
			r.release(name)
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
	return "", ErrExhausted
}

// nextTimestamp returns a strictly increasing millisecond value.
func (r *Resolver) nextTimestamp() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now().UnixMilli()
	if ts <= r.lastTS {
		ts = r.lastTS + 1
	}
	r.lastTS = ts
	return ts
}

// claim reserves name for this process; false if it was already issued.
func (r *Resolver) claim(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.issued[name]; ok {
		return false
	}
	r.issued[name] = struct{}{}
	return true
}

func (r *Resolver) release(name string) {
	r.mu.Lock()
	delete(r.issued, name)
	r.mu.Unlock()
}

func (r *Resolver) taken(ctx context.Context, name string) (bool, error) {
	for _, check := range r.checks {
		taken, err := check(ctx, name)
		if err != nil {
			return false, fmt.Errorf("check set name %s: %w", name, err)
		}
		if taken {
			return true, nil
		}
	}
	return false, nil
}

// build assembles a name, truncating the board part so the whole name fits
// MaxNameLen.
func (r *Resolver) build(owner, board, disambiguator string) string {
	tail := "_by_" + r.botName
	if disambiguator != "" {
		tail = "_" + disambiguator + tail
	}

	head := Slug(owner + "_" + board)
	if head == "" {
		head = "set"
	}
	if !isASCIILetter(head[0]) {
		head = "s_" + head
	}
	if room := MaxNameLen - len(tail); len(head) > room {
		head = strings.TrimRight(head[:max(room, 1)], "_")
	}
	return head + tail
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug folds s to lowercase ASCII letters, digits and single underscores.
// Accents are stripped; anything else becomes a separator.
func Slug(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingSep := false
	for _, c := range strings.ToLower(folded) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(c)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
