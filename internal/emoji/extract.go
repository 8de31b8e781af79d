// Package emoji turns free-form model output into a sticker's emoji list.
package emoji

import (
	"github.com/forPelevin/gomoji"
)

const (
	// MaxTags is the most emoji a sticker may carry.
	MaxTags = 20
	// Fallback is used when the text contains no recognizable emoji.
	Fallback = "\u2699" // gear
)

const (
	textPresentation  = '\uFE0E'
	emojiPresentation = '\uFE0F'
)

// Extract scans text one code point at a time and returns every code point
// that is an emoji on its own, in order, capped at MaxTags. A variation
// selector directly after an emoji is consumed and never emitted. The result
// always has at least one element.
func Extract(text string) []string {
	lx := lexer{input: []rune(text)}
	tags := make([]string, 0, 4)
	for len(tags) < MaxTags {
		tag, ok := lx.next()
		if !ok {
			break
		}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return []string{Fallback}
	}
	return tags
}

// lexer walks a code point slice with one slot of lookahead.
type lexer struct {
	input []rune
	pos   int
}

// next returns the next emoji tag, skipping anything that is not one.
func (lx *lexer) next() (string, bool) {
	for lx.pos < len(lx.input) {
		r := lx.input[lx.pos]
		lx.pos++
		if !IsEmoji(r) {
			continue
		}
		if lx.pos < len(lx.input) && isVariationSelector(lx.input[lx.pos]) {
			lx.pos++
		}
		return string(r), true
	}
	return "", false
}

// IsEmoji reports whether r alone is a recognized emoji, in either its
// unqualified or fully-qualified (U+FE0F) form.
func IsEmoji(r rune) bool {
	if r < 0x80 || isVariationSelector(r) {
		return false
	}
	s := string(r)
	if _, err := gomoji.GetInfo(s); err == nil {
		return true
	}
	_, err := gomoji.GetInfo(s + string(emojiPresentation))
	return err == nil
}

func isVariationSelector(r rune) bool {
	return r == textPresentation || r == emojiPresentation
}
