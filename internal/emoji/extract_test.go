package emoji

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain sequence", "😀🐱🌸", []string{"😀", "🐱", "🌸"}},
		{"text between emoji", "Here: 😀, then 🐱!", []string{"😀", "🐱"}},
		{"variation selector absorbed", "❤\uFE0F👍", []string{"❤", "👍"}},
		{"text selector absorbed", "☀\uFE0E🌙", []string{"☀", "🌙"}},
		{"stray selector ignored", "\uFE0F😀", []string{"😀"}},
		{"no emoji", "a cat on a mat", []string{Fallback}},
		{"empty", "", []string{Fallback}},
		{"digits are not emoji", "123 #*", []string{Fallback}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.in))
		})
	}
}

func TestExtractCapsAtMax(t *testing.T) {
	got := Extract(strings.Repeat("🐶", MaxTags+7))
	assert.Len(t, got, MaxTags)
}

func TestExtractLengthBounds(t *testing.T) {
	inputs := []string{"", "no emoji here", "😀", strings.Repeat("🍕 ", 50), "⚙️⚙️"}
	for _, in := range inputs {
		got := Extract(in)
		assert.GreaterOrEqual(t, len(got), 1, "input %q", in)
		assert.LessOrEqual(t, len(got), MaxTags, "input %q", in)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	inputs := []string{
		"😀🐱🌸",
		"❤️ love ☀️ sun",
		"nothing",
		strings.Repeat("✨️", 30),
		"🏳️‍🌈 flag",
	}
	for _, in := range inputs {
		first := Extract(in)
		second := Extract(strings.Join(first, ""))
		require.Equal(t, first, second, "input %q", in)
	}
}

func TestFallbackIsEmoji(t *testing.T) {
	r := []rune(Fallback)
	require.Len(t, r, 1)
	assert.True(t, IsEmoji(r[0]))
}
