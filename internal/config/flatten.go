package config

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
)

// keySpec describes one dot-separated setting the config commands accept.
type keySpec struct {
	kind    valueKind
	options []string // closed set for enum strings
	min     int      // lower bound for ints
	max     int      // upper bound for ints, 0 for none
	secret  bool
}

// knownKeys mirrors the json tags of Config.
var knownKeys = map[string]keySpec{
	"data_dir":                    {kind: kindString},
	"log_level":                   {kind: kindString, options: []string{"debug", "info", "warn", "error"}},
	"log_format":                  {kind: kindString, options: []string{"auto", "text", "json"}},
	"max_concurrent":              {kind: kindInt, min: 1},
	"telegram.token":              {kind: kindString, secret: true},
	"telegram.api_endpoint":       {kind: kindString},
	"gemini.base_url":             {kind: kindString},
	"gemini.api_key":              {kind: kindString, secret: true},
	"gemini.model":                {kind: kindString},
	"gemini.timeout_seconds":      {kind: kindInt, min: 1},
	"tagging.min_interval_ms":     {kind: kindInt, min: 1},
	"stickers.max_images":         {kind: kindInt, min: 1, max: 120},
	"stickers.initial_batch":      {kind: kindInt, min: 1, max: 50},
	"stickers.max_bytes":          {kind: kindInt, min: 1},
	"stickers.naming":             {kind: kindString, options: []string{"timestamp", "probe"}},
	"stickers.on_partial_failure": {kind: kindString, options: []string{"delete", "keep"}},
	"board.gallery_dl":            {kind: kindString},
	"board.staging_dir":           {kind: kindString},
	"board.sweep_schedule":        {kind: kindString},
	"board.retention_hours":       {kind: kindInt, min: 1},
	"http.enabled":                {kind: kindBool},
	"http.listen":                 {kind: kindString},
}

// IsSecretKey returns true if the given dot-separated key is a secret.
func IsSecretKey(key string) bool {
	return knownKeys[key].secret
}

// Keys returns the settings Config understands, sorted.
func Keys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseValue converts the command-line text for key into the value stored
// in the file. Known keys are type checked and range checked; unknown keys
// are kept as a number, a boolean or the raw string.
func ParseValue(key, value string) (any, error) {
	spec, ok := knownKeys[key]
	if !ok {
		return guessValue(value), nil
	}

	switch spec.kind {
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false, got %q", key, value)
		}
		return b, nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be a whole number, got %q", key, value)
		}
		if n < spec.min || (spec.max > 0 && n > spec.max) {
			return nil, fmt.Errorf("%s must be %s, got %d", key, spec.bounds(), n)
		}
		return int64(n), nil
	default:
		if len(spec.options) > 0 && !contains(spec.options, value) {
			return nil, fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(spec.options, ", "), value)
		}
		return value, nil
	}
}

func (s keySpec) bounds() string {
	if s.max > 0 {
		return fmt.Sprintf("between %d and %d", s.min, s.max)
	}
	return fmt.Sprintf("at least %d", s.min)
}

func guessValue(value string) any {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Flatten converts a nested map into a flat map with dot-separated keys.
// For example, {"gemini": {"model": "m"}} becomes {"gemini.model": "m"}.
// Whole numbers come back as int64 whether the map was decoded from JSON
// (float64) or TOML (int64), so both formats flatten to the same values.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", m)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenInto(out, key, child)
			continue
		}
		out[key] = normalize(v)
	}
}

func normalize(v any) any {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
	case int:
		return int64(n)
	}
	return v
}

// Unflatten converts a flat map with dot-separated keys back into a nested
// map. A key that is both a value and a table prefix keeps the table.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	// Shorter keys first so a table always replaces a scalar of the same name.
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) < len(keys[j]) })

	for _, k := range keys {
		node := out
		rest := k
		for {
			head, tail, nested := strings.Cut(rest, ".")
			if !nested {
				node[head] = flat[k]
				break
			}
			child, ok := node[head].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[head] = child
			}
			node, rest = child, tail
		}
	}
	return out
}

// MaskSecrets returns a copy of the flat map with secret values shown as
// "***" plus their last four characters. Empty values are left empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if s, ok := v.(string); ok && s != "" && IsSecretKey(k) {
			out[k] = "***" + s[max(0, len(s)-4):]
		}
	}
	return out
}
