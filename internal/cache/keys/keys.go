// Package keys derives deterministic cache keys for tiles.
package keys

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const maxLayerTextLen = 64

// Tile returns "tileset/z/x/y.format". A non-empty layer subset adds
// "@<layers>~<hash>" to the tileset segment; the subset is order-insensitive.
func Tile(tileset string, layers []string, z, x, y int, format string) string {
	seg := sanitize(strings.TrimSpace(tileset))
	if len(layers) > 0 {
		seg += "@" + LayerSet(layers)
	}
	return fmt.Sprintf("%s/%d/%d/%d.%s", seg, z, x, y, sanitize(format))
}

// LayerSet canonicalizes a layer subset into a path-safe token.
func LayerSet(layers []string) string {
	norm := make([]string, 0, len(layers))
	for _, l := range layers {
		if l = strings.TrimSpace(l); l != "" {
			norm = append(norm, l)
		}
	}
	slices.Sort(norm)
	norm = slices.Compact(norm)

	text := strings.Join(norm, ",")
	safe := sanitize(text)
	if len(safe) > maxLayerTextLen {
		safe = safe[:maxLayerTextLen]
	}
	return fmt.Sprintf("%s~%016x", safe, xxhash.Sum64String(text))
}

// sanitize keeps keys usable as file paths and object names: runs of
// whitespace become '_', anything outside [A-Za-z0-9_,.-] becomes '-'.
func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == ',' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	// never produce a traversal segment
	return strings.ReplaceAll(b.String(), "..", "-")
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
