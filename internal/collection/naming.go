// Package collection maps user-supplied collection names onto canonical,
// store-safe identifiers and persists the mapping.
package collection

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Canonicalize produces a store-safe identifier: lowercase, runs of
// characters outside [a-z0-9_-] collapsed to a single underscore, leading
// and trailing separators trimmed.
func Canonicalize(name string) string {
	lower := strings.ToLower(name)

	var sb strings.Builder
	lastWasSep := false
	for _, r := range lower {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
		if valid {
			sb.WriteRune(r)
			lastWasSep = false
			continue
		}
		if !lastWasSep {
			sb.WriteByte('_')
			lastWasSep = true
		}
	}

	out := strings.Trim(sb.String(), "_-")
	if out == "" {
		out = "collection"
	}
	return out
}

// collisionSuffix derives the short content hash appended when two user
// names canonicalise to the same identifier.
func collisionSuffix(userName string) string {
	sum := sha256.Sum256([]byte(userName))
	return hex.EncodeToString(sum[:])[:8]
}
