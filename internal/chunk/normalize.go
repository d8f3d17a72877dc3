package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize applies the canonical byte normalisation used for hashing:
// trailing whitespace is trimmed from every line and a final newline is
// enforced. Chunk identity is therefore stable under trailing-whitespace and
// final-newline edits; changes to leading whitespace (indentation) change it.
func Normalize(content []byte) []byte {
	if len(content) == 0 {
		return content
	}

	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}

	out := strings.Join(lines, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return []byte(out)
}

// HashBytes returns the full SHA-256 hex digest of the given bytes.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashNormalized normalises and hashes in one step.
func HashNormalized(content []byte) string {
	return HashBytes(Normalize(content))
}

// ID derives a chunk's stable identifier: the 128-bit hex prefix of
// SHA-256 over collection, file path, chunk content hash, and the
// occurrence ordinal (which disambiguates identical chunk bodies within
// one file while keeping IDs stable under declaration reordering).
func ID(collection, filePath, contentHash string, ordinal int) string {
	h := sha256.New()
	h.Write([]byte(collection))
	h.Write([]byte{0})
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	h.Write([]byte{0})
	h.Write([]byte{byte(ordinal >> 24), byte(ordinal >> 16), byte(ordinal >> 8), byte(ordinal)})
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// assignIDs fills each chunk's ContentHash and ID. Ordinals count repeated
// content hashes within the file in emission order.
func assignIDs(collection, filePath string, chunks []*CodeChunk) {
	seen := make(map[string]int, len(chunks))
	for _, c := range chunks {
		if c.ContentHash == "" {
			c.ContentHash = HashBytes([]byte(c.Content))
		}
		ordinal := seen[c.ContentHash]
		seen[c.ContentHash] = ordinal + 1
		c.Collection = collection
		c.FilePath = filePath
		c.ID = ID(collection, filePath, c.ContentHash, ordinal)
	}
}
