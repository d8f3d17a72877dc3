package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/codescope/codescope/internal/errors"
)

func newTestChunker() *ASTChunker {
	return NewASTChunker(Options{MaxChunkBytes: 2048, OverlapBytes: 64, MinChunkBytes: 16})
}

func chunkFile(t *testing.T, path, lang, content string) *FileChunks {
	t.Helper()
	fc, err := newTestChunker().Chunk(context.Background(), &FileInput{
		Collection: "demo",
		Path:       path,
		Content:    []byte(content),
		Language:   lang,
	})
	require.NoError(t, err)
	return fc
}

const goSample = `package calc

import "fmt"

// Add returns the sum of two numbers.
func Add(x, y int) int {
	return x + y
}

// Mul returns the product of two numbers.
func Mul(x, y int) int {
	fmt.Println("mul")
	return x * y
}
`

func TestChunkGoFile(t *testing.T) {
	fc := chunkFile(t, "calc.go", "go", goSample)
	require.NotEmpty(t, fc.Chunks)
	assert.Empty(t, fc.Warnings)

	var names []string
	for _, c := range fc.Chunks {
		if c.SymbolKind == SymbolFunction {
			names = append(names, c.SymbolName)
		}
	}
	assert.Contains(t, names, "Add")
	assert.Contains(t, names, "Mul")

	// Every chunk carries identity and sane line ranges.
	for _, c := range fc.Chunks {
		assert.Len(t, c.ID, 32)
		assert.NotEmpty(t, c.ContentHash)
		assert.Equal(t, "demo", c.Collection)
		assert.GreaterOrEqual(t, c.EndLine, c.StartLine)
		assert.Positive(t, c.StartLine)
	}
}

func TestChunkCoversNonBlankRegions(t *testing.T) {
	fc := chunkFile(t, "calc.go", "go", goSample)

	lines := splitLines(Normalize([]byte(goSample)))
	covered := make([]bool, len(lines))
	for _, c := range fc.Chunks {
		for row := c.StartLine - 1; row < c.EndLine && row < len(lines); row++ {
			covered[row] = true
		}
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		assert.True(t, covered[i], "line %d (%q) not covered by any chunk", i+1, line)
	}
}

func TestChunkDeterministic(t *testing.T) {
	a := chunkFile(t, "calc.go", "go", goSample)
	b := chunkFile(t, "calc.go", "go", goSample)

	require.Equal(t, len(a.Chunks), len(b.Chunks))
	for i := range a.Chunks {
		assert.Equal(t, a.Chunks[i].ID, b.Chunks[i].ID)
	}
}

func TestChunkIDsStableUnderWhitespaceEdits(t *testing.T) {
	dirty := strings.ReplaceAll(goSample, "return x + y", "return x + y   ")
	a := chunkFile(t, "calc.go", "go", goSample)
	b := chunkFile(t, "calc.go", "go", dirty)

	assert.Equal(t, idSet(a.Chunks), idSet(b.Chunks))
}

func TestChunkIDsStableUnderReorder(t *testing.T) {
	reordered := `package calc

import "fmt"

// Mul returns the product of two numbers.
func Mul(x, y int) int {
	fmt.Println("mul")
	return x * y
}

// Add returns the sum of two numbers.
func Add(x, y int) int {
	return x + y
}
`
	a := chunkFile(t, "calc.go", "go", goSample)
	b := chunkFile(t, "calc.go", "go", reordered)

	// Function chunk ids are content-driven, not position-driven.
	aFuncs := symbolIDs(a.Chunks)
	bFuncs := symbolIDs(b.Chunks)
	assert.Equal(t, aFuncs, bFuncs)
}

func TestChunkPythonFile(t *testing.T) {
	src := `def add(x, y):
    return x + y

class Calculator:
    def mul(self, x, y):
        return x * y
`
	fc := chunkFile(t, "calc.py", "python", src)
	require.NotEmpty(t, fc.Chunks)

	var kinds []SymbolKind
	var names []string
	for _, c := range fc.Chunks {
		kinds = append(kinds, c.SymbolKind)
		names = append(names, c.SymbolName)
	}
	assert.Contains(t, kinds, SymbolFunction)
	assert.Contains(t, names, "add")
	assert.Contains(t, names, "Calculator")
}

func TestChunkUnsupportedLanguageFallsBack(t *testing.T) {
	fc := chunkFile(t, "notes.txt", "text", "some plain notes\nwith two lines\n")
	require.NotEmpty(t, fc.Chunks)
	require.NotEmpty(t, fc.Warnings)
	assert.Contains(t, fc.Chunks[0].Tags, "fallback")
}

func TestChunkEmptyFile(t *testing.T) {
	fc := chunkFile(t, "empty.go", "go", "")
	assert.Empty(t, fc.Chunks)
	assert.Empty(t, fc.Warnings)
}

func TestChunkBlankFile(t *testing.T) {
	fc := chunkFile(t, "blank.go", "go", "\n\n   \n")
	assert.Empty(t, fc.Chunks)
}

func TestChunkRejectsInvalidUTF8(t *testing.T) {
	_, err := newTestChunker().Chunk(context.Background(), &FileInput{
		Collection: "demo",
		Path:       "bin.go",
		Content:    []byte{0xff, 0xfe, 0x00, 0x81},
		Language:   "go",
	})
	require.Error(t, err)
	assert.Equal(t, cerr.KindInvalidInput, cerr.KindOf(err))
}

func TestChunkOversizeFunctionSplit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("package big\n\nfunc Huge() {\n")
	for i := 0; i < 400; i++ {
		sb.WriteString("\tcallSomethingWithALongName(\"payload payload payload\")\n")
	}
	sb.WriteString("}\n")

	chunker := NewASTChunker(Options{MaxChunkBytes: 1024, OverlapBytes: 0, MinChunkBytes: 16})
	fc, err := chunker.Chunk(context.Background(), &FileInput{
		Collection: "demo", Path: "big.go", Content: []byte(sb.String()), Language: "go",
	})
	require.NoError(t, err)

	// The function is split into multiple bounded chunks rather than one
	// oversize blob, and the pieces never overlap.
	require.Greater(t, len(fc.Chunks), 1)
	assertNoOverlap(t, fc.Chunks)
}

func TestChunkASTModeNonOverlapping(t *testing.T) {
	fc := chunkFile(t, "calc.go", "go", goSample)
	assertNoOverlap(t, fc.Chunks)
}

func assertNoOverlap(t *testing.T, chunks []*CodeChunk) {
	t.Helper()
	seen := make(map[int]string)
	for _, c := range chunks {
		for line := c.StartLine; line <= c.EndLine; line++ {
			if prev, ok := seen[line]; ok {
				t.Fatalf("line %d covered by both %q and %q", line, prev, c.ID)
			}
			seen[line] = c.ID
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	c := newTestChunker()
	assert.Equal(t, "go", c.DetectLanguage("main.go", nil))
	assert.Equal(t, "python", c.DetectLanguage("tool.py", nil))
	assert.Equal(t, "rust", c.DetectLanguage("lib.rs", nil))
	assert.Equal(t, "java", c.DetectLanguage("App.java", nil))
	assert.Equal(t, "python", c.DetectLanguage("script", []byte("#!/usr/bin/env python3\n")))
	assert.Equal(t, "", c.DetectLanguage("README.md", nil))
}

func TestWindowLinesBoundsAndOverlap(t *testing.T) {
	lines := make([]string, 100)
	for i := range lines {
		lines[i] = strings.Repeat("a", 40)
	}

	chunks := windowLines(lines, 1, 512, 64, "text")
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 512+41, "window stays near the byte budget")
	}
	// Windows advance and cover the file.
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 100, chunks[len(chunks)-1].EndLine)
}

func idSet(chunks []*CodeChunk) map[string]bool {
	out := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		out[c.ID] = true
	}
	return out
}

func symbolIDs(chunks []*CodeChunk) map[string]bool {
	out := make(map[string]bool)
	for _, c := range chunks {
		if c.SymbolKind == SymbolFunction || c.SymbolKind == SymbolMethod {
			out[c.ID] = true
		}
	}
	return out
}
