package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/codescope/codescope/internal/errors"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func paths(entries []FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestWalkDeterministicOrder(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"zeta.go":      "package z",
		"alpha.go":     "package a",
		"sub/beta.go":  "package b",
		"sub/alpha.go": "package a",
	})

	files, err := Walk(context.Background(), root, WalkOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha.go", "sub/alpha.go", "sub/beta.go", "zeta.go"}, paths(files))

	// Repeat runs produce the same order.
	again, err := Walk(context.Background(), root, WalkOptions{})
	require.NoError(t, err)
	assert.Equal(t, paths(files), paths(again))
}

func TestWalkBuiltinIgnores(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":                  "package main",
		".git/config":              "x",
		"node_modules/pkg/a.js":    "x",
		"target/debug/bin":         "x",
		"__pycache__/mod.pyc":      "x",
		"src/app.py":               "print(1)",
	})

	files, err := Walk(context.Background(), root, WalkOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go", "src/app.py"}, paths(files))
}

func TestWalkUserGlobs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":          "package main",
		"vendor/dep/a.go":  "package dep",
		"main_test.go":     "package main",
	})

	files, err := Walk(context.Background(), root, WalkOptions{
		IgnoreGlobs: []string{"vendor/**", "*_test.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, paths(files))
}

func TestWalkExtensionFilter(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":   "package a",
		"b.py":   "x = 1",
		"c.md":   "# doc",
		"d.rs":   "fn main() {}",
	})

	files, err := Walk(context.Background(), root, WalkOptions{Extensions: []string{".go", "py"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.py"}, paths(files))
}

func TestWalkMaxFileBytes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"small.go": "package a",
		"big.go":   string(make([]byte, 2048)),
	})

	files, err := Walk(context.Background(), root, WalkOptions{MaxFileBytes: 1024})
	require.NoError(t, err)
	assert.Equal(t, []string{"small.go"}, paths(files))
}

func TestWalkRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":      "*.log\ndist/\n",
		"main.go":         "package main",
		"debug.log":       "x",
		"dist/bundle.js":  "x",
		"sub/.gitignore":  "secret.txt\n",
		"sub/secret.txt":  "x",
		"sub/visible.txt": "x",
	})

	files, err := Walk(context.Background(), root, WalkOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "main.go", "sub/.gitignore", "sub/visible.txt"}, paths(files))
}

func TestWalkNoGitignoreOption(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore": "*.log\n",
		"debug.log":  "x",
	})

	files, err := Walk(context.Background(), root, WalkOptions{NoGitignore: true})
	require.NoError(t, err)
	assert.Contains(t, paths(files), "debug.log")
}

func TestWalkBadRoot(t *testing.T) {
	_, err := Walk(context.Background(), filepath.Join(t.TempDir(), "missing"), WalkOptions{})
	require.Error(t, err)
	assert.Equal(t, cerr.KindInvalidInput, cerr.KindOf(err))
}

func TestWalkCancellation(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.go": "package a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Walk(ctx, root, WalkOptions{})
	require.Error(t, err)
	assert.Equal(t, cerr.KindCancelled, cerr.KindOf(err))
}
