package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cerr "github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/gitignore"
	"github.com/codescope/codescope/internal/store"
)

// builtinIgnores are directory names always skipped during the walk.
var builtinIgnores = map[string]bool{
	".git":        true,
	"node_modules": true,
	"target":      true,
	"__pycache__": true,
}

// FileEntry is one indexable file discovered by the walk.
type FileEntry struct {
	// Path is relative to the walk root, slash-separated.
	Path string
	// AbsPath is the absolute filesystem path.
	AbsPath string
	// Size in bytes.
	Size int64
}

// WalkOptions filters the traversal.
type WalkOptions struct {
	// Extensions restricts results to these extensions when non-empty
	// (with or without leading dot).
	Extensions []string
	// IgnoreGlobs are path globs (relative, slash-separated) to skip.
	IgnoreGlobs []string
	// MaxFileBytes skips files larger than this when positive.
	MaxFileBytes int64
	// NoGitignore disables .gitignore handling.
	NoGitignore bool
}

// Walk traverses root deterministically (ascending lexicographic within
// each directory) and returns matching files in traversal order.
func Walk(ctx context.Context, root string, opts WalkOptions) ([]FileEntry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInvalidInput, "resolve root path", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInvalidInput, "stat root path", err)
	}
	if !info.IsDir() {
		return nil, cerr.Newf(cerr.KindInvalidInput, "root path %s is not a directory", absRoot)
	}

	extensions := normalizeExtensions(opts.Extensions)

	var ignores *gitignore.Ruleset
	if !opts.NoGitignore {
		ignores = gitignore.New()
	}

	var files []FileEntry
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return cerr.Wrap(cerr.KindCancelled, "walk cancelled", err)
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			// Directories are visited before their children, so nested
			// .gitignore patterns load before anything they govern.
			if ignores != nil {
				giPath := filepath.Join(path, ".gitignore")
				if _, statErr := os.Stat(giPath); statErr == nil {
					base := rel
					if base == "." {
						base = ""
					}
					_ = ignores.AddFile(giPath, base)
				}
			}
			if rel == "." {
				return nil
			}
			if builtinIgnores[d.Name()] || matchesAny(opts.IgnoreGlobs, rel) {
				return fs.SkipDir
			}
			if ignores != nil && ignores.Ignored(rel, true) {
				return fs.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if matchesAny(opts.IgnoreGlobs, rel) {
			return nil
		}
		if ignores != nil && ignores.Ignored(rel, false) {
			return nil
		}
		if len(extensions) > 0 && !extensions[strings.ToLower(filepath.Ext(rel))] {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		if opts.MaxFileBytes > 0 && fi.Size() > opts.MaxFileBytes {
			return nil
		}

		files = append(files, FileEntry{Path: rel, AbsPath: path, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// WalkDir visits entries in lexical order per directory already; the
	// final sort pins a total order across platforms.
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func normalizeExtensions(exts []string) map[string]bool {
	if len(exts) == 0 {
		return nil
	}
	out := make(map[string]bool, len(exts))
	for _, ext := range exts {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = true
	}
	return out
}

func matchesAny(globs []string, rel string) bool {
	for _, g := range globs {
		if store.GlobMatch(g, rel) {
			return true
		}
	}
	return false
}
