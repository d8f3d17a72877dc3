package chunk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	cerr "github.com/codescope/codescope/internal/errors"
)

// ASTChunker is the language-aware chunking engine. It emits one chunk per
// named declaration, splits oversize declarations at statement boundaries,
// and covers residual non-blank regions (file headers, stray statements)
// with plain chunks so the union of chunk line ranges spans the file.
type ASTChunker struct {
	registry *LanguageRegistry
	opts     Options
}

// NewASTChunker creates a chunker over the default language registry.
func NewASTChunker(opts Options) *ASTChunker {
	return &ASTChunker{
		registry: DefaultRegistry(),
		opts:     opts.withDefaults(),
	}
}

// SupportedLanguages returns the language names this chunker handles.
func (c *ASTChunker) SupportedLanguages() []string {
	return c.registry.Languages()
}

// DetectLanguage resolves a language for a file, or "" when unknown.
func (c *ASTChunker) DetectLanguage(path string, content []byte) string {
	return c.registry.DetectLanguage(path, content)
}

// Chunk splits a file into chunks. Non-UTF-8 input is rejected; it is never
// lossily decoded. A failed parse falls back to the byte-window chunker and
// records a warning — the file is still indexed.
func (c *ASTChunker) Chunk(ctx context.Context, file *FileInput) (*FileChunks, error) {
	if len(file.Content) == 0 {
		return &FileChunks{}, nil
	}
	if !utf8.Valid(file.Content) {
		return nil, cerr.Newf(cerr.KindInvalidInput, "file %s is not valid UTF-8", file.Path)
	}

	normalized := Normalize(file.Content)
	lines := splitLines(normalized)
	if allBlank(lines) {
		return &FileChunks{}, nil
	}

	config, supported := c.registry.GetByName(file.Language)
	if !supported {
		return c.fallback(file, lines, fmt.Sprintf("no AST strategy for language %q", file.Language)), nil
	}

	parser := NewParserWithRegistry(c.registry)
	defer parser.Close()

	tree, err := parser.Parse(ctx, normalized, file.Language)
	if err != nil {
		return c.fallback(file, lines, fmt.Sprintf("parse failed: %v", err)), nil
	}

	result := &FileChunks{}
	c.visit(tree.Root, tree.Source, config, file.Language, "", lines, result)

	// Cover regions no declaration claimed: package clauses, imports,
	// container headers left over from splitting, stray statements.
	c.coverResidual(lines, file.Language, result)

	sort.Slice(result.Chunks, func(i, j int) bool {
		a, b := result.Chunks[i], result.Chunks[j]
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.EndLine < b.EndLine
	})

	assignIDs(file.Collection, file.Path, result.Chunks)
	return result, nil
}

// visit walks n's children, emitting declaration chunks. Emitted nodes are
// pruned, which keeps chunks non-overlapping; oversize containers are split
// into their nested declarations instead of being emitted whole.
func (c *ASTChunker) visit(n *Node, source []byte, config *LanguageConfig, language, qualifier string, lines []string, out *FileChunks) {
	for _, child := range n.Children {
		kind, isDecl := config.DeclKinds[child.Type]
		if !isDecl {
			c.visit(child, source, config, language, qualifier, lines, out)
			continue
		}

		name := extractName(child, source, language)
		if declaresFunction(child) {
			kind = SymbolFunction
		}
		qname := qualify(qualifier, name)

		if child.ByteLen() <= c.opts.MaxChunkBytes {
			if name == "" && child.ByteLen() < c.opts.MinChunkBytes {
				// Tiny anonymous declaration; residual coverage picks it up.
				continue
			}
			out.Chunks = append(out.Chunks, c.lineChunk(lines, child.StartRow, child.EndRow, language, kind, qname, nil))
			continue
		}

		if hasSplittableDecls(child, config, c.opts.MinChunkBytes) {
			c.visit(child, source, config, language, qname, lines, out)
			continue
		}

		c.splitByStatement(child, lines, language, kind, qname, out, int(child.StartRow))
	}
}

// splitByStatement groups an oversize declaration's direct children into
// max-bounded line ranges. Rows below minRow are already covered by an
// earlier chunk and are never re-emitted, keeping splits non-overlapping.
// A childless node that exceeds the budget is emitted oversize with a
// warning. Returns the first row not yet covered.
func (c *ASTChunker) splitByStatement(n *Node, lines []string, language string, kind SymbolKind, name string, out *FileChunks, minRow int) int {
	if len(n.Children) == 0 {
		startRow := int(n.StartRow)
		if startRow < minRow {
			startRow = minRow
		}
		endRow := int(n.EndRow)
		if startRow > endRow {
			return minRow
		}
		out.Chunks = append(out.Chunks, c.lineChunk(lines, uint32(startRow), uint32(endRow), language, kind, name, []string{"oversize"}))
		out.Warnings = append(out.Warnings, fmt.Sprintf("oversize chunk %s (%d bytes, un-splittable)", name, n.ByteLen()))
		return endRow + 1
	}

	next := minRow
	part := 0
	groupStart := -1
	groupEnd := -1
	groupBytes := 0

	flush := func() {
		if groupStart < 0 {
			return
		}
		part++
		partName := name
		if partName != "" {
			partName = fmt.Sprintf("%s#%d", name, part)
		}
		out.Chunks = append(out.Chunks, c.lineChunk(lines, uint32(groupStart), uint32(groupEnd), language, kind, partName, nil))
		if groupEnd+1 > next {
			next = groupEnd + 1
		}
		groupStart, groupEnd, groupBytes = -1, -1, 0
	}

	for _, child := range n.Children {
		clen := child.ByteLen()
		startRow := int(child.StartRow)
		endRow := int(child.EndRow)
		if startRow < next {
			startRow = next
		}
		if groupEnd >= 0 && startRow <= groupEnd {
			startRow = groupEnd + 1
		}
		if startRow > endRow {
			// Child sits entirely on rows already covered.
			groupBytes += clen
			continue
		}

		if clen > c.opts.MaxChunkBytes {
			flush()
			next = c.splitByStatement(child, lines, language, kind, name, out, next)
			continue
		}

		if groupBytes+clen > c.opts.MaxChunkBytes {
			flush()
			startRow = int(child.StartRow)
			if startRow < next {
				startRow = next
			}
			endRow = int(child.EndRow)
			if startRow > endRow {
				groupBytes += clen
				continue
			}
		}
		if groupStart < 0 {
			groupStart = startRow
		}
		if endRow > groupEnd {
			groupEnd = endRow
		}
		groupBytes += clen
	}
	flush()
	return next
}

// coverResidual groups contiguous non-blank lines not covered by any chunk
// into plain chunks, preserving the full-coverage guarantee.
func (c *ASTChunker) coverResidual(lines []string, language string, out *FileChunks) {
	covered := make([]bool, len(lines))
	for _, ch := range out.Chunks {
		for row := ch.StartLine - 1; row <= ch.EndLine-1 && row < len(lines); row++ {
			if row >= 0 {
				covered[row] = true
			}
		}
	}

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		segment := lines[start:end]
		if !allBlank(segment) {
			out.Chunks = append(out.Chunks, windowLines(segment, start+1, c.opts.MaxChunkBytes, 0, language)...)
		}
		start = -1
	}

	for i := range lines {
		if covered[i] {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(lines))
}

// fallback chunks the whole file with the byte-window strategy.
func (c *ASTChunker) fallback(file *FileInput, lines []string, reason string) *FileChunks {
	chunks := windowLines(lines, 1, c.opts.MaxChunkBytes, c.opts.OverlapBytes, file.Language)
	for _, ch := range chunks {
		ch.Tags = append(ch.Tags, "fallback")
	}
	assignIDs(file.Collection, file.Path, chunks)
	return &FileChunks{
		Chunks:   chunks,
		Warnings: []string{reason},
	}
}

// lineChunk builds a chunk from an inclusive row range of normalised lines.
func (c *ASTChunker) lineChunk(lines []string, startRow, endRow uint32, language string, kind SymbolKind, name string, tags []string) *CodeChunk {
	end := int(endRow)
	if end >= len(lines) {
		end = len(lines) - 1
	}
	content := strings.Join(lines[startRow:end+1], "\n") + "\n"
	return &CodeChunk{
		Language:   language,
		Content:    content,
		StartLine:  int(startRow) + 1,
		EndLine:    end + 1,
		SymbolKind: kind,
		SymbolName: name,
		Tags:       tags,
	}
}

// hasSplittableDecls reports whether the node contains named declarations
// large enough to stand alone, which makes container splitting worthwhile.
func hasSplittableDecls(n *Node, config *LanguageConfig, minBytes int) bool {
	found := false
	for _, child := range n.Children {
		child.Walk(func(d *Node) bool {
			if found {
				return false
			}
			if _, ok := config.DeclKinds[d.Type]; ok && d.ByteLen() >= minBytes {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

func qualify(qualifier, name string) string {
	switch {
	case name == "":
		return qualifier
	case qualifier == "":
		return name
	default:
		return qualifier + "." + name
	}
}

// splitLines splits normalised content into lines, dropping the trailing
// empty element produced by the enforced final newline.
func splitLines(normalized []byte) []string {
	lines := strings.Split(string(normalized), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
