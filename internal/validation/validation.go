// Package validation runs AST-driven rules over a repository and reports
// violations. It reuses the chunking engine's parsers and never writes to
// any store; the service is optional and absent rules do not fail startup.
package validation

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/codescope/codescope/internal/chunk"
	"github.com/codescope/codescope/internal/index"
)

// Severity grades a violation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Violation is one rule finding.
type Violation struct {
	Rule     string   `json:"rule"`
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Report is the result of a validation run.
type Report struct {
	Violations []Violation    `json:"violations"`
	Metrics    map[string]int `json:"metrics"`
}

// Rule evaluates one parsed file.
type Rule interface {
	Name() string
	Check(file string, tree *chunk.Tree) []Violation
}

// Service runs rules over a repository.
type Service struct {
	registry *chunk.LanguageRegistry
	rules    []Rule
}

// NewService creates a validation service with the given rules; nil rules
// means the default set.
func NewService(rules []Rule) *Service {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Service{
		registry: chunk.DefaultRegistry(),
		rules:    rules,
	}
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		&FunctionLengthRule{MaxLines: 120},
		&TodoCommentRule{},
		&ParseErrorRule{},
	}
}

// Validate walks root, parses every supported file, and evaluates all
// rules. Unparseable and unsupported files are counted, not fatal.
func (s *Service) Validate(ctx context.Context, root string, ignoreGlobs []string) (*Report, error) {
	files, err := index.Walk(ctx, root, index.WalkOptions{IgnoreGlobs: ignoreGlobs})
	if err != nil {
		return nil, err
	}

	report := &Report{Metrics: map[string]int{}}
	parser := chunk.NewParserWithRegistry(s.registry)
	defer parser.Close()

	for _, entry := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Metrics["files_seen"]++

		content, err := os.ReadFile(entry.AbsPath)
		if err != nil || !utf8.Valid(content) {
			report.Metrics["files_skipped"]++
			continue
		}

		language := s.registry.DetectLanguage(entry.Path, content)
		if language == "" {
			report.Metrics["files_skipped"]++
			continue
		}

		tree, err := parser.Parse(ctx, chunk.Normalize(content), language)
		if err != nil {
			report.Metrics["parse_failures"]++
			continue
		}

		report.Metrics["files_checked"]++
		for _, rule := range s.rules {
			report.Violations = append(report.Violations, rule.Check(entry.Path, tree)...)
		}
	}

	report.Metrics["violations"] = len(report.Violations)
	return report, nil
}

// FunctionLengthRule flags functions longer than MaxLines.
type FunctionLengthRule struct {
	MaxLines int
}

func (r *FunctionLengthRule) Name() string { return "function-length" }

// functionNodeTypes covers the function-ish node types across supported
// grammars.
var functionNodeTypes = map[string]bool{
	"function_declaration": true,
	"method_declaration":   true,
	"function_definition":  true,
	"method_definition":    true,
	"function_item":        true,
}

func (r *FunctionLengthRule) Check(file string, tree *chunk.Tree) []Violation {
	max := r.MaxLines
	if max <= 0 {
		max = 120
	}

	var out []Violation
	tree.Root.Walk(func(n *chunk.Node) bool {
		if !functionNodeTypes[n.Type] {
			return true
		}
		lines := int(n.EndRow-n.StartRow) + 1
		if lines > max {
			out = append(out, Violation{
				Rule:     r.Name(),
				File:     file,
				Line:     int(n.StartRow) + 1,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("function spans %d lines (max %d)", lines, max),
			})
		}
		return true
	})
	return out
}

// TodoCommentRule flags TODO and FIXME markers in comments.
type TodoCommentRule struct{}

func (r *TodoCommentRule) Name() string { return "todo-comment" }

func (r *TodoCommentRule) Check(file string, tree *chunk.Tree) []Violation {
	var out []Violation
	tree.Root.Walk(func(n *chunk.Node) bool {
		if !strings.Contains(n.Type, "comment") {
			return true
		}
		text := n.Content(tree.Source)
		if strings.Contains(text, "TODO") || strings.Contains(text, "FIXME") {
			out = append(out, Violation{
				Rule:     r.Name(),
				File:     file,
				Line:     int(n.StartRow) + 1,
				Severity: SeverityInfo,
				Message:  "unresolved TODO/FIXME marker",
			})
		}
		return false
	})
	return out
}

// ParseErrorRule flags files whose AST contains error nodes, which usually
// means the file does not parse under its detected language.
type ParseErrorRule struct{}

func (r *ParseErrorRule) Name() string { return "parse-error" }

func (r *ParseErrorRule) Check(file string, tree *chunk.Tree) []Violation {
	if !tree.Root.HasError {
		return nil
	}
	line := 1
	tree.Root.Walk(func(n *chunk.Node) bool {
		if n.Type == "ERROR" {
			line = int(n.StartRow) + 1
			return false
		}
		return true
	})
	return []Violation{{
		Rule:     r.Name(),
		File:     file,
		Line:     line,
		Severity: SeverityError,
		Message:  "file contains syntax errors",
	}}
}
