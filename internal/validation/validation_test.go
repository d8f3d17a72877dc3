package validation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, path, content string) {
	t.Helper()
	full := filepath.Join(root, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestValidateCleanRepo(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc main() {\n}\n")

	report, err := NewService(nil).Validate(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Metrics["files_checked"])
	assert.Empty(t, violationsFor(report, "parse-error"))
	assert.Empty(t, violationsFor(report, "function-length"))
}

func TestValidateFlagsTodos(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\n// TODO: remove this hack\nfunc main() {\n}\n")

	report, err := NewService(nil).Validate(context.Background(), root, nil)
	require.NoError(t, err)

	todos := violationsFor(report, "todo-comment")
	require.Len(t, todos, 1)
	assert.Equal(t, "main.go", todos[0].File)
	assert.Equal(t, SeverityInfo, todos[0].Severity)
}

func TestValidateFlagsLongFunctions(t *testing.T) {
	root := t.TempDir()

	var sb strings.Builder
	sb.WriteString("package main\n\nfunc long() {\n")
	for i := 0; i < 50; i++ {
		sb.WriteString("\t_ = " + strings.Repeat("1+", 3) + "1\n")
	}
	sb.WriteString("}\n")
	writeFile(t, root, "long.go", sb.String())

	svc := NewService([]Rule{&FunctionLengthRule{MaxLines: 10}})
	report, err := svc.Validate(context.Background(), root, nil)
	require.NoError(t, err)

	long := violationsFor(report, "function-length")
	require.Len(t, long, 1)
	assert.Equal(t, SeverityWarning, long[0].Severity)
	assert.Contains(t, long[0].Message, "max 10")
}

func TestValidateFlagsSyntaxErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "broken.go", "package main\n\nfunc broken( {\n")

	report, err := NewService(nil).Validate(context.Background(), root, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, violationsFor(report, "parse-error"))
}

func TestValidateSkipsUnsupportedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "# hello\n")
	writeFile(t, root, "main.go", "package main\n")

	report, err := NewService(nil).Validate(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Metrics["files_seen"])
	assert.Equal(t, 1, report.Metrics["files_checked"])
	assert.Equal(t, 1, report.Metrics["files_skipped"])
}

func TestValidateRespectsIgnoreGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "gen/auto.go", "package gen\n// TODO generated\n")

	report, err := NewService(nil).Validate(context.Background(), root, []string{"gen/**"})
	require.NoError(t, err)

	assert.Empty(t, violationsFor(report, "todo-comment"))
}

func violationsFor(report *Report, rule string) []Violation {
	var out []Violation
	for _, v := range report.Violations {
		if v.Rule == rule {
			out = append(out, v)
		}
	}
	return out
}
