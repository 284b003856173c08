package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/droverhq/drover/pkg/workspace"
)

func newExecContext(t *testing.T) ExecContext {
	t.Helper()
	root := t.TempDir()
	guard, err := workspace.New(root)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return ExecContext{RepoRoot: guard.Root(), Workspace: guard}
}

func writeTestFile(t *testing.T, ec ExecContext, rel, content string) {
	t.Helper()
	abs := filepath.Join(ec.RepoRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readTestFile(t *testing.T, ec ExecContext, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ec.RepoRoot, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
