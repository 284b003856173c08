package tools

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/droverhq/drover/pkg/protocol"
)

const maxListedFiles = 500

// Directories no listing or search ever descends into.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"bin":          true,
	"obj":          true,
}

type ListFilesTool struct{}

type listFilesParams struct {
	Pattern string `json:"pattern,omitempty" jsonschema:"description=Glob pattern matched against relative paths (and base names); empty lists everything"`
}

func NewListFilesTool() *ListFilesTool {
	return &ListFilesTool{}
}

func (t *ListFilesTool) Info() Info {
	return Info{
		Name:        "ListFiles",
		Description: "List files under the repository root matching a glob pattern. Excludes node_modules, .git, bin, and obj.",
		InputSchema: schemaFor(&listFilesParams{}),
		Policy:      Policy{ReadOnly: true, Risk: RiskLow},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]any, ec ExecContext) (protocol.ToolResult, error) {
	var params listFilesParams
	if err := decodeArgs(args, &params); err != nil {
		return protocol.Failure("InvalidArgs", err.Error()), nil
	}

	var files []string
	truncated := false

	err := filepath.WalkDir(ec.Workspace.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(ec.Workspace.Root(), p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !matchPattern(params.Pattern, rel) {
			return nil
		}
		if len(files) >= maxListedFiles {
			truncated = true
			return filepath.SkipAll
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return protocol.Failure("ListFailed", err.Error()), nil
	}

	sort.Strings(files)

	return protocol.ToolResult{
		OK:     true,
		Stdout: strings.Join(files, "\n"),
		Data: map[string]any{
			"files":     files,
			"count":     len(files),
			"truncated": truncated,
		},
	}, nil
}

// matchPattern matches a glob against the relative path; patterns without a
// separator also match the base name, so "*.go" finds nested files.
func matchPattern(pattern, rel string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if ok, err := path.Match(pattern, rel); err == nil && ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		if ok, err := path.Match(pattern, path.Base(rel)); err == nil && ok {
			return true
		}
	}
	return false
}
