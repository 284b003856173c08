package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/droverhq/drover/pkg/protocol"
)

type GitStatusTool struct{}

type gitStatusParams struct{}

func NewGitStatusTool() *GitStatusTool {
	return &GitStatusTool{}
}

func (t *GitStatusTool) Info() Info {
	return Info{
		Name:        "GitStatus",
		Description: "Show the current branch and working tree changes.",
		InputSchema: schemaFor(&gitStatusParams{}),
		Policy:      Policy{ReadOnly: true, Risk: RiskLow},
	}
}

func (t *GitStatusTool) Execute(ctx context.Context, args map[string]any, ec ExecContext) (protocol.ToolResult, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain", "-b")
	cmd.Dir = ec.RepoRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		return protocol.Failure("GitFailed", fmt.Sprintf("git status failed: %v: %s", err, strings.TrimSpace(string(output)))), nil
	}

	branch, changes := parsePorcelainStatus(string(output))

	return protocol.ToolResult{
		OK:     true,
		Stdout: string(output),
		Data: map[string]any{
			"branch":  branch,
			"changes": changes,
			"clean":   len(changes) == 0,
		},
	}, nil
}

// parsePorcelainStatus splits `git status --porcelain -b` output into the
// branch name and one {status, file} record per changed path.
func parsePorcelainStatus(output string) (string, []map[string]string) {
	branch := ""
	changes := []map[string]string{}

	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			branch = strings.TrimPrefix(line, "## ")
			// A repository without commits reports "No commits yet on main".
			branch = strings.TrimPrefix(branch, "No commits yet on ")
			// "main...origin/main [ahead 1]" → "main"
			if i := strings.Index(branch, "..."); i >= 0 {
				branch = branch[:i]
			}
			if i := strings.Index(branch, " "); i >= 0 {
				branch = branch[:i]
			}
			continue
		}
		if len(line) < 4 {
			continue
		}
		changes = append(changes, map[string]string{
			"status": strings.TrimSpace(line[:2]),
			"file":   strings.TrimSpace(line[3:]),
		})
	}
	return branch, changes
}

type GitDiffTool struct{}

type gitDiffParams struct {
	Staged bool   `json:"staged,omitempty" jsonschema:"description=Diff the index instead of the working tree"`
	File   string `json:"file,omitempty" jsonschema:"description=Restrict the diff to one file"`
}

func NewGitDiffTool() *GitDiffTool {
	return &GitDiffTool{}
}

func (t *GitDiffTool) Info() Info {
	return Info{
		Name:        "GitDiff",
		Description: "Show uncommitted changes as a unified diff, optionally staged-only or for a single file.",
		InputSchema: schemaFor(&gitDiffParams{}),
		Policy:      Policy{ReadOnly: true, Risk: RiskLow},
	}
}

func (t *GitDiffTool) Execute(ctx context.Context, args map[string]any, ec ExecContext) (protocol.ToolResult, error) {
	var params gitDiffParams
	if err := decodeArgs(args, &params); err != nil {
		return protocol.Failure("InvalidArgs", err.Error()), nil
	}

	gitArgs := []string{"diff"}
	if params.Staged {
		gitArgs = append(gitArgs, "--cached")
	}
	if params.File != "" {
		if _, ok := ec.Workspace.Resolve(params.File); !ok {
			return protocol.Failure("UnsafePath", fmt.Sprintf("path escapes the workspace: %s", params.File)), nil
		}
		gitArgs = append(gitArgs, "--", params.File)
	}

	cmd := exec.CommandContext(ctx, "git", gitArgs...)
	cmd.Dir = ec.RepoRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		return protocol.Failure("GitFailed", fmt.Sprintf("git diff failed: %v: %s", err, strings.TrimSpace(string(output)))), nil
	}

	diff := string(output)
	return protocol.ToolResult{
		OK:     true,
		Stdout: diff,
		Data: map[string]any{
			"staged":  params.Staged,
			"file":    params.File,
			"hasDiff": strings.TrimSpace(diff) != "",
			"diff":    diff,
		},
	}, nil
}
