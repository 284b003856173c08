package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/droverhq/drover/pkg/protocol"
)

type ReadFileTool struct{}

type readFileParams struct {
	Path      string `json:"path" jsonschema:"description=File path relative to the repository root"`
	StartLine int    `json:"startLine,omitempty" jsonschema:"description=First line to include (1-indexed; inclusive)"`
	EndLine   int    `json:"endLine,omitempty" jsonschema:"description=Last line to include (inclusive)"`
}

func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{}
}

func (t *ReadFileTool) Info() Info {
	return Info{
		Name:        "ReadFile",
		Description: "Read a file from the workspace, optionally restricted to an inclusive line range.",
		InputSchema: schemaFor(&readFileParams{}),
		Policy:      Policy{ReadOnly: true, Risk: RiskLow},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any, ec ExecContext) (protocol.ToolResult, error) {
	var params readFileParams
	if err := decodeArgs(args, &params); err != nil {
		return protocol.Failure("InvalidArgs", err.Error()), nil
	}
	if params.Path == "" {
		return protocol.Failure("InvalidArgs", "path is required"), nil
	}

	abs, ok := ec.Workspace.Resolve(params.Path)
	if !ok {
		return protocol.Failure("UnsafePath", fmt.Sprintf("path escapes the workspace: %s", params.Path)), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return protocol.Failure("ReadFailed", fmt.Sprintf("failed to read %s: %v", params.Path, err)), nil
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)

	start, end := params.StartLine, params.EndLine
	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > total {
		end = total
	}
	if start > total {
		start = total
	}
	if end < start {
		end = start
	}

	content := strings.Join(lines[start-1:end], "\n")

	return protocol.ToolResult{
		OK:     true,
		Stdout: content,
		Data: map[string]any{
			"path":       params.Path,
			"startLine":  start,
			"endLine":    end,
			"totalLines": total,
			"content":    content,
		},
	}, nil
}
