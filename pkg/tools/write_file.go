package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/droverhq/drover/pkg/protocol"
)

type WriteFileTool struct{}

type writeFileParams struct {
	Path    string `json:"path" jsonschema:"description=File path relative to the repository root"`
	Content string `json:"content" jsonschema:"description=Full file content to write"`
}

func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{}
}

func (t *WriteFileTool) Info() Info {
	return Info{
		Name:        "WriteFile",
		Description: "Create or overwrite a file with the given content. Parent directories are created as needed.",
		InputSchema: schemaFor(&writeFileParams{}),
		Policy:      Policy{RequiresApproval: true, Risk: RiskMedium},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any, ec ExecContext) (protocol.ToolResult, error) {
	var params writeFileParams
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

	_, statErr := os.Stat(abs)
	created := os.IsNotExist(statErr)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return protocol.Failure("WriteFailed", fmt.Sprintf("failed to create directories: %v", err)), nil
	}
	if err := os.WriteFile(abs, []byte(params.Content), 0o644); err != nil {
		return protocol.Failure("WriteFailed", fmt.Sprintf("failed to write %s: %v", params.Path, err)), nil
	}

	return protocol.ToolResult{
		OK:     true,
		Stdout: fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.Path),
		Data: map[string]any{
			"path":         params.Path,
			"bytesWritten": len(params.Content),
			"created":      created,
		},
	}, nil
}
