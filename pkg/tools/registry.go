package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/droverhq/drover/pkg/protocol"
)

// Registry maps tool names to tools, case-insensitively. Registration
// happens at startup; lookups are read-only afterwards.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// DefaultRegistry registers the full local tool set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewReadFileTool())
	r.Register(NewListFilesTool())
	r.Register(NewSearchTextTool())
	r.Register(NewGitStatusTool())
	r.Register(NewGitDiffTool())
	r.Register(NewApplyPatchTool())
	r.Register(NewWriteFileTool())
	r.Register(NewRunCommandTool())
	return r
}

func (r *Registry) Register(tool Tool) {
	r.tools[strings.ToLower(tool.Info().Name)] = tool
}

// Get looks a tool up by name, case-insensitively.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[strings.ToLower(name)]
	return tool, ok
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Info().Name < tools[j].Info().Name
	})
	return tools
}

// Execute parses the call's argument JSON and runs the tool under a span.
// Unknown tools and unparseable arguments are failures, not errors; a
// panicking tool is recovered into an error for the caller to report.
func (r *Registry) Execute(ctx context.Context, call protocol.ToolCall, ec ExecContext) (result protocol.ToolResult, err error) {
	start := time.Now()

	tracer := otel.Tracer("drover.tools")
	ctx, span := tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		),
	)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	tool, ok := r.Get(call.Name)
	if !ok {
		span.SetStatus(codes.Error, "tool not found")
		return protocol.Failure("UnknownTool", fmt.Sprintf("Unknown tool: %s", call.Name)), nil
	}

	args := make(map[string]any)
	if strings.TrimSpace(call.ArgsJSON) != "" {
		if jsonErr := json.Unmarshal([]byte(call.ArgsJSON), &args); jsonErr != nil {
			span.SetStatus(codes.Error, "invalid arguments")
			return protocol.Failure("InvalidArgs", fmt.Sprintf("invalid tool arguments: %v", jsonErr)), nil
		}
	}

	result, err = tool.Execute(ctx, args, ec)
	span.SetAttributes(attribute.Int64("tool.duration_ms", time.Since(start).Milliseconds()))
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !result.OK:
		span.SetStatus(codes.Error, result.FirstDiagnostic())
	default:
		span.SetStatus(codes.Ok, "success")
	}
	return result, err
}
