// Package tools implements the local tool set the model can call: file
// reading and writing, listing, text search, git inspection, patch
// application, and command execution. Every filesystem path a tool touches
// resolves through the workspace guard.
package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/droverhq/drover/pkg/protocol"
	"github.com/droverhq/drover/pkg/workspace"
)

// Risk levels used by tool policies.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Policy is a tool's static execution policy, consulted by the policy
// engine before every call.
type Policy struct {
	RequiresApproval bool
	ReadOnly         bool
	Risk             string
}

// Info describes a tool to the registry and, via InputSchema, to the model.
type Info struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Policy      Policy
}

// ExecContext carries the per-session environment tools execute in.
type ExecContext struct {
	RepoRoot  string
	Workspace *workspace.Guard
}

// Tool is a stateless executor. Predictable failures (missing file, bad
// arguments, non-zero exit) come back as failed ToolResults; the error
// return is reserved for faults the model cannot act on.
type Tool interface {
	Info() Info
	Execute(ctx context.Context, args map[string]any, ec ExecContext) (protocol.ToolResult, error)
}

// decodeArgs maps a parsed JSON argument object onto a typed params struct.
// Decoding is weakly typed: JSON numbers fill int fields, "true" fills bools.
func decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(args)
}

// schemaFor reflects a JSON Schema from a params struct. Schemas are inlined
// (no $ref) because providers reject referenced schemas.
func schemaFor(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
