package policy

import (
	"context"
	"testing"

	"github.com/droverhq/drover/pkg/protocol"
	"github.com/droverhq/drover/pkg/tools"
)

// stubTool lets tests control the static policy independently of the real
// tool set.
type stubTool struct {
	name   string
	policy tools.Policy
}

func (s stubTool) Info() tools.Info {
	return tools.Info{Name: s.name, Policy: s.policy}
}

func (s stubTool) Execute(ctx context.Context, args map[string]any, ec tools.ExecContext) (protocol.ToolResult, error) {
	return protocol.ToolResult{OK: true}, nil
}

func TestEngine_AutoApproveWinsOverEverything(t *testing.T) {
	engine := NewEngine(true)
	tool := stubTool{name: "RunCommand", policy: tools.Policy{RequiresApproval: true, Risk: tools.RiskHigh}}

	if got := engine.Evaluate(tool, `{"exe":"rm"}`); got != Allowed {
		t.Errorf("Evaluate = %v, want Allowed", got)
	}
}

func TestEngine_StaticPolicyRequiresApproval(t *testing.T) {
	engine := NewEngine(false)
	tool := stubTool{name: "ApplyPatch", policy: tools.Policy{RequiresApproval: true}}

	if got := engine.Evaluate(tool, `{}`); got != RequiresApproval {
		t.Errorf("Evaluate = %v, want RequiresApproval", got)
	}
}

func TestEngine_ReadOnlyToolAllowed(t *testing.T) {
	engine := NewEngine(false)
	tool := stubTool{name: "ReadFile", policy: tools.Policy{ReadOnly: true}}

	if got := engine.Evaluate(tool, `{"path":"a.go"}`); got != Allowed {
		t.Errorf("Evaluate = %v, want Allowed", got)
	}
}

func TestEngine_RunCommandDenylist(t *testing.T) {
	engine := NewEngine(false)
	// Static policy deliberately open so the denylist rule is what decides.
	tool := stubTool{name: "RunCommand", policy: tools.Policy{}}

	tests := []struct {
		exe  string
		want Decision
	}{
		{"rm", RequiresApproval},
		{"RM", RequiresApproval},
		{"rmdir", RequiresApproval},
		{"curl", RequiresApproval},
		{"bash", RequiresApproval},
		{"ssh", RequiresApproval},
		{"powershell", RequiresApproval},
		{"fish", RequiresApproval}, // contains "sh"
		{"go", Allowed},
		{"echo", Allowed},
		{"git", Allowed},
	}
	for _, tt := range tests {
		t.Run(tt.exe, func(t *testing.T) {
			if got := engine.Evaluate(tool, `{"exe":"`+tt.exe+`"}`); got != tt.want {
				t.Errorf("Evaluate(exe=%s) = %v, want %v", tt.exe, got, tt.want)
			}
		})
	}
}

func TestEngine_RunCommandUnparseableArgs(t *testing.T) {
	engine := NewEngine(false)
	tool := stubTool{name: "RunCommand", policy: tools.Policy{}}

	if got := engine.Evaluate(tool, `{broken`); got != RequiresApproval {
		t.Errorf("Evaluate = %v, want RequiresApproval for unparseable args", got)
	}
}

func TestDecision_String(t *testing.T) {
	if Allowed.String() != "allowed" || RequiresApproval.String() != "requires_approval" || Denied.String() != "denied" {
		t.Error("Decision strings changed")
	}
}
