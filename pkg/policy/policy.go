// Package policy decides whether a tool call may run, needs human approval,
// or is denied outright.
package policy

import (
	"encoding/json"
	"strings"

	"github.com/droverhq/drover/pkg/tools"
)

// Decision is the outcome of evaluating one tool call.
type Decision int

const (
	Allowed Decision = iota
	RequiresApproval
	Denied
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case RequiresApproval:
		return "requires_approval"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Substrings of a RunCommand exe that force an approval gate. Deliberately
// coarse: "sh" also catches "ssh" and "bash", which is the intended
// direction of error.
var commandDenylist = []string{
	"rm", "del", "rmdir", "format", "curl", "wget", "ssh", "powershell", "cmd", "bash", "sh",
}

// Engine is the default policy: static tool policies first, then a
// command-name gate for RunCommand.
type Engine struct {
	// AutoApprove short-circuits every evaluation to Allowed.
	AutoApprove bool
}

func NewEngine(autoApprove bool) *Engine {
	return &Engine{AutoApprove: autoApprove}
}

// Evaluate applies the rules in order: auto-approve, the tool's static
// policy, the RunCommand denylist. Arguments that fail to parse escalate to
// approval rather than failing open.
func (e *Engine) Evaluate(tool tools.Tool, argsJSON string) Decision {
	if e.AutoApprove {
		return Allowed
	}

	info := tool.Info()
	if info.Policy.RequiresApproval {
		return RequiresApproval
	}

	if strings.EqualFold(info.Name, "RunCommand") {
		var args struct {
			Exe string `json:"exe"`
		}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return RequiresApproval
		}
		exe := strings.ToLower(args.Exe)
		for _, fragment := range commandDenylist {
			if strings.Contains(exe, fragment) {
				return RequiresApproval
			}
		}
	}

	return Allowed
}
