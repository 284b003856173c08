// Package protocol defines the conversation types shared by tools, model
// providers, the orchestrator, and session persistence.
//
// Messages reference tool calls by id, never by pointer, so the whole
// conversation serializes to flat JSON lines.
package protocol

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an assistant's request to invoke a tool. ArgsJSON is always a
// complete JSON object; partial fragments live only inside provider adapters.
type ToolCall struct {
	ID       string `json:"callId"`
	Name     string `json:"name"`
	ArgsJSON string `json:"argsJson"`
}

type Diagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ToolResult is the value returned by executing a tool call. Failures are
// values, not errors: they are fed back to the model as the designed
// feedback path. OK=false implies at least one diagnostic.
type ToolResult struct {
	OK          bool           `json:"ok"`
	Stdout      string         `json:"stdout,omitempty"`
	Stderr      string         `json:"stderr,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
}

// Message is one entry of the conversation. Exactly one variant is populated:
// user (Content), assistant (Content and/or ToolCalls), or tool (CallID,
// ToolName, Result). Messages are immutable once appended.
type Message struct {
	Role      Role        `json:"role"`
	Content   string      `json:"content,omitempty"`
	ToolCalls []ToolCall  `json:"toolCalls,omitempty"`
	CallID    string      `json:"callId,omitempty"`
	ToolName  string      `json:"toolName,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func ToolMessage(callID, toolName string, result ToolResult) Message {
	return Message{Role: RoleTool, CallID: callID, ToolName: toolName, Result: &result}
}

// Failure builds a failed ToolResult with a single diagnostic.
func Failure(code, message string) ToolResult {
	return ToolResult{
		OK:          false,
		Stderr:      message,
		Diagnostics: []Diagnostic{{Code: code, Message: message}},
	}
}

// FirstDiagnostic returns the first diagnostic message, or the empty string.
func (r ToolResult) FirstDiagnostic() string {
	if len(r.Diagnostics) > 0 {
		return r.Diagnostics[0].Message
	}
	return ""
}
