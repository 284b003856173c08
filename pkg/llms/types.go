// Package llms contains the model provider adapters. Each adapter speaks one
// wire dialect (Anthropic messages, OpenAI chat completions) and normalizes
// it into a single ordered event stream, so the orchestrator never sees
// provider-specific framing or partial tool-call fragments.
package llms

import (
	"context"
	"encoding/json"

	"github.com/droverhq/drover/pkg/protocol"
)

type EventType string

const (
	// EventTextDelta carries an incremental piece of assistant text.
	EventTextDelta EventType = "text_delta"
	// EventToolCallStarted announces a tool call id/name before its arguments.
	EventToolCallStarted EventType = "tool_call_started"
	// EventToolCallArgsDelta carries a raw argument JSON fragment.
	EventToolCallArgsDelta EventType = "tool_call_args_delta"
	// EventToolCallReady carries a fully reassembled tool call.
	EventToolCallReady EventType = "tool_call_ready"
	// EventResponseCompleted terminates every stream, exactly once.
	EventResponseCompleted EventType = "response_completed"
	// EventTrace carries out-of-band diagnostics (retries, transport errors).
	EventTrace EventType = "trace"
)

// Stop reasons reported by EventResponseCompleted, normalized across
// providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopError     = "error"
)

// Event is one normalized streaming event. Type selects which fields are
// meaningful.
type Event struct {
	Type EventType

	// text_delta
	Text string

	// tool_call_started / tool_call_args_delta
	CallID    string
	ToolName  string
	ArgsDelta string

	// tool_call_ready
	ToolCall *protocol.ToolCall

	// response_completed
	StopReason string

	// trace
	Kind    string
	Message string
}

// Trace kinds.
const (
	TraceError      = "error"
	TraceParseError = "parse_error"
)

// ToolDefinition describes a tool to the model. InputSchema is a JSON Schema
// object.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is a single model turn: the full conversation so far plus the tool
// definitions the model may call.
type Request struct {
	System      string
	Messages    []protocol.Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature *float64
}

// Provider streams one model response per call. The returned channel is
// always closed after a response_completed event; transport and decode
// failures surface as trace events followed by response_completed with
// stop reason "error", never as panics or a second error path.
type Provider interface {
	ModelName() string
	Stream(ctx context.Context, req Request) <-chan Event
	Close() error
}

func textDelta(text string) Event {
	return Event{Type: EventTextDelta, Text: text}
}

func toolCallStarted(callID, name string) Event {
	return Event{Type: EventToolCallStarted, CallID: callID, ToolName: name}
}

func toolCallArgsDelta(callID, fragment string) Event {
	return Event{Type: EventToolCallArgsDelta, CallID: callID, ArgsDelta: fragment}
}

func toolCallReady(call protocol.ToolCall) Event {
	return Event{Type: EventToolCallReady, ToolCall: &call}
}

func responseCompleted(stopReason string) Event {
	return Event{Type: EventResponseCompleted, StopReason: stopReason}
}

func traceError(message string) Event {
	return Event{Type: EventTrace, Kind: TraceError, Message: message}
}

func traceParseError(raw string) Event {
	return Event{Type: EventTrace, Kind: TraceParseError, Message: raw}
}

// normalizeArgs guarantees a complete JSON object for a tool call: empty or
// whitespace-only buffers become "{}".
func normalizeArgs(buf string) string {
	if len(buf) == 0 {
		return "{}"
	}
	return buf
}

// renderToolResult serializes a tool result for the model: structured data
// when present, stdout otherwise, a bare OK as a last resort. Failures feed
// back stderr or the first diagnostic.
func renderToolResult(result *protocol.ToolResult) string {
	if result == nil {
		return "OK"
	}
	if result.OK {
		if len(result.Data) > 0 {
			if data, err := json.Marshal(result.Data); err == nil {
				return string(data)
			}
		}
		if result.Stdout != "" {
			return result.Stdout
		}
		return "OK"
	}
	if result.Stderr != "" {
		return result.Stderr
	}
	if msg := result.FirstDiagnostic(); msg != "" {
		return msg
	}
	return "tool failed"
}
