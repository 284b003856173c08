// Package agent drives the conversation loop: send the conversation to the
// model, stream its response, execute the tool calls it requests, feed the
// results back, repeat until the model finishes its turn.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/droverhq/drover/pkg/approval"
	"github.com/droverhq/drover/pkg/llms"
	"github.com/droverhq/drover/pkg/policy"
	"github.com/droverhq/drover/pkg/protocol"
	"github.com/droverhq/drover/pkg/session"
	"github.com/droverhq/drover/pkg/tools"
	"github.com/droverhq/drover/pkg/workspace"
)

// Markers surfaced to the user when a run ends abnormally.
const (
	NoticeNoResponse    = "[no response]"
	NoticeMaxIterations = "[max iterations reached]"
	NoticeCancelled     = "[cancelled]"
)

// Sink receives the user-visible output of a run. The terminal and the
// server stream implement it; the loop itself is UI-agnostic.
type Sink interface {
	Text(delta string)
	ToolCall(callID, toolName, argsJSON string)
	ToolResult(callID, toolName string, result protocol.ToolResult)
	Notice(message string)
}

// Options are the per-session loop parameters.
type Options struct {
	RepoRoot      string
	Workspace     *workspace.Guard
	SystemPrompt  string
	MaxIterations int
	MaxTokens     int
	Temperature   *float64
}

func (o *Options) setDefaults() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 20
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
}

// Agent owns one conversation. Not safe for concurrent Runs; callers
// serialize (the server holds a per-session run lock).
type Agent struct {
	opts     Options
	provider llms.Provider
	registry *tools.Registry
	policy   *policy.Engine
	arbiter  approval.Arbiter
	log      *session.Writer
	messages []protocol.Message
}

func New(provider llms.Provider, registry *tools.Registry, engine *policy.Engine,
	arbiter approval.Arbiter, log *session.Writer, opts Options) *Agent {
	opts.setDefaults()
	return &Agent{
		opts:     opts,
		provider: provider,
		registry: registry,
		policy:   engine,
		arbiter:  arbiter,
		log:      log,
	}
}

// Messages returns the conversation so far.
func (a *Agent) Messages() []protocol.Message {
	return a.messages
}

// SetMessages seeds the conversation, used when resuming from a session log.
func (a *Agent) SetMessages(messages []protocol.Message) {
	a.messages = messages
}

// turnState accumulates one model turn off the event stream.
type turnState struct {
	text        strings.Builder
	pending     []protocol.ToolCall
	completed   bool
	stopReason  string
	providerErr string
}

// Run executes one user prompt to completion.
func (a *Agent) Run(ctx context.Context, prompt string, sink Sink) error {
	a.append(protocol.UserMessage(prompt))
	if a.log != nil {
		a.log.UserPrompt(prompt)
	}

	for iteration := 0; iteration < a.opts.MaxIterations; iteration++ {
		turn := a.consumeStream(ctx, sink)

		if ctx.Err() != nil {
			sink.Notice(NoticeCancelled)
			return nil
		}

		text := turn.text.String()
		if text != "" || len(turn.pending) > 0 {
			a.append(protocol.AssistantMessage(text, turn.pending))
		}

		switch {
		case len(turn.pending) == 0 && turn.completed:
			return nil

		case len(turn.pending) == 0 && text == "":
			notice := fmt.Sprintf("%s (stop: %s)", NoticeNoResponse, turn.stopReason)
			if turn.providerErr != "" {
				notice += ": " + turn.providerErr
			}
			sink.Notice(notice)
			return nil

		case len(turn.pending) > 0:
			for _, call := range turn.pending {
				result := a.executeCall(ctx, call, sink)
				a.append(protocol.ToolMessage(call.ID, call.Name, result))
				if ctx.Err() != nil {
					sink.Notice(NoticeCancelled)
					return nil
				}
			}

		default:
			// Text but no completion and no work: nothing left to drive.
			return nil
		}
	}

	sink.Notice(NoticeMaxIterations)
	return nil
}

func (a *Agent) consumeStream(ctx context.Context, sink Sink) *turnState {
	req := llms.Request{
		System:      a.opts.SystemPrompt,
		Messages:    a.messages,
		Tools:       a.toolDefinitions(),
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
	}

	turn := &turnState{}
	for event := range a.provider.Stream(ctx, req) {
		if a.log != nil && event.Type != llms.EventTextDelta && event.Type != llms.EventToolCallArgsDelta {
			a.log.Event(string(event.Type), map[string]any{"callId": event.CallID})
		}
		switch event.Type {
		case llms.EventTextDelta:
			turn.text.WriteString(event.Text)
			sink.Text(event.Text)

		case llms.EventToolCallReady:
			if event.ToolCall != nil {
				turn.pending = append(turn.pending, *event.ToolCall)
			}

		case llms.EventTrace:
			if event.Kind == llms.TraceError {
				turn.providerErr = event.Message
				slog.Error("provider error", "error", event.Message)
			}

		case llms.EventResponseCompleted:
			turn.stopReason = event.StopReason
			turn.completed = event.StopReason == llms.StopEndTurn || event.StopReason == "stop"
		}
	}
	return turn
}

func (a *Agent) executeCall(ctx context.Context, call protocol.ToolCall, sink Sink) protocol.ToolResult {
	sink.ToolCall(call.ID, call.Name, call.ArgsJSON)
	result := a.runCall(ctx, call)

	if a.log != nil {
		a.log.ToolResult(call.ID, call.Name, result.OK, result.Diagnostics)
	}
	sink.ToolResult(call.ID, call.Name, result)
	return result
}

func (a *Agent) runCall(ctx context.Context, call protocol.ToolCall) protocol.ToolResult {
	tool, ok := a.registry.Get(call.Name)
	if !ok {
		return protocol.Failure("UnknownTool", fmt.Sprintf("Unknown tool: %s", call.Name))
	}

	switch a.policy.Evaluate(tool, call.ArgsJSON) {
	case policy.Denied:
		return protocol.Failure("PolicyDenied", "Tool execution denied by policy")
	case policy.RequiresApproval:
		approved, err := a.arbiter.Request(ctx, call.Name, call.ArgsJSON, call.ID)
		if err != nil || !approved {
			return protocol.Failure("ApprovalDenied", "User denied approval")
		}
	}

	ec := tools.ExecContext{RepoRoot: a.opts.RepoRoot, Workspace: a.opts.Workspace}
	result, err := a.registry.Execute(ctx, call, ec)
	if err != nil {
		return protocol.Failure("ExecutionFailed", fmt.Sprintf("Tool execution failed: %s", err.Error()))
	}
	return result
}

func (a *Agent) toolDefinitions() []llms.ToolDefinition {
	list := a.registry.List()
	defs := make([]llms.ToolDefinition, 0, len(list))
	for _, tool := range list {
		info := tool.Info()
		schema := info.InputSchema
		if !isValidSchema(schema) {
			schema = []byte(`{}`)
		}
		defs = append(defs, llms.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			InputSchema: schema,
		})
	}
	return defs
}

// isValidSchema guards against one tool's broken schema killing the turn.
func isValidSchema(schema []byte) bool {
	if len(schema) == 0 {
		return false
	}
	trimmed := strings.TrimSpace(string(schema))
	return strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")
}

func (a *Agent) append(msg protocol.Message) {
	a.messages = append(a.messages, msg)
	if a.log != nil {
		a.log.Message(msg)
	}
}
