package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/droverhq/drover/pkg/llms"
	"github.com/droverhq/drover/pkg/policy"
	"github.com/droverhq/drover/pkg/protocol"
	"github.com/droverhq/drover/pkg/tools"
	"github.com/droverhq/drover/pkg/workspace"
)

// scriptedProvider replays one canned event sequence per model turn.
type scriptedProvider struct {
	turns [][]llms.Event
	calls int
}

func (p *scriptedProvider) ModelName() string { return "scripted" }
func (p *scriptedProvider) Close() error      { return nil }

func (p *scriptedProvider) Stream(ctx context.Context, req llms.Request) <-chan llms.Event {
	out := make(chan llms.Event, 16)
	go func() {
		defer close(out)
		if p.calls >= len(p.turns) {
			out <- llms.Event{Type: llms.EventResponseCompleted, StopReason: llms.StopEndTurn}
			return
		}
		turn := p.turns[p.calls]
		p.calls++
		for _, ev := range turn {
			out <- ev
		}
	}()
	return out
}

// recordingSink captures everything the loop surfaces.
type recordingSink struct {
	text    strings.Builder
	calls   []string
	results []protocol.ToolResult
	notices []string
}

func (s *recordingSink) Text(delta string)     { s.text.WriteString(delta) }
func (s *recordingSink) Notice(message string) { s.notices = append(s.notices, message) }
func (s *recordingSink) ToolCall(callID, name, argsJSON string) {
	s.calls = append(s.calls, name)
}
func (s *recordingSink) ToolResult(callID, name string, result protocol.ToolResult) {
	s.results = append(s.results, result)
}

// fixedArbiter answers every approval request the same way.
type fixedArbiter struct {
	answer bool
	asked  int
}

func (f *fixedArbiter) Request(ctx context.Context, toolName, argsJSON, callID string) (bool, error) {
	f.asked++
	return f.answer, nil
}

func textTurn(text, stop string) []llms.Event {
	return []llms.Event{
		{Type: llms.EventTextDelta, Text: text},
		{Type: llms.EventResponseCompleted, StopReason: stop},
	}
}

func toolTurn(callID, name, argsJSON string) []llms.Event {
	return []llms.Event{
		{Type: llms.EventToolCallStarted, CallID: callID, ToolName: name},
		{Type: llms.EventToolCallReady, ToolCall: &protocol.ToolCall{ID: callID, Name: name, ArgsJSON: argsJSON}},
		{Type: llms.EventResponseCompleted, StopReason: llms.StopToolUse},
	}
}

func newTestAgent(t *testing.T, provider llms.Provider, engine *policy.Engine, arbiter *fixedArbiter) (*Agent, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := workspace.New(root)
	if err != nil {
		t.Fatal(err)
	}
	a := New(provider, tools.DefaultRegistry(), engine, arbiter, nil, Options{
		RepoRoot:  guard.Root(),
		Workspace: guard,
	})
	return a, guard.Root()
}

func TestRun_PlainTextTurn(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.Event{textTurn("hello there", llms.StopEndTurn)}}
	sink := &recordingSink{}
	a, _ := newTestAgent(t, provider, policy.NewEngine(true), &fixedArbiter{})

	if err := a.Run(context.Background(), "hi", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sink.text.String() != "hello there" {
		t.Errorf("text = %q", sink.text.String())
	}
	if len(sink.notices) != 0 {
		t.Errorf("notices = %v, want none", sink.notices)
	}

	msgs := a.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(msgs))
	}
	if msgs[0].Role != protocol.RoleUser || msgs[1].Role != protocol.RoleAssistant {
		t.Errorf("roles = %v %v", msgs[0].Role, msgs[1].Role)
	}
}

func TestRun_ToolCallRoundTrip(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.Event{
		toolTurn("c1", "ReadFile", `{"path":"a.txt"}`),
		textTurn("the file says hi", llms.StopEndTurn),
	}}
	sink := &recordingSink{}
	a, root := newTestAgent(t, provider, policy.NewEngine(true), &fixedArbiter{})
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := a.Run(context.Background(), "read a.txt", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := a.Messages()
	// user, assistant(tool call), tool result, assistant(text)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4: %+v", len(msgs), msgs)
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].ID != "c1" {
		t.Errorf("assistant message = %+v", msgs[1])
	}
	if msgs[2].Role != protocol.RoleTool || msgs[2].CallID != "c1" || !msgs[2].Result.OK {
		t.Errorf("tool message = %+v", msgs[2])
	}
	if len(sink.results) != 1 || !sink.results[0].OK {
		t.Errorf("sink results = %+v", sink.results)
	}
	if sink.calls[0] != "ReadFile" {
		t.Errorf("sink calls = %v", sink.calls)
	}
}

func TestRun_UnknownToolBecomesFailureResult(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.Event{
		toolTurn("c1", "Teleport", `{}`),
		textTurn("understood", llms.StopEndTurn),
	}}
	sink := &recordingSink{}
	a, _ := newTestAgent(t, provider, policy.NewEngine(true), &fixedArbiter{})

	if err := a.Run(context.Background(), "go", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := a.Messages()
	if msgs[2].Result.OK {
		t.Fatal("unknown tool should produce a failed result")
	}
	if want := "Unknown tool: Teleport"; msgs[2].Result.FirstDiagnostic() != want {
		t.Errorf("diagnostic = %q, want %q", msgs[2].Result.FirstDiagnostic(), want)
	}
}

func TestRun_ApprovalDenied(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.Event{
		toolTurn("c1", "RunCommand", `{"exe":"rm","args":["-rf","/"]}`),
		textTurn("I will not run that", llms.StopEndTurn),
	}}
	sink := &recordingSink{}
	arbiter := &fixedArbiter{answer: false}
	a, _ := newTestAgent(t, provider, policy.NewEngine(false), arbiter)

	if err := a.Run(context.Background(), "clean up", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if arbiter.asked != 1 {
		t.Errorf("arbiter asked %d times, want 1", arbiter.asked)
	}
	msgs := a.Messages()
	if msgs[2].Result.OK {
		t.Fatal("denied call should fail")
	}
	if want := "User denied approval"; msgs[2].Result.FirstDiagnostic() != want {
		t.Errorf("diagnostic = %q, want %q", msgs[2].Result.FirstDiagnostic(), want)
	}
}

func TestRun_ApprovalGrantedExecutes(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.Event{
		toolTurn("c1", "WriteFile", `{"path":"out.txt","content":"approved"}`),
		textTurn("written", llms.StopEndTurn),
	}}
	sink := &recordingSink{}
	arbiter := &fixedArbiter{answer: true}
	a, root := newTestAgent(t, provider, policy.NewEngine(false), arbiter)

	if err := a.Run(context.Background(), "write it", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if arbiter.asked != 1 {
		t.Errorf("arbiter asked %d times, want 1", arbiter.asked)
	}
	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	if err != nil || string(data) != "approved" {
		t.Errorf("out.txt = %q, %v", data, err)
	}
}

func TestRun_NoResponseSurfacesNotice(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.Event{{
		{Type: llms.EventTrace, Kind: llms.TraceError, Message: "HTTP 500"},
		{Type: llms.EventResponseCompleted, StopReason: llms.StopError},
	}}}
	sink := &recordingSink{}
	a, _ := newTestAgent(t, provider, policy.NewEngine(true), &fixedArbiter{})

	if err := a.Run(context.Background(), "hi", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.notices) != 1 {
		t.Fatalf("notices = %v", sink.notices)
	}
	if !strings.Contains(sink.notices[0], NoticeNoResponse) || !strings.Contains(sink.notices[0], "HTTP 500") {
		t.Errorf("notice = %q", sink.notices[0])
	}
}

func TestRun_MaxIterations(t *testing.T) {
	// The model asks for the same tool forever.
	var turns [][]llms.Event
	for i := 0; i < 30; i++ {
		turns = append(turns, toolTurn(fmt.Sprintf("c%d", i), "GitStatus", `{}`))
	}
	provider := &scriptedProvider{turns: turns}
	sink := &recordingSink{}
	a, _ := newTestAgent(t, provider, policy.NewEngine(true), &fixedArbiter{})
	a.opts.MaxIterations = 3

	if err := a.Run(context.Background(), "loop", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.notices) != 1 || sink.notices[0] != NoticeMaxIterations {
		t.Errorf("notices = %v", sink.notices)
	}
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls)
	}
}

func TestRun_TextWithoutCompletionExitsQuietly(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.Event{
		textTurn("partial thought", llms.StopMaxTokens),
	}}
	sink := &recordingSink{}
	a, _ := newTestAgent(t, provider, policy.NewEngine(true), &fixedArbiter{})

	if err := a.Run(context.Background(), "hi", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Text arrived but the model did not finish; the loop exits without a
	// max-iterations marker.
	if len(sink.notices) != 0 {
		t.Errorf("notices = %v, want none", sink.notices)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestRun_CancelledContextSurfacesMarker(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.Event{textTurn("x", llms.StopEndTurn)}}
	sink := &recordingSink{}
	a, _ := newTestAgent(t, provider, policy.NewEngine(true), &fixedArbiter{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Run(ctx, "hi", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.notices) != 1 || sink.notices[0] != NoticeCancelled {
		t.Errorf("notices = %v, want [cancelled]", sink.notices)
	}
}

func TestRun_ResumedConversationKeepsHistory(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.Event{textTurn("welcome back", llms.StopEndTurn)}}
	sink := &recordingSink{}
	a, _ := newTestAgent(t, provider, policy.NewEngine(true), &fixedArbiter{})

	a.SetMessages([]protocol.Message{
		protocol.UserMessage("earlier prompt"),
		protocol.AssistantMessage("earlier answer", nil),
	})

	if err := a.Run(context.Background(), "continue", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := a.Messages()
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Content != "earlier prompt" {
		t.Errorf("history lost: %+v", msgs[0])
	}
}
