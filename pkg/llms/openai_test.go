package llms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/protocol"
)

func TestOpenAIStream_TextAndStop(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":", world"}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
	})
	defer srv.Close()

	provider := NewOpenAIProvider("test-key", "gpt-test", WithOpenAIBaseURL(srv.URL))
	events := collect(provider.Stream(context.Background(), Request{MaxTokens: 100}))

	var text string
	for _, ev := range events {
		if ev.Type == EventTextDelta {
			text += ev.Text
		}
	}
	assert.Equal(t, "Hello, world", text)

	last := events[len(events)-1]
	assert.Equal(t, EventResponseCompleted, last.Type)
	assert.Equal(t, StopEndTurn, last.StopReason)
}

func TestOpenAIStream_ToolCallReassembly(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"Search"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"TODO\"}"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
	})
	defer srv.Close()

	provider := NewOpenAIProvider("test-key", "gpt-test", WithOpenAIBaseURL(srv.URL))
	events := collect(provider.Stream(context.Background(), Request{MaxTokens: 100}))

	var ready *protocol.ToolCall
	var started bool
	for _, ev := range events {
		switch ev.Type {
		case EventToolCallStarted:
			started = true
			assert.Equal(t, "call_9", ev.CallID)
			assert.Equal(t, "Search", ev.ToolName)
		case EventToolCallReady:
			ready = ev.ToolCall
		}
	}
	assert.True(t, started)
	require.NotNil(t, ready)
	assert.Equal(t, "call_9", ready.ID)
	assert.Equal(t, "Search", ready.Name)
	assert.JSONEq(t, `{"query":"TODO"}`, ready.ArgsJSON)

	last := events[len(events)-1]
	assert.Equal(t, StopToolUse, last.StopReason)
}

func TestOpenAIStream_MultipleToolCallsOrdered(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"GitDiff","arguments":"{}"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"GitStatus","arguments":"{}"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
	})
	defer srv.Close()

	provider := NewOpenAIProvider("test-key", "gpt-test", WithOpenAIBaseURL(srv.URL))
	events := collect(provider.Stream(context.Background(), Request{MaxTokens: 100}))

	var readyIDs []string
	for _, ev := range events {
		if ev.Type == EventToolCallReady {
			readyIDs = append(readyIDs, ev.ToolCall.ID)
		}
	}
	assert.Equal(t, []string{"call_a", "call_b"}, readyIDs)
}

func TestOpenAIStream_MissingFinishReasonInferred(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"ListFiles","arguments":"{}"}}]}}]}`,
		``,
		`data: [DONE]`,
	})
	defer srv.Close()

	provider := NewOpenAIProvider("", "local-model", WithOpenAIBaseURL(srv.URL))
	events := collect(provider.Stream(context.Background(), Request{MaxTokens: 100}))

	last := events[len(events)-1]
	assert.Equal(t, EventResponseCompleted, last.Type)
	assert.Equal(t, StopToolUse, last.StopReason)
}

func TestOpenAIStream_TransportErrorBecomesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	provider := NewOpenAIProvider("test-key", "gpt-test", WithOpenAIBaseURL(srv.URL))
	events := collect(provider.Stream(context.Background(), Request{MaxTokens: 100}))

	require.Len(t, events, 2)
	assert.Equal(t, EventTrace, events[0].Type)
	assert.Equal(t, EventResponseCompleted, events[1].Type)
	assert.Equal(t, StopError, events[1].StopReason)
}

func TestOpenAIBuildRequest_History(t *testing.T) {
	provider := NewOpenAIProvider("test-key", "gpt-test")

	result := protocol.ToolResult{OK: true, Stdout: "done"}
	req := provider.buildRequest(Request{
		System: "be helpful",
		Messages: []protocol.Message{
			protocol.UserMessage("do a thing"),
			protocol.AssistantMessage("on it", []protocol.ToolCall{{ID: "c1", Name: "RunCommand", ArgsJSON: `{"command":"ls"}`}}),
			protocol.ToolMessage("c1", "RunCommand", result),
		},
		MaxTokens: 100,
	}, true)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, "assistant", req.Messages[2].Role)
	require.Len(t, req.Messages[2].ToolCalls, 1)
	assert.Equal(t, "tool", req.Messages[3].Role)
	assert.Equal(t, "c1", req.Messages[3].ToolCallID)
}

func TestNormalizeOpenAIFinish(t *testing.T) {
	tests := []struct {
		reason       string
		hasToolCalls bool
		want         string
	}{
		{"stop", false, StopEndTurn},
		{"tool_calls", true, StopToolUse},
		{"length", false, StopMaxTokens},
		{"", false, StopEndTurn},
		{"", true, StopToolUse},
		{"content_filter", false, StopEndTurn},
	}
	for _, tt := range tests {
		if got := normalizeOpenAIFinish(tt.reason, tt.hasToolCalls); got != tt.want {
			t.Errorf("normalizeOpenAIFinish(%q, %v) = %q, want %q", tt.reason, tt.hasToolCalls, got, tt.want)
		}
	}
}
