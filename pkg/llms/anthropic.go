package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/droverhq/drover/pkg/httpclient"
	"github.com/droverhq/drover/pkg/protocol"
)

const (
	anthropicDefaultHost = "https://api.anthropic.com"
	anthropicVersion     = "2023-06-01"
)

type AnthropicProvider struct {
	apiKey     string
	model      string
	host       string
	httpClient *httpclient.Client
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicStreamResponse struct {
	Type         string            `json:"type"`
	Index        int               `json:"index,omitempty"`
	Delta        *anthropicDelta   `json:"delta,omitempty"`
	ContentBlock *anthropicContent `json:"content_block,omitempty"`
	Error        *anthropicError   `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type AnthropicOption func(*AnthropicProvider)

// WithAnthropicHost overrides the API host, for tests and proxies.
func WithAnthropicHost(host string) AnthropicOption {
	return func(p *AnthropicProvider) {
		p.host = host
	}
}

func NewAnthropicProvider(apiKey, model string, opts ...AnthropicOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}
	p := &AnthropicProvider{
		apiKey: apiKey,
		model:  model,
		host:   anthropicDefaultHost,
		httpClient: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *AnthropicProvider) ModelName() string {
	return p.model
}

func (p *AnthropicProvider) Close() error {
	return nil
}

// Stream issues one streaming messages request and normalizes the SSE frames.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		if err := p.streamOnce(ctx, req, out); err != nil {
			out <- traceError(err.Error())
			out <- responseCompleted(StopError)
		}
	}()
	return out
}

func (p *AnthropicProvider) streamOnce(ctx context.Context, req Request, out chan<- Event) error {
	request := p.buildRequest(req, true)
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	// Tool call state per content block index. Argument JSON arrives as
	// partial_json fragments and is only parseable at content_block_stop.
	toolCalls := make(map[int]*protocol.ToolCall)
	toolJSONBuffers := make(map[int]*strings.Builder)
	var stopReason string

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var streamResp anthropicStreamResponse
		if err := json.Unmarshal([]byte(payload), &streamResp); err != nil {
			out <- traceParseError(payload)
			continue
		}

		switch streamResp.Type {
		case "error":
			msg := "unknown stream error"
			if streamResp.Error != nil {
				msg = streamResp.Error.Message
			}
			return fmt.Errorf("anthropic stream error: %s", msg)

		case "content_block_start":
			if streamResp.ContentBlock != nil && streamResp.ContentBlock.Type == "tool_use" {
				toolCalls[streamResp.Index] = &protocol.ToolCall{
					ID:   streamResp.ContentBlock.ID,
					Name: streamResp.ContentBlock.Name,
				}
				toolJSONBuffers[streamResp.Index] = &strings.Builder{}
				out <- toolCallStarted(streamResp.ContentBlock.ID, streamResp.ContentBlock.Name)
			}

		case "content_block_delta":
			if streamResp.Delta == nil {
				continue
			}
			if streamResp.Delta.Text != "" {
				out <- textDelta(streamResp.Delta.Text)
			}
			if streamResp.Delta.Type == "input_json_delta" && streamResp.Delta.PartialJSON != "" {
				if tc, exists := toolCalls[streamResp.Index]; exists {
					toolJSONBuffers[streamResp.Index].WriteString(streamResp.Delta.PartialJSON)
					out <- toolCallArgsDelta(tc.ID, streamResp.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if tc, exists := toolCalls[streamResp.Index]; exists {
				tc.ArgsJSON = normalizeArgs(toolJSONBuffers[streamResp.Index].String())
				out <- toolCallReady(*tc)
				delete(toolCalls, streamResp.Index)
				delete(toolJSONBuffers, streamResp.Index)
			}

		case "message_delta":
			// The native stop reason arrives here; message_stop closes the turn.
			if streamResp.Delta != nil && streamResp.Delta.StopReason != "" {
				stopReason = streamResp.Delta.StopReason
			}

		case "message_stop":
			out <- responseCompleted(normalizeAnthropicStop(stopReason))
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read streaming response: %w", err)
	}
	return fmt.Errorf("stream ended without message_stop")
}

func normalizeAnthropicStop(reason string) string {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "end_turn", "stop_sequence", "":
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

func (p *AnthropicProvider) buildRequest(req Request, stream bool) anthropicRequest {
	messages := make([]anthropicMessage, 0, len(req.Messages))

	for _, msg := range req.Messages {
		switch msg.Role {
		case protocol.RoleUser:
			messages = append(messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})

		case protocol.RoleAssistant:
			contents := []anthropicContent{}
			if msg.Content != "" {
				contents = append(contents, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				contents = append(contents, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: json.RawMessage(normalizeArgs(tc.ArgsJSON)),
				})
			}
			if len(contents) == 0 {
				contents = append(contents, anthropicContent{Type: "text", Text: ""})
			}
			messages = append(messages, anthropicMessage{Role: "assistant", Content: contents})

		case protocol.RoleTool:
			messages = append(messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.CallID,
					Content:   renderToolResult(msg.Result),
				}},
			})
		}
	}

	request := anthropicRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
		System:      req.System,
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropicTool, len(req.Tools))
		for i, tool := range req.Tools {
			tools[i] = anthropicTool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			}
		}
		request.Tools = tools
	}
	return request
}
