package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/droverhq/drover/pkg/httpclient"
	"github.com/droverhq/drover/pkg/protocol"
)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the chat completions dialect. It also serves any
// OpenAI-compatible endpoint (Ollama, vLLM, LM Studio) via a custom base URL,
// in which case the API key may be empty.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *httpclient.Client
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       []openaiTool    `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiStreamResponse struct {
	Choices []openaiStreamChoice `json:"choices"`
	Error   *openaiError         `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason string            `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type OpenAIOption func(*OpenAIProvider)

// WithOpenAIBaseURL overrides the API base URL (no trailing slash).
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func NewOpenAIProvider(apiKey, model string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: openaiDefaultBaseURL,
		httpClient: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) ModelName() string {
	return p.model
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) <-chan Event {
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

// pendingToolCall accumulates a tool call across stream deltas. The id and
// name arrive on the first delta for an index; argument fragments follow.
type pendingToolCall struct {
	id      string
	name    string
	args    strings.Builder
	started bool
}

func (p *OpenAIProvider) streamOnce(ctx context.Context, req Request, out chan<- Event) error {
	request := p.buildRequest(req, true)
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	pending := make(map[int]*pendingToolCall)
	finishReason := ""

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

		if payload == "[DONE]" {
			p.flushToolCalls(pending, out)
			out <- responseCompleted(normalizeOpenAIFinish(finishReason, len(pending) > 0))
			return nil
		}

		var streamResp openaiStreamResponse
		if err := json.Unmarshal([]byte(payload), &streamResp); err != nil {
			out <- traceParseError(payload)
			continue
		}
		if streamResp.Error != nil {
			return fmt.Errorf("openai stream error: %s", streamResp.Error.Message)
		}
		if len(streamResp.Choices) == 0 {
			continue
		}

		choice := streamResp.Choices[0]
		if choice.Delta.Content != "" {
			out <- textDelta(choice.Delta.Content)
		}

		for _, deltaCall := range choice.Delta.ToolCalls {
			index := 0
			if deltaCall.Index != nil {
				index = *deltaCall.Index
			}
			pc, exists := pending[index]
			if !exists {
				pc = &pendingToolCall{}
				pending[index] = pc
			}
			if deltaCall.ID != "" {
				pc.id = deltaCall.ID
			}
			if deltaCall.Function.Name != "" {
				pc.name = deltaCall.Function.Name
			}
			if !pc.started && pc.id != "" && pc.name != "" {
				pc.started = true
				out <- toolCallStarted(pc.id, pc.name)
			}
			if deltaCall.Function.Arguments != "" {
				pc.args.WriteString(deltaCall.Function.Arguments)
				out <- toolCallArgsDelta(pc.id, deltaCall.Function.Arguments)
			}
		}

		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read streaming response: %w", err)
	}
	return fmt.Errorf("stream ended without [DONE]")
}

// flushToolCalls emits tool_call_ready for every accumulated call, in index
// order.
func (p *OpenAIProvider) flushToolCalls(pending map[int]*pendingToolCall, out chan<- Event) {
	indexes := make([]int, 0, len(pending))
	for index := range pending {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	for _, index := range indexes {
		pc := pending[index]
		out <- toolCallReady(protocol.ToolCall{
			ID:       pc.id,
			Name:     pc.name,
			ArgsJSON: normalizeArgs(pc.args.String()),
		})
	}
}

func normalizeOpenAIFinish(reason string, hasToolCalls bool) string {
	switch reason {
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	case "stop":
		return StopEndTurn
	case "":
		// Some compatible servers omit finish_reason; infer from content.
		if hasToolCalls {
			return StopToolUse
		}
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

func (p *OpenAIProvider) buildRequest(req Request, stream bool) openaiRequest {
	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case protocol.RoleUser:
			messages = append(messages, openaiMessage{Role: "user", Content: msg.Content})

		case protocol.RoleAssistant:
			openaiMsg := openaiMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				openaiMsg.ToolCalls = append(openaiMsg.ToolCalls, openaiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openaiFunctionCall{
						Name:      tc.Name,
						Arguments: normalizeArgs(tc.ArgsJSON),
					},
				})
			}
			messages = append(messages, openaiMsg)

		case protocol.RoleTool:
			messages = append(messages, openaiMessage{
				Role:       "tool",
				Content:    renderToolResult(msg.Result),
				ToolCallID: msg.CallID,
			})
		}
	}

	request := openaiRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}

	if len(req.Tools) > 0 {
		tools := make([]openaiTool, len(req.Tools))
		for i, tool := range req.Tools {
			tools[i] = openaiTool{
				Type: "function",
				Function: openaiToolFunction{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.InputSchema,
				},
			}
		}
		request.Tools = tools
	}
	return request
}
