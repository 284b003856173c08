package server

import (
	"context"
	"sync"

	"github.com/droverhq/drover/pkg/agent"
	"github.com/droverhq/drover/pkg/approval"
	"github.com/droverhq/drover/pkg/protocol"
)

// StreamEvent is one frame of a session's SSE stream.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event type names on the wire.
const (
	EventText             = "text_delta"
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventApprovalRequired = "approval_required"
	EventCompleted        = "completed"
	EventTrace            = "trace"
	EventError            = "error"
)

// EventQueue is the unbounded per-session event buffer. Writers never
// block; the single reader drains in order. Events pushed while no reader
// is connected are kept for the next reader.
type EventQueue struct {
	mu     sync.Mutex
	items  []StreamEvent
	notify chan struct{}
}

func NewEventQueue() *EventQueue {
	return &EventQueue{notify: make(chan struct{}, 1)}
}

func (q *EventQueue) Push(ev StreamEvent) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available or the context ends.
func (q *EventQueue) Next(ctx context.Context) (StreamEvent, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return StreamEvent{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// queueSink adapts the agent's sink interface onto the event queue.
type queueSink struct {
	queue *EventQueue
}

var _ agent.Sink = (*queueSink)(nil)

func (s *queueSink) Text(delta string) {
	s.queue.Push(StreamEvent{Type: EventText, Data: map[string]string{"text": delta}})
}

func (s *queueSink) ToolCall(callID, toolName, argsJSON string) {
	s.queue.Push(StreamEvent{Type: EventToolCall, Data: map[string]string{
		"callId":   callID,
		"tool":     toolName,
		"argsJson": argsJSON,
	}})
}

func (s *queueSink) ToolResult(callID, toolName string, result protocol.ToolResult) {
	s.queue.Push(StreamEvent{Type: EventToolResult, Data: map[string]any{
		"callId":      callID,
		"tool":        toolName,
		"ok":          result.OK,
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"data":        result.Data,
		"diagnostics": result.Diagnostics,
	}})
}

// Notices ([cancelled], [max iterations reached], ...) ride the trace
// channel so the event vocabulary stays closed.
func (s *queueSink) Notice(message string) {
	s.queue.Push(StreamEvent{Type: EventTrace, Data: map[string]string{
		"kind":    "notice",
		"message": message,
	}})
}

// approvalEvent surfaces a parked approval request on the stream.
func approvalEvent(queue *EventQueue) func(approval.PendingRequest) {
	return func(req approval.PendingRequest) {
		queue.Push(StreamEvent{Type: EventApprovalRequired, Data: map[string]string{
			"callId":   req.CallID,
			"tool":     req.ToolName,
			"argsJson": req.ArgsJSON,
			"reason":   req.Reason,
		}})
	}
}
