// Package approval contains the human-in-the-loop gate for risky tool
// calls: a synchronous terminal prompt and an asynchronous broker resolved
// over HTTP.
package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Arbiter asks a human whether one tool call may proceed. callID correlates
// the request with an out-of-band answer; implementations generate one when
// it is empty.
type Arbiter interface {
	Request(ctx context.Context, toolName, argsJSON, callID string) (bool, error)
}

// Terminal prompts on the controlling terminal and reads one line. Only a
// trimmed, case-insensitive "y" approves.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{In: in, Out: out}
}

func (t *Terminal) Request(ctx context.Context, toolName, argsJSON, callID string) (bool, error) {
	fmt.Fprintf(t.Out, "\nTool %s requests approval:\n  %s\nAllow? [y/N] ", toolName, argsJSON)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		reader := bufio.NewReader(t.In)
		line, err := reader.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.line == "" {
			return false, nil
		}
		return strings.EqualFold(strings.TrimSpace(a.line), "y"), nil
	}
}

// PendingRequest is what the broker announces when a call needs approval.
type PendingRequest struct {
	CallID   string
	ToolName string
	ArgsJSON string
	Reason   string
}

// Broker parks approval requests until an external TryResolve arrives.
// Each callID resolves at most once.
type Broker struct {
	mu      sync.Mutex
	pending map[string]chan bool

	// OnRequest is invoked (outside the lock) when a request is parked,
	// so the owner can surface it to the user.
	OnRequest func(PendingRequest)
}

func NewBroker(onRequest func(PendingRequest)) *Broker {
	return &Broker{
		pending:   make(map[string]chan bool),
		OnRequest: onRequest,
	}
}

func (b *Broker) Request(ctx context.Context, toolName, argsJSON, callID string) (bool, error) {
	if callID == "" {
		callID = uuid.NewString()
	}

	ch := make(chan bool, 1)
	b.mu.Lock()
	b.pending[callID] = ch
	b.mu.Unlock()

	if b.OnRequest != nil {
		b.OnRequest(PendingRequest{
			CallID:   callID,
			ToolName: toolName,
			ArgsJSON: argsJSON,
			Reason:   "tool requires approval",
		})
	}

	select {
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, callID)
		b.mu.Unlock()
		return false, ctx.Err()
	case approved := <-ch:
		return approved, nil
	}
}

// TryResolve completes a parked request. It reports false when no request
// with that callID is pending (unknown id, already resolved, or cancelled).
func (b *Broker) TryResolve(callID string, approved bool) bool {
	b.mu.Lock()
	ch, ok := b.pending[callID]
	if ok {
		delete(b.pending, callID)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	ch <- approved
	return true
}
