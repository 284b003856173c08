// Package session persists conversations as append-only JSONL files under
// <repo_root>/.agent/. Each line is {timestamp, data}; message entries are
// enough to rebuild the conversation, everything else is diagnostic.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/droverhq/drover/pkg/protocol"
)

const agentDir = ".agent"

// Dir returns the session directory for a repository.
func Dir(repoRoot string) string {
	return filepath.Join(repoRoot, agentDir)
}

// LogPath returns the log file path for a session id.
func LogPath(repoRoot, sessionID string) string {
	return filepath.Join(Dir(repoRoot), fmt.Sprintf("session_%s.jsonl", sessionID))
}

// IndexPath returns the per-repository session index file.
func IndexPath(repoRoot string) string {
	return filepath.Join(Dir(repoRoot), "sessions.jsonl")
}

// Entry is one log line.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// messageRecord is the payload shape for conversation messages.
type messageRecord struct {
	Type string `json:"type"`
	protocol.Message
}

// Writer appends entries to a session log, one JSON object per line.
// Safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewWriter opens (or creates) the log at path for appending.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	return &Writer{file: file, path: path}, nil
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Append writes one entry. A payload that fails to serialize is replaced by
// a synthetic error entry; Append never propagates marshal failures.
func (w *Writer) Append(data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload, _ = json.Marshal(map[string]string{
			"type":  "error",
			"error": fmt.Sprintf("failed to serialize log entry: %v", err),
		})
	}
	line, err := json.Marshal(Entry{Timestamp: time.Now().UTC(), Data: payload})
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.file.Write(append(line, '\n'))
	_ = w.file.Sync()
}

// Message logs a conversation message for later resumption.
func (w *Writer) Message(msg protocol.Message) {
	w.Append(messageRecord{Type: "message", Message: msg})
}

// UserPrompt logs the raw prompt as a diagnostic entry.
func (w *Writer) UserPrompt(prompt string) {
	w.Append(map[string]string{"type": "user_prompt", "prompt": prompt})
}

// Event logs a normalized stream event as a diagnostic entry.
func (w *Writer) Event(name string, fields map[string]any) {
	entry := map[string]any{"type": "event", "event": name}
	for k, v := range fields {
		entry[k] = v
	}
	w.Append(entry)
}

// ToolResult logs a tool execution outcome as a diagnostic entry.
func (w *Writer) ToolResult(callID, toolName string, ok bool, diagnostics []protocol.Diagnostic) {
	w.Append(map[string]any{
		"type":        "tool_result",
		"callId":      callID,
		"tool":        toolName,
		"ok":          ok,
		"diagnostics": diagnostics,
	})
}

// SessionStart logs the session metadata at open time.
func (w *Writer) SessionStart(sessionID, workspacePath, provider, model string) {
	w.Append(map[string]string{
		"type":          "session_start",
		"sessionId":     sessionID,
		"workspacePath": workspacePath,
		"provider":      provider,
		"model":         model,
	})
}

// WarnFunc receives one callback per unreadable or malformed line.
type WarnFunc func(lineNo int, err error)

// ReadMessages rebuilds the conversation from a session log. Non-message
// entries are skipped silently; malformed lines are reported through warn
// and skipped. The reader never aborts the whole file.
func ReadMessages(path string, warn WarnFunc) ([]protocol.Message, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	defer func() { _ = file.Close() }()

	if warn == nil {
		warn = func(int, error) {}
	}

	var messages []protocol.Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			warn(lineNo, fmt.Errorf("malformed log line: %w", err))
			continue
		}

		var record messageRecord
		if err := json.Unmarshal(entry.Data, &record); err != nil {
			warn(lineNo, fmt.Errorf("malformed payload: %w", err))
			continue
		}
		if record.Type != "message" {
			continue
		}

		msg, err := validateMessage(record.Message)
		if err != nil {
			warn(lineNo, err)
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return messages, fmt.Errorf("failed to read session log: %w", err)
	}
	return messages, nil
}

func validateMessage(msg protocol.Message) (protocol.Message, error) {
	switch msg.Role {
	case protocol.RoleUser:
		if msg.Content == "" {
			return msg, fmt.Errorf("user message without content")
		}
	case protocol.RoleAssistant:
		// Content and tool calls are both optional; an empty assistant
		// message is legal but useless.
	case protocol.RoleTool:
		if msg.CallID == "" || msg.ToolName == "" || msg.Result == nil {
			return msg, fmt.Errorf("tool message missing callId, toolName, or result")
		}
	default:
		return msg, fmt.Errorf("unknown role %q", msg.Role)
	}
	return msg, nil
}

// IndexRecord is one line of the per-repository session index.
type IndexRecord struct {
	SessionID     string    `json:"sessionId"`
	WorkspacePath string    `json:"workspacePath"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Action        string    `json:"action"` // "create" or "resume"
	Timestamp     time.Time `json:"timestamp"`
}

// AppendIndex records a create or resume in the session index. Index
// failures are non-fatal to the session itself.
func AppendIndex(repoRoot string, record IndexRecord) error {
	if err := os.MkdirAll(Dir(repoRoot), 0o755); err != nil {
		return err
	}
	record.Timestamp = time.Now().UTC()
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(IndexPath(repoRoot), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()
	_, err = file.Write(append(line, '\n'))
	return err
}
