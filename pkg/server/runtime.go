package server

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/pkg/agent"
	"github.com/droverhq/drover/pkg/approval"
	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/llms"
	"github.com/droverhq/drover/pkg/policy"
	"github.com/droverhq/drover/pkg/session"
	"github.com/droverhq/drover/pkg/tools"
	"github.com/droverhq/drover/pkg/workspace"
)

// SessionInfo is the public view of a session.
type SessionInfo struct {
	SessionID     string    `json:"sessionId"`
	WorkspacePath string    `json:"workspacePath"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SessionRuntime owns everything one session needs: the agent, its event
// queue, the approval broker, the single-reader stream latch, and the run
// lock that serializes chats.
type SessionRuntime struct {
	Info   SessionInfo
	agent  *agent.Agent
	queue  *EventQueue
	broker *approval.Broker
	log    *session.Writer

	runMu        sync.Mutex
	streamActive atomic.Bool
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	WorkspacePath string `json:"workspacePath"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
}

// newProviderFunc lets tests substitute the model provider.
type newProviderFunc func(cfg *config.Config) (llms.Provider, error)

// runtimeFactory validates create/resume requests and assembles runtimes.
type runtimeFactory struct {
	base        *config.Config
	newProvider newProviderFunc
}

// build validates the request and constructs a session runtime. When resume
// is true the conversation is reloaded from the existing session log.
func (f *runtimeFactory) build(sessionID string, req CreateSessionRequest, resume bool) (*SessionRuntime, error) {
	if req.WorkspacePath == "" {
		return nil, fmt.Errorf("workspacePath is required")
	}
	stat, err := os.Stat(req.WorkspacePath)
	if err != nil || !stat.IsDir() {
		return nil, fmt.Errorf("workspace does not exist: %s", req.WorkspacePath)
	}

	cfg := &config.Config{}
	if f.base != nil {
		copied := *f.base
		cfg = &copied
	}
	if req.Provider != "" {
		cfg.Provider = req.Provider
		// Request-level provider switches invalidate an inherited model.
		if req.Model == "" && (f.base == nil || f.base.Provider != req.Provider) {
			cfg.Model = ""
		}
	}
	if req.Model != "" {
		cfg.Model = req.Model
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	guard, err := workspace.New(req.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	provider, err := f.newProvider(cfg)
	if err != nil {
		return nil, err
	}

	logPath := session.LogPath(guard.Root(), sessionID)
	return f.assemble(sessionID, cfg, guard, provider, logPath, resume)
}

func (f *runtimeFactory) assemble(sessionID string, cfg *config.Config, guard *workspace.Guard,
	provider llms.Provider, logPath string, resume bool) (*SessionRuntime, error) {

	if resume {
		if _, err := os.Stat(logPath); err != nil {
			return nil, fmt.Errorf("no session log to resume: %s", logPath)
		}
	}

	writer, err := session.NewWriter(logPath)
	if err != nil {
		return nil, err
	}

	queue := NewEventQueue()
	broker := approval.NewBroker(approvalEvent(queue))
	engine := policy.NewEngine(false)

	a := agent.New(provider, tools.DefaultRegistry(), engine, broker, writer, agent.Options{
		RepoRoot:      guard.Root(),
		Workspace:     guard,
		SystemPrompt:  cfg.SystemPrompt,
		MaxIterations: cfg.MaxIterations,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
	})

	action := "create"
	if resume {
		action = "resume"
		history, err := session.ReadMessages(logPath, nil)
		if err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("failed to read session log: %w", err)
		}
		a.SetMessages(history)
	} else {
		writer.SessionStart(sessionID, guard.Root(), cfg.Provider, cfg.Model)
	}

	// The index is best-effort; the session log is the durable record.
	_ = session.AppendIndex(guard.Root(), session.IndexRecord{
		SessionID:     sessionID,
		WorkspacePath: guard.Root(),
		Provider:      cfg.Provider,
		Model:         cfg.Model,
		Action:        action,
	})

	return &SessionRuntime{
		Info: SessionInfo{
			SessionID:     sessionID,
			WorkspacePath: guard.Root(),
			Provider:      cfg.Provider,
			Model:         cfg.Model,
			CreatedAt:     time.Now().UTC(),
		},
		agent:  a,
		queue:  queue,
		broker: broker,
		log:    writer,
	}, nil
}

// Store is the concurrent session map.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRuntime
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*SessionRuntime)}
}

func (s *Store) Put(rt *SessionRuntime) {
	s.mu.Lock()
	s.sessions[rt.Info.SessionID] = rt
	s.mu.Unlock()
}

func (s *Store) Get(id string) (*SessionRuntime, bool) {
	s.mu.RLock()
	rt, ok := s.sessions[id]
	s.mu.RUnlock()
	return rt, ok
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}
