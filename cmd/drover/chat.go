package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/droverhq/drover/pkg/agent"
	"github.com/droverhq/drover/pkg/approval"
	"github.com/droverhq/drover/pkg/llms"
	"github.com/droverhq/drover/pkg/policy"
	"github.com/droverhq/drover/pkg/protocol"
	"github.com/droverhq/drover/pkg/session"
	"github.com/droverhq/drover/pkg/tools"
	"github.com/droverhq/drover/pkg/workspace"
)

// ChatCmd runs the agent interactively in a workspace.
type ChatCmd struct {
	Workspace   string `short:"w" help:"Workspace directory." default:"." type:"path"`
	Provider    string `help:"LLM provider (openai, anthropic, openai-compatible)."`
	Model       string `help:"Model name."`
	Session     string `help:"Session ID to resume."`
	Prompt      string `short:"p" help:"Run a single prompt and exit."`
	AutoApprove bool   `name:"auto-approve" help:"Skip approval prompts for risky tools."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config, c.Provider, c.Model)
	if err != nil {
		return err
	}

	guard, err := workspace.New(c.Workspace)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}

	provider, err := llms.NewProvider(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	sessionID := c.Session
	resume := sessionID != ""
	if !resume {
		sessionID = uuid.NewString()
	}
	logPath := session.LogPath(guard.Root(), sessionID)
	if resume {
		if _, err := os.Stat(logPath); err != nil {
			return fmt.Errorf("no session log to resume: %s", logPath)
		}
	}

	writer, err := session.NewWriter(logPath)
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	a := agent.New(provider, tools.DefaultRegistry(),
		policy.NewEngine(c.AutoApprove),
		approval.NewTerminal(os.Stdin, os.Stderr),
		writer,
		agent.Options{
			RepoRoot:      guard.Root(),
			Workspace:     guard,
			SystemPrompt:  cfg.SystemPrompt,
			MaxIterations: cfg.MaxIterations,
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
		})

	if resume {
		history, err := session.ReadMessages(logPath, func(line int, cause error) {
			slog.Warn("skipping malformed session entry", "line", line, "error", cause)
		})
		if err != nil {
			return fmt.Errorf("failed to read session log: %w", err)
		}
		a.SetMessages(history)
		fmt.Fprintf(os.Stderr, "Resumed session %s (%d messages)\n", sessionID, len(history))
	} else {
		writer.SessionStart(sessionID, guard.Root(), cfg.Provider, cfg.Model)
	}
	_ = session.AppendIndex(guard.Root(), session.IndexRecord{
		SessionID:     sessionID,
		WorkspacePath: guard.Root(),
		Provider:      cfg.Provider,
		Model:         cfg.Model,
		Action:        actionName(resume),
	})

	sink := &terminalSink{out: os.Stdout}

	if c.Prompt != "" {
		return runOnce(a, c.Prompt, sink)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("stdin is not a terminal; use --prompt for non-interactive runs")
	}

	fmt.Fprintf(os.Stderr, "Session %s in %s (%s/%s). Type /help for commands.\n",
		sessionID, guard.Root(), cfg.Provider, cfg.Model)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintln(os.Stderr)
			return nil
		}
		input := strings.TrimSpace(line)
		switch {
		case input == "":
			continue
		case input == "/exit", input == "/quit":
			return nil
		case input == "/help":
			fmt.Fprintln(os.Stderr, "Commands:\n  /exit, /quit  end the session\n  /help         show this help\nCtrl+C cancels the current run.")
			continue
		case strings.HasPrefix(input, "/"):
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", input)
			continue
		}

		if err := runOnce(a, input, sink); err != nil {
			return err
		}
	}
}

// runOnce executes one prompt with SIGINT cancelling the run rather than
// killing the process.
func runOnce(a *agent.Agent, prompt string, sink *terminalSink) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	sink.ended = false
	err := a.Run(ctx, prompt, sink)
	switch {
	case err != nil:
		fmt.Fprintf(sink.out, "\n[Error] %s\n", err)
	case !sink.ended:
		fmt.Fprintf(sink.out, "\n[Agent completed]\n")
	}
	return nil
}

func actionName(resume bool) string {
	if resume {
		return "resume"
	}
	return "create"
}

// terminalSink renders a run on the terminal: model text verbatim, tool
// activity as annotated lines, and one completion marker per run.
type terminalSink struct {
	out   *os.File
	ended bool
}

var _ agent.Sink = (*terminalSink)(nil)

func (s *terminalSink) Text(delta string) {
	fmt.Fprint(s.out, delta)
}

func (s *terminalSink) ToolCall(callID, toolName, argsJSON string) {
	fmt.Fprintf(s.out, "\n[tool] %s args=%s\n", toolName, argsJSON)
}

func (s *terminalSink) ToolResult(callID, toolName string, result protocol.ToolResult) {
	status := "ok"
	if !result.OK {
		status = "failed"
		if len(result.Diagnostics) > 0 {
			status += ": " + result.Diagnostics[0].Message
		}
	}
	fmt.Fprintf(s.out, "[tool] %s %s\n", toolName, status)
}

// Notice receives the loop's lowercase termination markers and renders the
// user-facing spelling.
func (s *terminalSink) Notice(message string) {
	s.ended = true
	display := message
	switch {
	case strings.HasPrefix(message, agent.NoticeNoResponse):
		display = "[No response]" + strings.TrimPrefix(message, agent.NoticeNoResponse)
	case message == agent.NoticeMaxIterations:
		display = "[Max iterations reached]"
	case message == agent.NoticeCancelled:
		display = "[Cancelled]"
	}
	fmt.Fprintf(s.out, "\n%s\n", display)
}
