package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/droverhq/drover/pkg/protocol"
)

const (
	defaultCommandTimeoutSec = 60
	maxCapturedChars         = 50000
)

// Environment variable name fragments never passed to subprocesses.
var sensitiveEnvFragments = []string{
	"API_KEY", "SECRET", "PASSWORD", "TOKEN", "CREDENTIAL", "PRIVATE_KEY", "AUTH",
}

type RunCommandTool struct{}

type runCommandParams struct {
	Exe        string   `json:"exe" jsonschema:"description=Executable to run"`
	Args       []string `json:"args,omitempty" jsonschema:"description=Arguments passed to the executable"`
	Cwd        string   `json:"cwd,omitempty" jsonschema:"description=Working directory relative to the repository root"`
	TimeoutSec int      `json:"timeoutSec,omitempty" jsonschema:"description=Timeout in seconds (default 60)"`
}

func NewRunCommandTool() *RunCommandTool {
	return &RunCommandTool{}
}

func (t *RunCommandTool) Info() Info {
	return Info{
		Name:        "RunCommand",
		Description: "Run a command in the workspace and capture its output. Sensitive environment variables are stripped.",
		InputSchema: schemaFor(&runCommandParams{}),
		Policy:      Policy{RequiresApproval: true, Risk: RiskHigh},
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]any, ec ExecContext) (protocol.ToolResult, error) {
	var params runCommandParams
	if err := decodeArgs(args, &params); err != nil {
		return protocol.Failure("InvalidArgs", err.Error()), nil
	}
	if params.Exe == "" {
		return protocol.Failure("InvalidArgs", "exe is required"), nil
	}
	if params.TimeoutSec <= 0 {
		params.TimeoutSec = defaultCommandTimeoutSec
	}

	cwd := ec.RepoRoot
	if params.Cwd != "" {
		resolved, ok := ec.Workspace.Resolve(params.Cwd)
		if !ok {
			return protocol.Failure("UnsafePath", fmt.Sprintf("cwd escapes the workspace: %s", params.Cwd)), nil
		}
		cwd = resolved
	}

	timeout := time.Duration(params.TimeoutSec) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, params.Exe, params.Args...)
	cmd.Dir = cwd
	cmd.Env = scrubEnv(os.Environ())
	setProcAttributes(cmd)
	cmd.Cancel = func() error { return killProcessTree(cmd) }

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return protocol.Failure("SpawnFailed", err.Error()), nil
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return protocol.Failure("SpawnFailed", err.Error()), nil
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return protocol.Failure("SpawnFailed", fmt.Sprintf("failed to start %s: %v", params.Exe, err)), nil
	}

	var stdout, stderr cappedBuffer
	g := new(errgroup.Group)
	g.Go(func() error { return drain(stdoutPipe, &stdout) })
	g.Go(func() error { return drain(stderrPipe, &stderr) })
	_ = g.Wait()

	waitErr := cmd.Wait()
	durationMs := time.Since(start).Milliseconds()

	commandLine := params.Exe
	if len(params.Args) > 0 {
		commandLine += " " + strings.Join(params.Args, " ")
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result := protocol.Failure("Timeout", fmt.Sprintf("timed out after %ds", params.TimeoutSec))
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
		result.Data = map[string]any{
			"command":         commandLine,
			"exitCode":        -1,
			"durationMs":      durationMs,
			"stdoutTruncated": stdout.truncated,
			"stderrTruncated": stderr.truncated,
		}
		return result, nil
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return protocol.Failure("SpawnFailed", fmt.Sprintf("command failed: %v", waitErr)), nil
		}
	}

	result := protocol.ToolResult{
		OK:     exitCode == 0,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Data: map[string]any{
			"command":         commandLine,
			"exitCode":        exitCode,
			"durationMs":      durationMs,
			"stdoutTruncated": stdout.truncated,
			"stderrTruncated": stderr.truncated,
		},
	}
	if exitCode != 0 {
		result.Diagnostics = []protocol.Diagnostic{{
			Code:    "ExitCode",
			Message: fmt.Sprintf("command exited with code %d", exitCode),
		}}
	}
	return result, nil
}

// cappedBuffer keeps the first maxCapturedChars bytes and drops the rest.
type cappedBuffer struct {
	buf       strings.Builder
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := maxCapturedChars - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

func drain(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

// scrubEnv drops variables whose names contain a sensitive fragment.
func scrubEnv(env []string) []string {
	clean := make([]string, 0, len(env))
	for _, entry := range env {
		name, _, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		upper := strings.ToUpper(name)
		sensitive := false
		for _, fragment := range sensitiveEnvFragments {
			if strings.Contains(upper, fragment) {
				sensitive = true
				break
			}
		}
		if !sensitive {
			clean = append(clean, entry)
		}
	}
	return clean
}
