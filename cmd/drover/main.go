// Command drover is a local coding agent: an LLM-driven loop with workspace
// tools, approval gating, and durable session logs.
//
// Usage:
//
//	drover chat --workspace .
//	drover chat --provider anthropic --model claude-sonnet-4-20250514
//	drover chat --session 4f1c... (resume)
//	drover serve --addr :8080
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Chat    ChatCmd    `cmd:"" default:"withargs" help:"Start an interactive chat in the workspace."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile  string `help:"Log file path (empty = stderr)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("drover version %s\n", version)
	return nil
}

// loadConfig resolves the effective config: file values, then command-line
// overrides, then provider defaults. A provider switch on the command line
// invalidates a model inherited from the file.
func loadConfig(path, provider, model string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if provider != "" && provider != cfg.Provider {
		cfg.Provider = provider
		cfg.Model = ""
	}
	if model != "" {
		cfg.Model = model
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("drover"),
		kong.Description("drover - local coding agent"),
		kong.UsageOnError(),
	)

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
