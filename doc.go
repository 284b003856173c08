// Package drover is a local coding agent: an LLM-driven loop that reads,
// searches, and edits a workspace through a guarded tool suite, with
// human approval gating for risky operations.
//
// # Quick Start
//
// Install drover:
//
//	go install github.com/droverhq/drover/cmd/drover@latest
//
// Chat in the current repository:
//
//	export ANTHROPIC_API_KEY=...
//	drover chat --provider anthropic
//
// Or serve sessions over HTTP with a server-sent-events stream per session:
//
//	drover serve --addr :8080
//
// # Configuration
//
// An optional YAML file selects the provider and model; values support
// ${VAR} and ${VAR:-default} environment expansion:
//
//	provider: openai
//	model: gpt-4o
//	maxIterations: 20
//
// API keys come from the environment (ANTHROPIC_API_KEY, OPENAI_API_KEY),
// optionally loaded from .env / .env.local. Local OpenAI-compatible
// endpoints run keyless:
//
//	provider: openai-compatible
//	openaiCompatibleEndpoint: http://localhost:11434/v1
//	model: llama3
//
// # Packages
//
//	import (
//	    "github.com/droverhq/drover/pkg/agent"     // orchestration loop
//	    "github.com/droverhq/drover/pkg/llms"      // provider adapters
//	    "github.com/droverhq/drover/pkg/tools"     // workspace tool suite
//	    "github.com/droverhq/drover/pkg/server"    // HTTP/SSE surface
//	)
//
// Every tool call resolves its paths through the workspace guard; nothing
// escapes the session's repository root. Conversations persist as
// append-only JSONL logs under .agent/ and resume with --session.
package drover
