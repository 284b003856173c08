package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/droverhq/drover/pkg/protocol"
)

const defaultMaxSearchResults = 50

// Extensions the manual scanner treats as binary and skips.
var binaryExtensions = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true,
	".o": true, ".bin": true, ".dat": true, ".db": true, ".sqlite": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".bmp": true, ".webp": true, ".pdf": true, ".zip": true, ".tar": true,
	".gz": true, ".7z": true, ".rar": true, ".woff": true, ".woff2": true,
	".ttf": true, ".eot": true, ".mp3": true, ".mp4": true, ".wasm": true,
}

type SearchTextTool struct{}

type searchTextParams struct {
	Query      string `json:"query" jsonschema:"description=Regular expression to search for (case-insensitive)"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"description=Maximum number of matches to return (default 50)"`
}

type searchMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

func NewSearchTextTool() *SearchTextTool {
	return &SearchTextTool{}
}

func (t *SearchTextTool) Info() Info {
	return Info{
		Name:        "SearchText",
		Description: "Search file contents with a case-insensitive regular expression. Uses ripgrep when available.",
		InputSchema: schemaFor(&searchTextParams{}),
		Policy:      Policy{ReadOnly: true, Risk: RiskLow},
	}
}

func (t *SearchTextTool) Execute(ctx context.Context, args map[string]any, ec ExecContext) (protocol.ToolResult, error) {
	var params searchTextParams
	if err := decodeArgs(args, &params); err != nil {
		return protocol.Failure("InvalidArgs", err.Error()), nil
	}
	if params.Query == "" {
		return protocol.Failure("InvalidArgs", "query is required"), nil
	}
	if params.MaxResults <= 0 {
		params.MaxResults = defaultMaxSearchResults
	}

	pattern, err := regexp.Compile("(?i)" + params.Query)
	if err != nil {
		return protocol.Failure("InvalidRegex", fmt.Sprintf("invalid regex: %v", err)), nil
	}

	var matches []searchMatch
	if rgPath, lookErr := exec.LookPath("rg"); lookErr == nil {
		matches, err = searchWithRipgrep(ctx, rgPath, params.Query, params.MaxResults, ec.Workspace.Root())
	} else {
		matches, err = searchManually(ctx, pattern, params.MaxResults, ec.Workspace.Root())
	}
	if err != nil {
		return protocol.Failure("SearchFailed", err.Error()), nil
	}

	var out strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&out, "%s:%d: %s\n", m.File, m.Line, m.Content)
	}

	return protocol.ToolResult{
		OK:     true,
		Stdout: out.String(),
		Data: map[string]any{
			"matches": matches,
			"count":   len(matches),
		},
	}, nil
}

// ripgrep JSON stream records; only "match" entries matter here.
type rgRecord struct {
	Type string `json:"type"`
	Data struct {
		Path struct {
			Text string `json:"text"`
		} `json:"path"`
		Lines struct {
			Text string `json:"text"`
		} `json:"lines"`
		LineNumber int `json:"line_number"`
	} `json:"data"`
}

func searchWithRipgrep(ctx context.Context, rgPath, query string, maxResults int, root string) ([]searchMatch, error) {
	cmd := exec.CommandContext(ctx, rgPath,
		"--json", "-i", "-e", query,
		"--max-count", fmt.Sprintf("%d", maxResults),
		".")
	cmd.Dir = root

	output, err := cmd.Output()
	if err != nil {
		// Exit code 1 means no matches; anything else is a real failure.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("ripgrep failed: %w", err)
	}

	var matches []searchMatch
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var record rgRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.Type != "match" {
			continue
		}
		matches = append(matches, searchMatch{
			File:    filepath.ToSlash(record.Data.Path.Text),
			Line:    record.Data.LineNumber,
			Content: strings.TrimRight(record.Data.Lines.Text, "\r\n"),
		})
		if len(matches) >= maxResults {
			break
		}
	}
	return matches, nil
}

func searchManually(ctx context.Context, pattern *regexp.Regexp, maxResults int, root string) ([]searchMatch, error) {
	var matches []searchMatch

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if binaryExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		file, openErr := os.Open(p)
		if openErr != nil {
			return nil
		}
		defer func() { _ = file.Close() }()

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if pattern.MatchString(line) {
				matches = append(matches, searchMatch{File: rel, Line: lineNo, Content: line})
				if len(matches) >= maxResults {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}
