package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/droverhq/drover/pkg/protocol"
)

const patchEnvelopeMarker = "*** Begin Patch"

type ApplyPatchTool struct{}

type applyPatchParams struct {
	Patch string `json:"patch" jsonschema:"description=Unified diff text or a Begin Patch / End Patch envelope"`
}

func NewApplyPatchTool() *ApplyPatchTool {
	return &ApplyPatchTool{}
}

func (t *ApplyPatchTool) Info() Info {
	return Info{
		Name:        "ApplyPatch",
		Description: "Apply a patch to workspace files. Accepts unified diff text or a Begin Patch envelope with Add File / Update File / Delete File sections.",
		InputSchema: schemaFor(&applyPatchParams{}),
		Policy:      Policy{RequiresApproval: true, Risk: RiskMedium},
	}
}

func (t *ApplyPatchTool) Execute(ctx context.Context, args map[string]any, ec ExecContext) (protocol.ToolResult, error) {
	var params applyPatchParams
	if err := decodeArgs(args, &params); err != nil {
		return protocol.Failure("InvalidArgs", err.Error()), nil
	}
	if strings.TrimSpace(params.Patch) == "" {
		return protocol.Failure("InvalidArgs", "patch is required"), nil
	}

	if strings.Contains(params.Patch, patchEnvelopeMarker) {
		patches, err := parseEnvelope(params.Patch)
		if err != nil {
			return protocol.Failure("InvalidPatch", err.Error()), nil
		}
		return applyFilePatches(patches, ec), nil
	}

	// Unified diff: git apply is the preferred path, the in-process applier
	// the fallback when git refuses or is unavailable.
	if gitApply(ctx, ec.RepoRoot, params.Patch) == nil {
		applied := unifiedDiffPaths(params.Patch)
		return protocol.ToolResult{
			OK:     true,
			Stdout: fmt.Sprintf("applied patch to %d file(s) via git", len(applied)),
			Data: map[string]any{
				"appliedFiles":  applied,
				"failedPatches": []map[string]string{},
				"method":        "git",
			},
		}, nil
	}

	patches, err := parseUnifiedDiff(params.Patch)
	if err != nil {
		return protocol.Failure("InvalidPatch", fmt.Sprintf("failed to parse patch: %v", err)), nil
	}
	return applyFilePatches(patches, ec), nil
}

func gitApply(ctx context.Context, repoRoot, patch string) error {
	if _, err := exec.LookPath("git"); err != nil {
		return err
	}
	for _, checkArgs := range [][]string{
		{"apply", "--check", "-"},
		{"apply", "-"},
	} {
		cmd := exec.CommandContext(ctx, "git", checkArgs...)
		cmd.Dir = repoRoot
		cmd.Stdin = strings.NewReader(patch)
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git %s failed: %v: %s", strings.Join(checkArgs, " "), err, bytes.TrimSpace(output))
		}
	}
	return nil
}

// filePatch is one file's worth of change, from either input format.
type filePatch struct {
	path     string
	isNew    bool
	isDelete bool
	hunks    []*diff.Hunk // unified diff updates
	blocks   []hunkBlock  // envelope updates
	content  string       // new file content
}

// hunkBlock is an envelope hunk: the old lines to find and the new lines to
// put in their place.
type hunkBlock struct {
	oldLines []string
	newLines []string
}

func applyFilePatches(patches []filePatch, ec ExecContext) protocol.ToolResult {
	var applied []string
	var failed []map[string]string

	for _, fp := range patches {
		if err := applyOne(fp, ec); err != nil {
			failed = append(failed, map[string]string{
				"path":   fp.path,
				"reason": err.Error(),
			})
			continue
		}
		applied = append(applied, fp.path)
	}

	data := map[string]any{
		"appliedFiles":  applied,
		"failedPatches": failed,
		"method":        "fallback",
	}

	if len(applied) == 0 {
		reason := "no patches applied"
		if len(failed) > 0 {
			reason = fmt.Sprintf("no patches applied: %s", failed[0]["reason"])
		}
		result := protocol.Failure("ApplyFailed", reason)
		result.Data = data
		return result
	}

	result := protocol.ToolResult{
		OK:     true,
		Stdout: fmt.Sprintf("applied patch to %d file(s)", len(applied)),
		Data:   data,
	}
	if len(failed) > 0 {
		result.Diagnostics = []protocol.Diagnostic{{
			Code:    "PartialApply",
			Message: fmt.Sprintf("%d of %d file(s) failed to apply", len(failed), len(failed)+len(applied)),
		}}
	}
	return result
}

func applyOne(fp filePatch, ec ExecContext) error {
	abs, ok := ec.Workspace.Resolve(fp.path)
	if !ok {
		return fmt.Errorf("path escapes the workspace: %s", fp.path)
	}

	switch {
	case fp.isDelete:
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete: %w", err)
		}
		return nil

	case fp.isNew:
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("failed to create directories: %w", err)
		}
		return os.WriteFile(abs, []byte(fp.content), 0o644)

	default:
		original, err := os.ReadFile(abs)
		if os.IsNotExist(err) && creationHunks(fp.hunks) {
			// A diff against an absent target with no original lines is a
			// file creation, whatever the headers name it.
			if mkErr := os.MkdirAll(filepath.Dir(abs), 0o755); mkErr != nil {
				return fmt.Errorf("failed to create directories: %w", mkErr)
			}
			return os.WriteFile(abs, []byte(hunkAdditions(fp.hunks)), 0o644)
		}
		if err != nil {
			return fmt.Errorf("failed to read target: %w", err)
		}
		var updated string
		if len(fp.hunks) > 0 {
			updated, err = applyHunks(string(original), fp.hunks)
		} else {
			updated, err = applyBlocks(string(original), fp.blocks)
		}
		if err != nil {
			return err
		}
		return os.WriteFile(abs, []byte(updated), 0o644)
	}
}

// creationHunks reports whether every hunk's original range is empty, the
// shape of a patch that introduces a file.
func creationHunks(hunks []*diff.Hunk) bool {
	if len(hunks) == 0 {
		return false
	}
	for _, hunk := range hunks {
		if hunk.OrigLines != 0 {
			return false
		}
	}
	return true
}

// hunkAdditions joins the added lines of the hunks into file content.
func hunkAdditions(hunks []*diff.Hunk) string {
	var added []string
	for _, hunk := range hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if strings.HasPrefix(line, "+") {
				added = append(added, line[1:])
			}
		}
	}
	return strings.Join(added, "\n")
}

// applyHunks applies unified-diff hunks in descending start order so earlier
// hunks never shift the line numbers of later ones.
func applyHunks(original string, hunks []*diff.Hunk) (string, error) {
	sorted := make([]*diff.Hunk, len(hunks))
	copy(sorted, hunks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OrigStartLine > sorted[j].OrigStartLine
	})

	lines := strings.Split(original, "\n")
	for _, hunk := range sorted {
		var err error
		lines, err = applyHunkAt(lines, hunk)
		if err != nil {
			return "", err
		}
	}
	return strings.Join(lines, "\n"), nil
}

func applyHunkAt(lines []string, hunk *diff.Hunk) ([]string, error) {
	start := int(hunk.OrigStartLine) - 1
	if start < 0 {
		start = 0
	}
	if start > len(lines) {
		return nil, fmt.Errorf("hunk start %d beyond end of file (%d lines)", hunk.OrigStartLine, len(lines))
	}

	var oldBlock, newBlock []string
	for _, line := range strings.Split(string(hunk.Body), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			newBlock = append(newBlock, line[1:])
		case strings.HasPrefix(line, "-"):
			oldBlock = append(oldBlock, line[1:])
		case strings.HasPrefix(line, " "):
			oldBlock = append(oldBlock, line[1:])
			newBlock = append(newBlock, line[1:])
		case line == "":
			// Trailing newline artifact of splitting the body.
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file"
		}
	}

	end := start + len(oldBlock)
	if end > len(lines) {
		return nil, fmt.Errorf("hunk at line %d overruns the file", hunk.OrigStartLine)
	}
	for i, want := range oldBlock {
		if lines[start+i] != want {
			return nil, fmt.Errorf("context mismatch at line %d: expected %q, found %q",
				start+i+1, want, lines[start+i])
		}
	}

	result := make([]string, 0, len(lines)-len(oldBlock)+len(newBlock))
	result = append(result, lines[:start]...)
	result = append(result, newBlock...)
	result = append(result, lines[end:]...)
	return result, nil
}

// applyBlocks applies envelope hunks by locating each block of old lines and
// substituting the new lines. The first occurrence wins.
func applyBlocks(original string, blocks []hunkBlock) (string, error) {
	lines := strings.Split(original, "\n")
	for _, block := range blocks {
		index := findBlock(lines, block.oldLines)
		if index < 0 {
			preview := ""
			if len(block.oldLines) > 0 {
				preview = block.oldLines[0]
			}
			return "", fmt.Errorf("could not locate patch context starting with %q", preview)
		}
		result := make([]string, 0, len(lines)-len(block.oldLines)+len(block.newLines))
		result = append(result, lines[:index]...)
		result = append(result, block.newLines...)
		result = append(result, lines[index+len(block.oldLines):]...)
		lines = result
	}
	return strings.Join(lines, "\n"), nil
}

func findBlock(lines, block []string) int {
	if len(block) == 0 {
		return -1
	}
	for i := 0; i+len(block) <= len(lines); i++ {
		match := true
		for j, want := range block {
			if lines[i+j] != want {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// parseUnifiedDiff converts unified diff text into filePatches. The a/ and
// b/ prefixes are stripped; /dev/null marks creation or deletion.
func parseUnifiedDiff(patch string) ([]filePatch, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, err
	}
	if len(fileDiffs) == 0 {
		return nil, fmt.Errorf("patch contains no file diffs")
	}

	patches := make([]filePatch, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		orig := stripDiffPrefix(fd.OrigName)
		newName := stripDiffPrefix(fd.NewName)

		switch {
		case newName == "":
			patches = append(patches, filePatch{path: orig, isDelete: true})

		case orig == "":
			patches = append(patches, filePatch{
				path:    newName,
				isNew:   true,
				content: hunkAdditions(fd.Hunks),
			})

		default:
			patches = append(patches, filePatch{path: newName, hunks: fd.Hunks})
		}
	}
	return patches, nil
}

func stripDiffPrefix(name string) string {
	if name == "/dev/null" || name == "" {
		return ""
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}

// unifiedDiffPaths lists the target paths of a unified diff, for reporting
// after a successful git apply.
func unifiedDiffPaths(patch string) []string {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil
	}
	var paths []string
	for _, fd := range fileDiffs {
		name := stripDiffPrefix(fd.NewName)
		if name == "" {
			name = stripDiffPrefix(fd.OrigName)
		}
		if name != "" {
			paths = append(paths, name)
		}
	}
	return paths
}

// parseEnvelope parses the Begin Patch / End Patch format:
//
//	*** Begin Patch
//	*** Add File: path
//	+each line of the new file
//	*** Update File: path
//	@@ optional locator
//	 context
//	-removed
//	+added
//	*** Delete File: path
//	*** End Patch
func parseEnvelope(text string) ([]filePatch, error) {
	lines := strings.Split(text, "\n")
	var patches []filePatch
	var current *filePatch
	var block *hunkBlock
	var newFileLines []string

	flushBlock := func() {
		if current != nil && block != nil && len(block.oldLines)+len(block.newLines) > 0 {
			current.blocks = append(current.blocks, *block)
		}
		block = nil
	}
	flushFile := func() {
		flushBlock()
		if current != nil {
			if current.isNew {
				current.content = strings.Join(newFileLines, "\n")
			}
			patches = append(patches, *current)
		}
		current = nil
		newFileLines = nil
	}

	inPatch := false
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "*** Begin Patch"):
			inPatch = true

		case strings.HasPrefix(line, "*** End Patch"):
			flushFile()
			inPatch = false

		case strings.HasPrefix(line, "*** Add File: "):
			flushFile()
			current = &filePatch{
				path:  strings.TrimSpace(strings.TrimPrefix(line, "*** Add File: ")),
				isNew: true,
			}

		case strings.HasPrefix(line, "*** Update File: "):
			flushFile()
			current = &filePatch{
				path: strings.TrimSpace(strings.TrimPrefix(line, "*** Update File: ")),
			}

		case strings.HasPrefix(line, "*** Delete File: "):
			flushFile()
			current = &filePatch{
				path:     strings.TrimSpace(strings.TrimPrefix(line, "*** Delete File: ")),
				isDelete: true,
			}
			flushFile()

		case !inPatch || current == nil:
			// Ignore anything outside a section.

		case current.isNew:
			if strings.HasPrefix(line, "+") {
				newFileLines = append(newFileLines, line[1:])
			}

		case strings.HasPrefix(line, "@@"):
			flushBlock()
			block = &hunkBlock{}

		default:
			if block == nil {
				block = &hunkBlock{}
			}
			switch {
			case strings.HasPrefix(line, "+"):
				block.newLines = append(block.newLines, line[1:])
			case strings.HasPrefix(line, "-"):
				block.oldLines = append(block.oldLines, line[1:])
			case strings.HasPrefix(line, " "):
				block.oldLines = append(block.oldLines, line[1:])
				block.newLines = append(block.newLines, line[1:])
			}
		}
	}
	flushFile()

	if len(patches) == 0 {
		return nil, fmt.Errorf("envelope contains no file sections")
	}
	return patches, nil
}
