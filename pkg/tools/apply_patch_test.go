package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const simpleDiff = `--- a/hello.txt
+++ b/hello.txt
@@ -1,3 +1,3 @@
 one
-two
+TWO
 three
`

func TestApplyPatch_UnifiedDiffFallback(t *testing.T) {
	ec := newExecContext(t)
	writeTestFile(t, ec, "hello.txt", "one\ntwo\nthree\n")

	patches, err := parseUnifiedDiff(simpleDiff)
	if err != nil {
		t.Fatalf("parseUnifiedDiff: %v", err)
	}
	result := applyFilePatches(patches, ec)
	if !result.OK {
		t.Fatalf("result not OK: %+v", result)
	}
	if got := readTestFile(t, ec, "hello.txt"); got != "one\nTWO\nthree\n" {
		t.Errorf("file = %q", got)
	}
}

func TestApplyPatch_ViaTool(t *testing.T) {
	ec := newExecContext(t)
	writeTestFile(t, ec, "hello.txt", "one\ntwo\nthree\n")

	tool := NewApplyPatchTool()
	result, err := tool.Execute(context.Background(), map[string]any{"patch": simpleDiff}, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %+v", result)
	}
	if got := readTestFile(t, ec, "hello.txt"); got != "one\nTWO\nthree\n" {
		t.Errorf("file = %q", got)
	}
}

func TestApplyPatch_NewFileFromDiff(t *testing.T) {
	ec := newExecContext(t)
	patch := `--- /dev/null
+++ b/created.txt
@@ -0,0 +1,2 @@
+first
+second
`
	patches, err := parseUnifiedDiff(patch)
	if err != nil {
		t.Fatalf("parseUnifiedDiff: %v", err)
	}
	result := applyFilePatches(patches, ec)
	if !result.OK {
		t.Fatalf("result not OK: %+v", result)
	}
	if got := readTestFile(t, ec, "created.txt"); got != "first\nsecond" {
		t.Errorf("file = %q", got)
	}
}

func TestApplyPatch_NewFileNamedOnBothSides(t *testing.T) {
	ec := newExecContext(t)

	// Some producers name the new file on both sides instead of /dev/null.
	// With no original lines and no file on disk this is still a creation,
	// and the in-process applier must handle it without git.
	patch := `--- a/new.txt
+++ b/new.txt
@@ -0,0 +1,2 @@
+hello
+world
`
	patches, err := parseUnifiedDiff(patch)
	if err != nil {
		t.Fatalf("parseUnifiedDiff: %v", err)
	}
	result := applyFilePatches(patches, ec)
	if !result.OK {
		t.Fatalf("result not OK: %+v", result)
	}
	if got := readTestFile(t, ec, "new.txt"); got != "hello\nworld" {
		t.Errorf("file = %q", got)
	}
}

func TestApplyPatch_DeleteFromDiff(t *testing.T) {
	ec := newExecContext(t)
	writeTestFile(t, ec, "doomed.txt", "bye\n")

	patch := `--- a/doomed.txt
+++ /dev/null
@@ -1 +0,0 @@
-bye
`
	patches, err := parseUnifiedDiff(patch)
	if err != nil {
		t.Fatalf("parseUnifiedDiff: %v", err)
	}
	result := applyFilePatches(patches, ec)
	if !result.OK {
		t.Fatalf("result not OK: %+v", result)
	}
	if _, err := os.Stat(filepath.Join(ec.RepoRoot, "doomed.txt")); !os.IsNotExist(err) {
		t.Error("doomed.txt should be gone")
	}
}

func TestApplyPatch_ContextMismatchFails(t *testing.T) {
	ec := newExecContext(t)
	writeTestFile(t, ec, "hello.txt", "completely\ndifferent\ncontent\n")

	patches, err := parseUnifiedDiff(simpleDiff)
	if err != nil {
		t.Fatalf("parseUnifiedDiff: %v", err)
	}
	result := applyFilePatches(patches, ec)
	if result.OK {
		t.Fatal("mismatched context must not apply")
	}
	if got := readTestFile(t, ec, "hello.txt"); got != "completely\ndifferent\ncontent\n" {
		t.Errorf("file modified despite failure: %q", got)
	}
}

func TestApplyPatch_PartialApply(t *testing.T) {
	ec := newExecContext(t)
	writeTestFile(t, ec, "good.txt", "alpha\n")

	patch := `--- a/good.txt
+++ b/good.txt
@@ -1 +1 @@
-alpha
+ALPHA
--- a/missing.txt
+++ b/missing.txt
@@ -1 +1 @@
-nope
+NOPE
`
	patches, err := parseUnifiedDiff(patch)
	if err != nil {
		t.Fatalf("parseUnifiedDiff: %v", err)
	}
	result := applyFilePatches(patches, ec)
	if !result.OK {
		t.Fatalf("partial apply should be OK: %+v", result)
	}
	if result.Diagnostics[0].Code != "PartialApply" {
		t.Errorf("diagnostic = %+v, want PartialApply", result.Diagnostics)
	}
	failed := result.Data["failedPatches"].([]map[string]string)
	if len(failed) != 1 || failed[0]["path"] != "missing.txt" {
		t.Errorf("failedPatches = %v", failed)
	}
	if got := readTestFile(t, ec, "good.txt"); got != "ALPHA\n" {
		t.Errorf("good.txt = %q, want ALPHA", got)
	}
}

func TestApplyPatch_DescendingHunkOrder(t *testing.T) {
	ec := newExecContext(t)
	writeTestFile(t, ec, "multi.txt", "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\n")

	// Two hunks; applying the first would shift the second's line numbers
	// unless hunks are applied bottom-up.
	patch := `--- a/multi.txt
+++ b/multi.txt
@@ -1,2 +1,3 @@
 l1
+inserted
 l2
@@ -6,2 +7,2 @@
 l6
-l7
+L7
`
	patches, err := parseUnifiedDiff(patch)
	if err != nil {
		t.Fatalf("parseUnifiedDiff: %v", err)
	}
	result := applyFilePatches(patches, ec)
	if !result.OK {
		t.Fatalf("result not OK: %+v", result)
	}
	want := "l1\ninserted\nl2\nl3\nl4\nl5\nl6\nL7\nl8\n"
	if got := readTestFile(t, ec, "multi.txt"); got != want {
		t.Errorf("file = %q, want %q", got, want)
	}
}

func TestApplyPatch_Envelope(t *testing.T) {
	ec := newExecContext(t)
	writeTestFile(t, ec, "update.txt", "keep\nold line\nkeep too\n")
	writeTestFile(t, ec, "remove.txt", "x\n")

	envelope := `*** Begin Patch
*** Update File: update.txt
@@
 keep
-old line
+new line
*** Add File: fresh.txt
+created by patch
+second line
*** Delete File: remove.txt
*** End Patch`

	tool := NewApplyPatchTool()
	result, err := tool.Execute(context.Background(), map[string]any{"patch": envelope}, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %+v", result)
	}

	if got := readTestFile(t, ec, "update.txt"); got != "keep\nnew line\nkeep too\n" {
		t.Errorf("update.txt = %q", got)
	}
	if got := readTestFile(t, ec, "fresh.txt"); got != "created by patch\nsecond line" {
		t.Errorf("fresh.txt = %q", got)
	}
	if _, err := os.Stat(filepath.Join(ec.RepoRoot, "remove.txt")); !os.IsNotExist(err) {
		t.Error("remove.txt should be gone")
	}
}

func TestApplyPatch_EnvelopeUnsafePath(t *testing.T) {
	ec := newExecContext(t)

	envelope := `*** Begin Patch
*** Add File: ../escape.txt
+nope
*** End Patch`

	tool := NewApplyPatchTool()
	result, err := tool.Execute(context.Background(), map[string]any{"patch": envelope}, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.OK {
		t.Fatal("patch targeting outside the workspace must fail")
	}
}

func TestApplyPatch_EmptyPatchIsFailure(t *testing.T) {
	ec := newExecContext(t)
	tool := NewApplyPatchTool()

	result, err := tool.Execute(context.Background(), map[string]any{"patch": "  "}, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.OK {
		t.Fatal("empty patch should fail")
	}
}
