package tools

import (
	"context"
	"testing"
)

func TestReadFile_WholeFile(t *testing.T) {
	ec := newExecContext(t)
	writeTestFile(t, ec, "a.txt", "one\ntwo\nthree")

	tool := NewReadFileTool()
	result, err := tool.Execute(context.Background(), map[string]any{"path": "a.txt"}, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %+v", result)
	}
	if result.Data["content"] != "one\ntwo\nthree" {
		t.Errorf("content = %q", result.Data["content"])
	}
	if result.Data["totalLines"] != 3 {
		t.Errorf("totalLines = %v, want 3", result.Data["totalLines"])
	}
}

func TestReadFile_LineRangeClamped(t *testing.T) {
	ec := newExecContext(t)
	writeTestFile(t, ec, "a.txt", "one\ntwo\nthree\nfour")

	tool := NewReadFileTool()
	tests := []struct {
		name       string
		start, end any
		want       string
	}{
		{"middle", 2, 3, "two\nthree"},
		{"end beyond total", 3, 99, "three\nfour"},
		{"start below one", 0, 2, "one\ntwo"},
		{"start beyond total", 99, 99, "four"},
		{"json numbers are floats", 2.0, 2.0, "two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), map[string]any{
				"path": "a.txt", "startLine": tt.start, "endLine": tt.end,
			}, ec)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !result.OK {
				t.Fatalf("result not OK: %+v", result)
			}
			if result.Data["content"] != tt.want {
				t.Errorf("content = %q, want %q", result.Data["content"], tt.want)
			}
		})
	}
}

func TestReadFile_MissingFileIsFailure(t *testing.T) {
	ec := newExecContext(t)
	tool := NewReadFileTool()

	result, err := tool.Execute(context.Background(), map[string]any{"path": "nope.txt"}, ec)
	if err != nil {
		t.Fatalf("predictable failures must not be errors: %v", err)
	}
	if result.OK {
		t.Fatal("reading a missing file should fail")
	}
	if len(result.Diagnostics) == 0 {
		t.Fatal("failure needs a diagnostic")
	}
}

func TestReadFile_UnsafePathRefused(t *testing.T) {
	ec := newExecContext(t)
	tool := NewReadFileTool()

	for _, path := range []string{"../outside.txt", "/etc/passwd", ""} {
		result, err := tool.Execute(context.Background(), map[string]any{"path": path}, ec)
		if err != nil {
			t.Fatalf("Execute(%q): %v", path, err)
		}
		if result.OK {
			t.Errorf("path %q should be refused", path)
		}
	}
}
