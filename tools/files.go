// Code-space file tools: write and edit.
//
// Information Hiding:
// - Filename validation hidden (no directories, code space only)
// - Line-walk patch algorithm hidden in ApplyEdit
// - Atomic replacement via temp file and rename hidden

package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// checkFilename rejects names that would leave the code space.
func checkFilename(name string) error {
	if strings.ContainsAny(name, `/\`) {
		return Errorf(ErrInvalidArgument, "文件名不能包含路径")
	}
	if name == "" || name == "." || name == ".." {
		return Errorf(ErrInvalidArgument, "无效的文件名: %q", name)
	}
	return nil
}

// WriteTool overwrites a file in the code space.
type WriteTool struct {
	dir string
}

// NewWriteTool creates a write tool rooted at the code space dir.
func NewWriteTool(dir string) *WriteTool {
	return &WriteTool{dir: dir}
}

// Kind returns KindWrite.
func (t *WriteTool) Kind() Kind { return KindWrite }

// Execute writes the file.
func (t *WriteTool) Execute(ctx context.Context, inv Invocation, _ Batch) Result {
	args, ok := inv.Payload.(WriteArgs)
	if !ok {
		return writeFailed(Errorf(ErrInvalidArgument, "invalid write payload %T", inv.Payload))
	}
	if err := checkFilename(args.Filename); err != nil {
		return writeFailed(err)
	}
	if err := os.WriteFile(filepath.Join(t.dir, args.Filename), []byte(args.Code), 0644); err != nil {
		return writeFailed(Errorf(ErrExecutionFault, "%v", err))
	}
	return Result{
		UserMessage:   "已写入文件: " + args.Filename,
		ModelFeedback: "File written: " + args.Filename,
	}
}

// writeFailed reports a write or edit failure.
func writeFailed(err error) Result {
	return Result{
		UserMessage:   "写入失败: " + err.Error(),
		ModelFeedback: "Write failed: " + err.Error(),
		Err:           err,
	}
}

// EditTool applies line-based inserts and deletes to a Python file in the
// code space.
type EditTool struct {
	dir string
}

// NewEditTool creates an edit tool rooted at the code space dir.
func NewEditTool(dir string) *EditTool {
	return &EditTool{dir: dir}
}

// Kind returns KindEdit.
func (t *EditTool) Kind() Kind { return KindEdit }

// Execute patches the file.
func (t *EditTool) Execute(ctx context.Context, inv Invocation, _ Batch) Result {
	args, ok := inv.Payload.(EditArgs)
	if !ok {
		return writeFailed(Errorf(ErrInvalidArgument, "invalid edit payload %T", inv.Payload))
	}
	if err := checkFilename(args.Filename); err != nil {
		return writeFailed(err)
	}

	path := filepath.Join(t.dir, args.Filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || filepath.Ext(args.Filename) != ".py" {
		return writeFailed(Errorf(ErrInvalidArgument, "无效的Python文件路径"))
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return writeFailed(Errorf(ErrExecutionFault, "%v", err))
	}
	patched := ApplyEdit(string(src), args.Inserts, args.Deletes)
	if err := replaceFile(path, []byte(patched), info.Mode().Perm()); err != nil {
		return writeFailed(Errorf(ErrExecutionFault, "%v", err))
	}

	return Result{
		UserMessage:   "已修改文件: " + args.Filename,
		ModelFeedback: "File written: " + args.Filename,
	}
}

// ApplyEdit merges inserts and deletes into src by original line number.
// Before original line i, the text inserted at i is emitted; line i itself is
// dropped when any delete range covers it. An insert at N+1 is appended
// after a newline. Later inserts at the same line replace earlier ones, and
// inserts beyond N+1 are ignored.
func ApplyEdit(src string, inserts []Insertion, deletes []LineRange) string {
	lines := splitLines(src)
	n := len(lines)

	deleted := make(map[int]bool)
	for _, r := range deletes {
		// only lines 1..n can be dropped
		start, end := max(r.Start, 1), min(r.End, n)
		for i := start; i <= end; i++ {
			deleted[i] = true
		}
	}
	inserted := make(map[int]string, len(inserts))
	for _, ins := range inserts {
		inserted[ins.Line] = ins.Text
	}

	var b strings.Builder
	b.Grow(len(src))
	for i := 1; i <= n; i++ {
		if text, ok := inserted[i]; ok {
			b.WriteString(text)
			b.WriteString("\n")
		}
		if !deleted[i] {
			b.WriteString(lines[i-1])
		}
	}
	if text, ok := inserted[n+1]; ok {
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

// splitLines splits after every newline, keeping the terminators.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// replaceFile writes data next to path and renames it into place.
func replaceFile(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil && !errors.Is(err, fs.ErrPermission) {
		tmp.Close()
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}
