package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// requirePython skips the test unless python3 (and pytest when asked) can
// be run.
func requirePython(t *testing.T, pytest bool) {
	t.Helper()
	if _, err := exec.LookPath(DefaultPython); err != nil {
		t.Skip("python3 not available")
	}
	if pytest {
		if err := exec.Command(DefaultPython, "-m", "pytest", "--version").Run(); err != nil {
			t.Skip("pytest not available")
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestRunToolMissingMain(t *testing.T) {
	res := NewRunTool(PythonConfig{Dir: t.TempDir()}).Execute(context.Background(), Invocation{Kind: KindRun}, Batch{})
	require.ErrorIs(t, res.Err, ErrNotFound)
	require.Equal(t, "运行错误: main.py不存在", res.UserMessage)
	require.False(t, res.Skip)
}

func TestRunToolWithoutMainFunction(t *testing.T) {
	requirePython(t, false)
	dir := t.TempDir()
	writeFile(t, dir, "main.py", "print('top level')\n")
	res := NewRunTool(PythonConfig{Dir: dir}).Execute(context.Background(), Invocation{Kind: KindRun}, Batch{})
	require.ErrorIs(t, res.Err, ErrInvalidArgument)
	require.Equal(t, "运行错误: main()函数不存在", res.UserMessage)
	require.False(t, res.Skip)
}

func TestRunToolAcceptsAnyMainCallable(t *testing.T) {
	requirePython(t, false)
	tests := []struct {
		name string
		src  string
	}{
		{"async def", "import asyncio\n\nasync def main():\n    await asyncio.sleep(0)\n    print('hello')\n"},
		{"assigned", "def run():\n    print('hello')\n\nmain = run\n"},
		{"class", "class main:\n    def __init__(self):\n        print('hello')\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "main.py", tt.src)
			res := NewRunTool(PythonConfig{Dir: dir}).Execute(context.Background(), Invocation{Kind: KindRun}, Batch{})
			require.NoError(t, res.Err)
			require.Equal(t, "运行结果:\nhello\n", res.UserMessage)
		})
	}
}

func TestRunToolCapturesOutput(t *testing.T) {
	requirePython(t, false)
	dir := t.TempDir()
	writeFile(t, dir, "main.py", "def main():\n    print('hello')\n\nif __name__ == '__main__':\n    main()\n")

	res := NewRunTool(PythonConfig{Dir: dir}).Execute(context.Background(), Invocation{Kind: KindRun}, Batch{})
	require.NoError(t, res.Err)
	require.Equal(t, "运行结果:\nhello\n", res.UserMessage)
	require.Equal(t, "Run output:\nhello\n", res.ModelFeedback)
	require.False(t, res.Skip)
}

func TestRunToolReportsException(t *testing.T) {
	requirePython(t, false)
	dir := t.TempDir()
	writeFile(t, dir, "main.py", "def main():\n    raise ValueError('boom')\n")

	res := NewRunTool(PythonConfig{Dir: dir}).Execute(context.Background(), Invocation{Kind: KindRun}, Batch{})
	require.ErrorIs(t, res.Err, ErrExecutionFault)
	require.Contains(t, res.UserMessage, "ValueError: boom")
	require.True(t, strings.HasPrefix(res.ModelFeedback, "Run failed: "))
	require.False(t, res.Skip)
}

func TestRunToolTimeout(t *testing.T) {
	requirePython(t, false)
	dir := t.TempDir()
	writeFile(t, dir, "main.py", "import time\n\ndef main():\n    time.sleep(5)\n")

	res := NewRunTool(PythonConfig{Dir: dir, RunTimeout: 200 * time.Millisecond}).
		Execute(context.Background(), Invocation{Kind: KindRun}, Batch{})
	require.ErrorIs(t, res.Err, ErrExecutionFault)
	require.Contains(t, res.UserMessage, "运行超时")
}

func TestTestToolMissingFile(t *testing.T) {
	res := NewTestTool(PythonConfig{Dir: t.TempDir()}).Execute(context.Background(), Invocation{Kind: KindTest}, Batch{})
	require.ErrorIs(t, res.Err, ErrNotFound)
	require.Equal(t, "测试执行错误: 测试文件test.py不存在", res.UserMessage)
	require.False(t, res.Skip)
}

func TestTestToolAllPass(t *testing.T) {
	requirePython(t, true)
	dir := t.TempDir()
	writeFile(t, dir, "main.py", "def add(a, b):\n    return a + b\n")
	writeFile(t, dir, "test.py", "from main import add\n\ndef test_add():\n    assert add(1, 2) == 3\n")

	res := NewTestTool(PythonConfig{Dir: dir}).Execute(context.Background(), Invocation{Kind: KindTest}, Batch{})
	require.NoError(t, res.Err)
	require.Equal(t, "所有测试通过", res.UserMessage)
	require.Equal(t, "All tests passed", res.ModelFeedback)
	require.False(t, res.Skip)
}

func TestTestToolFailureForwardsRawOutput(t *testing.T) {
	requirePython(t, true)
	dir := t.TempDir()
	writeFile(t, dir, "main.py", "def add(a, b):\n    return a - b\n")
	writeFile(t, dir, "test.py", "from main import add\n\ndef test_add():\n    assert add(1, 2) == 3\n")

	res := NewTestTool(PythonConfig{Dir: dir}).Execute(context.Background(), Invocation{Kind: KindTest}, Batch{})
	require.True(t, res.Skip)
	require.ErrorIs(t, res.Err, ErrExecutionFault)
	require.True(t, strings.HasPrefix(res.UserMessage, "未通过测试:"))
	require.Contains(t, res.UserMessage, "test_add")
	require.Contains(t, res.ModelFeedback, "FAILED")
	require.Contains(t, res.ModelFeedback, "assert -1 == 3")
}

// fakeInterpreter writes a shell script that prints output to stderr and
// exits with code, standing in for python3.
func fakeInterpreter(t *testing.T, output string, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "python")
	script := fmt.Sprintf("#!/bin/sh\necho '%s' >&2\nexit %d\n", output, code)
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestTestToolWithoutPytest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "test.py", "def test_ok():\n    pass\n")
	python := fakeInterpreter(t, "/usr/bin/python3: No module named pytest", 1)

	res := NewTestTool(PythonConfig{Dir: dir, Python: python}).Execute(context.Background(), Invocation{Kind: KindTest}, Batch{})
	require.ErrorIs(t, res.Err, ErrCollaboratorUnavailable)
	require.False(t, res.Skip)
	require.Equal(t, "测试执行错误: 测试环境未安装pytest", res.UserMessage)
	require.Contains(t, res.ModelFeedback, "不要再尝试测试")
}

func TestTestToolUsageErrorDoesNotSkip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "test.py", "def test_ok():\n    pass\n")
	python := fakeInterpreter(t, "ERROR: usage: pytest [options]", 4)

	res := NewTestTool(PythonConfig{Dir: dir, Python: python}).Execute(context.Background(), Invocation{Kind: KindTest}, Batch{})
	require.ErrorIs(t, res.Err, ErrExecutionFault)
	require.False(t, res.Skip)
	require.Contains(t, res.ModelFeedback, "usage: pytest")
}
