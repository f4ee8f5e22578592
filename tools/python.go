// Python tools: run and test.
//
// Information Hiding:
// - Interpreter invocation and timeouts hidden
// - main() detection hidden in the interpreter shim
// - Pytest exit-code handling and report building hidden

package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Default subprocess settings.
const (
	DefaultPython      = "python3"
	DefaultRunTimeout  = 60 * time.Second
	DefaultTestTimeout = 120 * time.Second
)

// exitNoMain is the shim's exit status when main.py has no main attribute.
const exitNoMain = 97

// callMain imports main.py as a module and calls its main(), so a
// __main__ guard does not run it twice. A coroutine result is run to
// completion.
var callMain = fmt.Sprintf(`import sys, inspect, asyncio
sys.path.insert(0, '.')
import main
if not hasattr(main, 'main'):
    sys.exit(%d)
result = main.main()
if inspect.iscoroutine(result):
    asyncio.run(result)
`, exitNoMain)

// pytestMissing matches the interpreter's report when pytest is not
// installed.
var pytestMissing = regexp.MustCompile(`No module named '?pytest'?\s*$`)

// Pytest exit statuses that are not about the tests themselves.
const (
	pytestInternalError = 3
	pytestUsageError    = 4
)

// PythonConfig configures the run and test tools.
type PythonConfig struct {
	Dir         string
	Python      string
	RunTimeout  time.Duration
	TestTimeout time.Duration
}

func (c PythonConfig) python() string {
	if c.Python == "" {
		return DefaultPython
	}
	return c.Python
}

func (c PythonConfig) runTimeout() time.Duration {
	if c.RunTimeout <= 0 {
		return DefaultRunTimeout
	}
	return c.RunTimeout
}

func (c PythonConfig) testTimeout() time.Duration {
	if c.TestTimeout <= 0 {
		return DefaultTestTimeout
	}
	return c.TestTimeout
}

// RunTool executes main() of main.py in the code space.
type RunTool struct {
	config PythonConfig
}

// NewRunTool creates a run tool.
func NewRunTool(config PythonConfig) *RunTool {
	return &RunTool{config: config}
}

// Kind returns KindRun.
func (t *RunTool) Kind() Kind { return KindRun }

// Execute runs the program and reports its standard output.
func (t *RunTool) Execute(ctx context.Context, _ Invocation, _ Batch) Result {
	output, err := t.run(ctx)
	if err != nil {
		return Result{
			UserMessage:   "运行错误: " + err.Error(),
			ModelFeedback: "Run failed: " + err.Error(),
			Err:           err,
		}
	}
	return Result{
		UserMessage:   "运行结果:\n" + output,
		ModelFeedback: "Run output:\n" + output,
	}
}

func (t *RunTool) run(ctx context.Context) (string, error) {
	info, err := os.Stat(filepath.Join(t.config.Dir, "main.py"))
	if err != nil || info.IsDir() {
		return "", Errorf(ErrNotFound, "main.py不存在")
	}

	timeout := t.config.runTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.config.python(), "-c", callMain)
	cmd.Dir = t.config.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return "", Errorf(ErrExecutionFault, "运行超时 (%s)", timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == exitNoMain {
				return "", Errorf(ErrInvalidArgument, "main()函数不存在")
			}
			return "", Errorf(ErrExecutionFault, "%s", lastLines(stderr.String(), 20))
		}
		return "", Errorf(ErrExecutionFault, "failed to start interpreter: %v", err)
	}
	return stdout.String(), nil
}

// TestTool runs pytest on test.py in the code space.
type TestTool struct {
	config PythonConfig
}

// NewTestTool creates a test tool.
func NewTestTool(config PythonConfig) *TestTool {
	return &TestTool{config: config}
}

// Kind returns KindTest.
func (t *TestTool) Kind() Kind { return KindTest }

// Execute runs the tests. Failing tests ask for another model turn.
func (t *TestTool) Execute(ctx context.Context, _ Invocation, _ Batch) Result {
	testFile, err := filepath.Abs(filepath.Join(t.config.Dir, "test.py"))
	if err == nil {
		_, err = os.Stat(testFile)
	}
	if err != nil {
		return testFailed(Errorf(ErrNotFound, "测试文件test.py不存在"))
	}

	timeout := t.config.testTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.config.python(), "-m", "pytest", testFile, "-vs")
	cmd.Dir = t.config.Dir
	out, err := cmd.CombinedOutput()
	output := string(out)

	if ctx.Err() == context.DeadlineExceeded {
		res := testFailed(Errorf(ErrExecutionFault, "测试超时 (%s)", timeout))
		res.ModelFeedback += "\n" + output
		res.Skip = true
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Result{
			UserMessage:   "所有测试通过",
			ModelFeedback: "All tests passed",
		}
	case errors.As(err, &exitErr) && pytestMissing.MatchString(strings.TrimSpace(output)):
		return pytestUnavailable()
	case errors.As(err, &exitErr) && (exitErr.ExitCode() == pytestInternalError || exitErr.ExitCode() == pytestUsageError):
		res := testFailed(Errorf(ErrExecutionFault, "pytest exited with code %d", exitErr.ExitCode()))
		res.ModelFeedback += "\n" + output
		return res
	case errors.As(err, &exitErr):
		return testReport(output, exitErr.ExitCode())
	default:
		return testFailed(Errorf(ErrExecutionFault, "failed to start pytest: %v", err))
	}
}

// testReport builds the result for a pytest run that exited nonzero.
func testReport(output string, code int) Result {
	report, err := BuildReport(output)
	if err != nil {
		report = "解析错误: " + err.Error()
	}
	return Result{
		UserMessage:   report,
		ModelFeedback: fmt.Sprintf("pytest exited with code %d\n%s", code, output),
		Skip:          true,
		Err:           Errorf(ErrExecutionFault, "pytest exited with code %d", code),
	}
}

func pytestUnavailable() Result {
	err := Errorf(ErrCollaboratorUnavailable, "测试环境未安装pytest")
	return Result{
		UserMessage:   "测试执行错误: " + err.Error(),
		ModelFeedback: "测试执行错误: 测试环境未安装pytest。这不是代码的问题，不要再尝试测试，直到用户安装pytest后再次要求。",
		Err:           err,
	}
}

func testFailed(err error) Result {
	return Result{
		UserMessage:   "测试执行错误: " + err.Error(),
		ModelFeedback: "Test failed: " + err.Error(),
		Err:           err,
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return strings.Join(lastN(lines, n), "\n")
}
