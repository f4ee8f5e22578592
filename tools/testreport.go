// Pytest output parsing.
//
// Information Hiding:
// - Line patterns of pytest's verbose and summary output hidden
// - Two-phase (details / summary) state machine hidden in ParseTestOutput
// - Report layout hidden in FormatReport

package tools

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	testHeaderPattern     = regexp.MustCompile(`^_+ ([^_]+) _+$`)
	summaryFailurePattern = regexp.MustCompile(`^FAILED (\S+?)::(\w+)(?: - (.*))?$`)
	summaryErrorPattern   = regexp.MustCompile(`^ERROR (\S+?)::(\w+)(?: - (.*))?$`)
	assertionLinePattern  = regexp.MustCompile(`^>?\s+(?:E\s+)?assert (.+)$`)
	errorHeaderPattern    = regexp.MustCompile(`^(E\s+)?(\w+Error): (.*)$`)
	errorLocationPattern  = regexp.MustCompile(`^(\S+?):(\d+)(?: in \w+)?$`)
)

// FailedTest is one failing test extracted from pytest output.
type FailedTest struct {
	Name      string
	ErrorType string
	Message   string
	Location  string
	Assertion string
	Context   []string
	Details   []string
}

type parsePhase int

const (
	phaseNone parsePhase = iota
	phaseDetails
	phaseSummary
)

// ParseTestOutput extracts failing tests from pytest -v output.
//
// A "____ name ____" header opens a test in the details phase. A FAILED or
// ERROR summary line opens one in the summary phase when no test is open or
// the open one also came from the summary. In the summary phase a blank line
// closes the test.
func ParseTestOutput(output string) []FailedTest {
	var (
		failed  []FailedTest
		current *FailedTest
		phase   = phaseNone
	)
	flush := func() {
		if current != nil {
			failed = append(failed, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")

		if m := testHeaderPattern.FindStringSubmatch(line); m != nil {
			flush()
			current = &FailedTest{Name: m[1], ErrorType: "Unknown"}
			phase = phaseDetails
			continue
		}

		if current == nil || phase == phaseSummary {
			if m := summaryFailurePattern.FindStringSubmatch(line); m != nil {
				flush()
				current = &FailedTest{Name: m[2], ErrorType: "AssertionError", Message: m[3], Location: m[1]}
				phase = phaseSummary
			} else if m := summaryErrorPattern.FindStringSubmatch(line); m != nil {
				flush()
				current = &FailedTest{Name: m[2], ErrorType: "ExecutionError", Message: m[3], Location: m[1]}
				phase = phaseSummary
			}
		}
		if current == nil {
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case assertionLinePattern.MatchString(line):
			current.Assertion = assertionLinePattern.FindStringSubmatch(line)[1]
		case errorHeaderPattern.MatchString(line):
			m := errorHeaderPattern.FindStringSubmatch(line)
			current.ErrorType, current.Message = m[2], m[3]
		case errorLocationPattern.MatchString(line):
			m := errorLocationPattern.FindStringSubmatch(line)
			current.Location = m[1] + ":" + m[2]
		case strings.HasPrefix(trimmed, ">"):
			current.Context = append(current.Context, trimmed)
		case phase == phaseSummary && trimmed == "":
			flush()
		case phase == phaseDetails:
			current.Details = append(current.Details, strings.TrimRight(line, " \t"))
		}
	}
	flush()
	return failed
}

// FormatReport renders failing tests as the numbered report shown to the
// user.
func FormatReport(tests []FailedTest) string {
	var b strings.Builder
	b.WriteString("未通过测试:")
	if len(tests) == 0 {
		b.WriteString("\n未能从测试输出中解析出失败的测试")
	}
	for i, t := range tests {
		b.WriteString("\n" + strconv.Itoa(i+1) + ". " + orDefault(t.Name, "未知测试"))
		b.WriteString("\n   类型: " + orDefault(t.ErrorType, "未知错误"))
		b.WriteString("\n   位置: " + orDefault(t.Location, "未知位置"))
		b.WriteString("\n   信息: " + orDefault(t.Message, "无详细信息"))
		if t.Assertion != "" {
			b.WriteString("\n   断言失败: " + t.Assertion)
		}
		if len(t.Context) > 0 {
			b.WriteString("\n   代码上下文:")
			for _, line := range lastN(t.Context, 2) {
				b.WriteString("\n     " + line)
			}
		}
		if len(t.Details) > 0 {
			b.WriteString("\n   错误轨迹:")
			for _, line := range lastN(t.Details, 3) {
				b.WriteString("\n     " + line)
			}
		}
	}
	return b.String()
}

// BuildReport parses output and formats the report, turning a panic in
// either step into an error.
func BuildReport(output string) (report string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return FormatReport(ParseTestOutput(output)), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func lastN(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
