package session

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned by ReadFileContent for unknown suffixes.
var ErrUnsupportedFormat = errors.New("不支持的文件格式")

// ReadFileContent renders a local file as text for the model. Supported
// suffixes are .txt, .md, .csv, .json and .py; Python sources get line
// numbers so edit instructions can refer to them.
func ReadFileContent(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("文件不存在: %s: %w", path, err)
		}
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return string(data), nil
	case ".csv":
		return csvToText(data)
	case ".json":
		return jsonToText(data)
	case ".py":
		return "带行号的Python代码文件内容:\n```python\n" + NumberLines(string(data)) + "\n```", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// NumberLines prefixes every line with its 1-based number, right aligned to
// four columns.
func NumberLines(src string) string {
	if src == "" {
		return ""
	}
	lines := strings.SplitAfter(src, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%4d: %s", i+1, line)
	}
	return b.String()
}

func csvToText(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return "", fmt.Errorf("failed to parse csv: %w", err)
	}
	out := []string{fmt.Sprintf("CSV文件包含 %d 列: %s", len(header), strings.Join(header, ", "))}
	for i := 1; ; i++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse csv: %w", err)
		}
		pairs := make([]string, 0, len(row))
		for j, v := range row {
			key := ""
			if j < len(header) {
				key = header[j]
			}
			pairs = append(pairs, key+"="+v)
		}
		out = append(out, fmt.Sprintf("行 %d: %s", i, strings.Join(pairs, ", ")))
	}
	return strings.Join(out, "\n"), nil
}

func jsonToText(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return "", fmt.Errorf("failed to parse json: %w", err)
	}
	return "JSON数据结构摘要:\n" + buf.String(), nil
}
