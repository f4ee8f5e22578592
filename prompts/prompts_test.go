package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstallKeepsUserEdits(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "tools.txt")
	require.NoError(t, os.WriteFile(custom, []byte("mine"), 0644))

	n, err := Install(dir)
	require.NoError(t, err)
	require.Positive(t, n)

	data, err := os.ReadFile(custom)
	require.NoError(t, err)
	require.Equal(t, "mine", string(data))

	require.FileExists(t, filepath.Join(dir, "restrict.txt"))
	require.FileExists(t, filepath.Join(dir, "tool", "write.txt"))
	require.FileExists(t, filepath.Join(dir, "agent", "debugger.txt"))

	again, err := Install(dir)
	require.NoError(t, err)
	require.Zero(t, again)
}

func TestDefault(t *testing.T) {
	text, err := Default("tool/write")
	require.NoError(t, err)
	require.Contains(t, text, `<write path="`)

	_, err = Default("missing")
	require.Error(t, err)
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	require.True(t, s[Tools])
	require.True(t, s[Restrict])
	require.False(t, s[Summarizer])
}
