package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tagloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	s, err := Defaults()
	require.NoError(t, err)

	require.Equal(t, -1, s.Loop.MaxSkipInputTurn)
	require.Equal(t, 10, s.Debug.MaxIterations)
	require.Equal(t, "python", s.Tools.Python)
	require.Equal(t, 10*time.Second, s.Tools.FetchTimeout)
	require.Equal(t, 120*time.Second, s.Tools.TestTimeout)
	require.Equal(t, "json", s.Storage.Backend)
	require.Equal(t, 5, s.Search.Results)
	require.Equal(t, uint32(4096), s.LLM.MaxTokens)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
active_source: DeepSeek
models:
  deepseek: deepseek-reasoner
api_keys:
  deepseek: sk-file
loop:
  max_skip_input_turn: 3
tools:
  run_timeout: 5s
`)
	s, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "deepseek", s.Source())
	require.Equal(t, "deepseek-reasoner", s.ModelFor("DeepSeek"))
	require.Equal(t, 3, s.Loop.MaxSkipInputTurn)
	require.Equal(t, 5*time.Second, s.Tools.RunTimeout)

	key, err := s.APIKeyFor("deepseek")
	require.NoError(t, err)
	require.Equal(t, "sk-file", key)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "loop:\n  max_skip_input_turn: 3\n")
	t.Setenv("TAGLOOP_LOOP_MAX_SKIP_INPUT_TURN", "7")

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, s.Loop.MaxSkipInputTurn)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"skip below -1", "loop:\n  max_skip_input_turn: -2\n"},
		{"bad backend", "storage:\n  backend: redis\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"unknown source", "active_source: bard\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestAPIKeyFallsBackToEnv(t *testing.T) {
	s, err := Defaults()
	require.NoError(t, err)

	t.Setenv("SILICONFLOW_API_KEY", "sk-env")
	key, err := s.APIKeyFor("SiliconFlow")
	require.NoError(t, err)
	require.Equal(t, "sk-env", key)

	t.Setenv("OPENAI_API_KEY", "")
	_, err = s.APIKeyFor("OpenAI_API")
	require.Error(t, err)

	key, err = s.APIKeyFor("ollama")
	require.NoError(t, err)
	require.Empty(t, key)

	_, err = s.APIKeyFor("bard")
	require.Error(t, err)
}

func TestSettersAndSave(t *testing.T) {
	path := writeConfig(t, "active_source: ollama\n")
	s, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, s.SetActiveSource("SiliconFlow"))
	require.NoError(t, s.SetModel("Qwen/Qwen2.5-Coder-32B-Instruct"))
	require.NoError(t, s.SetAPIKey("deepseek", "sk-saved"))
	s.SetGoogleSearch("g-key", "")
	require.Error(t, s.SetActiveSource("bard"))
	require.NoError(t, s.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "siliconflow", reloaded.Source())
	require.Equal(t, "Qwen/Qwen2.5-Coder-32B-Instruct", reloaded.ModelFor("siliconflow"))
	key, err := reloaded.APIKeyFor("deepseek")
	require.NoError(t, err)
	require.Equal(t, "sk-saved", key)
	apiKey, cse := reloaded.GoogleSearch()
	require.Equal(t, "g-key", apiKey)
	require.Empty(t, cse)
}
