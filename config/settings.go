// Package config provides application settings loaded from a YAML file and
// environment variables.
//
// Settings are created via Load() which handles:
// - Config file discovery (./tagloop.yaml, ~/.config/tagloop/tagloop.yaml, or --config)
// - TAGLOOP_* environment overrides with default values
// - Provider API key lookup with conventional env var fallback
//
// Runtime edits made through slash commands (/ai, /model, /api) go through
// the Set* methods and are written back with Save.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// DefaultFileName is the config file written by Save when none was loaded.
const DefaultFileName = "tagloop.yaml"

// Settings holds all application configuration.
type Settings struct {
	ActiveSource string            `mapstructure:"active_source"`
	Models       map[string]string `mapstructure:"models"`
	APIKeys      map[string]string `mapstructure:"api_keys"`
	BaseURLs     map[string]string `mapstructure:"base_urls"`
	LLM          LLMConfig         `mapstructure:"llm"`
	Search       SearchConfig      `mapstructure:"search"`
	Loop         LoopConfig        `mapstructure:"loop"`
	Debug        DebugConfig       `mapstructure:"debug"`
	Tools        ToolsConfig       `mapstructure:"tools"`
	Storage      StorageConfig     `mapstructure:"storage"`
	Projects     ProjectsConfig    `mapstructure:"projects"`
	Logging      LoggingConfig     `mapstructure:"logging"`
	Metrics      MetricsConfig     `mapstructure:"metrics"`

	mu sync.Mutex
	v  *viper.Viper
}

// LLMConfig holds generation parameters shared by every source.
type LLMConfig struct {
	MaxTokens   uint32  `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// SearchConfig holds Google Custom Search credentials.
type SearchConfig struct {
	GoogleAPIKey string `mapstructure:"google_api_key"`
	GoogleCSEID  string `mapstructure:"google_cse_id"`
	Results      int    `mapstructure:"results"`
}

// LoopConfig controls the turn coordinator.
type LoopConfig struct {
	// MaxSkipInputTurn caps consecutive model turns without user input.
	// -1 means unbounded.
	MaxSkipInputTurn int `mapstructure:"max_skip_input_turn"`
}

// DebugConfig controls the debug sub-loop.
type DebugConfig struct {
	// MaxIterations caps debug iterations; values <= 0 mean unbounded.
	MaxIterations int `mapstructure:"max_iterations"`
}

// ToolsConfig configures tool executors.
type ToolsConfig struct {
	Python       string        `mapstructure:"python"`
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
	TestTimeout  time.Duration `mapstructure:"test_timeout"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// StorageConfig selects the session backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"` // json or sqlite
	SqlitePath string `mapstructure:"sqlite_path"`
}

// ProjectsConfig locates project directories.
type ProjectsConfig struct {
	Root    string `mapstructure:"root"`
	Default string `mapstructure:"default"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// MetricsConfig enables the prometheus listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Conventional environment variables consulted when api_keys has no entry.
var apiKeyEnv = map[string]string{
	"openai":      "OPENAI_API_KEY",
	"anthropic":   "ANTHROPIC_API_KEY",
	"deepseek":    "DEEPSEEK_API_KEY",
	"gemini":      "GEMINI_API_KEY",
	"siliconflow": "SILICONFLOW_API_KEY",
	"ollama":      "",
}

// Source aliases map to canonical names.
var sourceAliases = map[string]string{
	"openai_api": "openai",
	"gpt":        "openai",
	"claude":     "anthropic",
	"google":     "gemini",
	"silicon":    "siliconflow",
}

// Load reads configuration from path, or discovers tagloop.yaml when path is
// empty. A missing discovered file is not an error: defaults and environment
// variables apply.
// Environment variables override file values (prefix TAGLOOP_, dots replaced
// with underscores).
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TAGLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("tagloop")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "tagloop"))
		}
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	s := &Settings{v: v}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	s.ActiveSource = NormalizeSource(s.ActiveSource)
	s.ensureMaps()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Defaults returns settings built from default values and TAGLOOP_*
// environment variables only, ignoring any config file.
func Defaults() (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TAGLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	s := &Settings{v: v}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	s.ActiveSource = NormalizeSource(s.ActiveSource)
	s.ensureMaps()
	return s, s.Validate()
}

func (s *Settings) ensureMaps() {
	if s.Models == nil {
		s.Models = map[string]string{}
	}
	if s.APIKeys == nil {
		s.APIKeys = map[string]string{}
	}
	if s.BaseURLs == nil {
		s.BaseURLs = map[string]string{}
	}
}

// setDefaults populates defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("active_source", "")
	v.SetDefault("models", map[string]string{})
	v.SetDefault("api_keys", map[string]string{})
	v.SetDefault("base_urls", map[string]string{})

	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("search.google_api_key", "")
	v.SetDefault("search.google_cse_id", "")
	v.SetDefault("search.results", 5)

	v.SetDefault("loop.max_skip_input_turn", -1)
	v.SetDefault("debug.max_iterations", 10)

	v.SetDefault("tools.python", "python")
	v.SetDefault("tools.run_timeout", "60s")
	v.SetDefault("tools.test_timeout", "120s")
	v.SetDefault("tools.fetch_timeout", "10s")

	v.SetDefault("storage.backend", "json")
	v.SetDefault("storage.sqlite_path", ".tagloop/sessions.db")

	v.SetDefault("projects.root", "projects")
	v.SetDefault("projects.default", "default")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("metrics.addr", "")
}

// Validate performs basic sanity checks on configuration values.
func (s *Settings) Validate() error {
	if s.Loop.MaxSkipInputTurn < -1 {
		return fmt.Errorf("invalid value for loop.max_skip_input_turn: %d (must be >= -1)", s.Loop.MaxSkipInputTurn)
	}
	switch strings.ToLower(s.Storage.Backend) {
	case "json", "sqlite":
	default:
		return fmt.Errorf("invalid value for storage.backend: %q (json or sqlite)", s.Storage.Backend)
	}
	switch strings.ToLower(s.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid value for logging.format: %q (console or json)", s.Logging.Format)
	}
	if s.ActiveSource != "" {
		if _, ok := apiKeyEnv[s.ActiveSource]; !ok {
			return fmt.Errorf("unknown source: %q", s.ActiveSource)
		}
	}
	if s.Projects.Root == "" {
		return errors.New("projects.root must not be empty")
	}
	return nil
}

// NormalizeSource converts source aliases and display names to canonical keys.
func NormalizeSource(source string) string {
	source = strings.ToLower(strings.TrimSpace(source))
	if canonical, ok := sourceAliases[source]; ok {
		return canonical
	}
	return source
}

// SupportedSources returns the canonical source keys, sorted.
func SupportedSources() []string {
	result := make([]string, 0, len(apiKeyEnv))
	for name := range apiKeyEnv {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// APIKeyFor returns the API key for a source: the configured value first,
// then the conventional environment variable.
func (s *Settings) APIKeyFor(source string) (string, error) {
	source = NormalizeSource(source)
	envVar, ok := apiKeyEnv[source]
	if !ok {
		return "", fmt.Errorf("unknown source: %q", source)
	}

	s.mu.Lock()
	key := s.APIKeys[source]
	s.mu.Unlock()
	if key != "" {
		return key, nil
	}
	if envVar == "" {
		return "", nil
	}
	if key = os.Getenv(envVar); key == "" {
		return "", fmt.Errorf("%s environment variable not set", envVar)
	}
	return key, nil
}

// ModelFor returns the configured model for a source, or "" for the default.
func (s *Settings) ModelFor(source string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Models[NormalizeSource(source)]
}

// BaseURLFor returns a configured base URL override for a source.
func (s *Settings) BaseURLFor(source string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.BaseURLs[NormalizeSource(source)]
}

// Source returns the active source key.
func (s *Settings) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ActiveSource
}

// SetActiveSource switches the active source.
func (s *Settings) SetActiveSource(source string) error {
	source = NormalizeSource(source)
	if _, ok := apiKeyEnv[source]; !ok {
		return fmt.Errorf("unknown source: %q", source)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ActiveSource = source
	s.set("active_source", source)
	return nil
}

// SetModel sets the model used for the active source.
func (s *Settings) SetModel(model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ActiveSource == "" {
		return errors.New("no active source")
	}
	s.ensureMaps()
	s.Models[s.ActiveSource] = model
	s.set("models."+s.ActiveSource, model)
	return nil
}

// SetAPIKey stores an API key for a source.
func (s *Settings) SetAPIKey(source, key string) error {
	source = NormalizeSource(source)
	if _, ok := apiKeyEnv[source]; !ok {
		return fmt.Errorf("unknown source: %q", source)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureMaps()
	s.APIKeys[source] = key
	s.set("api_keys."+source, key)
	return nil
}

// SetGoogleSearch updates the Custom Search credentials. Empty values are
// left unchanged.
func (s *Settings) SetGoogleSearch(apiKey, cseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if apiKey != "" {
		s.Search.GoogleAPIKey = apiKey
		s.set("search.google_api_key", apiKey)
	}
	if cseID != "" {
		s.Search.GoogleCSEID = cseID
		s.set("search.google_cse_id", cseID)
	}
}

// GoogleSearch returns the Custom Search credentials.
func (s *Settings) GoogleSearch() (apiKey, cseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Search.GoogleAPIKey, s.Search.GoogleCSEID
}

func (s *Settings) set(key string, value any) {
	if s.v != nil {
		s.v.Set(key, value)
	}
}

// Save writes the current settings to the loaded config file, or to
// tagloop.yaml in the working directory when none was loaded.
func (s *Settings) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.v == nil {
		return errors.New("settings were not loaded from viper")
	}
	path := s.v.ConfigFileUsed()
	if path == "" {
		path = DefaultFileName
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := s.v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// MustLoad loads settings and panics on error.
// Use this only when configuration errors should be fatal.
func MustLoad(path string) *Settings {
	s, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return s
}
