package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	// Endpoint is the base URL of the local inference server (Ollama API).
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Preset selects the model size: "tiny" or "medium".
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty"`

	// Model overrides the preset's model tag (e.g. a custom Ollama model).
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// MaxTokens is the token ceiling for the whole request, preamble included.
	// 0 means the preset's context window minus its generation reserve.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// ReservedForPreamble fixes the preamble's token cost.
	// 0 means measure the rendered preamble with the active tokenizer.
	ReservedForPreamble int `json:"reserved_for_preamble,omitempty" yaml:"reserved_for_preamble,omitempty"`

	// HeadFraction is the share of the usable budget kept from the start of the
	// oldest entry. 0 keeps only the tail.
	HeadFraction *float64 `json:"head_fraction,omitempty" yaml:"head_fraction,omitempty"`

	// IncludeHeaders prefixes each entry with its command line and timestamp.
	IncludeHeaders *bool `json:"include_headers,omitempty" yaml:"include_headers,omitempty"`

	// Tokenizer names the token counter: a tiktoken encoding or "heuristic".
	Tokenizer string `json:"tokenizer,omitempty" yaml:"tokenizer,omitempty"`

	// RetentionMaxEntries caps the number of stored entries (0 = unlimited).
	RetentionMaxEntries *int `json:"retention_max_entries,omitempty" yaml:"retention_max_entries,omitempty"`

	// RetentionMaxAgeDays removes entries older than N days (0 = unlimited).
	RetentionMaxAgeDays *int `json:"retention_max_age_days,omitempty" yaml:"retention_max_age_days,omitempty"`

	// CompressThresholdBytes is the body size from which entries are stored zstd-compressed.
	CompressThresholdBytes int `json:"compress_threshold_bytes,omitempty" yaml:"compress_threshold_bytes,omitempty"`

	// IgnoredCommands lists commands whose output is never recorded.
	IgnoredCommands []string `json:"ignored_commands,omitempty" yaml:"ignored_commands,omitempty"`

	// PromptTemplate replaces the built-in chat template. {{LOG_TEXT}} marks where
	// the captured output goes.
	PromptTemplate string `json:"prompt_template,omitempty" yaml:"prompt_template,omitempty"`

	// RequestTimeoutSeconds bounds a single generation request.
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty" yaml:"request_timeout_seconds,omitempty"`

	// Logging
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"`
	LogOutput string `json:"log_output,omitempty" yaml:"log_output,omitempty"`

	// DBMaxOpenConns limits open connections to the metadata index.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" yaml:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits idle connections to the metadata index.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" yaml:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty" yaml:"disabled_tools,omitempty"`
}

// DefaultIgnoredCommands are navigation and listing commands not worth analyzing.
var DefaultIgnoredCommands = []string{"cd", "ls", "ll", "la", "pwd", "clear", "exit", "history", "logtrains"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	includeHeaders := true
	headFraction := 0.15
	maxEntries, maxAgeDays := 200, 30
	return &Config{
		Endpoint:               "http://localhost:11434",
		Preset:                 "tiny",
		HeadFraction:           &headFraction,
		IncludeHeaders:         &includeHeaders,
		Tokenizer:              "cl100k_base",
		RetentionMaxEntries:    &maxEntries,
		RetentionMaxAgeDays:    &maxAgeDays,
		CompressThresholdBytes: 64 * 1024,
		IgnoredCommands:        DefaultIgnoredCommands,
		RequestTimeoutSeconds:  300,
		LogLevel:               "warn",
		LogFormat:              "console",
		LogOutput:              "stderr",
	}
}

// Headers reports whether entry headers are enabled.
func (c *Config) Headers() bool {
	return c.IncludeHeaders == nil || *c.IncludeHeaders
}

// HeadShare returns the configured head fraction, or ok=false when unset.
func (c *Config) HeadShare() (float64, bool) {
	if c.HeadFraction == nil {
		return 0, false
	}
	return *c.HeadFraction, true
}

// MaxEntries returns the entry cap; 0 is unlimited.
func (c *Config) MaxEntries() int {
	if c.RetentionMaxEntries == nil {
		return 0
	}
	return *c.RetentionMaxEntries
}

// MaxAgeDays returns the age limit in days; 0 is unlimited.
func (c *Config) MaxAgeDays() int {
	if c.RetentionMaxAgeDays == nil {
		return 0
	}
	return *c.RetentionMaxAgeDays
}

// BaseDir returns $LOGTRAINS_HOME, or ~/.logtrains.
func BaseDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("LOGTRAINS_HOME")); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".logtrains"), nil
}

// Load loads configuration from baseDir (config.yaml or config.json).
// Returns default config if no file exists.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.logtrains.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadDirRaw(baseDir)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// LoadWithRepo loads configuration from both global (~/.logtrains) and repo (.logtrains) directories.
// Repo config is found by walking upward from startDir.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Environment overrides are applied last, after loading .env files from
// globalDir and startDir.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadDirRaw(globalDir)
	if err != nil {
		return nil, err
	}

	repo := &Config{}
	if repoDir := FindRepoConfig(startDir); repoDir != "" {
		repo, err = loadDirRaw(repoDir)
		if err != nil {
			return nil, err
		}
	}

	// godotenv.Load never overrides variables already set in the environment.
	for _, envFile := range []string{filepath.Join(globalDir, ".env"), filepath.Join(startDir, ".env")} {
		if _, statErr := os.Stat(envFile); statErr == nil {
			_ = godotenv.Load(envFile)
		}
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .logtrains
// directory holding a config file. Returns the directory, or empty string.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		candidate := filepath.Join(dir, ".logtrains")
		for _, name := range []string{"config.yaml", "config.json"} {
			if _, err := os.Stat(filepath.Join(candidate, name)); err == nil {
				return candidate
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ApplyEnv overlays LOGTRAINS_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("LOGTRAINS_ENDPOINT")); v != "" {
		cfg.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("LOGTRAINS_PRESET")); v != "" {
		cfg.Preset = v
	}
	if v := strings.TrimSpace(os.Getenv("LOGTRAINS_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("LOGTRAINS_MAX_TOKENS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return errors.New("LOGTRAINS_MAX_TOKENS must be a non-negative integer")
		}
		cfg.MaxTokens = n
	}
	return nil
}

// loadDirRaw loads config.yaml or config.json from dir.
// Returns zero-valued config if neither exists (not defaults).
func loadDirRaw(dir string) (*Config, error) {
	yamlPath := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(yamlPath)
	if err == nil {
		cfg := &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return loadFileRaw(filepath.Join(dir, "config.json"))
}

// loadFileRaw loads JSON configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.Endpoint = pickString(overlay.Endpoint, base.Endpoint)
	result.Preset = pickString(overlay.Preset, base.Preset)
	result.Model = pickString(overlay.Model, base.Model)
	result.Tokenizer = pickString(overlay.Tokenizer, base.Tokenizer)
	result.PromptTemplate = pickString(overlay.PromptTemplate, base.PromptTemplate)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)
	result.LogOutput = pickString(overlay.LogOutput, base.LogOutput)

	result.MaxTokens = pickInt(overlay.MaxTokens, base.MaxTokens)
	result.ReservedForPreamble = pickInt(overlay.ReservedForPreamble, base.ReservedForPreamble)
	result.CompressThresholdBytes = pickInt(overlay.CompressThresholdBytes, base.CompressThresholdBytes)
	result.RequestTimeoutSeconds = pickInt(overlay.RequestTimeoutSeconds, base.RequestTimeoutSeconds)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Pointers: overlay wins if set, so an explicit 0 or false survives
	result.HeadFraction = pickPtr(overlay.HeadFraction, base.HeadFraction)
	result.RetentionMaxEntries = pickPtr(overlay.RetentionMaxEntries, base.RetentionMaxEntries)
	result.RetentionMaxAgeDays = pickPtr(overlay.RetentionMaxAgeDays, base.RetentionMaxAgeDays)
	result.IncludeHeaders = pickPtr(overlay.IncludeHeaders, base.IncludeHeaders)

	// Arrays: merge and deduplicate
	result.IgnoredCommands = mergeStringSlice(base.IgnoredCommands, overlay.IgnoredCommands)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickPtr[T any](overlay, base *T) *T {
	if overlay != nil {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
