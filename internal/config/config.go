package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Intelligence selects and configures the content-intelligence collaborator.
type Intelligence struct {
	// Provider is "local" (offline heuristics, the default) or "openai"
	// (any OpenAI-compatible HTTP endpoint).
	Provider string `json:"provider,omitempty"`

	BaseURL    string `json:"base_url,omitempty"`
	ChatModel  string `json:"chat_model,omitempty"`
	EmbedModel string `json:"embed_model,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself is never written to config.
	APIKeyEnv string `json:"api_key_env,omitempty"`
}

// Config holds application configuration.
type Config struct {
	// EmbedDims is the dimensionality of every vector written to the vector store.
	EmbedDims int `json:"embed_dims"`

	// SnippetChars is how many runes of file content go into a file's embedding text.
	SnippetChars int `json:"snippet_chars"`

	// FallbackScore is the score given to file hits found by text search
	// rather than by vector similarity.
	FallbackScore float64 `json:"fallback_score"`

	// HashFullThresholdBytes is the size below which the guard hashes the whole file.
	HashFullThresholdBytes int64 `json:"hash_full_threshold_bytes"`

	// HashSampleBytes is the size of the head and tail samples hashed for large files.
	HashSampleBytes int64 `json:"hash_sample_bytes"`

	// ExtractMaxChars caps extracted text; longer text keeps its head and tail.
	ExtractMaxChars int `json:"extract_max_chars"`

	// ReconcileConcurrency bounds the number of records re-embedded in parallel.
	ReconcileConcurrency int `json:"reconcile_concurrency"`

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`

	Intelligence Intelligence `json:"intelligence"`

	// AllowedPaths is an allowlist of directories for export and import files.
	// Paths outside ~/.cairn/exports require either being in this list or AllowUnsafePaths=true.
	// Relative paths are ignored.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 1 serializes all access. 0 means use the sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool groups to disable entirely.
	// Known types: "record", "file", "checkpoint", "cache", "store".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		EmbedDims:              256,
		SnippetChars:           1000,
		FallbackScore:          0.5,
		HashFullThresholdBytes: 10 << 20,
		HashSampleBytes:        1 << 20,
		ExtractMaxChars:        50000,
		ReconcileConcurrency:   4,
		LogLevel:               "warn",
		Intelligence: Intelligence{
			Provider:   "local",
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
			APIKeyEnv:  "OPENAI_API_KEY",
		},
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.cairn.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.cairn) and repo (.cairn) directories.
// Repo config is found by walking upward from startDir.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .cairn/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".cairn", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw returns a zero-valued config (not defaults) when the file is missing.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
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

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		EmbedDims:              pickInt(overlay.EmbedDims, base.EmbedDims),
		SnippetChars:           pickInt(overlay.SnippetChars, base.SnippetChars),
		ExtractMaxChars:        pickInt(overlay.ExtractMaxChars, base.ExtractMaxChars),
		ReconcileConcurrency:   pickInt(overlay.ReconcileConcurrency, base.ReconcileConcurrency),
		DBMaxOpenConns:         pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:         pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
		HashFullThresholdBytes: pickInt64(overlay.HashFullThresholdBytes, base.HashFullThresholdBytes),
		HashSampleBytes:        pickInt64(overlay.HashSampleBytes, base.HashSampleBytes),
		LogLevel:               pickString(overlay.LogLevel, base.LogLevel),
		Intelligence: Intelligence{
			Provider:   pickString(overlay.Intelligence.Provider, base.Intelligence.Provider),
			BaseURL:    pickString(overlay.Intelligence.BaseURL, base.Intelligence.BaseURL),
			ChatModel:  pickString(overlay.Intelligence.ChatModel, base.Intelligence.ChatModel),
			EmbedModel: pickString(overlay.Intelligence.EmbedModel, base.Intelligence.EmbedModel),
			APIKeyEnv:  pickString(overlay.Intelligence.APIKeyEnv, base.Intelligence.APIKeyEnv),
		},
	}

	result.FallbackScore = overlay.FallbackScore
	if result.FallbackScore == 0 {
		result.FallbackScore = base.FallbackScore
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickInt64(overlay, base int64) int64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
