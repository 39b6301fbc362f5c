package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete docindex configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Retrieve   RetrieveConfig   `yaml:"retrieve" json:"retrieve"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// StoreConfig configures the SQLite store backing the document DAG.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// EmbeddingsConfig configures the embedding provider used by
// build_embeddings and retrieve_with_embeddings.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend: "static" (deterministic,
	// no network) or "http" (calls HTTPBaseURL).
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`

	// HTTPBaseURL is the embedding endpoint used when Provider is "http".
	HTTPBaseURL string `yaml:"http_base_url" json:"http_base_url"`

	// APIKeyEnv names the environment variable holding the API key for
	// the http provider. The key itself is never stored in config.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
}

// RetrieveConfig configures default hybrid-retrieval parameters.
type RetrieveConfig struct {
	DefaultAlpha float64 `yaml:"default_alpha" json:"default_alpha"`
	BM25K        int     `yaml:"bm25_k" json:"bm25_k"`
	VectorK      int     `yaml:"vector_k" json:"vector_k"`
}

// ServerConfig configures operator-facing logging.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Path: "./docindex.db",
		},
		Embeddings: EmbeddingsConfig{
			Provider:    "static",
			Model:       "static-v1",
			HTTPBaseURL: "",
			APIKeyEnv:   "DOCINDEX_EMBEDDINGS_API_KEY",
		},
		Retrieve: RetrieveConfig{
			DefaultAlpha: 0.5,
			BM25K:        200,
			VectorK:      500,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration
// file. It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/docindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "docindex", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the project rooted at dir, applying
// layers of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/docindex/config.yaml)
//  3. Project config (docindex.yaml in dir)
//  4. Environment variables (DOCINDEX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from docindex.yaml or
// docindex.yml in dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, "docindex.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, "docindex.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.HTTPBaseURL != "" {
		c.Embeddings.HTTPBaseURL = other.Embeddings.HTTPBaseURL
	}
	if other.Embeddings.APIKeyEnv != "" {
		c.Embeddings.APIKeyEnv = other.Embeddings.APIKeyEnv
	}

	if other.Retrieve.DefaultAlpha != 0 {
		c.Retrieve.DefaultAlpha = other.Retrieve.DefaultAlpha
	}
	if other.Retrieve.BM25K != 0 {
		c.Retrieve.BM25K = other.Retrieve.BM25K
	}
	if other.Retrieve.VectorK != 0 {
		c.Retrieve.VectorK = other.Retrieve.VectorK
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies DOCINDEX_* environment variable overrides.
// DOCINDEX_EMBEDDINGS_API_KEY is deliberately not mirrored into c:
// it names the secret's value, not a config field, and is read directly
// by the embedding provider factory via Embeddings.APIKeyEnv.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCINDEX_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("DOCINDEX_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.HTTPBaseURL = v
	}
	if v := os.Getenv("DOCINDEX_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCINDEX_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCINDEX_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("DOCINDEX_RETRIEVE_ALPHA"); v != "" {
		if a, err := parseFloat64(v); err == nil && a >= 0 && a <= 1 {
			c.Retrieve.DefaultAlpha = a
		}
	}
	if v := os.Getenv("DOCINDEX_RETRIEVE_BM25_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieve.BM25K = k
		}
	}
	if v := os.Getenv("DOCINDEX_RETRIEVE_VECTOR_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieve.VectorK = k
		}
	}
}

// EffectiveEmbeddingsProvider resolves the provider to actually
// construct: falls back to "static" when Provider is "http" but no key
// is present at Embeddings.APIKeyEnv.
func (c *Config) EffectiveEmbeddingsProvider() string {
	if c.Embeddings.Provider != "http" {
		return c.Embeddings.Provider
	}
	if strings.TrimSpace(os.Getenv(c.Embeddings.APIKeyEnv)) == "" {
		return "static"
	}
	return "http"
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindProjectRoot finds the project root directory by walking up from
// startDir looking for a .git directory or a docindex.yaml/yml file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, "docindex.yaml")) ||
			fileExists(filepath.Join(currentDir, "docindex.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	validProviders := map[string]bool{"static": true, "http": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'static' or 'http', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "http" && c.Embeddings.HTTPBaseURL == "" {
		return fmt.Errorf("embeddings.http_base_url is required when embeddings.provider is 'http'")
	}

	if c.Retrieve.DefaultAlpha < 0 || c.Retrieve.DefaultAlpha > 1 {
		return fmt.Errorf("retrieve.default_alpha must be between 0 and 1, got %f", c.Retrieve.DefaultAlpha)
	}
	if c.Retrieve.BM25K <= 0 {
		return fmt.Errorf("retrieve.bm25_k must be positive, got %d", c.Retrieve.BM25K)
	}
	if c.Retrieve.VectorK <= 0 {
		return fmt.Errorf("retrieve.vector_k must be positive, got %d", c.Retrieve.VectorK)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing
// values. Returns the list of field names that were added with their
// default values, for upgrade-path reporting.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Retrieve.DefaultAlpha == 0 {
		c.Retrieve.DefaultAlpha = defaults.Retrieve.DefaultAlpha
		added = append(added, "retrieve.default_alpha")
	}
	if c.Retrieve.BM25K == 0 {
		c.Retrieve.BM25K = defaults.Retrieve.BM25K
		added = append(added, "retrieve.bm25_k")
	}
	if c.Retrieve.VectorK == 0 {
		c.Retrieve.VectorK = defaults.Retrieve.VectorK
		added = append(added, "retrieve.vector_k")
	}
	if c.Embeddings.APIKeyEnv == "" {
		c.Embeddings.APIKeyEnv = defaults.Embeddings.APIKeyEnv
		added = append(added, "embeddings.api_key_env")
	}

	return added
}
