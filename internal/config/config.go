// Package config loads deepscout configuration from YAML with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all deepscout configuration.
type Config struct {
	// LLM configures the text-completion capability.
	LLM LLMConfig `yaml:"llm"`

	// Embedding configures the vector embedding engine.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Research configures the search control loop.
	Research ResearchConfig `yaml:"research"`

	// Cleaner configures the content cleaning stage.
	Cleaner CleanerConfig `yaml:"cleaner"`

	// Fetch configures page fetching.
	Fetch FetchConfig `yaml:"fetch"`

	// Paths configures on-disk locations.
	Paths PathsConfig `yaml:"paths"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`
}

// LLMConfig configures the completion backend.
type LLMConfig struct {
	Provider       string `yaml:"provider"` // genai, ollama
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // genai, ollama
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
}

// ResearchConfig configures the orchestrator loop.
type ResearchConfig struct {
	MaxResults       int     `yaml:"max_results"`
	MaxCycles        int     `yaml:"max_cycles"`
	LinkThreshold    float64 `yaml:"link_threshold"`
	ContentThreshold float64 `yaml:"content_threshold"`
	ResultsPerQuery  int     `yaml:"results_per_query"`
}

// CleanerConfig configures block cleaning.
type CleanerConfig struct {
	BlockSize int `yaml:"block_size"`
	Workers   int `yaml:"workers"`
}

// FetchConfig configures page fetching.
type FetchConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
	UseBrowser     bool   `yaml:"use_browser"`
}

// PathsConfig configures on-disk layout. All paths are resolved relative to
// DataDir unless absolute.
type PathsConfig struct {
	DataDir  string `yaml:"data_dir"`
	CacheDir string `yaml:"cache_dir"`
	IndexDir string `yaml:"index_dir"`
	LogDir   string `yaml:"log_dir"`
	TaskFile string `yaml:"task_file"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Provider:       "genai",
			Model:          "gemini-2.0-flash",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "llama3.1",
		},
		Embedding: EmbeddingConfig{
			Provider:       "genai",
			Model:          "gemini-embedding-001",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
		},
		Research: ResearchConfig{
			MaxResults:       5,
			MaxCycles:        3,
			LinkThreshold:    0.7,
			ContentThreshold: 0.7,
			ResultsPerQuery:  10,
		},
		Cleaner: CleanerConfig{
			BlockSize: 5000,
			Workers:   5,
		},
		Fetch: FetchConfig{
			TimeoutSeconds: 60,
			UserAgent:      "deepscout/1.0 (research agent)",
		},
		Paths: PathsConfig{
			DataDir:  ".scout",
			CacheDir: "cache",
			IndexDir: "rag",
			LogDir:   "logs",
			TaskFile: "research.json",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8270",
		},
	}
}

// Load reads config from path, merging over defaults. A missing file is not
// an error: defaults plus environment overrides are returned.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets secrets come from the environment instead of the
// YAML file.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("SCOUT_GENAI_API_KEY"); key != "" {
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = key
		}
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
	}
	if provider := os.Getenv("SCOUT_LLM_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if dir := os.Getenv("SCOUT_DATA_DIR"); dir != "" {
		cfg.Paths.DataDir = dir
	}
}

// CachePath returns the resolved content cache directory.
func (c Config) CachePath() string { return c.resolve(c.Paths.CacheDir) }

// IndexPath returns the resolved retrieval index root.
func (c Config) IndexPath() string { return c.resolve(c.Paths.IndexDir) }

// LogPath returns the resolved job log directory.
func (c Config) LogPath() string { return c.resolve(c.Paths.LogDir) }

// TaskFilePath returns the resolved task data file.
func (c Config) TaskFilePath() string { return c.resolve(c.Paths.TaskFile) }

func (c Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.DataDir, p)
}
