// Package config provides configuration management for clipvault.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// DefaultDaemonPort is the default HTTP port for the clipvaultd command surface.
const DefaultDaemonPort = 47777

// ModelFileName is the fixed filename of the downloaded embedding model in app data.
const ModelFileName = "embeddinggemma-300m-Q8_0.gguf"

// DefaultModelURL is the default source for the embedding model blob.
const DefaultModelURL = "https://huggingface.co/google/embeddinggemma-300m/resolve/main/embeddinggemma-300m-Q8_0.gguf"

// Config holds the application configuration.
type Config struct {
	DBPath   string `json:"db_path"`
	ModelURL string `json:"model_url"`

	DaemonPort int `json:"daemon_port"`
	MaxConns   int `json:"max_conns"`

	SemanticSearchEnabled bool `json:"semantic_search_enabled"`

	EmbeddingDim       int `json:"embedding_dim"`        // D, after Matryoshka truncation
	EmbeddingDimNative int `json:"embedding_dim_native"` // D_native, the model's raw output size
	MaxTokens          int `json:"max_tokens"`

	IndexCapacity   int     `json:"index_capacity"`
	SearchThreshold float64 `json:"search_threshold"`

	BatchSize int `json:"batch_size"`

	MinModelSize int64 `json:"min_model_size"`

	EpsNorm float64 `json:"eps_norm"`
	EpsZero float64 `json:"eps_zero"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.clipvault).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".clipvault")
}

// DBPath returns the database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "clipvault.db")
}

// ModelPath returns the path of the downloaded embedding model file.
func ModelPath() string {
	return filepath.Join(DataDir(), ModelFileName)
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
// Uses 0700 permissions (owner-only) for security.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()

	if _, err := os.Stat(path); err == nil {
		return nil // File exists
	}

	defaultSettings := `{
  "CLIPVAULT_DAEMON_PORT": 47777,
  "CLIPVAULT_SEMANTIC_SEARCH_ENABLED": true,
  "CLIPVAULT_SEARCH_THRESHOLD": 0.25
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values, one field per constant
// named in spec.md §6.
func Default() *Config {
	return &Config{
		DBPath:   DBPath(),
		ModelURL: DefaultModelURL,
		MaxConns: 4,

		DaemonPort: DefaultDaemonPort,

		SemanticSearchEnabled: true,

		EmbeddingDim:       256,
		EmbeddingDimNative: 384,
		MaxTokens:          512,

		IndexCapacity:   50000,
		SearchThreshold: 0.25, // midpoint of the documented [0.2, 0.3] range

		BatchSize: 100,

		MinModelSize: 100 * 1024 * 1024, // 100 MiB

		EpsNorm: 1e-4,
		EpsZero: 1e-12,
	}
}

// Load loads configuration from the settings file, merging with defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	// Load settings into a map to preserve unknown fields.
	var settings map[string]interface{}
	if err := json.Unmarshal(data, &settings); err != nil {
		return cfg, nil // Return defaults on parse error
	}

	if v, ok := settings["CLIPVAULT_DAEMON_PORT"].(float64); ok && v > 0 {
		cfg.DaemonPort = int(v)
	}
	if v, ok := settings["CLIPVAULT_DB_PATH"].(string); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := settings["CLIPVAULT_MODEL_URL"].(string); ok && v != "" {
		cfg.ModelURL = v
	}
	if v, ok := settings["CLIPVAULT_SEMANTIC_SEARCH_ENABLED"].(bool); ok {
		cfg.SemanticSearchEnabled = v
	}
	if v, ok := settings["CLIPVAULT_SEARCH_THRESHOLD"].(float64); ok && v >= 0 && v <= 1 {
		cfg.SearchThreshold = v
	}
	if v, ok := settings["CLIPVAULT_INDEX_CAPACITY"].(float64); ok && v > 0 {
		cfg.IndexCapacity = int(v)
	}
	if v, ok := settings["CLIPVAULT_EMBEDDING_DIM"].(float64); ok && v > 0 {
		cfg.EmbeddingDim = int(v)
	}
	if v, ok := settings["CLIPVAULT_BATCH_SIZE"].(float64); ok && v > 0 {
		cfg.BatchSize = int(v)
	}
	if v, ok := settings["CLIPVAULT_MAX_CONNS"].(float64); ok && v > 0 {
		cfg.MaxConns = int(v)
	}

	return cfg, nil
}

// Get returns the global configuration, loading it lazily.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// GetDaemonPort returns the daemon port from the environment or config.
func GetDaemonPort() int {
	if port := os.Getenv("CLIPVAULT_DAEMON_PORT"); port != "" {
		var p int
		if err := json.Unmarshal([]byte(port), &p); err == nil && p > 0 {
			return p
		}
	}
	return Get().DaemonPort
}
