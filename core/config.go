// Package core holds process-wide configuration, exit codes and build
// metadata for diffusion_backend.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Pipeline backends.
const (
	BackendLocal  = "local"
	BackendOpenAI = "openai"
)

// ConfigFileEnvVar names the optional YAML file whose values sit beneath
// the environment.
const ConfigFileEnvVar = "CONFIG_FILE"

// Config is the complete service configuration.
type Config struct {
	Host     string
	Port     int
	DevMode  bool
	LogLevel string
	LogFile  string

	// Backend selects the pipeline loader: BackendLocal or BackendOpenAI.
	Backend     string
	ModelPath   string
	ModelURL    string
	ModelSHA256 string
	Threads     int

	AdapterDir        string
	AdapterWeightName string

	GenerationTimeout        time.Duration
	ArtifactCacheWarnEntries int

	HistoryDBPath  string
	HistoryEnabled bool
	// HistoryRetentionDays bounds stored history; 0 keeps it forever.
	HistoryRetentionDays int

	OpenAIAPIKey     string
	ImageAPIURL      string
	OpenAIImageModel string

	// APITokenHash is a bcrypt hash. When set, POST routes require a
	// matching bearer token.
	APITokenHash string

	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	// Source is the CONFIG_FILE that was read, if any.
	Source string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Host:                     "127.0.0.1",
		Port:                     5000,
		LogLevel:                 "info",
		LogFile:                  filepath.Join("logs", "diffusion.log"),
		Backend:                  BackendLocal,
		ModelPath:                filepath.Join("models", "sd-v1-5.safetensors"),
		AdapterDir:               "lora",
		AdapterWeightName:        "pytorch_lora_weights.safetensors",
		GenerationTimeout:        5 * time.Minute,
		ArtifactCacheWarnEntries: 1000,
		HistoryDBPath:            filepath.Join("data", "history.db"),
		HistoryEnabled:           true,
		HistoryRetentionDays:     30,
		OpenAIImageModel:         "dall-e-2",
		ShutdownTimeout:          30 * time.Second,
		ReadTimeout:              30 * time.Second,
		WriteTimeout:             10 * time.Minute,
	}
}

// LoadConfig reads CONFIG_FILE (when set) and the environment, the
// environment taking precedence, and validates the result.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(EnvLookup)
}

// LoadConfigFrom is LoadConfig over an arbitrary primary source.
func LoadConfigFrom(primary Lookup) (*Config, error) {
	src := primary
	path := primary(ConfigFileEnvVar)
	if path != "" {
		values, err := ReadConfigFile(path)
		if err != nil {
			return nil, err
		}
		src = Overlay(primary, MapLookup(values))
	}

	cfg, err := parseConfig(src)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseConfig(src Lookup) (*Config, error) {
	cfg := DefaultConfig()
	var errs []error
	intVal := func(key string, dst *int) {
		v, err := src.Int(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	boolVal := func(key string, dst *bool) {
		v, err := src.Bool(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	secondsVal := func(key string, dst *time.Duration) {
		v, err := src.Seconds(key, *dst)
		errs = append(errs, err)
		*dst = v
	}

	cfg.Host = src.String("HOST", cfg.Host)
	intVal("PORT", &cfg.Port)
	boolVal("DEV_MODE", &cfg.DevMode)
	cfg.LogLevel = src.String("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = src.String("LOG_FILE", cfg.LogFile)

	cfg.Backend = strings.ToLower(src.String("PIPELINE_BACKEND", cfg.Backend))
	cfg.ModelPath = src.String("SD_MODEL_PATH", cfg.ModelPath)
	cfg.ModelURL = src.String("SD_MODEL_URL", cfg.ModelURL)
	cfg.ModelSHA256 = strings.ToLower(src.String("SD_MODEL_SHA256", cfg.ModelSHA256))
	intVal("SD_THREADS", &cfg.Threads)

	cfg.AdapterDir = src.String("ADAPTER_DIR", cfg.AdapterDir)
	cfg.AdapterWeightName = src.String("ADAPTER_WEIGHT_NAME", cfg.AdapterWeightName)

	secondsVal("GENERATION_TIMEOUT_SECONDS", &cfg.GenerationTimeout)
	intVal("ARTIFACT_CACHE_WARN_ENTRIES", &cfg.ArtifactCacheWarnEntries)

	cfg.HistoryDBPath = src.String("HISTORY_DB_PATH", cfg.HistoryDBPath)
	boolVal("HISTORY_ENABLED", &cfg.HistoryEnabled)
	intVal("HISTORY_RETENTION_DAYS", &cfg.HistoryRetentionDays)

	cfg.OpenAIAPIKey = src.String("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.ImageAPIURL = src.String("IMAGE_API_URL", cfg.ImageAPIURL)
	cfg.OpenAIImageModel = src.String("OPENAI_IMAGE_MODEL", cfg.OpenAIImageModel)
	cfg.APITokenHash = src.String("API_TOKEN_HASH", cfg.APITokenHash)

	secondsVal("SHUTDOWN_TIMEOUT_SECONDS", &cfg.ShutdownTimeout)
	secondsVal("READ_TIMEOUT_SECONDS", &cfg.ReadTimeout)
	secondsVal("WRITE_TIMEOUT_SECONDS", &cfg.WriteTimeout)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. It does not touch the disk;
// model presence is a preflight concern.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort(c.Port)
	}
	switch c.Backend {
	case BackendLocal:
		if c.ModelPath == "" {
			return ErrMissingConfig("SD_MODEL_PATH", "Point it at the base checkpoint")
		}
	case BackendOpenAI:
		if c.OpenAIAPIKey == "" {
			return &ConfigError{
				Code:    ErrCodeMissingAPIKey,
				Message: "OPENAI_API_KEY is required for the openai backend",
				Action:  "Set OPENAI_API_KEY or use PIPELINE_BACKEND=local",
			}
		}
	default:
		return ErrInvalidBackend(c.Backend)
	}
	if c.AdapterWeightName == "" {
		return ErrMissingConfig("ADAPTER_WEIGHT_NAME", "Name the adapter weight file inside ADAPTER_DIR")
	}
	if c.GenerationTimeout <= 0 {
		return ErrInvalidValue("GENERATION_TIMEOUT_SECONDS", c.GenerationTimeout.String(), "a positive number of seconds")
	}
	if c.Threads < 0 {
		return ErrInvalidValue("SD_THREADS", fmt.Sprint(c.Threads), "zero (auto) or a positive count")
	}
	if c.HistoryRetentionDays < 0 {
		return ErrInvalidValue("HISTORY_RETENTION_DAYS", fmt.Sprint(c.HistoryRetentionDays), "zero (keep forever) or a number of days")
	}
	if c.HistoryEnabled && c.HistoryDBPath == "" {
		return ErrMissingConfig("HISTORY_DB_PATH", "Set a database path or HISTORY_ENABLED=false")
	}
	if c.APITokenHash != "" {
		if _, err := bcrypt.Cost([]byte(c.APITokenHash)); err != nil {
			return ErrInvalidTokenHash()
		}
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AdapterPath is the full path of the fine-tuned adapter weights.
func (c *Config) AdapterPath() string {
	return filepath.Join(c.AdapterDir, c.AdapterWeightName)
}

// HistoryRetention is the retention window, or 0 to keep everything.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

// AuthEnabled reports whether POST routes require a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.APITokenHash != ""
}

// ReadConfigFile loads a flat YAML mapping of setting names to scalar
// values. Keys are matched case-insensitively against the env var names.
//
//	port: 8080
//	adapter_dir: ./lora
//	history_enabled: false
func ReadConfigFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrConfigFile(path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, ErrConfigFile(path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return nil, ErrConfigFile(path, fmt.Errorf("%s must be a scalar", k))
		case nil:
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}
