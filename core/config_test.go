package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func mapSource(kv map[string]string) Lookup { return MapLookup(kv) }

func TestLoadConfigFrom_Defaults(t *testing.T) {
	cfg, err := LoadConfigFrom(mapSource(nil))
	if err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:5000" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if cfg.Backend != BackendLocal || !cfg.HistoryEnabled || cfg.AuthEnabled() {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.AdapterPath() != filepath.Join("lora", "pytorch_lora_weights.safetensors") {
		t.Errorf("AdapterPath() = %q", cfg.AdapterPath())
	}
	if cfg.GenerationTimeout != 5*time.Minute {
		t.Errorf("GenerationTimeout = %v", cfg.GenerationTimeout)
	}
}

func TestLoadConfigFrom_ParsesEveryKey(t *testing.T) {
	cfg, err := LoadConfigFrom(mapSource(map[string]string{
		"HOST":                        "0.0.0.0",
		"PORT":                        "8080",
		"DEV_MODE":                    "yes",
		"LOG_LEVEL":                   "debug",
		"LOG_FILE":                    "/var/log/sd.log",
		"PIPELINE_BACKEND":            "OpenAI",
		"SD_MODEL_PATH":               "/models/base.safetensors",
		"SD_MODEL_URL":                "https://example.com/base.safetensors",
		"SD_MODEL_SHA256":             "ABCDEF",
		"SD_THREADS":                  "8",
		"ADAPTER_DIR":                 "/lora",
		"ADAPTER_WEIGHT_NAME":         "w.safetensors",
		"GENERATION_TIMEOUT_SECONDS":  "90",
		"ARTIFACT_CACHE_WARN_ENTRIES": "50",
		"HISTORY_DB_PATH":             "/data/h.db",
		"HISTORY_ENABLED":             "off",
		"HISTORY_RETENTION_DAYS":      "7",
		"OPENAI_API_KEY":              "sk-test",
		"IMAGE_API_URL":               "https://example.openai.azure.com",
		"OPENAI_IMAGE_MODEL":          "dall-e-3",
		"SHUTDOWN_TIMEOUT_SECONDS":    "5",
		"READ_TIMEOUT_SECONDS":        "2m",
		"WRITE_TIMEOUT_SECONDS":       "600",
	}))
	if err != nil {
		t.Fatal(err)
	}

	want := Config{
		Host: "0.0.0.0", Port: 8080, DevMode: true, LogLevel: "debug", LogFile: "/var/log/sd.log",
		Backend: BackendOpenAI, ModelPath: "/models/base.safetensors",
		ModelURL: "https://example.com/base.safetensors", ModelSHA256: "abcdef", Threads: 8,
		AdapterDir: "/lora", AdapterWeightName: "w.safetensors",
		GenerationTimeout: 90 * time.Second, ArtifactCacheWarnEntries: 50,
		HistoryDBPath: "/data/h.db", HistoryEnabled: false, HistoryRetentionDays: 7,
		OpenAIAPIKey: "sk-test", ImageAPIURL: "https://example.openai.azure.com", OpenAIImageModel: "dall-e-3",
		ShutdownTimeout: 5 * time.Second, ReadTimeout: 2 * time.Minute, WriteTimeout: 10 * time.Minute,
	}
	if *cfg != want {
		t.Errorf("got  %+v\nwant %+v", *cfg, want)
	}
}

func TestLoadConfigFrom_InvalidValuesAreJoined(t *testing.T) {
	_, err := LoadConfigFrom(mapSource(map[string]string{
		"PORT":     "http",
		"DEV_MODE": "maybe",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	if GetErrorCode(err) != ErrCodeInvalidValue {
		t.Errorf("code = %q", GetErrorCode(err))
	}
	for _, key := range []string{"PORT", "DEV_MODE"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Port = 0 }, ErrCodeInvalidPort},
		{"port too large", func(c *Config) { c.Port = 70000 }, ErrCodeInvalidPort},
		{"unknown backend", func(c *Config) { c.Backend = "onnx" }, ErrCodeInvalidBackend},
		{"local without model", func(c *Config) { c.ModelPath = "" }, ErrCodeMissingConfig},
		{"openai without key", func(c *Config) { c.Backend = BackendOpenAI }, ErrCodeMissingAPIKey},
		{"openai with key", func(c *Config) { c.Backend = BackendOpenAI; c.OpenAIAPIKey = "sk-x" }, ""},
		{"no weight name", func(c *Config) { c.AdapterWeightName = "" }, ErrCodeMissingConfig},
		{"zero timeout", func(c *Config) { c.GenerationTimeout = 0 }, ErrCodeInvalidValue},
		{"negative threads", func(c *Config) { c.Threads = -1 }, ErrCodeInvalidValue},
		{"history without path", func(c *Config) { c.HistoryDBPath = "" }, ErrCodeMissingConfig},
		{"negative retention", func(c *Config) { c.HistoryRetentionDays = -1 }, ErrCodeInvalidValue},
		{"history off without path", func(c *Config) { c.HistoryDBPath = ""; c.HistoryEnabled = false }, ""},
		{"plain token", func(c *Config) { c.APITokenHash = "secret-token" }, ErrCodeInvalidTokenSet},
		{"bcrypt token", func(c *Config) { c.APITokenHash = string(hash) }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if got := GetErrorCode(err); got != tt.code {
				t.Errorf("Validate() code = %q, want %q (err %v)", got, tt.code, err)
			}
			if tt.code != "" && !IsConfigError(err) {
				t.Errorf("expected *ConfigError, got %T", err)
			}
		})
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFrom_FileOverlay(t *testing.T) {
	path := writeConfigFile(t, "port: 7000\nadapter_dir: /from-file\nhistory_enabled: false\nIMAGE_API_URL:\n")

	cfg, err := LoadConfigFrom(mapSource(map[string]string{
		ConfigFileEnvVar: path,
		"ADAPTER_DIR":    "/from-env",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 7000 || cfg.HistoryEnabled {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.AdapterDir != "/from-env" {
		t.Errorf("environment must win over the file, got %q", cfg.AdapterDir)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q", cfg.Source)
	}
}

func TestReadConfigFile_Errors(t *testing.T) {
	_, err := ReadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if GetErrorCode(err) != ErrCodeConfigFile {
		t.Errorf("missing file: %v", err)
	}

	nested := writeConfigFile(t, "server:\n  port: 1\n")
	if _, err := ReadConfigFile(nested); GetErrorCode(err) != ErrCodeConfigFile || !strings.Contains(err.Error(), "scalar") {
		t.Errorf("nested mapping: %v", err)
	}

	broken := writeConfigFile(t, "port: [1\n")
	if _, err := ReadConfigFile(broken); GetErrorCode(err) != ErrCodeConfigFile {
		t.Errorf("malformed yaml: %v", err)
	}
}

func TestLoadConfig_ReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "6000")
	t.Setenv("PIPELINE_BACKEND", "local")
	t.Setenv(ConfigFileEnvVar, "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 6000 {
		t.Errorf("Port = %d", cfg.Port)
	}
}

func TestConfigErrorMessages(t *testing.T) {
	err := ErrInvalidValue("PORT", "x", "an integer")
	if err.Error() != `PORT has invalid value "x". Set PORT to an integer` {
		t.Errorf("Error() = %q", err.Error())
	}
	bare := &ConfigError{Code: "X", Message: "only message"}
	if bare.Error() != "only message" {
		t.Errorf("Error() = %q", bare.Error())
	}
	if !strings.Contains(ErrModelMissing("/m").Action, "SD_MODEL_URL") {
		t.Error("model missing action should mention SD_MODEL_URL")
	}

	wrapped := errors.Join(errors.New("other"), ErrInvalidBackend("x"))
	if !IsConfigError(wrapped) || GetErrorCode(wrapped) != ErrCodeInvalidBackend {
		t.Error("joined ConfigError not found")
	}
	if IsConfigError(errors.New("plain")) || GetErrorCode(nil) != "" {
		t.Error("plain errors are not config errors")
	}
}
