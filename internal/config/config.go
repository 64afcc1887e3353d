package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir  string `json:"data_dir" yaml:"data_dir"`
	LogLevel string `json:"log_level" yaml:"log_level"`
	Memory   struct {
		UndoLimit    int    `json:"undo_limit" yaml:"undo_limit"`
		MaxMessages  int    `json:"max_messages" yaml:"max_messages"`
		AutoCompress bool   `json:"auto_compress" yaml:"auto_compress"`
		SessionTTL   string `json:"session_ttl" yaml:"session_ttl"`
	} `json:"memory" yaml:"memory"`
	Storage struct {
		Type  string `json:"type" yaml:"type"`
		Path  string `json:"path" yaml:"path"`
		Redis struct {
			URL      string `json:"url" yaml:"url"`
			Password string `json:"password" yaml:"password"`
			Prefix   string `json:"prefix" yaml:"prefix"`
		} `json:"redis" yaml:"redis"`
		Postgres struct {
			DSN string `json:"dsn" yaml:"dsn"`
		} `json:"postgres" yaml:"postgres"`
		RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts"`
	} `json:"storage" yaml:"storage"`
	LLM struct {
		Provider         string  `json:"provider" yaml:"provider"`
		BaseURL          string  `json:"base_url" yaml:"base_url"`
		APIKey           string  `json:"api_key" yaml:"api_key"`
		Model            string  `json:"model" yaml:"model"`
		MaxTokens        int     `json:"max_tokens" yaml:"max_tokens"`
		Temperature      float32 `json:"temperature" yaml:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens" yaml:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve" yaml:"output_reserve"`
	} `json:"llm" yaml:"llm"`
	Janitor struct {
		Schedule    string `json:"schedule" yaml:"schedule"`
		IdleTTL     string `json:"idle_ttl" yaml:"idle_ttl"`
		MaxSessions int    `json:"max_sessions" yaml:"max_sessions"`
		MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
	} `json:"janitor" yaml:"janitor"`
}

// SessionTTL parses Memory.SessionTTL. Empty means no expiry.
func (c *Config) SessionTTL() (time.Duration, error) {
	return parseDuration("memory.session_ttl", c.Memory.SessionTTL)
}

// IdleTTL parses Janitor.IdleTTL. Empty disables idle pruning.
func (c *Config) IdleTTL() (time.Duration, error) {
	return parseDuration("janitor.idle_ttl", c.Janitor.IdleTTL)
}

var (
	storageTypes = []string{"", "memory", "file", "redis", "postgres"}
	logLevels    = []string{"", "debug", "info", "warn", "error"}
)

// Validate checks the fields recall interprets. Unknown keys are left
// alone.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.SessionTTL(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.IdleTTL(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	if !slices.Contains(storageTypes, c.Storage.Type) {
		errs = append(errs, fmt.Errorf("storage.type: unknown type %q", c.Storage.Type))
	}
	if c.Storage.Type == "postgres" && c.Storage.Postgres.DSN == "" {
		errs = append(errs, errors.New("storage.postgres.dsn: required for postgres storage"))
	}
	for key, n := range map[string]int{
		"memory.undo_limit":      c.Memory.UndoLimit,
		"memory.max_messages":    c.Memory.MaxMessages,
		"storage.retry_attempts": c.Storage.RetryAttempts,
		"janitor.max_sessions":   c.Janitor.MaxSessions,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative, got %d", key, n))
		}
	}
	return errors.Join(errs...)
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshal(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func marshal(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func defaults() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".recall"),
		LogLevel: "info",
	}
	cfg.Memory.UndoLimit = 50
	cfg.Storage.Type = "file"
	cfg.Storage.Redis.URL = "redis://localhost:6379/0"
	cfg.Storage.Redis.Prefix = "recall:"
	cfg.Storage.RetryAttempts = 3
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 1024
	cfg.LLM.Temperature = 0.3
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.Janitor.Schedule = "0 */10 * * * *"
	cfg.Janitor.IdleTTL = "168h"
	cfg.Janitor.MetricsAddr = "127.0.0.1:9464"
	return cfg
}

// Load reads the config at path over the defaults, writing the defaults
// there first if the file does not exist. Environment variables override
// both.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if url := os.Getenv("RECALL_REDIS_URL"); url != "" {
		cfg.Storage.Redis.URL = url
	}
	if dsn := os.Getenv("RECALL_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.Postgres.DSN = dsn
	}
	if dir := os.Getenv("RECALL_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	return cfg, nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := marshal(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
