package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "QUILL"

// defaults are registered with viper so that AutomaticEnv can resolve every key
// during Unmarshal, even when no config file mentions it.
var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"server.shutdown_timeout": "15s",

	"database.url":            "",
	"database.retention":      "720h",
	"database.prune_interval": "1h",

	"redis.addr":     "",
	"redis.password": "",
	"redis.db":       0,

	"auth.jwt_secret": "",

	"pipeline.timeout":            "30s",
	"pipeline.max_retries":        3,
	"pipeline.batch_size":         5,
	"pipeline.cache_ttl":          "1h",
	"pipeline.cache_max_entries":  1000,
	"pipeline.min_confidence":     0.0,
	"pipeline.probe_timeout":      "2s",
	"pipeline.health_timeout":     "5s",
	"pipeline.health_concurrency": 8,
	"pipeline.fallback_enabled":   true,
	"pipeline.backoff_base":       "1s",
	"pipeline.backoff_max":        "10s",

	"llm.gemini_api_key":  "",
	"llm.gemini_model":    "gemini-2.0-flash",
	"llm.openai_api_key":  "",
	"llm.openai_model":    "gpt-4o-mini",
	"llm.openai_base_url": "",
	"llm.ollama_url":      "",
	"llm.ollama_model":    "llama3",
	"llm.prompt_dir":      "",
	"llm.temperature":     0.7,
	"llm.max_tokens":      1024,

	"templates.dir": "",

	"task.worker_count":           2,
	"task.queue_size":             100,
	"task.stuck_task_age_minutes": 30,
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but reads the given config file instead of
// searching for config.yaml. An empty path searches the working directory.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
