package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Task      TaskConfig      `mapstructure:"task" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains database settings. An empty URL disables the
// Postgres metrics sink and task store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`

	// Retention is how long recorded metrics rows are kept.
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
	// PruneInterval is how often expired metrics rows are deleted.
	PruneInterval time.Duration `mapstructure:"prune_interval" validate:"gt=0"`
}

// RedisConfig contains cache settings. An empty Addr selects the in-memory cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// AuthConfig contains authentication settings. An empty JWTSecret leaves the
// API unauthenticated.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}

// PipelineConfig tunes request execution.
type PipelineConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BatchSize         int           `mapstructure:"batch_size" validate:"gt=0"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	CacheMaxEntries   int           `mapstructure:"cache_max_entries" validate:"gt=0"`
	MinConfidence     float64       `mapstructure:"min_confidence" validate:"gte=0,lte=1"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
	HealthTimeout     time.Duration `mapstructure:"health_timeout" validate:"gt=0"`
	HealthConcurrency int           `mapstructure:"health_concurrency" validate:"gt=0"`
	FallbackEnabled   bool          `mapstructure:"fallback_enabled"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" validate:"gte=0"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffBase"`
}

// LLMConfig contains all LLM integration related settings. Each backend is
// registered only when its credentials or address are present.
type LLMConfig struct {
	GeminiAPIKey string  `mapstructure:"gemini_api_key"`
	GeminiModel  string  `mapstructure:"gemini_model"`
	OpenAIAPIKey string  `mapstructure:"openai_api_key"`
	OpenAIModel  string  `mapstructure:"openai_model"`
	OpenAIURL    string  `mapstructure:"openai_base_url" validate:"omitempty,url"`
	OllamaURL    string  `mapstructure:"ollama_url" validate:"omitempty,url"`
	OllamaModel  string  `mapstructure:"ollama_model"`
	PromptDir    string  `mapstructure:"prompt_dir"`
	Temperature  float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int     `mapstructure:"max_tokens" validate:"gt=0"`
}

// TemplatesConfig configures the template generator.
type TemplatesConfig struct {
	Dir string `mapstructure:"dir"`
}

// TaskConfig configures the asynchronous task runner.
type TaskConfig struct {
	WorkerCount         int `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize           int `mapstructure:"queue_size" validate:"gt=0"`
	StuckTaskAgeMinutes int `mapstructure:"stuck_task_age_minutes" validate:"gt=0"`
}
