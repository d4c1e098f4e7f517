package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all dbtforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM     LLMConfig     `yaml:"llm" validate:"required"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Chat    ChatConfig    `yaml:"chat"`
	Store   StoreConfig   `yaml:"store"`
	Export  ExportConfig  `yaml:"export"`
	Logging LoggingConfig `yaml:"logging"`
}

// IngestConfig controls how much of each input file reaches the prompts.
type IngestConfig struct {
	SampleRows int `yaml:"sample_rows" validate:"gte=1,lte=1000"`
	MaxColumns int `yaml:"max_columns" validate:"gte=1"`
	// Parallelism bounds concurrent file parsing.
	Parallelism int    `yaml:"parallelism" validate:"gte=1,lte=64"`
	Debounce    string `yaml:"debounce"`
}

// ChatConfig configures the rule-refinement chat.
type ChatConfig struct {
	HistoryTurns int `yaml:"history_turns" validate:"gte=0,lte=200"`
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path" validate:"required_if=Enabled true"`
}

// ExportConfig configures the generated DBT project.
type ExportConfig struct {
	ProjectName string `yaml:"project_name" validate:"required"`
	Adapter     string `yaml:"adapter" validate:"oneof=duckdb postgres"`
	// IncludeSeeds copies the sampled input rows into seeds/.
	IncludeSeeds bool `yaml:"include_seeds"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "dbtforge",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:    "openai",
			Model:       DefaultModel("openai"),
			Timeout:     "180s",
			Temperature: 0.2,
			MaxTokens:   8192,
			MaxRetries:  3,
		},

		Ingest: IngestConfig{
			SampleRows:  20,
			MaxColumns:  200,
			Parallelism: 4,
			Debounce:    "500ms",
		},

		Chat: ChatConfig{
			HistoryTurns: 10,
		},

		Store: StoreConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(".dbtforge", "sessions.db"),
		},

		Export: ExportConfig{
			ProjectName:  "dbtforge_project",
			Adapter:      "duckdb",
			IncludeSeeds: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A .env file in the working
// directory is read first so its keys take part in the env overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.ParseDuration(c.LLM.Timeout); c.LLM.Timeout != "" && err != nil {
		return fmt.Errorf("invalid config: llm.timeout %q: %w", c.LLM.Timeout, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
// Later keys win, so GEMINI_API_KEY beats OPENAI_API_KEY when both are set.
func (c *Config) applyEnvOverrides() {
	for _, env := range []struct{ key, provider string }{
		{"OPENAI_API_KEY", "openai"},
		{"OPENROUTER_API_KEY", "openrouter"},
		{"XAI_API_KEY", "xai"},
		{"GEMINI_API_KEY", "gemini"},
	} {
		if key := os.Getenv(env.key); key != "" {
			c.LLM.APIKey = key
			c.LLM.setProvider(env.provider)
		}
	}
	if model := os.Getenv("DBTFORGE_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("DBTFORGE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return c.LLM.GetTimeout()
}

// GetDebounce returns the file-watch debounce as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Ingest.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}
