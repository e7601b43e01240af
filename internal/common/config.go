package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
	LLM         LLMConfig       `toml:"llm"`
	Picklist    PicklistConfig  `toml:"picklist"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// ClaudeConfig contains Anthropic Claude API settings
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
}

// GeminiConfig contains Google Gemini API settings
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
}

// LLMConfig contains provider-agnostic LLM settings
type LLMConfig struct {
	DefaultProvider string `toml:"default_provider"` // "claude" or "gemini"
	// RequestsPerMinute limits outbound completion calls across all
	// operations. 0 disables the limiter.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// PicklistConfig contains picklist generation policy settings.
// These are tunable constants, not load-bearing invariants.
type PicklistConfig struct {
	// MaxOutputTokens is the completion token budget per request
	MaxOutputTokens int `toml:"max_output_tokens"`
	// SecondsPerTeam is the planning estimate used to pace advisory
	// progress updates while a call is outstanding
	SecondsPerTeam float64 `toml:"seconds_per_team"`
	// ChunkSize is the number of unranked teams requested per
	// continuation chunk
	ChunkSize int `toml:"chunk_size"`
	// MaxChunks bounds continuation requests before the run is
	// declared exhausted
	MaxChunks int `toml:"max_chunks"`
	// ParseRetries bounds re-requests of a chunk whose completion
	// failed to parse
	ParseRetries int `toml:"parse_retries"`
	// StaleTimeout force-fails an active operation that has not
	// progressed within this window
	StaleTimeout time.Duration `toml:"stale_timeout"`
	// Retention evicts terminal operation records older than this
	Retention time.Duration `toml:"retention"`
	// SweepSchedule is the cron spec for the staleness sweeper
	SweepSchedule string `toml:"sweep_schedule"`
}

type WebSocketConfig struct {
	// ProgressThrottle limits progress event broadcasts per connection,
	// e.g. "250ms". Empty disables throttling.
	ProgressThrottle string `toml:"progress_throttle"`
}

// NewDefaultConfig returns a config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/gridscout",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		LLM: LLMConfig{
			DefaultProvider:   "claude",
			RequestsPerMinute: 30,
		},
		Picklist: PicklistConfig{
			MaxOutputTokens: 3500,
			SecondsPerTeam:  0.9,
			ChunkSize:       80,
			MaxChunks:       5,
			ParseRetries:    1,
			StaleTimeout:    60 * time.Second,
			Retention:       time.Hour,
			SweepSchedule:   "@every 1m",
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "250ms",
		},
	}
}

// LoadFromFile loads configuration from a single file
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("GRIDSCOUT_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("GRIDSCOUT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("GRIDSCOUT_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("GRIDSCOUT_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("GRIDSCOUT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("GRIDSCOUT_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Claude.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}
	if provider := os.Getenv("GRIDSCOUT_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = provider
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
