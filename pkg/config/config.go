package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	once    sync.Once
	initErr error
)

// Init initializes the configuration system
// This should be called once at application startup
func Init() error {
	once.Do(func() {
		initErr = load()
	})

	return initErr
}

// load wires defaults, environment overrides and the optional settings file.
// Split out of Init so tests can re-run it after viper.Reset().
func load() error {
	setDefaults()

	// Set up environment variable reading for overrides
	viper.SetEnvPrefix("PODDIGEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Load config from fixed location (cleaned for safety)
	configPath := filepath.Clean("./config/settings.yaml")
	viper.SetConfigFile(configPath)

	// Try to read the config file
	if err := viper.ReadInConfig(); err != nil {
		// If the config file doesn't exist, just use defaults and env vars
		if !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
	}

	// Validate the configuration
	if err := validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// GetConfig returns the current configuration as a struct
// Init() must be called before using this
func GetConfig() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Get returns a config value by key using Viper directly
func Get(key string) any {
	return viper.Get(key)
}

// GetString returns a string config value
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a time.Duration config value
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// validate validates the configuration using Viper values
func validate() error {
	port := viper.GetInt("server.port")
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid server port: %d", port)
	}

	backend := viper.GetString("storage.backend")
	if backend != "filesystem" && backend != "s3" {
		return fmt.Errorf("invalid storage backend: %q", backend)
	}
	if backend == "s3" && viper.GetString("storage.s3.bucket") == "" {
		return fmt.Errorf("storage backend s3 requires storage.s3.bucket")
	}

	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		fmt.Println("Warning: No database path configured")
	}

	// Validate API keys aren't using placeholder values
	if err := validateAPIKeys(); err != nil {
		return err
	}

	// Auto-correct invalid worker count
	if viper.GetInt("processing.workers") <= 0 {
		viper.Set("processing.workers", 2)
	}

	// Auto-correct invalid retry attempts
	if viper.GetInt("processing.retry_attempts") <= 0 {
		viper.Set("processing.retry_attempts", 3)
	}

	return nil
}

// validateAPIKeys validates that API keys are not using placeholder values
func validateAPIKeys() error {
	// Check for production environment
	env := viper.GetString("environment")
	isProduction := env == "production" || env == "prod"

	// List of placeholder values that shouldn't be used
	placeholders := []string{
		"YOUR_KEY_HERE",
		"YOUR_API_KEY",
		"changeme",
		"CHANGEME",
		"",
	}

	keys := map[string]string{
		"llm.api_key": "LLM",
		"stt.api_key": "speech-to-text",
		"tts.api_key": "text-to-speech",
	}

	for configKey, label := range keys {
		value := viper.GetString(configKey)
		for _, placeholder := range placeholders {
			if value == placeholder {
				if isProduction {
					return fmt.Errorf("invalid %s API key: cannot use placeholder values in production", label)
				}
				fmt.Printf("Warning: %s API key is using a placeholder value\n", label)
				break
			}
		}
	}

	return nil
}

// Validate validates a Config struct (for testing)
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Storage.Backend != "filesystem" && c.Storage.Backend != "s3" {
		return fmt.Errorf("invalid storage backend: %q", c.Storage.Backend)
	}

	if c.Storage.Backend == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage backend s3 requires a bucket")
	}

	if c.Processing.Workers <= 0 {
		c.Processing.Workers = 2
	}

	if c.Processing.RetryAttempts <= 0 {
		c.Processing.RetryAttempts = 3
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Environment defaults
	viper.SetDefault("environment", "development")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.max_header_bytes", 1048576)

	// Database defaults
	viper.SetDefault("database.path", "./data/poddigest.db")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("database.max_idle_connections", 5)
	viper.SetDefault("database.connection_max_lifetime", 30*time.Minute)
	viper.SetDefault("database.enable_wal", true)
	viper.SetDefault("database.enable_foreign_keys", true)
	viper.SetDefault("database.log_queries", false)

	// Storage defaults
	viper.SetDefault("storage.backend", "filesystem")
	viper.SetDefault("storage.public_base_url", "http://localhost:8080/objects")
	viper.SetDefault("storage.filesystem.base_dir", "./data/objects")
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.force_path_style", false)

	// Processing defaults
	viper.SetDefault("processing.workers", 2)
	viper.SetDefault("processing.poll_interval", 2*time.Second)
	viper.SetDefault("processing.job_timeout", 30*time.Minute)
	viper.SetDefault("processing.retry_attempts", 3)
	viper.SetDefault("processing.retry_delay", 5*time.Second)
	viper.SetDefault("processing.ffmpeg_path", "ffmpeg")
	viper.SetDefault("processing.ffprobe_path", "ffprobe")
	viper.SetDefault("processing.ffmpeg_timeout", 5*time.Minute)
	viper.SetDefault("processing.scratch_dir", os.TempDir())

	// Pipeline defaults
	viper.SetDefault("pipeline.scheduler_interval", 1*time.Hour)
	viper.SetDefault("pipeline.crawl_fallback_days", 7)
	viper.SetDefault("pipeline.fallback_episode_limit", 50)
	viper.SetDefault("pipeline.max_concurrent_scores", 5)
	viper.SetDefault("pipeline.score_batch_delay", 200*time.Millisecond)

	// LLM defaults
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.timeout", 2*time.Minute)
	viper.SetDefault("llm.max_retries", 3)
	viper.SetDefault("llm.rate_limit", 5)

	// STT defaults
	viper.SetDefault("stt.provider", "deepgram")
	viper.SetDefault("stt.base_url", "https://api.deepgram.com")
	viper.SetDefault("stt.model", "nova-2")
	viper.SetDefault("stt.language", "en")
	viper.SetDefault("stt.timeout", 10*time.Minute)
	viper.SetDefault("stt.rate_limit", 2)

	// TTS defaults
	viper.SetDefault("tts.base_url", "https://api.elevenlabs.io")
	viper.SetDefault("tts.model_id", "eleven_turbo_v2")
	viper.SetDefault("tts.output_format", "mp3_44100_128")
	viper.SetDefault("tts.timeout", 2*time.Minute)
	viper.SetDefault("tts.rate_limit", 2)

	// Delivery defaults
	viper.SetDefault("delivery.feed_author", "PodDigest")
	viper.SetDefault("delivery.webhook_url", "")

	// Security defaults
	viper.SetDefault("security.enable_cors", true)
	viper.SetDefault("security.cors_origins", []string{"*"})
	viper.SetDefault("security.cors_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors_headers", []string{"Content-Type", "Authorization"})
	viper.SetDefault("security.enable_recovery", true)

	// Cleanup defaults
	viper.SetDefault("cleanup.interval", 1*time.Hour)
	viper.SetDefault("cleanup.job_retention", 7*24*time.Hour)
	viper.SetDefault("cleanup.scratch_max_age", 24*time.Hour)
}
