package config

import "time"

// Config represents the complete application configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Processing  ProcessingConfig `mapstructure:"processing"`
	Pipeline    PipelineConfig   `mapstructure:"pipeline"`
	LLM         LLMConfig        `mapstructure:"llm"`
	STT         STTConfig        `mapstructure:"stt"`
	TTS         TTSConfig        `mapstructure:"tts"`
	Delivery    DeliveryConfig   `mapstructure:"delivery"`
	Security    SecurityConfig   `mapstructure:"security"`
	Cleanup     CleanupConfig    `mapstructure:"cleanup"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path                  string        `mapstructure:"path"`
	MaxConnections        int           `mapstructure:"max_connections"`
	MaxIdleConnections    int           `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
	EnableWAL             bool          `mapstructure:"enable_wal"`
	EnableForeignKeys     bool          `mapstructure:"enable_foreign_keys"`
	LogQueries            bool          `mapstructure:"log_queries"`
}

// StorageConfig contains object store settings
type StorageConfig struct {
	Backend       string           `mapstructure:"backend"` // "filesystem" or "s3"
	PublicBaseURL string           `mapstructure:"public_base_url"`
	S3            S3Config         `mapstructure:"s3"`
	Filesystem    FilesystemConfig `mapstructure:"filesystem"`
}

// S3Config contains S3-compatible object store settings
type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"` // custom endpoint for MinIO et al, empty for AWS
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// FilesystemConfig contains local object store settings
type FilesystemConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ProcessingConfig contains worker and audio processing settings
type ProcessingConfig struct {
	// Workers is the per-stage pool size; StageWorkers overrides it for
	// individual queues (keys are queue names)
	Workers       int            `mapstructure:"workers"`
	StageWorkers  map[string]int `mapstructure:"stage_workers"`
	PollInterval  time.Duration  `mapstructure:"poll_interval"`
	JobTimeout    time.Duration  `mapstructure:"job_timeout"`
	RetryAttempts int            `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration  `mapstructure:"retry_delay"`
	FFmpegPath    string         `mapstructure:"ffmpeg_path"`
	FFprobePath   string         `mapstructure:"ffprobe_path"`
	FFmpegTimeout time.Duration  `mapstructure:"ffmpeg_timeout"`
	ScratchDir    string         `mapstructure:"scratch_dir"`
}

// PipelineConfig contains digest pipeline settings
type PipelineConfig struct {
	SchedulerInterval    time.Duration `mapstructure:"scheduler_interval"`
	CrawlFallbackDays    int           `mapstructure:"crawl_fallback_days"`
	FallbackEpisodeLimit int           `mapstructure:"fallback_episode_limit"`
	MaxConcurrentScores  int           `mapstructure:"max_concurrent_scores"`
	ScoreBatchDelay      time.Duration `mapstructure:"score_batch_delay"`
}

// LLMConfig contains chat-completion provider settings
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RateLimit   int           `mapstructure:"rate_limit"` // requests per second
}

// STTConfig contains speech-to-text provider settings
type STTConfig struct {
	Provider  string        `mapstructure:"provider"` // "deepgram" or "whisper"
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	Language  string        `mapstructure:"language"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
}

// TTSConfig contains text-to-speech provider settings
type TTSConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	ModelID        string        `mapstructure:"model_id"`
	OutputFormat   string        `mapstructure:"output_format"`
	DefaultVoiceID string        `mapstructure:"default_voice_id"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      int           `mapstructure:"rate_limit"`
}

// DeliveryConfig contains syndication and notification settings
type DeliveryConfig struct {
	FeedAuthor string `mapstructure:"feed_author"`
	WebhookURL string `mapstructure:"webhook_url"` // best-effort push/email notifier, empty disables
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	EnableCORS     bool     `mapstructure:"enable_cors"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	CORSMethods    []string `mapstructure:"cors_methods"`
	CORSHeaders    []string `mapstructure:"cors_headers"`
	EnableRecovery bool     `mapstructure:"enable_recovery"`
}

// CleanupConfig contains retention settings
type CleanupConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	JobRetention  time.Duration `mapstructure:"job_retention"`
	ScratchMaxAge time.Duration `mapstructure:"scratch_max_age"`
}
