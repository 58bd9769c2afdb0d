package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Events      EventsConfig      `yaml:"events"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Downloader  DownloaderConfig  `yaml:"downloader"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	LLM         LLMConfig         `yaml:"llm"`
	Export      ExportConfig      `yaml:"export"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// EventsConfig holds the optional RabbitMQ lifecycle event feed
// configuration. When disabled, events stay in-process.
type EventsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   string           `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// JobsConfig holds job manager configuration
type JobsConfig struct {
	MaxConcurrent       int           `yaml:"max_concurrent"`
	TmpDir              string        `yaml:"tmp_dir"`
	ConfirmBeforeUpload bool          `yaml:"confirm_before_upload"`
	ConfirmTimeout      time.Duration `yaml:"confirm_timeout"`
}

// DownloaderConfig holds yt-dlp settings
type DownloaderConfig struct {
	BinPath string        `yaml:"bin_path"`
	Timeout time.Duration `yaml:"timeout"`
}

// TranscriberConfig holds ffmpeg/whisper settings
type TranscriberConfig struct {
	FFmpegPath  string        `yaml:"ffmpeg_path"`
	FFprobePath string        `yaml:"ffprobe_path"`
	WhisperPath string        `yaml:"whisper_path"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LLMConfig holds the language model provider settings. BaseURL allows
// any OpenAI-compatible endpoint.
type LLMConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	VisionModel    string        `yaml:"vision_model"`
	TargetLanguage string        `yaml:"target_language"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ExportConfig holds the recipe manager targets. At least one target
// must be enabled.
type ExportConfig struct {
	Mealie  TargetConfig `yaml:"mealie"`
	Tandoor TargetConfig `yaml:"tandoor"`
}

// TargetConfig holds one recipe manager endpoint
type TargetConfig struct {
	Enabled bool          `yaml:"enabled"`
	Host    string        `yaml:"host"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Jobs.MaxConcurrent == 0 {
		c.Jobs.MaxConcurrent = 3
	}
	if c.Jobs.TmpDir == "" {
		c.Jobs.TmpDir = os.TempDir()
	}
	if c.Jobs.ConfirmTimeout == 0 {
		c.Jobs.ConfirmTimeout = 5 * time.Minute
	}
	if c.Downloader.BinPath == "" {
		c.Downloader.BinPath = "yt-dlp"
	}
	if c.Transcriber.FFmpegPath == "" {
		c.Transcriber.FFmpegPath = "ffmpeg"
	}
	if c.Transcriber.FFprobePath == "" {
		c.Transcriber.FFprobePath = "ffprobe"
	}
	if c.Transcriber.WhisperPath == "" {
		c.Transcriber.WhisperPath = "whisper-cli"
	}
	if c.Transcriber.Model == "" {
		c.Transcriber.Model = "small"
	}
	if c.LLM.TargetLanguage == "" {
		c.LLM.TargetLanguage = "en"
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Events.Enabled {
		if c.Events.Host == "" {
			return fmt.Errorf("events host is required when events are enabled")
		}
		if c.Events.Port < MinPort || c.Events.Port > MaxPort {
			return fmt.Errorf("invalid events port: %d (must be between %d and %d)", c.Events.Port, MinPort, MaxPort)
		}
		if c.Events.Exchange == "" {
			return fmt.Errorf("events exchange name is required when events are enabled")
		}
	}

	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs max_concurrent must be greater than 0")
	}

	if c.Jobs.ConfirmBeforeUpload && c.Jobs.ConfirmTimeout <= 0 {
		return fmt.Errorf("jobs confirm_timeout must be greater than 0 when confirmation is enabled")
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm api_key is required")
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm model is required")
	}

	if !c.Export.Mealie.Enabled && !c.Export.Tandoor.Enabled {
		return fmt.Errorf("at least one export target must be enabled")
	}

	if c.Export.Mealie.Enabled && c.Export.Mealie.Host == "" {
		return fmt.Errorf("mealie host is required when mealie is enabled")
	}

	if c.Export.Tandoor.Enabled && c.Export.Tandoor.Host == "" {
		return fmt.Errorf("tandoor host is required when tandoor is enabled")
	}

	return nil
}
